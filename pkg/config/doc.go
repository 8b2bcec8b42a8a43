/*
Package config loads, validates, and resolves the Hutch configuration.

Configuration is a single YAML document. Scalar settings can be overridden
through HUTCH_* environment variables, which wins over the file. Validation
is strict: unknown keys are rejected and fatal misconfiguration (missing
file_dir, conflicting certificate sources, unparseable cron expressions)
fails startup with a non-zero exit.

# Document Shape

	file_dir: /var/lib/hutch/sites
	cors: false
	log:
	  level: info
	  json: true
	admin_config:
	  addr: 127.0.0.1
	  port: 9000
	  token: change-me
	  deprecated_version_delete:
	    cron: "0 3 * * *"
	    max_reserve: 2
	http:
	  addr: 0.0.0.0
	  port: 80
	https:
	  addr: 0.0.0.0
	  port: 443
	  http_redirect_to_https: true
	  acme:
	    emails: [ops@example.com]
	    acme_type: prod
	cache:
	  max_size: 131072
	  compression: true
	  client_cache:
	    - extension_names: [html, json]
	      expire: 0s
	    - extension_names: [js, css, png]
	      expire: 720h
	domains:
	  - domain: a.example.com
	    alias: [www.a.example.com]
	    cors: true

# Environment Overrides

	HUTCH_FILE_DIR     overrides file_dir
	HUTCH_LOG_LEVEL    overrides log.level
	HUTCH_ADMIN_TOKEN  overrides admin_config.token
	HUTCH_ADMIN_PORT   overrides admin_config.port
	HUTCH_HTTP_PORT    overrides http.port
	HUTCH_HTTPS_PORT   overrides https.port

# Certificate Sources

https.ssl and https.acme are mutually exclusive; configuring both is fatal.
Per-domain ssl blocks may coexist with root acme: hosts carrying external
certificates are excluded from ACME management, as are hosts with
https.disable_acme set.

# Per-Host Resolution

Serving components never read Domain entries directly. Resolved(host) merges
the root values with the host's overrides into a flat Settings value
(cors, redirect, inline threshold, compression, client-cache rules), which
the cache and router consume.
*/
package config
