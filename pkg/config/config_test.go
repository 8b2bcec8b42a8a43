package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hutch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

const validConfig = `
file_dir: /var/lib/hutch/sites
cors: false
admin_config:
  port: 9000
  token: secret-token
  deprecated_version_delete:
    cron: "0 3 * * *"
    max_reserve: 2
http:
  port: 8080
https:
  port: 8443
  http_redirect_to_https: true
  acme:
    emails: [ops@example.com]
    acme_type: stage
cache:
  max_size: 65536
  compression: true
  client_cache:
    - extension_names: [html, json]
      expire: 0s
    - extension_names: [js, css]
      expire: 720h
domains:
  - domain: a.example.com
    alias: [b.example.com]
    cors: true
  - domain: c.example.com
    https:
      disable_acme: true
`

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/hutch/sites", cfg.FileDir)
	assert.Equal(t, "127.0.0.1:9000", cfg.AdminAddr())
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr())
	assert.Equal(t, "0.0.0.0:8443", cfg.HTTPSAddr())
	assert.Equal(t, int64(65536), *cfg.Cache.MaxSize)
	require.Len(t, cfg.Cache.ClientCache, 2)
	assert.Equal(t, time.Duration(0), cfg.Cache.ClientCache[0].Expire.Std())
	assert.Equal(t, 720*time.Hour, cfg.Cache.ClientCache[1].Expire.Std())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
file_dir: /data
http:
  port: 80
`))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "0.0.0.0", cfg.HTTP.Addr)
	assert.Equal(t, int64(128<<10), *cfg.Cache.MaxSize)
	assert.True(t, *cfg.Cache.Compression)
	assert.Equal(t, 30*time.Second, cfg.DrainTimeout())
}

func TestLoadUnknownKeyRejected(t *testing.T) {
	_, err := Load(writeConfig(t, `
file_dir: /data
http:
  port: 80
serve_mode: fancy
`))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HUTCH_ADMIN_TOKEN", "from-env")
	t.Setenv("HUTCH_HTTP_PORT", "8081")
	t.Setenv("HUTCH_FILE_DIR", "/env/dir")

	cfg, err := Load(writeConfig(t, `
file_dir: /data
admin_config:
  port: 9000
  token: from-file
http:
  port: 80
`))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Admin.Token)
	assert.Equal(t, 8081, cfg.HTTP.Port)
	assert.Equal(t, "/env/dir", cfg.FileDir)
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing file_dir", `
http:
  port: 80
`},
		{"no listener", `
file_dir: /data
`},
		{"ssl and acme together", `
file_dir: /data
https:
  port: 443
  ssl:
    public: /c.pem
    private: /k.pem
  acme:
    emails: [a@b.c]
    acme_type: prod
`},
		{"https without cert source", `
file_dir: /data
https:
  port: 443
`},
		{"acme without emails", `
file_dir: /data
https:
  port: 443
  acme:
    emails: []
    acme_type: prod
`},
		{"ci without dir", `
file_dir: /data
https:
  port: 443
  acme:
    emails: [a@b.c]
    acme_type: ci
`},
		{"bad cron", `
file_dir: /data
admin_config:
  port: 9000
  token: t
  deprecated_version_delete:
    cron: "not cron"
    max_reserve: 2
`},
		{"zero max_reserve", `
file_dir: /data
admin_config:
  port: 9000
  token: t
  deprecated_version_delete:
    cron: "@daily"
    max_reserve: 0
`},
		{"admin without token", `
file_dir: /data
admin_config:
  port: 9000
`},
		{"domain with prefix", `
file_dir: /data
http:
  port: 80
domains:
  - domain: a.example.com/27
`},
		{"duplicate alias", `
file_dir: /data
http:
  port: 80
domains:
  - domain: a.example.com
    alias: [x.example.com]
  - domain: b.example.com
    alias: [x.example.com]
`},
		{"alias is a primary", `
file_dir: /data
http:
  port: 80
domains:
  - domain: a.example.com
    alias: [b.example.com]
  - domain: b.example.com
`},
		{"bad port", `
file_dir: /data
http:
  port: 99999
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestAliases(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"b.example.com": "a.example.com"}, cfg.Aliases())
	assert.Equal(t, []string{"b.example.com"}, cfg.AliasesOf("a.example.com"))
	assert.Empty(t, cfg.AliasesOf("c.example.com"))
}

func TestDisabledACMEHosts(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	disabled := cfg.DisabledACMEHosts()
	assert.True(t, disabled["c.example.com"])
	assert.False(t, disabled["a.example.com"])
}

func TestResolved(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	a := cfg.Resolved("a.example.com")
	assert.True(t, a.CORS, "domain override wins")
	assert.True(t, a.RedirectToHTTPS, "inherited from root https")
	assert.Equal(t, int64(65536), a.MaxInline)

	c := cfg.Resolved("c.example.com")
	assert.False(t, c.CORS, "root value")

	unknown := cfg.Resolved("zz.example.com")
	assert.False(t, unknown.CORS)
	assert.Equal(t, int64(65536), unknown.MaxInline)
}

func TestDurationParse(t *testing.T) {
	_, err := Load(writeConfig(t, `
file_dir: /data
http:
  port: 80
cache:
  client_cache:
    - extension_names: [html]
      expire: -5s
`))
	assert.Error(t, err, "negative durations rejected")
}
