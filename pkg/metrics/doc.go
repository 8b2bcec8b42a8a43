/*
Package metrics provides Prometheus instrumentation and process health for
Hutch.

All collectors are package-level variables registered at init, prefixed
hutch_. The admin listener exposes them at GET /metrics and the liveness
view at GET /healthz; neither endpoint requires the admin token.

# Metric Groups

Serving:
  - hutch_requests_total{host, method, status}
  - hutch_request_duration_seconds{host}
  - hutch_response_bytes_total{host}

Cache:
  - hutch_cache_entries{domain}
  - hutch_cache_bytes{domain}
  - hutch_active_version{domain}
  - hutch_snapshot_builds_total{domain, outcome}

Admin:
  - hutch_uploads_total{outcome}
  - hutch_admin_requests_total{method, status}

ACME:
  - hutch_acme_renewals_total{host, outcome}
  - hutch_acme_certificate_expiry_seconds{host}

Lifecycle:
  - hutch_reloads_total{outcome}

# Usage

	metrics.RequestsTotal.WithLabelValues(host, method, status).Inc()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RequestDuration.WithLabelValues(host))

	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", metrics.HealthHandler())

# Health Checks

Components report liveness through RegisterComponent/UpdateComponent. The
health endpoint turns 503 as soon as any registered component is unhealthy;
the JSON body names the failing components.

# Alerting Suggestions

Certificate expiry:
  - Expr: hutch_acme_certificate_expiry_seconds < 7 * 86400
  - A managed certificate is inside the renewal window but not renewed.

Reload failures:
  - Expr: increase(hutch_reloads_total{outcome="error"}[1h]) > 0
  - A hot reload failed; the process keeps serving the old configuration.

Error rate:
  - Expr: rate(hutch_requests_total{status=~"5.."}[5m]) > 1
  - Serving path is generating server errors.
*/
package metrics
