package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Serving metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_requests_total",
			Help: "Total number of served requests by host, method, and status",
		},
		[]string{"host", "method", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hutch_request_duration_seconds",
			Help:    "Request duration in seconds by host",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host"},
	)

	ResponseBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_response_bytes_total",
			Help: "Total response body bytes by host",
		},
		[]string{"host"},
	)

	// Cache metrics
	CacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hutch_cache_entries",
			Help: "Number of files in the active snapshot by domain",
		},
		[]string{"domain"},
	)

	CacheBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hutch_cache_bytes",
			Help: "Inline bytes held by the active snapshot by domain",
		},
		[]string{"domain"},
	)

	ActiveVersion = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hutch_active_version",
			Help: "Currently active version number by domain",
		},
		[]string{"domain"},
	)

	SnapshotBuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_snapshot_builds_total",
			Help: "Snapshot builds by domain and outcome",
		},
		[]string{"domain", "outcome"},
	)

	// Admin metrics
	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_uploads_total",
			Help: "Uploaded files by outcome",
		},
		[]string{"outcome"},
	)

	AdminRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_admin_requests_total",
			Help: "Admin API requests by method and status",
		},
		[]string{"method", "status"},
	)

	// ACME metrics
	RenewalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_acme_renewals_total",
			Help: "Certificate issuance attempts by host and outcome",
		},
		[]string{"host", "outcome"},
	)

	CertificateExpiry = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hutch_acme_certificate_expiry_seconds",
			Help: "Seconds until the loaded certificate expires by host",
		},
		[]string{"host"},
	)

	// Lifecycle metrics
	ReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_reloads_total",
			Help: "Hot reloads by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(ResponseBytes)
	prometheus.MustRegister(CacheEntries)
	prometheus.MustRegister(CacheBytes)
	prometheus.MustRegister(ActiveVersion)
	prometheus.MustRegister(SnapshotBuilds)
	prometheus.MustRegister(UploadsTotal)
	prometheus.MustRegister(AdminRequestsTotal)
	prometheus.MustRegister(RenewalsTotal)
	prometheus.MustRegister(CertificateExpiry)
	prometheus.MustRegister(ReloadsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
