package server

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
)

// statusWriter captures the response status and size for logs and metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (sw *statusWriter) WriteHeader(code int) {
	if sw.status == 0 {
		sw.status = code
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	n, err := sw.ResponseWriter.Write(b)
	sw.bytes += int64(n)
	return n, err
}

// Instrument wraps a handler with request identity, structured access
// logging, and serving metrics.
func Instrument(next http.Handler) http.Handler {
	logger := log.WithComponent("access")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-Id", requestID)

		sw := &statusWriter{ResponseWriter: w}
		timer := metrics.NewTimer()
		next.ServeHTTP(sw, r)
		elapsed := timer.Duration()

		host := hostOnly(r.Host)
		if sw.status == 0 {
			sw.status = http.StatusOK
		}
		metrics.RequestsTotal.WithLabelValues(host, r.Method, strconv.Itoa(sw.status)).Inc()
		timer.ObserveDuration(metrics.RequestDuration.WithLabelValues(host))
		metrics.ResponseBytes.WithLabelValues(host).Add(float64(sw.bytes))

		logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("host", host).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Int64("bytes", sw.bytes).
			Dur("duration", elapsed).
			Msg("request")
	})
}
