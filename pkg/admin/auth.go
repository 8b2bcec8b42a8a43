package admin

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/cuemby/hutch/pkg/config"
	"github.com/cuemby/hutch/pkg/errdefs"
	"github.com/cuemby/hutch/pkg/metrics"
)

const limiterCacheSize = 4096

// limiters hands out one rate.Limiter per client IP, expiring idle
// entries so the table stays bounded.
type limiters struct {
	cache *expirable.LRU[string, *rate.Limiter]
	rps   rate.Limit
	burst int
}

func newLimiters(cfg *config.RateLimit) *limiters {
	if cfg == nil {
		return nil
	}
	return &limiters{
		cache: expirable.NewLRU[string, *rate.Limiter](limiterCacheSize, nil, 10*time.Minute),
		rps:   rate.Limit(cfg.RequestsPerSecond),
		burst: cfg.Burst,
	}
}

func (l *limiters) allow(remoteAddr string) bool {
	if l == nil {
		return true
	}
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		ip = remoteAddr
	}
	lim, ok := l.cache.Get(ip)
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.cache.Add(ip, lim)
	}
	return lim.Allow()
}

// statusRecorder captures the response status for the admin request metric.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	return sr.ResponseWriter.Write(b)
}

// authorize wraps next with bearer-token auth and the per-IP limiter.
func (a *API) authorize(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sr := &statusRecorder{ResponseWriter: w}
		defer func() {
			if sr.status == 0 {
				sr.status = http.StatusOK
			}
			metrics.AdminRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(sr.status)).Inc()
		}()

		if !a.limiters.allow(r.RemoteAddr) {
			http.Error(sr, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		if !a.tokenOK(r.Header.Get("Authorization")) {
			writeErr(sr, errdefs.ErrUnauthorized.New("invalid or missing bearer token"))
			return
		}
		next(sr, r)
	}
}

// tokenOK compares the presented bearer token in constant time.
func (a *API) tokenOK(header string) bool {
	presented, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), []byte(a.token)) == 1
}
