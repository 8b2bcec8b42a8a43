package server

import (
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/cache"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/storage"
	"github.com/cuemby/hutch/pkg/types"
)

const challengePrefix = "/.well-known/acme-challenge/"

// HostConfig is the per-host serving behavior resolved from configuration.
type HostConfig struct {
	CORS            bool
	RedirectToHTTPS bool
	Policy          *cache.Policy
}

// RouterConfig is the router's complete configuration, replaced wholesale
// on hot reload.
type RouterConfig struct {
	// Hosts overrides per configured host; Default applies to the rest.
	Hosts   map[string]HostConfig
	Default HostConfig

	// ChallengeDir holds the HTTP-01 token files.
	ChallengeDir string

	// HTTPSEnabled gates the HTTP-to-HTTPS redirect: without a TLS
	// listener there is nothing to redirect to.
	HTTPSEnabled bool
}

func (c *RouterConfig) hostConfig(host string) HostConfig {
	if hc, ok := c.Hosts[host]; ok {
		return hc
	}
	return c.Default
}

// Router serves site traffic out of the cache store. It reads one atomic
// config pointer per request and never takes a lock.
type Router struct {
	index  *storage.Index
	cache  *cache.Store
	cfg    atomic.Pointer[RouterConfig]
	logger zerolog.Logger
}

// NewRouter builds a router over the index and cache store.
func NewRouter(index *storage.Index, store *cache.Store, cfg *RouterConfig) *Router {
	rt := &Router{
		index:  index,
		cache:  store,
		logger: log.WithComponent("router"),
	}
	rt.cfg.Store(cfg)
	return rt
}

// SetConfig atomically replaces the router configuration.
func (rt *Router) SetConfig(cfg *RouterConfig) { rt.cfg.Store(cfg) }

// Handler returns the http.Handler for one scheme. secure marks the HTTPS
// listener.
func (rt *Router) Handler(secure bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt.serve(w, r, secure)
	})
}

func (rt *Router) serve(w http.ResponseWriter, r *http.Request, secure bool) {
	cfg := rt.cfg.Load()

	// ACME fast path: bypasses aliasing, redirects, and CORS.
	if strings.HasPrefix(r.URL.Path, challengePrefix) {
		rt.serveChallenge(w, r, cfg)
		return
	}

	host := hostOnly(r.Host)
	if host == "" {
		http.Error(w, "missing host", http.StatusForbidden)
		return
	}
	host = rt.index.ResolveAlias(host)
	hc := cfg.hostConfig(host)

	// The redirect outranks everything after host resolution, CORS included.
	if !secure && hc.RedirectToHTTPS && cfg.HTTPSEnabled {
		target := url.URL{Scheme: "https", Host: host, Path: r.URL.Path, RawQuery: r.URL.RawQuery}
		http.Redirect(w, r, target.String(), http.StatusMovedPermanently)
		return
	}

	if origin := r.Header.Get("Origin"); origin != "" {
		if !hc.CORS {
			http.Error(w, "cross-origin requests are not allowed", http.StatusForbidden)
			return
		}
		if r.Method == http.MethodOptions {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
			h.Set("Access-Control-Max-Age", "3600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clean := cleanRequestPath(r.URL.Path)
	hadSlash := strings.HasSuffix(r.URL.Path, "/") || clean == "/"

	key, rel, ok := rt.resolveKey(host, clean)
	if !ok {
		http.NotFound(w, r)
		return
	}

	if rel == "_version" {
		rt.serveVersion(w, key)
		return
	}

	snap := rt.cache.Active(key)
	if snap == nil {
		http.NotFound(w, r)
		return
	}

	name := rel
	if hadSlash {
		name = indexName(rel)
	}
	entry, found := snap.Lookup(name)
	if !found && !hadSlash {
		// Trailing-slash probe: /dir resolves when /dir/index.html exists.
		if _, indexed := snap.Lookup(indexName(rel)); indexed {
			http.Redirect(w, r, r.URL.Path+"/", http.StatusMovedPermanently)
			return
		}
	}
	if !found {
		http.NotFound(w, r)
		return
	}

	cacheControl, _ := hc.Policy.HeaderFor(entry.Path)
	serveEntry(w, r, entry, cacheControl)
}

// resolveKey maps a cleaned request path to (domain key, relative path).
// Root-level hosts match directly; multi-tenant hosts match the longest
// prefix and strip it.
func (rt *Router) resolveKey(host, clean string) (types.DomainKey, string, bool) {
	rel := strings.TrimPrefix(clean, "/")
	rel = strings.TrimSuffix(rel, "/")

	if rt.index.HasRoot(host) {
		return types.DomainKey{Host: host}, rel, true
	}

	for _, prefix := range rt.index.Prefixes(host) {
		if rel == prefix {
			return types.DomainKey{Host: host, Prefix: prefix}, "", true
		}
		if strings.HasPrefix(rel, prefix+"/") {
			return types.DomainKey{Host: host, Prefix: prefix}, rel[len(prefix)+1:], true
		}
	}
	return types.DomainKey{}, "", false
}

func (rt *Router) serveVersion(w http.ResponseWriter, key types.DomainKey) {
	version, ok := rt.index.Current(key)
	if !ok {
		http.Error(w, "no active version", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(strconv.FormatInt(version, 10)))
}

// serveChallenge answers the HTTP-01 token lookup from the challenge
// directory. Token and host are restricted to safe characters; anything
// else is a plain 404.
func (rt *Router) serveChallenge(w http.ResponseWriter, r *http.Request, cfg *RouterConfig) {
	token := strings.TrimPrefix(r.URL.Path, challengePrefix)
	host := hostOnly(r.Host)
	if token == "" || host == "" || !safeChallengePart(token) || !safeChallengePart(host) {
		http.NotFound(w, r)
		return
	}

	body, err := os.ReadFile(path.Join(cfg.ChallengeDir, host+"_"+token+".token"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write(body)
}

func safeChallengePart(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return !strings.Contains(s, "..")
}

// hostOnly strips an optional port from a Host header value.
func hostOnly(hostport string) string {
	if hostport == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(h)
	}
	return strings.ToLower(hostport)
}

// cleanRequestPath normalizes the request path; dot-dot segments collapse
// toward the root and never escape it.
func cleanRequestPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func indexName(rel string) string {
	if rel == "" {
		return "index.html"
	}
	return rel + "/index.html"
}
