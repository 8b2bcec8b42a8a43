package server

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/hutch/pkg/cache"
	"github.com/cuemby/hutch/pkg/storage"
	"github.com/cuemby/hutch/pkg/types"
)

type fixture struct {
	layout *storage.Layout
	index  *storage.Index
	cache  *cache.Store
	router *Router
}

func newFixture(t *testing.T, aliases map[string]string, cfg *RouterConfig) *fixture {
	t.Helper()
	layout, err := storage.NewLayout(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, layout.EnsureBase())

	store := cache.NewStore(func(string) cache.BuildOptions {
		return cache.BuildOptions{MaxInline: 1 << 20, Compression: true}
	})
	index := storage.NewIndex(layout, aliases)
	index.SetHooks(store)

	if cfg == nil {
		cfg = &RouterConfig{}
	}
	if cfg.ChallengeDir == "" {
		cfg.ChallengeDir = layout.ChallengeDir()
	}
	return &fixture{
		layout: layout,
		index:  index,
		cache:  store,
		router: NewRouter(index, store, cfg),
	}
}

func (f *fixture) deploy(t *testing.T, key types.DomainKey, files map[string]string) int64 {
	t.Helper()
	pos, err := f.index.UploadPosition(key)
	require.NoError(t, err)
	for rel, body := range files {
		_, err := f.index.PutFile(key, pos.Version, rel, strings.NewReader(body))
		require.NoError(t, err)
	}
	require.NoError(t, f.index.SetStatus(key, pos.Version, types.StatusFinish))
	_, err = f.index.Activate(key, pos.Version)
	require.NoError(t, err)
	return pos.Version
}

func (f *fixture) get(host, path string, secure bool, mod ...func(*http.Request)) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.Host = host
	for _, m := range mod {
		m(r)
	}
	w := httptest.NewRecorder()
	f.router.serve(w, r, secure)
	return w
}

func TestServePrefixedDomain(t *testing.T) {
	f := newFixture(t, nil, nil)
	key := types.DomainKey{Host: "a.ex.com", Prefix: "27"}
	f.deploy(t, key, map[string]string{"index.html": "hi", "assets/app.js": "js!"})

	w := f.get("a.ex.com", "/27/", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hi", w.Body.String())

	w = f.get("a.ex.com", "/27/index.html", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hi", w.Body.String())

	w = f.get("a.ex.com", "/27/assets/app.js", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "js!", w.Body.String())

	// No prefix match is a 404.
	w = f.get("a.ex.com", "/28/", false)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.get("a.ex.com", "/27/missing.html", false)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTrailingSlashRedirect(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.deploy(t, types.DomainKey{Host: "a.ex.com", Prefix: "27"}, map[string]string{
		"index.html":      "hi",
		"docs/index.html": "docs",
	})

	w := f.get("a.ex.com", "/27", false)
	assert.Equal(t, http.StatusMovedPermanently, w.Code)
	assert.Equal(t, "/27/", w.Header().Get("Location"))

	w = f.get("a.ex.com", "/27/docs", false)
	assert.Equal(t, http.StatusMovedPermanently, w.Code)
	assert.Equal(t, "/27/docs/", w.Header().Get("Location"))

	w = f.get("a.ex.com", "/27/docs/", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "docs", w.Body.String())
}

func TestServeRootDomain(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.deploy(t, types.DomainKey{Host: "a.ex.com"}, map[string]string{"index.html": "root"})

	w := f.get("a.ex.com", "/", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "root", w.Body.String())

	// Host header ports are ignored; host matching is case-insensitive.
	w = f.get("A.EX.COM:8080", "/", false)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestVersionProbe(t *testing.T) {
	f := newFixture(t, nil, nil)
	key := types.DomainKey{Host: "a.ex.com", Prefix: "27"}
	f.deploy(t, key, map[string]string{"index.html": "hi"})

	w := f.get("a.ex.com", "/27/_version", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Body.String())

	f.deploy(t, key, map[string]string{"index.html": "v2"})
	w = f.get("a.ex.com", "/27/_version", false)
	assert.Equal(t, "2", w.Body.String())

	// Root probe on a root-level host.
	f.deploy(t, types.DomainKey{Host: "b.ex.com"}, map[string]string{"index.html": "x"})
	w = f.get("b.ex.com", "/_version", false)
	assert.Equal(t, "1", w.Body.String())
}

func TestActivateAndRevokeRoundTrip(t *testing.T) {
	f := newFixture(t, nil, nil)
	key := types.DomainKey{Host: "a.ex.com", Prefix: "27"}
	f.deploy(t, key, map[string]string{"index.html": "hi"})
	f.deploy(t, key, map[string]string{"index.html": "v2"})

	w := f.get("a.ex.com", "/27/", false)
	assert.Equal(t, "v2", w.Body.String())

	_, err := f.index.Activate(key, 1)
	require.NoError(t, err)
	w = f.get("a.ex.com", "/27/", false)
	assert.Equal(t, "hi", w.Body.String())
}

func TestAliasServesPrimary(t *testing.T) {
	f := newFixture(t, map[string]string{"b.ex.com": "a.ex.com"}, nil)
	f.deploy(t, types.DomainKey{Host: "a.ex.com"}, map[string]string{"index.html": "primary"})

	w := f.get("b.ex.com", "/", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "primary", w.Body.String())
}

func TestMissingHostForbidden(t *testing.T) {
	f := newFixture(t, nil, nil)
	w := f.get("", "/", false)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestUnknownHostNotFound(t *testing.T) {
	f := newFixture(t, nil, nil)
	w := f.get("nobody.ex.com", "/", false)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPathEscapeIsNotFound(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.deploy(t, types.DomainKey{Host: "a.ex.com"}, map[string]string{"index.html": "hi"})

	for _, p := range []string{"/../etc/passwd", "/..%2f..%2fetc/passwd", "/a/../../etc/passwd"} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Host = "a.ex.com"
		r.URL.Path = p
		w := httptest.NewRecorder()
		f.router.serve(w, r, false)
		assert.Equal(t, http.StatusNotFound, w.Code, "path %q", p)
	}
}

func TestUploadingVersionInvisible(t *testing.T) {
	f := newFixture(t, nil, nil)
	key := types.DomainKey{Host: "a.ex.com"}
	f.deploy(t, key, map[string]string{"index.html": "v1"})

	// v2 uploaded but not finished: requests keep seeing v1.
	pos, err := f.index.UploadPosition(key)
	require.NoError(t, err)
	_, err = f.index.PutFile(key, pos.Version, "index.html", strings.NewReader("v2"))
	require.NoError(t, err)

	w := f.get("a.ex.com", "/", false)
	assert.Equal(t, "v1", w.Body.String())
	w = f.get("a.ex.com", "/_version", false)
	assert.Equal(t, "1", w.Body.String())
}

func TestHTTPSRedirect(t *testing.T) {
	cfg := &RouterConfig{
		Default:      HostConfig{RedirectToHTTPS: true},
		HTTPSEnabled: true,
	}
	f := newFixture(t, nil, cfg)
	f.deploy(t, types.DomainKey{Host: "a.ex.com"}, map[string]string{"index.html": "hi"})

	w := f.get("a.ex.com", "/x?q=1", false)
	assert.Equal(t, http.StatusMovedPermanently, w.Code)
	assert.Equal(t, "https://a.ex.com/x?q=1", w.Header().Get("Location"))

	// Already on HTTPS: no redirect.
	w = f.get("a.ex.com", "/", true)
	assert.Equal(t, http.StatusOK, w.Code)

	// An Origin header on plain HTTP is redirected, not refused, even with
	// CORS disabled for the host.
	w = f.get("a.ex.com", "/x", false, func(r *http.Request) {
		r.Header.Set("Origin", "https://app.ex.com")
	})
	assert.Equal(t, http.StatusMovedPermanently, w.Code)
	assert.Equal(t, "https://a.ex.com/x", w.Header().Get("Location"))
}

func TestCORS(t *testing.T) {
	cfg := &RouterConfig{
		Hosts: map[string]HostConfig{
			"open.ex.com": {CORS: true},
		},
	}
	f := newFixture(t, nil, cfg)
	f.deploy(t, types.DomainKey{Host: "open.ex.com"}, map[string]string{"index.html": "hi"})
	f.deploy(t, types.DomainKey{Host: "closed.ex.com"}, map[string]string{"index.html": "hi"})

	withOrigin := func(r *http.Request) { r.Header.Set("Origin", "https://app.ex.com") }

	// Preflight.
	r := httptest.NewRequest(http.MethodOptions, "/", nil)
	r.Host = "open.ex.com"
	withOrigin(r)
	w := httptest.NewRecorder()
	f.router.serve(w, r, false)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.ex.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, HEAD, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "3600", w.Header().Get("Access-Control-Max-Age"))

	// Simple request echoes the origin and allows credentials.
	got := f.get("open.ex.com", "/", false, withOrigin)
	assert.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, "https://app.ex.com", got.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", got.Header().Get("Access-Control-Allow-Credentials"))

	// CORS disabled: an Origin header is refused.
	got = f.get("closed.ex.com", "/", false, withOrigin)
	assert.Equal(t, http.StatusForbidden, got.Code)

	// No Origin on a CORS-disabled host is plain serving.
	got = f.get("closed.ex.com", "/", false)
	assert.Equal(t, http.StatusOK, got.Code)
}

func TestChallengeFastPath(t *testing.T) {
	f := newFixture(t, map[string]string{"b.ex.com": "a.ex.com"}, nil)

	path, err := f.layout.ChallengePath("a.ex.com", "token123")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("token123.keyauth"), 0644))

	w := f.get("a.ex.com", "/.well-known/acme-challenge/token123", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "token123.keyauth", w.Body.String())

	// The fast path ignores aliasing: the alias host has its own token
	// namespace and this one misses.
	w = f.get("b.ex.com", "/.well-known/acme-challenge/token123", false)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Unknown tokens and traversal attempts are 404.
	w = f.get("a.ex.com", "/.well-known/acme-challenge/none", false)
	assert.Equal(t, http.StatusNotFound, w.Code)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Host = "a.ex.com"
	r.URL.Path = "/.well-known/acme-challenge/../../secret"
	w2 := httptest.NewRecorder()
	f.router.serve(w2, r, false)
	assert.Equal(t, http.StatusNotFound, w2.Code)
}

func TestChallengeBypassesRedirect(t *testing.T) {
	cfg := &RouterConfig{
		Default:      HostConfig{RedirectToHTTPS: true},
		HTTPSEnabled: true,
	}
	f := newFixture(t, nil, cfg)

	path, err := f.layout.ChallengePath("a.ex.com", "tok")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("ka"), 0644))

	w := f.get("a.ex.com", "/.well-known/acme-challenge/tok", false)
	assert.Equal(t, http.StatusOK, w.Code, "challenge is served on plain HTTP even with redirect enabled")
}

func TestHotConfigSwap(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.deploy(t, types.DomainKey{Host: "a.ex.com"}, map[string]string{"index.html": "hi"})

	w := f.get("a.ex.com", "/", false, func(r *http.Request) {
		r.Header.Set("Origin", "https://app.ex.com")
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	f.router.SetConfig(&RouterConfig{Default: HostConfig{CORS: true}})
	w = f.get("a.ex.com", "/", false, func(r *http.Request) {
		r.Header.Set("Origin", "https://app.ex.com")
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestClientCacheHeader(t *testing.T) {
	policy := cachePolicy(t)
	cfg := &RouterConfig{Default: HostConfig{Policy: policy}}
	f := newFixture(t, nil, cfg)
	f.deploy(t, types.DomainKey{Host: "a.ex.com"}, map[string]string{
		"index.html": "hi",
		"app.js":     "x",
		"logo.png":   "p",
	})

	w := f.get("a.ex.com", "/index.html", false)
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	w = f.get("a.ex.com", "/app.js", false)
	assert.Equal(t, "max-age=3600", w.Header().Get("Cache-Control"))
	w = f.get("a.ex.com", "/logo.png", false)
	assert.Empty(t, w.Header().Get("Cache-Control"))
}
