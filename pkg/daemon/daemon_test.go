package daemon

import (
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/hutch/pkg/certstore"
	"github.com/cuemby/hutch/pkg/config"
)

func writeTestPair(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()
	cert, err := certstore.SelfSigned([]string{"ex.com", "www.ex.com"}, time.Hour)
	require.NoError(t, err)
	certPEM, keyPEM, err := certstore.EncodePEM(cert)
	require.NoError(t, err)
	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")
	require.NoError(t, certstore.WritePair(certPath, keyPath, certPEM, keyPEM))
	return certPath, keyPath
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hutch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func loadConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	cfg, err := config.Load(writeConfig(t, body))
	require.NoError(t, err)
	return cfg
}

func TestNewAssemblesFromConfig(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeTestPair(t, dir)

	path := writeConfig(t, fmt.Sprintf(`
file_dir: %s
cors: true
log:
  level: error
admin_config:
  port: 9301
  token: test-token
  deprecated_version_delete:
    cron: "0 3 * * *"
    max_reserve: 2
http:
  port: 9380
https:
  port: 9343
  http_redirect_to_https: true
  ssl:
    public: %s
    private: %s
cache:
  max_size: 1024
  compression: true
  client_cache:
    - extension_names: [html]
      expire: 0s
domains:
  - domain: ex.com
    alias: [www.ex.com]
    cors: false
`, filepath.Join(dir, "sites"), certPath, keyPath))

	d, err := New(path, "test")
	require.NoError(t, err)
	require.NotNil(t, d.index)
	require.NotNil(t, d.router)
	assert.Nil(t, d.engine)

	// The external pair answers any SNI as the default certificate.
	cert, err := d.resolver.GetCertificate(&tls.ClientHelloInfo{ServerName: "anything.ex.com"})
	require.NoError(t, err)
	assert.NotNil(t, cert)

	// Alias table reached the index.
	assert.Equal(t, "ex.com", d.index.ResolveAlias("www.ex.com"))
}

func TestRouterConfigFrom(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeTestPair(t, dir)
	cfg := loadConfig(t, fmt.Sprintf(`
file_dir: %s
cors: true
https:
  port: 9443
  http_redirect_to_https: true
  ssl:
    public: %s
    private: %s
domains:
  - domain: quiet.ex.com
    cors: false
    https:
      http_redirect_to_https: false
`, dir, certPath, keyPath))

	d, err := New(writeConfig(t, "file_dir: "+dir+"\nhttp: {port: 9380}\n"), "test")
	require.NoError(t, err)

	rc := routerConfigFrom(cfg, d.layout)
	assert.True(t, rc.HTTPSEnabled)
	assert.True(t, rc.Default.CORS)
	assert.True(t, rc.Default.RedirectToHTTPS)

	quiet, ok := rc.Hosts["quiet.ex.com"]
	require.True(t, ok)
	assert.False(t, quiet.CORS)
	assert.False(t, quiet.RedirectToHTTPS)
}

func TestBuildOptionsFrom(t *testing.T) {
	dir := t.TempDir()
	cfg := loadConfig(t, fmt.Sprintf(`
file_dir: %s
http:
  port: 9380
cache:
  max_size: 4096
domains:
  - domain: big.ex.com
    cache:
      max_size: 65536
      compression: false
`, dir))

	opts := buildOptionsFrom(cfg)
	assert.Equal(t, int64(4096), opts("other.ex.com").MaxInline)
	assert.True(t, opts("other.ex.com").Compression)
	assert.Equal(t, int64(65536), opts("big.ex.com").MaxInline)
	assert.False(t, opts("big.ex.com").Compression)
}

func TestCacheOptionsChanged(t *testing.T) {
	dir := t.TempDir()
	base := fmt.Sprintf("file_dir: %s\nhttp:\n  port: 9380\ncache:\n  max_size: 1024\n", dir)

	prev := loadConfig(t, base)
	same := loadConfig(t, base)
	assert.False(t, cacheOptionsChanged(prev, same))

	bumped := loadConfig(t, fmt.Sprintf("file_dir: %s\nhttp:\n  port: 9380\ncache:\n  max_size: 2048\n", dir))
	assert.True(t, cacheOptionsChanged(prev, bumped))

	perHost := loadConfig(t, base+"domains:\n  - domain: ex.com\n    cache:\n      compression: false\n")
	assert.True(t, cacheOptionsChanged(prev, perHost))
}

func TestBuildCertsACMEFallback(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, fmt.Sprintf(`
file_dir: %s
https:
  port: 9443
  self_sign_on_empty: true
  acme:
    emails: [ops@ex.com]
    acme_type: ci
    dir: https://ca.internal/directory
`, filepath.Join(dir, "sites")))

	d, err := New(path, "test")
	require.NoError(t, err)
	require.NotNil(t, d.engine)

	// No certificate ordered yet: the self-signed default answers.
	cert, err := d.resolver.GetCertificate(&tls.ClientHelloInfo{ServerName: "ex.com"})
	require.NoError(t, err)
	assert.NotNil(t, cert)
}
