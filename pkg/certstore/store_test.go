package certstore

import (
	"crypto/tls"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelfSigned(t *testing.T) {
	cert, err := SelfSigned([]string{"a.ex.com", "b.ex.com"}, time.Hour)
	require.NoError(t, err)
	require.NotNil(t, cert.Leaf)
	assert.Equal(t, []string{"a.ex.com", "b.ex.com"}, cert.Leaf.DNSNames)
	assert.True(t, cert.Leaf.NotAfter.After(time.Now()))
	assert.Equal(t, "self-signed", cert.Source)
}

func TestSNIStoreResolution(t *testing.T) {
	store := NewSNIStore()

	a, err := SelfSigned([]string{"a.ex.com"}, time.Hour)
	require.NoError(t, err)
	def, err := SelfSigned([]string{"fallback.local"}, time.Hour)
	require.NoError(t, err)

	// Miss with no default fails the handshake.
	_, err = store.GetCertificate(&tls.ClientHelloInfo{ServerName: "a.ex.com"})
	assert.Error(t, err)

	store.Install("a.ex.com", a)
	got, err := store.GetCertificate(&tls.ClientHelloInfo{ServerName: "a.ex.com"})
	require.NoError(t, err)
	assert.Equal(t, a.Cert, got)

	// Server names are case-insensitive.
	got, err = store.GetCertificate(&tls.ClientHelloInfo{ServerName: "A.EX.COM"})
	require.NoError(t, err)
	assert.Equal(t, a.Cert, got)

	// Unknown name falls back to the default once set.
	store.SetDefault(def)
	got, err = store.GetCertificate(&tls.ClientHelloInfo{ServerName: "other.ex.com"})
	require.NoError(t, err)
	assert.Equal(t, def.Cert, got)

	// Installation replaces the entry.
	a2, err := SelfSigned([]string{"a.ex.com"}, 2*time.Hour)
	require.NoError(t, err)
	store.Install("a.ex.com", a2)
	got, err = store.GetCertificate(&tls.ClientHelloInfo{ServerName: "a.ex.com"})
	require.NoError(t, err)
	assert.Equal(t, a2.Cert, got)

	assert.Equal(t, []string{"a.ex.com"}, store.Hosts())
	infos := store.Infos()
	require.Len(t, infos, 1)
	assert.Equal(t, "a.ex.com", infos[0].Host)
	assert.Equal(t, []string{"a.ex.com"}, infos[0].SANs)
}

func TestFixedResolver(t *testing.T) {
	cert, err := SelfSigned([]string{"only.ex.com"}, time.Hour)
	require.NoError(t, err)

	fixed := NewFixed(cert)
	got, err := fixed.GetCertificate(&tls.ClientHelloInfo{ServerName: "anything.example"})
	require.NoError(t, err)
	assert.Equal(t, cert.Cert, got)
}

func TestPEMRoundTrip(t *testing.T) {
	cert, err := SelfSigned([]string{"a.ex.com"}, time.Hour)
	require.NoError(t, err)

	certPEM, keyPEM, err := EncodePEM(cert)
	require.NoError(t, err)

	dir := t.TempDir()
	certPath := filepath.Join(dir, "certificate_prod_a.ex.com.pem")
	keyPath := filepath.Join(dir, "certificate_prod_a.ex.com.key")
	require.NoError(t, WritePair(certPath, keyPath, certPEM, keyPEM))

	loaded, err := LoadPair(certPath, keyPath, "acme")
	require.NoError(t, err)
	assert.Equal(t, cert.Leaf.SerialNumber, loaded.Leaf.SerialNumber)
	assert.Equal(t, []string{"a.ex.com"}, loaded.Leaf.DNSNames)
	assert.Equal(t, "acme", loaded.Source)
}
