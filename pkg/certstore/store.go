package certstore

import (
	"crypto/tls"
	"crypto/x509"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/hutch/pkg/errdefs"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/types"
)

// Resolver answers SNI certificate lookups during the TLS handshake.
type Resolver interface {
	GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error)
}

// Certified is one installed certificate with its parsed leaf.
type Certified struct {
	Cert   *tls.Certificate
	Leaf   *x509.Certificate
	Source string // "acme", "external", or "self-signed"
}

// NewCertified parses the leaf of cert.
func NewCertified(cert *tls.Certificate, source string) (*Certified, error) {
	leaf := cert.Leaf
	if leaf == nil {
		parsed, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, errdefs.ErrIO.New("parse certificate: %v", err)
		}
		leaf = parsed
		cert.Leaf = parsed
	}
	return &Certified{Cert: cert, Leaf: leaf, Source: source}, nil
}

// Fixed is the single-certificate resolver used with an external ssl
// configuration. It ignores the server name.
type Fixed struct {
	cert *Certified
}

// NewFixed returns a resolver always answering with cert.
func NewFixed(cert *Certified) *Fixed { return &Fixed{cert: cert} }

// GetCertificate implements Resolver.
func (f *Fixed) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return f.cert.Cert, nil
}

// SNIStore resolves certificates by server name with an optional default
// fallback. Reads are lock-free; Install replaces one entry atomically.
type SNIStore struct {
	certs sync.Map // host -> *Certified
	def   atomic.Pointer[Certified]
}

// NewSNIStore returns an empty store.
func NewSNIStore() *SNIStore { return &SNIStore{} }

// Install publishes cert for host, replacing any previous entry. Handshakes
// in flight keep the certificate they already resolved.
func (s *SNIStore) Install(host string, cert *Certified) {
	s.certs.Store(strings.ToLower(host), cert)
	metrics.CertificateExpiry.WithLabelValues(host).Set(time.Until(cert.Leaf.NotAfter).Seconds())
}

// SetDefault publishes the fallback certificate for unknown server names.
func (s *SNIStore) SetDefault(cert *Certified) { s.def.Store(cert) }

// Lookup returns the certificate installed for host.
func (s *SNIStore) Lookup(host string) (*Certified, bool) {
	v, ok := s.certs.Load(strings.ToLower(host))
	if !ok {
		return nil, false
	}
	return v.(*Certified), true
}

// Hosts returns every host with an installed certificate.
func (s *SNIStore) Hosts() []string {
	var out []string
	s.certs.Range(func(k, _ interface{}) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}

// GetCertificate implements Resolver: exact server name, else the default,
// else the handshake fails.
func (s *SNIStore) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if cert, ok := s.Lookup(hello.ServerName); ok {
		return cert.Cert, nil
	}
	if def := s.def.Load(); def != nil {
		return def.Cert, nil
	}
	return nil, errdefs.ErrNotFound.New("no certificate for server name %q", hello.ServerName)
}

// Infos returns the inspection view of every installed certificate, the
// default included.
func (s *SNIStore) Infos() []types.CertInfo {
	var out []types.CertInfo
	s.certs.Range(func(k, v interface{}) bool {
		out = append(out, certInfo(k.(string), v.(*Certified)))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}

func certInfo(host string, c *Certified) types.CertInfo {
	return types.CertInfo{
		Host:      host,
		NotBefore: c.Leaf.NotBefore,
		NotAfter:  c.Leaf.NotAfter,
		SANs:      c.Leaf.DNSNames,
		Source:    c.Source,
	}
}

// TLSConfig returns a server TLS configuration backed by resolver.
func TLSConfig(resolver Resolver) *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: resolver.GetCertificate,
	}
}
