package acme

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"os"
	"time"

	"github.com/cuemby/hutch/pkg/errdefs"
	"github.com/cuemby/hutch/pkg/types"
)

const (
	letsEncryptURL        = "https://acme-v02.api.letsencrypt.org/directory"
	letsEncryptStagingURL = "https://acme-staging-v02.api.letsencrypt.org/directory"
)

// DirectoryURL resolves the CA directory endpoint for an environment. The
// ci environment requires an explicit directory from configuration.
func DirectoryURL(env types.ACMEEnvironment, ciDir string) (string, error) {
	switch env {
	case types.ACMEProd:
		return letsEncryptURL, nil
	case types.ACMEStage:
		return letsEncryptStagingURL, nil
	case types.ACMECI:
		if ciDir == "" {
			return "", errdefs.ErrFatal.New("acme_type ci requires an explicit directory url")
		}
		return ciDir, nil
	default:
		return "", errdefs.ErrFatal.New("unknown acme environment %q", env)
	}
}

// httpClientFor builds the HTTP client used to talk to the CA. A ci root CA
// path adds that certificate to the trust pool so a local test CA works.
func httpClientFor(caCertPath string) (*http.Client, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	if caCertPath == "" {
		return client, nil
	}

	pemBytes, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, errdefs.ErrFatal.New("read ci_ca_path %s: %v", caCertPath, err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, errdefs.ErrFatal.New("ci_ca_path %s contains no usable certificates", caCertPath)
	}

	client.Transport = &http.Transport{
		TLSClientConfig: &tls.Config{RootCAs: pool},
	}
	return client, nil
}
