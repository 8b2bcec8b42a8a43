package acme

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/acme"

	"github.com/cuemby/hutch/pkg/certstore"
	"github.com/cuemby/hutch/pkg/errdefs"
	"github.com/cuemby/hutch/pkg/events"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/storage"
	"github.com/cuemby/hutch/pkg/types"
)

// renewBefore is how close to expiry a certificate gets before the engine
// reissues it.
const renewBefore = 9 * 24 * time.Hour

// directoryClient is the slice of *acme.Client the engine uses. Tests
// substitute a fake CA behind it.
type directoryClient interface {
	Register(ctx context.Context, acct *acme.Account, prompt func(tosURL string) bool) (*acme.Account, error)
	AuthorizeOrder(ctx context.Context, id []acme.AuthzID, opt ...acme.OrderOption) (*acme.Order, error)
	GetAuthorization(ctx context.Context, url string) (*acme.Authorization, error)
	HTTP01ChallengeResponse(token string) (string, error)
	Accept(ctx context.Context, chal *acme.Challenge) (*acme.Challenge, error)
	GetOrder(ctx context.Context, url string) (*acme.Order, error)
	CreateOrderCert(ctx context.Context, url string, csr []byte, bundle bool) ([][]byte, string, error)
}

// Config assembles the engine's collaborators and policy.
type Config struct {
	Layout       *storage.Layout
	Store        *certstore.SNIStore
	Env          types.ACMEEnvironment
	DirectoryURL string
	CACertPath   string
	Emails       []string

	// Hosts supplies the primary hosts known to the version index.
	Hosts func() []string

	// AliasesOf returns the alias names of a primary host; they become
	// additional SANs and the certificate is installed under each.
	AliasesOf func(host string) []string

	// IsAlias reports whether a name is an alias; aliases are never
	// ordered on their own.
	IsAlias func(host string) bool

	// Disabled lists hosts excluded from management.
	Disabled map[string]bool

	Broker *events.Broker
}

// Engine is the long-lived issuance and renewal task.
type Engine struct {
	cfg    Config
	logger zerolog.Logger

	mu        sync.Mutex
	client    directoryClient
	newClient func(key crypto.Signer) directoryClient

	// interHostDelay spaces consecutive orders to stay under CA rate
	// limits; tests shrink it. orderTimeout bounds one order end to end
	// so a CA stuck in processing cannot stall the rest of the pass.
	interHostDelay time.Duration
	pollInterval   time.Duration
	orderTimeout   time.Duration

	cron    *cron.Cron
	sub     events.Subscriber
	trigger chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewEngine builds an engine. Start must be called to do any work.
func NewEngine(cfg Config) (*Engine, error) {
	httpClient, err := httpClientFor(cfg.CACertPath)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:            cfg,
		logger:         log.WithComponent("acme"),
		interHostDelay: 20 * time.Second,
		pollInterval:   time.Second,
		orderTimeout:   2 * time.Minute,
		cron:           cron.New(),
		trigger:        make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
	e.newClient = func(key crypto.Signer) directoryClient {
		return &acme.Client{
			Key:          key,
			DirectoryURL: cfg.DirectoryURL,
			HTTPClient:   httpClient,
			UserAgent:    "hutch",
		}
	}
	return e, nil
}

// LoadInstalled loads every persisted certificate of the engine's
// environment into the SNI store. Called once before serving starts so
// restarts keep their certificates without touching the CA.
func (e *Engine) LoadInstalled() error {
	dir := e.cfg.Layout.ACMEDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errdefs.ErrIO.New("read %s: %v", dir, err)
	}

	prefix := "certificate_" + string(e.cfg.Env) + "_"
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".pem") {
			continue
		}
		host := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".pem")
		certPath, keyPath := e.cfg.Layout.CertificatePath(e.cfg.Env, host)
		cert, err := certstore.LoadPair(certPath, keyPath, "acme")
		if err != nil {
			e.logger.Warn().Err(err).Str("host", host).Msg("skipping unreadable certificate")
			continue
		}
		e.installFor(host, cert)
		e.logger.Info().Str("host", host).Time("not_after", cert.Leaf.NotAfter).Msg("certificate loaded")
	}
	return nil
}

// Start launches the renewal loop, schedules the daily tick, and wires the
// new-domain trigger. An immediate pass runs on startup.
func (e *Engine) Start() {
	e.cron.AddFunc("@daily", e.Trigger)
	e.cron.Start()

	if e.cfg.Broker != nil {
		e.sub = e.cfg.Broker.Subscribe()
		go func() {
			for ev := range e.sub {
				if ev.Type == events.EventDomainCreated || ev.Type == events.EventReloadRequested {
					e.Trigger()
				}
			}
		}()
	}

	go e.run()
	e.Trigger()
}

// Stop halts the engine and drops its broker subscription. In-flight
// orders finish their current step.
func (e *Engine) Stop() {
	e.cron.Stop()
	if e.sub != nil {
		e.cfg.Broker.Unsubscribe(e.sub)
	}
	close(e.stopCh)
	<-e.doneCh
}

// Trigger enqueues a renewal pass; coalesces when one is already pending.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

func (e *Engine) run() {
	defer close(e.doneCh)
	for {
		select {
		case <-e.trigger:
			e.renewAll()
		case <-e.stopCh:
			return
		}
	}
}

// managedHosts is the union of index hosts and hosts with loaded
// certificates, minus disabled hosts and alias names.
func (e *Engine) managedHosts() []string {
	seen := map[string]bool{}
	if e.cfg.Hosts != nil {
		for _, h := range e.cfg.Hosts() {
			seen[h] = true
		}
	}
	for _, h := range e.cfg.Store.Hosts() {
		seen[h] = true
	}

	var out []string
	for h := range seen {
		if e.cfg.Disabled[h] {
			continue
		}
		if e.cfg.IsAlias != nil && e.cfg.IsAlias(h) {
			continue
		}
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// needsIssue implements the renewal predicate: no certificate, not yet
// valid, expired, or inside the renewal window.
func needsIssue(cert *certstore.Certified, now time.Time) bool {
	if cert == nil {
		return true
	}
	if cert.Leaf.NotBefore.After(now) {
		return true
	}
	if now.After(cert.Leaf.NotAfter) {
		return true
	}
	return cert.Leaf.NotAfter.Sub(now) < renewBefore
}

func (e *Engine) renewAll() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-e.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	hosts := e.managedHosts()
	now := time.Now()
	first := true
	for _, host := range hosts {
		cert, _ := e.cfg.Store.Lookup(host)
		if !needsIssue(cert, now) {
			continue
		}
		if !first {
			select {
			case <-time.After(e.interHostDelay):
			case <-ctx.Done():
				return
			}
		}
		first = false

		orderCtx, cancelOrder := context.WithTimeout(ctx, e.orderTimeout)
		err := e.issue(orderCtx, host)
		cancelOrder()
		if err != nil {
			metrics.RenewalsTotal.WithLabelValues(host, "error").Inc()
			e.logger.Error().Err(err).Str("host", host).Msg("issuance failed; will retry on next tick")
			continue
		}
		metrics.RenewalsTotal.WithLabelValues(host, "ok").Inc()
	}
}

// issue runs one order through the CA for host plus its aliases.
func (e *Engine) issue(ctx context.Context, host string) error {
	client, err := e.ensureAccount(ctx)
	if err != nil {
		return err
	}

	identifiers := []string{host}
	if e.cfg.AliasesOf != nil {
		identifiers = append(identifiers, e.cfg.AliasesOf(host)...)
	}
	defer e.cleanupChallenges(identifiers)

	ids := make([]acme.AuthzID, 0, len(identifiers))
	for _, name := range identifiers {
		ids = append(ids, acme.AuthzID{Type: "dns", Value: name})
	}

	order, err := client.AuthorizeOrder(ctx, ids)
	if err != nil {
		return errdefs.ErrACME.New("new order for %s: %v", host, err)
	}

	for _, authzURL := range order.AuthzURLs {
		if err := e.solveAuthorization(ctx, client, authzURL); err != nil {
			return err
		}
	}

	order, err = e.waitOrder(ctx, client, order.URI)
	if err != nil {
		return err
	}

	certKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return errdefs.ErrACME.New("generate certificate key: %v", err)
	}
	csr, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: host},
		DNSNames: identifiers,
	}, certKey)
	if err != nil {
		return errdefs.ErrACME.New("create csr for %s: %v", host, err)
	}

	chain, _, err := client.CreateOrderCert(ctx, order.FinalizeURL, csr, true)
	if err != nil {
		return errdefs.ErrACME.New("finalize order for %s: %v", host, err)
	}

	cert, err := e.persist(host, chain, certKey)
	if err != nil {
		return err
	}
	e.installFor(host, cert)

	if e.cfg.Broker != nil {
		e.cfg.Broker.Publish(&events.Event{
			Type:    events.EventCertificateInstalled,
			Domain:  host,
			Message: "certificate installed until " + cert.Leaf.NotAfter.Format(time.RFC3339),
		})
	}
	e.logger.Info().Str("host", host).Strs("sans", identifiers).
		Time("not_after", cert.Leaf.NotAfter).Msg("certificate issued")
	return nil
}

// solveAuthorization writes the key authorization token file and accepts
// the HTTP-01 challenge. Already valid authorizations are skipped.
func (e *Engine) solveAuthorization(ctx context.Context, client directoryClient, authzURL string) error {
	authz, err := client.GetAuthorization(ctx, authzURL)
	if err != nil {
		return errdefs.ErrACME.New("get authorization: %v", err)
	}
	if authz.Status == acme.StatusValid {
		return nil
	}

	var chal *acme.Challenge
	for _, c := range authz.Challenges {
		if c.Type == "http-01" {
			chal = c
			break
		}
	}
	if chal == nil {
		return errdefs.ErrACME.New("authorization for %s offers no http-01 challenge", authz.Identifier.Value)
	}

	keyAuth, err := client.HTTP01ChallengeResponse(chal.Token)
	if err != nil {
		return errdefs.ErrACME.New("challenge response: %v", err)
	}
	tokenPath, err := e.cfg.Layout.ChallengePath(authz.Identifier.Value, chal.Token)
	if err != nil {
		return err
	}
	if err := os.WriteFile(tokenPath, []byte(keyAuth), 0644); err != nil {
		return errdefs.ErrIO.New("write challenge token %s: %v", tokenPath, err)
	}

	if _, err := client.Accept(ctx, chal); err != nil {
		return errdefs.ErrACME.New("accept challenge for %s: %v", authz.Identifier.Value, err)
	}
	return nil
}

// waitOrder polls the order with exponential backoff capped at 10s until it
// leaves the pending states. Ten attempts, then the order is abandoned.
func (e *Engine) waitOrder(ctx context.Context, client directoryClient, orderURL string) (*acme.Order, error) {
	backoff := e.pollInterval
	for attempt := 0; attempt < 10; attempt++ {
		order, err := client.GetOrder(ctx, orderURL)
		if err != nil {
			return nil, errdefs.ErrACME.New("poll order: %v", err)
		}
		switch order.Status {
		case acme.StatusReady, acme.StatusValid:
			return order, nil
		case acme.StatusInvalid:
			return nil, errdefs.ErrACME.New("order became invalid")
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, errdefs.ErrACME.New("order poll cancelled: %v", ctx.Err())
		}
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
	return nil, errdefs.ErrACME.New("order not ready after 10 polls")
}

// persist writes the PEM pair for host and returns the parsed certificate.
func (e *Engine) persist(host string, chain [][]byte, key *ecdsa.PrivateKey) (*certstore.Certified, error) {
	if len(chain) == 0 {
		return nil, errdefs.ErrACME.New("ca returned an empty certificate chain")
	}
	cert, err := certstore.NewCertified(&tls.Certificate{Certificate: chain, PrivateKey: key}, "acme")
	if err != nil {
		return nil, err
	}

	certPEM, keyPEM, err := certstore.EncodePEM(cert)
	if err != nil {
		return nil, err
	}
	certPath, keyPath := e.cfg.Layout.CertificatePath(e.cfg.Env, host)
	if err := certstore.WritePair(certPath, keyPath, certPEM, keyPEM); err != nil {
		return nil, err
	}
	return cert, nil
}

// installFor installs cert for host and for every SAN the certificate
// carries, so alias handshakes resolve without their own entry.
func (e *Engine) installFor(host string, cert *certstore.Certified) {
	e.cfg.Store.Install(host, cert)
	for _, san := range cert.Leaf.DNSNames {
		if san != host {
			e.cfg.Store.Install(san, cert)
		}
	}
}

// cleanupChallenges removes the token files of identifiers after an order
// completes either way.
func (e *Engine) cleanupChallenges(identifiers []string) {
	dir := e.cfg.Layout.ChallengeDir()
	for _, name := range identifiers {
		matches, err := filepath.Glob(filepath.Join(dir, name+"_*.token"))
		if err != nil {
			continue
		}
		for _, m := range matches {
			os.Remove(m)
		}
	}
}
