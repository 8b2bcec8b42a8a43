package daemon

import (
	"context"
	"crypto/tls"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/acme"
	"github.com/cuemby/hutch/pkg/admin"
	"github.com/cuemby/hutch/pkg/cache"
	"github.com/cuemby/hutch/pkg/certstore"
	"github.com/cuemby/hutch/pkg/config"
	"github.com/cuemby/hutch/pkg/errdefs"
	"github.com/cuemby/hutch/pkg/events"
	"github.com/cuemby/hutch/pkg/gc"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/server"
	"github.com/cuemby/hutch/pkg/storage"
	"github.com/cuemby/hutch/pkg/types"
)

// selfSignedTTL covers the window between first start and the first
// successful ACME order.
const selfSignedTTL = 30 * 24 * time.Hour

// certResolver lets the TLS listener survive a certificate store swap:
// the handshake path dereferences one atomic pointer.
type certResolver struct {
	ptr atomic.Pointer[certstore.SNIStore]
}

func (r *certResolver) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	return r.ptr.Load().GetCertificate(hello)
}

// Infos implements admin.CertSource against the current store.
func (r *certResolver) Infos() []types.CertInfo {
	return r.ptr.Load().Infos()
}

// Daemon owns every long-lived component of the process.
type Daemon struct {
	configPath string
	version    string
	logger     zerolog.Logger

	layout     *storage.Layout
	index      *storage.Index
	cacheStore *cache.Store
	router     *server.Router
	resolver   *certResolver
	broker     *events.Broker

	mu       sync.Mutex // guards cfg, srv, engine, gcJob across reloads
	cfg      *config.Config
	srv      *server.Server
	engine   *acme.Engine
	gcJob    *gc.Job
	adminSrv *http.Server

	fatalCh chan error
	stopped chan struct{}
}

// New loads configuration and builds all components. Nothing listens
// until Run.
func New(configPath, version string) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})

	layout, err := storage.NewLayout(cfg.FileDir)
	if err != nil {
		return nil, err
	}
	if err := layout.EnsureBase(); err != nil {
		return nil, err
	}

	d := &Daemon{
		configPath: configPath,
		version:    version,
		logger:     log.WithComponent("daemon"),
		layout:     layout,
		cfg:        cfg,
		resolver:   &certResolver{},
		broker:     events.NewBroker(),
		fatalCh:    make(chan error, 1),
		stopped:    make(chan struct{}),
	}

	d.index = storage.NewIndex(layout, cfg.Aliases())
	d.cacheStore = cache.NewStore(buildOptionsFrom(cfg))
	d.index.SetHooks(d.cacheStore)
	if err := d.index.Scan(); err != nil {
		return nil, err
	}

	store, engine, err := d.buildCerts(cfg)
	if err != nil {
		return nil, err
	}
	d.resolver.ptr.Store(store)
	d.engine = engine

	d.router = server.NewRouter(d.index, d.cacheStore, routerConfigFrom(cfg, layout))
	d.srv = server.New(d.router, d.serverOptions(cfg))
	return d, nil
}

func (d *Daemon) serverOptions(cfg *config.Config) server.Options {
	opts := server.Options{
		HTTPAddr:  cfg.HTTPAddr(),
		HTTPSAddr: cfg.HTTPSAddr(),
		Resolver:  d.resolver,
	}
	if cfg.HTTPS != nil {
		opts.MaxConnections = cfg.HTTPS.MaxConnections
	}
	return opts
}

// buildOptionsFrom derives the per-host snapshot build options.
func buildOptionsFrom(cfg *config.Config) cache.OptionsFunc {
	return func(host string) cache.BuildOptions {
		s := cfg.Resolved(host)
		return cache.BuildOptions{MaxInline: s.MaxInline, Compression: s.Compression}
	}
}

// routerConfigFrom resolves every configured domain into its serving
// behavior; unconfigured hosts fall back to the root values.
func routerConfigFrom(cfg *config.Config, layout *storage.Layout) *server.RouterConfig {
	def := cfg.Resolved("")
	rc := &server.RouterConfig{
		Hosts: make(map[string]server.HostConfig, len(cfg.Domains)),
		Default: server.HostConfig{
			CORS:            def.CORS,
			RedirectToHTTPS: def.RedirectToHTTPS,
			Policy:          cache.NewPolicy(def.ClientCache),
		},
		ChallengeDir: layout.ChallengeDir(),
		HTTPSEnabled: cfg.HTTPS != nil,
	}
	for _, dom := range cfg.Domains {
		s := cfg.Resolved(dom.Domain)
		rc.Hosts[dom.Domain] = server.HostConfig{
			CORS:            s.CORS,
			RedirectToHTTPS: s.RedirectToHTTPS,
			Policy:          cache.NewPolicy(s.ClientCache),
		}
	}
	return rc
}

// buildCerts assembles the SNI store for cfg: external pairs first, then
// persisted ACME certificates, with a self-signed default so handshakes
// succeed before the first order completes.
func (d *Daemon) buildCerts(cfg *config.Config) (*certstore.SNIStore, *acme.Engine, error) {
	store := certstore.NewSNIStore()
	if cfg.HTTPS == nil {
		return store, nil, nil
	}

	if ssl := cfg.HTTPS.SSL; ssl != nil {
		cert, err := certstore.LoadPair(ssl.Public, ssl.Private, "external")
		if err != nil {
			return nil, nil, err
		}
		store.SetDefault(cert)
	}

	aliases := cfg.Aliases()
	for host, ssl := range cfg.DomainSSL() {
		cert, err := certstore.LoadPair(ssl.Public, ssl.Private, "external")
		if err != nil {
			return nil, nil, err
		}
		store.Install(host, cert)
		for alias, primary := range aliases {
			if primary == host {
				store.Install(alias, cert)
			}
		}
	}

	acmeCfg := cfg.HTTPS.ACME
	if acmeCfg == nil {
		return store, nil, nil
	}

	env, err := types.ParseACMEEnvironment(acmeCfg.Type)
	if err != nil {
		return nil, nil, errdefs.ErrFatal.Wrap(err)
	}
	directoryURL, err := acme.DirectoryURL(env, acmeCfg.Dir)
	if err != nil {
		return nil, nil, err
	}

	if cfg.HTTPS.SelfSignOnEmpty && len(store.Hosts()) == 0 && cfg.HTTPS.SSL == nil {
		fallback, err := certstore.SelfSigned([]string{"localhost"}, selfSignedTTL)
		if err != nil {
			return nil, nil, err
		}
		store.SetDefault(fallback)
	}

	engine, err := acme.NewEngine(acme.Config{
		Layout:       d.layout,
		Store:        store,
		Env:          env,
		DirectoryURL: directoryURL,
		CACertPath:   acmeCfg.CICAPath,
		Emails:       acmeCfg.Emails,
		Hosts:        d.index.Hosts,
		AliasesOf:    cfg.AliasesOf,
		IsAlias: func(host string) bool {
			_, ok := aliases[host]
			return ok
		},
		Disabled: cfg.DisabledACMEHosts(),
		Broker:   d.broker,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := engine.LoadInstalled(); err != nil {
		return nil, nil, err
	}
	return store, engine, nil
}

// Run starts everything and blocks until ctx is cancelled or a listener
// fails. Components are shut down in reverse order on the way out.
func (d *Daemon) Run(ctx context.Context) error {
	d.broker.Start()
	defer d.broker.Stop()

	d.mu.Lock()
	cfg := d.cfg
	srv := d.srv
	if err := srv.Start(); err != nil {
		d.mu.Unlock()
		return err
	}
	d.watchServer(srv)
	metrics.RegisterComponent("listeners", true, "serving")
	metrics.RegisterComponent("storage", true, "scanned")

	if d.engine != nil {
		d.engine.Start()
	}
	if err := d.startAdmin(cfg); err != nil {
		d.mu.Unlock()
		return err
	}
	if err := d.startGC(cfg); err != nil {
		d.mu.Unlock()
		return err
	}
	d.mu.Unlock()

	stopWatch, err := d.watchConfig()
	if err != nil {
		d.logger.Warn().Err(err).Msg("config watch unavailable; reload via SIGHUP or the admin api")
	} else {
		defer stopWatch()
	}

	d.logger.Info().Str("version", d.version).Msg("hutch started")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-d.fatalCh:
		metrics.UpdateComponent("listeners", false, runErr.Error())
		d.logger.Error().Err(runErr).Msg("listener failed; shutting down")
	}

	d.shutdown()
	close(d.stopped)
	return runErr
}

// watchServer forwards a generation's asynchronous failure to the run
// loop. Drained generations never report.
func (d *Daemon) watchServer(srv *server.Server) {
	go func() {
		if err := <-srv.Err(); err != nil {
			select {
			case d.fatalCh <- err:
			default:
			}
		}
	}()
}

func (d *Daemon) startAdmin(cfg *config.Config) error {
	if cfg.Admin == nil {
		return nil
	}
	api := admin.New(admin.Options{
		Token:      cfg.Admin.Token,
		RateLimit:  cfg.Admin.RateLimit,
		MaxReserve: adminMaxReserve(cfg),
		Index:      d.index,
		Certs:      d.resolver,
		Broker:     d.broker,
		Reload:     d.Reload,
		Version:    d.version,
	})

	ln, err := server.Listen(cfg.AdminAddr(), 0)
	if err != nil {
		return err
	}
	d.adminSrv = &http.Server{
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := d.adminSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			select {
			case d.fatalCh <- err:
			default:
			}
		}
	}()
	d.logger.Info().Str("addr", cfg.AdminAddr()).Msg("admin listener started")
	return nil
}

func adminMaxReserve(cfg *config.Config) int {
	if cfg.Admin != nil && cfg.Admin.DeprecatedVersionDelete != nil {
		return cfg.Admin.DeprecatedVersionDelete.MaxReserve
	}
	return 0
}

func (d *Daemon) startGC(cfg *config.Config) error {
	if cfg.Admin == nil || cfg.Admin.DeprecatedVersionDelete == nil {
		return nil
	}
	vd := cfg.Admin.DeprecatedVersionDelete
	d.gcJob = gc.New(d.index, vd.Cron, vd.MaxReserve)
	return d.gcJob.Start()
}

func (d *Daemon) shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()

	drain := d.cfg.DrainTimeout()
	ctx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()

	if d.engine != nil {
		d.engine.Stop()
	}
	if d.gcJob != nil {
		d.gcJob.Stop()
	}
	if d.adminSrv != nil {
		d.adminSrv.Shutdown(ctx)
	}
	if err := d.srv.Shutdown(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("listener drain incomplete")
	}
	d.logger.Info().Msg("hutch stopped")
}
