package daemon

import (
	"context"

	"github.com/cuemby/hutch/pkg/config"
	"github.com/cuemby/hutch/pkg/gc"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/server"
	"github.com/cuemby/hutch/pkg/types"
)

// Reload re-reads the configuration and replaces serving state without
// dropping connections: new listeners bind with SO_REUSEPORT before the
// old ones drain, and config pointers swap atomically. Any failure leaves
// the previous generation serving.
func (d *Daemon) Reload() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cfg, err := config.Load(d.configPath)
	if err != nil {
		metrics.ReloadsTotal.WithLabelValues("error").Inc()
		d.logger.Error().Err(err).Msg("reload aborted: configuration rejected")
		return err
	}

	store, engine, err := d.buildCerts(cfg)
	if err != nil {
		metrics.ReloadsTotal.WithLabelValues("error").Inc()
		d.logger.Error().Err(err).Msg("reload aborted: certificate setup failed")
		return err
	}

	// New listeners first; a bind failure keeps everything as it was.
	newSrv := server.New(d.router, d.serverOptions(cfg))
	if err := newSrv.Start(); err != nil {
		metrics.ReloadsTotal.WithLabelValues("error").Inc()
		d.logger.Error().Err(err).Msg("reload aborted: bind failed")
		return err
	}

	// Point of no return: swap serving state, then drain the old
	// generation.
	d.index.SetAliases(cfg.Aliases())
	d.cacheStore.SetOptions(buildOptionsFrom(cfg))
	d.router.SetConfig(routerConfigFrom(cfg, d.layout))
	d.resolver.ptr.Store(store)

	if d.engine != nil {
		d.engine.Stop()
	}
	d.engine = engine
	if engine != nil {
		engine.Start()
	}

	if cacheOptionsChanged(d.cfg, cfg) {
		if err := d.cacheStore.Rebuild(func(key types.DomainKey, version int64) string {
			return d.layout.VersionDir(key, version)
		}); err != nil {
			d.logger.Warn().Err(err).Msg("snapshot rebuild incomplete; affected domains keep their previous snapshot")
		}
	}

	d.restartGC(cfg)

	oldSrv := d.srv
	d.srv = newSrv
	d.watchServer(newSrv)

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout())
	defer cancel()
	if err := oldSrv.Shutdown(drainCtx); err != nil {
		d.logger.Warn().Err(err).Msg("old listeners did not drain cleanly")
	}

	d.cfg = cfg
	metrics.ReloadsTotal.WithLabelValues("ok").Inc()
	d.logger.Info().Msg("reload complete")
	return nil
}

// cacheOptionsChanged reports whether any snapshot-affecting setting moved
// between two configurations.
func cacheOptionsChanged(prev, next *config.Config) bool {
	hosts := map[string]bool{"": true}
	for _, d := range prev.Domains {
		hosts[d.Domain] = true
	}
	for _, d := range next.Domains {
		hosts[d.Domain] = true
	}
	for host := range hosts {
		a, b := prev.Resolved(host), next.Resolved(host)
		if a.MaxInline != b.MaxInline || a.Compression != b.Compression {
			return true
		}
	}
	return false
}

func (d *Daemon) restartGC(cfg *config.Config) {
	if d.gcJob != nil {
		d.gcJob.Stop()
		d.gcJob = nil
	}
	if cfg.Admin == nil || cfg.Admin.DeprecatedVersionDelete == nil {
		return
	}
	vd := cfg.Admin.DeprecatedVersionDelete
	job := gc.New(d.index, vd.Cron, vd.MaxReserve)
	if err := job.Start(); err != nil {
		d.logger.Error().Err(err).Msg("version gc not rescheduled")
		return
	}
	d.gcJob = job
}
