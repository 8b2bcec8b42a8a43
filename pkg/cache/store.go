package cache

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/types"
)

// OptionsFunc resolves the build options for a host. The daemon derives it
// from configuration and replaces it on hot reload.
type OptionsFunc func(host string) BuildOptions

// Store holds the active snapshot of every domain key and at most one
// staged snapshot per key for a finished-but-inactive version. It implements
// storage.SnapshotHooks; the index calls it under the key's mutation lock.
type Store struct {
	builder *Builder
	logger  zerolog.Logger

	mu      sync.RWMutex
	options OptionsFunc
	active  sync.Map // types.DomainKey -> *Snapshot
	staged  map[types.DomainKey]*Snapshot
}

// NewStore returns an empty store building snapshots with options.
func NewStore(options OptionsFunc) *Store {
	return &Store{
		builder: NewBuilder(),
		logger:  log.WithComponent("cache"),
		options: options,
		staged:  make(map[types.DomainKey]*Snapshot),
	}
}

// SetOptions replaces the per-host option source on hot reload. Already
// built snapshots are not rebuilt; new builds pick up the new options.
func (s *Store) SetOptions(options OptionsFunc) {
	s.mu.Lock()
	s.options = options
	s.mu.Unlock()
}

func (s *Store) optionsFor(host string) BuildOptions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.options == nil {
		return BuildOptions{}
	}
	return s.options(host)
}

// Active returns the published snapshot of key, or nil. Lock-free: the
// request path calls this once per request and holds the snapshot by
// reference afterwards.
func (s *Store) Active(key types.DomainKey) *Snapshot {
	v, ok := s.active.Load(key)
	if !ok {
		return nil
	}
	return v.(*Snapshot)
}

// Stage builds a snapshot for a freshly finished version and parks it for
// the upcoming activation. It does not publish.
func (s *Store) Stage(key types.DomainKey, version int64, dir string) error {
	snap, err := s.builder.Build(key, version, dir, s.optionsFor(key.Host))
	if err != nil {
		metrics.SnapshotBuilds.WithLabelValues(key.String(), "error").Inc()
		return err
	}
	metrics.SnapshotBuilds.WithLabelValues(key.String(), "ok").Inc()

	s.mu.Lock()
	s.staged[key] = snap
	s.mu.Unlock()

	s.logger.Debug().Str("domain", key.String()).Int64("version", version).
		Int("files", snap.Len()).Int64("inline_bytes", snap.InlineBytes()).
		Msg("snapshot staged")
	return nil
}

// Publish makes the snapshot of (key, version) the active one. The staged
// snapshot is used when it matches; otherwise the version directory is
// rebuilt (activation of an old version, or boot).
func (s *Store) Publish(key types.DomainKey, version int64, dir string) error {
	s.mu.Lock()
	snap := s.staged[key]
	if snap != nil && snap.Version == version {
		delete(s.staged, key)
	} else {
		snap = nil
	}
	s.mu.Unlock()

	if snap == nil {
		built, err := s.builder.Build(key, version, dir, s.optionsFor(key.Host))
		if err != nil {
			metrics.SnapshotBuilds.WithLabelValues(key.String(), "error").Inc()
			return err
		}
		metrics.SnapshotBuilds.WithLabelValues(key.String(), "ok").Inc()
		snap = built
	}

	s.active.Store(key, snap)
	metrics.CacheEntries.WithLabelValues(key.String()).Set(float64(snap.Len()))
	metrics.CacheBytes.WithLabelValues(key.String()).Set(float64(snap.InlineBytes()))
	s.logger.Info().Str("domain", key.String()).Int64("version", version).
		Int("files", snap.Len()).Msg("snapshot published")
	return nil
}

// Invalidate drops the staged snapshot of key when it belongs to a deleted
// version. The active snapshot is never the deleted one: the index refuses
// to delete the current version.
func (s *Store) Invalidate(key types.DomainKey, version int64) {
	s.mu.Lock()
	if snap := s.staged[key]; snap != nil && snap.Version == version {
		delete(s.staged, key)
	}
	s.mu.Unlock()
}

// Rebuild rebuilds and republishes the active snapshot of every key. Hot
// reload calls it when cache options changed.
func (s *Store) Rebuild(dirOf func(key types.DomainKey, version int64) string) error {
	var firstErr error
	s.active.Range(func(k, v interface{}) bool {
		key := k.(types.DomainKey)
		snap := v.(*Snapshot)
		if err := s.Publish(key, snap.Version, dirOf(key, snap.Version)); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}
