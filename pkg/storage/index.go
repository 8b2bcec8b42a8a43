package storage

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/errdefs"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/types"
)

// SnapshotHooks is implemented by the file cache. The index calls Stage when
// a version is finished, Publish when it becomes current, and Invalidate
// when versions are deleted. All calls happen under the domain key's
// mutation lock; the hooks must not call back into the index.
type SnapshotHooks interface {
	Stage(key types.DomainKey, version int64, dir string) error
	Publish(key types.DomainKey, version int64, dir string) error
	Invalidate(key types.DomainKey, version int64)
}

// domainState tracks the versions of one domain key. current is 0 while no
// version has ever been activated; serving reads it without locking.
type domainState struct {
	mu       sync.Mutex
	versions map[int64]types.VersionStatus
	current  atomic.Int64
}

// Index is the process-wide version index. Mutations are serialized per
// domain key; the map of keys itself is guarded by mu. Lock order is mu
// before a domainState's mu; mu must never be taken while a state lock
// is held.
type Index struct {
	layout *Layout
	hooks  SnapshotHooks
	logger zerolog.Logger

	mu      sync.RWMutex
	domains map[types.DomainKey]*domainState
	aliases map[string]string
}

// NewIndex returns an empty index over layout. Call Scan to load the on-disk
// state and SetHooks before any mutation that should reach the cache.
func NewIndex(layout *Layout, aliases map[string]string) *Index {
	if aliases == nil {
		aliases = map[string]string{}
	}
	return &Index{
		layout:  layout,
		logger:  log.WithComponent("index"),
		domains: make(map[types.DomainKey]*domainState),
		aliases: aliases,
	}
}

// SetHooks wires the file cache in. Must be called before serving starts.
func (ix *Index) SetHooks(h SnapshotHooks) { ix.hooks = h }

// SetAliases replaces the alias table on hot reload.
func (ix *Index) SetAliases(aliases map[string]string) {
	if aliases == nil {
		aliases = map[string]string{}
	}
	ix.mu.Lock()
	ix.aliases = aliases
	ix.mu.Unlock()
}

// ResolveAlias maps an alias host to its primary; unknown hosts map to
// themselves.
func (ix *Index) ResolveAlias(host string) string {
	ix.mu.RLock()
	primary, ok := ix.aliases[host]
	ix.mu.RUnlock()
	if ok {
		return primary
	}
	return host
}

// primaryOf returns the primary for an alias host, or "" when host is not
// an alias.
func (ix *Index) primaryOf(host string) string {
	ix.mu.RLock()
	primary := ix.aliases[host]
	ix.mu.RUnlock()
	return primary
}

// rejectAlias fails upload-side operations addressed to an alias host.
func (ix *Index) rejectAlias(key types.DomainKey) error {
	if primary := ix.primaryOf(key.Host); primary != "" {
		return errdefs.ErrBadRequest.New("%s is an alias of %s; upload to the primary host", key.Host, primary)
	}
	return nil
}

// Scan loads the on-disk tree into the index and publishes the highest
// finished version of each key as current. It is called once at boot and
// trusts the tree; a host mixing root and prefixed keys is logged, not
// rejected (upload-time checks enforce the invariant going forward).
func (ix *Index) Scan() error {
	hosts, err := os.ReadDir(ix.layout.Root())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errdefs.ErrIO.New("scan %s: %v", ix.layout.Root(), err)
	}

	for _, hostEntry := range hosts {
		if !hostEntry.IsDir() || hostEntry.Name() == acmeDirName {
			continue
		}
		host := hostEntry.Name()
		if err := ix.scanHost(host); err != nil {
			return err
		}
	}
	return nil
}

func (ix *Index) scanHost(host string) error {
	hostDir := filepath.Join(ix.layout.Root(), host)
	entries, err := os.ReadDir(hostDir)
	if err != nil {
		return errdefs.ErrIO.New("scan %s: %v", hostDir, err)
	}

	var sawRoot, sawPrefix bool
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, ok := ParseVersionName(e.Name()); ok {
			// Version directory directly under the host: root-level key.
			sawRoot = true
			continue
		}
		sawPrefix = true
		if err := ix.scanKey(types.DomainKey{Host: host, Prefix: e.Name()}); err != nil {
			return err
		}
	}
	if sawRoot {
		if err := ix.scanKey(types.DomainKey{Host: host}); err != nil {
			return err
		}
	}
	if sawRoot && sawPrefix {
		ix.logger.Warn().Str("host", host).
			Msg("on-disk tree mixes root and prefixed domains; serving both, new uploads will be rejected")
	}
	return nil
}

func (ix *Index) scanKey(key types.DomainKey) error {
	dir := ix.layout.DomainDir(key)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errdefs.ErrIO.New("scan %s: %v", dir, err)
	}

	st := &domainState{versions: make(map[int64]types.VersionStatus)}
	var highest int64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v, ok := ParseVersionName(e.Name())
		if !ok {
			continue
		}
		status := types.StatusUploading
		if _, err := os.Stat(ix.layout.MarkerPath(key, v)); err == nil {
			status = types.StatusFinish
			if v > highest {
				highest = v
			}
		}
		st.versions[v] = status
	}
	if len(st.versions) == 0 {
		return nil
	}

	ix.mu.Lock()
	ix.domains[key] = st
	ix.mu.Unlock()

	if highest > 0 {
		if ix.hooks != nil {
			if err := ix.hooks.Publish(key, highest, ix.layout.VersionDir(key, highest)); err != nil {
				return err
			}
		}
		st.current.Store(highest)
		metrics.ActiveVersion.WithLabelValues(key.String()).Set(float64(highest))
		ix.logger.Info().Str("domain", key.String()).Int64("version", highest).Msg("restored active version")
	}
	return nil
}

// state returns the tracked state for key, or nil.
func (ix *Index) state(key types.DomainKey) *domainState {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.domains[key]
}

// Current returns the active version of key. ok is false when the key is
// unknown or nothing has been activated yet. Lock-free.
func (ix *Index) Current(key types.DomainKey) (int64, bool) {
	st := ix.state(key)
	if st == nil {
		return 0, false
	}
	v := st.current.Load()
	return v, v > 0
}

// HasRoot reports whether host has a root-level domain key. Used by the
// router to decide between prefix matching and direct lookup.
func (ix *Index) HasRoot(host string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.domains[types.DomainKey{Host: host}]
	return ok
}

// Prefixes returns the prefixes of host's domain keys, longest first, so the
// router can match the longest prefix greedily.
func (ix *Index) Prefixes(host string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var out []string
	for key := range ix.domains {
		if key.Host == host && key.Prefix != "" {
			out = append(out, key.Prefix)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

// Hosts returns every primary host with at least one domain key. The ACME
// engine uses this to discover hosts needing certificates.
func (ix *Index) Hosts() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	seen := map[string]bool{}
	for key := range ix.domains {
		seen[key.Host] = true
	}
	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// checkMode enforces the root/prefix mutual exclusion for a key that does
// not exist yet. Caller holds ix.mu.
func (ix *Index) checkMode(key types.DomainKey) error {
	for existing := range ix.domains {
		if existing.Host != key.Host {
			continue
		}
		if key.Prefix == "" && existing.Prefix != "" {
			return errdefs.ErrConflict.New("host %s already serves prefixed domains (e.g. %s); a root domain cannot be added", key.Host, existing.String())
		}
		if key.Prefix != "" && existing.Prefix == "" {
			return errdefs.ErrConflict.New("host %s already serves a root domain; prefixed domain %s cannot be added", key.Host, key.String())
		}
	}
	return nil
}

// UploadPosition allocates the next upload slot for key. An open Uploading
// version is returned as-is (InUploading); otherwise max+1 is materialized
// on disk with status Uploading.
func (ix *Index) UploadPosition(key types.DomainKey) (types.UploadPosition, error) {
	if err := ix.rejectAlias(key); err != nil {
		return types.UploadPosition{}, err
	}

	ix.mu.Lock()
	st, ok := ix.domains[key]
	isNew := !ok
	if isNew {
		if err := ix.checkMode(key); err != nil {
			ix.mu.Unlock()
			return types.UploadPosition{}, err
		}
		st = &domainState{versions: make(map[int64]types.VersionStatus)}
		ix.domains[key] = st
	}
	st.mu.Lock()
	ix.mu.Unlock()
	defer st.mu.Unlock()

	var max int64
	for v, status := range st.versions {
		if status == types.StatusUploading {
			return types.UploadPosition{
				Path:    ix.layout.VersionDir(key, v),
				Version: v,
				Status:  types.PositionInUploading,
			}, nil
		}
		if v > max {
			max = v
		}
	}

	version := max + 1
	dir := ix.layout.VersionDir(key, version)
	if err := os.MkdirAll(dir, 0755); err != nil {
		// A brand-new empty state stays registered; the next allocation
		// retries the create. Re-taking ix.mu here would invert the lock
		// order against a concurrent allocation for the same key.
		return types.UploadPosition{}, errdefs.ErrIO.New("create version directory %s: %v", dir, err)
	}
	st.versions[version] = types.StatusUploading

	status := types.PositionNewVersion
	if isNew {
		status = types.PositionNewDomain
	}
	ix.logger.Info().Str("domain", key.String()).Int64("version", version).
		Str("status", string(status)).Msg("upload position allocated")
	return types.UploadPosition{Path: dir, Version: version, Status: status}, nil
}

// PutFile writes one uploaded file into an Uploading version, rejecting
// writes to finished versions and paths that escape the version directory.
func (ix *Index) PutFile(key types.DomainKey, version int64, rel string, r io.Reader) (int64, error) {
	if err := ix.rejectAlias(key); err != nil {
		return 0, err
	}
	st := ix.state(key)
	if st == nil {
		return 0, errdefs.ErrNotFound.New("domain %s not found", key.String())
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	status, ok := st.versions[version]
	if !ok {
		return 0, errdefs.ErrNotFound.New("domain %s has no version %d", key.String(), version)
	}
	if status != types.StatusUploading {
		return 0, errdefs.ErrConflict.New("version %d of %s is finished; files are immutable", version, key.String())
	}

	dest, err := ix.layout.FilePath(key, version, rel)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, errdefs.ErrIO.New("create %s: %v", filepath.Dir(dest), err)
	}

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, errdefs.ErrIO.New("open %s: %v", dest, err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, errdefs.ErrIO.New("write %s: %v", dest, err)
	}
	return n, nil
}

// SetStatus transitions a version's status. Uploading to Finish is the only
// allowed transition; finishing writes the on-disk marker and stages a cache
// snapshot without activating it.
func (ix *Index) SetStatus(key types.DomainKey, version int64, status types.VersionStatus) error {
	if err := ix.rejectAlias(key); err != nil {
		return err
	}
	st := ix.state(key)
	if st == nil {
		return errdefs.ErrNotFound.New("domain %s not found", key.String())
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	prev, ok := st.versions[version]
	if !ok {
		return errdefs.ErrNotFound.New("domain %s has no version %d", key.String(), version)
	}
	if status == prev {
		return nil
	}
	if prev != types.StatusUploading || status != types.StatusFinish {
		return errdefs.ErrConflict.New("version %d of %s is %s; only Uploading -> Finish is allowed", version, key.String(), prev)
	}

	marker := ix.layout.MarkerPath(key, version)
	if err := os.WriteFile(marker, nil, 0644); err != nil {
		return errdefs.ErrIO.New("write %s: %v", marker, err)
	}
	st.versions[version] = types.StatusFinish

	if ix.hooks != nil {
		if err := ix.hooks.Stage(key, version, ix.layout.VersionDir(key, version)); err != nil {
			return err
		}
	}
	ix.logger.Info().Str("domain", key.String()).Int64("version", version).Msg("version finished")
	return nil
}

// Activate makes version current and publishes its snapshot. version 0
// selects the latest finished version. Revoking an older version is the
// same operation.
func (ix *Index) Activate(key types.DomainKey, version int64) (int64, error) {
	st := ix.state(key)
	if st == nil {
		return 0, errdefs.ErrNotFound.New("domain %s not found", key.String())
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if version == 0 {
		for v, status := range st.versions {
			if status == types.StatusFinish && v > version {
				version = v
			}
		}
		if version == 0 {
			return 0, errdefs.ErrNotFound.New("domain %s has no finished version to activate", key.String())
		}
	}

	status, ok := st.versions[version]
	if !ok {
		return 0, errdefs.ErrNotFound.New("domain %s has no version %d", key.String(), version)
	}
	if status != types.StatusFinish {
		return 0, errdefs.ErrConflict.New("version %d of %s is still uploading", version, key.String())
	}

	if ix.hooks != nil {
		if err := ix.hooks.Publish(key, version, ix.layout.VersionDir(key, version)); err != nil {
			return 0, err
		}
	}
	st.current.Store(version)
	metrics.ActiveVersion.WithLabelValues(key.String()).Set(float64(version))
	ix.logger.Info().Str("domain", key.String()).Int64("version", version).Msg("version activated")
	return version, nil
}

// Delete removes one non-current version from disk and from the index.
func (ix *Index) Delete(key types.DomainKey, version int64) error {
	st := ix.state(key)
	if st == nil {
		return errdefs.ErrNotFound.New("domain %s not found", key.String())
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return ix.deleteLocked(key, st, version)
}

func (ix *Index) deleteLocked(key types.DomainKey, st *domainState, version int64) error {
	if _, ok := st.versions[version]; !ok {
		return errdefs.ErrNotFound.New("domain %s has no version %d", key.String(), version)
	}
	if st.current.Load() == version {
		return errdefs.ErrConflict.New("version %d of %s is active and cannot be deleted", version, key.String())
	}

	dir := ix.layout.VersionDir(key, version)
	if err := os.RemoveAll(dir); err != nil {
		return errdefs.ErrIO.New("remove %s: %v", dir, err)
	}
	delete(st.versions, version)
	if ix.hooks != nil {
		ix.hooks.Invalidate(key, version)
	}
	ix.logger.Info().Str("domain", key.String()).Int64("version", version).Msg("version deleted")
	return nil
}

// DeleteOld retains the maxReserve highest finished versions of key (the
// current version is always retained, open Uploading slots are never
// touched) and deletes the rest. Returns the deleted version numbers.
func (ix *Index) DeleteOld(key types.DomainKey, maxReserve int) ([]int64, error) {
	if maxReserve < 1 {
		return nil, errdefs.ErrBadRequest.New("max_reserve must be >= 1, got %d", maxReserve)
	}
	st := ix.state(key)
	if st == nil {
		return nil, errdefs.ErrNotFound.New("domain %s not found", key.String())
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	versions := make([]int64, 0, len(st.versions))
	for v, status := range st.versions {
		if status != types.StatusFinish {
			continue
		}
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })

	current := st.current.Load()
	var deleted []int64
	for rank, v := range versions {
		if rank < maxReserve || v == current {
			continue
		}
		if err := ix.deleteLocked(key, st, v); err != nil {
			return deleted, err
		}
		deleted = append(deleted, v)
	}
	return deleted, nil
}

// DeleteOldAll runs DeleteOld across every domain key. Per-key failures are
// logged and do not stop the sweep; the GC job relies on that.
func (ix *Index) DeleteOldAll(maxReserve int) int {
	ix.mu.RLock()
	keys := make([]types.DomainKey, 0, len(ix.domains))
	for key := range ix.domains {
		keys = append(keys, key)
	}
	ix.mu.RUnlock()

	var total int
	for _, key := range keys {
		deleted, err := ix.DeleteOld(key, maxReserve)
		total += len(deleted)
		if err != nil {
			ix.logger.Error().Err(err).Str("domain", key.String()).Msg("version gc failed")
		}
	}
	return total
}

// Info returns the status view of one domain key.
func (ix *Index) Info(key types.DomainKey) (types.DomainInfo, error) {
	st := ix.state(key)
	if st == nil {
		return types.DomainInfo{}, errdefs.ErrNotFound.New("domain %s not found", key.String())
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return ix.infoLocked(key, st), nil
}

func (ix *Index) infoLocked(key types.DomainKey, st *domainState) types.DomainInfo {
	info := types.DomainInfo{Domain: key.String()}
	for v, status := range st.versions {
		info.Versions = append(info.Versions, types.VersionInfo{Version: v, Status: status})
	}
	sort.Slice(info.Versions, func(i, j int) bool {
		return info.Versions[i].Version < info.Versions[j].Version
	})
	if v := st.current.Load(); v > 0 {
		info.CurrentVersion = &v
	}
	return info
}

// AllInfo returns the status view of every domain key, sorted by key.
func (ix *Index) AllInfo() []types.DomainInfo {
	ix.mu.RLock()
	keys := make([]types.DomainKey, 0, len(ix.domains))
	for key := range ix.domains {
		keys = append(keys, key)
	}
	ix.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	out := make([]types.DomainInfo, 0, len(keys))
	for _, key := range keys {
		info, err := ix.Info(key)
		if err != nil {
			continue
		}
		out = append(out, info)
	}
	return out
}

// FileMetadata walks a version directory and returns path, md5, and length
// for every file. It reads the directory fresh so it works for any known
// version, current or not.
func (ix *Index) FileMetadata(key types.DomainKey, version int64) ([]types.FileMeta, error) {
	st := ix.state(key)
	if st == nil {
		return nil, errdefs.ErrNotFound.New("domain %s not found", key.String())
	}
	st.mu.Lock()
	_, ok := st.versions[version]
	st.mu.Unlock()
	if !ok {
		return nil, errdefs.ErrNotFound.New("domain %s has no version %d", key.String(), version)
	}

	root := ix.layout.VersionDir(key, version)
	var out []types.FileMeta
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() == FinishMarker {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		sum, length, err := fileMD5(p)
		if err != nil {
			return err
		}
		out = append(out, types.FileMeta{
			Path:   filepath.ToSlash(rel),
			MD5:    sum,
			Length: length,
		})
		return nil
	})
	if err != nil {
		return nil, errdefs.ErrIO.New("walk %s: %v", root, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func fileMD5(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := md5.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
