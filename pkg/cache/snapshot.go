package cache

import (
	"time"

	"github.com/cuemby/hutch/pkg/types"
)

// Entry is one served file inside a snapshot. Inline entries carry their
// bytes (and optional precompressed copies); on-disk entries carry only the
// absolute path and are read per request.
type Entry struct {
	Path    string
	Size    int64
	MD5     string
	MIME    string
	ModTime time.Time

	// Body is nil for on-disk entries.
	Body   []byte
	Gzip   []byte
	Brotli []byte

	// DiskPath is set for entries larger than the inline threshold.
	DiskPath string
}

// Inline reports whether the entry's bytes are held in memory.
func (e *Entry) Inline() bool { return e.DiskPath == "" }

// Snapshot is the immutable file map of one version. It is shared by
// reference between the store and in-flight requests; nothing mutates it
// after construction.
type Snapshot struct {
	Key     types.DomainKey
	Version int64

	entries     map[string]*Entry
	inlineBytes int64
}

// Lookup returns the entry at the given clean relative path.
func (s *Snapshot) Lookup(rel string) (*Entry, bool) {
	e, ok := s.entries[rel]
	return e, ok
}

// Len returns the number of files in the snapshot.
func (s *Snapshot) Len() int { return len(s.entries) }

// InlineBytes returns the memory held by inline bodies, excluding
// precompressed copies.
func (s *Snapshot) InlineBytes() int64 { return s.inlineBytes }
