package cache

import (
	"bytes"
	"compress/gzip"
	"crypto/md5"
	"encoding/hex"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"

	"github.com/cuemby/hutch/pkg/errdefs"
	"github.com/cuemby/hutch/pkg/storage"
	"github.com/cuemby/hutch/pkg/types"
)

// BuildOptions are the per-host knobs of a snapshot build, resolved from
// configuration before the build starts.
type BuildOptions struct {
	// MaxInline is the inline threshold in bytes. 0 keeps everything on
	// disk.
	MaxInline int64

	// Compression enables gzip and brotli precompression of inline entries
	// with compressible extensions.
	Compression bool
}

// compressibleExts is the default set of extensions worth precompressing.
var compressibleExts = map[string]bool{
	"html": true,
	"js":   true,
	"css":  true,
	"json": true,
	"icon": true,
	"svg":  true,
	"txt":  true,
	"xml":  true,
}

const defaultMIME = "application/octet-stream"

// Builder walks version directories into snapshots. Safe for concurrent use.
type Builder struct {
	gzipPool sync.Pool
}

// NewBuilder returns a snapshot builder with a pooled gzip writer.
func NewBuilder() *Builder {
	return &Builder{
		gzipPool: sync.Pool{
			New: func() interface{} {
				w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
				return w
			},
		},
	}
}

// Build walks dir and returns a snapshot for (key, version). The finish
// marker is excluded from the file map.
func (b *Builder) Build(key types.DomainKey, version int64, dir string, opts BuildOptions) (*Snapshot, error) {
	snap := &Snapshot{
		Key:     key,
		Version: version,
		entries: make(map[string]*Entry),
	}

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() == storage.FinishMarker {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		entry, err := b.buildEntry(p, filepath.ToSlash(rel), opts)
		if err != nil {
			return err
		}
		snap.entries[entry.Path] = entry
		if entry.Inline() {
			snap.inlineBytes += entry.Size
		}
		return nil
	})
	if err != nil {
		return nil, errdefs.ErrIO.New("build snapshot for %s version %d: %v", key.String(), version, err)
	}
	return snap, nil
}

func (b *Builder) buildEntry(abs, rel string, opts BuildOptions) (*Entry, error) {
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		Path:    rel,
		Size:    info.Size(),
		MIME:    mimeByExtension(rel),
		ModTime: info.ModTime(),
	}

	// MaxInline 0 keeps everything on disk, empty files included.
	if opts.MaxInline <= 0 || info.Size() > opts.MaxInline {
		entry.DiskPath = abs
		return entry, nil
	}

	body, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	entry.Body = body
	sum := md5.Sum(body)
	entry.MD5 = hex.EncodeToString(sum[:])

	if opts.Compression && compressibleExts[extOf(rel)] && len(body) > 0 {
		gz, err := b.gzipBytes(body)
		if err != nil {
			return nil, err
		}
		// Keep the copy only when it actually shrinks the payload.
		if len(gz) < len(body) {
			entry.Gzip = gz
		}
		var buf bytes.Buffer
		bw := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
		if _, err := bw.Write(body); err != nil {
			return nil, err
		}
		if err := bw.Close(); err != nil {
			return nil, err
		}
		if buf.Len() < len(body) {
			entry.Brotli = buf.Bytes()
		}
	}
	return entry, nil
}

func (b *Builder) gzipBytes(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := b.gzipPool.Get().(*gzip.Writer)
	defer b.gzipPool.Put(gw)

	gw.Reset(&buf)
	if _, err := gw.Write(body); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// extOf returns the lowercase extension without the leading dot.
func extOf(rel string) string {
	ext := strings.ToLower(filepath.Ext(rel))
	return strings.TrimPrefix(ext, ".")
}

func mimeByExtension(rel string) string {
	ext := filepath.Ext(rel)
	if ext == "" {
		return defaultMIME
	}
	if typ := mime.TypeByExtension(ext); typ != "" {
		return typ
	}
	return defaultMIME
}
