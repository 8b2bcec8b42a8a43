package server

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/hutch/pkg/cache"
)

// serveEntry writes one file entry honoring validators, a single byte
// range, and compression negotiation. cacheControl is the policy header
// value; empty means no header.
func serveEntry(w http.ResponseWriter, r *http.Request, entry *cache.Entry, cacheControl string) {
	etag := fmt.Sprintf(`"%x-%x"`, entry.ModTime.Unix(), entry.Size)

	h := w.Header()
	h.Set("Content-Type", entry.MIME)
	h.Set("ETag", etag)
	h.Set("Last-Modified", entry.ModTime.UTC().Format(http.TimeFormat))
	if cacheControl != "" {
		h.Set("Cache-Control", cacheControl)
	}

	// Preconditions first: If-Match / If-Unmodified-Since gate writes from
	// stale clients with 412.
	if im := r.Header.Get("If-Match"); im != "" && !etagMatches(im, etag) {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	if ius := r.Header.Get("If-Unmodified-Since"); ius != "" {
		if t, err := http.ParseTime(ius); err == nil && entry.ModTime.Truncate(time.Second).After(t) {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
	}

	// Cache validators: If-None-Match wins over If-Modified-Since.
	if inm := r.Header.Get("If-None-Match"); inm != "" {
		if etagMatches(inm, etag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	} else if ims := r.Header.Get("If-Modified-Since"); ims != "" {
		if t, err := http.ParseTime(ims); err == nil && !entry.ModTime.Truncate(time.Second).After(t) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	// A range request is served from the original bytes; compression is
	// disabled so offsets address the uncompressed representation.
	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		start, length, ok, satisfiable := parseRange(rangeHeader, entry.Size)
		if ok {
			if !satisfiable {
				h.Set("Content-Range", fmt.Sprintf("bytes */%d", entry.Size))
				w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
				return
			}
			h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, start+length-1, entry.Size))
			h.Set("Content-Length", strconv.FormatInt(length, 10))
			h.Set("Accept-Ranges", "bytes")
			w.WriteHeader(http.StatusPartialContent)
			if r.Method != http.MethodHead {
				writeRange(w, entry, start, length)
			}
			return
		}
		// Malformed range headers fall through to a full response.
	}

	body := entry.Body
	encoding := negotiateEncoding(r, entry)
	switch encoding {
	case "br":
		body = entry.Brotli
	case "gzip":
		body = entry.Gzip
	}
	if encoding != "" {
		h.Set("Content-Encoding", encoding)
		h.Set("Vary", "Accept-Encoding")
		h.Set("Content-Length", strconv.Itoa(len(body)))
	} else {
		h.Set("Content-Length", strconv.FormatInt(entry.Size, 10))
	}
	h.Set("Accept-Ranges", "bytes")

	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if entry.Inline() {
		w.Write(body)
		return
	}
	f, err := os.Open(entry.DiskPath)
	if err != nil {
		// Headers are gone; the best we can do is cut the body short.
		return
	}
	defer f.Close()
	io.Copy(w, f)
}

// negotiateEncoding picks the precompressed body matching Accept-Encoding,
// preferring brotli. Returns "" to serve the original bytes.
func negotiateEncoding(r *http.Request, entry *cache.Entry) string {
	accept := r.Header.Get("Accept-Encoding")
	if accept == "" {
		return ""
	}
	if entry.Brotli != nil && acceptsEncoding(accept, "br") {
		return "br"
	}
	if entry.Gzip != nil && acceptsEncoding(accept, "gzip") {
		return "gzip"
	}
	return ""
}

func acceptsEncoding(accept, coding string) bool {
	for _, part := range strings.Split(accept, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(name), coding) {
			continue
		}
		// q=0 means explicitly refused.
		if q, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			if v, err := strconv.ParseFloat(strings.TrimSpace(q), 64); err == nil && v == 0 {
				return false
			}
		}
		return true
	}
	return false
}

// etagMatches implements the weak comparison used for If-Match and
// If-None-Match against our single strong validator.
func etagMatches(header, etag string) bool {
	if strings.TrimSpace(header) == "*" {
		return true
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == etag {
			return true
		}
	}
	return false
}

// parseRange parses a single byte range against size. ok is false for
// anything this server does not honor (multiple ranges, other units,
// malformed input); satisfiable is false for ranges past the end.
func parseRange(header string, size int64) (start, length int64, ok, satisfiable bool) {
	spec, found := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !found || strings.Contains(spec, ",") {
		return 0, 0, false, false
	}
	first, last, found := strings.Cut(strings.TrimSpace(spec), "-")
	if !found {
		return 0, 0, false, false
	}

	if first == "" {
		// Suffix form: last n bytes.
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false, false
		}
		if n > size {
			n = size
		}
		if size == 0 {
			return 0, 0, true, false
		}
		return size - n, n, true, true
	}

	startVal, err := strconv.ParseInt(first, 10, 64)
	if err != nil || startVal < 0 {
		return 0, 0, false, false
	}
	if startVal >= size {
		return 0, 0, true, false
	}
	if last == "" {
		return startVal, size - startVal, true, true
	}
	endVal, err := strconv.ParseInt(last, 10, 64)
	if err != nil || endVal < startVal {
		return 0, 0, false, false
	}
	if endVal >= size {
		endVal = size - 1
	}
	return startVal, endVal - startVal + 1, true, true
}

func writeRange(w io.Writer, entry *cache.Entry, start, length int64) {
	if entry.Inline() {
		w.Write(entry.Body[start : start+length])
		return
	}
	f, err := os.Open(entry.DiskPath)
	if err != nil {
		return
	}
	defer f.Close()
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return
	}
	io.CopyN(w, f, length)
}
