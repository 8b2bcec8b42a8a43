package storage

import (
	"encoding/base64"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cuemby/hutch/pkg/errdefs"
	"github.com/cuemby/hutch/pkg/types"
)

const (
	acmeDirName      = "acme"
	challengeDirName = "challenge"

	// FinishMarker is the status marker created inside a version directory
	// when the version is finished. Directories without it are treated as
	// uploading after a restart.
	FinishMarker = ".finish"
)

// Layout owns the filesystem conventions under the file_dir root. It never
// touches the version index; callers decide what is visible.
type Layout struct {
	root string
}

// NewLayout returns a layout rooted at dir. The directory itself is created
// by EnsureBase.
func NewLayout(dir string) (*Layout, error) {
	if dir == "" {
		return nil, errdefs.ErrFatal.New("file_dir is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errdefs.ErrFatal.New("resolve file_dir %q: %v", dir, err)
	}
	return &Layout{root: abs}, nil
}

// Root returns the absolute root directory.
func (l *Layout) Root() string { return l.root }

// ACMEDir returns the directory holding certificates and account blobs.
func (l *Layout) ACMEDir() string { return filepath.Join(l.root, acmeDirName) }

// ChallengeDir returns the directory HTTP-01 token files are written to.
func (l *Layout) ChallengeDir() string {
	return filepath.Join(l.ACMEDir(), challengeDirName)
}

// EnsureBase creates the root, acme, and challenge directories.
func (l *Layout) EnsureBase() error {
	for _, dir := range []string{l.root, l.ACMEDir(), l.ChallengeDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errdefs.ErrIO.New("create %s: %v", dir, err)
		}
	}
	return nil
}

// DomainDir returns the directory holding all versions of a domain key.
func (l *Layout) DomainDir(key types.DomainKey) string {
	if key.Prefix == "" {
		return filepath.Join(l.root, key.Host)
	}
	return filepath.Join(l.root, key.Host, key.Prefix)
}

// VersionDir returns the directory of one version.
func (l *Layout) VersionDir(key types.DomainKey, version int64) string {
	return filepath.Join(l.DomainDir(key), strconv.FormatInt(version, 10))
}

// MarkerPath returns the finish marker path of one version.
func (l *Layout) MarkerPath(key types.DomainKey, version int64) string {
	return filepath.Join(l.VersionDir(key, version), FinishMarker)
}

// FilePath resolves an upload-relative path inside a version directory,
// rejecting escapes.
func (l *Layout) FilePath(key types.DomainKey, version int64, rel string) (string, error) {
	clean, err := CleanRelPath(rel)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.VersionDir(key, version), filepath.FromSlash(clean)), nil
}

// CertificatePath returns the PEM pair paths for a host in one ACME
// environment.
func (l *Layout) CertificatePath(env types.ACMEEnvironment, host string) (certPath, keyPath string) {
	base := "certificate_" + string(env) + "_" + host
	return filepath.Join(l.ACMEDir(), base+".pem"), filepath.Join(l.ACMEDir(), base+".key")
}

// AccountPath returns the account blob path for one (environment, directory
// URL, emails) tuple. The tuple is folded into the name so switching
// directories or contacts creates a fresh account instead of corrupting an
// existing one.
func (l *Layout) AccountPath(env types.ACMEEnvironment, directoryURL string, emails []string) string {
	payload := directoryURL + "," + strings.Join(emails, ",")
	encoded := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return filepath.Join(l.ACMEDir(), "account_"+string(env)+"_"+encoded)
}

// ChallengePath returns the token file path for one HTTP-01 challenge.
func (l *Layout) ChallengePath(host, token string) (string, error) {
	if err := validateChallengePart(host); err != nil {
		return "", err
	}
	if err := validateChallengePart(token); err != nil {
		return "", err
	}
	return filepath.Join(l.ChallengeDir(), host+"_"+token+".token"), nil
}

func validateChallengePart(s string) error {
	if s == "" {
		return errdefs.ErrBadRequest.New("empty challenge path component")
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return errdefs.ErrBadRequest.New("invalid challenge path component %q", s)
		}
	}
	if strings.Contains(s, "..") {
		return errdefs.ErrBadRequest.New("invalid challenge path component %q", s)
	}
	return nil
}

// CleanRelPath normalizes a slash-separated relative path and rejects
// anything that could escape its directory: absolute paths, backslashes,
// and dot-dot components.
func CleanRelPath(rel string) (string, error) {
	if rel == "" {
		return "", errdefs.ErrBadRequest.New("path is required")
	}
	if strings.ContainsRune(rel, '\\') {
		return "", errdefs.ErrBadRequest.New("path %q must use forward slashes", rel)
	}
	if strings.ContainsRune(rel, '\x00') {
		return "", errdefs.ErrBadRequest.New("path contains a NUL byte")
	}
	if strings.HasPrefix(rel, "/") {
		return "", errdefs.ErrBadRequest.New("path %q must be relative", rel)
	}

	clean := path.Clean(rel)
	if clean == "." || clean == "" {
		return "", errdefs.ErrBadRequest.New("path %q is empty after cleaning", rel)
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errdefs.ErrBadRequest.New("path %q escapes the version directory", rel)
	}
	return clean, nil
}

// ParseVersionName parses a directory name as a version number. Only plain
// positive integers are versions; anything else is not.
func ParseVersionName(name string) (int64, bool) {
	if name == "" || len(name) > 18 {
		return 0, false
	}
	for _, r := range name {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	v, err := strconv.ParseInt(name, 10, 64)
	if err != nil || v < 1 {
		return 0, false
	}
	return v, true
}
