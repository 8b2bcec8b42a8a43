package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/hutch/pkg/errdefs"
)

// DomainKey identifies one served site: a virtual host plus an optional
// leading path prefix for multi-tenant hosts.
type DomainKey struct {
	Host   string
	Prefix string
}

// ParseDomainKey parses the canonical "<host>[/<prefix>]" form used by the
// admin API and configuration.
func ParseDomainKey(s string) (DomainKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DomainKey{}, errdefs.ErrBadRequest.New("domain is required")
	}

	host, prefix, found := strings.Cut(s, "/")
	if host == "" {
		return DomainKey{}, errdefs.ErrBadRequest.New("domain %q has an empty host", s)
	}
	if strings.ContainsAny(host, " \t") {
		return DomainKey{}, errdefs.ErrBadRequest.New("domain host %q contains whitespace", host)
	}
	if found {
		if prefix == "" {
			return DomainKey{}, errdefs.ErrBadRequest.New("domain %q has an empty prefix", s)
		}
		if strings.Contains(prefix, "/") {
			return DomainKey{}, errdefs.ErrBadRequest.New("domain prefix %q must be a single path segment", prefix)
		}
		if prefix == "." || prefix == ".." {
			return DomainKey{}, errdefs.ErrBadRequest.New("domain prefix %q is not allowed", prefix)
		}
	}

	return DomainKey{Host: host, Prefix: prefix}, nil
}

// String returns the canonical "<host>[/<prefix>]" form.
func (k DomainKey) String() string {
	if k.Prefix == "" {
		return k.Host
	}
	return k.Host + "/" + k.Prefix
}

// IsRoot reports whether the key serves the whole host (no prefix).
func (k DomainKey) IsRoot() bool { return k.Prefix == "" }

// VersionStatus is the lifecycle state of one uploaded version.
type VersionStatus int

const (
	// StatusUploading marks a version that is still receiving files. It is
	// invisible to serving and cannot be activated.
	StatusUploading VersionStatus = 0

	// StatusFinish marks an immutable version eligible for activation.
	StatusFinish VersionStatus = 1
)

// ParseVersionStatus validates the wire encoding used by the admin API.
func ParseVersionStatus(v int) (VersionStatus, error) {
	switch v {
	case 0:
		return StatusUploading, nil
	case 1:
		return StatusFinish, nil
	default:
		return 0, errdefs.ErrBadRequest.New("status must be 0 (uploading) or 1 (finish), got %d", v)
	}
}

func (s VersionStatus) String() string {
	switch s {
	case StatusUploading:
		return "Uploading"
	case StatusFinish:
		return "Finish"
	default:
		return fmt.Sprintf("VersionStatus(%d)", int(s))
	}
}

// MarshalJSON emits the human-readable name; the numeric wire form is only
// accepted on input.
func (s VersionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts both the numeric admin wire form (0/1) and the
// human-readable name.
func (s *VersionStatus) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		parsed, perr := ParseVersionStatus(n)
		if perr != nil {
			return perr
		}
		*s = parsed
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return errdefs.ErrBadRequest.New("invalid version status %s", string(data))
	}
	switch strings.ToLower(str) {
	case "uploading":
		*s = StatusUploading
	case "finish":
		*s = StatusFinish
	default:
		return errdefs.ErrBadRequest.New("invalid version status %q", str)
	}
	return nil
}

// UploadPositionStatus describes what an upload-position allocation found.
type UploadPositionStatus string

const (
	// PositionNewDomain: the domain key did not exist before this call.
	PositionNewDomain UploadPositionStatus = "NewDomain"

	// PositionNewVersion: a fresh version number was allocated.
	PositionNewVersion UploadPositionStatus = "NewVersion"

	// PositionInUploading: an open uploading version already existed and
	// was returned instead of allocating a new one.
	PositionInUploading UploadPositionStatus = "InUploading"
)

// UploadPosition is the admin API answer for where the next upload goes.
type UploadPosition struct {
	Path    string               `json:"path"`
	Version int64                `json:"version"`
	Status  UploadPositionStatus `json:"status"`
}

// Format selects the upload-position response encoding.
type Format string

const (
	FormatPath Format = "Path"
	FormatJSON Format = "Json"
)

// ParseFormat parses the ?format= query value; the default is Path.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "path":
		return FormatPath, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", errdefs.ErrBadRequest.New("format must be Path or Json, got %q", s)
	}
}

// VersionInfo is one version entry in a DomainInfo listing.
type VersionInfo struct {
	Version int64         `json:"version"`
	Status  VersionStatus `json:"status"`
}

// DomainInfo is the admin status view of one domain key.
type DomainInfo struct {
	Domain         string        `json:"domain"`
	CurrentVersion *int64        `json:"current_version,omitempty"`
	Versions       []VersionInfo `json:"versions"`
}

// FileMeta describes one uploaded file for client-side diffing.
type FileMeta struct {
	Path   string `json:"path"`
	MD5    string `json:"md5"`
	Length int64  `json:"length"`
}

// CertInfo is the admin inspection view of one loaded certificate.
type CertInfo struct {
	Host      string    `json:"host"`
	NotBefore time.Time `json:"not_before"`
	NotAfter  time.Time `json:"not_after"`
	SANs      []string  `json:"sans"`
	Source    string    `json:"source"` // "acme", "external", or "self-signed"
}

// ACMEEnvironment selects the directory endpoint certificates are ordered
// from. The environment is part of on-disk certificate and account names so
// staging material is never served in production.
type ACMEEnvironment string

const (
	ACMEStage ACMEEnvironment = "stage"
	ACMEProd  ACMEEnvironment = "prod"
	ACMECI    ACMEEnvironment = "ci"
)

// ParseACMEEnvironment validates the acme_type configuration value.
func ParseACMEEnvironment(s string) (ACMEEnvironment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stage":
		return ACMEStage, nil
	case "prod":
		return ACMEProd, nil
	case "ci":
		return ACMECI, nil
	default:
		return "", errdefs.ErrBadRequest.New("acme_type must be stage, prod, or ci, got %q", s)
	}
}
