package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/hutch/pkg/errdefs"
	"github.com/cuemby/hutch/pkg/types"
)

// Duration wraps time.Duration with YAML support for "30s" / "720h" strings.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return errdefs.ErrBadRequest.New("invalid duration at line %d", value.Line)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errdefs.ErrBadRequest.New("invalid duration %q: %v", s, err)
	}
	if parsed < 0 {
		return errdefs.ErrBadRequest.New("duration %q must not be negative", s)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the underlying time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration document.
type Config struct {
	FileDir string    `yaml:"file_dir"`
	CORS    bool      `yaml:"cors"`
	Log     LogConfig `yaml:"log"`
	Admin   *Admin    `yaml:"admin_config"`
	HTTP    *HTTP     `yaml:"http"`
	HTTPS   *HTTPS    `yaml:"https"`
	Cache   CacheCfg  `yaml:"cache"`
	Domains []Domain  `yaml:"domains"`
}

// LogConfig selects level and output format for pkg/log.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Admin configures the management listener.
type Admin struct {
	Addr      string     `yaml:"addr"`
	Port      int        `yaml:"port"`
	Token     string     `yaml:"token"`
	RateLimit *RateLimit `yaml:"rate_limit"`

	// DeprecatedVersionDelete schedules the version GC job.
	DeprecatedVersionDelete *VersionDelete `yaml:"deprecated_version_delete"`
}

// RateLimit bounds request rates per client IP on the admin listener.
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// VersionDelete configures the scheduled garbage collection of old versions.
type VersionDelete struct {
	Cron       string `yaml:"cron"`
	MaxReserve int    `yaml:"max_reserve"`
}

// HTTP configures the plain listener.
type HTTP struct {
	Addr string `yaml:"addr"`
	Port int    `yaml:"port"`
}

// HTTPS configures the TLS listener. Exactly one of SSL or ACME provides
// certificates.
type HTTPS struct {
	Addr                string `yaml:"addr"`
	Port                int    `yaml:"port"`
	RedirectToHTTPS     bool   `yaml:"http_redirect_to_https"`
	SSL                 *SSL   `yaml:"ssl"`
	ACME                *ACME  `yaml:"acme"`
	MaxConnections      int    `yaml:"max_connections"`
	DrainTimeoutSeconds int    `yaml:"drain_timeout_seconds"`

	// SelfSignOnEmpty serves a self-signed default certificate until the
	// first ACME order lands, instead of failing handshakes.
	SelfSignOnEmpty bool `yaml:"self_sign_on_empty"`
}

// SSL points at an externally managed certificate pair.
type SSL struct {
	Public  string `yaml:"public"`
	Private string `yaml:"private"`
}

// ACME configures automatic issuance.
type ACME struct {
	Emails   []string `yaml:"emails"`
	Type     string   `yaml:"acme_type"`
	Dir      string   `yaml:"dir"`
	CICAPath string   `yaml:"ci_ca_path"`
}

// CacheCfg configures snapshot building.
type CacheCfg struct {
	// MaxSize is the inline threshold in bytes; files at or under it are
	// held in memory, larger files stay on disk. 0 forces everything on
	// disk.
	MaxSize     *int64            `yaml:"max_size"`
	Compression *bool             `yaml:"compression"`
	ClientCache []ClientCacheRule `yaml:"client_cache"`
}

// ClientCacheRule maps a set of extensions to a client cache lifetime.
// A zero expire means "no-cache".
type ClientCacheRule struct {
	Extensions []string `yaml:"extension_names"`
	Expire     Duration `yaml:"expire"`
}

// DomainHTTPS holds per-host TLS overrides.
type DomainHTTPS struct {
	RedirectToHTTPS *bool `yaml:"http_redirect_to_https"`
	SSL             *SSL  `yaml:"ssl"`
	DisableACME     bool  `yaml:"disable_acme"`
}

// Domain is one configured virtual host.
type Domain struct {
	Domain string       `yaml:"domain"`
	Alias  []string     `yaml:"alias"`
	CORS   *bool        `yaml:"cors"`
	HTTPS  *DomainHTTPS `yaml:"https"`
	Cache  *CacheCfg    `yaml:"cache"`
}

const (
	defaultAdminAddr    = "127.0.0.1"
	defaultListenAddr   = "0.0.0.0"
	defaultMaxInline    = int64(128 << 10)
	defaultDrainSeconds = 30
)

// Load reads, decodes, defaults, env-overrides, and validates a config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.ErrFatal.New("read config %s: %v", path, err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, errdefs.ErrFatal.New("parse config %s: %v", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Admin != nil && c.Admin.Addr == "" {
		c.Admin.Addr = defaultAdminAddr
	}
	if c.HTTP != nil && c.HTTP.Addr == "" {
		c.HTTP.Addr = defaultListenAddr
	}
	if c.HTTPS != nil {
		if c.HTTPS.Addr == "" {
			c.HTTPS.Addr = defaultListenAddr
		}
		if c.HTTPS.DrainTimeoutSeconds == 0 {
			c.HTTPS.DrainTimeoutSeconds = defaultDrainSeconds
		}
	}
	if c.Cache.MaxSize == nil {
		v := defaultMaxInline
		c.Cache.MaxSize = &v
	}
	if c.Cache.Compression == nil {
		v := true
		c.Cache.Compression = &v
	}
}

// applyEnv overrides scalar settings from HUTCH_* environment variables.
func (c *Config) applyEnv() error {
	if v := os.Getenv("HUTCH_FILE_DIR"); v != "" {
		c.FileDir = v
	}
	if v := os.Getenv("HUTCH_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("HUTCH_ADMIN_TOKEN"); v != "" {
		if c.Admin == nil {
			c.Admin = &Admin{Addr: defaultAdminAddr}
		}
		c.Admin.Token = v
	}

	for _, override := range []struct {
		env  string
		dest *int
	}{
		{"HUTCH_ADMIN_PORT", adminPort(c)},
		{"HUTCH_HTTP_PORT", httpPort(c)},
		{"HUTCH_HTTPS_PORT", httpsPort(c)},
	} {
		v := os.Getenv(override.env)
		if v == "" || override.dest == nil {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return errdefs.ErrFatal.New("%s=%q is not a port number", override.env, v)
		}
		*override.dest = n
	}
	return nil
}

func adminPort(c *Config) *int {
	if c.Admin == nil {
		return nil
	}
	return &c.Admin.Port
}

func httpPort(c *Config) *int {
	if c.HTTP == nil {
		return nil
	}
	return &c.HTTP.Port
}

func httpsPort(c *Config) *int {
	if c.HTTPS == nil {
		return nil
	}
	return &c.HTTPS.Port
}

// Validate checks the document for fatal misconfiguration.
func (c *Config) Validate() error {
	if c.FileDir == "" {
		return errdefs.ErrFatal.New("file_dir is required")
	}
	if c.HTTP == nil && c.HTTPS == nil && c.Admin == nil {
		return errdefs.ErrFatal.New("no listener configured: set http, https, or admin_config")
	}

	if c.Admin != nil {
		if err := validPort(c.Admin.Port, "admin_config.port"); err != nil {
			return err
		}
		if c.Admin.Token == "" {
			return errdefs.ErrFatal.New("admin_config.token is required")
		}
		if vd := c.Admin.DeprecatedVersionDelete; vd != nil {
			if _, err := cron.ParseStandard(vd.Cron); err != nil {
				return errdefs.ErrFatal.New("deprecated_version_delete.cron %q: %v", vd.Cron, err)
			}
			if vd.MaxReserve < 1 {
				return errdefs.ErrFatal.New("deprecated_version_delete.max_reserve must be >= 1, got %d", vd.MaxReserve)
			}
		}
		if rl := c.Admin.RateLimit; rl != nil {
			if rl.RequestsPerSecond <= 0 || rl.Burst <= 0 {
				return errdefs.ErrFatal.New("admin_config.rate_limit requires positive requests_per_second and burst")
			}
		}
	}

	if c.HTTP != nil {
		if err := validPort(c.HTTP.Port, "http.port"); err != nil {
			return err
		}
	}

	if c.HTTPS != nil {
		if err := validPort(c.HTTPS.Port, "https.port"); err != nil {
			return err
		}
		if c.HTTPS.SSL != nil && c.HTTPS.ACME != nil {
			return errdefs.ErrFatal.New("https.ssl and https.acme are mutually exclusive")
		}
		if c.HTTPS.SSL == nil && c.HTTPS.ACME == nil && !c.anyDomainSSL() {
			return errdefs.ErrFatal.New("https requires ssl, acme, or per-domain ssl")
		}
		if ssl := c.HTTPS.SSL; ssl != nil {
			if ssl.Public == "" || ssl.Private == "" {
				return errdefs.ErrFatal.New("https.ssl requires both public and private paths")
			}
		}
		if acme := c.HTTPS.ACME; acme != nil {
			if len(acme.Emails) == 0 {
				return errdefs.ErrFatal.New("https.acme.emails must not be empty")
			}
			env, err := types.ParseACMEEnvironment(acme.Type)
			if err != nil {
				return errdefs.ErrFatal.Wrap(err)
			}
			if env == types.ACMECI && acme.Dir == "" {
				return errdefs.ErrFatal.New("https.acme.dir is required for acme_type ci")
			}
			if env != types.ACMECI && acme.CICAPath != "" {
				return errdefs.ErrFatal.New("https.acme.ci_ca_path is only valid for acme_type ci")
			}
		}
	}

	if err := c.validateDomains(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDomains() error {
	hosts := map[string]bool{}
	aliases := map[string]string{}
	for _, d := range c.Domains {
		if d.Domain == "" {
			return errdefs.ErrFatal.New("domains[].domain is required")
		}
		if strings.Contains(d.Domain, "/") {
			return errdefs.ErrFatal.New("domains[].domain %q must be a host, not a domain key", d.Domain)
		}
		if hosts[d.Domain] {
			return errdefs.ErrFatal.New("duplicate domain %q", d.Domain)
		}
		hosts[d.Domain] = true
		for _, a := range d.Alias {
			if a == "" || strings.Contains(a, "/") {
				return errdefs.ErrFatal.New("alias %q of %q must be a host name", a, d.Domain)
			}
			if prior, ok := aliases[a]; ok {
				return errdefs.ErrFatal.New("alias %q claimed by both %q and %q", a, prior, d.Domain)
			}
			aliases[a] = d.Domain
		}
		if d.HTTPS != nil && d.HTTPS.SSL != nil {
			if d.HTTPS.SSL.Public == "" || d.HTTPS.SSL.Private == "" {
				return errdefs.ErrFatal.New("domain %q ssl requires both public and private paths", d.Domain)
			}
		}
	}
	for a := range aliases {
		if hosts[a] {
			return errdefs.ErrFatal.New("alias %q is also a primary domain", a)
		}
	}
	return nil
}

func (c *Config) anyDomainSSL() bool {
	for _, d := range c.Domains {
		if d.HTTPS != nil && d.HTTPS.SSL != nil {
			return true
		}
	}
	return false
}

func validPort(p int, field string) error {
	if p < 1 || p > 65535 {
		return errdefs.ErrFatal.New("%s must be in 1..65535, got %d", field, p)
	}
	return nil
}

// Aliases returns the alias to primary host table.
func (c *Config) Aliases() map[string]string {
	out := map[string]string{}
	for _, d := range c.Domains {
		for _, a := range d.Alias {
			out[a] = d.Domain
		}
	}
	return out
}

// AliasesOf returns the alias names pointing at host.
func (c *Config) AliasesOf(host string) []string {
	var out []string
	for _, d := range c.Domains {
		if d.Domain == host {
			out = append(out, d.Alias...)
		}
	}
	return out
}

// DisabledACMEHosts returns hosts that must never be ordered from the CA:
// explicit disable_acme plus hosts with external certificates.
func (c *Config) DisabledACMEHosts() map[string]bool {
	out := map[string]bool{}
	for _, d := range c.Domains {
		if d.HTTPS != nil && (d.HTTPS.DisableACME || d.HTTPS.SSL != nil) {
			out[d.Domain] = true
		}
	}
	return out
}

// DomainSSL returns per-host external certificate paths.
func (c *Config) DomainSSL() map[string]SSL {
	out := map[string]SSL{}
	for _, d := range c.Domains {
		if d.HTTPS != nil && d.HTTPS.SSL != nil {
			out[d.Domain] = *d.HTTPS.SSL
		}
	}
	return out
}

// Settings is the per-host effective view after merging domain overrides
// with root values.
type Settings struct {
	Host            string
	CORS            bool
	RedirectToHTTPS bool
	MaxInline       int64
	Compression     bool
	ClientCache     []ClientCacheRule
}

// Resolved merges the root config with the domain entry for host, if any.
func (c *Config) Resolved(host string) Settings {
	s := Settings{
		Host:        host,
		CORS:        c.CORS,
		MaxInline:   *c.Cache.MaxSize,
		Compression: *c.Cache.Compression,
		ClientCache: c.Cache.ClientCache,
	}
	if c.HTTPS != nil {
		s.RedirectToHTTPS = c.HTTPS.RedirectToHTTPS
	}

	for _, d := range c.Domains {
		if d.Domain != host {
			continue
		}
		if d.CORS != nil {
			s.CORS = *d.CORS
		}
		if d.HTTPS != nil && d.HTTPS.RedirectToHTTPS != nil {
			s.RedirectToHTTPS = *d.HTTPS.RedirectToHTTPS
		}
		if d.Cache != nil {
			if d.Cache.MaxSize != nil {
				s.MaxInline = *d.Cache.MaxSize
			}
			if d.Cache.Compression != nil {
				s.Compression = *d.Cache.Compression
			}
			if d.Cache.ClientCache != nil {
				s.ClientCache = d.Cache.ClientCache
			}
		}
		break
	}
	return s
}

// DrainTimeout returns the listener drain deadline for reload and shutdown.
func (c *Config) DrainTimeout() time.Duration {
	if c.HTTPS != nil && c.HTTPS.DrainTimeoutSeconds > 0 {
		return time.Duration(c.HTTPS.DrainTimeoutSeconds) * time.Second
	}
	return defaultDrainSeconds * time.Second
}

// AdminAddr returns the admin listen address as host:port.
func (c *Config) AdminAddr() string {
	if c.Admin == nil {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Admin.Addr, c.Admin.Port)
}

// HTTPAddr returns the plain listen address, or "" when disabled.
func (c *Config) HTTPAddr() string {
	if c.HTTP == nil {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.HTTP.Addr, c.HTTP.Port)
}

// HTTPSAddr returns the TLS listen address, or "" when disabled.
func (c *Config) HTTPSAddr() string {
	if c.HTTPS == nil {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.HTTPS.Addr, c.HTTPS.Port)
}
