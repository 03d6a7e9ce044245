package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Presentation modes for denied requests.
const (
	ModeForm     = "form"     // hosted login page, cookie session
	ModeBasic    = "basic"    // browser-native Basic challenge only
	ModeCombined = "combined" // Basic challenge that also establishes a cookie session
)

// OpsListenOff as server.ops_listen turns the operational listener off.
const OpsListenOff = "off"

var (
	ErrInvalidMode = errors.New("auth.mode must be one of form, basic, combined")
	ErrNoOrigin    = errors.New("origin.url or origin.static_dir required")
)

type ServerCfg struct {
	Listen         string `yaml:"listen"`
	// OpsListen serves /healthz, /readyz and /metrics, kept off the gated
	// listener. "off" disables it.
	OpsListen      string `yaml:"ops_listen"`
	ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms"`
	IdleTimeoutMs  int    `yaml:"idle_timeout_ms"`
	TLSEnabled     bool   `yaml:"tls_enabled"`
	TLSCertFile    string `yaml:"tls_cert_file"`
	TLSKeyFile     string `yaml:"tls_key_file"`

	// TrustedProxies lists CIDRs whose X-Forwarded-For is believed.
	TrustedProxies    []string     `yaml:"trusted_proxies"`
	TrustedProxyCIDRs []*net.IPNet `yaml:"-"`
}

type SiteCfg struct {
	Name string `yaml:"name"` // shown on the login page and used as the Basic realm
}

type AuthCfg struct {
	Username   string `yaml:"username"`
	Password   string `yaml:"password"` // empty disables the gate
	Mode       string `yaml:"mode"`     // form | basic | combined
	LoginPath  string `yaml:"login_path"`
	LogoutPath string `yaml:"logout_path"`
}

type CookieCfg struct {
	Name      string `yaml:"name"`
	Domain    string `yaml:"domain"`
	Path      string `yaml:"path"`
	MaxAgeSec int    `yaml:"max_age_sec"`
	SameSite  string `yaml:"same_site"` // Lax | Strict | None
	Secure    bool   `yaml:"secure"`
	HTTPOnly  bool   `yaml:"http_only"`
}

type BreakerCfg struct {
	FailureThreshold int `yaml:"failure_threshold"` // 0 disables the breaker
	SuccessThreshold int `yaml:"success_threshold"`
	CooldownMs       int `yaml:"cooldown_ms"`
}

type OriginCfg struct {
	URL                 string     `yaml:"url"`
	StaticDir           string     `yaml:"static_dir"`
	TimeoutMs           int        `yaml:"timeout_ms"`
	IdleTimeoutMs       int        `yaml:"idle_timeout_ms"`
	MaxIdleConns        int        `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int        `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int        `yaml:"max_conns_per_host"`
	Breaker             BreakerCfg `yaml:"breaker"`
}

type LoggingCfg struct {
	Level     string `yaml:"level"`       // info|debug
	IPHashKey string `yaml:"ip_hash_key"` // HMAC key for client fingerprints; random when empty
}

type Config struct {
	Server  ServerCfg  `yaml:"server"`
	Site    SiteCfg    `yaml:"site"`
	Auth    AuthCfg    `yaml:"auth"`
	Cookie  CookieCfg  `yaml:"cookie"`
	Origin  OriginCfg  `yaml:"origin"`
	Logging LoggingCfg `yaml:"logging"`
}

// Default returns a config with every field at its default. Booleans that
// default to true are seeded here so a YAML file can still turn them off.
func Default() *Config {
	cfg := seeded()
	cfg.applyDefaults()
	return cfg
}

func seeded() *Config {
	return &Config{
		Cookie: CookieCfg{
			Secure:   true,
			HTTPOnly: true,
		},
	}
}

// Load reads the YAML file at path (if any), applies environment overrides
// and fills defaults. An empty path or a missing file yields an
// environment-only configuration.
func Load(path string) (*Config, error) {
	cfg := seeded()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}
	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()
	for _, cidr := range cfg.Server.TrustedProxies {
		_, ipNet, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", cidr, err)
		}
		cfg.Server.TrustedProxyCIDRs = append(cfg.Server.TrustedProxyCIDRs, ipNet)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("SITE_USERNAME", &c.Auth.Username)
	// An explicitly empty SITE_PASSWORD disables the gate even when the
	// file sets a password.
	if v, ok := lookup("SITE_PASSWORD"); ok {
		c.Auth.Password = v
	}
	set("SITE_NAME", &c.Site.Name)
	set("SITEGATE_MODE", &c.Auth.Mode)
	set("SITEGATE_LISTEN", &c.Server.Listen)
	set("SITEGATE_OPS_LISTEN", &c.Server.OpsListen)
	set("SITEGATE_ORIGIN", &c.Origin.URL)
	set("SITEGATE_STATIC_DIR", &c.Origin.StaticDir)
	set("SITEGATE_LOG_LEVEL", &c.Logging.Level)
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.OpsListen == "" {
		c.Server.OpsListen = "127.0.0.1:9090"
	}
	if c.Server.ReadTimeoutMs == 0 {
		c.Server.ReadTimeoutMs = 10000
	}
	if c.Server.WriteTimeoutMs == 0 {
		c.Server.WriteTimeoutMs = 30000
	}
	if c.Server.IdleTimeoutMs == 0 {
		c.Server.IdleTimeoutMs = 60000
	}
	if c.Site.Name == "" {
		c.Site.Name = "Aiva Docs"
	}
	if c.Auth.Username == "" {
		c.Auth.Username = "admin"
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = ModeForm
	}
	c.Auth.Mode = strings.ToLower(c.Auth.Mode)
	if c.Auth.LoginPath == "" {
		c.Auth.LoginPath = "/__auth/login"
	}
	if c.Auth.LogoutPath == "" {
		c.Auth.LogoutPath = "/__auth/logout"
	}
	if c.Cookie.Name == "" {
		c.Cookie.Name = "__aiva_auth"
	}
	if c.Cookie.Path == "" {
		c.Cookie.Path = "/"
	}
	if c.Cookie.MaxAgeSec == 0 {
		c.Cookie.MaxAgeSec = 86400
	}
	if c.Cookie.SameSite == "" {
		c.Cookie.SameSite = "Lax"
	}
	if c.Origin.TimeoutMs == 0 {
		c.Origin.TimeoutMs = 15000
	}
	if c.Origin.IdleTimeoutMs == 0 {
		c.Origin.IdleTimeoutMs = 90000
	}
	if c.Origin.MaxIdleConns == 0 {
		c.Origin.MaxIdleConns = 100
	}
	if c.Origin.MaxIdleConnsPerHost == 0 {
		c.Origin.MaxIdleConnsPerHost = 32
	}
	if c.Origin.Breaker.SuccessThreshold == 0 {
		c.Origin.Breaker.SuccessThreshold = 1
	}
	if c.Origin.Breaker.CooldownMs == 0 {
		c.Origin.Breaker.CooldownMs = 10000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// GateEnabled reports whether a password is configured. Without one every
// request is forwarded untouched.
func (c *Config) GateEnabled() bool {
	return c.Auth.Password != ""
}

// OpsEnabled reports whether the operational listener runs.
func (c *Config) OpsEnabled() bool {
	return c.Server.OpsListen != OpsListenOff
}

func (c *Config) Validate() error {
	switch c.Auth.Mode {
	case ModeForm, ModeBasic, ModeCombined:
	default:
		return fmt.Errorf("%w (got %q)", ErrInvalidMode, c.Auth.Mode)
	}
	if !strings.HasPrefix(c.Auth.LoginPath, "/") || !strings.HasPrefix(c.Auth.LogoutPath, "/") {
		return errors.New("auth.login_path and auth.logout_path must be absolute paths")
	}
	if c.Auth.LoginPath == c.Auth.LogoutPath {
		return errors.New("auth.login_path and auth.logout_path must differ")
	}
	switch strings.ToLower(c.Cookie.SameSite) {
	case "lax", "strict", "none":
	default:
		return errors.New("cookie.same_site must be 'Lax', 'Strict' or 'None'")
	}
	if c.Cookie.MaxAgeSec < 0 {
		return errors.New("cookie.max_age_sec must be positive")
	}
	if strings.ContainsAny(c.Cookie.Name, " \t;,=\"") {
		return fmt.Errorf("cookie.name %q contains invalid characters", c.Cookie.Name)
	}

	switch {
	case c.Origin.URL == "" && c.Origin.StaticDir == "":
		return ErrNoOrigin
	case c.Origin.URL != "" && c.Origin.StaticDir != "":
		return errors.New("origin.url and origin.static_dir are mutually exclusive")
	case c.Origin.URL != "":
		u, err := url.Parse(c.Origin.URL)
		if err != nil {
			return fmt.Errorf("invalid origin.url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("origin.url must be http or https (got %q)", c.Origin.URL)
		}
		if u.Host == "" {
			return fmt.Errorf("origin.url %q has no host", c.Origin.URL)
		}
	}
	if c.Origin.Breaker.FailureThreshold < 0 {
		return errors.New("origin.breaker.failure_threshold must be >= 0")
	}

	if c.OpsEnabled() && c.Server.OpsListen == c.Server.Listen {
		return errors.New("server.ops_listen must differ from server.listen")
	}
	if c.Server.TLSEnabled && (c.Server.TLSCertFile == "" || c.Server.TLSKeyFile == "") {
		return errors.New("server.tls_cert_file and server.tls_key_file required when tls_enabled")
	}
	return nil
}
