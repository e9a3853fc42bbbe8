// ABOUTME: Configuration loading and parsing for agentdash
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// MinJWTSecretLength is the minimum accepted length of auth.jwt_secret.
const MinJWTSecretLength = 32

// Config represents the complete agentdash configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	OAuth     OAuthConfig     `yaml:"oauth" toml:"oauth"`
	Cache     CacheConfig     `yaml:"cache" toml:"cache"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	WebAdmin  WebAdminConfig  `yaml:"webadmin" toml:"webadmin"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`

	ShutdownTimeout    time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Enable public Funnel (implies HTTPS)
	HTTPS     bool   `yaml:"https" toml:"https"`   // Serve tailnet-only HTTPS on :443
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds session, claim and admin-elevation settings
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`

	// BreakGlassUserIDs are profile IDs allowed to self-issue a short admin
	// grant. Matching is by ID only, never by email.
	BreakGlassUserIDs []string `yaml:"break_glass_user_ids" toml:"break_glass_user_ids"`

	SessionTTL    time.Duration `yaml:"-" toml:"-"`
	ClaimTTL      time.Duration `yaml:"-" toml:"-"`
	GrantMaxTTL   time.Duration `yaml:"-" toml:"-"`
	BreakGlassTTL time.Duration `yaml:"-" toml:"-"`
	InviteTTL     time.Duration `yaml:"-" toml:"-"`
	SweepInterval time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	SessionTTLRaw    string `yaml:"session_ttl" toml:"session_ttl"`
	ClaimTTLRaw      string `yaml:"claim_ttl" toml:"claim_ttl"`
	GrantMaxTTLRaw   string `yaml:"grant_max_ttl" toml:"grant_max_ttl"`
	BreakGlassTTLRaw string `yaml:"break_glass_ttl" toml:"break_glass_ttl"`
	InviteTTLRaw     string `yaml:"invite_ttl" toml:"invite_ttl"`
	SweepIntervalRaw string `yaml:"sweep_interval" toml:"sweep_interval"`
}

// IsBreakGlassUser reports whether userID may self-issue a break-glass grant.
func (a AuthConfig) IsBreakGlassUser(userID string) bool {
	if userID == "" {
		return false
	}
	for _, id := range a.BreakGlassUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// OAuthConfig configures a single generic OAuth2 provider with a userinfo endpoint
type OAuthConfig struct {
	Enabled      bool     `yaml:"enabled" toml:"enabled"`
	Provider     string   `yaml:"provider" toml:"provider"` // short name shown on the login page
	ClientID     string   `yaml:"client_id" toml:"client_id"`
	ClientSecret string   `yaml:"client_secret" toml:"client_secret"`
	AuthURL      string   `yaml:"auth_url" toml:"auth_url"`
	TokenURL     string   `yaml:"token_url" toml:"token_url"`
	UserInfoURL  string   `yaml:"userinfo_url" toml:"userinfo_url"`
	RedirectURL  string   `yaml:"redirect_url" toml:"redirect_url"`
	Scopes       []string `yaml:"scopes" toml:"scopes"`
}

// CacheConfig holds in-process cache settings
type CacheConfig struct {
	ProfileTTL     time.Duration `yaml:"-" toml:"-"`
	IdempotencyTTL time.Duration `yaml:"-" toml:"-"`

	// IdempotencyMaxKeys bounds the Idempotency-Key dedupe cache.
	IdempotencyMaxKeys int `yaml:"idempotency_max_keys" toml:"idempotency_max_keys"`

	ProfileTTLRaw     string `yaml:"profile_ttl" toml:"profile_ttl"`
	IdempotencyTTLRaw string `yaml:"idempotency_ttl" toml:"idempotency_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // "text" or "json"
}

// WebAdminConfig holds web UI configuration
type WebAdminConfig struct {
	// BaseURL is the external URL for the dashboard (used for invite links,
	// passkey relying party and OAuth redirects). If not set, it's derived
	// from server.http_addr or the tailscale hostname.
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

// Defaults applied when a field is left empty.
const (
	DefaultSessionTTL         = 7 * 24 * time.Hour
	DefaultClaimTTL           = 15 * time.Minute
	DefaultGrantMaxTTL        = time.Hour
	DefaultBreakGlassTTL      = 30 * time.Minute
	DefaultInviteTTL          = 7 * 24 * time.Hour
	DefaultSweepInterval      = 10 * time.Minute
	DefaultProfileTTL         = 5 * time.Minute
	DefaultIdempotencyTTL     = 10 * time.Minute
	DefaultIdempotencyMaxKeys = 10000
	DefaultShutdownTimeout    = 5 * time.Second
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, formatForPath(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Format is a configuration file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes, expands, defaults and validates configuration bytes.
func Parse(data []byte, format Format) (*Config, error) {
	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills zero values with their defaults.
func (c *Config) applyDefaults() {
	setDuration := func(d *time.Duration, def time.Duration) {
		if *d == 0 {
			*d = def
		}
	}

	setDuration(&c.Server.ShutdownTimeout, DefaultShutdownTimeout)
	setDuration(&c.Auth.SessionTTL, DefaultSessionTTL)
	setDuration(&c.Auth.ClaimTTL, DefaultClaimTTL)
	setDuration(&c.Auth.GrantMaxTTL, DefaultGrantMaxTTL)
	setDuration(&c.Auth.BreakGlassTTL, DefaultBreakGlassTTL)
	setDuration(&c.Auth.InviteTTL, DefaultInviteTTL)
	setDuration(&c.Auth.SweepInterval, DefaultSweepInterval)
	setDuration(&c.Cache.ProfileTTL, DefaultProfileTTL)
	setDuration(&c.Cache.IdempotencyTTL, DefaultIdempotencyTTL)

	if c.Cache.IdempotencyMaxKeys == 0 {
		c.Cache.IdempotencyMaxKeys = DefaultIdempotencyMaxKeys
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.OAuth.Provider == "" {
		c.OAuth.Provider = "oauth"
	}
	if len(c.OAuth.Scopes) == 0 {
		c.OAuth.Scopes = []string{"openid", "email", "profile"}
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d characters", MinJWTSecretLength)
	}

	if c.Auth.ClaimTTL > c.Auth.SessionTTL {
		return fmt.Errorf("auth.claim_ttl (%s) must not exceed auth.session_ttl (%s)", c.Auth.ClaimTTL, c.Auth.SessionTTL)
	}

	if c.Auth.BreakGlassTTL > c.Auth.GrantMaxTTL {
		return fmt.Errorf("auth.break_glass_ttl (%s) must not exceed auth.grant_max_ttl (%s)", c.Auth.BreakGlassTTL, c.Auth.GrantMaxTTL)
	}

	if c.Cache.IdempotencyMaxKeys < 0 {
		return fmt.Errorf("cache.idempotency_max_keys must not be negative")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}

	if c.OAuth.Enabled {
		required := []struct {
			name  string
			value string
		}{
			{"oauth.client_id", c.OAuth.ClientID},
			{"oauth.auth_url", c.OAuth.AuthURL},
			{"oauth.token_url", c.OAuth.TokenURL},
			{"oauth.userinfo_url", c.OAuth.UserInfoURL},
			{"oauth.redirect_url", c.OAuth.RedirectURL},
		}
		for _, r := range required {
			if r.value == "" {
				return fmt.Errorf("%s is required when oauth is enabled", r.name)
			}
		}
	}

	if c.WebAdmin.BaseURL != "" {
		u, err := url.Parse(c.WebAdmin.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("webadmin.base_url must be an absolute URL, got %q", c.WebAdmin.BaseURL)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"auth.session_ttl", cfg.Auth.SessionTTLRaw, &cfg.Auth.SessionTTL},
		{"auth.claim_ttl", cfg.Auth.ClaimTTLRaw, &cfg.Auth.ClaimTTL},
		{"auth.grant_max_ttl", cfg.Auth.GrantMaxTTLRaw, &cfg.Auth.GrantMaxTTL},
		{"auth.break_glass_ttl", cfg.Auth.BreakGlassTTLRaw, &cfg.Auth.BreakGlassTTL},
		{"auth.invite_ttl", cfg.Auth.InviteTTLRaw, &cfg.Auth.InviteTTL},
		{"auth.sweep_interval", cfg.Auth.SweepIntervalRaw, &cfg.Auth.SweepInterval},
		{"cache.profile_ttl", cfg.Cache.ProfileTTLRaw, &cfg.Cache.ProfileTTL},
		{"cache.idempotency_ttl", cfg.Cache.IdempotencyTTLRaw, &cfg.Cache.IdempotencyTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}

// BaseURL returns the external URL of the dashboard without a trailing slash.
func (c *Config) BaseURL() string {
	if c.WebAdmin.BaseURL != "" {
		return strings.TrimSuffix(c.WebAdmin.BaseURL, "/")
	}
	if c.Tailscale.Enabled {
		return "https://" + c.Tailscale.Hostname
	}
	addr := c.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") || strings.HasPrefix(addr, "0.0.0.0:") {
		_, port, _ := strings.Cut(addr, ":")
		addr = "localhost:" + port
	}
	return "http://" + addr
}
