package config

import (
	"net/url"
	"time"
)

// Config represents the complete application configuration.
//
// Values are layered by viper: built-in defaults, an optional YAML file,
// environment variables (SYNCRELAY_ prefix plus the legacy unprefixed
// names) and finally command line flags.
type Config struct {
	Server     ServerConfig    `mapstructure:"server" yaml:"server"`
	Store      StoreConfig     `mapstructure:"store" yaml:"store"`
	Relay      RelayConfig     `mapstructure:"relay" yaml:"relay"`
	RateLimits RateLimitConfig `mapstructure:"rate_limits" yaml:"rate_limits"`
	Sweep      SweepConfig     `mapstructure:"sweep" yaml:"sweep"`
	Verifier   VerifierConfig  `mapstructure:"verifier" yaml:"verifier"`
	Logging    LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Metrics    MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Health     HealthConfig    `mapstructure:"health" yaml:"health"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// TrustCFConnectingIP uses the CF-Connecting-IP header as the client
	// identity for rate limiting. On by default for Cloudflare-fronted
	// deployments; turn it off when clients reach the relay directly, since
	// they can then set the header themselves.
	TrustCFConnectingIP bool     `mapstructure:"trust_cf_connecting_ip" yaml:"trust_cf_connecting_ip"`
	CORSOrigins         []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// StoreConfig selects and locates the payload database.
type StoreConfig struct {
	// Driver is one of libsql, sqlite or postgres.
	Driver    string `mapstructure:"driver" yaml:"driver"`
	Path      string `mapstructure:"path" yaml:"path"`
	DataDir   string `mapstructure:"data_dir" yaml:"data_dir"`
	URL       string `mapstructure:"url" yaml:"url"`
	AuthToken string `mapstructure:"auth_token" yaml:"auth_token"`
}

// Upper bounds enforced by Validate. They keep derived values (TTL as a
// time.Duration, request body caps) far from integer overflow.
const (
	MaxTTLHours        = 24 * 365
	MaxPayloadBytesCap = 1 << 30
)

// RelayConfig bounds what the relay accepts and how long it keeps it.
type RelayConfig struct {
	TTLHours        int   `mapstructure:"ttl_hours" yaml:"ttl_hours"`
	MaxPayloadBytes int64 `mapstructure:"max_payload_bytes" yaml:"max_payload_bytes"`
	MinTokenLength  int   `mapstructure:"min_token_length" yaml:"min_token_length"`
}

// TTL returns the record lifetime measured from the last write.
func (r RelayConfig) TTL() time.Duration {
	return time.Duration(r.TTLHours) * time.Hour
}

// RateLimitConfig holds per-client fixed window limits.
type RateLimitConfig struct {
	WritesPerWindow int           `mapstructure:"writes_per_window" yaml:"writes_per_window"`
	ReadsPerWindow  int           `mapstructure:"reads_per_window" yaml:"reads_per_window"`
	Window          time.Duration `mapstructure:"window" yaml:"window"`
}

// SweepConfig controls the background expiry sweep.
type SweepConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// VerifierConfig configures the optional platform token check.
//
// When enabled, every relay operation must carry a signed platform token in
// Header. HMACSecret selects HS256; PublicKeyPath selects RS256/ES256 from a
// PEM file.
type VerifierConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	Header        string `mapstructure:"header" yaml:"header"`
	HMACSecret    string `mapstructure:"hmac_secret" yaml:"hmac_secret"`
	PublicKeyPath string `mapstructure:"public_key_path" yaml:"public_key_path"`
	Issuer        string `mapstructure:"issuer" yaml:"issuer"`
	Audience      string `mapstructure:"audience" yaml:"audience"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`

	// Profile selects the logging complexity level
	Profile string `mapstructure:"profile" yaml:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format).
	// Metrics are also proxied at /metrics on the main HTTP port.
	Port int `mapstructure:"port" yaml:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Redacted returns a copy safe for display.
func (c Config) Redacted() Config {
	out := c
	out.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	if out.Store.AuthToken != "" {
		out.Store.AuthToken = redactedValue
	}
	if parsed, err := url.Parse(out.Store.URL); err == nil && out.Store.URL != "" {
		out.Store.URL = parsed.Redacted()
	}
	if out.Verifier.HMACSecret != "" {
		out.Verifier.HMACSecret = redactedValue
	}
	return out
}

const redactedValue = "<redacted>"
