// Package config provides centralized configuration management for syncrelay.
//
// Layering follows viper precedence: defaults set by SetDefaults, an optional
// YAML config file, environment variables and bound command line flags.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// AppName is used for XDG directories and the default database file.
	AppName = "syncrelay"

	// EnvPrefix prefixes every environment override (SYNCRELAY_SERVER_PORT).
	EnvPrefix = "SYNCRELAY"

	storeFileName = AppName + ".db"
)

// Store drivers accepted by store.driver.
const (
	DriverLibsql   = "libsql"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// legacyEnv maps config keys to the unprefixed environment names of
// existing relay deployments.
var legacyEnv = map[string][]string{
	"server.port":             {"PORT"},
	"store.path":              {"DATABASE_PATH"},
	"relay.ttl_hours":         {"DATA_TTL_HOURS"},
	"relay.max_payload_bytes": {"MAX_PAYLOAD_BYTES"},
}

// SetDefaults registers default configuration values on v.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.trust_cf_connecting_ip", true)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Store defaults
	v.SetDefault("store.driver", DriverLibsql)
	v.SetDefault("store.path", "")
	v.SetDefault("store.data_dir", "")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	// Relay defaults
	v.SetDefault("relay.ttl_hours", 48)
	v.SetDefault("relay.max_payload_bytes", 10*1024*1024)
	v.SetDefault("relay.min_token_length", 8)

	// Rate limit defaults
	v.SetDefault("rate_limits.writes_per_window", 10)
	v.SetDefault("rate_limits.reads_per_window", 30)
	v.SetDefault("rate_limits.window", "1m")

	// Sweep defaults
	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.interval", "5m")

	// Verifier defaults
	v.SetDefault("verifier.enabled", false)
	v.SetDefault("verifier.header", "X-Platform-Token")
	v.SetDefault("verifier.hmac_secret", "")
	v.SetDefault("verifier.public_key_path", "")
	v.SetDefault("verifier.issuer", "")
	v.SetDefault("verifier.audience", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health check defaults
	v.SetDefault("health.enabled", true)
}

// BindEnv wires environment variables into v.
//
// Every key is reachable as SYNCRELAY_<SECTION>_<KEY>; legacy names are bound
// after the prefixed name so the prefixed form wins when both are set.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, names := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		args := append([]string{key, prefixed}, names...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

// Load decodes the settings held by v into a validated Config.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		return nil, errors.New("viper instance is required")
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = storePathFor(cfg.Store.DataDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Store the loaded config
	setConfig(cfg)

	return cfg, nil
}

// Validate rejects configurations the relay cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}

	switch c.Store.Driver {
	case DriverLibsql, DriverSQLite:
	case DriverPostgres:
		if strings.TrimSpace(c.Store.URL) == "" {
			problems = append(problems, "store.url is required for the postgres driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported store.driver %q", c.Store.Driver))
	}

	if c.Relay.TTLHours <= 0 || c.Relay.TTLHours > MaxTTLHours {
		problems = append(problems, fmt.Sprintf("relay.ttl_hours must be between 1 and %d", MaxTTLHours))
	}
	if c.Relay.MaxPayloadBytes <= 0 || c.Relay.MaxPayloadBytes > MaxPayloadBytesCap {
		problems = append(problems, fmt.Sprintf("relay.max_payload_bytes must be between 1 and %d", MaxPayloadBytesCap))
	}
	if c.Relay.MinTokenLength < 1 {
		problems = append(problems, "relay.min_token_length must be at least 1")
	}

	if c.RateLimits.Window <= 0 {
		problems = append(problems, "rate_limits.window must be positive")
	}

	if c.Sweep.Enabled && c.Sweep.Interval < time.Second {
		problems = append(problems, "sweep.interval must be at least 1s")
	}

	if c.Verifier.Enabled {
		if strings.TrimSpace(c.Verifier.Header) == "" {
			problems = append(problems, "verifier.header is required when the verifier is enabled")
		}
		if c.Verifier.HMACSecret == "" && c.Verifier.PublicKeyPath == "" {
			problems = append(problems, "verifier needs hmac_secret or public_key_path")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigDir returns the XDG-compliant config directory for the app.
func DefaultConfigDir() string {
	return gfconfig.GetAppConfigDir(AppName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	return storePathFor("")
}

func storePathFor(dataDir string) string {
	dataDir = strings.TrimSpace(dataDir)
	if dataDir == "" {
		dataDir = gfconfig.GetAppDataDir(AppName)
	}
	if dataDir == "" {
		return "./" + storeFileName
	}
	return filepath.Join(dataDir, storeFileName)
}
