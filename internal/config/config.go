// ABOUTME: Configuration loading and parsing for fluxer-bot
// ABOUTME: Reads YAML or TOML with ${VAR} expansion, durations, defaults and env overrides

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"github.com/2389/fluxer-go/internal/protocol"
)

// Config represents the complete fluxer-bot configuration
type Config struct {
	Fluxer  FluxerConfig  `yaml:"fluxer" toml:"fluxer"`
	Gateway GatewayConfig `yaml:"gateway" toml:"gateway"`
	Cache   CacheConfig   `yaml:"cache" toml:"cache"`
	Ledger  LedgerConfig  `yaml:"ledger" toml:"ledger"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
}

// FluxerConfig holds credentials and REST settings
type FluxerConfig struct {
	Token       string   `yaml:"token" toml:"token"`
	BaseURL     string   `yaml:"base_url" toml:"base_url"`
	APIVersion  string   `yaml:"api_version" toml:"api_version"`
	TokenPrefix string   `yaml:"token_prefix" toml:"token_prefix"`
	IntentNames []string `yaml:"intents" toml:"intents"`

	// Intents is IntentNames resolved to a bitmask.
	Intents protocol.Intents `yaml:"-" toml:"-"`
}

// GatewayConfig holds websocket session settings
type GatewayConfig struct {
	// URL skips REST discovery when set.
	URL      string `yaml:"url" toml:"url"`
	Encoding string `yaml:"encoding" toml:"encoding"`
	Version  string `yaml:"version" toml:"version"`

	HandshakeTimeout      time.Duration `yaml:"-" toml:"-"`
	InvalidSessionBackoff time.Duration `yaml:"-" toml:"-"`
	WriteTimeout          time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	HandshakeTimeoutRaw      string `yaml:"handshake_timeout" toml:"handshake_timeout"`
	InvalidSessionBackoffRaw string `yaml:"invalid_session_backoff" toml:"invalid_session_backoff"`
	WriteTimeoutRaw          string `yaml:"write_timeout" toml:"write_timeout"`
}

// CacheConfig holds entity cache sizes
type CacheConfig struct {
	Messages int `yaml:"messages" toml:"messages"`
}

// LedgerConfig holds the raw event journal settings
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr"`
	Path    string `yaml:"path" toml:"path"`
}

// envOverrides are applied after the file is parsed.
type envOverrides struct {
	Token    string `env:"FLUXER_TOKEN"`
	BaseURL  string `env:"FLUXER_BASE_URL"`
	LogLevel string `env:"FLUXER_LOG_LEVEL"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Default returns a Config with every default filled in and no token.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Files ending in .toml are parsed as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded, then
// FLUXER_TOKEN, FLUXER_BASE_URL and FLUXER_LOG_LEVEL override the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.Fluxer.Intents, err = protocol.ParseIntents(cfg.Fluxer.IntentNames)
	if err != nil {
		return nil, fmt.Errorf("parsing fluxer.intents: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with the environment value, or the
// empty string when unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return err
	}
	if env.Token != "" {
		cfg.Fluxer.Token = env.Token
	}
	if env.BaseURL != "" {
		cfg.Fluxer.BaseURL = env.BaseURL
	}
	if env.LogLevel != "" {
		cfg.Logging.Level = env.LogLevel
	}
	return nil
}

func (c *Config) applyDefaults() {
	if len(c.Fluxer.IntentNames) == 0 && c.Fluxer.Intents == 0 {
		c.Fluxer.Intents = protocol.DefaultIntents()
	}
	if c.Fluxer.BaseURL == "" {
		c.Fluxer.BaseURL = "https://api.fluxer.app"
	}
	if c.Fluxer.APIVersion == "" {
		c.Fluxer.APIVersion = "1"
	}
	if c.Gateway.Encoding == "" {
		c.Gateway.Encoding = "json"
	}
	if c.Gateway.Version == "" {
		c.Gateway.Version = c.Fluxer.APIVersion
	}
	if c.Gateway.HandshakeTimeout == 0 {
		c.Gateway.HandshakeTimeout = 30 * time.Second
	}
	if c.Gateway.InvalidSessionBackoff == 0 {
		c.Gateway.InvalidSessionBackoff = 5 * time.Second
	}
	if c.Gateway.WriteTimeout == 0 {
		c.Gateway.WriteTimeout = 10 * time.Second
	}
	if c.Cache.Messages == 0 {
		c.Cache.Messages = 1000
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = "fluxer-ledger.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = "127.0.0.1:9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Fluxer.Token) == "" {
		return fmt.Errorf("fluxer.token is required (or set FLUXER_TOKEN)")
	}

	u, err := url.Parse(c.Fluxer.BaseURL)
	if err != nil {
		return fmt.Errorf("fluxer.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("fluxer.base_url must use http or https scheme")
	}

	if c.Gateway.URL != "" {
		gu, err := url.Parse(c.Gateway.URL)
		if err != nil {
			return fmt.Errorf("gateway.url is not a valid URL: %w", err)
		}
		if gu.Scheme != "ws" && gu.Scheme != "wss" {
			return fmt.Errorf("gateway.url must use ws or wss scheme")
		}
	}

	if c.Gateway.Encoding != "json" {
		return fmt.Errorf("gateway.encoding %q is not supported (only json)", c.Gateway.Encoding)
	}

	if c.Gateway.HandshakeTimeout < 0 || c.Gateway.InvalidSessionBackoff < 0 || c.Gateway.WriteTimeout < 0 {
		return fmt.Errorf("gateway durations must not be negative")
	}

	if c.Cache.Messages < 0 {
		return fmt.Errorf("cache.messages must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is invalid (debug, info, warn, error)", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is invalid (text, json)", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
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
		{"handshake_timeout", cfg.Gateway.HandshakeTimeoutRaw, &cfg.Gateway.HandshakeTimeout},
		{"invalid_session_backoff", cfg.Gateway.InvalidSessionBackoffRaw, &cfg.Gateway.InvalidSessionBackoff},
		{"write_timeout", cfg.Gateway.WriteTimeoutRaw, &cfg.Gateway.WriteTimeout},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
