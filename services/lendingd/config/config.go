package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen     = ":8547"
	defaultScopeClaim = "scope"
	defaultEventFeed  = 1024
)

// Config captures the runtime settings for the lending service daemon.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	DataDir       string          `yaml:"data_dir"`
	MarketFile    string          `yaml:"market"`
	EventFeed     int             `yaml:"event_feed"`
	Paused        bool            `yaml:"paused"`
	TLS           TLSConfig       `yaml:"tls"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Log           LogConfig       `yaml:"log"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
}

// TLSConfig describes the TLS material for the HTTP server.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig describes the HMAC bearer tokens accepted by the RPC server.
type AuthConfig struct {
	HMACSecret    string        `yaml:"hmac_secret"`
	// HMACSecretEnv names an environment variable holding the secret. It
	// takes precedence over HMACSecret.
	HMACSecretEnv string        `yaml:"hmac_secret_env"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	ScopeClaim    string        `yaml:"scope_claim"`
	ClockSkew     time.Duration `yaml:"clock_skew"`
	Disabled      bool          `yaml:"disabled"`
}

// RateLimitConfig bounds requests per client address.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// TelemetryConfig points the OTLP exporters at a collector. An empty
// endpoint keeps telemetry local.
type TelemetryConfig struct {
	Endpoint    string            `yaml:"endpoint"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
	SampleRatio float64           `yaml:"sample_ratio"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: defaultListen,
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// InMemory reports whether state lives only for the life of the process.
func (cfg Config) InMemory() bool {
	return cfg.DataDir == ""
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	cfg.MarketFile = strings.TrimSpace(cfg.MarketFile)
	if cfg.EventFeed == 0 {
		cfg.EventFeed = defaultEventFeed
	}
	cfg.TLS.normalize()
	cfg.Auth.normalize()
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.File = strings.TrimSpace(cfg.Log.File)
	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.MarketFile == "" {
		return fmt.Errorf("market file is required")
	}
	if cfg.EventFeed < 0 {
		return fmt.Errorf("event_feed must not be negative")
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if err := cfg.Auth.validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", cfg.Log.Level)
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0,1]")
	}
	return nil
}

func (cfg *TLSConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.CertPath = strings.TrimSpace(cfg.CertPath)
	cfg.KeyPath = strings.TrimSpace(cfg.KeyPath)
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	return nil
}

// Enabled reports whether the server terminates TLS itself.
func (cfg TLSConfig) Enabled() bool {
	return cfg.CertPath != "" && cfg.KeyPath != ""
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.HMACSecretEnv = strings.TrimSpace(cfg.HMACSecretEnv)
	if cfg.HMACSecretEnv != "" {
		if value := strings.TrimSpace(os.Getenv(cfg.HMACSecretEnv)); value != "" {
			cfg.HMACSecret = value
		}
	}
	cfg.HMACSecret = strings.TrimSpace(cfg.HMACSecret)
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	cfg.ScopeClaim = strings.TrimSpace(cfg.ScopeClaim)
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = defaultScopeClaim
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
}

func (cfg AuthConfig) validate() error {
	if cfg.Disabled {
		return nil
	}
	if cfg.HMACSecret == "" {
		return fmt.Errorf("hmac_secret or hmac_secret_env is required unless disabled=true")
	}
	if len(cfg.HMACSecret) < 16 {
		return fmt.Errorf("hmac secret must be at least 16 characters")
	}
	return nil
}
