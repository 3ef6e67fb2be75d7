// Package config loads the server configuration from file, environment and flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/psantana5/physician/internal/simulation"
	"github.com/psantana5/physician/pkg/cleanup"
	"github.com/psantana5/physician/pkg/gemini"
	"github.com/psantana5/physician/pkg/store"
	ptls "github.com/psantana5/physician/pkg/tls"
	"github.com/psantana5/physician/pkg/tracing"
)

var (
	ErrMissingAPIKey = errors.New("GEMINI_API_KEY is not set")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config is the complete server configuration
type Config struct {
	Server     ServerConfig      `mapstructure:"server" yaml:"server"`
	Gemini     GeminiConfig      `mapstructure:"gemini" yaml:"gemini"`
	Perception PerceptionConfig  `mapstructure:"perception" yaml:"perception"`
	Simulation simulation.Config `mapstructure:"simulation" yaml:"simulation"`
	Forensics  ForensicsConfig   `mapstructure:"forensics" yaml:"forensics"`
	Cleanup    cleanup.Config    `mapstructure:"cleanup" yaml:"cleanup"`
	Store      store.Config      `mapstructure:"store" yaml:"store"`
	Logging    LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Tracing    tracing.Config    `mapstructure:"tracing" yaml:"tracing"`
}

type ServerConfig struct {
	Address         string          `mapstructure:"address" yaml:"address"`
	UploadDir       string          `mapstructure:"upload_dir" yaml:"upload_dir"`
	MaxUploadBytes  int64           `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORSOrigins     []string        `mapstructure:"cors_origins" yaml:"cors_origins"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	Auth            AuthConfig      `mapstructure:"auth" yaml:"auth"`
	TLS             ptls.Config     `mapstructure:"tls" yaml:"tls"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
}

// AuthConfig holds bcrypt hashes (or plain keys) of accepted client API keys
type AuthConfig struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	APIKeys []string `mapstructure:"api_keys" yaml:"api_keys"`
}

type GeminiConfig struct {
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
	Model   string `mapstructure:"model" yaml:"model"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

type PerceptionConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type ForensicsConfig struct {
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
	File   bool   `mapstructure:"file" yaml:"file"`
}

// Default returns the configuration used when nothing overrides it
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8000",
			UploadDir:       filepath.Join(os.TempDir(), "physician-uploads"),
			MaxUploadBytes:  10 << 20,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    90 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimit:       RateLimitConfig{Enabled: true, RequestsPerSecond: 2, Burst: 5},
			TLS: ptls.Config{
				CertFile: filepath.Join(DefaultConfigDir(), "certs", "server.crt"),
				KeyFile:  filepath.Join(DefaultConfigDir(), "certs", "server.key"),
			},
		},
		Gemini: GeminiConfig{
			Model:   gemini.DefaultModel,
			BaseURL: gemini.DefaultBaseURL,
		},
		Perception: PerceptionConfig{Timeout: 30 * time.Second},
		Simulation: simulation.DefaultConfig(),
		Forensics: ForensicsConfig{
			Timeout:        30 * time.Second,
			MaxRetries:     2,
			InitialBackoff: 500 * time.Millisecond,
		},
		Cleanup: cleanup.DefaultConfig(),
		Store:   store.Config{Type: "memory"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Tracing: tracing.Config{
			ServiceName:    "physician",
			ServiceVersion: "1.0.0",
			Environment:    "development",
			OTLPEndpoint:   "localhost:4318",
			SampleRatio:    1.0,
		},
	}
}

// DefaultConfigDir is where Load looks for config.yaml when no file is given
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".physician"
	}
	return filepath.Join(home, ".physician")
}

// Setup prepares v to read cfgFile (or the default location) and PHYSICIAN_* variables
func Setup(v *viper.Viper, cfgFile string) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(DefaultConfigDir())
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("PHYSICIAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("gemini.api_key", "PHYSICIAN_GEMINI_API_KEY", "GEMINI_API_KEY")

	setDefaults(v, Default())
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.upload_dir", d.Server.UploadDir)
	v.SetDefault("server.max_upload_bytes", d.Server.MaxUploadBytes)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.rate_limit.enabled", d.Server.RateLimit.Enabled)
	v.SetDefault("server.rate_limit.requests_per_second", d.Server.RateLimit.RequestsPerSecond)
	v.SetDefault("server.rate_limit.burst", d.Server.RateLimit.Burst)
	v.SetDefault("server.auth.enabled", d.Server.Auth.Enabled)
	v.SetDefault("server.auth.api_keys", d.Server.Auth.APIKeys)
	v.SetDefault("server.tls.enabled", d.Server.TLS.Enabled)
	v.SetDefault("server.tls.cert_file", d.Server.TLS.CertFile)
	v.SetDefault("server.tls.key_file", d.Server.TLS.KeyFile)
	v.SetDefault("server.tls.ca_file", d.Server.TLS.CAFile)
	v.SetDefault("server.tls.require_client_cert", d.Server.TLS.RequireClientCert)
	v.SetDefault("server.tls.auto_generate", d.Server.TLS.AutoGenerate)
	v.SetDefault("server.tls.hosts", d.Server.TLS.Hosts)

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", d.Gemini.Model)
	v.SetDefault("gemini.base_url", d.Gemini.BaseURL)

	v.SetDefault("perception.timeout", d.Perception.Timeout)

	v.SetDefault("simulation.steps", d.Simulation.Steps)
	v.SetDefault("simulation.time_step", d.Simulation.TimeStep)
	v.SetDefault("simulation.start_height", d.Simulation.StartHeight)
	v.SetDefault("simulation.half_extent", d.Simulation.HalfExtent)
	v.SetDefault("simulation.gravity", d.Simulation.Gravity)
	v.SetDefault("simulation.envelope.min_z", d.Simulation.Envelope.MinZ)
	v.SetDefault("simulation.envelope.max_z", d.Simulation.Envelope.MaxZ)
	v.SetDefault("simulation.sessions", d.Simulation.Sessions)
	v.SetDefault("simulation.pace", d.Simulation.Pace)
	v.SetDefault("simulation.timeout", d.Simulation.Timeout)
	v.SetDefault("simulation.acquire_wait", d.Simulation.AcquireWait)
	v.SetDefault("simulation.lease_ttl", d.Simulation.LeaseTTL)

	v.SetDefault("forensics.timeout", d.Forensics.Timeout)
	v.SetDefault("forensics.max_retries", d.Forensics.MaxRetries)
	v.SetDefault("forensics.initial_backoff", d.Forensics.InitialBackoff)

	v.SetDefault("cleanup.enabled", d.Cleanup.Enabled)
	v.SetDefault("cleanup.ledger_retention", d.Cleanup.LedgerRetention)
	v.SetDefault("cleanup.upload_max_age", d.Cleanup.UploadMaxAge)
	v.SetDefault("cleanup.interval", d.Cleanup.Interval)
	v.SetDefault("cleanup.delete_batch_size", d.Cleanup.DeleteBatchSize)

	v.SetDefault("store.type", d.Store.Type)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.max_open_conns", d.Store.MaxOpenConns)
	v.SetDefault("store.max_idle_conns", d.Store.MaxIdleConns)
	v.SetDefault("store.conn_max_lifetime", d.Store.ConnMaxLifetime)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.service_version", d.Tracing.ServiceVersion)
	v.SetDefault("tracing.environment", d.Tracing.Environment)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_ratio", d.Tracing.SampleRatio)
}

// Load reads the config file if one exists and decodes everything into a Config.
// A missing default config file is not an error; a missing explicit one is.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Validate fails fast on settings the server cannot start without
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Gemini.APIKey) == "" {
		return ErrMissingAPIKey
	}

	var problems []string
	sim := c.Simulation
	if sim.Steps <= 0 {
		problems = append(problems, "simulation.steps must be positive")
	}
	if sim.TimeStep <= 0 {
		problems = append(problems, "simulation.time_step must be positive")
	}
	if sim.HalfExtent <= 0 {
		problems = append(problems, "simulation.half_extent must be positive")
	}
	if sim.Envelope.MinZ >= sim.Envelope.MaxZ {
		problems = append(problems, "simulation.envelope.min_z must be below max_z")
	}
	if sim.Sessions < 1 {
		problems = append(problems, "simulation.sessions must be at least 1")
	}
	if c.Server.MaxUploadBytes <= 0 {
		problems = append(problems, "server.max_upload_bytes must be positive")
	}
	if c.Forensics.MaxRetries < 0 {
		problems = append(problems, "forensics.max_retries must not be negative")
	}
	if c.Cleanup.Enabled && c.Cleanup.Interval <= 0 {
		problems = append(problems, "cleanup.interval must be positive while cleanup is enabled")
	}
	if c.Server.TLS.Enabled && !c.Server.TLS.AutoGenerate && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		problems = append(problems, "server.tls needs cert_file and key_file")
	}
	if c.Server.Auth.Enabled && len(c.Server.Auth.APIKeys) == 0 {
		problems = append(problems, "server.auth.api_keys is empty while auth is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Redacted returns a copy safe to print
func (c Config) Redacted() Config {
	if c.Gemini.APIKey != "" {
		c.Gemini.APIKey = redact(c.Gemini.APIKey)
	}
	if len(c.Server.Auth.APIKeys) > 0 {
		keys := make([]string, len(c.Server.Auth.APIKeys))
		for i := range keys {
			keys[i] = "****"
		}
		c.Server.Auth.APIKeys = keys
	}
	if c.Store.DSN != "" {
		c.Store.DSN = "****"
	}
	return c
}

func redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
