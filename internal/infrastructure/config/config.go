package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Analysis  AnalysisConfig  `toml:"analysis" yaml:"analysis"`
	Kernel    KernelConfig    `toml:"kernel" yaml:"kernel"`
	Store     StoreConfig     `toml:"store" yaml:"store"`
	Logging   LogConfig       `toml:"logging" yaml:"logging"`
	RateLimit RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
	CORS      CORSConfig      `toml:"cors" yaml:"cors"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string   `envconfig:"PORT" toml:"port" yaml:"port"`
	Host            string   `envconfig:"HOST" toml:"host" yaml:"host"`
	ShutdownTimeout Duration `envconfig:"SHUTDOWN_TIMEOUT" toml:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// AnalysisConfig describes the analysis server started per conversation.
type AnalysisConfig struct {
	Command        string   `envconfig:"ANALYSIS_CMD" toml:"command" yaml:"command"`
	Args           []string `envconfig:"ANALYSIS_ARGS" toml:"args" yaml:"args"`
	Dir            string   `envconfig:"ANALYSIS_DIR" toml:"dir" yaml:"dir"`
	InitTimeout    Duration `envconfig:"ANALYSIS_INIT_TIMEOUT" toml:"init_timeout" yaml:"init_timeout"`
	RequestTimeout Duration `envconfig:"ANALYSIS_REQUEST_TIMEOUT" toml:"request_timeout" yaml:"request_timeout"`
	QueueSize      int      `envconfig:"ANALYSIS_QUEUE_SIZE" toml:"queue_size" yaml:"queue_size"`
	// RespawnFailures crashes within RespawnWindow stop respawning for RespawnCooldown.
	RespawnFailures int      `envconfig:"ANALYSIS_RESPAWN_FAILURES" toml:"respawn_failures" yaml:"respawn_failures"`
	RespawnWindow   Duration `envconfig:"ANALYSIS_RESPAWN_WINDOW" toml:"respawn_window" yaml:"respawn_window"`
	RespawnCooldown Duration `envconfig:"ANALYSIS_RESPAWN_COOLDOWN" toml:"respawn_cooldown" yaml:"respawn_cooldown"`
}

// KernelConfig holds code execution configuration.
type KernelConfig struct {
	Enabled bool     `envconfig:"KERNEL_ENABLED" toml:"enabled" yaml:"enabled"`
	Command string   `envconfig:"KERNEL_CMD" toml:"command" yaml:"command"`
	Args    []string `envconfig:"KERNEL_ARGS" toml:"args" yaml:"args"`
	// Driver is a file holding the driver loop passed after Args. Empty
	// selects the built-in Python driver.
	Driver  string   `envconfig:"KERNEL_DRIVER" toml:"driver" yaml:"driver"`
	Timeout Duration `envconfig:"KERNEL_TIMEOUT" toml:"timeout" yaml:"timeout"`
}

// StoreConfig holds conversation storage configuration.
type StoreConfig struct {
	Dir string `envconfig:"STORE_DIR" toml:"dir" yaml:"dir"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" toml:"level" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" toml:"development" yaml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" toml:"rps" yaml:"rps"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" toml:"burst" yaml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" toml:"enabled" yaml:"enabled"`
	// Per editor connection limits on hover and completion requests.
	LSPRequestsPerSecond int `envconfig:"LSP_RPS" toml:"lsp_rps" yaml:"lsp_rps"`
	LSPBurst             int `envconfig:"LSP_BURST" toml:"lsp_burst" yaml:"lsp_burst"`
}

// CORSConfig holds allowed browser origins.
type CORSConfig struct {
	Origins []string `envconfig:"CORS_ORIGINS" toml:"origins" yaml:"origins"`
}

// Duration is a time.Duration that decodes from strings such as "30s" in
// environment variables and config files.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load builds the configuration from defaults, then the optional file at
// path (.toml, .yaml or .yml), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := overlay(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load("")
	if err != nil {
		return Default()
	}
	return cfg
}

func overlay(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("config file %s: unsupported format", path)
	}
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate reports settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port is empty"))
	}
	if c.Analysis.Command == "" {
		errs = append(errs, errors.New("analysis command is empty"))
	}
	if c.Analysis.InitTimeout <= 0 || c.Analysis.RequestTimeout <= 0 {
		errs = append(errs, errors.New("analysis timeouts must be positive"))
	}
	if c.Kernel.Enabled && c.Kernel.Command == "" {
		errs = append(errs, errors.New("kernel command is empty"))
	}
	if c.Store.Dir == "" {
		errs = append(errs, errors.New("store dir is empty"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Analysis: AnalysisConfig{
			Command:         "pyright-langserver",
			Args:            []string{"--stdio"},
			InitTimeout:     Duration(30 * time.Second),
			RequestTimeout:  Duration(10 * time.Second),
			QueueSize:       256,
			RespawnFailures: 3,
			RespawnWindow:   Duration(time.Minute),
			RespawnCooldown: Duration(30 * time.Second),
		},
		Kernel: KernelConfig{
			Enabled: true,
			Command: "python3",
			Args:    []string{"-u", "-c"},
			Timeout: Duration(5 * time.Minute),
		},
		Store: StoreConfig{
			Dir: "./chats",
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond:    100,
			Burst:                200,
			Enabled:              true,
			LSPRequestsPerSecond: 20,
			LSPBurst:             40,
		},
		CORS: CORSConfig{
			Origins: []string{"http://localhost:5173"},
		},
	}
}
