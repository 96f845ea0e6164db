// Package config loads server settings from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Relay     RelayConfig     `yaml:"relay"`
	Janitor   JanitorConfig   `yaml:"janitor"`
	Logger    LoggerConfig    `yaml:"logger"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	// AllowedOrigin is sent as Access-Control-Allow-Origin.
	AllowedOrigin   string        `yaml:"allowed_origin"`
	RequestsPerMin  int           `yaml:"requests_per_min"`
	BurstSize       int           `yaml:"burst_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// RelayConfig bounds each websocket connection.
type RelayConfig struct {
	MaxMessageBytes   int64   `yaml:"max_message_bytes"`
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	MessageBurst      int     `yaml:"message_burst"`
	SendBuffer        int     `yaml:"send_buffer"`
}

type JanitorConfig struct {
	Interval    time.Duration `yaml:"interval"`
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`
}

type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
	Output string `yaml:"output"` // "stdout", "stderr" or a file path
}

type DiscoveryConfig struct {
	MDNS     bool   `yaml:"mdns"`
	Instance string `yaml:"instance"`
}

// Defaults returns a config usable for local development.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			AllowedOrigin:   "http://localhost:3000",
			RequestsPerMin:  600,
			BurstSize:       60,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{Path: "./data/waveboard.db"},
		Auth: AuthConfig{
			TokenTTL: 7 * 24 * time.Hour,
		},
		Relay: RelayConfig{
			MaxMessageBytes:   10 * 1024 * 1024,
			MessagesPerSecond: 100,
			MessageBurst:      200,
			SendBuffer:        256,
		},
		Janitor: JanitorConfig{
			Interval:    5 * time.Minute,
			SnapshotTTL: 30 * time.Minute,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads a YAML config file, applies env var overrides and validates the
// result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps environment variables onto config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("FRONTEND_URL"); v != "" {
		cfg.Server.AllowedOrigin = v
	}
	if v := os.Getenv("WAVEBOARD_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("WAVEBOARD_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("WAVEBOARD_LOG_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("WAVEBOARD_MDNS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Discovery.MDNS = b
		}
	}
}

// Validate checks required fields and ranges.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	} else if _, err := strconv.Atoi(cfg.Server.Port); err != nil {
		errs = append(errs, fmt.Errorf("server.port %q is not a number", cfg.Server.Port))
	}
	if cfg.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if len(cfg.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 16 characters (set JWT_SECRET)"))
	}
	if cfg.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	if cfg.Relay.MessagesPerSecond <= 0 || cfg.Relay.MessageBurst <= 0 {
		errs = append(errs, errors.New("relay rate limits must be positive"))
	}
	if cfg.Relay.SendBuffer <= 0 {
		errs = append(errs, errors.New("relay.send_buffer must be positive"))
	}
	if cfg.Janitor.Interval <= 0 || cfg.Janitor.SnapshotTTL <= 0 {
		errs = append(errs, errors.New("janitor durations must be positive"))
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logger.format %q must be text or json", cfg.Logger.Format))
	}

	return errors.Join(errs...)
}

// Port returns the listen port as a number. Call after Validate.
func (c *Config) Port() int {
	p, _ := strconv.Atoi(c.Server.Port)
	return p
}
