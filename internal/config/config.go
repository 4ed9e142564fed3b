// Package config loads service configuration: built-in defaults, overridden
// by an optional YAML file, overridden by AUTOPILOT_* environment variables,
// validated last.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Config is the full service configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Model  ModelConfig  `yaml:"model"`
	Auth   AuthConfig   `yaml:"auth"`
	Audit  AuditConfig  `yaml:"audit"`
	Stream StreamConfig `yaml:"stream"`
}

// ServerConfig configures the HTTP listener. AllowedOrigins is the CORS
// allow-list for the browser-based simulator; empty disables CORS.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ModelConfig configures checkpoint loading and inference.
type ModelConfig struct {
	CheckpointPath  string        `yaml:"checkpoint_path"`
	SeqLen          int           `yaml:"seq_len"`
	Threshold       float64       `yaml:"threshold"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
	JanitorInterval time.Duration `yaml:"janitor_interval"`
}

// AuthConfig configures bearer-token verification.
type AuthConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Algorithm    string `yaml:"algorithm"`
	SecretKey    string `yaml:"secret_key"`
	PublicKeyPEM string `yaml:"public_key_pem"`
}

// AuditConfig configures the JSONL audit log.
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// StreamConfig configures the SSE event hub.
type StreamConfig struct {
	BufferSize        int           `yaml:"buffer_size"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"http://localhost:5173", "http://localhost:3001"},
		},
		Model: ModelConfig{
			CheckpointPath:  "models/best_model.json",
			SeqLen:          10,
			Threshold:       0.5,
			SessionTTL:      10 * time.Minute,
			JanitorInterval: time.Minute,
		},
		Auth: AuthConfig{
			Enabled:   false,
			Algorithm: "HS256",
		},
		Audit: AuditConfig{
			Enabled:    true,
			Dir:        "logs",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Stream: StreamConfig{
			BufferSize:        64,
			HeartbeatInterval: 15 * time.Second,
		},
	}
}

// Load builds the effective configuration. path may be empty, in which case
// config.yaml is used when present.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		// Unmarshal over defaults: absent keys keep their default values.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies AUTOPILOT_* environment variables to the config.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("AUTOPILOT_HOST"); val != "" {
		cfg.Server.Host = val
	}
	if val := os.Getenv("AUTOPILOT_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Server.Port = port
		}
	}
	if val := os.Getenv("AUTOPILOT_ALLOWED_ORIGINS"); val != "" {
		var origins []string
		for _, origin := range strings.Split(val, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
		cfg.Server.AllowedOrigins = origins
	}
	if val := os.Getenv("AUTOPILOT_CHECKPOINT"); val != "" {
		cfg.Model.CheckpointPath = val
	}
	if val := os.Getenv("AUTOPILOT_SEQ_LEN"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Model.SeqLen = n
		}
	}
	if val := os.Getenv("AUTOPILOT_THRESHOLD"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Model.Threshold = f
		}
	}
	if val := os.Getenv("AUTOPILOT_SESSION_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Model.SessionTTL = d
		}
	}
	if val := os.Getenv("AUTOPILOT_AUTH_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Auth.Enabled = b
		}
	}
	if val := os.Getenv("AUTOPILOT_AUTH_ALGORITHM"); val != "" {
		cfg.Auth.Algorithm = val
	}
	if val := os.Getenv("AUTOPILOT_AUTH_SECRET"); val != "" {
		cfg.Auth.SecretKey = val
	}
	if val := os.Getenv("AUTOPILOT_AUDIT_DIR"); val != "" {
		cfg.Audit.Dir = val
	}
	if val := os.Getenv("AUTOPILOT_AUDIT_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Audit.Enabled = b
		}
	}
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}
	if c.Model.SeqLen < 1 {
		return fmt.Errorf("model seq_len must be at least 1, got %d", c.Model.SeqLen)
	}
	if c.Model.Threshold <= 0 || c.Model.Threshold >= 1 {
		return fmt.Errorf("model threshold must be in (0, 1), got %g", c.Model.Threshold)
	}
	if c.Model.CheckpointPath == "" {
		return fmt.Errorf("model checkpoint_path is required")
	}
	if c.Auth.Enabled {
		switch c.Auth.Algorithm {
		case "HS256":
			if c.Auth.SecretKey == "" {
				return fmt.Errorf("auth secret_key is required for HS256")
			}
		case "RS256":
			if c.Auth.PublicKeyPEM == "" {
				return fmt.Errorf("auth public_key_pem is required for RS256")
			}
		default:
			return fmt.Errorf("unsupported auth algorithm: %s", c.Auth.Algorithm)
		}
	}
	if c.Audit.Enabled && c.Audit.Dir == "" {
		return fmt.Errorf("audit dir is required when audit is enabled")
	}
	return nil
}
