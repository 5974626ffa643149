// Package config loads service configuration from defaults, an
// optional YAML file, and WAYGATE_-prefixed environment variables, in
// that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "WAYGATE_"

// Config holds all configuration for the bridge.
type Config struct {
	HTTP struct {
		Host string `koanf:"host"`
		Port int    `koanf:"port"`
	} `koanf:"http"`

	WhatsApp struct {
		CredentialDir  string `koanf:"credential_dir"`
		AutoConnect    bool   `koanf:"auto_connect"`
		ReconnectDelay string `koanf:"reconnect_delay"`
		RetryDelay     string `koanf:"retry_delay"`
	} `koanf:"whatsapp"`

	Upload struct {
		Dir      string `koanf:"dir"`
		MaxBytes int64  `koanf:"max_bytes"`
	} `koanf:"upload"`

	Log struct {
		Level string `koanf:"level"`
		JSON  bool   `koanf:"json"`
	} `koanf:"log"`

	Dev struct {
		QRInTerminal bool `koanf:"qr_in_terminal"`
	} `koanf:"dev"`

	// Parsed during validation.
	reconnectDelay time.Duration
	retryDelay     time.Duration
}

// Load reads configuration. path names an optional YAML file; a missing
// file is not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := defaults()

	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("read config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// WAYGATE_HTTP_PORT -> http.port, WAYGATE_WHATSAPP_CREDENTIAL_DIR
		// -> whatsapp.credential.dir would be wrong, so only the first
		// underscore splits the section.
		key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		section, rest, found := strings.Cut(key, "_")
		if !found {
			return key
		}
		return section + "." + rest
	}), nil); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.HTTP.Host = "0.0.0.0"
	cfg.HTTP.Port = 3000
	cfg.WhatsApp.CredentialDir = "auth"
	cfg.WhatsApp.AutoConnect = true
	cfg.WhatsApp.ReconnectDelay = "5s"
	cfg.WhatsApp.RetryDelay = "5s"
	cfg.Upload.Dir = filepath.Join(os.TempDir(), "waygate-uploads")
	cfg.Upload.MaxBytes = 10 << 20
	cfg.Log.Level = "info"
	cfg.Log.JSON = false
	cfg.Dev.QRInTerminal = false
	return cfg
}

func (c *Config) validate() error {
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d", c.HTTP.Port)
	}
	if c.WhatsApp.CredentialDir == "" {
		return fmt.Errorf("whatsapp credential_dir is required")
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload max_bytes must be positive")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	var err error
	if c.reconnectDelay, err = time.ParseDuration(c.WhatsApp.ReconnectDelay); err != nil {
		return fmt.Errorf("invalid reconnect_delay: %w", err)
	}
	if c.retryDelay, err = time.ParseDuration(c.WhatsApp.RetryDelay); err != nil {
		return fmt.Errorf("invalid retry_delay: %w", err)
	}
	if c.reconnectDelay <= 0 || c.retryDelay <= 0 {
		return fmt.Errorf("delays must be positive")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// ReconnectDelay returns the parsed reconnect delay.
func (c *Config) ReconnectDelay() time.Duration { return c.reconnectDelay }

// RetryDelay returns the parsed retry delay.
func (c *Config) RetryDelay() time.Duration { return c.retryDelay }
