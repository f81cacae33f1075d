// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

// Package config loads the service configuration from layered sources:
// built-in defaults, an optional YAML file and environment variables, in
// rising order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/autolog/squeezebox-controller/internal/artwork"
	"github.com/autolog/squeezebox-controller/internal/logging"
	"github.com/autolog/squeezebox-controller/internal/protocol"
	"github.com/autolog/squeezebox-controller/internal/tts"
)

// DefaultConfigPaths lists where config files are searched, first hit wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/squeezebox-controller/config.yaml",
	"/etc/squeezebox-controller/config.yml",
}

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "CONFIG_PATH"

// envPrefix scopes the environment variables this service reads. A double
// underscore separates nesting levels: SQZBOX_API__LISTEN -> api.listen.
const envPrefix = "SQZBOX_"

// ServerConfig describes one Logitech Media Server to control.
type ServerConfig struct {
	// ID names the server in logs, metrics and the API. It must be
	// unique across the servers list.
	ID   string `koanf:"id" validate:"required"`
	Host string `koanf:"host" validate:"required"`
	// Port is the CLI port, 9090 on a stock server.
	Port int `koanf:"port" validate:"min=1,max=65535"`
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	Listen string `koanf:"listen" validate:"required"`
	// RequestsPerMinute throttles each client IP; 0 disables throttling.
	RequestsPerMinute int           `koanf:"requests_per_minute" validate:"min=0"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// AnnounceConfig configures announcement handling.
type AnnounceConfig struct {
	// TempDir holds synthesized speech files.
	TempDir string `koanf:"temp_dir" validate:"required"`
}

// StoreConfig configures the on-disk record of last-known player state.
type StoreConfig struct {
	// Path is the Badger database directory. Empty disables persistence.
	Path string `koanf:"path"`
	// SyncWrites makes every write durable at the cost of latency.
	SyncWrites bool `koanf:"sync_writes"`
}

// Config is the complete service configuration.
type Config struct {
	Servers  []ServerConfig    `koanf:"servers" validate:"required,min=1,dive"`
	API      APIConfig         `koanf:"api"`
	Artwork  artwork.Config    `koanf:"artwork"`
	TTS      tts.CommandConfig `koanf:"tts"`
	Announce AnnounceConfig    `koanf:"announce"`
	Store    StoreConfig       `koanf:"store"`
	Logging  logging.Config    `koanf:"logging"`
}

func defaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Listen:            ":8080",
			RequestsPerMinute: 120,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Artwork: artwork.Config{
			Dir:          "/data/covers",
			FetchTimeout: 10 * time.Second,
		},
		TTS: tts.DefaultCommandConfig(),
		Announce: AnnounceConfig{
			TempDir: os.TempDir(),
		},
		Store: StoreConfig{
			Path: "/data/state",
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load builds the configuration from defaults, the config file and the
// environment, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks structural constraints and the parts the struct tags
// cannot express: unique server ids and well-formed player MACs appearing
// in server host fields are not a concern, but duplicate ids are.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(c.Servers))
	for _, srv := range c.Servers {
		if _, dup := seen[srv.ID]; dup {
			return fmt.Errorf("duplicate server id %q", srv.ID)
		}
		seen[srv.ID] = struct{}{}
		if protocol.IsMAC(srv.Host) {
			return fmt.Errorf("server %q: host %q looks like a player MAC, expected a hostname or IP", srv.ID, srv.Host)
		}
	}
	return nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps SQZBOX_API__READ_TIMEOUT to api.read_timeout:
// the prefix is stripped, double underscores become dots and the rest is
// lowercased with single underscores preserved.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	return strings.ReplaceAll(key, "__", ".")
}
