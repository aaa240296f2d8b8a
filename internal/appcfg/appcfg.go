// Package appcfg loads service configuration from an optional YAML file with
// environment variable overrides. Environment wins over file, file wins over
// defaults.
package appcfg

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	LogLevel    string `yaml:"log_level"`
	DatabaseURL string `yaml:"database_url"`

	// MapConfigDir holds map config files; OutputDir holds rendered images.
	MapConfigDir string `yaml:"map_config_dir"`
	OutputDir    string `yaml:"output_dir"`

	// DatasourceCacheTTLSeconds bounds reuse of fetched bandwidth values.
	DatasourceCacheTTLSeconds int `yaml:"datasource_cache_ttl_seconds"`
}

func defaults() Config {
	return Config{
		HTTPAddr:                  ":8081",
		LogLevel:                  "info",
		MapConfigDir:              "configs",
		OutputDir:                 "output",
		DatasourceCacheTTLSeconds: 300,
	}
}

// Load reads path when non-empty, then applies environment overrides. A
// missing file at an explicitly given path is an error; an empty path means
// env-and-defaults only.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	cfg.HTTPAddr = envOr("HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = envOr("LOG_LEVEL", cfg.LogLevel)
	cfg.DatabaseURL = envOr("DATABASE_URL", cfg.DatabaseURL)
	cfg.MapConfigDir = envOr("WM_CONFIG_DIR", cfg.MapConfigDir)
	cfg.OutputDir = envOr("WM_OUTPUT_DIR", cfg.OutputDir)
	if v := os.Getenv("WM_CACHE_TTL_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("WM_CACHE_TTL_SECONDS: %w", err)
		}
		cfg.DatasourceCacheTTLSeconds = n
	}

	if cfg.MapConfigDir == "" || cfg.OutputDir == "" {
		return Config{}, fmt.Errorf("map_config_dir and output_dir must be set")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
