package main

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const envPrefix = "IMAGE_CACHE_"

// Config is read from the config file, then overridden by IMAGE_CACHE_*
// environment variables, then by command line flags.
type Config struct {
	// Storage provider: sqlite, bolt or memory.
	Provider string `yaml:"provider" env:"PROVIDER"`
	// Database file for the sqlite and bolt providers.
	DB           string        `yaml:"db" env:"DB"`
	FetchTimeout time.Duration `yaml:"fetchTimeout" env:"FETCH_TIMEOUT"`
	Deduplicate  bool          `yaml:"deduplicate" env:"DEDUPLICATE"`
	LogFile      string        `yaml:"logFile" env:"LOG_FILE"`
	Serve        ServeConfig   `yaml:"serve" envPrefix:"SERVE_"`
}

type ServeConfig struct {
	Port int `yaml:"port" env:"PORT"`
	// Handle type returned by /resolve: data or registry.
	Handles   string        `yaml:"handles" env:"HANDLES"`
	HandleTTL time.Duration `yaml:"handleTTL" env:"HANDLE_TTL"`
	// Externally visible URL of the server, used for registry handles.
	BaseURL string `yaml:"baseURL" env:"BASE_URL"`
}

func defaultConfig() Config {
	return Config{
		Provider: "sqlite",
		DB:       "image-cache.db",
		Serve: ServeConfig{
			Port:      8080,
			Handles:   "data",
			HandleTTL: time.Minute,
		},
	}
}

// getConfig reads defaults, the config file and the environment.
// The result is validated by loadConfig once flags are applied.
func getConfig(filename string) (Config, error) {
	config := defaultConfig()
	if filename != "" {
		configBytes, err := os.ReadFile(filename)
		if err != nil {
			return config, err
		}
		if err := yaml.Unmarshal(configBytes, &config); err != nil {
			return config, fmt.Errorf("parse %s: %w", filename, err)
		}
	}
	if err := env.ParseWithOptions(&config, env.Options{Prefix: envPrefix}); err != nil {
		return config, fmt.Errorf("parse env: %w", err)
	}
	return config, nil
}

func (c Config) validate() error {
	switch c.Provider {
	case "sqlite", "bolt", "memory":
	default:
		return fmt.Errorf("unsupported cache provider: %s", c.Provider)
	}
	if c.Provider == "bolt" && c.DB == "" {
		return fmt.Errorf("bolt provider needs a db file")
	}
	switch c.Serve.Handles {
	case "data", "registry":
	default:
		return fmt.Errorf("unsupported handle type: %s", c.Serve.Handles)
	}
	// registry handles live in memory until they expire
	if c.Serve.Handles == "registry" && c.Serve.HandleTTL <= 0 {
		return fmt.Errorf("registry handles need a positive handle TTL, got %s", c.Serve.HandleTTL)
	}
	if c.Serve.Port <= 0 {
		return fmt.Errorf("invalid port: %d", c.Serve.Port)
	}
	return nil
}
