package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the optional config.yaml. Every field has a working default and
// environment variables override the file.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Gateway struct {
		RoundSeconds int `yaml:"round_seconds"`
	} `yaml:"gateway"`
	NATS struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
	} `yaml:"nats"`
	Analysis struct {
		URL string `yaml:"url"`
	} `yaml:"analysis"`
}

func loadConfig(path string) (*Config, error) {
	var config Config
	config.Server.Port = "8080"

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Environment overrides.
	config.Server.Port = getEnv("PORT", config.Server.Port)
	if url := os.Getenv("NATS_URL"); url != "" {
		config.NATS.Enabled = true
		config.NATS.URL = url
	}
	config.Analysis.URL = getEnv("ANALYSIS_URL", config.Analysis.URL)
	config.Gateway.RoundSeconds = getEnvAsInt("ROUND_SECONDS", config.Gateway.RoundSeconds)

	return &config, nil
}

// RoundDuration returns the per-round countdown, zero meaning untimed rounds.
func (c *Config) RoundDuration() time.Duration {
	return time.Duration(c.Gateway.RoundSeconds) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
