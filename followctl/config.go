package main

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

const DefaultApiUrl = "http://localhost:8080"

type Config struct {
	ApiUrl  string `yaml:"api_url"`
	Session string `yaml:"session"`
	Jwt     string `yaml:"jwt"`
	// requests per second to the rest api
	RequestRate float64 `yaml:"request_rate"`
	MetricsAddr string  `yaml:"metrics_addr"`
	// restore the prior count when a follow message is dropped
	Rollback bool `yaml:"rollback"`
}

func DefaultConfig() *Config {
	return &Config{
		ApiUrl:      DefaultApiUrl,
		RequestRate: 10,
	}
}

// Loads defaults, then the yaml file at `path` (if not empty), then `envPath` (a .env file,
// missing is ok) and the process env. Process env wins over the .env file.
func LoadConfig(path string, envPath string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, err
		}
	}

	if envPath != "" {
		// godotenv.Load does not override variables already set in the process
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	if v := os.Getenv("FOLLOW_API_URL"); v != "" {
		config.ApiUrl = v
	}
	if v := os.Getenv("FOLLOW_SESSION"); v != "" {
		config.Session = v
	}
	if v := os.Getenv("FOLLOW_JWT"); v != "" {
		config.Jwt = v
	}
	if v := os.Getenv("FOLLOW_REQUEST_RATE"); v != "" {
		requestRate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, err
		}
		config.RequestRate = requestRate
	}
	if v := os.Getenv("FOLLOW_METRICS_ADDR"); v != "" {
		config.MetricsAddr = v
	}
	if v := os.Getenv("FOLLOW_ROLLBACK"); v != "" {
		rollback, err := strconv.ParseBool(v)
		if err != nil {
			return nil, err
		}
		config.Rollback = rollback
	}

	return config, nil
}
