package config

import (
	"encoding/json"
	"fmt"
	"os"

	"httploader/internal/parse"
	"httploader/internal/registry"
	"httploader/internal/transport"
)

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from JSON
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.BatchWindow == 0 {
		cfg.BatchWindow = DefaultBatchWindow
	}
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error")
	}

	if cfg.RequestTimeout < 0 {
		return fmt.Errorf("requestTimeout must be non-negative")
	}
	if cfg.HandshakeTimeout < 0 {
		return fmt.Errorf("handshakeTimeout must be non-negative")
	}
	if cfg.MessageTimeout < 0 {
		return fmt.Errorf("messageTimeout must be non-negative")
	}
	if cfg.MaxBodySize < 0 {
		return fmt.Errorf("maxBodySize must be non-negative")
	}
	if cfg.Concurrency < 0 {
		return fmt.Errorf("concurrency must be non-negative")
	}

	for i, batch := range cfg.Batches {
		if len(batch.Entries) == 0 {
			return fmt.Errorf("batch[%d]: at least one entry is required", i)
		}
		for j, e := range batch.Entries {
			if e.Key == "" {
				return fmt.Errorf("batch[%d], entry[%d]: key is required", i, j)
			}
			if e.URL == "" {
				return fmt.Errorf("batch[%d], entry '%s': url is required", i, e.Key)
			}
			if _, err := parse.FromName(e.Parse, e.Transform); err != nil {
				return fmt.Errorf("batch[%d], entry '%s': %w", i, e.Key, err)
			}
		}
	}

	return nil
}

// RegistryEntries converts the batch into registry entries
func (b BatchConfig) RegistryEntries() ([]registry.Entry, error) {
	out := make([]registry.Entry, 0, len(b.Entries))
	for _, e := range b.Entries {
		strategy, err := parse.FromName(e.Parse, e.Transform)
		if err != nil {
			return nil, fmt.Errorf("entry '%s': %w", e.Key, err)
		}

		var body []byte
		if e.Body != "" {
			body = []byte(e.Body)
		}

		out = append(out, registry.Entry{
			Key: e.Key,
			Target: transport.Target{
				URL:     e.URL,
				Method:  e.Method,
				Headers: e.Headers,
				Body:    body,
			},
			Parse: strategy,
		})
	}
	return out, nil
}
