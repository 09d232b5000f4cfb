package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when neither --config nor INVOICER_CONFIG is set.
const DefaultPath = "invoicer.yaml"

// Environment variables that override file values.
const (
	EnvConfigPath   = "INVOICER_CONFIG"
	EnvClientID     = "GOOGLE_CLIENT_ID"
	EnvClientSecret = "GOOGLE_CLIENT_SECRET"
	EnvRecipient    = "INVOICER_RECIPIENT"
)

// ResolvePath returns the config path from the flag value, the environment, or the default.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv(EnvConfigPath); path != "" {
		return path
	}
	return DefaultPath
}

// Load reads the configuration at path. A missing file is not an error: the
// defaults plus environment overrides are used instead. The result is validated.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		content = nil
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults, expanding ${VAR} references first.
// It does not validate.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if len(data) == 0 {
		return cfg, nil
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg, nil
}

// applyEnv fills secrets and the recipient from the environment when the
// file leaves them empty.
func applyEnv(cfg *Config) {
	if cfg.OAuth.ClientID == "" {
		cfg.OAuth.ClientID = os.Getenv(EnvClientID)
	}
	if cfg.OAuth.ClientSecret == "" {
		cfg.OAuth.ClientSecret = os.Getenv(EnvClientSecret)
	}
	if cfg.Email.Recipient == "" {
		cfg.Email.Recipient = os.Getenv(EnvRecipient)
	}
}
