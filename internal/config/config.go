// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the warden configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Security SecurityConfig `toml:"security"`
	Verifier VerifierConfig `toml:"verifier"`
	Events   EventsConfig   `toml:"events"`
	Runner   RunnerConfig   `toml:"runner"`
}

// ServerConfig contains the HTTP transport settings.
type ServerConfig struct {
	Listen string `toml:"listen"`
}

// SecurityConfig controls secret handling.
type SecurityConfig struct {
	SecretKeyEnv    string `toml:"secret_key_env"`   // env var holding the store passphrase
	DevMode         bool   `toml:"dev_mode"`         // cleartext storage, stub verifier
	CredentialsFile string `toml:"credentials_file"` // optional credentials.toml to seed/watch
}

// VerifierConfig contains judge invocation settings.
type VerifierConfig struct {
	BaseURL          string `toml:"base_url"`
	Model            string `toml:"model"`
	APIKeyEnv        string `toml:"api_key_env"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
	MaxRetries       int    `toml:"max_retries"`
	BreakerThreshold int    `toml:"breaker_threshold"`
	BreakerCooldownS int    `toml:"breaker_cooldown_seconds"`
}

// EventsConfig contains event delivery settings.
type EventsConfig struct {
	BufferSize int    `toml:"buffer_size"`
	NatsURL    string `toml:"nats_url"`    // optional mirror; empty disables
	NatsPrefix string `toml:"nats_prefix"` // subject prefix for mirrored events
}

// RunnerConfig contains per-task orchestration settings.
type RunnerConfig struct {
	MaxAgents             int `toml:"max_agents"`
	CredentialWaitSeconds int `toml:"credential_wait_seconds"`
}

// New creates a config with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: ":8787",
		},
		Security: SecurityConfig{
			SecretKeyEnv: "WARDEN_SECRET_KEY",
		},
		Verifier: VerifierConfig{
			BaseURL:          "https://openrouter.ai/api/v1",
			Model:            "openai/gpt-4o-mini",
			APIKeyEnv:        "OPENROUTER_API_KEY",
			TimeoutSeconds:   30,
			MaxRetries:       3,
			BreakerThreshold: 3,
			BreakerCooldownS: 60,
		},
		Events: EventsConfig{
			BufferSize: 100,
			NatsPrefix: "warden.tasks",
		},
		Runner: RunnerConfig{
			MaxAgents:             5,
			CredentialWaitSeconds: 24 * 60 * 60,
		},
	}
}

// Default returns a default configuration.
func Default() *Config {
	return New()
}

// LoadFile loads configuration from a TOML file, on top of defaults.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads configuration from warden.toml in the current directory,
// falling back to defaults when the file does not exist.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	path := filepath.Join(cwd, "warden.toml")
	if _, err := os.Stat(path); err != nil {
		return New(), nil
	}
	return LoadFile(path)
}

// SecretKey returns the store passphrase from the configured environment variable.
func (c *Config) SecretKey() string {
	if c.Security.SecretKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Security.SecretKeyEnv)
}

// JudgeAPIKey returns the judge API key from the configured environment variable.
func (c *Config) JudgeAPIKey() string {
	if c.Verifier.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Verifier.APIKeyEnv)
}
