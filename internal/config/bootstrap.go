// Package config provides the engine's two configuration layers: the
// boot-time YAML file (endpoints, paths, credentials wiring) and the
// operator-patchable trading configuration persisted as JSON.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v3"
)

// Bootstrap is the non-patchable process configuration read once at
// startup. Credentials themselves come from environment variables; the
// YAML may reference them with ${VAR} expansion.
type Bootstrap struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Exchange    ExchangeConfig    `yaml:"exchange"`
	Advisory    AdvisoryConfig    `yaml:"advisory"`
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
}

// EnvironmentConfig defines the runtime environment settings.
type EnvironmentConfig struct {
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
	Timezone string `yaml:"timezone"`  // e.g. "Asia/Seoul"; daily reset and forced close use this
}

// ExchangeConfig defines venue API settings.
type ExchangeConfig struct {
	Testnet bool   `yaml:"testnet"`
	BaseURL string `yaml:"base_url"`  // optional override
	WSURL   string `yaml:"ws_url"`    // optional override
	APIKey  string `yaml:"api_key"`   // usually ${EXCHANGE_API_KEY}
	Secret  string `yaml:"api_secret"`
}

// AdvisoryConfig defines the LLM advisory client settings.
type AdvisoryConfig struct {
	Provider string `yaml:"provider"` // claude | openai | deepseek
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"` // optional override
	APIKey   string `yaml:"api_key"`  // usually ${ADVISORY_API_KEY}
}

// ServerConfig defines the HTTP control surface settings.
type ServerConfig struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"` // empty disables auth
}

// StorageConfig defines where persisted files live.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
	LogDir  string `yaml:"log_dir"`
}

// LoadBootstrap reads and parses the YAML bootstrap file. Environment
// variables are expanded before decoding; unknown fields are rejected.
func LoadBootstrap(path string) (*Bootstrap, error) {
	if path == "" {
		path = "config.yaml"
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var b Bootstrap
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	b.applyDefaults()
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &b, nil
}

func (b *Bootstrap) applyDefaults() {
	if b.Environment.LogLevel == "" {
		b.Environment.LogLevel = "info"
	}
	if b.Environment.Timezone == "" {
		b.Environment.Timezone = "UTC"
	}
	if b.Server.Port == 0 {
		b.Server.Port = 8080
	}
	if b.Storage.DataDir == "" {
		b.Storage.DataDir = "data"
	}
	if b.Storage.LogDir == "" {
		b.Storage.LogDir = "logs"
	}
	if b.Advisory.Provider == "" {
		b.Advisory.Provider = "openai"
	}
}

// Validate checks the bootstrap values are valid and consistent.
func (b *Bootstrap) Validate() error {
	if _, err := logrus.ParseLevel(b.Environment.LogLevel); err != nil {
		return fmt.Errorf("environment.log_level invalid: %w", err)
	}
	if _, err := time.LoadLocation(b.Environment.Timezone); err != nil {
		return fmt.Errorf("environment.timezone invalid: %w", err)
	}
	if b.Exchange.APIKey == "" {
		return fmt.Errorf("exchange.api_key is required")
	}
	if b.Exchange.Secret == "" {
		return fmt.Errorf("exchange.api_secret is required")
	}
	if b.Server.Port < 1 || b.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1,65535]")
	}
	switch b.Advisory.Provider {
	case "claude", "openai", "deepseek":
	default:
		return fmt.Errorf("advisory.provider must be claude, openai, or deepseek")
	}
	return nil
}

// Location returns the configured timezone. Validate guarantees it
// parses; the fallback exists for zero-value structs in tests.
func (b *Bootstrap) Location() *time.Location {
	loc, err := time.LoadLocation(b.Environment.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LogrusLevel converts the configured log level.
func (b *Bootstrap) LogrusLevel() logrus.Level {
	lvl, err := logrus.ParseLevel(b.Environment.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
