package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the promptgate API configuration.
type Config struct {
	HTTP      HTTPConfig                `yaml:"http"`
	Database  DatabaseConfig            `yaml:"database"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Auth      AuthConfig                `yaml:"auth"`
	Quota     QuotaConfig               `yaml:"quota"`
	CORS      CORSConfig                `yaml:"cors"`
	Logging   LoggingConfig             `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
// Each credential maps a bearer token to a verified account identity.
type AuthConfig struct {
	Credentials []CredentialConfig `yaml:"credentials"`
}

// CredentialConfig binds a static bearer token to an account.
type CredentialConfig struct {
	Token     string `yaml:"token"`
	AccountID string `yaml:"account_id"`
	Email     string `yaml:"email"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port           int `yaml:"port"`
	ReadTimeoutSec int `yaml:"read_timeout_sec"`
	ShutdownSec    int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds ledger store connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	KeyPrefix        string   `yaml:"key_prefix"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// ProviderConfig holds upstream LLM provider settings.
type ProviderConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	APIVersion string `yaml:"api_version"` // anthropic-version header, anthropic only
	TimeoutSec int    `yaml:"timeout_sec"`
}

// QuotaConfig holds daily quota policy settings.
type QuotaConfig struct {
	// ResetTimezone is the IANA zone whose midnight rolls the daily counter over.
	// Empty means the process-local timezone.
	ResetTimezone string `yaml:"reset_timezone"`
	UpgradeURL    string `yaml:"upgrade_url"`
}

// CORSConfig holds cross-origin settings for the public endpoints.
type CORSConfig struct {
	AllowedOrigin string `yaml:"allowed_origin"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Database.KeyPrefix == "" {
		c.Database.KeyPrefix = "promptgate:"
	}
	if c.Quota.UpgradeURL == "" {
		c.Quota.UpgradeURL = "/pricing"
	}
	for name, p := range c.Providers {
		if p.TimeoutSec <= 0 {
			p.TimeoutSec = 300
		}
		if p.BaseURL == "" {
			switch name {
			case "openai":
				p.BaseURL = "https://api.openai.com/v1"
			case "anthropic":
				p.BaseURL = "https://api.anthropic.com/v1"
			}
		}
		if name == "anthropic" && p.APIVersion == "" {
			p.APIVersion = "2023-06-01"
		}
		c.Providers[name] = p
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	for name, p := range c.Providers {
		if p.APIKey == "" {
			return fmt.Errorf("providers.%s.api_key is required", name)
		}
	}
	for i, cred := range c.Auth.Credentials {
		if cred.Token == "" || cred.AccountID == "" {
			return fmt.Errorf("auth.credentials[%d] must set token and account_id", i)
		}
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
