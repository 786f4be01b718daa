package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ollama-claude-proxy/internal/aliases"
)

const (
	defaultPort            = 11434
	defaultLogLevel        = "INFO"
	defaultBaseURL         = "https://api.anthropic.com"
	defaultAPIVersion      = "2023-06-01"
	defaultUpstreamTimeout = 60 * time.Second
	defaultModel           = "claude-sonnet"
)

type Config struct {
	// Listen wins over Port when set.
	Listen         string          `yaml:"listen" env:"LISTEN"`
	Port           int             `yaml:"port" env:"FLASK_PORT"`
	LogLevel       string          `yaml:"log_level" env:"LOG_LEVEL"`
	DefaultModel   string          `yaml:"default_model" env:"DEFAULT_MODEL"`
	MetricsEnabled bool            `yaml:"metrics_enabled" env:"METRICS_ENABLED"`
	Anthropic      AnthropicConfig `yaml:"anthropic"`
	ModelList      []aliases.Alias `yaml:"model_list"`
}

type AnthropicConfig struct {
	APIKey  string        `yaml:"api_key" env:"ANTHROPIC_API_KEY"`
	BaseURL string        `yaml:"base_url" env:"ANTHROPIC_BASE_URL"`
	Version string        `yaml:"version" env:"ANTHROPIC_VERSION"`
	Timeout time.Duration `yaml:"timeout" env:"UPSTREAM_TIMEOUT"`
}

type Options struct {
	// Path is an optional YAML file.
	Path string
	// EnvFile is an optional dotenv file; ".env" is tried when empty.
	EnvFile string
}

// Load layers defaults, the YAML file, the dotenv file and the process
// environment, in that order of precedence.
func Load(opts Options) (*Config, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	cfg := &Config{MetricsEnabled: true}
	if strings.TrimSpace(opts.Path) != "" {
		content, err := os.ReadFile(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(content))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFile(path string) error {
	if strings.TrimSpace(path) != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = "0.0.0.0:" + strconv.Itoa(c.Port)
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = defaultLogLevel
	}
	c.LogLevel = strings.ToUpper(strings.TrimSpace(c.LogLevel))
	if strings.TrimSpace(c.DefaultModel) == "" {
		c.DefaultModel = defaultModel
	}
	if strings.TrimSpace(c.Anthropic.BaseURL) == "" {
		c.Anthropic.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(c.Anthropic.Version) == "" {
		c.Anthropic.Version = defaultAPIVersion
	}
	if c.Anthropic.Timeout == 0 {
		c.Anthropic.Timeout = defaultUpstreamTimeout
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Anthropic.APIKey) == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY environment variable is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	u, err := url.Parse(c.Anthropic.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("anthropic.base_url is invalid: %s", c.Anthropic.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("anthropic.base_url must use http/https")
	}
	if c.Anthropic.Timeout < 0 {
		return fmt.Errorf("anthropic.timeout must be positive")
	}
	if len(c.ModelList) > 0 {
		if _, err := aliases.New(c.ModelList); err != nil {
			return fmt.Errorf("model_list: %w", err)
		}
	}
	return nil
}

// Aliases returns the configured alias table, or the built-in one when the
// config does not define model_list.
func (c *Config) Aliases() (*aliases.Table, error) {
	if len(c.ModelList) == 0 {
		return aliases.Default(), nil
	}
	return aliases.New(c.ModelList)
}

// SlogLevel maps log_level onto slog; unknown names mean INFO.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(strings.TrimSpace(c.LogLevel)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR", "CRITICAL":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
