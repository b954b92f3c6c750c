// Package config loads the front-end configuration: a YAML file with ${VAR} expansion, followed by the
// environment overrides for the chat backend endpoints.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/MegaGrindStone/agent-chat-ui/internal/logging"
	"github.com/MegaGrindStone/agent-chat-ui/internal/models"
	"gopkg.in/yaml.v3"
)

// Config is the complete front-end configuration.
type Config struct {
	Port        string        `yaml:"port"`
	DefaultMode string        `yaml:"defaultMode"`
	Chat        ChatConfig    `yaml:"chat"`
	History     HistoryConfig `yaml:"history"`
	Logging     LoggingConfig `yaml:"logging"`
}

// ChatConfig selects and configures the chat service.
type ChatConfig struct {
	Backend       string `yaml:"backend"`
	StandardURL   string `yaml:"standardURL"`
	MultiAgentURL string `yaml:"multiAgentURL"`
	ResponseStyle string `yaml:"responseStyle"`
	MaxEventSize  int    `yaml:"maxEventSize"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// HistoryConfig selects the chat history store.
type HistoryConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// LoggingConfig holds the logger level and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Chat backends.
const (
	BackendAPI       = "api"
	BackendSimulated = "simulated"
)

// History drivers.
const (
	DriverBolt   = "bolt"
	DriverMemory = "memory"
)

// Environment variables overriding the chat endpoints.
const (
	EnvStandardURL   = "STANDARD_CHAT_API_URL"
	EnvMultiAgentURL = "MULTI_AGENT_CHAT_API_URL"
	EnvResponseStyle = "MULTI_AGENT_RESPONSE_MODE"
)

const (
	defaultPort          = "8080"
	defaultStandardURL   = "http://localhost:8081/chat"
	defaultMultiAgentURL = "http://localhost:8081/multi-agent"
	defaultTimeout       = 30 * time.Second
	defaultMaxEventSize  = 1 << 20
	defaultStoreFile     = "store.db"
)

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Dir returns the directory holding the configuration file and the bolt store.
func Dir() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("getting user config dir: %w", err)
	}
	return filepath.Join(cfgDir, "agentchatui"), nil
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg, err := Parse(data, os.Getenv)
	if err != nil {
		return nil, err
	}
	if cfg.History.Driver == DriverBolt && !filepath.IsAbs(cfg.History.Path) {
		cfg.History.Path = filepath.Join(filepath.Dir(path), cfg.History.Path)
	}
	return cfg, nil
}

// Parse decodes data, expands ${VAR} patterns and applies the environment overrides, all through getenv.
func Parse(data []byte, getenv func(string) string) (*Config, error) {
	expanded := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		return getenv(envPattern.FindStringSubmatch(match)[1])
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if v := getenv(EnvStandardURL); v != "" {
		cfg.Chat.StandardURL = v
	}
	if v := getenv(EnvMultiAgentURL); v != "" {
		cfg.Chat.MultiAgentURL = v
	}
	if v := getenv(EnvResponseStyle); v != "" {
		cfg.Chat.ResponseStyle = v
	}

	if cfg.Chat.TimeoutRaw != "" {
		timeout, err := time.ParseDuration(cfg.Chat.TimeoutRaw)
		if err != nil {
			return nil, fmt.Errorf("parsing chat.timeout %q: %w", cfg.Chat.TimeoutRaw, err)
		}
		if timeout <= 0 {
			return nil, fmt.Errorf("chat.timeout must be positive, got %s", timeout)
		}
		cfg.Chat.Timeout = timeout
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if c.DefaultMode == "" {
		c.DefaultMode = string(models.ModeStandard)
	}
	if c.Chat.Backend == "" {
		c.Chat.Backend = BackendAPI
	}
	if c.Chat.StandardURL == "" {
		c.Chat.StandardURL = defaultStandardURL
	}
	if c.Chat.MultiAgentURL == "" {
		c.Chat.MultiAgentURL = defaultMultiAgentURL
	}
	if c.Chat.ResponseStyle == "" {
		c.Chat.ResponseStyle = string(models.ResponseStyleStream)
	}
	if c.Chat.Timeout == 0 {
		c.Chat.Timeout = defaultTimeout
	}
	if c.Chat.MaxEventSize == 0 {
		c.Chat.MaxEventSize = defaultMaxEventSize
	}
	if c.History.Driver == "" {
		c.History.Driver = DriverBolt
	}
	if c.History.Driver == DriverBolt && c.History.Path == "" {
		c.History.Path = defaultStoreFile
	}
	if c.Logging.Format == "" {
		c.Logging.Format = logging.FormatText
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := models.ParseMode(c.DefaultMode); err != nil {
		return fmt.Errorf("defaultMode: %w", err)
	}

	switch c.Chat.Backend {
	case BackendAPI, BackendSimulated:
	default:
		return fmt.Errorf("chat.backend must be %q or %q, got %q", BackendAPI, BackendSimulated, c.Chat.Backend)
	}
	if _, err := models.ParseResponseStyle(c.Chat.ResponseStyle); err != nil {
		return fmt.Errorf("chat.responseStyle: %w", err)
	}
	if c.Chat.Timeout <= 0 {
		return fmt.Errorf("chat.timeout must be positive")
	}
	if c.Chat.MaxEventSize < 0 {
		return fmt.Errorf("chat.maxEventSize must not be negative")
	}

	switch c.History.Driver {
	case DriverBolt, DriverMemory:
	default:
		return fmt.Errorf("history.driver must be %q or %q, got %q", DriverBolt, DriverMemory, c.History.Driver)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Logging.Format {
	case logging.FormatText, logging.FormatJSON, logging.FormatColor:
	default:
		return fmt.Errorf("logging.format must be text, json or color, got %q", c.Logging.Format)
	}

	return nil
}

// Mode returns the parsed default mode. It is only meaningful on a validated config.
func (c *Config) Mode() models.Mode {
	mode, _ := models.ParseMode(c.DefaultMode)
	return mode
}
