package main

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"

	"github.com/MegaGrindStone/agent-chat-ui/internal/backend"
	"github.com/MegaGrindStone/agent-chat-ui/internal/services"
	"gopkg.in/yaml.v3"
)

type llmConfig interface {
	llm(logger *slog.Logger) (backend.LLM, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider   string                 `yaml:"provider"`
	Model      string                 `yaml:"model"`
	Parameters services.LLMParameters `yaml:"parameters"`
}

type config struct {
	Port      string          `yaml:"port"`
	LLM       llmConfig       `yaml:"llm"`
	Assistant backend.Agent   `yaml:"assistant"`
	Agents    []backend.Agent `yaml:"agents"`
	Logging   loggingConfig   `yaml:"logging"`
}

type loggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	Endpoint      string `yaml:"endpoint"`
}

const defaultOllamaHost = "http://127.0.0.1:11434"

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func loadConfig(path string) (config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return config{}, fmt.Errorf("error reading config file: %w", err)
	}
	expanded := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})

	cfg := config{}
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	if cfg.Port == "" {
		cfg.Port = "8081"
	}
	if len(cfg.Agents) == 0 {
		return config{}, fmt.Errorf("at least one agent is required")
	}
	for i, agent := range cfg.Agents {
		if agent.Name == "" {
			return config{}, fmt.Errorf("agent %d has no name", i+1)
		}
		for _, plugin := range agent.Plugins {
			if plugin != backend.PluginClock {
				return config{}, fmt.Errorf("agent %s: unknown plugin %q", agent.Name, plugin)
			}
		}
	}
	return cfg, nil
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port      string          `yaml:"port"`
		LLM       map[string]any  `yaml:"llm"`
		Assistant backend.Agent   `yaml:"assistant"`
		Agents    []backend.Agent `yaml:"agents"`
		Logging   loggingConfig   `yaml:"logging"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "ollama":
		llm = &ollamaConfig{}
	case "openai":
		llm = &openAIConfig{}
	case "anthropic":
		llm = &anthropicConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.LLM = llm
	c.Assistant = rawConfig.Assistant
	c.Agents = rawConfig.Agents
	c.Logging = rawConfig.Logging

	return nil
}

func (o ollamaConfig) llm(logger *slog.Logger) (backend.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = defaultOllamaHost
	}
	ollama, err := services.NewOllama(host, o.Model, o.Parameters, logger)
	if err != nil {
		return nil, err
	}
	return ollama, nil
}

func (o openAIConfig) llm(logger *slog.Logger) (backend.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return services.NewOpenAI(apiKey, o.BaseURL, o.Model, o.Parameters, logger), nil
}

func (a anthropicConfig) llm(logger *slog.Logger) (backend.LLM, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return services.NewAnthropic(apiKey, a.Endpoint, a.Model, a.Parameters, logger), nil
}
