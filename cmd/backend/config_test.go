package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/MegaGrindStone/agent-chat-ui/internal/backend"
	"github.com/MegaGrindStone/agent-chat-ui/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "backend.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadExampleConfig(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "")

	cfg, err := loadConfig(filepath.Join("..", "..", "backend.example.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.Port)
	require.IsType(t, &ollamaConfig{}, cfg.LLM)
	assert.Equal(t, "llama3.2", cfg.LLM.(*ollamaConfig).Model)
	require.NotNil(t, cfg.LLM.(*ollamaConfig).Parameters.Temperature)
	assert.InDelta(t, 0.7, *cfg.LLM.(*ollamaConfig).Parameters.Temperature, 0.001)

	require.Len(t, cfg.Agents, 3)
	assert.Equal(t, []string{backend.PluginClock}, cfg.Agents[2].Plugins)

	llm, err := cfg.LLM.llm(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.IsType(t, services.Ollama{}, llm)
}

func TestLoadConfigProviders(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name string
		llm  string
		want backend.LLM
	}{
		{
			name: "openai",
			llm:  "{provider: openai, model: gpt-4o-mini, apiKey: key, baseURL: 'https://openrouter.ai/api/v1'}",
			want: services.OpenAI{},
		},
		{
			name: "anthropic",
			llm:  "{provider: anthropic, model: claude-3-5-haiku-latest, apiKey: key, parameters: {maxTokens: 512}}",
			want: services.Anthropic{},
		},
		{
			name: "ollama",
			llm:  "{provider: ollama, model: llama3.2, host: 'http://ollama:11434'}",
			want: services.Ollama{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "llm: "+tt.llm+"\nagents: [{name: A}]\n")

			cfg, err := loadConfig(path)
			require.NoError(t, err)

			llm, err := cfg.LLM.llm(logger)
			require.NoError(t, err)
			assert.IsType(t, tt.want, llm)
		})
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "no provider", content: "llm: {model: x}\nagents: [{name: A}]"},
		{name: "unknown provider", content: "llm: {provider: bard, model: x}\nagents: [{name: A}]"},
		{name: "no agents", content: "llm: {provider: ollama, model: x}"},
		{name: "unnamed agent", content: "llm: {provider: ollama, model: x}\nagents: [{instructions: hi}]"},
		{name: "unknown plugin", content: "llm: {provider: ollama, model: x}\nagents: [{name: A, plugins: [web]}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
		})
	}
}

func TestLLMRequiresModel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for _, llm := range []llmConfig{ollamaConfig{}, openAIConfig{}, anthropicConfig{}} {
		_, err := llm.llm(logger)
		require.Error(t, err)
	}
}
