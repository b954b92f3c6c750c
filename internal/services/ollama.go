package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/MegaGrindStone/agent-chat-ui/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama completes conversations with a model served by an Ollama instance.
type Ollama struct {
	host   string
	model  string
	params LLMParameters

	client *api.Client

	logger *slog.Logger
}

// NewOllama creates a new Ollama instance for the server at host.
func NewOllama(host, model string, params LLMParameters, logger *slog.Logger) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return Ollama{
		host:   host,
		model:  model,
		params: params,
		client: api.NewClient(u, &http.Client{}),
		logger: logger.With(slog.String("module", "ollama")),
	}, nil
}

// Complete returns the model's reply to messages, instructed by systemPrompt. The reply is streamed from the
// server and accumulated.
func (o Ollama) Complete(ctx context.Context, systemPrompt string, messages []models.ChatMessage) (string, error) {
	msgs := make([]api.Message, 0, len(messages)+1)
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		role := string(models.RoleAssistant)
		if msg.Role == models.RoleUser || msg.Role == models.RoleSystem {
			role = string(msg.Role)
		}
		msgs = append(msgs, api.Message{
			Role:    role,
			Content: msg.Content,
		})
	}
	if systemPrompt != "" {
		msgs = slices.Insert(msgs, 0, api.Message{
			Role:    "system",
			Content: systemPrompt,
		})
	}

	t := true
	req := api.ChatRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   &t,
		Options:  o.options(),
	}

	o.logger.Debug("Request", slog.String("host", o.host), slog.String("model", o.model))

	var sb strings.Builder
	if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
		sb.WriteString(res.Message.Content)
		return nil
	}); err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}

	return sb.String(), nil
}

func (o Ollama) options() map[string]any {
	opts := make(map[string]any)
	if o.params.Temperature != nil {
		opts["temperature"] = *o.params.Temperature
	}
	if o.params.TopP != nil {
		opts["top_p"] = *o.params.TopP
	}
	if o.params.Stop != nil {
		opts["stop"] = o.params.Stop
	}
	if o.params.Seed != nil {
		opts["seed"] = *o.params.Seed
	}
	if o.params.MaxTokens != nil {
		opts["num_predict"] = *o.params.MaxTokens
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}
