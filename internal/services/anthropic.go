package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/agent-chat-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Anthropic completes conversations with the Anthropic messages API. Replies are streamed as server-sent
// events and accumulated.
type Anthropic struct {
	apiKey    string
	endpoint  string
	model     string
	maxTokens int
	params    LLMParameters

	client *http.Client

	logger *slog.Logger
}

type anthropicChatRequest struct {
	Model         string             `json:"model"`
	Messages      []anthropicMessage `json:"messages"`
	System        string             `json:"system,omitempty"`
	MaxTokens     int                `json:"max_tokens"`
	Temperature   *float32           `json:"temperature,omitempty"`
	TopP          *float32           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicStreamResponse struct {
	Type  string `json:"type"`
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

const (
	// AnthropicAPIEndpoint is the default base URL of the Anthropic API.
	AnthropicAPIEndpoint = "https://api.anthropic.com/v1"

	anthropicDefaultMaxTokens = 1024
)

// NewAnthropic creates a new Anthropic instance. An empty endpoint means AnthropicAPIEndpoint, and
// params.MaxTokens overrides the default token limit.
func NewAnthropic(apiKey, endpoint, model string, params LLMParameters, logger *slog.Logger) Anthropic {
	if endpoint == "" {
		endpoint = AnthropicAPIEndpoint
	}
	maxTokens := anthropicDefaultMaxTokens
	if params.MaxTokens != nil {
		maxTokens = *params.MaxTokens
	}

	return Anthropic{
		apiKey:    apiKey,
		endpoint:  strings.TrimRight(endpoint, "/"),
		model:     model,
		maxTokens: maxTokens,
		params:    params,
		client:    &http.Client{},
		logger:    logger.With(slog.String("module", "anthropic")),
	}
}

// Complete returns the model's reply to messages, instructed by systemPrompt.
func (a Anthropic) Complete(ctx context.Context, systemPrompt string, messages []models.ChatMessage) (string, error) {
	var sb strings.Builder
	for chunk, err := range a.stream(ctx, systemPrompt, messages) {
		if err != nil {
			return "", err
		}
		sb.WriteString(chunk)
	}
	return sb.String(), nil
}

func (a Anthropic) stream(ctx context.Context, systemPrompt string, messages []models.ChatMessage) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		system, msgs := anthropicMessages(systemPrompt, messages)

		reqBody := anthropicChatRequest{
			Model:         a.model,
			Messages:      msgs,
			Stream:        true,
			System:        system,
			MaxTokens:     a.maxTokens,
			Temperature:   a.params.Temperature,
			TopP:          a.params.TopP,
			StopSequences: a.params.Stop,
		}

		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			yield("", fmt.Errorf("error marshaling request: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			a.endpoint+"/messages", bytes.NewBuffer(jsonBody))
		if err != nil {
			yield("", fmt.Errorf("error creating request: %w", err))
			return
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", a.apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")

		resp, err := a.client.Do(req)
		if err != nil {
			yield("", fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			yield("", fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body)))
			return
		}

		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				yield("", fmt.Errorf("error reading response: %w", err))
				return
			}
			switch ev.Type {
			case "error":
				var e anthropicError
				if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
					yield("", fmt.Errorf("error unmarshaling error: %w", err))
					return
				}
				yield("", fmt.Errorf("anthropic error %s: %s", e.Error.Type, e.Error.Message))
				return
			case "message_stop":
				return
			case "content_block_delta":
				var res anthropicStreamResponse
				if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
					yield("", fmt.Errorf("error unmarshaling response: %w", err))
					return
				}
				if !yield(res.Delta.Text, nil) {
					return
				}
			default:
				a.logger.Debug("Ignoring stream event", slog.String("type", ev.Type))
			}
		}
	}
}

// anthropicMessages moves system-role entries into the system prompt, since
// the messages endpoint only accepts user and assistant turns.
func anthropicMessages(systemPrompt string, messages []models.ChatMessage) (string, []anthropicMessage) {
	system := []string{}
	if systemPrompt != "" {
		system = append(system, systemPrompt)
	}
	msgs := make([]anthropicMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		switch msg.Role {
		case models.RoleSystem:
			system = append(system, msg.Content)
		case models.RoleUser:
			msgs = append(msgs, anthropicMessage{Role: string(models.RoleUser), Content: msg.Content})
		default:
			msgs = append(msgs, anthropicMessage{Role: string(models.RoleAssistant), Content: msg.Content})
		}
	}
	return strings.Join(system, "\n\n"), msgs
}
