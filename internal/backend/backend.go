// Package backend is a development chat backend speaking the same wire protocol as the production agent
// services: a standard endpoint answering with a JSON array, and a multi-agent endpoint answering either as
// an event stream (one event per payload) or as a JSON array.
//
// Replies are produced by a language model behind the LLM interface. In multi-agent mode every configured
// agent answers in turn, and each one sees the replies of the agents before it.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/MegaGrindStone/agent-chat-ui/internal/models"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// LLM produces one reply to a conversation under a system prompt.
type LLM interface {
	Complete(ctx context.Context, systemPrompt string, messages []models.ChatMessage) (string, error)
}

// Agent is a persona answering in the conversation.
type Agent struct {
	Name         string   `yaml:"name"`
	Instructions string   `yaml:"instructions"`
	Plugins      []string `yaml:"plugins"`
}

// Config holds the personas of a Server.
type Config struct {
	// Assistant answers on the standard endpoint.
	Assistant Agent
	// Agents answer on the multi-agent endpoints, in order.
	Agents []Agent
	// Now is the time source of the clock plugin. Defaults to time.Now.
	Now func() time.Time
}

// Server serves the chat endpoints.
type Server struct {
	llm       LLM
	assistant Agent
	agents    []Agent
	now       func() time.Time

	logger *slog.Logger
}

// PluginClock lets an agent look up the current time before answering.
const PluginClock = "clock"

// Wire roles.
const (
	roleAssistant = "ASSISTANT"
	roleTool      = "TOOL"
)

const errLoggerKey = "err"

type chatRequest struct {
	Messages []models.ChatMessage `json:"messages"`
}

// payload is one message on the wire.
type payload struct {
	Content    any               `json:"content,omitempty"`
	AuthorRole string            `json:"authorRole"`
	AuthorName string            `json:"authorName,omitempty"`
	Metadata   *payloadMetadata  `json:"metadata,omitempty"`
	ToolCall   []models.ToolCall `json:"toolCall,omitempty"`
}

type payloadMetadata struct {
	ID         string `json:"id,omitempty"`
	AuthorName string `json:"authorName,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

var (
	errNoMessages = errors.New("messages must not be empty")
	errNoAgents   = errors.New("no agents configured")
)

// NewServer creates a Server answering through llm.
func NewServer(llm LLM, cfg Config, logger *slog.Logger) *Server {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	assistant := cfg.Assistant
	if assistant.Name == "" {
		assistant.Name = "Assistant"
	}
	return &Server{
		llm:       llm,
		assistant: assistant,
		agents:    cfg.Agents,
		now:       now,
		logger:    logger.With(slog.String("module", "backend")),
	}
}

// Register installs the endpoints on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /chat", s.HandleChat)
	mux.HandleFunc("POST /multi-agent/stream", s.HandleMultiAgentStream)
	mux.HandleFunc("POST /multi-agent/batch", s.HandleMultiAgentBatch)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// HandleChat answers with the assistant's reply as a JSON array.
func (s *Server) HandleChat(w http.ResponseWriter, r *http.Request) {
	s.serveBatch(w, r, []Agent{s.assistant})
}

// HandleMultiAgentBatch answers with every agent's reply in one JSON array.
func (s *Server) HandleMultiAgentBatch(w http.ResponseWriter, r *http.Request) {
	s.serveBatch(w, r, s.agents)
}

// HandleMultiAgentStream answers with one event per payload, sent as soon as it is produced.
func (s *Server) HandleMultiAgentStream(w http.ResponseWriter, r *http.Request) {
	history, err := decodeRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		s.logger.Error("Failed to upgrade stream", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	sent := 0
	err = s.turn(r.Context(), s.agents, history, func(p payload) error {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		msg := &sse.Message{}
		msg.AppendData(string(data))
		if err := sess.Send(msg); err != nil {
			return fmt.Errorf("failed to send event: %w", err)
		}
		if err := sess.Flush(); err != nil {
			return fmt.Errorf("failed to flush event: %w", err)
		}
		sent++
		return nil
	})
	if err == nil {
		return
	}

	s.logger.Error("Failed to stream turn",
		slog.Int("sent", sent), slog.String(errLoggerKey, err.Error()))
	if sent == 0 {
		writeError(w, statusOf(err), err)
	}
}

func (s *Server) serveBatch(w http.ResponseWriter, r *http.Request, agents []Agent) {
	history, err := decodeRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var payloads []payload
	err = s.turn(r.Context(), agents, history, func(p payload) error {
		payloads = append(payloads, p)
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to answer turn", slog.String(errLoggerKey, err.Error()))
		writeError(w, statusOf(err), err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payloads); err != nil {
		s.logger.Error("Failed to write response", slog.String(errLoggerKey, err.Error()))
	}
}

// turn lets every agent answer in order and hands each produced payload to emit.
func (s *Server) turn(ctx context.Context, agents []Agent, history []models.ChatMessage,
	emit func(payload) error,
) error {
	if len(agents) == 0 {
		return errNoAgents
	}

	conversation := slices.Clone(history)
	for _, agent := range agents {
		msgs := conversation
		if slices.Contains(agent.Plugins, PluginClock) {
			now, err := s.callClock(agent, emit)
			if err != nil {
				return err
			}
			msgs = append(slices.Clip(msgs), models.ChatMessage{
				Role:    models.RoleSystem,
				Content: "The current time is " + now + ".",
			})
		}

		reply, err := s.llm.Complete(ctx, agent.Instructions, msgs)
		if err != nil {
			return fmt.Errorf("agent %s failed to reply: %w", agent.Name, err)
		}
		s.logger.Debug("Agent replied", slog.String("agent", agent.Name), slog.Int("length", len(reply)))

		if err := emit(payload{
			Content:    reply,
			AuthorRole: roleAssistant,
			AuthorName: agent.Name,
		}); err != nil {
			return err
		}

		conversation = append(conversation, models.ChatMessage{
			Role:    models.RoleAssistant,
			Content: fmt.Sprintf("[%s] %s", agent.Name, reply),
		})
	}
	return nil
}

// callClock emits the tool call and the tool result of one clock lookup and returns the looked up time.
func (s *Server) callClock(agent Agent, emit func(payload) error) (string, error) {
	callID := uuid.New().String()
	if err := emit(payload{
		AuthorRole: roleAssistant,
		AuthorName: agent.Name,
		ToolCall: []models.ToolCall{{
			ID:           callID,
			PluginName:   PluginClock,
			FunctionName: "now",
			Arguments:    map[string]any{},
		}},
	}); err != nil {
		return "", err
	}

	now := s.now().Format(time.RFC3339)
	if err := emit(payload{
		Content:    map[string]string{"time": now},
		AuthorRole: roleTool,
		Metadata:   &payloadMetadata{ID: callID, AuthorName: agent.Name},
	}); err != nil {
		return "", err
	}
	return now, nil
}

func decodeRequest(r *http.Request) ([]models.ChatMessage, error) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if len(req.Messages) == 0 {
		return nil, errNoMessages
	}
	return req.Messages, nil
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, errNoAgents):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	}
	return http.StatusBadGateway
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}
