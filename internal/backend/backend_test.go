package backend_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/agent-chat-ui/internal/backend"
	"github.com/MegaGrindStone/agent-chat-ui/internal/models"
	"github.com/MegaGrindStone/agent-chat-ui/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmaxmax/go-sse"
)

type llmCall struct {
	system   string
	messages []models.ChatMessage
}

type fakeLLM struct {
	mu    sync.Mutex
	calls []llmCall
	err   error
	// failAfter fails every call after the first failAfter calls, when positive.
	failAfter int
}

func (f *fakeLLM) Complete(_ context.Context, system string, msgs []models.ChatMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, llmCall{system: system, messages: msgs})
	if f.err != nil && len(f.calls) > f.failAfter {
		return "", f.err
	}
	return "reply to " + system, nil
}

func (f *fakeLLM) recorded() []llmCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type wirePayload struct {
	Content    json.RawMessage   `json:"content"`
	AuthorRole string            `json:"authorRole"`
	AuthorName string            `json:"authorName"`
	Metadata   *wireMetadata     `json:"metadata"`
	ToolCall   []models.ToolCall `json:"toolCall"`
}

type wireMetadata struct {
	ID string `json:"id"`
}

var fixedNow = time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBackend(t *testing.T, llm backend.LLM, agents ...backend.Agent) *httptest.Server {
	t.Helper()

	srv := backend.NewServer(llm, backend.Config{
		Assistant: backend.Agent{Name: "Helper", Instructions: "assist"},
		Agents:    agents,
		Now:       func() time.Time { return fixedNow },
	}, discardLogger())

	mux := http.NewServeMux()
	srv.Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url string, body string) *http.Response {
	t.Helper()

	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

const helloRequest = `{"messages":[{"role":"user","content":"Hello"}]}`

func TestHandleChat(t *testing.T) {
	llm := &fakeLLM{}
	ts := newBackend(t, llm)

	resp := post(t, ts.URL+"/chat", helloRequest)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payloads []wirePayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payloads))
	require.Len(t, payloads, 1)
	assert.Equal(t, "ASSISTANT", payloads[0].AuthorRole)
	assert.Equal(t, "Helper", payloads[0].AuthorName)
	assert.JSONEq(t, `"reply to assist"`, string(payloads[0].Content))

	calls := llm.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, []models.ChatMessage{{Role: models.RoleUser, Content: "Hello"}}, calls[0].messages)
}

func TestBadRequests(t *testing.T) {
	ts := newBackend(t, &fakeLLM{}, backend.Agent{Name: "A"})

	for _, path := range []string{"/chat", "/multi-agent/batch", "/multi-agent/stream"} {
		for _, body := range []string{"{", `{"messages":[]}`} {
			resp := post(t, ts.URL+path, body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "%s %s", path, body)
		}
	}
}

func TestMultiAgentBatchSeesEarlierReplies(t *testing.T) {
	llm := &fakeLLM{}
	ts := newBackend(t, llm,
		backend.Agent{Name: "Research Agent", Instructions: "research"},
		backend.Agent{Name: "Code Agent", Instructions: "code"},
	)

	resp := post(t, ts.URL+"/multi-agent/batch", helloRequest)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payloads []wirePayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payloads))
	require.Len(t, payloads, 2)
	assert.Equal(t, "Research Agent", payloads[0].AuthorName)
	assert.Equal(t, "Code Agent", payloads[1].AuthorName)

	calls := llm.recorded()
	require.Len(t, calls, 2)
	assert.Len(t, calls[0].messages, 1)
	require.Len(t, calls[1].messages, 2)
	assert.Equal(t, models.RoleAssistant, calls[1].messages[1].Role)
	assert.Equal(t, "[Research Agent] reply to research", calls[1].messages[1].Content)
}

func TestMultiAgentStream(t *testing.T) {
	ts := newBackend(t, &fakeLLM{},
		backend.Agent{Name: "Research Agent", Instructions: "research"},
		backend.Agent{Name: "Planning Agent", Instructions: "plan", Plugins: []string{backend.PluginClock}},
	)

	resp := post(t, ts.URL+"/multi-agent/stream", helloRequest)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	var payloads []wirePayload
	for ev, err := range sse.Read(resp.Body, nil) {
		require.NoError(t, err)
		var p wirePayload
		require.NoError(t, json.Unmarshal([]byte(ev.Data), &p))
		payloads = append(payloads, p)
	}

	require.Len(t, payloads, 4)
	assert.Equal(t, "Research Agent", payloads[0].AuthorName)

	call := payloads[1]
	assert.Equal(t, "ASSISTANT", call.AuthorRole)
	require.Len(t, call.ToolCall, 1)
	assert.Equal(t, "clock", call.ToolCall[0].PluginName)
	assert.Equal(t, "now", call.ToolCall[0].FunctionName)

	result := payloads[2]
	assert.Equal(t, "TOOL", result.AuthorRole)
	require.NotNil(t, result.Metadata)
	assert.Equal(t, call.ToolCall[0].ID, result.Metadata.ID)
	assert.JSONEq(t, `{"time":"2025-03-01T10:30:00Z"}`, string(result.Content))

	assert.Equal(t, "Planning Agent", payloads[3].AuthorName)
}

func TestClockResultReachesAgent(t *testing.T) {
	llm := &fakeLLM{}
	ts := newBackend(t, llm, backend.Agent{Name: "Planner", Instructions: "plan", Plugins: []string{"clock"}})

	resp := post(t, ts.URL+"/multi-agent/batch", helloRequest)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	calls := llm.recorded()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].messages, 2)
	assert.Equal(t, models.RoleSystem, calls[0].messages[1].Role)
	assert.Contains(t, calls[0].messages[1].Content, "2025-03-01T10:30:00Z")
}

func TestLLMFailures(t *testing.T) {
	agents := []backend.Agent{{Name: "A"}, {Name: "B"}}

	t.Run("batch", func(t *testing.T) {
		ts := newBackend(t, &fakeLLM{err: errors.New("model offline")}, agents...)
		resp := post(t, ts.URL+"/multi-agent/batch", helloRequest)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	})

	t.Run("stream before first event", func(t *testing.T) {
		ts := newBackend(t, &fakeLLM{err: errors.New("model offline")}, agents...)
		resp := post(t, ts.URL+"/multi-agent/stream", helloRequest)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	})

	t.Run("stream after first event", func(t *testing.T) {
		ts := newBackend(t, &fakeLLM{err: errors.New("model offline"), failAfter: 1}, agents...)
		resp := post(t, ts.URL+"/multi-agent/stream", helloRequest)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var events int
		for _, err := range sse.Read(resp.Body, nil) {
			require.NoError(t, err)
			events++
		}
		assert.Equal(t, 1, events)
	})

	t.Run("no agents", func(t *testing.T) {
		ts := newBackend(t, &fakeLLM{})
		resp := post(t, ts.URL+"/multi-agent/batch", helloRequest)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}

func TestAPIChatAgainstBackend(t *testing.T) {
	ts := newBackend(t, &fakeLLM{},
		backend.Agent{Name: "Research Agent", Instructions: "research"},
		backend.Agent{Name: "Planning Agent", Instructions: "plan", Plugins: []string{backend.PluginClock}},
	)

	history := []models.ChatMessage{{Role: models.RoleUser, Content: "Hello"}}

	for _, style := range []models.ResponseStyle{models.ResponseStyleStream, models.ResponseStyleBatch} {
		t.Run(string(style), func(t *testing.T) {
			chat := services.NewAPIChat(services.APIChatConfig{
				StandardURL:   ts.URL + "/chat",
				MultiAgentURL: ts.URL + "/multi-agent",
				ResponseStyle: style,
			}, ts.Client(), discardLogger())

			msgs, err := chat.SendMessage(context.Background(), history, models.ModeMultiAgent)
			require.NoError(t, err)
			require.Len(t, msgs, 4)

			assert.Equal(t, "Research Agent", msgs[0].AgentName)
			assert.Equal(t, "reply to research", msgs[0].Content)

			require.Len(t, msgs[1].ToolCall, 1)
			assert.Equal(t, map[string]any{}, msgs[1].ToolCall[0].Arguments)

			assert.Equal(t, models.RoleTool, msgs[2].Role)
			assert.Equal(t, msgs[1].ToolCall[0].ID, msgs[2].ToolCallID)
			assert.Equal(t, "Planning Agent", msgs[2].AgentName)

			assert.Equal(t, "Planning Agent", msgs[3].AgentName)
		})
	}

	t.Run("standard", func(t *testing.T) {
		chat := services.NewAPIChat(services.APIChatConfig{
			StandardURL:   ts.URL + "/chat",
			MultiAgentURL: ts.URL + "/multi-agent",
		}, ts.Client(), discardLogger())

		msgs, err := chat.SendMessage(context.Background(), history, models.ModeStandard)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, models.RoleAssistant, msgs[0].Role)
		assert.Equal(t, "reply to assist", msgs[0].Content)
	})
}

func TestRegisterHealth(t *testing.T) {
	ts := newBackend(t, &fakeLLM{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2 := post(t, ts.URL+"/chat", "")
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}
