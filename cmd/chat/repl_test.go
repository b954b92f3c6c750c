package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MegaGrindStone/agent-chat-ui/internal/config"
	"github.com/MegaGrindStone/agent-chat-ui/internal/conversation"
	"github.com/MegaGrindStone/agent-chat-ui/internal/models"
	"github.com/MegaGrindStone/agent-chat-ui/internal/services"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func newTestREPL(t *testing.T, mode models.Mode) (*repl, *bytes.Buffer, *conversation.Coordinator) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	chat := services.NewSimulatedChat(logger,
		services.WithSimulatedDelays(0, 0),
		services.WithSimulatedPicker(func(int) int { return 0 }))
	coord := conversation.New(chat, services.NewMemoryHistory(), mode, logger)
	require.NoError(t, coord.Load(context.Background()))

	var out bytes.Buffer
	return newREPL(coord, &out, logger), &out, coord
}

func runLines(t *testing.T, r *repl, lines ...string) {
	t.Helper()
	require.NoError(t, r.run(context.Background(), strings.NewReader(strings.Join(lines, "\n")+"\n")))
}

func TestREPLSendStandard(t *testing.T) {
	r, out, coord := newTestREPL(t, models.ModeStandard)

	runLines(t, r, "Hello")

	assert.Contains(t, out.String(), "Assistant:\nThank you for your message: \"Hello\". I'll help you with that.")
	// The reply is printed once although it is both previewed and part of the final state.
	assert.Equal(t, 1, strings.Count(out.String(), "Thank you for your message"))
	assert.NotContains(t, out.String(), "You:")

	s := coord.State()
	require.Len(t, s.Messages, 2)
	require.Len(t, s.ChatHistories, 1)
}

func TestREPLSendMultiAgent(t *testing.T) {
	r, out, _ := newTestREPL(t, models.ModeMultiAgent)

	runLines(t, r, "Plan a release")

	for _, agent := range []string{"Research:", "Code:", "Planning:"} {
		assert.Contains(t, out.String(), agent)
	}
}

func TestREPLChatCommands(t *testing.T) {
	r, out, coord := newTestREPL(t, models.ModeStandard)

	runLines(t, r, "first", "/new Second chat", "/chats")
	s := coord.State()
	require.Len(t, s.ChatHistories, 2)
	assert.Equal(t, "Second chat", s.ChatHistories[0].Title)
	assert.Empty(t, s.Messages)
	assert.Contains(t, out.String(), "Started Second chat.")
	assert.Contains(t, out.String(), "*  1. Second chat")

	out.Reset()
	runLines(t, r, "/select 2")
	s = coord.State()
	assert.Equal(t, s.ChatHistories[1].ID, s.ActiveChatID)
	assert.Contains(t, out.String(), "You:\nfirst")

	runLines(t, r, "/delete 1")
	assert.Len(t, coord.State().ChatHistories, 1)

	out.Reset()
	runLines(t, r, "/select 9")
	assert.Contains(t, out.String(), "Error: expected a chat number between 1 and 1")
}

func TestREPLModeAndTools(t *testing.T) {
	r, out, coord := newTestREPL(t, models.ModeStandard)

	runLines(t, r, "/mode multi", "/tools", "/mode nope")

	s := coord.State()
	assert.Equal(t, models.ModeMultiAgent, s.Mode)
	assert.True(t, s.ShowToolMessages)
	assert.Contains(t, out.String(), "Mode: multiAgent")
	assert.Contains(t, out.String(), "Tool messages shown.")
	assert.Contains(t, out.String(), `Error: unknown mode: "nope"`)
}

func TestREPLClearAndExport(t *testing.T) {
	r, out, coord := newTestREPL(t, models.ModeStandard)
	path := filepath.Join(t.TempDir(), "chat.md")

	runLines(t, r, "Hello", "/export "+path, "/clear")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# New Chat")
	assert.Contains(t, string(data), "**user**")
	assert.Contains(t, out.String(), "Exported 2 messages")

	s := coord.State()
	assert.Empty(t, s.Messages)
	assert.Empty(t, s.ActiveChatID)
}

func TestREPLQuitAndUnknown(t *testing.T) {
	r, out, coord := newTestREPL(t, models.ModeStandard)

	runLines(t, r, "/bogus", "/quit", "never sent")

	assert.Contains(t, out.String(), "unknown command /bogus")
	assert.Empty(t, coord.State().Messages)
}

func TestLogSettings(t *testing.T) {
	fromFile := config.LoggingConfig{Level: "debug", Format: "json"}

	tests := []struct {
		name          string
		level, format string
		want          config.LoggingConfig
	}{
		{name: "config", want: fromFile},
		{name: "level flag", level: "error", want: config.LoggingConfig{Level: "error", Format: "json"}},
		{name: "format flag", format: "color", want: config.LoggingConfig{Level: "debug", Format: "color"}},
		{name: "both flags", level: "warn", format: "text", want: config.LoggingConfig{Level: "warn", Format: "text"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, logSettings(fromFile, tt.level, tt.format))
		})
	}
}
