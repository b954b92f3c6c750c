// Package services implements the chat services and history stores used by the conversation coordinator,
// plus the language model adapters used by the development backend.
package services

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MegaGrindStone/agent-chat-ui/internal/models"
)

// ErrChatNotFound is returned when updating a chat that no store bucket knows about.
var ErrChatNotFound = errors.New("chat not found")

const (
	errLoggerKey = "err"

	lastMessageLength = 50
)

func newSummary(id string, mode models.ChatMode, title string, existing int) models.ChatSummary {
	if title == "" {
		title = fmt.Sprintf("Chat %d", existing+1)
	}
	return models.ChatSummary{
		ID:          id,
		Title:       title,
		LastUpdated: time.Now(),
		Mode:        mode,
	}
}

// summarize returns summary refreshed with the given messages.
func summarize(summary models.ChatSummary, msgs []models.Message) models.ChatSummary {
	summary.LastMessage = ""
	if len(msgs) > 0 {
		summary.LastMessage = truncate(msgs[len(msgs)-1].Content, lastMessageLength)
	}
	summary.LastUpdated = time.Now()
	summary.MessageCount = len(msgs)
	return summary
}

func truncate(s string, maxLength int) string {
	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}
	return string(runes[:maxLength-3]) + "..."
}

// sortSummaries orders summaries most recent first.
func sortSummaries(summaries []models.ChatSummary) {
	slices.SortStableFunc(summaries, func(a, b models.ChatSummary) int {
		return cmp.Compare(b.LastUpdated.UnixNano(), a.LastUpdated.UnixNano())
	})
}
