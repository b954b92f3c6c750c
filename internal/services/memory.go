package services

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/MegaGrindStone/agent-chat-ui/internal/models"
	"github.com/google/uuid"
)

// MemoryHistory is a history store that keeps everything in process memory. Its content is lost on exit.
type MemoryHistory struct {
	mu        sync.Mutex
	summaries map[models.ChatMode][]models.ChatSummary
	messages  map[string][]models.Message
}

// NewMemoryHistory creates an empty MemoryHistory.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{
		summaries: make(map[models.ChatMode][]models.ChatSummary),
		messages:  make(map[string][]models.Message),
	}
}

// ChatHistories returns the chats of mode, most recent first.
func (m *MemoryHistory) ChatHistories(_ context.Context, mode models.ChatMode) ([]models.ChatSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := slices.Clone(m.summaries[mode])
	sortSummaries(res)
	return res, nil
}

// ChatMessages returns the messages of a chat. An unknown chat has no messages.
func (m *MemoryHistory) ChatMessages(_ context.Context, chatID string) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.messages[chatID]), nil
}

// CreateChat creates an empty chat. An empty title becomes "Chat <n>".
func (m *MemoryHistory) CreateChat(_ context.Context, mode models.ChatMode, title string) (models.ChatSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	summary := newSummary(uuid.New().String(), mode, title, len(m.summaries[mode]))
	m.summaries[mode] = append(m.summaries[mode], summary)
	m.messages[summary.ID] = []models.Message{}
	return summary, nil
}

// UpdateChat replaces the messages of a chat and refreshes its summary.
func (m *MemoryHistory) UpdateChat(_ context.Context, chatID string, msgs []models.Message) (models.ChatSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for mode, summaries := range m.summaries {
		idx := slices.IndexFunc(summaries, func(s models.ChatSummary) bool { return s.ID == chatID })
		if idx < 0 {
			continue
		}
		summary := summarize(summaries[idx], msgs)
		summaries[idx] = summary
		m.summaries[mode] = summaries
		m.messages[chatID] = slices.Clone(msgs)
		return summary, nil
	}

	return models.ChatSummary{}, fmt.Errorf("failed to update chat %s: %w", chatID, ErrChatNotFound)
}

// DeleteChat removes a chat of mode and reports whether it existed.
func (m *MemoryHistory) DeleteChat(_ context.Context, chatID string, mode models.ChatMode) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	summaries := m.summaries[mode]
	remaining := slices.DeleteFunc(slices.Clone(summaries), func(s models.ChatSummary) bool {
		return s.ID == chatID
	})
	m.summaries[mode] = remaining
	delete(m.messages, chatID)

	return len(remaining) != len(summaries), nil
}
