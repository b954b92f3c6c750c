// Package conversation holds the conversation state of a front-end and serializes message turns against a
// chat service and a history store.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/MegaGrindStone/agent-chat-ui/internal/models"
)

// ChatService sends a conversation to a chat backend and returns the new messages.
type ChatService interface {
	SendMessage(ctx context.Context, history []models.ChatMessage, mode models.Mode) ([]models.Message, error)
	AbortRequest()
}

// HistoryStore persists chats and their messages, per chat mode.
type HistoryStore interface {
	ChatHistories(ctx context.Context, mode models.ChatMode) ([]models.ChatSummary, error)
	ChatMessages(ctx context.Context, chatID string) ([]models.Message, error)
	CreateChat(ctx context.Context, mode models.ChatMode, title string) (models.ChatSummary, error)
	UpdateChat(ctx context.Context, chatID string, msgs []models.Message) (models.ChatSummary, error)
	DeleteChat(ctx context.Context, chatID string, mode models.ChatMode) (bool, error)
}

// Phase is the step of a message turn the coordinator is in.
type Phase string

// State is a snapshot of the conversation. A State is never modified after it has been published: every
// change produces a new State, so snapshots may be shared freely.
type State struct {
	Messages         []models.Message     `json:"messages"`
	ChatHistories    []models.ChatSummary `json:"chatHistories"`
	ActiveChatID     string               `json:"activeChatId,omitempty"`
	Mode             models.Mode          `json:"mode"`
	IsLoading        bool                 `json:"isLoading"`
	ShowToolMessages bool                 `json:"showToolMessages"`
	Phase            Phase                `json:"phase"`
}

// Coordinator owns the conversation state. It is safe for concurrent use, although a front-end is expected
// to only send a message while no turn is loading.
type Coordinator struct {
	chat  ChatService
	store HistoryStore

	logger *slog.Logger

	mu        sync.Mutex
	state     State
	epoch     uint64
	listeners map[int]func(State)
	nextID    int
}

const (
	PhaseIdle                 Phase = "idle"
	PhaseAwaitingChatCreation Phase = "awaitingChatCreation"
	PhaseAwaitingResponse     Phase = "awaitingResponse"
	PhaseError                Phase = "error"

	newChatTitle = "New Chat"
	errLoggerKey = "err"
)

var (
	// ErrBusy is returned by SendMessage while another turn is in progress.
	ErrBusy = errors.New("a message is already being processed")
	// ErrEmptyMessage is returned by SendMessage for blank input.
	ErrEmptyMessage = errors.New("message is empty")

	agentPrefix = regexp.MustCompile(`^\[[^\]]+ Agent\]\s*`)
)

// New creates a Coordinator starting in mode, with no active chat. Call Load to fetch the stored chats.
func New(chat ChatService, store HistoryStore, mode models.Mode, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		chat:  chat,
		store: store,
		state: State{
			Mode:  mode,
			Phase: PhaseIdle,
		},
		listeners: make(map[int]func(State)),
		logger:    logger.With(slog.String("module", "conversation")),
	}
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Subscribe registers fn to receive every new state, and returns a function that unregisters it. fn is
// called with the coordinator locked, so it must neither block nor call back into the coordinator.
func (c *Coordinator) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// Load fetches the chats of the current mode and selects the most recent one.
func (c *Coordinator) Load(ctx context.Context) error {
	c.mu.Lock()
	epoch, mode := c.epoch, c.state.Mode
	c.mu.Unlock()

	return c.loadHistories(ctx, epoch, mode)
}

// Turn is a message turn reserved by BeginTurn. Run must be called exactly once.
type Turn struct {
	c        *Coordinator
	content  string
	epoch    uint64
	chatID   string
	mode     models.Mode
	withUser []models.Message
}

// SendMessage runs one message turn: it creates a chat when none is active, appends the user's message,
// sends the conversation to the chat service and appends the replies, then persists the chat. Failures of
// the turn are reported as a system message in the conversation, not as an error. The returned error is
// only ErrBusy or ErrEmptyMessage.
func (c *Coordinator) SendMessage(ctx context.Context, content string) error {
	turn, err := c.BeginTurn(content)
	if err != nil {
		return err
	}
	turn.Run(ctx)
	return nil
}

// BeginTurn reserves the coordinator for a message turn without blocking, so callers that run the turn in
// the background can still report ErrBusy or ErrEmptyMessage. When a chat is active the user's message is
// appended right away; otherwise the turn waits for chat creation in Run.
func (c *Coordinator) BeginTurn(content string) (*Turn, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}

	t := &Turn{c: c, content: content}
	err := c.mutate(func(s State) (State, error) {
		if s.IsLoading || s.Phase == PhaseAwaitingChatCreation {
			return s, ErrBusy
		}
		t.epoch, t.chatID, t.mode = c.epoch, s.ActiveChatID, s.Mode
		if t.chatID == "" {
			s.Phase = PhaseAwaitingChatCreation
			return s, nil
		}
		t.withUser = append(slices.Clip(s.Messages), models.NewMessage(models.RoleUser, content))
		s.Messages = t.withUser
		s.IsLoading = true
		s.Phase = PhaseAwaitingResponse
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Run completes the turn. It returns once the replies are applied and persisted, or the turn failed or
// was superseded by a reset.
func (t *Turn) Run(ctx context.Context) {
	c := t.c
	if t.chatID == "" && !t.createChat(ctx) {
		return
	}

	replies, err := c.chat.SendMessage(ctx, models.ChatMessages(t.withUser), t.mode)
	if err != nil {
		c.logger.Error("Failed to send message",
			slog.String("chatID", t.chatID),
			slog.String("kind", string(models.Classify(err))),
			slog.String(errLoggerKey, err.Error()))

		notice := models.NewMessage(models.RoleSystem, models.ErrorText(err))
		c.apply(t.epoch, func(s State) State {
			s.Messages = append(slices.Clip(t.withUser), notice)
			s.IsLoading = false
			s.Phase = PhaseError
			return s
		})
		c.apply(t.epoch, func(s State) State {
			s.Phase = PhaseIdle
			return s
		})
		return
	}

	updated := append(slices.Clip(t.withUser), replies...)
	if !c.apply(t.epoch, func(s State) State {
		s.Messages = updated
		s.IsLoading = false
		s.Phase = PhaseIdle
		return s
	}) {
		c.logger.Debug("Dropping reply of a superseded turn", slog.String("chatID", t.chatID))
		return
	}

	if _, err := c.store.UpdateChat(ctx, t.chatID, updated); err != nil {
		c.logger.Error("Failed to persist chat",
			slog.String("chatID", t.chatID),
			slog.String(errLoggerKey, err.Error()))
		notice := models.NewMessage(models.RoleSystem, fmt.Sprintf("Error saving chat: %s", err))
		c.apply(t.epoch, func(s State) State {
			s.Messages = append(slices.Clip(s.Messages), notice)
			return s
		})
		return
	}

	histories, err := c.store.ChatHistories(ctx, t.mode.ChatMode())
	if err != nil {
		c.logger.Error("Failed to refresh chat histories", slog.String(errLoggerKey, err.Error()))
		return
	}
	c.apply(t.epoch, func(s State) State {
		s.ChatHistories = histories
		return s
	})
}

// createChat creates the chat of a turn that started without one and appends the user's message to it. A
// chat created for a turn that was superseded meanwhile is deleted again.
func (t *Turn) createChat(ctx context.Context) bool {
	c := t.c
	summary, err := c.store.CreateChat(ctx, t.mode.ChatMode(), newChatTitle)
	if err != nil {
		c.logger.Error("Failed to create chat before sending message", slog.String(errLoggerKey, err.Error()))
		c.apply(t.epoch, func(s State) State {
			s.Messages = []models.Message{
				models.NewMessage(models.RoleSystem, fmt.Sprintf("Error creating chat: %s", err)),
			}
			s.IsLoading = false
			s.Phase = PhaseError
			return s
		})
		return false
	}

	t.chatID = summary.ID
	t.withUser = []models.Message{models.NewMessage(models.RoleUser, t.content)}
	if c.apply(t.epoch, func(s State) State {
		s.ChatHistories = prependSummary(s.ChatHistories, summary)
		s.ActiveChatID = summary.ID
		s.Messages = t.withUser
		s.IsLoading = true
		s.Phase = PhaseAwaitingResponse
		return s
	}) {
		return true
	}

	c.logger.Info("Discarding chat created for a superseded turn", slog.String("chatID", summary.ID))
	if _, err := c.store.DeleteChat(context.WithoutCancel(ctx), summary.ID, t.mode.ChatMode()); err != nil {
		c.logger.Error("Failed to delete discarded chat",
			slog.String("chatID", summary.ID),
			slog.String(errLoggerKey, err.Error()))
	}
	return false
}

// SetMode switches to mode. The conversation and the chat list are cleared before the chats of the new
// mode are loaded, and the most recent one is selected. A turn in progress is aborted. Setting the current
// mode does nothing.
func (c *Coordinator) SetMode(ctx context.Context, mode models.Mode) error {
	var changed, wasLoading bool
	epoch := c.reset(func(s State) (State, bool) {
		if s.Mode == mode {
			return s, false
		}
		changed, wasLoading = true, s.IsLoading
		return State{Mode: mode, ShowToolMessages: s.ShowToolMessages, Phase: PhaseIdle}, true
	})
	if !changed {
		return nil
	}
	if wasLoading {
		c.chat.AbortRequest()
	}

	c.logger.Info("Mode switched", slog.String("mode", string(mode)))
	return c.loadHistories(ctx, epoch, mode)
}

// SelectChat makes chatID the active chat and loads its messages. Selecting the active chat does nothing.
func (c *Coordinator) SelectChat(ctx context.Context, chatID string) error {
	c.mu.Lock()
	if c.state.ActiveChatID == chatID {
		c.mu.Unlock()
		return nil
	}
	epoch := c.epoch
	c.mu.Unlock()

	msgs, err := c.store.ChatMessages(ctx, chatID)
	if err != nil {
		c.logger.Error("Failed to select chat", slog.String("chatID", chatID), slog.String(errLoggerKey, err.Error()))
		return fmt.Errorf("failed to load chat %s: %w", chatID, err)
	}

	var wasLoading bool
	c.resetIf(epoch, func(s State) State {
		wasLoading = s.IsLoading
		return State{
			Messages:         msgs,
			ChatHistories:    s.ChatHistories,
			ActiveChatID:     chatID,
			Mode:             s.Mode,
			ShowToolMessages: s.ShowToolMessages,
			Phase:            PhaseIdle,
		}
	})
	if wasLoading {
		c.chat.AbortRequest()
	}
	return nil
}

// CreateNewChat creates an empty chat in the current mode and makes it active. An empty title lets the
// store pick one.
func (c *Coordinator) CreateNewChat(ctx context.Context, title string) (models.ChatSummary, error) {
	mode := c.State().Mode

	summary, err := c.store.CreateChat(ctx, mode.ChatMode(), title)
	if err != nil {
		c.logger.Error("Failed to create new chat", slog.String(errLoggerKey, err.Error()))
		return models.ChatSummary{}, fmt.Errorf("failed to create chat: %w", err)
	}

	var wasLoading bool
	c.reset(func(s State) (State, bool) {
		wasLoading = s.IsLoading
		return State{
			ChatHistories:    prependSummary(s.ChatHistories, summary),
			ActiveChatID:     summary.ID,
			Mode:             s.Mode,
			ShowToolMessages: s.ShowToolMessages,
			Phase:            PhaseIdle,
		}, true
	})
	if wasLoading {
		c.chat.AbortRequest()
	}

	return summary, nil
}

// DeleteChat deletes a chat of the current mode. When it was the active chat, the most recent remaining
// chat is selected, if any. It reports whether the store had the chat.
func (c *Coordinator) DeleteChat(ctx context.Context, chatID string) (bool, error) {
	mode := c.State().Mode

	deleted, err := c.store.DeleteChat(ctx, chatID, mode.ChatMode())
	if err != nil {
		c.logger.Error("Failed to delete chat", slog.String("chatID", chatID), slog.String(errLoggerKey, err.Error()))
		return false, fmt.Errorf("failed to delete chat %s: %w", chatID, err)
	}

	var wasActive, wasLoading bool
	var next string
	epoch := c.reset(func(s State) (State, bool) {
		remaining := slices.DeleteFunc(slices.Clone(s.ChatHistories), func(h models.ChatSummary) bool {
			return h.ID == chatID
		})
		if s.ActiveChatID != chatID {
			s.ChatHistories = remaining
			return s, false
		}

		wasActive, wasLoading = true, s.IsLoading
		if len(remaining) > 0 {
			next = remaining[0].ID
		}
		return State{
			ChatHistories:    remaining,
			Mode:             s.Mode,
			ShowToolMessages: s.ShowToolMessages,
			Phase:            PhaseIdle,
		}, true
	})
	if wasLoading {
		c.chat.AbortRequest()
	}
	if wasActive && next != "" {
		if err := c.selectLoaded(ctx, epoch, next); err != nil {
			return deleted, err
		}
	}

	return deleted, nil
}

// ClearMessages empties the conversation and detaches it from its chat. The store is left untouched.
func (c *Coordinator) ClearMessages() {
	var wasLoading bool
	c.reset(func(s State) (State, bool) {
		wasLoading = s.IsLoading
		return State{
			ChatHistories:    s.ChatHistories,
			Mode:             s.Mode,
			ShowToolMessages: s.ShowToolMessages,
			Phase:            PhaseIdle,
		}, true
	})
	if wasLoading {
		c.chat.AbortRequest()
	}
}

// AbortRequest cancels the turn in progress, which then ends with a cancellation notice.
func (c *Coordinator) AbortRequest() {
	c.chat.AbortRequest()
}

// ToggleToolMessageVisibility shows or hides tool messages in VisibleMessages.
func (c *Coordinator) ToggleToolMessageVisibility() {
	_ = c.mutate(func(s State) (State, error) {
		s.ShowToolMessages = !s.ShowToolMessages
		return s, nil
	})
}

// VisibleMessages returns the messages of the current state that should be displayed.
func (c *Coordinator) VisibleMessages() []models.Message {
	s := c.State()
	return VisibleMessages(s.Messages, s.ShowToolMessages)
}

// VisibleMessages filters msgs for display. Tool messages are only kept when showTools is set, and the
// "[<name> Agent] " prefix some backends put in front of agent replies is removed.
func VisibleMessages(msgs []models.Message, showTools bool) []models.Message {
	res := make([]models.Message, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case models.RoleTool:
			if !showTools {
				continue
			}
		case models.RoleAssistant:
			msg.Content = agentPrefix.ReplaceAllString(msg.Content, "")
		}
		res = append(res, msg)
	}
	return res
}

func (c *Coordinator) loadHistories(ctx context.Context, epoch uint64, mode models.Mode) error {
	histories, err := c.store.ChatHistories(ctx, mode.ChatMode())
	if err != nil {
		c.logger.Error("Failed to load chat histories",
			slog.String("mode", string(mode)),
			slog.String(errLoggerKey, err.Error()))
		return fmt.Errorf("failed to load chat histories: %w", err)
	}

	if !c.apply(epoch, func(s State) State {
		s.ChatHistories = histories
		return s
	}) {
		return nil
	}

	if len(histories) == 0 {
		return nil
	}
	return c.selectLoaded(ctx, epoch, histories[0].ID)
}

// selectLoaded activates chatID as long as nothing reset the state since epoch.
func (c *Coordinator) selectLoaded(ctx context.Context, epoch uint64, chatID string) error {
	msgs, err := c.store.ChatMessages(ctx, chatID)
	if err != nil {
		c.logger.Error("Failed to select chat", slog.String("chatID", chatID), slog.String(errLoggerKey, err.Error()))
		return fmt.Errorf("failed to load chat %s: %w", chatID, err)
	}

	c.apply(epoch, func(s State) State {
		s.ActiveChatID = chatID
		s.Messages = msgs
		return s
	})
	return nil
}

// mutate replaces the state with the result of fn, unless fn fails.
func (c *Coordinator) mutate(fn func(State) (State, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := fn(c.state)
	if err != nil {
		return err
	}
	c.publish(s)
	return nil
}

// apply replaces the state with the result of fn, unless the state was reset since epoch. It reports
// whether the state was replaced.
func (c *Coordinator) apply(epoch uint64, fn func(State) State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != epoch {
		return false
	}
	c.publish(fn(c.state))
	return true
}

// reset replaces the state with the result of fn and starts a new epoch when fn reports a reset. It
// returns the epoch in effect afterwards.
func (c *Coordinator) reset(fn func(State) (State, bool)) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, isReset := fn(c.state)
	if isReset {
		c.epoch++
	}
	c.publish(s)
	return c.epoch
}

// resetIf is reset guarded by epoch.
func (c *Coordinator) resetIf(epoch uint64, fn func(State) State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != epoch {
		return false
	}
	c.epoch++
	c.publish(fn(c.state))
	return true
}

// publish must be called with c.mu held.
func (c *Coordinator) publish(s State) {
	c.state = s
	for _, fn := range c.listeners {
		fn(s)
	}
}

func prependSummary(summaries []models.ChatSummary, summary models.ChatSummary) []models.ChatSummary {
	res := make([]models.ChatSummary, 0, len(summaries)+1)
	res = append(res, summary)
	for _, s := range summaries {
		if s.ID != summary.ID {
			res = append(res, s)
		}
	}
	return res
}
