package services

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/agent-chat-ui/internal/models"
)

// SimulatedChat is a chat service that answers locally after a fixed delay. It needs no backend and is
// meant for trying out the front-ends.
type SimulatedChat struct {
	standardDelay   time.Duration
	multiAgentDelay time.Duration
	pick            func(n int) int

	logger *slog.Logger

	mu     sync.Mutex
	callID uint64
	cancel context.CancelCauseFunc
}

// SimulatedChatOption configures a SimulatedChat.
type SimulatedChatOption func(*SimulatedChat)

type agentReply struct {
	agent   string
	content string
}

const markdownDemo = "# Markdown Formatting Demo\n\n" +
	"## Text Formatting\n\n" +
	"You can make text **bold**, *italic*, or ***both***. You can also add ~~strikethrough~~ to text.\n\n" +
	"## Lists\n\n" +
	"* Item 1\n* Item 2\n  * Nested Item 2.1\n  * Nested Item 2.2\n* Item 3\n\n" +
	"1. First item\n2. Second item\n3. Third item\n\n" +
	"## Code\n\n" +
	"Inline code: `greeting := \"Hello, World!\"`\n\n" +
	"```go\nfunc greet(name string) string {\n\treturn \"Hello, \" + name + \"!\"\n}\n```\n\n" +
	"## Quotes\n\n> This is a blockquote.\n>\n> It can span multiple lines.\n\n" +
	"## Tables\n\n" +
	"| Feature | Supported | Notes |\n|---------|-----------|-------|\n" +
	"| Headers | Yes | With multiple levels |\n| Lists | Yes | Ordered and unordered |\n" +
	"| Code | Yes | Inline and blocks |\n\n" +
	"## Task Lists\n\n- [x] Implement Markdown support\n- [ ] Add advanced formatting options\n\n" +
	"---\n\nThis message demonstrates the Markdown capabilities supported in our chat system. :sparkles:"

// WithSimulatedDelays overrides the reply delays of both modes.
func WithSimulatedDelays(standard, multiAgent time.Duration) SimulatedChatOption {
	return func(s *SimulatedChat) {
		s.standardDelay = standard
		s.multiAgentDelay = multiAgent
	}
}

// WithSimulatedPicker overrides how a canned reply is chosen. pick receives the number of candidates and
// returns the chosen index.
func WithSimulatedPicker(pick func(n int) int) SimulatedChatOption {
	return func(s *SimulatedChat) {
		s.pick = pick
	}
}

// NewSimulatedChat creates a SimulatedChat that replies after one second in standard mode and two seconds
// in multi-agent mode.
func NewSimulatedChat(logger *slog.Logger, options ...SimulatedChatOption) *SimulatedChat {
	s := &SimulatedChat{
		standardDelay:   time.Second,
		multiAgentDelay: 2 * time.Second,
		pick:            rand.IntN,
		logger:          logger.With(slog.String("module", "simulated")),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// SendMessage answers the last user message of history. It resolves with models.ErrCancelled when
// AbortRequest or the caller's context interrupts the delay.
func (s *SimulatedChat) SendMessage(
	ctx context.Context,
	history []models.ChatMessage,
	mode models.Mode,
) ([]models.Message, error) {
	if len(history) == 0 {
		return nil, &models.UnknownError{Message: "The conversation has no messages to send."}
	}

	ctx, cancel := context.WithCancelCause(ctx)
	id := s.track(cancel)
	defer func() {
		s.untrack(id)
		cancel(nil)
	}()

	prompt := lastUserContent(history)

	delay := s.standardDelay
	if mode.ChatMode() == models.ChatModeMultiAgent {
		delay = s.multiAgentDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, cancellation(ctx)
	case <-timer.C:
	}

	report := progressFromContext(ctx)
	if mode.ChatMode() == models.ChatModeStandard {
		msg := models.NewMessage(models.RoleAssistant, s.standardReply(prompt))
		report(msg)
		return []models.Message{msg}, nil
	}

	replies := s.multiAgentReplies(prompt)
	msgs := make([]models.Message, len(replies))
	for i, r := range replies {
		msg := models.NewMessage(models.RoleAssistant, r.content)
		msg.AgentIdentifier = r.agent
		msg.AgentName = r.agent
		msgs[i] = msg
		report(msg)
	}
	return msgs, nil
}

// AbortRequest interrupts the pending reply, if any.
func (s *SimulatedChat) AbortRequest() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel(models.ErrCancelled)
	s.cancel = nil
	s.logger.Info("Simulated request aborted")
}

func (s *SimulatedChat) track(cancel context.CancelCauseFunc) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callID++
	s.cancel = cancel
	return s.callID
}

func (s *SimulatedChat) untrack(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.callID == id {
		s.cancel = nil
	}
}

func (s *SimulatedChat) standardReply(prompt string) string {
	if asksForMarkdown(prompt) {
		return markdownDemo
	}

	replies := []string{
		fmt.Sprintf("Thank you for your message: %q. I'll help you with that.", prompt),
		fmt.Sprintf("I understand you're asking about %q. Here's my response...", prompt),
		fmt.Sprintf("Regarding %q, I'd suggest the following approach...", prompt),
		fmt.Sprintf("I've processed your request about %q and here's what I found...", prompt),
		fmt.Sprintf("Based on your message about %q, I can provide these insights...", prompt),
	}
	return replies[s.pick(len(replies))]
}

func (s *SimulatedChat) multiAgentReplies(prompt string) []agentReply {
	if asksForMarkdown(prompt) {
		return []agentReply{
			{agent: "Documentation", content: markdownDemo},
			{agent: "Code", content: "Here's how you can render Markdown in Go:\n\n```go\n" +
				"var buf bytes.Buffer\nif err := goldmark.Convert(source, &buf); err != nil {\n\treturn err\n}\n```"},
			{agent: "Design", content: "For the best reading experience with Markdown:\n\n" +
				"* Use consistent spacing for code blocks\n* Ensure adequate line height for readability\n" +
				"* Use monospace fonts for code"},
		}
	}

	sets := [][]agentReply{
		{
			{agent: "Research", content: fmt.Sprintf("I've analyzed %q and found several relevant sources.", prompt)},
			{agent: "Code", content: "Based on this research, here's an implementation approach..."},
			{agent: "Planning", content: "Let me integrate these insights into a cohesive strategy for you."},
		},
		{
			{agent: "Technical", content: fmt.Sprintf("Regarding %q, the technical considerations are...", prompt)},
			{agent: "UX", content: "From a user experience perspective, we should consider..."},
			{agent: "Project", content: "Combining these insights, I recommend..."},
		},
		{
			{agent: "Analysis", content: fmt.Sprintf("Your question about %q can be broken down into...", prompt)},
			{agent: "Solution", content: "Here are multiple approaches to address this..."},
			{agent: "Evaluation", content: "After evaluating all options, I recommend..."},
		},
	}
	return sets[s.pick(len(sets))]
}

func lastUserContent(history []models.ChatMessage) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			return history[i].Content
		}
	}
	return history[len(history)-1].Content
}

func asksForMarkdown(prompt string) bool {
	p := strings.ToLower(prompt)
	return strings.Contains(p, "markdown") || strings.Contains(p, "formatting")
}
