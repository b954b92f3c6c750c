package handlers

import (
	"bytes"
	"encoding/json"
	"html/template"
	"log/slog"

	"github.com/MegaGrindStone/agent-chat-ui/internal/conversation"
	"github.com/MegaGrindStone/agent-chat-ui/internal/models"
	"github.com/tmaxmax/go-sse"
	"github.com/yuin/goldmark"
	emoji "github.com/yuin/goldmark-emoji"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

type messageView struct {
	ID        string        `json:"id"`
	Role      models.Role   `json:"role"`
	AgentName string        `json:"agentName,omitempty"`
	Timestamp string        `json:"timestamp"`
	HTML      template.HTML `json:"html"`
}

type chatView struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	LastMessage  string `json:"lastMessage,omitempty"`
	LastUpdated  string `json:"lastUpdated"`
	MessageCount int    `json:"messageCount"`
	Active       bool   `json:"active"`
}

type stateView struct {
	Messages         []messageView      `json:"messages"`
	Chats            []chatView         `json:"chats"`
	ActiveChatID     string             `json:"activeChatId,omitempty"`
	Mode             models.Mode        `json:"mode"`
	IsLoading        bool               `json:"isLoading"`
	ShowToolMessages bool               `json:"showToolMessages"`
	Phase            conversation.Phase `json:"phase"`
}

// newMarkdown returns the renderer of message content. Raw HTML in messages is not rendered.
func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			emoji.Emoji,
			highlighting.NewHighlighting(highlighting.WithStyle("github")),
		),
		goldmark.WithRendererOptions(goldmarkhtml.WithHardWraps()),
	)
}

func (m *Main) renderMessage(msg models.Message) messageView {
	var buf bytes.Buffer
	if err := m.markdown.Convert([]byte(models.RenderMessage(msg, false)), &buf); err != nil {
		m.logger.Error("Failed to render message",
			slog.String("messageID", msg.ID),
			slog.String(errLoggerKey, err.Error()))
		buf.Reset()
		buf.WriteString(template.HTMLEscapeString(msg.Content))
	}

	return messageView{
		ID:        msg.ID,
		Role:      msg.Role,
		AgentName: msg.Agent(),
		Timestamp: msg.Timestamp,
		HTML:      template.HTML(buf.String()), //nolint:gosec // goldmark output without raw HTML
	}
}

func (m *Main) stateView(s conversation.State) stateView {
	visible := conversation.VisibleMessages(s.Messages, s.ShowToolMessages)
	msgs := make([]messageView, len(visible))
	for i, msg := range visible {
		msgs[i] = m.renderMessage(msg)
	}

	chats := make([]chatView, len(s.ChatHistories))
	for i, h := range s.ChatHistories {
		chats[i] = chatView{
			ID:           h.ID,
			Title:        h.Title,
			LastMessage:  h.LastMessage,
			LastUpdated:  models.FormatTimestamp(h.LastUpdated.Local()),
			MessageCount: h.MessageCount,
			Active:       h.ID == s.ActiveChatID,
		}
	}

	return stateView{
		Messages:         msgs,
		Chats:            chats,
		ActiveChatID:     s.ActiveChatID,
		Mode:             s.Mode,
		IsLoading:        s.IsLoading,
		ShowToolMessages: s.ShowToolMessages,
		Phase:            s.Phase,
	}
}

func appendJSON(msg *sse.Message, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg.AppendData(string(data))
	return nil
}
