package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChatSummary is the list view of a persisted chat. It carries enough information to render a chat history
// panel without loading the messages themselves.
type ChatSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	LastMessage  string    `json:"lastMessage,omitempty"`
	LastUpdated  time.Time `json:"lastUpdated"`
	MessageCount int       `json:"messageCount"`
	Mode         ChatMode  `json:"mode"`
}

// Message represents an individual entry within a conversation. Messages are created either from a backend
// payload or locally (user input and error notices) and are never modified afterwards.
//
// ToolCall is only meaningful for RoleAssistant, and ToolCallID only for RoleTool.
type Message struct {
	ID              string     `json:"id"`
	Content         string     `json:"content"`
	Role            Role       `json:"role"`
	Timestamp       string     `json:"timestamp"`
	AgentIdentifier string     `json:"agentIdentifier,omitempty"`
	AgentName       string     `json:"agentName,omitempty"`
	ToolCall        []ToolCall `json:"toolCall,omitempty"`
	ToolCallID      string     `json:"toolCallId,omitempty"`
}

// ToolCall is one capability invocation recorded on an assistant message.
type ToolCall struct {
	ID           string         `json:"id"`
	PluginName   string         `json:"pluginName,omitempty"`
	FunctionName string         `json:"functionName,omitempty"`
	Arguments    map[string]any `json:"arguments,omitempty"`
}

// ChatMessage is the projection of a Message that goes on the wire. Ids, timestamps and tool metadata are
// intentionally absent.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a reply from an assistant or one of the agents.
	RoleAssistant Role = "assistant"
	// RoleSystem represents a locally synthesized notice, such as a failed request.
	RoleSystem Role = "system"
	// RoleTool represents the result of a tool call.
	RoleTool Role = "tool"
)

const timestampLayout = "15:04"

// NewMessage creates a message with a fresh id and the current local time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: FormatTimestamp(time.Now()),
	}
}

// FormatTimestamp formats t the way message timestamps are displayed.
func FormatTimestamp(t time.Time) string {
	return t.Format(timestampLayout)
}

// ChatMessage returns the wire projection of m.
func (m Message) ChatMessage() ChatMessage {
	return ChatMessage{Role: m.Role, Content: m.Content}
}

// Renderable reports whether m would display anything. Tool results and tool-call carrying messages count
// even when their visible text is empty.
func (m Message) Renderable() bool {
	return m.Content != "" || m.Role == RoleTool || len(m.ToolCall) > 0
}

// Agent returns the name of the agent that produced m, if any.
func (m Message) Agent() string {
	if m.AgentName != "" {
		return m.AgentName
	}
	return m.AgentIdentifier
}

// ChatMessages projects messages onto the wire shape, preserving order.
func ChatMessages(messages []Message) []ChatMessage {
	res := make([]ChatMessage, len(messages))
	for i, msg := range messages {
		res[i] = msg.ChatMessage()
	}
	return res
}

// Name returns the display name of a tool call, "plugin-function" when both parts are known.
func (t ToolCall) Name() string {
	switch {
	case t.PluginName != "" && t.FunctionName != "":
		return t.PluginName + "-" + t.FunctionName
	case t.FunctionName != "":
		return t.FunctionName
	case t.PluginName != "":
		return t.PluginName
	}
	return t.ID
}

// RenderMessage renders a message into markdown. Tool calls are rendered as JSON code blocks of their
// arguments, and tool results as JSON when the content is valid JSON. If withDetail is true, the tool
// blocks are wrapped with <details> tags.
func RenderMessage(msg Message, withDetail bool) string {
	var sb strings.Builder
	if msg.Role != RoleTool {
		sb.WriteString(msg.Content)
	}

	for _, call := range msg.ToolCall {
		sb.WriteString("  \n\n")
		sb.WriteString(fmt.Sprintf("Calling Tool: %s  \n", call.Name()))
		if withDetail {
			sb.WriteString("<details>  \n\n")
		}
		sb.WriteString("Input:  \n")

		args := call.Arguments
		if args == nil {
			args = map[string]any{}
		}
		input, err := json.MarshalIndent(args, "", "  ")
		if err != nil {
			input = []byte("{}")
		}
		sb.WriteString(fmt.Sprintf("```json  \n%s  \n```  \n", input))
		if withDetail {
			sb.WriteString("</details>  \n")
		}
	}

	if msg.Role == RoleTool {
		if withDetail {
			sb.WriteString("<details>  \n\n")
		}
		sb.WriteString("Result:  \n")

		var prettyJSON bytes.Buffer
		if err := json.Indent(&prettyJSON, []byte(msg.Content), "", "  "); err == nil {
			sb.WriteString(fmt.Sprintf("```json  \n%s  \n```  \n", prettyJSON.String()))
		} else {
			sb.WriteString(msg.Content)
			sb.WriteString("  \n")
		}
		if withDetail {
			sb.WriteString("</details>  \n")
		}
	}
	return sb.String()
}
