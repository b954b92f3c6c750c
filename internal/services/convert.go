package services

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/MegaGrindStone/agent-chat-ui/internal/models"
)

// payload is one message as the chat backends emit it, both inside a batch array and as the data of a
// single stream event. Content is kept raw because tool results may arrive as arbitrary JSON.
type payload struct {
	Content    json.RawMessage   `json:"content,omitempty"`
	AuthorRole string            `json:"authorRole,omitempty"`
	AuthorName string            `json:"authorName,omitempty"`
	Metadata   *payloadMetadata  `json:"metadata,omitempty"`
	ToolCall   []models.ToolCall `json:"toolCall,omitempty"`
}

type payloadMetadata struct {
	ID         string `json:"id,omitempty"`
	AuthorName string `json:"authorName,omitempty"`
}

func authorRole(role string) models.Role {
	switch strings.ToUpper(role) {
	case "USER":
		return models.RoleUser
	case "TOOL":
		return models.RoleTool
	}
	return models.RoleAssistant
}

// toMessage converts a backend payload into a Message. The id and timestamp are always assigned locally.
func (p payload) toMessage() models.Message {
	role := authorRole(p.AuthorRole)

	agentName := p.AuthorName
	if agentName == "" && p.Metadata != nil {
		agentName = p.Metadata.AuthorName
	}

	msg := models.NewMessage(role, payloadContent(p.Content, role))

	switch role {
	case models.RoleAssistant:
		msg.AgentName = agentName
		msg.AgentIdentifier = agentName
		msg.ToolCall = toolCalls(p.ToolCall)
	case models.RoleTool:
		msg.AgentName = agentName
		msg.AgentIdentifier = agentName
		if p.Metadata != nil {
			msg.ToolCallID = p.Metadata.ID
		}
	}

	return msg
}

// payloadContent returns the textual content of a payload. Non-text content is only kept for tool results,
// rendered as indented JSON.
func payloadContent(raw json.RawMessage, role models.Role) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}

	if role != models.RoleTool {
		return ""
	}

	var prettyJSON bytes.Buffer
	if err := json.Indent(&prettyJSON, raw, "", "  "); err != nil {
		return string(raw)
	}
	return prettyJSON.String()
}

// toolCalls normalizes tool calls so that a call without arguments is a call with empty arguments.
func toolCalls(calls []models.ToolCall) []models.ToolCall {
	if len(calls) == 0 {
		return nil
	}

	res := make([]models.ToolCall, len(calls))
	for i, call := range calls {
		if call.Arguments == nil {
			call.Arguments = map[string]any{}
		}
		res[i] = call
	}
	return res
}
