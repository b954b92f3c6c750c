package models

import "fmt"

// Mode selects which backend contract a conversation uses, in the vocabulary of the front-ends.
type Mode string

// ChatMode is the backend and history-store facing counterpart of Mode.
type ChatMode string

// ResponseStyle selects how multi-agent replies are delivered.
type ResponseStyle string

const (
	// ModeStandard talks to a single assistant.
	ModeStandard Mode = "standard"
	// ModeMultiAgent talks to a group of agents.
	ModeMultiAgent Mode = "multiAgent"

	// ChatModeStandard is the wire value of ModeStandard.
	ChatModeStandard ChatMode = "standard"
	// ChatModeMultiAgent is the wire value of ModeMultiAgent.
	ChatModeMultiAgent ChatMode = "multiAgent"

	// ResponseStyleStream delivers one event per agent reply over an event stream.
	ResponseStyleStream ResponseStyle = "stream"
	// ResponseStyleBatch delivers all agent replies in one JSON array.
	ResponseStyleBatch ResponseStyle = "batch"
)

// ChatMode maps m to its wire value. Every mode other than ModeStandard maps to ChatModeMultiAgent.
func (m Mode) ChatMode() ChatMode {
	if m == ModeStandard {
		return ChatModeStandard
	}
	return ChatModeMultiAgent
}

// ParseMode parses the user-facing spelling of a mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "standard", "single":
		return ModeStandard, nil
	case "multiAgent", "multi-agent", "multi":
		return ModeMultiAgent, nil
	}
	return "", fmt.Errorf("unknown mode: %q", s)
}

// ParseResponseStyle parses a multi-agent response style.
func ParseResponseStyle(s string) (ResponseStyle, error) {
	switch ResponseStyle(s) {
	case ResponseStyleStream, ResponseStyleBatch:
		return ResponseStyle(s), nil
	}
	return "", fmt.Errorf("unknown response style: %q", s)
}
