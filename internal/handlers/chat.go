package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/agent-chat-ui/internal/conversation"
	"github.com/MegaGrindStone/agent-chat-ui/internal/models"
	"github.com/MegaGrindStone/agent-chat-ui/internal/services"
	"github.com/tmaxmax/go-sse"
)

// HandleHome renders the chat page with the current state.
func (m *Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if err := m.templates.ExecuteTemplate(w, "index.html", m.stateView(m.coord.State())); err != nil {
		m.logger.Error("Failed to render home page", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleState writes the current state as JSON.
func (m *Main) HandleState(w http.ResponseWriter, _ *http.Request) {
	m.writeState(w, http.StatusOK)
}

// HandleChats lists the chats of the current mode on GET, and sends a message on POST.
//
// A message is sent with the "message" form field. The turn runs in the background: the handler answers
// 202 Accepted at once, and the progress of the turn is pushed through the event stream. While a turn is in
// progress, new messages are rejected with 409 Conflict.
func (m *Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		m.writeJSON(w, http.StatusOK, m.stateView(m.coord.State()).Chats)
	case http.MethodPost:
		m.sendMessage(w, r)
	default:
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (m *Main) sendMessage(w http.ResponseWriter, r *http.Request) {
	msg := r.FormValue("message")
	turn, err := m.coord.BeginTurn(msg)
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	case errors.Is(err, conversation.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ctx := services.WithProgress(m.turnCtx, m.publishPreview)

	m.turns.Add(1)
	go func() {
		defer m.turns.Done()
		turn.Run(ctx)
	}()

	m.writeState(w, http.StatusAccepted)
}

// publishPreview pushes a reply of the running turn before the turn completes.
func (m *Main) publishPreview(msg models.Message) {
	visible := conversation.VisibleMessages([]models.Message{msg}, true)

	e := &sse.Message{Type: previewSSEType}
	if err := appendJSON(e, m.renderMessage(visible[0])); err != nil {
		m.logger.Error("Failed to encode preview", slog.String(errLoggerKey, err.Error()))
		return
	}
	if err := m.sseSrv.Publish(e); err != nil {
		m.logger.Error("Failed to publish preview", slog.String(errLoggerKey, err.Error()))
	}
}

// HandleNewChat creates a chat, titled by the optional "title" form field, and makes it active.
func (m *Main) HandleNewChat(w http.ResponseWriter, r *http.Request) {
	if _, err := m.coord.CreateNewChat(r.Context(), r.FormValue("title")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	m.writeState(w, http.StatusOK)
}

// HandleSelectChat activates the chat of the "chat_id" form field.
func (m *Main) HandleSelectChat(w http.ResponseWriter, r *http.Request) {
	chatID := r.FormValue("chat_id")
	if chatID == "" {
		http.Error(w, "chat_id is required", http.StatusBadRequest)
		return
	}

	if err := m.coord.SelectChat(r.Context(), chatID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	m.writeState(w, http.StatusOK)
}

// HandleDeleteChat deletes the chat of the "chat_id" form field. Unknown chats are answered with 404.
func (m *Main) HandleDeleteChat(w http.ResponseWriter, r *http.Request) {
	chatID := r.FormValue("chat_id")
	if chatID == "" {
		http.Error(w, "chat_id is required", http.StatusBadRequest)
		return
	}

	deleted, err := m.coord.DeleteChat(r.Context(), chatID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !deleted {
		http.Error(w, "Chat not found", http.StatusNotFound)
		return
	}
	m.writeState(w, http.StatusOK)
}

// HandleMode switches to the mode of the "mode" form field.
func (m *Main) HandleMode(w http.ResponseWriter, r *http.Request) {
	mode, err := models.ParseMode(r.FormValue("mode"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := m.coord.SetMode(r.Context(), mode); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	m.writeState(w, http.StatusOK)
}

// HandleAbort cancels the turn in progress, if any.
func (m *Main) HandleAbort(w http.ResponseWriter, _ *http.Request) {
	m.coord.AbortRequest()
	w.WriteHeader(http.StatusNoContent)
}

// HandleToggleTools shows or hides tool messages.
func (m *Main) HandleToggleTools(w http.ResponseWriter, _ *http.Request) {
	m.coord.ToggleToolMessageVisibility()
	m.writeState(w, http.StatusOK)
}

func (m *Main) writeState(w http.ResponseWriter, status int) {
	m.writeJSON(w, status, m.stateView(m.coord.State()))
}

func (m *Main) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		m.logger.Error("Failed to write response", slog.String(errLoggerKey, err.Error()))
	}
}
