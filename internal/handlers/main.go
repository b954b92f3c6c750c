// Package handlers serves the web front-end of a conversation: JSON endpoints that drive the coordinator,
// and a server-sent events stream that pushes every state change to the browsers.
package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sync"
	"time"

	agentchatui "github.com/MegaGrindStone/agent-chat-ui"
	"github.com/MegaGrindStone/agent-chat-ui/internal/conversation"
	"github.com/tmaxmax/go-sse"
	"github.com/yuin/goldmark"
)

// Main handles the HTTP front-end of one conversation. Every browser connected to it sees the same
// conversation.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template
	markdown  goldmark.Markdown

	coord *conversation.Coordinator

	// turnCtx outlives the requests that start a turn, and is cancelled on Shutdown.
	turnCtx    context.Context
	turnCancel context.CancelFunc
	turns      sync.WaitGroup

	states      chan conversation.State
	pumpDone    chan struct{}
	unsubscribe func()

	logger *slog.Logger
}

var (
	stateSSEType   = sse.Type("state")
	previewSSEType = sse.Type("preview")
)

const errLoggerKey = "err"

// NewMain creates a new Main serving coord. It parses the page templates and starts publishing state
// changes to the event stream.
func NewMain(coord *conversation.Coordinator, logger *slog.Logger) (*Main, error) {
	tmpl, err := template.ParseFS(agentchatui.TemplateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	logger = logger.With(slog.String("module", "handlers"))
	turnCtx, turnCancel := context.WithCancel(context.Background())

	m := &Main{
		sseSrv: &sse.Server{
			OnSession: func(http.ResponseWriter, *http.Request) ([]string, bool) {
				return []string{sse.DefaultTopic}, true
			},
			Logger: func(*http.Request) *slog.Logger {
				return logger.With(slog.String("component", "sse"))
			},
		},
		templates:  tmpl,
		markdown:   newMarkdown(),
		coord:      coord,
		turnCtx:    turnCtx,
		turnCancel: turnCancel,
		states:     make(chan conversation.State, 1),
		pumpDone:   make(chan struct{}),
		logger:     logger,
	}

	m.unsubscribe = coord.Subscribe(m.enqueueState)
	go m.pumpStates()

	return m, nil
}

// enqueueState keeps only the latest state waiting to be published. It never blocks, as it runs inside the
// coordinator.
func (m *Main) enqueueState(s conversation.State) {
	for {
		select {
		case m.states <- s:
			return
		default:
		}
		select {
		case <-m.states:
		default:
		}
	}
}

func (m *Main) pumpStates() {
	defer close(m.pumpDone)

	for s := range m.states {
		msg := &sse.Message{Type: stateSSEType}
		if err := appendJSON(msg, m.stateView(s)); err != nil {
			m.logger.Error("Failed to encode state", slog.String(errLoggerKey, err.Error()))
			continue
		}
		if err := m.sseSrv.Publish(msg); err != nil {
			m.logger.Error("Failed to publish state", slog.String(errLoggerKey, err.Error()))
		}
	}
}

// ServeSSE streams state and preview events to a browser.
func (m *Main) ServeSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// Shutdown aborts the turn in progress, waits for it to end, and closes every event stream. Connected
// clients get a final close event and up to 5 seconds to disconnect.
func (m *Main) Shutdown(ctx context.Context) error {
	m.coord.AbortRequest()
	m.turnCancel()
	m.turns.Wait()

	m.unsubscribe()
	close(m.states)
	<-m.pumpDone

	e := &sse.Message{Type: sse.Type("close")}
	e.AppendData("bye")
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
