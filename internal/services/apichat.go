package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/MegaGrindStone/agent-chat-ui/internal/models"
)

// APIChat implements the chat service on top of the standard and multi-agent chat backends. Each call to
// SendMessage is exactly one HTTP exchange, bounded by a fixed timeout and cancellable through AbortRequest.
type APIChat struct {
	standardURL   string
	multiAgentURL string
	style         models.ResponseStyle
	timeout       time.Duration

	client *http.Client

	batch  batchMaterializer
	stream streamMaterializer

	logger *slog.Logger

	mu     sync.Mutex
	callID uint64
	cancel context.CancelCauseFunc
}

// APIChatConfig holds the endpoints and limits of an APIChat.
type APIChatConfig struct {
	StandardURL   string
	MultiAgentURL string
	ResponseStyle models.ResponseStyle

	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration
	// MaxEventSize is the largest accepted stream event in bytes, defaults to DefaultMaxEventSize.
	MaxEventSize int
}

type chatRequest struct {
	Messages []models.ChatMessage `json:"messages"`
}

// route is the endpoint, accept header and materializer chosen for one call.
type route struct {
	endpoint     string
	accept       string
	materializer materializer
}

const (
	// DefaultTimeout bounds a whole chat exchange, including reading a streamed response.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxEventSize is the default limit of a single stream event.
	DefaultMaxEventSize = 1 << 20

	networkErrorText    = "Network error. Please check your connection."
	unexpectedErrorText = "An unexpected error occurred. Please try again later."
)

// NewAPIChat creates an APIChat. A nil client means http.DefaultClient.
func NewAPIChat(cfg APIChatConfig, client *http.Client, logger *slog.Logger) *APIChat {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxEventSize <= 0 {
		cfg.MaxEventSize = DefaultMaxEventSize
	}
	if cfg.ResponseStyle == "" {
		cfg.ResponseStyle = models.ResponseStyleStream
	}

	logger = logger.With(slog.String("module", "apichat"))

	return &APIChat{
		standardURL:   cfg.StandardURL,
		multiAgentURL: strings.TrimRight(cfg.MultiAgentURL, "/"),
		style:         cfg.ResponseStyle,
		timeout:       cfg.Timeout,
		client:        client,
		batch:         batchMaterializer{logger: logger},
		stream:        streamMaterializer{maxEventSize: cfg.MaxEventSize, logger: logger},
		logger:        logger,
	}
}

// SendMessage sends the whole conversation history to the backend of the given mode and returns the new
// messages it produced. The caller's own messages are never part of the result.
//
// The returned error is always classified: *models.APIError, *models.NetworkError, models.ErrTimeout,
// models.ErrCancelled (possibly joined with models.ErrStreamAborted) or *models.UnknownError.
func (a *APIChat) SendMessage(
	ctx context.Context,
	history []models.ChatMessage,
	mode models.Mode,
) ([]models.Message, error) {
	if len(history) == 0 {
		return nil, &models.UnknownError{Message: "The conversation has no messages to send."}
	}

	ctx, cancel := context.WithCancelCause(ctx)
	id := a.track(cancel)
	timer := time.AfterFunc(a.timeout, func() { cancel(models.ErrTimeout) })
	defer func() {
		timer.Stop()
		a.untrack(id)
		cancel(nil)
	}()

	r := a.route(mode)
	a.logger.Debug("Sending chat request",
		slog.String("mode", string(mode)),
		slog.String("endpoint", r.endpoint),
		slog.Int("messages", len(history)))

	msgs, err := a.exchange(ctx, r, history)
	if err != nil {
		err = classifyError(ctx, err)
		a.logger.Error("Chat request failed",
			slog.String("mode", string(mode)),
			slog.String("kind", string(models.Classify(err))),
			slog.String(errLoggerKey, err.Error()))
		return nil, err
	}

	return msgs, nil
}

// AbortRequest cancels the request in flight, if any. It is safe to call at any time.
func (a *APIChat) AbortRequest() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel == nil {
		return
	}
	a.cancel(models.ErrCancelled)
	a.cancel = nil
	a.logger.Info("API request aborted")
}

func (a *APIChat) track(cancel context.CancelCauseFunc) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.callID++
	a.cancel = cancel
	return a.callID
}

func (a *APIChat) untrack(id uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.callID == id {
		a.cancel = nil
	}
}

func (a *APIChat) route(mode models.Mode) route {
	if mode.ChatMode() == models.ChatModeStandard {
		return route{endpoint: a.standardURL, materializer: a.batch}
	}

	switch a.style {
	case models.ResponseStyleBatch:
		return route{endpoint: a.multiAgentURL + "/batch", materializer: a.batch}
	default:
		return route{endpoint: a.multiAgentURL + "/stream", accept: "text/event-stream", materializer: a.stream}
	}
}

func (a *APIChat) exchange(ctx context.Context, r route, history []models.ChatMessage) ([]models.Message, error) {
	jsonBody, err := json.Marshal(chatRequest{Messages: history})
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.accept != "" {
		req.Header.Set("Accept", r.accept)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	return r.materializer.materialize(ctx, resp)
}

// checkResponse turns a non-success status into an *models.APIError. Reading the body is best-effort.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	errorText := "Failed to read error details."
	if body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil {
		errorText = string(body)
	}

	msg := fmt.Sprintf("API call failed with status %d: %s", resp.StatusCode, errorText)
	switch resp.StatusCode {
	case http.StatusBadRequest:
		msg = "Bad request: " + errorText
	case http.StatusUnauthorized:
		msg = "Authentication failed. Please check credentials."
	case http.StatusForbidden:
		msg = "Permission denied to access the resource."
	case http.StatusNotFound:
		msg = "API endpoint not found."
	case http.StatusTooManyRequests:
		msg = "Too many requests. Please try again later."
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		msg = fmt.Sprintf("Server error (%d). Please try again later.", resp.StatusCode)
	}

	return &models.APIError{Status: resp.StatusCode, Message: msg}
}

// classifyError maps any failure of an exchange onto the error taxonomy. Errors that are already
// classified pass through unchanged.
func classifyError(ctx context.Context, err error) error {
	var apiErr *models.APIError
	var netErr *models.NetworkError
	var unknownErr *models.UnknownError
	switch {
	case errors.As(err, &apiErr), errors.As(err, &netErr), errors.As(err, &unknownErr),
		errors.Is(err, models.ErrTimeout), errors.Is(err, models.ErrCancelled):
		return err
	case ctx.Err() != nil:
		return cancellation(ctx)
	case isConnectivityError(err):
		return &models.NetworkError{Message: networkErrorText, Err: err}
	}
	return &models.UnknownError{Message: unexpectedErrorText, Err: err}
}

// cancellation reports why ctx was cancelled: models.ErrTimeout when the timer (or a parent deadline) fired
// first, models.ErrCancelled otherwise.
func cancellation(ctx context.Context) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, models.ErrTimeout) || errors.Is(cause, context.DeadlineExceeded) {
		return models.ErrTimeout
	}
	return models.ErrCancelled
}

func isConnectivityError(err error) bool {
	var urlErr *url.Error
	var opErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &opErr), errors.As(err, &dnsErr), errors.As(err, &urlErr):
		return true
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "network") || strings.Contains(msg, "connection")
}
