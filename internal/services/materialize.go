package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/agent-chat-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

// materializer turns a successful backend response into the list of new messages.
type materializer interface {
	materialize(ctx context.Context, resp *http.Response) ([]models.Message, error)
}

// batchMaterializer reads a whole JSON array of payloads.
type batchMaterializer struct {
	logger *slog.Logger
}

// streamMaterializer reads an event stream, one payload per event.
type streamMaterializer struct {
	maxEventSize int
	logger       *slog.Logger
}

func (b batchMaterializer) materialize(ctx context.Context, resp *http.Response) ([]models.Message, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &models.APIError{Status: resp.StatusCode, Message: "Failed to parse API response JSON."}
	}
	if _, ok := raw.([]any); !ok {
		return nil, &models.APIError{
			Status:  resp.StatusCode,
			Message: "Received response in an unexpected format.",
		}
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(body, &elems); err != nil {
		return nil, &models.APIError{Status: resp.StatusCode, Message: "Failed to parse API response JSON."}
	}

	report := progressFromContext(ctx)
	var msgs []models.Message
	for i, elem := range elems {
		var p payload
		if err := json.Unmarshal(elem, &p); err != nil {
			b.logger.Warn("Skipping malformed response element",
				slog.Int("index", i),
				slog.String(errLoggerKey, err.Error()))
			continue
		}
		msg := p.toMessage()
		if !msg.Renderable() {
			continue
		}
		msgs = append(msgs, msg)
		report(msg)
	}

	if len(msgs) == 0 {
		return nil, &models.APIError{
			Status:  resp.StatusCode,
			Message: "Could not extract any valid messages from API response.",
		}
	}

	return msgs, nil
}

func (s streamMaterializer) materialize(ctx context.Context, resp *http.Response) ([]models.Message, error) {
	report := progressFromContext(ctx)
	msgs := []models.Message{}

	emit := func(data string) {
		data = joinFragments(data)
		if data == "" {
			return
		}

		var p payload
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			s.logger.Warn("Skipping malformed stream event",
				slog.String("data", data),
				slog.String(errLoggerKey, err.Error()))
			return
		}

		msg := p.toMessage()
		if !msg.Renderable() {
			return
		}
		msgs = append(msgs, msg)
		report(msg)
	}

	// Once the body hit EOF, the parser may hand back a trailing event that never saw its blank line.
	// Events read after that point are held back by one until the parser moves past them.
	body := &tailReader{r: resp.Body}
	var pending string
	hasPending := false

	for ev, err := range sse.Read(body, &sse.ReadConfig{MaxEventSize: s.maxEventSize}) {
		if ctx.Err() != nil {
			return nil, errors.Join(models.ErrStreamAborted, cancellation(ctx))
		}
		if err != nil {
			return nil, &models.NetworkError{Message: "Error processing streamed response.", Err: err}
		}

		if !body.eof {
			emit(ev.Data)
			continue
		}
		if hasPending {
			emit(pending)
		}
		pending, hasPending = ev.Data, true
	}

	if ctx.Err() != nil {
		return nil, errors.Join(models.ErrStreamAborted, cancellation(ctx))
	}

	if hasPending {
		if body.terminated() {
			emit(pending)
		} else {
			s.logger.Debug("Dropping unterminated trailing event", slog.String("data", pending))
		}
	}

	return msgs, nil
}

// tailReader remembers the last bytes read from r and whether r reached EOF.
type tailReader struct {
	r    io.Reader
	tail []byte
	eof  bool
}

func (t *tailReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		t.tail = append(t.tail, p[max(0, n-3):n]...)
		if len(t.tail) > 3 {
			t.tail = append(t.tail[:0], t.tail[len(t.tail)-3:]...)
		}
	}
	if errors.Is(err, io.EOF) {
		t.eof = true
	}
	return n, err
}

// terminated reports whether the data read so far ends with a blank line.
func (t *tailReader) terminated() bool {
	tail := string(t.tail)
	for _, end := range []string{"\n\n", "\r\r", "\n\r", "\n\r\n", "\r\r\n"} {
		if strings.HasSuffix(tail, end) {
			return true
		}
	}
	return false
}

// joinFragments concatenates the data lines of one event in arrival order.
func joinFragments(data string) string {
	var sb strings.Builder
	for _, line := range strings.Split(data, "\n") {
		sb.WriteString(strings.TrimSpace(line))
	}
	return sb.String()
}
