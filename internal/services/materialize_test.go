package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/MegaGrindStone/agent-chat-ui/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader returns its chunks one Read at a time.
type chunkReader struct {
	chunks []string
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks[0] = c.chunks[0][n:]
	if c.chunks[0] == "" {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func testResponse(r io.Reader) *http.Response {
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(r)}
}

func testStream() streamMaterializer {
	return streamMaterializer{maxEventSize: DefaultMaxEventSize, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func testBatch() batchMaterializer {
	return batchMaterializer{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestStreamMaterializerSplitTerminator(t *testing.T) {
	r := &chunkReader{chunks: []string{
		`data: {"content":"one","authorRole":"ASSISTANT","authorName":"A"}` + "\n",
		"\n",
		`data: {"content":"two",` + "\n" + `data: "authorRole":"ASSISTANT","authorName":"B"}` + "\n\n",
	}}

	msgs, err := testStream().materialize(context.Background(), testResponse(r))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "A", msgs[0].AgentName)
	assert.Equal(t, "two", msgs[1].Content)
	assert.Equal(t, "B", msgs[1].AgentName)
}

func TestStreamMaterializerOneByte(t *testing.T) {
	body := `data: {"content":"hello","authorRole":"ASSISTANT"}` + "\n\n" +
		`data: {"content":"","authorRole":"TOOL","metadata":{"id":"c1"}}` + "\n\n"

	msgs, err := testStream().materialize(context.Background(),
		testResponse(iotest.OneByteReader(strings.NewReader(body))))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleAssistant, msgs[0].Role)
	assert.Equal(t, models.RoleTool, msgs[1].Role)
	assert.Equal(t, "c1", msgs[1].ToolCallID)
}

func TestStreamMaterializerSkipsMalformedAndEmpty(t *testing.T) {
	body := "data: {not json\n\n" +
		`data: {"content":"","authorRole":"ASSISTANT"}` + "\n\n" +
		": comment\n\n" +
		`data: {"content":"kept","authorRole":"ASSISTANT"}` + "\n\n"

	var reported []models.Message
	ctx := WithProgress(context.Background(), func(m models.Message) { reported = append(reported, m) })

	msgs, err := testStream().materialize(ctx, testResponse(strings.NewReader(body)))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "kept", msgs[0].Content)
	assert.Equal(t, msgs, reported)
}

func TestStreamMaterializerDropsUnterminatedTail(t *testing.T) {
	one := `data: {"content":"one","authorRole":"ASSISTANT","authorName":"A"}`
	two := `data: {"content":"two","authorRole":"ASSISTANT","authorName":"B"}`

	tests := []struct {
		name string
		body string
		want []string
	}{
		{name: "missing blank line", body: one + "\n\n" + two + "\n", want: []string{"one"}},
		{name: "missing line end", body: one + "\n\n" + two, want: []string{"one"}},
		{name: "crlf missing blank line", body: one + "\r\n\r\n" + two + "\r\n", want: []string{"one"}},
		{name: "terminated", body: one + "\n\n" + two + "\n\n", want: []string{"one", "two"}},
		{name: "crlf terminated", body: one + "\r\n\r\n" + two + "\r\n\r\n", want: []string{"one", "two"}},
		{name: "only unterminated", body: two + "\n", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, r := range []io.Reader{
				strings.NewReader(tt.body),
				iotest.OneByteReader(strings.NewReader(tt.body)),
				iotest.DataErrReader(strings.NewReader(tt.body)),
			} {
				var reported []string
				ctx := WithProgress(context.Background(), func(m models.Message) { reported = append(reported, m.Content) })

				msgs, err := testStream().materialize(ctx, testResponse(r))
				require.NoError(t, err)
				got := []string{}
				for _, m := range msgs {
					got = append(got, m.Content)
				}
				assert.Equal(t, tt.want, got)
				assert.Equal(t, len(tt.want), len(reported))
			}
		})
	}
}

func TestTailReaderTerminated(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{body: "", want: false},
		{body: "data: x", want: false},
		{body: "data: x\n", want: false},
		{body: "data: x\r\n", want: false},
		{body: "data: x\n\n", want: true},
		{body: "data: x\r\r", want: true},
		{body: "data: x\r\n\r\n", want: true},
	}

	for _, tt := range tests {
		r := &tailReader{r: iotest.OneByteReader(strings.NewReader(tt.body))}
		_, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.True(t, r.eof)
		assert.Equal(t, tt.want, r.terminated(), "%q", tt.body)
	}
}

func TestStreamMaterializerEmptyStream(t *testing.T) {
	msgs, err := testStream().materialize(context.Background(), testResponse(strings.NewReader("")))
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestStreamMaterializerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(models.ErrCancelled)

	body := `data: {"content":"hello","authorRole":"ASSISTANT"}` + "\n\n"
	_, err := testStream().materialize(ctx, testResponse(strings.NewReader(body)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrStreamAborted))
	assert.True(t, errors.Is(err, models.ErrCancelled))
	assert.Equal(t, models.KindCancelled, models.Classify(err))
}

func TestBatchMaterializer(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantLen  int
		wantText string
	}{
		{
			name:    "keeps renderable messages",
			body:    `[{"content":"a","authorRole":"ASSISTANT"},{"content":"","authorRole":"ASSISTANT"},{"content":"","authorRole":"TOOL"}]`,
			wantLen: 2,
		},
		{
			name:    "skips malformed elements",
			body:    `[42,{"content":"a","authorRole":"ASSISTANT"}]`,
			wantLen: 1,
		},
		{
			name:     "not an array",
			body:     `{"content":"a"}`,
			wantText: "API Error: Received response in an unexpected format.",
		},
		{
			name:     "invalid json",
			body:     `[{`,
			wantText: "API Error: Failed to parse API response JSON.",
		},
		{
			name:     "nothing renderable",
			body:     `[{"content":"","authorRole":"ASSISTANT"}]`,
			wantText: "API Error: Could not extract any valid messages from API response.",
		},
		{
			name:     "empty array",
			body:     `[]`,
			wantText: "API Error: Could not extract any valid messages from API response.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := testBatch().materialize(context.Background(), testResponse(strings.NewReader(tt.body)))
			if tt.wantText != "" {
				require.Error(t, err)
				var apiErr *models.APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, http.StatusOK, apiErr.Status)
				assert.Equal(t, tt.wantText, models.ErrorText(err))
				return
			}
			require.NoError(t, err)
			assert.Len(t, msgs, tt.wantLen)
		})
	}
}
