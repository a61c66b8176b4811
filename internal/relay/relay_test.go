package relay

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"llms-gateway/internal/llm"
	"llms-gateway/pkg/logging/logging"
)

func testContext(t *testing.T) context.Context {
	return logging.WithLogger(context.Background(), zaptest.NewLogger(t))
}

// scriptedStream yields chunks, then fails with err (or ends with io.EOF).
type scriptedStream struct {
	chunks []llm.StreamChunk
	err    error
	closed bool
	onRecv func(n int)
	n      int
}

func (s *scriptedStream) Recv() (llm.StreamChunk, error) {
	if s.onRecv != nil {
		s.onRecv(s.n)
	}
	s.n++
	if len(s.chunks) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

func frames(body string) []string {
	var out []string
	for _, f := range strings.Split(body, "\n\n") {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func TestCopyThreeChunks(t *testing.T) {
	t.Parallel()

	stream := &scriptedStream{chunks: []llm.StreamChunk{{"n": 1}, {"n": 2}, {"n": 3}}}
	rec := httptest.NewRecorder()

	res := Copy(testContext(t), rec, stream)
	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Chunks)
	assert.True(t, stream.closed)

	assert.Equal(t, []string{
		`data: {"n":1}`,
		`data: {"n":2}`,
		`data: {"n":3}`,
		`data: [DONE]`,
	}, frames(rec.Body.String()))
	assert.True(t, rec.Flushed)
}

func TestCopyErrorFrameThenDone(t *testing.T) {
	t.Parallel()

	stream := &scriptedStream{
		chunks: []llm.StreamChunk{{"n": 1}},
		err:    llm.TransportError("openrouter", errors.New("connection reset")),
	}
	rec := httptest.NewRecorder()

	res := Copy(testContext(t), rec, stream)
	require.Error(t, res.Err)
	assert.Equal(t, 1, res.Chunks)

	got := frames(rec.Body.String())
	require.Len(t, got, 3)
	assert.Equal(t, `data: {"n":1}`, got[0])
	assert.Equal(t, `data: {"error":{"message":"openrouter: connection reset","type":"server_error"}}`, got[1])
	assert.Equal(t, `data: [DONE]`, got[2])
}

func TestCopyStopsWhenClientLeaves(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(testContext(t))
	stream := &scriptedStream{
		chunks: []llm.StreamChunk{{"n": 1}, {"n": 2}, {"n": 3}},
		onRecv: func(n int) {
			if n == 1 {
				cancel()
			}
		},
	}
	rec := httptest.NewRecorder()

	res := Copy(ctx, rec, stream)
	assert.True(t, res.Disconnected)
	assert.True(t, stream.closed)
	assert.Equal(t, 2, res.Chunks, "the chunk in hand is written, nothing after it")
	assert.NotContains(t, rec.Body.String(), "[DONE]")
}

func TestSetHeaders(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	SetHeaders(rec)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
}
