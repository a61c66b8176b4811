package provider

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"llms-gateway/internal/llm"
)

var (
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// sseStream reads OpenAI-style server-sent events from an upstream body.
// Lines other than "data:" are ignored, "[DONE]" ends the stream and frames
// that are not valid JSON are logged and skipped.
type sseStream struct {
	ctx      context.Context
	provider string
	model    string
	logger   *zap.Logger

	body   io.ReadCloser
	reader *bufio.Reader

	chunks    int
	done      bool
	closeOnce sync.Once
}

func newSSEStream(ctx context.Context, provider, model string, body io.ReadCloser, logger *zap.Logger) *sseStream {
	return &sseStream{
		ctx:      ctx,
		provider: provider,
		model:    model,
		logger:   logger,
		body:     body,
		reader:   bufio.NewReader(body),
	}
}

func (s *sseStream) Recv() (llm.StreamChunk, error) {
	for {
		if s.done {
			return nil, io.EOF
		}

		// Respect context cancellation (timeout / caller cancel)
		if err := s.ctx.Err(); err != nil {
			s.logger.Info("provider stream cancelled",
				zap.String("provider", s.provider),
				zap.String("upstream_model", s.model),
				zap.Int("chunks", s.chunks),
				zap.Error(err),
			)
			s.finish()
			return nil, llm.WrapTransport(s.provider, err)
		}

		line, readErr := s.reader.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			s.finish()
			return nil, llm.WrapTransport(s.provider, fmt.Errorf("read stream line: %w", readErr))
		}

		chunk, end := s.parse(line)
		if end {
			s.logger.Debug("provider stream received [DONE]",
				zap.String("provider", s.provider),
				zap.Int("chunks", s.chunks),
			)
			s.finish()
			return nil, io.EOF
		}
		if chunk != nil {
			s.chunks++
			return chunk, nil
		}

		if readErr != nil {
			// Normal end of stream without explicit [DONE]
			s.logger.Debug("provider stream completed (EOF)",
				zap.String("provider", s.provider),
				zap.Int("chunks", s.chunks),
			)
			s.finish()
			return nil, io.EOF
		}
	}
}

// parse handles one line. It returns end=true on the [DONE] sentinel and a
// nil chunk for lines that carry nothing to forward.
func (s *sseStream) parse(line []byte) (chunk llm.StreamChunk, end bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || !bytes.HasPrefix(line, dataPrefix) {
		return nil, false
	}

	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if bytes.Equal(payload, doneMarker) {
		return nil, true
	}
	if len(payload) == 0 {
		return nil, false
	}

	if err := jsoniter.Unmarshal(payload, &chunk); err != nil {
		s.logger.Warn("skipping malformed stream chunk",
			zap.String("provider", s.provider),
			zap.String("data", llm.Truncate(string(payload), 200)),
			zap.Error(err),
		)
		return nil, false
	}
	return chunk, false
}

func (s *sseStream) finish() {
	s.done = true
	_ = s.Close()
}

func (s *sseStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
	})
	return err
}
