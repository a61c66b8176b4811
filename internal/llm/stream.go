package llm

import (
	"io"
	"sync"
)

// Stream is a finite, pull-based sequence of chunks from one provider call.
// Recv returns io.EOF once the upstream signals the end. Close releases the
// upstream connection and is safe to call more than once.
type Stream interface {
	Recv() (StreamChunk, error)
	Close() error
}

type chunkStream struct {
	mu     sync.Mutex
	chunks []StreamChunk
	closed bool
}

// NewChunkStream returns a Stream over chunks that are already in memory.
func NewChunkStream(chunks ...StreamChunk) Stream {
	return &chunkStream{chunks: chunks}
}

func (s *chunkStream) Recv() (StreamChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || len(s.chunks) == 0 {
		return nil, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *chunkStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.chunks = nil
	s.mu.Unlock()
	return nil
}

type failedStream struct {
	err error
}

// NewFailedStream returns a Stream whose first Recv fails with err.
func NewFailedStream(err error) Stream {
	return failedStream{err: err}
}

func (s failedStream) Recv() (StreamChunk, error) { return nil, s.err }
func (s failedStream) Close() error               { return nil }
