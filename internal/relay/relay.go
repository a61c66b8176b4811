package relay

import (
	"context"
	"errors"
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"llms-gateway/internal/llm"
	"llms-gateway/pkg/logging/logging"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var doneFrame = []byte("data: [DONE]\n\n")

// Result summarises one relayed stream.
type Result struct {
	Chunks int
	// Err is the upstream failure reported to the client, if any.
	Err error
	// Disconnected is set when the client went away before the end.
	Disconnected bool
}

// SetHeaders prepares w for an event stream. Call before the first write.
func SetHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Copy forwards every chunk of stream to w as a "data:" frame and always
// finishes with "data: [DONE]". An upstream failure becomes one error frame
// before the terminator. When ctx ends, forwarding stops at the next chunk
// boundary. stream is closed on return.
func Copy(ctx context.Context, w io.Writer, stream llm.Stream) Result {
	defer stream.Close()

	logger := logging.L(ctx)
	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	var res Result
	for {
		if ctx.Err() != nil {
			res.Disconnected = true
			logger.Info("client disconnected from stream", zap.Int("chunks", res.Chunks))
			return res
		}

		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				res.Disconnected = true
				return res
			}
			res.Err = err
			logger.Error("upstream stream failed", zap.Int("chunks", res.Chunks), zap.Error(err))
			if werr := writeFrame(w, ErrorFrame(err)); werr != nil {
				res.Disconnected = true
				return res
			}
			break
		}

		if err := writeFrame(w, chunk); err != nil {
			res.Disconnected = true
			logger.Info("stream write failed", zap.Int("chunks", res.Chunks), zap.Error(err))
			return res
		}
		res.Chunks++
		flush()
	}

	if _, err := w.Write(doneFrame); err != nil {
		res.Disconnected = true
		return res
	}
	flush()
	return res
}

// ErrorFrame is the body of the frame sent when a stream fails.
func ErrorFrame(err error) map[string]any {
	return map[string]any{
		"error": map[string]any{
			"message": err.Error(),
			"type":    "server_error",
		},
	}
}

func writeFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(data)+8)
	buf = append(buf, "data: "...)
	buf = append(buf, data...)
	buf = append(buf, '\n', '\n')
	_, err = w.Write(buf)
	return err
}
