package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"llms-gateway/internal/llm"
	"llms-gateway/internal/relay"
	"llms-gateway/pkg/logging/logging"
)

// Completer routes a chat request to the providers serving its model.
type Completer interface {
	Complete(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
	CompleteStream(ctx context.Context, req *llm.ChatRequest) (llm.Stream, error)
}

// ChatHandler serves /v1/chat/completions.
type ChatHandler struct {
	completer Completer
}

func NewChatHandler(c Completer) *ChatHandler {
	return &ChatHandler{completer: c}
}

// ChatCompletion handles POST /v1/chat/completions. Streamed requests that
// pass validation are always answered with server-sent events; a routing
// failure arrives as one error frame followed by the terminator.
func (h *ChatHandler) ChatCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)
	start := time.Now()

	req, err := llm.DecodeChatRequest(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn("request body too large", zap.Int64("limit", tooLarge.Limit))
			writeError(w, http.StatusRequestEntityTooLarge, "RequestEntityTooLarge", "request body too large")
			return
		}
		logger.Warn("invalid request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "BadRequest", "invalid JSON: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		logger.Warn("invalid request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}

	logger = logger.With(zap.String("model", req.Model), zap.Bool("stream", req.Stream))
	ctx = logging.WithLogger(ctx, logger)

	if req.Stream {
		h.stream(ctx, w, req, start)
		return
	}

	resp, err := h.completer.Complete(ctx, req)
	if err != nil {
		status := writeFailure(w, err)
		logger.Warn("chat failed",
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return
	}

	logger.Info("chat completed",
		zap.String("upstream_model", resp.Model),
		zap.Duration("duration", time.Since(start)),
	)
	writeJSON(w, http.StatusOK, resp)
}

func (h *ChatHandler) stream(ctx context.Context, w http.ResponseWriter, req *llm.ChatRequest, start time.Time) {
	logger := logging.L(ctx)

	stream, err := h.completer.CompleteStream(ctx, req)
	if err != nil {
		logger.Warn("stream failed to open",
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		stream = llm.NewFailedStream(err)
	}

	relay.SetHeaders(w)
	w.WriteHeader(http.StatusOK)

	res := relay.Copy(ctx, w, stream)
	logger.Info("stream finished",
		zap.Int("chunks", res.Chunks),
		zap.Bool("disconnected", res.Disconnected),
		zap.Bool("failed", res.Err != nil),
		zap.Duration("duration", time.Since(start)),
	)
}
