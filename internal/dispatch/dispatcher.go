package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"llms-gateway/internal/llm"
	"llms-gateway/internal/metrics"
	"llms-gateway/internal/provider"
	"llms-gateway/pkg/logging/logging"
)

// Snapshots hands out the provider set to route against.
type Snapshots interface {
	Snapshot() *provider.Snapshot
}

// Dispatcher routes a request to the providers serving its model and falls
// back through them one at a time.
type Dispatcher struct {
	registry Snapshots
}

func New(registry Snapshots) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Route returns every provider serving model, in configuration order.
func (d *Dispatcher) Route(model string) ([]provider.Provider, error) {
	return route(d.registry.Snapshot(), model)
}

func route(s *provider.Snapshot, model string) ([]provider.Provider, error) {
	candidates := s.Candidates(model)
	if len(candidates) == 0 {
		return nil, llm.ModelNotFound(model)
	}
	return candidates, nil
}

// Complete performs a buffered completion. Each candidate gets its own copy
// of req. The first success is returned; if every candidate fails the first
// failure is returned.
func (d *Dispatcher) Complete(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return dispatch(ctx, d.registry.Snapshot(), req,
		func(ctx context.Context, p provider.Provider, r *llm.ChatRequest) (*llm.ChatResponse, error) {
			start := time.Now()
			resp, err := p.Chat(ctx, r)
			metrics.ProviderLatencySeconds.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
			return resp, err
		})
}

// CompleteStream opens a streamed completion with the same fallback rules.
// Fallback only covers establishing the stream; failures after the first
// chunk belong to the returned stream.
func (d *Dispatcher) CompleteStream(ctx context.Context, req *llm.ChatRequest) (llm.Stream, error) {
	return dispatch(ctx, d.registry.Snapshot(), req,
		func(ctx context.Context, p provider.Provider, r *llm.ChatRequest) (llm.Stream, error) {
			return p.ChatStream(ctx, r)
		})
}

func dispatch[T any](
	ctx context.Context,
	snap *provider.Snapshot,
	req *llm.ChatRequest,
	call func(context.Context, provider.Provider, *llm.ChatRequest) (T, error),
) (T, error) {
	var zero T
	// the request logger already carries the model and stream flag
	logger := logging.L(ctx)

	if req == nil {
		return zero, fmt.Errorf("dispatch: request is nil")
	}
	candidates, err := route(snap, req.Model)
	if err != nil {
		logger.Warn("no provider for model")
		return zero, err
	}

	var firstErr error
	for i, p := range candidates {
		logger.Debug("trying provider",
			zap.String("provider", p.Name()),
			zap.String("type", p.Type()),
			zap.Int("attempt", i+1),
			zap.Int("candidates", len(candidates)),
		)

		out, err := call(ctx, p, req.Clone())
		if err == nil {
			metrics.ProviderAttemptsTotal.WithLabelValues(p.Name(), "success").Inc()
			if i > 0 {
				metrics.ProviderFallbacksTotal.Inc()
				logger.Info("served by fallback provider",
					zap.String("provider", p.Name()),
					zap.Int("attempt", i+1),
				)
			}
			return out, nil
		}

		metrics.ProviderAttemptsTotal.WithLabelValues(p.Name(), "error").Inc()
		if firstErr == nil {
			firstErr = err
		}
		logger.Warn("provider failed",
			zap.String("provider", p.Name()),
			zap.Int("attempt", i+1),
			zap.Error(err),
		)

		if ctx.Err() != nil {
			break
		}
	}
	return zero, firstErr
}
