package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"llms-gateway/internal/llm"
	"llms-gateway/pkg/logging/logging"
)

// maxErrorBody bounds how much of a failed upstream response is kept.
const maxErrorBody = 1 << 20

// post sends body as JSON to url. Non-2xx responses are consumed and
// returned as UpstreamHTTPError; on success the caller owns resp.Body.
func (b *base) post(ctx context.Context, url string, headers map[string]string, body any) (*http.Response, error) {
	logger := logging.L(ctx)

	payload, err := jsoniter.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", b.cfg.Name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: build HTTP request: %w", b.cfg.Name, err)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := b.client.Do(httpReq)
	if err != nil {
		logger.Error("provider request failed",
			zap.String("provider", b.cfg.Name),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, llm.WrapTransport(b.cfg.Name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		uerr := llm.UpstreamHTTPError(b.cfg.Name, resp.StatusCode, string(raw), resp.Header.Clone())
		logger.Error("provider upstream error",
			zap.String("provider", b.cfg.Name),
			zap.Int("status", resp.StatusCode),
			zap.String("error_message", uerr.Message),
			zap.String("body", llm.Truncate(string(raw), 200)),
		)
		return nil, uerr
	}

	logger.Debug("provider responded",
		zap.String("provider", b.cfg.Name),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)
	return resp, nil
}

// decodeBody reads a successful JSON response into out.
func (b *base) decodeBody(resp *http.Response, out any) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.WrapTransport(b.cfg.Name, fmt.Errorf("read response: %w", err))
	}
	if err := jsoniter.Unmarshal(data, out); err != nil {
		return llm.ProviderError(b.cfg.Name, fmt.Sprintf("decode upstream response: %v: %s", err, llm.Truncate(string(data), 200)))
	}
	return nil
}
