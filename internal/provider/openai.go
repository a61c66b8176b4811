package provider

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"llms-gateway/internal/config"
	"llms-gateway/internal/llm"
	"llms-gateway/pkg/logging/logging"
)

const googleOpenAIChatURL = "https://generativelanguage.googleapis.com/v1beta/chat/completions"

var versionSegment = regexp.MustCompile(`^v\d+$`)

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	base
	chatURL string
}

func NewOpenAI(cfg config.ProviderConfig, deps Deps) *OpenAI {
	p := &OpenAI{base: newBase(cfg, deps)}
	p.chatURL = chatURL(cfg.BaseURL)
	if cfg.APIKey != "" {
		p.headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	return p
}

// NewGoogleOpenAI is the OpenAI-compatible surface of the Gemini API.
func NewGoogleOpenAI(cfg config.ProviderConfig, deps Deps) *OpenAI {
	p := NewOpenAI(cfg, deps)
	p.chatURL = googleOpenAIChatURL
	return p
}

// chatURL appends the chat completions path. Bases that already end in a
// version segment (".../v4") get no extra /v1.
func chatURL(baseURL string) string {
	baseURL = strings.TrimRight(baseURL, "/")
	last := baseURL
	if i := strings.LastIndex(baseURL, "/"); i >= 0 {
		last = baseURL[i+1:]
	}
	if versionSegment.MatchString(last) {
		return baseURL + "/chat/completions"
	}
	return baseURL + "/v1/chat/completions"
}

func (p *OpenAI) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := p.prepare(ctx, req, false); err != nil {
		return nil, err
	}
	return p.complete(ctx, req)
}

func (p *OpenAI) ChatStream(ctx context.Context, req *llm.ChatRequest) (llm.Stream, error) {
	if err := p.prepare(ctx, req, true); err != nil {
		return nil, err
	}
	return p.stream(ctx, req)
}

// complete sends an already prepared request and reads the whole response.
func (p *OpenAI) complete(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	logging.L(ctx).Debug("POST chat completion",
		zap.String("provider", p.Name()),
		zap.String("url", p.chatURL),
	)

	started := time.Now()
	resp, err := p.post(ctx, p.chatURL, p.headers, req)
	if err != nil {
		return nil, err
	}

	var out llm.ChatResponse
	if err := p.decodeBody(resp, &out); err != nil {
		return nil, err
	}
	return p.finish(&out, req.Model, started), nil
}

// stream sends an already prepared request and returns its event stream.
func (p *OpenAI) stream(ctx context.Context, req *llm.ChatRequest) (llm.Stream, error) {
	logging.L(ctx).Debug("POST chat completion stream",
		zap.String("provider", p.Name()),
		zap.String("url", p.chatURL),
	)

	resp, err := p.post(ctx, p.chatURL, p.headers, req)
	if err != nil {
		return nil, err
	}
	return newSSEStream(ctx, p.Name(), req.Model, resp.Body, logging.L(ctx)), nil
}
