package provider

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"llms-gateway/internal/config"
	"llms-gateway/internal/llm"
	"llms-gateway/internal/translator"
	"llms-gateway/pkg/logging/logging"
)

const defaultGoogleBaseURL = "https://generativelanguage.googleapis.com"

// Google calls the native Gemini generateContent API, translating requests
// and responses to and from the chat completions shape.
type Google struct {
	base
	baseURL string
	opts    translator.GeminiOptions
}

func NewGoogle(cfg config.ProviderConfig, deps Deps) *Google {
	p := &Google{
		base:    newBase(cfg, deps),
		baseURL: cfg.BaseURL,
		opts: translator.GeminiOptions{
			SafetySettings: cfg.SafetySettings,
			ThinkingConfig: cfg.ThinkingConfig,
		},
	}
	if p.baseURL == "" {
		p.baseURL = defaultGoogleBaseURL
	}
	// the key travels in the query string; Gemini rejects bearer tokens
	delete(p.headers, "Authorization")
	return p
}

func (p *Google) generateURL(model string) string {
	return p.baseURL + "/v1beta/models/" + url.PathEscape(model) + ":generateContent?key=" + url.QueryEscape(p.cfg.APIKey)
}

func (p *Google) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	logger := logging.L(ctx)

	if err := p.prepare(ctx, req, false); err != nil {
		return nil, err
	}

	body, err := translator.ToGemini(req, p.opts)
	if err != nil {
		return nil, err
	}
	logger.Debug("POST generateContent",
		zap.String("provider", p.Name()),
		zap.String("upstream_model", req.Model),
		zap.Int("contents", len(body.Contents)),
		zap.Bool("system_instruction", body.SystemInstruction != nil),
	)

	started := time.Now()
	resp, err := p.post(ctx, p.generateURL(req.Model), p.headers, body)
	if err != nil {
		return nil, err
	}

	var out translator.GenerateContentResponse
	if err := p.decodeBody(resp, &out); err != nil {
		return nil, err
	}
	if out.Error != nil {
		logger.Error("gemini error envelope",
			zap.String("provider", p.Name()),
			zap.Int("code", out.Error.Code),
			zap.String("error_message", out.Error.Message),
		)
	}

	chat, err := translator.FromGemini(p.Name(), &out, req.Model, started)
	if err != nil {
		return nil, err
	}
	return p.finish(chat, req.Model, started), nil
}

// ChatStream performs a buffered generateContent call and replays the
// result as a single chunk.
func (p *Google) ChatStream(ctx context.Context, req *llm.ChatRequest) (llm.Stream, error) {
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	return llm.NewChunkStream(translator.ToChunk(resp)), nil
}
