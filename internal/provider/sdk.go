package provider

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"llms-gateway/internal/config"
	"llms-gateway/internal/llm"
	"llms-gateway/pkg/logging/logging"
)

// SDK serves buffered completions through the go-openai client and falls
// back to the plain HTTP path whenever the client is unavailable or the
// request uses something the client cannot express.
type SDK struct {
	*OpenAI
	sdk *openai.Client
}

func NewSDK(cfg config.ProviderConfig, deps Deps) *SDK {
	p := &SDK{OpenAI: NewOpenAI(cfg, deps)}

	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return p
	}
	c := openai.DefaultConfig(cfg.APIKey)
	c.BaseURL = strings.TrimSuffix(p.chatURL, "/chat/completions")
	c.HTTPClient = p.client
	p.sdk = openai.NewClientWithConfig(c)
	return p
}

// Load adds the models the service reports as pass-through aliases. Names
// already configured, either as an alias or as a target, are left alone.
func (p *SDK) Load(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	logger := logging.L(ctx)

	list, err := p.sdk.ListModels(ctx)
	if err != nil {
		logger.Warn("sdk model discovery failed",
			zap.String("provider", p.Name()),
			zap.Error(err),
		)
		return nil
	}

	targets := make(map[string]bool, len(p.models))
	for _, id := range p.models {
		targets[id] = true
	}
	added := 0
	for _, m := range list.Models {
		if m.ID == "" {
			continue
		}
		if _, ok := p.models[m.ID]; ok || targets[m.ID] {
			continue
		}
		p.models[m.ID] = m.ID
		added++
	}
	logger.Info("loaded sdk models",
		zap.String("provider", p.Name()),
		zap.Int("discovered", len(list.Models)),
		zap.Int("added", added),
		zap.Int("total", len(p.models)),
	)
	return nil
}

func (p *SDK) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	logger := logging.L(ctx)

	if err := p.prepare(ctx, req, false); err != nil {
		return nil, err
	}

	sdkReq, ok := toSDKRequest(req)
	if p.sdk == nil || !ok {
		logger.Debug("sdk cannot express request, using HTTP",
			zap.String("provider", p.Name()),
			zap.Bool("client", p.sdk != nil),
		)
		return p.complete(ctx, req)
	}

	logger.Debug("sdk chat completion",
		zap.String("provider", p.Name()),
		zap.String("upstream_model", req.Model),
	)
	started := time.Now()
	resp, err := p.sdk.CreateChatCompletion(ctx, sdkReq)
	if err != nil {
		return nil, p.sdkError(ctx, err)
	}
	return p.finish(fromSDKResponse(resp), req.Model, started), nil
}

// sdkParams are the request parameters the typed client can carry. An
// explicit zero for a float parameter would be dropped by the client, so
// those requests use HTTP too.
var sdkParams = map[string]func(r *openai.ChatCompletionRequest, req *llm.ChatRequest) bool{
	"max_tokens": func(r *openai.ChatCompletionRequest, req *llm.ChatRequest) bool {
		v, ok := req.Int("max_tokens")
		r.MaxTokens = v
		return ok
	},
	"max_completion_tokens": func(r *openai.ChatCompletionRequest, req *llm.ChatRequest) bool {
		v, ok := req.Int("max_completion_tokens")
		r.MaxCompletionTokens = v
		return ok
	},
	"n": func(r *openai.ChatCompletionRequest, req *llm.ChatRequest) bool {
		v, ok := req.Int("n")
		r.N = v
		return ok
	},
	"seed": func(r *openai.ChatCompletionRequest, req *llm.ChatRequest) bool {
		v, ok := req.Int("seed")
		r.Seed = &v
		return ok
	},
	"top_logprobs": func(r *openai.ChatCompletionRequest, req *llm.ChatRequest) bool {
		v, ok := req.Int("top_logprobs")
		r.TopLogProbs = v
		return ok
	},
	"logprobs": func(r *openai.ChatCompletionRequest, req *llm.ChatRequest) bool {
		v, ok := req.Get("logprobs")
		b, isBool := v.(bool)
		r.LogProbs = b
		return ok && isBool
	},
	"stop": func(r *openai.ChatCompletionRequest, req *llm.ChatRequest) bool {
		v, ok := req.Strings("stop")
		r.Stop = v
		return ok
	},
	"user": func(r *openai.ChatCompletionRequest, req *llm.ChatRequest) bool {
		v, ok := req.Get("user")
		s, isString := v.(string)
		r.User = s
		return ok && isString
	},
	"temperature": func(r *openai.ChatCompletionRequest, req *llm.ChatRequest) bool {
		v, ok := req.Float("temperature")
		r.Temperature = float32(v)
		return ok && v != 0
	},
	"top_p": func(r *openai.ChatCompletionRequest, req *llm.ChatRequest) bool {
		v, ok := req.Float("top_p")
		r.TopP = float32(v)
		return ok && v != 0
	},
	"presence_penalty": func(r *openai.ChatCompletionRequest, req *llm.ChatRequest) bool {
		v, ok := req.Float("presence_penalty")
		r.PresencePenalty = float32(v)
		return ok && v != 0
	},
	"frequency_penalty": func(r *openai.ChatCompletionRequest, req *llm.ChatRequest) bool {
		v, ok := req.Float("frequency_penalty")
		r.FrequencyPenalty = float32(v)
		return ok && v != 0
	},
}

// toSDKRequest converts a prepared request. ok is false when any part of it
// has no typed equivalent.
func toSDKRequest(req *llm.ChatRequest) (openai.ChatCompletionRequest, bool) {
	out := openai.ChatCompletionRequest{Model: req.Model}

	for key := range req.Params {
		set, known := sdkParams[key]
		if !known || !set(&out, req) {
			return openai.ChatCompletionRequest{}, false
		}
	}

	out.Messages = make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg, ok := toSDKMessage(m)
		if !ok {
			return openai.ChatCompletionRequest{}, false
		}
		out.Messages = append(out.Messages, msg)
	}
	return out, true
}

func toSDKMessage(m llm.Message) (openai.ChatCompletionMessage, bool) {
	msg := openai.ChatCompletionMessage{Role: m.Role}

	for key, raw := range m.Extra {
		if key != "name" {
			return msg, false
		}
		if err := jsoniter.Unmarshal(raw, &msg.Name); err != nil {
			return msg, false
		}
	}

	if !m.HasContent() || m.Content.IsNull() {
		return msg, false
	}
	if !m.Content.IsParts() {
		msg.Content = m.Content.Text
		return msg, true
	}

	msg.MultiContent = make([]openai.ChatMessagePart, 0, len(m.Content.Parts))
	for _, part := range m.Content.Parts {
		switch part.Type {
		case llm.PartText:
			msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: part.Text,
			})
		case llm.PartImageURL:
			if part.ImageURL == nil {
				return msg, false
			}
			msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    part.ImageURL.URL,
					Detail: openai.ImageURLDetail(part.ImageURL.Detail),
				},
			})
		default:
			return msg, false
		}
	}
	return msg, true
}

func fromSDKResponse(r openai.ChatCompletionResponse) *llm.ChatResponse {
	out := &llm.ChatResponse{
		ID:      r.ID,
		Object:  r.Object,
		Created: r.Created,
		Model:   r.Model,
		Choices: make([]llm.ChatChoice, 0, len(r.Choices)),
		Usage: &llm.Usage{
			PromptTokens:     r.Usage.PromptTokens,
			CompletionTokens: r.Usage.CompletionTokens,
			TotalTokens:      r.Usage.TotalTokens,
		},
	}
	for _, c := range r.Choices {
		msg := llm.ResponseMessage{
			Role:    c.Message.Role,
			Content: c.Message.Content,
		}
		if len(c.Message.ToolCalls) > 0 {
			if raw, err := jsoniter.Marshal(c.Message.ToolCalls); err == nil {
				msg.ToolCalls = raw
			}
		}
		out.Choices = append(out.Choices, llm.ChatChoice{
			Index:        c.Index,
			Message:      msg,
			FinishReason: string(c.FinishReason),
		})
	}
	return out
}

// sdkError maps client failures onto the gateway error kinds.
func (p *SDK) sdkError(ctx context.Context, err error) error {
	logger := logging.L(ctx)

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		logger.Error("sdk provider error",
			zap.String("provider", p.Name()),
			zap.Int("status", apiErr.HTTPStatusCode),
			zap.String("error_message", apiErr.Message),
		)
		// the client keeps only the decoded envelope
		body, _ := jsoniter.MarshalToString(openai.ErrorResponse{Error: apiErr})
		return &llm.Error{
			Kind:     llm.KindUpstreamHTTP,
			Provider: p.Name(),
			Status:   apiErr.HTTPStatusCode,
			Reason:   http.StatusText(apiErr.HTTPStatusCode),
			Body:     body,
			Message:  apiErr.Message,
			Err:      err,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		logger.Error("sdk request error",
			zap.String("provider", p.Name()),
			zap.Int("status", reqErr.HTTPStatusCode),
			zap.Error(err),
		)
		body := string(reqErr.Body)
		return &llm.Error{
			Kind:     llm.KindUpstreamHTTP,
			Provider: p.Name(),
			Status:   reqErr.HTTPStatusCode,
			Reason:   http.StatusText(reqErr.HTTPStatusCode),
			Body:     body,
			Message:  llm.ExtractUpstreamMessage(body),
			Err:      err,
		}
	}

	logger.Error("sdk call failed", zap.String("provider", p.Name()), zap.Error(err))
	return llm.WrapTransport(p.Name(), err)
}
