package translator

import (
	"fmt"
	"strings"
	"time"

	"llms-gateway/internal/llm"
	"llms-gateway/internal/media"
)

const (
	roleModel = "model"

	defaultImageMIME = "image/png"
	defaultFileMIME  = "application/octet-stream"
)

// GeminiOptions are provider-level settings merged into every request.
type GeminiOptions struct {
	SafetySettings []any
	ThinkingConfig map[string]any
}

// ToGemini maps a resolved chat request onto the generateContent schema.
// Every media part must already be inline; a part still holding a remote or
// local reference yields an UnresolvedMediaReference error.
func ToGemini(req *llm.ChatRequest, opts GeminiOptions) (*GenerateContentRequest, error) {
	out := &GenerateContentRequest{Contents: []Content{}}

	for _, msg := range req.Messages {
		if msg.Role == llm.RoleSystem {
			if out.SystemInstruction == nil {
				if text, ok := msg.Content.FirstText(); ok {
					out.SystemInstruction = &SystemInstruction{Parts: []Part{textPart(text)}}
				}
			}
			continue
		}
		if !msg.HasContent() || msg.Content.IsNull() {
			continue
		}

		role := roleModel
		if msg.Role == llm.RoleUser {
			role = llm.RoleUser
		}

		if !msg.Content.IsParts() {
			out.Contents = append(out.Contents, Content{Role: role, Parts: []Part{textPart(msg.Content.Text)}})
			continue
		}

		parts, err := toGeminiParts(msg.Content.Parts)
		if err != nil {
			return nil, err
		}
		if len(parts) > 0 {
			out.Contents = append(out.Contents, Content{Role: role, Parts: parts})
		}
	}

	if len(opts.SafetySettings) > 0 {
		out.SafetySettings = opts.SafetySettings
	}

	gc := generationConfig(req, opts)
	if !gc.empty() {
		out.GenerationConfig = gc
	}
	return out, nil
}

func toGeminiParts(in []llm.ContentPart) ([]Part, error) {
	parts := make([]Part, 0, len(in))
	for _, p := range in {
		switch p.Type {
		case llm.PartText:
			parts = append(parts, textPart(p.Text))
		case llm.PartImageURL:
			if p.ImageURL == nil || p.ImageURL.URL == "" {
				continue
			}
			mimeType, data, ok := media.SplitDataURI(p.ImageURL.URL, defaultImageMIME)
			if !ok {
				return nil, llm.UnresolvedMediaReference(p.ImageURL.URL)
			}
			parts = append(parts, inlinePart(mimeType, data))
		case llm.PartInputAudio:
			if p.InputAudio == nil || p.InputAudio.Data == "" {
				continue
			}
			if strings.Contains(p.InputAudio.Data, "://") {
				return nil, llm.UnresolvedMediaReference(p.InputAudio.Data)
			}
			parts = append(parts, inlinePart("audio/"+p.InputAudio.Format, p.InputAudio.Data))
		case llm.PartFile:
			if p.File == nil || p.File.FileData == "" {
				continue
			}
			mimeType, data, ok := media.SplitDataURI(p.File.FileData, defaultFileMIME)
			if !ok {
				return nil, llm.UnresolvedMediaReference(p.File.FileData)
			}
			parts = append(parts, inlinePart(mimeType, data))
		}
	}
	return parts, nil
}

func generationConfig(req *llm.ChatRequest, opts GeminiOptions) *GenerationConfig {
	gc := &GenerationConfig{}

	if v, ok := req.Int("max_completion_tokens"); ok {
		gc.MaxOutputTokens = &v
	} else if v, ok := req.Int("max_tokens"); ok {
		gc.MaxOutputTokens = &v
	}
	if v, ok := req.Strings("stop"); ok {
		gc.StopSequences = v
	}
	if v, ok := req.Float("temperature"); ok {
		gc.Temperature = &v
	}
	if v, ok := req.Float("top_p"); ok {
		gc.TopP = &v
	}
	if v, ok := req.Int("top_logprobs"); ok {
		gc.TopK = &v
	}

	if v, ok := req.Get("thinkingConfig"); ok && v != nil {
		gc.ThinkingConfig = v
	} else if opts.ThinkingConfig != nil {
		gc.ThinkingConfig = opts.ThinkingConfig
	}
	return gc
}

func textPart(s string) Part {
	return Part{Text: &s}
}

func inlinePart(mimeType, data string) Part {
	return Part{InlineData: &InlineData{MimeType: mimeType, Data: data}}
}

// FromGemini converts a generateContent response into a chat response. An
// error envelope becomes a ProviderError carrying the upstream message.
func FromGemini(provider string, resp *GenerateContentResponse, requestedModel string, now time.Time) (*llm.ChatResponse, error) {
	if resp.Error != nil {
		msg := resp.Error.Message
		if msg == "" {
			msg = fmt.Sprintf("gemini error %d %s", resp.Error.Code, resp.Error.Status)
		}
		return nil, llm.ProviderError(provider, msg)
	}

	model := resp.ModelVersion
	if model == "" {
		model = requestedModel
	}

	out := &llm.ChatResponse{
		ID:      fmt.Sprintf("chatcmpl-%d", now.Unix()),
		Object:  "chat.completion",
		Created: now.Unix(),
		Model:   model,
		Choices: make([]llm.ChatChoice, 0, len(resp.Candidates)),
	}

	for i, c := range resp.Candidates {
		role := llm.RoleAssistant
		var text, reasoning []string
		if c.Content != nil {
			if c.Content.Role != "" && c.Content.Role != roleModel {
				role = c.Content.Role
			}
			for _, p := range c.Content.Parts {
				if p.Text == nil {
					continue
				}
				if p.Thought {
					reasoning = append(reasoning, *p.Text)
				} else {
					text = append(text, *p.Text)
				}
			}
		}

		out.Choices = append(out.Choices, llm.ChatChoice{
			Index:        i,
			FinishReason: mapFinishReason(c.FinishReason),
			Message: llm.ResponseMessage{
				Role:      role,
				Content:   strings.Join(text, ""),
				Reasoning: strings.Join(reasoning, ""),
			},
		})
	}

	if u := resp.UsageMetadata; u != nil {
		out.Usage = &llm.Usage{
			PromptTokens:     u.PromptTokenCount,
			CompletionTokens: u.CandidatesTokenCount,
			TotalTokens:      u.TotalTokenCount,
		}
	}
	return out, nil
}

func mapFinishReason(reason string) string {
	switch reason {
	case "", "STOP", "OTHER":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII":
		return "content_filter"
	default:
		return strings.ToLower(reason)
	}
}

// ToChunk shapes a complete response as a single stream chunk, for
// providers that can only answer in one piece.
func ToChunk(resp *llm.ChatResponse) llm.StreamChunk {
	choices := make([]any, 0, len(resp.Choices))
	for _, c := range resp.Choices {
		delta := map[string]any{
			"role":    c.Message.Role,
			"content": c.Message.Content,
		}
		if c.Message.Reasoning != "" {
			delta["reasoning"] = c.Message.Reasoning
		}
		choices = append(choices, map[string]any{
			"index":         c.Index,
			"delta":         delta,
			"finish_reason": c.FinishReason,
		})
	}

	chunk := llm.StreamChunk{
		"id":      resp.ID,
		"object":  "chat.completion.chunk",
		"created": resp.Created,
		"model":   resp.Model,
		"choices": choices,
	}
	if resp.Usage != nil {
		chunk["usage"] = map[string]any{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		}
	}
	return chunk
}
