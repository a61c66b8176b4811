package translator

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llms-gateway/internal/llm"
)

func decodeRequest(t *testing.T, body string) *llm.ChatRequest {
	t.Helper()
	req, err := llm.DecodeChatRequest(strings.NewReader(body))
	require.NoError(t, err)
	return req
}

func TestToGeminiRolesAndSystemInstruction(t *testing.T) {
	t.Parallel()

	req := decodeRequest(t, `{
		"model": "gemini-flash",
		"messages": [
			{"role": "system", "content": "be brief"},
			{"role": "user", "content": "hi"},
			{"role": "assistant", "content": "hello"},
			{"role": "system", "content": "ignored"},
			{"role": "tool", "content": "42"}
		]
	}`)

	out, err := ToGemini(req, GeminiOptions{})
	require.NoError(t, err)

	require.NotNil(t, out.SystemInstruction)
	assert.Equal(t, "be brief", *out.SystemInstruction.Parts[0].Text)

	require.Len(t, out.Contents, 3)
	assert.Equal(t, "user", out.Contents[0].Role)
	assert.Equal(t, "model", out.Contents[1].Role)
	assert.Equal(t, "model", out.Contents[2].Role)
	assert.Equal(t, "42", *out.Contents[2].Parts[0].Text)
	assert.Nil(t, out.GenerationConfig)
}

func TestToGeminiInlineMedia(t *testing.T) {
	t.Parallel()

	req := &llm.ChatRequest{
		Model: "gemini-flash",
		Messages: []llm.Message{
			llm.NewMessage(llm.RoleUser, llm.PartsContent(
				llm.ContentPart{Type: llm.PartText, Text: "what is this"},
				llm.ContentPart{Type: llm.PartImageURL, ImageURL: &llm.ImageURL{URL: "data:image/jpeg;base64,/9j/"}},
				llm.ContentPart{Type: llm.PartInputAudio, InputAudio: &llm.InputAudio{Data: "SUQz", Format: "mpeg"}},
				llm.ContentPart{Type: llm.PartFile, File: &llm.File{Filename: "a.pdf", FileData: "data:application/pdf;base64,JVBE"}},
			)),
			llm.NewMessage(llm.RoleUser, llm.PartsContent()),
		},
	}

	out, err := ToGemini(req, GeminiOptions{})
	require.NoError(t, err)
	require.Len(t, out.Contents, 1, "messages without parts are skipped")

	parts := out.Contents[0].Parts
	require.Len(t, parts, 4)
	assert.Equal(t, "what is this", *parts[0].Text)
	assert.Equal(t, &InlineData{MimeType: "image/jpeg", Data: "/9j/"}, parts[1].InlineData)
	assert.Equal(t, &InlineData{MimeType: "audio/mpeg", Data: "SUQz"}, parts[2].InlineData)
	assert.Equal(t, &InlineData{MimeType: "application/pdf", Data: "JVBE"}, parts[3].InlineData)
}

func TestToGeminiUnresolvedMedia(t *testing.T) {
	t.Parallel()

	for _, part := range []llm.ContentPart{
		{Type: llm.PartImageURL, ImageURL: &llm.ImageURL{URL: "https://example.com/cat.png"}},
		{Type: llm.PartImageURL, ImageURL: &llm.ImageURL{URL: "/tmp/cat.png"}},
		{Type: llm.PartFile, File: &llm.File{FileData: "https://example.com/a.pdf"}},
		{Type: llm.PartInputAudio, InputAudio: &llm.InputAudio{Data: "https://example.com/a.mp3"}},
	} {
		req := &llm.ChatRequest{
			Model:    "gemini-flash",
			Messages: []llm.Message{llm.NewMessage(llm.RoleUser, llm.PartsContent(part))},
		}
		_, err := ToGemini(req, GeminiOptions{})
		require.Error(t, err)
		assert.Equal(t, llm.KindUnresolvedMediaReference, llm.KindOf(err))
	}
}

func TestToGeminiGenerationConfigOnlyPresentFields(t *testing.T) {
	t.Parallel()

	req := decodeRequest(t, `{
		"model": "gemini-flash",
		"messages": [{"role": "user", "content": "hi"}],
		"max_completion_tokens": 256,
		"stop": "END",
		"top_logprobs": 5
	}`)

	out, err := ToGemini(req, GeminiOptions{
		SafetySettings: []any{map[string]any{"category": "HARM_CATEGORY_HARASSMENT", "threshold": "BLOCK_NONE"}},
		ThinkingConfig: map[string]any{"thinkingBudget": 0},
	})
	require.NoError(t, err)

	body, err := json.Marshal(out)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))

	assert.Equal(t, map[string]any{
		"maxOutputTokens": float64(256),
		"stopSequences":   []any{"END"},
		"topK":            float64(5),
		"thinkingConfig":  map[string]any{"thinkingBudget": float64(0)},
	}, decoded["generationConfig"])
	assert.Len(t, decoded["safetySettings"], 1)
}

func TestToGeminiRequestThinkingConfigWins(t *testing.T) {
	t.Parallel()

	req := decodeRequest(t, `{
		"model": "gemini-flash",
		"messages": [{"role": "user", "content": "hi"}],
		"thinkingConfig": {"includeThoughts": true}
	}`)

	out, err := ToGemini(req, GeminiOptions{ThinkingConfig: map[string]any{"thinkingBudget": 0}})
	require.NoError(t, err)
	require.NotNil(t, out.GenerationConfig)
	assert.Equal(t, map[string]any{"includeThoughts": true}, out.GenerationConfig.ThinkingConfig)
}

func TestFromGeminiConcatenatesFragments(t *testing.T) {
	t.Parallel()

	var resp GenerateContentResponse
	require.NoError(t, json.Unmarshal([]byte(`{
		"candidates": [{
			"content": {"role": "model", "parts": [
				{"text": "thinking hard", "thought": true},
				{"text": "Hello, "},
				{"text": "world"}
			]},
			"finishReason": "MAX_TOKENS"
		}],
		"usageMetadata": {"promptTokenCount": 3, "candidatesTokenCount": 4, "totalTokenCount": 7}
	}`), &resp))

	now := time.Unix(1700000000, 0)
	out, err := FromGemini("google", &resp, "gemini-flash", now)
	require.NoError(t, err)

	assert.Equal(t, "chatcmpl-1700000000", out.ID)
	assert.EqualValues(t, 1700000000, out.Created)
	assert.Equal(t, "gemini-flash", out.Model)
	require.Len(t, out.Choices, 1)
	assert.Equal(t, "assistant", out.Choices[0].Message.Role)
	assert.Equal(t, "Hello, world", out.Choices[0].Message.Content)
	assert.Equal(t, "thinking hard", out.Choices[0].Message.Reasoning)
	assert.Equal(t, "length", out.Choices[0].FinishReason)
	assert.Equal(t, &llm.Usage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7}, out.Usage)
}

func TestFromGeminiDefaultsFinishReason(t *testing.T) {
	t.Parallel()

	resp := &GenerateContentResponse{
		ModelVersion: "gemini-2.5-flash-001",
		Candidates:   []Candidate{{Content: &Content{Role: "model", Parts: []Part{textPart("ok")}}}},
	}
	out, err := FromGemini("google", resp, "gemini-flash", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash-001", out.Model)
	assert.Equal(t, "stop", out.Choices[0].FinishReason)
	assert.Nil(t, out.Usage)
}

func TestFromGeminiErrorEnvelope(t *testing.T) {
	t.Parallel()

	resp := &GenerateContentResponse{Error: &APIError{Code: 400, Message: "API key not valid", Status: "INVALID_ARGUMENT"}}
	_, err := FromGemini("google", resp, "gemini-flash", time.Now())
	require.Error(t, err)
	assert.Equal(t, llm.KindProvider, llm.KindOf(err))
	assert.Contains(t, err.Error(), "API key not valid")
}

func TestRoundTripContent(t *testing.T) {
	t.Parallel()

	req := decodeRequest(t, `{"model": "m", "messages": [{"role": "user", "content": "ping"}]}`)
	out, err := ToGemini(req, GeminiOptions{})
	require.NoError(t, err)

	// echo the request contents back as a model turn
	resp := &GenerateContentResponse{Candidates: []Candidate{{Content: &Content{Role: "model", Parts: out.Contents[0].Parts}}}}
	chat, err := FromGemini("google", resp, "m", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "ping", chat.Choices[0].Message.Content)
}

func TestToChunk(t *testing.T) {
	t.Parallel()

	chunk := ToChunk(&llm.ChatResponse{
		ID:      "chatcmpl-1",
		Created: 1,
		Model:   "m",
		Choices: []llm.ChatChoice{{Message: llm.ResponseMessage{Role: "assistant", Content: "hi"}, FinishReason: "stop"}},
		Usage:   &llm.Usage{TotalTokens: 2},
	})

	assert.Equal(t, "chat.completion.chunk", chunk["object"])
	choices := chunk["choices"].([]any)
	require.Len(t, choices, 1)
	choice := choices[0].(map[string]any)
	assert.Equal(t, "stop", choice["finish_reason"])
	assert.Equal(t, "hi", choice["delta"].(map[string]any)["content"])
	assert.NotContains(t, choice["delta"], "reasoning")
	assert.Contains(t, chunk, "usage")
}
