package provider

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llms-gateway/internal/config"
	"llms-gateway/internal/llm"
)

type sdkServer struct {
	mu     sync.Mutex
	bodies []map[string]any
}

func (s *sdkServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"object":"list","data":[
			{"id":"meta-llama/Llama-3.1-70B","object":"model"},
			{"id":"claude","object":"model"},
			{"id":"mistral-large","object":"model"}]}`)
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		s.mu.Lock()
		s.bodies = append(s.bodies, body)
		s.mu.Unlock()

		if body["model"] == "behind-proxy" {
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, "<html><body>upstream unavailable</body></html>")
			return
		}
		if body["model"] == "broken" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":{"message":"invalid api key","type":"auth"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"chatcmpl-9","object":"chat.completion","created":2,"model":"mistral-large",
			"choices":[{"index":0,"message":{"role":"assistant","content":"pong"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
	})
	return mux
}

func sdkConfig(baseURL string) config.ProviderConfig {
	return config.ProviderConfig{
		Name:    "airefinery",
		Type:    config.TypeAirRefinery,
		Enabled: true,
		BaseURL: baseURL,
		APIKey:  "air-key",
		Models:  map[string]string{"llama": "meta-llama/Llama-3.1-70B", "claude": "anthropic/claude"},
	}
}

func TestSDKLoadMergesDiscoveredModels(t *testing.T) {
	t.Parallel()

	s := &sdkServer{}
	srv := httptest.NewServer(s.handler(t))
	defer srv.Close()

	p := NewSDK(sdkConfig(srv.URL), testDeps(srv))
	require.NotNil(t, p.sdk)
	require.NoError(t, p.Load(testContext(t)))

	assert.Equal(t, map[string]string{
		"llama":         "meta-llama/Llama-3.1-70B",
		"claude":        "anthropic/claude",
		"mistral-large": "mistral-large",
	}, p.Models())
}

func TestSDKChatUsesClient(t *testing.T) {
	t.Parallel()

	s := &sdkServer{}
	srv := httptest.NewServer(s.handler(t))
	defer srv.Close()

	p := NewSDK(sdkConfig(srv.URL), testDeps(srv))
	req := chatRequest(t, `{"model":"llama","messages":[{"role":"user","content":"ping"}],"max_tokens":8,"metadata":{"a":1}}`)

	resp, err := p.Chat(testContext(t), req)
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, 2, resp.Usage.TotalTokens)
	require.NotNil(t, resp.Metadata)

	require.Len(t, s.bodies, 1)
	assert.Equal(t, "meta-llama/Llama-3.1-70B", s.bodies[0]["model"])
	assert.Equal(t, float64(8), s.bodies[0]["max_tokens"])
	assert.NotContains(t, s.bodies[0], "metadata")
}

func TestSDKChatFallsBackToHTTP(t *testing.T) {
	t.Parallel()

	s := &sdkServer{}
	srv := httptest.NewServer(s.handler(t))
	defer srv.Close()

	p := NewSDK(sdkConfig(srv.URL), testDeps(srv))
	req := chatRequest(t, `{"model":"llama","messages":[{"role":"user","content":"ping"}],"verbosity":"low","temperature":0}`)

	resp, err := p.Chat(testContext(t), req)
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Choices[0].Message.Content)

	require.Len(t, s.bodies, 1)
	assert.Equal(t, "low", s.bodies[0]["verbosity"], "parameters the client cannot carry still reach the upstream")
	assert.Equal(t, float64(0), s.bodies[0]["temperature"])
}

func TestSDKChatError(t *testing.T) {
	t.Parallel()

	s := &sdkServer{}
	srv := httptest.NewServer(s.handler(t))
	defer srv.Close()

	cfg := sdkConfig(srv.URL)
	cfg.Models["broken"] = "broken"
	p := NewSDK(cfg, testDeps(srv))

	_, err := p.Chat(testContext(t), chatRequest(t, `{"model":"broken","messages":[{"role":"user","content":"ping"}]}`))
	var e *llm.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, llm.KindUpstreamHTTP, e.Kind)
	assert.Equal(t, http.StatusUnauthorized, e.Status)
	assert.Equal(t, "invalid api key", e.Message)
	assert.Contains(t, e.Body, `"message":"invalid api key"`)
	assert.Contains(t, e.Body, `"type":"auth"`)
}

func TestSDKChatErrorKeepsRawBody(t *testing.T) {
	t.Parallel()

	s := &sdkServer{}
	srv := httptest.NewServer(s.handler(t))
	defer srv.Close()

	cfg := sdkConfig(srv.URL)
	cfg.Models["proxied"] = "behind-proxy"
	p := NewSDK(cfg, testDeps(srv))

	_, err := p.Chat(testContext(t), chatRequest(t, `{"model":"proxied","messages":[{"role":"user","content":"ping"}]}`))
	var e *llm.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, llm.KindUpstreamHTTP, e.Kind)
	assert.Equal(t, http.StatusBadGateway, e.Status)
	assert.Equal(t, "<html><body>upstream unavailable</body></html>", e.Body)
}

func TestSDKWithoutUsableBaseURLUsesHTTP(t *testing.T) {
	t.Parallel()

	p := NewSDK(sdkConfig("not a url"), Deps{})
	assert.Nil(t, p.sdk)
	require.NoError(t, p.Load(testContext(t)))
}

func TestToSDKRequestRejectsUnsupportedParts(t *testing.T) {
	t.Parallel()

	req := &llm.ChatRequest{
		Model: "m",
		Messages: []llm.Message{llm.NewMessage(llm.RoleUser, llm.PartsContent(
			llm.ContentPart{Type: llm.PartInputAudio, InputAudio: &llm.InputAudio{Data: "AAAA", Format: "wav"}},
		))},
	}
	_, ok := toSDKRequest(req)
	assert.False(t, ok)

	req.Messages[0] = llm.NewMessage(llm.RoleUser, llm.PartsContent(
		llm.ContentPart{Type: llm.PartText, Text: "look"},
		llm.ContentPart{Type: llm.PartImageURL, ImageURL: &llm.ImageURL{URL: "data:image/png;base64,AAAA"}},
	))
	out, ok := toSDKRequest(req)
	require.True(t, ok)
	require.Len(t, out.Messages[0].MultiContent, 2)
	assert.Equal(t, "data:image/png;base64,AAAA", out.Messages[0].MultiContent[1].ImageURL.URL)
}
