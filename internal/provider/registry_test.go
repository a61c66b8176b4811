package provider

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llms-gateway/internal/config"
	"llms-gateway/internal/llm"
)

func testConfig() *config.Config {
	return &config.Config{
		Providers: []config.ProviderConfig{
			{
				Name: "openrouter", Type: config.TypeOpenAI, Enabled: true,
				BaseURL: "https://openrouter.ai/api", APIKey: "k",
				Models:  map[string]string{"kimi": "moonshotai/kimi-k2", "qwen": "qwen/qwen3"},
				Pricing: map[string]llm.Pricing{"moonshotai/kimi-k2": {Input: "1", Output: "2"}},
			},
			{
				Name: "groq", Type: config.TypeOpenAI, Enabled: true,
				BaseURL: "https://api.groq.com/openai", APIKey: "k",
				Models: map[string]string{"kimi": "moonshotai/kimi-k2-instruct"},
			},
			{
				Name: "nokey", Type: config.TypeOpenAI, Enabled: true,
				BaseURL: "https://example.com", Models: map[string]string{"kimi": "k"},
			},
			{
				Name: "off", Type: config.TypeGoogle, Enabled: false,
				APIKey: "k", Models: map[string]string{"gemini": "gemini-2.5-pro"},
			},
			{
				Name: "mystery", Type: "MysteryProvider", Enabled: true,
			},
		},
	}
}

func TestFactoryPredicates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		cfg    config.ProviderConfig
		active bool
	}{
		{"openai complete", config.ProviderConfig{Type: config.TypeOpenAI, BaseURL: "u", APIKey: "k", Models: map[string]string{"a": "b"}}, true},
		{"openai without models", config.ProviderConfig{Type: config.TypeOpenAI, BaseURL: "u", APIKey: "k"}, false},
		{"ollama all models", config.ProviderConfig{Type: config.TypeOllama, BaseURL: "u", AllModels: true}, true},
		{"ollama nothing", config.ProviderConfig{Type: config.TypeOllama, BaseURL: "u"}, false},
		{"google", config.ProviderConfig{Type: config.TypeGoogle, APIKey: "k", Models: map[string]string{"a": "b"}}, true},
		{"google no key", config.ProviderConfig{Type: config.TypeGoogle, Models: map[string]string{"a": "b"}}, false},
		{"google openai", config.ProviderConfig{Type: config.TypeGoogleOpenAI, APIKey: "k", Models: map[string]string{"a": "b"}}, true},
		{"sdk no models", config.ProviderConfig{Type: config.TypeSDK, BaseURL: "https://x", APIKey: "k"}, true},
		{"sdk no key", config.ProviderConfig{Type: config.TypeAirRefinery, BaseURL: "https://x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.cfg, Deps{})
			if tt.active {
				require.NoError(t, err)
				assert.NotNil(t, p)
			} else {
				assert.True(t, errors.Is(err, ErrInactive), "err = %v", err)
			}
		})
	}

	_, err := New(config.ProviderConfig{Type: "Nope"}, Deps{})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestSnapshotCandidatesInConfigOrder(t *testing.T) {
	t.Parallel()

	s := Build(testContext(t), testConfig(), Deps{})

	var names []string
	for _, p := range s.Candidates("kimi") {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"openrouter", "groq"}, names)
	assert.Empty(t, s.Candidates("no-such-model"))
	assert.Empty(t, s.Candidates("gemini"), "disabled providers are not candidates")
}

func TestSnapshotModelsAndStatus(t *testing.T) {
	t.Parallel()

	s := Build(testContext(t), testConfig(), Deps{})

	assert.Equal(t, []string{"kimi", "qwen"}, s.Models())

	active := s.ActiveModels()
	require.Len(t, active, 2)
	assert.Equal(t, ModelInfo{
		ID: "kimi", Provider: "openrouter", ProviderModel: "moonshotai/kimi-k2",
		Pricing: &llm.Pricing{Input: "1", Output: "2"},
	}, active[0])
	assert.Nil(t, active[1].Pricing)

	assert.Equal(t, Status{
		All:      []string{"openrouter", "groq", "nokey", "off", "mystery"},
		Enabled:  []string{"groq", "openrouter"},
		Disabled: []string{"mystery", "nokey", "off"},
	}, s.Status())
}

func TestRegistrySwap(t *testing.T) {
	t.Parallel()

	first := Build(testContext(t), testConfig(), Deps{})
	r := NewRegistry(first)

	second := Build(testContext(t), &config.Config{}, Deps{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s := r.Snapshot()
				if s != first && s != second {
					t.Errorf("reader saw an unknown snapshot")
					return
				}
			}
		}()
	}

	prev := r.Swap(second)
	wg.Wait()

	assert.Same(t, first, prev)
	assert.Same(t, second, r.Snapshot())
	assert.Empty(t, r.Snapshot().Candidates("kimi"))
}
