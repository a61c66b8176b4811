package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"llms-gateway/internal/config"
	"llms-gateway/internal/llm"
	"llms-gateway/pkg/logging/logging"
)

// Ollama is an OpenAI-compatible local model server that can also list
// its installed models.
type Ollama struct {
	*OpenAI
}

func NewOllama(cfg config.ProviderConfig, deps Deps) *Ollama {
	return &Ollama{OpenAI: NewOpenAI(cfg, deps)}
}

type ollamaTags struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// Load merges the server's installed models into the alias table when
// all_models is set. Configured aliases win over discovered ones. A server
// that cannot be reached leaves the table as configured.
func (p *Ollama) Load(ctx context.Context) error {
	if !p.cfg.AllModels {
		return nil
	}
	logger := logging.L(ctx)

	discovered, err := p.listModels(ctx)
	if err != nil {
		logger.Warn("ollama model discovery failed",
			zap.String("provider", p.Name()),
			zap.Error(err),
		)
		return nil
	}

	for name, id := range discovered {
		if _, ok := p.models[name]; !ok {
			p.models[name] = id
		}
	}
	logger.Info("loaded ollama models",
		zap.String("provider", p.Name()),
		zap.Int("discovered", len(discovered)),
		zap.Int("total", len(p.models)),
	)
	return nil
}

func (p *Ollama) listModels(ctx context.Context) (map[string]string, error) {
	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/api/tags"
	logging.L(ctx).Debug("GET model list", zap.String("provider", p.Name()), zap.String("url", url))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build HTTP request: %w", err)
	}
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, llm.WrapTransport(p.Name(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, llm.UpstreamHTTPError(p.Name(), resp.StatusCode, "", resp.Header.Clone())
	}

	var tags ollamaTags
	if err := p.decodeBody(resp, &tags); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(tags.Models))
	for _, m := range tags.Models {
		name := m.Model
		if name == "" {
			name = m.Name
		}
		if name == "" {
			continue
		}
		name = strings.TrimSuffix(name, ":latest")
		out[name] = name
	}
	return out, nil
}
