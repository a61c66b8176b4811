package provider

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"llms-gateway/internal/config"
	"llms-gateway/internal/llm"
	"llms-gateway/internal/media"
	"llms-gateway/pkg/logging/logging"
)

// Provider is one configured backend. Implementations are immutable once
// Load has returned and are safe for concurrent use.
type Provider interface {
	Name() string
	Type() string

	// Models returns a copy of the alias table (alias -> provider model id).
	Models() map[string]string
	HasModel(alias string) bool

	// Pricing returns the price entry for an alias or provider model id,
	// falling back to the provider's default pricing.
	Pricing(model string) (llm.Pricing, bool)

	// Load runs one-off start-up work such as model discovery. It is called
	// once, before the provider is published.
	Load(ctx context.Context) error

	// Chat performs a buffered completion. req is mutated.
	Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

	// ChatStream performs a streamed completion. req is mutated. The caller
	// must Close the returned stream.
	ChatStream(ctx context.Context, req *llm.ChatRequest) (llm.Stream, error)
}

// Deps are the shared collaborators handed to every provider.
type Deps struct {
	HTTPClient *http.Client
	Resolver   *media.Resolver
}

func (d Deps) withDefaults() Deps {
	if d.HTTPClient == nil {
		d.HTTPClient = llm.NewHTTPClient(llm.HTTPConfig{})
	}
	if d.Resolver == nil {
		d.Resolver = media.NewResolver(media.WithHTTPClient(d.HTTPClient))
	}
	return d
}

// base holds what every variant shares: the descriptor, the alias table and
// the request preparation steps.
type base struct {
	cfg      config.ProviderConfig
	models   map[string]string
	headers  map[string]string
	client   *http.Client
	resolver *media.Resolver
}

func newBase(cfg config.ProviderConfig, deps Deps) base {
	deps = deps.withDefaults()

	models := make(map[string]string, len(cfg.Models))
	for alias, id := range cfg.Models {
		models[alias] = id
	}
	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if _, ok := headers["Content-Type"]; !ok {
		headers["Content-Type"] = "application/json"
	}

	return base{
		cfg:      cfg,
		models:   models,
		headers:  headers,
		client:   deps.HTTPClient,
		resolver: deps.Resolver,
	}
}

func (b *base) Name() string { return b.cfg.Name }
func (b *base) Type() string { return b.cfg.Type }

func (b *base) Models() map[string]string {
	out := make(map[string]string, len(b.models))
	for k, v := range b.models {
		out[k] = v
	}
	return out
}

func (b *base) HasModel(alias string) bool {
	_, ok := b.models[alias]
	return ok
}

// providerModel maps an alias to the provider's model id. Unknown names pass
// through unchanged.
func (b *base) providerModel(model string) string {
	if id, ok := b.models[model]; ok {
		return id
	}
	return model
}

func (b *base) Pricing(model string) (llm.Pricing, bool) {
	id := b.providerModel(model)
	if p, ok := b.cfg.Pricing[id]; ok {
		return p, true
	}
	if b.cfg.DefaultPricing != nil {
		return *b.cfg.DefaultPricing, true
	}
	return llm.Pricing{}, false
}

func (b *base) Load(context.Context) error { return nil }

// prepare runs the steps shared by every variant, in order: alias rewrite,
// overrides, stream flag, media resolution and metadata removal.
func (b *base) prepare(ctx context.Context, req *llm.ChatRequest, stream bool) error {
	req.Model = b.providerModel(req.Model)

	for key, value := range b.cfg.Overrides {
		// the call shape decides how the body is read
		if key == "stream" {
			continue
		}
		req.Set(key, llm.CloneValue(value))
	}
	req.Stream = stream

	if err := b.resolver.Resolve(ctx, req); err != nil {
		return err
	}

	req.Delete("metadata")

	logging.L(ctx).Debug("prepared provider request",
		zap.String("provider", b.cfg.Name),
		zap.String("upstream_model", req.Model),
		zap.Int("message_count", len(req.Messages)),
	)
	return nil
}

// finish attaches gateway metadata to a buffered response.
func (b *base) finish(resp *llm.ChatResponse, model string, started time.Time) *llm.ChatResponse {
	if resp.Metadata == nil {
		resp.Metadata = &llm.Metadata{}
	}
	resp.Metadata.Duration = time.Since(started).Milliseconds()
	if p, ok := b.Pricing(model); ok {
		resp.Metadata.Pricing = p.String()
	}
	return resp
}
