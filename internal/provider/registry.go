package provider

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"llms-gateway/internal/config"
	"llms-gateway/internal/llm"
	"llms-gateway/pkg/logging/logging"
)

// Snapshot is an immutable, fully loaded set of providers in configuration
// order.
type Snapshot struct {
	cfg       *config.Config
	providers []Provider
	byName    map[string]Provider
	disabled  []string
	loadedAt  time.Time
}

// ModelInfo describes the provider that serves an alias first.
type ModelInfo struct {
	ID            string       `json:"id"`
	Provider      string       `json:"provider"`
	ProviderModel string       `json:"provider_model"`
	Pricing       *llm.Pricing `json:"pricing"`
}

// Status lists configured providers by whether they were activated.
type Status struct {
	All      []string `json:"all"`
	Enabled  []string `json:"enabled"`
	Disabled []string `json:"disabled"`
}

// Build instantiates and loads every enabled provider of cfg. Descriptors
// that are disabled, of an unknown type or missing requirements are skipped
// and reported as disabled.
func Build(ctx context.Context, cfg *config.Config, deps Deps) *Snapshot {
	logger := logging.L(ctx)
	deps = deps.withDefaults()

	var (
		providers []Provider
		disabled  []string
	)
	for _, pc := range cfg.Providers {
		if !pc.Enabled {
			disabled = append(disabled, pc.Name)
			continue
		}

		p, err := New(pc, deps)
		if err != nil {
			level := logger.Debug
			if errors.Is(err, ErrUnknownType) {
				level = logger.Warn
			}
			level("provider not activated", zap.String("provider", pc.Name), zap.Error(err))
			disabled = append(disabled, pc.Name)
			continue
		}

		if err := p.Load(ctx); err != nil {
			logger.Warn("provider load failed",
				zap.String("provider", pc.Name),
				zap.Error(err),
			)
			disabled = append(disabled, pc.Name)
			continue
		}
		providers = append(providers, p)
	}

	logger.Info("providers loaded",
		zap.Int("enabled", len(providers)),
		zap.Int("disabled", len(disabled)),
	)
	return NewSnapshot(cfg, providers, disabled)
}

// NewSnapshot assembles a snapshot from providers that are already loaded.
// disabled names the configured providers left out.
func NewSnapshot(cfg *config.Config, providers []Provider, disabled []string) *Snapshot {
	if cfg == nil {
		cfg = &config.Config{}
	}
	s := &Snapshot{
		cfg:       cfg,
		providers: append([]Provider(nil), providers...),
		byName:    make(map[string]Provider, len(providers)),
		disabled:  append([]string(nil), disabled...),
		loadedAt:  time.Now(),
	}
	for _, p := range providers {
		s.byName[p.Name()] = p
	}
	return s
}

// Config returns the configuration the snapshot was built from.
func (s *Snapshot) Config() *config.Config { return s.cfg }

func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Providers returns the active providers in configuration order.
func (s *Snapshot) Providers() []Provider {
	return append([]Provider(nil), s.providers...)
}

func (s *Snapshot) Provider(name string) (Provider, bool) {
	p, ok := s.byName[name]
	return p, ok
}

// Candidates returns every provider that knows model, in configuration
// order.
func (s *Snapshot) Candidates(model string) []Provider {
	var out []Provider
	for _, p := range s.providers {
		if p.HasModel(model) {
			out = append(out, p)
		}
	}
	return out
}

// Models returns every alias served by any provider, sorted.
func (s *Snapshot) Models() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range s.providers {
		for alias := range p.Models() {
			if !seen[alias] {
				seen[alias] = true
				out = append(out, alias)
			}
		}
	}
	sort.Strings(out)
	return out
}

// ActiveModels describes each alias by the first provider serving it,
// sorted by alias.
func (s *Snapshot) ActiveModels() []ModelInfo {
	seen := make(map[string]bool)
	var out []ModelInfo
	for _, p := range s.providers {
		for alias, id := range p.Models() {
			if seen[alias] {
				continue
			}
			seen[alias] = true
			info := ModelInfo{ID: alias, Provider: p.Name(), ProviderModel: id}
			if pricing, ok := p.Pricing(alias); ok {
				info.Pricing = &pricing
			}
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Snapshot) Status() Status {
	st := Status{
		All:      make([]string, 0, len(s.cfg.Providers)),
		Enabled:  make([]string, 0, len(s.providers)),
		Disabled: append([]string{}, s.disabled...),
	}
	for _, pc := range s.cfg.Providers {
		st.All = append(st.All, pc.Name)
	}
	for _, p := range s.providers {
		st.Enabled = append(st.Enabled, p.Name())
	}
	sort.Strings(st.Enabled)
	sort.Strings(st.Disabled)
	return st
}

// Registry publishes the current Snapshot. Readers always see a complete
// snapshot: either the one before a swap or the one after it.
type Registry struct {
	current atomic.Pointer[Snapshot]
}

func NewRegistry(s *Snapshot) *Registry {
	r := &Registry{}
	r.current.Store(s)
	return r
}

// Snapshot returns the published snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Swap publishes s and returns the previous snapshot.
func (r *Registry) Swap(s *Snapshot) *Snapshot {
	return r.current.Swap(s)
}
