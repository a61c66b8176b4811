package provider

import (
	"errors"
	"fmt"

	"llms-gateway/internal/config"
)

var (
	// ErrUnknownType is returned for a descriptor type no variant handles.
	ErrUnknownType = errors.New("unknown provider type")
	// ErrInactive is returned when a descriptor lacks what its variant needs.
	ErrInactive = errors.New("provider requirements not met")
)

type variant struct {
	// active reports whether the descriptor has enough to build the variant
	active func(cfg config.ProviderConfig) bool
	build  func(cfg config.ProviderConfig, deps Deps) Provider
}

var variants = map[string]variant{
	config.TypeOpenAI: {
		active: func(c config.ProviderConfig) bool {
			return c.BaseURL != "" && c.APIKey != "" && len(c.Models) > 0
		},
		build: func(c config.ProviderConfig, d Deps) Provider { return NewOpenAI(c, d) },
	},
	config.TypeOllama: {
		active: func(c config.ProviderConfig) bool {
			return c.BaseURL != "" && (len(c.Models) > 0 || c.AllModels)
		},
		build: func(c config.ProviderConfig, d Deps) Provider { return NewOllama(c, d) },
	},
	config.TypeGoogle: {
		active: func(c config.ProviderConfig) bool {
			return c.APIKey != "" && len(c.Models) > 0
		},
		build: func(c config.ProviderConfig, d Deps) Provider { return NewGoogle(c, d) },
	},
	config.TypeGoogleOpenAI: {
		active: func(c config.ProviderConfig) bool {
			return c.APIKey != "" && len(c.Models) > 0
		},
		build: func(c config.ProviderConfig, d Deps) Provider { return NewGoogleOpenAI(c, d) },
	},
	config.TypeAirRefinery: {
		active: sdkActive,
		build:  func(c config.ProviderConfig, d Deps) Provider { return NewSDK(c, d) },
	},
	config.TypeSDK: {
		active: sdkActive,
		build:  func(c config.ProviderConfig, d Deps) Provider { return NewSDK(c, d) },
	},
}

// models are discovered at load time, so none need to be configured
func sdkActive(c config.ProviderConfig) bool {
	return c.BaseURL != "" && c.APIKey != ""
}

// New builds the variant named by cfg.Type.
func New(cfg config.ProviderConfig, deps Deps) (Provider, error) {
	v, ok := variants[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("provider %s: %w %q", cfg.Name, ErrUnknownType, cfg.Type)
	}
	if !v.active(cfg) {
		return nil, fmt.Errorf("provider %s (%s): %w", cfg.Name, cfg.Type, ErrInactive)
	}
	return v.build(cfg, deps), nil
}
