package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"llms-gateway/internal/cache"
	"llms-gateway/internal/config"
	"llms-gateway/internal/media"
	"llms-gateway/internal/provider"
	"llms-gateway/internal/reload"
)

const mediaCacheTTL = 5 * time.Minute

// resolveConfigPath makes a local path absolute so reloads are unaffected
// by the working directory. URLs are used as given.
func resolveConfigPath(p string) (string, error) {
	if strings.Contains(p, "://") {
		return p, nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("config path %q: %w", p, err)
	}
	return abs, nil
}

// providerDeps builds the collaborators shared by the providers of one
// configuration. The image policy comes from the configuration, so it is
// rebuilt on every reload.
func providerDeps(cfg *config.Config, client *http.Client, mediaCache cache.Cache) (provider.Deps, error) {
	policy, err := media.PolicyFromConfig(cfg.Convert.Image)
	if err != nil {
		return provider.Deps{}, fmt.Errorf("convert.image: %w", err)
	}

	opts := []media.Option{
		media.WithHTTPClient(client),
		media.WithImagePolicy(policy),
	}
	if mediaCache != nil {
		opts = append(opts, media.WithCache(mediaCache, mediaCacheTTL))
	}

	return provider.Deps{
		HTTPClient: client,
		Resolver:   media.NewResolver(opts...),
	}, nil
}

// snapshotBuilder returns the build step used at start-up and by reloads.
func snapshotBuilder(client *http.Client, mediaCache cache.Cache) reload.BuildFunc {
	return func(ctx context.Context, cfg *config.Config) (*provider.Snapshot, error) {
		deps, err := providerDeps(cfg, client, mediaCache)
		if err != nil {
			return nil, err
		}
		return provider.Build(ctx, cfg, deps), nil
	}
}
