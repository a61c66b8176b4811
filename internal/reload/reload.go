package reload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/viant/afs"
	"go.uber.org/zap"

	"llms-gateway/internal/config"
	"llms-gateway/internal/metrics"
	"llms-gateway/internal/provider"
	"llms-gateway/pkg/logging/logging"
)

const DefaultInterval = time.Second

// BuildFunc turns a freshly loaded configuration into a loaded snapshot.
type BuildFunc func(ctx context.Context, cfg *config.Config) (*provider.Snapshot, error)

// Reloader rebuilds the registry from the configuration file, either on
// demand or when the file's modification time changes. A failed rebuild
// leaves the published snapshot in place.
type Reloader struct {
	path     string
	registry *provider.Registry
	build    BuildFunc
	fs       afs.Service
	interval time.Duration

	mu      sync.Mutex
	modTime time.Time
}

type Option func(*Reloader)

// WithInterval sets how often Watch polls the file.
func WithInterval(d time.Duration) Option {
	return func(r *Reloader) {
		if d > 0 {
			r.interval = d
		}
	}
}

func New(path string, registry *provider.Registry, build BuildFunc, opts ...Option) *Reloader {
	r := &Reloader{
		path:     path,
		registry: registry,
		build:    build,
		fs:       afs.New(),
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Prime records the current modification time so the first Watch tick does
// not rebuild a registry that was just built from the same file.
func (r *Reloader) Prime(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mt, err := r.stat(ctx); err == nil {
		r.modTime = mt
	}
}

// Reload loads the file, builds a new snapshot off to the side and
// publishes it.
func (r *Reloader) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	mt, err := r.stat(ctx)
	if err == nil {
		r.modTime = mt
	}
	return r.reloadLocked(ctx)
}

func (r *Reloader) reloadLocked(ctx context.Context) error {
	logger := logging.L(ctx).With(zap.String("config", r.path))
	start := time.Now()

	cfg, err := config.Load(ctx, r.path)
	if err != nil {
		metrics.RegistryReloadsTotal.WithLabelValues("error").Inc()
		logger.Error("reload: config load failed, keeping current registry", zap.Error(err))
		return err
	}

	snap, err := r.build(ctx, cfg)
	if err != nil {
		metrics.RegistryReloadsTotal.WithLabelValues("error").Inc()
		logger.Error("reload: registry build failed, keeping current registry", zap.Error(err))
		return fmt.Errorf("build registry: %w", err)
	}

	r.registry.Swap(snap)
	metrics.RegistryReloadsTotal.WithLabelValues("success").Inc()

	st := snap.Status()
	logger.Info("registry reloaded",
		zap.Strings("enabled", st.Enabled),
		zap.Strings("disabled", st.Disabled),
		zap.Int("models", len(snap.Models())),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// Watch polls the file until ctx is done and reloads whenever its
// modification time moves.
func (r *Reloader) Watch(ctx context.Context) {
	logger := logging.L(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		mt, err := r.stat(ctx)
		if err != nil {
			logger.Debug("reload: stat failed", zap.String("config", r.path), zap.Error(err))
			continue
		}

		r.mu.Lock()
		changed := !mt.Equal(r.modTime)
		if changed {
			r.modTime = mt
			logger.Info("config file changed", zap.String("config", r.path), zap.Time("mod_time", mt))
			_ = r.reloadLocked(ctx)
		}
		r.mu.Unlock()
	}
}

func (r *Reloader) stat(ctx context.Context) (time.Time, error) {
	obj, err := r.fs.Object(ctx, r.path)
	if err != nil {
		return time.Time{}, err
	}
	return obj.ModTime(), nil
}
