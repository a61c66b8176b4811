package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"llms-gateway/internal/metrics"
	"llms-gateway/pkg/logging/logging"
)

// LoggingCache wraps a Cache with logging + metrics.
type LoggingCache struct {
	inner Cache
}

func NewLoggingCache(inner Cache) Cache {
	return &LoggingCache{inner: inner}
}

func (c *LoggingCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	start := time.Now()
	entry, ok, err := c.inner.Get(ctx, key)

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
		metrics.MediaCacheHitsTotal.Inc()
	}

	fields := []zap.Field{
		zap.String("cache_key", key),
		zap.String("cache_result", result),
		zap.Float64("latency_ms", float64(time.Since(start).Microseconds())/1000.0),
	}
	if ok {
		fields = append(fields, zap.Int("bytes", len(entry.Data)))
	}

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("media_cache_get", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("media_cache_get", fields...)
	}

	return entry, ok, err
}

func (c *LoggingCache) Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	err := c.inner.Set(ctx, key, entry, ttl)

	fields := []zap.Field{
		zap.String("cache_key", key),
		zap.Int("bytes", len(entry.Data)),
		zap.Duration("ttl", ttl),
	}

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("media_cache_set", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("media_cache_set", fields...)
	}

	return err
}
