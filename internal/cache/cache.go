package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Entry is a cached remote media payload.
type Entry struct {
	ContentType string
	Data        []byte
}

// Cache stores fetched media bytes for a bounded time. It lives only in
// process memory.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error
}

// KeyForURL builds the cache key for a remote media URL:
// media:<sha256 of the trimmed URL>.
func KeyForURL(url string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(url)))
	return "media:" + hex.EncodeToString(sum[:])
}
