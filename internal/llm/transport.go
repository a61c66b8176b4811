package llm

import (
	"net"
	"net/http"
	"time"
)

// DefaultTimeout bounds every outbound call: provider requests, model
// discovery and media downloads.
const DefaultTimeout = 120 * time.Second

// HTTPConfig configures the outbound HTTP client.
type HTTPConfig struct {
	Timeout time.Duration // whole-request timeout (default: 120s)

	MaxIdleConns        int // default: 100
	MaxIdleConnsPerHost int // default: 100
}

// WithDefaults returns a copy of HTTPConfig with defaults applied.
func (c HTTPConfig) WithDefaults() HTTPConfig {
	cfg := c
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 100
	}
	return cfg
}

// NewHTTPClient builds a pooled client. The timeout covers the whole
// exchange including reading a streamed body.
func NewHTTPClient(cfg HTTPConfig) *http.Client {
	cfg = cfg.WithDefaults()
	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: defaultTransport(cfg),
	}
}

// defaultTransport creates a production-ready HTTP transport
// with connection pooling and reasonable timeouts.
func defaultTransport(cfg HTTPConfig) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
