// Package httpclient builds the pooled HTTP clients the vendor adapters share.
package httpclient

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"time"
)

// Config holds the knobs that matter for long-lived AI vendor calls.
type Config struct {
	// Timeout bounds the whole request including the body read. Streaming
	// calls need generous values; per-call deadlines come from the caller's
	// context on top of this.
	Timeout time.Duration

	// ResponseHeaderTimeout bounds the wait for the vendor's first byte.
	ResponseHeaderTimeout time.Duration

	// MaxIdleConnsPerHost sizes the keep-alive pool per vendor host.
	MaxIdleConnsPerHost int
}

// Default returns the standard adapter client configuration. Timeouts can
// be overridden via HTTP_TIMEOUT and HTTP_RESPONSE_HEADER_TIMEOUT (integer
// seconds or Go duration strings).
func Default() Config {
	return Config{
		Timeout:               envDuration("HTTP_TIMEOUT", 10*time.Minute),
		ResponseHeaderTimeout: envDuration("HTTP_RESPONSE_HEADER_TIMEOUT", 2*time.Minute),
		MaxIdleConnsPerHost:   32,
	}
}

// New builds an HTTP client from the configuration.
func New(cfg Config) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

// NewDefault is shorthand for New(Default()).
func NewDefault() *http.Client {
	return New(Default())
}

// envDuration reads a duration from the environment, accepting plain
// integer seconds or Go duration syntax.
func envDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	return fallback
}
