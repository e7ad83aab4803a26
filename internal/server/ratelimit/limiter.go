// Package ratelimit limits HTTP requests per client.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"time"
)

// Limiter decides whether a request from a key may proceed.
type Limiter interface {
	// Allow reports whether a request from key is allowed, consuming one
	// token if it is.
	Allow(key string) bool

	// Reset forgets key.
	Reset(key string)
}

// Config holds the configuration for rate limiting.
type Config struct {
	Enabled bool `yaml:"enabled"`
	// Requests is the bucket capacity, refilled evenly over Window.
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
	// MaxKeys bounds the number of tracked clients; the least recently seen
	// client is forgotten first.
	MaxKeys int `yaml:"max_keys"`
}

// DefaultMaxKeys is used when MaxKeys is zero.
const DefaultMaxKeys = 10000

// GetClientIP extracts the client IP address from the request.
// It checks X-Forwarded-For header first (for proxied requests),
// then X-Real-IP, and finally falls back to RemoteAddr.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP (original client)
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
