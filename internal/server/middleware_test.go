package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/searchindexer/internal/server/ratelimit"
)

func newTestServer(t *testing.T, cfg Config) (*serverImpl, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	cfg.ApplyDefaults()
	return New(cfg, logger).(*serverImpl), &logs
}

func status(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	})
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRequestIDMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	var seen string
	h := srv.requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rr := serve(h, httptest.NewRequest("GET", "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rr.Header().Get("X-Request-ID"))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "req-7")
	rr = serve(h, req)
	assert.Equal(t, "req-7", seen, "an incoming id is kept")
	assert.Equal(t, "req-7", rr.Header().Get("X-Request-ID"))

	assert.Empty(t, GetRequestID(context.Background()))
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, logs := newTestServer(t, Config{})
	h := srv.recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := serve(h, httptest.NewRequest("POST", "/v1/events", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "INTERNAL_ERROR")
	assert.Contains(t, logs.String(), "Panic recovered")
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		origins    []string
		origin     string
		method     string
		wantOrigin string
		wantCode   int
	}{
		{"any origin when none configured", nil, "http://a.example", "GET", "http://a.example", http.StatusOK},
		{"listed origin", []string{"http://a.example"}, "http://a.example", "GET", "http://a.example", http.StatusOK},
		{"wildcard", []string{"*"}, "http://b.example", "GET", "http://b.example", http.StatusOK},
		{"unlisted origin", []string{"http://a.example"}, "http://evil.example", "GET", "", http.StatusOK},
		{"preflight", nil, "http://a.example", "OPTIONS", "http://a.example", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, Config{EnableCORS: true, AllowedOrigins: tt.origins, AllowCredentials: true})
			req := httptest.NewRequest(tt.method, "/", nil)
			req.Header.Set("Origin", tt.origin)

			rr := serve(srv.corsMiddleware(status(http.StatusOK)), req)
			assert.Equal(t, tt.wantCode, rr.Code)
			assert.Equal(t, tt.wantOrigin, rr.Header().Get("Access-Control-Allow-Origin"))
			if tt.wantOrigin != "" {
				assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
				assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "DELETE")
				assert.Equal(t, "86400", rr.Header().Get("Access-Control-Max-Age"))
			}
		})
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	rr := serve(srv.securityHeadersMiddleware(status(http.StatusOK)), httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rr.Header().Get("Referrer-Policy"))
	assert.Equal(t, "default-src 'self'", rr.Header().Get("Content-Security-Policy"))
}

func TestRateLimitMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, Config{RateLimit: ratelimit.Config{Enabled: true, Requests: 2, Window: time.Minute}})
	require.NotNil(t, srv.rateLimiter)
	h := srv.rateLimitMiddleware(status(http.StatusOK))

	from := func(ip string) *http.Request {
		req := httptest.NewRequest("GET", "/v1/search", nil)
		req.RemoteAddr = ip + ":4000"
		return req
	}
	assert.Equal(t, http.StatusOK, serve(h, from("10.0.0.1")).Code)
	assert.Equal(t, http.StatusOK, serve(h, from("10.0.0.1")).Code)

	rr := serve(h, from("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
	assert.Contains(t, rr.Body.String(), "RATE_LIMITED")

	assert.Equal(t, http.StatusOK, serve(h, from("10.0.0.2")).Code, "clients are limited separately")
}

func TestWrapMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, Config{EnableCORS: true, RateLimit: ratelimit.Config{Enabled: true, Requests: 1, Window: time.Minute}})
	h := srv.wrapMiddleware(status(http.StatusOK))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "http://a.example")
	rr := serve(h, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "http://a.example", rr.Header().Get("Access-Control-Allow-Origin"))

	assert.Equal(t, http.StatusTooManyRequests, serve(h, httptest.NewRequest("GET", "/", nil)).Code)
}

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, http.StatusBadRequest, "BAD_REQUEST", "Invalid input")

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var apiErr APIError
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &apiErr))
	assert.Equal(t, APIError{Code: "BAD_REQUEST", Message: "Invalid input"}, apiErr)
}

type failingWriter struct {
	http.ResponseWriter
}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("write failed")
}

func TestWriteError_WriteFailure(t *testing.T) {
	assert.NotPanics(t, func() {
		writeError(failingWriter{httptest.NewRecorder()}, http.StatusInternalServerError, "ERROR", "msg")
	})
}

func TestLoggingMiddleware_Levels(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name      string
		path      string
		ctx       context.Context
		code      int
		wantLevel string
	}{
		{"success", "/v1/status", context.Background(), http.StatusOK, "level=INFO"},
		{"client closed", "/v1/search", context.Background(), 499, "level=INFO"},
		{"server error", "/v1/events", context.Background(), http.StatusInternalServerError, "level=ERROR"},
		{"server error after cancel", "/v1/events", canceled, http.StatusInternalServerError, "level=WARN"},
		{"metrics scrape", "/metrics", context.Background(), http.StatusOK, "level=DEBUG"},
		{"health probe", "/health", context.Background(), http.StatusOK, "level=DEBUG"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, logs := newTestServer(t, Config{})
			req := httptest.NewRequest("GET", tt.path, nil).WithContext(tt.ctx)

			rr := serve(srv.loggingMiddleware(status(tt.code)), req)
			assert.Equal(t, tt.code, rr.Code)

			line := logs.String()
			assert.True(t, strings.Contains(line, tt.wantLevel), line)
			assert.Contains(t, line, "path="+tt.path)
		})
	}
}

func TestLoggingMiddleware_RecordsMetrics(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	h := srv.loggingMiddleware(status(http.StatusAccepted))

	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("PUT", "202"))
	serve(h, httptest.NewRequest("PUT", "/metrics-test", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(RequestsTotal.WithLabelValues("PUT", "202")))
}
