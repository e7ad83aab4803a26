package server

import (
	"context"
	"net/http"
)

// Service is the HTTP listener shared by the API routes.
type Service interface {
	// Start starts the listener. It blocks until a fatal error occurs or
	// the context is canceled.
	Start(ctx context.Context) error

	// Stop shuts the listener down, waiting for active connections to drain
	// or for the context to expire.
	Stop(ctx context.Context) error

	// HTTPMux returns the mux routes are registered on.
	// This must be called BEFORE Start().
	HTTPMux() *http.ServeMux
}
