// Package httpapi is the block-explorer proxy served by charityd.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/solidfund/charityfund/internal/explorer"
)

// Config wires the proxy.
type Config struct {
	Explorer           explorer.Lister
	CacheTTL           time.Duration
	RateLimitPerMinute int
	Logger             zerolog.Logger
}

// NewRouter returns the proxy handler.
func NewRouter(cfg Config) http.Handler {
	app := &App{
		Explorer: cfg.Explorer,
		Cache:    NewTxCache(cfg.CacheTTL),
		Log:      cfg.Logger,
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		Logger(cfg.Logger),
		CORS,
	)

	r.Get("/health", app.Health)
	r.Group(func(r chi.Router) {
		if cfg.RateLimitPerMinute > 0 {
			r.Use(RateLimit(cfg.RateLimitPerMinute, time.Minute))
		}
		r.Get("/api/transactions", app.Transactions)
	})
	return r
}
