// Command charityd serves the block-explorer proxy used for donation history.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/solidfund/charityfund/internal/config"
	"github.com/solidfund/charityfund/internal/explorer"
	"github.com/solidfund/charityfund/internal/httpapi"
	"github.com/solidfund/charityfund/internal/logging"
)

func main() {
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")

	cfg := config.Load()
	logger := logging.New(cfg.IsDevelopment(), cfg.LogLevel)

	nets, err := config.LoadNetworks(cfg.NetworksFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("load networks")
	}
	bases := explorer.BasesFromNetworks(nets)
	if cfg.EtherscanAPIKey == "" {
		logger.Warn().Msg("ETHERSCAN_API_KEY not set; upstream requests will be rate limited")
	}
	ex := explorer.NewClient(bases, cfg.EtherscanAPIKey, &http.Client{Timeout: cfg.UpstreamTimeout})

	router := httpapi.NewRouter(httpapi.Config{
		Explorer:           ex,
		CacheTTL:           cfg.CacheTTL,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Logger:             logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.UpstreamTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Msgf("API server listening on http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
