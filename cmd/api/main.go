package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomsuharto-git/irm-personas-api/internal/api"
	"github.com/tomsuharto-git/irm-personas-api/internal/catalog"
	"github.com/tomsuharto-git/irm-personas-api/internal/config"
	"github.com/tomsuharto-git/irm-personas-api/internal/engine"
	"github.com/tomsuharto-git/irm-personas-api/internal/llm"
	"github.com/tomsuharto-git/irm-personas-api/internal/observability"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := observability.NewLogger("api")
	metrics := observability.NewAPIMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.LoadFile(cfg.AudiencesPath)
	if err != nil {
		logger.Error("startup_failed", observability.Fields{
			"step":  "load_audiences",
			"path":  cfg.AudiencesPath,
			"error": err.Error(),
		})
		os.Exit(1)
	}
	logger.Info("audiences_loaded", observability.Fields{
		"path":      cfg.AudiencesPath,
		"audiences": cat.Len(),
	})

	client := llm.NewFromConfig(cfg, metrics.IncProviderRetry)
	logger.Info("llm_provider_ready", observability.Fields{"provider": client.Name()})

	eng := engine.New(cat, client, logger, metrics, engine.Options{
		SelectionTemperature:  cfg.SelectionTemperature,
		SelectionMaxTokens:    cfg.SelectionMaxTokens,
		GenerationTemperature: cfg.GenerationTemperature,
		GenerationMaxTokens:   cfg.GenerationMaxTokens,
		MinResponders:         cfg.MinResponders,
		MaxResponders:         cfg.MaxResponders,
		RecentSpeakerWindow:   cfg.RecentSpeakerWindow,
		ConversationWindow:    cfg.ConversationWindow,
		OwnHistoryWindow:      cfg.OwnHistoryWindow,
	})

	server := api.New(cfg, cat, eng, logger, metrics)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.APIReadTimeout,
		WriteTimeout:      cfg.APIWriteTimeout,
		IdleTimeout:       cfg.APIIdleTimeout,
	}
	serverErrCh := make(chan error, 1)

	go func() {
		logger.Info("api_listening", observability.Fields{
			"addr": ":" + cfg.Port,
		})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErrCh:
		logger.Error("http_server_failed", observability.Fields{"error": err.Error()})
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful_shutdown_failed", observability.Fields{"error": err.Error()})
	}
	logger.Info("api_stopped", nil)
}
