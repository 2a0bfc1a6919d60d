package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dalfonso89/currency-dashboard/internal/api"
	"github.com/dalfonso89/currency-dashboard/internal/config"
	"github.com/dalfonso89/currency-dashboard/internal/logger"
	"github.com/dalfonso89/currency-dashboard/internal/platform"
	"github.com/dalfonso89/currency-dashboard/internal/ratelimit"
	"github.com/dalfonso89/currency-dashboard/internal/service"
)

const cachePurgeInterval = 10 * time.Minute

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logger.New(cfg.LogLevel)
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	dashboard := service.NewDashboard(cfg, logger)
	for _, status := range dashboard.GetProviderStatus() {
		entry := logger.WithField("provider", status.Name).WithField("priority", status.Priority)
		if status.Available {
			entry.Info("Exchange rate provider ready")
		} else {
			entry.WithField("error", status.Error).Warn("Exchange rate provider unavailable")
		}
	}

	handlers := api.NewHandlers(api.HandlerConfig{
		Logger:      logger,
		Dashboard:   dashboard,
		RateLimiter: ratelimit.NewLimiter(cfg, logger),
		CORSOrigins: cfg.CORSAllowedOrigins,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handlers.SetupRoutes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.HistoryFetchBudget() + 15*time.Second,
	}

	go func() {
		logger.Info("Starting currency dashboard on port " + cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	shutdownCtx, stop := platform.NewShutdownContext(context.Background())
	defer stop()

	// Series keys carry the date, so expired entries are swept rather than overwritten
	go func() {
		ticker := time.NewTicker(cachePurgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-shutdownCtx.Done():
				return
			case <-ticker.C:
				if purged := dashboard.Cache().Purge(); purged > 0 {
					logger.WithField("entries", purged).Debug("Purged expired cache entries")
				}
			}
		}
	}()

	<-shutdownCtx.Done()

	logger.Info("Shutting down server...")

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}
