package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/capraise-ai/be-deals-service/internal/client"
	"github.com/capraise-ai/be-deals-service/internal/config"
	"github.com/capraise-ai/be-deals-service/internal/database"
	"github.com/capraise-ai/be-deals-service/internal/handler"
	"github.com/capraise-ai/be-deals-service/internal/middleware"
	"github.com/capraise-ai/be-deals-service/internal/repository"
	"github.com/capraise-ai/be-deals-service/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := newLogger(cfg)

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Deals Lifecycle Service")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Connect to NATS. Notifications are best-effort, so a missing
	// broker degrades to a silent publisher instead of aborting.
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.Service.Name),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable, notifications disabled")
			nc = nil
		} else {
			defer nc.Close()
			log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
		}
	} else {
		log.Warn().Msg("NATS_URL not set, notifications disabled")
	}

	// Initialize repositories
	dealRepo := repository.NewDealRepository(db)
	timelineRepo := repository.NewTimelineRepository(db)

	// Initialize notification publisher and lifecycle service
	publisher := client.NewNotificationPublisher(nc, log)
	lifecycle := service.NewLifecycleService(dealRepo, timelineRepo, publisher, &log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(lifecycle, &log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Deal lifecycle routes
	mux.HandleFunc("/api/v1/deals", httpHandler.ListDeals)
	mux.HandleFunc("/api/v1/deals/get", httpHandler.GetDeal)
	mux.HandleFunc("/api/v1/deals/transition", httpHandler.TransitionDeal)
	mux.HandleFunc("/api/v1/deals/transitions", httpHandler.ValidTransitions)
	mux.HandleFunc("/api/v1/deals/bulk-approve", httpHandler.BulkApprove)
	mux.HandleFunc("/api/v1/deals/timeline", httpHandler.GetTimeline)
	mux.HandleFunc("/api/v1/deals/activity", httpHandler.ActivitySummary)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log)(h)
	h = middleware.Recovery(&log)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Periodically expire marketplace listings that have gone stale.
	if cfg.Lifecycle.SweepEnabled {
		go func() {
			ticker := time.NewTicker(cfg.Lifecycle.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					expired, err := lifecycle.ExpireStaleDeals(ctx, cfg.Lifecycle.StaleDays)
					if err != nil {
						log.Error().Err(err).Msg("Staleness sweep failed")
						continue
					}
					log.Info().Int("expired", len(expired)).Msg("Staleness sweep completed")
				}
			}
		}()
		log.Info().
			Dur("interval", cfg.Lifecycle.SweepInterval).
			Int("stale_days", cfg.Lifecycle.StaleDays).
			Msg("Staleness sweep scheduled")
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

// newLogger builds the service logger from configuration.
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Service.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Service.Environment == "development" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log = zerolog.New(os.Stderr)
	}

	return log.Level(level).With().
		Timestamp().
		Str("service", cfg.Service.Name).
		Logger()
}
