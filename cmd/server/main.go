package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/cellrate/api"
	"github.com/yourusername/cellrate/control"
	"github.com/yourusername/cellrate/metrics"
	"github.com/yourusername/cellrate/middleware"
	"github.com/yourusername/cellrate/pkg/cellrate"
	"github.com/yourusername/cellrate/store"
)

const version = "1.0.0"

func main() {
	cfg, err := osConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *serverConfig, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := store.NewMemoryStore(cfg.Policy, cfg.CleanupAge, nil)
	if err != nil {
		return err
	}
	stopCleanup := storage.StartBackgroundCleanup(time.Minute)
	defer stopCleanup()

	// Adjustments go through the bus when Redis is configured so every
	// instance picks them up
	var applier store.PolicyApplier = storage
	if cfg.Redis.Addr != "" {
		bus, err := control.NewBus(cfg.Redis, storage, logger.Named("control"))
		if err != nil {
			return err
		}
		defer bus.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = bus.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}

		go func() {
			if err := bus.Run(ctx); err != nil {
				logger.Error("control bus stopped", zap.Error(err))
			}
		}()
		applier = bus
		logger.Info("control bus enabled", zap.String("redis", cfg.Redis.Addr), zap.String("origin", bus.Origin()))
	}

	metricsTracker := metrics.NewMetrics()
	handler := api.NewHandler(storage, applier, metricsTracker, logger.Named("api"))

	routeLimiter, err := cellrate.NewRateLimiter(
		cellrate.WithConfig(cfg.Limits),
		cellrate.WithLogger(logger.Named("routes")),
	)
	if err != nil {
		return err
	}
	stopRouteCleanup := routeLimiter.StartBackgroundCleanup()
	defer stopRouteCleanup()

	limited, err := middleware.NewRateLimiter(middleware.Config{
		Store:     storage,
		UnitsFunc: middleware.UnitsFromHeader("X-Units"),
		Recorder:  metricsTracker,
		Logger:    logger.Named("middleware"),
	})
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/check", handler.CheckRateLimit)
	mux.HandleFunc("/adjust", handler.Adjust)
	mux.Handle("/metrics", api.NewMetricsHandler(metricsTracker, storage))
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/dashboard", dashboardHandler)
	mux.Handle("/demo", limited.Middleware(http.HandlerFunc(demoHandler)))
	mux.Handle("/demo/", routeLimiter.Middleware(http.HandlerFunc(demoHandler)))
	mux.HandleFunc("/", rootHandler)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", server.Addr),
			zap.Stringer("policy", cfg.Policy),
			zap.Duration("cleanup_age", cfg.CleanupAge),
		)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "cellrate",
		"version": version,
	})
}

// demoHandler stands in for an upstream protected by the limiter
func demoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "request admitted",
		"path":    r.URL.Path,
	})
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"service": "cellrate",
		"version": version,
		"endpoints": map[string]string{
			"POST /check":    "Take units for a client",
			"POST /adjust":   "Change the default or a client's policy",
			"GET /metrics":   "Counters and top clients (JSON)",
			"GET /dashboard": "Live dashboard (HTML)",
			"GET /health":    "Health check",
			"GET /demo":      "Protected endpoint, cost from X-Units",
			"GET /demo/...":  "Protected by per-route policies",
		},
	})
}
