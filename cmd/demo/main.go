package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"

	"go.uber.org/zap"

	"github.com/yourusername/cellrate/cmd/demo/handlers"
	"github.com/yourusername/cellrate/pkg/cellrate"
)

func main() {
	port := flag.String("port", "8080", "Port to run the server on")
	configFile := flag.String("config", "cmd/demo/config.yaml", "Path to configuration file")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	limiter, err := cellrate.NewRateLimiter(
		cellrate.WithConfigFile(*configFile),
		cellrate.WithLogger(logger),
		cellrate.WithUnitsExtractor(func(r *http.Request) uint32 {
			if r.URL.Path == "/api/export" {
				return handlers.ExportUnits(r)
			}
			return 1
		}),
	)
	if err != nil {
		logger.Fatal("failed to create rate limiter", zap.String("config", *configFile), zap.Error(err))
	}

	stopCleanup := limiter.StartBackgroundCleanup()
	defer stopCleanup()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.Health)
	mux.Handle("/api/search", limiter.Middleware(http.HandlerFunc(handlers.Search)))
	mux.Handle("/api/login", limiter.Middleware(http.HandlerFunc(handlers.Login)))
	mux.Handle("/api/export", limiter.Middleware(http.HandlerFunc(handlers.Export)))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, `cellrate demo server

Available endpoints:
  GET  /health              - Health check (no rate limit)
  GET  /api/search?q=...    - %s
  POST /api/login           - %s
  GET  /api/export?rows=N   - %s, costs N units

Rate limit headers:
  X-RateLimit-Limit     - Largest request admitted (max burst)
  X-RateLimit-Remaining - Units available now
  Retry-After           - Seconds to wait (when rate limited)
`, limiter.Policy("/api/search").ToPolicy(), limiter.Policy("/api/login").ToPolicy(), limiter.Policy("/api/export").ToPolicy())
	})

	addr := ":" + *port
	logger.Info("starting demo server", zap.String("addr", addr), zap.String("config", *configFile))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
