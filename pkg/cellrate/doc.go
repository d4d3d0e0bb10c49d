// Package cellrate embeds generic cell rate limiting in Go HTTP services.
//
// Each client gets a limiter that admits rate units per period on average
// and tolerates bursts of up to max_burst units. A limiter only remembers
// when it next has room, so it costs a few words of memory and never needs
// a refill goroutine.
//
// # Quick Start
//
//	limiter, err := cellrate.NewRateLimiter(
//	    cellrate.WithDefaults(10, time.Second, 30), // 10/s, bursts of 30
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	decision, err := limiter.AllowN("user-123", 5)
//	if err == nil && !decision.Allowed {
//	    fmt.Printf("Rate limited. Retry after %v\n", decision.RetryAfter)
//	}
//
// A request for more than max_burst units is never admitted. Its decision
// has Reason matching ErrRequestTooLarge and no RetryAfter.
//
// # HTTP Middleware
//
//	limiter, _ := cellrate.NewRateLimiter(
//	    cellrate.WithConfigFile("cellrate.yaml"),
//	    cellrate.WithLogger(logger),
//	)
//	http.Handle("/api/", limiter.Middleware(yourHandler))
//
// The middleware sets X-RateLimit-Limit and X-RateLimit-Remaining on every
// response, and Retry-After (whole seconds, rounded up) on 429 responses.
//
// # Configuration
//
//	defaults:
//	  rate: 10
//	  period: 1s
//	  max_burst: 30
//
//	policies:
//	  "/api/login":
//	    rate: 5
//	    period: 1m
//	  "/healthz":
//	    rate: 1
//	    period: 1s
//	    enabled: false
//
//	key_extractor: "header:X-API-Key|ip"
//	cleanup_age: 1h
//
// Routes under policies get limiters of their own. Adjust changes a route's
// policy at runtime without resetting what clients have already used.
package cellrate
