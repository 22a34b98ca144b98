/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Warp Referral Engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Load the rate plan (JSON file or built-in defaults)
  4. Wire the referral engine and ledger service
  5. Configure HTTP router, start the expiry scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port            HTTP server port (default: 8080)
  -db              SQLite database path (default: referral.db)
                   Use ":memory:" for in-memory database
  -rates           Path to a JSON rate plan (default: built-in plan)
  -sweep-interval  Expiry sweep interval (default: 1h)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Stop the expiry scheduler
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/referral.db"

  # Run with a custom rate plan
  ./server -rates="./config/rates.json"

  # Run on different port
  ./server -port=3000

ENVIRONMENT:
  No environment variables currently. All config via flags.
  Future: DATABASE_URL, PORT, LOG_LEVEL

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - factory/rates.go: Rate plan parsing
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/referral-engine/api"
	"github.com/warp/referral-engine/factory"
	"github.com/warp/referral-engine/ledger"
	"github.com/warp/referral-engine/referral"
	"github.com/warp/referral-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "referral.db", "SQLite database path")
	ratesPath := flag.String("rates", "", "JSON rate plan path (empty = built-in plan)")
	sweepInterval := flag.Duration("sweep-interval", 1*time.Hour, "reward expiry sweep interval")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Load rate plan
	cfg := referral.DefaultConfig()
	if *ratesPath != "" {
		raw, err := os.ReadFile(*ratesPath)
		if err != nil {
			log.Fatalf("Failed to read rate plan %s: %v", *ratesPath, err)
		}
		cfg, err = factory.NewRateFactory().ParseConfig(string(raw))
		if err != nil {
			log.Fatalf("Failed to parse rate plan %s: %v", *ratesPath, err)
		}
		log.Printf("Loaded rate plan from %s", *ratesPath)
	}

	// Wire the engine and ledger service
	engine := referral.NewEngine(store, store, store, cfg)
	ledgerSvc := ledger.NewService(store)

	// Initialize handler
	handler := api.NewHandler(engine, store, ledgerSvc)
	handler.Resetter = store

	// Expiry scheduler (no-op when the plan has no TTL)
	scheduler := api.NewExpiryScheduler(engine)
	scheduler.CheckInterval = *sweepInterval
	scheduler.Start()
	defer scheduler.Stop()

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
