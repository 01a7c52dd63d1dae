/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the expense ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags (environment variables as defaults)
  2. Configure logging
  3. Open the KV store (SQLite file or in-memory)
  4. Open the Tracker (loads and migrates the ledger)
  5. Optionally seed a demo scenario
  6. Configure HTTP router and start the sync scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port     HTTP server port (env PORT, default: 8080)
  -db       SQLite database path (env DB_PATH, default: ledger.db)
            Use ":memory:" for the in-memory store
  -origins  Comma-separated CORS origins (env CORS_ORIGINS)
  -seed     Scenario to load at startup (e.g. weekend-trip)
  -sync     Storage sync interval, 0 disables (default: 30s)

  LOG_LEVEL (debug, info, warn, error) sets the log level.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sync scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/ledger.db"

  # Run in memory with demo data
  ./server -db=":memory:" -seed=weekend-trip

SEE ALSO:
  - api/server.go: Router configuration
  - tracker/tracker.go: Ledger facade
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/warp/expense-ledger/api"
	"github.com/warp/expense-ledger/ledger"
	"github.com/warp/expense-ledger/ledger/store"
	"github.com/warp/expense-ledger/logging"
	"github.com/warp/expense-ledger/store/sqlite"
	"github.com/warp/expense-ledger/tracker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	port := flag.Int("port", getEnvInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", getEnv("DB_PATH", "ledger.db"), `SQLite database path (":memory:" for in-memory)`)
	origins := flag.String("origins", getEnv("CORS_ORIGINS", ""), "Comma-separated CORS origins")
	seed := flag.String("seed", "", "Scenario to load at startup")
	syncInterval := flag.Duration("sync", 30*time.Second, "Storage sync interval (0 disables)")
	flag.Parse()

	logger := logging.Setup()

	// Initialize store
	kv, closeKV, err := openKV(*dbPath)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer closeKV()

	metrics := api.NewMetrics()
	ctx := context.Background()

	t, err := tracker.Open(ctx, kv,
		tracker.WithLogger(logger),
		tracker.WithRecorder(metrics),
	)
	if err != nil {
		return err
	}

	handler := api.NewHandler(t, logger)
	if *seed != "" {
		if err := handler.LoadScenarioByID(ctx, *seed); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}

	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: splitList(*origins),
		Metrics:        metrics,
	})

	scheduler := api.NewSyncScheduler(t, logger)
	scheduler.CheckInterval = *syncInterval
	scheduler.Enabled = *syncInterval > 0 && *dbPath != ":memory:"
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", "http://localhost"+server.Addr, "db", *dbPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		scheduler.Stop()
		return err
	}

	logger.Info("shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// openKV picks the in-memory store for ":memory:" and SQLite otherwise.
func openKV(path string) (ledger.TxKV, func(), error) {
	if path == ":memory:" {
		return store.NewTxMemory(), func() {}, nil
	}
	db, err := sqlite.New(path)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { db.Close() }, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
