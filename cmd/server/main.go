/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the fees ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load config (config.toml + FEES_* env), apply flag overrides
  2. Build the zap logger
  3. Initialize SQLite store
  4. Wire notification/audit delivery (store audit log, Kafka if enabled)
  5. Create API handler and router
  6. Start the penalty scheduler and HTTP server

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides app.port)
  -db      SQLite database path (overrides database.path)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (cancels an in-flight sweep)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the Kafka writer and database connection

EXAMPLES:
  ./server -db="./data/fees.db"
  FEES_KAFKA_ENABLED=true FEES_KAFKA_BROKERS=kafka:9092 ./server

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/fees-engine/api"
	"github.com/warp/fees-engine/config"
	"github.com/warp/fees-engine/events"
	"github.com/warp/fees-engine/logger"
	"github.com/warp/fees-engine/mobilemoney"
	"github.com/warp/fees-engine/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	port := flag.String("port", "", "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *port != "" {
		cfg.App.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return err
	}
	defer log.Sync()

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	delivery := events.NewMulti().AddAuditSink(store)
	if cfg.Kafka.Enabled {
		pub := events.NewPublisher(events.PublisherConfig{
			Brokers:           cfg.Kafka.Brokers,
			NotificationTopic: cfg.Kafka.NotificationTopic,
			AuditTopic:        cfg.Kafka.AuditTopic,
		})
		defer pub.Close()
		delivery.AddNotifier(pub).AddAuditSink(pub)
		log.Info("kafka delivery enabled", zap.Strings("brokers", cfg.Kafka.Brokers))
	} else {
		delivery.AddNotifier(events.NewLogNotifier(log))
	}

	if cfg.Provider.CallbackSecret == "" {
		log.Warn("provider callbacks are not signature-checked")
	}

	handler := api.NewHandler(api.Options{
		Store:            store,
		Runs:             store,
		Notifier:         delivery,
		Audit:            delivery,
		Provider:         mobilemoney.NewSandbox(),
		Log:              log,
		CallbackSecret:   cfg.Provider.CallbackSecret,
		PollRate:         cfg.HTTP.PollRate,
		PollBurst:        cfg.HTTP.PollBurst,
		PollInterval:     cfg.Provider.PollInterval,
		PollTimeout:      cfg.Provider.PollTimeout,
		WriteTimeout:     cfg.HTTP.WriteTimeout,
		SweepInterval:    cfg.Scheduler.Interval,
		SweepConcurrency: cfg.Scheduler.Concurrency,
		SchedulerEnabled: cfg.Scheduler.Enabled,
	})
	router := api.NewRouter(handler, api.RouterConfig{CORSAllowOrigins: cfg.HTTP.CORSAllowOrigins})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	handler.Scheduler.Start()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", server.Addr), zap.String("env", cfg.App.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			handler.Scheduler.Stop()
			return fmt.Errorf("server failed: %w", err)
		}
	}

	handler.Scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
