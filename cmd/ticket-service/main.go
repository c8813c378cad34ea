package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-ticket-gate/internal/config"
	"ms-ticket-gate/internal/database/migrations"
	"ms-ticket-gate/internal/kafka"
	"ms-ticket-gate/internal/logger"
	"ms-ticket-gate/internal/models"
	"ms-ticket-gate/internal/sse"
	ticket_db "ms-ticket-gate/internal/tickets/db"
	"ms-ticket-gate/internal/tickets/memstore"
	qr "ms-ticket-gate/internal/tickets/qr_generator"
	rediswrap "ms-ticket-gate/internal/tickets/redis"
	"ms-ticket-gate/internal/tickets/service"
	"ms-ticket-gate/internal/tickets/signer"
	"ms-ticket-gate/internal/tickets/ticket_api"
)

func connectPostgres(dsn string, maxRetries int, logger *logger.Logger) (*sql.DB, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var sqldb *sql.DB
	var err error
	for i := 0; i < maxRetries; i++ {
		logger.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", dsn)
		if err != nil {
			logger.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			logger.Info("DATABASE", "PostgreSQL connection successful")
			return sqldb, nil
		}

		logger.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		_ = sqldb.Close()
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	return nil, fmt.Errorf("failed to connect to PostgreSQL after %d attempts: %w", maxRetries, err)
}

func runMigrations(dsn string, logger *logger.Logger) error {
	// The runner closes its handle, so it gets its own.
	migrateDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	runner, err := migrations.NewRunner(migrateDB, logger)
	if err != nil {
		_ = migrateDB.Close()
		return err
	}
	defer runner.Close()
	return runner.Up()
}

// openStore returns the configured order store and a function that releases it.
func openStore(cfg *config.Config, logger *logger.Logger) (service.OrderStore, func(), error) {
	if cfg.Store.Backend == config.BackendMemory {
		logger.Warn("DATABASE", "Using in-memory order store; orders are lost on restart")
		return memstore.New(), func() {}, nil
	}

	sqldb, err := connectPostgres(cfg.Store.PostgresDSN, cfg.Store.MaxRetries, logger)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Store.AutoMigrate {
		if err := runMigrations(cfg.Store.PostgresDSN, logger); err != nil {
			_ = sqldb.Close()
			return nil, nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())
	return ticket_db.New(bunDB), func() { _ = bunDB.Close() }, nil
}

// openGuard connects the idempotency guard. Without REDIS_ADDR the service
// issues without deduplication.
func openGuard(ctx context.Context, addr string, logger *logger.Logger) (service.IdempotencyGuard, func()) {
	if addr == "" {
		logger.Warn("REDIS", "REDIS_ADDR not set, idempotency keys are ignored")
		return nil, func() {}
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	guard := rediswrap.NewRedis(client)
	if err := guard.Ping(ctx); err != nil {
		logger.Warn("REDIS", fmt.Sprintf("Redis at %s not reachable yet, continuing: %v", addr, err))
	} else {
		logger.Info("REDIS", fmt.Sprintf("Redis connection successful to %s", addr))
	}
	return guard, func() { _ = client.Close() }
}

func openNotifier(cfg *config.Config, logger *logger.Logger) (service.Notifier, func()) {
	if len(cfg.Kafka.Brokers) == 0 {
		logger.Warn("KAFKA", "KAFKA_BROKERS not set, ticket events are only logged")
		return &service.LogNotifier{Logger: logger}, func() {}
	}

	topics := kafka.Topics{Issued: cfg.Kafka.TopicIssued, Redeemed: cfg.Kafka.TopicRedeemed}
	if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, []string{topics.Issued, topics.Redeemed}, logger); err != nil {
		logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
	}

	notifier := kafka.NewNotifier(cfg.Kafka.Brokers, topics, logger)
	logger.Info("KAFKA", fmt.Sprintf("Kafka notifier initialized for %v", cfg.Kafka.Brokers))
	return notifier, func() {
		if err := notifier.Close(); err != nil {
			logger.Error("KAFKA", fmt.Sprintf("Failed to close writer: %v", err))
		}
	}
}

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	level := logger.ParseLevel(cfg.Logging.Level)
	logger, err := logger.NewLogger("ticket-service", cfg.Logging.Dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()
	logger.SetLevel(level)

	logger.Info("APP", "Starting Ticket Service initialization")
	if envErr != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		logger.Info("CONFIG", "Loaded environment variables from .env file")
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal("CONFIG", err.Error())
	}

	sign, err := signer.New(cfg.Tickets.SigningSecret)
	if err != nil {
		logger.Fatal("CONFIG", err.Error())
	}
	logger.Info("CONFIG", fmt.Sprintf("Signing key loaded (%s)", sign.Algorithm()))

	ctx := context.Background()

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("DATABASE", err.Error())
	}
	defer closeStore()

	guard, closeGuard := openGuard(ctx, cfg.Redis.Addr, logger)
	defer closeGuard()

	notifier, closeNotifier := openNotifier(cfg, logger)
	defer closeNotifier()
	feed := sse.NewTicketEventEmitter()

	ticketService, err := service.NewTicketService(service.Dependencies{
		Store:    store,
		Signer:   sign,
		Guard:    guard,
		Notifier: service.MultiNotifier{notifier, feed},
		Renderer: qr.NewQRGenerator(cfg.Tickets.QRSize),
		Logger:   logger,
	}, service.Options{
		TicketTypes:    cfg.TicketTypes(),
		IdempotencyTTL: cfg.Tickets.IdempotencyTTL,
		NameMinLength:  cfg.Tickets.NameMinLength,
		StoreTimeout:   cfg.Store.Timeout,
		NotifyTimeout:  cfg.Tickets.NotifyTimeout,
	})
	if err != nil {
		logger.Fatal("APP", err.Error())
	}
	logger.Info("APP", fmt.Sprintf("Ticket types: %v", typeNames(cfg.TicketTypes())))

	if cfg.Admin.Token == "" {
		logger.Warn("AUTH", "ADMIN_TOKEN not set, admin routes are disabled")
	}

	handler := ticket_api.NewHandler(ticketService, logger)
	handler.Events = feed
	r := ticket_api.NewRouter(handler, cfg.Admin.Token)
	logger.Info("ROUTER", "Ticket routes registered under /api")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	// Open event streams would otherwise hold Shutdown until its timeout.
	server.RegisterOnShutdown(feed.Close)

	go func() {
		logger.Info("HTTP", fmt.Sprintf("Ticket Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	}

	drained := make(chan struct{})
	go func() {
		ticketService.Close()
		close(drained)
	}()
	select {
	case <-drained:
		logger.Info("NOTIFY", "Pending notifications delivered")
	case <-ctxShutdown.Done():
		logger.Warn("NOTIFY", "Shutdown timeout reached with notifications still pending")
	}

	logger.Info("HTTP", "Ticket Service shutdown complete")
}

func typeNames(types []models.TicketType) []string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return names
}
