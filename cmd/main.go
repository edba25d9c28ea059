// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Shivanand-hulikatti/event-ticketing/internal/broker"
	"github.com/Shivanand-hulikatti/event-ticketing/internal/config"
	"github.com/Shivanand-hulikatti/event-ticketing/internal/database"
	"github.com/Shivanand-hulikatti/event-ticketing/internal/handler"
	"github.com/Shivanand-hulikatti/event-ticketing/internal/logger"
	"github.com/Shivanand-hulikatti/event-ticketing/internal/metrics"
	"github.com/Shivanand-hulikatti/event-ticketing/internal/repository"
	"github.com/Shivanand-hulikatti/event-ticketing/internal/service"
	"github.com/Shivanand-hulikatti/event-ticketing/internal/telemetry"
	"github.com/Shivanand-hulikatti/event-ticketing/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Load configuration and logger ──────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.App.LogLevel, cfg.App.IsDevelopment())
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	// ── 2. Tracing and metrics ────────────────────────────────────────────
	tel, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	m := metrics.New()

	// ── 3. Connect to PostgreSQL ──────────────────────────────────────────
	pool, err := database.NewPool(ctx, cfg.Database, database.Options{
		EnableTracing:          cfg.OTel.Enabled,
		IncludeQueryParameters: cfg.OTel.IncludeDBQueryParams,
	}, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	if cfg.Database.Migrate {
		if err := database.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info("Database schema is up to date")
	}

	// ── 4. Wire up layers ────────────────────────────────────────────────
	repos := service.Repositories{
		Store:       repository.NewStore(pool, cfg.Database.LockTimeout),
		Events:      repository.NewEventRepository(pool),
		TicketTypes: repository.NewTicketTypeRepository(pool),
		Bookings:    repository.NewBookingRepository(pool),
	}

	var relay *worker.OutboxRelay
	if cfg.Kafka.Enabled {
		outbox := repository.NewOutboxRepository(pool)
		repos.Outbox = outbox

		publisher, err := broker.NewKafkaPublisher(ctx, broker.Config{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: cfg.Kafka.ClientID,
		}, log)
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		defer publisher.Close()

		relay = worker.NewOutboxRelay(outbox, publisher, worker.OutboxRelayConfig{
			PollInterval: cfg.Outbox.PollInterval,
			BatchSize:    cfg.Outbox.BatchSize,
			MaxRetries:   cfg.Outbox.MaxRetries,
		}, m, log)
	}

	reservations := service.NewReservationEngine(repos, cfg.Kafka.Topic, m, log)
	cancellations := service.NewCancellationEngine(repos, cfg.Kafka.Topic, m, log)
	bookingSvc := service.NewBookingService(repos, reservations, cancellations)

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			// Idempotency fails open, so an unreachable Redis is not fatal.
			log.Warn("Redis is unreachable", zap.String("addr", cfg.Redis.Addr()), zap.Error(err))
		} else {
			log.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr()))
		}
	}

	// ── 5. Build the router ───────────────────────────────────────────────
	routerCfg := handler.RouterConfig{
		Service:        bookingSvc,
		Auth:           handler.NewAuthenticator(cfg.JWT.Secret, cfg.JWT.Issuer),
		DB:             pool,
		IdempotencyTTL: cfg.Redis.IdempotencyTTL,
		Metrics:        m.Handler(),
		Log:            log,
	}
	if rdb != nil {
		routerCfg.Redis = rdb
	}
	r := handler.NewRouter(routerCfg)

	// ── 6. Start server and relay with graceful shutdown ─────────────────
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      otelhttp.NewHandler(r, cfg.App.Name),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if relay != nil {
		if err := relay.Start(ctx); err != nil {
			return err
		}
	}

	// Run in background goroutine so we can listen for shutdown signal.
	serverErr := make(chan error, 1)
	go func() {
		log.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Block until SIGINT or SIGTERM, or the listener fails.
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}
	if relay != nil {
		relay.Stop()
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		log.Error("Telemetry shutdown failed", zap.Error(err))
	}
	log.Info("Server stopped")
	return nil
}
