package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/hongminglow/vip-ledger/internal/auth"
	"github.com/hongminglow/vip-ledger/internal/config"
	"github.com/hongminglow/vip-ledger/internal/events"
	"github.com/hongminglow/vip-ledger/internal/finance"
	"github.com/hongminglow/vip-ledger/internal/middleware"
	"github.com/hongminglow/vip-ledger/internal/scheduler"
	"github.com/hongminglow/vip-ledger/internal/server"
	"github.com/hongminglow/vip-ledger/internal/storage"
	"github.com/hongminglow/vip-ledger/internal/storage/memory"
	"github.com/hongminglow/vip-ledger/internal/storage/postgres"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	loadLocalEnv(logger)

	if err := run(logger); err != nil {
		logger.Error("vip-ledger stopped", "error", err)
		os.Exit(1)
	}
}

// run wires the service and blocks until a signal or a server failure. Every
// resource it opens is closed before it returns.
func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	store, backend, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init %s storage: %w", backend, err)
	}
	defer store.Close()

	publisher := openPublisher(cfg, logger)
	defer publisher.Close()

	svc := finance.NewService(store, publisher, logger, finance.Options{
		AccrualWindow:       cfg.AccrualWindow(),
		AutoConfirmDeposits: cfg.DepositAutoConfirm,
	})
	if err := svc.SeedPlans(ctx); err != nil {
		return fmt.Errorf("seed plans: %w", err)
	}
	if err := svc.BootstrapAdmins(ctx, cfg.Admins()); err != nil {
		return fmt.Errorf("bootstrap admins: %w", err)
	}

	var limiterClient redis.UniversalClient
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable; rate limiting fails open until it recovers", "error", err)
		}
		cancel()
		limiterClient = client
	}
	limiter := middleware.NewRateLimiter(limiterClient, "vip-ledger:rate_limit", cfg.RateLimitPerMinute, time.Minute, logger)

	var jobs *scheduler.Scheduler
	if cfg.AccrualSchedule != "" {
		jobs = scheduler.New(svc, cfg.AccrualSchedule, 10*time.Minute, logger)
		if err := jobs.Start(); err != nil {
			return fmt.Errorf("start accrual scheduler: %w", err)
		}
	}

	srv := server.New(cfg, server.Deps{
		Finance:  svc,
		Accounts: store,
		Tokens:   auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL()),
		Limiter:  limiter,
		Logger:   logger,
		Backend:  backend,
	})

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("vip-ledger listening", "addr", cfg.HTTPAddress(), "storage", backend)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case <-sigCh:
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error("graceful shutdown error", "error", err)
	}
	if jobs != nil {
		select {
		case <-jobs.Stop().Done():
		case <-ctxShutdown.Done():
			logger.Warn("accrual sweep still running at shutdown")
		}
	}
	return runErr
}

func openStore(ctx context.Context, cfg config.Config) (storage.Store, string, error) {
	if cfg.DatabaseURL == "" {
		return memory.NewStore(), "memory", nil
	}
	store, err := postgres.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, "postgres", err
	}
	return store, "postgres", nil
}

func openPublisher(cfg config.Config, logger *slog.Logger) events.Publisher {
	if cfg.RabbitMQURL == "" {
		return events.Fallback{Logger: logger}
	}
	producer, err := events.NewProducer(cfg.RabbitMQURL, cfg.EventsExchange, logger)
	if err != nil {
		logger.Warn("rabbitmq unavailable; events will be dropped", "error", err)
		return events.Fallback{Logger: logger}
	}
	return producer
}

func loadLocalEnv(logger *slog.Logger) {
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found; relying on existing environment")
	}
}
