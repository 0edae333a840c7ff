package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pointledger/internal/cache"
	"pointledger/internal/config"
	"pointledger/internal/db"
	"pointledger/internal/handlers"
	"pointledger/internal/ledger"
	"pointledger/internal/lock"
	"pointledger/internal/logging"
	"pointledger/internal/metrics"
	"pointledger/internal/store"
	"pointledger/internal/websocket"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(logging.Config{
		ServiceName: "pointledger",
		Environment: cfg.AppEnv,
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	})
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}
	defer database.Close()

	registry := metrics.NewRegistry()
	hub := websocket.NewHub()
	opts := []ledger.Option{
		ledger.WithLogger(logger.Named("ledger")),
		ledger.WithHub(hub),
		ledger.WithNotifier(hub),
		ledger.WithMetrics(metrics.New(registry)),
		ledger.WithLocation(cfg.Location),
		ledger.WithMaxRetries(cfg.MaxRetries),
	}

	if cfg.UseRedis() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal("failed to connect redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		opts = append(opts,
			ledger.WithLocker(lock.NewRedisLocker(client, cfg.LockTTL, logger.Named("lock"))),
			ledger.WithBalanceCache(cache.NewRedisBalanceCache(client, cfg.BalanceCacheTTL, logger.Named("cache"))),
		)
		logger.Info("using redis for account locks and balance cache", zap.String("addr", cfg.RedisAddr))
	} else {
		opts = append(opts, ledger.WithBalanceCache(cache.NewMemoryBalanceCache(cfg.BalanceCacheTTL)))
	}

	service := ledger.NewService(
		db.NewTxRunner(database, db.DefaultMaxAttempts),
		store.NewAccountStore(database),
		store.NewTransactionStore(database),
		store.NewUsageStore(database),
		store.NewAuditStore(database),
		opts...,
	)

	handler := handlers.New(cfg, service, hub, logger.Named("http"), metrics.Handler(registry))
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("points ledger listening", zap.String("addr", server.Addr), zap.String("timezone", cfg.Location.String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	logger.Info("server stopped")
}
