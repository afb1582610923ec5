package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Proged2021/Time-card-app-V2/internal/app"
	"github.com/Proged2021/Time-card-app-V2/internal/config"
	"github.com/Proged2021/Time-card-app-V2/internal/metrics"
	"github.com/Proged2021/Time-card-app-V2/internal/queue"
	"github.com/Proged2021/Time-card-app-V2/internal/store"
	"github.com/Proged2021/Time-card-app-V2/internal/tally"
)

// Worker consumes recorded-scan events and maintains the live tallies.
func main() {
	cfg := config.Load()
	log := app.NewLogger(cfg.Env).Named("worker")
	defer func() { _ = log.Sync() }()

	if cfg.QueueBackend != config.BackendRedis {
		log.Fatal("worker needs QUEUE_BACKEND=redis; the memory queue is consumed inside the API",
			zap.String("queue", cfg.QueueBackend))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := store.NewRedis(cfg.RedisAddr)
	defer rdb.Close()
	if !rdb.Healthy(ctx) {
		log.Warn("redis not reachable yet; consumer will keep retrying", zap.String("addr", cfg.RedisAddr))
	}

	if cfg.MetricsEnabled {
		srv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	q := queue.NewRedisQueue(rdb.Client, queue.DefaultKey)
	consumer := tally.NewConsumer(q, tally.NewRedisCounter(rdb.Client), log, metrics.New(cfg.MetricsEnabled))
	if err := consumer.Run(ctx); err != nil {
		log.Error("consumer failed", zap.Error(err))
	}
	log.Info("worker stopped")
}
