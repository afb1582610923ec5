package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Proged2021/Time-card-app-V2/internal/app"
	"github.com/Proged2021/Time-card-app-V2/internal/attendance"
	"github.com/Proged2021/Time-card-app-V2/internal/config"
	"github.com/Proged2021/Time-card-app-V2/internal/handler"
	"github.com/Proged2021/Time-card-app-V2/internal/httpmiddleware"
	"github.com/Proged2021/Time-card-app-V2/internal/metrics"
	"github.com/Proged2021/Time-card-app-V2/internal/queue"
	"github.com/Proged2021/Time-card-app-V2/internal/roster"
	"github.com/Proged2021/Time-card-app-V2/internal/schedule"
	"github.com/Proged2021/Time-card-app-V2/internal/store"
	"github.com/Proged2021/Time-card-app-V2/internal/tally"
	"github.com/Proged2021/Time-card-app-V2/internal/token"
)

func main() {
	cfg := config.Load()
	log := app.NewLogger(cfg.Env)
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	health := map[string]handler.HealthCheck{}

	var st attendance.Store
	if cfg.StoreBackend == config.BackendMemory {
		mem := attendance.NewMemoryStore()
		health["store"] = func(ctx context.Context) bool { return mem.Ping(ctx) == nil }
		st = mem
		log.Warn("using in-memory store; data is lost on restart")
	} else {
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if cfg.MigrateOnStart {
			mig, err := store.NewMigrator(db.Client, log.Named("migrate"))
			if err != nil {
				return err
			}
			if err := mig.Up(ctx); err != nil {
				return err
			}
		}
		health["db"] = db.Healthy
		st = attendance.NewRepository(db.Client)
	}

	if cfg.SeedFile != "" {
		r, err := roster.Load(cfg.SeedFile)
		if err != nil {
			return err
		}
		sum, err := r.Apply(ctx, st)
		if err != nil {
			return err
		}
		log.Info("roster loaded",
			zap.String("file", cfg.SeedFile),
			zap.Int("teachers", sum.Teachers),
			zap.Int("students", sum.Students),
			zap.Int("courses", sum.Courses))
	}

	signer, err := token.NewSigner([]byte(cfg.QRSigningSecret))
	if err != nil {
		return err
	}
	eval := schedule.NewEvaluator(cfg.Location)
	m := metrics.New(cfg.MetricsEnabled)

	ledger := attendance.NewLedger(st, eval, cfg.StoreTimeout)
	svc := attendance.NewService(st, st, ledger, signer, eval,
		attendance.WithLogger(log.Named("scan")),
		attendance.WithObserver(m),
		attendance.WithStoreTimeout(cfg.StoreTimeout),
	)

	var q queue.Queue
	var counter tally.Counter
	if cfg.QueueBackend == config.BackendMemory {
		mq := queue.NewInMemory(256)
		mc := tally.NewMemoryCounter()
		go func() {
			if err := tally.NewConsumer(mq, mc, log.Named("tally"), m).Run(ctx); err != nil {
				log.Error("tally consumer failed", zap.Error(err))
			}
		}()
		q, counter = mq, mc
	} else {
		rdb := store.NewRedis(cfg.RedisAddr)
		defer rdb.Close()
		health["redis"] = rdb.Healthy
		q = queue.NewRedisQueue(rdb.Client, queue.DefaultKey)
		counter = tally.NewRedisCounter(rdb.Client)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          12 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())

	if cfg.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	h := handler.New(handler.Deps{
		Store:    st,
		Service:  svc,
		Reporter: attendance.NewReporter(st, eval, cfg.StoreTimeout),
		Eval:     eval,
		Clock:    schedule.SystemClock{},
		Events:   q,
		Counter:  counter,
		Metrics:  m,
		Logger:   log.Named("http"),
		Auth: handler.AuthConfig{
			Issuer:     cfg.JWTIssuer,
			SigningKey: cfg.JWTSigningKey,
			AccessTTL:  cfg.AccessTTL,
		},
		Health:       health,
		ScanRetries:  cfg.ScanRetries,
		StoreTimeout: cfg.StoreTimeout,
	})
	h.Register(r, httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server",
			zap.String("addr", srv.Addr),
			zap.String("store", cfg.StoreBackend),
			zap.String("queue", cfg.QueueBackend),
			zap.String("tz", cfg.Location.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	log.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}
	log.Info("server exited")
	return nil
}
