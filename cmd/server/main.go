package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"accounts/internal/api"
	"accounts/internal/captcha"
	"accounts/internal/config"
	"accounts/internal/db"
	"accounts/internal/directory"
	"accounts/internal/metrics"
	"accounts/internal/notify"
	"accounts/internal/rate"
	"accounts/internal/service"
	"accounts/internal/store"
	"accounts/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.LogDev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	sqdb, err := db.OpenSQLite(cfg.DBPath, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer sqdb.Close()
	if err := db.ApplyMigrations(sqdb, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	st := store.New(sqdb)

	provisioner, err := directory.NewProvisioner(cfg)
	if err != nil {
		return fmt.Errorf("directory: %w", err)
	}
	if c, ok := provisioner.(interface{ Close() error }); ok {
		defer c.Close()
	}

	readyChecks := map[string]api.ReadyCheck{}
	if cfg.MailSender == "smtp" {
		readyChecks["smtp"] = notify.NewSMTPTransport(cfg).Probe
	}

	var limiter rate.Allower = rate.NewLimiter()
	if cfg.RateLimitBackend == "redis" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		limiter = rate.NewRedisLimiter(rdb, logger)
		readyChecks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	svc := service.New(cfg, st, notify.NewSender(cfg, logger), provisioner, logger, service.WithMetrics(m))
	if err := svc.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	r := api.NewRouter(cfg, svc, api.Options{
		Logger:      logger,
		Metrics:     m,
		Gatherer:    prometheus.DefaultGatherer,
		Limiter:     limiter,
		Captcha:     captcha.NewVerifier(cfg),
		ReadyChecks: readyChecks,
	})

	hsrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: cfg.HTTPReadHeaderTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		build := version.Current()
		logger.Info("listening",
			zap.String("addr", cfg.ListenAddr),
			zap.String("version", build.Version),
			zap.String("commit", build.Commit),
		)
		if err := hsrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return hsrv.Shutdown(shutdownCtx)
}
