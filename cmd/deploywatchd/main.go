package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/deploywatch/internal/app/migrate"
	"github.com/splax/deploywatch/internal/domain"
	httpx "github.com/splax/deploywatch/internal/http"
	"github.com/splax/deploywatch/internal/notify"
	"github.com/splax/deploywatch/internal/poll"
	"github.com/splax/deploywatch/internal/repository/postgres"
	"github.com/splax/deploywatch/internal/service/hooks"
	"github.com/splax/deploywatch/internal/ws"
	"github.com/splax/deploywatch/pkg/config"
	"github.com/splax/deploywatch/pkg/crypto"
	"github.com/splax/deploywatch/pkg/logger"
	"github.com/splax/deploywatch/pkg/vercel"
)

var buildVersion = "dev"

func main() {
	cfg := config.LoadDaemonConfig()
	log := logger.New("deploywatchd", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if cfg.AutoMigrate {
		if err := runner.Ensure(ctx); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
	}

	sealer, err := crypto.NewSealer(cfg.TokenEncryptionKey)
	if err != nil {
		log.Error("token encryption unavailable", "error", err)
		os.Exit(1)
	}
	api, err := vercel.New(cfg.VercelAPIURL, vercel.WithTimeout(cfg.HTTPTimeout), vercel.WithUserAgent("deploywatchd/"+buildVersion))
	if err != nil {
		log.Error("invalid deploy api configuration", "error", err)
		os.Exit(1)
	}

	metrics := poll.NewMetrics(prometheus.DefaultRegisterer)
	sched := poll.New(clock.NewClock(), poll.Config{
		Interval:               cfg.PollInterval,
		MaxConsecutiveFailures: cfg.PollMaxFailures,
	}, log, metrics)

	hub := ws.NewHub()

	svcCfg := hooks.Config{
		Classifier: domain.NewClassifier(cfg.ReadyStates, cfg.ErrorStates),
		Scheduler:  sched,
		Hub:        hub,
	}
	notifiers := notify.Multi{notify.NewLog(log)}
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisNotifier, err := notify.NewRedis(addr, cfg.RedisPass, cfg.RedisDB, cfg.NotifyChannel, log)
		if err != nil {
			log.Warn("redis notifications unavailable", "error", err)
		} else {
			defer redisNotifier.Close()
			notifiers = append(notifiers, redisNotifier)
			svcCfg.States = redisNotifier
		}
	}
	svcCfg.Notifier = notifiers

	hookSvc := hooks.New(postgres.New(pool), sealer, api, log, svcCfg)
	if err := hookSvc.Load(ctx); err != nil {
		log.Error("failed to load hooks", "error", err)
		os.Exit(1)
	}

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, hookSvc, hub, cfg.JWTSecret, httpx.Options{
		Limiter:         limiter,
		DeployRateLimit: cfg.DeployRateLimit,
		DBHealth:        pool.Ping,
	})
	defer func() {
		hookSvc.Close()
		hub.Close()
		router.Close()
	}()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("deploywatch daemon starting", "addr", cfg.Addr, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("deploywatch daemon stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
