// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"activation-service/internal/config"
	"activation-service/internal/domain/ports/adapter"
	pg "activation-service/internal/infra/db/postgres"
	"activation-service/internal/infra/api"
	"activation-service/internal/infra/logging"
	"activation-service/internal/infra/metrics"
	"activation-service/internal/infra/ratelimit"
	red "activation-service/internal/infra/redis"
	"activation-service/internal/infra/sched"
	"activation-service/internal/usecase"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, unredacted codes)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	if err := pg.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("postgres schema")
	}

	// ---- Rate limiter ----
	var limiter adapter.RateLimiter
	switch strings.ToLower(cfg.RateLimit.Backend) {
	case "redis":
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		limiter = red.NewRateLimiter(redisClient, cfg.RateLimit.Calls, cfg.RateLimit.Period)
	default:
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.Calls, cfg.RateLimit.Period)
	}
	logger.Info().
		Str("backend", cfg.RateLimit.Backend).
		Int("calls", cfg.RateLimit.Calls).
		Dur("period", cfg.RateLimit.Period).
		Msg("rate limiter ready")

	// ---- Repositories ----
	codeRepo := pg.NewActivationCodeRepo(pool, cfg.Database.QueryTimeout)
	txManager := pg.NewTxManager(pool)

	// ---- Use cases ----
	codesUC := usecase.NewActivationCodeUseCase(codeRepo, txManager, usecase.CodeOptions{
		DefaultLength:    cfg.Codes.DefaultLength,
		Alphabet:         cfg.Codes.Alphabet,
		MaxRetries:       cfg.Codes.MaxRetries,
		MaxBulk:          cfg.Codes.MaxBulk,
		DefaultListLimit: cfg.Codes.DefaultListLimit,
		MaxListLimit:     cfg.Codes.MaxListLimit,
		Dev:              cfg.Runtime.Dev,
	}, logger)

	// ---- HTTP server ----
	apiSrv := api.NewServer(codesUC, limiter, pool, api.Options{
		APIKey:         cfg.Security.APIKey,
		AllowedOrigins: cfg.Security.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		RatePeriod:     cfg.RateLimit.Period,
		DefaultLength:  cfg.Codes.DefaultLength,
	}, logger)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      apiSrv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Str("version", version).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	// ---- Pool stats worker ----
	statsWorker := sched.NewPoolStatsWorker(cfg.Scheduler.PoolStatsInterval, func() sched.PoolStats {
		s := pool.Stat()
		return sched.PoolStats{Total: s.TotalConns(), Idle: s.IdleConns(), InUse: s.AcquiredConns()}
	}, logger)
	go func() { _ = statsWorker.Run(ctx) }()

	// ---- Graceful shutdown ----
	<-ctx.Done()
	logger.Info().Msg("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	logger.Info().Dur("grace", cfg.Server.ShutdownTimeout).Msg("stopped")
}
