package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lenderfeed/rate-harvester/internal/app/api"
	"github.com/lenderfeed/rate-harvester/internal/app/harvester"
	"github.com/lenderfeed/rate-harvester/internal/pkg/config"
	"github.com/lenderfeed/rate-harvester/internal/pkg/metrics"
	"github.com/lenderfeed/rate-harvester/internal/pkg/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := newLogger(cfg.Env)
	noErr(err)
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := newStore(ctx, cfg, logger)
	noErr(err)
	defer st.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis unreachable", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	lock := harvester.NewRunLock(rdb, cfg.RunLockTTL, logger.Named("RunLock"))

	fetcher := harvester.NewFetcher(harvester.FetcherConfig{
		Timeout:    cfg.FetchTimeout,
		Retries:    cfg.FetchRetries,
		Backoff:    cfg.FetchBackoff,
		RatePerSec: cfg.FetchRatePerSec,
		Burst:      cfg.FetchBurst,
	}, logger.Named("Fetcher"))

	sources := []harvester.Source{
		harvester.NewMeridianSource(cfg.MeridianBaseURL, fetcher, logger.Named("MeridianSource")),
		harvester.NewSuncoastSource(cfg.SuncoastBaseURL, fetcher, logger.Named("SuncoastSource")),
	}
	if cfg.Env == "dev" {
		sources = append(sources, harvester.NewStaticSource(logger.Named("StaticSource")))
	}
	registry := harvester.NewRegistry(sources...)

	engine := harvester.NewEngine(st, logger.Named("ReconcileEngine"))
	svc := harvester.NewService(st, registry, engine, lock, harvester.ServiceConfig{
		Workers:     cfg.HarvestWorkers,
		Staleness:   cfg.StalenessThreshold,
		RunDeadline: cfg.RunDeadline,
	}, logger.Named("Harvester"))

	metrics.StartServer(cfg.MetricsAddr)

	app := fiber.New()
	api.RegisterRoutes(app, api.NewHandler(svc, st, logger.Named("API")))

	go func() {
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			logger.Fatal("http server stopped", zap.Error(err))
		}
	}()
	logger.Info("rate-harvester up", zap.String("addr", cfg.HTTPAddr))

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// newStore picks postgres when configured, otherwise the in-memory store so
// the binary runs end to end without infrastructure.
func newStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("no DATABASE_URL set, using volatile in-memory store")
		return store.NewMemory(), nil
	}

	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL, logger.Named("PG Store"))
	if err != nil {
		return nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}

func noErr(err error) {
	if err != nil {
		panic("failed to initialize something important: " + err.Error())
	}
}
