package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/example/dispatch-engine/internal/config"
	"github.com/example/dispatch-engine/internal/dispatch"
	"github.com/example/dispatch-engine/internal/engine"
	"github.com/example/dispatch-engine/internal/geo"
	httpapi "github.com/example/dispatch-engine/internal/http"
	"github.com/example/dispatch-engine/internal/ingest"
	"github.com/example/dispatch-engine/internal/logging"
	"github.com/example/dispatch-engine/internal/problems"
	"github.com/example/dispatch-engine/internal/storage"
)

const migrationFile = "001_create_dispatch.sql"

func main() {
	cfg, err := config.Load("")
	logger := logging.NewLogger(cfg.LogLevel, "server")
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.PGDSN != "" && cfg.RunMigrations {
		migrate(ctx, cfg.PGDSN, logger)
	}

	svc, closers := wire(ctx, cfg, logger)
	defer func() {
		for _, c := range closers {
			_ = c()
		}
	}()

	hub := dispatch.NewWSRegistry(logger.With().Str("component", "ws").Logger())
	fan := dispatch.NewFanout(hub, logger)
	if len(cfg.KafkaBrokers) > 0 {
		events := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTripTopic)
		locations := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaLocationTopic)
		fan.AddSink("kafka", events)
		svc.Locations = locations
		closers = append(closers, events.Close, locations.Close)
	}
	svc.Events = fan

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(svc, hub, logger.With().Str("component", "http").Logger()),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("dispatch engine listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("server stopped")
}

// wire picks Postgres and Redis when configured and falls back to the
// in-memory store and index.
func wire(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*engine.Service, []func() error) {
	var closers []func() error

	var store storage.Store
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err == nil {
			err = ps.Ping(ctx)
		}
		if err != nil {
			logger.Warn().Err(err).Msg("postgres unavailable, using memory store")
		} else {
			store = ps
			closers = append(closers, ps.Close)
		}
	}
	if store == nil {
		store = storage.NewMemoryStore()
		if cfg.SeedFile != "" {
			seed(ctx, store, cfg.SeedFile, logger)
		}
	}

	svc := engine.New(store, logger.With().Str("component", "engine").Logger())
	svc.Detector = problems.NewDetector(cfg.Thresholds())

	if cfg.RedisAddr != "" {
		rg := geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		if err := rg.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, using in-memory positions")
			_ = rg.Close()
			svc.Locator = geo.NewIndex()
		} else {
			svc.Locator = rg
			closers = append(closers, rg.Close)
		}
	} else {
		svc.Locator = geo.NewIndex()
	}
	return svc, closers
}

func seed(ctx context.Context, store storage.Store, path string, logger zerolog.Logger) {
	b, err := os.ReadFile(path)
	if err != nil {
		logger.Error().Err(err).Str("file", path).Msg("seed read failed")
		return
	}
	n, err := storage.Seed(ctx, store, b)
	if err != nil {
		logger.Error().Err(err).Str("file", path).Msg("seed failed")
		return
	}
	logger.Info().Str("file", path).Int("trips", n.Trips).Int("drivers", n.Drivers).
		Int("zones", n.Zones).Int("skipped", n.Skipped).Msg("memory store seeded")
}

func migrate(ctx context.Context, dsn string, logger zerolog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error().Err(err).Msg("migration db open failed")
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", migrationFile))
	if err != nil {
		logger.Error().Err(err).Msg("migration read failed")
		return
	}
	if _, err := db.ExecContext(ctx, string(b)); err != nil {
		logger.Error().Err(err).Msg("migration exec failed")
		return
	}
	logger.Info().Str("file", migrationFile).Msg("migration applied")
}
