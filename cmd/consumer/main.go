package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/example/dispatch-engine/internal/config"
	"github.com/example/dispatch-engine/internal/geo"
	"github.com/example/dispatch-engine/internal/ingest"
	"github.com/example/dispatch-engine/internal/logging"
	"github.com/example/dispatch-engine/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "consumer_messages_consumed_total",
		Help:      "Total driver location messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "consumer_messages_invalid_total",
		Help:      "Total invalid messages received",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "consumer_redis_updates_total",
		Help:      "Total successful redis updates",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "consumer_redis_errors_total",
		Help:      "Total redis errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, redisUpdates, redisErrors)
}

func main() {
	cfg, err := config.Load("")
	logger := logging.NewLogger(cfg.LogLevel, "consumer")
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	brokers := cfg.KafkaBrokers
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}
	redisAddr := cfg.RedisAddr
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rc := redis.NewClient(&redis.Options{Addr: redisAddr, Password: cfg.RedisPassword})
	radapter := &redisAdapter{c: rc}

	// metrics and health
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
		})
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics/health listening")
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    cfg.KafkaLocationTopic,
		GroupID:  cfg.KafkaGroup,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info().
		Str("topic", cfg.KafkaLocationTopic).
		Strs("brokers", brokers).
		Str("group", cfg.KafkaGroup).
		Msg("consumer listening")

	if err := consume(ctx, r, radapter, cfg.RedisGeoKey, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("consumer stopped")
		os.Exit(1)
	}
	logger.Info().Msg("shutting down consumer")
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

func consume(ctx context.Context, r messageReader, rc RedisUpdater, geoKey string, logger zerolog.Logger) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn().Err(err).Dur("backoff", backoff).Msg("kafka read error")
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		d, err := decodeLocation(m.Value)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn().Err(err).Str("key", string(m.Key)).Msg("invalid message")
			continue
		}
		if err := updateRedisWithRetry(ctx, rc, geoKey, d, 3, 200*time.Millisecond); err != nil {
			redisErrors.Inc()
			logger.Error().Err(err).Str("driver_id", d.ID).Msg("redis update failed")
			continue
		}
		redisUpdates.Inc()
	}
}

// decodeLocation accepts both the engine's Position records and raw driver
// app payloads.
func decodeLocation(b []byte) (models.Driver, error) {
	raw, err := ingest.DecodeObject(b)
	if err != nil {
		return models.Driver{}, err
	}
	d, err := ingest.Driver(raw)
	if err != nil {
		return models.Driver{}, err
	}
	if !d.Loc.Valid() {
		return models.Driver{}, errors.New("message has no usable coordinates")
	}
	if d.UpdatedAt == nil {
		now := time.Now().UTC()
		d.UpdatedAt = &now
	}
	return d, nil
}

// RedisUpdater defines the small subset of redis operations we need for tests and production.
type RedisUpdater interface {
	GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error
	HSet(ctx context.Context, key string, values map[string]interface{}) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	_, err := r.c.GeoAdd(ctx, key, loc).Result()
	return err
}

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	_, err := r.c.HSet(ctx, key, values).Result()
	return err
}

// updateRedisWithRetry writes the position and its metadata hash, retrying
// each step with a doubling delay.
func updateRedisWithRetry(ctx context.Context, rc RedisUpdater, geoKey string, d models.Driver, attempts int, delay time.Duration) error {
	meta := map[string]interface{}{"updated": d.UpdatedAt.UTC().Format(time.RFC3339Nano)}
	if d.Status != "" {
		meta["status"] = string(d.Status)
	}
	if d.Zone != "" {
		meta["zone"] = d.Zone
	}
	for i := 0; i < attempts; i++ {
		if err := rc.GeoAdd(ctx, geoKey, &redis.GeoLocation{Longitude: d.Loc.Lon, Latitude: d.Loc.Lat, Name: d.ID}); err != nil {
			if i == attempts-1 {
				return err
			}
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
			delay *= 2
			continue
		}
		if err := rc.HSet(ctx, geo.MetaKey(d.ID), meta); err != nil {
			if i == attempts-1 {
				return err
			}
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
			delay *= 2
			continue
		}
		return nil
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
