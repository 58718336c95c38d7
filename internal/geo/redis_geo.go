package geo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/dispatch-engine/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisGeo implements Locator using Redis GEO commands.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key}
}

func (r *RedisGeo) Upsert(ctx context.Context, p Position) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: p.Loc.Lon, Latitude: p.Loc.Lat, Name: p.DriverID}).Result(); err != nil {
		return fmt.Errorf("geo.Upsert geoadd: %w", err)
	}
	if err := r.client.HSet(ctx, MetaKey(p.DriverID), map[string]interface{}{"updated": p.UpdatedAt.UTC().Format(time.RFC3339Nano)}).Err(); err != nil {
		return fmt.Errorf("geo.Upsert hset: %w", err)
	}
	return nil
}

func (r *RedisGeo) Positions(ctx context.Context, driverIDs []string) (map[string]Position, error) {
	out := make(map[string]Position, len(driverIDs))
	if len(driverIDs) == 0 {
		return out, nil
	}
	res, err := r.client.GeoPos(ctx, r.key, driverIDs...).Result()
	if err != nil {
		return nil, fmt.Errorf("geo.Positions geopos: %w", err)
	}
	pipe := r.client.Pipeline()
	updated := make([]*redis.StringCmd, len(driverIDs))
	for i, id := range driverIDs {
		updated[i] = pipe.HGet(ctx, MetaKey(id), "updated")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("geo.Positions meta: %w", err)
	}
	for i, g := range res {
		if g == nil {
			continue
		}
		p := Position{DriverID: driverIDs[i], Loc: models.Coord{Lat: g.Latitude, Lon: g.Longitude}}
		if v, err := updated[i].Result(); err == nil {
			if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
				p.UpdatedAt = ts
			}
		}
		out[p.DriverID] = p
	}
	return out, nil
}

func (r *RedisGeo) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisGeo) Close() error { return r.client.Close() }

// MetaKey is the hash holding per-driver metadata next to the GEO set.
func MetaKey(id string) string { return "driver:meta:" + id }
