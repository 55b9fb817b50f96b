package geo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
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

func (r *RedisGeo) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisGeo) Close() error { return r.client.Close() }

func (r *RedisGeo) Upsert(ctx context.Context, loc models.DriverLocation) error {
	// GEOADD for the position, a hash for when it was last seen
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: loc.Lng, Latitude: loc.Lat, Name: loc.DriverID}).Err(); err != nil {
		return err
	}
	at := loc.At
	if at.IsZero() {
		at = time.Now()
	}
	return r.client.HSet(ctx, metaKey(loc.DriverID), "updated", at.UTC().Format(time.RFC3339)).Err()
}

func (r *RedisGeo) Remove(ctx context.Context, driverID string) error {
	if err := r.client.ZRem(ctx, r.key, driverID).Err(); err != nil {
		return err
	}
	return r.client.Del(ctx, metaKey(driverID)).Err()
}

func (r *RedisGeo) Within(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]Hit, error) {
	q := &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  lng,
			Latitude:   lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithDist: true,
	}
	res, err := r.client.GeoSearchLocation(ctx, r.key, q).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Hit, 0, len(res))
	for _, g := range res {
		out = append(out, Hit{DriverID: g.Name, DistanceKm: g.Dist})
	}
	return out, nil
}

func metaKey(id string) string { return "driver:meta:" + id }
