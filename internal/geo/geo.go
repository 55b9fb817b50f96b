package geo

import (
	"context"
	"math"

	"github.com/example/ride-dispatch/internal/models"
)

// Hit is a driver id found by a radius query.
type Hit struct {
	DriverID   string
	DistanceKm float64
}

// Locator is a live driver position index. RedisGeo is the production one.
type Locator interface {
	Upsert(ctx context.Context, loc models.DriverLocation) error
	Remove(ctx context.Context, driverID string) error
	// Within returns hits ordered by ascending distance. limit <= 0 means no limit.
	Within(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]Hit, error)
}

// ValidCoordinates reports whether lat/lng are finite and within WGS84 bounds.
func ValidCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
