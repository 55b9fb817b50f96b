package matcher

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

const DefaultRadiusKm = 10.0

// Coordinator finds drivers eligible for a pickup. It holds no mutable state.
type Coordinator struct {
	Drivers         storage.Drivers
	Locator         geo.Locator // optional live position index
	Limit           int
	DefaultRadiusKm float64
	Logger          *slog.Logger
}

// FindNearby returns online, available, located drivers within radiusKm of
// (lat, lng), nearest first. A non-positive radius uses the default.
func (c *Coordinator) FindNearby(ctx context.Context, lat, lng, radiusKm float64) ([]models.Candidate, error) {
	start := time.Now()
	defer func() { observability.NearbyLatency.Observe(time.Since(start).Seconds()) }()

	if !geo.ValidCoordinates(lat, lng) {
		return nil, errs.Validation("lat/lng", "coordinates out of range")
	}
	if radiusKm <= 0 {
		radiusKm = c.DefaultRadiusKm
		if radiusKm <= 0 {
			radiusKm = DefaultRadiusKm
		}
	}

	var (
		cands []models.Candidate
		err   error
	)
	if c.Locator != nil {
		cands, err = c.fromLocator(ctx, lat, lng, radiusKm)
		if err != nil {
			c.logger().Warn("geo index query failed, falling back to store", "error", err)
			cands, err = c.Drivers.NearbyDrivers(ctx, lat, lng, radiusKm)
		}
	} else {
		cands, err = c.Drivers.NearbyDrivers(ctx, lat, lng, radiusKm)
	}
	if err != nil {
		return nil, errs.Store("nearby drivers", err)
	}

	out := make([]models.Candidate, 0, len(cands))
	for _, cand := range cands {
		if cand.Eligible() && cand.DistanceKm <= radiusKm {
			out = append(out, cand)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	if c.Limit > 0 && len(out) > c.Limit {
		out = out[:c.Limit]
	}
	observability.NearbyResults.Observe(float64(len(out)))
	return out, nil
}

// fromLocator resolves index hits against the store, which stays the source
// of truth for the online and available flags.
func (c *Coordinator) fromLocator(ctx context.Context, lat, lng, radiusKm float64) ([]models.Candidate, error) {
	hits, err := c.Locator.Within(ctx, lat, lng, radiusKm, 0)
	if err != nil {
		return nil, err
	}
	out := make([]models.Candidate, 0, len(hits))
	for _, h := range hits {
		d, err := c.Drivers.GetDriver(ctx, h.DriverID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, models.Candidate{Driver: *d, DistanceKm: h.DistanceKm})
	}
	return out, nil
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
