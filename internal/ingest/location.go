// Package ingest moves driver location fixes from clients to the driver store
// and the live geo index, either directly or through Kafka.
package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

var ErrInvalidLocation = errors.New("invalid driver location")

// Sink accepts a driver location fix.
type Sink interface {
	PublishLocation(ctx context.Context, loc models.DriverLocation) error
}

// Normalize validates loc and fills a missing timestamp.
func Normalize(loc *models.DriverLocation, now time.Time) error {
	loc.DriverID = strings.TrimSpace(loc.DriverID)
	if loc.DriverID == "" || !geo.ValidCoordinates(loc.Lat, loc.Lng) {
		return ErrInvalidLocation
	}
	if loc.At.IsZero() {
		loc.At = now.UTC()
	}
	return nil
}

// Decode parses a Kafka message value.
func Decode(b []byte) (models.DriverLocation, error) {
	var loc models.DriverLocation
	if err := json.Unmarshal(b, &loc); err != nil {
		return loc, err
	}
	if err := Normalize(&loc, time.Now()); err != nil {
		return loc, err
	}
	return loc, nil
}

// Direct writes fixes straight to the store and the geo index, skipping
// whichever is nil. The server uses it when Kafka is not configured and the
// consumer uses it to apply what it reads.
type Direct struct {
	Drivers storage.Drivers
	Locator geo.Locator
}

func (d *Direct) PublishLocation(ctx context.Context, loc models.DriverLocation) error {
	if d.Drivers != nil {
		if err := d.Drivers.UpdateDriverLocation(ctx, loc.DriverID, loc.Lat, loc.Lng, loc.At); err != nil {
			return err
		}
	}
	if d.Locator != nil {
		return d.Locator.Upsert(ctx, loc)
	}
	return nil
}

// Fanout hands each fix to every sink in order, even after one fails. The
// errors are joined.
type Fanout []Sink

func (f Fanout) PublishLocation(ctx context.Context, loc models.DriverLocation) error {
	var errs []error
	for _, s := range f {
		if err := s.PublishLocation(ctx, loc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
