package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

var (
	// ErrNotFound is returned when the referenced record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStatusMismatch is returned by UpdateRideIf when the stored status no
	// longer equals the expected one.
	ErrStatusMismatch = errors.New("ride status changed concurrently")
	// ErrDriverUnavailable is returned by ClaimDriver when the driver is
	// offline or already claimed.
	ErrDriverUnavailable = errors.New("driver not available")
)

// Rides is the ride half of the store.
type Rides interface {
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	// UpdateRideIf applies patch only if the ride's stored status still equals
	// expected at write time. It returns the updated ride.
	UpdateRideIf(ctx context.Context, id string, expected models.RideStatus, patch models.RidePatch) (*models.Ride, error)
	// ListRidesByPassenger returns rides ordered by creation time, newest first.
	ListRidesByPassenger(ctx context.Context, passengerID string) ([]models.Ride, error)
}

// Drivers is the driver half of the store, including the geo query.
type Drivers interface {
	UpsertDriver(ctx context.Context, d *models.Driver) error
	GetDriver(ctx context.Context, id string) (*models.Driver, error)
	SetDriverAvailability(ctx context.Context, id string, available bool) error
	// ClaimDriver marks an online, available driver unavailable in one
	// conditional write. At most one concurrent claim succeeds.
	ClaimDriver(ctx context.Context, id string) error
	SetDriverOnline(ctx context.Context, id string, online bool) (*models.Driver, error)
	UpdateDriverLocation(ctx context.Context, id string, lat, lng float64, at time.Time) error
	// NearbyDrivers returns online, available, located drivers within
	// radiusKm of (lat, lng), ordered by ascending distance.
	NearbyDrivers(ctx context.Context, lat, lng, radiusKm float64) ([]models.Candidate, error)
}

type Payments interface {
	CreatePayment(ctx context.Context, p *models.PaymentRecord) error
	GetPayment(ctx context.Context, id string) (*models.PaymentRecord, error)
	UpdatePaymentStatus(ctx context.Context, id string, status models.PaymentStatus) (*models.PaymentRecord, error)
}

// Store is the durable persistence boundary for rides, drivers and payments.
type Store interface {
	Rides
	Drivers
	Payments
}

// applyPatch writes patch onto r in place. Shared by the store implementations.
func applyPatch(r *models.Ride, patch models.RidePatch, now time.Time) {
	r.Status = patch.Status
	if patch.ClearDriver {
		r.DriverID = nil
	} else if patch.DriverID != nil {
		v := *patch.DriverID
		r.DriverID = &v
	}
	if patch.Fare != nil {
		v := *patch.Fare
		r.Fare = &v
	}
	if patch.AcceptedAt != nil {
		v := *patch.AcceptedAt
		r.AcceptedAt = &v
	}
	r.UpdatedAt = now
}
