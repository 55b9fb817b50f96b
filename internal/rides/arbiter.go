package rides

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

const (
	ReasonDriverUnavailable = "driver unavailable"
	ReasonInvalidState      = "ride already accepted or invalid state"
)

type AcceptResult struct {
	Success bool           `json:"success"`
	Ride    *models.Ride   `json:"ride,omitempty"`
	Driver  *models.Driver `json:"driver,omitempty"`
	Reason  string         `json:"reason,omitempty"`
}

// Err returns a ConflictError for a lost or refused acceptance, nil on success.
func (r AcceptResult) Err() error {
	if r.Success {
		return nil
	}
	return &errs.ConflictError{Reason: r.Reason}
}

// Arbiter binds drivers to rides. At most one AcceptRide call can win a ride:
// the binding is a single conditional write keyed on the status read. The
// driver is claimed with its own conditional write first, so a driver is
// bound to at most one open ride.
type Arbiter struct {
	store  storage.Store
	events events.Publisher
	logger *slog.Logger
	now    func() time.Time
}

func NewArbiter(store storage.Store, pub events.Publisher, logger *slog.Logger) *Arbiter {
	if pub == nil {
		pub = events.Nop
	}
	return &Arbiter{store: store, events: pub, logger: logger, now: time.Now}
}

// AcceptRide tries to assign driverID to rideID. Refusals and lost races are
// reported as Success=false with a reason; only store failures and malformed
// input are returned as errors.
func (a *Arbiter) AcceptRide(ctx context.Context, rideID, driverID string) (AcceptResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "rides.AcceptRide",
		trace.WithAttributes(attribute.String("ride.id", rideID), attribute.String("driver.id", driverID)))
	defer span.End()

	rideID, driverID = strings.TrimSpace(rideID), strings.TrimSpace(driverID)
	if rideID == "" {
		return AcceptResult{}, errs.Validation("rideId", "is required")
	}
	if driverID == "" {
		return AcceptResult{}, errs.Validation("driverId", "is required")
	}

	d, err := a.store.GetDriver(ctx, driverID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return a.refuse(rideID, driverID, ReasonDriverUnavailable), nil
	case err != nil:
		return AcceptResult{}, errs.Store("get driver", err)
	case !d.IsOnline || !d.IsAvailable:
		return a.refuse(rideID, driverID, ReasonDriverUnavailable), nil
	}

	r, err := a.store.GetRide(ctx, rideID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return a.refuse(rideID, driverID, ReasonInvalidState), nil
	case err != nil:
		return AcceptResult{}, errs.Store("get ride", err)
	case !AwaitingDriver(r.Status):
		return a.refuse(rideID, driverID, ReasonInvalidState), nil
	}

	// The driver is claimed before the ride so one driver cannot win two
	// rides; a lost ride write hands the claim back.
	switch err := a.store.ClaimDriver(ctx, driverID); {
	case errors.Is(err, storage.ErrDriverUnavailable), errors.Is(err, storage.ErrNotFound):
		return a.refuse(rideID, driverID, ReasonDriverUnavailable), nil
	case err != nil:
		return AcceptResult{}, errs.Store("claim driver", err)
	}
	d.IsAvailable = false

	now := a.now().UTC()
	updated, err := a.store.UpdateRideIf(ctx, rideID, r.Status, models.RidePatch{
		Status:     models.StatusAccepted,
		DriverID:   &driverID,
		AcceptedAt: &now,
	})
	if err != nil {
		a.unclaim(ctx, rideID, driverID)
		if errors.Is(err, storage.ErrStatusMismatch) || errors.Is(err, storage.ErrNotFound) {
			observability.Acceptances.WithLabelValues("conflict").Inc()
			a.logger.Info("acceptance lost race", "ride_id", rideID, "driver_id", driverID)
			return AcceptResult{Reason: ReasonInvalidState}, nil
		}
		return AcceptResult{}, errs.Store("accept ride", err)
	}

	observability.Acceptances.WithLabelValues("accepted").Inc()
	a.logger.Info("ride accepted", "ride_id", rideID, "driver_id", driverID)
	a.events.Publish(ctx, events.Event{
		Name:     events.RideAccepted,
		Payload:  events.AcceptedPayload{Ride: updated, Driver: events.SummarizeDriver(driverID, d)},
		Audience: events.RideParties(updated),
	})
	return AcceptResult{Success: true, Ride: updated, Driver: d}, nil
}

// unclaim makes the driver available again after a lost ride write. A
// failure is logged and leaves the driver unmatchable.
func (a *Arbiter) unclaim(ctx context.Context, rideID, driverID string) {
	if err := a.store.SetDriverAvailability(ctx, driverID, true); err != nil {
		a.logger.Warn("driver claim release failed", "ride_id", rideID, "driver_id", driverID, "error", err)
	}
}

func (a *Arbiter) refuse(rideID, driverID, reason string) AcceptResult {
	observability.Acceptances.WithLabelValues("refused").Inc()
	a.logger.Info("acceptance refused", "ride_id", rideID, "driver_id", driverID, "reason", reason)
	return AcceptResult{Reason: reason}
}
