package rides

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// maxCASAttempts bounds how often Transition re-reads a ride whose status
// moved between the read and the conditional write.
const maxCASAttempts = 3

// Fields are written atomically with a status change.
type Fields struct {
	Fare *float64
}

// HistoryEntry is a ride as shown in a passenger's history.
type HistoryEntry struct {
	models.Ride
	Driver *events.DriverSummary `json:"driver,omitempty"`
}

// Manager owns the ride state machine.
type Manager struct {
	store  storage.Store
	events events.Publisher
	logger *slog.Logger
	now    func() time.Time
}

func NewManager(store storage.Store, pub events.Publisher, logger *slog.Logger) *Manager {
	if pub == nil {
		pub = events.Nop
	}
	return &Manager{store: store, events: pub, logger: logger, now: time.Now}
}

// CreateRide persists a pending ride and announces it to drivers.
func (m *Manager) CreateRide(ctx context.Context, passengerID, pickup, drop string) (*models.Ride, error) {
	ctx, span := observability.Tracer().Start(ctx, "rides.CreateRide")
	defer span.End()

	r, err := m.create(ctx, passengerID, pickup, drop)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("ride.id", r.ID))
	m.events.Publish(ctx, events.Event{Name: events.RideCreated, Payload: r, Audience: events.Drivers()})
	return r, nil
}

// RequestRide creates a ride and immediately marks it requested: drivers get
// ride:new and the passenger gets ride:requested.
func (m *Manager) RequestRide(ctx context.Context, passengerID, pickup, drop string) (*models.Ride, error) {
	ctx, span := observability.Tracer().Start(ctx, "rides.RequestRide")
	defer span.End()

	r, err := m.create(ctx, passengerID, pickup, drop)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("ride.id", r.ID))
	updated, _, err := m.apply(ctx, r.ID, models.StatusRequested, Fields{})
	if err != nil {
		// The pending ride is still acceptable, so report it rather than fail.
		m.logger.Warn("ride stayed pending", "ride_id", r.ID, "error", err)
		updated = r
	}
	m.events.Publish(ctx, events.Event{Name: events.RideNew, Payload: updated, Audience: events.Drivers()})
	m.events.Publish(ctx, events.Event{Name: events.RideRequested, Payload: updated, Audience: events.Audience{Users: []string{passengerID}}})
	return updated, nil
}

func (m *Manager) create(ctx context.Context, passengerID, pickup, drop string) (*models.Ride, error) {
	passengerID, pickup, drop = strings.TrimSpace(passengerID), strings.TrimSpace(pickup), strings.TrimSpace(drop)
	switch {
	case passengerID == "":
		return nil, errs.Validation("passengerId", "is required")
	case pickup == "":
		return nil, errs.Validation("pickup", "is required")
	case drop == "":
		return nil, errs.Validation("drop", "is required")
	}
	now := m.now().UTC()
	r := &models.Ride{
		ID:          uuid.NewString(),
		PassengerID: passengerID,
		Pickup:      pickup,
		Drop:        drop,
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.CreateRide(ctx, r); err != nil {
		return nil, errs.Store("create ride", err)
	}
	observability.RidesCreated.Inc()
	m.logger.Info("ride created", "ride_id", r.ID, "passenger_id", passengerID)
	return r, nil
}

func (m *Manager) Get(ctx context.Context, rideID string) (*models.Ride, error) {
	r, err := m.store.GetRide(ctx, rideID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("ride", rideID)
		}
		return nil, errs.Store("get ride", err)
	}
	return r, nil
}

// Transition moves a ride to target, writing fields in the same conditional
// update, and announces the change to the ride's parties. Acceptance is not a
// Transition: it binds a driver and goes through Arbiter.
func (m *Manager) Transition(ctx context.Context, rideID string, target models.RideStatus, fields Fields) (*models.Ride, error) {
	ctx, span := observability.Tracer().Start(ctx, "rides.Transition",
		trace.WithAttributes(attribute.String("ride.id", rideID), attribute.String("ride.target", string(target))))
	defer span.End()

	updated, prev, err := m.apply(ctx, rideID, target, fields)
	if err != nil {
		observability.RideTransitions.WithLabelValues(string(target), "rejected").Inc()
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	observability.RideTransitions.WithLabelValues(string(target), "applied").Inc()

	if target.Terminal() && prev.DriverID != nil {
		m.releaseDriver(ctx, *prev.DriverID, rideID)
	}
	m.announce(ctx, prev, updated)
	return updated, nil
}

func (m *Manager) Start(ctx context.Context, rideID string) (*models.Ride, error) {
	return m.Transition(ctx, rideID, models.StatusInProgress, Fields{})
}

func (m *Manager) Complete(ctx context.Context, rideID string, fare *float64) (*models.Ride, error) {
	return m.Transition(ctx, rideID, models.StatusCompleted, Fields{Fare: fare})
}

func (m *Manager) Cancel(ctx context.Context, rideID string) (*models.Ride, error) {
	return m.Transition(ctx, rideID, models.StatusCanceled, Fields{})
}

// apply validates and commits the transition, returning the updated ride and
// the ride as it was just before the write.
func (m *Manager) apply(ctx context.Context, rideID string, target models.RideStatus, fields Fields) (*models.Ride, *models.Ride, error) {
	if !target.Valid() {
		return nil, nil, errs.Validation("status", fmt.Sprintf("unknown status %q", target))
	}
	if err := validateFields(target, fields); err != nil {
		return nil, nil, err
	}

	for attempt := 0; ; attempt++ {
		cur, err := m.Get(ctx, rideID)
		if err != nil {
			return nil, nil, err
		}
		// accepted binds a driver and is only reachable through Arbiter.
		if target == models.StatusAccepted || !CanTransition(cur.Status, target) {
			return nil, nil, &errs.InvalidTransitionError{From: string(cur.Status), To: string(target)}
		}
		patch := models.RidePatch{Status: target, Fare: fields.Fare, ClearDriver: target == models.StatusCanceled}
		updated, err := m.store.UpdateRideIf(ctx, rideID, cur.Status, patch)
		switch {
		case err == nil:
			m.logger.Info("ride transitioned", "ride_id", rideID, "from", cur.Status, "to", target)
			return updated, cur, nil
		case errors.Is(err, storage.ErrNotFound):
			return nil, nil, errs.NotFound("ride", rideID)
		case errors.Is(err, storage.ErrStatusMismatch):
			if attempt+1 >= maxCASAttempts {
				return nil, nil, &errs.ConflictError{Reason: "ride changed concurrently, retry"}
			}
			continue
		default:
			return nil, nil, errs.Store("update ride", err)
		}
	}
}

func validateFields(target models.RideStatus, f Fields) error {
	if f.Fare == nil {
		return nil
	}
	if target != models.StatusCompleted {
		return errs.Validation("fare", "only allowed when completing a ride")
	}
	if math.IsNaN(*f.Fare) || math.IsInf(*f.Fare, 0) || *f.Fare < 0 {
		return errs.Validation("fare", "must be a non-negative number")
	}
	return nil
}

// releaseDriver marks the driver available again after a ride ends. A failure
// is logged, not retried.
func (m *Manager) releaseDriver(ctx context.Context, driverID, rideID string) {
	if err := m.store.SetDriverAvailability(ctx, driverID, true); err != nil {
		m.logger.Warn("driver release failed", "ride_id", rideID, "driver_id", driverID, "error", err)
	}
}

func (m *Manager) announce(ctx context.Context, prev, updated *models.Ride) {
	audience := events.RideParties(prev)
	switch updated.Status {
	case models.StatusRequested:
		m.events.Publish(ctx, events.Event{Name: events.RideRequested, Payload: updated, Audience: audience})
	case models.StatusInProgress:
		m.events.Publish(ctx, events.Event{Name: events.RideStarted, Payload: updated, Audience: audience})
	case models.StatusCompleted:
		m.events.Publish(ctx, events.Event{Name: events.RideCompleted, Payload: updated, Audience: audience})
		m.events.Publish(ctx, events.Event{
			Name:     events.RideFare,
			Payload:  events.FarePayload{RideID: updated.ID, Fare: updated.Fare},
			Audience: audience,
		})
	case models.StatusCanceled:
		m.events.Publish(ctx, events.Event{Name: events.RideCanceled, Payload: updated, Audience: audience})
	}
}

// History returns the passenger's rides, newest first, with a driver summary
// for every ride that has a driver bound.
func (m *Manager) History(ctx context.Context, passengerID string) ([]HistoryEntry, error) {
	passengerID = strings.TrimSpace(passengerID)
	if passengerID == "" {
		return nil, errs.Validation("passengerId", "is required")
	}
	rides, err := m.store.ListRidesByPassenger(ctx, passengerID)
	if err != nil {
		return nil, errs.Store("list rides", err)
	}
	summaries := make(map[string]events.DriverSummary)
	out := make([]HistoryEntry, 0, len(rides))
	for _, r := range rides {
		e := HistoryEntry{Ride: r}
		if r.DriverID != nil {
			s, ok := summaries[*r.DriverID]
			if !ok {
				d, err := m.store.GetDriver(ctx, *r.DriverID)
				if err != nil && !errors.Is(err, storage.ErrNotFound) {
					return nil, errs.Store("get driver", err)
				}
				s = events.SummarizeDriver(*r.DriverID, d)
				summaries[*r.DriverID] = s
			}
			e.Driver = &s
		}
		out = append(out, e)
	}
	return out, nil
}
