package realtime

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/rides"
)

// Inbound intents.
const (
	IntentRequest     = "ride:request"
	IntentAccept      = "ride:accept"
	IntentUpdate      = "ride:update"
	IntentStart       = "ride:start"
	IntentEnd         = "ride:end"
	IntentCancel      = "ride:cancel"
	IntentSubscribe   = "ride:subscribe"
	IntentUnsubscribe = "ride:unsubscribe"
)

type requestIntent struct {
	PassengerID string `json:"passengerId"`
	Pickup      string `json:"pickup"`
	Drop        string `json:"drop"`
}

type acceptIntent struct {
	RideID   string `json:"rideId"`
	DriverID string `json:"driverId"`
}

type updateIntent struct {
	RideID string   `json:"rideId"`
	Lat    *float64 `json:"lat"`
	Lng    *float64 `json:"lng"`
}

type rideIntent struct {
	RideID string   `json:"rideId"`
	Fare   *float64 `json:"fare"`
}

// Handler turns inbound intents into lifecycle operations.
type Handler struct {
	Hub       *Hub
	Rides     *rides.Manager
	Arbiter   *rides.Arbiter
	Locations ingest.Sink // optional; records driver fixes from ride:update
	Logger    *slog.Logger

	// AllowedOrigin restricts browser upgrades. Empty or "*" allows any.
	AllowedOrigin string
}

// Handle executes one intent. Failures are answered with an error event on
// the originating channel and never affect other channels.
func (h *Handler) Handle(ctx context.Context, c *Client, f Frame) {
	var err error
	switch f.Event {
	case IntentRequest:
		err = h.request(ctx, c, f.Data)
	case IntentAccept:
		err = h.accept(ctx, c, f.Data)
	case IntentUpdate:
		err = h.update(ctx, c, f.Data)
	case IntentStart, IntentEnd, IntentCancel:
		err = h.progress(ctx, f.Event, f.Data)
	case IntentSubscribe, IntentUnsubscribe:
		err = h.subscribe(c, f.Event, f.Data)
	default:
		err = errs.Validation("event", "unknown event")
	}
	if err != nil {
		h.fail(c, f.Event, message(err))
	}
}

func (h *Handler) request(ctx context.Context, c *Client, data json.RawMessage) error {
	var in requestIntent
	if err := decode(data, &in); err != nil {
		return err
	}
	if strings.TrimSpace(in.PassengerID) == "" {
		in.PassengerID = c.UserID
	}
	r, err := h.Rides.RequestRide(ctx, in.PassengerID, in.Pickup, in.Drop)
	if err != nil {
		return err
	}
	h.Hub.JoinRide(c, r.ID)
	// The manager addresses ride:requested to the passenger's user group; a
	// channel requesting on someone else's behalf still gets its answer.
	if c.UserID != r.PassengerID {
		h.Hub.Send(c, events.RideRequested, r)
	}
	return nil
}

func (h *Handler) accept(ctx context.Context, c *Client, data json.RawMessage) error {
	var in acceptIntent
	if err := decode(data, &in); err != nil {
		return err
	}
	if strings.TrimSpace(in.DriverID) == "" {
		in.DriverID = c.UserID
	}
	res, err := h.Arbiter.AcceptRide(ctx, in.RideID, in.DriverID)
	if err != nil {
		return err
	}
	if !res.Success {
		return res.Err()
	}
	h.Hub.JoinRide(c, res.Ride.ID)
	return nil
}

// update fans a driver's position out to the ride's subscribers, then records
// it. Recording failures are logged only.
func (h *Handler) update(ctx context.Context, c *Client, data json.RawMessage) error {
	var in updateIntent
	if err := decode(data, &in); err != nil {
		return err
	}
	switch {
	case strings.TrimSpace(in.RideID) == "":
		return errs.Validation("rideId", "is required")
	case in.Lat == nil || in.Lng == nil || !geo.ValidCoordinates(*in.Lat, *in.Lng):
		return errs.Validation("lat/lng", "valid coordinates are required")
	}
	h.Hub.Publish(ctx, events.Event{
		Name:     events.Location(in.RideID),
		Payload:  events.LocationPayload{Lat: *in.Lat, Lng: *in.Lng},
		Audience: events.Audience{Rides: []string{in.RideID}},
	})

	if c.Role != events.RoleDriver || c.UserID == "" || h.Locations == nil {
		return nil
	}
	loc := models.DriverLocation{DriverID: c.UserID, Lat: *in.Lat, Lng: *in.Lng, At: time.Now().UTC()}
	if err := h.Locations.PublishLocation(ctx, loc); err != nil {
		h.Logger.Warn("driver location not recorded", "driver_id", c.UserID, "ride_id", in.RideID, "error", err)
	}
	return nil
}

func (h *Handler) progress(ctx context.Context, intent string, data json.RawMessage) error {
	var in rideIntent
	if err := decode(data, &in); err != nil {
		return err
	}
	if strings.TrimSpace(in.RideID) == "" {
		return errs.Validation("rideId", "is required")
	}
	var err error
	switch intent {
	case IntentStart:
		_, err = h.Rides.Start(ctx, in.RideID)
	case IntentEnd:
		_, err = h.Rides.Complete(ctx, in.RideID, in.Fare)
	case IntentCancel:
		_, err = h.Rides.Cancel(ctx, in.RideID)
	}
	return err
}

func (h *Handler) subscribe(c *Client, intent string, data json.RawMessage) error {
	var in rideIntent
	if err := decode(data, &in); err != nil {
		return err
	}
	if strings.TrimSpace(in.RideID) == "" {
		return errs.Validation("rideId", "is required")
	}
	if intent == IntentSubscribe {
		h.Hub.JoinRide(c, in.RideID)
	} else {
		h.Hub.LeaveRide(c, in.RideID)
	}
	return nil
}

func (h *Handler) fail(c *Client, intent, msg string) {
	label := intent
	if !knownIntent(intent) {
		label = "unknown"
	}
	observability.IntentErrors.WithLabelValues(label).Inc()
	h.Hub.Send(c, events.Error, events.ErrorPayload{Event: intent, Message: msg})
}

func knownIntent(name string) bool {
	switch name {
	case IntentRequest, IntentAccept, IntentUpdate, IntentStart, IntentEnd, IntentCancel, IntentSubscribe, IntentUnsubscribe:
		return true
	}
	return false
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errs.Validation("data", "is required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errs.Validation("data", "malformed payload")
	}
	return nil
}

// message renders err for a client. Store failures are not described.
func message(err error) string {
	var se *errs.StoreError
	if errors.As(err, &se) {
		return "internal error"
	}
	return err.Error()
}
