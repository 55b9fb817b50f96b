// Package events defines lifecycle event names, their audiences and the
// payload shapes sent to connected clients.
package events

import (
	"context"

	"github.com/example/ride-dispatch/internal/models"
)

const (
	RideCreated   = "ride:created"
	RideNew       = "ride:new"
	RideRequested = "ride:requested"
	RideAccepted  = "ride:accepted"
	RideStarted   = "ride:started"
	RideCompleted = "ride:completed"
	RideFare      = "ride:fare"
	RideCanceled  = "ride:canceled"
	Error         = "error"
)

// Location is the per-ride location event name.
func Location(rideID string) string { return "ride:" + rideID + ":location" }

type Role string

const (
	RolePassenger Role = "passenger"
	RoleDriver    Role = "driver"
)

// Audience selects the channels an event is delivered to. Every non-empty
// field adds recipients; a channel matched more than once receives the event
// once.
type Audience struct {
	Roles   []Role
	Users   []string
	Rides   []string
	Channel string
}

func (a Audience) Empty() bool {
	return len(a.Roles) == 0 && len(a.Users) == 0 && len(a.Rides) == 0 && a.Channel == ""
}

type Event struct {
	Name     string
	Payload  any
	Audience Audience
}

// Publisher delivers events to connected clients. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, e Event)

func (f PublisherFunc) Publish(ctx context.Context, e Event) { f(ctx, e) }

// Nop drops every event.
var Nop Publisher = PublisherFunc(func(context.Context, Event) {})

// RideParties addresses the passenger, the bound driver and the ride's
// subscribers.
func RideParties(r *models.Ride) Audience {
	a := Audience{Users: []string{r.PassengerID}, Rides: []string{r.ID}}
	if r.DriverID != nil {
		a.Users = append(a.Users, *r.DriverID)
	}
	return a
}

func Drivers() Audience { return Audience{Roles: []Role{RoleDriver}} }

// FarePayload carries a null fare when the ride was completed without one.
type FarePayload struct {
	RideID string   `json:"rideId"`
	Fare   *float64 `json:"fare"`
}

type LocationPayload struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type ErrorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// AcceptedPayload is the ride:accepted body: the ride plus who is coming.
type AcceptedPayload struct {
	*models.Ride
	Driver DriverSummary `json:"driver"`
}
