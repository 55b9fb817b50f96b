package models

import "time"

type RideStatus string

const (
	StatusPending    RideStatus = "pending"
	StatusRequested  RideStatus = "requested"
	StatusAccepted   RideStatus = "accepted"
	StatusInProgress RideStatus = "in_progress"
	StatusCompleted  RideStatus = "completed"
	StatusCanceled   RideStatus = "canceled"
)

// Valid reports whether s is one of the known ride statuses.
func (s RideStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRequested, StatusAccepted, StatusInProgress, StatusCompleted, StatusCanceled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s.
func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// HasDriver reports whether a ride in status s must have a bound driver.
func (s RideStatus) HasDriver() bool {
	return s == StatusAccepted || s == StatusInProgress || s == StatusCompleted
}

type Ride struct {
	ID          string     `json:"id" db:"id"`
	PassengerID string     `json:"passenger_id" db:"passenger_id"`
	DriverID    *string    `json:"driver_id" db:"driver_id"`
	Pickup      string     `json:"pickup_location" db:"pickup_location"`
	Drop        string     `json:"drop_location" db:"drop_location"`
	Fare        *float64   `json:"fare" db:"fare"`
	Status      RideStatus `json:"status" db:"status"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty" db:"accepted_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy so callers never share pointer fields with a store.
func (r *Ride) Clone() *Ride {
	if r == nil {
		return nil
	}
	c := *r
	if r.DriverID != nil {
		v := *r.DriverID
		c.DriverID = &v
	}
	if r.Fare != nil {
		v := *r.Fare
		c.Fare = &v
	}
	if r.AcceptedAt != nil {
		v := *r.AcceptedAt
		c.AcceptedAt = &v
	}
	return &c
}

// RidePatch carries the fields written together with a status change.
type RidePatch struct {
	Status      RideStatus
	DriverID    *string
	ClearDriver bool
	Fare        *float64
	AcceptedAt  *time.Time
}

type Vehicle struct {
	Type   string `json:"type" db:"vehicle_type"`
	Make   string `json:"make" db:"vehicle_make"`
	Model  string `json:"model" db:"vehicle_model"`
	Number string `json:"number" db:"vehicle_number"`
}

type Driver struct {
	ID             string     `json:"id" db:"id"`
	Name           string     `json:"name" db:"name"`
	Phone          string     `json:"phone" db:"phone"`
	Vehicle        Vehicle    `json:"vehicle"`
	Rating         *float64   `json:"rating" db:"rating"`
	IsOnline       bool       `json:"is_online" db:"is_online"`
	IsAvailable    bool       `json:"is_available" db:"is_available"`
	Lat            *float64   `json:"current_latitude" db:"current_latitude"`
	Lng            *float64   `json:"current_longitude" db:"current_longitude"`
	LastLocationAt *time.Time `json:"last_location_update" db:"last_location_update"`
}

// Eligible reports whether the driver can be offered a new ride.
func (d *Driver) Eligible() bool {
	return d != nil && d.IsOnline && d.IsAvailable && d.Lat != nil && d.Lng != nil
}

func (d *Driver) Clone() *Driver {
	if d == nil {
		return nil
	}
	c := *d
	if d.Rating != nil {
		v := *d.Rating
		c.Rating = &v
	}
	if d.Lat != nil {
		v := *d.Lat
		c.Lat = &v
	}
	if d.Lng != nil {
		v := *d.Lng
		c.Lng = &v
	}
	if d.LastLocationAt != nil {
		v := *d.LastLocationAt
		c.LastLocationAt = &v
	}
	return &c
}

// Candidate is a driver annotated with its distance from a query point.
type Candidate struct {
	Driver
	DistanceKm float64 `json:"distance_km"`
}

// DriverLocation is the message shape for live location ingestion.
type DriverLocation struct {
	DriverID string    `json:"driver_id"`
	Lat      float64   `json:"lat"`
	Lng      float64   `json:"lng"`
	At       time.Time `json:"at"`
}

type PaymentMethod string

const (
	MethodCash   PaymentMethod = "cash"
	MethodWallet PaymentMethod = "wallet"
	MethodOnline PaymentMethod = "online"
)

func (m PaymentMethod) Valid() bool {
	return m == MethodCash || m == MethodWallet || m == MethodOnline
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	return s == PaymentPending || s == PaymentPaid || s == PaymentFailed
}

type PaymentRecord struct {
	ID          string        `json:"id" db:"id"`
	RideID      string        `json:"ride_id" db:"ride_id"`
	PassengerID string        `json:"passenger_id" db:"passenger_id"`
	Amount      float64       `json:"amount" db:"amount"`
	Method      PaymentMethod `json:"payment_method" db:"payment_method"`
	Status      PaymentStatus `json:"status" db:"status"`
	ExternalRef string        `json:"external_ref,omitempty" db:"external_ref"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
}
