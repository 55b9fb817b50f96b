package events

import (
	"strings"

	"github.com/example/ride-dispatch/internal/models"
)

// Fallbacks used when a driver record is missing a field. Every event that
// carries driver details goes through SummarizeDriver so clients never see
// empty strings or a null rating.
const (
	DefaultDriverName    = "Driver"
	DefaultDriverPhone   = "Not available"
	DefaultVehicleType   = "Standard"
	DefaultVehicleMake   = "Unknown"
	DefaultVehicleModel  = "Unknown"
	DefaultVehicleNumber = "N/A"
	DefaultDriverRating  = 5.0
)

type DriverSummary struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Phone   string         `json:"phone"`
	Vehicle models.Vehicle `json:"vehicle"`
	Rating  float64        `json:"rating"`
}

// SummarizeDriver builds the client-facing driver summary, applying the
// fallback for every missing field. A nil driver yields an all-default
// summary carrying id.
func SummarizeDriver(id string, d *models.Driver) DriverSummary {
	s := DriverSummary{
		ID:    id,
		Name:  DefaultDriverName,
		Phone: DefaultDriverPhone,
		Vehicle: models.Vehicle{
			Type:   DefaultVehicleType,
			Make:   DefaultVehicleMake,
			Model:  DefaultVehicleModel,
			Number: DefaultVehicleNumber,
		},
		Rating: DefaultDriverRating,
	}
	if d == nil {
		return s
	}
	s.ID = d.ID
	s.Name = orDefault(d.Name, s.Name)
	s.Phone = orDefault(d.Phone, s.Phone)
	s.Vehicle.Type = orDefault(d.Vehicle.Type, s.Vehicle.Type)
	s.Vehicle.Make = orDefault(d.Vehicle.Make, s.Vehicle.Make)
	s.Vehicle.Model = orDefault(d.Vehicle.Model, s.Vehicle.Model)
	s.Vehicle.Number = orDefault(d.Vehicle.Number, s.Vehicle.Number)
	if d.Rating != nil {
		s.Rating = *d.Rating
	}
	return s
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
