package events

import (
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

func TestSummarizeDriverFallbacks(t *testing.T) {
	s := SummarizeDriver("D1", &models.Driver{ID: "D1", Name: "  ", Vehicle: models.Vehicle{Make: "Maruti"}})
	if s.Name != DefaultDriverName || s.Phone != DefaultDriverPhone {
		t.Fatalf("expected name/phone fallbacks, got %+v", s)
	}
	if s.Vehicle.Make != "Maruti" || s.Vehicle.Model != DefaultVehicleModel || s.Vehicle.Number != DefaultVehicleNumber {
		t.Fatalf("unexpected vehicle: %+v", s.Vehicle)
	}
	if s.Rating != DefaultDriverRating {
		t.Fatalf("expected default rating, got %v", s.Rating)
	}
}

func TestSummarizeDriverKeepsValues(t *testing.T) {
	r := 4.2
	d := &models.Driver{ID: "D2", Name: "Ravi", Phone: "999", Rating: &r,
		Vehicle: models.Vehicle{Type: "auto", Make: "Bajaj", Model: "RE", Number: "KA05"}}
	s := SummarizeDriver("D2", d)
	if s.Name != "Ravi" || s.Phone != "999" || s.Rating != 4.2 || s.Vehicle.Number != "KA05" {
		t.Fatalf("unexpected summary: %+v", s)
	}
}

func TestSummarizeDriverNil(t *testing.T) {
	s := SummarizeDriver("D3", nil)
	if s.ID != "D3" || s.Name != DefaultDriverName {
		t.Fatalf("unexpected summary: %+v", s)
	}
}

func TestRidePartiesIncludesBoundDriver(t *testing.T) {
	d := "D1"
	a := RideParties(&models.Ride{ID: "r1", PassengerID: "P1", DriverID: &d})
	if len(a.Users) != 2 || a.Users[0] != "P1" || a.Users[1] != "D1" || a.Rides[0] != "r1" {
		t.Fatalf("unexpected audience: %+v", a)
	}
	a = RideParties(&models.Ride{ID: "r2", PassengerID: "P2"})
	if len(a.Users) != 1 {
		t.Fatalf("unexpected audience: %+v", a)
	}
}
