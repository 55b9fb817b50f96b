package geo

import (
	"math"
	"testing"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineOneDegreeLatitude(t *testing.T) {
	d := Haversine(0, 0, 1, 0)
	if math.Abs(d-111195) > 100 {
		t.Fatalf("expected ~111.2km, got %f", d)
	}
}

func TestValidCoordinates(t *testing.T) {
	cases := []struct {
		lat, lng float64
		ok       bool
	}{
		{12.97, 77.59, true},
		{-90, 180, true},
		{91, 0, false},
		{0, -181, false},
		{math.NaN(), 0, false},
	}
	for _, c := range cases {
		if got := ValidCoordinates(c.lat, c.lng); got != c.ok {
			t.Fatalf("ValidCoordinates(%v, %v) = %v, want %v", c.lat, c.lng, got, c.ok)
		}
	}
}
