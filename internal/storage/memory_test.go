package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

func fptr(v float64) *float64 { return &v }

func TestMemoryUpdateRideIfSingleWinner(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_ = m.CreateRide(ctx, &models.Ride{ID: "r1", PassengerID: "P1", Status: models.StatusPending, CreatedAt: time.Now()})

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("D%d", i)
			_, err := m.UpdateRideIf(ctx, "r1", models.StatusPending, models.RidePatch{Status: models.StatusAccepted, DriverID: &id})
			if err == nil {
				atomic.AddInt32(&wins, 1)
			} else if !errors.Is(err, ErrStatusMismatch) {
				t.Errorf("unexpected err: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestMemoryGetRideReturnsCopy(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_ = m.CreateRide(ctx, &models.Ride{ID: "r1", Status: models.StatusPending})
	r, _ := m.GetRide(ctx, "r1")
	r.Status = models.StatusCompleted
	again, _ := m.GetRide(ctx, "r1")
	if again.Status != models.StatusPending {
		t.Fatalf("store state leaked through returned pointer")
	}
}

func TestMemoryListRidesByPassengerNewestFirst(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		_ = m.CreateRide(ctx, &models.Ride{ID: id, PassengerID: "P1", Status: models.StatusPending, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	_ = m.CreateRide(ctx, &models.Ride{ID: "x", PassengerID: "P2", CreatedAt: base})

	rides, err := m.ListRidesByPassenger(ctx, "P1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(rides) != 3 || rides[0].ID != "c" || rides[2].ID != "a" {
		t.Fatalf("unexpected order: %+v", rides)
	}
}

func TestMemoryNearbyDriversFiltersAndSorts(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	drivers := []*models.Driver{
		{ID: "far", IsOnline: true, IsAvailable: true, Lat: fptr(12.99), Lng: fptr(77.6)},
		{ID: "near", IsOnline: true, IsAvailable: true, Lat: fptr(12.901), Lng: fptr(77.6)},
		{ID: "offline", IsOnline: false, IsAvailable: true, Lat: fptr(12.9), Lng: fptr(77.6)},
		{ID: "busy", IsOnline: true, IsAvailable: false, Lat: fptr(12.9), Lng: fptr(77.6)},
		{ID: "nowhere", IsOnline: true, IsAvailable: true},
		{ID: "outside", IsOnline: true, IsAvailable: true, Lat: fptr(13.5), Lng: fptr(77.6)},
	}
	for _, d := range drivers {
		_ = m.UpsertDriver(ctx, d)
	}

	got, err := m.NearbyDrivers(ctx, 12.9, 77.6, 20)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(got) != 2 || got[0].ID != "near" || got[1].ID != "far" {
		t.Fatalf("unexpected candidates: %+v", got)
	}
	if got[0].DistanceKm > got[1].DistanceKm {
		t.Fatalf("candidates not sorted by distance")
	}
}

func TestMemoryDriverWritesOnMissingDriver(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	if err := m.SetDriverAvailability(ctx, "nope", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := m.UpdateDriverLocation(ctx, "nope", 1, 2, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryClaimDriverSingleWinner(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	if err := m.UpsertDriver(ctx, &models.Driver{ID: "D1", IsOnline: true, IsAvailable: true}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	const n = 16
	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.ClaimDriver(ctx, "D1")
			switch {
			case err == nil:
				wins.Add(1)
			case !errors.Is(err, ErrDriverUnavailable):
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one claim, got %d", wins.Load())
	}
	d, _ := m.GetDriver(ctx, "D1")
	if d.IsAvailable {
		t.Fatalf("claimed driver still available")
	}
	if err := m.ClaimDriver(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
