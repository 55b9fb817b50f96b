package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/example/ride-dispatch/internal/models"
)

var rideCols = []string{"id", "passenger_id", "driver_id", "pickup_location", "drop_location", "fare", "status", "created_at", "accepted_at", "updated_at"}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresStoreFromDB(db), mock
}

func TestPostgresUpdateRideIfAppliesWhenStatusMatches(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	driver := "D1"

	mock.ExpectQuery("UPDATE rides SET").
		WithArgs(models.StatusAccepted, false, driver, nil, now, sqlmock.AnyArg(), "r1", models.StatusPending).
		WillReturnRows(sqlmock.NewRows(rideCols).
			AddRow("r1", "P1", driver, "A", "B", nil, "accepted", now, now, now))

	r, err := s.UpdateRideIf(context.Background(), "r1", models.StatusPending, models.RidePatch{
		Status: models.StatusAccepted, DriverID: &driver, AcceptedAt: &now,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if r.Status != models.StatusAccepted || r.DriverID == nil || *r.DriverID != "D1" {
		t.Fatalf("unexpected ride: %+v", r)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresUpdateRideIfReportsMismatch(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("UPDATE rides SET").WillReturnRows(sqlmock.NewRows(rideCols))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := s.UpdateRideIf(context.Background(), "r1", models.StatusPending, models.RidePatch{Status: models.StatusAccepted})
	if !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("expected ErrStatusMismatch, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresUpdateRideIfReportsMissingRide(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("UPDATE rides SET").WillReturnRows(sqlmock.NewRows(rideCols))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := s.UpdateRideIf(context.Background(), "nope", models.StatusPending, models.RidePatch{Status: models.StatusAccepted})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresGetRideNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM rides WHERE id").WithArgs("r9").WillReturnRows(sqlmock.NewRows(rideCols))

	if _, err := s.GetRide(context.Background(), "r9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresNearbyDriversMapsRows(t *testing.T) {
	s, mock := newMockStore(t)
	cols := []string{"id", "name", "phone", "vehicle_type", "vehicle_make", "vehicle_model", "vehicle_number", "rating",
		"is_online", "is_available", "current_latitude", "current_longitude", "last_location_update", "distance_km"}
	mock.ExpectQuery("FROM drivers").WithArgs(12.9, 77.6, 10.0).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("D1", "Asha", "555", "car", "Toyota", "Etios", "KA01", 4.8, true, true, 12.91, 77.61, time.Now(), 1.2).
			AddRow("D2", "", "", "", "", "", "", nil, true, true, 12.95, 77.65, nil, 6.5))

	got, err := s.NearbyDrivers(context.Background(), 12.9, 77.6, 10)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].ID != "D1" || got[0].Vehicle.Make != "Toyota" || got[0].Rating == nil || *got[0].Rating != 4.8 {
		t.Fatalf("unexpected first candidate: %+v", got[0])
	}
	if got[1].Rating != nil || got[1].LastLocationAt != nil || got[1].DistanceKm != 6.5 {
		t.Fatalf("unexpected second candidate: %+v", got[1])
	}
}

func TestPostgresSetDriverAvailabilityMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE drivers SET is_available").WithArgs(false, "D404").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.SetDriverAvailability(context.Background(), "D404", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresListRidesByPassengerEmpty(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM rides WHERE passenger_id").WithArgs("P1").WillReturnRows(sqlmock.NewRows(rideCols))

	rides, err := s.ListRidesByPassenger(context.Background(), "P1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if rides == nil || len(rides) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", rides)
	}
}

func TestPostgresClaimDriver(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE drivers SET is_available = FALSE WHERE id = \\$1 AND is_online AND is_available").
		WithArgs("D1").WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.ClaimDriver(context.Background(), "D1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresClaimDriverAlreadyClaimed(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE drivers SET is_available = FALSE").WithArgs("D1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("D1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	if err := s.ClaimDriver(context.Background(), "D1"); !errors.Is(err, ErrDriverUnavailable) {
		t.Fatalf("expected ErrDriverUnavailable, got %v", err)
	}
}

func TestPostgresClaimDriverMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE drivers SET is_available = FALSE").WithArgs("D404").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("D404").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	if err := s.ClaimDriver(context.Background(), "D404"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
