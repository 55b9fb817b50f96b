package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing connection, e.g. a sqlmock handle.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: sqlx.NewDb(db, "postgres")}
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate applies the embedded schema. Statements are idempotent.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}
	for _, e := range entries {
		b, err := migrations.ReadFile("migrations/" + e.Name())
		if err != nil {
			return err
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

const rideColumns = `id, passenger_id, driver_id, pickup_location, drop_location, fare, status, created_at, accepted_at, updated_at`

const insertRideQuery = `
INSERT INTO rides (` + rideColumns + `)
VALUES (:id, :passenger_id, :driver_id, :pickup_location, :drop_location, :fare, :status, :created_at, :accepted_at, :updated_at)
`

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	_, err := p.db.NamedExecContext(ctx, insertRideQuery, r)
	return err
}

const getRideQuery = `SELECT ` + rideColumns + ` FROM rides WHERE id = $1`

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	var r models.Ride
	if err := p.db.GetContext(ctx, &r, getRideQuery, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

// The status predicate in the WHERE clause is what makes this a
// compare-and-swap: of two concurrent writers expecting the same status only
// one can match a row.
const updateRideIfQuery = `
UPDATE rides SET
    status      = $1,
    driver_id   = CASE WHEN $2::boolean THEN NULL ELSE COALESCE($3::text, driver_id) END,
    fare        = COALESCE($4::double precision, fare),
    accepted_at = COALESCE($5::timestamptz, accepted_at),
    updated_at  = $6
WHERE id = $7 AND status = $8
RETURNING ` + rideColumns

const rideExistsQuery = `SELECT EXISTS (SELECT 1 FROM rides WHERE id = $1)`

func (p *PostgresStore) UpdateRideIf(ctx context.Context, id string, expected models.RideStatus, patch models.RidePatch) (*models.Ride, error) {
	var r models.Ride
	err := p.db.GetContext(ctx, &r, updateRideIfQuery,
		patch.Status, patch.ClearDriver, patch.DriverID, patch.Fare, patch.AcceptedAt, time.Now().UTC(), id, expected)
	if err == nil {
		return &r, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	var exists bool
	if err := p.db.GetContext(ctx, &exists, rideExistsQuery, id); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	return nil, ErrStatusMismatch
}

const listRidesByPassengerQuery = `SELECT ` + rideColumns + ` FROM rides WHERE passenger_id = $1 ORDER BY created_at DESC`

func (p *PostgresStore) ListRidesByPassenger(ctx context.Context, passengerID string) ([]models.Ride, error) {
	out := make([]models.Ride, 0)
	if err := p.db.SelectContext(ctx, &out, listRidesByPassengerQuery, passengerID); err != nil {
		return nil, err
	}
	return out, nil
}

// driverRow is the flat column layout of the drivers table.
type driverRow struct {
	ID             string          `db:"id"`
	Name           string          `db:"name"`
	Phone          string          `db:"phone"`
	VehicleType    string          `db:"vehicle_type"`
	VehicleMake    string          `db:"vehicle_make"`
	VehicleModel   string          `db:"vehicle_model"`
	VehicleNumber  string          `db:"vehicle_number"`
	Rating         sql.NullFloat64 `db:"rating"`
	IsOnline       bool            `db:"is_online"`
	IsAvailable    bool            `db:"is_available"`
	Lat            sql.NullFloat64 `db:"current_latitude"`
	Lng            sql.NullFloat64 `db:"current_longitude"`
	LastLocationAt sql.NullTime    `db:"last_location_update"`
	DistanceKm     float64         `db:"distance_km"`
}

func (r driverRow) toModel() *models.Driver {
	d := &models.Driver{
		ID:          r.ID,
		Name:        r.Name,
		Phone:       r.Phone,
		Vehicle:     models.Vehicle{Type: r.VehicleType, Make: r.VehicleMake, Model: r.VehicleModel, Number: r.VehicleNumber},
		IsOnline:    r.IsOnline,
		IsAvailable: r.IsAvailable,
	}
	if r.Rating.Valid {
		d.Rating = &r.Rating.Float64
	}
	if r.Lat.Valid {
		d.Lat = &r.Lat.Float64
	}
	if r.Lng.Valid {
		d.Lng = &r.Lng.Float64
	}
	if r.LastLocationAt.Valid {
		d.LastLocationAt = &r.LastLocationAt.Time
	}
	return d
}

const driverColumns = `id, name, phone, vehicle_type, vehicle_make, vehicle_model, vehicle_number, rating, is_online, is_available, current_latitude, current_longitude, last_location_update`

const upsertDriverQuery = `
INSERT INTO drivers (` + driverColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name, phone = EXCLUDED.phone,
    vehicle_type = EXCLUDED.vehicle_type, vehicle_make = EXCLUDED.vehicle_make,
    vehicle_model = EXCLUDED.vehicle_model, vehicle_number = EXCLUDED.vehicle_number,
    rating = EXCLUDED.rating, is_online = EXCLUDED.is_online, is_available = EXCLUDED.is_available,
    current_latitude = EXCLUDED.current_latitude, current_longitude = EXCLUDED.current_longitude,
    last_location_update = EXCLUDED.last_location_update
`

func (p *PostgresStore) UpsertDriver(ctx context.Context, d *models.Driver) error {
	_, err := p.db.ExecContext(ctx, upsertDriverQuery,
		d.ID, d.Name, d.Phone, d.Vehicle.Type, d.Vehicle.Make, d.Vehicle.Model, d.Vehicle.Number,
		d.Rating, d.IsOnline, d.IsAvailable, d.Lat, d.Lng, d.LastLocationAt)
	return err
}

const getDriverQuery = `SELECT ` + driverColumns + `, 0::double precision AS distance_km FROM drivers WHERE id = $1`

func (p *PostgresStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	var row driverRow
	if err := p.db.GetContext(ctx, &row, getDriverQuery, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toModel(), nil
}

const setDriverAvailabilityQuery = `UPDATE drivers SET is_available = $1 WHERE id = $2`

func (p *PostgresStore) SetDriverAvailability(ctx context.Context, id string, available bool) error {
	res, err := p.db.ExecContext(ctx, setDriverAvailabilityQuery, available, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

const (
	claimDriverQuery  = `UPDATE drivers SET is_available = FALSE WHERE id = $1 AND is_online AND is_available`
	driverExistsQuery = `SELECT EXISTS (SELECT 1 FROM drivers WHERE id = $1)`
)

func (p *PostgresStore) ClaimDriver(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, claimDriverQuery, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := p.db.GetContext(ctx, &exists, driverExistsQuery, id); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrDriverUnavailable
}

const setDriverOnlineQuery = `UPDATE drivers SET is_online = $1 WHERE id = $2 RETURNING ` + driverColumns + `, 0::double precision AS distance_km`

func (p *PostgresStore) SetDriverOnline(ctx context.Context, id string, online bool) (*models.Driver, error) {
	var row driverRow
	if err := p.db.GetContext(ctx, &row, setDriverOnlineQuery, online, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toModel(), nil
}

const updateDriverLocationQuery = `
UPDATE drivers SET current_latitude = $1, current_longitude = $2, last_location_update = $3
WHERE id = $4 AND (last_location_update IS NULL OR last_location_update <= $3)
`

// UpdateDriverLocation ignores fixes older than the stored one, so a late
// redelivery cannot move a driver backwards.
func (p *PostgresStore) UpdateDriverLocation(ctx context.Context, id string, lat, lng float64, at time.Time) error {
	_, err := p.db.ExecContext(ctx, updateDriverLocationQuery, lat, lng, at, id)
	return err
}

const nearbyDriversQuery = `
SELECT * FROM (
    SELECT ` + driverColumns + `,
        6371 * 2 * ASIN(SQRT(
            POWER(SIN(RADIANS(current_latitude - $1) / 2), 2) +
            COS(RADIANS($1)) * COS(RADIANS(current_latitude)) *
            POWER(SIN(RADIANS(current_longitude - $2) / 2), 2)
        )) AS distance_km
    FROM drivers
    WHERE is_online AND is_available
      AND current_latitude IS NOT NULL AND current_longitude IS NOT NULL
) candidates
WHERE distance_km <= $3
ORDER BY distance_km ASC
`

func (p *PostgresStore) NearbyDrivers(ctx context.Context, lat, lng, radiusKm float64) ([]models.Candidate, error) {
	var rows []driverRow
	if err := p.db.SelectContext(ctx, &rows, nearbyDriversQuery, lat, lng, radiusKm); err != nil {
		return nil, err
	}
	out := make([]models.Candidate, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Candidate{Driver: *r.toModel(), DistanceKm: r.DistanceKm})
	}
	return out, nil
}

const paymentColumns = `id, ride_id, passenger_id, amount, payment_method, status, external_ref, created_at`

const insertPaymentQuery = `
INSERT INTO payments (` + paymentColumns + `)
VALUES (:id, :ride_id, :passenger_id, :amount, :payment_method, :status, :external_ref, :created_at)
`

func (p *PostgresStore) CreatePayment(ctx context.Context, rec *models.PaymentRecord) error {
	_, err := p.db.NamedExecContext(ctx, insertPaymentQuery, rec)
	return err
}

const getPaymentQuery = `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

func (p *PostgresStore) GetPayment(ctx context.Context, id string) (*models.PaymentRecord, error) {
	var rec models.PaymentRecord
	if err := p.db.GetContext(ctx, &rec, getPaymentQuery, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

const updatePaymentStatusQuery = `UPDATE payments SET status = $1 WHERE id = $2 RETURNING ` + paymentColumns

func (p *PostgresStore) UpdatePaymentStatus(ctx context.Context, id string, status models.PaymentStatus) (*models.PaymentRecord, error) {
	var rec models.PaymentRecord
	if err := p.db.GetContext(ctx, &rec, updatePaymentStatusQuery, status, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
