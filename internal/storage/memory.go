package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// MemoryStore keeps everything in process. Used for local runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	rides    map[string]*models.Ride
	drivers  map[string]*models.Driver
	payments map[string]*models.PaymentRecord
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:    make(map[string]*models.Ride),
		drivers:  make(map[string]*models.Driver),
		payments: make(map[string]*models.PaymentRecord),
		now:      time.Now,
	}
}

func (m *MemoryStore) CreateRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) UpdateRideIf(ctx context.Context, id string, expected models.RideStatus, patch models.RidePatch) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != expected {
		return nil, ErrStatusMismatch
	}
	applyPatch(r, patch, m.now())
	return r.Clone(), nil
}

func (m *MemoryStore) ListRidesByPassenger(ctx context.Context, passengerID string) ([]models.Ride, error) {
	m.mu.RLock()
	out := make([]models.Ride, 0)
	for _, r := range m.rides {
		if r.PassengerID == passengerID {
			out = append(out, *r.Clone())
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpsertDriver(ctx context.Context, d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ID] = d.Clone()
	return nil
}

func (m *MemoryStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (m *MemoryStore) SetDriverAvailability(ctx context.Context, id string, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return ErrNotFound
	}
	d.IsAvailable = available
	return nil
}

func (m *MemoryStore) ClaimDriver(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return ErrNotFound
	}
	if !d.IsOnline || !d.IsAvailable {
		return ErrDriverUnavailable
	}
	d.IsAvailable = false
	return nil
}

func (m *MemoryStore) SetDriverOnline(ctx context.Context, id string, online bool) (*models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, ErrNotFound
	}
	d.IsOnline = online
	return d.Clone(), nil
}

func (m *MemoryStore) UpdateDriverLocation(ctx context.Context, id string, lat, lng float64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return ErrNotFound
	}
	if d.LastLocationAt != nil && at.Before(*d.LastLocationAt) {
		return nil
	}
	d.Lat, d.Lng, d.LastLocationAt = &lat, &lng, &at
	return nil
}

// naive scan; the postgres store pushes the distance filter into SQL
func (m *MemoryStore) NearbyDrivers(ctx context.Context, lat, lng, radiusKm float64) ([]models.Candidate, error) {
	m.mu.RLock()
	out := make([]models.Candidate, 0)
	for _, d := range m.drivers {
		if !d.Eligible() {
			continue
		}
		dist := geo.Haversine(lat, lng, *d.Lat, *d.Lng) / 1000
		if dist > radiusKm {
			continue
		}
		out = append(out, models.Candidate{Driver: *d.Clone(), DistanceKm: dist})
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out, nil
}

func (m *MemoryStore) CreatePayment(ctx context.Context, p *models.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *p
	m.payments[p.ID] = &c
	return nil
}

func (m *MemoryStore) GetPayment(ctx context.Context, id string) (*models.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *MemoryStore) UpdatePaymentStatus(ctx context.Context, id string, status models.PaymentStatus) (*models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.Status = status
	c := *p
	return &c, nil
}
