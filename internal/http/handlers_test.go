package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"

	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/rides"
	"github.com/example/ride-dispatch/internal/storage"
)

func fptr(v float64) *float64 { return &v }

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore) {
	t.Helper()
	st := storage.NewMemoryStore()
	for _, d := range []*models.Driver{
		{ID: "D1", Name: "Asha", IsOnline: true, IsAvailable: true, Lat: fptr(12.9716), Lng: fptr(77.5946)},
		{ID: "D2", Name: "Ravi", IsOnline: true, IsAvailable: true, Lat: fptr(12.9800), Lng: fptr(77.5946)},
	} {
		if err := st.UpsertDriver(context.Background(), d); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	log := logging.Discard()
	s := NewServer(Deps{
		Rides:     rides.NewManager(st, events.Nop, log),
		Arbiter:   rides.NewArbiter(st, events.Nop, log),
		Matcher:   &matcher.Coordinator{Drivers: st, Limit: 8, DefaultRadiusKm: 10},
		Drivers:   st,
		Payments:  payments.NewService(st, nil, "inr", log),
		Locations: &ingest.Direct{Drivers: st},
	}, log)
	return s, st
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func createRide(t *testing.T, s *Server, passenger string) models.Ride {
	t.Helper()
	rr := do(t, s, http.MethodPost, "/api/rides", map[string]string{"passengerId": passenger, "pickup": "A", "drop": "B"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create ride: %d %s", rr.Code, rr.Body.String())
	}
	var r models.Ride
	decodeBody(t, rr, &r)
	return r
}

func TestCreateRideAndHistory(t *testing.T) {
	s, _ := newTestServer(t)
	r := createRide(t, s, "P1")
	if r.Status != models.StatusPending || r.DriverID != nil {
		t.Fatalf("unexpected ride: %+v", r)
	}

	rr := do(t, s, http.MethodPost, "/api/rides", map[string]string{"passengerId": "P1", "pickup": "", "drop": "B"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var e map[string]string
	decodeBody(t, rr, &e)
	if e["error"] == "" {
		t.Fatalf("expected error body, got %s", rr.Body.String())
	}

	rr = do(t, s, http.MethodGet, "/api/rides/history/P1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("history: %d", rr.Code)
	}
	var h struct {
		Rides []models.Ride `json:"rides"`
	}
	decodeBody(t, rr, &h)
	if len(h.Rides) != 1 || h.Rides[0].ID != r.ID {
		t.Fatalf("unexpected history: %s", rr.Body.String())
	}

	rr = do(t, s, http.MethodGet, "/api/rides/history/nobody", nil)
	if rr.Code != http.StatusOK || !bytes.Contains(rr.Body.Bytes(), []byte(`"rides":[]`)) {
		t.Fatalf("expected empty rides array, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestAcceptAndStatusFlow(t *testing.T) {
	s, st := newTestServer(t)
	r := createRide(t, s, "P1")

	rr := do(t, s, http.MethodPost, "/api/rides/"+r.ID+"/accept", map[string]string{"driverId": "D1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("accept: %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, s, http.MethodPost, "/api/rides/"+r.ID+"/accept", map[string]string{"driverId": "D2"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("second accept: expected 409, got %d", rr.Code)
	}
	var res rides.AcceptResult
	decodeBody(t, rr, &res)
	if res.Success || res.Reason != rides.ReasonInvalidState {
		t.Fatalf("unexpected result: %+v", res)
	}

	rr = do(t, s, http.MethodPost, "/api/rides/"+r.ID+"/status", map[string]any{"status": "completed", "fare": 250})
	if rr.Code != http.StatusConflict {
		t.Fatalf("accepted -> completed: expected 409, got %d", rr.Code)
	}
	rr = do(t, s, http.MethodPost, "/api/rides/"+r.ID+"/status", map[string]any{"status": "in_progress"})
	if rr.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, s, http.MethodPost, "/api/rides/"+r.ID+"/status", map[string]any{"status": "completed", "fare": 250})
	if rr.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", rr.Code, rr.Body.String())
	}
	stored, _ := st.GetRide(context.Background(), r.ID)
	if stored.Status != models.StatusCompleted || *stored.Fare != 250 {
		t.Fatalf("unexpected stored ride: %+v", stored)
	}

	if rr := do(t, s, http.MethodGet, "/api/rides/missing", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if rr := do(t, s, http.MethodPost, "/api/rides/"+r.ID+"/status", map[string]any{"status": "flying"}); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestPaymentNegativeAmountRejected(t *testing.T) {
	s, _ := newTestServer(t)
	r := createRide(t, s, "P1")
	rr := do(t, s, http.MethodPost, "/api/payments", map[string]any{"rideId": r.ID, "passengerId": "P1", "amount": -5, "method": "cash"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestPaymentLifecycle(t *testing.T) {
	s, _ := newTestServer(t)
	r := createRide(t, s, "P1")
	rr := do(t, s, http.MethodPost, "/api/payments", map[string]any{"rideId": r.ID, "passengerId": "P1", "amount": 250, "method": "wallet"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create payment: %d %s", rr.Code, rr.Body.String())
	}
	var p models.PaymentRecord
	decodeBody(t, rr, &p)
	if p.Status != models.PaymentPending {
		t.Fatalf("expected pending, got %s", p.Status)
	}

	rr = do(t, s, http.MethodPatch, "/api/payments/"+p.ID, map[string]string{"status": "paid"})
	if rr.Code != http.StatusOK {
		t.Fatalf("update payment: %d %s", rr.Code, rr.Body.String())
	}
	decodeBody(t, rr, &p)
	if p.Status != models.PaymentPaid {
		t.Fatalf("expected paid, got %s", p.Status)
	}
	if rr := do(t, s, http.MethodPatch, "/api/payments/nope", map[string]string{"status": "paid"}); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if rr := do(t, s, http.MethodPost, "/api/payments", map[string]any{"rideId": "ghost", "passengerId": "P1", "amount": 5, "method": "cash"}); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown ride, got %d", rr.Code)
	}
}

func TestNearbyAndDriverUpdates(t *testing.T) {
	s, st := newTestServer(t)
	rr := do(t, s, http.MethodGet, "/api/drivers/nearby?lat=12.9716&lng=77.5946", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("nearby: %d %s", rr.Code, rr.Body.String())
	}
	var out struct {
		Drivers []models.Candidate `json:"drivers"`
	}
	decodeBody(t, rr, &out)
	if len(out.Drivers) != 2 || out.Drivers[0].ID != "D1" {
		t.Fatalf("unexpected nearby: %s", rr.Body.String())
	}

	if rr := do(t, s, http.MethodPost, "/api/drivers/D1/online", map[string]bool{"online": false}); rr.Code != http.StatusOK {
		t.Fatalf("offline: %d", rr.Code)
	}
	rr = do(t, s, http.MethodGet, "/api/drivers/nearby?lat=12.9716&lng=77.5946&radius_km=5", nil)
	decodeBody(t, rr, &out)
	if len(out.Drivers) != 1 || out.Drivers[0].ID != "D2" {
		t.Fatalf("offline driver still matched: %s", rr.Body.String())
	}

	if rr := do(t, s, http.MethodGet, "/api/drivers/nearby?lat=abc&lng=1", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if rr := do(t, s, http.MethodPost, "/api/drivers/ghost/online", map[string]bool{"online": true}); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	rr = do(t, s, http.MethodPost, "/internal/driver/locations", map[string]any{"driverId": "D2", "lat": 13.0, "lng": 77.6})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("location: %d %s", rr.Code, rr.Body.String())
	}
	d, _ := st.GetDriver(context.Background(), "D2")
	if *d.Lat != 13.0 {
		t.Fatalf("location not stored: %+v", d)
	}
	if rr := do(t, s, http.MethodPost, "/internal/driver/locations", map[string]any{"driverId": "D2", "lat": 100, "lng": 0}); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHealthAndCORS(t *testing.T) {
	s, _ := newTestServer(t)
	rr := do(t, s, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK || rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("health: %d %v", rr.Code, rr.Header())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
	rr = do(t, s, http.MethodOptions, "/api/rides", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight: expected 204, got %d", rr.Code)
	}
}

func TestStatusAcceptedIsConflict(t *testing.T) {
	s, _ := newTestServer(t)
	r := createRide(t, s, "P1")
	rr := do(t, s, http.MethodPost, "/api/rides/"+r.ID+"/status", map[string]any{"status": "accepted"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", rr.Code, rr.Body.String())
	}
	if rr := do(t, s, http.MethodPost, "/api/rides/missing/status", map[string]any{"status": "accepted"}); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
