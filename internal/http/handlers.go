package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/realtime"
	"github.com/example/ride-dispatch/internal/rides"
	"github.com/example/ride-dispatch/internal/storage"
)

const maxBodyBytes = 1 << 20

// Deps are the components the HTTP surface is wired to.
type Deps struct {
	Rides     *rides.Manager
	Arbiter   *rides.Arbiter
	Matcher   *matcher.Coordinator
	Drivers   storage.Drivers
	Payments  *payments.Service
	Locations ingest.Sink
	Locator   geo.Locator // optional; drivers going offline are removed from it
	Realtime  *realtime.Handler

	CORSOrigin string
}

type Server struct {
	Deps
	logger  *slog.Logger
	mux     *mux.Router
	handler http.Handler
}

func NewServer(d Deps, logger *slog.Logger) *Server {
	s := &Server{Deps: d, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	s.handler = s.corsMiddleware(s.mux)
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	if s.Realtime != nil {
		s.mux.HandleFunc("/ws", s.Realtime.ServeWS).Methods(http.MethodGet)
	}

	api := s.mux.PathPrefix("/api").Subrouter()
	api.HandleFunc("/rides", s.handleCreateRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/history/{passengerId}", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/rides/{rideId}", s.handleGetRide).Methods(http.MethodGet)
	api.HandleFunc("/rides/{rideId}/accept", s.handleAccept).Methods(http.MethodPost)
	api.HandleFunc("/rides/{rideId}/status", s.handleStatus).Methods(http.MethodPost)
	api.HandleFunc("/drivers/nearby", s.handleNearby).Methods(http.MethodGet)
	api.HandleFunc("/drivers/{driverId}/online", s.handleDriverOnline).Methods(http.MethodPost)
	api.HandleFunc("/payments", s.handleCreatePayment).Methods(http.MethodPost)
	api.HandleFunc("/payments/{paymentId}", s.handleUpdatePayment).Methods(http.MethodPatch)

	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods(http.MethodPost)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.handler.ServeHTTP(w, r) }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var in struct {
		PassengerID string `json:"passengerId"`
		Pickup      string `json:"pickup"`
		Drop        string `json:"drop"`
	}
	if !s.decode(w, r, &in) {
		return
	}
	ride, err := s.Rides.CreateRide(r.Context(), in.PassengerID, in.Pickup, in.Drop)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	h, err := s.Rides.History(r.Context(), mux.Vars(r)["passengerId"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": h})
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Rides.Get(r.Context(), mux.Vars(r)["rideId"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var in struct {
		DriverID string `json:"driverId"`
	}
	if !s.decode(w, r, &in) {
		return
	}
	res, err := s.Arbiter.AcceptRide(r.Context(), mux.Vars(r)["rideId"], in.DriverID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !res.Success {
		writeJSON(w, http.StatusConflict, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Status models.RideStatus `json:"status"`
		Fare   *float64          `json:"fare"`
	}
	if !s.decode(w, r, &in) {
		return
	}
	ride, err := s.Rides.Transition(r.Context(), mux.Vars(r)["rideId"], in.Status, rides.Fields{Fare: in.Fare})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(q.Get("lng"), 64)
	if err1 != nil || err2 != nil {
		s.writeError(w, r, errs.Validation("lat/lng", "must be numbers"))
		return
	}
	var radius float64
	if v := q.Get("radius_km"); v != "" {
		radius, err1 = strconv.ParseFloat(v, 64)
		if err1 != nil || radius < 0 {
			s.writeError(w, r, errs.Validation("radius_km", "must be a non-negative number"))
			return
		}
	}
	cands, err := s.Matcher.FindNearby(r.Context(), lat, lng, radius)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drivers": cands})
}

func (s *Server) handleDriverOnline(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Online *bool `json:"online"`
	}
	if !s.decode(w, r, &in) {
		return
	}
	if in.Online == nil {
		s.writeError(w, r, errs.Validation("online", "is required"))
		return
	}
	id := mux.Vars(r)["driverId"]
	d, err := s.Drivers.SetDriverOnline(r.Context(), id, *in.Online)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			err = errs.NotFound("driver", id)
		} else {
			err = errs.Store("set driver online", err)
		}
		s.writeError(w, r, err)
		return
	}
	if !*in.Online && s.Locator != nil {
		if err := s.Locator.Remove(r.Context(), id); err != nil {
			s.logger.Warn("geo index removal failed", "driver_id", id, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var in struct {
		DriverID string    `json:"driverId"`
		Lat      float64   `json:"lat"`
		Lng      float64   `json:"lng"`
		At       time.Time `json:"at"`
	}
	if !s.decode(w, r, &in) {
		return
	}
	loc := models.DriverLocation{DriverID: in.DriverID, Lat: in.Lat, Lng: in.Lng, At: in.At}
	if err := ingest.Normalize(&loc, time.Now()); err != nil {
		s.writeError(w, r, errs.Validation("location", err.Error()))
		return
	}
	if err := s.Locations.PublishLocation(r.Context(), loc); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			err = errs.NotFound("driver", loc.DriverID)
		} else {
			err = errs.Store("record location", err)
		}
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var in payments.CreateInput
	if !s.decode(w, r, &in) {
		return
	}
	p, err := s.Payments.Create(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleUpdatePayment(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Status models.PaymentStatus `json:"status"`
	}
	if !s.decode(w, r, &in) {
		return
	}
	p, err := s.Payments.UpdateStatus(r.Context(), mux.Vars(r)["paymentId"], in.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		s.writeError(w, r, errs.Validation("body", "invalid JSON: "+strings.TrimSpace(err.Error())))
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"
	var (
		ve *errs.ValidationError
		nf *errs.NotFoundError
		it *errs.InvalidTransitionError
		ce *errs.ConflictError
	)
	switch {
	case errors.As(err, &ve):
		status, msg = http.StatusBadRequest, ve.Error()
	case errors.As(err, &nf):
		status, msg = http.StatusNotFound, nf.Error()
	case errors.As(err, &it):
		status, msg = http.StatusConflict, it.Error()
	case errors.As(err, &ce):
		status, msg = http.StatusConflict, ce.Error()
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
