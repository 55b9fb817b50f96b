// Package payments records payments against rides. Online payments are held
// with a gateway at creation and captured or released on settlement.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

// Gateway moves money for online payments. StripeGateway is the production one.
type Gateway interface {
	Hold(ctx context.Context, amountMinor int64, currency string, meta map[string]string) (string, error)
	Capture(ctx context.Context, ref string) error
	Cancel(ctx context.Context, ref string) error
}

type Store interface {
	storage.Rides
	storage.Payments
}

type CreateInput struct {
	RideID      string               `json:"rideId"`
	PassengerID string               `json:"passengerId"`
	Amount      float64              `json:"amount"`
	Method      models.PaymentMethod `json:"method"`
}

type Service struct {
	store    Store
	gateway  Gateway // nil disables holds
	currency string
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(store Store, gateway Gateway, currency string, logger *slog.Logger) *Service {
	if currency == "" {
		currency = "inr"
	}
	return &Service{store: store, gateway: gateway, currency: currency, logger: logger, now: time.Now}
}

func (in CreateInput) validate() error {
	switch {
	case strings.TrimSpace(in.RideID) == "":
		return errs.Validation("rideId", "is required")
	case strings.TrimSpace(in.PassengerID) == "":
		return errs.Validation("passengerId", "is required")
	case math.IsNaN(in.Amount) || math.IsInf(in.Amount, 0) || in.Amount <= 0:
		return errs.Validation("amount", "must be positive")
	case !in.Method.Valid():
		return errs.Validation("method", "must be one of cash, wallet, online")
	}
	return nil
}

// Create records a pending payment for an existing ride.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.PaymentRecord, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if _, err := s.store.GetRide(ctx, in.RideID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("ride", in.RideID)
		}
		return nil, errs.Store("get ride", err)
	}

	p := &models.PaymentRecord{
		ID:          uuid.NewString(),
		RideID:      in.RideID,
		PassengerID: in.PassengerID,
		Amount:      in.Amount,
		Method:      in.Method,
		Status:      models.PaymentPending,
		CreatedAt:   s.now().UTC(),
	}
	if p.Method == models.MethodOnline && s.gateway != nil {
		ref, err := s.gateway.Hold(ctx, minorUnits(p.Amount), s.currency, map[string]string{
			"ride_id":    p.RideID,
			"payment_id": p.ID,
		})
		if err != nil {
			return nil, errs.Store("payment hold", err)
		}
		p.ExternalRef = ref
	}
	if err := s.store.CreatePayment(ctx, p); err != nil {
		s.release(ctx, p)
		return nil, errs.Store("create payment", err)
	}
	s.logger.Info("payment created", "payment_id", p.ID, "ride_id", p.RideID, "method", p.Method)
	return p, nil
}

// UpdateStatus settles a payment. A held online payment is captured when
// marked paid and released when marked failed; the record is only updated
// once the gateway call succeeds.
func (s *Service) UpdateStatus(ctx context.Context, id string, status models.PaymentStatus) (*models.PaymentRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errs.Validation("paymentId", "is required")
	}
	if !status.Valid() {
		return nil, errs.Validation("status", fmt.Sprintf("unknown status %q", status))
	}
	cur, err := s.store.GetPayment(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("payment", id)
		}
		return nil, errs.Store("get payment", err)
	}

	if cur.ExternalRef != "" && s.gateway != nil && cur.Status == models.PaymentPending {
		switch status {
		case models.PaymentPaid:
			err = s.gateway.Capture(ctx, cur.ExternalRef)
		case models.PaymentFailed:
			err = s.gateway.Cancel(ctx, cur.ExternalRef)
		}
		if err != nil {
			return nil, errs.Store("payment "+string(status), err)
		}
	}

	p, err := s.store.UpdatePaymentStatus(ctx, id, status)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("payment", id)
		}
		return nil, errs.Store("update payment", err)
	}
	s.logger.Info("payment status updated", "payment_id", id, "status", status)
	return p, nil
}

func (s *Service) release(ctx context.Context, p *models.PaymentRecord) {
	if p.ExternalRef == "" || s.gateway == nil {
		return
	}
	if err := s.gateway.Cancel(ctx, p.ExternalRef); err != nil {
		s.logger.Warn("orphaned payment hold", "payment_id", p.ID, "external_ref", p.ExternalRef, "error", err)
	}
}

func minorUnits(amount float64) int64 { return int64(math.Round(amount * 100)) }
