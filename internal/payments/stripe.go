package payments

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
)

// StripeGateway holds, captures and releases funds with PaymentIntents.
type StripeGateway struct {
	api *client.API
}

func NewStripeGateway(apiKey string) *StripeGateway {
	return &StripeGateway{api: client.New(apiKey, nil)}
}

// Hold creates a PaymentIntent with capture_method=manual and returns its id.
func (s *StripeGateway) Hold(ctx context.Context, amountMinor int64, currency string, meta map[string]string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amountMinor),
		Currency:      stripe.String(currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx
	for k, v := range meta {
		params.AddMetadata(k, v)
	}
	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

func (s *StripeGateway) Capture(ctx context.Context, ref string) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	_, err := s.api.PaymentIntents.Capture(ref, params)
	return err
}

func (s *StripeGateway) Cancel(ctx context.Context, ref string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := s.api.PaymentIntents.Cancel(ref, params)
	return err
}
