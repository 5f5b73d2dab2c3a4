package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"ms-boxoffice/internal/logger"
	"ms-boxoffice/internal/models"
)

var ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")

// Stripe creates one PaymentIntent per order. The intent id doubles as the
// reference and the client secret is the artifact.
type Stripe struct {
	client *client.API
	log    *logger.Logger
}

func NewStripe(secretKey string, log *logger.Logger) (*Stripe, error) {
	if secretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY not set")
		return nil, ErrStripeClientInitFailed
	}
	sc := client.New(secretKey, nil)
	if sc == nil {
		return nil, ErrStripeClientInitFailed
	}
	log.Info("STRIPE", "Stripe client initialized successfully")
	return &Stripe{client: sc, log: log}, nil
}

func (s *Stripe) CreatePaymentRequest(ctx context.Context, o *models.Order) (*Request, error) {
	params := &stripe.PaymentIntentParams{
		// Amounts are already in the currency's minor unit.
		Amount:   stripe.Int64(o.Total),
		Currency: stripe.String(o.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{
			"order_id": o.ID,
		},
	}
	params.Context = ctx
	if o.Payment != nil {
		params.SetIdempotencyKey("order-" + o.ID + "-" + o.Payment.ID)
	}

	pi, err := s.client.PaymentIntents.New(params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to create payment intent for order %s: %v", o.ID, err))
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	s.log.Info("STRIPE", fmt.Sprintf("Created payment intent %s for order %s (%d %s)", pi.ID, o.ID, o.Total, o.Currency))

	return &Request{
		Reference:  pi.ID,
		ExternalID: pi.ID,
		Artifact:   pi.ClientSecret,
		ExpiresAt:  o.ExpiresAt,
	}, nil
}

func (s *Stripe) FetchStatus(ctx context.Context, reference string) (string, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.client.PaymentIntents.Get(reference, params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to fetch payment intent %s: %v", reference, err))
		return "", fmt.Errorf("fetch payment intent: %w", err)
	}
	return string(pi.Status), nil
}
