package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"ms-boxoffice/internal/apperr"
)

// WebhookError represents an error that occurred during webhook processing
type WebhookError struct {
	Category      string // "configuration", "validation", "processing"
	StatusCode    int    // HTTP status code
	PublicError   string // Safe to expose to clients
	InternalError string // Detailed error for logs only
	OriginalErr   error
}

func (e *WebhookError) Error() string {
	return e.InternalError
}

func (e *WebhookError) Unwrap() error {
	return e.OriginalErr
}

// HandleStripeWebhook verifies a Stripe event and reconciles the payment
// intent it names. Events that do not concern payment intents are ignored.
func (h *Handler) HandleStripeWebhook(ctx context.Context, payload []byte, signature, secret string) error {
	if secret == "" {
		h.Logger.Error("WEBHOOK", "Stripe webhook secret is not configured")
		return &WebhookError{
			Category:      "configuration",
			StatusCode:    http.StatusInternalServerError,
			PublicError:   "Webhook processing error",
			InternalError: "Stripe webhook secret is not configured",
		}
	}

	opts := webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true}
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, opts)
	if err != nil {
		h.Logger.LogSecurity("WEBHOOK_SIGNATURE", err.Error())
		return &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid webhook signature",
			InternalError: fmt.Sprintf("Invalid webhook signature: %v", err),
			OriginalErr:   err,
		}
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
	default:
		h.Logger.Debug("WEBHOOK", fmt.Sprintf("Ignoring Stripe event %s", event.Type))
		return nil
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil || intent.ID == "" {
		return &WebhookError{
			Category:      "processing",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid event data",
			InternalError: fmt.Sprintf("Failed to unmarshal payment intent: %v", err),
			OriginalErr:   err,
		}
	}

	h.Logger.Info("WEBHOOK", fmt.Sprintf("Processing Stripe event %s for intent %s", event.Type, intent.ID))
	if _, err := h.OnGatewayEvent(ctx, intent.ID); err != nil {
		if apperr.Is(err, apperr.PaymentNotFound) {
			// Acknowledged so Stripe stops redelivering an intent we never issued.
			h.Logger.Warn("WEBHOOK", "dropping Stripe event for unknown intent "+intent.ID)
			return nil
		}
		status := http.StatusInternalServerError
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			status = appErr.StatusCode()
		}
		return &WebhookError{
			Category:      "processing",
			StatusCode:    status,
			PublicError:   "Failed to process payment",
			InternalError: fmt.Sprintf("Failed to reconcile intent %s: %v", intent.ID, err),
			OriginalErr:   err,
		}
	}
	return nil
}
