// Package payment reconciles gateway notifications with order state.
package payment

import (
	"context"
	"fmt"
	"strings"

	"ms-boxoffice/internal/apperr"
	"ms-boxoffice/internal/logger"
	"ms-boxoffice/internal/models"
	"ms-boxoffice/internal/payment/gateway"
)

// Payments finds a payment by gateway reference, external id or order id.
type Payments interface {
	FindPayment(ctx context.Context, ref string) (*models.Payment, error)
}

// Orders applies payment outcomes. Both calls report whether they changed
// the order, so repeated notifications are harmless.
type Orders interface {
	MarkPaid(ctx context.Context, orderID string) (bool, error)
	MarkCancelled(ctx context.Context, orderID string, status models.PaymentStatus) (bool, error)
}

type Handler struct {
	Payments Payments
	Orders   Orders
	Gateway  gateway.Gateway
	Logger   *logger.Logger
}

// MapExternalStatus folds provider vocabularies onto PaymentStatus. Unknown
// words stay PENDING so nothing transitions on them.
func MapExternalStatus(s string) models.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approved", "succeeded", "paid", "authorized", "completed":
		return models.PaymentApproved
	case "rejected", "failed", "declined", "requires_payment_method":
		return models.PaymentRejected
	case "cancelled", "canceled", "expired", "refunded", "voided":
		return models.PaymentCancelled
	default:
		return models.PaymentPending
	}
}

// OnGatewayEvent asks the provider for the current status of reference and
// moves the order accordingly. The notification body is never trusted for
// the outcome itself.
func (h *Handler) OnGatewayEvent(ctx context.Context, reference string) (*models.Payment, error) {
	p, err := h.Payments.FindPayment(ctx, reference)
	if err != nil {
		if apperr.Is(err, apperr.PaymentNotFound) {
			h.Logger.Warn("PAYMENT", fmt.Sprintf("notification for unknown reference %q", reference))
		}
		return nil, err
	}

	lookup := p.Reference
	if lookup == "" {
		lookup = reference
	}
	raw, err := h.Gateway.FetchStatus(ctx, lookup)
	if err != nil {
		h.Logger.Error("PAYMENT", fmt.Sprintf("status lookup for %s failed: %v", lookup, err))
		return nil, apperr.Wrap(apperr.GatewayUnavailable, err, "payment status lookup failed")
	}
	status := MapExternalStatus(raw)
	h.Logger.Info("PAYMENT", fmt.Sprintf("payment %s of order %s reported %q (%s)", p.ID, p.OrderID, raw, status))

	var changed bool
	switch status {
	case models.PaymentApproved:
		changed, err = h.Orders.MarkPaid(ctx, p.OrderID)
	case models.PaymentRejected, models.PaymentCancelled:
		changed, err = h.Orders.MarkCancelled(ctx, p.OrderID, status)
	default:
		return p, nil
	}
	if err != nil {
		return nil, err
	}

	current, err := h.Payments.FindPayment(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	if !changed {
		if status == models.PaymentApproved && current.Status != models.PaymentApproved {
			h.Logger.Warn("PAYMENT", fmt.Sprintf("order %s is %s but the gateway approved payment %s, refund required",
				p.OrderID, current.Status, p.ID))
		} else {
			h.Logger.Debug("PAYMENT", fmt.Sprintf("payment %s already settled as %s", p.ID, current.Status))
		}
	}
	return current, nil
}
