package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-boxoffice/internal/apperr"
	"ms-boxoffice/internal/payment"
	"ms-boxoffice/internal/payment/gateway"
)

// maxWebhookBody bounds what a gateway may post at us.
const maxWebhookBody = 64 << 10

type paymentEventRequest struct {
	Reference string `json:"reference" validate:"required,max=255"`
}

type mockStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=approved rejected cancelled pending"`
}

// PaymentEvent is the generic gateway notification: it carries only a
// reference, and the status is fetched back from the gateway.
func (h *Handler) PaymentEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	var req paymentEventRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.Payments.OnGatewayEvent(r.Context(), req.Reference)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse("payment reconciled", p))
}

func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, r, apperr.Wrap(apperr.Validation, err, "unreadable webhook body"))
		return
	}

	err = h.Payments.HandleStripeWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"), h.StripeWebhookSecret)
	if err != nil {
		var whErr *payment.WebhookError
		if errors.As(err, &whErr) {
			h.Logger.Warn("WEBHOOK", whErr.InternalError)
			writeJSON(w, whErr.StatusCode, APIResponse{Message: whErr.PublicError, Error: whErr.Category, Timestamp: nowUTC()})
			return
		}
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse("received", nil))
}

// MockGatewayEvent lets staff finish a mock payment and delivers the
// notification the way a real gateway would.
func (h *Handler) MockGatewayEvent(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "reference")
	var req mockStatusRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.MockGateway.SetStatus(ref, req.Status); err != nil {
		if errors.Is(err, gateway.ErrUnknownReference) {
			h.writeError(w, r, apperr.New(apperr.PaymentNotFound, "no mock payment %s", ref))
			return
		}
		h.writeError(w, r, err)
		return
	}
	h.Logger.Info("PAYMENT", fmt.Sprintf("mock payment %s set to %s", ref, req.Status))

	p, err := h.Payments.OnGatewayEvent(r.Context(), ref)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse("payment reconciled", p))
}
