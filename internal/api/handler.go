// Package api is the HTTP surface of the box office.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"ms-boxoffice/internal/analytics"
	"ms-boxoffice/internal/availability"
	"ms-boxoffice/internal/logger"
	"ms-boxoffice/internal/order"
	"ms-boxoffice/internal/payment"
	"ms-boxoffice/internal/payment/gateway"
	"ms-boxoffice/internal/seatlock"
	"ms-boxoffice/internal/sse"
	"ms-boxoffice/internal/tickets"
)

type Handler struct {
	Orders       *order.Service
	Locks        *seatlock.Service
	Availability *availability.Calculator
	Payments     *payment.Handler
	SeatEvents   *sse.SeatEventEmitter
	Tickets      *tickets.Issuer
	Sales        *analytics.Service
	// MockGateway is set only when the mock gateway is in use.
	MockGateway         *gateway.Mock
	StripeWebhookSecret string
	Logger              *logger.Logger

	validate *validator.Validate
}

func NewHandler(h Handler) *Handler {
	h.validate = validator.New(validator.WithRequiredStructEnabled())
	return &h
}

// Router mounts every route. authn guards the shopper-facing API; payment
// notifications are mounted outside it because gateways do not carry user
// tokens.
func (h *Handler) Router(authn func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(h.Logger))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/payment-events", h.PaymentEvent)
		r.Post("/payment-events/stripe", h.StripeWebhook)

		r.Group(func(r chi.Router) {
			r.Use(authn)

			r.Get("/showtimes/{showtimeId}/seats", h.GetSeats)
			r.Get("/showtimes/{showtimeId}/seats/stream", h.StreamSeats)

			r.Post("/seat-locks", h.AcquireLocks)
			r.Delete("/seat-locks", h.ReleaseLocks)

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", h.CreateOrder)
				r.Get("/mine", h.ListMyOrders)
				r.Get("/{orderId}", h.GetOrder)
				r.Post("/{orderId}/cancel", h.CancelOrder)
				r.Get("/{orderId}/tickets", h.OrderTickets)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireElevated(h.Logger))
				r.Post("/tickets/check", h.CheckTicket)
				r.Get("/showtimes/{showtimeId}/sales", h.ShowtimeSales)
			})

			if h.MockGateway != nil {
				r.With(requireElevated(h.Logger)).Post("/mock-gateway/{reference}", h.MockGatewayEvent)
			}
		})
	})
	return r
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, SuccessResponse("ok", map[string]string{
		"time": time.Now().UTC().Format(time.RFC3339),
	}))
}
