package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-boxoffice/internal/auth"
	"ms-boxoffice/internal/models"
)

type checkTicketRequest struct {
	Code string `json:"code" validate:"required,max=1024"`
}

type checkTicketResponse struct {
	OrderID    string `json:"orderId"`
	ShowtimeID string `json:"showtimeId"`
	Seat       string `json:"seat"`
	Valid      bool   `json:"valid"`
	Reason     string `json:"reason,omitempty"`
}

func (h *Handler) OrderTickets(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Get(r.Context(), chi.URLParam(r, "orderId"), requester(r, r.URL.Query().Get("holderId")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	tickets, err := h.Tickets.Issue(o, h.Orders.Clock.Now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse("tickets", tickets))
}

// CheckTicket is used at the door. A code that decrypts is still refused
// when its order is no longer PAID or no longer holds the seat.
func (h *Handler) CheckTicket(w http.ResponseWriter, r *http.Request) {
	var body checkTicketRequest
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	pass, err := h.Tickets.Open(body.Code)
	if err != nil {
		h.Logger.LogSecurity("TICKET_REJECTED", r.RemoteAddr+" "+err.Error())
		h.writeError(w, r, err)
		return
	}
	o, err := h.Orders.Get(r.Context(), pass.OrderID, auth.Requester(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := checkTicketResponse{OrderID: o.ID, ShowtimeID: pass.ShowtimeID, Seat: pass.Label(), Valid: true}
	switch {
	case o.Status != models.OrderPaid:
		resp.Valid, resp.Reason = false, "order is "+string(o.Status)
	case !holdsSeat(o, models.NewSeatKey(pass.ShowtimeID, pass.Row, pass.SeatNumber)):
		resp.Valid, resp.Reason = false, "seat is not part of the order"
	}
	writeJSON(w, http.StatusOK, SuccessResponse("ticket checked", resp))
}

func holdsSeat(o *models.Order, key models.SeatKey) bool {
	for _, k := range o.SeatKeys() {
		if k == key {
			return true
		}
	}
	return false
}
