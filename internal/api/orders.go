package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-boxoffice/internal/auth"
	"ms-boxoffice/internal/models"
	"ms-boxoffice/internal/order"
)

type createOrderRequest struct {
	HolderID string            `json:"holderId,omitempty" validate:"omitempty,max=128"`
	Channel  models.Channel    `json:"channel,omitempty" validate:"omitempty,oneof=WEB MOBILE POS"`
	Items    []models.LineItem `json:"items" validate:"max=50,dive"`
}

func requester(r *http.Request, bodyHolder string) models.Requester {
	req := auth.Requester(r)
	if req.HolderID == "" {
		req.HolderID = bodyHolder
	}
	return req
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var body createOrderRequest
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	o, err := h.Orders.Create(r.Context(), order.CreateRequest{
		Requester: requester(r, body.HolderID),
		Channel:   body.Channel,
		Items:     body.Items,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SuccessResponse("order created", o))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Get(r.Context(), chi.URLParam(r, "orderId"), requester(r, r.URL.Query().Get("holderId")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse("order", o))
}

func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.Orders.ListForUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	writeJSON(w, http.StatusOK, SuccessResponse("orders", orders))
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Cancel(r.Context(), chi.URLParam(r, "orderId"), requester(r, r.URL.Query().Get("holderId")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse("order cancelled", o))
}

