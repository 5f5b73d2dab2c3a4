package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) ShowtimeSales(w http.ResponseWriter, r *http.Request) {
	showtimeID := chi.URLParam(r, "showtimeId")
	if _, err := h.Availability.Layout.GetShowtime(r.Context(), showtimeID); err != nil {
		h.writeError(w, r, err)
		return
	}
	sales, err := h.Sales.ShowtimeSales(r.Context(), showtimeID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse("showtime sales", sales))
}
