package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-boxoffice/internal/models"
)

type lockRequest struct {
	ShowtimeID string           `json:"showtimeId" validate:"required"`
	HolderID   string           `json:"holderId,omitempty" validate:"omitempty,max=128"`
	Seats      []models.SeatRef `json:"seats" validate:"required,min=1,max=20,dive"`
}

type releaseRequest struct {
	ShowtimeID string           `json:"showtimeId" validate:"required"`
	HolderID   string           `json:"holderId,omitempty" validate:"omitempty,max=128"`
	Seats      []models.SeatRef `json:"seats,omitempty" validate:"max=20,dive"`
}

func (h *Handler) GetSeats(w http.ResponseWriter, r *http.Request) {
	view, err := h.Availability.Availability(r.Context(), chi.URLParam(r, "showtimeId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse("seat availability", view))
}

// AcquireLocks locks seats for the caller. Signed-in users hold locks under
// their user id; anonymous shoppers under the holder id they send or the one
// minted for them.
func (h *Handler) AcquireLocks(w http.ResponseWriter, r *http.Request) {
	var req lockRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.Locks.Acquire(r.Context(), req.ShowtimeID, req.Seats, holderFor(r, req.HolderID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SuccessResponse("seats locked", res))
}

func (h *Handler) ReleaseLocks(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	n, err := h.Locks.ReleaseForHolder(r.Context(), req.ShowtimeID, holderFor(r, req.HolderID), req.Seats)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse("seats released", map[string]int{"released": n}))
}

// StreamSeats pushes seat status changes for one showtime as server-sent
// events until the client goes away.
func (h *Handler) StreamSeats(w http.ResponseWriter, r *http.Request) {
	showtimeID := chi.URLParam(r, "showtimeId")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	if _, err := h.Availability.Layout.GetShowtime(r.Context(), showtimeID); err != nil {
		h.writeError(w, r, err)
		return
	}

	setupSSEHeaders(w)
	ctx := r.Context()
	events := h.SeatEvents.Subscribe(ctx, showtimeID)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"showtimeId\":%q}\n\n", showtimeID)
	flusher.Flush()
	h.Logger.Debug("SSE", fmt.Sprintf("client connected to showtime %s (%d watching)", showtimeID, h.SeatEvents.ClientCount(showtimeID)))

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("encode seat event: %v", err))
				continue
			}
			fmt.Fprintf(w, "event: seats\ndata: %s\n\n", data)
			flusher.Flush()
		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("client left showtime %s", showtimeID))
			return
		}
	}
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Accel-Buffering", "no")
}

// holderFor picks the lock owner: the signed-in user first, then the
// X-Holder-ID header, then the body.
func holderFor(r *http.Request, bodyHolder string) string {
	return requester(r, bodyHolder).Owner()
}
