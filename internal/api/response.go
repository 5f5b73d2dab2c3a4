package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"ms-boxoffice/internal/apperr"
)

type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Code      apperr.Kind `json:"code,omitempty"`
	Seats     []string    `json:"seats,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func SuccessResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: nowUTC(),
	}
}

// ErrorResponse hides the cause of internal errors from the client.
func ErrorResponse(e *apperr.Error) APIResponse {
	resp := APIResponse{
		Success:   false,
		Message:   e.Message,
		Code:      e.Kind,
		Seats:     e.Seats,
		Timestamp: nowUTC(),
	}
	if e.Kind != apperr.Internal && e.Err != nil {
		resp.Error = e.Err.Error()
	}
	return resp
}

func nowUTC() time.Time { return time.Now().UTC() }

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.From(err)
	if e.Kind == apperr.Internal {
		h.Logger.Error("API", r.Method+" "+r.URL.Path+": "+err.Error())
	}
	writeJSON(w, e.StatusCode(), ErrorResponse(e))
}

// decode reads a JSON body into dst and runs struct validation on it.
func (h *Handler) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.Validation, err, "invalid request body")
	}
	return h.validateStruct(dst)
}

func (h *Handler) validateStruct(v any) error {
	err := h.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(apperr.Validation, err, "invalid request")
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Namespace()+" failed "+fe.Tag())
	}
	return apperr.New(apperr.Validation, "%s", strings.Join(fields, "; "))
}
