package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Kind string

const (
	Validation         Kind = "VALIDATION_ERROR"
	NotFound           Kind = "NOT_FOUND"
	Unauthorized       Kind = "UNAUTHORIZED"
	Forbidden          Kind = "FORBIDDEN"
	SeatConflict       Kind = "SEAT_CONFLICT"
	InsufficientStock  Kind = "INSUFFICIENT_STOCK"
	ReservationExpired Kind = "RESERVATION_EXPIRED"
	EmptyCart          Kind = "EMPTY_CART"
	GatewayUnavailable Kind = "GATEWAY_UNAVAILABLE"
	PaymentNotFound    Kind = "PAYMENT_NOT_FOUND"
	Internal           Kind = "INTERNAL"
)

// Error is the single error type crossing package boundaries. Seats is filled
// for SeatConflict and ReservationExpired so clients can deselect just those.
type Error struct {
	Kind    Kind
	Message string
	Seats   []string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + ": " + e.Message
	if len(e.Seats) > 0 {
		msg += " [" + strings.Join(e.Seats, ", ") + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode maps the kind onto the HTTP status returned at the request boundary.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case Validation, EmptyCart:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound, PaymentNotFound:
		return http.StatusNotFound
	case SeatConflict, InsufficientStock, ReservationExpired:
		return http.StatusConflict
	case GatewayUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Conflict(seats []string) *Error {
	return &Error{Kind: SeatConflict, Message: "seats are not available", Seats: seats}
}

func Expired(seats []string) *Error {
	return &Error{Kind: ReservationExpired, Message: "seat reservation expired, lock the seats again", Seats: seats}
}

// KindOf returns Internal for errors that are not *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// From returns err as *Error, wrapping unknown errors as Internal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: Internal, Message: "internal error", Err: err}
}
