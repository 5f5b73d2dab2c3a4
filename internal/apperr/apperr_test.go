package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCodes(t *testing.T) {
	cases := map[Kind]int{
		Validation:         http.StatusBadRequest,
		EmptyCart:          http.StatusBadRequest,
		NotFound:           http.StatusNotFound,
		PaymentNotFound:    http.StatusNotFound,
		Forbidden:          http.StatusForbidden,
		Unauthorized:       http.StatusUnauthorized,
		SeatConflict:       http.StatusConflict,
		InsufficientStock:  http.StatusConflict,
		ReservationExpired: http.StatusConflict,
		GatewayUnavailable: http.StatusBadGateway,
		Internal:           http.StatusInternalServerError,
	}
	for kind, code := range cases {
		assert.Equal(t, code, New(kind, "x").StatusCode(), string(kind))
	}
}

func TestKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("create order: %w", Conflict([]string{"A-1", "A-2"}))

	assert.True(t, Is(err, SeatConflict))
	assert.Equal(t, SeatConflict, KindOf(err))
	assert.Equal(t, []string{"A-1", "A-2"}, From(err).Seats)
	assert.Contains(t, err.Error(), "A-1, A-2")
}

func TestFromUnknownError(t *testing.T) {
	base := errors.New("boom")
	e := From(base)

	assert.Equal(t, Internal, e.Kind)
	assert.ErrorIs(t, e, base)
	assert.Equal(t, Internal, KindOf(base))
}
