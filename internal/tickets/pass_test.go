package tickets

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-boxoffice/internal/apperr"
	"ms-boxoffice/internal/models"
)

func paidOrder() *models.Order {
	return &models.Order{
		ID:     "order-1",
		Status: models.OrderPaid,
		Items: []models.OrderItem{
			{Kind: models.ItemTicket, ShowtimeID: "show-1", Row: "B", SeatNumber: 4, Quantity: 1},
			{Kind: models.ItemProduct, ProductID: "popcorn", Quantity: 2},
			{Kind: models.ItemTicket, ShowtimeID: "show-1", Row: "B", SeatNumber: 5, Quantity: 1},
		},
	}
}

func TestIssueAndOpen(t *testing.T) {
	iss, err := NewIssuer("door-secret")
	require.NoError(t, err)
	now := time.Date(2026, 10, 20, 19, 0, 0, 0, time.UTC)

	tickets, err := iss.Issue(paidOrder(), now)
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.Equal(t, "B-4", tickets[0].Seat)
	assert.True(t, strings.HasPrefix(tickets[1].QR, "data:image/png;base64,"))
	assert.NotEqual(t, tickets[0].Code, tickets[1].Code)

	pass, err := iss.Open(tickets[1].Code)
	require.NoError(t, err)
	assert.Equal(t, "order-1", pass.OrderID)
	assert.Equal(t, "B-5", pass.Label())
	assert.True(t, now.Equal(pass.IssuedAt))
}

func TestOpenRejectsForeignAndTamperedCodes(t *testing.T) {
	iss, err := NewIssuer("door-secret")
	require.NoError(t, err)
	other, err := NewIssuer("another-secret")
	require.NoError(t, err)

	tickets, err := other.Issue(paidOrder(), time.Now())
	require.NoError(t, err)

	_, err = iss.Open(tickets[0].Code)
	assert.True(t, apperr.Is(err, apperr.Validation))

	code := []byte(tickets[0].Code)
	code[len(code)/2] ^= 1
	_, err = other.Open(string(code))
	assert.Error(t, err)

	_, err = iss.Open("!!not-base64!!")
	assert.True(t, apperr.Is(err, apperr.Validation))
}

func TestIssueRequiresPaidOrder(t *testing.T) {
	iss, err := NewIssuer("door-secret")
	require.NoError(t, err)
	o := paidOrder()
	o.Status = models.OrderPending
	_, err = iss.Issue(o, time.Now())
	assert.True(t, apperr.Is(err, apperr.Validation))
}
