package order

import (
	"context"
	"time"

	"ms-boxoffice/internal/models"
)

// Store persists orders together with their payment. Status changes only go
// through TransitionOrder, which is a compare-and-swap on the current status.
type Store interface {
	// Insert writes the order, its items and order.Payment atomically.
	Insert(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	// ListByUser returns the user's orders, most recent first.
	ListByUser(ctx context.Context, userID string) ([]models.Order, error)
	// TransitionOrder moves the order from -> to and, when payment is not
	// empty, sets the payment status in the same write. It reports false
	// when the order was no longer in from.
	TransitionOrder(ctx context.Context, id string, from, to models.OrderStatus, payment models.PaymentStatus, at time.Time) (bool, error)
	AttachPaymentRequest(ctx context.Context, paymentID, reference, externalID, artifact string, at time.Time) error
	// FindPayment matches ref against the gateway reference, the external
	// payment id and the order id, in that order.
	FindPayment(ctx context.Context, ref string) (*models.Payment, error)
	// OccupiedSeats lists seats held by PAID orders and by PENDING orders
	// whose expiresAt has not passed.
	OccupiedSeats(ctx context.Context, showtimeID string, now time.Time) ([]models.SeatRef, error)
	// PaidOrders returns PAID orders holding a seat of the showtime.
	PaidOrders(ctx context.Context, showtimeID string) ([]models.Order, error)
	// ListExpirable returns ids of PENDING orders past their expiresAt.
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// Events receives committed changes. Implementations must not block.
type Events interface {
	OrderCreated(ctx context.Context, o *models.Order)
	OrderTransitioned(ctx context.Context, o *models.Order, from models.OrderStatus)
	SeatsChanged(ctx context.Context, ev models.SeatStatusEvent)
}
