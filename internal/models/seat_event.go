package models

import "time"

// OrderEvent is the message published on order creation and on every status
// transition.
type OrderEvent struct {
	Type       string      `json:"type"`
	OrderID    string      `json:"orderId"`
	UserID     string      `json:"userId,omitempty"`
	Status     OrderStatus `json:"status"`
	Previous   OrderStatus `json:"previousStatus,omitempty"`
	Total      int64       `json:"total"`
	Currency   string      `json:"currency"`
	Channel    Channel     `json:"channel"`
	Seats      []string    `json:"seats,omitempty"`
	OccurredAt time.Time   `json:"occurredAt"`
}

const (
	EventOrderCreated = "order.created"
	EventOrderUpdated = "order.updated"
	EventSeatsStatus  = "seats.status"
)

func NewOrderEvent(eventType string, o *Order, previous OrderStatus, at time.Time) OrderEvent {
	return OrderEvent{
		Type:       eventType,
		OrderID:    o.ID,
		UserID:     o.UserID,
		Status:     o.Status,
		Previous:   previous,
		Total:      o.Total,
		Currency:   o.Currency,
		Channel:    o.Channel,
		Seats:      o.SeatLabels(),
		OccurredAt: at,
	}
}
