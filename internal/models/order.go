package models

import (
	"time"

	"github.com/uptrace/bun"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderPaid      OrderStatus = "PAID"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderExpired   OrderStatus = "EXPIRED"
)

func (s OrderStatus) Terminal() bool {
	return s == OrderPaid || s == OrderCancelled || s == OrderExpired
}

type Channel string

const (
	ChannelWeb    Channel = "WEB"
	ChannelMobile Channel = "MOBILE"
	ChannelPOS    Channel = "POS"
)

type ItemKind string

const (
	ItemTicket  ItemKind = "TICKET"
	ItemProduct ItemKind = "PRODUCT"
)

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID     string `bun:"id,pk" json:"id"`
	UserID string `bun:"user_id,nullzero" json:"userId,omitempty"`
	// HolderID is the lock holder the order was built from; anonymous
	// requesters prove ownership with it.
	HolderID   string      `bun:"holder_id,notnull" json:"-"`
	// Holder echoes the anonymous holder id on creation only.
	Holder     string      `bun:"-" json:"holderId,omitempty"`
	Status     OrderStatus `bun:"status,notnull" json:"status"`
	Channel    Channel     `bun:"channel,notnull" json:"channel"`
	Currency   string      `bun:"currency,notnull" json:"currency"`
	Subtotal   int64       `bun:"subtotal" json:"subtotal"`
	Discount   int64       `bun:"discount" json:"discount"`
	ServiceFee int64       `bun:"service_fee" json:"serviceFee"`
	Total      int64       `bun:"total" json:"total"`
	ExpiresAt  time.Time   `bun:"expires_at,notnull" json:"expiresAt"`
	CreatedAt  time.Time   `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt  time.Time   `bun:"updated_at,notnull" json:"updatedAt"`

	Items   []OrderItem `bun:"rel:has-many,join:id=order_id" json:"items"`
	Payment *Payment    `bun:"rel:has-one,join:id=order_id" json:"payment,omitempty"`
}

// ExpiredAt reports whether a PENDING order has outlived its window.
func (o *Order) ExpiredAt(now time.Time) bool {
	return o.Status == OrderPending && now.After(o.ExpiresAt)
}

// Occupies reports whether the order's seats count as sold at now.
func (o *Order) Occupies(now time.Time) bool {
	switch o.Status {
	case OrderPaid:
		return true
	case OrderPending:
		return !now.After(o.ExpiresAt)
	default:
		return false
	}
}

func (o *Order) SeatKeys() []SeatKey {
	var keys []SeatKey
	for _, it := range o.Items {
		if it.Kind == ItemTicket {
			keys = append(keys, NewSeatKey(it.ShowtimeID, it.Row, it.SeatNumber))
		}
	}
	return keys
}

func (o *Order) SeatLabels() []string {
	var labels []string
	for _, k := range o.SeatKeys() {
		labels = append(labels, k.Label())
	}
	return labels
}

type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	ID         int64    `bun:"id,pk,autoincrement" json:"-"`
	OrderID    string   `bun:"order_id,notnull" json:"-"`
	Position   int      `bun:"position" json:"-"`
	Kind       ItemKind `bun:"kind,notnull" json:"kind"`
	ShowtimeID string   `bun:"showtime_id,nullzero" json:"showtimeId,omitempty"`
	Row        string   `bun:"seat_row,nullzero" json:"row,omitempty"`
	SeatNumber int      `bun:"seat_number,nullzero" json:"seatNumber,omitempty"`
	SeatType   SeatType `bun:"seat_type,nullzero" json:"seatType,omitempty"`
	Zone       string   `bun:"zone,nullzero" json:"zone,omitempty"`
	ProductID  string   `bun:"product_id,nullzero" json:"productId,omitempty"`
	Quantity   int      `bun:"quantity,notnull" json:"quantity"`
	UnitPrice  int64    `bun:"unit_price" json:"unitPrice"`
	// TotalPrice is Quantity x UnitPrice before promotions.
	TotalPrice int64 `bun:"total_price" json:"totalPrice"`
	Discount   int64 `bun:"discount" json:"discount"`
}

// LineItem is one requested line of a cart before pricing.
type LineItem struct {
	Kind       ItemKind `json:"kind" validate:"required,oneof=TICKET PRODUCT"`
	ShowtimeID string   `json:"showtimeId,omitempty" validate:"required_if=Kind TICKET"`
	Row        string   `json:"row,omitempty" validate:"required_if=Kind TICKET,max=8"`
	SeatNumber int      `json:"seatNumber,omitempty" validate:"required_if=Kind TICKET,gte=0"`
	ProductID  string   `json:"productId,omitempty" validate:"required_if=Kind PRODUCT"`
	Quantity   int      `json:"quantity,omitempty" validate:"gte=0,lte=50"`
}

func (l LineItem) SeatKey() SeatKey {
	return NewSeatKey(l.ShowtimeID, l.Row, l.SeatNumber)
}
