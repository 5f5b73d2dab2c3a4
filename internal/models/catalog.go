package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Showtime struct {
	bun.BaseModel `bun:"table:showtimes"`

	ID            string    `bun:"id,pk" json:"id" yaml:"id"`
	MovieID       string    `bun:"movie_id,notnull" json:"movieId" yaml:"movieId"`
	RoomID        string    `bun:"room_id,notnull" json:"roomId" yaml:"roomId"`
	StartsAt      time.Time `bun:"starts_at,notnull" json:"startsAt" yaml:"startsAt"`
	Format        string    `bun:"format" json:"format,omitempty" yaml:"format"`
	Language      string    `bun:"language" json:"language,omitempty" yaml:"language"`
	Subtitled     bool      `bun:"subtitled" json:"subtitled" yaml:"subtitled"`
	PricingRuleID string    `bun:"pricing_rule_id,nullzero" json:"pricingRuleId,omitempty" yaml:"pricingRuleId"`
}

type Room struct {
	bun.BaseModel `bun:"table:rooms"`

	ID   string    `bun:"id,pk" json:"id" yaml:"id"`
	Name string    `bun:"name" json:"name" yaml:"name"`
	Rows []SeatRow `bun:"layout,type:jsonb" json:"rows" yaml:"rows"`
}

type SeatRow struct {
	Label string `json:"label" yaml:"label"`
	Seats []Seat `json:"seats" yaml:"seats"`
}

type Seat struct {
	Number int      `json:"number" yaml:"number"`
	Type   SeatType `json:"type" yaml:"type"`
	Zone   string   `json:"zone,omitempty" yaml:"zone"`
}

// FindSeat looks a seat up in the layout.
func (r *Room) FindSeat(ref SeatRef) (Seat, bool) {
	for _, row := range r.Rows {
		if row.Label != ref.Row {
			continue
		}
		for _, s := range row.Seats {
			if s.Number == ref.Number {
				if s.Type == "" {
					s.Type = SeatStandard
				}
				return s, true
			}
		}
	}
	return Seat{}, false
}

type PricingRule struct {
	bun.BaseModel `bun:"table:pricing_rules"`

	ID string `bun:"id,pk" json:"id" yaml:"id"`
	// ShowtimeID scopes the rule; empty means the rule is only reachable
	// through Showtime.PricingRuleID.
	ShowtimeID string   `bun:"showtime_id,nullzero" json:"showtimeId,omitempty" yaml:"showtimeId"`
	SeatType   SeatType `bun:"seat_type,notnull" json:"seatType" yaml:"seatType"`
	BasePrice  int64    `bun:"base_price,notnull" json:"basePrice" yaml:"basePrice"`
}

type Product struct {
	bun.BaseModel `bun:"table:products"`

	ID         string `bun:"id,pk" json:"id" yaml:"id"`
	Name       string `bun:"name" json:"name" yaml:"name"`
	Price      int64  `bun:"price,notnull" json:"price" yaml:"price"`
	TrackStock bool   `bun:"track_stock" json:"trackStock" yaml:"trackStock"`
	Stock      int    `bun:"stock" json:"stock" yaml:"stock"`
	Active     bool   `bun:"active" json:"active" yaml:"active"`
}

type PromotionKind string

const (
	PromoDayOfWeekTicket PromotionKind = "DAY_OF_WEEK_TICKET"
	PromoProductCombo    PromotionKind = "PRODUCT_COMBO"
)

type Promotion struct {
	bun.BaseModel `bun:"table:promotions"`

	ID   string        `bun:"id,pk" json:"id" yaml:"id"`
	Name string        `bun:"name" json:"name" yaml:"name"`
	Kind PromotionKind `bun:"kind,notnull" json:"kind" yaml:"kind"`
	// Weekday applies to DAY_OF_WEEK_TICKET (0 = Sunday).
	Weekday time.Weekday `bun:"weekday" json:"weekday" yaml:"weekday"`
	// ProductID and DiscountFraction apply to PRODUCT_COMBO.
	ProductID        string    `bun:"product_id,nullzero" json:"productId,omitempty" yaml:"productId"`
	DiscountFraction float64   `bun:"discount_fraction" json:"discountFraction,omitempty" yaml:"discountFraction"`
	Active           bool      `bun:"active" json:"active" yaml:"active"`
	ValidFrom        time.Time `bun:"valid_from,nullzero" json:"validFrom,omitempty" yaml:"validFrom"`
	ValidUntil       time.Time `bun:"valid_until,nullzero" json:"validUntil,omitempty" yaml:"validUntil"`
}

// InEffect reports whether the promotion applies at now.
func (p *Promotion) InEffect(now time.Time) bool {
	if !p.Active {
		return false
	}
	if !p.ValidFrom.IsZero() && now.Before(p.ValidFrom) {
		return false
	}
	if !p.ValidUntil.IsZero() && now.After(p.ValidUntil) {
		return false
	}
	return true
}
