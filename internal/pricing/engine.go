// Package pricing turns cart lines into frozen prices. All amounts are in
// the currency's minor unit.
package pricing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"ms-boxoffice/internal/apperr"
	"ms-boxoffice/internal/catalog"
	"ms-boxoffice/internal/models"
)

type Config struct {
	ServiceFeeRate float64
	// DefaultPrices apply when no pricing rule covers a seat type.
	DefaultPrices map[models.SeatType]int64
	// Location decides the weekday for day-of-week promotions.
	Location *time.Location
}

type Engine struct {
	Catalog catalog.Provider
	Config  Config
}

func NewEngine(c catalog.Provider, cfg Config) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Engine{Catalog: c, Config: cfg}
}

type Context struct {
	Now time.Time
}

type Line struct {
	Kind       models.ItemKind `json:"kind"`
	ShowtimeID string          `json:"showtimeId,omitempty"`
	Row        string          `json:"row,omitempty"`
	SeatNumber int             `json:"seatNumber,omitempty"`
	SeatType   models.SeatType `json:"seatType,omitempty"`
	Zone       string          `json:"zone,omitempty"`
	ProductID  string          `json:"productId,omitempty"`
	Quantity   int             `json:"quantity"`
	UnitPrice  int64           `json:"unitPrice"`
	TotalPrice int64           `json:"totalPrice"`
	// Discount is this line's share, rounded for display. Quote.Discount is
	// rounded from the exact sum, not from these.
	Discount int64 `json:"discount"`
}

type Quote struct {
	Lines      []Line `json:"lines"`
	Subtotal   int64  `json:"subtotal"`
	Discount   int64  `json:"discount"`
	ServiceFee int64  `json:"serviceFee"`
	Total      int64  `json:"total"`
}

// Price is deterministic for identical inputs, catalog state and pc.Now.
func (e *Engine) Price(ctx context.Context, items []models.LineItem, pc Context) (*Quote, error) {
	if len(items) == 0 {
		return nil, apperr.New(apperr.EmptyCart, "cart is empty")
	}

	promos, err := e.activePromotions(ctx, pc.Now)
	if err != nil {
		return nil, err
	}

	q := &Quote{Lines: make([]Line, 0, len(items))}
	subtotal := decimal.Zero
	discount := decimal.Zero
	rooms := map[string]*models.Room{}

	for _, item := range items {
		var line Line
		switch item.Kind {
		case models.ItemTicket:
			line, err = e.priceTicket(ctx, item, rooms)
		case models.ItemProduct:
			line, err = e.priceProduct(ctx, item)
		default:
			err = apperr.New(apperr.Validation, "unknown item kind %q", item.Kind)
		}
		if err != nil {
			return nil, err
		}

		lineDiscount := e.lineDiscount(line, promos, pc.Now)
		line.Discount = lineDiscount.Round(0).IntPart()

		subtotal = subtotal.Add(decimal.NewFromInt(line.TotalPrice))
		discount = discount.Add(lineDiscount)
		q.Lines = append(q.Lines, line)
	}

	net := subtotal.Sub(discount)
	if net.IsNegative() {
		net = decimal.Zero
	}
	fee := net.Mul(decimal.NewFromFloat(e.Config.ServiceFeeRate)).Round(0)

	q.Subtotal = subtotal.IntPart()
	q.Discount = discount.Round(0).IntPart()
	q.ServiceFee = fee.IntPart()
	q.Total = q.Subtotal - q.Discount + q.ServiceFee
	return q, nil
}

func (e *Engine) priceTicket(ctx context.Context, item models.LineItem, rooms map[string]*models.Room) (Line, error) {
	if item.Quantity > 1 {
		return Line{}, apperr.New(apperr.Validation, "a ticket line holds exactly one seat")
	}
	show, err := e.Catalog.GetShowtime(ctx, item.ShowtimeID)
	if err != nil {
		return Line{}, err
	}
	room, ok := rooms[show.RoomID]
	if !ok {
		room, err = e.Catalog.GetRoomLayout(ctx, show.RoomID)
		if err != nil {
			return Line{}, err
		}
		rooms[show.RoomID] = room
	}
	ref := models.SeatRef{Row: item.Row, Number: item.SeatNumber}
	seat, ok := room.FindSeat(ref)
	if !ok {
		return Line{}, &apperr.Error{Kind: apperr.Validation, Message: "seat does not exist in this room", Seats: []string{ref.Label()}}
	}

	unit, err := e.seatPrice(ctx, show.ID, seat.Type)
	if err != nil {
		return Line{}, err
	}
	return Line{
		Kind:       models.ItemTicket,
		ShowtimeID: show.ID,
		Row:        item.Row,
		SeatNumber: item.SeatNumber,
		SeatType:   seat.Type,
		Zone:       seat.Zone,
		Quantity:   1,
		UnitPrice:  unit,
		TotalPrice: unit,
	}, nil
}

func (e *Engine) seatPrice(ctx context.Context, showtimeID string, seatType models.SeatType) (int64, error) {
	rule, err := e.Catalog.FindPricingRule(ctx, showtimeID, seatType)
	if err != nil {
		return 0, err
	}
	if rule != nil {
		return rule.BasePrice, nil
	}
	if p, ok := e.Config.DefaultPrices[seatType]; ok {
		return p, nil
	}
	if p, ok := e.Config.DefaultPrices[models.SeatStandard]; ok {
		return p, nil
	}
	return 0, apperr.New(apperr.Internal, "no price configured for seat type %s", seatType)
}

func (e *Engine) priceProduct(ctx context.Context, item models.LineItem) (Line, error) {
	if item.Quantity <= 0 {
		return Line{}, apperr.New(apperr.Validation, "product %s needs a positive quantity", item.ProductID)
	}
	p, err := e.Catalog.GetProduct(ctx, item.ProductID)
	if err != nil {
		return Line{}, err
	}
	if !p.Active {
		return Line{}, apperr.New(apperr.Validation, "product %s is not available", p.ID)
	}
	if p.TrackStock && item.Quantity > p.Stock {
		return Line{}, apperr.New(apperr.InsufficientStock, "product %s has %d left, %d requested", p.ID, p.Stock, item.Quantity)
	}
	return Line{
		Kind:       models.ItemProduct,
		ProductID:  p.ID,
		Quantity:   item.Quantity,
		UnitPrice:  p.Price,
		TotalPrice: p.Price * int64(item.Quantity),
	}, nil
}

func (e *Engine) activePromotions(ctx context.Context, now time.Time) ([]models.Promotion, error) {
	all, err := e.Catalog.ListPromotions(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.Promotion
	for _, p := range all {
		if p.InEffect(now) {
			out = append(out, p)
		}
	}
	return out, nil
}

// lineDiscount sums every promotion that applies to the line, capped at the
// line total. The day-of-week promotion looks at one line at a time, so a
// ticket line (always quantity 1) never earns the free seat.
func (e *Engine) lineDiscount(line Line, promos []models.Promotion, now time.Time) decimal.Decimal {
	total := decimal.NewFromInt(line.TotalPrice)
	d := decimal.Zero
	weekday := now.In(e.Config.Location).Weekday()

	for _, p := range promos {
		switch p.Kind {
		case models.PromoDayOfWeekTicket:
			if line.Kind != models.ItemTicket || p.Weekday != weekday {
				continue
			}
			free := int64(line.Quantity / 2)
			d = d.Add(decimal.NewFromInt(free * line.UnitPrice))
		case models.PromoProductCombo:
			if line.Kind != models.ItemProduct || p.ProductID != line.ProductID {
				continue
			}
			d = d.Add(total.Mul(decimal.NewFromFloat(p.DiscountFraction)))
		}
	}
	if d.GreaterThan(total) {
		return total
	}
	return d
}
