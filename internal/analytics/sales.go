// Package analytics aggregates what a showtime has sold: seats by type,
// concessions, channels and daily revenue.
package analytics

import (
	"context"
	"sort"
	"time"

	"ms-boxoffice/internal/models"
)

// Source lists PAID orders that hold at least one seat of a showtime, items
// included.
type Source interface {
	PaidOrders(ctx context.Context, showtimeID string) ([]models.Order, error)
}

type Service struct {
	Source Source
	// Location decides which calendar day a sale falls on.
	Location *time.Location
}

// ShowtimeSales is the sales summary of one showtime in minor units.
// Gross, Discount, ServiceFees and Revenue cover whole orders, so concessions
// bought together with the seats are included.
type ShowtimeSales struct {
	ShowtimeID  string          `json:"showtimeId"`
	Orders      int             `json:"orders"`
	TicketsSold int             `json:"ticketsSold"`
	Gross       int64           `json:"gross"`
	Discount    int64           `json:"discount"`
	ServiceFees int64           `json:"serviceFees"`
	Revenue     int64           `json:"revenue"`
	BySeatType  []SeatTypeSales `json:"bySeatType"`
	ByChannel   []ChannelSales  `json:"byChannel"`
	Products    []ProductSales  `json:"products"`
	DailySales  []DailySales    `json:"dailySales"`
}

type SeatTypeSales struct {
	SeatType    models.SeatType `json:"seatType"`
	TicketsSold int             `json:"ticketsSold"`
	Revenue     int64           `json:"revenue"`
}

type ChannelSales struct {
	Channel models.Channel `json:"channel"`
	Orders  int            `json:"orders"`
	Revenue int64          `json:"revenue"`
}

type ProductSales struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Revenue   int64  `json:"revenue"`
}

type DailySales struct {
	Date        string `json:"date"`
	Orders      int    `json:"orders"`
	TicketsSold int    `json:"ticketsSold"`
	Revenue     int64  `json:"revenue"`
}

// ShowtimeSales builds the summary. The sale date of a PAID order is its last
// status change, i.e. the payment approval.
func (s *Service) ShowtimeSales(ctx context.Context, showtimeID string) (*ShowtimeSales, error) {
	orders, err := s.Source.PaidOrders(ctx, showtimeID)
	if err != nil {
		return nil, err
	}
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}

	out := &ShowtimeSales{ShowtimeID: showtimeID}
	seatTypes := map[models.SeatType]*SeatTypeSales{}
	channels := map[models.Channel]*ChannelSales{}
	products := map[string]*ProductSales{}
	days := map[string]*DailySales{}

	for _, o := range orders {
		out.Orders++
		out.Gross += o.Subtotal
		out.Discount += o.Discount
		out.ServiceFees += o.ServiceFee
		out.Revenue += o.Total

		ch := channels[o.Channel]
		if ch == nil {
			ch = &ChannelSales{Channel: o.Channel}
			channels[o.Channel] = ch
		}
		ch.Orders++
		ch.Revenue += o.Total

		date := o.UpdatedAt.In(loc).Format(time.DateOnly)
		day := days[date]
		if day == nil {
			day = &DailySales{Date: date}
			days[date] = day
		}
		day.Orders++
		day.Revenue += o.Total

		for _, it := range o.Items {
			net := it.TotalPrice - it.Discount
			switch it.Kind {
			case models.ItemTicket:
				if it.ShowtimeID != showtimeID {
					continue
				}
				out.TicketsSold += it.Quantity
				day.TicketsSold += it.Quantity
				st := seatTypes[it.SeatType]
				if st == nil {
					st = &SeatTypeSales{SeatType: it.SeatType}
					seatTypes[it.SeatType] = st
				}
				st.TicketsSold += it.Quantity
				st.Revenue += net
			case models.ItemProduct:
				p := products[it.ProductID]
				if p == nil {
					p = &ProductSales{ProductID: it.ProductID}
					products[it.ProductID] = p
				}
				p.Quantity += it.Quantity
				p.Revenue += net
			}
		}
	}

	out.BySeatType = sorted(seatTypes, func(a, b *SeatTypeSales) bool { return a.SeatType < b.SeatType })
	out.ByChannel = sorted(channels, func(a, b *ChannelSales) bool { return a.Channel < b.Channel })
	out.Products = sorted(products, func(a, b *ProductSales) bool { return a.ProductID < b.ProductID })
	out.DailySales = sorted(days, func(a, b *DailySales) bool { return a.Date < b.Date })
	return out, nil
}

func sorted[K comparable, V any](m map[K]*V, less func(a, b *V) bool) []V {
	ptrs := make([]*V, 0, len(m))
	for _, v := range m {
		ptrs = append(ptrs, v)
	}
	sort.Slice(ptrs, func(i, j int) bool { return less(ptrs[i], ptrs[j]) })
	out := make([]V, len(ptrs))
	for i, p := range ptrs {
		out[i] = *p
	}
	return out
}
