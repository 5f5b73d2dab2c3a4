// Package catalog is the read side of rooms, showtimes, prices, products and
// promotions. Catalog editing happens elsewhere; the only write is the
// concession stock counter.
package catalog

import (
	"context"

	"ms-boxoffice/internal/models"
)

type Provider interface {
	GetShowtime(ctx context.Context, id string) (*models.Showtime, error)
	GetRoomLayout(ctx context.Context, roomID string) (*models.Room, error)
	GetPricingRule(ctx context.Context, id string) (*models.PricingRule, error)
	// FindPricingRule returns nil, nil when no rule prices seatType for the showtime.
	FindPricingRule(ctx context.Context, showtimeID string, seatType models.SeatType) (*models.PricingRule, error)
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	ListPromotions(ctx context.Context) ([]models.Promotion, error)
	// DecrementStock fails with InsufficientStock rather than going negative.
	DecrementStock(ctx context.Context, productID string, qty int) error
}

// Seed is the YAML document shape used to load a catalog.
type Seed struct {
	Rooms        []models.Room        `yaml:"rooms"`
	Showtimes    []models.Showtime    `yaml:"showtimes"`
	PricingRules []models.PricingRule `yaml:"pricingRules"`
	Products     []models.Product     `yaml:"products"`
	Promotions   []models.Promotion   `yaml:"promotions"`
}
