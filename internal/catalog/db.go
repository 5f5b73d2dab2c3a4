package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"ms-boxoffice/internal/apperr"
	"ms-boxoffice/internal/models"
)

// DB serves the catalog from the shared Postgres schema.
type DB struct {
	Bun *bun.DB
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.New(apperr.NotFound, format, args...)
	}
	return apperr.Wrap(apperr.Internal, err, format, args...)
}

func (d *DB) GetShowtime(ctx context.Context, id string) (*models.Showtime, error) {
	s := new(models.Showtime)
	if err := d.Bun.NewSelect().Model(s).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, notFound(err, "showtime %s not found", id)
	}
	return s, nil
}

func (d *DB) GetRoomLayout(ctx context.Context, roomID string) (*models.Room, error) {
	r := new(models.Room)
	if err := d.Bun.NewSelect().Model(r).Where("id = ?", roomID).Scan(ctx); err != nil {
		return nil, notFound(err, "room %s not found", roomID)
	}
	return r, nil
}

func (d *DB) GetPricingRule(ctx context.Context, id string) (*models.PricingRule, error) {
	p := new(models.PricingRule)
	if err := d.Bun.NewSelect().Model(p).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, notFound(err, "pricing rule %s not found", id)
	}
	return p, nil
}

func (d *DB) FindPricingRule(ctx context.Context, showtimeID string, seatType models.SeatType) (*models.PricingRule, error) {
	p := new(models.PricingRule)
	err := d.Bun.NewSelect().Model(p).
		Where("showtime_id = ?", showtimeID).
		Where("seat_type = ?", seatType).
		OrderExpr("id ASC").
		Limit(1).
		Scan(ctx)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Wrap(apperr.Internal, err, "find pricing rule")
	}

	show, err := d.GetShowtime(ctx, showtimeID)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	if show.PricingRuleID == "" {
		return nil, nil
	}
	rule, err := d.GetPricingRule(ctx, show.PricingRuleID)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	if rule.SeatType != seatType {
		return nil, nil
	}
	return rule, nil
}

func (d *DB) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	p := new(models.Product)
	if err := d.Bun.NewSelect().Model(p).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, notFound(err, "product %s not found", id)
	}
	return p, nil
}

func (d *DB) ListPromotions(ctx context.Context) ([]models.Promotion, error) {
	var out []models.Promotion
	if err := d.Bun.NewSelect().Model(&out).OrderExpr("id ASC").Scan(ctx); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "list promotions")
	}
	return out, nil
}

// DecrementStock is a single conditional UPDATE so concurrent payments can
// never drive stock below zero.
func (d *DB) DecrementStock(ctx context.Context, productID string, qty int) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.Product)(nil)).
		Set("stock = stock - ?", qty).
		Where("id = ?", productID).
		Where("track_stock = ?", true).
		Where("stock >= ?", qty).
		Exec(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "decrement stock for %s", productID)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	p, err := d.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if !p.TrackStock {
		return nil
	}
	return apperr.New(apperr.InsufficientStock, "product %s has %d left, %d requested", productID, p.Stock, qty)
}

// CreateTables creates the catalog tables when they are missing.
func (d *DB) CreateTables(ctx context.Context) error {
	for _, model := range []interface{}{
		(*models.Room)(nil),
		(*models.Showtime)(nil),
		(*models.PricingRule)(nil),
		(*models.Product)(nil),
		(*models.Promotion)(nil),
	} {
		if _, err := d.Bun.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create catalog table: %w", err)
		}
	}
	return nil
}

// Import upserts a seed document.
func (d *DB) Import(ctx context.Context, seed *Seed) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		upsert := func(model interface{}) error {
			_, err := tx.NewInsert().Model(model).On("CONFLICT (id) DO UPDATE").Exec(ctx)
			return err
		}
		if len(seed.Rooms) > 0 {
			if err := upsert(&seed.Rooms); err != nil {
				return fmt.Errorf("import rooms: %w", err)
			}
		}
		if len(seed.PricingRules) > 0 {
			if err := upsert(&seed.PricingRules); err != nil {
				return fmt.Errorf("import pricing rules: %w", err)
			}
		}
		if len(seed.Showtimes) > 0 {
			if err := upsert(&seed.Showtimes); err != nil {
				return fmt.Errorf("import showtimes: %w", err)
			}
		}
		if len(seed.Products) > 0 {
			if err := upsert(&seed.Products); err != nil {
				return fmt.Errorf("import products: %w", err)
			}
		}
		if len(seed.Promotions) > 0 {
			if err := upsert(&seed.Promotions); err != nil {
				return fmt.Errorf("import promotions: %w", err)
			}
		}
		return nil
	})
}
