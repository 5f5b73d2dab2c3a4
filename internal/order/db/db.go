// Package db is the Postgres order store built on bun.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-boxoffice/internal/apperr"
	"ms-boxoffice/internal/models"
)

type DB struct {
	Bun *bun.DB
}

// ---------------- ORDERS ----------------

// Insert writes the order, its items and its payment in one transaction.
func (d *DB) Insert(ctx context.Context, o *models.Order) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(o).Exec(ctx); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if len(o.Items) > 0 {
			for i := range o.Items {
				o.Items[i].OrderID = o.ID
			}
			if _, err := tx.NewInsert().Model(&o.Items).Exec(ctx); err != nil {
				return fmt.Errorf("insert order items: %w", err)
			}
		}
		if o.Payment != nil {
			o.Payment.OrderID = o.ID
			if _, err := tx.NewInsert().Model(o.Payment).Exec(ctx); err != nil {
				return fmt.Errorf("insert payment: %w", err)
			}
		}
		return nil
	})
}

func (d *DB) selectOrders(model interface{}) *bun.SelectQuery {
	return d.Bun.NewSelect().
		Model(model).
		Relation("Items", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("position ASC")
		}).
		Relation("Payment")
}

// GetOrder fetches an order with its items and payment.
func (d *DB) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	o := new(models.Order)
	err := d.selectOrders(o).Where("?TableAlias.id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "order %s not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "get order %s", id)
	}
	return o, nil
}

// ListByUser → every order of the user, newest first
func (d *DB) ListByUser(ctx context.Context, userID string) ([]models.Order, error) {
	orders := []models.Order{}
	err := d.selectOrders(&orders).
		Where("?TableAlias.user_id = ?", userID).
		OrderExpr("?TableAlias.created_at DESC, ?TableAlias.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "list orders of %s", userID)
	}
	return orders, nil
}

// PaidOrders → PAID orders holding a seat of the showtime
func (d *DB) PaidOrders(ctx context.Context, showtimeID string) ([]models.Order, error) {
	orders := []models.Order{}
	err := d.selectOrders(&orders).
		Where("?TableAlias.status = ?", models.OrderPaid).
		Where("EXISTS (SELECT 1 FROM order_items AS oi WHERE oi.order_id = ?TableAlias.id AND oi.kind = ? AND oi.showtime_id = ?)", models.ItemTicket, showtimeID).
		OrderExpr("?TableAlias.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "paid orders of %s", showtimeID)
	}
	return orders, nil
}

// TransitionOrder is a compare-and-swap on orders.status. The payment row
// follows in the same transaction when payment is set.
func (d *DB) TransitionOrder(ctx context.Context, id string, from, to models.OrderStatus, payment models.PaymentStatus, at time.Time) (bool, error) {
	changed := false
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Order)(nil)).
			Set("status = ?", to).
			Set("updated_at = ?", at).
			Where("id = ?", id).
			Where("status = ?", from).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return nil
		}
		changed = true

		if payment == "" {
			return nil
		}
		_, err = tx.NewUpdate().
			Model((*models.Payment)(nil)).
			Set("status = ?", payment).
			Set("updated_at = ?", at).
			Where("order_id = ?", id).
			Exec(ctx)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("transition order %s: %w", id, err)
	}
	return changed, nil
}

// ListExpirable → ids of PENDING orders past their window, oldest first
func (d *DB) ListExpirable(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := d.Bun.NewSelect().
		Model((*models.Order)(nil)).
		Column("id").
		Where("status = ?", models.OrderPending).
		Where("expires_at < ?", now).
		Order("expires_at ASC").
		Limit(limit).
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("list expirable orders: %w", err)
	}
	return ids, nil
}

// ---------------- SEATS ----------------

type seatRow struct {
	Row    string `bun:"seat_row"`
	Number int    `bun:"seat_number"`
}

// OccupiedSeats → seats of PAID orders and of PENDING orders still in their window
func (d *DB) OccupiedSeats(ctx context.Context, showtimeID string, now time.Time) ([]models.SeatRef, error) {
	var rows []seatRow
	err := d.Bun.NewSelect().
		TableExpr("order_items AS oi").
		ColumnExpr("oi.seat_row, oi.seat_number").
		Join("JOIN orders AS o ON o.id = oi.order_id").
		Where("oi.showtime_id = ?", showtimeID).
		Where("oi.kind = ?", models.ItemTicket).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("o.status = ?", models.OrderPaid).
				WhereGroup(" OR ", func(q *bun.SelectQuery) *bun.SelectQuery {
					return q.
						Where("o.status = ?", models.OrderPending).
						Where("o.expires_at >= ?", now)
				})
		}).
		OrderExpr("oi.seat_row ASC, oi.seat_number ASC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("occupied seats of %s: %w", showtimeID, err)
	}
	out := make([]models.SeatRef, len(rows))
	for i, r := range rows {
		out[i] = models.SeatRef{Row: r.Row, Number: r.Number}
	}
	return out, nil
}

// ---------------- PAYMENTS ----------------

func (d *DB) AttachPaymentRequest(ctx context.Context, paymentID, reference, externalID, artifact string, at time.Time) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.Payment)(nil)).
		Set("reference = ?", reference).
		Set("external_id = ?", nullable(externalID)).
		Set("artifact = ?", nullable(artifact)).
		Set("updated_at = ?", at).
		Where("id = ?", paymentID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("attach payment request: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return apperr.New(apperr.NotFound, "payment %s not found", paymentID)
	}
	return nil
}

// FindPayment resolves ref as a gateway reference, then an external id,
// then an order id.
func (d *DB) FindPayment(ctx context.Context, ref string) (*models.Payment, error) {
	if ref == "" {
		return nil, apperr.New(apperr.PaymentNotFound, "empty payment reference")
	}
	for _, column := range []string{"reference", "external_id", "order_id"} {
		p := new(models.Payment)
		err := d.Bun.NewSelect().Model(p).Where("? = ?", bun.Ident(column), ref).Limit(1).Scan(ctx)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.Wrap(apperr.Internal, err, "find payment")
		}
	}
	return nil, apperr.New(apperr.PaymentNotFound, "no payment matches %q", ref)
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
