package db

import (
	"context"
	"fmt"

	"ms-boxoffice/internal/models"
)

// CreateTables builds the order tables when they are missing. Production
// schemas come from the SQL migrations; this serves tests and local runs.
func (d *DB) CreateTables(ctx context.Context) error {
	for _, model := range []interface{}{
		(*models.Order)(nil),
		(*models.OrderItem)(nil),
		(*models.Payment)(nil),
	} {
		if _, err := d.Bun.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexes := []struct{ name, table, columns string }{
		{"idx_orders_user_created", "orders", "user_id, created_at"},
		{"idx_orders_status_expires", "orders", "status, expires_at"},
		{"idx_order_items_showtime_seat", "order_items", "showtime_id, seat_row, seat_number"},
		{"idx_order_items_order", "order_items", "order_id"},
	}
	for _, idx := range indexes {
		_, err := d.Bun.NewCreateIndex().
			IfNotExists().
			Index(idx.name).
			Table(idx.table).
			ColumnExpr(idx.columns).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}
