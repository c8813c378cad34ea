package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-ticket-gate/internal/models"
)

// DB is the bun-backed order store. Postgres in production, SQLite in tests.
type DB struct {
	Bun *bun.DB
}

func New(bunDB *bun.DB) *DB {
	return &DB{Bun: bunDB}
}

// Put inserts the order. When the id already exists only the cached
// rendering is refreshed; status and the issuance fields are never touched.
func (d *DB) Put(ctx context.Context, order *models.Order) error {
	_, err := d.Bun.NewInsert().
		Model(order).
		On("CONFLICT (id) DO UPDATE").
		Set("qr_code = EXCLUDED.qr_code").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", order.ID, err)
	}
	return nil
}

func (d *DB) Get(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select order %s: %w", id, err)
	}
	return &order, nil
}

// IndexByCreationTime returns up to limit ids, most recent first.
func (d *DB) IndexByCreationTime(ctx context.Context, limit int) ([]string, error) {
	var ids []string
	err := d.Bun.NewSelect().
		Model((*models.Order)(nil)).
		Column("id").
		OrderExpr("created_at DESC, id DESC").
		Limit(limit).
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("list order ids: %w", err)
	}
	return ids, nil
}

// CompareAndSetStatus moves the order from expected to next in a single
// conditional UPDATE that returns the new row. Zero affected rows means either
// the id is unknown or another caller got there first; only then is the row
// read again to tell them apart.
func (d *DB) CompareAndSetStatus(ctx context.Context, id string, expected, next models.Status, usedAt *time.Time) (*models.Order, error) {
	var order models.Order
	res, err := d.Bun.NewUpdate().
		Model(&order).
		Set("status = ?", next).
		Set("used_at = ?", usedAt).
		Where("id = ?", id).
		Where("status = ?", expected).
		Returning("*").
		Exec(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update order %s status: %w", id, err)
	}

	var affected int64
	if err == nil {
		if affected, err = res.RowsAffected(); err != nil {
			return nil, fmt.Errorf("update order %s status: %w", id, err)
		}
	}
	if affected > 0 {
		return &order, nil
	}

	current, err := d.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return current, models.ErrStatusConflict
}

// CreateSchema creates the orders table if missing. Tests use it; deployed
// databases get their schema from migrations.
func CreateSchema(ctx context.Context, bunDB *bun.DB) error {
	_, err := bunDB.NewCreateTable().
		Model((*models.Order)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create ticket_orders table: %w", err)
	}
	_, err = bunDB.NewCreateIndex().
		Model((*models.Order)(nil)).
		Index("ticket_orders_created_at_idx").
		IfNotExists().
		Column("created_at", "id").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create ticket_orders index: %w", err)
	}
	return nil
}
