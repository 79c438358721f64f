package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lonestartortillas/pricing-api/internal/domain/checkout"
	"github.com/lonestartortillas/pricing-api/internal/domain/discount"
	"github.com/lonestartortillas/pricing-api/internal/domain/ledger"
)

const (
	insertOrderSQL = `INSERT INTO orders (id, order_number, email, items, subtotal, discount_total, total, discounts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	countOrdersByEmailSQL = `SELECT COUNT(*) FROM orders WHERE LOWER(email) = LOWER($1)`

	lockCodeForUsageSQL = `SELECT max_usage_total, max_usage_per_email
		FROM discount_codes WHERE UPPER(code) = UPPER($1) FOR UPDATE`

	insertUsageSQL = `INSERT INTO usage_records (code, email, order_number, discount_applied)
		VALUES ($1, $2, $3, $4)
		RETURNING used_at`
)

var _ checkout.Repository = (*OrderRepository)(nil)

// OrderRepository implements checkout.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create writes the order and its usage records in one transaction. Each
// redeemed code's row is locked before the cap re-check, so two concurrent
// checkouts racing for the last use of a code serialize here: the loser gets
// discount.ErrUsageLimitExceeded and nothing is written.
func (r *OrderRepository) Create(ctx context.Context, o *checkout.Order, usages []ledger.Record) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encoding order items: %w", err)
	}
	discounts, err := json.Marshal(o.Discounts)
	if err != nil {
		return fmt.Errorf("encoding order discounts: %w", err)
	}

	// Locking codes in a stable order keeps two multi-code checkouts from
	// deadlocking each other.
	usages = append([]ledger.Record(nil), usages...)
	sort.Slice(usages, func(i, j int) bool { return usages[i].Code < usages[j].Code })

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create order: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, insertOrderSQL,
		o.ID, o.Number, o.Email, items, o.Subtotal, o.DiscountTotal, o.Total, discounts,
	).Scan(&o.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting order %s: %w", o.Number, err)
	}

	for i := range usages {
		u := &usages[i]

		var maxTotal, maxPerEmail int
		if err := tx.QueryRow(ctx, lockCodeForUsageSQL, u.Code).Scan(&maxTotal, &maxPerEmail); err != nil {
			return fmt.Errorf("locking code %q: %w", u.Code, err)
		}

		if maxTotal > 0 {
			var used int
			if err := tx.QueryRow(ctx, countTotalSQL, u.Code).Scan(&used); err != nil {
				return fmt.Errorf("counting usage for %q: %w", u.Code, err)
			}
			if used >= maxTotal {
				return discount.ErrUsageLimitExceeded
			}
		}
		if maxPerEmail > 0 {
			var used int
			if err := tx.QueryRow(ctx, countForEmailSQL, u.Code, u.Email).Scan(&used); err != nil {
				return fmt.Errorf("counting usage for %q by %q: %w", u.Code, u.Email, err)
			}
			if used >= maxPerEmail {
				return discount.ErrUsageLimitExceeded
			}
		}

		err = tx.QueryRow(ctx, insertUsageSQL,
			u.Code, u.Email, u.OrderNumber, u.DiscountApplied,
		).Scan(&u.UsedAt)
		if err != nil {
			return fmt.Errorf("recording usage of %q: %w", u.Code, err)
		}
	}

	return tx.Commit(ctx)
}

// CountByEmail returns how many orders a buyer has completed.
func (r *OrderRepository) CountByEmail(ctx context.Context, email string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countOrdersByEmailSQL, email).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting orders for %q: %w", email, err)
	}
	return n, nil
}
