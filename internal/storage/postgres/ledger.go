package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lonestartortillas/pricing-api/internal/domain/ledger"
)

const (
	countTotalSQL = `SELECT COUNT(*) FROM usage_records WHERE UPPER(code) = UPPER($1)`

	countForEmailSQL = `SELECT COUNT(*) FROM usage_records
		WHERE UPPER(code) = UPPER($1) AND LOWER(email) = LOWER($2)`

	statsSQL = `SELECT COUNT(*), COUNT(DISTINCT LOWER(email)), COALESCE(SUM(discount_applied), 0)
		FROM usage_records WHERE UPPER(code) = UPPER($1)`

	recentSQL = `SELECT code, email, order_number, discount_applied, used_at
		FROM usage_records WHERE UPPER(code) = UPPER($1)
		ORDER BY used_at DESC LIMIT $2`
)

var _ ledger.Reader = (*LedgerRepository)(nil)

// LedgerRepository implements ledger.Reader backed by PostgreSQL. Records are
// written only by OrderRepository.Create, inside the checkout transaction.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository returns a LedgerRepository that uses the given pool.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// CountTotal returns how many times a code has been redeemed, across all
// buyers.
func (r *LedgerRepository) CountTotal(ctx context.Context, code string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countTotalSQL, code).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting usage for %q: %w", code, err)
	}
	return n, nil
}

// CountForEmail returns how many times a buyer has redeemed a code.
func (r *LedgerRepository) CountForEmail(ctx context.Context, code, email string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countForEmailSQL, code, email).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting usage for %q by %q: %w", code, email, err)
	}
	return n, nil
}

// Stats aggregates a code's redemption history.
func (r *LedgerRepository) Stats(ctx context.Context, code string) (*ledger.Stats, error) {
	var s ledger.Stats
	err := r.pool.QueryRow(ctx, statsSQL, code).Scan(&s.TotalUses, &s.UniqueEmails, &s.TotalDiscountGiven)
	if err != nil {
		return nil, fmt.Errorf("aggregating usage for %q: %w", code, err)
	}
	return &s, nil
}

// Recent returns the latest redemptions of a code, newest first.
func (r *LedgerRepository) Recent(ctx context.Context, code string, limit int) ([]ledger.Record, error) {
	rows, err := r.pool.Query(ctx, recentSQL, code, limit)
	if err != nil {
		return nil, fmt.Errorf("listing usage for %q: %w", code, err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.Record, error) {
		var rec ledger.Record
		err := row.Scan(&rec.Code, &rec.Email, &rec.OrderNumber, &rec.DiscountApplied, &rec.UsedAt)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing usage for %q: %w", code, err)
	}
	return records, nil
}
