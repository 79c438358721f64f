package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lonestartortillas/pricing-api/internal/domain/discount"
)

const (
	getCodeSQL = `SELECT id, code, name, description, is_active, starts_at, expires_at,
		min_order_amount, max_discount_amount, max_usage_total, max_usage_per_email,
		first_order_only, stackable, priority, archived_at, created_at, updated_at
		FROM discount_codes WHERE UPPER(code) = UPPER($1)`

	listCodesSQL = `SELECT id, code, name, description, is_active, starts_at, expires_at,
		min_order_amount, max_discount_amount, max_usage_total, max_usage_per_email,
		first_order_only, stackable, priority, archived_at, created_at, updated_at
		FROM discount_codes WHERE archived_at IS NULL ORDER BY code`

	getRulesSQL = `SELECT id, rule_type, priority, value, max_discount, min_order_amount,
		buy_sku, buy_quantity, get_sku, get_quantity, get_discount_pct
		FROM discount_rules WHERE code_id = $1 ORDER BY priority, id`

	getRestrictionsSQL = `SELECT id, restriction_type, value, include
		FROM discount_restrictions WHERE code_id = $1 ORDER BY id`

	insertCodeSQL = `INSERT INTO discount_codes (id, code, name, description, is_active,
		starts_at, expires_at, min_order_amount, max_discount_amount,
		max_usage_total, max_usage_per_email, first_order_only, stackable, priority)
		VALUES ($1, UPPER($2), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	updateCodeSQL = `UPDATE discount_codes SET name = $2, description = $3, is_active = $4,
		starts_at = $5, expires_at = $6, min_order_amount = $7, max_discount_amount = $8,
		max_usage_total = $9, max_usage_per_email = $10, first_order_only = $11,
		stackable = $12, priority = $13, updated_at = now()
		WHERE id = $1`

	insertRuleSQL = `INSERT INTO discount_rules (id, code_id, rule_type, priority, value,
		max_discount, min_order_amount, buy_sku, buy_quantity, get_sku, get_quantity, get_discount_pct)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	insertRestrictionSQL = `INSERT INTO discount_restrictions (id, code_id, restriction_type, value, include)
		VALUES ($1, $2, $3, $4, $5)`

	lockCodeForDeleteSQL = `SELECT id, code FROM discount_codes WHERE UPPER(code) = UPPER($1) FOR UPDATE`

	deleteRulesSQL        = `DELETE FROM discount_rules WHERE code_id = $1`
	deleteRestrictionsSQL = `DELETE FROM discount_restrictions WHERE code_id = $1`
	deleteCodeSQL         = `DELETE FROM discount_codes WHERE id = $1`
	archiveCodeSQL        = `UPDATE discount_codes SET is_active = FALSE, archived_at = now(), updated_at = now() WHERE id = $1`
	countCodeUsageSQL     = `SELECT COUNT(*) FROM usage_records WHERE UPPER(code) = UPPER($1)`
)

var _ discount.Repository = (*DiscountRepository)(nil)

// DiscountRepository implements discount.Repository plus the admin CRUD
// operations, backed by PostgreSQL.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// FindByCode looks up a code (case-insensitive) with its rules and
// restrictions. Inactive and archived codes are returned too; the evaluator
// distinguishes CodeInactive from CodeNotFound.
func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (*discount.Code, error) {
	rows, err := r.pool.Query(ctx, getCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrCodeNotFound
		}
		return nil, fmt.Errorf("finding code %q: %w", code, err)
	}

	if err := r.loadChildren(ctx, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// List returns all non-archived codes with their rules and restrictions.
func (r *DiscountRepository) List(ctx context.Context) ([]discount.Code, error) {
	rows, err := r.pool.Query(ctx, listCodesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing codes: %w", err)
	}
	codes, err := pgx.CollectRows(rows, scanCode)
	if err != nil {
		return nil, fmt.Errorf("listing codes: %w", err)
	}
	for i := range codes {
		if err := r.loadChildren(ctx, &codes[i]); err != nil {
			return nil, err
		}
	}
	return codes, nil
}

// Create inserts a code with its rules and restrictions in one transaction.
// Missing ids are assigned.
func (r *DiscountRepository) Create(ctx context.Context, c *discount.Code) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.Code = discount.NormalizeCode(c.Code)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create code: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, insertCodeSQL,
		c.ID, c.Code, c.Name, c.Description, c.Active,
		c.StartsAt, c.ExpiresAt, c.MinOrderAmount, c.MaxDiscountAmount,
		c.MaxUsageTotal, c.MaxUsagePerEmail, c.FirstOrderOnly, c.Stackable, c.Priority,
	)
	if err != nil {
		return fmt.Errorf("inserting code %q: %w", c.Code, err)
	}

	if err := insertChildren(ctx, tx, c); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Update rewrites a code's fields, rules, and restrictions in one
// transaction. Rules and restrictions are replaced wholesale.
func (r *DiscountRepository) Update(ctx context.Context, c *discount.Code) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update code: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, updateCodeSQL,
		c.ID, c.Name, c.Description, c.Active,
		c.StartsAt, c.ExpiresAt, c.MinOrderAmount, c.MaxDiscountAmount,
		c.MaxUsageTotal, c.MaxUsagePerEmail, c.FirstOrderOnly, c.Stackable, c.Priority,
	)
	if err != nil {
		return fmt.Errorf("updating code %q: %w", c.Code, err)
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrCodeNotFound
	}

	if _, err := tx.Exec(ctx, deleteRulesSQL, c.ID); err != nil {
		return fmt.Errorf("clearing rules for %q: %w", c.Code, err)
	}
	if _, err := tx.Exec(ctx, deleteRestrictionsSQL, c.ID); err != nil {
		return fmt.Errorf("clearing restrictions for %q: %w", c.Code, err)
	}
	if err := insertChildren(ctx, tx, c); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Delete removes a code outright when it has no usage history; otherwise it
// archives the code, preserving the ledger for reporting. Returns true when
// the code was hard-deleted.
func (r *DiscountRepository) Delete(ctx context.Context, code string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin delete code: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Checkout locks this row before writing a usage record; taking the same
	// lock keeps the usage count from going stale between the check and the
	// DELETE.
	var id, canonical string
	if err := tx.QueryRow(ctx, lockCodeForDeleteSQL, code).Scan(&id, &canonical); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, discount.ErrCodeNotFound
		}
		return false, fmt.Errorf("locking code %q: %w", code, err)
	}

	var uses int
	if err := tx.QueryRow(ctx, countCodeUsageSQL, canonical).Scan(&uses); err != nil {
		return false, fmt.Errorf("counting usage for %q: %w", canonical, err)
	}

	if uses == 0 {
		if _, err := tx.Exec(ctx, deleteCodeSQL, id); err != nil {
			return false, fmt.Errorf("deleting code %q: %w", canonical, err)
		}
		return true, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, archiveCodeSQL, id); err != nil {
		return false, fmt.Errorf("archiving code %q: %w", canonical, err)
	}
	return false, tx.Commit(ctx)
}

func (r *DiscountRepository) loadChildren(ctx context.Context, c *discount.Code) error {
	ruleRows, err := r.pool.Query(ctx, getRulesSQL, c.ID)
	if err != nil {
		return fmt.Errorf("loading rules for %q: %w", c.Code, err)
	}
	c.Rules, err = pgx.CollectRows(ruleRows, scanRule)
	if err != nil {
		return fmt.Errorf("loading rules for %q: %w", c.Code, err)
	}

	restrRows, err := r.pool.Query(ctx, getRestrictionsSQL, c.ID)
	if err != nil {
		return fmt.Errorf("loading restrictions for %q: %w", c.Code, err)
	}
	c.Restrictions, err = pgx.CollectRows(restrRows, scanRestriction)
	if err != nil {
		return fmt.Errorf("loading restrictions for %q: %w", c.Code, err)
	}
	return nil
}

func insertChildren(ctx context.Context, tx pgx.Tx, c *discount.Code) error {
	for i := range c.Rules {
		rule := &c.Rules[i]
		if rule.ID == "" {
			rule.ID = uuid.New().String()
		}
		var (
			value, maxDiscount, minOrder, getPct decimal.Decimal
			buySKU, getSKU                       string
			buyQty, getQty                       int
		)
		switch rule.Type {
		case discount.RulePercentage:
			value = rule.Percentage.Value
			maxDiscount = rule.Percentage.MaxDiscount
			minOrder = rule.Percentage.MinOrderAmount
		case discount.RuleFixedAmount:
			value = rule.FixedAmount.Value
			minOrder = rule.FixedAmount.MinOrderAmount
		case discount.RuleBuyXGetY:
			buySKU = rule.BuyXGetY.BuySKU
			buyQty = rule.BuyXGetY.BuyQuantity
			getSKU = rule.BuyXGetY.GetSKU
			getQty = rule.BuyXGetY.GetQuantity
			getPct = rule.BuyXGetY.GetDiscountPct
		}

		_, err := tx.Exec(ctx, insertRuleSQL,
			rule.ID, c.ID, string(rule.Type), rule.Priority,
			value, maxDiscount, minOrder,
			buySKU, buyQty, getSKU, getQty, getPct,
		)
		if err != nil {
			return fmt.Errorf("inserting rule for %q: %w", c.Code, err)
		}
	}

	for i := range c.Restrictions {
		restr := &c.Restrictions[i]
		if restr.ID == "" {
			restr.ID = uuid.New().String()
		}
		_, err := tx.Exec(ctx, insertRestrictionSQL,
			restr.ID, c.ID, string(restr.Type), restr.Value, restr.Include,
		)
		if err != nil {
			return fmt.Errorf("inserting restriction for %q: %w", c.Code, err)
		}
	}
	return nil
}

func scanCode(row pgx.CollectableRow) (discount.Code, error) {
	var (
		c         discount.Code
		startsAt  *time.Time
		expiresAt *time.Time
		archived  *time.Time
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Name, &c.Description, &c.Active, &startsAt, &expiresAt,
		&c.MinOrderAmount, &c.MaxDiscountAmount, &c.MaxUsageTotal, &c.MaxUsagePerEmail,
		&c.FirstOrderOnly, &c.Stackable, &c.Priority, &archived, &c.CreatedAt, &c.UpdatedAt,
	)
	c.StartsAt = startsAt
	c.ExpiresAt = expiresAt
	c.ArchivedAt = archived
	return c, err
}

func scanRule(row pgx.CollectableRow) (discount.Rule, error) {
	var (
		rule                                 discount.Rule
		ruleType                             string
		value, maxDiscount, minOrder, getPct decimal.Decimal
		buySKU, getSKU                       string
		buyQty, getQty                       int
	)
	err := row.Scan(
		&rule.ID, &ruleType, &rule.Priority, &value, &maxDiscount, &minOrder,
		&buySKU, &buyQty, &getSKU, &getQty, &getPct,
	)
	if err != nil {
		return rule, err
	}

	rule.Type = discount.RuleType(ruleType)
	switch rule.Type {
	case discount.RulePercentage:
		rule.Percentage = &discount.PercentageRule{
			Value:          value,
			MaxDiscount:    maxDiscount,
			MinOrderAmount: minOrder,
		}
	case discount.RuleFixedAmount:
		rule.FixedAmount = &discount.FixedAmountRule{
			Value:          value,
			MinOrderAmount: minOrder,
		}
	case discount.RuleBuyXGetY:
		rule.BuyXGetY = &discount.BuyXGetYRule{
			BuySKU:         buySKU,
			BuyQuantity:    buyQty,
			GetSKU:         getSKU,
			GetQuantity:    getQty,
			GetDiscountPct: getPct,
		}
	default:
		return rule, fmt.Errorf("unknown rule type %q", ruleType)
	}
	return rule, nil
}

func scanRestriction(row pgx.CollectableRow) (discount.Restriction, error) {
	var (
		restr discount.Restriction
		typ   string
	)
	err := row.Scan(&restr.ID, &typ, &restr.Value, &restr.Include)
	restr.Type = discount.RestrictionType(typ)
	return restr, err
}
