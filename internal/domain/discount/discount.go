// Package discount implements the discount-code data model and the pricing
// evaluator: eligibility gates, restriction filtering, per-rule discount
// computation, and cross-code stacking resolution.
package discount

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// RuleType enumerates the supported discount rule strategies.
type RuleType string

const (
	// RulePercentage takes a percentage off the eligible subtotal.
	RulePercentage RuleType = "PERCENTAGE"
	// RuleFixedAmount takes a fixed amount off, capped at the eligible subtotal.
	RuleFixedAmount RuleType = "FIXED_AMOUNT"
	// RuleBuyXGetY discounts get-units for every complete multiple of buy-units.
	RuleBuyXGetY RuleType = "BUY_X_GET_Y"
)

// RestrictionType enumerates the supported eligibility filters.
type RestrictionType string

const (
	RestrictProduct       RestrictionType = "product"
	RestrictCategory      RestrictionType = "category"
	RestrictCustomerEmail RestrictionType = "customer_email"
)

var (
	// ErrCodeNotFound is returned by repositories when no code matches.
	ErrCodeNotFound = errors.New("discount code not found")
	// ErrUsageLimitExceeded is returned when a redemption would exceed a
	// usage cap. Storage returns it from the atomic ledger write when a
	// concurrent checkout wins the last remaining use.
	ErrUsageLimitExceeded = errors.New("discount code usage limit exceeded")
)

// Code is a customer-facing coupon with its rules and restrictions.
type Code struct {
	ID          string
	Code        string
	Name        string
	Description string

	Active    bool
	StartsAt  *time.Time
	ExpiresAt *time.Time

	// MinOrderAmount gates the whole code; zero means no minimum.
	MinOrderAmount decimal.Decimal
	// MaxDiscountAmount caps the code's total discount; zero means uncapped.
	// Only meaningful for percentage rules.
	MaxDiscountAmount decimal.Decimal

	// MaxUsageTotal and MaxUsagePerEmail cap redemptions; zero means unlimited.
	MaxUsageTotal    int
	MaxUsagePerEmail int

	FirstOrderOnly bool

	// Stackable codes may combine with each other and with at most one
	// non-stackable code. Among non-stackable codes the lowest Priority wins.
	Stackable bool
	Priority  int

	ArchivedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time

	Rules        []Rule
	Restrictions []Restriction
}

// Rule is a tagged union: exactly the variant matching Type is non-nil.
type Rule struct {
	ID       string
	Type     RuleType
	Priority int

	Percentage  *PercentageRule
	FixedAmount *FixedAmountRule
	BuyXGetY    *BuyXGetYRule
}

// PercentageRule takes Value percent off the eligible subtotal.
type PercentageRule struct {
	// Value is the percentage in (0, 100].
	Value decimal.Decimal
	// MaxDiscount caps this rule's discount; zero means uncapped.
	MaxDiscount decimal.Decimal
	// MinOrderAmount skips the rule (not the code) when the cart subtotal is
	// below it; zero means no minimum.
	MinOrderAmount decimal.Decimal
}

// FixedAmountRule takes min(Value, eligible subtotal) off.
type FixedAmountRule struct {
	Value          decimal.Decimal
	MinOrderAmount decimal.Decimal
}

// BuyXGetYRule discounts GetQuantity units of GetSKU by GetDiscountPct percent
// for every complete BuyQuantity units of BuySKU in the cart. Partial
// multiples grant nothing.
type BuyXGetYRule struct {
	BuySKU         string
	BuyQuantity    int
	GetSKU         string
	GetQuantity    int
	GetDiscountPct decimal.Decimal
}

// Restriction narrows which cart lines (or buyers) a code can discount.
// Within one type, include values form a union; exclude overrides include.
// Different types are ANDed.
type Restriction struct {
	ID      string
	Type    RestrictionType
	Value   string
	Include bool
}

// Repository provides lookup of discount codes with their rules and
// restrictions. Lookups are case-insensitive on the code string.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Code, error)
}

// UsageCounter exposes the ledger counts the evaluator needs for cap checks.
type UsageCounter interface {
	CountTotal(ctx context.Context, code string) (int, error)
	CountForEmail(ctx context.Context, code, email string) (int, error)
}

// Validate checks the code's internal consistency: the validity window is
// ordered and every rule carries exactly its matching variant.
func (c *Code) Validate() error {
	if strings.TrimSpace(c.Code) == "" {
		return errors.New("code is required")
	}
	if c.StartsAt != nil && c.ExpiresAt != nil && c.StartsAt.After(*c.ExpiresAt) {
		return errors.New("startsAt must not be after expiresAt")
	}
	if c.MinOrderAmount.IsNegative() || c.MaxDiscountAmount.IsNegative() {
		return errors.New("amounts must not be negative")
	}
	if c.MaxUsageTotal < 0 || c.MaxUsagePerEmail < 0 {
		return errors.New("usage caps must not be negative")
	}
	if len(c.Rules) == 0 {
		return errors.New("at least one rule is required")
	}
	for i := range c.Rules {
		if err := c.Rules[i].Validate(); err != nil {
			return errors.Wrapf(err, "rule %d", i)
		}
	}
	for i, r := range c.Restrictions {
		switch r.Type {
		case RestrictProduct, RestrictCategory, RestrictCustomerEmail:
		default:
			return errors.Errorf("restriction %d: unknown type %q", i, r.Type)
		}
		if r.Value == "" {
			return errors.Errorf("restriction %d: value is required", i)
		}
	}
	return nil
}

// Validate checks that exactly the variant matching Type is set and that its
// parameters are in range.
func (r *Rule) Validate() error {
	switch r.Type {
	case RulePercentage:
		if r.Percentage == nil || r.FixedAmount != nil || r.BuyXGetY != nil {
			return errors.New("percentage rule must carry only percentage fields")
		}
		v := r.Percentage.Value
		if !v.IsPositive() || v.GreaterThan(decimal.NewFromInt(100)) {
			return errors.New("percentage value must be in (0, 100]")
		}
	case RuleFixedAmount:
		if r.FixedAmount == nil || r.Percentage != nil || r.BuyXGetY != nil {
			return errors.New("fixed amount rule must carry only fixed amount fields")
		}
		if !r.FixedAmount.Value.IsPositive() {
			return errors.New("fixed amount value must be positive")
		}
	case RuleBuyXGetY:
		if r.BuyXGetY == nil || r.Percentage != nil || r.FixedAmount != nil {
			return errors.New("buy-x-get-y rule must carry only buy-x-get-y fields")
		}
		b := r.BuyXGetY
		if b.BuySKU == "" || b.GetSKU == "" {
			return errors.New("buy and get SKUs are required")
		}
		if b.BuyQuantity <= 0 || b.GetQuantity <= 0 {
			return errors.New("buy and get quantities must be positive")
		}
		pct := b.GetDiscountPct
		if !pct.IsPositive() || pct.GreaterThan(decimal.NewFromInt(100)) {
			return errors.New("get discount percentage must be in (0, 100]")
		}
	default:
		return errors.Errorf("unknown rule type %q", r.Type)
	}
	return nil
}

// NormalizeCode canonicalizes a customer-entered code for lookup and
// comparison: trimmed and upper-cased.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
