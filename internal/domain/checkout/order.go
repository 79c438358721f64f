// Package checkout orchestrates order placement: product resolution, bundle
// expansion, discount evaluation, and the atomic persist of order plus usage
// records.
package checkout

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lonestartortillas/pricing-api/internal/domain/ledger"
)

// OrderItem is a single priced line on a completed order. Bundle lines carry
// their allocated unit price and the id of the bundle they came from.
type OrderItem struct {
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	BundleID  string          `json:"bundleId,omitempty"`
}

// AppliedDiscount records one code's contribution to an order, for display
// and for the usage record written alongside.
type AppliedDiscount struct {
	Code   string          `json:"code"`
	Amount decimal.Decimal `json:"amount"`
}

// Order is a completed customer order.
type Order struct {
	ID            string            `json:"id"`
	Number        string            `json:"number"`
	Email         string            `json:"email"`
	Items         []OrderItem       `json:"items"`
	Subtotal      decimal.Decimal   `json:"subtotal"`
	DiscountTotal decimal.Decimal   `json:"discountTotal"`
	Total         decimal.Decimal   `json:"total"`
	Discounts     []AppliedDiscount `json:"discounts,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// Repository persists orders. Create writes the order and its usage records
// in one transaction; it returns discount.ErrUsageLimitExceeded when a
// concurrent checkout exhausted a code's cap first.
type Repository interface {
	Create(ctx context.Context, o *Order, usages []ledger.Record) error
	CountByEmail(ctx context.Context, email string) (int, error)
}
