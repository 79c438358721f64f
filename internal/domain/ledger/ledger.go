// Package ledger defines the append-only redemption ledger: one record per
// applied code per completed checkout, powering both cap enforcement and the
// admin usage-stats view.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Record is one redemption of a discount code.
type Record struct {
	Code            string          `json:"code"`
	Email           string          `json:"email"`
	OrderNumber     string          `json:"orderNumber"`
	DiscountApplied decimal.Decimal `json:"discountApplied"`
	UsedAt          time.Time       `json:"usedAt"`
}

// Stats aggregates a code's redemption history for the admin view.
type Stats struct {
	TotalUses          int             `json:"totalUses"`
	UniqueEmails       int             `json:"uniqueEmails"`
	TotalDiscountGiven decimal.Decimal `json:"totalDiscountGiven"`
}

// Reader provides read access to the ledger. Writes happen only inside the
// checkout transaction; there is no update or delete in normal operation.
type Reader interface {
	CountTotal(ctx context.Context, code string) (int, error)
	CountForEmail(ctx context.Context, code, email string) (int, error)
	Stats(ctx context.Context, code string) (*Stats, error)
	Recent(ctx context.Context, code string, limit int) ([]Record, error)
}
