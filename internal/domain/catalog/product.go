// Package catalog holds the product catalog and the deploy-time bundle
// catalog with its price allocator.
package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a sellable catalog item.
type Product struct {
	SKU       string
	Name      string
	Category  string
	UnitPrice decimal.Decimal
	Active    bool
}

// Repository defines read access to the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetBySKU(ctx context.Context, sku string) (*Product, error)
	GetBySKUs(ctx context.Context, skus []string) ([]Product, error)
}
