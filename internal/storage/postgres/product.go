package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lonestartortillas/pricing-api/internal/domain/catalog"
)

const (
	listProductsSQL = `SELECT sku, name, category, unit_price, active
		FROM products WHERE active = TRUE ORDER BY sku`

	getProductBySKUSQL = `SELECT sku, name, category, unit_price, active
		FROM products WHERE sku = $1 AND active = TRUE`

	getProductsBySKUsSQL = `SELECT sku, name, category, unit_price, active
		FROM products WHERE sku = ANY($1) AND active = TRUE`
)

var _ catalog.Repository = (*ProductRepository)(nil)

// ProductRepository implements catalog.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns all active products ordered by SKU.
func (r *ProductRepository) List(ctx context.Context) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetBySKU returns a single active product by its SKU.
func (r *ProductRepository) GetBySKU(ctx context.Context, sku string) (*catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductBySKUSQL, sku)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", sku, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", sku, err)
	}
	return &p, nil
}

// GetBySKUs returns active products matching any of the given SKUs.
func (r *ProductRepository) GetBySKUs(ctx context.Context, skus []string) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsBySKUsSQL, skus)
	if err != nil {
		return nil, fmt.Errorf("getting products by skus: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(&p.SKU, &p.Name, &p.Category, &p.UnitPrice, &p.Active)
	return p, err
}
