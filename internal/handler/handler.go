// Package handler exposes the pricing API over HTTP: the public catalog,
// quote, and checkout surfaces plus the key-guarded admin surface.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lonestartortillas/pricing-api/internal/domain/catalog"
	"github.com/lonestartortillas/pricing-api/internal/domain/checkout"
	"github.com/lonestartortillas/pricing-api/internal/domain/discount"
	"github.com/lonestartortillas/pricing-api/internal/domain/ledger"
)

// DiscountStore is the admin-facing persistence surface for discount codes.
type DiscountStore interface {
	FindByCode(ctx context.Context, code string) (*discount.Code, error)
	List(ctx context.Context) ([]discount.Code, error)
	Create(ctx context.Context, c *discount.Code) error
	Update(ctx context.Context, c *discount.Code) error
	// Delete hard-deletes an unused code and archives a used one; it reports
	// whether the code was hard-deleted.
	Delete(ctx context.Context, code string) (bool, error)
}

// Handler serves the HTTP API, delegating business logic to the domain
// services and repositories.
type Handler struct {
	products  catalog.Repository
	bundles   *catalog.BundleSet
	allocator *catalog.Allocator
	checkout  *checkout.Service
	discounts DiscountStore
	usage     ledger.Reader
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	products catalog.Repository,
	bundles *catalog.BundleSet,
	allocator *catalog.Allocator,
	checkoutSvc *checkout.Service,
	discounts DiscountStore,
	usage ledger.Reader,
) *Handler {
	return &Handler{
		products:  products,
		bundles:   bundles,
		allocator: allocator,
		checkout:  checkoutSvc,
		discounts: discounts,
		usage:     usage,
	}
}

// Routes builds the API router. Catalog and quoting are public; order
// placement and the admin surface require an API key.
func (h *Handler) Routes(sec *SecurityHandler) http.Handler {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.listProducts)
		r.Get("/products/{sku}", h.getProduct)
		r.Get("/bundles", h.listBundles)
		r.Get("/bundles/{id}/lines", h.bundleLines)
		r.Post("/quote", h.quote)

		r.Group(func(r chi.Router) {
			r.Use(sec.Middleware)

			r.Post("/orders", h.placeOrder)

			r.Route("/admin/discounts", func(r chi.Router) {
				r.Get("/", h.listDiscounts)
				r.Post("/", h.createDiscount)
				r.Get("/{code}", h.getDiscount)
				r.Put("/{code}", h.updateDiscount)
				r.Delete("/{code}", h.deleteDiscount)
				r.Get("/{code}/usage", h.discountUsage)
			})
		})
	})

	return r
}
