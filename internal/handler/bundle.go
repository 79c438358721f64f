package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/lonestartortillas/pricing-api/internal/domain/catalog"
)

type bundleResponse struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	BundlePrice   decimal.Decimal  `json:"bundlePrice"`
	OriginalPrice decimal.Decimal  `json:"originalPrice"`
	Savings       decimal.Decimal  `json:"savings"`
	Contents      []bundleItemResp `json:"contents"`
}

type bundleItemResp struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type allocatedLineResponse struct {
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	ListUnitPrice decimal.Decimal `json:"listUnitPrice"`
}

func toBundleResponse(b catalog.Bundle) bundleResponse {
	contents := make([]bundleItemResp, len(b.Contents))
	for i, item := range b.Contents {
		contents[i] = bundleItemResp{SKU: item.SKU, Quantity: item.Quantity}
	}
	return bundleResponse{
		ID:            b.ID,
		Name:          b.Name,
		BundlePrice:   b.BundlePrice,
		OriginalPrice: b.OriginalPrice,
		Savings:       b.Savings(),
		Contents:      contents,
	}
}

func (h *Handler) listBundles(w http.ResponseWriter, r *http.Request) {
	bundles := h.bundles.List()
	resp := make([]bundleResponse, len(bundles))
	for i, b := range bundles {
		resp[i] = toBundleResponse(b)
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// bundleLines returns the bundle expanded into allocated line items, each
// carrying its share of the bundle discount.
func (h *Handler) bundleLines(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b, err := h.bundles.Find(id)
	if err != nil {
		if errors.Is(err, catalog.ErrBundleNotFound) {
			writeError(w, r, http.StatusNotFound, "bundle not found")
			return
		}
		writeInternalError(w, r, err)
		return
	}

	lines, err := h.allocator.Expand(r.Context(), b)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}

	resp := make([]allocatedLineResponse, len(lines))
	for i, line := range lines {
		resp[i] = allocatedLineResponse{
			SKU:           line.SKU,
			Name:          line.Name,
			Category:      line.Category,
			Quantity:      line.Quantity,
			UnitPrice:     line.UnitPrice,
			ListUnitPrice: line.ListUnitPrice,
		}
	}
	writeJSON(w, r, http.StatusOK, resp)
}
