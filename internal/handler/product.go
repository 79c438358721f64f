package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/lonestartortillas/pricing-api/internal/domain/catalog"
)

type productResponse struct {
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

func toProductResponse(p catalog.Product) productResponse {
	return productResponse{
		SKU:       p.SKU,
		Name:      p.Name,
		Category:  p.Category,
		UnitPrice: p.UnitPrice,
	}
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		writeInternalError(w, r, err)
		return
	}

	resp := make([]productResponse, len(products))
	for i, p := range products {
		resp[i] = toProductResponse(p)
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")

	p, err := h.products.GetBySKU(r.Context(), sku)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "product not found")
			return
		}
		writeInternalError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toProductResponse(*p))
}
