package handler

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/lonestartortillas/pricing-api/internal/domain/checkout"
)

type itemRequest struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// cartRequest is the shared request body for quoting and order placement.
type cartRequest struct {
	Email     string        `json:"email"`
	Items     []itemRequest `json:"items"`
	BundleIDs []string      `json:"bundleIds"`
	Codes     []string      `json:"codes"`
}

func (req cartRequest) toDomain() checkout.PlaceOrderRequest {
	items := make([]checkout.ItemRequest, len(req.Items))
	for i, item := range req.Items {
		items[i] = checkout.ItemRequest{SKU: item.SKU, Quantity: item.Quantity}
	}
	return checkout.PlaceOrderRequest{
		Email:     req.Email,
		Items:     items,
		BundleIDs: req.BundleIDs,
		Codes:     req.Codes,
	}
}

// quote prices a cart with the presented codes without persisting anything.
// Codes that did not apply come back in the rejected list rather than failing
// the request.
func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	var req cartRequest
	if !decodeBody(w, r, &req) {
		return
	}

	quote, err := h.checkout.Quote(r.Context(), req.toDomain())
	if err != nil {
		h.writeCartError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, quote)
}

// writeCartError maps cart resolution errors shared by quote and checkout.
func (h *Handler) writeCartError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, checkout.ErrEmptyOrder),
		errors.Is(err, checkout.ErrEmailMissing):
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var (
		pnf *checkout.ProductNotFoundError
		bnf *checkout.BundleNotFoundError
		iq  *checkout.InvalidQuantityError
	)
	switch {
	case errors.As(err, &pnf), errors.As(err, &bnf), errors.As(err, &iq):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	default:
		writeInternalError(w, r, err)
	}
}
