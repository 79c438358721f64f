package handler

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/lonestartortillas/pricing-api/internal/domain/checkout"
	"github.com/lonestartortillas/pricing-api/internal/domain/discount"
)

type orderResponse struct {
	Order *checkout.Order `json:"order"`
	Quote *discount.Quote `json:"quote"`
}

// rejectedResponse fails a checkout whose codes did not all apply; the client
// re-quotes with the surviving codes instead of silently losing a discount.
type rejectedResponse struct {
	Code     int                  `json:"code"`
	Message  string               `json:"message"`
	Rejected []discount.Rejection `json:"rejected"`
}

// placeOrder validates and persists an order, rejecting it when any presented
// code fails to apply or a usage cap is exhausted by a concurrent checkout.
func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req cartRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.checkout.PlaceOrder(r.Context(), req.toDomain())
	if err != nil {
		var rej *checkout.CodesRejectedError
		switch {
		case errors.As(err, &rej):
			writeJSON(w, r, http.StatusUnprocessableEntity, rejectedResponse{
				Code:     http.StatusUnprocessableEntity,
				Message:  "discount codes rejected",
				Rejected: rej.Rejections,
			})
		case errors.Is(err, discount.ErrUsageLimitExceeded):
			writeError(w, r, http.StatusConflict, err.Error())
		default:
			h.writeCartError(w, r, err)
		}
		return
	}

	writeJSON(w, r, http.StatusCreated, orderResponse{
		Order: result.Order,
		Quote: result.Quote,
	})
}
