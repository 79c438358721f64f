package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/lonestartortillas/pricing-api/internal/domain/discount"
	"github.com/lonestartortillas/pricing-api/internal/domain/ledger"
)

// recentUsageLimit bounds the usage records returned by the admin view.
const recentUsageLimit = 50

type ruleBody struct {
	Type     string `json:"type"`
	Priority int    `json:"priority"`

	Value          decimal.Decimal `json:"value"`
	MaxDiscount    decimal.Decimal `json:"maxDiscount"`
	MinOrderAmount decimal.Decimal `json:"minOrderAmount"`

	BuySKU         string          `json:"buySku"`
	BuyQuantity    int             `json:"buyQuantity"`
	GetSKU         string          `json:"getSku"`
	GetQuantity    int             `json:"getQuantity"`
	GetDiscountPct decimal.Decimal `json:"getDiscountPct"`
}

type restrictionBody struct {
	Type    string `json:"type"`
	Value   string `json:"value"`
	Include bool   `json:"include"`
}

type discountBody struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`

	Active    bool       `json:"active"`
	StartsAt  *time.Time `json:"startsAt,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`

	MinOrderAmount    decimal.Decimal `json:"minOrderAmount"`
	MaxDiscountAmount decimal.Decimal `json:"maxDiscountAmount"`

	MaxUsageTotal    int `json:"maxUsageTotal"`
	MaxUsagePerEmail int `json:"maxUsagePerEmail"`

	FirstOrderOnly bool `json:"firstOrderOnly"`
	Stackable      bool `json:"stackable"`
	Priority       int  `json:"priority"`

	Rules        []ruleBody        `json:"rules"`
	Restrictions []restrictionBody `json:"restrictions,omitempty"`
}

type discountResponse struct {
	ID string `json:"id"`
	discountBody
	ArchivedAt *time.Time `json:"archivedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

func (b discountBody) toDomain() discount.Code {
	c := discount.Code{
		Code:              b.Code,
		Name:              b.Name,
		Description:       b.Description,
		Active:            b.Active,
		StartsAt:          b.StartsAt,
		ExpiresAt:         b.ExpiresAt,
		MinOrderAmount:    b.MinOrderAmount,
		MaxDiscountAmount: b.MaxDiscountAmount,
		MaxUsageTotal:     b.MaxUsageTotal,
		MaxUsagePerEmail:  b.MaxUsagePerEmail,
		FirstOrderOnly:    b.FirstOrderOnly,
		Stackable:         b.Stackable,
		Priority:          b.Priority,
	}

	for _, r := range b.Rules {
		rule := discount.Rule{
			Type:     discount.RuleType(r.Type),
			Priority: r.Priority,
		}
		switch rule.Type {
		case discount.RulePercentage:
			rule.Percentage = &discount.PercentageRule{
				Value:          r.Value,
				MaxDiscount:    r.MaxDiscount,
				MinOrderAmount: r.MinOrderAmount,
			}
		case discount.RuleFixedAmount:
			rule.FixedAmount = &discount.FixedAmountRule{
				Value:          r.Value,
				MinOrderAmount: r.MinOrderAmount,
			}
		case discount.RuleBuyXGetY:
			rule.BuyXGetY = &discount.BuyXGetYRule{
				BuySKU:         r.BuySKU,
				BuyQuantity:    r.BuyQuantity,
				GetSKU:         r.GetSKU,
				GetQuantity:    r.GetQuantity,
				GetDiscountPct: r.GetDiscountPct,
			}
		}
		c.Rules = append(c.Rules, rule)
	}

	for _, r := range b.Restrictions {
		c.Restrictions = append(c.Restrictions, discount.Restriction{
			Type:    discount.RestrictionType(r.Type),
			Value:   r.Value,
			Include: r.Include,
		})
	}
	return c
}

func toDiscountResponse(c *discount.Code) discountResponse {
	body := discountBody{
		Code:              c.Code,
		Name:              c.Name,
		Description:       c.Description,
		Active:            c.Active,
		StartsAt:          c.StartsAt,
		ExpiresAt:         c.ExpiresAt,
		MinOrderAmount:    c.MinOrderAmount,
		MaxDiscountAmount: c.MaxDiscountAmount,
		MaxUsageTotal:     c.MaxUsageTotal,
		MaxUsagePerEmail:  c.MaxUsagePerEmail,
		FirstOrderOnly:    c.FirstOrderOnly,
		Stackable:         c.Stackable,
		Priority:          c.Priority,
	}

	for _, r := range c.Rules {
		rb := ruleBody{Type: string(r.Type), Priority: r.Priority}
		switch r.Type {
		case discount.RulePercentage:
			rb.Value = r.Percentage.Value
			rb.MaxDiscount = r.Percentage.MaxDiscount
			rb.MinOrderAmount = r.Percentage.MinOrderAmount
		case discount.RuleFixedAmount:
			rb.Value = r.FixedAmount.Value
			rb.MinOrderAmount = r.FixedAmount.MinOrderAmount
		case discount.RuleBuyXGetY:
			rb.BuySKU = r.BuyXGetY.BuySKU
			rb.BuyQuantity = r.BuyXGetY.BuyQuantity
			rb.GetSKU = r.BuyXGetY.GetSKU
			rb.GetQuantity = r.BuyXGetY.GetQuantity
			rb.GetDiscountPct = r.BuyXGetY.GetDiscountPct
		}
		body.Rules = append(body.Rules, rb)
	}

	for _, r := range c.Restrictions {
		body.Restrictions = append(body.Restrictions, restrictionBody{
			Type:    string(r.Type),
			Value:   r.Value,
			Include: r.Include,
		})
	}

	return discountResponse{
		ID:           c.ID,
		discountBody: body,
		ArchivedAt:   c.ArchivedAt,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func (h *Handler) listDiscounts(w http.ResponseWriter, r *http.Request) {
	codes, err := h.discounts.List(r.Context())
	if err != nil {
		writeInternalError(w, r, err)
		return
	}

	resp := make([]discountResponse, len(codes))
	for i := range codes {
		resp[i] = toDiscountResponse(&codes[i])
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (h *Handler) createDiscount(w http.ResponseWriter, r *http.Request) {
	var body discountBody
	if !decodeBody(w, r, &body) {
		return
	}

	c := body.toDomain()
	if err := c.Validate(); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := h.discounts.Create(r.Context(), &c); err != nil {
		writeInternalError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, toDiscountResponse(&c))
}

func (h *Handler) getDiscount(w http.ResponseWriter, r *http.Request) {
	c, err := h.discounts.FindByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		if errors.Is(err, discount.ErrCodeNotFound) {
			writeError(w, r, http.StatusNotFound, "discount code not found")
			return
		}
		writeInternalError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toDiscountResponse(c))
}

func (h *Handler) updateDiscount(w http.ResponseWriter, r *http.Request) {
	existing, err := h.discounts.FindByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		if errors.Is(err, discount.ErrCodeNotFound) {
			writeError(w, r, http.StatusNotFound, "discount code not found")
			return
		}
		writeInternalError(w, r, err)
		return
	}

	var body discountBody
	if !decodeBody(w, r, &body) {
		return
	}

	c := body.toDomain()
	c.ID = existing.ID
	c.Code = existing.Code
	if err := c.Validate(); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := h.discounts.Update(r.Context(), &c); err != nil {
		writeInternalError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toDiscountResponse(&c))
}

func (h *Handler) deleteDiscount(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.discounts.Delete(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		if errors.Is(err, discount.ErrCodeNotFound) {
			writeError(w, r, http.StatusNotFound, "discount code not found")
			return
		}
		writeInternalError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]bool{
		"deleted":  deleted,
		"archived": !deleted,
	})
}

type usageResponse struct {
	Code   string          `json:"code"`
	Stats  *ledger.Stats   `json:"stats"`
	Recent []ledger.Record `json:"recent"`
}

// discountUsage reports a code's redemption stats and its most recent uses.
func (h *Handler) discountUsage(w http.ResponseWriter, r *http.Request) {
	c, err := h.discounts.FindByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		if errors.Is(err, discount.ErrCodeNotFound) {
			writeError(w, r, http.StatusNotFound, "discount code not found")
			return
		}
		writeInternalError(w, r, err)
		return
	}

	stats, err := h.usage.Stats(r.Context(), c.Code)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}
	recent, err := h.usage.Recent(r.Context(), c.Code, recentUsageLimit)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, usageResponse{
		Code:   c.Code,
		Stats:  stats,
		Recent: recent,
	})
}
