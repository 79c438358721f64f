package discount

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// RuleDiscount is one rule's contribution to a code's discount.
type RuleDiscount struct {
	RuleType RuleType        `json:"ruleType"`
	Amount   decimal.Decimal `json:"amount"`
}

// AppliedCode is one code's computed discount with its per-rule breakdown.
type AppliedCode struct {
	Code      string          `json:"code"`
	Discount  decimal.Decimal `json:"discount"`
	Breakdown []RuleDiscount  `json:"breakdown"`
}

// Quote is the outcome of evaluating a cart against a set of presented codes.
// Codes that did not apply appear in Rejected; evaluation itself only fails
// on infrastructure errors.
type Quote struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	TotalDiscount decimal.Decimal `json:"totalDiscount"`
	Total         decimal.Decimal `json:"total"`
	Applied       []AppliedCode   `json:"applied"`
	Rejected      []Rejection     `json:"rejected,omitempty"`
}

// Evaluator decides whether presented codes apply to a cart and computes the
// resulting discounts. Evaluation is a pure read: usage records are written
// at checkout, never here.
type Evaluator struct {
	codes Repository
	usage UsageCounter
	now   func() time.Time
}

// NewEvaluator creates an Evaluator backed by the given code repository and
// usage counter.
func NewEvaluator(codes Repository, usage UsageCounter) *Evaluator {
	return &Evaluator{codes: codes, usage: usage, now: time.Now}
}

// candidate is a code that passed every gate and is awaiting stacking
// resolution.
type candidate struct {
	code     *Code
	eligible []int
}

// Evaluate checks each presented code against the cart and buyer, resolves
// stacking conflicts, and computes per-code discounts. Each applied code is
// computed against the original cart (additive stacking, no compounding); the
// combined discount never exceeds the cart subtotal.
func (e *Evaluator) Evaluate(ctx context.Context, cart Cart, codes []string, buyer Buyer) (*Quote, error) {
	subtotal := cart.Subtotal()
	quote := &Quote{
		Subtotal:      subtotal,
		TotalDiscount: decimal.Zero,
		Total:         subtotal,
	}

	now := e.now()
	seen := make(map[string]struct{}, len(codes))
	var candidates []candidate

	for _, raw := range codes {
		code := NormalizeCode(raw)
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}

		c, err := e.codes.FindByCode(ctx, code)
		if err != nil {
			if errors.Is(err, ErrCodeNotFound) {
				quote.Rejected = append(quote.Rejected, Rejection{
					Code: code, Reason: ReasonCodeNotFound, Message: "code not found",
				})
				continue
			}
			return nil, errors.Wrapf(err, "lookup code %q", code)
		}

		eligible, rejection, err := e.gate(ctx, c, cart, subtotal, buyer, now)
		if err != nil {
			return nil, err
		}
		if rejection != nil {
			quote.Rejected = append(quote.Rejected, *rejection)
			continue
		}
		candidates = append(candidates, candidate{code: c, eligible: eligible})
	}

	winners := resolveStacking(candidates, quote)

	budget := subtotal
	for _, cand := range winners {
		applied := applyCode(cand.code, cart, cand.eligible)
		if applied.Discount.GreaterThan(budget) {
			clampApplied(&applied, budget)
		}
		if !applied.Discount.IsPositive() {
			continue
		}
		budget = budget.Sub(applied.Discount)
		quote.Applied = append(quote.Applied, applied)
		quote.TotalDiscount = quote.TotalDiscount.Add(applied.Discount)
	}

	quote.Total = subtotal.Sub(quote.TotalDiscount)
	return quote, nil
}

// gate runs the code-level validation chain in order, returning the eligible
// line indexes on success or the first failing rejection. A non-nil error is
// an infrastructure failure, not a business outcome.
func (e *Evaluator) gate(ctx context.Context, c *Code, cart Cart, subtotal decimal.Decimal, buyer Buyer, now time.Time) ([]int, *Rejection, error) {
	reject := func(reason Reason, msg string) *Rejection {
		return &Rejection{Code: c.Code, Reason: reason, Message: msg}
	}

	if !c.Active || c.ArchivedAt != nil {
		return nil, reject(ReasonCodeInactive, "code is not active"), nil
	}
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return nil, reject(ReasonCodeNotYetStarted, "code is not yet valid"), nil
	}
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return nil, reject(ReasonCodeExpired, "code has expired"), nil
	}
	if c.MinOrderAmount.IsPositive() && subtotal.LessThan(c.MinOrderAmount) {
		return nil, reject(ReasonMinOrderNotMet,
			fmt.Sprintf("order minimum of %s not met", c.MinOrderAmount.StringFixed(2))), nil
	}
	if c.FirstOrderOnly && buyer.CompletedOrders > 0 {
		return nil, reject(ReasonNotFirstOrder, "code is limited to first orders"), nil
	}

	eligible := eligibleLines(c, cart, buyer)
	if len(eligible) == 0 {
		return nil, reject(ReasonNoEligibleItems, "no cart items are eligible for this code"), nil
	}

	if c.MaxUsageTotal > 0 {
		total, err := e.usage.CountTotal(ctx, c.Code)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "count usage for %q", c.Code)
		}
		if total >= c.MaxUsageTotal {
			return nil, reject(ReasonUsageLimitExceeded, "code usage limit reached"), nil
		}
	}
	if c.MaxUsagePerEmail > 0 && buyer.Email != "" {
		used, err := e.usage.CountForEmail(ctx, c.Code, buyer.Email)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "count usage for %q by email", c.Code)
		}
		if used >= c.MaxUsagePerEmail {
			return nil, reject(ReasonUsageLimitExceeded, "code usage limit reached for this email"), nil
		}
	}

	return eligible, nil, nil
}

// resolveStacking enforces the stacking policy: any number of stackable codes
// may combine with at most one non-stackable code, chosen by lowest Priority.
// A priority tie between non-stackable candidates is admin data-entry error;
// every non-stackable candidate is then rejected with CodeConflict so the tie
// gets surfaced instead of silently picking one.
func resolveStacking(candidates []candidate, quote *Quote) []candidate {
	var nonStackable []candidate
	for _, c := range candidates {
		if !c.code.Stackable {
			nonStackable = append(nonStackable, c)
		}
	}
	if len(nonStackable) <= 1 {
		return candidates
	}

	best := nonStackable[0]
	tie := false
	for _, c := range nonStackable[1:] {
		switch {
		case c.code.Priority < best.code.Priority:
			best, tie = c, false
		case c.code.Priority == best.code.Priority:
			tie = true
		}
	}

	winners := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.code.Stackable {
			winners = append(winners, c)
			continue
		}
		if !tie && c.code.ID == best.code.ID {
			winners = append(winners, c)
			continue
		}
		quote.Rejected = append(quote.Rejected, Rejection{
			Code:    c.code.Code,
			Reason:  ReasonCodeConflict,
			Message: "conflicts with another non-stackable code",
		})
	}
	return winners
}

// applyCode computes one code's discount against the original cart. Rules run
// in ascending priority order over a per-line remaining-value ledger, so a
// dollar discounted by a higher-priority rule is never discounted again by a
// lower-priority one within the same code.
func applyCode(c *Code, cart Cart, eligible []int) AppliedCode {
	remaining := make(map[int]decimal.Decimal, len(eligible))
	for _, i := range eligible {
		remaining[i] = cart.Lines[i].Total()
	}

	rules := make([]Rule, len(c.Rules))
	copy(rules, c.Rules)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })

	// capLeft tracks the code-level MaxDiscountAmount across rules.
	capLeft := c.MaxDiscountAmount
	capped := capLeft.IsPositive()

	applied := AppliedCode{Code: c.Code, Discount: decimal.Zero}
	subtotal := cart.Subtotal()

	for _, rule := range rules {
		var amount decimal.Decimal
		switch rule.Type {
		case RulePercentage:
			amount = applyPercentage(rule.Percentage, cart, eligible, remaining, subtotal)
		case RuleFixedAmount:
			amount = applyFixedAmount(rule.FixedAmount, cart, eligible, remaining, subtotal)
		case RuleBuyXGetY:
			amount = applyBuyXGetY(rule.BuyXGetY, cart, eligible, remaining)
		default:
			continue
		}

		if capped {
			amount = decimal.Min(amount, capLeft)
			capLeft = capLeft.Sub(amount)
		}
		if !amount.IsPositive() {
			continue
		}

		applied.Discount = applied.Discount.Add(amount)
		applied.Breakdown = append(applied.Breakdown, RuleDiscount{
			RuleType: rule.Type,
			Amount:   amount,
		})
	}

	return applied
}

func applyPercentage(r *PercentageRule, cart Cart, eligible []int, remaining map[int]decimal.Decimal, subtotal decimal.Decimal) decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	if r.MinOrderAmount.IsPositive() && subtotal.LessThan(r.MinOrderAmount) {
		return decimal.Zero
	}

	base := sumRemaining(eligible, remaining)
	amount := base.Mul(r.Value).Div(hundred).Round(2)
	if r.MaxDiscount.IsPositive() {
		amount = decimal.Min(amount, r.MaxDiscount)
	}
	amount = decimal.Min(amount, base)
	consume(cart, eligible, remaining, amount)
	return amount
}

func applyFixedAmount(r *FixedAmountRule, cart Cart, eligible []int, remaining map[int]decimal.Decimal, subtotal decimal.Decimal) decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	if r.MinOrderAmount.IsPositive() && subtotal.LessThan(r.MinOrderAmount) {
		return decimal.Zero
	}

	base := sumRemaining(eligible, remaining)
	amount := decimal.Min(r.Value, base).Round(2)
	consume(cart, eligible, remaining, amount)
	return amount
}

// applyBuyXGetY counts qualifying buy units among eligible lines; each
// complete multiple of BuyQuantity discounts GetQuantity units of GetSKU by
// GetDiscountPct. Partial multiples grant nothing (floor division).
func applyBuyXGetY(r *BuyXGetYRule, cart Cart, eligible []int, remaining map[int]decimal.Decimal) decimal.Decimal {
	if r == nil || r.BuyQuantity <= 0 || r.GetQuantity <= 0 {
		return decimal.Zero
	}

	buyUnits := 0
	for _, i := range eligible {
		if cart.Lines[i].SKU == r.BuySKU {
			buyUnits += cart.Lines[i].Quantity
		}
	}
	multiples := buyUnits / r.BuyQuantity
	if multiples == 0 {
		return decimal.Zero
	}

	unitsLeft := multiples * r.GetQuantity
	total := decimal.Zero
	for _, i := range eligible {
		if unitsLeft == 0 {
			break
		}
		line := cart.Lines[i]
		if line.SKU != r.GetSKU {
			continue
		}
		units := min(line.Quantity, unitsLeft)
		unitsLeft -= units

		amount := line.UnitPrice.
			Mul(decimal.NewFromInt(int64(units))).
			Mul(r.GetDiscountPct).Div(hundred).
			Round(2)
		amount = decimal.Min(amount, remaining[i])
		remaining[i] = remaining[i].Sub(amount)
		total = total.Add(amount)
	}
	return total
}

// sumRemaining returns the undiscounted value left across eligible lines.
func sumRemaining(eligible []int, remaining map[int]decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, i := range eligible {
		sum = sum.Add(remaining[i])
	}
	return sum
}

// consume deducts amount from the per-line remaining values, front to back in
// cart order. Callers guarantee amount does not exceed the remaining sum.
func consume(cart Cart, eligible []int, remaining map[int]decimal.Decimal, amount decimal.Decimal) {
	left := amount
	for _, i := range eligible {
		if !left.IsPositive() {
			return
		}
		take := decimal.Min(remaining[i], left)
		remaining[i] = remaining[i].Sub(take)
		left = left.Sub(take)
	}
}

// clampApplied reduces an applied code's discount to budget, trimming the
// breakdown from the last rule backwards so the entries still sum up.
func clampApplied(a *AppliedCode, budget decimal.Decimal) {
	trim := a.Discount.Sub(budget)
	a.Discount = budget
	for i := len(a.Breakdown) - 1; i >= 0 && trim.IsPositive(); i-- {
		take := decimal.Min(a.Breakdown[i].Amount, trim)
		a.Breakdown[i].Amount = a.Breakdown[i].Amount.Sub(take)
		trim = trim.Sub(take)
	}
	kept := a.Breakdown[:0]
	for _, b := range a.Breakdown {
		if b.Amount.IsPositive() {
			kept = append(kept, b)
		}
	}
	a.Breakdown = kept
}
