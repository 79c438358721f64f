package discount

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockCodeRepo struct {
	codes map[string]*Code
}

func (m *mockCodeRepo) FindByCode(_ context.Context, code string) (*Code, error) {
	c, ok := m.codes[NormalizeCode(code)]
	if !ok {
		return nil, ErrCodeNotFound
	}
	return c, nil
}

type mockUsage struct {
	total   map[string]int
	byEmail map[string]int
}

func (m *mockUsage) CountTotal(_ context.Context, code string) (int, error) {
	return m.total[code], nil
}

func (m *mockUsage) CountForEmail(_ context.Context, code, email string) (int, error) {
	return m.byEmail[code+"|"+email], nil
}

// --- Helpers ---

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var testNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func newTestEvaluator(usage *mockUsage, codes ...*Code) *Evaluator {
	repo := &mockCodeRepo{codes: make(map[string]*Code, len(codes))}
	for _, c := range codes {
		repo.codes[c.Code] = c
	}
	if usage == nil {
		usage = &mockUsage{}
	}
	e := NewEvaluator(repo, usage)
	e.now = func() time.Time { return testNow }
	return e
}

// testCart is two tortilla packs at $12 and two salsas at $8: $40 subtotal.
func testCart() Cart {
	return Cart{Lines: []Line{
		{SKU: "flour-tortilla-10", Category: "tortillas", Quantity: 2, UnitPrice: d("12.00")},
		{SKU: "salsa-verde", Category: "salsas", Quantity: 2, UnitPrice: d("8.00")},
	}}
}

func percentageCode(code string, pct int64) *Code {
	return &Code{
		ID:     code + "-id",
		Code:   code,
		Active: true,
		Rules: []Rule{{
			Type:       RulePercentage,
			Percentage: &PercentageRule{Value: decimal.NewFromInt(pct)},
		}},
	}
}

func fixedCode(code string, amount string) *Code {
	return &Code{
		ID:     code + "-id",
		Code:   code,
		Active: true,
		Rules: []Rule{{
			Type:        RuleFixedAmount,
			FixedAmount: &FixedAmountRule{Value: d(amount)},
		}},
	}
}

// --- Tests ---

func TestEvaluateNoCodes(t *testing.T) {
	e := newTestEvaluator(nil)

	quote, err := e.Evaluate(context.Background(), testCart(), nil, Buyer{})
	require.NoError(t, err)

	assert.True(t, quote.Subtotal.Equal(d("40.00")))
	assert.True(t, quote.TotalDiscount.IsZero())
	assert.True(t, quote.Total.Equal(d("40.00")))
	assert.Empty(t, quote.Applied)
	assert.Empty(t, quote.Rejected)
}

func TestEvaluatePercentageWithCap(t *testing.T) {
	save := percentageCode("SAVE20", 20)
	save.MaxDiscountAmount = d("5.00")
	e := newTestEvaluator(nil, save)

	quote, err := e.Evaluate(context.Background(), testCart(), []string{"SAVE20"}, Buyer{})
	require.NoError(t, err)
	require.Len(t, quote.Applied, 1)

	// 20% of $40 is $8, capped at $5.
	assert.True(t, quote.Applied[0].Discount.Equal(d("5.00")))
	assert.True(t, quote.TotalDiscount.Equal(d("5.00")))
	assert.True(t, quote.Total.Equal(d("35.00")))
}

func TestEvaluateFixedAmountClampedToSubtotal(t *testing.T) {
	e := newTestEvaluator(nil, fixedCode("BIGOFF", "50.00"))

	quote, err := e.Evaluate(context.Background(), testCart(), []string{"BIGOFF"}, Buyer{})
	require.NoError(t, err)
	require.Len(t, quote.Applied, 1)

	assert.True(t, quote.TotalDiscount.Equal(d("40.00")))
	assert.True(t, quote.Total.IsZero())
}

func TestEvaluateCodeLookupIsCaseInsensitive(t *testing.T) {
	e := newTestEvaluator(nil, percentageCode("SAVE10", 10))

	quote, err := e.Evaluate(context.Background(), testCart(), []string{"  save10 "}, Buyer{})
	require.NoError(t, err)
	require.Len(t, quote.Applied, 1)
	assert.Equal(t, "SAVE10", quote.Applied[0].Code)
}

func TestEvaluateDuplicateCodesApplyOnce(t *testing.T) {
	e := newTestEvaluator(nil, percentageCode("SAVE10", 10))

	quote, err := e.Evaluate(context.Background(), testCart(), []string{"SAVE10", "save10"}, Buyer{})
	require.NoError(t, err)
	require.Len(t, quote.Applied, 1)
	assert.True(t, quote.TotalDiscount.Equal(d("4.00")))
}

func TestEvaluateRejections(t *testing.T) {
	yesterday := testNow.Add(-24 * time.Hour)
	tomorrow := testNow.Add(24 * time.Hour)

	inactive := percentageCode("INACTIVE", 10)
	inactive.Active = false

	archived := percentageCode("ARCHIVED", 10)
	archived.ArchivedAt = &yesterday

	expired := percentageCode("EXPIRED", 10)
	expired.ExpiresAt = &yesterday

	early := percentageCode("EARLY", 10)
	early.StartsAt = &tomorrow

	minOrder := percentageCode("BIGSPENDER", 10)
	minOrder.MinOrderAmount = d("100.00")

	firstOnly := percentageCode("WELCOME", 10)
	firstOnly.FirstOrderOnly = true

	e := newTestEvaluator(nil, inactive, archived, expired, early, minOrder, firstOnly)

	tests := []struct {
		code   string
		buyer  Buyer
		reason Reason
	}{
		{"MISSING", Buyer{}, ReasonCodeNotFound},
		{"INACTIVE", Buyer{}, ReasonCodeInactive},
		{"ARCHIVED", Buyer{}, ReasonCodeInactive},
		{"EXPIRED", Buyer{}, ReasonCodeExpired},
		{"EARLY", Buyer{}, ReasonCodeNotYetStarted},
		{"BIGSPENDER", Buyer{}, ReasonMinOrderNotMet},
		{"WELCOME", Buyer{Email: "x@y.com", CompletedOrders: 1}, ReasonNotFirstOrder},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			quote, err := e.Evaluate(context.Background(), testCart(), []string{tt.code}, tt.buyer)
			require.NoError(t, err)
			assert.Empty(t, quote.Applied)
			require.Len(t, quote.Rejected, 1)
			assert.Equal(t, tt.reason, quote.Rejected[0].Reason)
			assert.True(t, quote.Total.Equal(quote.Subtotal))
		})
	}
}

func TestEvaluateFirstOrderAllowedForNewBuyer(t *testing.T) {
	firstOnly := percentageCode("WELCOME", 10)
	firstOnly.FirstOrderOnly = true
	e := newTestEvaluator(nil, firstOnly)

	quote, err := e.Evaluate(context.Background(), testCart(), []string{"WELCOME"}, Buyer{Email: "new@y.com"})
	require.NoError(t, err)
	assert.Len(t, quote.Applied, 1)
}

func TestEvaluateCategoryRestriction(t *testing.T) {
	taco := percentageCode("TACOTUESDAY", 15)
	taco.Restrictions = []Restriction{
		{Type: RestrictCategory, Value: "tortillas", Include: true},
	}
	e := newTestEvaluator(nil, taco)

	quote, err := e.Evaluate(context.Background(), testCart(), []string{"TACOTUESDAY"}, Buyer{})
	require.NoError(t, err)
	require.Len(t, quote.Applied, 1)

	// 15% of the $24 tortilla line only.
	assert.True(t, quote.Applied[0].Discount.Equal(d("3.60")))
}

func TestEvaluateProductExcludeOverridesInclude(t *testing.T) {
	c := percentageCode("PICKY", 10)
	c.Restrictions = []Restriction{
		{Type: RestrictProduct, Value: "flour-tortilla-10", Include: true},
		{Type: RestrictProduct, Value: "salsa-verde", Include: true},
		{Type: RestrictProduct, Value: "salsa-verde", Include: false},
	}
	e := newTestEvaluator(nil, c)

	quote, err := e.Evaluate(context.Background(), testCart(), []string{"PICKY"}, Buyer{})
	require.NoError(t, err)
	require.Len(t, quote.Applied, 1)

	// 10% of the $24 tortilla line; salsa excluded despite its include entry.
	assert.True(t, quote.Applied[0].Discount.Equal(d("2.40")))
}

func TestEvaluateEmailRestrictionGatesWholeCart(t *testing.T) {
	vip := percentageCode("VIPONLY", 25)
	vip.Restrictions = []Restriction{
		{Type: RestrictCustomerEmail, Value: "vip@lonestar.com", Include: true},
	}
	e := newTestEvaluator(nil, vip)

	quote, err := e.Evaluate(context.Background(), testCart(), []string{"VIPONLY"}, Buyer{Email: "nobody@y.com"})
	require.NoError(t, err)
	assert.Empty(t, quote.Applied)
	require.Len(t, quote.Rejected, 1)
	assert.Equal(t, ReasonNoEligibleItems, quote.Rejected[0].Reason)

	quote, err = e.Evaluate(context.Background(), testCart(), []string{"VIPONLY"}, Buyer{Email: "VIP@Lonestar.com"})
	require.NoError(t, err)
	assert.Len(t, quote.Applied, 1)
}

func TestEvaluateBuyXGetY(t *testing.T) {
	bogo := &Code{
		ID:     "bogo-id",
		Code:   "FREESALSA",
		Active: true,
		Rules: []Rule{{
			Type: RuleBuyXGetY,
			BuyXGetY: &BuyXGetYRule{
				BuySKU:         "flour-tortilla-10",
				BuyQuantity:    2,
				GetSKU:         "salsa-verde",
				GetQuantity:    1,
				GetDiscountPct: decimal.NewFromInt(100),
			},
		}},
	}
	e := newTestEvaluator(nil, bogo)

	// Two tortilla packs: exactly one multiple, one free salsa.
	quote, err := e.Evaluate(context.Background(), testCart(), []string{"FREESALSA"}, Buyer{})
	require.NoError(t, err)
	require.Len(t, quote.Applied, 1)
	assert.True(t, quote.Applied[0].Discount.Equal(d("8.00")))

	// A partial multiple grants nothing extra: three buy units still one multiple.
	cart := testCart()
	cart.Lines[0].Quantity = 3
	quote, err = e.Evaluate(context.Background(), cart, []string{"FREESALSA"}, Buyer{})
	require.NoError(t, err)
	require.Len(t, quote.Applied, 1)
	assert.True(t, quote.Applied[0].Discount.Equal(d("8.00")))

	// One buy unit short of the threshold grants nothing at all.
	cart.Lines[0].Quantity = 1
	quote, err = e.Evaluate(context.Background(), cart, []string{"FREESALSA"}, Buyer{})
	require.NoError(t, err)
	assert.Empty(t, quote.Applied)
}

func TestEvaluateStackableCombines(t *testing.T) {
	a := percentageCode("STACKA", 10)
	a.Stackable = true
	b := fixedCode("STACKB", "5.00")
	b.Stackable = true
	e := newTestEvaluator(nil, a, b)

	quote, err := e.Evaluate(context.Background(), testCart(), []string{"STACKA", "STACKB"}, Buyer{})
	require.NoError(t, err)
	require.Len(t, quote.Applied, 2)

	// Both computed against the original $40 subtotal: $4 + $5.
	assert.True(t, quote.TotalDiscount.Equal(d("9.00")))
	assert.True(t, quote.Total.Equal(d("31.00")))
}

func TestEvaluateNonStackableConflict(t *testing.T) {
	a := percentageCode("EXCLUSIVEA", 10)
	a.Priority = 10
	b := percentageCode("EXCLUSIVEB", 20)
	b.Priority = 20
	s := fixedCode("STACKS", "2.00")
	s.Stackable = true
	e := newTestEvaluator(nil, a, b, s)

	quote, err := e.Evaluate(context.Background(), testCart(), []string{"EXCLUSIVEA", "EXCLUSIVEB", "STACKS"}, Buyer{})
	require.NoError(t, err)

	// Lowest priority non-stackable wins; the stackable rides along.
	require.Len(t, quote.Applied, 2)
	codes := []string{quote.Applied[0].Code, quote.Applied[1].Code}
	assert.Contains(t, codes, "EXCLUSIVEA")
	assert.Contains(t, codes, "STACKS")

	require.Len(t, quote.Rejected, 1)
	assert.Equal(t, "EXCLUSIVEB", quote.Rejected[0].Code)
	assert.Equal(t, ReasonCodeConflict, quote.Rejected[0].Reason)
}

func TestEvaluatePriorityTieRejectsAllNonStackable(t *testing.T) {
	a := percentageCode("TIEA", 10)
	a.Priority = 10
	b := percentageCode("TIEB", 20)
	b.Priority = 10
	s := fixedCode("STACKS", "2.00")
	s.Stackable = true
	e := newTestEvaluator(nil, a, b, s)

	quote, err := e.Evaluate(context.Background(), testCart(), []string{"TIEA", "TIEB", "STACKS"}, Buyer{})
	require.NoError(t, err)

	require.Len(t, quote.Applied, 1)
	assert.Equal(t, "STACKS", quote.Applied[0].Code)

	require.Len(t, quote.Rejected, 2)
	for _, r := range quote.Rejected {
		assert.Equal(t, ReasonCodeConflict, r.Reason)
	}
}

func TestEvaluateUsageCaps(t *testing.T) {
	capped := percentageCode("LIMITED", 10)
	capped.MaxUsageTotal = 5
	perEmail := percentageCode("ONCEEACH", 10)
	perEmail.MaxUsagePerEmail = 1

	usage := &mockUsage{
		total:   map[string]int{"LIMITED": 5},
		byEmail: map[string]int{"ONCEEACH|used@y.com": 1},
	}
	e := newTestEvaluator(usage, capped, perEmail)

	quote, err := e.Evaluate(context.Background(), testCart(), []string{"LIMITED"}, Buyer{})
	require.NoError(t, err)
	require.Len(t, quote.Rejected, 1)
	assert.Equal(t, ReasonUsageLimitExceeded, quote.Rejected[0].Reason)

	quote, err = e.Evaluate(context.Background(), testCart(), []string{"ONCEEACH"}, Buyer{Email: "used@y.com"})
	require.NoError(t, err)
	require.Len(t, quote.Rejected, 1)
	assert.Equal(t, ReasonUsageLimitExceeded, quote.Rejected[0].Reason)

	// A fresh email is under its cap.
	quote, err = e.Evaluate(context.Background(), testCart(), []string{"ONCEEACH"}, Buyer{Email: "fresh@y.com"})
	require.NoError(t, err)
	assert.Len(t, quote.Applied, 1)
}

func TestEvaluateTotalNeverNegative(t *testing.T) {
	a := fixedCode("HUGEA", "30.00")
	a.Stackable = true
	b := fixedCode("HUGEB", "30.00")
	b.Stackable = true
	e := newTestEvaluator(nil, a, b)

	quote, err := e.Evaluate(context.Background(), testCart(), []string{"HUGEA", "HUGEB"}, Buyer{})
	require.NoError(t, err)

	assert.True(t, quote.TotalDiscount.Equal(d("40.00")))
	assert.True(t, quote.Total.IsZero())

	// The breakdown still sums to the clamped total.
	sum := decimal.Zero
	for _, a := range quote.Applied {
		for _, b := range a.Breakdown {
			sum = sum.Add(b.Amount)
		}
	}
	assert.True(t, sum.Equal(quote.TotalDiscount))
}

func TestEvaluateMultiRuleCodeLevelCap(t *testing.T) {
	combo := &Code{
		ID:                "combo-id",
		Code:              "COMBO",
		Active:            true,
		MaxDiscountAmount: d("6.00"),
		Rules: []Rule{
			{Type: RulePercentage, Priority: 1, Percentage: &PercentageRule{Value: decimal.NewFromInt(10)}},
			{Type: RuleFixedAmount, Priority: 2, FixedAmount: &FixedAmountRule{Value: d("5.00")}},
		},
	}
	e := newTestEvaluator(nil, combo)

	quote, err := e.Evaluate(context.Background(), testCart(), []string{"COMBO"}, Buyer{})
	require.NoError(t, err)
	require.Len(t, quote.Applied, 1)

	// $4 from the percentage rule, then the fixed rule limited to the
	// remaining $2 of the code-level cap.
	assert.True(t, quote.Applied[0].Discount.Equal(d("6.00")))
	require.Len(t, quote.Applied[0].Breakdown, 2)
	assert.True(t, quote.Applied[0].Breakdown[0].Amount.Equal(d("4.00")))
	assert.True(t, quote.Applied[0].Breakdown[1].Amount.Equal(d("2.00")))
}

func TestEvaluateRuleLevelMinOrderSkipsRuleOnly(t *testing.T) {
	c := &Code{
		ID:     "tiered-id",
		Code:   "TIERED",
		Active: true,
		Rules: []Rule{
			{Type: RulePercentage, Priority: 1, Percentage: &PercentageRule{
				Value:          decimal.NewFromInt(20),
				MinOrderAmount: d("100.00"),
			}},
			{Type: RulePercentage, Priority: 2, Percentage: &PercentageRule{
				Value: decimal.NewFromInt(5),
			}},
		},
	}
	e := newTestEvaluator(nil, c)

	quote, err := e.Evaluate(context.Background(), testCart(), []string{"TIERED"}, Buyer{})
	require.NoError(t, err)
	require.Len(t, quote.Applied, 1)

	// Only the 5% rule fires below the $100 tier.
	assert.True(t, quote.Applied[0].Discount.Equal(d("2.00")))
	require.Len(t, quote.Applied[0].Breakdown, 1)
}

func TestEvaluateDeterministic(t *testing.T) {
	save := percentageCode("SAVE20", 20)
	save.MaxDiscountAmount = d("5.00")
	e := newTestEvaluator(nil, save)

	first, err := e.Evaluate(context.Background(), testCart(), []string{"SAVE20"}, Buyer{})
	require.NoError(t, err)
	second, err := e.Evaluate(context.Background(), testCart(), []string{"SAVE20"}, Buyer{})
	require.NoError(t, err)

	assert.True(t, first.TotalDiscount.Equal(second.TotalDiscount))
	assert.True(t, first.Total.Equal(second.Total))
	assert.Equal(t, len(first.Applied), len(second.Applied))
}
