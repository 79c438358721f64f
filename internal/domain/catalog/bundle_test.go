package catalog

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Mock implementations ---

type mockProductRepo struct {
	bySKU map[string]Product
}

func (m *mockProductRepo) List(_ context.Context) ([]Product, error) {
	return nil, nil
}

func (m *mockProductRepo) GetBySKU(_ context.Context, sku string) (*Product, error) {
	p, ok := m.bySKU[sku]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *mockProductRepo) GetBySKUs(_ context.Context, skus []string) ([]Product, error) {
	var out []Product
	for _, sku := range skus {
		if p, ok := m.bySKU[sku]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// --- Helpers ---

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newCatalogRepo() *mockProductRepo {
	return &mockProductRepo{bySKU: map[string]Product{
		"corn-tortilla-50":   {SKU: "corn-tortilla-50", Name: "Corn Tortillas (50 count)", Category: "tortillas", UnitPrice: d("15.75"), Active: true},
		"flour-tortilla-20":  {SKU: "flour-tortilla-20", Name: "Flour Tortillas (20 count)", Category: "tortillas", UnitPrice: d("12.50"), Active: true},
		"butter-tortilla-20": {SKU: "butter-tortilla-20", Name: "Butter Tortillas (20 count)", Category: "tortillas", UnitPrice: d("14.00"), Active: true},
		"chips-family":       {SKU: "chips-family", Name: "Tortilla Chips Family Bag", Category: "chips", UnitPrice: d("19.00"), Active: true},
	}}
}

// tacoNight is a 5% bundle discount over an $160 list total.
func tacoNight() Bundle {
	return Bundle{
		ID:            "taco-night",
		Name:          "Taco Night Bundle",
		BundlePrice:   d("152.00"),
		OriginalPrice: d("160.00"),
		Contents: []BundleItem{
			{SKU: "corn-tortilla-50", Quantity: 4},
			{SKU: "flour-tortilla-20", Quantity: 4},
			{SKU: "butter-tortilla-20", Quantity: 2},
			{SKU: "chips-family", Quantity: 1},
		},
	}
}

// --- Tests ---

func TestParseBundles(t *testing.T) {
	data := []byte(`[
		{
			"id": "taco-night",
			"name": "Taco Night Bundle",
			"bundlePrice": "152.00",
			"originalPrice": "160.00",
			"contents": [
				{"sku": "corn-tortilla-50", "quantity": 4},
				{"sku": "chips-family", "quantity": 1}
			]
		},
		{
			"id": "starter-pack",
			"name": "Starter",
			"bundlePrice": "42.50",
			"originalPrice": "47.25",
			"contents": [{"sku": "corn-tortilla-50", "quantity": 1}]
		}
	]`)

	set, err := ParseBundles(data)
	require.NoError(t, err)
	require.Len(t, set.List(), 2)

	b, err := set.Find("taco-night")
	require.NoError(t, err)
	assert.Equal(t, "Taco Night Bundle", b.Name)
	assert.True(t, b.Savings().Equal(d("8.00")))
	assert.Len(t, b.Contents, 2)

	_, err = set.Find("nope")
	assert.ErrorIs(t, err, ErrBundleNotFound)
}

func TestParseBundlesRejectsBadData(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing id", `[{"name": "x", "bundlePrice": "1.00", "originalPrice": "2.00", "contents": [{"sku": "a", "quantity": 1}]}]`},
		{"no contents", `[{"id": "x", "bundlePrice": "1.00", "originalPrice": "2.00", "contents": []}]`},
		{"priced above original", `[{"id": "x", "bundlePrice": "3.00", "originalPrice": "2.00", "contents": [{"sku": "a", "quantity": 1}]}]`},
		{"zero original price", `[{"id": "x", "bundlePrice": "0.00", "originalPrice": "0.00", "contents": [{"sku": "a", "quantity": 1}]}]`},
		{"negative bundle price", `[{"id": "x", "bundlePrice": "-1.00", "originalPrice": "2.00", "contents": [{"sku": "a", "quantity": 1}]}]`},
		{"zero quantity", `[{"id": "x", "bundlePrice": "1.00", "originalPrice": "2.00", "contents": [{"sku": "a", "quantity": 0}]}]`},
		{"duplicate id", `[
			{"id": "x", "bundlePrice": "1.00", "originalPrice": "2.00", "contents": [{"sku": "a", "quantity": 1}]},
			{"id": "x", "bundlePrice": "1.00", "originalPrice": "2.00", "contents": [{"sku": "a", "quantity": 1}]}
		]`},
		{"bad price", `[{"id": "x", "bundlePrice": "abc", "originalPrice": "2.00", "contents": [{"sku": "a", "quantity": 1}]}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBundles([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestExpandAllocatesProportionally(t *testing.T) {
	a := NewAllocator(newCatalogRepo(), zap.NewNop())

	lines, err := a.Expand(context.Background(), tacoNight())
	require.NoError(t, err)
	require.Len(t, lines, 4)

	// Each unit price is list price times 152/160, rounded to cents.
	want := map[string]string{
		"corn-tortilla-50":   "14.96",
		"flour-tortilla-20":  "11.88",
		"butter-tortilla-20": "13.30",
		"chips-family":       "18.05",
	}
	total := decimal.Zero
	for _, line := range lines {
		assert.True(t, line.UnitPrice.Equal(d(want[line.SKU])), "unit price for %s: got %s", line.SKU, line.UnitPrice)
		assert.True(t, line.ListUnitPrice.GreaterThan(line.UnitPrice))
		total = total.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	// Per-line rounding may drift from the bundle price by up to a cent per
	// distinct SKU; there is no remainder pass.
	drift := total.Sub(d("152.00")).Abs()
	assert.True(t, drift.LessThanOrEqual(d("0.04")), "total %s drifted %s", total, drift)
}

func TestExpandSkipsUnknownSKU(t *testing.T) {
	repo := newCatalogRepo()
	delete(repo.bySKU, "chips-family")
	a := NewAllocator(repo, zap.NewNop())

	lines, err := a.Expand(context.Background(), tacoNight())
	require.NoError(t, err)

	require.Len(t, lines, 3)
	for _, line := range lines {
		assert.NotEqual(t, "chips-family", line.SKU)
	}
}

func TestExpandKeepsCategoryForRestrictions(t *testing.T) {
	a := NewAllocator(newCatalogRepo(), zap.NewNop())

	lines, err := a.Expand(context.Background(), tacoNight())
	require.NoError(t, err)

	byCategory := make(map[string]int)
	for _, line := range lines {
		byCategory[line.Category]++
	}
	assert.Equal(t, 3, byCategory["tortillas"])
	assert.Equal(t, 1, byCategory["chips"])
}
