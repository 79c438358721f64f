package discount

import "github.com/shopspring/decimal"

// Line is a cart line item as seen by the evaluator. UnitPrice is the price
// actually charged for the line (bundle lines carry their allocated price).
type Line struct {
	SKU       string
	Category  string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Total returns UnitPrice * Quantity.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is an immutable snapshot of the cart being priced.
type Cart struct {
	Lines []Line
}

// Subtotal returns the sum of line totals before any discount.
func (c Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range c.Lines {
		sum = sum.Add(l.Total())
	}
	return sum
}

// Buyer identifies the customer presenting the codes.
type Buyer struct {
	Email string
	// CompletedOrders is the buyer's count of prior completed orders,
	// used for first-order-only codes.
	CompletedOrders int
}
