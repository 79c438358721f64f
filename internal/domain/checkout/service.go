package checkout

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/lonestartortillas/pricing-api/internal/domain/catalog"
	"github.com/lonestartortillas/pricing-api/internal/domain/discount"
	"github.com/lonestartortillas/pricing-api/internal/domain/ledger"
)

// Sentinel errors for order validation.
var (
	ErrEmptyOrder   = errors.New("order has no items or bundles")
	ErrEmailMissing = errors.New("email required")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	SKU string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.SKU)
}

// BundleNotFoundError indicates a requested bundle does not exist.
type BundleNotFoundError struct {
	BundleID string
}

func (e *BundleNotFoundError) Error() string {
	return fmt.Sprintf("bundle %s not found", e.BundleID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	SKU string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.SKU)
}

// CodesRejectedError fails the checkout when any presented code did not
// apply. Rejected codes are never silently dropped: the client must re-quote.
type CodesRejectedError struct {
	Rejections []discount.Rejection
}

func (e *CodesRejectedError) Error() string {
	codes := make([]string, len(e.Rejections))
	for i, r := range e.Rejections {
		codes[i] = fmt.Sprintf("%s (%s)", r.Code, r.Reason)
	}
	return "discount codes rejected: " + strings.Join(codes, ", ")
}

// Notifier is told about completed orders. Implementations must not fail the
// checkout; delivery problems are theirs to log.
type Notifier interface {
	OrderConfirmed(ctx context.Context, o *Order)
}

// NopNotifier is used when no email transport is configured.
type NopNotifier struct{}

func (NopNotifier) OrderConfirmed(context.Context, *Order) {}

// ItemRequest is one requested product line.
type ItemRequest struct {
	SKU      string
	Quantity int
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	Email     string
	Items     []ItemRequest
	BundleIDs []string
	Codes     []string
}

// PlaceOrderResult holds the placed order and the quote that priced it.
type PlaceOrderResult struct {
	Order *Order
	Quote *discount.Quote
}

// Service encapsulates order placement business logic.
type Service struct {
	products  catalog.Repository
	bundles   *catalog.BundleSet
	allocator *catalog.Allocator
	evaluator *discount.Evaluator
	orders    Repository
	notifier  Notifier
}

// NewService creates a checkout Service with the required domain dependencies.
func NewService(
	products catalog.Repository,
	bundles *catalog.BundleSet,
	allocator *catalog.Allocator,
	evaluator *discount.Evaluator,
	orders Repository,
	notifier Notifier,
) *Service {
	return &Service{
		products:  products,
		bundles:   bundles,
		allocator: allocator,
		evaluator: evaluator,
		orders:    orders,
		notifier:  notifier,
	}
}

// Quote prices a cart without persisting anything. Email is optional here:
// without one, buyer-scoped gates (first order, per-email caps, email
// restrictions) evaluate against an anonymous buyer with no history.
func (s *Service) Quote(ctx context.Context, req PlaceOrderRequest) (*discount.Quote, error) {
	if len(req.Items) == 0 && len(req.BundleIDs) == 0 {
		return nil, ErrEmptyOrder
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	_, cartLines, err := s.resolveItems(ctx, req)
	if err != nil {
		return nil, err
	}

	var priorOrders int
	if email != "" {
		priorOrders, err = s.orders.CountByEmail(ctx, email)
		if err != nil {
			return nil, errors.Wrap(err, "count prior orders")
		}
	}

	quote, err := s.evaluator.Evaluate(ctx, discount.Cart{Lines: cartLines}, req.Codes, discount.Buyer{
		Email:           email,
		CompletedOrders: priorOrders,
	})
	if err != nil {
		return nil, errors.Wrap(err, "evaluate discounts")
	}
	return quote, nil
}

// PlaceOrder prices and persists an order end to end: batch product fetch,
// bundle expansion, discount evaluation against the buyer's history, and a
// single transaction writing the order with its usage records. A usage-cap
// race lost at write time surfaces as discount.ErrUsageLimitExceeded; the
// caller re-quotes instead of silently granting the discount.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	if len(req.Items) == 0 && len(req.BundleIDs) == 0 {
		return nil, ErrEmptyOrder
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return nil, ErrEmailMissing
	}

	items, cartLines, err := s.resolveItems(ctx, req)
	if err != nil {
		return nil, err
	}

	priorOrders, err := s.orders.CountByEmail(ctx, email)
	if err != nil {
		return nil, errors.Wrap(err, "count prior orders")
	}

	cart := discount.Cart{Lines: cartLines}
	quote, err := s.evaluator.Evaluate(ctx, cart, req.Codes, discount.Buyer{
		Email:           email,
		CompletedOrders: priorOrders,
	})
	if err != nil {
		return nil, errors.Wrap(err, "evaluate discounts")
	}
	if len(quote.Rejected) > 0 {
		return nil, &CodesRejectedError{Rejections: quote.Rejected}
	}

	o := &Order{
		ID:            uuid.New().String(),
		Email:         email,
		Items:         items,
		Subtotal:      quote.Subtotal,
		DiscountTotal: quote.TotalDiscount,
		Total:         quote.Total,
	}
	o.Number = orderNumber(o.ID)

	usages := make([]ledger.Record, 0, len(quote.Applied))
	for _, a := range quote.Applied {
		o.Discounts = append(o.Discounts, AppliedDiscount{Code: a.Code, Amount: a.Discount})
		usages = append(usages, ledger.Record{
			Code:            a.Code,
			Email:           email,
			OrderNumber:     o.Number,
			DiscountApplied: a.Discount,
		})
	}

	if err := s.orders.Create(ctx, o, usages); err != nil {
		if errors.Is(err, discount.ErrUsageLimitExceeded) {
			return nil, err
		}
		return nil, errors.Wrap(err, "create order")
	}

	s.notifier.OrderConfirmed(ctx, o)

	return &PlaceOrderResult{Order: o, Quote: quote}, nil
}

// resolveItems turns the request into priced order items and evaluator cart
// lines: plain items at list price in one batch fetch, bundles expanded
// through the allocator.
func (s *Service) resolveItems(ctx context.Context, req PlaceOrderRequest) ([]OrderItem, []discount.Line, error) {
	var (
		items []OrderItem
		lines []discount.Line
	)

	if len(req.Items) > 0 {
		skus := make([]string, len(req.Items))
		for i, item := range req.Items {
			if item.Quantity <= 0 {
				return nil, nil, &InvalidQuantityError{SKU: item.SKU}
			}
			skus[i] = item.SKU
		}

		fetched, err := s.products.GetBySKUs(ctx, skus)
		if err != nil {
			return nil, nil, errors.Wrap(err, "get products")
		}
		bysku := make(map[string]catalog.Product, len(fetched))
		for _, p := range fetched {
			bysku[p.SKU] = p
		}

		for _, item := range req.Items {
			p, ok := bysku[item.SKU]
			if !ok {
				return nil, nil, &ProductNotFoundError{SKU: item.SKU}
			}
			items = append(items, OrderItem{
				SKU:       p.SKU,
				Name:      p.Name,
				Quantity:  item.Quantity,
				UnitPrice: p.UnitPrice,
			})
			lines = append(lines, discount.Line{
				SKU:       p.SKU,
				Category:  p.Category,
				Quantity:  item.Quantity,
				UnitPrice: p.UnitPrice,
			})
		}
	}

	for _, id := range req.BundleIDs {
		b, err := s.bundles.Find(id)
		if err != nil {
			return nil, nil, &BundleNotFoundError{BundleID: id}
		}
		allocated, err := s.allocator.Expand(ctx, b)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "expand bundle %q", id)
		}
		for _, line := range allocated {
			items = append(items, OrderItem{
				SKU:       line.SKU,
				Name:      line.Name,
				Quantity:  line.Quantity,
				UnitPrice: line.UnitPrice,
				BundleID:  b.ID,
			})
			lines = append(lines, discount.Line{
				SKU:       line.SKU,
				Category:  line.Category,
				Quantity:  line.Quantity,
				UnitPrice: line.UnitPrice,
			})
		}
	}

	return items, lines, nil
}

// orderNumber derives the human-facing order number from the order id.
func orderNumber(id string) string {
	return "LST-" + strings.ToUpper(strings.ReplaceAll(id, "-", "")[:10])
}
