package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrBundleNotFound is returned when a bundle id does not exist.
var ErrBundleNotFound = errors.New("bundle not found")

// BundleItem is one SKU entry in a bundle's contents.
type BundleItem struct {
	SKU      string
	Quantity int
}

// Bundle is a fixed-content, fixed-price package defined at deploy time.
type Bundle struct {
	ID   string
	Name string
	// BundlePrice is the aggregate price charged for the bundle.
	BundlePrice decimal.Decimal
	// OriginalPrice is the sum of the contents at list price.
	OriginalPrice decimal.Decimal
	Contents      []BundleItem
}

// Savings returns OriginalPrice - BundlePrice.
func (b Bundle) Savings() decimal.Decimal {
	return b.OriginalPrice.Sub(b.BundlePrice)
}

func (b Bundle) validate() error {
	if b.ID == "" {
		return errors.New("bundle id is required")
	}
	if len(b.Contents) == 0 {
		return errors.Errorf("bundle %q has no contents", b.ID)
	}
	// The allocator divides by OriginalPrice; zero would panic on every
	// add-to-cart touching the bundle.
	if !b.OriginalPrice.IsPositive() {
		return errors.Errorf("bundle %q must have a positive original price", b.ID)
	}
	if b.BundlePrice.IsNegative() {
		return errors.Errorf("bundle %q has a negative price", b.ID)
	}
	if b.BundlePrice.GreaterThan(b.OriginalPrice) {
		return errors.Errorf("bundle %q priced above its original price", b.ID)
	}
	for _, item := range b.Contents {
		if item.SKU == "" || item.Quantity <= 0 {
			return errors.Errorf("bundle %q has an invalid content line", b.ID)
		}
	}
	return nil
}

// BundleSet is the immutable bundle catalog loaded at startup.
type BundleSet struct {
	ordered []Bundle
	byID    map[string]Bundle
}

// List returns all bundles in catalog order.
func (s *BundleSet) List() []Bundle {
	return s.ordered
}

// Find returns the bundle with the given id, or ErrBundleNotFound.
func (s *BundleSet) Find(id string) (Bundle, error) {
	b, ok := s.byID[id]
	if !ok {
		return Bundle{}, ErrBundleNotFound
	}
	return b, nil
}

// ParseBundles decodes the embedded bundle catalog JSON and validates every
// entry. Prices are decimal strings to avoid float parsing.
func ParseBundles(data []byte) (*BundleSet, error) {
	set := &BundleSet{byID: make(map[string]Bundle)}

	d := jx.DecodeBytes(data)
	err := d.Arr(func(d *jx.Decoder) error {
		var b Bundle
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "id":
				v, err := d.Str()
				b.ID = v
				return err
			case "name":
				v, err := d.Str()
				b.Name = v
				return err
			case "bundlePrice":
				return decodePrice(d, &b.BundlePrice)
			case "originalPrice":
				return decodePrice(d, &b.OriginalPrice)
			case "contents":
				return d.Arr(func(d *jx.Decoder) error {
					var item BundleItem
					if err := d.Obj(func(d *jx.Decoder, key string) error {
						switch key {
						case "sku":
							v, err := d.Str()
							item.SKU = v
							return err
						case "quantity":
							v, err := d.Int()
							item.Quantity = v
							return err
						default:
							return d.Skip()
						}
					}); err != nil {
						return err
					}
					b.Contents = append(b.Contents, item)
					return nil
				})
			default:
				return d.Skip()
			}
		}); err != nil {
			return err
		}

		if err := b.validate(); err != nil {
			return err
		}
		if _, dup := set.byID[b.ID]; dup {
			return errors.Errorf("duplicate bundle id %q", b.ID)
		}
		set.ordered = append(set.ordered, b)
		set.byID[b.ID] = b
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode bundle catalog")
	}
	return set, nil
}

func decodePrice(d *jx.Decoder, out *decimal.Decimal) error {
	s, err := d.Str()
	if err != nil {
		return err
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return errors.Wrapf(err, "parse price %q", s)
	}
	*out = v
	return nil
}

// AllocatedLine is a cart-insertable line carrying the bundle-discounted unit
// price alongside the list price kept for display.
type AllocatedLine struct {
	SKU           string
	Name          string
	Category      string
	Quantity      int
	UnitPrice     decimal.Decimal
	ListUnitPrice decimal.Decimal
}

// Allocator expands bundles into discounted line items, distributing the
// bundle discount proportionally across the contents.
type Allocator struct {
	products Repository
	lg       *zap.Logger
}

// NewAllocator creates an Allocator backed by the product catalog.
func NewAllocator(products Repository, lg *zap.Logger) *Allocator {
	return &Allocator{products: products, lg: lg}
}

// Expand resolves the bundle's contents against the product catalog and
// assigns each line a unit price of round(listPrice * bundlePrice/originalPrice).
// The allocation is deterministic; per-line rounding may leave the summed
// total within one cent per distinct SKU of the bundle price, and no
// remainder pass corrects that. A content SKU missing from the catalog is
// logged and skipped; the rest of the bundle still expands.
func (a *Allocator) Expand(ctx context.Context, b Bundle) ([]AllocatedLine, error) {
	skus := make([]string, len(b.Contents))
	for i, item := range b.Contents {
		skus[i] = item.SKU
	}

	products, err := a.products.GetBySKUs(ctx, skus)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve products for bundle %q", b.ID)
	}
	bysku := make(map[string]Product, len(products))
	for _, p := range products {
		bysku[p.SKU] = p
	}

	ratio := b.BundlePrice.Div(b.OriginalPrice)

	lines := make([]AllocatedLine, 0, len(b.Contents))
	for _, item := range b.Contents {
		p, ok := bysku[item.SKU]
		if !ok {
			a.lg.Warn("bundle references unknown product, skipping line",
				zap.String("bundle", b.ID),
				zap.String("sku", item.SKU),
			)
			continue
		}
		lines = append(lines, AllocatedLine{
			SKU:           p.SKU,
			Name:          p.Name,
			Category:      p.Category,
			Quantity:      item.Quantity,
			UnitPrice:     p.UnitPrice.Mul(ratio).Round(2),
			ListUnitPrice: p.UnitPrice,
		})
	}
	return lines, nil
}
