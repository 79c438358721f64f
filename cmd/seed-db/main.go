// Command seed-db loads the product catalog, a set of demo discount codes,
// and an API key into the database. It is idempotent: products and the API
// key are upserted, existing discount codes are left untouched.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lonestartortillas/pricing-api/internal/domain/discount"
	"github.com/lonestartortillas/pricing-api/internal/storage/postgres"
)

type productJSON struct {
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

const upsertProductSQL = `INSERT INTO products (sku, name, category, unit_price, active)
	VALUES ($1, $2, $3, $4, TRUE)
	ON CONFLICT (sku) DO UPDATE SET
		name = EXCLUDED.name,
		category = EXCLUDED.category,
		unit_price = EXCLUDED.unit_price,
		active = TRUE`

const upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, scopes, active)
	VALUES ($1, $2, $3, $4, TRUE)
	ON CONFLICT (id) DO UPDATE SET
		key_hash = EXCLUDED.key_hash,
		name = EXCLUDED.name,
		scopes = EXCLUDED.scopes,
		active = TRUE`

func main() {
	var (
		databaseURL  string
		productsFile string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or LST_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or LST_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("LST_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or LST_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("LST_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedDiscounts(ctx, postgres.NewDiscountRepository(pool)); err != nil {
		return errors.Wrap(err, "seed discount codes")
	}

	if err := seedAPIKey(ctx, pool, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if _, err := pool.Exec(ctx, upsertProductSQL, p.SKU, p.Name, p.Category, p.UnitPrice); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.SKU)
		}

		slog.Info("upserted product", slog.String("sku", p.SKU), slog.String("name", p.Name))
	}

	return nil
}

// demoDiscounts exercises every rule and restriction type.
func demoDiscounts() []discount.Code {
	return []discount.Code{
		{
			Code:              "SAVE20",
			Name:              "Save 20%",
			Description:       "20% off your order, up to $5",
			Active:            true,
			MaxDiscountAmount: decimal.RequireFromString("5.00"),
			Priority:          10,
			Rules: []discount.Rule{{
				Type:       discount.RulePercentage,
				Percentage: &discount.PercentageRule{Value: decimal.NewFromInt(20)},
			}},
		},
		{
			Code:             "WELCOME10",
			Name:             "Welcome",
			Description:      "$10 off your first order",
			Active:           true,
			MinOrderAmount:   decimal.RequireFromString("25.00"),
			MaxUsagePerEmail: 1,
			FirstOrderOnly:   true,
			Priority:         20,
			Rules: []discount.Rule{{
				Type:        discount.RuleFixedAmount,
				FixedAmount: &discount.FixedAmountRule{Value: decimal.NewFromInt(10)},
			}},
		},
		{
			Code:        "TACOTUESDAY",
			Name:        "Taco Tuesday",
			Description: "15% off tortillas",
			Active:      true,
			Stackable:   true,
			Priority:    30,
			Rules: []discount.Rule{{
				Type:       discount.RulePercentage,
				Percentage: &discount.PercentageRule{Value: decimal.NewFromInt(15)},
			}},
			Restrictions: []discount.Restriction{{
				Type:    discount.RestrictCategory,
				Value:   "tortillas",
				Include: true,
			}},
		},
		{
			Code:        "FREESALSA",
			Name:        "Free Salsa",
			Description: "Buy 2 cases of corn tortillas, get a salsa free",
			Active:      true,
			Stackable:   true,
			Priority:    40,
			Rules: []discount.Rule{{
				Type: discount.RuleBuyXGetY,
				BuyXGetY: &discount.BuyXGetYRule{
					BuySKU:         "corn-tortilla-50",
					BuyQuantity:    2,
					GetSKU:         "salsa-verde-16",
					GetQuantity:    1,
					GetDiscountPct: decimal.NewFromInt(100),
				},
			}},
		},
	}
}

func seedDiscounts(ctx context.Context, repo *postgres.DiscountRepository) error {
	slog.Info("seeding demo discount codes")

	for _, c := range demoDiscounts() {
		if _, err := repo.FindByCode(ctx, c.Code); err == nil {
			slog.Info("discount code exists, skipping", slog.String("code", c.Code))
			continue
		} else if !errors.Is(err, discount.ErrCodeNotFound) {
			return errors.Wrapf(err, "check code %s", c.Code)
		}

		if err := c.Validate(); err != nil {
			return errors.Wrapf(err, "validate code %s", c.Code)
		}
		if err := repo.Create(ctx, &c); err != nil {
			return errors.Wrapf(err, "create code %s", c.Code)
		}

		slog.Info("created discount code", slog.String("code", c.Code), slog.String("description", c.Description))
	}

	return nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey, pepper string) error {
	slog.Info("seeding default API key")

	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(apiKey))
	keyHash := hex.EncodeToString(mac.Sum(nil))

	_, err := pool.Exec(ctx, upsertAPIKeySQL,
		"default", keyHash, "Default test key", []string{"create_order", "admin"},
	)
	if err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", "default"), slog.String("name", "Default test key"))

	return nil
}
