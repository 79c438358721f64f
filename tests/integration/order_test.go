//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceOrderRequiresAPIKey(t *testing.T) {
	cart := cartRequest{
		Email: "auth@example.com",
		Items: []itemRequest{{SKU: "corn-tortilla-50", Quantity: 1}},
	}

	noKey := doPost(t, "/api/orders", cart)
	defer noKey.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, noKey.StatusCode)

	wrongKey := doPostWithAuth(t, "/api/orders", cart, "not-the-key")
	defer wrongKey.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, wrongKey.StatusCode)
}

func TestPlaceOrder(t *testing.T) {
	resp := doPostWithAuth(t, "/api/orders", cartRequest{
		Email: "Order@Example.com",
		Items: []itemRequest{{SKU: "corn-tortilla-50", Quantity: 2}},
		Codes: []string{"SAVE10"},
	}, testAPIKey)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	result := decodeJSON[orderResponse](t, resp)
	assert.NotEmpty(t, result.Order.ID)
	assert.Regexp(t, `^LST-[0-9A-F]{10}$`, result.Order.Number)
	assert.Equal(t, "order@example.com", result.Order.Email)
	assert.True(t, result.Order.Total.Equal(decimal.RequireFromString("36.00")))
	assert.True(t, result.Quote.TotalDiscount.Equal(decimal.RequireFromString("4.00")))

	// The redemption shows up on the admin ledger.
	usage := doGetWithAuth(t, "/api/admin/discounts/SAVE10/usage", testAPIKey)
	defer usage.Body.Close()
	require.Equal(t, http.StatusOK, usage.StatusCode)

	ledger := decodeJSON[struct {
		Stats struct {
			TotalUses int `json:"totalUses"`
		} `json:"stats"`
		Recent []struct {
			OrderNumber string `json:"orderNumber"`
		} `json:"recent"`
	}](t, usage)
	assert.GreaterOrEqual(t, ledger.Stats.TotalUses, 1)
	require.NotEmpty(t, ledger.Recent)
	assert.Equal(t, result.Order.Number, ledger.Recent[0].OrderNumber)
}

func TestPlaceOrderWithBundle(t *testing.T) {
	resp := doPostWithAuth(t, "/api/orders", cartRequest{
		Email:     "bundle@example.com",
		BundleIDs: []string{"starter-pack"},
	}, testAPIKey)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	result := decodeJSON[orderResponse](t, resp)
	require.Len(t, result.Order.Items, 2)
	for _, item := range result.Order.Items {
		assert.Equal(t, "starter-pack", item.BundleID)
	}
	assert.True(t, result.Order.Total.Equal(decimal.RequireFromString("27.00")))
}

func TestPlaceOrderRejectedCode(t *testing.T) {
	resp := doPostWithAuth(t, "/api/orders", cartRequest{
		Email: "rejected@example.com",
		Items: []itemRequest{{SKU: "salsa-roja-16", Quantity: 1}},
		Codes: []string{"NOPE"},
	}, testAPIKey)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body := decodeJSON[struct {
		Code     int `json:"code"`
		Rejected []struct {
			Code   string `json:"code"`
			Reason string `json:"reason"`
		} `json:"rejected"`
	}](t, resp)
	require.Len(t, body.Rejected, 1)
	assert.Equal(t, "NOPE", body.Rejected[0].Code)
	assert.Equal(t, "CodeNotFound", body.Rejected[0].Reason)
}

// TestSingleUseCodeUnderContention hammers a code with max_usage_total = 1
// from concurrent checkouts. Exactly one order must win; the rest are turned
// away either by the evaluator (422) or by the row lock inside the order
// transaction (409).
func TestSingleUseCodeUnderContention(t *testing.T) {
	const attempts = 8

	statuses := make([]int, attempts)
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			// No testing.T calls in here: Fatalf is only safe on the test
			// goroutine.
			statuses[i], errs[i] = postOrder(cartRequest{
				Email: fmt.Sprintf("racer%d@example.com", i),
				Items: []itemRequest{{SKU: "corn-tortilla-50", Quantity: 1}},
				Codes: []string{"LASTONE"},
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "attempt %d", i)
	}

	var created, refused int
	for _, status := range statuses {
		switch status {
		case http.StatusCreated:
			created++
		case http.StatusConflict, http.StatusUnprocessableEntity:
			refused++
		default:
			t.Errorf("unexpected status %d", status)
		}
	}
	assert.Equal(t, 1, created, "exactly one checkout may redeem the code")
	assert.Equal(t, attempts-1, refused)

	// A retry after the dust settles is refused too.
	resp := doPostWithAuth(t, "/api/orders", cartRequest{
		Email: "latecomer@example.com",
		Items: []itemRequest{{SKU: "corn-tortilla-50", Quantity: 1}},
		Codes: []string{"LASTONE"},
	}, testAPIKey)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}
