package ledger

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient() *Client {
	c := NewClient("http://ledger.local", "test-token", 5*time.Second)
	httpmock.ActivateNonDefault(c.client)
	return c
}

func TestCreateHold(t *testing.T) {
	c := newTestClient()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "http://ledger.local/holds",
		httpmock.NewJsonResponderOrPanic(200, map[string]interface{}{
			"hold_ref": "lh_123",
			"status":   "active",
		}))

	ref, err := c.CreateHold(context.Background(), HoldRequest{
		Owner:     "payouts",
		AccountID: "treasury_main",
		Amount:    decimal.NewFromInt(1000),
		Currency:  "USD",
		Reason:    "payout_hold",
		Reference: "po_abc",
	})

	require.NoError(t, err)
	assert.Equal(t, "lh_123", ref)
}

func TestCreateHoldRetriesTransientFailures(t *testing.T) {
	c := newTestClient()
	defer httpmock.DeactivateAndReset()

	calls := 0
	httpmock.RegisterResponder("POST", "http://ledger.local/holds",
		func(req *http.Request) (*http.Response, error) {
			calls++
			if calls < 3 {
				return httpmock.NewJsonResponse(503, map[string]interface{}{})
			}
			return httpmock.NewJsonResponse(200, map[string]interface{}{"hold_ref": "lh_retry"})
		})

	ref, err := c.CreateHold(context.Background(), HoldRequest{Reference: "po_retry", Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)
	assert.Equal(t, "lh_retry", ref)
	assert.Equal(t, 3, calls, "expected two transient failures before success")
}

func TestCreateHoldPermanentRejection(t *testing.T) {
	c := newTestClient()
	defer httpmock.DeactivateAndReset()

	calls := 0
	httpmock.RegisterResponder("POST", "http://ledger.local/holds",
		func(req *http.Request) (*http.Response, error) {
			calls++
			return httpmock.NewJsonResponse(422, map[string]interface{}{"error": "insufficient funds"})
		})

	_, err := c.CreateHold(context.Background(), HoldRequest{Reference: "po_nsf", Amount: decimal.NewFromInt(5)})
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "4xx must not be retried")
}

func TestReleaseHold(t *testing.T) {
	c := newTestClient()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "http://ledger.local/holds/lh_123/release",
		httpmock.NewJsonResponderOrPanic(200, map[string]interface{}{"status": "released"}))

	err := c.ReleaseHold(context.Background(), "lh_123", true, map[string]interface{}{"payout_id": "po_abc"})
	assert.NoError(t, err)
}

func TestReleaseHoldNotFound(t *testing.T) {
	c := newTestClient()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "http://ledger.local/holds/lh_missing/release",
		httpmock.NewJsonResponderOrPanic(404, map[string]interface{}{"error": "not found"}))

	err := c.ReleaseHold(context.Background(), "lh_missing", false, nil)
	assert.Error(t, err)
}
