package routing

import (
	"context"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultRoute = Route{TreasuryAccountID: "treasury_main", ConnectorID: "", FeeEstimate: decimal.Zero}

func newTestClient() *Client {
	c := NewClient("http://router.local", 2*time.Second, defaultRoute)
	httpmock.ActivateNonDefault(c.client)
	return c
}

func TestPickRouting(t *testing.T) {
	c := newTestClient()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "http://router.local/routing/pick",
		httpmock.NewJsonResponderOrPanic(200, map[string]interface{}{
			"treasury_account_id": "treasury_eu",
			"connector_id":        "sepa-primary",
			"fee_estimate":        "1.25",
		}))

	route, err := c.PickRouting(context.Background(), decimal.NewFromInt(500), "EUR", "marketplace")
	require.NoError(t, err)
	assert.Equal(t, "treasury_eu", route.TreasuryAccountID)
	assert.Equal(t, "sepa-primary", route.ConnectorID)
	assert.True(t, route.FeeEstimate.Equal(decimal.RequireFromString("1.25")))
}

func TestPickRoutingFallsBackOnServerError(t *testing.T) {
	c := newTestClient()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "http://router.local/routing/pick",
		httpmock.NewStringResponder(500, "boom"))

	route, err := c.PickRouting(context.Background(), decimal.NewFromInt(500), "USD", "marketplace")
	require.NoError(t, err, "optimizer failure must not block payout creation")
	assert.Equal(t, defaultRoute, route)
}

func TestPickRoutingFallsBackOnBadPayload(t *testing.T) {
	c := newTestClient()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "http://router.local/routing/pick",
		httpmock.NewStringResponder(200, `{"connector_id": "x"}`))

	route, err := c.PickRouting(context.Background(), decimal.NewFromInt(10), "USD", "billing")
	require.NoError(t, err)
	assert.Equal(t, defaultRoute, route, "a route without a treasury account is unusable")
}

func TestStaticResolver(t *testing.T) {
	s := Static{Route: defaultRoute}
	route, err := s.PickRouting(context.Background(), decimal.NewFromInt(1), "USD", "any")
	require.NoError(t, err)
	assert.Equal(t, defaultRoute, route)
}
