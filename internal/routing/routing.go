/*
Copyright 2025 Molam Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package routing resolves which treasury account and connector a payout
// should use. The optimizer is an external decision service; when it is
// unreachable or misbehaves the resolver falls back to a static default route
// so payout creation is never blocked on routing.
package routing

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Molam-git/molam-connect-sub004/internal/request"
)

// Route is the routing decision for one payout.
type Route struct {
	TreasuryAccountID string          `json:"treasury_account_id"`
	ConnectorID       string          `json:"connector_id"`
	FeeEstimate       decimal.Decimal `json:"fee_estimate"`
}

// Resolver picks a route for a payout.
type Resolver interface {
	PickRouting(ctx context.Context, amount decimal.Decimal, currency, origin string) (Route, error)
}

type pickRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Origin   string          `json:"origin"`
}

// Client calls the external routing optimizer, falling back to the default
// route on any failure. PickRouting therefore never returns an error to the
// lifecycle service.
type Client struct {
	baseURL      string
	client       *http.Client
	defaultRoute Route
}

func NewClient(baseURL string, timeout time.Duration, defaultRoute Route) *Client {
	return &Client{
		baseURL:      baseURL,
		client:       &http.Client{Timeout: timeout},
		defaultRoute: defaultRoute,
	}
}

func (c *Client) PickRouting(ctx context.Context, amount decimal.Decimal, currency, origin string) (Route, error) {
	if c.baseURL == "" {
		return c.defaultRoute, nil
	}

	payload, err := request.ToJsonReq(&pickRequest{Amount: amount, Currency: currency, Origin: origin})
	if err != nil {
		return c.defaultRoute, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/routing/pick", payload)
	if err != nil {
		return c.defaultRoute, nil
	}

	var route Route
	resp, err := c.client.Do(httpReq)
	if err != nil {
		logrus.Warnf("routing optimizer unreachable, using default route: %v", err)
		return c.defaultRoute, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logrus.Warnf("routing optimizer returned status %d, using default route", resp.StatusCode)
		return c.defaultRoute, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(&route); err != nil || route.TreasuryAccountID == "" {
		logrus.Warnf("routing optimizer returned an unusable route, using default: %v", err)
		return c.defaultRoute, nil
	}

	return route, nil
}

// Static always returns a fixed route. Used when no optimizer is configured
// and by tests.
type Static struct {
	Route Route
}

func (s Static) PickRouting(_ context.Context, _ decimal.Decimal, _, _ string) (Route, error) {
	return s.Route, nil
}
