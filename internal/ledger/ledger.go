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

// Package ledger is the client for the external ledger/accounting service.
// The payout engine never posts double entries itself; it only asks the
// ledger to hold funds and later release them, finally (settled) or
// non-finally (cancelled, refunded).
package ledger

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/Molam-git/molam-connect-sub004/internal/request"
)

// Service is the contract the payout engine consumes. Tests substitute a
// mock; production wires the HTTP Client below.
type Service interface {
	CreateHold(ctx context.Context, req HoldRequest) (string, error)
	ReleaseHold(ctx context.Context, ledgerRef string, final bool, details map[string]interface{}) error
}

// HoldRequest reserves amount+fees against the treasury account until the
// payout settles or dies.
type HoldRequest struct {
	Owner     string          `json:"owner"`
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Reason    string          `json:"reason"`
	Reference string          `json:"reference"`
}

type holdResponse struct {
	HoldRef string `json:"hold_ref"`
	Status  string `json:"status"`
}

type releaseRequest struct {
	Final   bool                   `json:"final"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type Client struct {
	baseURL   string
	authToken string
	client    *http.Client
}

func NewClient(baseURL, authToken string, timeout time.Duration) *Client {
	return &Client{
		baseURL:   baseURL,
		authToken: authToken,
		client:    &http.Client{Timeout: timeout},
	}
}

// CreateHold asks the ledger to reserve funds. Transient failures are retried
// with a short exponential backoff; the overall call is bounded so payout
// creation cannot hang on a slow ledger.
func (c *Client) CreateHold(ctx context.Context, req HoldRequest) (string, error) {
	var holdRef string

	operation := func() error {
		payload, err := request.ToJsonReq(&req)
		if err != nil {
			return backoff.Permanent(err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/holds", payload)
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
		httpReq.Header.Set("Idempotency-Key", req.Reference)

		var resp holdResponse
		httpResp, err := request.Call(httpReq, &resp)
		if err != nil {
			return err
		}
		if httpResp.StatusCode >= 500 {
			return fmt.Errorf("ledger hold failed with status %d", httpResp.StatusCode)
		}
		if httpResp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("ledger rejected hold with status %d", httpResp.StatusCode))
		}
		if resp.HoldRef == "" {
			return backoff.Permanent(errors.New("ledger returned an empty hold reference"))
		}

		holdRef = resp.HoldRef
		return nil
	}

	policy := backoff.WithContext(newRetryPolicy(), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", errors.Wrap(err, "creating ledger hold")
	}
	return holdRef, nil
}

// ReleaseHold releases a hold exactly once. final=true moves the funds to
// treasury/fee accounts, final=false returns them to the source balance. The
// ledger treats repeated releases of the same ref as a no-op, so retries here
// are safe.
func (c *Client) ReleaseHold(ctx context.Context, ledgerRef string, final bool, details map[string]interface{}) error {
	operation := func() error {
		payload, err := request.ToJsonReq(&releaseRequest{Final: final, Details: details})
		if err != nil {
			return backoff.Permanent(err)
		}

		url := fmt.Sprintf("%s/holds/%s/release", c.baseURL, ledgerRef)
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, payload)
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)

		var resp map[string]interface{}
		httpResp, err := request.Call(httpReq, &resp)
		if err != nil {
			return err
		}
		if httpResp.StatusCode >= 500 {
			return fmt.Errorf("ledger release failed with status %d", httpResp.StatusCode)
		}
		if httpResp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(fmt.Errorf("ledger hold %s not found", ledgerRef))
		}
		if httpResp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("ledger rejected release with status %d", httpResp.StatusCode))
		}
		return nil
	}

	policy := backoff.WithContext(newRetryPolicy(), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return errors.Wrapf(err, "releasing ledger hold %s", ledgerRef)
	}
	return nil
}

func newRetryPolicy() *backoff.ExponentialBackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	policy.MaxElapsedTime = 10 * time.Second
	return policy
}
