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

// Package connectors normalizes heterogeneous settlement rails (ACH, Wire,
// SEPA and future rails) behind one BankConnector contract. Each rail maps
// its native status vocabulary onto the canonical set and classifies
// failures as transient or permanent so the dispatch worker can decide
// between retry and dead-letter without rail-specific knowledge.
package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Molam-git/molam-connect-sub004/internal/request"
)

// Status is the canonical payout status every rail maps into.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusSettled    Status = "settled"
	StatusFailed     Status = "failed"
	StatusReversed   Status = "reversed"
)

// Error codes shared across rails.
const (
	ErrCodeBankUnavailable = "bank_unavailable"
	ErrCodeTimeout         = "bank_timeout"
	ErrCodeRejected        = "rejected_by_bank"
	ErrCodeInvalidAccount  = "invalid_account"
)

// SubmitRequest is the rail-agnostic submission. IdempotencyKey is the
// request-scoped token passed through to the rail's API so an infrastructure
// retry of the same attempt can never double-submit.
type SubmitRequest struct {
	PayoutID        string          `json:"payout_id"`
	IdempotencyKey  string          `json:"-"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	BeneficiaryName string          `json:"beneficiary_name"`
	AccountRef      string          `json:"account_ref"`
	Reference       string          `json:"reference"`
}

// SubmitResult is the structured outcome of one submission. Failures are
// never surfaced as hangs or raw transport errors: the connector bounds the
// call with its client timeout and folds the failure into this result, with
// Retryable separating transient rail errors from permanent rejections.
type SubmitResult struct {
	Success                 bool
	BankReference           string
	InstantSettlement       bool
	EstimatedSettlementDate *time.Time
	ErrorCode               string
	ErrorMessage            string
	Retryable               bool
}

// StatusResult is the canonical view of a payout's state at the bank.
type StatusResult struct {
	Status    Status
	SettledAt *time.Time
}

// Capabilities describes what a connector can do, so the lifecycle service
// can validate requests before accepting them.
type Capabilities struct {
	SupportsInstant      bool
	SupportsCancellation bool
	MaxAmount            decimal.Decimal
	MinAmount            decimal.Decimal
	SupportedCurrencies  []string
}

// Supports reports whether the capability set accepts this amount/currency.
func (c Capabilities) Supports(amount decimal.Decimal, currency string) error {
	ok := false
	for _, cur := range c.SupportedCurrencies {
		if cur == currency {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("currency %s not supported", currency)
	}
	if amount.LessThan(c.MinAmount) {
		return fmt.Errorf("amount below rail minimum %s", c.MinAmount)
	}
	if !c.MaxAmount.IsZero() && amount.GreaterThan(c.MaxAmount) {
		return fmt.Errorf("amount above rail maximum %s", c.MaxAmount)
	}
	return nil
}

// BankConnector is the contract every settlement rail implements.
type BankConnector interface {
	Name() string
	Rail() string
	SubmitPayout(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	GetPayoutStatus(ctx context.Context, bankReference string) (*StatusResult, error)
	CancelPayout(ctx context.Context, bankReference, reason string) (bool, error)
	ValidateAccount(ctx context.Context, accountRef string) error
	Capabilities() Capabilities
	HealthCheck(ctx context.Context) error
}

// bankResponse is the provider envelope the partner bank APIs answer with.
type bankResponse struct {
	Reference      string `json:"reference"`
	Status         string `json:"status"`
	SettlementDate string `json:"settlement_date"`
	ErrorCode      string `json:"error_code"`
	ErrorMessage   string `json:"error_message"`
}

// apiClient is the shared HTTP transport for the partner bank APIs. Each
// connector owns one with its own base URL, credentials and timeout.
type apiClient struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

func newAPIClient(name, baseURL, apiKey string, timeout time.Duration) *apiClient {
	return &apiClient{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body interface{}, idempotencyKey string) (int, *bankResponse, error) {
	var req *http.Request
	var err error

	if body != nil {
		payload, merr := request.ToJsonReq(body)
		if merr != nil {
			return 0, nil, merr
		}
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return 0, nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	var decoded bankResponse
	if derr := json.NewDecoder(resp.Body).Decode(&decoded); derr != nil {
		// Some bank endpoints answer 2xx with an empty body; only the
		// status code matters then.
		return resp.StatusCode, &bankResponse{}, nil
	}
	return resp.StatusCode, &decoded, nil
}

// submit runs the shared submit path and classifies the outcome. Rail
// specific fields (instant flag, settlement date) are filled by the caller.
func (c *apiClient) submit(ctx context.Context, path string, req SubmitRequest) *SubmitResult {
	statusCode, resp, err := c.do(ctx, http.MethodPost, path, req, req.IdempotencyKey)
	if err != nil {
		return &SubmitResult{
			Success:      false,
			ErrorCode:    ErrCodeTimeout,
			ErrorMessage: err.Error(),
			Retryable:    true,
		}
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return &SubmitResult{Success: true, BankReference: resp.Reference}
	case statusCode >= 500 || statusCode == http.StatusTooManyRequests || statusCode == http.StatusRequestTimeout:
		return &SubmitResult{
			Success:      false,
			ErrorCode:    ErrCodeBankUnavailable,
			ErrorMessage: fmt.Sprintf("%s answered status %d", c.name, statusCode),
			Retryable:    true,
		}
	default:
		code := resp.ErrorCode
		if code == "" {
			code = ErrCodeRejected
		}
		msg := resp.ErrorMessage
		if msg == "" {
			msg = fmt.Sprintf("%s rejected the payout with status %d", c.name, statusCode)
		}
		return &SubmitResult{Success: false, ErrorCode: code, ErrorMessage: msg, Retryable: false}
	}
}

func (c *apiClient) health(ctx context.Context) error {
	statusCode, _, err := c.do(ctx, http.MethodGet, "/health", nil, "")
	if err != nil {
		return err
	}
	if statusCode < 200 || statusCode >= 300 {
		return fmt.Errorf("%s health endpoint answered status %d", c.name, statusCode)
	}
	return nil
}

// mapStatus applies a rail's native-to-canonical table. The mapping is total:
// any native status outside the table becomes pending so nothing is ever
// silently dropped.
func mapStatus(table map[string]Status, native string) Status {
	if s, ok := table[native]; ok {
		return s
	}
	return StatusPending
}

// nextBusinessDay rolls a date forward past weekends. Bank holidays are the
// rail's problem; the estimate here only drives reconciliation drift windows.
func nextBusinessDay(t time.Time) time.Time {
	next := t.AddDate(0, 0, 1)
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func parseSettlementDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}
