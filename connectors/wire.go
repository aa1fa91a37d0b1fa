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

package connectors

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var wireStatusMap = map[string]Status{
	"initiated": StatusProcessing,
	"queued":    StatusPending,
	"released":  StatusSent,
	"confirmed": StatusSettled,
	"rejected":  StatusFailed,
	"recalled":  StatusReversed,
}

// WireConnector submits payouts over Fedwire/SWIFT through a partner bank.
// Wires released before the bank's daily cutoff settle same day; after the
// cutoff they roll to the next business day. Wires are irrevocable, so
// cancellation is never supported.
type WireConnector struct {
	name       string
	api        *apiClient
	cutoffHour int
	now        func() time.Time
}

func NewWireConnector(name, baseURL, apiKey string, timeout time.Duration, cutoffHour int) *WireConnector {
	return &WireConnector{
		name:       name,
		api:        newAPIClient(name, baseURL, apiKey, timeout),
		cutoffHour: cutoffHour,
		now:        time.Now,
	}
}

func (w *WireConnector) Name() string { return w.name }
func (w *WireConnector) Rail() string { return "wire" }

func (w *WireConnector) Capabilities() Capabilities {
	return Capabilities{
		SupportsInstant:      true,
		SupportsCancellation: false,
		MinAmount:            decimal.NewFromInt(1),
		MaxAmount:            decimal.Decimal{},
		SupportedCurrencies:  []string{"USD", "EUR", "GBP"},
	}
}

func (w *WireConnector) SubmitPayout(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := w.ValidateAccount(ctx, req.AccountRef); err != nil {
		return &SubmitResult{
			Success:      false,
			ErrorCode:    ErrCodeInvalidAccount,
			ErrorMessage: err.Error(),
			Retryable:    false,
		}, nil
	}

	result := w.api.submit(ctx, "/wires", req)
	if result.Success {
		submittedAt := w.now()
		if submittedAt.Hour() < w.cutoffHour {
			result.InstantSettlement = true
			sameDay := submittedAt.Truncate(24 * time.Hour)
			result.EstimatedSettlementDate = &sameDay
		} else {
			settlement := nextBusinessDay(submittedAt)
			result.EstimatedSettlementDate = &settlement
		}
	}
	return result, nil
}

func (w *WireConnector) GetPayoutStatus(ctx context.Context, bankReference string) (*StatusResult, error) {
	statusCode, resp, err := w.api.do(ctx, http.MethodGet, "/wires/"+bankReference, nil, "")
	if err != nil {
		return nil, err
	}
	if statusCode < 200 || statusCode >= 300 {
		return nil, fmt.Errorf("%s status lookup for %s answered %d", w.name, bankReference, statusCode)
	}

	result := &StatusResult{Status: mapStatus(wireStatusMap, resp.Status)}
	if result.Status == StatusSettled {
		result.SettledAt = parseSettlementDate(resp.SettlementDate)
	}
	return result, nil
}

// CancelPayout always reports not-cancellable. A wire recall is a manual
// interbank process outside this engine.
func (w *WireConnector) CancelPayout(_ context.Context, _, _ string) (bool, error) {
	return false, nil
}

// ValidateAccount expects "swift:account". The BIC is 8 or 11 characters.
func (w *WireConnector) ValidateAccount(_ context.Context, accountRef string) error {
	parts := strings.SplitN(accountRef, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return fmt.Errorf("wire account ref must be swift:account")
	}
	bic := strings.ToUpper(parts[0])
	if len(bic) != 8 && len(bic) != 11 {
		return fmt.Errorf("swift code must be 8 or 11 characters")
	}
	for _, ch := range bic {
		if (ch < 'A' || ch > 'Z') && (ch < '0' || ch > '9') {
			return fmt.Errorf("swift code must be alphanumeric")
		}
	}
	return nil
}

func (w *WireConnector) HealthCheck(ctx context.Context) error {
	return w.api.health(ctx)
}
