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

// achStatusMap translates the ODFI's NACHA-flavoured vocabulary.
var achStatusMap = map[string]Status{
	"origination_pending": StatusPending,
	"batched":             StatusPending,
	"in_process":          StatusProcessing,
	"transmitted":         StatusSent,
	"settled":             StatusSettled,
	"returned":            StatusFailed,
	"rejected":            StatusFailed,
}

// ACHConnector submits payouts over the ACH network through an ODFI partner
// API. ACH batches overnight, so settlement is estimated at the next business
// day and nothing settles instantly.
type ACHConnector struct {
	name string
	api  *apiClient
}

func NewACHConnector(name, baseURL, apiKey string, timeout time.Duration) *ACHConnector {
	return &ACHConnector{
		name: name,
		api:  newAPIClient(name, baseURL, apiKey, timeout),
	}
}

func (a *ACHConnector) Name() string { return a.name }
func (a *ACHConnector) Rail() string { return "ach" }

func (a *ACHConnector) Capabilities() Capabilities {
	return Capabilities{
		SupportsInstant:      false,
		SupportsCancellation: true,
		MinAmount:            decimal.NewFromFloat(0.01),
		MaxAmount:            decimal.NewFromInt(1000000),
		SupportedCurrencies:  []string{"USD"},
	}
}

func (a *ACHConnector) SubmitPayout(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := a.ValidateAccount(ctx, req.AccountRef); err != nil {
		return &SubmitResult{
			Success:      false,
			ErrorCode:    ErrCodeInvalidAccount,
			ErrorMessage: err.Error(),
			Retryable:    false,
		}, nil
	}

	result := a.api.submit(ctx, "/ach/payouts", req)
	if result.Success {
		settlement := nextBusinessDay(time.Now())
		result.EstimatedSettlementDate = &settlement
	}
	return result, nil
}

func (a *ACHConnector) GetPayoutStatus(ctx context.Context, bankReference string) (*StatusResult, error) {
	statusCode, resp, err := a.api.do(ctx, http.MethodGet, "/ach/payouts/"+bankReference, nil, "")
	if err != nil {
		return nil, err
	}
	if statusCode < 200 || statusCode >= 300 {
		return nil, fmt.Errorf("%s status lookup for %s answered %d", a.name, bankReference, statusCode)
	}

	result := &StatusResult{Status: mapStatus(achStatusMap, resp.Status)}
	if result.Status == StatusSettled {
		result.SettledAt = parseSettlementDate(resp.SettlementDate)
	}
	return result, nil
}

// CancelPayout succeeds only while the entry is still waiting in a batch.
// Once the file is transmitted the ODFI cannot pull it back.
func (a *ACHConnector) CancelPayout(ctx context.Context, bankReference, reason string) (bool, error) {
	statusCode, _, err := a.api.do(ctx, http.MethodPost, "/ach/payouts/"+bankReference+"/cancel",
		map[string]string{"reason": reason}, "")
	if err != nil {
		return false, err
	}
	if statusCode >= 200 && statusCode < 300 {
		return true, nil
	}
	if statusCode == http.StatusConflict {
		return false, nil
	}
	return false, fmt.Errorf("%s cancel for %s answered %d", a.name, bankReference, statusCode)
}

// ValidateAccount expects "routing:account" and verifies the ABA routing
// number checksum (3,7,1 digit weights, sum divisible by 10).
func (a *ACHConnector) ValidateAccount(_ context.Context, accountRef string) error {
	parts := strings.SplitN(accountRef, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return fmt.Errorf("ach account ref must be routing:account")
	}

	routing := parts[0]
	if len(routing) != 9 {
		return fmt.Errorf("routing number must be 9 digits")
	}

	sum := 0
	weights := []int{3, 7, 1, 3, 7, 1, 3, 7, 1}
	for i, ch := range routing {
		if ch < '0' || ch > '9' {
			return fmt.Errorf("routing number must be numeric")
		}
		sum += weights[i] * int(ch-'0')
	}
	if sum%10 != 0 {
		return fmt.Errorf("routing number failed checksum")
	}
	return nil
}

func (a *ACHConnector) HealthCheck(ctx context.Context) error {
	return a.api.health(ctx)
}
