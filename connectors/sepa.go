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
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// sepaStatusMap translates ISO 20022 payment status codes.
var sepaStatusMap = map[string]Status{
	"PDNG": StatusPending,
	"ACTC": StatusPending,
	"ACCP": StatusProcessing,
	"ACSP": StatusSent,
	"ACSC": StatusSettled,
	"RJCT": StatusFailed,
	"RTND": StatusReversed,
}

// sctInstLimit is the SCT Inst scheme ceiling. Payouts at or below it go out
// instant; larger ones fall back to standard SEPA credit transfer with
// next-business-day settlement.
var sctInstLimit = decimal.NewFromInt(100000)

// SEPAConnector submits euro payouts over SEPA credit transfer, preferring
// the instant scheme when the amount qualifies.
type SEPAConnector struct {
	name string
	api  *apiClient
}

func NewSEPAConnector(name, baseURL, apiKey string, timeout time.Duration) *SEPAConnector {
	return &SEPAConnector{
		name: name,
		api:  newAPIClient(name, baseURL, apiKey, timeout),
	}
}

func (s *SEPAConnector) Name() string { return s.name }
func (s *SEPAConnector) Rail() string { return "sepa" }

func (s *SEPAConnector) Capabilities() Capabilities {
	return Capabilities{
		SupportsInstant:      true,
		SupportsCancellation: true,
		MinAmount:            decimal.NewFromFloat(0.01),
		MaxAmount:            decimal.Decimal{},
		SupportedCurrencies:  []string{"EUR"},
	}
}

func (s *SEPAConnector) SubmitPayout(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := s.ValidateAccount(ctx, req.AccountRef); err != nil {
		return &SubmitResult{
			Success:      false,
			ErrorCode:    ErrCodeInvalidAccount,
			ErrorMessage: err.Error(),
			Retryable:    false,
		}, nil
	}

	instant := req.Amount.LessThanOrEqual(sctInstLimit)
	path := "/sepa/transfers"
	if instant {
		path = "/sepa/instant-transfers"
	}

	result := s.api.submit(ctx, path, req)
	if result.Success {
		if instant {
			result.InstantSettlement = true
			now := time.Now().Truncate(24 * time.Hour)
			result.EstimatedSettlementDate = &now
		} else {
			settlement := nextBusinessDay(time.Now())
			result.EstimatedSettlementDate = &settlement
		}
	}
	return result, nil
}

func (s *SEPAConnector) GetPayoutStatus(ctx context.Context, bankReference string) (*StatusResult, error) {
	statusCode, resp, err := s.api.do(ctx, http.MethodGet, "/sepa/transfers/"+bankReference, nil, "")
	if err != nil {
		return nil, err
	}
	if statusCode < 200 || statusCode >= 300 {
		return nil, fmt.Errorf("%s status lookup for %s answered %d", s.name, bankReference, statusCode)
	}

	result := &StatusResult{Status: mapStatus(sepaStatusMap, resp.Status)}
	if result.Status == StatusSettled {
		result.SettledAt = parseSettlementDate(resp.SettlementDate)
	}
	return result, nil
}

func (s *SEPAConnector) CancelPayout(ctx context.Context, bankReference, reason string) (bool, error) {
	statusCode, _, err := s.api.do(ctx, http.MethodPost, "/sepa/transfers/"+bankReference+"/recall",
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
	return false, fmt.Errorf("%s recall for %s answered %d", s.name, bankReference, statusCode)
}

// ValidateAccount verifies the IBAN: length, country prefix and the ISO 13616
// mod-97 check.
func (s *SEPAConnector) ValidateAccount(_ context.Context, accountRef string) error {
	iban := strings.ToUpper(strings.ReplaceAll(accountRef, " ", ""))
	if len(iban) < 15 || len(iban) > 34 {
		return fmt.Errorf("iban length out of range")
	}
	if iban[0] < 'A' || iban[0] > 'Z' || iban[1] < 'A' || iban[1] > 'Z' {
		return fmt.Errorf("iban must start with a country code")
	}

	// Move the first four characters to the end, then expand letters to
	// two-digit numbers (A=10 .. Z=35) before the mod-97 check.
	rearranged := iban[4:] + iban[:4]
	var expanded strings.Builder
	for _, ch := range rearranged {
		switch {
		case ch >= '0' && ch <= '9':
			expanded.WriteRune(ch)
		case ch >= 'A' && ch <= 'Z':
			expanded.WriteString(fmt.Sprintf("%d", ch-'A'+10))
		default:
			return fmt.Errorf("iban contains invalid character %q", ch)
		}
	}

	n, ok := new(big.Int).SetString(expanded.String(), 10)
	if !ok {
		return fmt.Errorf("iban failed numeric expansion")
	}
	if new(big.Int).Mod(n, big.NewInt(97)).Int64() != 1 {
		return fmt.Errorf("iban failed checksum")
	}
	return nil
}

func (s *SEPAConnector) HealthCheck(ctx context.Context) error {
	return s.api.health(ctx)
}
