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

package payouts

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Molam-git/molam-connect-sub004/database/mocks"
	"github.com/Molam-git/molam-connect-sub004/internal/apierror"
	"github.com/Molam-git/molam-connect-sub004/model"
)

func newTestMatcher(engine *Payouts) *SettlementMatcher {
	return &SettlementMatcher{
		payouts:        engine,
		batchSize:      100,
		matchThreshold: 0.85,
		driftHours:     48,
	}
}

func sentPayout(id, name string, updatedAt time.Time) *model.Payout {
	return &model.Payout{
		PayoutID:        id,
		BeneficiaryName: name,
		Amount:          decimal.NewFromInt(250),
		Currency:        "USD",
		Status:          model.StatusSent,
		UpdatedAt:       updatedAt,
	}
}

func TestMatcherExactBankReference(t *testing.T) {
	ds := new(mocks.MockDataSource)
	lg := new(mockLedger)
	engine := newTestEngine(ds, lg, nil)
	matcher := newTestMatcher(engine)

	settledAt := time.Now()
	record := &model.SettlementRecord{
		RecordID:      "sr_1",
		BankReference: "ach_ref_1",
		Amount:        decimal.NewFromInt(250),
		Currency:      "USD",
		SettledAt:     settledAt,
	}
	payout := sentPayout("po_1", "Jane Vendor", settledAt.Add(-2*time.Hour))

	ds.On("GetPendingSettlements", mock.Anything, 100).Return([]*model.SettlementRecord{record}, nil)
	ds.On("GetPayoutByBankReference", mock.Anything, "ach_ref_1").Return(payout, nil)
	ds.On("MarkSettlementMatched", mock.Anything, "sr_1", "po_1", 1.0).Return(nil)
	ds.On("MarkPayoutSettled", mock.Anything, "po_1", settledAt).Return(nil)
	ds.On("GetHoldByPayoutID", mock.Anything, "po_1").Return(nil, notFound("hold"))

	err := matcher.ProcessPendingSettlements(context.Background())
	require.NoError(t, err)
	ds.AssertExpectations(t)
	ds.AssertNotCalled(t, "FindSettlementCandidates", mock.Anything, mock.Anything, mock.Anything)
}

func TestMatcherFuzzyMatch(t *testing.T) {
	ds := new(mocks.MockDataSource)
	engine := newTestEngine(ds, new(mockLedger), nil)
	matcher := newTestMatcher(engine)

	settledAt := time.Now()
	record := &model.SettlementRecord{
		RecordID:        "sr_1",
		Amount:          decimal.NewFromInt(250),
		Currency:        "USD",
		BeneficiaryName: "JANE VENDOR",
		SettledAt:       settledAt,
	}
	near := sentPayout("po_close", "Jane Vendor", settledAt.Add(-2*time.Hour))
	far := sentPayout("po_far", "Acme Logistics", settledAt.Add(-40*time.Hour))

	ds.On("GetPendingSettlements", mock.Anything, 100).Return([]*model.SettlementRecord{record}, nil)
	ds.On("FindSettlementCandidates", mock.Anything, record, 48).Return([]*model.Payout{far, near}, nil)
	ds.On("MarkSettlementMatched", mock.Anything, "sr_1", "po_close", mock.MatchedBy(func(c float64) bool {
		return c >= 0.85
	})).Return(nil)
	ds.On("MarkPayoutSettled", mock.Anything, "po_close", settledAt).Return(nil)
	ds.On("GetHoldByPayoutID", mock.Anything, "po_close").Return(nil, notFound("hold"))

	err := matcher.ProcessPendingSettlements(context.Background())
	require.NoError(t, err)
	ds.AssertExpectations(t)
}

func TestMatcherLeavesLowConfidenceUnmatched(t *testing.T) {
	ds := new(mocks.MockDataSource)
	engine := newTestEngine(ds, new(mockLedger), nil)
	matcher := newTestMatcher(engine)

	settledAt := time.Now()
	record := &model.SettlementRecord{
		RecordID:        "sr_1",
		Amount:          decimal.NewFromInt(250),
		Currency:        "USD",
		BeneficiaryName: "Completely Different Co",
		SettledAt:       settledAt,
	}
	candidate := sentPayout("po_1", "Jane Vendor", settledAt.Add(-47*time.Hour))

	ds.On("GetPendingSettlements", mock.Anything, 100).Return([]*model.SettlementRecord{record}, nil)
	ds.On("FindSettlementCandidates", mock.Anything, record, 48).Return([]*model.Payout{candidate}, nil)
	ds.On("MarkSettlementUnmatched", mock.Anything, "sr_1").Return(nil)

	err := matcher.ProcessPendingSettlements(context.Background())
	require.NoError(t, err)
	ds.AssertExpectations(t)
	ds.AssertNotCalled(t, "MarkSettlementMatched", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMatcherToleratesAlreadySettledPayout(t *testing.T) {
	ds := new(mocks.MockDataSource)
	engine := newTestEngine(ds, new(mockLedger), nil)
	matcher := newTestMatcher(engine)

	settledAt := time.Now()
	record := &model.SettlementRecord{
		RecordID:      "sr_1",
		BankReference: "sct_1",
		Amount:        decimal.NewFromInt(250),
		Currency:      "EUR",
		SettledAt:     settledAt,
	}
	payout := sentPayout("po_1", "Jane Vendor", settledAt)

	ds.On("GetPendingSettlements", mock.Anything, 100).Return([]*model.SettlementRecord{record}, nil)
	ds.On("GetPayoutByBankReference", mock.Anything, "sct_1").Return(payout, nil)
	ds.On("MarkSettlementMatched", mock.Anything, "sr_1", "po_1", 1.0).Return(nil)
	ds.On("MarkPayoutSettled", mock.Anything, "po_1", settledAt).
		Return(apierror.APIError{Code: apierror.ErrConflict, Message: "Payout 'po_1' is not in a settleable status"})

	err := matcher.ProcessPendingSettlements(context.Background())
	require.NoError(t, err)
	ds.AssertExpectations(t)
}

func TestMatcherDuplicateRecordLeftUnmatched(t *testing.T) {
	ds := new(mocks.MockDataSource)
	engine := newTestEngine(ds, new(mockLedger), nil)
	matcher := newTestMatcher(engine)

	settledAt := time.Now()
	duplicate := &model.SettlementRecord{
		RecordID:      "sr_dup",
		BankReference: "ach_ref_1",
		Amount:        decimal.NewFromInt(250),
		Currency:      "USD",
		SettledAt:     settledAt,
	}
	payout := sentPayout("po_1", "Jane Vendor", settledAt)

	ds.On("GetPendingSettlements", mock.Anything, 100).Return([]*model.SettlementRecord{duplicate}, nil)
	ds.On("GetPayoutByBankReference", mock.Anything, "ach_ref_1").Return(payout, nil)
	ds.On("MarkSettlementMatched", mock.Anything, "sr_dup", "po_1", 1.0).
		Return(apierror.APIError{Code: apierror.ErrConflict, Message: "Payout 'po_1' is already linked to a settlement record"})
	ds.On("MarkSettlementUnmatched", mock.Anything, "sr_dup").Return(nil)

	err := matcher.ProcessPendingSettlements(context.Background())
	require.NoError(t, err)
	ds.AssertExpectations(t)
	ds.AssertNotCalled(t, "MarkPayoutSettled", mock.Anything, mock.Anything, mock.Anything)
}

func TestNameSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, nameSimilarity("Jane Vendor", "JANE VENDOR"))
	assert.InDelta(t, 0.9, nameSimilarity("Jane Vendor", "Jane Vendors"), 0.1)
	assert.Less(t, nameSimilarity("Jane Vendor", "Acme Logistics"), 0.5)
	assert.Equal(t, 0.0, nameSimilarity("", "Jane Vendor"))
}

func TestIngestSettlementFile(t *testing.T) {
	ds := new(mocks.MockDataSource)
	engine := newTestEngine(ds, new(mockLedger), nil)

	csvData := strings.Join([]string{
		"bank_reference,amount,currency,beneficiary_name,settled_at",
		"ach_ref_1,250.00,usd,Jane Vendor,2026-08-28",
		"ach_ref_2,99.50,usd,Acme Logistics,2026-08-28T14:30:00Z",
	}, "\n")

	ds.On("RecordSettlement", mock.Anything, mock.MatchedBy(func(r *model.SettlementRecord) bool {
		return r.Status == model.SettlementPending && r.Currency == "USD" && r.Source == "chase-sftp"
	})).Return(nil).Twice()

	count, err := engine.IngestSettlementFile(context.Background(), "chase-sftp", strings.NewReader(csvData))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	ds.AssertExpectations(t)
}

func TestIngestSettlementFileMissingColumn(t *testing.T) {
	ds := new(mocks.MockDataSource)
	engine := newTestEngine(ds, new(mockLedger), nil)

	csvData := "bank_reference,amount,beneficiary_name\nach_ref_1,250.00,Jane Vendor"

	_, err := engine.IngestSettlementFile(context.Background(), "chase-sftp", strings.NewReader(csvData))
	assert.Error(t, err)
	ds.AssertNotCalled(t, "RecordSettlement", mock.Anything, mock.Anything)
}
