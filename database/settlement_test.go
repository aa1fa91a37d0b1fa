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

package database

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/Molam-git/molam-connect-sub004/internal/apierror"
	"github.com/Molam-git/molam-connect-sub004/model"
)

func TestRecordSettlement(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO settlement_records")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := d.RecordSettlement(context.Background(), &model.SettlementRecord{
		RecordID:      "sr_1",
		Source:        "ach-primary",
		BankReference: "ach_ref_1",
		Amount:        decimal.NewFromInt(250),
		Currency:      "USD",
		SettledAt:     time.Now(),
		Status:        model.SettlementPending,
		CreatedAt:     time.Now(),
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPendingSettlements(t *testing.T) {
	d, mock := newTestDatasource(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM settlement_records")).
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{
			"record_id", "source", "bank_reference", "amount", "currency",
			"beneficiary_name", "settled_at", "status", "created_at",
		}).AddRow("sr_1", "ach-primary", "ach_ref_1", "250", "USD", "Jane Vendor", now, "pending", now))

	records, err := d.GetPendingSettlements(context.Background(), 100)
	assert.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, "ach_ref_1", records[0].BankReference)
}

func TestFindSettlementCandidates(t *testing.T) {
	d, mock := newTestDatasource(t)
	payout := testPayout()
	payout.Status = model.StatusSent
	record := &model.SettlementRecord{
		RecordID:  "sr_1",
		Amount:    decimal.NewFromInt(250),
		Currency:  "USD",
		SettledAt: time.Now(),
	}

	mock.ExpectQuery(regexp.QuoteMeta("FROM payouts")).
		WithArgs(record.Currency, record.Amount, record.SettledAt, 48).
		WillReturnRows(payoutRows(payout))

	candidates, err := d.FindSettlementCandidates(context.Background(), record, 48)
	assert.NoError(t, err)
	assert.Len(t, candidates, 1)
	assert.Equal(t, "po_1", candidates[0].PayoutID)
}

func TestMarkSettlementMatched_SingleAssignment(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE settlement_records")).
		WithArgs("sr_1", "po_1", 0.92).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := d.MarkSettlementMatched(context.Background(), "sr_1", "po_1", 0.92)
	assert.Error(t, err, "an already-assigned record must not be re-assigned")
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrConflict, apiErr.Code)
}

func TestMarkSettlementMatched_PayoutAlreadyLinked(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE settlement_records")).
		WithArgs("sr_dup", "po_1", 1.0).
		WillReturnError(&pq.Error{Code: "23505"})

	err := d.MarkSettlementMatched(context.Background(), "sr_dup", "po_1", 1.0)
	assert.Error(t, err, "a payout must not be linked by a second record")
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrConflict, apiErr.Code)
}
