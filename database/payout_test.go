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
	"errors"
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

func newTestDatasource(t *testing.T) (Datasource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return Datasource{Conn: db}, mock
}

func testPayout() *model.Payout {
	now := time.Now()
	return &model.Payout{
		PayoutID:        "po_1",
		IdempotencyKey:  "billing-2026-08-0001",
		OriginModule:    "billing",
		BeneficiaryName: "Jane Vendor",
		AccountRef:      "021000021:123456789",
		Amount:          decimal.NewFromInt(250),
		Currency:        "USD",
		Rail:            "ach",
		Status:          model.StatusPending,
		ScheduledFor:    now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func testHoldLink() *model.HoldLink {
	return &model.HoldLink{
		HoldID:    "lh_1",
		PayoutID:  "po_1",
		LedgerRef: "ledref_1",
		Amount:    decimal.NewFromFloat(250.25),
		Currency:  "USD",
		Status:    model.HoldActive,
		CreatedAt: time.Now(),
	}
}

func TestRecordPayoutWithHold_Success(t *testing.T) {
	d, mock := newTestDatasource(t)
	payout := testPayout()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payouts")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_holds")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result, err := d.RecordPayoutWithHold(context.Background(), payout, testHoldLink())
	assert.NoError(t, err)
	assert.Equal(t, payout.PayoutID, result.PayoutID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPayoutWithHold_DuplicateIdempotencyKey(t *testing.T) {
	d, mock := newTestDatasource(t)
	payout := testPayout()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payouts")).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	_, err := d.RecordPayoutWithHold(context.Background(), payout, testHoldLink())
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrConflict, apiErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPayoutWithHold_HoldInsertFailureRollsBack(t *testing.T) {
	d, mock := newTestDatasource(t)
	payout := testPayout()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payouts")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_holds")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := d.RecordPayoutWithHold(context.Background(), payout, testHoldLink())
	assert.Error(t, err, "the payout insert must not survive a failed hold insert")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func payoutRows(payout *model.Payout) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"payout_id", "idempotency_key", "origin_module", "origin_ref", "beneficiary_name",
		"account_ref", "amount", "currency", "rail", "connector_id", "priority",
		"scheduled_for", "status", "attempts", "next_attempt_at", "bank_reference",
		"last_error_code", "last_error", "treasury_account_id", "created_at", "updated_at", "meta_data",
	}).AddRow(
		payout.PayoutID, payout.IdempotencyKey, payout.OriginModule, payout.OriginRef,
		payout.BeneficiaryName, payout.AccountRef, payout.Amount.String(), payout.Currency,
		payout.Rail, payout.ConnectorID, payout.Priority, payout.ScheduledFor,
		payout.Status, payout.Attempts, nil, payout.BankReference, payout.LastErrorCode,
		payout.LastError, payout.TreasuryAccount, payout.CreatedAt, payout.UpdatedAt, nil,
	)
}

func TestGetPayout_Success(t *testing.T) {
	d, mock := newTestDatasource(t)
	payout := testPayout()

	mock.ExpectQuery(regexp.QuoteMeta("FROM payouts")).
		WithArgs("po_1").
		WillReturnRows(payoutRows(payout))

	result, err := d.GetPayout(context.Background(), "po_1")
	assert.NoError(t, err)
	assert.Equal(t, "po_1", result.PayoutID)
	assert.True(t, result.Amount.Equal(decimal.NewFromInt(250)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPayout_NotFound(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM payouts")).
		WithArgs("po_ghost").
		WillReturnRows(sqlmock.NewRows([]string{"payout_id"}))

	_, err := d.GetPayout(context.Background(), "po_ghost")
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}

func TestLeaseEligiblePayouts(t *testing.T) {
	d, mock := newTestDatasource(t)
	payout := testPayout()
	payout.Status = model.StatusProcessing
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs(now, 25).
		WillReturnRows(sqlmock.NewRows([]string{"payout_id"}).AddRow("po_1"))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE payouts")).
		WithArgs(now, pq.Array([]string{"po_1"})).
		WillReturnRows(payoutRows(payout))
	mock.ExpectCommit()

	leased, err := d.LeaseEligiblePayouts(context.Background(), 25, now)
	assert.NoError(t, err)
	assert.Len(t, leased, 1)
	assert.Equal(t, model.StatusProcessing, leased[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaseEligiblePayouts_NothingDue(t *testing.T) {
	d, mock := newTestDatasource(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs(now, 25).
		WillReturnRows(sqlmock.NewRows([]string{"payout_id"}))
	mock.ExpectCommit()

	leased, err := d.LeaseEligiblePayouts(context.Background(), 25, now)
	assert.NoError(t, err)
	assert.Empty(t, leased)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoteDuePayouts(t *testing.T) {
	d, mock := newTestDatasource(t)
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE payouts")).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	promoted, err := d.PromoteDuePayouts(context.Background(), now)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), promoted)
}

func TestSchedulePayoutRetry(t *testing.T) {
	d, mock := newTestDatasource(t)
	next := time.Now().Add(5 * time.Minute)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE payouts")).
		WithArgs("po_1", next, "bank_unavailable", "503 from odfi").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := d.SchedulePayoutRetry(context.Background(), "po_1", next, "bank_unavailable", "503 from odfi")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPayoutCancelled_StatusGuard(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE payouts")).
		WithArgs("po_1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	cancelled, err := d.MarkPayoutCancelled(context.Background(), "po_1")
	assert.NoError(t, err)
	assert.False(t, cancelled, "a non-cancellable status must not be cancelled")
}

func TestMarkPayoutSettled_RequiresSentStatus(t *testing.T) {
	d, mock := newTestDatasource(t)
	settledAt := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE payouts")).
		WithArgs("po_1", settledAt).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := d.MarkPayoutSettled(context.Background(), "po_1", settledAt)
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrConflict, apiErr.Code)
}

func TestResetStuckPayouts(t *testing.T) {
	d, mock := newTestDatasource(t)
	threshold := time.Now().Add(-10 * time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE payouts")).
		WithArgs(threshold).
		WillReturnRows(sqlmock.NewRows([]string{"payout_id"}).AddRow("po_1").AddRow("po_2"))

	ids, err := d.ResetStuckPayouts(context.Background(), threshold)
	assert.NoError(t, err)
	assert.Equal(t, []string{"po_1", "po_2"}, ids)
}

func TestRecordAttempt_Duplicate(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payout_attempts")).
		WillReturnError(&pq.Error{Code: "23505"})

	err := d.RecordAttempt(context.Background(), &model.Attempt{
		AttemptID:     "att_1",
		PayoutID:      "po_1",
		AttemptNumber: 1,
		Outcome:       model.AttemptOutcomeRetry,
		CreatedAt:     time.Now(),
	})
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrConflict, apiErr.Code)
}
