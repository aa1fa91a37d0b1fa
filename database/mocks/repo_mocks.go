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
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/Molam-git/molam-connect-sub004/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Payout methods

// RecordPayoutWithHold echoes the payout it was given when the expectation
// returns a nil payout with no error, matching the real datasource contract.
func (m *MockDataSource) RecordPayoutWithHold(ctx context.Context, payout *model.Payout, hold *model.HoldLink) (*model.Payout, error) {
	args := m.Called(ctx, payout, hold)
	if args.Get(0) == nil {
		if args.Error(1) == nil {
			return payout, nil
		}
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payout), args.Error(1)
}

func (m *MockDataSource) GetPayout(ctx context.Context, id string) (*model.Payout, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payout), args.Error(1)
}

func (m *MockDataSource) GetPayoutByIdempotencyKey(ctx context.Context, key string) (*model.Payout, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payout), args.Error(1)
}

func (m *MockDataSource) GetPayoutByBankReference(ctx context.Context, bankReference string) (*model.Payout, error) {
	args := m.Called(ctx, bankReference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payout), args.Error(1)
}

func (m *MockDataSource) GetAllPayouts(ctx context.Context, status string, limit, offset int) ([]model.Payout, error) {
	args := m.Called(ctx, status, limit, offset)
	return args.Get(0).([]model.Payout), args.Error(1)
}

func (m *MockDataSource) LeaseEligiblePayouts(ctx context.Context, batchSize int, now time.Time) ([]*model.Payout, error) {
	args := m.Called(ctx, batchSize, now)
	return args.Get(0).([]*model.Payout), args.Error(1)
}

func (m *MockDataSource) PromoteDuePayouts(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDataSource) UpdatePayoutSent(ctx context.Context, id, bankReference string) error {
	args := m.Called(ctx, id, bankReference)
	return args.Error(0)
}

func (m *MockDataSource) SchedulePayoutRetry(ctx context.Context, id string, nextAttemptAt time.Time, code, message string) error {
	args := m.Called(ctx, id, nextAttemptAt, code, message)
	return args.Error(0)
}

func (m *MockDataSource) MarkPayoutFailed(ctx context.Context, id, code, message string) error {
	args := m.Called(ctx, id, code, message)
	return args.Error(0)
}

func (m *MockDataSource) MarkPayoutCancelled(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) MarkPayoutSettled(ctx context.Context, id string, settledAt time.Time) error {
	args := m.Called(ctx, id, settledAt)
	return args.Error(0)
}

func (m *MockDataSource) MarkPayoutReserved(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) ResetStuckPayouts(ctx context.Context, olderThan time.Time) ([]string, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).([]string), args.Error(1)
}

// Attempt methods

func (m *MockDataSource) RecordAttempt(ctx context.Context, attempt *model.Attempt) error {
	args := m.Called(ctx, attempt)
	return args.Error(0)
}

func (m *MockDataSource) GetAttempts(ctx context.Context, payoutID string) ([]model.Attempt, error) {
	args := m.Called(ctx, payoutID)
	return args.Get(0).([]model.Attempt), args.Error(1)
}

// Hold methods

func (m *MockDataSource) GetHoldByPayoutID(ctx context.Context, payoutID string) (*model.HoldLink, error) {
	args := m.Called(ctx, payoutID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.HoldLink), args.Error(1)
}

func (m *MockDataSource) MarkHoldReleased(ctx context.Context, holdID string, final bool) error {
	args := m.Called(ctx, holdID, final)
	return args.Error(0)
}

// Settlement methods

func (m *MockDataSource) RecordSettlement(ctx context.Context, record *model.SettlementRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockDataSource) GetPendingSettlements(ctx context.Context, limit int) ([]*model.SettlementRecord, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]*model.SettlementRecord), args.Error(1)
}

func (m *MockDataSource) FindSettlementCandidates(ctx context.Context, record *model.SettlementRecord, driftHours int) ([]*model.Payout, error) {
	args := m.Called(ctx, record, driftHours)
	return args.Get(0).([]*model.Payout), args.Error(1)
}

func (m *MockDataSource) MarkSettlementMatched(ctx context.Context, recordID, payoutID string, confidence float64) error {
	args := m.Called(ctx, recordID, payoutID, confidence)
	return args.Error(0)
}

func (m *MockDataSource) MarkSettlementUnmatched(ctx context.Context, recordID string) error {
	args := m.Called(ctx, recordID)
	return args.Error(0)
}
