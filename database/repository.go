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
	"time"

	"github.com/Molam-git/molam-connect-sub004/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	payout     // Interface for payout-related operations
	attempt    // Interface for the append-only attempt log
	hold       // Interface for ledger hold links
	settlement // Interface for settlement record operations
}

// payout defines methods for handling payouts.
type payout interface {
	RecordPayoutWithHold(ctx context.Context, payout *model.Payout, hold *model.HoldLink) (*model.Payout, error) // Records a new payout and its hold link in one transaction
	GetPayout(ctx context.Context, id string) (*model.Payout, error)                                     // Retrieves a payout by ID
	GetPayoutByIdempotencyKey(ctx context.Context, key string) (*model.Payout, error)                    // Retrieves a payout by idempotency key
	GetPayoutByBankReference(ctx context.Context, bankReference string) (*model.Payout, error)           // Retrieves a payout by bank reference
	GetAllPayouts(ctx context.Context, status string, limit, offset int) ([]model.Payout, error)         // Retrieves payouts, optionally filtered by status
	LeaseEligiblePayouts(ctx context.Context, batchSize int, now time.Time) ([]*model.Payout, error)     // Leases due payouts for dispatch
	PromoteDuePayouts(ctx context.Context, now time.Time) (int64, error)                                 // Moves scheduled payouts whose time has come to pending
	UpdatePayoutSent(ctx context.Context, id, bankReference string) error                                // Marks a payout sent with its bank reference
	SchedulePayoutRetry(ctx context.Context, id string, nextAttemptAt time.Time, code, message string) error // Returns a payout to pending with a retry time
	MarkPayoutFailed(ctx context.Context, id, code, message string) error                                // Dead-letters a payout
	MarkPayoutCancelled(ctx context.Context, id string) (bool, error)                                    // Cancels a payout if still cancellable
	MarkPayoutSettled(ctx context.Context, id string, settledAt time.Time) error                         // Marks a sent payout settled
	MarkPayoutReserved(ctx context.Context, id string) (bool, error)                                     // Pins a payout for forced execution
	ResetStuckPayouts(ctx context.Context, olderThan time.Time) ([]string, error)                        // Returns processing rows stuck past the threshold to pending
}

// attempt defines methods for the attempt log. Attempts are append-only.
type attempt interface {
	RecordAttempt(ctx context.Context, attempt *model.Attempt) error
	GetAttempts(ctx context.Context, payoutID string) ([]model.Attempt, error)
}

// hold defines methods for ledger hold links. Holds are created atomically
// with their payout; these methods read and release them.
type hold interface {
	GetHoldByPayoutID(ctx context.Context, payoutID string) (*model.HoldLink, error)
	MarkHoldReleased(ctx context.Context, holdID string, final bool) error
}

// settlement defines methods for settlement record operations.
type settlement interface {
	RecordSettlement(ctx context.Context, record *model.SettlementRecord) error
	GetPendingSettlements(ctx context.Context, limit int) ([]*model.SettlementRecord, error)
	FindSettlementCandidates(ctx context.Context, record *model.SettlementRecord, driftHours int) ([]*model.Payout, error)
	MarkSettlementMatched(ctx context.Context, recordID, payoutID string, confidence float64) error
	MarkSettlementUnmatched(ctx context.Context, recordID string) error
}
