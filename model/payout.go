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

package model

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

// Payout statuses. A payout moves pending -> scheduled -> processing -> sent
// -> settled, with processing -> pending on retry, and may exit to failed,
// cancelled or reversed from any pre-settlement state. A forced execution
// pins the row as reserved until the next lease. Terminal rows are kept
// forever for audit.
const (
	StatusPending    = "pending"
	StatusScheduled  = "scheduled"
	StatusReserved   = "reserved"
	StatusProcessing = "processing"
	StatusSent       = "sent"
	StatusSettled    = "settled"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
	StatusReversed   = "reversed"
)

// Attempt outcomes recorded in the append-only attempt log.
const (
	AttemptOutcomeSent   = "sent"
	AttemptOutcomeRetry  = "retry"
	AttemptOutcomeFailed = "failed"
)

// Payout is the unit of work moved by the dispatch engine. Amount and
// currency are immutable once created; IdempotencyKey is globally unique.
type Payout struct {
	ID              int64                  `json:"-"`
	PayoutID        string                 `json:"payout_id"`
	IdempotencyKey  string                 `json:"idempotency_key"`
	OriginModule    string                 `json:"origin_module"`
	OriginRef       string                 `json:"origin_ref"`
	BeneficiaryName string                 `json:"beneficiary_name"`
	AccountRef      string                 `json:"account_ref"`
	Amount          decimal.Decimal        `json:"amount"`
	Currency        string                 `json:"currency"`
	Rail            string                 `json:"rail"`
	ConnectorID     string                 `json:"connector_id"`
	Priority        int                    `json:"priority"`
	ScheduledFor    time.Time              `json:"scheduled_for"`
	Status          string                 `json:"status"`
	Attempts        int                    `json:"attempts"`
	NextAttemptAt   *time.Time             `json:"next_attempt_at,omitempty"`
	BankReference   string                 `json:"bank_reference,omitempty"`
	LastErrorCode   string                 `json:"last_error_code,omitempty"`
	LastError       string                 `json:"last_error,omitempty"`
	TreasuryAccount string                 `json:"treasury_account_id"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
	MetaData        map[string]interface{} `json:"meta_data,omitempty"`
}

// Attempt is one immutable record of a dispatch try. Never updated or
// deleted; the sequence of attempts for a payout forms its audit trail.
type Attempt struct {
	ID            int64     `json:"-"`
	AttemptID     string    `json:"attempt_id"`
	PayoutID      string    `json:"payout_id"`
	AttemptNumber int       `json:"attempt_number"`
	Outcome       string    `json:"outcome"`
	BankCode      string    `json:"bank_code,omitempty"`
	BankResponse  string    `json:"bank_response,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// PayoutRequest is the inbound create request. The idempotency key travels
// end to end: a duplicate create returns the original payout unchanged.
type PayoutRequest struct {
	IdempotencyKey  string                 `json:"idempotency_key"`
	OriginModule    string                 `json:"origin_module"`
	OriginRef       string                 `json:"origin_ref"`
	BeneficiaryName string                 `json:"beneficiary_name"`
	AccountRef      string                 `json:"account_ref"`
	Amount          decimal.Decimal        `json:"amount"`
	Currency        string                 `json:"currency"`
	Rail            string                 `json:"rail"`
	ConnectorID     string                 `json:"connector_id,omitempty"`
	Priority        int                    `json:"priority"`
	ScheduledFor    time.Time              `json:"scheduled_for,omitempty"`
	MetaData        map[string]interface{} `json:"meta_data,omitempty"`
}

// Validate enforces the synchronous validation class of errors: a bad request
// is rejected before any side effect happens.
func (r PayoutRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.IdempotencyKey, validation.Required, validation.Length(8, 128)),
		validation.Field(&r.OriginModule, validation.Required),
		validation.Field(&r.BeneficiaryName, validation.Required),
		validation.Field(&r.AccountRef, validation.Required),
		validation.Field(&r.Currency, validation.Required, validation.Length(3, 3)),
		validation.Field(&r.Rail, validation.Required, validation.In("ach", "wire", "sepa")),
		validation.Field(&r.Amount, validation.Required, validation.By(amountPositive)),
		validation.Field(&r.Priority, validation.Min(0)),
	)
}

func amountPositive(value interface{}) error {
	amount, ok := value.(decimal.Decimal)
	if !ok || !amount.IsPositive() {
		return validation.NewError("validation_amount", "amount must be greater than zero")
	}
	return nil
}

// Cancellable reports whether a payout may still be cancelled. A leased
// payout finishes its in-flight attempt first; cancellation is gated on
// status, it is never a signal into running work.
func (p *Payout) Cancellable() bool {
	switch p.Status {
	case StatusPending, StatusScheduled, StatusReserved:
		return true
	}
	return false
}

// Terminal reports whether the payout has reached a final state.
func (p *Payout) Terminal() bool {
	switch p.Status {
	case StatusSettled, StatusFailed, StatusCancelled, StatusReversed:
		return true
	}
	return false
}
