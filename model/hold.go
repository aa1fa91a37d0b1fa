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

	"github.com/shopspring/decimal"
)

// Ledger hold states.
const (
	HoldActive   = "active"
	HoldReleased = "released"
)

// HoldLink ties a payout to the ledger hold reserving its funds. The hold is
// created atomically with the payout and released exactly once: finally on
// settlement, non-finally on cancellation or failure refund.
type HoldLink struct {
	ID         int64           `json:"-"`
	HoldID     string          `json:"hold_id"`
	PayoutID   string          `json:"payout_id"`
	LedgerRef  string          `json:"ledger_ref"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Status     string          `json:"status"`
	Final      bool            `json:"final"`
	CreatedAt  time.Time       `json:"created_at"`
	ReleasedAt *time.Time      `json:"released_at,omitempty"`
}
