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

// Settlement record states.
const (
	SettlementPending   = "pending"
	SettlementMatched   = "matched"
	SettlementUnmatched = "unmatched"
)

// SettlementRecord is an incoming settlement notice from a bank or network,
// waiting to be correlated back to a payout. Once matched it carries the
// payout reference and a match confidence score, and is never re-assigned.
type SettlementRecord struct {
	ID              int64           `json:"-"`
	RecordID        string          `json:"record_id"`
	Source          string          `json:"source"`
	BankReference   string          `json:"bank_reference"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	BeneficiaryName string          `json:"beneficiary_name,omitempty"`
	SettledAt       time.Time       `json:"settled_at"`
	Status          string          `json:"status"`
	PayoutID        string          `json:"payout_id,omitempty"`
	Confidence      float64         `json:"confidence,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// SettlementMatch links a settlement record to the payout it settles.
type SettlementMatch struct {
	RecordID   string  `json:"record_id"`
	PayoutID   string  `json:"payout_id"`
	Confidence float64 `json:"confidence"`
}
