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
	"database/sql"
	"log"
	"sync"

	_ "github.com/lib/pq"

	"github.com/Molam-git/molam-connect-sub004/config"
)

// Package-level singleton. Not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn *sql.DB
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	err = createPayoutTable(db)
	if err != nil {
		return nil, err
	}
	err = createPayoutAttemptTable(db)
	if err != nil {
		return nil, err
	}
	err = createLedgerHoldTable(db)
	if err != nil {
		return nil, err
	}
	err = createSettlementRecordTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// createPayoutTable creates the payouts table. idempotency_key carries a
// unique constraint so duplicate intake is rejected at the storage layer, not
// just in application code.
func createPayoutTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS payouts (
			id SERIAL PRIMARY KEY,
			payout_id TEXT NOT NULL UNIQUE,
			idempotency_key TEXT NOT NULL UNIQUE,
			origin_module TEXT NOT NULL,
			origin_ref TEXT,
			beneficiary_name TEXT NOT NULL,
			account_ref TEXT NOT NULL,
			amount NUMERIC(20, 4) NOT NULL,
			currency TEXT NOT NULL,
			rail TEXT NOT NULL,
			connector_id TEXT,
			priority INTEGER NOT NULL DEFAULT 0,
			scheduled_for TIMESTAMP NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			next_attempt_at TIMESTAMP,
			bank_reference TEXT,
			last_error_code TEXT,
			last_error TEXT,
			treasury_account_id TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			meta_data JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_payouts_dispatch
			ON payouts (status, next_attempt_at, priority)
			WHERE status IN ('pending', 'scheduled', 'reserved', 'processing');
		CREATE INDEX IF NOT EXISTS idx_payouts_bank_reference
			ON payouts (bank_reference)
			WHERE bank_reference IS NOT NULL;
	`)
	return err
}

// createPayoutAttemptTable creates the append-only attempt log. The unique
// pair (payout_id, attempt_number) makes a double-recorded attempt a
// constraint violation instead of silent duplication.
func createPayoutAttemptTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS payout_attempts (
			id SERIAL PRIMARY KEY,
			attempt_id TEXT NOT NULL UNIQUE,
			payout_id TEXT NOT NULL REFERENCES payouts(payout_id),
			attempt_number INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			bank_code TEXT,
			bank_response TEXT,
			error_message TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (payout_id, attempt_number)
		);
	`)
	return err
}

func createLedgerHoldTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS ledger_holds (
			id SERIAL PRIMARY KEY,
			hold_id TEXT NOT NULL UNIQUE,
			payout_id TEXT NOT NULL REFERENCES payouts(payout_id),
			ledger_ref TEXT NOT NULL,
			amount NUMERIC(20, 4) NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			final BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			released_at TIMESTAMP
		);
	`)
	return err
}

// createSettlementRecordTable creates settlement records. The partial unique
// index on payout_id enforces single assignment at the storage layer: a payout
// is linked by at most one settlement record, even across re-ingested files.
func createSettlementRecordTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS settlement_records (
			id SERIAL PRIMARY KEY,
			record_id TEXT NOT NULL UNIQUE,
			source TEXT NOT NULL,
			bank_reference TEXT,
			amount NUMERIC(20, 4) NOT NULL,
			currency TEXT NOT NULL,
			beneficiary_name TEXT,
			settled_at TIMESTAMP NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			payout_id TEXT,
			confidence DOUBLE PRECISION,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_settlement_records_status
			ON settlement_records (status, settled_at);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_settlement_records_payout
			ON settlement_records (payout_id)
			WHERE payout_id IS NOT NULL;
	`)
	return err
}
