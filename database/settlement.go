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
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/Molam-git/molam-connect-sub004/internal/apierror"
	"github.com/Molam-git/molam-connect-sub004/model"
)

func (d Datasource) RecordSettlement(ctx context.Context, record *model.SettlementRecord) error {
	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO settlement_records(record_id,source,bank_reference,amount,currency,beneficiary_name,settled_at,status,created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		record.RecordID, record.Source, record.BankReference, record.Amount, record.Currency, record.BeneficiaryName, record.SettledAt, record.Status, record.CreatedAt,
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record settlement", err)
	}
	return nil
}

func (d Datasource) GetPendingSettlements(ctx context.Context, limit int) ([]*model.SettlementRecord, error) {
	ctx, span := otel.Tracer("payout.database").Start(ctx, "Getting pending settlement records")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT record_id, source, bank_reference, amount, currency, beneficiary_name, settled_at, status, created_at
		FROM settlement_records
		WHERE status = 'pending'
		ORDER BY settled_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve pending settlements", err)
	}
	defer rows.Close()

	records := []*model.SettlementRecord{}
	for rows.Next() {
		record := &model.SettlementRecord{}
		var bankReference, beneficiaryName sql.NullString
		if err := rows.Scan(&record.RecordID, &record.Source, &bankReference, &record.Amount, &record.Currency, &beneficiaryName, &record.SettledAt, &record.Status, &record.CreatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan settlement record", err)
		}
		record.BankReference = bankReference.String
		record.BeneficiaryName = beneficiaryName.String
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over settlement records", err)
	}
	return records, nil
}

// FindSettlementCandidates returns sent payouts a settlement record could
// plausibly match: same currency, exact amount, settled within the drift
// window of the payout going out. Scoring happens in the matcher; the query
// only narrows the field.
func (d Datasource) FindSettlementCandidates(ctx context.Context, record *model.SettlementRecord, driftHours int) ([]*model.Payout, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+payoutColumns+`
		FROM payouts
		WHERE status = 'sent'
		  AND currency = $1
		  AND amount = $2
		  AND updated_at BETWEEN $3 - make_interval(hours => $4) AND $3 + make_interval(hours => $4)
	`, record.Currency, record.Amount, record.SettledAt, driftHours)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve settlement candidates", err)
	}
	defer rows.Close()

	payouts := []*model.Payout{}
	for rows.Next() {
		payout, err := scanPayoutRow(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, payout)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over settlement candidates", err)
	}
	return payouts, nil
}

// MarkSettlementMatched assigns a record to a payout exactly once. Single
// assignment holds in both directions: the status guard in the WHERE clause
// stops a record from matching twice, and the unique index on payout_id stops
// a payout from being linked by a second record.
func (d Datasource) MarkSettlementMatched(ctx context.Context, recordID, payoutID string, confidence float64) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE settlement_records
		SET status = 'matched', payout_id = $2, confidence = $3
		WHERE record_id = $1 AND status = 'pending'
	`, recordID, payoutID, confidence)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Payout '%s' is already linked to a settlement record", payoutID), err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark settlement matched", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Settlement record '%s' is not pending", recordID), nil)
	}
	return nil
}

func (d Datasource) MarkSettlementUnmatched(ctx context.Context, recordID string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE settlement_records
		SET status = 'unmatched'
		WHERE record_id = $1 AND status = 'pending'
	`, recordID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark settlement unmatched", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Settlement record '%s' is not pending", recordID), nil)
	}
	return nil
}
