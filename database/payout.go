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
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/Molam-git/molam-connect-sub004/internal/apierror"
	"github.com/Molam-git/molam-connect-sub004/model"
)

const payoutColumns = `payout_id, idempotency_key, origin_module, origin_ref, beneficiary_name, account_ref, amount, currency, rail, connector_id, priority, scheduled_for, status, attempts, next_attempt_at, bank_reference, last_error_code, last_error, treasury_account_id, created_at, updated_at, meta_data`

// RecordPayoutWithHold persists a payout and its ledger hold link in one
// transaction. A payout row never exists without its hold link, so every
// release path later in the lifecycle finds the hold to give back.
func (d Datasource) RecordPayoutWithHold(ctx context.Context, payout *model.Payout, hold *model.HoldLink) (*model.Payout, error) {
	ctx, span := otel.Tracer("payout.database").Start(ctx, "Saving payout to db")
	defer span.End()

	metaDataJSON, err := json.Marshal(payout.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO payouts(payout_id,idempotency_key,origin_module,origin_ref,beneficiary_name,account_ref,amount,currency,rail,connector_id,priority,scheduled_for,status,attempts,treasury_account_id,created_at,updated_at,meta_data) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		payout.PayoutID, payout.IdempotencyKey, payout.OriginModule, payout.OriginRef, payout.BeneficiaryName, payout.AccountRef, payout.Amount, payout.Currency, payout.Rail, payout.ConnectorID, payout.Priority, payout.ScheduledFor, payout.Status, payout.Attempts, payout.TreasuryAccount, payout.CreatedAt, payout.UpdatedAt, metaDataJSON,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Payout with idempotency key '%s' already exists", payout.IdempotencyKey), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record payout", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ledger_holds(hold_id,payout_id,ledger_ref,amount,currency,status,final,created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		hold.HoldID, hold.PayoutID, hold.LedgerRef, hold.Amount, hold.Currency, hold.Status, hold.Final, hold.CreatedAt,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record ledger hold", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit payout", err)
	}
	return payout, nil
}

func (d Datasource) GetPayout(ctx context.Context, id string) (*model.Payout, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+payoutColumns+`
		FROM payouts
		WHERE payout_id = $1
	`, id)

	payout, err := scanPayoutRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payout with ID '%s' not found", id), err)
		}
		return nil, err
	}
	return payout, nil
}

func (d Datasource) GetPayoutByIdempotencyKey(ctx context.Context, key string) (*model.Payout, error) {
	ctx, span := otel.Tracer("payout.database").Start(ctx, "Getting payout from db by idempotency key")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+payoutColumns+`
		FROM payouts
		WHERE idempotency_key = $1
	`, key)

	payout, err := scanPayoutRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payout with idempotency key '%s' not found", key), err)
		}
		return nil, err
	}
	return payout, nil
}

func (d Datasource) GetPayoutByBankReference(ctx context.Context, bankReference string) (*model.Payout, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+payoutColumns+`
		FROM payouts
		WHERE bank_reference = $1
	`, bankReference)

	payout, err := scanPayoutRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payout with bank reference '%s' not found", bankReference), err)
		}
		return nil, err
	}
	return payout, nil
}

func (d Datasource) GetAllPayouts(ctx context.Context, status string, limit, offset int) ([]model.Payout, error) {
	query := `
		SELECT ` + payoutColumns + `
		FROM payouts
	`
	args := []interface{}{limit, offset}
	if status != "" {
		query += ` WHERE status = $3`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payouts", err)
	}
	defer rows.Close()

	payouts := []model.Payout{}
	for rows.Next() {
		payout, err := scanPayoutRow(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, *payout)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over payouts", err)
	}
	return payouts, nil
}

// LeaseEligiblePayouts claims up to batchSize due payouts for this worker,
// lowest priority value first, then schedule, then age. FOR UPDATE SKIP
// LOCKED makes the lease safe under concurrent workers: two workers can never
// claim the same row, and neither blocks on the other's lock. Claimed rows
// move to processing inside the same transaction.
func (d Datasource) LeaseEligiblePayouts(ctx context.Context, batchSize int, now time.Time) ([]*model.Payout, error) {
	ctx, span := otel.Tracer("payout.database").Start(ctx, "Leasing eligible payouts")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin lease transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx, `
		SELECT payout_id
		FROM payouts
		WHERE status IN ('pending', 'reserved')
		  AND scheduled_for <= $1
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
		ORDER BY priority ASC, scheduled_for ASC, created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, now, batchSize)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to select eligible payouts", err)
	}

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan payout id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over eligible payouts", err)
	}

	if len(ids) == 0 {
		return []*model.Payout{}, tx.Commit()
	}

	leased, err := tx.QueryContext(ctx, `
		UPDATE payouts
		SET status = 'processing', updated_at = $1
		WHERE payout_id = ANY($2)
		RETURNING `+payoutColumns+`
	`, now, pq.Array(ids))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lease payouts", err)
	}
	defer leased.Close()

	payouts := []*model.Payout{}
	for leased.Next() {
		payout, err := scanPayoutRow(leased)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, payout)
	}
	if err := leased.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over leased payouts", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit lease transaction", err)
	}
	return payouts, nil
}

// PromoteDuePayouts moves scheduled payouts whose release time has arrived to
// pending so the next lease picks them up.
func (d Datasource) PromoteDuePayouts(ctx context.Context, now time.Time) (int64, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE payouts
		SET status = 'pending', updated_at = $1
		WHERE status = 'scheduled' AND scheduled_for <= $1
	`, now)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to promote scheduled payouts", err)
	}
	promoted, err := result.RowsAffected()
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return promoted, nil
}

func (d Datasource) UpdatePayoutSent(ctx context.Context, id, bankReference string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE payouts
		SET status = 'sent', bank_reference = $2, attempts = attempts + 1,
		    next_attempt_at = NULL, last_error_code = NULL, last_error = NULL,
		    updated_at = CURRENT_TIMESTAMP
		WHERE payout_id = $1
	`, id, bankReference)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark payout sent", err)
	}
	return checkAffected(result, id)
}

// SchedulePayoutRetry returns a processing payout to pending with the time of
// its next attempt. The failed attempt still counts.
func (d Datasource) SchedulePayoutRetry(ctx context.Context, id string, nextAttemptAt time.Time, code, message string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE payouts
		SET status = 'pending', attempts = attempts + 1, next_attempt_at = $2,
		    last_error_code = $3, last_error = $4, updated_at = CURRENT_TIMESTAMP
		WHERE payout_id = $1
	`, id, nextAttemptAt, code, message)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to schedule payout retry", err)
	}
	return checkAffected(result, id)
}

func (d Datasource) MarkPayoutFailed(ctx context.Context, id, code, message string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE payouts
		SET status = 'failed', attempts = attempts + 1, next_attempt_at = NULL,
		    last_error_code = $2, last_error = $3, updated_at = CURRENT_TIMESTAMP
		WHERE payout_id = $1
	`, id, code, message)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark payout failed", err)
	}
	return checkAffected(result, id)
}

// MarkPayoutCancelled cancels a payout only while it still sits in a
// cancellable status. The status guard lives in the WHERE clause so a
// concurrent lease and a cancel can never both win.
func (d Datasource) MarkPayoutCancelled(ctx context.Context, id string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE payouts
		SET status = 'cancelled', next_attempt_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE payout_id = $1 AND status IN ('pending', 'scheduled', 'reserved')
	`, id)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to cancel payout", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return affected > 0, nil
}

func (d Datasource) MarkPayoutSettled(ctx context.Context, id string, settledAt time.Time) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE payouts
		SET status = 'settled', updated_at = $2
		WHERE payout_id = $1 AND status = 'sent'
	`, id, settledAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark payout settled", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Payout '%s' is not in a settleable status", id), nil)
	}
	return nil
}

// MarkPayoutReserved pins a payout for forced execution: priority drops to
// the front of the queue and the backoff timer is cleared, so the next lease
// picks it up immediately.
func (d Datasource) MarkPayoutReserved(ctx context.Context, id string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE payouts
		SET status = 'reserved', priority = 0, next_attempt_at = NULL,
		    scheduled_for = LEAST(scheduled_for, CURRENT_TIMESTAMP),
		    updated_at = CURRENT_TIMESTAMP
		WHERE payout_id = $1 AND status IN ('pending', 'scheduled')
	`, id)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reserve payout", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return affected > 0, nil
}

// ResetStuckPayouts returns processing rows whose lease went stale to
// pending. A row only gets here when its worker died mid-attempt; the bank
// may or may not have received the submission, which is why dispatch relies
// on attempt-scoped idempotency keys rather than assuming the attempt never
// happened.
func (d Datasource) ResetStuckPayouts(ctx context.Context, olderThan time.Time) ([]string, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		UPDATE payouts
		SET status = 'pending', updated_at = CURRENT_TIMESTAMP
		WHERE status = 'processing' AND updated_at < $1
		RETURNING payout_id
	`, olderThan)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reset stuck payouts", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan payout id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over stuck payouts", err)
	}
	return ids, nil
}

func (d Datasource) RecordAttempt(ctx context.Context, attempt *model.Attempt) error {
	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO payout_attempts(attempt_id,payout_id,attempt_number,outcome,bank_code,bank_response,error_message,created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		attempt.AttemptID, attempt.PayoutID, attempt.AttemptNumber, attempt.Outcome, attempt.BankCode, attempt.BankResponse, attempt.ErrorMessage, attempt.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Attempt %d for payout '%s' already recorded", attempt.AttemptNumber, attempt.PayoutID), err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record attempt", err)
	}
	return nil
}

func (d Datasource) GetAttempts(ctx context.Context, payoutID string) ([]model.Attempt, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT attempt_id, payout_id, attempt_number, outcome, bank_code, bank_response, error_message, created_at
		FROM payout_attempts
		WHERE payout_id = $1
		ORDER BY attempt_number ASC
	`, payoutID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve attempts", err)
	}
	defer rows.Close()

	attempts := []model.Attempt{}
	for rows.Next() {
		var a model.Attempt
		var bankCode, bankResponse, errorMessage sql.NullString
		if err := rows.Scan(&a.AttemptID, &a.PayoutID, &a.AttemptNumber, &a.Outcome, &bankCode, &bankResponse, &errorMessage, &a.CreatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan attempt data", err)
		}
		a.BankCode = bankCode.String
		a.BankResponse = bankResponse.String
		a.ErrorMessage = errorMessage.String
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over attempts", err)
	}
	return attempts, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPayoutRow(row rowScanner) (*model.Payout, error) {
	payout := &model.Payout{}
	var originRef, connectorID, bankReference, lastErrorCode, lastError, treasuryAccount sql.NullString
	var nextAttemptAt sql.NullTime
	var metaDataJSON []byte

	err := row.Scan(
		&payout.PayoutID, &payout.IdempotencyKey, &payout.OriginModule, &originRef,
		&payout.BeneficiaryName, &payout.AccountRef, &payout.Amount, &payout.Currency,
		&payout.Rail, &connectorID, &payout.Priority, &payout.ScheduledFor,
		&payout.Status, &payout.Attempts, &nextAttemptAt, &bankReference,
		&lastErrorCode, &lastError, &treasuryAccount, &payout.CreatedAt,
		&payout.UpdatedAt, &metaDataJSON,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan payout data", err)
	}

	payout.OriginRef = originRef.String
	payout.ConnectorID = connectorID.String
	payout.BankReference = bankReference.String
	payout.LastErrorCode = lastErrorCode.String
	payout.LastError = lastError.String
	payout.TreasuryAccount = treasuryAccount.String
	if nextAttemptAt.Valid {
		payout.NextAttemptAt = &nextAttemptAt.Time
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &payout.MetaData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
		}
	}
	return payout, nil
}

func checkAffected(result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payout with ID '%s' not found", id), nil)
	}
	return nil
}
