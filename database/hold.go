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

	"github.com/Molam-git/molam-connect-sub004/internal/apierror"
	"github.com/Molam-git/molam-connect-sub004/model"
)

func (d Datasource) GetHoldByPayoutID(ctx context.Context, payoutID string) (*model.HoldLink, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT hold_id, payout_id, ledger_ref, amount, currency, status, final, created_at, released_at
		FROM ledger_holds
		WHERE payout_id = $1
	`, payoutID)

	hold := &model.HoldLink{}
	var releasedAt sql.NullTime
	err := row.Scan(&hold.HoldID, &hold.PayoutID, &hold.LedgerRef, &hold.Amount, &hold.Currency, &hold.Status, &hold.Final, &hold.CreatedAt, &releasedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("No ledger hold for payout '%s'", payoutID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve ledger hold", err)
	}
	if releasedAt.Valid {
		hold.ReleasedAt = &releasedAt.Time
	}
	return hold, nil
}

// MarkHoldReleased records the release exactly once. An already-released hold
// is a conflict so callers cannot double-release by accident.
func (d Datasource) MarkHoldReleased(ctx context.Context, holdID string, final bool) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE ledger_holds
		SET status = 'released', final = $2, released_at = CURRENT_TIMESTAMP
		WHERE hold_id = $1 AND status = 'active'
	`, holdID, final)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark hold released", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Ledger hold '%s' is not active", holdID), nil)
	}
	return nil
}
