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

package payouts

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/Molam-git/molam-connect-sub004/internal/apierror"
	"github.com/Molam-git/molam-connect-sub004/internal/ledger"
	"github.com/Molam-git/molam-connect-sub004/model"
)

// CreatePayout accepts a payout request. The call is idempotent on the
// request's idempotency key: a duplicate returns the original payout
// unchanged, whatever state it has reached since. A new request validates,
// resolves its connector and route, reserves funds in the ledger and persists
// the payout, in that order. Nothing is submitted to a bank here.
func (p *Payouts) CreatePayout(ctx context.Context, req *model.PayoutRequest) (*model.Payout, error) {
	ctx, span := otel.Tracer("payout.lifecycle").Start(ctx, "Creating payout")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}

	existing, err := p.datasource.GetPayoutByIdempotencyKey(ctx, req.IdempotencyKey)
	if err == nil {
		return existing, nil
	}
	if apiErr, ok := err.(apierror.APIError); !ok || apiErr.Code != apierror.ErrNotFound {
		return nil, err
	}

	conn, err := p.registry.Resolve(req.ConnectorID, req.Rail)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}
	if err := conn.Capabilities().Supports(req.Amount, req.Currency); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}
	if err := conn.ValidateAccount(ctx, req.AccountRef); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}

	route, err := p.router.PickRouting(ctx, req.Amount, req.Currency, req.OriginModule)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	payout := &model.Payout{
		PayoutID:        model.GenerateUUIDWithSuffix("po"),
		IdempotencyKey:  req.IdempotencyKey,
		OriginModule:    req.OriginModule,
		OriginRef:       req.OriginRef,
		BeneficiaryName: req.BeneficiaryName,
		AccountRef:      req.AccountRef,
		Amount:          req.Amount,
		Currency:        req.Currency,
		Rail:            req.Rail,
		ConnectorID:     req.ConnectorID,
		Priority:        req.Priority,
		ScheduledFor:    now,
		Status:          model.StatusPending,
		TreasuryAccount: route.TreasuryAccountID,
		CreatedAt:       now,
		UpdatedAt:       now,
		MetaData:        req.MetaData,
	}
	if req.ScheduledFor.After(now) {
		payout.ScheduledFor = req.ScheduledFor
		payout.Status = model.StatusScheduled
	}

	// Funds are held for the payout amount plus the estimated rail fee, so a
	// settled payout can never overdraw the treasury account on fees.
	holdAmount := req.Amount.Add(route.FeeEstimate)
	ledgerRef, err := p.ledger.CreateHold(ctx, ledger.HoldRequest{
		Owner:     "payouts",
		AccountID: route.TreasuryAccountID,
		Amount:    holdAmount,
		Currency:  req.Currency,
		Reason:    "payout_hold",
		Reference: payout.PayoutID,
	})
	if err != nil {
		return nil, err
	}

	holdLink := &model.HoldLink{
		HoldID:    model.GenerateUUIDWithSuffix("lh"),
		PayoutID:  payout.PayoutID,
		LedgerRef: ledgerRef,
		Amount:    holdAmount,
		Currency:  req.Currency,
		Status:    model.HoldActive,
		CreatedAt: now,
	}

	// Payout and hold link commit together; a failed persist leaves no row
	// behind, so the ledger hold is released and the create fails (or, on a
	// lost race on the idempotency key, the winner's payout is returned).
	persisted, err := p.datasource.RecordPayoutWithHold(ctx, payout, holdLink)
	if err != nil {
		if releaseErr := p.ledger.ReleaseHold(ctx, ledgerRef, false, map[string]interface{}{"reason": "persist_failed"}); releaseErr != nil {
			logrus.Errorf("failed to release hold %s after persist failure: %v", ledgerRef, releaseErr)
		}
		if apiErr, ok := err.(apierror.APIError); ok && apiErr.Code == apierror.ErrConflict {
			return p.datasource.GetPayoutByIdempotencyKey(ctx, req.IdempotencyKey)
		}
		return nil, err
	}

	p.emit(ctx, EventPayoutCreated, persisted)
	return persisted, nil
}

// GetPayout retrieves a payout by ID.
func (p *Payouts) GetPayout(ctx context.Context, id string) (*model.Payout, error) {
	return p.datasource.GetPayout(ctx, id)
}

// ListPayouts retrieves payouts, optionally filtered by status.
func (p *Payouts) ListPayouts(ctx context.Context, status string, limit, offset int) ([]model.Payout, error) {
	return p.datasource.GetAllPayouts(ctx, status, limit, offset)
}

// GetAttempts returns the append-only attempt history of a payout.
func (p *Payouts) GetAttempts(ctx context.Context, payoutID string) ([]model.Attempt, error) {
	return p.datasource.GetAttempts(ctx, payoutID)
}

// CancelPayout cancels a payout that has not been handed to a bank yet. The
// status gate runs in the database so a concurrent lease wins cleanly; a
// payout already processing or sent answers with a stable conflict error.
func (p *Payouts) CancelPayout(ctx context.Context, id, reason string) (*model.Payout, error) {
	payout, err := p.datasource.GetPayout(ctx, id)
	if err != nil {
		return nil, err
	}

	cancelled, err := p.datasource.MarkPayoutCancelled(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cancelled {
		current, err := p.datasource.GetPayout(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, apierror.NewStateConflict("cancel", current.Status)
	}

	if reason == "" {
		reason = "cancelled"
	}
	p.releaseHold(ctx, id, false, reason)

	payout.Status = model.StatusCancelled
	p.emit(ctx, EventPayoutCancelled, payout)
	logrus.Infof("payout %s cancelled: %s", id, reason)
	return payout, nil
}

// ForceExecute reserves a payout for immediate dispatch: priority moves to
// the front of the queue and the backoff timer is cleared, so the next lease
// cycle picks it up. The retry budget still applies; forcing is a schedule
// override, not extra attempts.
func (p *Payouts) ForceExecute(ctx context.Context, id string) (*model.Payout, error) {
	payout, err := p.datasource.GetPayout(ctx, id)
	if err != nil {
		return nil, err
	}

	reserved, err := p.datasource.MarkPayoutReserved(ctx, id)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return nil, apierror.NewStateConflict("force_execute", payout.Status)
	}

	return p.datasource.GetPayout(ctx, id)
}

// ReconcilePayout marks a sent payout settled and releases its hold finally.
// Reconciling an already settled payout is a no-op; any other non-sent status
// is a conflict.
func (p *Payouts) ReconcilePayout(ctx context.Context, id string, settledAt time.Time) (*model.Payout, error) {
	payout, err := p.datasource.GetPayout(ctx, id)
	if err != nil {
		return nil, err
	}
	if payout.Status == model.StatusSettled {
		return payout, nil
	}

	if err := p.settlePayout(ctx, payout, settledAt); err != nil {
		// A concurrent settle may have won the race between the read above
		// and the guarded update.
		current, gerr := p.datasource.GetPayout(ctx, id)
		if gerr == nil && current.Status == model.StatusSettled {
			return current, nil
		}
		return nil, err
	}
	return payout, nil
}

// settlePayout moves a sent payout to settled and releases its hold finally.
func (p *Payouts) settlePayout(ctx context.Context, payout *model.Payout, settledAt time.Time) error {
	if err := p.datasource.MarkPayoutSettled(ctx, payout.PayoutID, settledAt); err != nil {
		return err
	}

	p.releaseHold(ctx, payout.PayoutID, true, "settled")

	payout.Status = model.StatusSettled
	p.emit(ctx, EventPayoutSettled, payout)
	logrus.Infof("payout %s settled", payout.PayoutID)
	return nil
}

// releaseHold releases the ledger hold of a payout once, logging rather than
// failing the caller: the state transition already committed and a stuck hold
// is an operational alert, not a rollback.
func (p *Payouts) releaseHold(ctx context.Context, payoutID string, final bool, reason string) {
	hold, err := p.datasource.GetHoldByPayoutID(ctx, payoutID)
	if err != nil {
		logrus.Warnf("no hold found for payout %s: %v", payoutID, err)
		return
	}
	if hold.Status == model.HoldReleased {
		return
	}

	if err := p.ledger.ReleaseHold(ctx, hold.LedgerRef, final, map[string]interface{}{
		"payout_id": payoutID,
		"reason":    reason,
	}); err != nil {
		logrus.Errorf("failed to release ledger hold %s for payout %s: %v", hold.LedgerRef, payoutID, err)
		return
	}
	if err := p.datasource.MarkHoldReleased(ctx, hold.HoldID, final); err != nil {
		logrus.Errorf("failed to record hold release for payout %s: %v", payoutID, err)
	}
}
