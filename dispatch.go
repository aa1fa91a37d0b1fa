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
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/Molam-git/molam-connect-sub004/config"
	"github.com/Molam-git/molam-connect-sub004/connectors"
	"github.com/Molam-git/molam-connect-sub004/internal/notification"
	"github.com/Molam-git/molam-connect-sub004/model"
)

// DispatchWorker drains due payouts in a polling loop. Each cycle promotes
// scheduled payouts whose time has arrived, leases a batch of pending and
// reserved ones and runs one attempt per payout. Multiple workers can run
// against the same database; the lease query keeps them from colliding.
type DispatchWorker struct {
	payouts       *Payouts
	batchSize     int
	maxWorkers    int
	pollInterval  time.Duration
	submitTimeout time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
	running       bool
	mu            sync.Mutex
}

func NewDispatchWorker(payouts *Payouts) *DispatchWorker {
	batchSize := 25
	pollInterval := 5 * time.Second
	submitTimeout := 30 * time.Second
	cfg, err := config.Fetch()
	if err == nil {
		if cfg.Dispatch.BatchSize > 0 {
			batchSize = cfg.Dispatch.BatchSize
		}
		if cfg.Dispatch.PollIntervalSec > 0 {
			pollInterval = time.Duration(cfg.Dispatch.PollIntervalSec) * time.Second
		}
		if cfg.Dispatch.SubmitTimeoutSec > 0 {
			submitTimeout = time.Duration(cfg.Dispatch.SubmitTimeoutSec) * time.Second
		}
	}

	return &DispatchWorker{
		payouts:       payouts,
		batchSize:     batchSize,
		maxWorkers:    10,
		pollInterval:  pollInterval,
		submitTimeout: submitTimeout,
		stopCh:        make(chan struct{}),
	}
}

func (w *DispatchWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()

	logrus.Info("Payout dispatch worker started")
}

func (w *DispatchWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	logrus.Info("Payout dispatch worker stopped")
}

func (w *DispatchWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *DispatchWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Payout dispatch worker context cancelled")
			return
		case <-w.stopCh:
			logrus.Info("Payout dispatch worker stop signal received")
			return
		case <-ticker.C:
			w.runCycle(ctx)
		}
	}
}

func (w *DispatchWorker) runCycle(ctx context.Context) {
	ctx, span := otel.Tracer("payout.dispatch").Start(ctx, "Dispatch cycle")
	defer span.End()

	now := time.Now()
	promoted, err := w.payouts.datasource.PromoteDuePayouts(ctx, now)
	if err != nil {
		logrus.Errorf("failed to promote scheduled payouts: %v", err)
	} else if promoted > 0 {
		logrus.Infof("promoted %d scheduled payouts", promoted)
	}

	leased, err := w.payouts.datasource.LeaseEligiblePayouts(ctx, w.batchSize, now)
	if err != nil {
		logrus.Errorf("failed to lease payouts: %v", err)
		return
	}
	if len(leased) == 0 {
		return
	}
	logrus.Infof("leased %d payouts for dispatch", len(leased))

	sem := make(chan struct{}, w.maxWorkers)
	var wg sync.WaitGroup
	for _, payout := range leased {
		wg.Add(1)
		sem <- struct{}{}
		go func(payout *model.Payout) {
			defer wg.Done()
			defer func() { <-sem }()

			attemptCtx, cancel := context.WithTimeout(ctx, w.submitTimeout)
			defer cancel()
			w.payouts.executeAttempt(attemptCtx, payout)
		}(payout)
	}
	wg.Wait()
}

// executeAttempt runs one submission attempt against the payout's connector
// and records the outcome. The idempotency key sent to the bank is scoped to
// the attempt number, so an infrastructure-level retry of this attempt can
// never double-submit while a deliberate next attempt uses a fresh key.
func (p *Payouts) executeAttempt(ctx context.Context, payout *model.Payout) {
	attemptNumber := payout.Attempts + 1
	conn, err := p.registry.Resolve(payout.ConnectorID, payout.Rail)
	if err != nil {
		logrus.Errorf("no connector for payout %s: %v", payout.PayoutID, err)
		p.recordAttempt(ctx, payout, attemptNumber, model.AttemptOutcomeFailed, &connectors.SubmitResult{
			ErrorCode:    "no_connector",
			ErrorMessage: err.Error(),
		})
		p.failPayout(ctx, payout, attemptNumber, "no_connector", err.Error())
		return
	}

	result, err := conn.SubmitPayout(ctx, connectors.SubmitRequest{
		PayoutID:        payout.PayoutID,
		IdempotencyKey:  fmt.Sprintf("%s:%d", payout.PayoutID, attemptNumber),
		Amount:          payout.Amount,
		Currency:        payout.Currency,
		BeneficiaryName: payout.BeneficiaryName,
		AccountRef:      payout.AccountRef,
		Reference:       payout.OriginRef,
	})
	if err != nil {
		result = &connectors.SubmitResult{
			ErrorCode:    connectors.ErrCodeBankUnavailable,
			ErrorMessage: err.Error(),
			Retryable:    true,
		}
	}

	switch {
	case result.Success:
		p.recordAttempt(ctx, payout, attemptNumber, model.AttemptOutcomeSent, result)
		if err := p.datasource.UpdatePayoutSent(ctx, payout.PayoutID, result.BankReference); err != nil {
			logrus.Errorf("failed to mark payout %s sent: %v", payout.PayoutID, err)
			return
		}
		payout.Status = model.StatusSent
		payout.BankReference = result.BankReference
		payout.Attempts = attemptNumber
		p.emit(ctx, EventPayoutSent, payout)
		logrus.Infof("payout %s sent via %s, bank reference %s", payout.PayoutID, conn.Name(), result.BankReference)

		if result.InstantSettlement {
			if err := p.settlePayout(ctx, payout, time.Now()); err != nil {
				logrus.Errorf("failed to settle instant payout %s: %v", payout.PayoutID, err)
			}
		}

	case result.Retryable && !RetriesExhausted(attemptNumber):
		p.recordAttempt(ctx, payout, attemptNumber, model.AttemptOutcomeRetry, result)
		nextAttemptAt := time.Now().Add(NextRetryDelay(attemptNumber))
		if err := p.datasource.SchedulePayoutRetry(ctx, payout.PayoutID, nextAttemptAt, result.ErrorCode, result.ErrorMessage); err != nil {
			logrus.Errorf("failed to schedule retry for payout %s: %v", payout.PayoutID, err)
			return
		}
		payout.Attempts = attemptNumber
		p.emit(ctx, EventPayoutRetry, payout)
		logrus.Warnf("payout %s attempt %d failed (%s), retrying at %s", payout.PayoutID, attemptNumber, result.ErrorCode, nextAttemptAt.Format(time.RFC3339))

	default:
		p.recordAttempt(ctx, payout, attemptNumber, model.AttemptOutcomeFailed, result)
		p.failPayout(ctx, payout, attemptNumber, result.ErrorCode, result.ErrorMessage)
	}
}

// failPayout dead-letters a payout: terminal status, hold released back to
// the treasury account, operators alerted.
func (p *Payouts) failPayout(ctx context.Context, payout *model.Payout, attemptNumber int, code, message string) {
	if err := p.datasource.MarkPayoutFailed(ctx, payout.PayoutID, code, message); err != nil {
		logrus.Errorf("failed to mark payout %s failed: %v", payout.PayoutID, err)
		return
	}

	p.releaseHold(ctx, payout.PayoutID, false, "failed")

	payout.Status = model.StatusFailed
	payout.Attempts = attemptNumber
	payout.LastErrorCode = code
	payout.LastError = message
	p.emit(ctx, EventPayoutFailed, payout)

	notification.NotifyError(fmt.Errorf("payout %s dead-lettered after %d attempts: %s (%s)", payout.PayoutID, attemptNumber, code, message))
	logrus.Errorf("payout %s dead-lettered: %s", payout.PayoutID, code)
}

func (p *Payouts) recordAttempt(ctx context.Context, payout *model.Payout, attemptNumber int, outcome string, result *connectors.SubmitResult) {
	attempt := &model.Attempt{
		AttemptID:     model.GenerateUUIDWithSuffix("att"),
		PayoutID:      payout.PayoutID,
		AttemptNumber: attemptNumber,
		Outcome:       outcome,
		BankCode:      result.ErrorCode,
		BankResponse:  result.BankReference,
		ErrorMessage:  result.ErrorMessage,
		CreatedAt:     time.Now(),
	}
	if err := p.datasource.RecordAttempt(ctx, attempt); err != nil {
		logrus.Errorf("failed to record attempt %d for payout %s: %v", attemptNumber, payout.PayoutID, err)
	}
}
