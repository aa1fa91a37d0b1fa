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

	"github.com/Molam-git/molam-connect-sub004/config"
	redlock "github.com/Molam-git/molam-connect-sub004/internal/lock"
	"github.com/Molam-git/molam-connect-sub004/internal/notification"
	"github.com/Molam-git/molam-connect-sub004/model"
)

// StuckPayoutWatchdog returns payouts abandoned mid-attempt by a dead worker
// to the dispatch queue. A processing row older than the stuck threshold has
// lost its worker; resetting it to pending lets the next lease pick it up.
// The attempt-scoped idempotency key protects against the case where the dead
// worker's submission did reach the bank.
type StuckPayoutWatchdog struct {
	payouts        *Payouts
	pollInterval   time.Duration
	stuckThreshold time.Duration
	stopCh         chan struct{}
	wg             sync.WaitGroup
	running        bool
	mu             sync.Mutex
}

func NewStuckPayoutWatchdog(payouts *Payouts) *StuckPayoutWatchdog {
	stuckThreshold := 10 * time.Minute
	cfg, err := config.Fetch()
	if err == nil && cfg.Dispatch.StuckThresholdMin > 0 {
		stuckThreshold = time.Duration(cfg.Dispatch.StuckThresholdMin) * time.Minute
	}

	return &StuckPayoutWatchdog{
		payouts:        payouts,
		pollInterval:   time.Minute,
		stuckThreshold: stuckThreshold,
		stopCh:         make(chan struct{}),
	}
}

func (w *StuckPayoutWatchdog) Start(ctx context.Context) {
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

	logrus.Info("Stuck payout watchdog started")
}

func (w *StuckPayoutWatchdog) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	logrus.Info("Stuck payout watchdog stopped")
}

func (w *StuckPayoutWatchdog) run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.recoverStuck(ctx)
		}
	}
}

// recoverStuck runs under a redis lock so only one instance sweeps at a time.
func (w *StuckPayoutWatchdog) recoverStuck(ctx context.Context) {
	locker := redlock.NewLocker(w.payouts.redis, "payouts:watchdog", model.GenerateUUIDWithSuffix("wd"))
	if err := locker.Lock(ctx, 30*time.Second); err != nil {
		logrus.Debugf("watchdog lock held elsewhere: %v", err)
		return
	}
	defer func() {
		if err := locker.Unlock(ctx); err != nil {
			logrus.Warnf("failed to release watchdog lock: %v", err)
		}
	}()

	ids, err := w.payouts.datasource.ResetStuckPayouts(ctx, time.Now().Add(-w.stuckThreshold))
	if err != nil {
		logrus.Errorf("failed to reset stuck payouts: %v", err)
		return
	}
	if len(ids) > 0 {
		logrus.Warnf("recovered %d stuck payouts: %v", len(ids), ids)
		notification.NotifyError(fmt.Errorf("recovered %d stuck payouts: %v", len(ids), ids))
	}
}
