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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Molam-git/molam-connect-sub004/database/mocks"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func newTestWatchdog(ds *mocks.MockDataSource, client redis.UniversalClient) *StuckPayoutWatchdog {
	engine := newTestEngine(ds, new(mockLedger), nil)
	engine.redis = client
	return &StuckPayoutWatchdog{
		payouts:        engine,
		pollInterval:   time.Minute,
		stuckThreshold: 10 * time.Minute,
		stopCh:         make(chan struct{}),
	}
}

func TestWatchdogRecoversStuckPayouts(t *testing.T) {
	ds := new(mocks.MockDataSource)
	mr, client := newTestRedis(t)
	w := newTestWatchdog(ds, client)

	ds.On("ResetStuckPayouts", mock.Anything, mock.MatchedBy(func(olderThan time.Time) bool {
		age := time.Since(olderThan)
		return age > 9*time.Minute && age < 11*time.Minute
	})).Return([]string{"po_1", "po_2"}, nil)

	w.recoverStuck(context.Background())

	ds.AssertExpectations(t)
	require.False(t, mr.Exists("payouts:watchdog"), "the sweep lock is released when the sweep ends")
}

func TestWatchdogSkipsSweepWhenLockHeld(t *testing.T) {
	ds := new(mocks.MockDataSource)
	mr, client := newTestRedis(t)
	w := newTestWatchdog(ds, client)

	require.NoError(t, mr.Set("payouts:watchdog", "another-instance"))
	mr.SetTTL("payouts:watchdog", time.Minute)

	w.recoverStuck(context.Background())

	ds.AssertNotCalled(t, "ResetStuckPayouts", mock.Anything, mock.Anything)
}
