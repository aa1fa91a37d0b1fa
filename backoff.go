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

import "time"

// MaxAttempts is the retry budget. The attempt that exhausts it dead-letters
// the payout.
const MaxAttempts = 7

// retrySchedule is the delay before each retry, indexed by the number of
// attempts already made. Attempts past the table reuse the last entry.
var retrySchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	1 * time.Hour,
	6 * time.Hour,
	24 * time.Hour,
}

// NextRetryDelay returns how long to wait after the given failed attempt
// number (1-based).
func NextRetryDelay(attemptNumber int) time.Duration {
	idx := attemptNumber - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(retrySchedule) {
		idx = len(retrySchedule) - 1
	}
	return retrySchedule[idx]
}

// RetriesExhausted reports whether the given attempt number was the last one
// allowed.
func RetriesExhausted(attemptNumber int) bool {
	return attemptNumber >= MaxAttempts
}
