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
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/texttheater/golang-levenshtein/levenshtein"
	"go.opentelemetry.io/otel"

	"github.com/Molam-git/molam-connect-sub004/config"
	"github.com/Molam-git/molam-connect-sub004/internal/apierror"
	redlock "github.com/Molam-git/molam-connect-sub004/internal/lock"
	"github.com/Molam-git/molam-connect-sub004/model"
)

// Fuzzy match weights. Amount equality is a hard precondition enforced by
// the candidate query, so its weight is granted to every candidate; date
// proximity and beneficiary name similarity score the rest.
const (
	amountWeight = 0.5
	dateWeight   = 0.3
	nameWeight   = 0.2
)

// SettlementMatcher correlates incoming settlement records back to sent
// payouts. Exact bank-reference matches win immediately; records without a
// usable reference go through fuzzy scoring against candidates with the same
// amount and currency. A record is assigned to at most one payout, ever.
type SettlementMatcher struct {
	payouts        *Payouts
	pollInterval   time.Duration
	batchSize      int
	matchThreshold float64
	driftHours     int
	stopCh         chan struct{}
	wg             sync.WaitGroup
	running        bool
	mu             sync.Mutex
}

func NewSettlementMatcher(payouts *Payouts) *SettlementMatcher {
	m := &SettlementMatcher{
		payouts:        payouts,
		pollInterval:   time.Minute,
		batchSize:      100,
		matchThreshold: 0.85,
		driftHours:     48,
		stopCh:         make(chan struct{}),
	}

	cfg, err := config.Fetch()
	if err == nil {
		if cfg.Reconciliation.PollIntervalSec > 0 {
			m.pollInterval = time.Duration(cfg.Reconciliation.PollIntervalSec) * time.Second
		}
		if cfg.Reconciliation.BatchSize > 0 {
			m.batchSize = cfg.Reconciliation.BatchSize
		}
		if cfg.Reconciliation.MatchThreshold > 0 {
			m.matchThreshold = cfg.Reconciliation.MatchThreshold
		}
		if cfg.Reconciliation.DateDriftHours > 0 {
			m.driftHours = cfg.Reconciliation.DateDriftHours
		}
	}
	return m
}

func (m *SettlementMatcher) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx)
	}()

	logrus.Info("Settlement matcher started")
}

func (m *SettlementMatcher) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	logrus.Info("Settlement matcher stopped")
}

func (m *SettlementMatcher) run(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.runCycle(ctx)
		}
	}
}

// runCycle sweeps pending settlement records under a redis lock so only one
// matcher instance scores at a time.
func (m *SettlementMatcher) runCycle(ctx context.Context) {
	locker := redlock.NewLocker(m.payouts.redis, "payouts:matcher", model.GenerateUUIDWithSuffix("sm"))
	if err := locker.Lock(ctx, 2*time.Minute); err != nil {
		logrus.Debugf("matcher lock held elsewhere: %v", err)
		return
	}
	defer func() {
		if err := locker.Unlock(ctx); err != nil {
			logrus.Warnf("failed to release matcher lock: %v", err)
		}
	}()

	if err := m.ProcessPendingSettlements(ctx); err != nil {
		logrus.Errorf("settlement matching cycle failed: %v", err)
	}
}

// ProcessPendingSettlements matches one batch of pending settlement records.
func (m *SettlementMatcher) ProcessPendingSettlements(ctx context.Context) error {
	ctx, span := otel.Tracer("payout.reconciliation").Start(ctx, "Matching settlement records")
	defer span.End()

	records, err := m.payouts.datasource.GetPendingSettlements(ctx, m.batchSize)
	if err != nil {
		return err
	}

	for _, record := range records {
		m.matchRecord(ctx, record)
	}
	return nil
}

func (m *SettlementMatcher) matchRecord(ctx context.Context, record *model.SettlementRecord) {
	if record.BankReference != "" {
		payout, err := m.payouts.datasource.GetPayoutByBankReference(ctx, record.BankReference)
		if err == nil {
			m.assign(ctx, record, payout, 1.0)
			return
		}
		if apiErr, ok := err.(apierror.APIError); !ok || apiErr.Code != apierror.ErrNotFound {
			logrus.Errorf("bank reference lookup failed for record %s: %v", record.RecordID, err)
			return
		}
	}

	payout, confidence := m.bestCandidate(ctx, record)
	if payout == nil || confidence < m.matchThreshold {
		if err := m.payouts.datasource.MarkSettlementUnmatched(ctx, record.RecordID); err != nil {
			logrus.Errorf("failed to mark record %s unmatched: %v", record.RecordID, err)
			return
		}
		logrus.Warnf("settlement record %s from %s left unmatched (best confidence %.2f)", record.RecordID, record.Source, confidence)
		return
	}

	m.assign(ctx, record, payout, confidence)
}

// assign links the record to the payout and settles it. Single assignment is
// enforced in the database; a duplicate link attempt comes back as a conflict
// and parks the record unmatched instead of settling anything.
func (m *SettlementMatcher) assign(ctx context.Context, record *model.SettlementRecord, payout *model.Payout, confidence float64) {
	if err := m.payouts.datasource.MarkSettlementMatched(ctx, record.RecordID, payout.PayoutID, confidence); err != nil {
		if apiErr, ok := err.(apierror.APIError); ok && apiErr.Code == apierror.ErrConflict {
			// The payout is already linked to another record (a duplicate
			// notice, often a re-ingested file) or a concurrent sweep claimed
			// this record first. Leave the record for manual review.
			if uerr := m.payouts.datasource.MarkSettlementUnmatched(ctx, record.RecordID); uerr != nil {
				logrus.Debugf("record %s already resolved: %v", record.RecordID, uerr)
			}
			logrus.Warnf("record %s not assigned to payout %s: %v", record.RecordID, payout.PayoutID, err)
			return
		}
		logrus.Errorf("failed to assign record %s to payout %s: %v", record.RecordID, payout.PayoutID, err)
		return
	}

	if err := m.payouts.settlePayout(ctx, payout, record.SettledAt); err != nil {
		// Instant rails settle at dispatch time; their records still match
		// but have nothing left to settle.
		if apiErr, ok := err.(apierror.APIError); ok && apiErr.Code == apierror.ErrConflict {
			logrus.Infof("payout %s already settled, record %s matched for audit", payout.PayoutID, record.RecordID)
			return
		}
		logrus.Errorf("failed to settle payout %s from record %s: %v", payout.PayoutID, record.RecordID, err)
		return
	}
	logrus.Infof("settlement record %s matched payout %s with confidence %.2f", record.RecordID, payout.PayoutID, confidence)
}

func (m *SettlementMatcher) bestCandidate(ctx context.Context, record *model.SettlementRecord) (*model.Payout, float64) {
	candidates, err := m.payouts.datasource.FindSettlementCandidates(ctx, record, m.driftHours)
	if err != nil {
		logrus.Errorf("candidate lookup failed for record %s: %v", record.RecordID, err)
		return nil, 0
	}

	var best *model.Payout
	bestScore := 0.0
	for _, candidate := range candidates {
		score := m.score(record, candidate)
		if score > bestScore {
			best = candidate
			bestScore = score
		}
	}
	return best, bestScore
}

func (m *SettlementMatcher) score(record *model.SettlementRecord, payout *model.Payout) float64 {
	score := amountWeight

	drift := record.SettledAt.Sub(payout.UpdatedAt)
	if drift < 0 {
		drift = -drift
	}
	window := time.Duration(m.driftHours) * time.Hour
	if drift < window {
		score += dateWeight * (1 - float64(drift)/float64(window))
	}

	score += nameWeight * nameSimilarity(record.BeneficiaryName, payout.BeneficiaryName)
	return score
}

// nameSimilarity is 1 for identical names (after case folding) and decays
// with the levenshtein distance relative to the longer name.
func nameSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	distance := levenshtein.DistanceForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	similarity := 1 - float64(distance)/float64(longest)
	if similarity < 0 {
		return 0
	}
	return similarity
}

// IngestSettlementFile parses a bank settlement CSV and stores each row as a
// pending settlement record for the matcher. Expected columns:
// bank_reference, amount, currency, beneficiary_name, settled_at (RFC 3339 or
// date only). Returns the number of records stored.
func (p *Payouts) IngestSettlementFile(ctx context.Context, source string, reader io.Reader) (int, error) {
	r := csv.NewReader(reader)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInvalidInput, "Settlement file is empty or unreadable", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"amount", "currency", "settled_at"} {
		if _, ok := col[required]; !ok {
			return 0, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Settlement file is missing the %s column", required), nil)
		}
	}

	stored := 0
	line := 1
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return stored, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Settlement file line %d is malformed", line), err)
		}

		amount, err := decimal.NewFromString(row[col["amount"]])
		if err != nil {
			return stored, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Settlement file line %d has an invalid amount", line), err)
		}
		settledAt, err := parseSettledAt(row[col["settled_at"]])
		if err != nil {
			return stored, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Settlement file line %d has an invalid settled_at", line), err)
		}

		record := &model.SettlementRecord{
			RecordID:  model.GenerateUUIDWithSuffix("sr"),
			Source:    source,
			Amount:    amount,
			Currency:  strings.ToUpper(row[col["currency"]]),
			SettledAt: settledAt,
			Status:    model.SettlementPending,
			CreatedAt: time.Now(),
		}
		if i, ok := col["bank_reference"]; ok {
			record.BankReference = row[i]
		}
		if i, ok := col["beneficiary_name"]; ok {
			record.BeneficiaryName = row[i]
		}

		if err := p.datasource.RecordSettlement(ctx, record); err != nil {
			return stored, err
		}
		stored++
	}

	logrus.Infof("ingested %d settlement records from %s", stored, source)
	return stored, nil
}

func parseSettledAt(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}
