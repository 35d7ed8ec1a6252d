package consistency

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/moneyage/internal/engine"
	"github.com/roach88/moneyage/internal/ledger"
)

// RebuildReport summarises one full rebuild.
type RebuildReport struct {
	Transactions        int             `json:"transactions"`
	Skipped             int             `json:"skipped"`
	Refused             int             `json:"refused"`
	PoolsCreated        int             `json:"pools_created"`
	ConsumptionsCreated int             `json:"consumptions_created"`
	Unfunded            decimal.Decimal `json:"unfunded"`
	Digest              string          `json:"digest"`
	Reason              string          `json:"reason"`
	StartedAt           time.Time       `json:"started_at"`
	CompletedAt         time.Time       `json:"completed_at"`
}

// Advance runs one consistency cycle.
//
// In ModePendingRebuild it rebuilds and returns the report. Otherwise it
// drains the dirty markers: a marked pool that no longer passes conservation
// escalates to a rebuild within the same call. The returned report is nil when
// no rebuild ran.
func (m *Manager) Advance(ctx context.Context) (*RebuildReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mode != ModePendingRebuild {
		for _, marker := range m.dirty {
			pool, ok := m.state.Pool(marker.PoolID)
			if !ok {
				continue
			}
			if err := pool.CheckConservation(); err != nil {
				m.schedule(ctx, fmt.Sprintf("dirty pool %s: %v", marker.PoolID, err))
				break
			}
		}
	}
	if m.mode == ModePendingRebuild {
		report, err := m.rebuildLocked(ctx)
		if err != nil {
			return nil, err
		}
		return &report, nil
	}

	m.dirty = nil
	m.lastCalculatedAt = m.clock.Now()
	return nil, nil
}

// ScheduleRebuild switches to ModePendingRebuild without rebuilding. The next
// Advance replays the log.
func (m *Manager) ScheduleRebuild(ctx context.Context, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedule(ctx, reason)
}

// RebuildAll discards the derived ledger and replays the whole transaction log.
//
// On error the manager stays in ModePendingRebuild and the previous in-memory
// state remains visible, flagged by HasDirtyData, until a rebuild succeeds.
func (m *Manager) RebuildAll(ctx context.Context) (RebuildReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rebuildLocked(ctx)
}

func (m *Manager) rebuildLocked(ctx context.Context) (RebuildReport, error) {
	reason := m.reason
	if reason == "" {
		reason = "requested"
	}
	report := RebuildReport{Reason: reason, StartedAt: m.clock.Now()}

	// Flag first so a crash mid-rebuild is healed on the next start.
	m.schedule(ctx, reason)

	txs, err := m.txlog.AllTransactions(ctx)
	if err != nil {
		return report, fmt.Errorf("rebuild: load transactions: %w", err)
	}

	fresh := engine.NewState()
	var refused []refusedExpense
	summary, err := m.engine.Replay(fresh, txs, func(tx ledger.Transaction, err error) {
		if tx.Type == ledger.TypeExpense && engine.IsInsufficientFunds(err) {
			refused = append(refused, refusedExpense{id: tx.ID, key: tx.Key()})
		}
		m.logger.Warn("transaction skipped during rebuild", "tx", tx.ID, "error", err)
	})
	if err != nil {
		return report, fmt.Errorf("rebuild: replay: %w", err)
	}
	if err := fresh.Verify(); err != nil {
		return report, fmt.Errorf("rebuild: verify: %w", err)
	}

	if err := m.persist.ClearAll(ctx); err != nil {
		return report, fmt.Errorf("rebuild: clear: %w", err)
	}
	pools := fresh.Pools()
	for _, p := range pools {
		if err := m.persist.SavePool(ctx, p); err != nil {
			return report, fmt.Errorf("rebuild: save pool %s: %w", p.ID, err)
		}
	}
	for _, c := range fresh.Consumptions() {
		if err := m.persist.SaveConsumption(ctx, c); err != nil {
			return report, fmt.Errorf("rebuild: save consumption %s: %w", c.ID, err)
		}
	}
	digest, err := fresh.Digest()
	if err != nil {
		return report, fmt.Errorf("rebuild: digest: %w", err)
	}
	if err := m.persist.SetPendingRebuild(ctx, false, ""); err != nil {
		return report, fmt.Errorf("rebuild: clear rebuild flag: %w", err)
	}

	m.state = fresh
	m.refused = refused
	m.mode = ModeIncremental
	m.reason = ""
	m.dirty = nil
	m.lastCalculatedAt = m.clock.Now()

	total := decimal.Zero
	for _, p := range pools {
		if !p.Unfunded {
			total = total.Add(p.OriginalAmount)
		}
	}
	m.record(ctx, ledger.ResourcePoolChange{Kind: ledger.ChangeRebuilt, Delta: total})

	report.Transactions = summary.Transactions
	report.Skipped = summary.Skipped
	report.Refused = len(refused)
	report.PoolsCreated = summary.Pools
	report.ConsumptionsCreated = summary.Consumptions
	report.Unfunded = summary.Unfunded
	report.Digest = digest
	report.CompletedAt = m.lastCalculatedAt

	m.logger.Info("ledger rebuilt",
		"reason", reason,
		"transactions", report.Transactions,
		"skipped", report.Skipped,
		"pools", report.PoolsCreated,
		"consumptions", report.ConsumptionsCreated,
		"digest", digest,
	)
	return report, nil
}
