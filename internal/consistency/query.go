package consistency

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/moneyage/internal/ledger"
)

// CurrentMoneyAge returns the money age as of now.
func (m *Manager) CurrentMoneyAge() ledger.MoneyAge {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engine.MoneyAge(m.state, m.clock.Now())
}

// Statistics summarises the ledger as of now.
func (m *Manager) Statistics() ledger.Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engine.Statistics(m.state, m.clock.Now())
}

// SimulateExpense reports what spending amount now would consume, without
// changing anything.
func (m *Manager) SimulateExpense(amount decimal.Decimal) (ledger.MoneyAgeResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engine.SimulateExpense(m.state, amount, m.clock.Now())
}

// PredictTrend forecasts the money age over the next daysAhead days.
func (m *Manager) PredictTrend(daysAhead int, dailyExpense decimal.Decimal, incomes []ledger.ExpectedIncome) ([]ledger.TrendPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engine.PredictTrend(m.state, m.clock.Now(), daysAhead, dailyExpense, incomes)
}

// Pools returns the current pools ordered by age, oldest first.
func (m *Manager) Pools() []ledger.ResourcePool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Pools()
}

// Pool returns one pool by id.
func (m *Manager) Pool(id string) (ledger.ResourcePool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Pool(id)
}

// PoolOf resolves a pool by its own id or by the id of its income.
func (m *Manager) PoolOf(id string) (ledger.ResourcePool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.state.Pool(id); ok {
		return p, true
	}
	return m.state.Pool(ledger.PoolID(id))
}

// ConsumptionsOfPool returns the draws against one pool in replay order.
func (m *Manager) ConsumptionsOfPool(poolID string) []ledger.ResourceConsumption {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ConsumptionsOfPool(poolID)
}

// Consumptions returns every consumption in replay order.
func (m *Manager) Consumptions() []ledger.ResourceConsumption {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Consumptions()
}

// ConsumptionsFor returns the consumptions of one expense.
func (m *Manager) ConsumptionsFor(expenseID string) []ledger.ResourceConsumption {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ConsumptionsFor(expenseID)
}

// Digest returns the content hash of the current pools and consumptions.
func (m *Manager) Digest() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Digest()
}

// Verify checks the conservation invariants of the in-memory state.
func (m *Manager) Verify() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Verify()
}

// ChangeHistory returns up to limit audit entries, newest first.
func (m *Manager) ChangeHistory(ctx context.Context, limit int) ([]ledger.ResourcePoolChange, error) {
	if limit <= 0 || limit > ledger.ChangeLogLimit {
		limit = ledger.ChangeLogLimit
	}
	changes, err := m.persist.ChangeHistory(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("change history: %w", err)
	}
	return changes, nil
}

// DirtyMarkers returns a copy of the queued dirty markers.
func (m *Manager) DirtyMarkers() []ledger.DirtyPoolMarker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.dirty)
}

// HasDirtyData reports whether the state may be stale: markers are queued or
// a rebuild is pending.
func (m *Manager) HasDirtyData() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.dirty) > 0 || m.mode == ModePendingRebuild
}

// Mode returns the consistency mode and, when a rebuild is pending, why.
func (m *Manager) Mode() (Mode, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode, m.reason
}

// LastCalculatedAt returns when the state was last known consistent.
// Zero until Initialize or Advance succeeds.
func (m *Manager) LastCalculatedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastCalculatedAt
}

// Snapshot captures the current statistics and persists them.
func (m *Manager) Snapshot(ctx context.Context) (ledger.MoneyAgeSnapshot, error) {
	m.mu.RLock()
	now := m.clock.Now()
	snap := ledger.SnapshotOf(m.engine.Statistics(m.state, now), now)
	m.mu.RUnlock()

	if err := m.persist.SaveSnapshot(ctx, snap); err != nil {
		return ledger.MoneyAgeSnapshot{}, fmt.Errorf("save snapshot: %w", err)
	}
	m.logger.Debug("snapshot saved", "date", snap.Date, "money_age", snap.MoneyAgeDays)
	return snap, nil
}
