package consistency

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/moneyage/internal/engine"
	"github.com/roach88/moneyage/internal/ledger"
)

// Mode is the consistency state of the manager.
type Mode int

const (
	// ModeIncremental means the in-memory state matches a replay of the log.
	ModeIncremental Mode = iota
	// ModePendingRebuild means the next Advance must replay the whole log.
	ModePendingRebuild
)

func (m Mode) String() string {
	switch m {
	case ModeIncremental:
		return "incremental"
	case ModePendingRebuild:
		return "pending_rebuild"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Manager keeps the engine state consistent with the transaction log.
//
// Thread-safety: all methods are safe for concurrent use. Mutations are
// serialized by the write lock.
type Manager struct {
	mu sync.RWMutex

	persist Persistence
	txlog   TransactionLog
	engine  *engine.Engine
	clock   Clock
	logger  *slog.Logger

	state            *engine.State
	mode             Mode
	reason           string
	dirty            []ledger.DirtyPoolMarker
	lastCalculatedAt time.Time

	// refused holds the logged expenses DeficitReject kept out of the ledger,
	// in replay order.
	refused []refusedExpense
}

// refusedExpense is a logged expense that drew nothing because the money held
// before it could not cover it.
type refusedExpense struct {
	id  string
	key ledger.OrderKey
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the wall clock. Default: SystemClock.
func WithClock(c Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// New creates a Manager with an empty state in ModeIncremental.
// Call Initialize to load persisted state.
func New(persist Persistence, txlog TransactionLog, eng *engine.Engine, opts ...Option) *Manager {
	m := &Manager{
		persist: persist,
		txlog:   txlog,
		engine:  eng,
		clock:   SystemClock{},
		logger:  slog.Default(),
		state:   engine.NewState(),
		mode:    ModeIncremental,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize loads the persisted ledger into memory.
//
// The restored ledger is then reconciled with the log, which also recovers
// the expenses DeficitReject refused. Load, restore, verification or
// reconciliation failures do not fail Initialize: they switch the manager to
// ModePendingRebuild so the next Advance heals the ledger.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending, reason, err := m.persist.PendingRebuild(ctx)
	if err != nil {
		m.schedule(ctx, fmt.Sprintf("read rebuild flag: %v", err))
		return nil
	}
	if pending {
		m.mode = ModePendingRebuild
		m.reason = reason
		m.logger.Info("ledger loaded with pending rebuild", "reason", reason)
		return nil
	}

	pools, consumptions, err := m.persist.Load(ctx)
	if err != nil {
		m.schedule(ctx, fmt.Sprintf("load: %v", err))
		return nil
	}
	if err := m.state.Restore(pools, consumptions); err != nil {
		m.schedule(ctx, fmt.Sprintf("restore: %v", err))
		return nil
	}
	if err := m.state.Verify(); err != nil {
		m.schedule(ctx, fmt.Sprintf("verify: %v", err))
		return nil
	}
	txs, err := m.txlog.AllTransactions(ctx)
	if err != nil {
		m.schedule(ctx, fmt.Sprintf("load transactions: %v", err))
		return nil
	}
	refused, err := m.reconcile(txs)
	if err != nil {
		m.schedule(ctx, fmt.Sprintf("reconcile: %v", err))
		return nil
	}
	m.refused = refused

	m.lastCalculatedAt = m.clock.Now()
	m.logger.Debug("ledger loaded",
		"pools", len(pools),
		"consumptions", len(consumptions),
		"refused", len(refused),
	)
	return nil
}

// OnIncomeCreated processes a new income.
//
// Returns nil when the income was deferred to a rebuild: a rebuild is already
// pending, the income is dated before an expense that has been processed,
// which would change that expense's draws, or it is dated before a refused
// expense it might now fund.
func (m *Manager) OnIncomeCreated(ctx context.Context, tx ledger.Transaction) (*ledger.ResourcePool, error) {
	if err := engine.Validate(tx, ledger.TypeIncome); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deferred("income created", tx) {
		return nil, nil
	}
	if last := m.state.Watermark().LastExpense; !last.IsZero() && !last.Before(tx.Key()) {
		m.schedule(ctx, fmt.Sprintf("income %s dated before processed expense %s", tx.ID, last))
		return nil, nil
	}
	if r, ok := m.refusedAfter(tx.Key()); ok {
		m.schedule(ctx, fmt.Sprintf("income %s dated before refused expense %s", tx.ID, r.id))
		return nil, nil
	}

	pool, err := m.engine.ProcessIncome(m.state, tx)
	if err != nil {
		return nil, m.engineError(ctx, "process income", err)
	}
	if err := m.persist.SavePool(ctx, pool); err != nil {
		return nil, m.fail(ctx, "save pool", err)
	}
	m.record(ctx, ledger.ResourcePoolChange{
		Kind:          ledger.ChangeCreated,
		PoolID:        pool.ID,
		Delta:         pool.OriginalAmount,
		TransactionID: tx.ID,
	})
	m.logger.Debug("income processed", "tx", tx.ID, "pool", pool.ID, "amount", pool.OriginalAmount.String())
	return &pool, nil
}

// OnExpenseCreated processes a new expense.
//
// Returns nil when the expense was deferred to a rebuild: a rebuild is pending
// or the expense is dated before something already processed.
func (m *Manager) OnExpenseCreated(ctx context.Context, tx ledger.Transaction) (*ledger.MoneyAgeResult, error) {
	if err := engine.Validate(tx, ledger.TypeExpense); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deferred("expense created", tx) {
		return nil, nil
	}
	if latest := m.state.Watermark().Latest(); !latest.IsZero() && !latest.Before(tx.Key()) {
		m.schedule(ctx, fmt.Sprintf("expense %s dated before processed transaction %s", tx.ID, latest))
		return nil, nil
	}

	res, err := m.engine.ProcessExpense(m.state, tx)
	if err != nil {
		return nil, m.engineError(ctx, "process expense", err)
	}
	if err := m.persistExpense(ctx, res); err != nil {
		return nil, m.fail(ctx, "save expense", err)
	}
	m.recordConsumptions(ctx, res.Consumptions, ledger.ChangeConsumed)
	m.logger.Debug("expense processed",
		"tx", tx.ID,
		"consumptions", len(res.Consumptions),
		"age_days", res.AgeDays,
		"shortfall", res.Shortfall.String(),
	)
	return &res, nil
}

// OnTransactionDeleted undoes a deleted transaction.
//
// Returns nil when nothing was applied: the deletion was deferred to a rebuild,
// or the transaction had never been processed.
func (m *Manager) OnTransactionDeleted(ctx context.Context, tx ledger.Transaction) (*engine.RestoreResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deferred("transaction deleted", tx) {
		return nil, nil
	}
	switch tx.Type {
	case ledger.TypeExpense:
		return m.deleteExpense(ctx, tx)
	case ledger.TypeIncome:
		return m.deleteIncome(ctx, tx)
	default:
		m.schedule(ctx, fmt.Sprintf("deleted transaction %s has unknown type %q", tx.ID, tx.Type))
		return nil, nil
	}
}

func (m *Manager) deleteExpense(ctx context.Context, tx ledger.Transaction) (*engine.RestoreResult, error) {
	if !m.state.HasExpense(tx.ID) {
		if m.forgetRefused(tx.ID) {
			m.logger.Debug("refused expense deleted", "tx", tx.ID)
		} else {
			m.logger.Warn("deleted expense has no consumptions", "tx", tx.ID)
		}
		return nil, nil
	}
	if !m.state.IsLatestExpense(tx.ID) {
		m.schedule(ctx, fmt.Sprintf("expense %s deleted out of order", tx.ID))
		return nil, nil
	}
	if r, ok := m.refusedAfter(tx.Key()); ok {
		m.schedule(ctx, fmt.Sprintf("expense %s deleted before refused expense %s", tx.ID, r.id))
		return nil, nil
	}

	res, err := m.engine.RestoreExpense(m.state, tx.ID)
	if err != nil {
		if engine.IsConsumptionNotFound(err) {
			m.logger.Warn("deleted expense has no consumptions", "tx", tx.ID)
			return nil, nil
		}
		return nil, m.engineError(ctx, "restore expense", err)
	}
	if err := m.persistRestore(ctx, res); err != nil {
		return nil, m.fail(ctx, "save restored pools", err)
	}
	m.recordConsumptions(ctx, res.Consumptions, ledger.ChangeModified)
	m.logger.Debug("expense restored", "tx", tx.ID, "pools", len(res.Pools))
	return &res, nil
}

func (m *Manager) deleteIncome(ctx context.Context, tx ledger.Transaction) (*engine.RestoreResult, error) {
	poolID := ledger.PoolID(tx.ID)
	pool, ok := m.state.Pool(poolID)
	if !ok {
		m.logger.Warn("deleted income has no pool", "tx", tx.ID)
		return nil, nil
	}
	if !m.canDropPool(pool) {
		m.schedule(ctx, fmt.Sprintf("income %s deleted after allocation depended on it", tx.ID))
		return nil, nil
	}

	removed, err := m.engine.RestoreIncome(m.state, poolID)
	if err != nil {
		if engine.IsPoolInUse(err) {
			m.schedule(ctx, fmt.Sprintf("income %s deleted while its pool is in use", tx.ID))
			return nil, nil
		}
		return nil, m.engineError(ctx, "restore income", err)
	}
	if err := m.persist.DeletePool(ctx, poolID); err != nil {
		return nil, m.fail(ctx, "delete pool", err)
	}
	m.record(ctx, ledger.ResourcePoolChange{
		Kind:          ledger.ChangeDeleted,
		PoolID:        poolID,
		Delta:         removed.OriginalAmount.Neg(),
		TransactionID: tx.ID,
	})
	m.logger.Debug("income removed", "tx", tx.ID, "pool", poolID)
	return &engine.RestoreResult{RemovedPools: []string{poolID}}, nil
}

// canDropPool reports whether removing an untouched pool leaves every other
// allocation as a replay would compute it. Greedy strategies never look past
// the pools that satisfied an expense, so an untouched pool played no part.
// Proportional shares depend on every active pool, so any later expense counts.
func (m *Manager) canDropPool(pool ledger.ResourcePool) bool {
	if !pool.ConsumedAmount.IsZero() {
		return false
	}
	if m.engine.Strategy().Name() != engine.StrategyProportional {
		return true
	}
	last := m.state.Watermark().LastExpense
	return last.IsZero() || last.Before(pool.Key())
}

// OnTransactionUpdated applies an edit of a logged transaction.
//
// Expense edits are a delete of the old version followed by a create of the
// new one, done on a copy of the state and committed only if both succeed.
// Income edits, type changes, out-of-order expense edits and edits dated
// before a refused expense schedule a rebuild and return nil.
func (m *Manager) OnTransactionUpdated(ctx context.Context, old, updated ledger.Transaction) (*ledger.MoneyAgeResult, error) {
	if updated.Type == ledger.TypeExpense && old.Type == ledger.TypeExpense {
		if err := engine.Validate(updated, ledger.TypeExpense); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deferred("transaction updated", updated) {
		return nil, nil
	}
	switch {
	case old.ID != updated.ID:
		m.schedule(ctx, fmt.Sprintf("transaction %s changed id to %s", old.ID, updated.ID))
		return nil, nil
	case old.Type != updated.Type:
		m.schedule(ctx, fmt.Sprintf("transaction %s changed type to %s", old.ID, updated.Type))
		return nil, nil
	case old.Type == ledger.TypeIncome:
		m.schedule(ctx, fmt.Sprintf("income %s edited", old.ID))
		return nil, nil
	case !m.state.IsLatestExpense(old.ID):
		m.schedule(ctx, fmt.Sprintf("expense %s edited out of order", old.ID))
		return nil, nil
	}
	if rest := m.state.WatermarkExcluding(old.ID).Latest(); !rest.IsZero() && !rest.Before(updated.Key()) {
		m.schedule(ctx, fmt.Sprintf("expense %s moved before processed transaction %s", old.ID, rest))
		return nil, nil
	}
	earliest := old.Key()
	if updated.Key().Before(earliest) {
		earliest = updated.Key()
	}
	if r, ok := m.refusedAfter(earliest); ok {
		m.schedule(ctx, fmt.Sprintf("expense %s edited before refused expense %s", old.ID, r.id))
		return nil, nil
	}

	next := m.state.Clone()
	restored, err := m.engine.RestoreExpense(next, old.ID)
	if err != nil {
		return nil, m.engineError(ctx, "restore edited expense", err)
	}
	res, err := m.engine.ProcessExpense(next, updated)
	if err != nil {
		return nil, m.engineError(ctx, "reprocess edited expense", err)
	}
	m.state = next

	if err := m.persistRestore(ctx, restored); err != nil {
		return nil, m.fail(ctx, "save restored pools", err)
	}
	if err := m.persistExpense(ctx, res); err != nil {
		return nil, m.fail(ctx, "save edited expense", err)
	}
	m.recordConsumptions(ctx, restored.Consumptions, ledger.ChangeModified)
	m.recordConsumptions(ctx, res.Consumptions, ledger.ChangeConsumed)
	m.logger.Debug("expense edited", "tx", updated.ID, "consumptions", len(res.Consumptions))
	return &res, nil
}

// MarkDirty queues a pool for recompute on the next Advance.
func (m *Manager) MarkDirty(poolID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty = append(m.dirty, ledger.DirtyPoolMarker{
		PoolID:   poolID,
		MarkedAt: m.clock.Now(),
		Reason:   reason,
	})
	m.logger.Debug("pool marked dirty", "pool", poolID, "reason", reason)
}

// refusedAfter returns the latest refused expense when it is ordered after
// key. Money freed or added at key could fund it, and only a replay can tell.
func (m *Manager) refusedAfter(key ledger.OrderKey) (refusedExpense, bool) {
	if len(m.refused) == 0 {
		return refusedExpense{}, false
	}
	last := m.refused[len(m.refused)-1]
	return last, key.Before(last.key)
}

// forgetRefused drops a deleted expense from the refused list and reports
// whether it was there.
func (m *Manager) forgetRefused(id string) bool {
	n := len(m.refused)
	m.refused = slices.DeleteFunc(m.refused, func(r refusedExpense) bool { return r.id == id })
	return len(m.refused) != n
}

// deferred reports whether a rebuild is already pending, in which case the
// event is covered by that rebuild.
func (m *Manager) deferred(event string, tx ledger.Transaction) bool {
	if m.mode != ModePendingRebuild {
		return false
	}
	m.logger.Debug("event deferred to pending rebuild", "event", event, "tx", tx.ID)
	return true
}

// schedule switches to ModePendingRebuild and persists the flag. A failure to
// persist the flag is logged; the in-memory flag still forces the rebuild.
func (m *Manager) schedule(ctx context.Context, reason string) {
	if m.mode != ModePendingRebuild {
		m.logger.Info("full rebuild scheduled", "reason", reason)
	}
	m.mode = ModePendingRebuild
	m.reason = reason
	if err := m.persist.SetPendingRebuild(ctx, true, reason); err != nil {
		m.logger.Warn("persisting rebuild flag failed", "error", err)
	}
}

// fail schedules a rebuild for an error that left memory and storage apart.
func (m *Manager) fail(ctx context.Context, op string, err error) error {
	m.schedule(ctx, fmt.Sprintf("%s: %v", op, err))
	return fmt.Errorf("%s: %w", op, err)
}

// engineError passes precondition errors through untouched and escalates
// everything else to a rebuild.
func (m *Manager) engineError(ctx context.Context, op string, err error) error {
	if engine.IsPrecondition(err) {
		return err
	}
	return m.fail(ctx, op, err)
}

func (m *Manager) persistExpense(ctx context.Context, res ledger.MoneyAgeResult) error {
	for _, p := range res.Pools {
		if err := m.persist.SavePool(ctx, p); err != nil {
			return err
		}
	}
	for _, c := range res.Consumptions {
		if err := m.persist.SaveConsumption(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) persistRestore(ctx context.Context, res engine.RestoreResult) error {
	for _, c := range res.Consumptions {
		if err := m.persist.DeleteConsumption(ctx, c.ID); err != nil {
			return err
		}
	}
	for _, p := range res.Pools {
		if err := m.persist.SavePool(ctx, p); err != nil {
			return err
		}
	}
	for _, id := range res.RemovedPools {
		if err := m.persist.DeletePool(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// record appends to the audit log. Failures are logged and ignored.
func (m *Manager) record(ctx context.Context, change ledger.ResourcePoolChange) {
	change.At = m.clock.Now()
	if err := m.persist.AppendChangeLog(ctx, change); err != nil {
		m.logger.Warn("change log append failed", "kind", change.Kind, "pool", change.PoolID, "error", err)
	}
}

func (m *Manager) recordConsumptions(ctx context.Context, cons []ledger.ResourceConsumption, kind ledger.ChangeKind) {
	for _, c := range cons {
		delta := c.Amount.Neg()
		if kind == ledger.ChangeModified {
			delta = c.Amount
		}
		m.record(ctx, ledger.ResourcePoolChange{
			Kind:          kind,
			PoolID:        c.ResourcePoolID,
			Delta:         delta,
			TransactionID: c.ExpenseTransactionID,
		})
	}
}
