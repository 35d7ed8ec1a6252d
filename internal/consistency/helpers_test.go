package consistency

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/moneyage/internal/engine"
	"github.com/roach88/moneyage/internal/ledger"
	"github.com/roach88/moneyage/internal/store"
	"github.com/roach88/moneyage/internal/testutil"
)

var errInjected = errors.New("injected failure")

// faultyStore wraps store.Memory and fails selected operations on demand.
type faultyStore struct {
	*store.Memory
	failLoad        bool
	failSavePool    bool
	failChangeLog   bool
	failPendingRead bool
	failTxLog       bool
}

func (f *faultyStore) Load(ctx context.Context) ([]ledger.ResourcePool, []ledger.ResourceConsumption, error) {
	if f.failLoad {
		return nil, nil, errInjected
	}
	return f.Memory.Load(ctx)
}

func (f *faultyStore) SavePool(ctx context.Context, p ledger.ResourcePool) error {
	if f.failSavePool {
		return errInjected
	}
	return f.Memory.SavePool(ctx, p)
}

func (f *faultyStore) AppendChangeLog(ctx context.Context, ch ledger.ResourcePoolChange) error {
	if f.failChangeLog {
		return errInjected
	}
	return f.Memory.AppendChangeLog(ctx, ch)
}

func (f *faultyStore) PendingRebuild(ctx context.Context) (bool, string, error) {
	if f.failPendingRead {
		return false, "", errInjected
	}
	return f.Memory.PendingRebuild(ctx)
}

func (f *faultyStore) AllTransactions(ctx context.Context) ([]ledger.Transaction, error) {
	if f.failTxLog {
		return nil, errInjected
	}
	return f.Memory.AllTransactions(ctx)
}

// ledgerFixture drives a Manager the way the transaction-editing layer does:
// write the log first, then notify the manager.
type ledgerFixture struct {
	t     *testing.T
	ctx   context.Context
	store *faultyStore
	clock *testutil.FakeClock
	m     *Manager
}

func newFixture(t *testing.T, opts ...engine.Option) *ledgerFixture {
	t.Helper()
	f := &ledgerFixture{
		t:     t,
		ctx:   context.Background(),
		store: &faultyStore{Memory: store.NewMemory()},
		clock: testutil.NewFakeClock(testutil.Day(0)),
	}
	f.m = f.manager(opts...)
	require.NoError(t, f.m.Initialize(f.ctx))
	return f
}

// manager builds a second Manager over the same storage, as a restart would.
func (f *ledgerFixture) manager(opts ...engine.Option) *Manager {
	return New(f.store, f.store, engine.New(opts...),
		WithClock(f.clock),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func (f *ledgerFixture) append(tx ledger.Transaction) ledger.Transaction {
	f.t.Helper()
	logged, err := f.store.AppendTransaction(f.ctx, tx)
	require.NoError(f.t, err)
	return logged
}

func (f *ledgerFixture) income(id, amount string, day int) *ledger.ResourcePool {
	f.t.Helper()
	pool, err := f.m.OnIncomeCreated(f.ctx, f.append(testutil.Income(id, amount, day)))
	require.NoError(f.t, err)
	return pool
}

func (f *ledgerFixture) expense(id, amount string, day int) *ledger.MoneyAgeResult {
	f.t.Helper()
	res, err := f.m.OnExpenseCreated(f.ctx, f.append(testutil.Expense(id, amount, day)))
	require.NoError(f.t, err)
	return res
}

func (f *ledgerFixture) remove(id string) *engine.RestoreResult {
	f.t.Helper()
	tx, err := f.store.GetTransaction(f.ctx, id)
	require.NoError(f.t, err)
	require.NoError(f.t, f.store.DeleteTransaction(f.ctx, id))
	res, err := f.m.OnTransactionDeleted(f.ctx, tx)
	require.NoError(f.t, err)
	return res
}

func (f *ledgerFixture) edit(id string, change func(*ledger.Transaction)) *ledger.MoneyAgeResult {
	f.t.Helper()
	old, err := f.store.GetTransaction(f.ctx, id)
	require.NoError(f.t, err)
	updated := old
	change(&updated)
	require.NoError(f.t, f.store.UpdateTransaction(f.ctx, updated))
	updated, err = f.store.GetTransaction(f.ctx, id)
	require.NoError(f.t, err)
	res, err := f.m.OnTransactionUpdated(f.ctx, old, updated)
	require.NoError(f.t, err)
	return res
}

// tryExpense records an expense the way the journal does: an expense the
// ledger refuses is taken back out of the log. It reports whether the expense
// stayed in the log.
func (f *ledgerFixture) tryExpense(id, amount string, day int) bool {
	f.t.Helper()
	_, err := f.m.OnExpenseCreated(f.ctx, f.append(testutil.Expense(id, amount, day)))
	if engine.IsPrecondition(err) {
		require.NoError(f.t, f.store.DeleteTransaction(f.ctx, id))
		return false
	}
	require.NoError(f.t, err)
	return true
}

// tryEdit is edit with the journal's revert of refused changes.
func (f *ledgerFixture) tryEdit(id string, change func(*ledger.Transaction)) {
	f.t.Helper()
	old, err := f.store.GetTransaction(f.ctx, id)
	require.NoError(f.t, err)
	updated := old
	change(&updated)
	require.NoError(f.t, f.store.UpdateTransaction(f.ctx, updated))
	updated, err = f.store.GetTransaction(f.ctx, id)
	require.NoError(f.t, err)
	_, err = f.m.OnTransactionUpdated(f.ctx, old, updated)
	if engine.IsPrecondition(err) {
		require.NoError(f.t, f.store.UpdateTransaction(f.ctx, old))
		return
	}
	require.NoError(f.t, err)
}

func (f *ledgerFixture) mode() Mode {
	mode, _ := f.m.Mode()
	return mode
}

func (f *ledgerFixture) pool(incomeID string) ledger.ResourcePool {
	f.t.Helper()
	for _, p := range f.m.Pools() {
		if p.IncomeTransactionID == incomeID {
			return p
		}
	}
	f.t.Fatalf("no pool for income %s", incomeID)
	return ledger.ResourcePool{}
}

// replayDigest replays the stored log into a fresh state.
func (f *ledgerFixture) replayDigest() string {
	f.t.Helper()
	txs, err := f.store.AllTransactions(f.ctx)
	require.NoError(f.t, err)
	st := engine.NewState()
	_, err = f.m.engine.Replay(st, txs, nil)
	require.NoError(f.t, err)
	digest, err := st.Digest()
	require.NoError(f.t, err)
	return digest
}

// requireConsistent asserts memory, storage and a fresh replay all agree.
func (f *ledgerFixture) requireConsistent() {
	f.t.Helper()
	require.NoError(f.t, f.m.Verify())

	mem, err := f.m.Digest()
	require.NoError(f.t, err)
	pools, cons, err := f.store.Load(f.ctx)
	require.NoError(f.t, err)
	stored, err := ledger.Digest(pools, cons)
	require.NoError(f.t, err)

	require.Equal(f.t, mem, stored, "persisted ledger diverged from memory")
	require.Equal(f.t, f.replayDigest(), mem, "incremental state diverged from replay")
}
