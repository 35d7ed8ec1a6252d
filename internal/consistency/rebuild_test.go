package consistency

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/moneyage/internal/engine"
	"github.com/roach88/moneyage/internal/ledger"
	"github.com/roach88/moneyage/internal/testutil"
)

func TestRebuildAll_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.income("a", "100", 0)
	f.income("b", "40", 2)
	f.expense("e1", "70", 3)
	f.expense("e2", "90", 4)

	first, err := f.m.RebuildAll(f.ctx)
	require.NoError(t, err)
	second, err := f.m.RebuildAll(f.ctx)
	require.NoError(t, err)

	assert.Equal(t, first.Digest, second.Digest)
	assert.Equal(t, 4, second.Transactions)
	assert.Equal(t, 2, second.PoolsCreated)
	assert.Equal(t, 4, second.ConsumptionsCreated)
	assert.True(t, second.Unfunded.Equal(testutil.Dec("20")))
	assert.Equal(t, "requested", second.Reason)

	mem, err := f.m.Digest()
	require.NoError(t, err)
	assert.Equal(t, second.Digest, mem)
	f.requireConsistent()

	history, err := f.m.ChangeHistory(f.ctx, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ledger.ChangeRebuilt, history[0].Kind)
	assert.True(t, history[0].Delta.Equal(testutil.Dec("140")))
}

func TestRebuildAll_FailureKeepsPendingAndOldState(t *testing.T) {
	f := newFixture(t)
	f.income("a", "100", 0)
	f.expense("e", "10", 1)
	before, err := f.m.Digest()
	require.NoError(t, err)

	f.store.failTxLog = true
	_, err = f.m.RebuildAll(f.ctx)
	require.ErrorIs(t, err, errInjected)

	assert.Equal(t, ModePendingRebuild, f.mode())
	assert.True(t, f.m.HasDirtyData())
	pending, _, err := f.store.PendingRebuild(f.ctx)
	require.NoError(t, err)
	assert.True(t, pending)

	after, err := f.m.Digest()
	require.NoError(t, err)
	assert.Equal(t, before, after, "failed rebuild keeps the previous state visible")

	_, err = f.m.Advance(f.ctx)
	require.ErrorIs(t, err, errInjected, "Advance retries the rebuild")
	assert.Equal(t, ModePendingRebuild, f.mode())

	f.store.failTxLog = false
	report, err := f.m.Advance(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, ModeIncremental, f.mode())
	pending, _, err = f.store.PendingRebuild(f.ctx)
	require.NoError(t, err)
	assert.False(t, pending)
	f.requireConsistent()
}

func TestInitialize_RestoresPersistedLedger(t *testing.T) {
	f := newFixture(t)
	f.income("a", "100", 0)
	f.expense("e", "25", 1)
	want, err := f.m.Digest()
	require.NoError(t, err)

	restarted := f.manager()
	require.NoError(t, restarted.Initialize(f.ctx))
	mode, _ := restarted.Mode()
	assert.Equal(t, ModeIncremental, mode)

	got, err := restarted.Digest()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, testutil.Day(0), restarted.LastCalculatedAt())
}

func TestInitialize_LoadFailureSchedulesRebuild(t *testing.T) {
	f := newFixture(t)
	f.income("a", "100", 0)

	f.store.failLoad = true
	restarted := f.manager()
	require.NoError(t, restarted.Initialize(f.ctx), "load failures self-heal")
	mode, reason := restarted.Mode()
	assert.Equal(t, ModePendingRebuild, mode)
	assert.Contains(t, reason, "load")
	assert.True(t, restarted.LastCalculatedAt().IsZero())

	f.store.failLoad = false
	report, err := restarted.Advance(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.PoolsCreated)
}

func TestInitialize_PendingFlagSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	f.income("a", "100", 5)
	f.expense("e", "10", 6)
	f.income("backdated", "10", 1)
	require.Equal(t, ModePendingRebuild, f.mode())

	restarted := f.manager()
	require.NoError(t, restarted.Initialize(f.ctx))
	mode, reason := restarted.Mode()
	assert.Equal(t, ModePendingRebuild, mode)
	assert.Contains(t, reason, "backdated")

	_, err := restarted.Advance(f.ctx)
	require.NoError(t, err)
	mode, _ = restarted.Mode()
	assert.Equal(t, ModeIncremental, mode)
}

func TestInitialize_FlagReadFailureSchedulesRebuild(t *testing.T) {
	f := newFixture(t)
	f.store.failPendingRead = true

	restarted := f.manager()
	require.NoError(t, restarted.Initialize(f.ctx))
	mode, _ := restarted.Mode()
	assert.Equal(t, ModePendingRebuild, mode)
}

func TestInitialize_CorruptLedgerSchedulesRebuild(t *testing.T) {
	f := newFixture(t)
	f.income("a", "100", 0)

	pool := f.pool("a")
	pool.RemainingAmount = testutil.Dec("90")
	require.NoError(t, f.store.SavePool(f.ctx, pool))

	restarted := f.manager()
	require.NoError(t, restarted.Initialize(f.ctx))
	mode, reason := restarted.Mode()
	assert.Equal(t, ModePendingRebuild, mode)
	assert.Contains(t, reason, "verify")

	_, err := restarted.Advance(f.ctx)
	require.NoError(t, err)
	require.NoError(t, restarted.Verify())
}

func TestInitialize_RecoversRefusedExpenses(t *testing.T) {
	f := withRefusedExpense(t)

	f.m = f.manager(engine.WithDeficitPolicy(engine.DeficitReject))
	require.NoError(t, f.m.Initialize(f.ctx))
	require.Equal(t, ModeIncremental, f.mode())

	assert.Nil(t, f.income("b", "100", 5))
	mode, reason := f.m.Mode()
	assert.Equal(t, ModePendingRebuild, mode)
	assert.Contains(t, reason, "refused expense e2")

	_, err := f.m.Advance(f.ctx)
	require.NoError(t, err)
	f.requireConsistent()
}

func TestInitialize_LedgerBehindLogSchedulesRebuild(t *testing.T) {
	tests := []struct {
		name   string
		policy engine.DeficitPolicy
		crash  func(f *ledgerFixture)
		reason string
	}{
		{
			name:   "income logged but never applied",
			policy: engine.DeficitRecord,
			crash:  func(f *ledgerFixture) { f.append(testutil.Income("lost", "50", 3)) },
			reason: "missing from the ledger",
		},
		{
			name:   "expense logged but never applied",
			policy: engine.DeficitRecord,
			crash:  func(f *ledgerFixture) { f.append(testutil.Expense("lost", "5", 3)) },
			reason: "missing from the ledger",
		},
		{
			name:   "fundable expense logged but never applied under reject",
			policy: engine.DeficitReject,
			crash:  func(f *ledgerFixture) { f.append(testutil.Expense("lost", "5", 3)) },
			reason: "missing from the ledger",
		},
		{
			name:   "income deleted from the log only",
			policy: engine.DeficitRecord,
			crash: func(f *ledgerFixture) {
				f.income("extra", "40", 2)
				require.NoError(f.t, f.store.DeleteTransaction(f.ctx, "extra"))
			},
			reason: "has no income in the log",
		},
		{
			name:   "expense edited in the log only",
			policy: engine.DeficitRecord,
			crash: func(f *ledgerFixture) {
				tx, err := f.store.GetTransaction(f.ctx, "e")
				require.NoError(f.t, err)
				tx.Amount = testutil.Dec("45")
				require.NoError(f.t, f.store.UpdateTransaction(f.ctx, tx))
			},
			reason: "expense e drew 25 of 45",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, engine.WithDeficitPolicy(tt.policy))
			f.income("a", "100", 0)
			f.expense("e", "25", 1)
			tt.crash(f)

			f.m = f.manager(engine.WithDeficitPolicy(tt.policy))
			require.NoError(t, f.m.Initialize(f.ctx))
			mode, reason := f.m.Mode()
			assert.Equal(t, ModePendingRebuild, mode)
			assert.Contains(t, reason, "reconcile")
			assert.Contains(t, reason, tt.reason)

			_, err := f.m.Advance(f.ctx)
			require.NoError(t, err)
			f.requireConsistent()
		})
	}
}

func TestInitialize_TransactionLogFailureSchedulesRebuild(t *testing.T) {
	f := newFixture(t)
	f.income("a", "100", 0)

	f.store.failTxLog = true
	f.m = f.manager()
	require.NoError(t, f.m.Initialize(f.ctx))
	mode, reason := f.m.Mode()
	assert.Equal(t, ModePendingRebuild, mode)
	assert.Contains(t, reason, "load transactions")

	f.store.failTxLog = false
	_, err := f.m.Advance(f.ctx)
	require.NoError(t, err)
	f.requireConsistent()
}

func TestAdvance_RebuildClearsDirtyMarkers(t *testing.T) {
	f := newFixture(t)
	f.income("a", "100", 5)
	f.expense("e", "10", 6)
	f.income("backdated", "10", 1)
	require.Equal(t, ModePendingRebuild, f.mode())

	f.m.MarkDirty(ledger.PoolID("a"), "audit")
	report, err := f.m.Advance(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Empty(t, f.m.DirtyMarkers())
	assert.False(t, f.m.HasDirtyData())
	assert.True(t, f.pool("backdated").ConsumedAmount.Equal(testutil.Dec("10")))
	f.requireConsistent()
}

// TestIncrementalMatchesReplay drives random interleavings of creates,
// deletes and edits, and checks the incrementally maintained ledger against
// a replay of the final log under every strategy and deficit policy.
func TestIncrementalMatchesReplay(t *testing.T) {
	strategies := []engine.Strategy{engine.FIFO{}, engine.LIFO{}, engine.Proportional{}}
	policies := []engine.DeficitPolicy{engine.DeficitRecord, engine.DeficitReject}
	for _, strategy := range strategies {
		for _, policy := range policies {
			for seed := uint64(1); seed <= 8; seed++ {
				t.Run(fmt.Sprintf("%s/%s/seed-%d", strategy.Name(), policy, seed), func(t *testing.T) {
					runInterleaving(t, strategy, policy, seed, 120)
				})
			}
		}
	}
}

func runInterleaving(t *testing.T, strategy engine.Strategy, policy engine.DeficitPolicy, seed uint64, steps int) {
	f := newFixture(t, engine.WithStrategy(strategy), engine.WithDeficitPolicy(policy))
	rng := rand.New(rand.NewPCG(seed, seed*7919))

	var live []string
	cursor := 0
	nextID := 0
	amount := func() string {
		return decimal.New(int64(rng.IntN(20000)+1), -2).String()
	}
	date := func() int {
		if rng.IntN(5) == 0 {
			return rng.IntN(cursor + 1)
		}
		cursor += rng.IntN(3)
		return cursor
	}
	pick := func() (string, int) {
		i := rng.IntN(len(live))
		return live[i], i
	}

	incremental := 0
	for step := 0; step < steps; step++ {
		switch op := rng.IntN(10); {
		case op < 3 || len(live) == 0:
			nextID++
			id := fmt.Sprintf("inc-%03d", nextID)
			f.income(id, amount(), date())
			live = append(live, id)
		case op < 7:
			nextID++
			id := fmt.Sprintf("exp-%03d", nextID)
			if f.tryExpense(id, amount(), date()) {
				live = append(live, id)
			}
		case op < 8:
			id, i := pick()
			f.remove(id)
			live = append(live[:i], live[i+1:]...)
		default:
			id, _ := pick()
			f.tryEdit(id, func(tx *ledger.Transaction) {
				switch rng.IntN(4) {
				case 0:
					tx.Date = testutil.Day(date())
				case 1:
					tx.Amount = testutil.Dec(amount())
					tx.Date = testutil.Day(date())
				case 2:
					tx.Amount = testutil.Dec(amount())
				default:
					if rng.IntN(4) == 0 {
						tx.Type = ledger.TypeIncome
					}
				}
			})
		}

		if f.mode() == ModeIncremental {
			incremental++
			f.requireConsistent()
		} else if rng.IntN(3) == 0 {
			_, err := f.m.Advance(f.ctx)
			require.NoError(t, err)
			f.requireConsistent()
		}
	}

	_, err := f.m.Advance(f.ctx)
	require.NoError(t, err)
	f.requireConsistent()
	assert.Positive(t, incremental)
}

func TestConcurrentReadsDuringMutations(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 20; i++ {
		f.income(fmt.Sprintf("inc-%d", i), "10", i)
	}

	var wg sync.WaitGroup
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = f.m.CurrentMoneyAge()
				_ = f.m.Statistics()
				_, _ = f.m.SimulateExpense(testutil.Dec("15"))
				assert.NoError(t, f.m.Verify())
			}
		}()
	}
	for i := 0; i < 5; i++ {
		_, err := f.m.RebuildAll(f.ctx)
		require.NoError(t, err)
		_, err = f.m.OnExpenseCreated(f.ctx, f.append(testutil.Expense(fmt.Sprintf("exp-%d", i), "3", 30+i)))
		require.NoError(t, err)
	}
	wg.Wait()
	f.requireConsistent()
}
