package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/moneyage/internal/ledger"
)

func testPools() []ledger.ResourcePool {
	// Deliberately out of order.
	return []ledger.ResourcePool{
		ledger.NewPool(income("c", 5, "30", 3)),
		ledger.NewPool(income("a", 1, "50", 1)),
		ledger.NewPool(income("b", 3, "20", 2)),
	}
}

func drawTotal(draws []Draw) decimal.Decimal {
	sum := decimal.Zero
	for _, d := range draws {
		sum = sum.Add(d.Amount)
	}
	return sum
}

func TestFIFO_Allocate(t *testing.T) {
	draws := FIFO{}.Allocate(testPools(), dec("60"))
	require.Len(t, draws, 2)
	assert.Equal(t, ledger.PoolID("a"), draws[0].PoolID)
	assert.True(t, draws[0].Amount.Equal(dec("50")))
	assert.Equal(t, ledger.PoolID("b"), draws[1].PoolID)
	assert.True(t, draws[1].Amount.Equal(dec("10")))
}

func TestLIFO_Allocate(t *testing.T) {
	draws := LIFO{}.Allocate(testPools(), dec("40"))
	require.Len(t, draws, 2)
	assert.Equal(t, ledger.PoolID("c"), draws[0].PoolID)
	assert.True(t, draws[0].Amount.Equal(dec("30")))
	assert.Equal(t, ledger.PoolID("b"), draws[1].PoolID)
	assert.True(t, draws[1].Amount.Equal(dec("10")))
}

func TestProportional_Allocate(t *testing.T) {
	// Shares of 10 over 50/20/30 are 5, 2 and 3.
	draws := Proportional{}.Allocate(testPools(), dec("10"))
	require.Len(t, draws, 3)
	assert.True(t, draws[0].Amount.Equal(dec("5")))
	assert.True(t, draws[1].Amount.Equal(dec("2")))
	assert.True(t, draws[2].Amount.Equal(dec("3")))
}

func TestProportional_RemainderGoesToOldest(t *testing.T) {
	pools := []ledger.ResourcePool{
		ledger.NewPool(income("a", 1, "1", 1)),
		ledger.NewPool(income("b", 2, "1", 2)),
		ledger.NewPool(income("c", 3, "1", 3)),
	}
	// 1/3 of 1.00 truncates to 0.33 each; the leftover cent goes to "a".
	draws := Proportional{}.Allocate(pools, dec("1"))
	require.Len(t, draws, 3)
	assert.Equal(t, ledger.PoolID("a"), draws[0].PoolID)
	assert.True(t, draws[0].Amount.Equal(dec("0.34")))
	assert.True(t, draws[1].Amount.Equal(dec("0.33")))
	assert.True(t, draws[2].Amount.Equal(dec("0.33")))
	assert.True(t, drawTotal(draws).Equal(dec("1")))
}

func TestStrategies_CapAtAvailable(t *testing.T) {
	for _, s := range []Strategy{FIFO{}, LIFO{}, Proportional{}} {
		t.Run(s.Name(), func(t *testing.T) {
			draws := s.Allocate(testPools(), dec("500"))
			assert.True(t, drawTotal(draws).Equal(dec("100")))
			assert.Empty(t, s.Allocate(nil, dec("5")))
		})
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", StrategyFIFO},
		{"FIFO", StrategyFIFO},
		{"lifo", StrategyLIFO},
		{"proportional", StrategyProportional},
		{"weighted_average", StrategyProportional},
	}
	for _, tt := range tests {
		s, err := ParseStrategy(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, s.Name())
	}

	_, err := ParseStrategy("random")
	assert.Error(t, err)
}

func TestEngine_WithStrategy(t *testing.T) {
	e := New(WithStrategy(LIFO{}))
	st := NewState()
	mustIncome(t, e, st, income("old", 0, "50", 1))
	mustIncome(t, e, st, income("new", 5, "50", 2))

	res := mustExpense(t, e, st, expense("exp", 6, "10", 3))
	require.Len(t, res.Consumptions, 1)
	assert.Equal(t, ledger.PoolID("new"), res.Consumptions[0].ResourcePoolID)
	assert.Equal(t, StrategyLIFO, e.Strategy().Name())
}

type badStrategy struct{ draws []Draw }

func (badStrategy) Name() string { return "bad" }

func (b badStrategy) Allocate([]ledger.ResourcePool, decimal.Decimal) []Draw { return b.draws }

func TestProcessExpense_RejectsInvalidPlans(t *testing.T) {
	poolID := ledger.PoolID("inc")
	plans := map[string][]Draw{
		"unknown pool": {{PoolID: "ghost", Amount: dec("1")}},
		"overdraw":     {{PoolID: poolID, Amount: dec("11")}},
		"twice":        {{PoolID: poolID, Amount: dec("1")}, {PoolID: poolID, Amount: dec("1")}},
		"too much":     {{PoolID: poolID, Amount: dec("6")}},
	}
	for name, plan := range plans {
		t.Run(name, func(t *testing.T) {
			e := New(WithStrategy(badStrategy{draws: plan}))
			st := NewState()
			mustIncome(t, e, st, income("inc", 0, "10", 1))

			_, err := e.ProcessExpense(st, expense("exp", 1, "5", 2))
			require.Error(t, err)
			assert.True(t, IsInvariantViolation(err))
			assert.False(t, st.HasExpense("exp"))
			requireConserved(t, st)
		})
	}
}
