package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/moneyage/internal/ledger"
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testDay(n int) time.Time {
	return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func testTx(id string, typ ledger.TransactionType, amount string, day int) ledger.Transaction {
	return ledger.Transaction{
		ID:     id,
		Type:   typ,
		Amount: decimal.RequireFromString(amount),
		Date:   testDay(day),
	}
}

// testLedger returns one pool drawn once, plus the unfunded sentinel.
func testLedger() ([]ledger.ResourcePool, []ledger.ResourceConsumption) {
	inc := testTx("inc-1", ledger.TypeIncome, "100.50", 0)
	inc.Seq = 1
	exp := testTx("exp-1", ledger.TypeExpense, "40.25", 3)
	exp.Seq = 2

	pool := ledger.NewPool(inc)
	pool.RemainingAmount = decimal.RequireFromString("60.25")
	pool.ConsumedAmount = decimal.RequireFromString("40.25")
	first := exp.Date
	pool.FirstConsumedAt = &first
	pool.LastConsumedAt = &first
	pool.ConsumptionCount = 1

	unfunded := ledger.NewUnfundedPool()
	cons := ledger.NewConsumption(exp, pool, decimal.RequireFromString("40.25"))
	return []ledger.ResourcePool{unfunded, pool}, []ledger.ResourceConsumption{cons}
}
