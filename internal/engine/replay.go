package engine

import (
	"cmp"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/roach88/moneyage/internal/ledger"
)

// Replay and determinism
//
// A full rebuild is a replay of the whole transaction log through the same
// ProcessIncome/ProcessExpense code path used for live events. Three things make
// the result depend only on the log:
//
//  1. Order. Transactions are applied by (Date ASC, Seq ASC). Seq is assigned by
//     the log on insert and never changes, so equal dates have a stable order.
//  2. Ids. Pool and consumption ids are name-based UUIDs of the transaction ids,
//     never random.
//  3. Derived fields. First/last consumption, count and fully consumed date are
//     recomputed from the consumptions after every change, never accumulated.
//
// Replaying the same log twice therefore yields identical State.Digest values.

// ReplaySummary counts what a replay produced.
type ReplaySummary struct {
	Transactions int
	Skipped      int
	Pools        int
	Consumptions int
	Unfunded     decimal.Decimal
}

// SortForReplay orders transactions by (Date ASC, Seq ASC, ID ASC) in place.
func SortForReplay(txs []ledger.Transaction) {
	slices.SortFunc(txs, func(a, b ledger.Transaction) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Seq, b.Seq); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// Replay applies txs to st in replay order.
//
// Precondition errors (a zero amount, a duplicate id) reject a single
// transaction; they are reported through skip and the replay continues. Any
// other error aborts the replay and is returned; st is then partially built and
// must be discarded.
func (e *Engine) Replay(st *State, txs []ledger.Transaction, skip func(ledger.Transaction, error)) (ReplaySummary, error) {
	ordered := slices.Clone(txs)
	SortForReplay(ordered)

	var sum ReplaySummary
	for _, tx := range ordered {
		if err := e.Apply(st, tx); err != nil {
			if !IsPrecondition(err) {
				return sum, err
			}
			sum.Skipped++
			if skip != nil {
				skip(tx, err)
			}
			continue
		}
		sum.Transactions++
	}

	sum.Unfunded = decimal.Zero
	for _, p := range st.pools {
		if p.Unfunded {
			sum.Unfunded = p.OriginalAmount
			continue
		}
		sum.Pools++
	}
	sum.Consumptions = len(st.consumptions)
	return sum, nil
}
