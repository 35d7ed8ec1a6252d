package consistency

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/moneyage/internal/engine"
	"github.com/roach88/moneyage/internal/ledger"
)

// reconcile checks the restored ledger against the transaction log and
// returns the expenses DeficitReject refused.
//
// A log write whose ledger update never landed leaves the two apart even
// though the ledger verifies on its own. Every pool and consumption must match
// a logged transaction. Logged transactions absent from the ledger are
// legitimate only when a replay skips them too, so a replay decides those.
func (m *Manager) reconcile(txs []ledger.Transaction) ([]refusedExpense, error) {
	logged := make(map[string]struct{}, len(txs))
	missing := 0
	for _, tx := range txs {
		logged[tx.ID] = struct{}{}
		switch tx.Type {
		case ledger.TypeIncome:
			pool, ok := m.state.Pool(ledger.PoolID(tx.ID))
			if !ok {
				missing++
				continue
			}
			if !pool.OriginalAmount.Equal(tx.Amount) || !sameKey(pool.Key(), tx.Key()) {
				return nil, fmt.Errorf("pool %s does not match income %s", pool.ID, tx.ID)
			}
		case ledger.TypeExpense:
			if !m.state.HasExpense(tx.ID) {
				missing++
				continue
			}
			drawn := decimal.Zero
			for _, c := range m.state.ConsumptionsFor(tx.ID) {
				if !sameKey(c.Key(), tx.Key()) {
					return nil, fmt.Errorf("consumption %s does not match expense %s", c.ID, tx.ID)
				}
				drawn = drawn.Add(c.Amount)
			}
			if !drawn.Equal(tx.Amount) {
				return nil, fmt.Errorf("expense %s drew %s of %s", tx.ID, drawn, tx.Amount)
			}
		}
	}
	for _, p := range m.state.Pools() {
		if p.Unfunded {
			continue
		}
		if _, ok := logged[p.IncomeTransactionID]; !ok {
			return nil, fmt.Errorf("pool %s has no income in the log", p.ID)
		}
	}
	for _, c := range m.state.Consumptions() {
		if _, ok := logged[c.ExpenseTransactionID]; !ok {
			return nil, fmt.Errorf("consumption %s has no expense in the log", c.ID)
		}
	}
	if missing == 0 {
		return nil, nil
	}

	fresh := engine.NewState()
	var refused []refusedExpense
	_, err := m.engine.Replay(fresh, txs, func(tx ledger.Transaction, err error) {
		if tx.Type == ledger.TypeExpense && engine.IsInsufficientFunds(err) {
			refused = append(refused, refusedExpense{id: tx.ID, key: tx.Key()})
		}
	})
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	want, err := fresh.Digest()
	if err != nil {
		return nil, err
	}
	got, err := m.state.Digest()
	if err != nil {
		return nil, err
	}
	if got != want {
		return nil, fmt.Errorf("%d logged transactions missing from the ledger", missing)
	}
	return refused, nil
}

func sameKey(a, b ledger.OrderKey) bool {
	return a.Date.Equal(b.Date) && a.Seq == b.Seq
}
