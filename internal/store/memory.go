package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/moneyage/internal/ledger"
)

// Memory is an in-process implementation of the Store contract.
//
// It keeps the same ordering and constraint rules as the SQLite store
// (consumptions must reference a pool, transaction ids are unique, the change
// log is bounded) and is used by tests and by throwaway simulations.
//
// Thread-safety: Memory is safe for concurrent use via internal mutex.
type Memory struct {
	mu           sync.Mutex
	seq          int64
	changeSeq    int64
	transactions map[string]ledger.Transaction
	pools        map[string]ledger.ResourcePool
	consumptions map[string]ledger.ResourceConsumption
	changes      []ledger.ResourcePoolChange
	snapshots    map[string]ledger.MoneyAgeSnapshot
	pending      bool
	reason       string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[string]ledger.Transaction),
		pools:        make(map[string]ledger.ResourcePool),
		consumptions: make(map[string]ledger.ResourceConsumption),
		snapshots:    make(map[string]ledger.MoneyAgeSnapshot),
	}
}

func (m *Memory) AppendTransaction(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transactions[tx.ID]; ok {
		return ledger.Transaction{}, fmt.Errorf("append transaction %s: %w", tx.ID, ErrDuplicateID)
	}
	m.seq++
	tx.Seq = m.seq
	tx.Date = tx.Date.UTC()
	m.transactions[tx.ID] = tx
	return tx, nil
}

func (m *Memory) UpdateTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.transactions[tx.ID]
	if !ok {
		return fmt.Errorf("update transaction %s: %w", tx.ID, ErrNotFound)
	}
	tx.Seq = old.Seq
	tx.Date = tx.Date.UTC()
	m.transactions[tx.ID] = tx
	return nil
}

func (m *Memory) DeleteTransaction(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transactions[id]; !ok {
		return fmt.Errorf("delete transaction %s: %w", id, ErrNotFound)
	}
	delete(m.transactions, id)
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id string) (ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[id]
	if !ok {
		return ledger.Transaction{}, fmt.Errorf("get transaction %s: %w", id, ErrNotFound)
	}
	return tx, nil
}

func (m *Memory) AllTransactions(_ context.Context) ([]ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txs := make([]ledger.Transaction, 0, len(m.transactions))
	for _, tx := range m.transactions {
		txs = append(txs, tx)
	}
	slices.SortFunc(txs, func(a, b ledger.Transaction) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	return txs, nil
}

func (m *Memory) Load(_ context.Context) ([]ledger.ResourcePool, []ledger.ResourceConsumption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pools := make([]ledger.ResourcePool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	slices.SortFunc(pools, func(a, b ledger.ResourcePool) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Seq, b.Seq); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	cons := make([]ledger.ResourceConsumption, 0, len(m.consumptions))
	for _, c := range m.consumptions {
		cons = append(cons, c)
	}
	slices.SortFunc(cons, func(a, b ledger.ResourceConsumption) int {
		if c := a.ConsumedAt.Compare(b.ConsumedAt); c != 0 {
			return c
		}
		if c := cmp.Compare(a.ExpenseSeq, b.ExpenseSeq); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return pools, cons, nil
}

func (m *Memory) SavePool(_ context.Context, p ledger.ResourcePool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[p.ID] = p
	return nil
}

func (m *Memory) DeletePool(_ context.Context, poolID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.consumptions {
		if c.ResourcePoolID == poolID {
			return fmt.Errorf("delete pool %s: referenced by consumption %s", poolID, c.ID)
		}
	}
	delete(m.pools, poolID)
	return nil
}

func (m *Memory) SaveConsumption(_ context.Context, c ledger.ResourceConsumption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pools[c.ResourcePoolID]; !ok {
		return fmt.Errorf("save consumption %s: pool %s does not exist", c.ID, c.ResourcePoolID)
	}
	m.consumptions[c.ID] = c
	return nil
}

func (m *Memory) DeleteConsumption(_ context.Context, consumptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.consumptions, consumptionID)
	return nil
}

func (m *Memory) ClearAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.consumptions)
	clear(m.pools)
	return nil
}

func (m *Memory) AppendChangeLog(_ context.Context, ch ledger.ResourcePoolChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changeSeq++
	ch.ID = m.changeSeq
	m.changes = append(m.changes, ch)
	if over := len(m.changes) - ledger.ChangeLogLimit; over > 0 {
		m.changes = slices.Delete(m.changes, 0, over)
	}
	return nil
}

func (m *Memory) ChangeHistory(_ context.Context, limit int) ([]ledger.ResourcePoolChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Clone(m.changes)
	slices.Reverse(out)
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) SaveSnapshot(_ context.Context, snap ledger.MoneyAgeSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap.Date = ledger.StartOfDay(snap.Date)
	m.snapshots[ledger.FormatTime(snap.Date)] = snap
	return nil
}

func (m *Memory) ListSnapshots(_ context.Context, limit int) ([]ledger.MoneyAgeSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ledger.MoneyAgeSnapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b ledger.MoneyAgeSnapshot) int { return b.Date.Compare(a.Date) })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) SetPendingRebuild(_ context.Context, pending bool, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = pending
	m.reason = reason
	if !pending {
		m.reason = ""
	}
	return nil
}

func (m *Memory) PendingRebuild(_ context.Context) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending, m.reason, nil
}
