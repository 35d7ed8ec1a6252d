package engine

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/moneyage/internal/ledger"
)

// State is the in-memory arena of pools and consumptions.
//
// Thread-safety: State is not safe for concurrent mutation. The consistency
// manager serializes access; everything else works on clones.
type State struct {
	pools        map[string]*ledger.ResourcePool
	consumptions map[string]*ledger.ResourceConsumption
	byExpense    map[string]map[string]struct{}
	byPool       map[string]map[string]struct{}
}

// NewState creates an empty arena.
func NewState() *State {
	return &State{
		pools:        make(map[string]*ledger.ResourcePool),
		consumptions: make(map[string]*ledger.ResourceConsumption),
		byExpense:    make(map[string]map[string]struct{}),
		byPool:       make(map[string]map[string]struct{}),
	}
}

// Restore replaces the arena contents with the given pools and consumptions.
// Every consumption must reference a pool in the set; on error the arena is left empty.
func (s *State) Restore(pools []ledger.ResourcePool, consumptions []ledger.ResourceConsumption) error {
	s.Clear()
	for _, p := range pools {
		if _, dup := s.pools[p.ID]; dup {
			s.Clear()
			return fmt.Errorf("restore: duplicate pool %s", p.ID)
		}
		s.pools[p.ID] = &p
	}
	for _, c := range consumptions {
		if _, ok := s.pools[c.ResourcePoolID]; !ok {
			s.Clear()
			return newError(ErrCodePoolNotFound, c.ExpenseTransactionID, c.ResourcePoolID,
				"restore: consumption %s references missing pool", c.ID)
		}
		if _, dup := s.consumptions[c.ID]; dup {
			s.Clear()
			return fmt.Errorf("restore: duplicate consumption %s", c.ID)
		}
		s.addConsumption(c)
	}
	return nil
}

// Clear wipes the arena.
func (s *State) Clear() {
	clear(s.pools)
	clear(s.consumptions)
	clear(s.byExpense)
	clear(s.byPool)
}

// Clone returns a deep copy that shares nothing with s.
func (s *State) Clone() *State {
	c := NewState()
	for id, p := range s.pools {
		cp := *p
		cp.FirstConsumedAt = cloneTime(p.FirstConsumedAt)
		cp.LastConsumedAt = cloneTime(p.LastConsumedAt)
		cp.FullyConsumedAt = cloneTime(p.FullyConsumedAt)
		c.pools[id] = &cp
	}
	for _, cons := range s.consumptions {
		c.addConsumption(*cons)
	}
	return c
}

// Len returns the number of pools and consumptions.
func (s *State) Len() (pools, consumptions int) {
	return len(s.pools), len(s.consumptions)
}

// Pool returns a copy of the pool with the given id.
func (s *State) Pool(id string) (ledger.ResourcePool, bool) {
	p, ok := s.pools[id]
	if !ok {
		return ledger.ResourcePool{}, false
	}
	return *p, true
}

// HasExpense reports whether the expense has consumptions in the arena.
func (s *State) HasExpense(expenseID string) bool {
	return len(s.byExpense[expenseID]) > 0
}

// Pools returns all pools ordered by (CreatedAt, Seq, ID).
func (s *State) Pools() []ledger.ResourcePool {
	out := make([]ledger.ResourcePool, 0, len(s.pools))
	for _, p := range s.pools {
		out = append(out, *p)
	}
	slices.SortFunc(out, comparePools)
	return out
}

// Consumptions returns all consumptions ordered by expense key, then id.
func (s *State) Consumptions() []ledger.ResourceConsumption {
	out := make([]ledger.ResourceConsumption, 0, len(s.consumptions))
	for _, c := range s.consumptions {
		out = append(out, *c)
	}
	slices.SortFunc(out, compareConsumptions)
	return out
}

// ConsumptionsFor returns the consumptions of one expense.
func (s *State) ConsumptionsFor(expenseID string) []ledger.ResourceConsumption {
	return s.collect(s.byExpense[expenseID])
}

// ConsumptionsOfPool returns the consumptions drawn from one pool.
func (s *State) ConsumptionsOfPool(poolID string) []ledger.ResourceConsumption {
	return s.collect(s.byPool[poolID])
}

func (s *State) collect(ids map[string]struct{}) []ledger.ResourceConsumption {
	out := make([]ledger.ResourceConsumption, 0, len(ids))
	for id := range ids {
		out = append(out, *s.consumptions[id])
	}
	slices.SortFunc(out, compareConsumptions)
	return out
}

// Watermark is the latest processed position of the log, split by kind.
type Watermark struct {
	LastIncome  ledger.OrderKey
	LastExpense ledger.OrderKey
}

// Latest returns the later of the two keys.
func (w Watermark) Latest() ledger.OrderKey {
	return w.LastIncome.Later(w.LastExpense)
}

// Watermark returns the latest income and expense keys processed into the arena.
func (s *State) Watermark() Watermark {
	return s.WatermarkExcluding("")
}

// WatermarkExcluding is Watermark ignoring the consumptions of one expense.
func (s *State) WatermarkExcluding(expenseID string) Watermark {
	var w Watermark
	for _, p := range s.pools {
		if !p.Unfunded {
			w.LastIncome = w.LastIncome.Later(p.Key())
		}
	}
	for _, c := range s.consumptions {
		if c.ExpenseTransactionID != expenseID {
			w.LastExpense = w.LastExpense.Later(c.Key())
		}
	}
	return w
}

// IsLatestExpense reports whether no other processed expense sorts after this one.
func (s *State) IsLatestExpense(expenseID string) bool {
	cons := s.ConsumptionsFor(expenseID)
	if len(cons) == 0 {
		return false
	}
	other := s.WatermarkExcluding(expenseID).LastExpense
	return other.IsZero() || other.Before(cons[0].Key())
}

// NextSeq returns a sequence number after everything in the arena.
func (s *State) NextSeq() int64 {
	var hi int64
	for _, p := range s.pools {
		hi = max(hi, p.Seq)
	}
	for _, c := range s.consumptions {
		hi = max(hi, c.ExpenseSeq)
	}
	return hi + 1
}

// MoneyAge computes Σ(remaining_i × age_i) / Σ remaining_i as of now.
func (s *State) MoneyAge(now time.Time, th ledger.Thresholds) ledger.MoneyAge {
	weighted := decimal.Zero
	total := decimal.Zero
	for _, p := range s.pools {
		if p.Unfunded || !p.RemainingAmount.IsPositive() {
			continue
		}
		age := int64(ledger.AgeDays(p.CreatedAt, now))
		weighted = weighted.Add(p.RemainingAmount.Mul(decimal.NewFromInt(age)))
		total = total.Add(p.RemainingAmount)
	}
	days, exact := ledger.WeightedAge(weighted, total)
	return ledger.MoneyAge{
		Days:      days,
		Exact:     exact,
		Level:     th.Level(days),
		Remaining: total,
		AsOf:      now.UTC(),
	}
}

// Verify checks pool conservation and that each pool's consumed amount equals
// the sum of its consumptions.
func (s *State) Verify() error {
	for _, p := range s.Pools() {
		if err := p.CheckConservation(); err != nil {
			return newError(ErrCodeConservation, p.IncomeTransactionID, p.ID, "%v", err)
		}
		sum := decimal.Zero
		for id := range s.byPool[p.ID] {
			sum = sum.Add(s.consumptions[id].Amount)
		}
		if !sum.Equal(p.ConsumedAmount) {
			return newError(ErrCodeConservation, p.IncomeTransactionID, p.ID,
				"consumptions sum to %s but pool consumed %s", sum, p.ConsumedAmount)
		}
	}
	for _, c := range s.consumptions {
		if _, ok := s.pools[c.ResourcePoolID]; !ok {
			return newError(ErrCodePoolNotFound, c.ExpenseTransactionID, c.ResourcePoolID,
				"consumption %s references missing pool", c.ID)
		}
	}
	return nil
}

// Digest hashes the arena contents.
func (s *State) Digest() (string, error) {
	return ledger.Digest(s.Pools(), s.Consumptions())
}

func (s *State) addConsumption(c ledger.ResourceConsumption) {
	s.consumptions[c.ID] = &c
	index(s.byExpense, c.ExpenseTransactionID, c.ID)
	index(s.byPool, c.ResourcePoolID, c.ID)
}

func (s *State) removeConsumption(id string) {
	c, ok := s.consumptions[id]
	if !ok {
		return
	}
	unindex(s.byExpense, c.ExpenseTransactionID, id)
	unindex(s.byPool, c.ResourcePoolID, id)
	delete(s.consumptions, id)
}

// refreshPool recomputes the derived consumption fields of a pool from the
// consumptions that currently reference it.
func (s *State) refreshPool(p *ledger.ResourcePool) {
	p.ConsumptionCount = 0
	p.FirstConsumedAt = nil
	p.LastConsumedAt = nil
	p.FullyConsumedAt = nil

	var first, last ledger.OrderKey
	for id := range s.byPool[p.ID] {
		c := s.consumptions[id]
		p.ConsumptionCount++
		if first.IsZero() || c.Key().Before(first) {
			first = c.Key()
		}
		last = last.Later(c.Key())
	}
	if p.ConsumptionCount == 0 {
		return
	}
	p.FirstConsumedAt = cloneTime(&first.Date)
	p.LastConsumedAt = cloneTime(&last.Date)
	if !p.Unfunded && p.RemainingAmount.IsZero() {
		p.FullyConsumedAt = cloneTime(&last.Date)
	}
}

func index(m map[string]map[string]struct{}, key, id string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[id] = struct{}{}
}

func unindex(m map[string]map[string]struct{}, key, id string) {
	set := m[key]
	delete(set, id)
	if len(set) == 0 {
		delete(m, key)
	}
}

func sortPools(ps []ledger.ResourcePool) {
	slices.SortFunc(ps, comparePools)
}

func comparePools(a, b ledger.ResourcePool) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Seq, b.Seq); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func compareConsumptions(a, b ledger.ResourceConsumption) int {
	if c := a.ConsumedAt.Compare(b.ConsumedAt); c != 0 {
		return c
	}
	if c := cmp.Compare(a.ExpenseSeq, b.ExpenseSeq); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
