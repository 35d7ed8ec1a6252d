package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/moneyage/internal/ledger"
)

// DeficitPolicy decides what happens when an expense exceeds the money held.
type DeficitPolicy string

const (
	// DeficitRecord draws the shortfall from the unfunded sentinel pool.
	DeficitRecord DeficitPolicy = "record"
	// DeficitReject refuses the expense with ErrInsufficientFunds.
	DeficitReject DeficitPolicy = "reject"
)

// ParseDeficitPolicy parses a policy name. The empty string means DeficitRecord.
func ParseDeficitPolicy(s string) (DeficitPolicy, error) {
	switch DeficitPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", DeficitRecord:
		return DeficitRecord, nil
	case DeficitReject:
		return DeficitReject, nil
	default:
		return "", fmt.Errorf("unknown deficit policy %q: must be record or reject", s)
	}
}

// Engine is the allocation engine.
//
// Engine holds policy only. All state lives in the *State passed to each
// method, so a single Engine can serve the live ledger and any number of
// simulations.
//
// Thread-safety: Engine is immutable after New and safe for concurrent use.
// The State arguments are not.
type Engine struct {
	strategy   Strategy
	deficit    DeficitPolicy
	thresholds ledger.Thresholds
}

// Option configures an Engine.
type Option func(*Engine)

// WithStrategy sets the consumption strategy. Default: FIFO.
func WithStrategy(s Strategy) Option {
	return func(e *Engine) {
		if s != nil {
			e.strategy = s
		}
	}
}

// WithDeficitPolicy sets the shortfall policy. Default: DeficitRecord.
func WithDeficitPolicy(p DeficitPolicy) Option {
	return func(e *Engine) {
		e.deficit = p
	}
}

// WithThresholds sets the health level boundaries. Default: 30/60 days.
func WithThresholds(th ledger.Thresholds) Option {
	return func(e *Engine) {
		e.thresholds = th
	}
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		strategy:   FIFO{},
		deficit:    DeficitRecord,
		thresholds: ledger.DefaultThresholds,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Strategy returns the active consumption strategy.
func (e *Engine) Strategy() Strategy { return e.strategy }

// DeficitPolicy returns the active shortfall policy.
func (e *Engine) DeficitPolicy() DeficitPolicy { return e.deficit }

// Thresholds returns the health level boundaries.
func (e *Engine) Thresholds() ledger.Thresholds { return e.thresholds }

// Validate checks that tx has the wanted type and a positive amount.
func Validate(tx ledger.Transaction, want ledger.TransactionType) error {
	if tx.Type != want {
		return newError(ErrCodeInvalidTransactionType, tx.ID, "",
			"expected %s transaction, got %q", want, tx.Type)
	}
	if !tx.Amount.IsPositive() {
		return newError(ErrCodeInvalidAmount, tx.ID, "",
			"%s amount %s must be positive", want, tx.Amount)
	}
	return nil
}

// ProcessIncome creates the pool of an income transaction.
func (e *Engine) ProcessIncome(st *State, tx ledger.Transaction) (ledger.ResourcePool, error) {
	if err := Validate(tx, ledger.TypeIncome); err != nil {
		return ledger.ResourcePool{}, err
	}
	pool := ledger.NewPool(tx)
	if _, exists := st.pools[pool.ID]; exists {
		return ledger.ResourcePool{}, newError(ErrCodeDuplicateTransaction, tx.ID, pool.ID,
			"income already has a pool")
	}
	st.pools[pool.ID] = &pool
	return pool, nil
}

// ProcessExpense draws an expense from the pools chosen by the active strategy.
//
// On success every draw has been applied to st and the result carries the
// consumptions, the touched pools after the draw and the amount-weighted age of
// the expense. On error st is unchanged, except for invariant violations where
// the caller must rebuild anyway.
func (e *Engine) ProcessExpense(st *State, tx ledger.Transaction) (ledger.MoneyAgeResult, error) {
	if err := Validate(tx, ledger.TypeExpense); err != nil {
		return ledger.MoneyAgeResult{}, err
	}
	if st.HasExpense(tx.ID) {
		return ledger.MoneyAgeResult{}, newError(ErrCodeDuplicateTransaction, tx.ID, "",
			"expense already has consumptions")
	}

	var candidates []ledger.ResourcePool
	for _, p := range st.pools {
		if !p.Unfunded && p.IsActive() {
			candidates = append(candidates, *p)
		}
	}
	draws := e.strategy.Allocate(candidates, tx.Amount)
	drawn, err := checkDraws(st, tx, draws)
	if err != nil {
		return ledger.MoneyAgeResult{}, err
	}

	shortfall := tx.Amount.Sub(drawn)
	if shortfall.IsPositive() && e.deficit == DeficitReject {
		return ledger.MoneyAgeResult{}, newError(ErrCodeInsufficientFunds, tx.ID, "",
			"expense %s exceeds available %s by %s", tx.Amount, drawn, shortfall)
	}

	touched := make([]*ledger.ResourcePool, 0, len(draws)+1)
	consumptions := make([]ledger.ResourceConsumption, 0, len(draws)+1)
	for _, d := range draws {
		pool := st.pools[d.PoolID]
		pool.RemainingAmount = pool.RemainingAmount.Sub(d.Amount)
		pool.ConsumedAmount = pool.ConsumedAmount.Add(d.Amount)
		c := ledger.NewConsumption(tx, *pool, d.Amount)
		st.addConsumption(c)
		consumptions = append(consumptions, c)
		touched = append(touched, pool)
	}
	if shortfall.IsPositive() {
		pool := st.unfundedPool()
		pool.OriginalAmount = pool.OriginalAmount.Add(shortfall)
		pool.ConsumedAmount = pool.ConsumedAmount.Add(shortfall)
		c := ledger.NewConsumption(tx, *pool, shortfall)
		st.addConsumption(c)
		consumptions = append(consumptions, c)
		touched = append(touched, pool)
	}

	result := ledger.MoneyAgeResult{
		TransactionID: tx.ID,
		Consumptions:  consumptions,
		Shortfall:     decimal.Max(shortfall, decimal.Zero),
	}
	for _, p := range touched {
		st.refreshPool(p)
		if err := p.CheckConservation(); err != nil {
			return ledger.MoneyAgeResult{}, newError(ErrCodeConservation, tx.ID, p.ID, "%v", err)
		}
		result.Pools = append(result.Pools, *p)
	}
	result.AgeDays, result.Exact = expenseAge(consumptions)
	result.Level = e.thresholds.Level(result.AgeDays)
	return result, nil
}

// checkDraws validates a strategy's plan against the arena before anything is applied.
func checkDraws(st *State, tx ledger.Transaction, draws []Draw) (decimal.Decimal, error) {
	total := decimal.Zero
	seen := make(map[string]struct{}, len(draws))
	for _, d := range draws {
		pool, ok := st.pools[d.PoolID]
		if !ok || pool.Unfunded {
			return decimal.Zero, newError(ErrCodePoolNotFound, tx.ID, d.PoolID,
				"strategy drew from an unknown pool")
		}
		if _, dup := seen[d.PoolID]; dup {
			return decimal.Zero, newError(ErrCodeConservation, tx.ID, d.PoolID,
				"pool drawn twice for one expense")
		}
		seen[d.PoolID] = struct{}{}
		if !d.Amount.IsPositive() || d.Amount.GreaterThan(pool.RemainingAmount) {
			return decimal.Zero, newError(ErrCodeConservation, tx.ID, d.PoolID,
				"draw of %s does not fit remaining %s", d.Amount, pool.RemainingAmount)
		}
		total = total.Add(d.Amount)
	}
	if total.GreaterThan(tx.Amount) {
		return decimal.Zero, newError(ErrCodeConservation, tx.ID, "",
			"draws total %s exceed expense %s", total, tx.Amount)
	}
	return total, nil
}

// RestoreResult describes the effect of restoring an expense.
type RestoreResult struct {
	// Pools are the touched pools after restoration.
	Pools []ledger.ResourcePool `json:"pools,omitempty"`
	// RemovedPools lists pools deleted because they became empty (the unfunded sentinel).
	RemovedPools []string `json:"removed_pools,omitempty"`
	// Consumptions are the records that were deleted.
	Consumptions []ledger.ResourceConsumption `json:"consumptions,omitempty"`
}

// RestoreExpense undoes every draw of an expense and deletes its consumptions.
//
// Returns ErrConsumptionNotFound if the expense has no consumptions and
// ErrPoolNotFound if one references a pool that no longer exists. In both
// cases st is unchanged.
func (e *Engine) RestoreExpense(st *State, expenseID string) (RestoreResult, error) {
	cons := st.ConsumptionsFor(expenseID)
	if len(cons) == 0 {
		return RestoreResult{}, newError(ErrCodeConsumptionNotFound, expenseID, "",
			"no consumptions to restore")
	}
	for _, c := range cons {
		if _, ok := st.pools[c.ResourcePoolID]; !ok {
			return RestoreResult{}, newError(ErrCodePoolNotFound, expenseID, c.ResourcePoolID,
				"consumption %s references missing pool", c.ID)
		}
	}

	touched := make(map[string]*ledger.ResourcePool)
	for _, c := range cons {
		pool := st.pools[c.ResourcePoolID]
		if pool.Unfunded {
			pool.OriginalAmount = pool.OriginalAmount.Sub(c.Amount)
		} else {
			pool.RemainingAmount = pool.RemainingAmount.Add(c.Amount)
		}
		pool.ConsumedAmount = pool.ConsumedAmount.Sub(c.Amount)
		st.removeConsumption(c.ID)
		touched[pool.ID] = pool
	}

	result := RestoreResult{Consumptions: cons}
	for _, pool := range touched {
		st.refreshPool(pool)
		if err := pool.CheckConservation(); err != nil {
			return RestoreResult{}, newError(ErrCodeConservation, expenseID, pool.ID, "%v", err)
		}
		if pool.Unfunded && pool.OriginalAmount.IsZero() {
			delete(st.pools, pool.ID)
			result.RemovedPools = append(result.RemovedPools, pool.ID)
			continue
		}
		result.Pools = append(result.Pools, *pool)
	}
	sortPools(result.Pools)
	return result, nil
}

// RestoreIncome deletes an untouched pool.
//
// A pool that has been drawn from cannot be removed locally: its consumptions
// would have to be re-derived, so the call fails with ErrPoolInUse and the
// caller must rebuild.
func (e *Engine) RestoreIncome(st *State, poolID string) (ledger.ResourcePool, error) {
	pool, ok := st.pools[poolID]
	if !ok {
		return ledger.ResourcePool{}, newError(ErrCodePoolNotFound, "", poolID, "pool not found")
	}
	if pool.Unfunded || !pool.ConsumedAmount.IsZero() || len(st.byPool[poolID]) > 0 {
		return ledger.ResourcePool{}, newError(ErrCodePoolInUse, pool.IncomeTransactionID, poolID,
			"pool has consumed %s", pool.ConsumedAmount)
	}
	removed := *pool
	delete(st.pools, poolID)
	return removed, nil
}

// Apply dispatches a transaction to ProcessIncome or ProcessExpense.
func (e *Engine) Apply(st *State, tx ledger.Transaction) error {
	switch tx.Type {
	case ledger.TypeIncome:
		_, err := e.ProcessIncome(st, tx)
		return err
	case ledger.TypeExpense:
		_, err := e.ProcessExpense(st, tx)
		return err
	default:
		return newError(ErrCodeInvalidTransactionType, tx.ID, "", "unknown transaction type %q", tx.Type)
	}
}

// MoneyAge returns the current money age of st.
func (e *Engine) MoneyAge(st *State, now time.Time) ledger.MoneyAge {
	return st.MoneyAge(now, e.thresholds)
}

// unfundedPool returns the sentinel pool, creating it on first use.
func (s *State) unfundedPool() *ledger.ResourcePool {
	if p, ok := s.pools[ledger.PoolIDUnfunded]; ok {
		return p
	}
	p := ledger.NewUnfundedPool()
	s.pools[p.ID] = &p
	return &p
}

// expenseAge is the amount-weighted age of a set of consumptions.
func expenseAge(cons []ledger.ResourceConsumption) (int, decimal.Decimal) {
	weighted := decimal.Zero
	total := decimal.Zero
	for _, c := range cons {
		weighted = weighted.Add(c.Amount.Mul(decimal.NewFromInt(int64(c.AgeDays))))
		total = total.Add(c.Amount)
	}
	return ledger.WeightedAge(weighted, total)
}
