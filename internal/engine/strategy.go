package engine

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/roach88/moneyage/internal/ledger"
)

// Draw is one planned withdrawal from a pool.
type Draw struct {
	PoolID string
	Amount decimal.Decimal
}

// Strategy decides which pools an expense draws from.
//
// Allocate receives copies of every pool with money remaining, in no particular
// order, and returns at most one draw per pool. The draws must not exceed a
// pool's remaining amount and must sum to min(amount, total remaining).
type Strategy interface {
	Name() string
	Allocate(pools []ledger.ResourcePool, amount decimal.Decimal) []Draw
}

const (
	StrategyFIFO         = "fifo"
	StrategyLIFO         = "lifo"
	StrategyProportional = "proportional"
)

// ParseStrategy returns the strategy registered under name.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", StrategyFIFO:
		return FIFO{}, nil
	case StrategyLIFO:
		return LIFO{}, nil
	case StrategyProportional, "weighted_average":
		return Proportional{}, nil
	default:
		return nil, fmt.Errorf("unknown consumption strategy %q", name)
	}
}

// FIFO spends the oldest money first.
type FIFO struct{}

func (FIFO) Name() string { return StrategyFIFO }

func (FIFO) Allocate(pools []ledger.ResourcePool, amount decimal.Decimal) []Draw {
	ordered := slices.Clone(pools)
	slices.SortFunc(ordered, comparePools)
	return greedy(ordered, amount)
}

// LIFO spends the newest money first.
type LIFO struct{}

func (LIFO) Name() string { return StrategyLIFO }

func (LIFO) Allocate(pools []ledger.ResourcePool, amount decimal.Decimal) []Draw {
	ordered := slices.Clone(pools)
	slices.SortFunc(ordered, func(a, b ledger.ResourcePool) int { return comparePools(b, a) })
	return greedy(ordered, amount)
}

// Proportional spreads an expense across all pools by their share of the money
// held. Shares are truncated to cents; the leftover cents go to the oldest pools.
type Proportional struct{}

func (Proportional) Name() string { return StrategyProportional }

func (Proportional) Allocate(pools []ledger.ResourcePool, amount decimal.Decimal) []Draw {
	ordered := slices.Clone(pools)
	slices.SortFunc(ordered, comparePools)

	total := decimal.Zero
	for _, p := range ordered {
		total = total.Add(p.RemainingAmount)
	}
	if !total.IsPositive() {
		return nil
	}
	if amount.GreaterThanOrEqual(total) {
		return greedy(ordered, total)
	}

	shares := make([]decimal.Decimal, len(ordered))
	allocated := decimal.Zero
	for i, p := range ordered {
		share := p.RemainingAmount.Mul(amount).Div(total).Truncate(2)
		share = decimal.Min(share, p.RemainingAmount)
		shares[i] = share
		allocated = allocated.Add(share)
	}

	leftover := amount.Sub(allocated)
	for i, p := range ordered {
		if !leftover.IsPositive() {
			break
		}
		room := p.RemainingAmount.Sub(shares[i])
		extra := decimal.Min(room, leftover)
		shares[i] = shares[i].Add(extra)
		leftover = leftover.Sub(extra)
	}

	draws := make([]Draw, 0, len(ordered))
	for i, p := range ordered {
		if shares[i].IsPositive() {
			draws = append(draws, Draw{PoolID: p.ID, Amount: shares[i]})
		}
	}
	return draws
}

// greedy drains pools in the given order until amount is matched.
func greedy(ordered []ledger.ResourcePool, amount decimal.Decimal) []Draw {
	var draws []Draw
	left := amount
	for _, p := range ordered {
		if !left.IsPositive() {
			break
		}
		take := decimal.Min(p.RemainingAmount, left)
		if !take.IsPositive() {
			continue
		}
		draws = append(draws, Draw{PoolID: p.ID, Amount: take})
		left = left.Sub(take)
	}
	return draws
}
