package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ResourcePool is the traceable remainder of a single income as it is spent.
type ResourcePool struct {
	ID                  string          `json:"id"`
	IncomeTransactionID string          `json:"income_transaction_id"`
	OriginalAmount      decimal.Decimal `json:"original_amount"`
	RemainingAmount     decimal.Decimal `json:"remaining_amount"`
	ConsumedAmount      decimal.Decimal `json:"consumed_amount"`

	// CreatedAt is the income's effective date; with Seq it forms the FIFO key.
	CreatedAt time.Time `json:"created_at"`
	Seq       int64     `json:"seq"`

	FirstConsumedAt  *time.Time `json:"first_consumed_at,omitempty"`
	LastConsumedAt   *time.Time `json:"last_consumed_at,omitempty"`
	FullyConsumedAt  *time.Time `json:"fully_consumed_at,omitempty"`
	ConsumptionCount int        `json:"consumption_count"`

	// Unfunded marks the sentinel pool that absorbs expense shortfalls.
	Unfunded bool `json:"unfunded"`
}

// NewPool creates a pool for an income transaction with nothing consumed yet.
func NewPool(tx Transaction) ResourcePool {
	return ResourcePool{
		ID:                  PoolID(tx.ID),
		IncomeTransactionID: tx.ID,
		OriginalAmount:      tx.Amount,
		RemainingAmount:     tx.Amount,
		ConsumedAmount:      decimal.Zero,
		CreatedAt:           tx.Date.UTC(),
		Seq:                 tx.Seq,
	}
}

// NewUnfundedPool returns an empty sentinel pool.
func NewUnfundedPool() ResourcePool {
	return ResourcePool{
		ID:              PoolIDUnfunded,
		OriginalAmount:  decimal.Zero,
		RemainingAmount: decimal.Zero,
		ConsumedAmount:  decimal.Zero,
		Unfunded:        true,
	}
}

// Key returns the FIFO ordering key of the pool.
func (p ResourcePool) Key() OrderKey {
	return OrderKey{Date: p.CreatedAt.UTC(), Seq: p.Seq}
}

// IsActive reports whether the pool still holds money.
func (p ResourcePool) IsActive() bool {
	return p.RemainingAmount.IsPositive()
}

// IsFullyConsumed reports whether a real pool has been spent down to zero.
func (p ResourcePool) IsFullyConsumed() bool {
	return !p.Unfunded && p.RemainingAmount.IsZero() && p.ConsumedAmount.IsPositive()
}

// CheckConservation verifies Remaining + Consumed == Original with both parts >= 0.
func (p ResourcePool) CheckConservation() error {
	if p.RemainingAmount.IsNegative() {
		return fmt.Errorf("pool %s: remaining amount %s is negative", p.ID, p.RemainingAmount)
	}
	if p.ConsumedAmount.IsNegative() {
		return fmt.Errorf("pool %s: consumed amount %s is negative", p.ID, p.ConsumedAmount)
	}
	if !p.RemainingAmount.Add(p.ConsumedAmount).Equal(p.OriginalAmount) {
		return fmt.Errorf("pool %s: remaining %s + consumed %s != original %s",
			p.ID, p.RemainingAmount, p.ConsumedAmount, p.OriginalAmount)
	}
	return nil
}

// ResourceConsumption records one draw of an expense against one pool.
type ResourceConsumption struct {
	ID                   string          `json:"id"`
	ResourcePoolID       string          `json:"resource_pool_id"`
	ExpenseTransactionID string          `json:"expense_transaction_id"`
	Amount               decimal.Decimal `json:"amount"`
	ConsumedAt           time.Time       `json:"consumed_at"`
	ExpenseSeq           int64           `json:"expense_seq"`

	// AgeDays is the whole-day age of the money at the moment it was spent.
	AgeDays int `json:"age_days"`
}

// NewConsumption creates the consumption of amount from pool by the expense tx.
func NewConsumption(tx Transaction, pool ResourcePool, amount decimal.Decimal) ResourceConsumption {
	age := 0
	if !pool.Unfunded {
		age = AgeDays(pool.CreatedAt, tx.Date)
	}
	return ResourceConsumption{
		ID:                   ConsumptionID(tx.ID, pool.ID),
		ResourcePoolID:       pool.ID,
		ExpenseTransactionID: tx.ID,
		Amount:               amount,
		ConsumedAt:           tx.Date.UTC(),
		ExpenseSeq:           tx.Seq,
		AgeDays:              age,
	}
}

// Key returns the ordering key of the expense that produced the consumption.
func (c ResourceConsumption) Key() OrderKey {
	return OrderKey{Date: c.ConsumedAt.UTC(), Seq: c.ExpenseSeq}
}
