package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/moneyage/internal/ledger"
)

// Amounts are bound as decimal.Decimal, which implements driver.Valuer and
// sql.Scanner with a TEXT representation, so no float ever reaches SQLite.

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// nullableTime renders an optional timestamp for a nullable TEXT column.
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: ledger.FormatTime(*t), Valid: true}
}

// parseNullableTime is the inverse of nullableTime.
func parseNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := ledger.ParseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const poolColumns = `id, income_transaction_id, original_amount, remaining_amount, consumed_amount,
	created_at, seq, first_consumed_at, last_consumed_at, fully_consumed_at,
	consumption_count, unfunded`

func scanPool(row scanner) (ledger.ResourcePool, error) {
	var (
		p                  ledger.ResourcePool
		createdAt          string
		first, last, fully sql.NullString
	)
	if err := row.Scan(&p.ID, &p.IncomeTransactionID, &p.OriginalAmount, &p.RemainingAmount, &p.ConsumedAmount,
		&createdAt, &p.Seq, &first, &last, &fully, &p.ConsumptionCount, &p.Unfunded); err != nil {
		return ledger.ResourcePool{}, fmt.Errorf("scan pool: %w", err)
	}

	var err error
	if p.CreatedAt, err = ledger.ParseTime(createdAt); err != nil {
		return ledger.ResourcePool{}, fmt.Errorf("scan pool %s: %w", p.ID, err)
	}
	if p.FirstConsumedAt, err = parseNullableTime(first); err != nil {
		return ledger.ResourcePool{}, fmt.Errorf("scan pool %s: %w", p.ID, err)
	}
	if p.LastConsumedAt, err = parseNullableTime(last); err != nil {
		return ledger.ResourcePool{}, fmt.Errorf("scan pool %s: %w", p.ID, err)
	}
	if p.FullyConsumedAt, err = parseNullableTime(fully); err != nil {
		return ledger.ResourcePool{}, fmt.Errorf("scan pool %s: %w", p.ID, err)
	}
	return p, nil
}

const consumptionColumns = `id, resource_pool_id, expense_transaction_id, amount, consumed_at, expense_seq, age_days`

func scanConsumption(row scanner) (ledger.ResourceConsumption, error) {
	var (
		c          ledger.ResourceConsumption
		consumedAt string
	)
	if err := row.Scan(&c.ID, &c.ResourcePoolID, &c.ExpenseTransactionID, &c.Amount,
		&consumedAt, &c.ExpenseSeq, &c.AgeDays); err != nil {
		return ledger.ResourceConsumption{}, fmt.Errorf("scan consumption: %w", err)
	}
	t, err := ledger.ParseTime(consumedAt)
	if err != nil {
		return ledger.ResourceConsumption{}, fmt.Errorf("scan consumption %s: %w", c.ID, err)
	}
	c.ConsumedAt = t
	return c, nil
}

const transactionColumns = `seq, id, type, amount, date, note`

func scanTransaction(row scanner) (ledger.Transaction, error) {
	var (
		tx        ledger.Transaction
		typ, date string
	)
	if err := row.Scan(&tx.Seq, &tx.ID, &typ, &tx.Amount, &date, &tx.Note); err != nil {
		return ledger.Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}
	tx.Type = ledger.TransactionType(typ)
	t, err := ledger.ParseTime(date)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("scan transaction %s: %w", tx.ID, err)
	}
	tx.Date = t
	return tx, nil
}

func scanChange(row scanner) (ledger.ResourcePoolChange, error) {
	var (
		ch   ledger.ResourcePoolChange
		kind string
		at   string
	)
	if err := row.Scan(&ch.ID, &kind, &ch.PoolID, &ch.Delta, &ch.TransactionID, &at); err != nil {
		return ledger.ResourcePoolChange{}, fmt.Errorf("scan change: %w", err)
	}
	ch.Kind = ledger.ChangeKind(kind)
	t, err := ledger.ParseTime(at)
	if err != nil {
		return ledger.ResourcePoolChange{}, fmt.Errorf("scan change %d: %w", ch.ID, err)
	}
	ch.At = t
	return ch, nil
}

func scanSnapshot(row scanner) (ledger.MoneyAgeSnapshot, error) {
	var (
		s             ledger.MoneyAgeSnapshot
		date, takenAt string
		level         string
	)
	if err := row.Scan(&date, &s.MoneyAgeDays, &s.MoneyAge, &level, &s.TotalPools, &s.ActivePools,
		&s.TotalRemaining, &s.Expenses, &s.HealthCount, &s.WarningCount, &s.DangerCount, &takenAt); err != nil {
		return ledger.MoneyAgeSnapshot{}, fmt.Errorf("scan snapshot: %w", err)
	}
	s.Level = ledger.HealthLevel(level)
	var err error
	if s.Date, err = ledger.ParseTime(date); err != nil {
		return ledger.MoneyAgeSnapshot{}, fmt.Errorf("scan snapshot: %w", err)
	}
	if s.TakenAt, err = ledger.ParseTime(takenAt); err != nil {
		return ledger.MoneyAgeSnapshot{}, fmt.Errorf("scan snapshot: %w", err)
	}
	return s, nil
}
