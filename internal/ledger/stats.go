package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Statistics summarises the ledger at a point in time.
type Statistics struct {
	AsOf time.Time `json:"as_of"`

	TotalPools         int `json:"total_pools"`
	ActivePools        int `json:"active_pools"`
	FullyConsumedPools int `json:"fully_consumed_pools"`
	Consumptions       int `json:"consumptions"`
	Expenses           int `json:"expenses"`

	TotalOriginal  decimal.Decimal `json:"total_original"`
	TotalRemaining decimal.Decimal `json:"total_remaining"`
	TotalConsumed  decimal.Decimal `json:"total_consumed"`
	TotalUnfunded  decimal.Decimal `json:"total_unfunded"`

	MoneyAge MoneyAge `json:"money_age"`

	// Per-expense age distribution in days.
	AverageExpenseAge decimal.Decimal `json:"average_expense_age"`
	MedianExpenseAge  int             `json:"median_expense_age"`
	MinExpenseAge     int             `json:"min_expense_age"`
	MaxExpenseAge     int             `json:"max_expense_age"`

	HealthCount  int `json:"health_count"`
	WarningCount int `json:"warning_count"`
	DangerCount  int `json:"danger_count"`
}

// MoneyAgeSnapshot is a dated capture of the ledger statistics, kept for trend history.
type MoneyAgeSnapshot struct {
	Date           time.Time       `json:"date"`
	MoneyAgeDays   int             `json:"money_age_days"`
	MoneyAge       decimal.Decimal `json:"money_age"`
	Level          HealthLevel     `json:"level"`
	TotalPools     int             `json:"total_pools"`
	ActivePools    int             `json:"active_pools"`
	TotalRemaining decimal.Decimal `json:"total_remaining"`
	Expenses       int             `json:"expenses"`
	HealthCount    int             `json:"health_count"`
	WarningCount   int             `json:"warning_count"`
	DangerCount    int             `json:"danger_count"`
	TakenAt        time.Time       `json:"taken_at"`
}

// SnapshotOf derives a snapshot from statistics.
func SnapshotOf(s Statistics, takenAt time.Time) MoneyAgeSnapshot {
	return MoneyAgeSnapshot{
		Date:           StartOfDay(s.AsOf),
		MoneyAgeDays:   s.MoneyAge.Days,
		MoneyAge:       s.MoneyAge.Exact,
		Level:          s.MoneyAge.Level,
		TotalPools:     s.TotalPools,
		ActivePools:    s.ActivePools,
		TotalRemaining: s.TotalRemaining,
		Expenses:       s.Expenses,
		HealthCount:    s.HealthCount,
		WarningCount:   s.WarningCount,
		DangerCount:    s.DangerCount,
		TakenAt:        takenAt.UTC(),
	}
}

// ExpectedIncome is a synthetic future income used by trend prediction.
type ExpectedIncome struct {
	// DayOffset counts days after the prediction start; 1 is tomorrow.
	DayOffset int             `json:"day_offset"`
	Amount    decimal.Decimal `json:"amount"`
}

// TrendPoint is the predicted state at the end of one future day.
type TrendPoint struct {
	Day       int             `json:"day"`
	Date      time.Time       `json:"date"`
	MoneyAge  MoneyAge        `json:"money_age"`
	Remaining decimal.Decimal `json:"remaining"`
	Shortfall decimal.Decimal `json:"shortfall"`
}
