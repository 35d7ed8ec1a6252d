package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// HealthLevel buckets a money age.
type HealthLevel string

const (
	LevelHealth  HealthLevel = "health"
	LevelWarning HealthLevel = "warning"
	LevelDanger  HealthLevel = "danger"
)

// Thresholds are the day boundaries between health levels:
// age < Health is healthy, age < Warning is a warning, anything older is danger.
type Thresholds struct {
	Health  int
	Warning int
}

// DefaultThresholds matches the 30/60 day defaults of the ledger settings.
var DefaultThresholds = Thresholds{Health: 30, Warning: 60}

// Level returns the health level of an age in days.
func (t Thresholds) Level(days int) HealthLevel {
	switch {
	case days < t.Health:
		return LevelHealth
	case days < t.Warning:
		return LevelWarning
	default:
		return LevelDanger
	}
}

// MoneyAge is the weighted average age of the money currently held.
type MoneyAge struct {
	// Days is the weighted age truncated to whole days.
	Days int `json:"days"`
	// Exact is the weighted age rounded to two decimal places.
	Exact     decimal.Decimal `json:"exact"`
	Level     HealthLevel     `json:"level"`
	Remaining decimal.Decimal `json:"remaining"`
	AsOf      time.Time       `json:"as_of"`
}

// MoneyAgeResult is the outcome of processing one expense.
type MoneyAgeResult struct {
	TransactionID string                `json:"transaction_id"`
	Consumptions  []ResourceConsumption `json:"consumptions,omitempty"`
	// Pools holds the touched pools after the draw, including the unfunded sentinel.
	Pools     []ResourcePool  `json:"pools,omitempty"`
	AgeDays   int             `json:"age_days"`
	Exact     decimal.Decimal `json:"exact"`
	Level     HealthLevel     `json:"level"`
	Shortfall decimal.Decimal `json:"shortfall"`
}

// WeightedAge computes Σ(amount_i × age_i) / total, rounded to two places.
// It returns zero when total is not positive.
func WeightedAge(weighted, total decimal.Decimal) (days int, exact decimal.Decimal) {
	if !total.IsPositive() {
		return 0, decimal.Zero
	}
	avg := weighted.Div(total)
	return int(avg.IntPart()), avg.Round(2)
}
