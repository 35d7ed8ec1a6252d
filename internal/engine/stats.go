package engine

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/moneyage/internal/ledger"
)

// Statistics summarises st as of now.
func (e *Engine) Statistics(st *State, now time.Time) ledger.Statistics {
	stats := ledger.Statistics{
		AsOf:           now.UTC(),
		TotalOriginal:  decimal.Zero,
		TotalRemaining: decimal.Zero,
		TotalConsumed:  decimal.Zero,
		TotalUnfunded:  decimal.Zero,
		Consumptions:   len(st.consumptions),
		Expenses:       len(st.byExpense),
		MoneyAge:       e.MoneyAge(st, now),
	}
	for _, p := range st.pools {
		if p.Unfunded {
			stats.TotalUnfunded = stats.TotalUnfunded.Add(p.OriginalAmount)
			continue
		}
		stats.TotalPools++
		if p.IsActive() {
			stats.ActivePools++
		}
		if p.IsFullyConsumed() {
			stats.FullyConsumedPools++
		}
		stats.TotalOriginal = stats.TotalOriginal.Add(p.OriginalAmount)
		stats.TotalRemaining = stats.TotalRemaining.Add(p.RemainingAmount)
		stats.TotalConsumed = stats.TotalConsumed.Add(p.ConsumedAmount)
	}

	ages := make([]int, 0, len(st.byExpense))
	for expenseID := range st.byExpense {
		days, _ := expenseAge(st.ConsumptionsFor(expenseID))
		ages = append(ages, days)
		switch e.thresholds.Level(days) {
		case ledger.LevelHealth:
			stats.HealthCount++
		case ledger.LevelWarning:
			stats.WarningCount++
		default:
			stats.DangerCount++
		}
	}
	stats.AverageExpenseAge = decimal.Zero
	if len(ages) == 0 {
		return stats
	}

	slices.Sort(ages)
	sum := 0
	for _, a := range ages {
		sum += a
	}
	stats.AverageExpenseAge = decimal.NewFromInt(int64(sum)).Div(decimal.NewFromInt(int64(len(ages)))).Round(2)
	stats.MinExpenseAge = ages[0]
	stats.MaxExpenseAge = ages[len(ages)-1]
	mid := len(ages) / 2
	if len(ages)%2 == 1 {
		stats.MedianExpenseAge = ages[mid]
	} else {
		stats.MedianExpenseAge = (ages[mid-1] + ages[mid]) / 2
	}
	return stats
}

// simulatedExpenseID cannot collide with log ids, which are UUIDs or user supplied
// ids without a leading tilde.
const simulatedExpenseID = "~simulated-expense"

// SimulateExpense reports what an expense of amount at the given time would
// consume, without touching st.
func (e *Engine) SimulateExpense(st *State, amount decimal.Decimal, at time.Time) (ledger.MoneyAgeResult, error) {
	sim := st.Clone()
	tx := ledger.Transaction{
		ID:     simulatedExpenseID,
		Type:   ledger.TypeExpense,
		Amount: amount,
		Date:   at.UTC(),
		Seq:    sim.NextSeq(),
	}
	return e.ProcessExpense(sim, tx)
}

// PredictTrend forward-simulates daysAhead days on a clone of st.
//
// Each day first receives the expected incomes scheduled for it, then spends
// dailyExpense. Shortfalls are always recorded (never rejected) so the forecast
// runs to the end; TrendPoint.Shortfall is cumulative.
func (e *Engine) PredictTrend(st *State, now time.Time, daysAhead int, dailyExpense decimal.Decimal, incomes []ledger.ExpectedIncome) ([]ledger.TrendPoint, error) {
	if daysAhead <= 0 {
		return nil, fmt.Errorf("predict trend: days ahead must be positive, got %d", daysAhead)
	}
	if dailyExpense.IsNegative() {
		return nil, newError(ErrCodeInvalidAmount, "", "", "daily expense %s must not be negative", dailyExpense)
	}

	forecast := *e
	forecast.deficit = DeficitRecord

	sim := st.Clone()
	seq := sim.NextSeq()
	start := ledger.StartOfDay(now)
	shortfall := decimal.Zero
	points := make([]ledger.TrendPoint, 0, daysAhead)

	for day := 1; day <= daysAhead; day++ {
		date := start.AddDate(0, 0, day)
		for i, inc := range incomes {
			if inc.DayOffset != day {
				continue
			}
			tx := ledger.Transaction{
				ID:     fmt.Sprintf("~forecast-income-%d-%d", day, i),
				Type:   ledger.TypeIncome,
				Amount: inc.Amount,
				Date:   date,
				Seq:    seq,
			}
			seq++
			if _, err := forecast.ProcessIncome(sim, tx); err != nil {
				return nil, fmt.Errorf("predict trend: day %d: %w", day, err)
			}
		}
		if dailyExpense.IsPositive() {
			tx := ledger.Transaction{
				ID:     fmt.Sprintf("~forecast-expense-%d", day),
				Type:   ledger.TypeExpense,
				Amount: dailyExpense,
				Date:   date,
				Seq:    seq,
			}
			seq++
			res, err := forecast.ProcessExpense(sim, tx)
			if err != nil {
				return nil, fmt.Errorf("predict trend: day %d: %w", day, err)
			}
			shortfall = shortfall.Add(res.Shortfall)
		}

		age := forecast.MoneyAge(sim, date)
		points = append(points, ledger.TrendPoint{
			Day:       day,
			Date:      date,
			MoneyAge:  age,
			Remaining: age.Remaining,
			Shortfall: shortfall,
		})
	}
	return points, nil
}
