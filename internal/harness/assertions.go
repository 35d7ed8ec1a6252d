package harness

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/roach88/moneyage/internal/engine"
	"github.com/roach88/moneyage/internal/ledger"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Index    int
	Type     string
	Subject  string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "assertions[%d] %s", e.Index, e.Type)
	if e.Subject != "" {
		fmt.Fprintf(&buf, " %s", e.Subject)
	}
	fmt.Fprintf(&buf, ": expected %s, got %s", e.Expected, e.Actual)
	return buf.String()
}

// evaluateAssertions checks every assertion and returns one message per failure.
func (h *Harness) evaluateAssertions(ctx context.Context, assertions []Assertion) []string {
	var msgs []string
	for i, a := range assertions {
		var errs []error
		switch a.Type {
		case AssertMoneyAge:
			age := h.manager.CurrentMoneyAge()
			errs = matchFields(i, a.Type, "", a.Expect, map[string]any{
				"days":      age.Days,
				"exact":     age.Exact,
				"level":     string(age.Level),
				"remaining": age.Remaining,
			})
		case AssertPool:
			errs = h.assertPool(i, a)
		case AssertConsumptions:
			errs = h.assertConsumptions(i, a)
		case AssertStatistics:
			fields, err := jsonFields(h.manager.Statistics())
			if err != nil {
				errs = []error{err}
				break
			}
			errs = matchFields(i, a.Type, "", a.Expect, fields)
		case AssertMode:
			mode, reason := h.manager.Mode()
			errs = matchFields(i, a.Type, "", a.Expect, map[string]any{
				"mode":   mode.String(),
				"reason": reason,
			})
		case AssertReplayMatches:
			if err := h.assertReplayMatches(ctx, i); err != nil {
				errs = []error{err}
			}
		default:
			errs = []error{fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)}
		}
		for _, err := range errs {
			msgs = append(msgs, err.Error())
		}
	}
	return msgs
}

func (h *Harness) assertPool(i int, a Assertion) []error {
	for _, p := range h.manager.Pools() {
		if poolName(p) != a.Income {
			continue
		}
		return matchFields(i, a.Type, a.Income, a.Expect, map[string]any{
			"original":          p.OriginalAmount,
			"remaining":         p.RemainingAmount,
			"consumed":          p.ConsumedAmount,
			"consumption_count": p.ConsumptionCount,
			"fully_consumed":    p.IsFullyConsumed(),
		})
	}
	return []error{&AssertionError{Index: i, Type: a.Type, Subject: a.Income, Expected: "pool to exist", Actual: "no such pool"}}
}

// assertConsumptions compares the draws of an expense in pool FIFO order.
func (h *Harness) assertConsumptions(i int, a Assertion) []error {
	names := h.poolNames()
	rank := make(map[string]int)
	for j, p := range h.sortedPools() {
		rank[p.ID] = j
	}
	cons := h.manager.ConsumptionsFor(a.Expense)
	slices.SortStableFunc(cons, func(x, y ledger.ResourceConsumption) int {
		return cmp.Compare(rank[x.ResourcePoolID], rank[y.ResourcePoolID])
	})
	if len(cons) != len(a.Draws) {
		return []error{&AssertionError{
			Index: i, Type: a.Type, Subject: a.Expense,
			Expected: fmt.Sprintf("%d draw(s)", len(a.Draws)),
			Actual:   fmt.Sprintf("%d", len(cons)),
		}}
	}
	var errs []error
	for j, c := range cons {
		errs = append(errs, matchFields(i, a.Type, fmt.Sprintf("%s draw %d", a.Expense, j), a.Draws[j], map[string]any{
			"pool":     names[c.ResourcePoolID],
			"amount":   c.Amount,
			"age_days": c.AgeDays,
		})...)
	}
	return errs
}

// assertReplayMatches replays the log into a fresh state and compares digests.
func (h *Harness) assertReplayMatches(ctx context.Context, i int) error {
	txs, err := h.store.AllTransactions(ctx)
	if err != nil {
		return fmt.Errorf("assertions[%d]: read log: %w", i, err)
	}
	fresh := engine.NewState()
	if _, err := h.engine.Replay(fresh, txs, nil); err != nil {
		return fmt.Errorf("assertions[%d]: replay: %w", i, err)
	}
	want, err := fresh.Digest()
	if err != nil {
		return fmt.Errorf("assertions[%d]: digest replay: %w", i, err)
	}
	got, err := h.manager.Digest()
	if err != nil {
		return fmt.Errorf("assertions[%d]: digest ledger: %w", i, err)
	}
	if got != want {
		return &AssertionError{Index: i, Type: AssertReplayMatches, Expected: "digest " + want, Actual: got}
	}
	return nil
}

// matchFields compares the expected subset against actual, in key order.
func matchFields(i int, typ, subject string, expected, actual map[string]any) []error {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var errs []error
	for _, k := range keys {
		got, ok := actual[k]
		field := strings.TrimSpace(subject + " " + k)
		if !ok {
			errs = append(errs, &AssertionError{Index: i, Type: typ, Subject: field, Expected: fmt.Sprint(expected[k]), Actual: "unknown field"})
			continue
		}
		if !valuesEqual(got, expected[k]) {
			errs = append(errs, &AssertionError{Index: i, Type: typ, Subject: field, Expected: fmt.Sprint(expected[k]), Actual: fmt.Sprint(got)})
		}
	}
	return errs
}

// valuesEqual compares by string form; two decimals compare numerically, so
// "300" equals 300.00.
func valuesEqual(actual, expected any) bool {
	a, e := fmt.Sprint(actual), fmt.Sprint(expected)
	if a == e {
		return true
	}
	ad, err := decimal.NewFromString(a)
	if err != nil {
		return false
	}
	ed, err := decimal.NewFromString(e)
	if err != nil {
		return false
	}
	return ad.Equal(ed)
}

// jsonFields flattens v into its top-level JSON fields.
func jsonFields(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
