package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/moneyage/internal/ledger"
)

// canonicalResult renders the trace and final pools of a run as a
// map[string]any for ledger.MarshalCanonical.
func canonicalResult(name string, r *Result) map[string]any {
	trace := make([]any, len(r.Trace))
	for i, ev := range r.Trace {
		m := map[string]any{
			"step":    ev.Step,
			"op":      ev.Op,
			"outcome": ev.Outcome,
		}
		if ev.TxID != "" {
			m["tx"] = ev.TxID
		}
		if ev.Code != "" {
			m["code"] = ev.Code
		}
		if len(ev.Draws) > 0 {
			m["age_days"] = ev.AgeDays
			draws := make([]any, len(ev.Draws))
			for j, d := range ev.Draws {
				draws[j] = map[string]any{
					"pool":     d.Pool,
					"amount":   d.Amount,
					"age_days": d.AgeDays,
				}
			}
			m["draws"] = draws
		}
		if ev.Shortfall != "" {
			m["shortfall"] = ev.Shortfall
		}
		trace[i] = m
	}

	pools := make([]any, len(r.Pools))
	for i, p := range r.Pools {
		pools[i] = map[string]any{
			"income":            p.Income,
			"original":          p.Original,
			"remaining":         p.Remaining,
			"consumed":          p.Consumed,
			"consumption_count": p.ConsumptionCount,
		}
	}

	return map[string]any{
		"scenario":       name,
		"trace":          trace,
		"pools":          pools,
		"money_age_days": r.MoneyAgeDays,
	}
}

// RunWithGolden runs a scenario, fails t on any expectation or assertion
// failure, and compares the canonical trace with
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		t.Fatalf("run scenario %s: %v", scenario.Name, err)
	}
	for _, msg := range result.Errors {
		t.Errorf("%s: %s", scenario.Name, msg)
	}

	AssertGolden(t, scenario.Name, result)
	return result
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	data, err := ledger.MarshalCanonical(canonicalResult(name, result))
	if err != nil {
		t.Fatalf("canonical trace: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}
