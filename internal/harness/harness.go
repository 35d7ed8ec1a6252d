package harness

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/roach88/moneyage/internal/consistency"
	"github.com/roach88/moneyage/internal/engine"
	"github.com/roach88/moneyage/internal/journal"
	"github.com/roach88/moneyage/internal/ledger"
	"github.com/roach88/moneyage/internal/store"
	"github.com/roach88/moneyage/internal/testutil"
)

// Harness runs one scenario against a fresh ledger.
type Harness struct {
	store   *store.Store
	engine  *engine.Engine
	manager *consistency.Manager
	journal *journal.Journal
	clock   *testutil.FakeClock
}

// Run executes a scenario and returns its trace, final pools and failures.
//
// Each run gets its own in-memory database. Steps that the ledger refuses are
// traced as rejected, not returned as errors; Run fails only on a malformed
// scenario or an infrastructure error.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	defer h.store.Close()

	if err := h.manager.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize ledger: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		event, err := h.executeStep(ctx, i, step)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		result.Trace = append(result.Trace, event)
		if step.Expect != nil {
			for _, msg := range checkExpect(event, *step.Expect) {
				result.AddError(fmt.Sprintf("steps[%d]: %s", i, msg))
			}
		}
	}

	result.Pools = h.poolTable()
	result.MoneyAgeDays = h.manager.CurrentMoneyAge().Days

	for _, msg := range h.evaluateAssertions(ctx, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario) (*Harness, error) {
	start, err := ledger.ParseDate(scenario.Now)
	if err != nil {
		return nil, fmt.Errorf("now: %w", err)
	}

	var opts []engine.Option
	if scenario.Engine.Strategy != "" {
		strategy, err := engine.ParseStrategy(scenario.Engine.Strategy)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		opts = append(opts, engine.WithStrategy(strategy))
	}
	policy, err := engine.ParseDeficitPolicy(scenario.Engine.DeficitPolicy)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	opts = append(opts, engine.WithDeficitPolicy(policy))

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewFakeClock(start)
	eng := engine.New(opts...)
	m := consistency.New(st, st, eng, consistency.WithClock(clock), consistency.WithLogger(logger))
	return &Harness{
		store:   st,
		engine:  eng,
		manager: m,
		journal: journal.New(st, m, journal.WithClock(clock), journal.WithLogger(logger)),
		clock:   clock,
	}, nil
}

func (h *Harness) executeStep(ctx context.Context, i int, step Step) (TraceEvent, error) {
	if step.At != "" {
		at, err := ledger.ParseDate(step.At)
		if err != nil {
			return TraceEvent{}, fmt.Errorf("at: %w", err)
		}
		h.clock.Set(at)
	}

	event := TraceEvent{Step: i, Outcome: OutcomeOK}
	switch {
	case step.Record != nil:
		event.Op = "record"
		event.TxID = step.Record.ID
		return event, h.record(ctx, &event, *step.Record)
	case step.Delete != "":
		event.Op = "delete"
		event.TxID = step.Delete
		removed, err := h.journal.Delete(ctx, step.Delete)
		if err != nil {
			return event, rejected(&event, err)
		}
		if removed.Deferred {
			event.Outcome = OutcomeDeferred
		}
		return event, nil
	case step.Edit != nil:
		event.Op = "edit"
		event.TxID = step.Edit.ID
		return event, h.edit(ctx, &event, *step.Edit)
	case step.Advance:
		event.Op = "advance"
		report, err := h.manager.Advance(ctx)
		if err != nil {
			return event, err
		}
		if report != nil {
			event.Outcome = OutcomeRebuilt
		}
		return event, nil
	case step.Rebuild:
		event.Op = "rebuild"
		if _, err := h.manager.RebuildAll(ctx); err != nil {
			return event, err
		}
		event.Outcome = OutcomeRebuilt
		return event, nil
	default:
		event.Op = "tick"
		return event, nil
	}
}

func (h *Harness) record(ctx context.Context, event *TraceEvent, r RecordStep) error {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return fmt.Errorf("record amount %q: %w", r.Amount, err)
	}
	entry := journal.Entry{ID: r.ID, Type: ledger.TransactionType(r.Type), Amount: amount}
	if r.Date != "" {
		if entry.Date, err = ledger.ParseDate(r.Date); err != nil {
			return fmt.Errorf("record: %w", err)
		}
	}

	rec, err := h.journal.Record(ctx, entry)
	if err != nil {
		return rejected(event, err)
	}
	if rec.Deferred {
		event.Outcome = OutcomeDeferred
	}
	if rec.Result != nil {
		h.traceExpense(event, *rec.Result)
	}
	return nil
}

func (h *Harness) edit(ctx context.Context, event *TraceEvent, e EditStep) error {
	var patch journal.Patch
	if e.Type != nil {
		typ := ledger.TransactionType(*e.Type)
		patch.Type = &typ
	}
	if e.Amount != nil {
		amount, err := decimal.NewFromString(*e.Amount)
		if err != nil {
			return fmt.Errorf("edit amount %q: %w", *e.Amount, err)
		}
		patch.Amount = &amount
	}
	if e.Date != nil {
		date, err := ledger.ParseDate(*e.Date)
		if err != nil {
			return fmt.Errorf("edit: %w", err)
		}
		patch.Date = &date
	}

	edited, err := h.journal.Edit(ctx, e.ID, patch)
	if err != nil {
		return rejected(event, err)
	}
	if edited.Deferred {
		event.Outcome = OutcomeDeferred
	}
	if edited.Result != nil {
		h.traceExpense(event, *edited.Result)
	}
	return nil
}

// rejected traces a refused step. Errors that are not refusals are returned.
func rejected(event *TraceEvent, err error) error {
	code, ok := engine.CodeOf(err)
	switch {
	case ok && code != engine.ErrCodeConservation:
		event.Code = string(code)
	case errors.Is(err, store.ErrNotFound):
		event.Code = "NOT_FOUND"
	case errors.Is(err, store.ErrDuplicateID):
		event.Code = "DUPLICATE_ID"
	default:
		return err
	}
	event.Outcome = OutcomeRejected
	return nil
}

func (h *Harness) traceExpense(event *TraceEvent, res ledger.MoneyAgeResult) {
	names := h.poolNames()
	event.AgeDays = res.AgeDays
	if res.Shortfall.IsPositive() {
		event.Shortfall = res.Shortfall.StringFixed(2)
	}
	for _, c := range res.Consumptions {
		event.Draws = append(event.Draws, Draw{
			Pool:    names[c.ResourcePoolID],
			Amount:  c.Amount.StringFixed(2),
			AgeDays: c.AgeDays,
		})
	}
}

// poolNames maps pool ids to the income transaction that created them.
func (h *Harness) poolNames() map[string]string {
	names := map[string]string{ledger.PoolIDUnfunded: UnfundedPool}
	for _, p := range h.manager.Pools() {
		if !p.Unfunded {
			names[p.ID] = p.IncomeTransactionID
		}
	}
	return names
}

func poolName(p ledger.ResourcePool) string {
	if p.Unfunded {
		return UnfundedPool
	}
	return p.IncomeTransactionID
}

// sortedPools returns the pools in FIFO order with the unfunded pool last.
func (h *Harness) sortedPools() []ledger.ResourcePool {
	pools := h.manager.Pools()
	slices.SortStableFunc(pools, func(a, b ledger.ResourcePool) int {
		if a.Unfunded != b.Unfunded {
			if a.Unfunded {
				return 1
			}
			return -1
		}
		if a.Key().Before(b.Key()) {
			return -1
		}
		if b.Key().Before(a.Key()) {
			return 1
		}
		return cmp.Compare(a.IncomeTransactionID, b.IncomeTransactionID)
	})
	return pools
}

func (h *Harness) poolTable() []PoolRow {
	pools := h.sortedPools()
	rows := make([]PoolRow, 0, len(pools))
	for _, p := range pools {
		rows = append(rows, PoolRow{
			Income:           poolName(p),
			Original:         p.OriginalAmount.StringFixed(2),
			Remaining:        p.RemainingAmount.StringFixed(2),
			Consumed:         p.ConsumedAmount.StringFixed(2),
			ConsumptionCount: p.ConsumptionCount,
		})
	}
	return rows
}

func checkExpect(event TraceEvent, want Expect) []string {
	var msgs []string
	if want.Outcome != "" && want.Outcome != event.Outcome {
		msgs = append(msgs, fmt.Sprintf("outcome: expected %s, got %s", want.Outcome, event.Outcome))
	}
	if want.Code != "" && want.Code != event.Code {
		msgs = append(msgs, fmt.Sprintf("code: expected %s, got %q", want.Code, event.Code))
	}
	if want.AgeDays != nil && *want.AgeDays != event.AgeDays {
		msgs = append(msgs, fmt.Sprintf("age_days: expected %d, got %d", *want.AgeDays, event.AgeDays))
	}
	if want.Shortfall != "" && !valuesEqual(cmp.Or(event.Shortfall, "0"), want.Shortfall) {
		msgs = append(msgs, fmt.Sprintf("shortfall: expected %s, got %q", want.Shortfall, event.Shortfall))
	}
	return msgs
}
