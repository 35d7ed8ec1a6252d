package harness

// Step outcomes recorded in the trace.
const (
	OutcomeOK       = "ok"
	OutcomeDeferred = "deferred"
	OutcomeRebuilt  = "rebuilt"
	OutcomeRejected = "rejected"
)

// Draw is one consumption of a traced expense, with the pool named by its
// income transaction.
type Draw struct {
	Pool    string `json:"pool"`
	Amount  string `json:"amount"`
	AgeDays int    `json:"age_days"`
}

// TraceEvent is the outcome of one scenario step.
type TraceEvent struct {
	Step    int    `json:"step"`
	Op      string `json:"op"`
	TxID    string `json:"tx,omitempty"`
	Outcome string `json:"outcome"`

	// Code is the engine error code of a rejected step.
	Code string `json:"code,omitempty"`

	// Set for expenses applied incrementally.
	AgeDays   int    `json:"age_days,omitempty"`
	Shortfall string `json:"shortfall,omitempty"`
	Draws     []Draw `json:"draws,omitempty"`
}

// PoolRow is one row of the final pool table.
type PoolRow struct {
	Income           string `json:"income"`
	Original         string `json:"original"`
	Remaining        string `json:"remaining"`
	Consumed         string `json:"consumed"`
	ConsumptionCount int    `json:"consumption_count"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Pools is the final pool table in FIFO order, the unfunded pool last.
	Pools []PoolRow `json:"pools"`

	MoneyAgeDays int `json:"money_age_days"`

	// Errors holds failed expectations and assertions. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Pools:  []PoolRow{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
