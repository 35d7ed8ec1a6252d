// Package harness runs ledger scenarios written in YAML.
//
// A scenario is a timeline of transaction events fed through the journal and
// consistency manager exactly as the CLI and HTTP API feed them, against a
// fresh in-memory SQLite database. Each step is traced; the trace and the final
// pool table are compared against a golden file, and the scenario's assertions
// check the final ledger.
//
// # Scenario Format
//
//	name: rent_from_pay
//	description: "Rent is drawn from the month's pay"
//	now: "2026-01-01"
//	engine:
//	  strategy: fifo
//	  deficit_policy: record
//	steps:
//	  - record: { id: pay, type: income, amount: "1000", date: "2026-01-01" }
//	  - at: "2026-01-11"
//	    record: { id: rent, type: expense, amount: "300" }
//	    expect: { outcome: ok, age_days: 10 }
//	  - edit: { id: pay, amount: "900" }
//	    expect: { outcome: deferred }
//	  - advance: true
//	assertions:
//	  - type: pool
//	    income: pay
//	    expect: { remaining: "600", consumed: "300", consumption_count: 1 }
//	  - type: money_age
//	    expect: { days: 10, level: health }
//	  - type: mode
//	    expect: { mode: incremental }
//	  - type: replay_matches
//
// Exactly one of record, delete, edit, advance, rebuild or tick is set per
// step. "at" moves the clock before the step runs; a step without a date
// records at the clock's current time. Quote dates and amounts so YAML keeps
// them as strings.
//
// # Assertion Types
//
//   - money_age: days, exact, level, remaining of the current money age
//   - pool: original, remaining, consumed, consumption_count, fully_consumed of
//     the pool created by an income ("unfunded" names the sentinel pool)
//   - consumptions: the draws of one expense as pool/amount/age_days, listed
//     in FIFO pool order
//   - statistics: any field of the ledger statistics, by its JSON name
//   - mode: the consistency mode after the last step
//   - replay_matches: the ledger digest equals a fresh replay of the log
//
// Expected values are compared as strings, so "300" matches a decimal 300.00
// and 10 matches an int.
//
// # Determinism
//
// The clock is a testutil.FakeClock and every transaction carries an explicit
// id, so pool and consumption ids and ages are identical across runs.
//
// Regenerate golden files with:
//
//	go test ./internal/harness -update
package harness
