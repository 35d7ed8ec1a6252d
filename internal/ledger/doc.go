// Package ledger defines the data model of the money-age ledger.
//
// The model has three layers:
//   - Transactions: the external, editable log of incomes and expenses
//   - Resource pools: one per income, tracking how much of it is still held
//   - Resource consumptions: one per (expense, pool) draw
//
// # Invariants
//
// Conservation: for every pool, RemainingAmount + ConsumedAmount == OriginalAmount,
// and both parts are non-negative. The sum of consumption amounts referencing a pool
// equals that pool's ConsumedAmount.
//
// Deterministic identity: pool ids derive from the income transaction id and
// consumption ids derive from the (expense, pool) pair, so replaying the same log
// produces byte-identical state. Digest hashes a canonical JSON rendering of that
// state for comparison.
//
// Ordering: transactions are ordered by (Date, Seq). Seq is the insertion order
// assigned by the log and breaks ties between transactions sharing a date.
//
// All amounts are decimal.Decimal; binary floats never touch money.
package ledger
