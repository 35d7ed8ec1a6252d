// Package store provides storage for the moneyage transaction log and the
// ledger derived from it.
//
// The SQLite store holds:
//   - transactions: the editable log, source of truth
//   - resource_pools / resource_consumptions: the derived ledger
//   - pool_changes: bounded audit log (newest ledger.ChangeLogLimit entries)
//   - money_age_snapshots: one statistics capture per day
//   - ledger_meta: the persisted pending-rebuild flag
//
// # Critical Patterns
//
// Logical order:
//   - transactions.seq is AUTOINCREMENT and never rewritten on edit
//   - AllTransactions orders by (date ASC, seq ASC) for deterministic replay
//
// Exact amounts:
//   - amounts are decimal strings in TEXT columns, never REAL
//   - timestamps use the fixed-width UTC layout of ledger.FormatTime, so
//     ORDER BY on the text column is chronological
//
// Idempotent writes:
//   - pool and consumption saves are upserts keyed by id
//   - deletes of missing rows succeed
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: consumptions must reference an existing pool
//
// Memory implements the same contract without SQLite.
package store
