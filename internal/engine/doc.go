// Package engine implements the money-age allocation engine.
//
// The engine turns incomes into resource pools and expenses into consumptions
// drawn from those pools. It is pure: every operation works on a State arena that
// the caller owns and passes in, and nothing here performs I/O. The consistency
// layer holds the only mutable handle to the live State; simulations and forecasts
// work on clones.
//
// ARCHITECTURE:
//
// State is an arena keyed by stable ids:
//   - pools by pool id
//   - consumptions by consumption id
//   - indexes from expense id and pool id to consumption ids
//
// Engine carries the policy: the consumption Strategy (FIFO by default, LIFO or
// proportional) and the DeficitPolicy applied when an expense exceeds the money
// held.
//
// CRITICAL PATTERNS:
//
// Conservation: each draw moves an amount from RemainingAmount to ConsumedAmount
// of one pool; restoration moves it back. Derived pool fields (first/last
// consumption, count, fully consumed date) are recomputed from the remaining
// consumptions after every change, so restoring an expense is an exact inverse.
//
// Determinism: strategies sort candidates by (CreatedAt, Seq, ID) and ids are
// content-derived, so replaying a log yields identical state.
package engine
