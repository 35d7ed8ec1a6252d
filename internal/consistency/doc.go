// Package consistency keeps the allocation engine's state in step with an
// editable transaction log.
//
// The Manager owns the only mutable engine.State. Upstream events (income or
// expense created, transaction deleted or edited) are applied incrementally
// when the change sits at the tail of the processed order, where applying it
// directly is provably the same as replaying the whole log. Every other change
// switches the manager to ModePendingRebuild and is resolved by the next
// Advance, which replays the log from scratch.
//
// Incremental paths:
//
//	income created     key after the latest processed expense
//	expense created    key after everything processed
//	expense deleted    it is the latest processed expense
//	income deleted     its pool was never drawn from
//	expense edited     old is the latest expense, new key after everything else
//
// Income edits, type changes and anything out of order schedule a rebuild.
//
// Concurrency: mutating calls take the write lock; queries take the read lock
// and never observe a half-finished rebuild.
package consistency
