package consistency

import (
	"context"

	"github.com/roach88/moneyage/internal/ledger"
)

// Persistence stores the derived ledger: pools, consumptions, the audit log,
// the pending-rebuild flag and snapshots.
//
// Saves are upserts keyed by id so replays and retries are safe.
// Implemented by store.Store (SQLite) and store.Memory.
type Persistence interface {
	Load(ctx context.Context) ([]ledger.ResourcePool, []ledger.ResourceConsumption, error)
	SavePool(ctx context.Context, pool ledger.ResourcePool) error
	DeletePool(ctx context.Context, poolID string) error
	SaveConsumption(ctx context.Context, c ledger.ResourceConsumption) error
	DeleteConsumption(ctx context.Context, consumptionID string) error
	ClearAll(ctx context.Context) error

	// AppendChangeLog appends an audit entry, keeping only the newest
	// ledger.ChangeLogLimit entries.
	AppendChangeLog(ctx context.Context, change ledger.ResourcePoolChange) error
	// ChangeHistory returns up to limit entries, newest first.
	ChangeHistory(ctx context.Context, limit int) ([]ledger.ResourcePoolChange, error)

	SetPendingRebuild(ctx context.Context, pending bool, reason string) error
	PendingRebuild(ctx context.Context) (bool, string, error)

	SaveSnapshot(ctx context.Context, snap ledger.MoneyAgeSnapshot) error
}

// TransactionLog is the source of truth the ledger is derived from.
type TransactionLog interface {
	// AllTransactions returns every transaction. Order does not matter; the
	// manager sorts by (Date, Seq) before replaying.
	AllTransactions(ctx context.Context) ([]ledger.Transaction, error)
}
