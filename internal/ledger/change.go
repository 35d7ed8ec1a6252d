package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChangeLogLimit is the number of audit entries retained; older entries are dropped first.
const ChangeLogLimit = 1000

// ChangeKind classifies a pool mutation in the audit log.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeConsumed ChangeKind = "consumed"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeRebuilt  ChangeKind = "rebuilt"
)

// ResourcePoolChange is one append-only audit entry. It is used for debugging only;
// correctness never depends on it.
type ResourcePoolChange struct {
	// ID is assigned by the store on append.
	ID            int64           `json:"id"`
	Kind          ChangeKind      `json:"kind"`
	PoolID        string          `json:"pool_id"`
	Delta         decimal.Decimal `json:"delta"`
	TransactionID string          `json:"transaction_id"`
	At            time.Time       `json:"at"`
}

// DirtyPoolMarker flags one pool for incremental recompute.
type DirtyPoolMarker struct {
	PoolID   string    `json:"pool_id"`
	MarkedAt time.Time `json:"marked_at"`
	Reason   string    `json:"reason"`
}
