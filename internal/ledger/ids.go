package ledger

import (
	"sync"

	"github.com/google/uuid"
)

// PoolIDUnfunded is the id of the sentinel pool that absorbs expense shortfalls.
const PoolIDUnfunded = "unfunded"

// Namespaces for name-based (v5) ids. Changing them changes every persisted id.
var (
	poolNamespace        = uuid.MustParse("6f1d3c52-8a0e-4b8e-9c57-0d1c2b7e4a10")
	consumptionNamespace = uuid.MustParse("b3a9e7c4-51f2-4d6a-8e0b-7c9d2f1a6e35")
)

// PoolID derives the pool id of an income transaction.
func PoolID(incomeTxID string) string {
	return uuid.NewSHA1(poolNamespace, []byte(incomeTxID)).String()
}

// ConsumptionID derives the id of the draw of an expense against a pool.
// The null separator keeps ("ab","c") and ("a","bc") apart.
func ConsumptionID(expenseTxID, poolID string) string {
	name := make([]byte, 0, len(expenseTxID)+len(poolID)+1)
	name = append(name, expenseTxID...)
	name = append(name, 0x00)
	name = append(name, poolID...)
	return uuid.NewSHA1(consumptionNamespace, name).String()
}

// IDGenerator generates transaction ids.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 transaction ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined ids for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
// Panics if all ids have been consumed, to catch test misconfiguration.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
