// Package journal edits the transaction log and keeps the money-age ledger in
// step with it.
//
// Every write goes to the log first, then to the consistency manager. When the
// manager rejects the transaction outright (a precondition error such as
// insufficient funds under the reject policy) the log write is undone, so the
// log never holds a transaction the ledger refused. Any other manager error
// leaves the log as written: the manager has already scheduled a rebuild from
// it.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/moneyage/internal/consistency"
	"github.com/roach88/moneyage/internal/engine"
	"github.com/roach88/moneyage/internal/ledger"
)

// Log is the writable transaction log.
// Implemented by store.Store and store.Memory.
type Log interface {
	consistency.TransactionLog
	AppendTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error)
	UpdateTransaction(ctx context.Context, tx ledger.Transaction) error
	DeleteTransaction(ctx context.Context, id string) error
	GetTransaction(ctx context.Context, id string) (ledger.Transaction, error)
}

// Journal is the single entry point for changing transactions.
//
// Thread-safety: Journal adds no state of its own beyond its dependencies;
// concurrent calls are serialized by the manager.
type Journal struct {
	log     Log
	manager *consistency.Manager
	ids     ledger.IDGenerator
	clock   consistency.Clock
	logger  *slog.Logger
}

// Option configures a Journal.
type Option func(*Journal)

// WithIDGenerator sets the generator for transactions recorded without an id.
// Default: ledger.UUIDv7Generator.
func WithIDGenerator(g ledger.IDGenerator) Option {
	return func(j *Journal) {
		j.ids = g
	}
}

// WithClock sets the clock used to date transactions recorded without a date.
func WithClock(c consistency.Clock) Option {
	return func(j *Journal) {
		j.clock = c
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) {
		j.logger = l
	}
}

// New creates a Journal writing to log and notifying manager.
func New(log Log, manager *consistency.Manager, opts ...Option) *Journal {
	j := &Journal{
		log:     log,
		manager: manager,
		ids:     ledger.UUIDv7Generator{},
		clock:   consistency.SystemClock{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Entry is a transaction to record. Empty ID and zero Date are filled in.
type Entry struct {
	ID     string
	Type   ledger.TransactionType
	Amount decimal.Decimal
	Date   time.Time
	Note   string
}

// Recorded is the outcome of Record.
type Recorded struct {
	Transaction ledger.Transaction     `json:"transaction"`
	Pool        *ledger.ResourcePool   `json:"pool,omitempty"`
	Result      *ledger.MoneyAgeResult `json:"result,omitempty"`
	// Deferred is set when the ledger will pick the transaction up on the next rebuild.
	Deferred bool `json:"deferred"`
}

// Removed is the outcome of Delete.
type Removed struct {
	Transaction ledger.Transaction    `json:"transaction"`
	Restore     *engine.RestoreResult `json:"restore,omitempty"`
	Deferred    bool                  `json:"deferred"`
}

// Patch lists the fields to change in Edit. Nil fields are kept.
type Patch struct {
	Type   *ledger.TransactionType
	Amount *decimal.Decimal
	Date   *time.Time
	Note   *string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Type == nil && p.Amount == nil && p.Date == nil && p.Note == nil
}

// Edited is the outcome of Edit.
type Edited struct {
	Before   ledger.Transaction     `json:"before"`
	After    ledger.Transaction     `json:"after"`
	Result   *ledger.MoneyAgeResult `json:"result,omitempty"`
	Deferred bool                   `json:"deferred"`
}

// ErrEmptyPatch is returned by Edit when the patch sets no field.
var ErrEmptyPatch = errors.New("nothing to change")

// Record appends a transaction to the log and applies it to the ledger.
func (j *Journal) Record(ctx context.Context, e Entry) (Recorded, error) {
	tx := ledger.Transaction{ID: e.ID, Type: e.Type, Amount: e.Amount, Date: e.Date, Note: e.Note}
	if tx.ID == "" {
		tx.ID = j.ids.Generate()
	}
	if tx.Date.IsZero() {
		tx.Date = j.clock.Now()
	}
	if err := validate(tx); err != nil {
		return Recorded{}, err
	}

	tx, err := j.log.AppendTransaction(ctx, tx)
	if err != nil {
		return Recorded{}, err
	}

	out := Recorded{Transaction: tx}
	switch tx.Type {
	case ledger.TypeIncome:
		out.Pool, err = j.manager.OnIncomeCreated(ctx, tx)
		out.Deferred = out.Pool == nil && j.pending()
	case ledger.TypeExpense:
		out.Result, err = j.manager.OnExpenseCreated(ctx, tx)
		out.Deferred = out.Result == nil && j.pending()
	}
	if err != nil {
		if engine.IsPrecondition(err) {
			j.undo(ctx, "record", func() error { return j.log.DeleteTransaction(ctx, tx.ID) })
		}
		return Recorded{}, fmt.Errorf("record %s %s: %w", tx.Type, tx.ID, err)
	}
	j.logger.Debug("transaction recorded", "tx", tx.ID, "type", tx.Type, "deferred", out.Deferred)
	return out, nil
}

// Delete removes a transaction from the log and undoes it in the ledger.
func (j *Journal) Delete(ctx context.Context, id string) (Removed, error) {
	tx, err := j.log.GetTransaction(ctx, id)
	if err != nil {
		return Removed{}, err
	}
	if err := j.log.DeleteTransaction(ctx, id); err != nil {
		return Removed{}, err
	}

	res, err := j.manager.OnTransactionDeleted(ctx, tx)
	if err != nil {
		return Removed{}, fmt.Errorf("delete %s %s: %w", tx.Type, tx.ID, err)
	}
	out := Removed{Transaction: tx, Restore: res, Deferred: res == nil && j.pending()}
	j.logger.Debug("transaction deleted", "tx", tx.ID, "deferred", out.Deferred)
	return out, nil
}

// Edit applies patch to a logged transaction. The transaction keeps its seq.
func (j *Journal) Edit(ctx context.Context, id string, patch Patch) (Edited, error) {
	if patch.Empty() {
		return Edited{}, ErrEmptyPatch
	}
	before, err := j.log.GetTransaction(ctx, id)
	if err != nil {
		return Edited{}, err
	}

	after := before
	if patch.Type != nil {
		after.Type = *patch.Type
	}
	if patch.Amount != nil {
		after.Amount = *patch.Amount
	}
	if patch.Date != nil {
		after.Date = patch.Date.UTC()
	}
	if patch.Note != nil {
		after.Note = *patch.Note
	}
	if err := validate(after); err != nil {
		return Edited{}, err
	}

	if err := j.log.UpdateTransaction(ctx, after); err != nil {
		return Edited{}, err
	}
	res, err := j.manager.OnTransactionUpdated(ctx, before, after)
	if err != nil {
		if engine.IsPrecondition(err) {
			j.undo(ctx, "edit", func() error { return j.log.UpdateTransaction(ctx, before) })
		}
		return Edited{}, fmt.Errorf("edit %s %s: %w", before.Type, id, err)
	}
	out := Edited{Before: before, After: after, Result: res, Deferred: res == nil && j.pending()}
	j.logger.Debug("transaction edited", "tx", id, "deferred", out.Deferred)
	return out, nil
}

// Get returns one logged transaction.
func (j *Journal) Get(ctx context.Context, id string) (ledger.Transaction, error) {
	return j.log.GetTransaction(ctx, id)
}

// List returns the whole log in replay order.
func (j *Journal) List(ctx context.Context) ([]ledger.Transaction, error) {
	return j.log.AllTransactions(ctx)
}

func (j *Journal) pending() bool {
	mode, _ := j.manager.Mode()
	return mode == consistency.ModePendingRebuild
}

// undo reverts a log write after the ledger refused it. If the revert itself
// fails the log and the ledger disagree, so a rebuild is forced.
func (j *Journal) undo(ctx context.Context, op string, revert func() error) {
	if err := revert(); err != nil {
		j.logger.Error("reverting transaction log failed", "op", op, "error", err)
		j.manager.ScheduleRebuild(ctx, fmt.Sprintf("%s revert failed: %v", op, err))
	}
}

func validate(tx ledger.Transaction) error {
	want := tx.Type
	if want != ledger.TypeExpense {
		want = ledger.TypeIncome
	}
	return engine.Validate(tx, want)
}
