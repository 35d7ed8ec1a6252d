package testutil

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/moneyage/internal/ledger"
)

// Epoch is day 0 of every fixture timeline.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Day returns midnight UTC n days after Epoch.
func Day(n int) time.Time {
	return Epoch.AddDate(0, 0, n)
}

// Dec parses a decimal literal and panics on malformed input.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Income builds an income transaction dated day n.
// Seq is left zero; the transaction log assigns it on append.
func Income(id, amount string, day int) ledger.Transaction {
	return ledger.Transaction{ID: id, Type: ledger.TypeIncome, Amount: Dec(amount), Date: Day(day)}
}

// Expense builds an expense transaction dated day n.
func Expense(id, amount string, day int) ledger.Transaction {
	return ledger.Transaction{ID: id, Type: ledger.TypeExpense, Amount: Dec(amount), Date: Day(day)}
}

// Sequencer assigns increasing seq values to fixture transactions the way
// the transaction log does on append.
type Sequencer struct {
	next int64
}

// Stamp returns tx with the next seq.
func (s *Sequencer) Stamp(tx ledger.Transaction) ledger.Transaction {
	s.next++
	tx.Seq = s.next
	return tx
}

// StampAll stamps txs in slice order.
func (s *Sequencer) StampAll(txs ...ledger.Transaction) []ledger.Transaction {
	out := make([]ledger.Transaction, len(txs))
	for i, tx := range txs {
		out[i] = s.Stamp(tx)
	}
	return out
}
