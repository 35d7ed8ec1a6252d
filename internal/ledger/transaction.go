package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType distinguishes incomes from expenses.
type TransactionType string

const (
	TypeIncome  TransactionType = "income"
	TypeExpense TransactionType = "expense"
)

// ParseTransactionType parses a case-insensitive transaction type name.
func ParseTransactionType(s string) (TransactionType, error) {
	switch TransactionType(strings.ToLower(strings.TrimSpace(s))) {
	case TypeIncome:
		return TypeIncome, nil
	case TypeExpense:
		return TypeExpense, nil
	default:
		return "", fmt.Errorf("unknown transaction type %q: must be income or expense", s)
	}
}

// Transaction is one entry of the external transaction log.
type Transaction struct {
	ID     string          `json:"id"`
	Type   TransactionType `json:"type"`
	Amount decimal.Decimal `json:"amount"`
	Date   time.Time       `json:"date"`

	// Seq is the insertion order assigned by the log. It never changes on edit.
	Seq  int64  `json:"seq"`
	Note string `json:"note"`
}

// Key returns the replay ordering key of the transaction.
func (t Transaction) Key() OrderKey {
	return OrderKey{Date: t.Date.UTC(), Seq: t.Seq}
}

// OrderKey orders transactions by (Date ASC, Seq ASC).
type OrderKey struct {
	Date time.Time
	Seq  int64
}

// Before reports whether k sorts strictly before other.
func (k OrderKey) Before(other OrderKey) bool {
	if !k.Date.Equal(other.Date) {
		return k.Date.Before(other.Date)
	}
	return k.Seq < other.Seq
}

// IsZero reports whether the key is unset.
func (k OrderKey) IsZero() bool {
	return k.Date.IsZero() && k.Seq == 0
}

// Later returns whichever of k and other sorts last.
func (k OrderKey) Later(other OrderKey) OrderKey {
	if k.Before(other) {
		return other
	}
	return k
}

func (k OrderKey) String() string {
	return fmt.Sprintf("%s#%d", k.Date.UTC().Format(time.RFC3339), k.Seq)
}

// AgeDays returns the number of whole UTC calendar days from `from` to `to`.
// Negative spans (money received after it was spent) clamp to zero.
func AgeDays(from, to time.Time) int {
	f := startOfDay(from)
	t := startOfDay(to)
	if !t.After(f) {
		return 0
	}
	return int(t.Sub(f) / (24 * time.Hour))
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	return startOfDay(t)
}

// dateLayouts are the accepted user-facing date forms, most specific first.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseDate parses a user-supplied date. Forms without a zone are UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC 3339", s)
}

func startOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
