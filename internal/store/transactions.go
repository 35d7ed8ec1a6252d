package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/moneyage/internal/ledger"
)

// AppendTransaction adds a transaction to the log and returns it with the
// assigned seq. Any Seq on the input is ignored.
func (s *Store) AppendTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, type, amount, date, note)
		VALUES (?, ?, ?, ?, ?)
	`, tx.ID, string(tx.Type), tx.Amount, ledger.FormatTime(tx.Date), tx.Note)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.Transaction{}, fmt.Errorf("append transaction %s: %w", tx.ID, ErrDuplicateID)
		}
		return ledger.Transaction{}, fmt.Errorf("append transaction %s: %w", tx.ID, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("append transaction %s: %w", tx.ID, err)
	}
	tx.Seq = seq
	tx.Date = tx.Date.UTC()
	return tx, nil
}

// UpdateTransaction replaces type, amount, date and note of a logged
// transaction. Its seq is kept.
func (s *Store) UpdateTransaction(ctx context.Context, tx ledger.Transaction) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET type = ?, amount = ?, date = ?, note = ?
		WHERE id = ?
	`, string(tx.Type), tx.Amount, ledger.FormatTime(tx.Date), tx.Note, tx.ID)
	if err != nil {
		return fmt.Errorf("update transaction %s: %w", tx.ID, err)
	}
	return requireAffected(res, "update transaction", tx.ID)
}

// DeleteTransaction removes a transaction from the log.
func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}
	return requireAffected(res, "delete transaction", id)
}

// GetTransaction returns one transaction or ErrNotFound.
func (s *Store) GetTransaction(ctx context.Context, id string) (ledger.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, fmt.Errorf("get transaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ledger.Transaction{}, err
	}
	return tx, nil
}

// AllTransactions returns the whole log in replay order (date ASC, seq ASC).
func (s *Store) AllTransactions(ctx context.Context) ([]ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		ORDER BY date ASC, seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	txs := []ledger.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txs, nil
}

func requireAffected(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, ErrNotFound)
	}
	return nil
}
