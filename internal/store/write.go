package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/moneyage/internal/ledger"
)

// SavePool inserts or replaces a pool by id.
func (s *Store) SavePool(ctx context.Context, p ledger.ResourcePool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resource_pools (`+poolColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			income_transaction_id = excluded.income_transaction_id,
			original_amount       = excluded.original_amount,
			remaining_amount      = excluded.remaining_amount,
			consumed_amount       = excluded.consumed_amount,
			created_at            = excluded.created_at,
			seq                   = excluded.seq,
			first_consumed_at     = excluded.first_consumed_at,
			last_consumed_at      = excluded.last_consumed_at,
			fully_consumed_at     = excluded.fully_consumed_at,
			consumption_count     = excluded.consumption_count,
			unfunded              = excluded.unfunded
	`,
		p.ID,
		p.IncomeTransactionID,
		p.OriginalAmount,
		p.RemainingAmount,
		p.ConsumedAmount,
		ledger.FormatTime(p.CreatedAt),
		p.Seq,
		nullableTime(p.FirstConsumedAt),
		nullableTime(p.LastConsumedAt),
		nullableTime(p.FullyConsumedAt),
		p.ConsumptionCount,
		p.Unfunded,
	)
	if err != nil {
		return fmt.Errorf("save pool %s: %w", p.ID, err)
	}
	return nil
}

// DeletePool removes a pool. Deleting a missing pool is not an error.
// Fails with a foreign key error while consumptions still reference the pool.
func (s *Store) DeletePool(ctx context.Context, poolID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM resource_pools WHERE id = ?`, poolID); err != nil {
		return fmt.Errorf("delete pool %s: %w", poolID, err)
	}
	return nil
}

// SaveConsumption inserts or replaces a consumption by id.
// The referenced pool must exist (foreign key constraint).
func (s *Store) SaveConsumption(ctx context.Context, c ledger.ResourceConsumption) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resource_consumptions (`+consumptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			resource_pool_id       = excluded.resource_pool_id,
			expense_transaction_id = excluded.expense_transaction_id,
			amount                 = excluded.amount,
			consumed_at            = excluded.consumed_at,
			expense_seq            = excluded.expense_seq,
			age_days               = excluded.age_days
	`,
		c.ID,
		c.ResourcePoolID,
		c.ExpenseTransactionID,
		c.Amount,
		ledger.FormatTime(c.ConsumedAt),
		c.ExpenseSeq,
		c.AgeDays,
	)
	if err != nil {
		return fmt.Errorf("save consumption %s: %w", c.ID, err)
	}
	return nil
}

// DeleteConsumption removes a consumption. Deleting a missing consumption is not an error.
func (s *Store) DeleteConsumption(ctx context.Context, consumptionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM resource_consumptions WHERE id = ?`, consumptionID); err != nil {
		return fmt.Errorf("delete consumption %s: %w", consumptionID, err)
	}
	return nil
}

// ClearAll removes every pool and consumption in one transaction.
// The transaction log, change log and snapshots are kept.
func (s *Store) ClearAll(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM resource_consumptions`); err != nil {
			return fmt.Errorf("clear consumptions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM resource_pools`); err != nil {
			return fmt.Errorf("clear pools: %w", err)
		}
		return nil
	})
}

// AppendChangeLog appends an audit entry and drops everything but the newest
// ledger.ChangeLogLimit entries.
func (s *Store) AppendChangeLog(ctx context.Context, ch ledger.ResourcePoolChange) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pool_changes (kind, pool_id, delta, transaction_id, at)
			VALUES (?, ?, ?, ?, ?)
		`, string(ch.Kind), ch.PoolID, ch.Delta, ch.TransactionID, ledger.FormatTime(ch.At)); err != nil {
			return fmt.Errorf("append change: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM pool_changes
			WHERE id NOT IN (SELECT id FROM pool_changes ORDER BY id DESC LIMIT ?)
		`, ledger.ChangeLogLimit); err != nil {
			return fmt.Errorf("truncate changes: %w", err)
		}
		return nil
	})
}

// SaveSnapshot stores a snapshot, replacing any earlier snapshot of the same day.
func (s *Store) SaveSnapshot(ctx context.Context, snap ledger.MoneyAgeSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO money_age_snapshots
		(date, money_age_days, money_age, level, total_pools, active_pools, total_remaining,
		 expenses, health_count, warning_count, danger_count, taken_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ledger.FormatTime(ledger.StartOfDay(snap.Date)),
		snap.MoneyAgeDays,
		snap.MoneyAge,
		string(snap.Level),
		snap.TotalPools,
		snap.ActivePools,
		snap.TotalRemaining,
		snap.Expenses,
		snap.HealthCount,
		snap.WarningCount,
		snap.DangerCount,
		ledger.FormatTime(snap.TakenAt),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

const (
	metaPendingRebuild = "pending_rebuild"
	metaPendingReason  = "pending_reason"
)

// SetPendingRebuild persists the rebuild flag so it survives restarts.
func (s *Store) SetPendingRebuild(ctx context.Context, pending bool, reason string) error {
	value := "0"
	if pending {
		value = "1"
	} else {
		reason = ""
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for key, v := range map[string]string{metaPendingRebuild: value, metaPendingReason: reason} {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO ledger_meta (key, value) VALUES (?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value
			`, key, v); err != nil {
				return fmt.Errorf("set %s: %w", key, err)
			}
		}
		return nil
	})
}
