package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/moneyage/internal/ledger"
)

// Load returns every pool and consumption.
// Pools are ordered by (created_at, seq, id), consumptions by (consumed_at, expense_seq, id).
//
// Returns empty slices (not nil) if the ledger is empty.
func (s *Store) Load(ctx context.Context) ([]ledger.ResourcePool, []ledger.ResourceConsumption, error) {
	pools, err := s.loadPools(ctx)
	if err != nil {
		return nil, nil, err
	}
	consumptions, err := s.loadConsumptions(ctx)
	if err != nil {
		return nil, nil, err
	}
	return pools, consumptions, nil
}

func (s *Store) loadPools(ctx context.Context) ([]ledger.ResourcePool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+poolColumns+`
		FROM resource_pools
		ORDER BY created_at ASC, seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query pools: %w", err)
	}
	defer rows.Close()

	pools := []ledger.ResourcePool{}
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pools: %w", err)
	}
	return pools, nil
}

func (s *Store) loadConsumptions(ctx context.Context) ([]ledger.ResourceConsumption, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+consumptionColumns+`
		FROM resource_consumptions
		ORDER BY consumed_at ASC, expense_seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query consumptions: %w", err)
	}
	defer rows.Close()

	consumptions := []ledger.ResourceConsumption{}
	for rows.Next() {
		c, err := scanConsumption(rows)
		if err != nil {
			return nil, err
		}
		consumptions = append(consumptions, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consumptions: %w", err)
	}
	return consumptions, nil
}

// ChangeHistory returns up to limit audit entries, newest first.
func (s *Store) ChangeHistory(ctx context.Context, limit int) ([]ledger.ResourcePoolChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, pool_id, delta, transaction_id, at
		FROM pool_changes
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	changes := []ledger.ResourcePoolChange{}
	for rows.Next() {
		ch, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return changes, nil
}

// ListSnapshots returns up to limit snapshots, newest day first.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]ledger.MoneyAgeSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, money_age_days, money_age, level, total_pools, active_pools, total_remaining,
		       expenses, health_count, warning_count, danger_count, taken_at
		FROM money_age_snapshots
		ORDER BY date DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []ledger.MoneyAgeSnapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return snaps, nil
}

// PendingRebuild returns the persisted rebuild flag and its reason.
// A database that never stored the flag reports false.
func (s *Store) PendingRebuild(ctx context.Context) (bool, string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM ledger_meta WHERE key = ?`, metaPendingRebuild).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("read rebuild flag: %w", err)
	}
	if value != "1" {
		return false, "", nil
	}

	var reason string
	err = s.db.QueryRowContext(ctx, `SELECT value FROM ledger_meta WHERE key = ?`, metaPendingReason).Scan(&reason)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, "", fmt.Errorf("read rebuild reason: %w", err)
	}
	return true, reason, nil
}
