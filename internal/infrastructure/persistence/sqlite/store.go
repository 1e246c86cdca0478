package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/grindstone-hq/grindstone/internal/domain/ledger"
	"github.com/grindstone-hq/grindstone/internal/domain/reward"
	"github.com/grindstone-hq/grindstone/internal/domain/shared"
)

var (
	_ shared.StateStore = (*DB)(nil)
	_ ledger.Archive    = (*DB)(nil)
)

// ─── State Operations ───────────────────────────────────────────────────────

// Get returns the stored value for key or shared.ErrStateNotFound.
func (db *DB) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := db.db.QueryRowContext(ctx,
		`SELECT value FROM engine_state WHERE key = ?`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get state %q: %w", key, err)
	}
	return value, nil
}

// Set upserts the value for key.
func (db *DB) Set(ctx context.Context, key string, value []byte) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO engine_state (key, value, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			updated_at = datetime('now')
	`, key, value)
	if err != nil {
		return fmt.Errorf("set state %q: %w", key, err)
	}
	return nil
}

// ─── Archive Operations ─────────────────────────────────────────────────────

// Append archives txs in one transaction. Ids already present are skipped.
func (db *DB) Append(ctx context.Context, txs []ledger.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO xp_transactions (
			id, occurred_at, source, base_amount, multiplier,
			bonus_type, total_amount, previous_xp, new_xp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare archive: %w", err)
	}
	defer stmt.Close()

	for _, t := range txs {
		var bonus sql.NullString
		if t.BonusType != nil {
			bonus = sql.NullString{String: string(*t.BonusType), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			t.ID,
			t.Timestamp.UTC().Format(time.RFC3339Nano),
			t.Source,
			t.BaseAmount,
			t.Multiplier,
			bonus,
			t.TotalAmount,
			t.PreviousXP,
			t.NewXP,
		); err != nil {
			return fmt.Errorf("archive %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

// Recent returns up to limit of the newest transactions, oldest first.
func (db *DB) Recent(ctx context.Context, limit int) ([]ledger.Transaction, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := db.db.QueryContext(ctx, `
		SELECT id, occurred_at, source, base_amount, multiplier,
		       bonus_type, total_amount, previous_xp, new_xp
		FROM (SELECT * FROM xp_transactions ORDER BY seq DESC LIMIT ?)
		ORDER BY seq ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		var (
			t     ledger.Transaction
			at    string
			bonus sql.NullString
		)
		if err := rows.Scan(&t.ID, &at, &t.Source, &t.BaseAmount, &t.Multiplier,
			&bonus, &t.TotalAmount, &t.PreviousXP, &t.NewXP); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if t.Timestamp, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("transaction %s: bad timestamp %q: %w", t.ID, at, err)
		}
		if bonus.Valid && bonus.String != "" {
			b := reward.BonusType(bonus.String)
			t.BonusType = &b
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Count returns the number of archived transactions.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM xp_transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}
