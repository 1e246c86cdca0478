package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/grindstone-hq/grindstone/internal/domain/ledger"
	"github.com/grindstone-hq/grindstone/internal/domain/reward"
	"github.com/grindstone-hq/grindstone/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATE STORE
// ══════════════════════════════════════════════════════════════════════════════

// StateStore implements shared.StateStore on the engine_state table.
type StateStore struct {
	conn *Connection
}

// NewStateStore creates a new StateStore.
func NewStateStore(conn *Connection) *StateStore {
	return &StateStore{conn: conn}
}

var _ shared.StateStore = (*StateStore)(nil)

// Get returns the stored value for key.
func (s *StateStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.conn.QueryRow(ctx, `SELECT value FROM engine_state WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to get state %q: %w", key, err)
	}
	return value, nil
}

// Set upserts the value for key.
func (s *StateStore) Set(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO engine_state (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.conn.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set state %q: %w", key, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTION ARCHIVE
// ══════════════════════════════════════════════════════════════════════════════

// TransactionArchive implements ledger.Archive on the xp_transactions table.
type TransactionArchive struct {
	conn *Connection
}

// NewTransactionArchive creates a new TransactionArchive.
func NewTransactionArchive(conn *Connection) *TransactionArchive {
	return &TransactionArchive{conn: conn}
}

var _ ledger.Archive = (*TransactionArchive)(nil)

// Append inserts txs in one transaction. Ids already archived are skipped.
func (a *TransactionArchive) Append(ctx context.Context, txs []ledger.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	query := `
		INSERT INTO xp_transactions (
			id, occurred_at, source, base_amount, multiplier,
			bonus_type, total_amount, previous_xp, new_xp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`

	return a.conn.WithTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, t := range txs {
			batch.Queue(query,
				t.ID,
				t.Timestamp,
				t.Source,
				t.BaseAmount,
				t.Multiplier,
				bonusToNullable(t.BonusType),
				t.TotalAmount,
				t.PreviousXP,
				t.NewXP,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to archive transactions: %w", err)
		}
		return nil
	})
}

// Recent returns up to limit of the newest transactions, oldest first.
func (a *TransactionArchive) Recent(ctx context.Context, limit int) ([]ledger.Transaction, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT id, occurred_at, source, base_amount, multiplier,
		       bonus_type, total_amount, previous_xp, new_xp
		FROM (
			SELECT * FROM xp_transactions ORDER BY seq DESC LIMIT $1
		) newest
		ORDER BY seq ASC
	`

	rows, err := a.conn.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		var (
			t     ledger.Transaction
			bonus *string
		)
		if err := rows.Scan(
			&t.ID,
			&t.Timestamp,
			&t.Source,
			&t.BaseAmount,
			&t.Multiplier,
			&bonus,
			&t.TotalAmount,
			&t.PreviousXP,
			&t.NewXP,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.BonusType = bonusFromNullable(bonus)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return out, nil
}

// Count returns the number of archived transactions.
func (a *TransactionArchive) Count(ctx context.Context) (int, error) {
	var n int
	if err := a.conn.QueryRow(ctx, `SELECT COUNT(*) FROM xp_transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helper Functions
// ─────────────────────────────────────────────────────────────────────────────

func bonusToNullable(b *reward.BonusType) *string {
	if b == nil {
		return nil
	}
	s := string(*b)
	return &s
}

func bonusFromNullable(s *string) *reward.BonusType {
	if s == nil || *s == "" {
		return nil
	}
	b := reward.BonusType(*s)
	return &b
}
