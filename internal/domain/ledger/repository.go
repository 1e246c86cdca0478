package ledger

import "context"

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Archive keeps the full transaction history beyond the bounded in-memory log.
type Archive interface {
	// Append stores transactions in commit order. Re-appending an id is a no-op.
	Append(ctx context.Context, txs []Transaction) error

	// Recent returns up to limit of the newest transactions, newest last.
	Recent(ctx context.Context, limit int) ([]Transaction, error)

	// Count returns the number of archived transactions.
	Count(ctx context.Context) (int, error)
}
