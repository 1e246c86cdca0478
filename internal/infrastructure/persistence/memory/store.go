// Package memory keeps engine state in process memory. Nothing survives a
// restart; it backs GRINDSTONE_STORE=memory and local experiments.
package memory

import (
	"context"
	"sync"

	"github.com/grindstone-hq/grindstone/internal/domain/ledger"
	"github.com/grindstone-hq/grindstone/internal/domain/shared"
)

// Store implements shared.StateStore and ledger.Archive.
type Store struct {
	mu     sync.RWMutex
	values map[string][]byte
	txs    []ledger.Transaction
	seen   map[string]struct{}
}

var (
	_ shared.StateStore = (*Store)(nil)
	_ ledger.Archive    = (*Store)(nil)
)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		values: make(map[string][]byte),
		seen:   make(map[string]struct{}),
	}
}

// Get returns a copy of the stored value.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return nil, shared.ErrStateNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of value.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = append([]byte(nil), value...)
	return nil
}

// Append archives txs, skipping ids already present.
func (s *Store) Append(_ context.Context, txs []ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tx := range txs {
		if _, dup := s.seen[tx.ID]; dup {
			continue
		}
		s.seen[tx.ID] = struct{}{}
		s.txs = append(s.txs, tx)
	}
	return nil
}

// Recent returns up to limit of the newest transactions, oldest first.
func (s *Store) Recent(_ context.Context, limit int) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		return nil, nil
	}
	start := len(s.txs) - limit
	if start < 0 {
		start = 0
	}
	return append([]ledger.Transaction(nil), s.txs[start:]...), nil
}

// Count returns the number of archived transactions.
func (s *Store) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.txs), nil
}
