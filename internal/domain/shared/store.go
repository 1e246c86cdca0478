package shared

import (
	"context"
	"errors"
)

// ErrStateNotFound is returned by a StateStore when the key has never been written.
var ErrStateNotFound = errors.New("state not found")

// StateStore is the key-value persistence the engine saves its full state into.
// Implementations live in infrastructure/persistence.
type StateStore interface {
	// Get returns the value for key or ErrStateNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set overwrites the value for key.
	Set(ctx context.Context, key string, value []byte) error
}
