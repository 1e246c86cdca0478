package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grindstone-hq/grindstone/internal/domain/ledger"
	"github.com/grindstone-hq/grindstone/internal/domain/shared"
)

func TestStore_StateIsCopied(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_, err := s.Get(ctx, "engine")
	assert.ErrorIs(t, err, shared.ErrStateNotFound)

	value := []byte("abc")
	require.NoError(t, s.Set(ctx, "engine", value))
	value[0] = 'x'

	got, err := s.Get(ctx, "engine")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
	got[0] = 'y'

	again, _ := s.Get(ctx, "engine")
	assert.Equal(t, "abc", string(again))
}

func TestStore_Archive(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, []ledger.Transaction{{ID: "a"}, {ID: "b"}}))
	require.NoError(t, s.Append(ctx, []ledger.Transaction{{ID: "b"}, {ID: "c"}}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	recent, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []ledger.Transaction{{ID: "b"}, {ID: "c"}}, recent)

	all, _ := s.Recent(ctx, 10)
	assert.Len(t, all, 3)
	none, _ := s.Recent(ctx, 0)
	assert.Empty(t, none)
}
