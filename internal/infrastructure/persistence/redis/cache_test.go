package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_UnreachableServer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.MaxRetries = -1
	cfg.DialTimeout = 200 * time.Millisecond

	client, err := NewClient(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCacheConnection)
	assert.Nil(t, client)
}

func TestStateStore_Keys(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()

	assert.Equal(t, "grindstone:state:engine", NewStateStore(client, "").Key("engine"))
	assert.Equal(t, "test:engine", NewStateStore(client, "test:").Key("engine"))

	store := NewStateStore(client, "")
	_, err := store.Get(context.Background(), "")
	assert.ErrorIs(t, err, ErrCacheKeyEmpty)
	assert.ErrorIs(t, store.Set(context.Background(), "", []byte("x")), ErrCacheKeyEmpty)
}
