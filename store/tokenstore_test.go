package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisTokenStore(t *testing.T) TokenStore {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{s.Addr()},
	})
	t.Cleanup(func() { client.Close() })
	return NewRedisTokenStore(client)
}

func TestTokenStoreRoundTrip(t *testing.T) {
	stores := map[string]TokenStore{
		"memory": NewMemoryTokenStore(),
		"redis":  newRedisTokenStore(t),
	}

	for name, ts := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			token, err := ts.Load(ctx)
			require.NoError(t, err)
			assert.Empty(t, token, "fresh store must be empty")

			require.NoError(t, ts.Save(ctx, "tok-1"))
			token, err = ts.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, "tok-1", token)

			// overwrite wins
			require.NoError(t, ts.Save(ctx, "tok-2"))
			token, _ = ts.Load(ctx)
			assert.Equal(t, "tok-2", token)

			require.NoError(t, ts.Clear(ctx))
			token, err = ts.Load(ctx)
			require.NoError(t, err)
			assert.Empty(t, token)
		})
	}
}
