package querycache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutatorRetriesImmediately(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, nil)
	m := NewMutator(c)

	calls := 0
	res, err := m.Run(context.Background(), Mutation{
		Name: "save-progress",
		Op: func(context.Context) (interface{}, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("connection reset")
			}
			return "ok", nil
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", res)
	assert.Equal(t, 3, calls)
}

func TestMutatorExhaustsAttempts(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, nil)
	m := NewMutator(c)

	calls := 0
	boom := errors.New("connection reset")
	_, err := m.Run(context.Background(), Mutation{
		Op: func(context.Context) (interface{}, error) {
			calls++
			return nil, boom
		},
	})

	assert.Equal(t, boom, err)
	assert.Equal(t, defaultMutationAttempts, calls)
}

func TestMutatorDoesNotRetryClientErrors(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, nil)
	m := NewMutator(c)

	calls := 0
	_, err := m.Run(context.Background(), Mutation{
		Op: func(context.Context) (interface{}, error) {
			calls++
			return nil, errors.New("Request failed: 403")
		},
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestMutatorReconcilesBeforeReturning(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, nil)
	m := NewMutator(c)
	key := NewKey("session", "current", "u1")

	_, err := m.Run(context.Background(), Mutation{
		Name: "update-session",
		Op: func(context.Context) (interface{}, error) {
			return map[string]interface{}{"score": 10}, nil
		},
		OnSuccess: func(c *Cache, result interface{}) {
			c.Write(key, result)
			c.Invalidate(NewKey("session", "list"))
		},
	})
	require.NoError(t, err)

	// the write must already be visible: a dependent read right after a
	// reported-successful mutation never sees pre-write data
	v, status, found := c.Entry(key)
	require.True(t, found)
	assert.Equal(t, StatusSuccess, status)
	assert.Equal(t, 10, v.(map[string]interface{})["score"])
}
