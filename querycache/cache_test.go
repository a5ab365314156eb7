package querycache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// countingFetch returns the given value and counts invocations.
type countingFetch struct {
	mu    sync.Mutex
	calls int
	value interface{}
	err   error
}

func (c *countingFetch) fn(context.Context) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.value, nil
}

func (c *countingFetch) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestCache(t *testing.T, clock *fakeClock, delays *[]time.Duration) *Cache {
	t.Helper()
	opts := Options{
		StaleTime:  5 * time.Minute,
		GCTime:     5 * time.Minute,
		GCInterval: time.Hour, // keep the background pass out of the way
		Clock:      clock.Now,
	}
	if delays != nil {
		opts.Sleep = func(_ context.Context, d time.Duration) error {
			*delays = append(*delays, d)
			return nil
		}
	}
	c := New(opts)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestReadCachesByKeyIdentity(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, nil)
	fetch := &countingFetch{value: map[string]interface{}{"id": 42, "titre": "Incendie urbain"}}

	v1, err := c.Read(context.Background(), NewKey("quiz", "detail", 42), fetch.fn, ReadOptions{})
	require.NoError(t, err)

	// equal-by-value key tuple hits the same entry, no second fetch
	v2, err := c.Read(context.Background(), NewKey("quiz", "detail", 42), fetch.fn, ReadOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, fetch.count())
	if diff := cmp.Diff(v1, v2); diff != "" {
		t.Fatalf("cached reads diverge (-first +second):\n%s", diff)
	}
}

func TestReadWithinStaleTime(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, nil)
	fetch := &countingFetch{value: "v"}
	key := NewKey("quiz", "list")

	_, err := c.Read(context.Background(), key, fetch.fn, ReadOptions{StaleTime: 30 * time.Second})
	require.NoError(t, err)

	clock.Advance(29 * time.Second)
	_, err = c.Read(context.Background(), key, fetch.fn, ReadOptions{StaleTime: 30 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 1, fetch.count(), "fresh entry must not refetch")

	clock.Advance(2 * time.Second)
	_, err = c.Read(context.Background(), key, fetch.fn, ReadOptions{StaleTime: 30 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 2, fetch.count(), "stale entry must refetch")
}

func TestConcurrentReadsShareOneFetch(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, nil)
	key := NewKey("quiz", "detail", 7)

	started := make(chan struct{})
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex

	blockingFetch := func(context.Context) (interface{}, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(started)
		<-release
		return "résultat", nil
	}

	var wg sync.WaitGroup
	results := make([]interface{}, 2)
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = c.Read(context.Background(), key, blockingFetch, ReadOptions{})
	}()

	<-started // the flight is registered before the fetch runs

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = c.Read(context.Background(), key, blockingFetch, ReadOptions{})
	}()

	// let the second reader join the in-flight fetch, then finish it
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, calls, "concurrent readers must share one fetch")
	assert.Equal(t, "résultat", results[0])
	assert.Equal(t, "résultat", results[1])
}

func TestConcurrentStaleReadsSwapFetchSafely(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, nil)
	key := NewKey("quiz", "detail", 7)

	first := &countingFetch{value: "v1"}
	_, err := c.Read(context.Background(), key, first.fn, ReadOptions{})
	require.NoError(t, err)

	// every read replaces the stored fetch function; racing stale reads
	// must not observe a half-swapped one
	clock.Advance(10 * time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fetch := &countingFetch{value: "v2"}
			v, err := c.Read(context.Background(), key, fetch.fn, ReadOptions{})
			assert.NoError(t, err)
			assert.Equal(t, "v2", v)
		}()
	}
	wg.Wait()
}

func TestClientErrorFailsWithoutRetry(t *testing.T) {
	clock := newFakeClock()
	var delays []time.Duration
	c := newTestCache(t, clock, &delays)
	fetch := &countingFetch{err: errors.New("Request failed: 403")}

	_, err := c.Read(context.Background(), NewKey("quiz", "detail", 1), fetch.fn, ReadOptions{})
	require.Error(t, err)
	assert.Equal(t, 1, fetch.count(), "client errors must not be retried")
	assert.Empty(t, delays, "no backoff must be waited through")
}

func TestRetryableErrorExhaustsAttempts(t *testing.T) {
	clock := newFakeClock()
	var delays []time.Duration
	c := newTestCache(t, clock, &delays)
	fetch := &countingFetch{err: errors.New("connection refused")}

	_, err := c.Read(context.Background(), NewKey("quiz", "list"), fetch.fn, ReadOptions{})
	require.Error(t, err)
	assert.Equal(t, 3, fetch.count())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestErrorEntryRefetchesOnNextRead(t *testing.T) {
	clock := newFakeClock()
	var delays []time.Duration
	c := newTestCache(t, clock, &delays)
	key := NewKey("quiz", "list")

	failing := &countingFetch{err: errors.New("connection refused")}
	_, err := c.Read(context.Background(), key, failing.fn, ReadOptions{})
	require.Error(t, err)

	ok := &countingFetch{value: "v"}
	v, err := c.Read(context.Background(), key, ok.fn, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestInvalidatePrefix(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, nil)
	ctx := context.Background()

	sessionList := NewKey("session", "list", "u1")
	sessionCurrent := NewKey("session", "current", "u1")
	quizList := NewKey("quiz", "list", map[string]interface{}{})

	for _, k := range []Key{sessionList, sessionCurrent, quizList} {
		_, err := c.Read(ctx, k, (&countingFetch{value: "v"}).fn, ReadOptions{})
		require.NoError(t, err)
	}

	n := c.Invalidate(NewKey("session"))
	assert.Equal(t, 2, n)

	assert.True(t, c.Stale(sessionList))
	assert.True(t, c.Stale(sessionCurrent))
	assert.False(t, c.Stale(quizList))
}

func TestWriteMarksFresh(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, nil)
	key := NewKey("session", "current", "u1")
	fetch := &countingFetch{value: "remote"}

	c.Write(key, "optimistic")

	v, err := c.Read(context.Background(), key, fetch.fn, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "optimistic", v)
	assert.Equal(t, 0, fetch.count(), "a written entry is fresh, no fetch")
}

func TestWriteCopiesValue(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, nil)
	key := NewKey("session", "current", "u1")

	original := map[string]interface{}{"score": 10}
	c.Write(key, original)
	original["score"] = 999 // caller keeps mutating its own map

	v, err := c.Read(context.Background(), key, nil, ReadOptions{Disabled: true})
	require.NoError(t, err)
	assert.Equal(t, 10, v.(map[string]interface{})["score"])
}

func TestUpdate(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, nil)
	key := NewKey("session", "current", "u1")

	assert.False(t, c.Update(key, func(v interface{}) interface{} { return v }))

	c.Write(key, map[string]interface{}{"score": 10})
	ok := c.Update(key, func(v interface{}) interface{} {
		m := v.(map[string]interface{})
		m["score"] = m["score"].(int) + 5
		return m
	})
	assert.True(t, ok)

	v, _, found := c.Entry(key)
	require.True(t, found)
	assert.Equal(t, 15, v.(map[string]interface{})["score"])
}

func TestDisabledReadServesCacheOnly(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, nil)
	key := NewKey("quiz", "detail", 5)
	fetch := &countingFetch{value: "v"}

	_, err := c.Read(context.Background(), key, fetch.fn, ReadOptions{Disabled: true})
	assert.ErrorIs(t, err, ErrMissing)
	assert.Equal(t, 0, fetch.count())
}

func TestObservedEntrySurvivesGC(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, nil)
	ctx := context.Background()

	observed := NewKey("session", "current", "u1")
	abandoned := NewKey("quiz", "list")

	_, err := c.Read(ctx, observed, (&countingFetch{value: "a"}).fn, ReadOptions{})
	require.NoError(t, err)
	_, err = c.Read(ctx, abandoned, (&countingFetch{value: "b"}).fn, ReadOptions{})
	require.NoError(t, err)

	h := c.Observe(observed)
	defer h.Release()

	// far beyond any gcTime
	clock.Advance(48 * time.Hour)
	c.evict()

	assert.Equal(t, 1, c.Len())
	_, _, found := c.Entry(observed)
	assert.True(t, found, "observed entries must never be evicted")
	_, _, found = c.Entry(abandoned)
	assert.False(t, found, "unobserved entries past gcTime must be evicted")
}

func TestReleaseMakesEntryCollectable(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, nil)
	key := NewKey("quiz", "detail", 9)

	_, err := c.Read(context.Background(), key, (&countingFetch{value: "v"}).fn, ReadOptions{})
	require.NoError(t, err)

	h := c.Observe(key)
	clock.Advance(48 * time.Hour)
	c.evict()
	require.Equal(t, 1, c.Len())

	h.Release()
	h.Release() // idempotent
	clock.Advance(48 * time.Hour)
	c.evict()
	assert.Equal(t, 0, c.Len())
}

func TestOfflineReads(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, nil)
	ctx := context.Background()
	cached := NewKey("quiz", "detail", 1)
	fetch := &countingFetch{value: "v"}

	_, err := c.Read(ctx, cached, fetch.fn, ReadOptions{})
	require.NoError(t, err)

	c.SetOnline(false)

	// stale age doesn't matter offline: cached value is served
	clock.Advance(time.Hour)
	v, err := c.Read(ctx, cached, fetch.fn, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	assert.Equal(t, 1, fetch.count(), "no network attempts while offline")

	// a miss while offline fails without a network attempt
	miss := &countingFetch{value: "w"}
	_, err = c.Read(ctx, NewKey("quiz", "detail", 2), miss.fn, ReadOptions{})
	assert.ErrorIs(t, err, ErrOffline)
	assert.Equal(t, 0, miss.count())
}

func TestOnlineTransitionRefetchesObservedOnce(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, nil)
	ctx := context.Background()

	observed := &countingFetch{value: "a"}
	unobserved := &countingFetch{value: "b"}
	obsKey := NewKey("session", "current", "u1")
	otherKey := NewKey("quiz", "list")

	_, err := c.Read(ctx, obsKey, observed.fn, ReadOptions{})
	require.NoError(t, err)
	_, err = c.Read(ctx, otherKey, unobserved.fn, ReadOptions{})
	require.NoError(t, err)

	h := c.Observe(obsKey)
	defer h.Release()

	c.SetOnline(false)
	c.SetOnline(true)

	assert.Equal(t, 2, observed.count(), "observed entry must be refetched exactly once")
	assert.Equal(t, 1, unobserved.count(), "unobserved entries are not refetched")

	// repeated SetOnline(true) is a no-op
	c.SetOnline(true)
	assert.Equal(t, 2, observed.count())
}
