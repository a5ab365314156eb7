// Package querycache is the process-wide keyed cache of asynchronous read
// results. It decides when to serve cached data versus trigger a refetch,
// deduplicates concurrent fetches for the same key, evicts unused entries
// and falls back to cache-only reads while offline.
//
// A Cache is an explicit constructed object, injected where needed; tests
// run as many isolated instances as they want.
package querycache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mohae/deepcopy"
	"golang.org/x/time/rate"

	"github.com/pompierapp/firequiz/apperr"
	"github.com/pompierapp/firequiz/config"
	"github.com/pompierapp/firequiz/log"
	"github.com/pompierapp/firequiz/retry"
)

// ErrMissing is returned when the entry isn't found in the cache and no
// fetch is allowed (read disabled).
var ErrMissing = errors.New("missing cache entry")

// ErrOffline is returned when the device is offline and the cache holds
// nothing for the key.
var ErrOffline = errors.New("offline and no cached entry")

// Status of a cache entry.
type Status uint8

const (
	StatusIdle Status = iota
	StatusFetching
	StatusSuccess
	StatusError
)

// FetchFunc loads the value for a key from the remote store.
type FetchFunc func(ctx context.Context) (interface{}, error)

type flight struct {
	done  chan struct{}
	value interface{}
	err   error
}

type entry struct {
	key       Key
	value     interface{}
	err       error
	status    Status
	fetchedAt time.Time

	// stale forces a refetch on next observation regardless of age
	stale bool

	staleTime time.Duration
	gcTime    time.Duration

	observers    int
	lastObserved time.Time

	// last fetch function seen for this key, used by the online-again
	// refetch sweep
	fetch FetchFunc

	// shared in-flight fetch; concurrent readers join it
	flight *flight
}

// Options tune a Cache. Zero values fall back to the defaults below.
type Options struct {
	// StaleTime is the default age after which a cached value warrants a
	// refetch on the next read.
	StaleTime time.Duration

	// GCTime is the default age since last observation after which an
	// unobserved entry is evicted.
	GCTime time.Duration

	// GCInterval is how often the eviction pass runs.
	GCInterval time.Duration

	// MaxAttempts caps fetch attempts (exponential backoff in between).
	MaxAttempts int

	// RetryDelay is the base fetch backoff delay.
	RetryDelay time.Duration

	// RetryCap bounds the fetch backoff delay.
	RetryCap time.Duration

	// RefetchPerSec throttles the refetch sweep after connectivity
	// returns.
	RefetchPerSec float64

	// Clock and Sleep are injectable for tests.
	Clock func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

const (
	defaultStaleTime  = 5 * time.Minute
	defaultGCTime     = 5 * time.Minute
	defaultGCInterval = time.Minute
	defaultAttempts   = 3
	defaultRetryDelay = time.Second
	defaultRetryCap   = 30 * time.Second
)

// FromConfig maps the tuning file onto Options.
func FromConfig(cfg config.CacheConfig) Options {
	return Options{
		StaleTime:     time.Duration(cfg.StaleTime),
		GCTime:        time.Duration(cfg.GCTime),
		GCInterval:    time.Duration(cfg.GCInterval),
		MaxAttempts:   cfg.MaxAttempts,
		RetryDelay:    time.Duration(cfg.RetryDelay),
		RetryCap:      time.Duration(cfg.RetryCap),
		RefetchPerSec: cfg.RefetchPerSec,
	}
}

// Cache holds the entries. The exported methods are the only sanctioned
// mutation path; values returned to callers are deep copies, so cached state
// can't be mutated from outside.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	online  bool

	opts    Options
	limiter *rate.Limiter

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New builds a Cache and starts its eviction loop. Call Close to stop it.
func New(opts Options) *Cache {
	if opts.StaleTime == 0 {
		opts.StaleTime = defaultStaleTime
	}
	if opts.GCTime == 0 {
		opts.GCTime = defaultGCTime
	}
	if opts.GCInterval <= 0 {
		opts.GCInterval = defaultGCInterval
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = defaultAttempts
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.RetryCap == 0 {
		opts.RetryCap = defaultRetryCap
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	var limiter *rate.Limiter
	if opts.RefetchPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RefetchPerSec), 1)
	}

	c := &Cache{
		entries: make(map[string]*entry),
		online:  true,
		opts:    opts,
		limiter: limiter,
		stopCh:  make(chan struct{}),
	}

	c.wg.Add(1)
	go func() {
		log.Debugf("querycache: cleaner start")
		c.cleaner()
		c.wg.Done()
		log.Debugf("querycache: cleaner stop")
	}()

	return c
}

// Close stops the eviction loop.
func (c *Cache) Close() error {
	close(c.stopCh)
	c.wg.Wait()
	return nil
}

// ReadOptions tune a single read.
type ReadOptions struct {
	// StaleTime overrides the cache default for this entry. Negative
	// means always stale (refetch on every observation).
	StaleTime time.Duration

	// GCTime overrides the cache default for this entry.
	GCTime time.Duration

	// Disabled serves only from cache, never fetching. A miss returns
	// ErrMissing.
	Disabled bool
}

// Read returns the cached value for key when it is fresh, otherwise invokes
// fetch, caches the result and returns it. Concurrent reads for the same key
// share a single in-flight fetch. Fetch failures are retried with
// exponential backoff unless classified non-retryable, in which case they
// fail immediately.
func (c *Cache) Read(ctx context.Context, key Key, fetch FetchFunc, opts ReadOptions) (interface{}, error) {
	c.mu.Lock()
	e := c.ensure(key, opts)
	now := c.opts.Clock()
	e.lastObserved = now
	if fetch != nil {
		e.fetch = fetch
	}

	if e.status == StatusSuccess && !e.stale && now.Sub(e.fetchedAt) < e.staleTime {
		v := deepcopy.Copy(e.value)
		c.mu.Unlock()
		cacheHits.Inc()
		return v, nil
	}

	if opts.Disabled {
		if e.status == StatusSuccess {
			v := deepcopy.Copy(e.value)
			c.mu.Unlock()
			cacheHits.Inc()
			return v, nil
		}
		c.mu.Unlock()
		return nil, ErrMissing
	}

	if !c.online {
		// cache-only mode: a stale value beats a network attempt we
		// know will fail
		if e.status == StatusSuccess {
			v := deepcopy.Copy(e.value)
			c.mu.Unlock()
			cacheOfflineHits.Inc()
			return v, nil
		}
		c.mu.Unlock()
		return nil, ErrOffline
	}

	if f := e.flight; f != nil {
		c.mu.Unlock()
		return awaitFlight(ctx, f)
	}

	if e.status == StatusIdle || e.status == StatusError {
		cacheMisses.Inc()
	} else {
		cacheStaleRefetches.Inc()
	}

	f := &flight{done: make(chan struct{})}
	e.flight = f
	e.status = StatusFetching
	fn := e.fetch
	c.mu.Unlock()

	c.runFetch(ctx, e, f, fn)
	return deepcopy.Copy(f.value), f.err
}

func awaitFlight(ctx context.Context, f *flight) (interface{}, error) {
	select {
	case <-f.done:
		if f.err != nil {
			return nil, f.err
		}
		return deepcopy.Copy(f.value), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runFetch performs the retried fetch and publishes the outcome to both the
// entry and the shared flight.
func (c *Cache) runFetch(ctx context.Context, e *entry, f *flight, fetch FetchFunc) {
	var v interface{}
	err := retry.Do(ctx, func(ctx context.Context) error {
		var ferr error
		v, ferr = fetch(ctx)
		return ferr
	}, retry.Options{
		MaxAttempts: c.opts.MaxAttempts,
		Delay:       c.opts.RetryDelay,
		Cap:         c.opts.RetryCap,
		Backoff:     retry.Exponential,
		IsRetryable: apperr.IsRetryable,
		OnRetry: func(attempt int, err error) {
			cacheFetchRetries.Inc()
			log.Debugf("querycache: retrying fetch for %s (attempt %d): %s", e.key, attempt, err)
		},
		Sleep: c.opts.Sleep,
	})

	c.mu.Lock()
	if err == nil {
		e.value = v
		e.err = nil
		e.status = StatusSuccess
		e.stale = false
		e.fetchedAt = c.opts.Clock()
		f.value = v
	} else {
		e.err = err
		e.status = StatusError
		f.err = err
		cacheFetchErrors.Inc()
	}
	if e.flight == f {
		e.flight = nil
	}
	c.mu.Unlock()

	close(f.done)
}

// Invalidate marks every entry whose key extends prefix as stale, so the
// next observation refetches it. Returns the number of entries touched.
func (c *Cache) Invalidate(prefix Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			e.stale = true
			n++
		}
	}
	if n > 0 {
		cacheInvalidations.Add(float64(n))
	}
	return n
}

// Write replaces the cached value for key without a network call, marking
// the entry fresh. Used for optimistic updates after a successful write.
func (c *Cache) Write(key Key, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.ensure(key, ReadOptions{})
	e.value = deepcopy.Copy(value)
	e.err = nil
	e.status = StatusSuccess
	e.stale = false
	e.fetchedAt = c.opts.Clock()
}

// Update applies fn to a copy of the cached value and stores the result,
// marking the entry fresh. It reports whether an entry with a value existed.
func (c *Cache) Update(key Key, fn func(interface{}) interface{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key.id()]
	if !ok || e.status != StatusSuccess {
		return false
	}
	e.value = fn(deepcopy.Copy(e.value))
	e.stale = false
	e.fetchedAt = c.opts.Clock()
	return true
}

// Handle pins a cache entry as observed. While at least one handle is held,
// the entry is never evicted.
type Handle struct {
	c       *Cache
	id      string
	release sync.Once
}

// Observe registers an observer on key.
func (c *Cache) Observe(key Key) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.ensure(key, ReadOptions{})
	e.observers++
	e.lastObserved = c.opts.Clock()
	return &Handle{c: c, id: key.id()}
}

// Release drops the observation. Safe to call more than once.
func (h *Handle) Release() {
	h.release.Do(func() {
		h.c.mu.Lock()
		defer h.c.mu.Unlock()
		if e, ok := h.c.entries[h.id]; ok {
			e.observers--
			e.lastObserved = h.c.opts.Clock()
		}
	})
}

// Online reports the current connectivity mode.
func (c *Cache) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// SetOnline switches the network mode. On the offline-to-online transition
// every currently-observed entry is refetched exactly once, throttled by the
// refetch limiter. Intended to be driven by the connectivity watcher.
func (c *Cache) SetOnline(online bool) {
	c.mu.Lock()
	if c.online == online {
		c.mu.Unlock()
		return
	}
	c.online = online
	if !online {
		c.mu.Unlock()
		log.Infof("querycache: offline, serving cached reads only")
		return
	}

	var targets []*entry
	for _, e := range c.entries {
		if e.observers > 0 && e.fetch != nil {
			e.stale = true
			targets = append(targets, e)
		}
	}
	c.mu.Unlock()

	log.Infof("querycache: back online, refetching %d observed entries", len(targets))
	ctx := context.Background()
	for _, e := range targets {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
		}
		c.refetch(ctx, e)
	}
}

// refetch re-runs the entry's fetch unless one is already in flight.
func (c *Cache) refetch(ctx context.Context, e *entry) {
	c.mu.Lock()
	if e.flight != nil || e.fetch == nil {
		c.mu.Unlock()
		return
	}
	f := &flight{done: make(chan struct{})}
	e.flight = f
	e.status = StatusFetching
	fetch := e.fetch
	c.mu.Unlock()

	c.runFetch(ctx, e, f, fetch)
}

func (c *Cache) ensure(key Key, opts ReadOptions) *entry {
	id := key.id()
	e, ok := c.entries[id]
	if !ok {
		e = &entry{
			key:       key,
			staleTime: c.opts.StaleTime,
			gcTime:    c.opts.GCTime,
		}
		c.entries[id] = e
	}
	if opts.StaleTime != 0 {
		e.staleTime = opts.StaleTime
	}
	if opts.GCTime != 0 {
		e.gcTime = opts.GCTime
	}
	return e
}

// cleaner evicts unobserved entries past their gcTime. Entries with active
// observers survive regardless of age.
func (c *Cache) cleaner() {
	for {
		select {
		case <-time.After(c.opts.GCInterval):
			c.evict()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache) evict() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Clock()
	for id, e := range c.entries {
		if e.observers > 0 || e.flight != nil {
			continue
		}
		if now.Sub(e.lastObserved) > e.gcTime {
			delete(c.entries, id)
			cacheEvictions.Inc()
		}
	}
}

// Len reports the number of live entries. For tests and debugging.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Entry returns the cached value and status for key without observing it.
func (c *Cache) Entry(key Key) (interface{}, Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key.id()]
	if !ok {
		return nil, StatusIdle, false
	}
	return deepcopy.Copy(e.value), e.status, true
}

// Stale reports whether the entry exists and is currently marked stale.
func (c *Cache) Stale(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key.id()]
	if !ok {
		return false
	}
	return e.stale || c.opts.Clock().Sub(e.fetchedAt) >= e.staleTime
}
