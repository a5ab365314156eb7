package querycache

import (
	"context"

	"github.com/pompierapp/firequiz/apperr"
	"github.com/pompierapp/firequiz/log"
	"github.com/pompierapp/firequiz/retry"
)

// defaultMutationAttempts is the initial attempt plus two immediate retries.
const defaultMutationAttempts = 3

// Mutation is a remote write plus the cache reconciliation applied on
// success.
type Mutation struct {
	// Name appears in logs and metrics.
	Name string

	// Op performs the remote write and returns its result.
	Op func(ctx context.Context) (interface{}, error)

	// OnSuccess reconciles the cache (invalidations, direct writes). It
	// runs before Run returns, so a dependent read issued after a
	// reported-successful mutation never sees pre-write data.
	OnSuccess func(c *Cache, result interface{})

	// MaxAttempts overrides the default of three (two immediate
	// retries).
	MaxAttempts int
}

// Mutator executes mutations against the remote store and keeps the cache
// coherent afterwards.
type Mutator struct {
	cache *Cache
}

// NewMutator builds a Mutator reconciling the given cache.
func NewMutator(cache *Cache) *Mutator {
	return &Mutator{cache: cache}
}

// Run executes the mutation. Failures classified retryable are retried
// immediately, without backoff. The reconciliation step completes before the
// result is returned.
func (m *Mutator) Run(ctx context.Context, mut Mutation) (interface{}, error) {
	attempts := mut.MaxAttempts
	if attempts < 1 {
		attempts = defaultMutationAttempts
	}

	var res interface{}
	err := retry.Do(ctx, func(ctx context.Context) error {
		var oerr error
		res, oerr = mut.Op(ctx)
		return oerr
	}, retry.Options{
		MaxAttempts: attempts,
		Backoff:     retry.None,
		IsRetryable: apperr.IsRetryable,
		OnRetry: func(attempt int, err error) {
			log.Debugf("mutation %q: retrying (attempt %d): %s", mut.Name, attempt, err)
		},
	})
	if err != nil {
		mutationErrors.Inc()
		return nil, err
	}

	if mut.OnSuccess != nil {
		mut.OnSuccess(m.cache, res)
	}
	mutationSuccess.Inc()
	return res, nil
}
