// Rate limits cache population against a slow backing store.

package storage

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/maruel/statedb/internal/errors"
	"github.com/maruel/statedb/internal/table"
)

// Throttled limits the rate of Select calls reaching the wrapped Storage
// with a token bucket. Commit is not limited.
type Throttled struct {
	table.Storage
	limiter *rate.Limiter
}

// NewThrottled wraps s to allow perSecond selects with the given burst.
// perSecond <= 0 means unlimited.
func NewThrottled(s table.Storage, perSecond float64, burst int) *Throttled {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &Throttled{Storage: s, limiter: rate.NewLimiter(limit, max(burst, 1))}
}

// Select waits for a token, then delegates. It fails when ctx ends first.
func (t *Throttled) Select(ctx context.Context, info *table.TableInfo, key string, cond *table.Condition) (*table.Entries, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, errors.Storage("select throttled", err).With("table", info.Name)
	}
	return t.Storage.Select(ctx, info, key, cond)
}

// Keys implements table.KeyLister when the wrapped Storage does.
func (t *Throttled) Keys(ctx context.Context, info *table.TableInfo) ([]string, error) {
	kl, ok := t.Storage.(table.KeyLister)
	if !ok {
		return nil, errors.New(errors.Internal, "storage cannot list keys")
	}
	return kl.Keys(ctx, info)
}
