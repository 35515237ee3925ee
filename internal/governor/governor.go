// Package governor enforces the process-wide concurrency and rate ceilings
// around calls to the transformation service.
package governor

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/MimeLyc/chunked-sql-translator/internal/transform"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Governor admits at most MaxConcurrency calls at once, in arrival order,
// and no more than RPM calls per minute.
type Governor struct {
	sem      *semaphore.Weighted
	limiter  *rate.Limiter
	inFlight atomic.Int64
	peak     atomic.Int64
}

type Option func(*Governor)

// WithLimiter replaces the rate limiter. A nil limiter disables rate limiting.
func WithLimiter(l *rate.Limiter) Option {
	return func(g *Governor) {
		g.limiter = l
	}
}

// New builds a governor. rpm <= 0 disables the rate ceiling.
func New(maxConcurrency int, rpm float64, opts ...Option) (*Governor, error) {
	if maxConcurrency <= 0 {
		return nil, fmt.Errorf("max concurrency must be greater than 0, got %d", maxConcurrency)
	}
	g := &Governor{
		sem: semaphore.NewWeighted(int64(maxConcurrency)),
	}
	if rpm > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(rpm/60), 1)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Do runs fn once a concurrency slot and a rate token are available.
func (g *Governor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("wait for concurrency slot: %w", err)
	}
	defer g.sem.Release(1)

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait for rate limit: %w", err)
		}
	}

	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}

	return fn(ctx)
}

// InFlight reports calls currently executing.
func (g *Governor) InFlight() int64 {
	return g.inFlight.Load()
}

// Peak reports the highest number of concurrent calls observed.
func (g *Governor) Peak() int64 {
	return g.peak.Load()
}

// Wrap returns a Service whose every call goes through g.
func (g *Governor) Wrap(svc transform.Service) transform.Service {
	return transform.ServiceFunc(func(ctx context.Context, req transform.Request) (*transform.Result, error) {
		var res *transform.Result
		err := g.Do(ctx, func(ctx context.Context) error {
			var err error
			res, err = svc.Transform(ctx, req)
			return err
		})
		return res, err
	})
}
