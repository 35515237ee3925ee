// Package dedup collapses concurrent identical operations into one shared
// execution. Every caller receives its own deep copy of the result.
package dedup

import (
	"context"
	"fmt"

	"github.com/MimeLyc/chunked-sql-translator/pkg/log"
	"golang.org/x/sync/singleflight"
)

// Cloner is implemented by results that can be shared between callers.
// Clone must return a value that shares no mutable state with the receiver.
type Cloner[T any] interface {
	Clone() T
}

// Registry tracks in-flight executions. The zero value is not usable; one
// registry is built per process and passed to the components that need it.
type Registry struct {
	group singleflight.Group
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Forget drops key so the next call starts a new execution even while an
// older one is still running.
func (r *Registry) Forget(key string) {
	r.group.Forget(key)
}

// Do runs fn at most once per concurrent key derived from op and args.
// The first caller starts fn detached from its own cancellation; callers
// arriving while it runs wait for the same outcome. Errors reach every
// waiter unchanged and the key is released once fn returns.
func Do[T Cloner[T]](ctx context.Context, r *Registry, op string, fn func(ctx context.Context) (T, error), args ...any) (T, error) {
	var zero T
	key, err := Key(op, args...)
	if err != nil {
		return zero, err
	}
	return DoKey(ctx, r, key, fn)
}

// DoKey is Do with a caller-supplied key.
func DoKey[T Cloner[T]](ctx context.Context, r *Registry, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if r == nil {
		return zero, fmt.Errorf("dedup registry is nil")
	}

	detached := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key, func() (any, error) {
		return fn(detached)
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Shared {
			log.Debug("Shared in-flight result for %s", key)
		}
		if res.Err != nil {
			return zero, res.Err
		}
		value, ok := res.Val.(T)
		if !ok {
			return zero, fmt.Errorf("dedup key %s holds %T, not %T", key, res.Val, zero)
		}
		return value.Clone(), nil
	}
}
