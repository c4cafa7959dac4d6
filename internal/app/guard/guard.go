// Package guard serializes the engine's mutating operations and rejects
// recursive entry. Concurrent operations from independent callers queue on
// the lock; a call re-entering from inside a guarded operation (its context
// already carries the marker) is refused instead of deadlocking.
package guard

import (
	"context"
	"sync"

	"github.com/R3E-Network/settlement_engine/internal/errors"
)

type ctxKey struct{}

// Guard is the engine-wide operation lock.
type Guard struct {
	mu sync.Mutex
}

// New creates a guard.
func New() *Guard {
	return &Guard{}
}

// Enter acquires the guard for one operation. The returned context marks the
// operation as in progress and must be passed to nested calls; release must
// be called exactly once when the operation finishes.
func (g *Guard) Enter(ctx context.Context, op string) (context.Context, func(), error) {
	if _, ok := ctx.Value(ctxKey{}).(string); ok {
		return nil, nil, errors.Reentrancy(op)
	}

	g.mu.Lock()
	return context.WithValue(ctx, ctxKey{}, op), g.mu.Unlock, nil
}

// Held reports whether ctx is inside a guarded operation.
func Held(ctx context.Context) bool {
	_, ok := ctx.Value(ctxKey{}).(string)
	return ok
}
