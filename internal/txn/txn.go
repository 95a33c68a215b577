// Package txn lets code running inside a store transaction defer side effects
// until the transaction's fate is known.
package txn

import (
	"context"
	"sync"
)

type ctxKey struct{}

type scope struct {
	mu       sync.Mutex
	commit   []func()
	rollback []func()
}

// Begin opens a hook scope. The returned finish func must be called exactly once
// with the transaction outcome: commit hooks run in registration order, rollback
// hooks in reverse.
func Begin(ctx context.Context) (context.Context, func(committed bool)) {
	s := &scope{}
	ctx = context.WithValue(ctx, ctxKey{}, s)
	return ctx, func(committed bool) {
		s.mu.Lock()
		commit, rollback := s.commit, s.rollback
		s.commit, s.rollback = nil, nil
		s.mu.Unlock()

		if committed {
			for _, fn := range commit {
				fn()
			}
			return
		}
		for i := len(rollback) - 1; i >= 0; i-- {
			rollback[i]()
		}
	}
}

// OnCommit registers fn to run after commit. Outside a scope fn runs immediately.
func OnCommit(ctx context.Context, fn func()) {
	s, ok := ctx.Value(ctxKey{}).(*scope)
	if !ok {
		fn()
		return
	}
	s.mu.Lock()
	s.commit = append(s.commit, fn)
	s.mu.Unlock()
}

// OnRollback registers fn to undo work if the transaction does not commit.
// Outside a scope it is dropped.
func OnRollback(ctx context.Context, fn func()) {
	s, ok := ctx.Value(ctxKey{}).(*scope)
	if !ok {
		return
	}
	s.mu.Lock()
	s.rollback = append(s.rollback, fn)
	s.mu.Unlock()
}

// Active reports whether ctx carries an open hook scope.
func Active(ctx context.Context) bool {
	_, ok := ctx.Value(ctxKey{}).(*scope)
	return ok
}
