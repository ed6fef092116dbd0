package eventstore

import (
	"context"
	"sync"
)

// Scope is a unit of work spanning appends and subscription writes. It
// travels in a context: operations given that context join it.
type Scope interface {
	Commit() error
	Rollback() error
	// AfterCommit registers fn to run once the root scope has committed.
	AfterCommit(fn func())
}

// RootScope is the scope a backend opens. Joined scopes forward to it.
type RootScope interface {
	Scope
	Owner() interface{}
	MarkRollbackOnly()
}

type scopeKey struct{}

func ContextWithScope(ctx context.Context, s RootScope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the root scope ctx carries, or nil.
func ScopeFrom(ctx context.Context) RootScope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(scopeKey{}).(RootScope)
	return s
}

// BeginScope implements Backend.Begin. When ctx already carries a scope of
// owner, the returned scope joins it: its Commit does nothing and its
// Rollback dooms the root. Otherwise start opens a new root.
func BeginScope(ctx context.Context, owner interface{}, start func() (RootScope, error)) (context.Context, Scope, error) {
	if root := ScopeFrom(ctx); root != nil {
		if root.Owner() != owner {
			return ctx, nil, ErrForeignScope
		}
		return ctx, joined{root: root}, nil
	}
	root, err := start()
	if err != nil {
		return ctx, nil, err
	}
	return ContextWithScope(ctx, root), root, nil
}

type joined struct {
	root RootScope
}

func (j joined) Commit() error {
	return nil
}

func (j joined) Rollback() error {
	j.root.MarkRollbackOnly()
	return nil
}

func (j joined) AfterCommit(fn func()) {
	j.root.AfterCommit(fn)
}

// ScopeBase carries the bookkeeping every backend root scope shares.
type ScopeBase struct {
	owner interface{}

	mx           sync.Mutex
	rollbackOnly bool
	done         bool
	hooks        []func()
}

func NewScopeBase(owner interface{}) *ScopeBase {
	return &ScopeBase{owner: owner}
}

func (b *ScopeBase) Owner() interface{} {
	return b.owner
}

func (b *ScopeBase) MarkRollbackOnly() {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.rollbackOnly = true
}

func (b *ScopeBase) AfterCommit(fn func()) {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.hooks = append(b.hooks, fn)
}

// Done reports whether the scope has been committed or rolled back.
func (b *ScopeBase) Done() bool {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.done
}

// Finish ends the scope once. A commit of a rollback-only scope rolls back
// and returns ErrRollbackOnly. Hooks run after a successful commit.
func (b *ScopeBase) Finish(commit bool, doCommit, doRollback func() error) error {
	b.mx.Lock()
	if b.done {
		b.mx.Unlock()
		return ErrScopeDone
	}
	b.done = true
	doomed := b.rollbackOnly
	hooks := b.hooks
	b.hooks = nil
	b.mx.Unlock()

	if !commit {
		return doRollback()
	}
	if doomed {
		if err := doRollback(); err != nil {
			return err
		}
		return ErrRollbackOnly
	}
	if err := doCommit(); err != nil {
		return err
	}
	for _, fn := range hooks {
		fn()
	}
	return nil
}
