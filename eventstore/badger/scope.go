package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger"

	"github.com/GabrielCarpr/eventcore/eventstore"
)

// scope is a read-write transaction, opened by its first operation. It sees
// its own writes. A scope that appends first takes the append lock before
// opening, so its snapshot cannot be stale.
type scope struct {
	*eventstore.ScopeBase
	b   *Backend
	txn *badger.Txn

	appending bool
}

func (b *Backend) Begin(ctx context.Context) (context.Context, eventstore.Scope, error) {
	return eventstore.BeginScope(ctx, b, func() (eventstore.RootScope, error) {
		return &scope{ScopeBase: eventstore.NewScopeBase(b), b: b}, nil
	})
}

func (b *Backend) scope(ctx context.Context) (*scope, error) {
	root := eventstore.ScopeFrom(ctx)
	if root == nil {
		return nil, nil
	}
	sc, ok := root.(*scope)
	if !ok || sc.b != b {
		return nil, eventstore.ErrForeignScope
	}
	if sc.Done() {
		return nil, eventstore.ErrScopeDone
	}
	return sc, nil
}

func (s *scope) tx() *badger.Txn {
	if s.txn == nil {
		s.txn = s.b.db.NewTransaction(true)
	}
	return s.txn
}

func (s *scope) holdAppend() {
	if !s.appending {
		s.b.appendMu.Lock()
		s.appending = true
	}
}

func (s *scope) release() {
	if s.appending {
		s.appending = false
		s.b.appendMu.Unlock()
	}
}

func (s *scope) Commit() error {
	return s.Finish(true, s.commit, s.rollback)
}

func (s *scope) Rollback() error {
	return s.Finish(false, s.commit, s.rollback)
}

func (s *scope) commit() error {
	defer s.release()
	if s.txn == nil {
		return nil
	}
	err := s.txn.Commit()
	if errors.Is(err, badger.ErrConflict) {
		// Something this scope read was committed by another writer since
		// the scope began.
		return fmt.Errorf("%w: %v", eventstore.ErrConcurrencyViolation, err)
	}
	return eventstore.Failure("commit", err)
}

func (s *scope) rollback() error {
	defer s.release()
	if s.txn != nil {
		s.txn.Discard()
	}
	return nil
}
