package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/GabrielCarpr/eventcore/eventstore"
)

type scope struct {
	*eventstore.ScopeBase
	b  *Backend
	tx *sqlx.Tx
}

func (b *Backend) Begin(ctx context.Context) (context.Context, eventstore.Scope, error) {
	return eventstore.BeginScope(ctx, b, func() (eventstore.RootScope, error) {
		tx, err := b.db.BeginTxx(ctx, nil)
		if err != nil {
			return nil, eventstore.Failure("begin", err)
		}
		return &scope{ScopeBase: eventstore.NewScopeBase(b), b: b, tx: tx}, nil
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

// conn is the scope's transaction, or the pool outside one.
func (b *Backend) conn(ctx context.Context) (sqlx.ExtContext, error) {
	sc, err := b.scope(ctx)
	if err != nil {
		return nil, err
	}
	if sc != nil {
		return sc.tx, nil
	}
	return b.db, nil
}

func (s *scope) Commit() error {
	return s.Finish(true, s.commit, s.rollback)
}

func (s *scope) Rollback() error {
	return s.Finish(false, s.commit, s.rollback)
}

func (s *scope) commit() error {
	return eventstore.Failure("commit", s.tx.Commit())
}

func (s *scope) rollback() error {
	return eventstore.Failure("rollback", s.tx.Rollback())
}
