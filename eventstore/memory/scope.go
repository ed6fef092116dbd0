package memory

import (
	"context"

	"github.com/GabrielCarpr/eventcore/eventstore"
)

// scope stages writes until commit. Records staged here already carry
// their final playheads, since the scope holds the append critical section
// from its first append.
type scope struct {
	*eventstore.ScopeBase
	b *Backend

	appending bool
	records   []eventstore.Record
	ops       []subOp
}

func (b *Backend) Begin(ctx context.Context) (context.Context, eventstore.Scope, error) {
	return eventstore.BeginScope(ctx, b, func() (eventstore.RootScope, error) {
		return &scope{ScopeBase: eventstore.NewScopeBase(b), b: b}, nil
	})
}

// scope returns the scope of this backend in ctx, if any.
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

func (s *scope) staged() []eventstore.Record {
	if s == nil {
		return nil
	}
	return s.records
}

func (s *scope) pending() []subOp {
	if s == nil {
		return nil
	}
	return s.ops
}

func (s *scope) Commit() error {
	return s.Finish(true, s.commit, s.rollback)
}

func (s *scope) Rollback() error {
	return s.Finish(false, s.commit, s.rollback)
}

func (s *scope) commit() error {
	defer s.release()

	b := s.b
	b.mx.Lock()
	defer b.mx.Unlock()

	subs := make(map[string]eventstore.Subscription, len(b.subs))
	for id, sub := range b.subs {
		subs[id] = sub
	}
	for _, op := range s.ops {
		if err := op.apply(subs); err != nil {
			return err
		}
	}

	b.apply(s.records)
	b.subs = subs
	s.records, s.ops = nil, nil
	return nil
}

func (s *scope) rollback() error {
	s.records, s.ops = nil, nil
	s.release()
	return nil
}
