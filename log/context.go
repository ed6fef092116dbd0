package log

import (
	"context"

	"github.com/google/uuid"
)

type correlationKey struct{}

// CtxIDKey is the context key the correlation ID is stored under.
var CtxIDKey = correlationKey{}

// WithID adds a correlation ID to the ctx. If one already exists, it's a no-op
func WithID(ctx context.Context) context.Context {
	if GetID(ctx) != uuid.Nil {
		return ctx
	}
	return context.WithValue(ctx, CtxIDKey, uuid.New())
}

// WithGivenID sets the correlation ID explicitly, replacing any existing one.
func WithGivenID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, CtxIDKey, id)
}

// GetID returns the correlation ID from the context, or uuid.Nil
func GetID(ctx context.Context) uuid.UUID {
	if ctx == nil {
		return uuid.Nil
	}
	id, ok := ctx.Value(CtxIDKey).(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}
