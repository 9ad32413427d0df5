package scope

import "context"

// Each instantiation is a distinct key type, so sessions and containers
// of different Go types never shadow each other in one context.
type sessionCtxKey[S comparable] struct{}

type containerCtxKey[C comparable] struct{}

// WithSession returns a copy of ctx carrying s as the current session.
func WithSession[S comparable](ctx context.Context, s S) context.Context {
	return context.WithValue(ctx, sessionCtxKey[S]{}, s)
}

// SessionFrom returns the current session stored by WithSession.
func SessionFrom[S comparable](ctx context.Context) (S, bool) {
	s, ok := ctx.Value(sessionCtxKey[S]{}).(S)
	return s, ok
}

// WithContainer returns a copy of ctx carrying c as the current container.
func WithContainer[C comparable](ctx context.Context, c C) context.Context {
	return context.WithValue(ctx, containerCtxKey[C]{}, c)
}

// ContainerFrom returns the current container stored by WithContainer.
func ContainerFrom[C comparable](ctx context.Context) (C, bool) {
	c, ok := ctx.Value(containerCtxKey[C]{}).(C)
	return c, ok
}
