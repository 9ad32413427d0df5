package scope

import "context"

// Factory produces the unscoped value for a key. It is invoked at most
// once per key and cache. ctx is the resolving context extended with the
// key being built; nested resolves must use it so dependency cycles are
// detected instead of waiting on themselves.
type Factory func(ctx context.Context) (any, error)

// Resolver resolves a Key against whatever scope is current in ctx,
// creating and memoizing the value on first access.
//
// Implementations: *Scoper (UI/view-like containers), *SessionScoper
// and *RequestScoper.
type Resolver interface {
	Resolve(ctx context.Context, k Key, f Factory) (any, error)
}

// Lifecycle receives session notifications from the host. Hosts call
// OnSessionStart exactly once before any request of the session and
// OnSessionEnd exactly once after the last.
type Lifecycle[S comparable] interface {
	OnSessionStart(s S)
	OnSessionEnd(s S)
}

var (
	_ Resolver          = (*Scoper[string, *struct{}])(nil)
	_ Resolver          = (*SessionScoper[string])(nil)
	_ Resolver          = (*RequestScoper)(nil)
	_ Lifecycle[string] = (*Scoper[string, *struct{}])(nil)
	_ Lifecycle[string] = (*SessionScoper[string])(nil)
)
