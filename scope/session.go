package scope

import "context"

// sessionSlot is the single container of a session-scoped registry: the
// session itself.
type sessionSlot struct{}

// SessionScoper scopes values to sessions. The session's cache is leased
// lazily on the first resolve and recycled when the session ends.
type SessionScoper[S comparable] struct {
	reg     *Registry[S, sessionSlot]
	session func(context.Context) (S, bool)
	metrics Metrics
}

// NewSessionScoper constructs a SessionScoper. Options.Container is ignored.
func NewSessionScoper[S comparable](opt Options[S, S]) *SessionScoper[S] {
	opt.applyDefaults()
	return &SessionScoper[S]{
		reg: NewRegistry(Options[S, sessionSlot]{
			Pool:        opt.Pool,
			Shards:      opt.Shards,
			CloseValues: opt.CloseValues,
			Metrics:     opt.Metrics,
			Logger:      opt.Logger,
		}),
		session: opt.Session,
		metrics: opt.Metrics,
	}
}

// OnSessionStart implements Lifecycle.
func (s *SessionScoper[S]) OnSessionStart(sess S) { s.reg.OnSessionStart(sess) }

// OnSessionEnd implements Lifecycle.
func (s *SessionScoper[S]) OnSessionEnd(sess S) { s.reg.OnSessionEnd(sess) }

// Resolve returns the value for k in the current session, creating it with
// f on first access. It panics when ctx names no session or an unknown one.
func (s *SessionScoper[S]) Resolve(ctx context.Context, k Key, f Factory) (any, error) {
	sess, ok := s.session(ctx)
	if !ok {
		panic(violationNoSession("resolve"))
	}
	v, hit, err := s.reg.lookupOrLease(sess, sessionSlot{}).getOrCreate(ctx, k, f)
	if err != nil {
		return nil, err
	}
	s.metrics.Resolve(hit)
	return v, nil
}

// Sessions returns the number of live sessions.
func (s *SessionScoper[S]) Sessions() int { return s.reg.Sessions() }

// Materialized reports whether sess has resolved anything yet.
func (s *SessionScoper[S]) Materialized(sess S) bool { return s.reg.Containers(sess) > 0 }
