package scope

import (
	"context"

	perrors "github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"
)

// Scoper scopes values to containers (UI instances, views) living inside
// sessions. It resolves keys against the current container's cache and
// runs the initialization protocol that creates those caches.
//
// A container's own object graph is built before the container exists,
// so its cache cannot be in the Registry yet. Begin attaches a pending
// cache to ctx; Resolve prefers it over the Registry; Commit moves it
// under the finished container; Rollback recycles it.
//
//	ctx = views.Begin(ctx)
//	v, err := buildView(ctx) // resolves view-scoped dependencies
//	if err != nil {
//	    views.Rollback(ctx)
//	    return err
//	}
//	views.Commit(ctx, v)
//
// Construct wraps this sequence.
type Scoper[S comparable, C comparable] struct {
	reg       *Registry[S, C]
	pool      *Pool
	session   func(context.Context) (S, bool)
	container func(context.Context) (C, bool)
	metrics   Metrics
	log       zerolog.Logger

	// tx is this scoper's private context key; two scopers never see each
	// other's pending initialization.
	tx *txKey
}

// txKey must not be zero-sized: distinct allocations need distinct addresses.
type txKey struct{ _ byte }

// initialization is the pending state between Begin and Commit/Rollback.
type initialization struct {
	cache *Cache
	done  bool
}

// New constructs a Scoper with the provided Options.
func New[S comparable, C comparable](opt Options[S, C]) *Scoper[S, C] {
	opt.applyDefaults()
	return &Scoper[S, C]{
		reg:       NewRegistry(opt),
		pool:      opt.Pool,
		session:   opt.Session,
		container: opt.Container,
		metrics:   opt.Metrics,
		log:       loggerOrNop(opt.Logger),
		tx:        new(txKey),
	}
}

// Registry exposes the underlying session/container store.
func (s *Scoper[S, C]) Registry() *Registry[S, C] { return s.reg }

// OnSessionStart implements Lifecycle.
func (s *Scoper[S, C]) OnSessionStart(sess S) { s.reg.OnSessionStart(sess) }

// OnSessionEnd implements Lifecycle.
func (s *Scoper[S, C]) OnSessionEnd(sess S) { s.reg.OnSessionEnd(sess) }

// Begin starts an initialization: it leases a cache and returns a context
// carrying it as pending. Resolves through the returned context populate
// the pending cache. Begin panics if ctx already carries an active
// initialization of this scoper.
func (s *Scoper[S, C]) Begin(ctx context.Context) context.Context {
	if s.active(ctx) != nil {
		panic(violation("begin", perrors.CodeConflict, "initialization already active", nil))
	}
	return context.WithValue(ctx, s.tx, &initialization{cache: s.pool.Lease()})
}

// Commit attaches the pending cache to c under the current session and
// ends the initialization. It panics without an active initialization or
// when the current session is not registered.
func (s *Scoper[S, C]) Commit(ctx context.Context, c C) {
	in := s.active(ctx)
	if in == nil {
		panic(violation("commit", perrors.CodeConflict, "no active initialization", nil))
	}
	s.reg.Attach(s.currentSession(ctx, "commit"), c, in.cache)
	in.cache, in.done = nil, true
}

// Rollback ends the initialization without a container, returning the
// pending cache to the pool. It panics without an active initialization.
func (s *Scoper[S, C]) Rollback(ctx context.Context) {
	in := s.active(ctx)
	if in == nil {
		panic(violation("rollback", perrors.CodeConflict, "no active initialization", nil))
	}
	cache := in.cache
	in.cache, in.done = nil, true
	s.log.Debug().Int("entries", cache.Len()).Msg("scope: initialization rolled back")
	s.pool.Release(cache)
}

// Initializing reports whether ctx carries an active initialization.
func (s *Scoper[S, C]) Initializing(ctx context.Context) bool {
	return s.active(ctx) != nil
}

// Resolve returns the value for k in the current scope, creating it with f
// on first access. During an initialization the pending cache is used;
// otherwise the committed cache of the current session and container.
func (s *Scoper[S, C]) Resolve(ctx context.Context, k Key, f Factory) (any, error) {
	v, hit, err := s.current(ctx).getOrCreate(ctx, k, f)
	if err != nil {
		return nil, err
	}
	s.metrics.Resolve(hit)
	return v, nil
}

// Cache returns the cache Resolve would use for ctx.
func (s *Scoper[S, C]) Cache(ctx context.Context) *Cache { return s.current(ctx) }

func (s *Scoper[S, C]) current(ctx context.Context) *Cache {
	if in := s.active(ctx); in != nil {
		return in.cache
	}
	sess := s.currentSession(ctx, "resolve")
	c, ok := s.container(ctx)
	if !ok {
		panic(violation("resolve", perrors.CodeNotFound, "no current container in context", nil))
	}
	return s.reg.Lookup(sess, c)
}

func (s *Scoper[S, C]) active(ctx context.Context) *initialization {
	in, _ := ctx.Value(s.tx).(*initialization)
	if in == nil || in.done {
		return nil
	}
	return in
}

func (s *Scoper[S, C]) currentSession(ctx context.Context, op string) S {
	sess, ok := s.session(ctx)
	if !ok {
		panic(violationNoSession(op))
	}
	return sess
}

// Construct builds a container inside an initialization of s. On success
// the pending cache is committed under the returned container. When build
// fails or panics the initialization is rolled back and the error (or
// panic) propagates; a failed build never leaves a cache behind.
func Construct[S comparable, C comparable](ctx context.Context, s *Scoper[S, C], build func(ctx context.Context) (C, error)) (C, error) {
	ctx = s.Begin(ctx)
	committed := false
	defer func() {
		if !committed {
			s.Rollback(ctx)
		}
	}()

	c, err := build(ctx)
	if err != nil {
		var zero C
		return zero, perrors.Wrap(err, perrors.CodeBuildFailed, "scope: container construction failed")
	}
	s.Commit(ctx, c)
	committed = true
	return c, nil
}
