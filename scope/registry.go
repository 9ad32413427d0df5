package scope

import (
	"io"
	"sync"

	perrors "github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"

	"github.com/IvanBrykalov/scopecache/internal/util"
)

// Registry is the two-level store Session -> (Container -> *Cache).
//
// Sessions are spread over independently locked shards, so starting,
// ending and looking up sessions for different users rarely contend.
// Within a session a small mutex guards the container map; containers of
// one session are usually touched by one request at a time.
//
// All methods are safe for concurrent use. Protocol misuse (duplicate
// session start, lookups of unknown sessions or containers, committing
// the same container twice) panics with a *ProtocolError.
type Registry[S comparable, C comparable] struct {
	shards []*registryShard[S, C]
	hasher util.Hasher[S]

	pool        *Pool
	closeValues bool
	metrics     Metrics
	log         zerolog.Logger

	live util.Gauge
}

type registryShard[S comparable, C comparable] struct {
	mu sync.RWMutex
	m  map[S]*sessionScopes[C]
}

// sessionScopes holds every committed container cache of one session.
type sessionScopes[C comparable] struct {
	mu     sync.Mutex
	caches map[C]*Cache
}

// NewRegistry constructs a Registry. Options.Session and Options.Container
// are not consulted; the registry is keyed explicitly by its callers.
func NewRegistry[S comparable, C comparable](opt Options[S, C]) *Registry[S, C] {
	opt.applyDefaults()

	n := util.ShardCount(opt.Shards)
	shards := make([]*registryShard[S, C], n)
	for i := range shards {
		shards[i] = &registryShard[S, C]{m: make(map[S]*sessionScopes[C])}
	}
	return &Registry[S, C]{
		shards:      shards,
		hasher:      util.NewHasher[S](),
		pool:        opt.Pool,
		closeValues: opt.CloseValues,
		metrics:     opt.Metrics,
		log:         loggerOrNop(opt.Logger),
	}
}

func (r *Registry[S, C]) shard(s S) *registryShard[S, C] {
	return r.shards[util.ShardIndex(r.hasher.Sum(s), len(r.shards))]
}

// OnSessionStart registers an empty container map for s.
// Starting a session twice panics.
func (r *Registry[S, C]) OnSessionStart(s S) {
	sh := r.shard(s)
	sh.mu.Lock()
	if _, ok := sh.m[s]; ok {
		sh.mu.Unlock()
		panic(violation("session start", perrors.CodeAlreadyExists, "session already started", s))
	}
	sh.m[s] = &sessionScopes[C]{caches: make(map[C]*Cache)}
	sh.mu.Unlock()

	n := r.live.Add(1)
	r.metrics.Sessions(int(n))
	r.log.Debug().Interface("session", s).Msg("scope: session started")
}

// OnSessionEnd removes s and returns every container cache it owned to the
// pool. It reports how many caches were swept. Ending an unknown session
// is a silent no-op, tolerating duplicate or out-of-order teardown.
func (r *Registry[S, C]) OnSessionEnd(s S) int {
	sh := r.shard(s)
	sh.mu.Lock()
	scopes, ok := sh.m[s]
	delete(sh.m, s)
	sh.mu.Unlock()

	if !ok {
		r.log.Debug().Interface("session", s).Msg("scope: end of unknown session ignored")
		return 0
	}
	n := r.live.Add(-1)
	r.metrics.Sessions(int(n))

	scopes.mu.Lock()
	caches := scopes.caches
	scopes.caches = nil
	scopes.mu.Unlock()

	for _, c := range caches {
		r.retire(c)
	}
	r.log.Debug().Interface("session", s).Int("containers", len(caches)).Msg("scope: session ended")
	return len(caches)
}

// Attach associates cache with container c of session s. It is the commit
// step of an initialization. A missing session or an already attached
// container panics.
func (r *Registry[S, C]) Attach(s S, c C, cache *Cache) {
	scopes := r.session("commit", s)

	scopes.mu.Lock()
	defer scopes.mu.Unlock()
	if scopes.caches == nil {
		panic(violation("commit", perrors.CodeNotFound, "session ended during initialization", s))
	}
	if _, ok := scopes.caches[c]; ok {
		panic(violation("commit", perrors.CodeAlreadyExists, "container already has a scope cache", c))
	}
	scopes.caches[c] = cache
}

// Lookup returns the committed cache of container c in session s.
// Either being unknown panics: correct callers only look up containers
// whose initialization has completed.
func (r *Registry[S, C]) Lookup(s S, c C) *Cache {
	scopes := r.session("lookup", s)

	scopes.mu.Lock()
	cache, ok := scopes.caches[c]
	scopes.mu.Unlock()
	if !ok {
		panic(violation("lookup", perrors.CodeNotFound, "container has no committed scope cache", c))
	}
	return cache
}

// lookupOrLease returns the cache of c in session s, leasing and attaching
// a fresh one on first use.
func (r *Registry[S, C]) lookupOrLease(s S, c C) *Cache {
	scopes := r.session("resolve", s)

	scopes.mu.Lock()
	defer scopes.mu.Unlock()
	if scopes.caches == nil {
		panic(violation("resolve", perrors.CodeNotFound, "session ended", s))
	}
	if cache, ok := scopes.caches[c]; ok {
		return cache
	}
	cache := r.pool.Lease()
	scopes.caches[c] = cache
	return cache
}

// Detach retires container c before its session ends, returning its cache
// to the pool. It reports whether c had a cache.
func (r *Registry[S, C]) Detach(s S, c C) bool {
	sh := r.shard(s)
	sh.mu.RLock()
	scopes, ok := sh.m[s]
	sh.mu.RUnlock()
	if !ok {
		return false
	}

	scopes.mu.Lock()
	cache, ok := scopes.caches[c]
	delete(scopes.caches, c)
	scopes.mu.Unlock()
	if !ok {
		return false
	}
	r.retire(cache)
	return true
}

// Has reports whether s is a live session.
func (r *Registry[S, C]) Has(s S) bool {
	sh := r.shard(s)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	_, ok := sh.m[s]
	return ok
}

// Containers returns the number of committed containers in session s.
func (r *Registry[S, C]) Containers(s S) int {
	sh := r.shard(s)
	sh.mu.RLock()
	scopes, ok := sh.m[s]
	sh.mu.RUnlock()
	if !ok {
		return 0
	}
	scopes.mu.Lock()
	defer scopes.mu.Unlock()
	return len(scopes.caches)
}

// Sessions returns the number of live sessions.
func (r *Registry[S, C]) Sessions() int { return int(r.live.Load()) }

// Pool returns the pool backing this registry.
func (r *Registry[S, C]) Pool() *Pool { return r.pool }

func (r *Registry[S, C]) session(op string, s S) *sessionScopes[C] {
	sh := r.shard(s)
	sh.mu.RLock()
	scopes, ok := sh.m[s]
	sh.mu.RUnlock()
	if !ok {
		panic(violation(op, perrors.CodeNotFound, "no scope registry for session", s))
	}
	return scopes
}

// retire optionally closes the cached values, then releases the cache.
func (r *Registry[S, C]) retire(c *Cache) {
	if r.closeValues {
		for _, v := range c.values() {
			if cl, ok := v.(io.Closer); ok {
				if err := cl.Close(); err != nil {
					r.log.Warn().Err(err).Msg("scope: closing scoped value failed")
				}
			}
		}
	}
	r.pool.Release(c)
}
