package scope

import (
	"runtime"
	"sync"

	perrors "github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"

	"github.com/IvanBrykalov/scopecache/internal/util"
)

const (
	// DefaultReuseSizeMax is the largest cache (in entries) that is
	// cleared and pooled on release; larger ones are dropped.
	DefaultReuseSizeMax = 1024

	// initialCapacity sizes freshly allocated maps until the pool has
	// seen larger caches come back.
	initialCapacity = 16
)

// PoolOptions configures a Pool. Zero values are safe; defaults:
//   - ReuseSizeMax <= 0 => DefaultReuseSizeMax
//   - MaxPooled    <= 0 => GOMAXPROCS
//   - nil Metrics      => NoopMetrics
//   - nil Logger       => disabled
type PoolOptions struct {
	ReuseSizeMax int
	MaxPooled    int
	Metrics      Metrics
	Logger       *zerolog.Logger
}

// PoolStats is a point-in-time snapshot of pool counters.
type PoolStats struct {
	Leased    int64 // total Lease calls
	Reused    int64 // leases served from the free-list
	Released  int64 // caches cleared and pooled
	Discarded int64 // releases dropped (oversized or pool full)
	Idle      int   // caches currently on the free-list
}

// Pool is a bounded free-list of cleared cache storage. Caches are leased
// when an owner comes to life and released when it dies; the map storage
// of dead containers is recycled rather than reallocated, while every
// lease gets a new *Cache handle.
//
// Two limits keep idle memory bounded: caches larger than ReuseSizeMax are
// never pooled (a single oversized container must not inflate every
// future one), and at most MaxPooled caches wait on the free-list.
//
// A Pool is safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	free    []map[Key]any
	initCap int // capacity for fresh maps; grows toward the largest release

	reuseMax  int
	maxPooled int
	metrics   Metrics
	log       zerolog.Logger

	_         util.CacheLinePad
	leased    util.Counter
	reused    util.Counter
	released  util.Counter
	discarded util.Counter
}

// NewPool constructs a Pool with the provided options.
func NewPool(opt PoolOptions) *Pool {
	if opt.ReuseSizeMax <= 0 {
		opt.ReuseSizeMax = DefaultReuseSizeMax
	}
	if opt.MaxPooled <= 0 {
		opt.MaxPooled = runtime.GOMAXPROCS(0)
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	return &Pool{
		free:      make([]map[Key]any, 0, opt.MaxPooled),
		initCap:   min(initialCapacity, opt.ReuseSizeMax),
		reuseMax:  opt.ReuseSizeMax,
		maxPooled: opt.MaxPooled,
		metrics:   opt.Metrics,
		log:       loggerOrNop(opt.Logger),
	}
}

// Lease returns an empty cache, popping a pooled one when available.
func (p *Pool) Lease() *Cache {
	p.leased.Inc()

	p.mu.Lock()
	if n := len(p.free); n > 0 {
		m := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.mu.Unlock()

		p.reused.Inc()
		p.metrics.Lease(true)
		return &Cache{m: m}
	}
	capacity := p.initCap
	p.mu.Unlock()

	p.metrics.Lease(false)
	return newCache(capacity)
}

// Release retires c and returns its storage to the free-list, or drops it
// when it is oversized or the free-list is full. Releasing nil is a no-op;
// releasing a cache that is already retired panics with a *ProtocolError.
func (p *Pool) Release(c *Cache) {
	if c == nil {
		return
	}
	m, ok := c.retire()
	if !ok {
		panic(violation("release", perrors.CodeConflict, "cache released twice", nil))
	}
	size := len(m)

	p.mu.Lock()
	if size > p.initCap {
		p.initCap = min(size, p.reuseMax)
	}
	if size > p.reuseMax {
		p.mu.Unlock()
		p.drop(size, DiscardOversized)
		return
	}
	if len(p.free) >= p.maxPooled {
		p.mu.Unlock()
		p.drop(size, DiscardPoolFull)
		return
	}
	clear(m)
	p.free = append(p.free, m)
	p.mu.Unlock()

	p.released.Inc()
	p.metrics.Release()
}

// discard retires c without pooling its storage.
func (p *Pool) discard(c *Cache, reason DiscardReason) {
	m, ok := c.retire()
	if !ok {
		panic(violation("release", perrors.CodeConflict, "cache released twice", nil))
	}
	p.drop(len(m), reason)
}

// drop accounts for a cache that is left to the garbage collector.
func (p *Pool) drop(size int, reason DiscardReason) {
	p.discarded.Inc()
	p.metrics.Discard(reason)
	p.log.Debug().Int("entries", size).Stringer("reason", reason).Msg("scope: cache not pooled")
}

// Len returns the number of idle caches on the free-list.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Leased:    p.leased.Load(),
		Reused:    p.reused.Load(),
		Released:  p.released.Load(),
		Discarded: p.discarded.Load(),
		Idle:      p.Len(),
	}
}
