package scope

import (
	"context"

	perrors "github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"
)

// DefaultRequestSizeMax is the largest request cache that is recycled.
const DefaultRequestSizeMax = 512

// RequestOptions configures a RequestScoper. Zero values are safe:
//   - nil Pool            => a private NewPool(PoolOptions{})
//   - RequestSizeMax <= 0 => DefaultRequestSizeMax
type RequestOptions struct {
	Pool           *Pool
	RequestSizeMax int
	Metrics        Metrics
	Logger         *zerolog.Logger
}

// RequestScoper scopes values to a single request: a scratch cache that
// lives from Start to End on one context chain.
type RequestScoper struct {
	pool    *Pool
	sizeMax int
	metrics Metrics
	log     zerolog.Logger
	key     *txKey
}

type request struct {
	cache *Cache
	done  bool
}

// NewRequestScoper constructs a RequestScoper.
func NewRequestScoper(opt RequestOptions) *RequestScoper {
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Pool == nil {
		opt.Pool = NewPool(PoolOptions{Metrics: opt.Metrics, Logger: opt.Logger})
	}
	if opt.RequestSizeMax <= 0 {
		opt.RequestSizeMax = DefaultRequestSizeMax
	}
	return &RequestScoper{
		pool:    opt.Pool,
		sizeMax: opt.RequestSizeMax,
		metrics: opt.Metrics,
		log:     loggerOrNop(opt.Logger),
		key:     new(txKey),
	}
}

// Start returns a context carrying a fresh request cache. It panics when
// ctx already carries a live request of this scoper.
func (r *RequestScoper) Start(ctx context.Context) context.Context {
	if r.live(ctx) != nil {
		panic(violation("request start", perrors.CodeConflict, "request scope already active", nil))
	}
	return context.WithValue(ctx, r.key, &request{cache: r.pool.Lease()})
}

// End recycles the request cache. Caches above RequestSizeMax are dropped
// rather than pooled. It panics without a live request.
func (r *RequestScoper) End(ctx context.Context) {
	req := r.live(ctx)
	if req == nil {
		panic(violation("request end", perrors.CodeConflict, "no active request scope", nil))
	}
	cache := req.cache
	req.cache, req.done = nil, true

	if n := cache.Len(); n > r.sizeMax {
		r.log.Debug().Int("entries", n).Int("limit", r.sizeMax).Msg("scope: request cache above request limit")
		r.pool.discard(cache, DiscardOversized)
		return
	}
	r.pool.Release(cache)
}

// Pool returns the pool request caches are leased from.
func (r *RequestScoper) Pool() *Pool { return r.pool }

// Active reports whether ctx carries a live request scope.
func (r *RequestScoper) Active(ctx context.Context) bool { return r.live(ctx) != nil }

// Resolve returns the value for k in the current request, creating it with
// f on first access. It panics outside Start/End.
func (r *RequestScoper) Resolve(ctx context.Context, k Key, f Factory) (any, error) {
	req := r.live(ctx)
	if req == nil {
		panic(violation("resolve", perrors.CodeConflict, "no active request scope", nil))
	}
	v, hit, err := req.cache.getOrCreate(ctx, k, f)
	if err != nil {
		return nil, err
	}
	r.metrics.Resolve(hit)
	return v, nil
}

func (r *RequestScoper) live(ctx context.Context) *request {
	req, _ := ctx.Value(r.key).(*request)
	if req == nil || req.done {
		return nil
	}
	return req
}
