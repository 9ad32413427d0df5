package scope

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/IvanBrykalov/scopecache/internal/util"
)

// MaxShards is the largest effective Options.Shards; larger requests are
// clamped to it.
const MaxShards = util.MaxShards

// Options configures a Scoper or SessionScoper. Zero values are safe;
// defaults are applied by the constructors:
//   - nil Pool      => a private NewPool(PoolOptions{})
//   - Shards <= 0   => auto (≈ 2*GOMAXPROCS, power of two); > MaxShards => MaxShards
//   - nil Session   => SessionFrom[S]
//   - nil Container => ContainerFrom[C]
//   - nil Metrics   => NoopMetrics
//   - nil Logger    => disabled
type Options[S comparable, C comparable] struct {
	// Pool supplies and recycles cache storage. Share one Pool between
	// scopers so storage freed by one session's views serves another's.
	Pool *Pool

	// Shards is the number of independently locked session partitions.
	Shards int

	// Session and Container read the ambient identities from ctx.
	// SessionScoper ignores Container.
	Session   func(ctx context.Context) (S, bool)
	Container func(ctx context.Context) (C, bool)

	// CloseValues makes session teardown call Close on every cached value
	// implementing io.Closer before the cache is recycled. Close errors
	// are logged and otherwise ignored.
	CloseValues bool

	Metrics Metrics
	Logger  *zerolog.Logger
}

func (o *Options[S, C]) applyDefaults() {
	if o.Pool == nil {
		o.Pool = NewPool(PoolOptions{Metrics: o.Metrics, Logger: o.Logger})
	}
	if o.Session == nil {
		o.Session = SessionFrom[S]
	}
	if o.Container == nil {
		o.Container = ContainerFrom[C]
	}
	if o.Metrics == nil {
		o.Metrics = NoopMetrics{}
	}
}

func loggerOrNop(l *zerolog.Logger) zerolog.Logger {
	if l == nil {
		return zerolog.Nop()
	}
	return *l
}
