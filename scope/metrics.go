package scope

// DiscardReason explains why a released cache was not pooled.
type DiscardReason int

const (
	// DiscardOversized: the cache held more entries than the reuse limit.
	DiscardOversized DiscardReason = iota
	// DiscardPoolFull: the free-list was already at its maximum length.
	DiscardPoolFull
)

func (r DiscardReason) String() string {
	switch r {
	case DiscardOversized:
		return "oversized"
	case DiscardPoolFull:
		return "pool_full"
	default:
		return "unknown"
	}
}

// Metrics exposes engine-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	// Lease reports a cache handed out; reused is false for fresh allocations.
	Lease(reused bool)
	// Release reports a cache cleared and pushed back onto the pool.
	Release()
	// Discard reports a released cache dropped instead of pooled.
	Discard(reason DiscardReason)
	// Resolve reports a lookup; hit is false when the factory ran.
	Resolve(hit bool)
	// Sessions reports the number of live sessions in a registry.
	Sessions(n int)
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Lease(bool)            {}
func (NoopMetrics) Release()              {}
func (NoopMetrics) Discard(DiscardReason) {}
func (NoopMetrics) Resolve(bool)          {}
func (NoopMetrics) Sessions(int)          {}

var _ Metrics = NoopMetrics{}
