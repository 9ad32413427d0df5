package scope

import (
	"context"
	"strconv"
	"testing"
)

func fill(c *Cache, n int) {
	for i := 0; i < n; i++ {
		_, _ = c.GetOrCreate(context.Background(), NewKey(strconv.Itoa(i)), func(context.Context) (any, error) { return i, nil })
	}
}

// A released cache within the reuse limit comes back cleared.
func TestPool_ReleaseThenLeaseIsEmpty(t *testing.T) {
	t.Parallel()

	p := NewPool(PoolOptions{ReuseSizeMax: 8, MaxPooled: 2})
	c := p.Lease()
	fill(c, 8)

	p.Release(c)
	if p.Len() != 1 {
		t.Fatalf("idle = %d, want 1", p.Len())
	}
	got := p.Lease()
	if got == c {
		t.Fatal("a lease must never hand out a released handle")
	}
	if got.Len() != 0 {
		t.Fatalf("reused cache must be empty, has %d entries", got.Len())
	}
	if st := p.Stats(); st.Leased != 2 || st.Reused != 1 || st.Released != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

// Caches above the reuse limit never re-enter circulation.
func TestPool_OversizedIsDiscarded(t *testing.T) {
	t.Parallel()

	p := NewPool(PoolOptions{ReuseSizeMax: 4, MaxPooled: 4})
	big := p.Lease()
	fill(big, 5)

	p.Release(big)
	if p.Len() != 0 {
		t.Fatalf("oversized cache must not be pooled, idle=%d", p.Len())
	}
	for i := 0; i < 4; i++ {
		if c := p.Lease(); c.Len() != 0 {
			t.Fatal("oversized storage leased again")
		}
	}
	if st := p.Stats(); st.Discarded != 1 || st.Reused != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

// Once MaxPooled caches are idle, further releases are dropped.
func TestPool_BoundedLength(t *testing.T) {
	t.Parallel()

	p := NewPool(PoolOptions{MaxPooled: 2})
	cs := []*Cache{p.Lease(), p.Lease(), p.Lease()}
	for _, c := range cs {
		p.Release(c)
	}
	if p.Len() != 2 {
		t.Fatalf("idle = %d, want 2", p.Len())
	}
	if st := p.Stats(); st.Released != 2 || st.Discarded != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

// Releasing the same cache twice would let two owners lease it.
func TestPool_DoubleReleasePanics(t *testing.T) {
	t.Parallel()

	p := NewPool(PoolOptions{MaxPooled: 4})
	c := p.Lease()
	p.Release(c)
	expectViolation(t, "release", func() { p.Release(c) })
}

// A handle kept past release is dead: it cannot write into storage that
// the pool has already handed to another owner.
func TestPool_RetiredHandleCannotWrite(t *testing.T) {
	t.Parallel()

	p := NewPool(PoolOptions{MaxPooled: 1})
	held := p.Lease()
	p.Release(held)
	if !held.Retired() {
		t.Fatal("released cache must report Retired")
	}

	expectViolation(t, "resolve", func() {
		_, _ = held.GetOrCreate(context.Background(), NewKey("secret"), func(context.Context) (any, error) {
			return "stale", nil
		})
	})

	next := p.Lease()
	if st := p.Stats(); st.Reused != 1 {
		t.Fatalf("storage not reused: %+v", st)
	}
	if _, ok := next.Get(NewKey("secret")); ok || next.Len() != 0 {
		t.Fatal("stale write reached a fresh lease")
	}
}

func TestPool_ReleaseNilIsNoop(t *testing.T) {
	t.Parallel()

	p := NewPool(PoolOptions{})
	p.Release(nil)
	if st := p.Stats(); st.Released != 0 || st.Discarded != 0 {
		t.Fatalf("nil release must not be counted: %+v", st)
	}
}

// Fresh maps are sized after the largest cache seen, capped at the limit.
func TestPool_InitialCapacityAdapts(t *testing.T) {
	t.Parallel()

	p := NewPool(PoolOptions{ReuseSizeMax: 40, MaxPooled: 1})
	c := p.Lease()
	fill(c, 100)
	p.Release(c)

	p.mu.Lock()
	got := p.initCap
	p.mu.Unlock()
	if got != 40 {
		t.Fatalf("initCap = %d, want 40", got)
	}
}
