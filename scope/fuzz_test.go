//go:build go1.18

package scope

import (
	"context"
	"strings"
	"testing"
)

// Fuzz write-once semantics and pool hygiene under arbitrary keys.
func FuzzCache_WriteOnce(f *testing.F) {
	f.Add("", "", "v")
	f.Add("svc", "primary", "1")
	f.Add("αβγ", "δ", "🙂")
	f.Add("long", strings.Repeat("q", 512), "x")

	f.Fuzz(func(t *testing.T, kind, qualifier, val string) {
		p := NewPool(PoolOptions{MaxPooled: 1})
		c := p.Lease()
		k := Qualified(kind, qualifier)

		got, err := c.GetOrCreate(context.Background(), k, func(context.Context) (any, error) { return val, nil })
		if err != nil || got != val {
			t.Fatalf("first: want %q, got %v err=%v", val, got, err)
		}
		again, _ := c.GetOrCreate(context.Background(), Qualified(kind, qualifier), func(context.Context) (any, error) { return "other", nil })
		if again != val {
			t.Fatalf("write-once violated: %v", again)
		}

		p.Release(c)
		if _, ok := p.Lease().Get(k); ok {
			t.Fatal("reused cache must be empty")
		}
	})
}
