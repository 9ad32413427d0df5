package scope

import (
	"context"
	"errors"
	"testing"
)

// ui stands in for a container instance; identity is the pointer.
type ui struct{ name string }

// expectViolation runs fn and fails unless it panics with a *ProtocolError
// for op.
func expectViolation(t *testing.T, op string, fn func()) *ProtocolError {
	t.Helper()

	var pe *ProtocolError
	func() {
		defer func() {
			r := recover()
			err, ok := r.(error)
			if !ok || !errors.As(err, &pe) {
				t.Fatalf("%s: want *ProtocolError panic, got %v", op, r)
			}
		}()
		fn()
	}()
	if pe.Op != op {
		t.Fatalf("violation op = %q, want %q", pe.Op, op)
	}
	return pe
}

// counting returns a factory producing distinct *int values and a pointer
// to its invocation count.
func counting() (Factory, *int) {
	calls := 0
	return func(context.Context) (any, error) {
		calls++
		v := calls
		return &v, nil
	}, &calls
}

func newUIScoper(t *testing.T, pool *Pool) *Scoper[string, *ui] {
	t.Helper()
	return New[string, *ui](Options[string, *ui]{Pool: pool, Shards: 4})
}

func sessionCtx(s string) context.Context {
	return WithSession(context.Background(), s)
}
