package scope

import (
	"context"
	"errors"
	"testing"

	perrors "github.com/jmgilman/go/errors"
)

// begin -> resolve K1, K2 -> commit(X) -> lookup(X) sees the same values,
// each factory having run exactly once.
func TestScoper_CommitScenario(t *testing.T) {
	t.Parallel()

	s := newUIScoper(t, nil)
	s.OnSessionStart("s")
	ctx := s.Begin(sessionCtx("s"))

	f1, calls1 := counting()
	f2, calls2 := counting()
	k1, k2 := NewKey("K1"), NewKey("K2")

	v1, _ := s.Resolve(ctx, k1, f1)
	v2, _ := s.Resolve(ctx, k2, f2)

	x := &ui{"X"}
	s.Commit(ctx, x)

	got, ok := s.Registry().Lookup("s", x).Get(k1)
	if !ok || got != v1 {
		t.Fatalf("lookup K1 = %v, want %v", got, v1)
	}
	after, _ := s.Resolve(WithContainer(sessionCtx("s"), x), k2, f2)
	if after != v2 {
		t.Fatal("K2 must resolve to the value created during initialization")
	}
	if *calls1 != 1 || *calls2 != 1 {
		t.Fatalf("factories ran %d/%d times, want 1/1", *calls1, *calls2)
	}
	if s.Initializing(ctx) {
		t.Fatal("initialization must be over after Commit")
	}
}

// Distinct containers of one session never share scoped values.
func TestScoper_IsolationAcrossContainers(t *testing.T) {
	t.Parallel()

	s := newUIScoper(t, nil)
	s.OnSessionStart("s")
	f, _ := counting()
	k := NewKey("K")

	build := func(name string) (*ui, any) {
		var v any
		x, err := Construct(sessionCtx("s"), s, func(ctx context.Context) (*ui, error) {
			v, _ = s.Resolve(ctx, k, f)
			return &ui{name}, nil
		})
		if err != nil {
			t.Fatal(err)
		}
		return x, v
	}
	a, va := build("a")
	b, vb := build("b")
	if va == vb {
		t.Fatal("containers must not share a scoped value")
	}

	base := sessionCtx("s")
	ra, _ := s.Resolve(WithContainer(base, a), k, f)
	rb, _ := s.Resolve(WithContainer(base, b), k, f)
	if ra != va || rb != vb {
		t.Fatal("each container must keep its own value")
	}
}

// A rolled-back initialization leaves nothing visible behind.
func TestScoper_RollbackDiscards(t *testing.T) {
	t.Parallel()

	pool := NewPool(PoolOptions{MaxPooled: 1})
	s := newUIScoper(t, pool)
	s.OnSessionStart("s")
	f, calls := counting()
	k := NewKey("K")

	ctx := s.Begin(sessionCtx("s"))
	before, _ := s.Resolve(ctx, k, f)
	s.Rollback(ctx)
	if pool.Len() != 1 {
		t.Fatalf("rolled back cache must return to the pool, idle=%d", pool.Len())
	}

	ctx = s.Begin(sessionCtx("s"))
	again, _ := s.Resolve(ctx, k, f)
	if again == before || *calls != 2 {
		t.Fatal("fresh initialization must not see the rolled back value")
	}
	s.Rollback(ctx)
	if s.Registry().Containers("s") != 0 {
		t.Fatal("rollback must not register a container")
	}
}

func TestScoper_ProtocolViolations(t *testing.T) {
	t.Parallel()

	s := newUIScoper(t, nil)
	s.OnSessionStart("s")
	ctx := sessionCtx("s")

	expectViolation(t, "commit", func() { s.Commit(ctx, &ui{}) })
	expectViolation(t, "rollback", func() { s.Rollback(ctx) })

	active := s.Begin(ctx)
	expectViolation(t, "begin", func() { s.Begin(active) })
	s.Rollback(active)
	expectViolation(t, "rollback", func() { s.Rollback(active) })

	// Resolving outside an initialization needs a committed container.
	expectViolation(t, "resolve", func() { _, _ = s.Resolve(ctx, NewKey("k"), func(context.Context) (any, error) { return 1, nil }) })
	expectViolation(t, "lookup", func() {
		_, _ = s.Resolve(WithContainer(ctx, &ui{}), NewKey("k"), func(context.Context) (any, error) { return 1, nil })
	})
}

// A session destroyed while a container is under construction is fatal
// at commit time.
func TestScoper_CommitWithoutSessionPanics(t *testing.T) {
	t.Parallel()

	s := newUIScoper(t, nil)
	s.OnSessionStart("s")
	ctx := s.Begin(sessionCtx("s"))
	s.OnSessionEnd("s")

	expectViolation(t, "commit", func() { s.Commit(ctx, &ui{}) })
	expectViolation(t, "commit", func() { s.Commit(s.Begin(context.Background()), &ui{}) })
}

// After a commit the same context may begin the next initialization.
func TestScoper_BeginAfterCommit(t *testing.T) {
	t.Parallel()

	s := newUIScoper(t, nil)
	s.OnSessionStart("s")
	ctx := s.Begin(sessionCtx("s"))
	s.Commit(ctx, &ui{})

	next := s.Begin(ctx)
	if !s.Initializing(next) {
		t.Fatal("second Begin must start a new initialization")
	}
	s.Commit(next, &ui{})
	if s.Registry().Containers("s") != 2 {
		t.Fatalf("containers = %d, want 2", s.Registry().Containers("s"))
	}
}

// Two scopers (say UI and view) keep independent pending caches, so a
// view may be built while its UI is still under construction.
func TestScoper_IndependentTransactions(t *testing.T) {
	t.Parallel()

	pool := NewPool(PoolOptions{})
	uis := newUIScoper(t, pool)
	views := New[string, *ui](Options[string, *ui]{Pool: pool})
	uis.OnSessionStart("s")
	views.OnSessionStart("s")
	k := NewKey("K")

	uiCtx := uis.Begin(sessionCtx("s"))
	viewCtx := views.Begin(uiCtx)
	fu, _ := counting()
	fv, _ := counting()
	vu, _ := uis.Resolve(viewCtx, k, fu)
	vv, _ := views.Resolve(viewCtx, k, fv)
	if vu == vv {
		t.Fatal("UI and view pending caches must be distinct")
	}
	views.Commit(viewCtx, &ui{"view"})
	uis.Commit(uiCtx, &ui{"ui"})
}

func TestConstruct_ErrorRollsBack(t *testing.T) {
	t.Parallel()

	pool := NewPool(PoolOptions{MaxPooled: 2})
	s := newUIScoper(t, pool)
	s.OnSessionStart("s")
	boom := errors.New("boom")

	_, err := Construct(sessionCtx("s"), s, func(ctx context.Context) (*ui, error) {
		_, _ = s.Resolve(ctx, NewKey("K"), func(context.Context) (any, error) { return 1, nil })
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	if perrors.GetCode(err) != perrors.CodeBuildFailed {
		t.Fatalf("code = %s, want %s", perrors.GetCode(err), perrors.CodeBuildFailed)
	}
	if pool.Len() != 1 || s.Registry().Containers("s") != 0 {
		t.Fatalf("idle=%d containers=%d", pool.Len(), s.Registry().Containers("s"))
	}
}

func TestConstruct_PanicRollsBackAndPropagates(t *testing.T) {
	t.Parallel()

	pool := NewPool(PoolOptions{MaxPooled: 2})
	s := newUIScoper(t, pool)
	s.OnSessionStart("s")

	func() {
		defer func() {
			if r := recover(); r != "construction exploded" {
				t.Fatalf("want the build panic, got %v", r)
			}
		}()
		_, _ = Construct(sessionCtx("s"), s, func(ctx context.Context) (*ui, error) {
			panic("construction exploded")
		})
	}()
	if pool.Len() != 1 {
		t.Fatalf("pending cache must be released, idle=%d", pool.Len())
	}
}

type navigator struct{ ui string }

var navBinding = Bind(NewKey("navigator"), func(ctx context.Context) (*navigator, error) {
	return &navigator{}, nil
})

func TestBinding_TypedGet(t *testing.T) {
	t.Parallel()

	s := newUIScoper(t, nil)
	s.OnSessionStart("s")

	var during *navigator
	x, err := Construct(sessionCtx("s"), s, func(ctx context.Context) (*ui, error) {
		during = navBinding.MustGet(ctx, s)
		return &ui{}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	after, err := navBinding.Get(WithContainer(sessionCtx("s"), x), s)
	if err != nil || after != during {
		t.Fatalf("binding must resolve the instance created during construction (err=%v)", err)
	}
}

// Ambient identities can come from host-specific accessors.
func TestScoper_CustomAccessors(t *testing.T) {
	t.Parallel()

	type hostKey struct{}
	type request struct {
		session string
		ui      *ui
	}
	from := func(ctx context.Context) *request { r, _ := ctx.Value(hostKey{}).(*request); return r }

	s := New[string, *ui](Options[string, *ui]{
		Session: func(ctx context.Context) (string, bool) {
			if r := from(ctx); r != nil {
				return r.session, true
			}
			return "", false
		},
		Container: func(ctx context.Context) (*ui, bool) {
			if r := from(ctx); r != nil && r.ui != nil {
				return r.ui, true
			}
			return nil, false
		},
	})
	s.OnSessionStart("s")

	req := &request{session: "s"}
	ctx := context.WithValue(context.Background(), hostKey{}, req)
	x, err := Construct(ctx, s, func(context.Context) (*ui, error) { return &ui{}, nil })
	if err != nil {
		t.Fatal(err)
	}
	req.ui = x
	if _, err := s.Resolve(ctx, NewKey("k"), func(context.Context) (any, error) { return 1, nil }); err != nil {
		t.Fatal(err)
	}
}

// A request still holding a container's cache after the container was
// closed must not leak entries into the next container's lease.
func TestScoper_DetachedCacheDoesNotLeakIntoNextLease(t *testing.T) {
	t.Parallel()

	pool := NewPool(PoolOptions{MaxPooled: 1})
	s := newUIScoper(t, pool)
	s.OnSessionStart("s")
	ctx := sessionCtx("s")

	x, err := Construct(ctx, s, func(context.Context) (*ui, error) { return &ui{"x"}, nil })
	if err != nil {
		t.Fatal(err)
	}
	held := s.Cache(WithContainer(ctx, x))
	if !s.Registry().Detach("s", x) {
		t.Fatal("Detach must report true")
	}

	secret := NewKey("secret")
	expectViolation(t, "resolve", func() {
		_, _ = held.GetOrCreate(ctx, secret, func(context.Context) (any, error) { return "x's data", nil })
	})

	y, err := Construct(ctx, s, func(context.Context) (*ui, error) { return &ui{"y"}, nil })
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Cache(WithContainer(ctx, y)).Get(secret); ok {
		t.Fatal("entry written through a detached cache reached another container")
	}
	if st := pool.Stats(); st.Reused == 0 {
		t.Fatalf("expected storage reuse, stats %+v", st)
	}
}
