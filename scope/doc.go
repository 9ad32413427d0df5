// Package scope provides per-container caches of lazily created objects
// for dependency-injection hosts: every session, UI instance or view
// instance gets its own cache of scoped values, created on first use and
// recycled when its owner goes away.
//
// Design
//
//   - Lifetimes nest: Session -> Container -> value. A Registry keeps the
//     container caches of each session; ending the session sweeps them
//     all back to the Pool at once.
//
//   - Storage: caches come from a bounded Pool. Released caches are
//     cleared and reused unless they grew beyond PoolOptions.ReuseSizeMax
//     or the free-list is full.
//
//   - Write-once: a key maps to one value for the lifetime of its cache.
//     Factories run outside the cache lock, so a factory may resolve
//     further keys of the same scope while building an object graph.
//
//   - Initialization: a container's graph is built before the container
//     exists. Scoper.Begin puts a pending cache into the context; Resolve
//     prefers it; Commit files it under the finished container; Rollback
//     returns it to the pool untouched. Construct does all three.
//
//   - Concurrency: sessions are sharded across independently locked
//     partitions. One container is expected to be driven by one goroutine
//     at a time; caches still carry a mutex, and concurrent misses on one
//     key share a single factory run.
//
//   - Misuse (commit without begin, lookup of an unknown container, ...)
//     panics with a *ProtocolError. There is nothing to retry.
//
// Basic usage
//
//	pool := scope.NewPool(scope.PoolOptions{})
//	uis := scope.New[string, *UI](scope.Options[string, *UI]{Pool: pool})
//
//	uis.OnSessionStart("s1")
//	ctx := scope.WithSession(context.Background(), "s1")
//
//	ui, err := scope.Construct(ctx, uis, func(ctx context.Context) (*UI, error) {
//	    nav, err := navigator.Get(ctx, uis) // UI-scoped, lands in the pending cache
//	    if err != nil {
//	        return nil, err
//	    }
//	    return &UI{Nav: nav}, nil
//	})
//
//	ctx = scope.WithContainer(ctx, ui)
//	nav, _ := navigator.Get(ctx, uis) // same instance as during construction
//
//	uis.OnSessionEnd("s1") // every UI cache of s1 goes back to the pool
//
// # Session and request lifetimes
//
// SessionScoper keeps one lazily created cache per session. RequestScoper
// keeps a scratch cache between Start and End on one context chain.
//
// Metrics
//
//	m := prom.New(nil, "scopecache", "ui", nil) // implements Metrics
//	uis := scope.New[string, *UI](scope.Options[string, *UI]{Metrics: m})
package scope
