package scope

import "context"

// Key identifies a kind of scoped value. Keys compare by value, so a Key
// built twice from the same kind and qualifier addresses the same slot.
type Key struct {
	kind      string
	qualifier string
}

// NewKey returns an unqualified Key for kind.
func NewKey(kind string) Key { return Key{kind: kind} }

// Qualified returns a Key for kind distinguished by qualifier, for when
// several values of the same kind live side by side in one scope.
func Qualified(kind, qualifier string) Key {
	return Key{kind: kind, qualifier: qualifier}
}

func (k Key) Kind() string      { return k.kind }
func (k Key) Qualifier() string { return k.qualifier }

func (k Key) String() string {
	if k.qualifier == "" {
		return k.kind
	}
	return k.kind + "@" + k.qualifier
}

// Binding couples a Key with the constructor of its value, giving typed
// access on top of a Resolver.
//
//	var cart = scope.Bind(scope.NewKey("shop.Cart"), func(ctx context.Context) (*Cart, error) {
//	    return &Cart{}, nil
//	})
//	c, err := cart.Get(ctx, uiScoper)
type Binding[T any] struct {
	key  Key
	ctor func(ctx context.Context) (T, error)
}

// Bind creates a Binding. ctor is the unscoped factory; the Resolver
// decides how often it actually runs.
func Bind[T any](key Key, ctor func(ctx context.Context) (T, error)) Binding[T] {
	return Binding[T]{key: key, ctor: ctor}
}

// Key returns the binding key.
func (b Binding[T]) Key() Key { return b.key }

// Get resolves the binding through r.
func (b Binding[T]) Get(ctx context.Context, r Resolver) (T, error) {
	v, err := r.Resolve(ctx, b.key, func(ctx context.Context) (any, error) { return b.ctor(ctx) })
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// MustGet is Get for constructors that cannot fail; it panics on error.
func (b Binding[T]) MustGet(ctx context.Context, r Resolver) T {
	v, err := b.Get(ctx, r)
	if err != nil {
		panic(err)
	}
	return v
}
