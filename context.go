package fiber

import (
	"context"
)

// fiberContextKey is the context key under which a fiber stores itself.
type fiberContextKey struct{}

// withFiber returns a context that carries f.
func withFiber(ctx context.Context, f *Fiber) context.Context {
	return context.WithValue(ctx, fiberContextKey{}, f)
}

// FromContext returns the fiber carried by ctx. The boolean is false for
// contexts that did not come from a fiber, which callers use to fall
// back to plain blocking behavior.
func FromContext(ctx context.Context) (*Fiber, bool) {
	if ctx == nil {
		return nil, false
	}
	f, ok := ctx.Value(fiberContextKey{}).(*Fiber)
	return f, ok
}

// MustFromContext is FromContext for callers that require a fiber. It
// panics if ctx carries none.
func MustFromContext(ctx context.Context) *Fiber {
	f, ok := FromContext(ctx)
	if !ok {
		panic("fiber: fiber not found in context")
	}
	return f
}
