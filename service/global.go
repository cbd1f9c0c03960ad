package service

import (
	"context"

	"github.com/sghaida/zoned/zone"
)

// Instantiate builds the instance of every handle in the zone of ctx.
func Instantiate(ctx context.Context, handles ...Handle) {
	for _, h := range handles {
		h.Instantiate(ctx)
	}
}

// Destroy destroys the instances of handles in the zone of ctx. Without
// handles it destroys every service of that zone in the default directory.
func Destroy(ctx context.Context, handles ...Handle) {
	if len(handles) == 0 {
		DefaultDirectory().DestroyAll(ctx)
		return
	}
	for _, h := range handles {
		h.Destroy(ctx)
	}
}

// IsService reports whether v is a service declared with New.
func IsService(v any) bool {
	_, ok := v.(Handle)
	return ok
}

// Isolate runs fn in a new zone of the default directory.
//
// Example:
//
//	zone.Init(ctx)
//	err := service.Isolate(ctx, func(ctx context.Context) error {
//		return handle(ctx, req) // services resolved here are private to this call
//	})
func Isolate(ctx context.Context, fn func(ctx context.Context) error) error {
	return DefaultDirectory().Isolate(ctx, fn)
}

// IsolateValue is Isolate for functions that produce a value.
func IsolateValue[R any](ctx context.Context, fn func(ctx context.Context) (R, error)) (R, error) {
	return zone.IsolateValue(ctx, DefaultDirectory().Isolator(), fn)
}

// Isolated wraps fn so that every call runs in its own zone of the default
// directory.
func Isolated(fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return Isolate(ctx, fn)
	}
}

// NewScopedResource opens a zone of the default directory bound to a
// manually managed resource.
func NewScopedResource(ctx context.Context, name string) (*zone.ScopedResource, error) {
	return DefaultDirectory().NewScopedResource(ctx, name)
}
