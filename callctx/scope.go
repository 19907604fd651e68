package callctx

import "context"

type contextKey int

// settingsKey is the context key under which Scope stores Settings.
const settingsKey contextKey = iota + 1

// depsKey keys attached contexts by dependency type, so contexts with
// different dependency types coexist in one context.Context.
type depsKey[D any] struct{}

// Scope returns a context carrying the settings built from opts, for every
// call executed under it. When ctx already carries a scope the two merge,
// with the new scope winning field-wise and the enclosing one filling gaps.
// Scope validates the new settings before merging and returns
// ErrProviderModelPair when only half the provider/model pair is given.
func Scope(ctx context.Context, opts ...Option) (context.Context, error) {
	var s Settings
	for _, opt := range opts {
		opt(&s)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if base, ok := CurrentSettings(ctx); ok {
		s = s.Merge(base)
	}
	return context.WithValue(ctx, settingsKey, s), nil
}

// CurrentSettings retrieves the settings of the innermost enclosing Scope.
// The second result is false when ctx carries no scope.
func CurrentSettings(ctx context.Context) (Settings, bool) {
	s, ok := ctx.Value(settingsKey).(Settings)
	return s, ok
}

// Attach stores c in ctx so code deep inside a call tree, tool handlers in
// particular, can recover the typed dependencies with Current.
func Attach[D any](ctx context.Context, c *Context[D]) context.Context {
	return context.WithValue(ctx, depsKey[D]{}, c)
}

// Current retrieves the Context of dependency type D attached to ctx. The
// second result is false when none is attached.
func Current[D any](ctx context.Context) (*Context[D], bool) {
	c, ok := ctx.Value(depsKey[D]{}).(*Context[D])
	return c, ok
}

// ResolveSettings picks the settings governing a call: the explicit context's
// when it sets anything, else the ambient scope's, else none.
func ResolveSettings[D any](ctx context.Context, c *Context[D]) Settings {
	if c != nil && !c.settings.IsZero() {
		return c.settings
	}
	if s, ok := CurrentSettings(ctx); ok {
		return s
	}
	return Settings{}
}
