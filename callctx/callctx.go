// Package callctx implements the dependency-injection context primitive for
// LLM calls. A Context carries two things into a call site: typed
// caller-supplied dependencies, and optional call settings that override the
// call's defaults (provider, model, client, params, and the structural
// stream/format/JSON-mode flags).
//
// # Core Concepts
//
// Context: an immutable, marked value constructed by New. The type parameter
// fixes the dependency type, so prompts and tool handlers receive their
// dependencies without type assertions. IsContext identifies genuine Context
// values at runtime via the marker.
//
// Settings: the override set a Context (or an ambient scope) applies to a
// call. Nested scopes merge field-wise with the inner scope winning and the
// outer filling gaps. Applying settings to call arguments enforces the
// structural reset rule: overriding stream or format resets the other
// structural arguments to their defaults first, and a format override clears
// the tool set, so the overridden call keeps a coherent shape.
//
// Carriage: Scope stores Settings in a context.Context for the span of a call
// tree; Attach stores a typed Context so tools invoked deep inside a call can
// recover their dependencies.
package callctx

import "reflect"

// Marker is the sentinel identifying genuine Context values. It is the value
// returned by the marker method IsContext checks for; the method itself is
// unexported, so no type outside this package can carry the marker.
const Marker = "llmctx.Context"

// marked is the identification contract. The unexported method keeps the
// implementation set closed to this package.
type marked interface {
	contextMarker() string
}

// Context carries typed dependencies and optional call settings into LLM
// call sites. Construct with New; derive variants with WithSettings. The
// zero value is usable but carries zero-value dependencies.
type Context[D any] struct {
	deps     D
	settings Settings
}

// New constructs a Context carrying deps. Options preset call settings the
// context applies when a call executes with it.
func New[D any](deps D, opts ...Option) *Context[D] {
	c := &Context[D]{deps: deps}
	for _, opt := range opts {
		opt(&c.settings)
	}
	return c
}

// Deps returns the dependencies the context carries.
func (c *Context[D]) Deps() D { return c.deps }

// Settings returns a copy of the context's call settings.
func (c *Context[D]) Settings() Settings { return c.settings }

// WithSettings returns a derived Context with the options applied on top of
// the receiver's settings. The receiver is not modified.
func (c *Context[D]) WithSettings(opts ...Option) *Context[D] {
	out := &Context[D]{deps: c.deps, settings: c.settings}
	for _, opt := range opts {
		opt(&out.settings)
	}
	return out
}

// contextMarker implements marked. Value receiver so both Context values and
// pointers carry the marker.
func (Context[D]) contextMarker() string { return Marker }

// IsContext reports whether v is a Context produced by this package. It
// returns false for nil, typed nil pointers, and any foreign value, including
// ones structurally resembling a Context.
func IsContext(v any) bool {
	m, ok := v.(marked)
	if !ok {
		return false
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return false
	}
	return m.contextMarker() == Marker
}
