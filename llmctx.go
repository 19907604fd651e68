// Package llmctx is the stable import path for the dependency-injection
// context primitive of the LLM call stack. It re-exports the contract from
// the callctx implementation package so consumers keep a single import while
// the internals stay free to move.
//
// The wider stack lives in the subpackages: callctx (settings, scopes and
// override semantics), model (the provider-neutral request and response
// types), format (structured output), tools, call, registry and config.
package llmctx

import "goa.design/llmctx/callctx"

// Marker is the sentinel carried by every Context, exposed for callers that
// log or assert on identification.
const Marker = callctx.Marker

type (
	// Context carries typed dependencies and call settings into LLM calls.
	Context[D any] = callctx.Context[D]

	// Option presets call settings on a new Context.
	Option = callctx.Option
)

// New constructs a Context carrying deps.
func New[D any](deps D, opts ...Option) *Context[D] { return callctx.New(deps, opts...) }

// IsContext reports whether v is a Context produced by New.
func IsContext(v any) bool { return callctx.IsContext(v) }
