package callctx

import (
	"errors"

	"goa.design/llmctx/format"
	"goa.design/llmctx/model"
)

// ErrProviderModelPair is returned when a scope or context names a provider
// without a model or a model without a provider. The pair routes the call, so
// half a pair is always a bug at the call site.
var ErrProviderModelPair = errors.New("callctx: provider and model must be set together")

type (
	// Settings is the override set a Context or scope applies to a call.
	// The zero value overrides nothing. String and interface fields are
	// unset when zero; the pointer fields distinguish "leave alone" (nil)
	// from an explicit value, so a scope can force streaming off.
	Settings struct {
		// Provider routes the call to a registered provider adapter.
		// Set together with Model.
		Provider string
		// Model is the provider-specific model identifier.
		Model string
		// Client overrides the client the call executes against,
		// bypassing provider routing entirely.
		Client model.Client
		// Params overrides the request parameters. Applied as a whole:
		// the call's own params are replaced, not merged.
		Params *model.Params
		// Stream overrides whether the call streams.
		Stream *bool
		// JSONMode overrides whether the provider is asked for raw
		// JSON output without a schema.
		JSONMode *bool
		// Format overrides the structured output format.
		Format *format.Format
	}

	// Option presets a single Settings field. Options are passed to New,
	// Context.WithSettings and Scope.
	Option func(*Settings)
)

// WithProvider routes calls to the named provider and model. Both must be
// non-empty; Validate rejects half a pair.
func WithProvider(provider, model string) Option {
	return func(s *Settings) {
		s.Provider = provider
		s.Model = model
	}
}

// WithClient pins calls to a specific client, bypassing provider routing.
func WithClient(c model.Client) Option {
	return func(s *Settings) { s.Client = c }
}

// WithParams replaces the call's request parameters.
func WithParams(p model.Params) Option {
	return func(s *Settings) { s.Params = &p }
}

// WithStream forces streaming on or off.
func WithStream(on bool) Option {
	return func(s *Settings) { s.Stream = &on }
}

// WithJSONMode forces JSON mode on or off.
func WithJSONMode(on bool) Option {
	return func(s *Settings) { s.JSONMode = &on }
}

// WithFormat overrides the structured output format.
func WithFormat(f *format.Format) Option {
	return func(s *Settings) { s.Format = f }
}

// Validate reports whether the settings are internally coherent. The only
// rule is the provider/model pairing.
func (s Settings) Validate() error {
	if (s.Provider == "") != (s.Model == "") {
		return ErrProviderModelPair
	}
	return nil
}

// IsZero reports whether no field is set.
func (s Settings) IsZero() bool {
	return s.Provider == "" && s.Model == "" && s.Client == nil &&
		s.Params == nil && s.Stream == nil && s.JSONMode == nil && s.Format == nil
}

// Merge returns the receiver with unset fields filled from base. The receiver
// wins wherever both set a field; an explicit false in a pointer field is a
// set field and survives the merge. Used for nested scopes, where the inner
// scope is the receiver and the enclosing scope is base.
func (s Settings) Merge(base Settings) Settings {
	out := s
	if out.Provider == "" {
		out.Provider = base.Provider
	}
	if out.Model == "" {
		out.Model = base.Model
	}
	if out.Client == nil {
		out.Client = base.Client
	}
	if out.Params == nil {
		out.Params = base.Params
	}
	if out.Stream == nil {
		out.Stream = base.Stream
	}
	if out.JSONMode == nil {
		out.JSONMode = base.JSONMode
	}
	if out.Format == nil {
		out.Format = base.Format
	}
	return out
}
