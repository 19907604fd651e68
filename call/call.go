// Package call binds prompts to models and resolves effective call arguments
// at execution time. A Call starts from its configured defaults, applies the
// override settings of the governing context (explicit deps context first,
// ambient scope second) and routes the result to a provider client, so the
// same binding serves different providers, models and output shapes without
// being rebuilt.
package call

import (
	"context"
	"errors"
	"fmt"

	"goa.design/llmctx/callctx"
	"goa.design/llmctx/format"
	"goa.design/llmctx/model"
	"goa.design/llmctx/telemetry"
	"goa.design/llmctx/tools"
)

var (
	// ErrNoProvider is returned when neither the call defaults nor the
	// governing settings name a provider or supply a client.
	ErrNoProvider = errors.New("call: no provider or client configured")

	// ErrNoClient is returned when a provider is named but no client can
	// serve it, either because the call has no resolver or the resolver
	// does not know the provider.
	ErrNoClient = errors.New("call: no client for provider")

	// ErrNoToolkit is returned by Response.ExecuteTools when the model
	// requested tools but the call has no toolkit bound.
	ErrNoToolkit = errors.New("call: no toolkit bound")
)

type (
	// Prompt renders the conversation for one execution. It receives the
	// deps context so prompts can read caller state without globals.
	Prompt[D any] func(ctx context.Context, c *callctx.Context[D]) ([]*model.Message, error)

	// Resolver resolves provider names to clients. The registry package
	// implements it; tests supply stubs.
	Resolver interface {
		Client(ctx context.Context, provider string) (model.Client, error)
	}

	// Telemetry bundles the observability hooks of a call. Zero fields
	// default to no-ops.
	Telemetry struct {
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
	}

	// Call is a named binding of a prompt to model defaults, tools and
	// output format. Build with New; execute with Execute or Stream.
	// A Call is immutable after New and safe for concurrent use.
	Call[D any] struct {
		name     string
		prompt   Prompt[D]
		provider string
		model    string
		client   model.Client
		params   model.Params
		toolkit  *tools.Toolkit[D]
		format   *format.Format
		jsonMode bool
		resolver Resolver
		log      telemetry.Logger
		metrics  telemetry.Metrics
		tracer   telemetry.Tracer
	}

	// Option configures a Call under construction.
	Option[D any] func(*Call[D])
)

// WithProvider sets the default provider and model pair.
func WithProvider[D any](provider, mdl string) Option[D] {
	return func(c *Call[D]) {
		c.provider = provider
		c.model = mdl
	}
}

// WithClient pins the call to a client, bypassing provider resolution unless
// an override routes elsewhere.
func WithClient[D any](cl model.Client) Option[D] {
	return func(c *Call[D]) { c.client = cl }
}

// WithParams sets the default request parameters.
func WithParams[D any](p model.Params) Option[D] {
	return func(c *Call[D]) { c.params = p }
}

// WithToolkit exposes the toolkit's tools to the model and enables
// Response.ExecuteTools.
func WithToolkit[D any](k *tools.Toolkit[D]) Option[D] {
	return func(c *Call[D]) { c.toolkit = k }
}

// WithFormat requests structured output conforming to f.
func WithFormat[D any](f *format.Format) Option[D] {
	return func(c *Call[D]) { c.format = f }
}

// WithJSONMode asks the provider for raw JSON output without a schema.
func WithJSONMode[D any](on bool) Option[D] {
	return func(c *Call[D]) { c.jsonMode = on }
}

// WithResolver wires provider resolution, typically the client registry.
func WithResolver[D any](r Resolver) Option[D] {
	return func(c *Call[D]) { c.resolver = r }
}

// WithTelemetry wires logging, metrics and tracing. Zero fields keep their
// no-op defaults.
func WithTelemetry[D any](t Telemetry) Option[D] {
	return func(c *Call[D]) {
		if t.Logger != nil {
			c.log = t.Logger
		}
		if t.Metrics != nil {
			c.metrics = t.Metrics
		}
		if t.Tracer != nil {
			c.tracer = t.Tracer
		}
	}
}

// New builds a call binding. The name labels logs, metrics and spans. The
// prompt is required; everything else has workable defaults provided a
// provider, client or override supplies the route at execution time.
func New[D any](name string, prompt Prompt[D], opts ...Option[D]) (*Call[D], error) {
	if name == "" {
		return nil, errors.New("call: name is required")
	}
	if prompt == nil {
		return nil, errors.New("call: prompt is required")
	}
	c := &Call[D]{
		name:    name,
		prompt:  prompt,
		log:     telemetry.NewNoopLogger(),
		metrics: telemetry.NewNoopMetrics(),
		tracer:  telemetry.NewNoopTracer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if (c.provider == "") != (c.model == "") {
		return nil, fmt.Errorf("call %q: %w", name, callctx.ErrProviderModelPair)
	}
	if c.format != nil && c.format.Name == "" {
		return nil, fmt.Errorf("call %q: format name is required", name)
	}
	return c, nil
}

// Name returns the call's name.
func (c *Call[D]) Name() string { return c.name }
