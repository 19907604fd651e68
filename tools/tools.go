// Package tools implements typed tools with dependency injection. A tool's
// handler receives the deps context of the surrounding call, so tools read
// their collaborators (stores, clients, user identity) from the same Context
// the caller built, without globals or type assertions.
package tools

import (
	"context"
	"errors"
	"fmt"

	"goa.design/llmctx/callctx"
	"goa.design/llmctx/format"
	"goa.design/llmctx/model"
)

var (
	// ErrDuplicateTool is returned by NewToolkit when two tools share a name.
	ErrDuplicateTool = errors.New("tools: duplicate tool name")

	// ErrUnknownTool is carried in Output.Err when a model requests a tool
	// the toolkit does not hold.
	ErrUnknownTool = errors.New("tools: unknown tool")

	// ErrInvalidInput is carried in Output.Err when the model's arguments
	// fail the tool's input schema.
	ErrInvalidInput = errors.New("tools: invalid tool input")
)

type (
	// Ident is a canonical tool identifier, the name advertised to the
	// provider and matched against incoming tool calls.
	Ident string

	// Handler executes a tool call. It receives the standard context, the
	// deps context of the surrounding call and the raw call from the
	// model. The returned value becomes the tool result content.
	Handler[D any] func(ctx context.Context, c *callctx.Context[D], call model.ToolCall) (any, error)

	// Tool pairs an advertised definition with its handler.
	Tool[D any] struct {
		// Name identifies the tool. Required, unique within a toolkit.
		Name Ident
		// Description tells the model when to use the tool. Providers
		// reject tools without one, so NewToolkit requires it.
		Description string
		// Schema is the JSON schema of the tool input. Optional; when
		// present, Execute validates arguments against it before the
		// handler runs.
		Schema map[string]any
		// Strict requests provider-side strict schema adherence where
		// supported.
		Strict bool
		// Handler executes the call.
		Handler Handler[D]
	}

	// Toolkit is an ordered, name-unique collection of tools sharing a
	// dependency type. Build with NewToolkit.
	Toolkit[D any] struct {
		tools []Tool[D]
		index map[Ident]int
	}

	// Output is the result of executing one tool call. Exactly one of
	// Result and Err is meaningful; Execute captures handler errors,
	// schema violations and unknown tools in Err rather than failing the
	// whole turn.
	Output struct {
		// ID echoes the tool call identifier for correlation.
		ID string
		// Name is the tool that ran, or was asked for.
		Name Ident
		// Result is the handler's return value on success.
		Result any
		// Err is the failure, if any.
		Err error
	}
)

// String returns the identifier as a string.
func (i Ident) String() string { return string(i) }

// Definition returns the provider-facing definition of the tool.
func (t Tool[D]) Definition() *model.ToolDefinition {
	return &model.ToolDefinition{
		Name:        string(t.Name),
		Description: t.Description,
		InputSchema: t.Schema,
		Strict:      t.Strict,
	}
}

// NewToolkit builds a toolkit from the given tools. Every tool must have a
// name, a description and a handler, and names must be unique.
func NewToolkit[D any](ts ...Tool[D]) (*Toolkit[D], error) {
	k := &Toolkit[D]{
		tools: make([]Tool[D], 0, len(ts)),
		index: make(map[Ident]int, len(ts)),
	}
	for _, t := range ts {
		if t.Name == "" {
			return nil, errors.New("tools: tool name is required")
		}
		if t.Description == "" {
			return nil, fmt.Errorf("tools: tool %q has no description", t.Name)
		}
		if t.Handler == nil {
			return nil, fmt.Errorf("tools: tool %q has no handler", t.Name)
		}
		if _, ok := k.index[t.Name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTool, t.Name)
		}
		k.index[t.Name] = len(k.tools)
		k.tools = append(k.tools, t)
	}
	return k, nil
}

// Len returns the number of tools in the toolkit.
func (k *Toolkit[D]) Len() int { return len(k.tools) }

// Get returns the named tool.
func (k *Toolkit[D]) Get(name Ident) (Tool[D], bool) {
	i, ok := k.index[name]
	if !ok {
		return Tool[D]{}, false
	}
	return k.tools[i], true
}

// Definitions returns the provider-facing definitions in registration order.
// The slice is freshly allocated on each call.
func (k *Toolkit[D]) Definitions() []*model.ToolDefinition {
	defs := make([]*model.ToolDefinition, len(k.tools))
	for i, t := range k.tools {
		defs[i] = t.Definition()
	}
	return defs
}

// Execute runs the tool named by call against the deps context. Failures
// never escape: unknown tools, schema violations, handler errors and handler
// panics all land in Output.Err so the caller can report them back to the
// model as failed tool results.
func (k *Toolkit[D]) Execute(ctx context.Context, c *callctx.Context[D], call model.ToolCall) (out Output) {
	out = Output{ID: call.ID, Name: Ident(call.Name)}

	tool, ok := k.Get(out.Name)
	if !ok {
		out.Err = fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
		return out
	}
	if tool.Schema != nil {
		if err := format.ValidateSchema(string(tool.Name), tool.Schema, call.Input); err != nil {
			out.Err = fmt.Errorf("%w: %w", ErrInvalidInput, err)
			return out
		}
	}

	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("tools: handler %q panicked: %v", tool.Name, r)
		}
	}()
	out.Result, out.Err = tool.Handler(ctx, c, call)
	return out
}

// ResultContent returns the content and error flag to report back to the
// model. Failed executions report the error text with the flag set.
func (o Output) ResultContent() (any, bool) {
	if o.Err != nil {
		return o.Err.Error(), true
	}
	return o.Result, false
}
