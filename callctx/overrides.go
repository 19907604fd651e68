package callctx

import (
	"context"

	"goa.design/llmctx/format"
	"goa.design/llmctx/model"
)

// CallArgs is the resolved argument set of a single call, after defaults and
// before provider encoding. Settings.Apply rewrites it.
type CallArgs struct {
	Provider string
	Model    string
	Client   model.Client
	Params   model.Params
	Messages []*model.Message
	Tools    []*model.ToolDefinition
	Format   *format.Format
	JSONMode bool
	Stream   bool
}

// Apply returns args rewritten by the settings. Field overrides are
// straightforward replacement, with one structural rule: when the settings
// override stream or format, both revert to their defaults before the
// override lands, and a format override also clears the tool set. Without the
// reset, a format override on top of a streaming call would yield a streaming
// structured call the caller never asked for.
func (s Settings) Apply(args CallArgs) CallArgs {
	out := args
	if s.Stream != nil || s.Format != nil {
		out.Stream = false
		out.Format = nil
	}
	if s.Format != nil {
		out.Tools = nil
	}
	if s.Provider != "" {
		out.Provider = s.Provider
	}
	if s.Model != "" {
		out.Model = s.Model
	}
	if s.Client != nil {
		out.Client = s.Client
	}
	if s.Params != nil {
		out.Params = *s.Params
	}
	if s.Stream != nil {
		out.Stream = *s.Stream
	}
	if s.JSONMode != nil {
		out.JSONMode = *s.JSONMode
	}
	if s.Format != nil {
		out.Format = s.Format
	}
	return out
}

// ApplyOverrides rewrites args with the ambient scope's settings, if any.
// Callers that hold an explicit Context apply its settings directly instead.
func ApplyOverrides(ctx context.Context, args CallArgs) CallArgs {
	s, ok := CurrentSettings(ctx)
	if !ok {
		return args
	}
	return s.Apply(args)
}
