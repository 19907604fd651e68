// Package model provides the provider-agnostic abstraction for LLM calls.
// It defines normalized request/response types over chat completion APIs
// (Anthropic, OpenAI, Bedrock, Google) so call bindings and context overrides
// can target models without coupling to specific SDKs. Implementations
// translate these types into provider-specific formats.
package model

import (
	"context"
	"errors"
	"strings"

	"goa.design/llmctx/format"
)

type (
	// Client defines the contract call bindings use to invoke LLM calls.
	// Implementations wrap provider SDKs and translate Request/Response to
	// provider-specific formats. Clients must be safe for concurrent use and
	// reusable across invocations.
	Client interface {
		// Complete sends a chat completion request to the model provider and
		// returns the generated response. Returns an error if the provider is
		// unavailable, quota is exceeded, or the request is malformed.
		Complete(ctx context.Context, req Request) (Response, error)

		// Stream sends a chat completion request and returns a Streamer that
		// yields incremental chunks (text, thinking, tool calls, usage). The
		// returned Streamer must be closed by callers. Providers that do not
		// support streaming return ErrStreamingUnsupported.
		Stream(ctx context.Context, req Request) (Streamer, error)
	}

	// Streamer delivers incremental model output. Successive calls to Recv
	// return Chunk values until io.EOF. Implementations must be safe to call
	// from a single goroutine and release underlying resources on Close.
	Streamer interface {
		// Recv returns the next chunk from the stream. io.EOF signals a clean
		// end of stream.
		Recv() (Chunk, error)
		// Close releases the underlying stream. Safe to call more than once.
		Close() error
		// Metadata returns stream-level metadata (model, response ID, final
		// usage, stop reason). Populated once the stream has drained; callers
		// should read it after Recv returns io.EOF.
		Metadata() StreamMetadata
	}

	// Request captures the normalized parameters for a model invocation.
	// Fields map to common provider parameters but may not be supported by
	// every backend; implementations document unsupported fields and either
	// return errors or ignore them.
	Request struct {
		// Model identifies the target model using the provider-specific
		// identifier (e.g. "claude-sonnet-4-5", "gpt-4o-mini",
		// "gemini-2.0-flash"). Empty selects the adapter's configured default.
		Model string

		// Messages is the ordered conversation provided to the model,
		// including system prompts, user inputs, and prior assistant turns.
		Messages []*Message

		// Tools describes the tool schemas exposed to the model for function
		// calling. Empty if the model should not invoke tools.
		Tools []*ToolDefinition

		// Params carries the common sampling and limit parameters. Zero-value
		// fields fall back to adapter defaults.
		Params Params

		// Format requests structured output conforming to the named JSON
		// Schema. Providers without native structured output may emulate it
		// or return an error.
		Format *format.Format

		// JSONMode asks the provider to emit valid JSON without binding to a
		// specific schema. Ignored when Format is set and the provider
		// supports schema-constrained output directly.
		JSONMode bool

		// Stream indicates the caller prefers streaming output. When true,
		// callers use Client.Stream to receive incremental chunks.
		Stream bool
	}

	// Params are the common call parameters shared by providers. Pointer
	// fields distinguish "unset" (adapter default applies) from an explicit
	// zero.
	Params struct {
		// Temperature controls sampling temperature, typically 0.0 to 2.0.
		Temperature *float64
		// MaxTokens caps the number of completion tokens generated.
		MaxTokens *int
		// TopP controls nucleus sampling.
		TopP *float64
		// Seed requests deterministic sampling on providers that support it.
		Seed *int64
		// StopSequences stop generation when emitted by the model.
		StopSequences []string
		// Thinking configures extended reasoning on models that support it.
		Thinking *ThinkingOptions
	}

	// ThinkingOptions toggles provider-specific extended reasoning modes.
	ThinkingOptions struct {
		// Enable turns thinking on. When false the provider default applies.
		Enable bool
		// BudgetTokens caps tokens allocated to thinking output. Zero uses
		// the adapter's configured default.
		BudgetTokens int
	}

	// Response wraps the generated content and any tool call requests from
	// the model provider.
	Response struct {
		// ID is the provider's response identifier when reported.
		ID string

		// Model echoes the concrete model that served the request.
		Model string

		// Content contains the assistant messages returned by the model.
		// Typically a single message; empty if the model only requested tool
		// calls without generating text.
		Content []Message

		// ToolCalls lists tool invocations requested by the model. Empty if
		// the model produced a final response. Callers execute these and feed
		// results back in a subsequent turn.
		ToolCalls []ToolCall

		// StopReason explains why the model stopped generating.
		StopReason StopReason

		// Usage reports token usage when the provider makes it available.
		Usage TokenUsage
	}

	// StreamMetadata carries stream-level information collected while
	// draining a Streamer.
	StreamMetadata struct {
		// ID is the provider's response identifier when reported.
		ID string
		// Model echoes the concrete model that served the request.
		Model string
		// StopReason explains why the stream terminated.
		StopReason StopReason
		// Usage is the final token accounting for the streamed response.
		Usage TokenUsage
	}

	// ToolCall captures a tool invocation requested by the model during
	// function calling.
	ToolCall struct {
		// ID is the provider-assigned identifier correlating the call with
		// its eventual tool result.
		ID string
		// Name identifies which tool should be invoked; it matches a
		// ToolDefinition.Name from the request.
		Name string
		// Input carries the raw JSON arguments generated by the model,
		// conforming to the tool's InputSchema.
		Input []byte
	}

	// ToolDefinition describes a tool schema passed to model providers for
	// function calling.
	ToolDefinition struct {
		// Name is the identifier presented to the model. Providers restrict
		// allowed characters and length; adapters sanitize as needed.
		Name string
		// Description documents the tool so the model can decide when to
		// invoke it.
		Description string
		// InputSchema is the JSON Schema object describing the tool's input
		// parameters ("type": "object" with "properties" and "required").
		InputSchema map[string]any
		// Strict requests strict schema adherence on providers that support
		// it (e.g. OpenAI structured outputs).
		Strict bool
	}

	// Chunk represents a streaming event emitted by the model. Type indicates
	// which payload fields are populated.
	Chunk struct {
		// Type is the chunk kind: ChunkTypeText, ChunkTypeThinking,
		// ChunkTypeToolCall, ChunkTypeUsage, or ChunkTypeStop.
		Type ChunkType
		// Text contains the assistant text delta when Type is ChunkTypeText.
		Text string
		// Thinking contains the reasoning delta when Type is
		// ChunkTypeThinking.
		Thinking string
		// ToolCall carries the completed tool invocation when Type is
		// ChunkTypeToolCall. Adapters accumulate argument fragments and emit
		// a single chunk per call.
		ToolCall *ToolCall
		// UsageDelta reports incremental token usage when Type is
		// ChunkTypeUsage.
		UsageDelta *TokenUsage
		// StopReason explains termination when Type is ChunkTypeStop.
		StopReason StopReason
	}

	// ChunkType enumerates the streaming event kinds in Chunk.Type.
	ChunkType string

	// StopReason explains why the model stopped generating.
	StopReason string

	// TokenUsage records prompt/completion token counts when reported by the
	// provider. All fields are zero if the provider doesn't report usage.
	TokenUsage struct {
		// InputTokens counts tokens consumed by the prompt and history.
		InputTokens int
		// OutputTokens counts tokens produced in this completion, including
		// tool call arguments.
		OutputTokens int
		// TotalTokens is the aggregate the provider reports. Some providers
		// include overhead, so prefer this over summing the parts.
		TotalTokens int
	}
)

// Chunk type constants are the well-known streaming event kinds.
const (
	ChunkTypeText     ChunkType = "text"
	ChunkTypeThinking ChunkType = "thinking"
	ChunkTypeToolCall ChunkType = "tool_call"
	ChunkTypeUsage    ChunkType = "usage"
	ChunkTypeStop     ChunkType = "stop"
)

// Stop reason constants cover the values providers commonly report. Adapters
// map provider-specific strings onto these; unrecognized reasons pass through
// verbatim.
const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopToolUse      StopReason = "tool_use"
	StopStopSequence StopReason = "stop_sequence"
)

// ErrStreamingUnsupported indicates the model provider does not implement
// streaming for the requested model/parameters.
var ErrStreamingUnsupported = errors.New("model: streaming not supported")

// ErrRateLimited indicates the provider is throttling requests. Adapters wrap
// the provider error so callers can match with errors.Is.
var ErrRateLimited = errors.New("model: rate limited")

// Text concatenates the text parts of the response's assistant messages in
// order. Returns "" when the model produced no text.
func (r Response) Text() string {
	var b strings.Builder
	for _, m := range r.Content {
		for _, p := range m.Parts {
			if t, ok := p.(TextPart); ok {
				b.WriteString(t.Text)
			}
		}
	}
	return b.String()
}

// Add accumulates a usage delta into u. Used by streamers to fold incremental
// usage chunks into the final accounting.
func (u *TokenUsage) Add(delta TokenUsage) {
	u.InputTokens += delta.InputTokens
	u.OutputTokens += delta.OutputTokens
	u.TotalTokens += delta.TotalTokens
}

// Merge resolves two parameter sets with p taking precedence and base filling
// unset fields. Neither receiver nor argument is mutated.
func (p Params) Merge(base Params) Params {
	out := p
	if out.Temperature == nil {
		out.Temperature = base.Temperature
	}
	if out.MaxTokens == nil {
		out.MaxTokens = base.MaxTokens
	}
	if out.TopP == nil {
		out.TopP = base.TopP
	}
	if out.Seed == nil {
		out.Seed = base.Seed
	}
	if out.StopSequences == nil {
		out.StopSequences = base.StopSequences
	}
	if out.Thinking == nil {
		out.Thinking = base.Thinking
	}
	return out
}
