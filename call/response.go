package call

import (
	"context"
	"encoding/json"
	"fmt"

	"goa.design/llmctx/callctx"
	"goa.design/llmctx/model"
	"goa.design/llmctx/telemetry"
	"goa.design/llmctx/tools"
)

type (
	// Response is the outcome of one Execute, carrying the raw model
	// response together with the resolved arguments that produced it.
	Response[D any] struct {
		call  *Call[D]
		dctx  *callctx.Context[D]
		args  callctx.CallArgs
		runID string
		resp  model.Response
		tel   telemetry.CallTelemetry
	}

	// StreamResponse is the outcome of one Stream. It satisfies
	// model.Streamer; Collect drains the remainder into a Response.
	StreamResponse[D any] struct {
		call   *Call[D]
		dctx   *callctx.Context[D]
		args   callctx.CallArgs
		runID  string
		stream model.Streamer
	}
)

// RunID returns the unique identifier assigned to this execution.
func (r *Response[D]) RunID() string { return r.runID }

// Args returns the resolved arguments the execution used, after overrides.
func (r *Response[D]) Args() callctx.CallArgs { return r.args }

// Raw returns the underlying model response.
func (r *Response[D]) Raw() model.Response { return r.resp }

// Text returns the concatenated assistant text.
func (r *Response[D]) Text() string { return r.resp.Text() }

// ToolCalls returns the tool invocations the model requested.
func (r *Response[D]) ToolCalls() []model.ToolCall { return r.resp.ToolCalls }

// Telemetry returns the observability metadata collected for this execution.
func (r *Response[D]) Telemetry() telemetry.CallTelemetry { return r.tel }

// Parse unmarshals the response text into v. When the execution resolved a
// format the text is validated against its schema first, so v never receives
// non-conforming output; validation failures surface as *format.ValidationError.
func (r *Response[D]) Parse(v any) error {
	raw := []byte(r.Text())
	if r.args.Format != nil {
		if err := r.args.Format.Validate(raw); err != nil {
			return err
		}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("call %q: parse response: %w", r.call.name, err)
	}
	return nil
}

// ExecuteTools runs the call's toolkit against every tool call in the
// response, under the same deps context the execution used. Individual tool
// failures are captured inside the outputs; the returned error is only for a
// response that requested tools with no toolkit bound.
func (r *Response[D]) ExecuteTools(ctx context.Context) ([]tools.Output, error) {
	if len(r.resp.ToolCalls) == 0 {
		return nil, nil
	}
	if r.call.toolkit == nil {
		return nil, fmt.Errorf("call %q: %w", r.call.name, ErrNoToolkit)
	}
	outputs := make([]tools.Output, 0, len(r.resp.ToolCalls))
	for _, tc := range r.resp.ToolCalls {
		outputs = append(outputs, r.call.toolkit.Execute(ctx, r.dctx, tc))
	}
	return outputs, nil
}

// ToolMessages builds the transcript extension for the next turn: the
// assistant message echoing the response text and tool use parts, followed
// by the user message carrying one tool result part per output.
func (r *Response[D]) ToolMessages(outputs []tools.Output) []*model.Message {
	assistant := &model.Message{Role: model.ConversationRoleAssistant}
	for _, msg := range r.resp.Content {
		for _, part := range msg.Parts {
			if text, ok := part.(model.TextPart); ok {
				assistant.Parts = append(assistant.Parts, text)
			}
		}
	}
	for _, tc := range r.resp.ToolCalls {
		assistant.Parts = append(assistant.Parts, model.ToolUsePart{
			ID:    tc.ID,
			Name:  tc.Name,
			Input: json.RawMessage(tc.Input),
		})
	}

	user := &model.Message{Role: model.ConversationRoleUser}
	for _, out := range outputs {
		content, isErr := out.ResultContent()
		user.Parts = append(user.Parts, model.ToolResultPart{
			ToolUseID: out.ID,
			Name:      string(out.Name),
			Content:   content,
			IsError:   isErr,
		})
	}
	return []*model.Message{assistant, user}
}

// RunID returns the unique identifier assigned to this execution.
func (s *StreamResponse[D]) RunID() string { return s.runID }

// Args returns the resolved arguments the execution used, after overrides.
func (s *StreamResponse[D]) Args() callctx.CallArgs { return s.args }

// Recv returns the next chunk. io.EOF signals a clean end of stream.
func (s *StreamResponse[D]) Recv() (model.Chunk, error) { return s.stream.Recv() }

// Close releases the underlying stream.
func (s *StreamResponse[D]) Close() error { return s.stream.Close() }

// Metadata returns the stream metadata gathered so far; complete once Recv
// has returned io.EOF.
func (s *StreamResponse[D]) Metadata() model.StreamMetadata { return s.stream.Metadata() }

// Collect drains the remainder of the stream into a Response so callers can
// switch from incremental to whole-response handling mid-flight.
func (s *StreamResponse[D]) Collect() (*Response[D], error) {
	resp, err := model.Collect(s.stream)
	if err != nil {
		return nil, fmt.Errorf("call %q: %w", s.call.name, err)
	}
	return &Response[D]{
		call:  s.call,
		dctx:  s.dctx,
		args:  s.args,
		runID: s.runID,
		resp:  resp,
		tel: telemetry.CallTelemetry{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			Provider:     s.args.Provider,
			Model:        s.args.Model,
		},
	}, nil
}
