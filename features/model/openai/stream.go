package openai

import (
	"io"
	"sync"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"goa.design/llmctx/model"
)

// streamer adapts the SDK's pull-based SSE stream to model.Streamer. Text
// deltas are forwarded as they arrive while tool calls are assembled with
// the SDK accumulator and emitted once their arguments are complete.
type streamer struct {
	stream  *ssestream.Stream[sdk.ChatCompletionChunk]
	acc     sdk.ChatCompletionAccumulator
	pending []model.Chunk

	metaMu sync.Mutex
	meta   model.StreamMetadata

	done     bool
	finalErr error
}

// Recv returns the next chunk, io.EOF once the stream is exhausted, or the
// translated provider error when the stream fails.
func (s *streamer) Recv() (model.Chunk, error) {
	if len(s.pending) > 0 {
		return s.pop(), nil
	}
	if s.done {
		if s.finalErr != nil {
			return model.Chunk{}, s.finalErr
		}
		return model.Chunk{}, io.EOF
	}
	for s.stream.Next() {
		s.process(s.stream.Current())
		if len(s.pending) > 0 {
			return s.pop(), nil
		}
	}
	s.done = true
	if err := s.stream.Err(); err != nil {
		s.finalErr = wrapError("chat.completions stream", err)
		return model.Chunk{}, s.finalErr
	}
	return model.Chunk{}, io.EOF
}

// Close releases the underlying SSE stream. Further Recv calls return
// io.EOF.
func (s *streamer) Close() error {
	s.done = true
	return s.stream.Close()
}

// Metadata reports the identifiers and totals observed so far. It is safe
// to call after Recv returns io.EOF.
func (s *streamer) Metadata() model.StreamMetadata {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	return s.meta
}

func (s *streamer) pop() model.Chunk {
	chunk := s.pending[0]
	s.pending = s.pending[1:]
	return chunk
}

func (s *streamer) updateMeta(mutate func(*model.StreamMetadata)) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	mutate(&s.meta)
}

func (s *streamer) process(chunk sdk.ChatCompletionChunk) {
	s.acc.AddChunk(chunk)
	s.updateMeta(func(m *model.StreamMetadata) {
		if m.ID == "" {
			m.ID = chunk.ID
		}
		if m.Model == "" {
			m.Model = chunk.Model
		}
	})
	if tool, ok := s.acc.JustFinishedToolCall(); ok {
		if tc := s.accumulatedToolCall(tool.Index); tc != nil {
			s.pending = append(s.pending, model.Chunk{Type: model.ChunkTypeToolCall, ToolCall: tc})
		}
	}
	if len(chunk.Choices) > 0 {
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			s.pending = append(s.pending, model.Chunk{Type: model.ChunkTypeText, Text: choice.Delta.Content})
		}
		if choice.FinishReason != "" {
			stop := translateFinishReason(choice.FinishReason)
			s.updateMeta(func(m *model.StreamMetadata) { m.StopReason = stop })
			s.pending = append(s.pending, model.Chunk{Type: model.ChunkTypeStop, StopReason: stop})
		}
	}
	// The final chunk carries usage when stream_options.include_usage is
	// set. It has no choices.
	if u := chunk.Usage; u.PromptTokens != 0 || u.CompletionTokens != 0 || u.TotalTokens != 0 {
		usage := model.TokenUsage{
			InputTokens:  int(u.PromptTokens),
			OutputTokens: int(u.CompletionTokens),
			TotalTokens:  int(u.TotalTokens),
		}
		s.updateMeta(func(m *model.StreamMetadata) { m.Usage = usage })
		s.pending = append(s.pending, model.Chunk{Type: model.ChunkTypeUsage, UsageDelta: &usage})
	}
}

// accumulatedToolCall looks up a finished tool call by index in the
// accumulated completion. The accumulator owns argument reassembly so the
// entry holds the full JSON payload by the time the call finishes.
func (s *streamer) accumulatedToolCall(index int) *model.ToolCall {
	if len(s.acc.Choices) == 0 {
		return nil
	}
	calls := s.acc.Choices[0].Message.ToolCalls
	if index < 0 || index >= len(calls) {
		return nil
	}
	call := calls[index]
	return &model.ToolCall{
		ID:    call.ID,
		Name:  call.Function.Name,
		Input: toolCallInput(call.Function.Arguments),
	}
}
