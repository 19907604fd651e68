package model

import (
	"io"
	"strings"
)

// Collect drains s into a complete Response and closes it. Text and thinking
// deltas are concatenated in arrival order, tool calls and usage accumulate,
// and stream metadata fills whatever the chunks did not report.
func Collect(s Streamer) (Response, error) {
	defer s.Close()

	var (
		text      strings.Builder
		thinking  strings.Builder
		toolCalls []ToolCall
		usage     TokenUsage
		stop      StopReason
	)
	for {
		chunk, err := s.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Response{}, err
		}
		switch chunk.Type {
		case ChunkTypeText:
			text.WriteString(chunk.Text)
		case ChunkTypeThinking:
			thinking.WriteString(chunk.Thinking)
		case ChunkTypeToolCall:
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
			}
		case ChunkTypeUsage:
			if chunk.UsageDelta != nil {
				usage.Add(*chunk.UsageDelta)
			}
		case ChunkTypeStop:
			stop = chunk.StopReason
		}
	}

	meta := s.Metadata()
	resp := Response{
		ID:         meta.ID,
		Model:      meta.Model,
		ToolCalls:  toolCalls,
		StopReason: stop,
		Usage:      usage,
	}
	if resp.StopReason == "" {
		resp.StopReason = meta.StopReason
	}
	if resp.Usage == (TokenUsage{}) {
		resp.Usage = meta.Usage
	}

	var parts []Part
	if thinking.Len() > 0 {
		parts = append(parts, ThinkingPart{Text: thinking.String()})
	}
	if text.Len() > 0 {
		parts = append(parts, TextPart{Text: text.String()})
	}
	if len(parts) > 0 {
		resp.Content = []Message{{Role: ConversationRoleAssistant, Parts: parts}}
	}
	return resp, nil
}

// Replay returns a Streamer that yields resp as a synthetic stream: thinking
// and text parts in content order, then tool calls, usage and the stop
// reason. Used when an override forces a non-streaming transport under a
// streaming call surface.
func Replay(resp Response) Streamer {
	var queue []Chunk
	for _, msg := range resp.Content {
		for _, part := range msg.Parts {
			switch p := part.(type) {
			case ThinkingPart:
				queue = append(queue, Chunk{Type: ChunkTypeThinking, Thinking: p.Text})
			case TextPart:
				queue = append(queue, Chunk{Type: ChunkTypeText, Text: p.Text})
			}
		}
	}
	for i := range resp.ToolCalls {
		tc := resp.ToolCalls[i]
		queue = append(queue, Chunk{Type: ChunkTypeToolCall, ToolCall: &tc})
	}
	if resp.Usage != (TokenUsage{}) {
		usage := resp.Usage
		queue = append(queue, Chunk{Type: ChunkTypeUsage, UsageDelta: &usage})
	}
	if resp.StopReason != "" {
		queue = append(queue, Chunk{Type: ChunkTypeStop, StopReason: resp.StopReason})
	}
	return &replayStreamer{resp: resp, queue: queue}
}

type replayStreamer struct {
	resp  Response
	queue []Chunk
	pos   int
}

func (r *replayStreamer) Recv() (Chunk, error) {
	if r.pos >= len(r.queue) {
		return Chunk{}, io.EOF
	}
	chunk := r.queue[r.pos]
	r.pos++
	return chunk, nil
}

func (r *replayStreamer) Close() error {
	r.pos = len(r.queue)
	return nil
}

func (r *replayStreamer) Metadata() StreamMetadata {
	return StreamMetadata{
		ID:         r.resp.ID,
		Model:      r.resp.Model,
		StopReason: r.resp.StopReason,
		Usage:      r.resp.Usage,
	}
}
