package anthropic

import (
	"context"
	"errors"
	"io"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"goa.design/llmctx/model"
)

// testDecoder feeds a fixed sequence of events to the ssestream.Stream.
type testDecoder struct {
	events []ssestream.Event
	i      int
	err    error
}

func (d *testDecoder) Event() ssestream.Event { return d.events[d.i-1] }

func (d *testDecoder) Next() bool {
	if d.err != nil {
		return false
	}
	if d.i >= len(d.events) {
		return false
	}
	d.i++
	return true
}

func (d *testDecoder) Close() error { return nil }
func (d *testDecoder) Err() error   { return d.err }

func event(eventType, data string) ssestream.Event {
	return ssestream.Event{Type: eventType, Data: []byte(data)}
}

func drain(t *testing.T, s model.Streamer) []model.Chunk {
	t.Helper()
	var chunks []model.Chunk
	for {
		ch, err := s.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.Fatalf("Recv: %v", err)
			}
			return chunks
		}
		chunks = append(chunks, ch)
	}
}

func TestStreamer_FullSequence(t *testing.T) {
	events := []ssestream.Event{
		event("message_start", `{"type":"message_start","message":{"id":"msg_1","model":"claude-sonnet-4-5","usage":{"input_tokens":7}}}`),
		event("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"checking"}}`),
		event("content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"hel"}}`),
		event("content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"lo"}}`),
		event("content_block_start", `{"type":"content_block_start","index":2,"content_block":{"type":"tool_use","id":"t1","name":"search_books"}}`),
		event("content_block_delta", `{"type":"content_block_delta","index":2,"delta":{"type":"input_json_delta","partial_json":"{\"query\":"}}`),
		event("content_block_delta", `{"type":"content_block_delta","index":2,"delta":{"type":"input_json_delta","partial_json":"\"go\"}"}}`),
		event("content_block_stop", `{"type":"content_block_stop","index":2}`),
		event("message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":12}}`),
		event("message_stop", `{"type":"message_stop"}`),
	}

	dec := &testDecoder{events: events}
	stream := ssestream.NewStream[sdk.MessageStreamEventUnion](dec, nil)
	nameMap := map[string]string{"search_books": "library.search_books"}

	s := newStreamer(context.Background(), stream, nameMap)
	defer func() { _ = s.Close() }()

	chunks := drain(t, s)
	if len(chunks) != 6 {
		t.Fatalf("expected 6 chunks, got %d: %+v", len(chunks), chunks)
	}

	if chunks[0].Type != model.ChunkTypeThinking || chunks[0].Thinking != "checking" {
		t.Fatalf("unexpected thinking chunk: %+v", chunks[0])
	}
	if chunks[1].Type != model.ChunkTypeText || chunks[1].Text != "hel" {
		t.Fatalf("unexpected text chunk: %+v", chunks[1])
	}
	if chunks[2].Type != model.ChunkTypeText || chunks[2].Text != "lo" {
		t.Fatalf("unexpected text chunk: %+v", chunks[2])
	}

	tool := chunks[3]
	if tool.Type != model.ChunkTypeToolCall || tool.ToolCall == nil {
		t.Fatalf("unexpected tool chunk: %+v", tool)
	}
	if tool.ToolCall.Name != "library.search_books" {
		t.Fatalf("unexpected tool name %q", tool.ToolCall.Name)
	}
	if tool.ToolCall.ID != "t1" {
		t.Fatalf("unexpected tool id %q", tool.ToolCall.ID)
	}
	if string(tool.ToolCall.Input) != `{"query":"go"}` {
		t.Fatalf("unexpected tool input %s", tool.ToolCall.Input)
	}

	usage := chunks[4]
	if usage.Type != model.ChunkTypeUsage || usage.UsageDelta == nil {
		t.Fatalf("unexpected usage chunk: %+v", usage)
	}
	if usage.UsageDelta.InputTokens != 7 || usage.UsageDelta.OutputTokens != 12 || usage.UsageDelta.TotalTokens != 19 {
		t.Fatalf("unexpected usage: %+v", usage.UsageDelta)
	}

	if chunks[5].Type != model.ChunkTypeStop || chunks[5].StopReason != model.StopToolUse {
		t.Fatalf("unexpected stop chunk: %+v", chunks[5])
	}

	meta := s.Metadata()
	if meta.ID != "msg_1" || meta.Model != "claude-sonnet-4-5" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if meta.StopReason != model.StopToolUse {
		t.Fatalf("unexpected metadata stop reason %q", meta.StopReason)
	}
	if meta.Usage.TotalTokens != 19 {
		t.Fatalf("unexpected metadata usage: %+v", meta.Usage)
	}
}

func TestStreamer_ToolBlockWithoutInputDefaultsToEmptyObject(t *testing.T) {
	events := []ssestream.Event{
		event("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"t1","name":"ping"}}`),
		event("content_block_stop", `{"type":"content_block_stop","index":0}`),
		event("message_stop", `{"type":"message_stop"}`),
	}

	stream := ssestream.NewStream[sdk.MessageStreamEventUnion](&testDecoder{events: events}, nil)
	s := newStreamer(context.Background(), stream, nil)
	defer func() { _ = s.Close() }()

	chunks := drain(t, s)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if string(chunks[0].ToolCall.Input) != "{}" {
		t.Fatalf("unexpected default input %s", chunks[0].ToolCall.Input)
	}
}

func TestStreamer_DecoderError(t *testing.T) {
	dec := &testDecoder{err: errors.New("connection reset")}
	stream := ssestream.NewStream[sdk.MessageStreamEventUnion](dec, nil)
	s := newStreamer(context.Background(), stream, nil)
	defer func() { _ = s.Close() }()

	_, err := s.Recv()
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected stream error, got %v", err)
	}
}

func TestStreamer_CloseStopsStream(t *testing.T) {
	events := []ssestream.Event{
		event("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"a"}}`),
		event("message_stop", `{"type":"message_stop"}`),
	}
	stream := ssestream.NewStream[sdk.MessageStreamEventUnion](&testDecoder{events: events}, nil)
	s := newStreamer(context.Background(), stream, nil)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// After Close the stream terminates with either buffered chunks then
	// EOF, or a cancellation error.
	for i := 0; i < 8; i++ {
		if _, err := s.Recv(); err != nil {
			return
		}
	}
	t.Fatalf("stream did not terminate after Close")
}
