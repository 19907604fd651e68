package anthropic

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"goa.design/llmctx/model"
)

// streamer adapts an Anthropic Messages streaming stream to the
// model.Streamer interface.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	chunks chan model.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	metaMu sync.RWMutex
	meta   model.StreamMetadata

	toolNameMap map[string]string
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion], nameMap map[string]string) model.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		ctx:         cctx,
		cancel:      cancel,
		stream:      stream,
		chunks:      make(chan model.Chunk, 32),
		toolNameMap: nameMap,
	}
	go s.run()
	return s
}

func (s *streamer) Recv() (model.Chunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		if err := s.err(); err != nil {
			return model.Chunk{}, err
		}
		return model.Chunk{}, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		s.setErr(err)
		return model.Chunk{}, err
	}
}

func (s *streamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *streamer) Metadata() model.StreamMetadata {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	return s.meta
}

func (s *streamer) run() {
	defer close(s.chunks)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	processor := newChunkProcessor(s.emitChunk, s.updateMeta, s.toolNameMap)

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				s.setErr(wrapError("messages.new stream", err))
			} else if err := s.ctx.Err(); err != nil {
				s.setErr(err)
			}
			return
		}
		if err := processor.Handle(s.stream.Current()); err != nil {
			s.setErr(err)
			return
		}
	}
}

func (s *streamer) emitChunk(chunk model.Chunk) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.chunks <- chunk:
		return nil
	}
}

func (s *streamer) updateMeta(mutate func(*model.StreamMetadata)) {
	s.metaMu.Lock()
	mutate(&s.meta)
	s.metaMu.Unlock()
}

func (s *streamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *streamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}

// chunkProcessor converts Anthropic streaming events into model.Chunks.
// Tool input JSON arrives in fragments; the processor buffers them per
// content block and emits one tool_call chunk when the block stops.
type chunkProcessor struct {
	emit       func(model.Chunk) error
	updateMeta func(func(*model.StreamMetadata))

	toolBlocks  map[int]*toolBuffer
	toolNameMap map[string]string

	startInput int64
	stopReason model.StopReason
}

func newChunkProcessor(emit func(model.Chunk) error, updateMeta func(func(*model.StreamMetadata)), nameMap map[string]string) *chunkProcessor {
	return &chunkProcessor{
		emit:        emit,
		updateMeta:  updateMeta,
		toolBlocks:  make(map[int]*toolBuffer),
		toolNameMap: nameMap,
	}
}

func (p *chunkProcessor) Handle(event sdk.MessageStreamEventUnion) error {
	switch ev := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		p.toolBlocks = make(map[int]*toolBuffer)
		p.stopReason = ""
		p.startInput = ev.Message.Usage.InputTokens
		id := ev.Message.ID
		modelID := string(ev.Message.Model)
		p.updateMeta(func(m *model.StreamMetadata) {
			m.ID = id
			m.Model = modelID
		})
		return nil
	case sdk.ContentBlockStartEvent:
		if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			if toolUse.ID == "" {
				return fmt.Errorf("anthropic stream: tool use block missing id")
			}
			if toolUse.Name == "" {
				return fmt.Errorf("anthropic stream: tool use block %q missing name", toolUse.ID)
			}
			name := toolUse.Name
			// Unknown names pass through so the caller can report an
			// unknown tool result the model recovers from.
			if canonical, ok := p.toolNameMap[name]; ok {
				name = canonical
			}
			p.toolBlocks[int(ev.Index)] = &toolBuffer{id: toolUse.ID, name: name}
		}
		return nil
	case sdk.ContentBlockDeltaEvent:
		idx := int(ev.Index)
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text == "" {
				return nil
			}
			return p.emit(model.Chunk{Type: model.ChunkTypeText, Text: delta.Text})
		case sdk.InputJSONDelta:
			if delta.PartialJSON == "" {
				return nil
			}
			if tb := p.toolBlocks[idx]; tb != nil {
				tb.fragments = append(tb.fragments, delta.PartialJSON)
			}
			return nil
		case sdk.ThinkingDelta:
			if delta.Thinking == "" {
				return nil
			}
			return p.emit(model.Chunk{Type: model.ChunkTypeThinking, Thinking: delta.Thinking})
		default:
			return nil
		}
	case sdk.ContentBlockStopEvent:
		idx := int(ev.Index)
		if tb := p.toolBlocks[idx]; tb != nil {
			delete(p.toolBlocks, idx)
			return p.emit(model.Chunk{
				Type: model.ChunkTypeToolCall,
				ToolCall: &model.ToolCall{
					ID:    tb.id,
					Name:  tb.name,
					Input: []byte(tb.finalInput()),
				},
			})
		}
		return nil
	case sdk.MessageDeltaEvent:
		p.stopReason = model.StopReason(ev.Delta.StopReason)
		input := ev.Usage.InputTokens
		if input == 0 {
			input = p.startInput
		}
		usage := model.TokenUsage{
			InputTokens:  int(input),
			OutputTokens: int(ev.Usage.OutputTokens),
			TotalTokens:  int(input + ev.Usage.OutputTokens),
		}
		stop := p.stopReason
		p.updateMeta(func(m *model.StreamMetadata) {
			m.StopReason = stop
			m.Usage = usage
		})
		return p.emit(model.Chunk{Type: model.ChunkTypeUsage, UsageDelta: &usage})
	case sdk.MessageStopEvent:
		chunk := model.Chunk{Type: model.ChunkTypeStop, StopReason: p.stopReason}
		p.toolBlocks = make(map[int]*toolBuffer)
		return p.emit(chunk)
	}
	return nil
}

type toolBuffer struct {
	name      string
	id        string
	fragments []string
}

func (tb *toolBuffer) finalInput() string {
	if len(tb.fragments) == 0 {
		return "{}"
	}
	joined := strings.Join(tb.fragments, "")
	if strings.TrimSpace(joined) == "" {
		return "{}"
	}
	return joined
}
