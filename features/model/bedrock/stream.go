package bedrock

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"goa.design/llmctx/model"
)

// streamer adapts a Bedrock ConverseStream event stream to the
// model.Streamer interface.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *bedrockruntime.ConverseStreamEventStream

	chunks chan model.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	metaMu sync.RWMutex
	meta   model.StreamMetadata

	toolNameMap map[string]string
}

func newStreamer(ctx context.Context, stream *bedrockruntime.ConverseStreamEventStream, nameMap map[string]string, modelID string) model.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		ctx:         cctx,
		cancel:      cancel,
		stream:      stream,
		chunks:      make(chan model.Chunk, 32),
		toolNameMap: nameMap,
	}
	// Converse events carry no message or model identifiers; report the
	// model the request resolved to.
	s.meta.Model = modelID
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
	events := s.stream.Events()

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		case event, ok := <-events:
			if !ok {
				if err := s.stream.Err(); err != nil {
					s.setErr(wrapError("converse_stream", err))
				} else if err := s.ctx.Err(); err != nil {
					s.setErr(err)
				}
				return
			}
			if err := processor.Handle(event); err != nil {
				s.setErr(err)
				return
			}
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

// chunkProcessor converts Bedrock streaming events into model.Chunks. Tool
// input JSON arrives in fragments; the processor buffers them per content
// block and emits one tool_call chunk when the block stops.
type chunkProcessor struct {
	emit       func(model.Chunk) error
	updateMeta func(func(*model.StreamMetadata))

	toolBlocks  map[int]*toolBuffer
	toolNameMap map[string]string
}

func newChunkProcessor(emit func(model.Chunk) error, updateMeta func(func(*model.StreamMetadata)), nameMap map[string]string) *chunkProcessor {
	return &chunkProcessor{
		emit:        emit,
		updateMeta:  updateMeta,
		toolBlocks:  make(map[int]*toolBuffer),
		toolNameMap: nameMap,
	}
}

func (p *chunkProcessor) Handle(event brtypes.ConverseStreamOutput) error {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberMessageStart:
		p.toolBlocks = make(map[int]*toolBuffer)
		return nil
	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
		if toolUse, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
			tb := &toolBuffer{}
			if toolUse.Value.Name != nil {
				tb.name = canonicalToolName(*toolUse.Value.Name, p.toolNameMap)
			}
			if toolUse.Value.ToolUseId != nil {
				tb.id = *toolUse.Value.ToolUseId
			}
			p.toolBlocks[idx] = tb
		}
		return nil
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
		switch delta := ev.Value.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			if delta.Value == "" {
				return nil
			}
			return p.emit(model.Chunk{Type: model.ChunkTypeText, Text: delta.Value})
		case *brtypes.ContentBlockDeltaMemberReasoningContent:
			if text, ok := delta.Value.(*brtypes.ReasoningContentBlockDeltaMemberText); ok && text.Value != "" {
				return p.emit(model.Chunk{Type: model.ChunkTypeThinking, Thinking: text.Value})
			}
			return nil
		case *brtypes.ContentBlockDeltaMemberToolUse:
			if tb := p.toolBlocks[idx]; tb != nil && delta.Value.Input != nil {
				tb.fragments = append(tb.fragments, *delta.Value.Input)
			}
			return nil
		default:
			return nil
		}
	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
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
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		stop := translateStopReason(ev.Value.StopReason)
		p.updateMeta(func(m *model.StreamMetadata) { m.StopReason = stop })
		p.toolBlocks = make(map[int]*toolBuffer)
		return p.emit(model.Chunk{Type: model.ChunkTypeStop, StopReason: stop})
	case *brtypes.ConverseStreamOutputMemberMetadata:
		if ev.Value.Usage == nil {
			return nil
		}
		usage := model.TokenUsage{
			InputTokens:  int(ptrValue(ev.Value.Usage.InputTokens)),
			OutputTokens: int(ptrValue(ev.Value.Usage.OutputTokens)),
			TotalTokens:  int(ptrValue(ev.Value.Usage.TotalTokens)),
		}
		p.updateMeta(func(m *model.StreamMetadata) { m.Usage = usage })
		return p.emit(model.Chunk{Type: model.ChunkTypeUsage, UsageDelta: &usage})
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

func contentIndex(idx *int32) (int, error) {
	if idx == nil {
		return 0, fmt.Errorf("bedrock: content block index missing")
	}
	return int(*idx), nil
}
