package gateway

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"

	"goa.design/llmctx/model"
)

type seqStreamer struct {
	chunks []model.Chunk
	idx    int
}

func (s *seqStreamer) Recv() (model.Chunk, error) {
	if s.idx >= len(s.chunks) {
		return model.Chunk{}, io.EOF
	}
	c := s.chunks[s.idx]
	s.idx++
	return c, nil
}

func (s *seqStreamer) Close() error { return nil }

func (s *seqStreamer) Metadata() model.StreamMetadata { return model.StreamMetadata{} }

type captureClient struct {
	lastReq atomic.Value // model.Request
}

func (c *captureClient) Complete(_ context.Context, req model.Request) (model.Response, error) {
	c.lastReq.Store(req)
	return model.Response{Content: []model.Message{*model.Assistant("ok")}}, nil
}

func (c *captureClient) Stream(_ context.Context, req model.Request) (model.Streamer, error) {
	c.lastReq.Store(req)
	return &seqStreamer{chunks: []model.Chunk{
		{Type: model.ChunkTypeText, Text: "hello"},
		{Type: model.ChunkTypeToolCall, ToolCall: &model.ToolCall{ID: "tc_1", Name: "emit_tool", Input: []byte(`{"k":"v"}`)}},
		{Type: model.ChunkTypeUsage, UsageDelta: &model.TokenUsage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3}},
		{Type: model.ChunkTypeStop, StopReason: model.StopStopSequence},
	}}, nil
}

// serverStreamWrapper adapts the push-based Server.Stream into a pull-based
// model.Streamer the way a client transport would.
type serverStreamWrapper struct {
	ch      chan model.Chunk
	done    chan error
	drained bool
	err     error
}

func (w *serverStreamWrapper) Recv() (model.Chunk, error) {
	c, ok := <-w.ch
	if !ok {
		if !w.drained {
			w.drained = true
			w.err = <-w.done
		}
		if w.err != nil {
			return model.Chunk{}, w.err
		}
		return model.Chunk{}, io.EOF
	}
	return c, nil
}

func (w *serverStreamWrapper) Close() error { return nil }

func (w *serverStreamWrapper) Metadata() model.StreamMetadata { return model.StreamMetadata{} }

func remoteStreamFunc(srv *Server) StreamFunc {
	return func(ctx context.Context, req model.Request) (model.Streamer, error) {
		w := &serverStreamWrapper{ch: make(chan model.Chunk, 8), done: make(chan error, 1)}
		go func() {
			err := srv.Stream(ctx, req, func(c model.Chunk) error { w.ch <- c; return nil })
			close(w.ch)
			w.done <- err
		}()
		return w, nil
	}
}

func TestE2E_CompleteThroughRemoteClient(t *testing.T) {
	backing := &captureClient{}
	var unaryCount int32
	bumpTemp := func(next UnaryHandler) UnaryHandler {
		return func(ctx context.Context, req model.Request) (model.Response, error) {
			atomic.AddInt32(&unaryCount, 1)
			temp := 0.42
			req.Params.Temperature = &temp
			return next(ctx, req)
		}
	}
	srv, err := NewServer(WithClient(backing), WithUnary(bumpTemp))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	client := NewRemoteClient(srv.Complete, remoteStreamFunc(srv))

	resp, err := client.Complete(context.Background(), model.Request{
		Model:    "m",
		Messages: []*model.Message{model.User("hi")},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text() != "ok" {
		t.Fatalf("response text = %q, want %q", resp.Text(), "ok")
	}
	if atomic.LoadInt32(&unaryCount) != 1 {
		t.Fatal("unary middleware did not run")
	}
	seen, _ := backing.lastReq.Load().(model.Request)
	if seen.Params.Temperature == nil || *seen.Params.Temperature != 0.42 {
		t.Fatalf("middleware did not modify request, got %+v", seen.Params)
	}
}

func TestE2E_StreamThroughRemoteClient(t *testing.T) {
	backing := &captureClient{}
	var streamCount int32
	countMW := func(next StreamHandler) StreamHandler {
		return func(ctx context.Context, req model.Request, send func(model.Chunk) error) error {
			atomic.AddInt32(&streamCount, 1)
			return next(ctx, req, send)
		}
	}
	srv, err := NewServer(WithClient(backing), WithStream(countMW))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	client := NewRemoteClient(nil, remoteStreamFunc(srv))

	st, err := client.Stream(context.Background(), model.Request{
		Model:    "m",
		Messages: []*model.Message{model.User("hi")},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			t.Errorf("close: %v", cerr)
		}
	}()

	want := []model.ChunkType{model.ChunkTypeText, model.ChunkTypeToolCall, model.ChunkTypeUsage, model.ChunkTypeStop}
	for i, wt := range want {
		chunk, rerr := st.Recv()
		if rerr != nil {
			t.Fatalf("recv %d: %v", i, rerr)
		}
		if chunk.Type != wt {
			t.Fatalf("chunk %d type = %s, want %s", i, chunk.Type, wt)
		}
	}
	if _, rerr := st.Recv(); !errors.Is(rerr, io.EOF) {
		t.Fatalf("recv after drain = %v, want io.EOF", rerr)
	}
	if atomic.LoadInt32(&streamCount) != 1 {
		t.Fatal("stream middleware did not run")
	}
}

func TestRemoteClient_NilTransports(t *testing.T) {
	client := NewRemoteClient(nil, nil)
	if _, err := client.Complete(context.Background(), model.Request{}); err == nil {
		t.Fatal("expected error from nil unary transport")
	}
	if _, err := client.Stream(context.Background(), model.Request{}); !errors.Is(err, model.ErrStreamingUnsupported) {
		t.Fatalf("Stream error = %v, want ErrStreamingUnsupported", err)
	}
}
