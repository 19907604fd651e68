package gateway

import (
	"context"
	"errors"
	"io"

	"goa.design/llmctx/model"
)

type (
	// Server adapts a model.Client into composable request handlers for
	// unary and streaming completions. Service implementations call Complete
	// and Stream; middleware registered with WithUnary and WithStream wraps
	// both paths, the first registered middleware outermost.
	Server struct {
		client model.Client
		unary  UnaryHandler
		stream StreamHandler
	}

	// UnaryHandler processes one completion request and returns the full
	// response. The base handler invokes the backing client; middleware
	// compose around it.
	UnaryHandler func(ctx context.Context, req model.Request) (model.Response, error)

	// StreamHandler processes a streaming completion by invoking send once
	// per chunk, in order. Returning an error from send aborts the stream.
	// Usage and stop reason travel as terminal chunks, so transports need
	// no side channel for stream metadata.
	StreamHandler func(ctx context.Context, req model.Request, send func(model.Chunk) error) error

	// UnaryMiddleware wraps a UnaryHandler with behavior before, after, or
	// around the next handler.
	UnaryMiddleware func(next UnaryHandler) UnaryHandler

	// StreamMiddleware wraps a StreamHandler. Implementations may intercept
	// or transform chunks through the send callback but must preserve its
	// sequential semantics.
	StreamMiddleware func(next StreamHandler) StreamHandler

	// Option configures a Server under construction.
	Option func(*serverConfig)

	serverConfig struct {
		client   model.Client
		unaryMW  []UnaryMiddleware
		streamMW []StreamMiddleware
	}
)

// WithClient sets the backing model client. Required; NewServer returns
// ErrClientRequired without it.
func WithClient(c model.Client) Option {
	return func(cfg *serverConfig) { cfg.client = c }
}

// WithUnary appends middleware to the unary chain in registration order,
// the first registered outermost.
func WithUnary(mw ...UnaryMiddleware) Option {
	return func(cfg *serverConfig) { cfg.unaryMW = append(cfg.unaryMW, mw...) }
}

// WithStream appends middleware to the streaming chain in registration
// order, the first registered outermost.
func WithStream(mw ...StreamMiddleware) Option {
	return func(cfg *serverConfig) { cfg.streamMW = append(cfg.streamMW, mw...) }
}

// NewServer builds the handler chains around the configured client. The
// server has no built-in policy; all behavior comes from the registered
// middleware.
func NewServer(opts ...Option) (*Server, error) {
	var cfg serverConfig
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.client == nil {
		return nil, ErrClientRequired
	}

	baseUnary := func(ctx context.Context, req model.Request) (model.Response, error) {
		return cfg.client.Complete(ctx, req)
	}
	baseStream := func(ctx context.Context, req model.Request, send func(model.Chunk) error) error {
		st, err := cfg.client.Stream(ctx, req)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		for {
			chunk, err := st.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := send(chunk); err != nil {
				return err
			}
		}
	}

	unary := baseUnary
	for i := len(cfg.unaryMW) - 1; i >= 0; i-- {
		unary = cfg.unaryMW[i](unary)
	}
	stream := baseStream
	for i := len(cfg.streamMW) - 1; i >= 0; i-- {
		stream = cfg.streamMW[i](stream)
	}
	return &Server{client: cfg.client, unary: unary, stream: stream}, nil
}

// Complete runs one completion request through the unary chain.
func (s *Server) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	return s.unary(ctx, req)
}

// Stream runs a streaming completion through the stream chain, invoking
// send for each chunk. A nil return means the model stream drained cleanly.
func (s *Server) Stream(ctx context.Context, req model.Request, send func(model.Chunk) error) error {
	return s.stream(ctx, req, send)
}
