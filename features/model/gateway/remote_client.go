package gateway

import (
	"context"
	"errors"

	"goa.design/llmctx/model"
)

type (
	// CompleteFunc performs one completion over the caller's transport.
	CompleteFunc func(ctx context.Context, req model.Request) (model.Response, error)

	// StreamFunc opens a streaming completion over the caller's transport.
	StreamFunc func(ctx context.Context, req model.Request) (model.Streamer, error)
)

// RemoteClient implements model.Client over caller-supplied transport
// functions, keeping the package agnostic of the concrete RPC layer and of
// generated code.
type RemoteClient struct {
	complete CompleteFunc
	stream   StreamFunc
}

// NewRemoteClient builds a model.Client from transport functions. Either
// function may be nil when the transport only supports one path.
func NewRemoteClient(complete CompleteFunc, stream StreamFunc) *RemoteClient {
	return &RemoteClient{complete: complete, stream: stream}
}

// Complete invokes the unary transport.
func (c *RemoteClient) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if c.complete == nil {
		return model.Response{}, errors.New("gateway: no unary transport configured")
	}
	return c.complete(ctx, req)
}

// Stream invokes the streaming transport.
func (c *RemoteClient) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	if c.stream == nil {
		return nil, model.ErrStreamingUnsupported
	}
	return c.stream(ctx, req)
}
