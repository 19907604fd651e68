package call

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"goa.design/llmctx/callctx"
	"goa.design/llmctx/model"
	"goa.design/llmctx/telemetry"
)

// resolve computes the effective arguments of one execution: the call's
// defaults with the governing settings applied on top. The explicit deps
// context wins over the ambient scope; structural reset rules fire inside
// Settings.Apply.
func (c *Call[D]) resolve(ctx context.Context, dctx *callctx.Context[D], stream bool) (callctx.CallArgs, error) {
	args := callctx.CallArgs{
		Provider: c.provider,
		Model:    c.model,
		Client:   c.client,
		Params:   c.params,
		Format:   c.format,
		JSONMode: c.jsonMode,
		Stream:   stream,
	}
	if c.toolkit != nil {
		args.Tools = c.toolkit.Definitions()
	}

	settings := callctx.ResolveSettings(ctx, dctx)
	if err := settings.Validate(); err != nil {
		return args, fmt.Errorf("call %q: %w", c.name, err)
	}
	args = settings.Apply(args)

	if args.Client == nil && args.Provider == "" {
		return args, fmt.Errorf("call %q: %w", c.name, ErrNoProvider)
	}
	return args, nil
}

// clientFor picks the client serving the resolved arguments: the resolved
// client when one is pinned, else a resolver lookup by provider name.
func (c *Call[D]) clientFor(ctx context.Context, args callctx.CallArgs) (model.Client, error) {
	if args.Client != nil {
		return args.Client, nil
	}
	if c.resolver == nil {
		return nil, fmt.Errorf("call %q: %w %q: no resolver configured", c.name, ErrNoClient, args.Provider)
	}
	client, err := c.resolver.Client(ctx, args.Provider)
	if err != nil {
		return nil, fmt.Errorf("call %q: %w %q: %w", c.name, ErrNoClient, args.Provider, err)
	}
	return client, nil
}

func requestFor(args callctx.CallArgs) model.Request {
	return model.Request{
		Model:    args.Model,
		Messages: args.Messages,
		Tools:    args.Tools,
		Params:   args.Params,
		Format:   args.Format,
		JSONMode: args.JSONMode,
		Stream:   args.Stream,
	}
}

// Execute runs the call under the deps context and returns the complete
// response. When an override forces the streaming transport the stream is
// drained into the response, so callers always get the same shape back.
func (c *Call[D]) Execute(ctx context.Context, dctx *callctx.Context[D]) (*Response[D], error) {
	args, err := c.resolve(ctx, dctx, false)
	if err != nil {
		return nil, err
	}
	client, err := c.clientFor(ctx, args)
	if err != nil {
		return nil, err
	}

	if dctx != nil {
		ctx = callctx.Attach(ctx, dctx)
	}
	runID := uuid.NewString()

	msgs, err := c.prompt(ctx, dctx)
	if err != nil {
		return nil, fmt.Errorf("call %q: render prompt: %w", c.name, err)
	}
	args.Messages = msgs

	ctx, span := c.tracer.Start(ctx, "llm.call."+c.name)
	defer span.End()

	tags := []string{"call", c.name, "provider", args.Provider, "model", args.Model}
	c.log.Debug(ctx, "llm call start",
		"call", c.name,
		"run_id", runID,
		"provider", args.Provider,
		"model", args.Model,
		"stream", args.Stream,
		"tools", len(args.Tools),
	)

	req := requestFor(args)
	start := time.Now()
	var resp model.Response
	if args.Stream {
		streamer, serr := client.Stream(ctx, req)
		if serr == nil {
			resp, serr = model.Collect(streamer)
		}
		err = serr
	} else {
		resp, err = client.Complete(ctx, req)
	}
	elapsed := time.Since(start)

	c.metrics.RecordTimer("call.duration", elapsed, tags...)
	if err != nil {
		c.metrics.IncCounter("call.error", 1, tags...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "call failed")
		c.log.Error(ctx, "llm call failed", "call", c.name, "run_id", runID, "error", err.Error())
		return nil, fmt.Errorf("call %q: %w", c.name, err)
	}
	c.metrics.IncCounter("call.success", 1, tags...)
	c.metrics.IncCounter("call.tokens.input", float64(resp.Usage.InputTokens), tags...)
	c.metrics.IncCounter("call.tokens.output", float64(resp.Usage.OutputTokens), tags...)
	span.SetStatus(codes.Ok, "completed")
	c.log.Info(ctx, "llm call complete",
		"call", c.name,
		"run_id", runID,
		"stop", string(resp.StopReason),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"duration_ms", elapsed.Milliseconds(),
	)

	return &Response[D]{
		call:  c,
		dctx:  dctx,
		args:  args,
		runID: runID,
		resp:  resp,
		tel: telemetry.CallTelemetry{
			DurationMs:   elapsed.Milliseconds(),
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			Provider:     args.Provider,
			Model:        args.Model,
		},
	}, nil
}

// Stream runs the call under the deps context and returns the response as a
// stream. When an override forces the non-streaming transport the complete
// response is fetched and replayed as a synthetic stream.
func (c *Call[D]) Stream(ctx context.Context, dctx *callctx.Context[D]) (*StreamResponse[D], error) {
	args, err := c.resolve(ctx, dctx, true)
	if err != nil {
		return nil, err
	}
	client, err := c.clientFor(ctx, args)
	if err != nil {
		return nil, err
	}

	if dctx != nil {
		ctx = callctx.Attach(ctx, dctx)
	}
	runID := uuid.NewString()

	msgs, err := c.prompt(ctx, dctx)
	if err != nil {
		return nil, fmt.Errorf("call %q: render prompt: %w", c.name, err)
	}
	args.Messages = msgs

	tags := []string{"call", c.name, "provider", args.Provider, "model", args.Model}
	c.log.Debug(ctx, "llm stream start",
		"call", c.name,
		"run_id", runID,
		"provider", args.Provider,
		"model", args.Model,
		"stream", args.Stream,
	)

	req := requestFor(args)
	var streamer model.Streamer
	if args.Stream {
		streamer, err = client.Stream(ctx, req)
	} else {
		var resp model.Response
		resp, err = client.Complete(ctx, req)
		if err == nil {
			streamer = model.Replay(resp)
		}
	}
	if err != nil {
		c.metrics.IncCounter("call.error", 1, tags...)
		c.log.Error(ctx, "llm stream failed", "call", c.name, "run_id", runID, "error", err.Error())
		return nil, fmt.Errorf("call %q: %w", c.name, err)
	}
	c.metrics.IncCounter("call.stream.start", 1, tags...)

	return &StreamResponse[D]{
		call:   c,
		dctx:   dctx,
		args:   args,
		runID:  runID,
		stream: streamer,
	}, nil
}
