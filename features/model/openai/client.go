// Package openai provides a model.Client implementation backed by the
// OpenAI Chat Completions API. It translates requests into ChatCompletion
// calls using github.com/openai/openai-go and maps responses (text, tool
// calls, usage) back into the generic model structures.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"goa.design/llmctx/format"
	"goa.design/llmctx/model"
)

type (
	// ChatClient captures the subset of the OpenAI SDK client used by the
	// adapter. It is satisfied by the SDK's chat completion service so
	// callers can pass either a real client or a stub in tests.
	ChatClient interface {
		New(ctx context.Context, params sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
		NewStreaming(ctx context.Context, params sdk.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk]
	}

	// Options configures the OpenAI adapter.
	Options struct {
		// DefaultModel is the model identifier used when model.Request.Model
		// is empty.
		DefaultModel string

		// BaseURL overrides the API endpoint. Set it to talk to
		// OpenAI-compatible gateways. Empty uses the SDK default.
		BaseURL string

		// MaxTokens caps completion tokens when a request does not specify
		// its own limit. Zero leaves the provider default in place.
		MaxTokens int

		// Temperature is used when a request does not specify Temperature.
		Temperature float64
	}

	// Client implements model.Client via the OpenAI Chat Completions API.
	Client struct {
		chat         ChatClient
		defaultModel string
		maxTok       int
		temp         float64
	}
)

// New builds an OpenAI-backed model client from the provided chat client
// and configuration options.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{
		chat:         chat,
		defaultModel: opts.DefaultModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
	}, nil
}

// NewFromAPIKey constructs a client using the default OpenAI HTTP client.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ro := []option.RequestOption{option.WithAPIKey(apiKey)}
	if opts.BaseURL != "" {
		ro = append(ro, option.WithBaseURL(opts.BaseURL))
	}
	oc := sdk.NewClient(ro...)
	return New(&oc.Chat.Completions, opts)
}

// Complete issues a non-streaming chat completion and translates the
// response into model structures.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return model.Response{}, err
	}
	resp, err := c.chat.New(ctx, *params)
	if err != nil {
		return model.Response{}, wrapError("chat.completions.new", err)
	}
	return translateResponse(resp)
}

// Stream issues a streaming chat completion. Tool call arguments are
// accumulated with the SDK accumulator and surfaced as single chunks.
func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	params.StreamOptions = sdk.ChatCompletionStreamOptionsParam{
		IncludeUsage: sdk.Bool(true),
	}
	stream := c.chat.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, wrapError("chat.completions.new stream", err)
	}
	return &streamer{stream: stream}, nil
}

func (c *Client) prepareRequest(req model.Request) (*sdk.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	messages, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}

	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(modelID),
		Messages: messages,
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if t := req.Params.Temperature; t != nil {
		params.Temperature = sdk.Float(*t)
	} else if c.temp > 0 {
		params.Temperature = sdk.Float(c.temp)
	}
	if p := req.Params.TopP; p != nil {
		params.TopP = sdk.Float(*p)
	}
	if mt := req.Params.MaxTokens; mt != nil && *mt > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(*mt))
	} else if c.maxTok > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(c.maxTok))
	}
	if s := req.Params.Seed; s != nil {
		params.Seed = sdk.Int(*s)
	}
	if len(req.Params.StopSequences) > 0 {
		params.Stop = sdk.ChatCompletionNewParamsStopUnion{
			OfStringArray: req.Params.StopSequences,
		}
	}
	if rf := encodeResponseFormat(req.Format, req.JSONMode); rf != nil {
		params.ResponseFormat = *rf
	}
	return &params, nil
}

// encodeResponseFormat maps a Format to the native json_schema response
// format, or bare JSON mode to json_object.
func encodeResponseFormat(f *format.Format, jsonMode bool) *sdk.ChatCompletionNewParamsResponseFormatUnion {
	if f != nil && f.Schema != nil {
		js := shared.ResponseFormatJSONSchemaJSONSchemaParam{
			Name:   f.Name,
			Schema: f.Schema,
		}
		if f.Description != "" {
			js.Description = sdk.String(f.Description)
		}
		if f.Strict {
			js.Strict = sdk.Bool(true)
		}
		return &sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{JSONSchema: js},
		}
	}
	if jsonMode {
		return &sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return nil
}

func encodeMessages(msgs []*model.Message) ([]sdk.ChatCompletionMessageParamUnion, error) {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		switch m.Role {
		case model.ConversationRoleSystem:
			if text := joinTextParts(m.Parts); text != "" {
				out = append(out, sdk.SystemMessage(text))
			}
		case model.ConversationRoleUser:
			// Tool results ride in user messages; the wire protocol wants
			// them as separate tool-role messages ahead of any user text.
			for _, part := range m.Parts {
				if v, ok := part.(model.ToolResultPart); ok {
					content, err := toolResultContent(v)
					if err != nil {
						return nil, err
					}
					out = append(out, sdk.ToolMessage(content, v.ToolUseID))
				}
			}
			if text := joinTextParts(m.Parts); text != "" {
				out = append(out, sdk.UserMessage(text))
			}
		case model.ConversationRoleAssistant:
			msg, err := encodeAssistantMessage(m)
			if err != nil {
				return nil, err
			}
			if msg != nil {
				out = append(out, *msg)
			}
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("openai: at least one message is required")
	}
	return out, nil
}

func encodeAssistantMessage(m *model.Message) (*sdk.ChatCompletionMessageParamUnion, error) {
	asst := sdk.ChatCompletionAssistantMessageParam{}
	if text := joinTextParts(m.Parts); text != "" {
		asst.Content.OfString = sdk.String(text)
	}
	for _, part := range m.Parts {
		v, ok := part.(model.ToolUsePart)
		if !ok {
			continue
		}
		if v.Name == "" {
			return nil, errors.New("openai: tool_use part missing name")
		}
		args, err := toolArguments(v.Input)
		if err != nil {
			return nil, fmt.Errorf("openai: marshal tool %q arguments: %w", v.Name, err)
		}
		asst.ToolCalls = append(asst.ToolCalls, sdk.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &sdk.ChatCompletionMessageFunctionToolCallParam{
				ID: v.ID,
				Function: sdk.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      v.Name,
					Arguments: args,
				},
			},
		})
	}
	if !asst.Content.OfString.Valid() && len(asst.ToolCalls) == 0 {
		return nil, nil
	}
	return &sdk.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil
}

func joinTextParts(parts []model.Part) string {
	var b strings.Builder
	for _, p := range parts {
		if v, ok := p.(model.TextPart); ok {
			b.WriteString(v.Text)
		}
	}
	return b.String()
}

func toolResultContent(v model.ToolResultPart) (string, error) {
	switch c := v.Content.(type) {
	case nil:
		return "", nil
	case string:
		return c, nil
	case []byte:
		return string(c), nil
	default:
		data, err := json.Marshal(c)
		if err != nil {
			return "", fmt.Errorf("openai: marshal tool result %q: %w", v.ToolUseID, err)
		}
		return string(data), nil
	}
}

func toolArguments(input any) (string, error) {
	switch v := input.(type) {
	case nil:
		return "{}", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case json.RawMessage:
		return string(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

func encodeTools(defs []*model.ToolDefinition) ([]sdk.ChatCompletionToolUnionParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]sdk.ChatCompletionToolUnionParam, 0, len(defs))
	seen := make(map[string]string, len(defs))
	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		name := sanitizeToolName(def.Name)
		if prev, ok := seen[name]; ok && prev != def.Name {
			return nil, fmt.Errorf("openai: tool name %q sanitizes to %q which collides with %q", def.Name, name, prev)
		}
		seen[name] = def.Name
		if def.Description == "" {
			return nil, fmt.Errorf("openai: tool %q is missing description", def.Name)
		}
		fn := shared.FunctionDefinitionParam{
			Name:        name,
			Description: sdk.String(def.Description),
		}
		if def.InputSchema != nil {
			fn.Parameters = shared.FunctionParameters(def.InputSchema)
		}
		if def.Strict {
			fn.Strict = sdk.Bool(true)
		}
		out = append(out, sdk.ChatCompletionFunctionTool(fn))
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// sanitizeToolName maps a tool identifier to the characters OpenAI function
// naming allows by replacing any disallowed rune with '_'. Dotted
// identifiers keep only the segment after the final '.'.
func sanitizeToolName(in string) string {
	if in == "" {
		return in
	}
	base := in
	if idx := strings.LastIndex(in, "."); idx >= 0 && idx+1 < len(in) {
		base = in[idx+1:]
	}
	out := make([]rune, 0, len(base))
	for _, r := range base {
		if (r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '_' || r == '-' {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}

// wrapError classifies SDK failures into model.ProviderError so middleware
// and callers can react without importing the SDK error types.
func wrapError(op string, err error) error {
	if errors.Is(err, model.ErrRateLimited) {
		return fmt.Errorf("openai %s: %w", op, err)
	}
	var apierr *sdk.Error
	if !errors.As(err, &apierr) {
		return fmt.Errorf("openai %s: %w", op, err)
	}
	kind, retryable := classifyStatus(apierr.StatusCode)
	requestID := ""
	var retryAfter time.Duration
	if apierr.Response != nil {
		requestID = apierr.Response.Header.Get("x-request-id")
		if s := apierr.Response.Header.Get("retry-after"); s != "" {
			if secs, perr := strconv.Atoi(s); perr == nil && secs > 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
	}
	pe := model.NewProviderError("openai", op, apierr.StatusCode, kind, "", "", requestID, retryable, err)
	if retryAfter > 0 {
		pe.WithRetryAfter(retryAfter)
	}
	return pe
}

func classifyStatus(status int) (model.ProviderErrorKind, bool) {
	switch {
	case status == 429:
		return model.ProviderErrorKindRateLimited, true
	case status == 401 || status == 403:
		return model.ProviderErrorKindAuth, false
	case status == 408 || status >= 500:
		return model.ProviderErrorKindUnavailable, true
	case status >= 400:
		return model.ProviderErrorKindInvalidRequest, false
	default:
		return model.ProviderErrorKindUnknown, false
	}
}

func translateResponse(resp *sdk.ChatCompletion) (model.Response, error) {
	if resp == nil {
		return model.Response{}, errors.New("openai: response is nil")
	}
	if len(resp.Choices) == 0 {
		return model.Response{}, errors.New("openai: response has no choices")
	}
	choice := resp.Choices[0]

	out := model.Response{
		ID:    resp.ID,
		Model: resp.Model,
	}
	if choice.Message.Content != "" {
		out.Content = []model.Message{{
			Role:  model.ConversationRoleAssistant,
			Parts: []model.Part{model.TextPart{Text: choice.Message.Content}},
		}}
	}
	for _, call := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: toolCallInput(call.Function.Arguments),
		})
	}
	out.StopReason = translateFinishReason(choice.FinishReason)
	if u := resp.Usage; u.TotalTokens != 0 || u.PromptTokens != 0 || u.CompletionTokens != 0 {
		out.Usage = model.TokenUsage{
			InputTokens:  int(u.PromptTokens),
			OutputTokens: int(u.CompletionTokens),
			TotalTokens:  int(u.TotalTokens),
		}
	}
	return out, nil
}

// toolCallInput normalizes streamed tool arguments. Calls without
// parameters can arrive with empty argument text.
func toolCallInput(args string) []byte {
	if args == "" {
		return []byte("{}")
	}
	return []byte(args)
}

func translateFinishReason(reason string) model.StopReason {
	switch reason {
	case "stop":
		return model.StopEndTurn
	case "length":
		return model.StopMaxTokens
	case "tool_calls", "function_call":
		return model.StopToolUse
	case "":
		return ""
	default:
		return model.StopReason(reason)
	}
}
