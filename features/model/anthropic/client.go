// Package anthropic provides a model.Client implementation backed by the
// Anthropic Claude Messages API. It translates requests into anthropic
// Messages calls using github.com/anthropics/anthropic-sdk-go and maps
// responses (text, tools, thinking, usage) back into the generic model
// structures.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"goa.design/llmctx/format"
	"goa.design/llmctx/model"
)

// defaultMaxTokens caps completions when neither the request nor the
// options specify a limit. The Messages API requires max_tokens.
const defaultMaxTokens = 16000

type (
	// MessagesClient captures the subset of the Anthropic SDK client used by
	// the adapter. It is satisfied by *sdk.MessageService so callers can pass
	// either a real client or a stub in tests.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
		NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
	}

	// Options configures optional Anthropic adapter behavior.
	Options struct {
		// DefaultModel is the Claude model identifier used when
		// model.Request.Model is empty. Use the typed model constants from
		// github.com/anthropics/anthropic-sdk-go or the identifiers listed
		// in the Anthropic model reference.
		DefaultModel string

		// BaseURL overrides the API endpoint, for proxies and compatible
		// gateways. Empty uses the SDK default.
		BaseURL string

		// MaxTokens sets the default completion cap when a request does not
		// specify MaxTokens. When zero or negative the package default
		// applies.
		MaxTokens int

		// Temperature is used when a request does not specify Temperature.
		Temperature float64

		// ThinkingBudget defines the default thinking token budget when
		// thinking is enabled. When zero or negative, callers must supply
		// Params.Thinking.BudgetTokens explicitly.
		ThinkingBudget int64
	}

	// Client implements model.Client on top of Anthropic Claude Messages.
	Client struct {
		msg          MessagesClient
		defaultModel string
		maxTok       int
		temp         float64
		think        int64
	}
)

// New builds an Anthropic-backed model client from the provided Anthropic
// Messages client and configuration options.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{
		msg:          msg,
		defaultModel: opts.DefaultModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
		think:        opts.ThinkingBudget,
	}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ro := []option.RequestOption{option.WithAPIKey(apiKey)}
	if opts.BaseURL != "" {
		ro = append(ro, option.WithBaseURL(opts.BaseURL))
	}
	ac := sdk.NewClient(ro...)
	return New(&ac.Messages, opts)
}

// Complete issues a non-streaming Messages.New request and translates the
// response into model structures (assistant message parts + tool calls).
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	params, provToCanon, err := c.prepareRequest(req)
	if err != nil {
		return model.Response{}, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return model.Response{}, wrapError("messages.new", err)
	}
	return translateResponse(msg, provToCanon)
}

// Stream invokes Messages.NewStreaming and adapts incremental events into
// model.Chunks so callers can surface partial responses.
func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	params, provToCanon, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, wrapError("messages.new stream", err)
	}
	return newStreamer(ctx, stream, provToCanon), nil
}

func (c *Client) prepareRequest(req model.Request) (*sdk.MessageNewParams, map[string]string, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("anthropic: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	tools, canonToProv, provToCanon, err := encodeTools(req.Tools)
	if err != nil {
		return nil, nil, err
	}
	msgs, system, err := encodeMessages(req.Messages, canonToProv)
	if err != nil {
		return nil, nil, err
	}
	if instr, err := formatInstruction(req.Format, req.JSONMode); err != nil {
		return nil, nil, err
	} else if instr != "" {
		system = append(system, sdk.TextBlockParam{Text: instr})
	}

	maxTokens := c.effectiveMaxTokens(req.Params.MaxTokens)
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if len(system) > 0 {
		params.System = system
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
	if len(req.Params.StopSequences) > 0 {
		params.StopSequences = req.Params.StopSequences
	}
	if th := req.Params.Thinking; th != nil && th.Enable {
		budget := th.BudgetTokens
		if budget <= 0 {
			budget = int(c.think)
		}
		if budget <= 0 {
			return nil, nil, errors.New("anthropic: thinking budget is required when thinking is enabled")
		}
		if budget < 1024 {
			return nil, nil, fmt.Errorf("anthropic: thinking budget %d must be >= 1024", budget)
		}
		if budget >= maxTokens {
			return nil, nil, fmt.Errorf("anthropic: thinking budget %d must be less than max_tokens %d", budget, maxTokens)
		}
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(int64(budget))
	}
	return &params, provToCanon, nil
}

func (c *Client) effectiveMaxTokens(requested *int) int {
	if requested != nil && *requested > 0 {
		return *requested
	}
	if c.maxTok > 0 {
		return c.maxTok
	}
	return defaultMaxTokens
}

// formatInstruction renders the system instruction used to request JSON
// output. The Messages API has no native structured output mode, so the
// schema travels as a prompt constraint and callers validate the result.
func formatInstruction(f *format.Format, jsonMode bool) (string, error) {
	if f != nil && f.Schema != nil {
		data, err := json.Marshal(f.Schema)
		if err != nil {
			return "", fmt.Errorf("anthropic: marshal format %q schema: %w", f.Name, err)
		}
		var b strings.Builder
		b.WriteString("Respond only with a single JSON object that conforms to this JSON Schema. ")
		b.WriteString("Do not include explanations, markdown fences, or any other text.")
		if f.Description != "" {
			b.WriteString("\n")
			b.WriteString(f.Description)
		}
		b.WriteString("\n")
		b.Write(data)
		return b.String(), nil
	}
	if jsonMode {
		return "Respond only with a single valid JSON object. Do not include explanations, markdown fences, or any other text.", nil
	}
	return "", nil
}

func encodeMessages(msgs []*model.Message, nameMap map[string]string) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	system := make([]sdk.TextBlockParam, 0, len(msgs))

	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Role == model.ConversationRoleSystem {
			for _, p := range m.Parts {
				if v, ok := p.(model.TextPart); ok && v.Text != "" {
					system = append(system, sdk.TextBlockParam{Text: v.Text})
				}
			}
			continue
		}

		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case model.ThinkingPart:
				// Thinking blocks replay only with their integrity signature.
				if v.Text != "" && v.Signature != "" {
					blocks = append(blocks, sdk.NewThinkingBlock(v.Signature, v.Text))
				}
			case model.ToolUsePart:
				if v.Name == "" {
					return nil, nil, errors.New("anthropic: tool_use part missing name")
				}
				name := nameMap[v.Name]
				if name == "" {
					// History can reference tools absent from the current
					// request. Replay under the sanitized name.
					name = sanitizeToolName(v.Name)
				}
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, v.Input, name))
			case model.ToolResultPart:
				blocks = append(blocks, encodeToolResult(v))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role { //nolint:exhaustive
		case model.ConversationRoleUser:
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		case model.ConversationRoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeToolResult(v model.ToolResultPart) sdk.ContentBlockParamUnion {
	var content string
	switch c := v.Content.(type) {
	case nil:
		content = ""
	case string:
		content = c
	case []byte:
		content = string(c)
	default:
		if data, err := json.Marshal(c); err == nil {
			content = string(data)
		}
	}
	return sdk.NewToolResultBlock(v.ToolUseID, content, v.IsError)
}

func encodeTools(defs []*model.ToolDefinition) ([]sdk.ToolUnionParam, map[string]string, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil, nil
	}
	toolList := make([]sdk.ToolUnionParam, 0, len(defs))
	canonToSan := make(map[string]string, len(defs))
	sanToCanon := make(map[string]string, len(defs))

	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		canonical := def.Name
		sanitized := sanitizeToolName(canonical)
		if prev, ok := sanToCanon[sanitized]; ok && prev != canonical {
			return nil, nil, nil, fmt.Errorf(
				"anthropic: tool name %q sanitizes to %q which collides with %q",
				canonical, sanitized, prev,
			)
		}
		sanToCanon[sanitized] = canonical
		canonToSan[canonical] = sanitized
		if def.Description == "" {
			return nil, nil, nil, fmt.Errorf("anthropic: tool %q is missing description", canonical)
		}
		u := sdk.ToolUnionParamOfTool(toolInputSchema(def.InputSchema), sanitized)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		toolList = append(toolList, u)
	}
	if len(toolList) == 0 {
		return nil, nil, nil, nil
	}
	return toolList, canonToSan, sanToCanon, nil
}

func toolInputSchema(schema map[string]any) sdk.ToolInputSchemaParam {
	if len(schema) == 0 {
		return sdk.ToolInputSchemaParam{}
	}
	return sdk.ToolInputSchemaParam{ExtraFields: schema}
}

// sanitizeToolName maps a tool identifier to the characters Anthropic tool
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
	if isProviderSafeToolName(base) {
		return base
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

func isProviderSafeToolName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

// wrapError classifies SDK failures into model.ProviderError so middleware
// and callers can react without importing the SDK error types.
func wrapError(op string, err error) error {
	if errors.Is(err, model.ErrRateLimited) {
		return fmt.Errorf("anthropic %s: %w", op, err)
	}
	var apierr *sdk.Error
	if !errors.As(err, &apierr) {
		return fmt.Errorf("anthropic %s: %w", op, err)
	}
	kind, retryable := classifyStatus(apierr.StatusCode)
	requestID := ""
	var retryAfter time.Duration
	if apierr.Response != nil {
		requestID = apierr.Response.Header.Get("request-id")
		if s := apierr.Response.Header.Get("retry-after"); s != "" {
			if secs, perr := strconv.Atoi(s); perr == nil && secs > 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
	}
	pe := model.NewProviderError("anthropic", op, apierr.StatusCode, kind, "", "", requestID, retryable, err)
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

func translateResponse(msg *sdk.Message, nameMap map[string]string) (model.Response, error) {
	if msg == nil {
		return model.Response{}, errors.New("anthropic: response message is nil")
	}
	resp := model.Response{
		ID:    msg.ID,
		Model: string(msg.Model),
	}
	parts := make([]model.Part, 0, len(msg.Content))
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				parts = append(parts, model.TextPart{Text: block.Text})
			}
		case "thinking":
			if block.Thinking != "" {
				parts = append(parts, model.ThinkingPart{Text: block.Thinking, Signature: block.Signature})
			}
		case "tool_use":
			name := block.Name
			// When the model hallucinates a tool name that was not
			// advertised in this request, the reverse map will not contain
			// it. Surface the call as-is so the caller reports an unknown
			// tool result the model can recover from.
			if canonical, ok := nameMap[name]; ok {
				name = canonical
			}
			resp.ToolCalls = append(resp.ToolCalls, model.ToolCall{
				ID:    block.ID,
				Name:  name,
				Input: []byte(block.Input),
			})
		}
	}
	if len(parts) > 0 {
		resp.Content = []model.Message{{
			Role:  model.ConversationRoleAssistant,
			Parts: parts,
		}}
	}
	if u := msg.Usage; u.InputTokens != 0 || u.OutputTokens != 0 {
		resp.Usage = model.TokenUsage{
			InputTokens:  int(u.InputTokens),
			OutputTokens: int(u.OutputTokens),
			TotalTokens:  int(u.InputTokens + u.OutputTokens),
		}
	}
	resp.StopReason = model.StopReason(msg.StopReason)
	return resp, nil
}
