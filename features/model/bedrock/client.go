// Package bedrock provides a model.Client implementation backed by the AWS
// Bedrock Converse API. It splits system from conversational messages,
// encodes tool schemas into Bedrock's ToolConfiguration, and translates
// Converse responses (text, reasoning, tool_use blocks) back into the
// generic model structures.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"goa.design/llmctx/format"
	"goa.design/llmctx/model"
)

const (
	defaultMaxTokens = 4096
	providerName     = "bedrock"
)

type (
	// RuntimeClient captures the subset of the Bedrock runtime used by the
	// adapter. ConverseStream returns the StreamOutput interface rather than
	// the SDK's concrete type so fakes can supply their own event streams.
	RuntimeClient interface {
		Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
		ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (StreamOutput, error)
	}

	// StreamOutput is the subset of the ConverseStream output required by
	// the adapter. It is satisfied by *bedrockruntime.ConverseStreamOutput.
	StreamOutput interface {
		GetStream() *bedrockruntime.ConverseStreamEventStream
	}

	// Options configures the Bedrock adapter.
	Options struct {
		// DefaultModel is the model identifier used when model.Request.Model
		// is empty.
		DefaultModel string

		// MaxTokens caps output tokens when a request does not specify its
		// own limit. Zero falls back to the package default.
		MaxTokens int

		// Temperature is used when a request does not specify Temperature.
		Temperature float64

		// ThinkingBudget defines the default thinking token budget when
		// thinking is enabled. When zero or negative, callers must supply
		// Params.Thinking.BudgetTokens explicitly.
		ThinkingBudget int
	}

	// Client implements model.Client on top of AWS Bedrock Converse.
	Client struct {
		runtime      RuntimeClient
		defaultModel string
		maxTok       int
		temp         float64
		think        int
	}

	requestParts struct {
		modelID     string
		messages    []brtypes.Message
		system      []brtypes.SystemContentBlock
		toolConfig  *brtypes.ToolConfiguration
		provToCanon map[string]string
	}
)

// New builds a Bedrock-backed model client from the provided runtime and
// configuration options.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{
		runtime:      runtime,
		defaultModel: opts.DefaultModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
		think:        opts.ThinkingBudget,
	}, nil
}

// NewFromConfig constructs a client backed by a Bedrock runtime built from
// the given AWS configuration.
func NewFromConfig(cfg aws.Config, opts Options) (*Client, error) {
	return New(runtimeWrapper{bedrockruntime.NewFromConfig(cfg)}, opts)
}

// runtimeWrapper narrows *bedrockruntime.Client to RuntimeClient. The
// wrapper is needed because the SDK's ConverseStream returns a concrete
// output type.
type runtimeWrapper struct {
	client *bedrockruntime.Client
}

func (w runtimeWrapper) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return w.client.Converse(ctx, params, optFns...)
}

func (w runtimeWrapper) ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (StreamOutput, error) {
	out, err := w.client.ConverseStream(ctx, params, optFns...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Complete issues a Converse request and translates the response.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	parts, err := c.prepareRequest(req)
	if err != nil {
		return model.Response{}, err
	}
	input, err := c.buildConverseInput(parts, req.Params)
	if err != nil {
		return model.Response{}, err
	}
	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return model.Response{}, wrapError("converse", err)
	}
	return translateResponse(output, parts.provToCanon, parts.modelID)
}

// Stream invokes ConverseStream and adapts incremental events into
// model.Chunks.
func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	parts, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	input, err := c.buildConverseStreamInput(parts, req.Params)
	if err != nil {
		return nil, err
	}
	out, err := c.runtime.ConverseStream(ctx, input)
	if err != nil {
		return nil, wrapError("converse_stream", err)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, errors.New("bedrock: stream output missing event stream")
	}
	return newStreamer(ctx, stream, parts.provToCanon, parts.modelID), nil
}

func (c *Client) prepareRequest(req model.Request) (*requestParts, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	// Encode tools first so tool_use blocks in messages reuse the exact
	// sanitized identifiers.
	toolConfig, canonToProv, provToCanon, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	// Bedrock rejects requests whose messages contain tool blocks without a
	// tool configuration. Fail fast with a clear error instead.
	if toolConfig == nil && messagesHaveToolBlocks(req.Messages) {
		return nil, errors.New("bedrock: messages contain tool_use/tool_result but no tools were provided")
	}
	messages, system, err := encodeMessages(req.Messages, canonToProv)
	if err != nil {
		return nil, err
	}
	if instr, err := formatInstruction(req.Format, req.JSONMode); err != nil {
		return nil, err
	} else if instr != "" {
		system = append(system, &brtypes.SystemContentBlockMemberText{Value: instr})
	}
	return &requestParts{
		modelID:     modelID,
		messages:    messages,
		system:      system,
		toolConfig:  toolConfig,
		provToCanon: provToCanon,
	}, nil
}

func (c *Client) buildConverseInput(parts *requestParts, p model.Params) (*bedrockruntime.ConverseInput, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(parts.modelID),
		Messages:        parts.messages,
		InferenceConfig: c.inferenceConfig(p),
	}
	if len(parts.system) > 0 {
		input.System = parts.system
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}
	fields, err := c.thinkingFields(p)
	if err != nil {
		return nil, err
	}
	if fields != nil {
		input.AdditionalModelRequestFields = fields
	}
	return input, nil
}

func (c *Client) buildConverseStreamInput(parts *requestParts, p model.Params) (*bedrockruntime.ConverseStreamInput, error) {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(parts.modelID),
		Messages:        parts.messages,
		InferenceConfig: c.inferenceConfig(p),
	}
	if len(parts.system) > 0 {
		input.System = parts.system
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}
	fields, err := c.thinkingFields(p)
	if err != nil {
		return nil, err
	}
	if fields != nil {
		input.AdditionalModelRequestFields = fields
	}
	return input, nil
}

// thinkingFields builds the model-specific request fields that enable
// extended thinking. Bedrock exposes Claude thinking only through
// AdditionalModelRequestFields.
func (c *Client) thinkingFields(p model.Params) (document.Interface, error) {
	th := p.Thinking
	if th == nil || !th.Enable {
		return nil, nil
	}
	budget := th.BudgetTokens
	if budget <= 0 {
		budget = c.think
	}
	if budget <= 0 {
		return nil, errors.New("bedrock: thinking budget is required when thinking is enabled")
	}
	if budget < 1024 {
		return nil, fmt.Errorf("bedrock: thinking budget %d must be >= 1024", budget)
	}
	if maxTokens := c.effectiveMaxTokens(p.MaxTokens); budget >= maxTokens {
		return nil, fmt.Errorf("bedrock: thinking budget %d must be less than max_tokens %d", budget, maxTokens)
	}
	fields := map[string]any{
		"thinking": map[string]any{
			"type":          "enabled",
			"budget_tokens": budget,
		},
	}
	return document.NewLazyDocument(&fields), nil
}

func (c *Client) inferenceConfig(p model.Params) *brtypes.InferenceConfiguration {
	cfg := brtypes.InferenceConfiguration{
		MaxTokens: aws.Int32(int32(c.effectiveMaxTokens(p.MaxTokens))), //nolint:gosec // AWS SDK requires int32
	}
	if t := p.Temperature; t != nil {
		cfg.Temperature = aws.Float32(float32(*t))
	} else if c.temp > 0 {
		cfg.Temperature = aws.Float32(float32(c.temp))
	}
	if tp := p.TopP; tp != nil {
		cfg.TopP = aws.Float32(float32(*tp))
	}
	if len(p.StopSequences) > 0 {
		cfg.StopSequences = p.StopSequences
	}
	return &cfg
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

// formatInstruction renders the system instruction that requests structured
// output. The Converse API has no native response schema parameter, so the
// schema rides in the system prompt and callers validate the reply.
func formatInstruction(f *format.Format, jsonMode bool) (string, error) {
	if f != nil && f.Schema != nil {
		data, err := json.Marshal(f.Schema)
		if err != nil {
			return "", fmt.Errorf("bedrock: marshal format %q schema: %w", f.Name, err)
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

func encodeMessages(msgs []*model.Message, nameMap map[string]string) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	// toolUseIDMap maps tool_use IDs from the request onto provider-safe
	// IDs conforming to Bedrock's [a-zA-Z0-9_-]{1,64} constraint. The map is
	// local to one encode pass so tool_use and tool_result stay correlated.
	toolUseIDMap := make(map[string]string)
	nextToolUseID := 0

	conversation := make([]brtypes.Message, 0, len(msgs))
	system := make([]brtypes.SystemContentBlock, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Role == model.ConversationRoleSystem {
			for _, p := range m.Parts {
				if v, ok := p.(model.TextPart); ok && v.Text != "" {
					system = append(system, &brtypes.SystemContentBlockMemberText{Value: v.Text})
				}
			}
			continue
		}

		blocks := make([]brtypes.ContentBlock, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				if v.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Text})
				}
			case model.ThinkingPart:
				// Reasoning blocks replay only with their integrity signature.
				if v.Text != "" && v.Signature != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberReasoningContent{
						Value: &brtypes.ReasoningContentBlockMemberReasoningText{
							Value: brtypes.ReasoningTextBlock{
								Text:      aws.String(v.Text),
								Signature: aws.String(v.Signature),
							},
						},
					})
				}
			case model.ToolUsePart:
				if v.Name == "" {
					return nil, nil, errors.New("bedrock: tool_use part missing name")
				}
				name := nameMap[v.Name]
				if name == "" {
					name = sanitizeToolName(v.Name)
				}
				tb := brtypes.ToolUseBlock{
					Name:  aws.String(name),
					Input: inputDocument(v.Input),
				}
				if id := toolUseIDFor(v.ID, toolUseIDMap, &nextToolUseID); id != "" {
					tb.ToolUseId = aws.String(id)
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: tb})
			case model.ToolResultPart:
				tr := brtypes.ToolResultBlock{}
				if id := toolUseIDFor(v.ToolUseID, toolUseIDMap, &nextToolUseID); id != "" {
					tr.ToolUseId = aws.String(id)
				}
				if s, ok := v.Content.(string); ok {
					tr.Content = []brtypes.ToolResultContentBlock{
						&brtypes.ToolResultContentBlockMemberText{Value: s},
					}
				} else {
					tr.Content = []brtypes.ToolResultContentBlock{
						&brtypes.ToolResultContentBlockMemberJson{Value: inputDocument(v.Content)},
					}
				}
				if v.IsError {
					tr.Status = brtypes.ToolResultStatusError
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{Value: tr})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		var role brtypes.ConversationRole
		switch m.Role {
		case model.ConversationRoleUser:
			role = brtypes.ConversationRoleUser
		case model.ConversationRoleAssistant:
			role = brtypes.ConversationRoleAssistant
		default:
			return nil, nil, fmt.Errorf("bedrock: unsupported message role %q", m.Role)
		}
		conversation = append(conversation, brtypes.Message{
			Role:    role,
			Content: blocks,
		})
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("bedrock: at least one user or assistant message is required")
	}
	return conversation, system, nil
}

func encodeTools(defs []*model.ToolDefinition) (*brtypes.ToolConfiguration, map[string]string, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil, nil
	}
	toolList := make([]brtypes.Tool, 0, len(defs))
	canonToProv := make(map[string]string, len(defs))
	provToCanon := make(map[string]string, len(defs))
	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		sanitized := sanitizeToolName(def.Name)
		if prev, ok := provToCanon[sanitized]; ok && prev != def.Name {
			return nil, nil, nil, fmt.Errorf(
				"bedrock: tool name %q sanitizes to %q which collides with %q",
				def.Name, sanitized, prev,
			)
		}
		provToCanon[sanitized] = def.Name
		canonToProv[def.Name] = sanitized
		if def.Description == "" {
			return nil, nil, nil, fmt.Errorf("bedrock: tool %q is missing description", def.Name)
		}
		spec := brtypes.ToolSpecification{
			Name:        aws.String(sanitized),
			Description: aws.String(def.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: schemaDocument(def.InputSchema)},
		}
		toolList = append(toolList, &brtypes.ToolMemberToolSpec{Value: spec})
	}
	if len(toolList) == 0 {
		return nil, nil, nil, nil
	}
	return &brtypes.ToolConfiguration{Tools: toolList}, canonToProv, provToCanon, nil
}

func toolUseIDFor(id string, toolUseIDMap map[string]string, nextToolUseID *int) string {
	if id == "" {
		return ""
	}
	if isProviderSafeToolUseID(id) {
		return id
	}
	if mapped, ok := toolUseIDMap[id]; ok {
		return mapped
	}
	*nextToolUseID++
	mapped := fmt.Sprintf("t%d", *nextToolUseID)
	toolUseIDMap[id] = mapped
	return mapped
}

// isProviderSafeToolUseID reports whether id conforms to Bedrock's
// documented toolUseId constraints: pattern [a-zA-Z0-9_-]+ and length <= 64.
func isProviderSafeToolUseID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

func schemaDocument(schema map[string]any) document.Interface {
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}
	return lazyDocument(schema)
}

// inputDocument converts arbitrary tool payloads into a smithy document.
// Raw JSON is decoded first so it is not double encoded as a string.
func inputDocument(v any) document.Interface {
	switch in := v.(type) {
	case nil:
		return lazyDocument(map[string]any{})
	case document.Interface:
		return in
	case json.RawMessage:
		return rawDocument(in)
	case []byte:
		return rawDocument(in)
	default:
		return lazyDocument(v)
	}
}

func rawDocument(raw []byte) document.Interface {
	if len(raw) == 0 {
		return lazyDocument(map[string]any{})
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return lazyDocument(map[string]any{"raw": string(raw)})
	}
	return lazyDocument(decoded)
}

func lazyDocument(v any) document.Interface {
	return document.NewLazyDocument(&v)
}

func translateResponse(output *bedrockruntime.ConverseOutput, nameMap map[string]string, modelID string) (model.Response, error) {
	if output == nil {
		return model.Response{}, errors.New("bedrock: response is nil")
	}
	resp := model.Response{Model: modelID}
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		var parts []model.Part
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				if v.Value != "" {
					parts = append(parts, model.TextPart{Text: v.Value})
				}
			case *brtypes.ContentBlockMemberReasoningContent:
				if rt, ok := v.Value.(*brtypes.ReasoningContentBlockMemberReasoningText); ok {
					part := model.ThinkingPart{
						Text:      aws.ToString(rt.Value.Text),
						Signature: aws.ToString(rt.Value.Signature),
					}
					if part.Text != "" {
						parts = append(parts, part)
					}
				}
			case *brtypes.ContentBlockMemberToolUse:
				tc := model.ToolCall{
					ID:    aws.ToString(v.Value.ToolUseId),
					Input: toolCallInput(decodeDocument(v.Value.Input)),
				}
				if v.Value.Name != nil {
					tc.Name = canonicalToolName(*v.Value.Name, nameMap)
				}
				resp.ToolCalls = append(resp.ToolCalls, tc)
			}
		}
		if len(parts) > 0 {
			resp.Content = []model.Message{{
				Role:  model.ConversationRoleAssistant,
				Parts: parts,
			}}
		}
	}
	if usage := output.Usage; usage != nil {
		resp.Usage = model.TokenUsage{
			InputTokens:  int(ptrValue(usage.InputTokens)),
			OutputTokens: int(ptrValue(usage.OutputTokens)),
			TotalTokens:  int(ptrValue(usage.TotalTokens)),
		}
	}
	resp.StopReason = translateStopReason(output.StopReason)
	return resp, nil
}

// canonicalToolName maps a provider-visible tool name back to the
// identifier the caller registered. Unknown names pass through in their
// normalized form so the caller can report an unknown tool call.
func canonicalToolName(raw string, nameMap map[string]string) string {
	key := normalizeToolName(raw)
	if canonical, ok := nameMap[key]; ok {
		return canonical
	}
	return key
}

func decodeDocument(doc document.Interface) []byte {
	if doc == nil {
		return nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil {
		return nil
	}
	return data
}

// toolCallInput normalizes tool input payloads. Calls without parameters
// can arrive with no input document.
func toolCallInput(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}

func translateStopReason(r brtypes.StopReason) model.StopReason {
	switch r {
	case brtypes.StopReasonEndTurn:
		return model.StopEndTurn
	case brtypes.StopReasonMaxTokens:
		return model.StopMaxTokens
	case brtypes.StopReasonToolUse:
		return model.StopToolUse
	case brtypes.StopReasonStopSequence:
		return model.StopStopSequence
	case "":
		return ""
	default:
		return model.StopReason(r)
	}
}

// isRateLimited reports whether err represents provider throttling. Bedrock
// signals it both through error codes and HTTP 429 responses.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusTooManyRequests
}

// wrapError classifies SDK failures into model.ProviderError so middleware
// and callers can react without importing smithy error types.
func wrapError(operation string, err error) error {
	if errors.Is(err, model.ErrRateLimited) {
		return fmt.Errorf("bedrock %s: %w", operation, err)
	}
	var code, msg string
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
		msg = apiErr.ErrorMessage()
	}
	var status int
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}
	if isRateLimited(err) {
		return model.NewProviderError(providerName, operation, http.StatusTooManyRequests, model.ProviderErrorKindRateLimited, code, msg, "", true, err)
	}
	if code == "" && status == 0 {
		return fmt.Errorf("bedrock %s: %w", operation, err)
	}
	kind, retryable := classifyStatus(status)
	return model.NewProviderError(providerName, operation, status, kind, code, msg, "", retryable, err)
}

func classifyStatus(status int) (model.ProviderErrorKind, bool) {
	switch {
	case status == http.StatusTooManyRequests:
		return model.ProviderErrorKindRateLimited, true
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return model.ProviderErrorKindAuth, false
	case status == http.StatusRequestTimeout || status >= http.StatusInternalServerError:
		return model.ProviderErrorKindUnavailable, true
	case status >= http.StatusBadRequest:
		return model.ProviderErrorKindInvalidRequest, false
	default:
		return model.ProviderErrorKindUnknown, false
	}
}

func ptrValue[T ~int32 | ~int64](ptr *T) T {
	if ptr == nil {
		return 0
	}
	return *ptr
}

// messagesHaveToolBlocks reports whether any message carries a ToolUsePart
// or ToolResultPart. Bedrock requires a tool configuration when they do.
func messagesHaveToolBlocks(msgs []*model.Message) bool {
	for _, m := range msgs {
		if m == nil {
			continue
		}
		for _, p := range m.Parts {
			switch p.(type) {
			case model.ToolUsePart, model.ToolResultPart:
				return true
			}
		}
	}
	return false
}
