// Package google provides a model.Client implementation backed by the
// Gemini API through the google.golang.org/genai SDK. The adapter covers
// text generation with native structured output. Tool calling, extended
// thinking, and streaming are not offered through it.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"goa.design/llmctx/model"
)

const providerName = "google"

type (
	// GenerateClient captures the subset of the genai SDK used by the
	// adapter. It is satisfied by *genai.Models.
	GenerateClient interface {
		GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	}

	// Options configures the Gemini adapter.
	Options struct {
		// DefaultModel is the model identifier used when model.Request.Model
		// is empty.
		DefaultModel string

		// MaxTokens caps output tokens when a request does not specify its
		// own limit. Zero leaves the provider default in place.
		MaxTokens int

		// Temperature is used when a request does not specify Temperature.
		Temperature float64
	}

	// Client implements model.Client on top of the Gemini API.
	Client struct {
		gen          GenerateClient
		defaultModel string
		maxTok       int
		temp         float64
	}
)

// New builds a Gemini-backed model client from the provided generation
// client and configuration options.
func New(gen GenerateClient, opts Options) (*Client, error) {
	if gen == nil {
		return nil, errors.New("gemini generate client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{
		gen:          gen,
		defaultModel: opts.DefaultModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
	}, nil
}

// NewFromAPIKey constructs a client that talks to the public Gemini API
// with the given key.
func NewFromAPIKey(ctx context.Context, apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	return New(gc.Models, opts)
}

// Complete issues a GenerateContent request and translates the response.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	modelID, contents, config, err := c.prepareRequest(req)
	if err != nil {
		return model.Response{}, err
	}
	result, err := c.gen.GenerateContent(ctx, modelID, contents, config)
	if err != nil {
		return model.Response{}, wrapError("models.generate_content", err)
	}
	return translateResponse(result, modelID)
}

// Stream reports streaming as unsupported so callers can fall back to
// Complete.
func (c *Client) Stream(_ context.Context, _ model.Request) (model.Streamer, error) {
	return nil, fmt.Errorf("google: %w", model.ErrStreamingUnsupported)
}

func (c *Client) prepareRequest(req model.Request) (string, []*genai.Content, *genai.GenerateContentConfig, error) {
	if len(req.Messages) == 0 {
		return "", nil, nil, errors.New("google: messages are required")
	}
	if len(req.Tools) > 0 {
		return "", nil, nil, errors.New("google: tool calling is not supported")
	}
	if th := req.Params.Thinking; th != nil && th.Enable {
		return "", nil, nil, errors.New("google: extended thinking is not supported")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	contents, system, err := encodeMessages(req.Messages)
	if err != nil {
		return "", nil, nil, err
	}

	config := &genai.GenerateContentConfig{}
	if maxTok := c.effectiveMaxTokens(req.Params.MaxTokens); maxTok > 0 {
		config.MaxOutputTokens = int32(maxTok)
	}
	if t := req.Params.Temperature; t != nil {
		temp := float32(*t)
		config.Temperature = &temp
	} else if c.temp > 0 {
		temp := float32(c.temp)
		config.Temperature = &temp
	}
	if tp := req.Params.TopP; tp != nil {
		topP := float32(*tp)
		config.TopP = &topP
	}
	if s := req.Params.Seed; s != nil {
		seed := int32(*s)
		config.Seed = &seed
	}
	if len(req.Params.StopSequences) > 0 {
		config.StopSequences = req.Params.StopSequences
	}
	if len(system) > 0 {
		config.SystemInstruction = &genai.Content{Parts: system}
	}
	switch {
	case req.Format != nil && req.Format.Schema != nil:
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = buildSchema(req.Format.Schema)
	case req.JSONMode:
		config.ResponseMIMEType = "application/json"
	}
	return modelID, contents, config, nil
}

func (c *Client) effectiveMaxTokens(requested *int) int {
	if requested != nil && *requested > 0 {
		return *requested
	}
	return c.maxTok
}

func encodeMessages(msgs []*model.Message) ([]*genai.Content, []*genai.Part, error) {
	var system []*genai.Part
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Role == model.ConversationRoleSystem {
			for _, p := range m.Parts {
				if v, ok := p.(model.TextPart); ok && v.Text != "" {
					system = append(system, &genai.Part{Text: v.Text})
				}
			}
			continue
		}
		var role string
		switch m.Role {
		case model.ConversationRoleUser:
			role = "user"
		case model.ConversationRoleAssistant:
			role = "model"
		default:
			return nil, nil, fmt.Errorf("google: unsupported message role %q", m.Role)
		}
		parts := make([]*genai.Part, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				if v.Text != "" {
					parts = append(parts, &genai.Part{Text: v.Text})
				}
			case model.ThinkingPart:
				// Gemini has no signed reasoning replay; dropped on re-encode.
			case model.ToolUsePart, model.ToolResultPart:
				return nil, nil, errors.New("google: tool calling is not supported")
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	if len(contents) == 0 {
		return nil, nil, errors.New("google: at least one user or assistant message is required")
	}
	return contents, system, nil
}

// buildSchema converts a JSON Schema object into the genai schema type.
// Gemini accepts a restricted dialect, so only the commonly supported
// keywords are carried over.
func buildSchema(def map[string]any) *genai.Schema {
	schema := &genai.Schema{}

	if t, ok := def["type"].(string); ok {
		schema.Type = schemaType(t)
	}
	if desc, ok := def["description"].(string); ok {
		schema.Description = desc
	}
	if props, ok := def["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for k, v := range props {
			if propDef, ok := v.(map[string]any); ok {
				schema.Properties[k] = buildSchema(propDef)
			}
		}
	}
	if req, ok := def["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if req, ok := def["required"].([]string); ok {
		schema.Required = append(schema.Required, req...)
	}
	if enums, ok := def["enum"].([]any); ok {
		for _, e := range enums {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if items, ok := def["items"].(map[string]any); ok {
		schema.Items = buildSchema(items)
	}
	return schema
}

func schemaType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

func translateResponse(result *genai.GenerateContentResponse, modelID string) (model.Response, error) {
	if result == nil {
		return model.Response{}, errors.New("google: response is nil")
	}
	if len(result.Candidates) == 0 {
		return model.Response{}, errors.New("google: response contains no candidates")
	}
	resp := model.Response{Model: modelID}
	if text := result.Text(); text != "" {
		resp.Content = []model.Message{{
			Role:  model.ConversationRoleAssistant,
			Parts: []model.Part{model.TextPart{Text: text}},
		}}
	}
	resp.StopReason = translateFinishReason(result.Candidates[0].FinishReason)
	if um := result.UsageMetadata; um != nil {
		resp.Usage = model.TokenUsage{
			InputTokens:  int(um.PromptTokenCount),
			OutputTokens: int(um.CandidatesTokenCount),
			TotalTokens:  int(um.TotalTokenCount),
		}
	}
	return resp, nil
}

func translateFinishReason(r genai.FinishReason) model.StopReason {
	switch r {
	case "STOP":
		return model.StopEndTurn
	case "MAX_TOKENS":
		return model.StopMaxTokens
	case "":
		return ""
	default:
		return model.StopReason(r)
	}
}

// wrapError classifies genai failures into model.ProviderError. The SDK
// reports HTTP status through APIError.Code.
func wrapError(operation string, err error) error {
	if errors.Is(err, model.ErrRateLimited) {
		return fmt.Errorf("google %s: %w", operation, err)
	}
	var apiErr *genai.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("google %s: %w", operation, err)
	}
	kind, retryable := classifyStatus(apiErr.Code)
	return model.NewProviderError(providerName, operation, apiErr.Code, kind, apiErr.Status, apiErr.Message, "", retryable, err)
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
