package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"goa.design/llmctx/format"
	"goa.design/llmctx/model"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error

	stream *ssestream.Stream[sdk.MessageStreamEventUnion]
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func (s *stubMessagesClient) NewStreaming(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	s.lastParams = body
	if s.stream == nil {
		s.stream = ssestream.NewStream[sdk.MessageStreamEventUnion](&noopDecoder{}, nil)
	}
	return s.stream
}

type noopDecoder struct{}

func (n *noopDecoder) Event() ssestream.Event { return ssestream.Event{} }
func (n *noopDecoder) Next() bool             { return false }
func (n *noopDecoder) Close() error           { return nil }
func (n *noopDecoder) Err() error             { return nil }

func userRequest(text string) model.Request {
	return model.Request{
		Messages: []*model.Message{model.User(text)},
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, Options{DefaultModel: "claude-sonnet-4-5"}); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := New(&stubMessagesClient{}, Options{}); err == nil {
		t.Fatalf("expected error for missing default model")
	}
}

func TestComplete_TextOnly(t *testing.T) {
	stub := &stubMessagesClient{}
	cl, err := New(stub, Options{
		DefaultModel: "claude-sonnet-4-5",
		MaxTokens:    128,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	stub.resp = &sdk.Message{
		ID:    "msg_1",
		Model: "claude-sonnet-4-5",
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "world"},
		},
		StopReason: sdk.StopReasonEndTurn,
		Usage: sdk.Usage{
			InputTokens:  10,
			OutputTokens: 5,
		},
	}

	resp, err := cl.Complete(context.Background(), userRequest("hello"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if stub.lastParams.MaxTokens != 128 {
		t.Fatalf("unexpected max_tokens %d", stub.lastParams.MaxTokens)
	}
	if string(stub.lastParams.Model) != "claude-sonnet-4-5" {
		t.Fatalf("unexpected model %q", stub.lastParams.Model)
	}
	if resp.ID != "msg_1" {
		t.Fatalf("unexpected response id %q", resp.ID)
	}
	if resp.Text() != "world" {
		t.Fatalf("unexpected text %q", resp.Text())
	}
	if resp.StopReason != model.StopEndTurn {
		t.Fatalf("unexpected stop reason %q", resp.StopReason)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 5 || resp.Usage.TotalTokens != 15 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
}

func TestComplete_ThinkingBlocks(t *testing.T) {
	stub := &stubMessagesClient{}
	cl, err := New(stub, Options{DefaultModel: "claude-sonnet-4-5"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	stub.resp = &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "thinking", Thinking: "consider the options", Signature: "sig-1"},
			{Type: "text", Text: "done"},
		},
		StopReason: sdk.StopReasonEndTurn,
	}

	resp, err := cl.Complete(context.Background(), userRequest("hi"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(resp.Content) != 1 {
		t.Fatalf("expected 1 content message, got %d", len(resp.Content))
	}
	parts := resp.Content[0].Parts
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	think, ok := parts[0].(model.ThinkingPart)
	if !ok {
		t.Fatalf("expected thinking part first, got %T", parts[0])
	}
	if think.Text != "consider the options" || think.Signature != "sig-1" {
		t.Fatalf("unexpected thinking part: %+v", think)
	}
	if _, ok := parts[1].(model.TextPart); !ok {
		t.Fatalf("expected text part second, got %T", parts[1])
	}
}

func TestComplete_ToolUse(t *testing.T) {
	stub := &stubMessagesClient{}
	cl, err := New(stub, Options{
		DefaultModel: "claude-sonnet-4-5",
		MaxTokens:    128,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := userRequest("call tool")
	req.Tools = []*model.ToolDefinition{
		{
			Name:        "library.search_books",
			Description: "Search the catalog",
			InputSchema: map[string]any{"type": "object"},
		},
	}

	tools, canon, prov, err := encodeTools(req.Tools)
	if err != nil {
		t.Fatalf("encodeTools: %v", err)
	}
	if len(tools) != 1 {
		t.Fatalf("expected 1 encoded tool, got %d", len(tools))
	}
	if len(canon) != 1 || len(prov) != 1 {
		t.Fatalf("expected name maps, got canon=%v prov=%v", canon, prov)
	}
	sanitized := canon["library.search_books"]
	if sanitized != "search_books" {
		t.Fatalf("unexpected sanitized name %q", sanitized)
	}

	stub.resp = &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{
				Type:  "tool_use",
				Name:  sanitized,
				ID:    "tool-1",
				Input: json.RawMessage(`{"query":"go"}`),
			},
		},
		StopReason: sdk.StopReasonToolUse,
	}

	resp, err := cl.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	call := resp.ToolCalls[0]
	if call.Name != "library.search_books" {
		t.Fatalf("unexpected tool name %q", call.Name)
	}
	if call.ID != "tool-1" {
		t.Fatalf("unexpected tool ID %q", call.ID)
	}
	if string(call.Input) != `{"query":"go"}` {
		t.Fatalf("unexpected input %s", call.Input)
	}
}

func TestComplete_ParamsMapping(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{}}
	cl, err := New(stub, Options{DefaultModel: "claude-sonnet-4-5"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	temp := 0.2
	topP := 0.9
	maxTok := 256
	req := userRequest("hi")
	req.Params = model.Params{
		Temperature:   &temp,
		TopP:          &topP,
		MaxTokens:     &maxTok,
		StopSequences: []string{"END"},
	}

	if _, err := cl.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if stub.lastParams.MaxTokens != 256 {
		t.Fatalf("unexpected max_tokens %d", stub.lastParams.MaxTokens)
	}
	if got := stub.lastParams.Temperature.Value; got != 0.2 {
		t.Fatalf("unexpected temperature %v", got)
	}
	if got := stub.lastParams.TopP.Value; got != 0.9 {
		t.Fatalf("unexpected top_p %v", got)
	}
	if len(stub.lastParams.StopSequences) != 1 || stub.lastParams.StopSequences[0] != "END" {
		t.Fatalf("unexpected stop sequences %v", stub.lastParams.StopSequences)
	}
}

func TestComplete_ThinkingBudgetRules(t *testing.T) {
	cases := []struct {
		name    string
		budget  int
		optsBud int64
		maxTok  int
		wantErr string
	}{
		{name: "missing budget", budget: 0, maxTok: 4096, wantErr: "thinking budget is required"},
		{name: "too small", budget: 512, maxTok: 4096, wantErr: ">= 1024"},
		{name: "exceeds max tokens", budget: 4096, maxTok: 4096, wantErr: "less than max_tokens"},
		{name: "option default applies", budget: 0, optsBud: 2048, maxTok: 4096},
		{name: "valid", budget: 2048, maxTok: 4096},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubMessagesClient{resp: &sdk.Message{}}
			cl, err := New(stub, Options{
				DefaultModel:   "claude-sonnet-4-5",
				MaxTokens:      tc.maxTok,
				ThinkingBudget: tc.optsBud,
			})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			req := userRequest("hi")
			req.Params.Thinking = &model.ThinkingOptions{Enable: true, BudgetTokens: tc.budget}

			_, err = cl.Complete(context.Background(), req)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Complete: %v", err)
			}
			enabled := stub.lastParams.Thinking.OfEnabled
			if enabled == nil {
				t.Fatalf("expected thinking config")
			}
			want := int64(tc.budget)
			if want == 0 {
				want = tc.optsBud
			}
			if enabled.BudgetTokens != want {
				t.Fatalf("unexpected budget %d", enabled.BudgetTokens)
			}
		})
	}
}

func TestComplete_FormatInstruction(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{}}
	cl, err := New(stub, Options{DefaultModel: "claude-sonnet-4-5"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := model.Request{
		Messages: []*model.Message{
			model.System("You are a librarian."),
			model.User("find a book"),
		},
		Format: format.Object("book", "A catalog entry.", map[string]any{
			"title": map[string]any{"type": "string"},
		}, "title"),
	}

	if _, err := cl.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	system := stub.lastParams.System
	if len(system) != 2 {
		t.Fatalf("expected 2 system blocks, got %d", len(system))
	}
	instr := system[1].Text
	if !strings.Contains(instr, "JSON Schema") {
		t.Fatalf("instruction missing schema mention: %q", instr)
	}
	if !strings.Contains(instr, `"title"`) {
		t.Fatalf("instruction missing schema body: %q", instr)
	}

	// Bare JSON mode gets the schemaless instruction.
	stub.lastParams = sdk.MessageNewParams{}
	req.Format = nil
	req.JSONMode = true
	if _, err := cl.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	system = stub.lastParams.System
	if len(system) != 2 {
		t.Fatalf("expected 2 system blocks, got %d", len(system))
	}
	if !strings.Contains(system[1].Text, "valid JSON object") {
		t.Fatalf("unexpected json mode instruction: %q", system[1].Text)
	}
}

func TestComplete_RateLimited(t *testing.T) {
	stub := &stubMessagesClient{err: model.ErrRateLimited}
	cl, err := New(stub, Options{
		DefaultModel: "claude-sonnet-4-5",
		MaxTokens:    64,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = cl.Complete(context.Background(), userRequest("hi"))
	if !errors.Is(err, model.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestEncodeMessages_ToolHistory(t *testing.T) {
	msgs := []*model.Message{
		{
			Role: model.ConversationRoleAssistant,
			Parts: []model.Part{
				model.ThinkingPart{Text: "check the catalog", Signature: "sig-1"},
				model.ToolUsePart{
					ID:    "tu1",
					Name:  "library.search_books",
					Input: map[string]any{"query": "go"},
				},
			},
		},
		{
			Role: model.ConversationRoleUser,
			Parts: []model.Part{
				model.ToolResultPart{
					ToolUseID: "tu1",
					Content:   map[string]any{"count": 3},
				},
			},
		},
	}

	// The second turn advertises no tools; history names fall back to their
	// sanitized form.
	conversation, system, err := encodeMessages(msgs, nil)
	if err != nil {
		t.Fatalf("encodeMessages: %v", err)
	}
	if len(system) != 0 {
		t.Fatalf("unexpected system blocks: %d", len(system))
	}
	if len(conversation) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(conversation))
	}
}

func TestEncodeMessages_Errors(t *testing.T) {
	if _, _, err := encodeMessages([]*model.Message{model.System("only system")}, nil); err == nil {
		t.Fatalf("expected error for system-only conversation")
	}
	bad := []*model.Message{{Role: "tool", Parts: []model.Part{model.TextPart{Text: "x"}}}}
	if _, _, err := encodeMessages(bad, nil); err == nil {
		t.Fatalf("expected error for unsupported role")
	}
	missing := []*model.Message{{
		Role:  model.ConversationRoleAssistant,
		Parts: []model.Part{model.ToolUsePart{ID: "t1"}},
	}}
	if _, _, err := encodeMessages(missing, nil); err == nil {
		t.Fatalf("expected error for tool_use without name")
	}
}

func TestEncodeTools_Validation(t *testing.T) {
	_, _, _, err := encodeTools([]*model.ToolDefinition{
		{Name: "a.tool", Description: ""},
	})
	if err == nil || !strings.Contains(err.Error(), "missing description") {
		t.Fatalf("expected description error, got %v", err)
	}

	_, _, _, err = encodeTools([]*model.ToolDefinition{
		{Name: "a.report", Description: "first"},
		{Name: "b.report", Description: "second"},
	})
	if err == nil || !strings.Contains(err.Error(), "collides") {
		t.Fatalf("expected collision error, got %v", err)
	}
}

func TestSanitizeToolName(t *testing.T) {
	cases := map[string]string{
		"library.search_books": "search_books",
		"plain":                "plain",
		"has space":            "has_space",
		"a.b.c":                "c",
		"":                     "",
	}
	for in, want := range cases {
		if got := sanitizeToolName(in); got != want {
			t.Fatalf("sanitizeToolName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status    int
		kind      model.ProviderErrorKind
		retryable bool
	}{
		{429, model.ProviderErrorKindRateLimited, true},
		{401, model.ProviderErrorKindAuth, false},
		{403, model.ProviderErrorKindAuth, false},
		{500, model.ProviderErrorKindUnavailable, true},
		{529, model.ProviderErrorKindUnavailable, true},
		{400, model.ProviderErrorKindInvalidRequest, false},
		{404, model.ProviderErrorKindInvalidRequest, false},
		{0, model.ProviderErrorKindUnknown, false},
	}
	for _, tc := range cases {
		kind, retryable := classifyStatus(tc.status)
		if kind != tc.kind || retryable != tc.retryable {
			t.Fatalf("classifyStatus(%d) = %v/%v, want %v/%v", tc.status, kind, retryable, tc.kind, tc.retryable)
		}
	}
}
