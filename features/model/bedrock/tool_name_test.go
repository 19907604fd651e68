package bedrock

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"goa.design/llmctx/model"
)

func TestSanitizeToolName(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "already safe", in: "search_books-v2", want: "search_books-v2"},
		{name: "dotted namespace", in: "library.search", want: "library_search"},
		{name: "nested namespace", in: "org.library.search", want: "org_library_search"},
		{name: "disallowed runes", in: "a/b c!", want: "a_b_c_"},
		{name: "unicode", in: "café", want: "caf_"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, sanitizeToolName(tc.in))
		})
	}
}

func TestSanitizeToolNameLong(t *testing.T) {
	long := strings.Repeat("a", 70)
	got := sanitizeToolName(long)
	require.Len(t, got, 64)
	require.True(t, strings.HasPrefix(got, strings.Repeat("a", 55)+"_"))

	// Deterministic and unique per input.
	require.Equal(t, got, sanitizeToolName(long))
	other := sanitizeToolName(strings.Repeat("a", 69) + "b")
	require.Len(t, other, 64)
	require.NotEqual(t, got, other)
}

func TestNormalizeToolName(t *testing.T) {
	require.Equal(t, "search", normalizeToolName("$FUNCTIONS.search"))
	require.Equal(t, "search", normalizeToolName("search"))
	require.Equal(t, "library_search", normalizeToolName("$FUNCTIONS.library_search"))
}

func TestCanonicalToolName(t *testing.T) {
	nameMap := map[string]string{"library_search": "library.search"}
	require.Equal(t, "library.search", canonicalToolName("library_search", nameMap))
	require.Equal(t, "library.search", canonicalToolName("$FUNCTIONS.library_search", nameMap))
	// Unknown names pass through normalized so callers can report them.
	require.Equal(t, "mystery", canonicalToolName("$FUNCTIONS.mystery", nameMap))
}

func TestToolUseIDFor(t *testing.T) {
	ids := make(map[string]string)
	next := 0

	require.Equal(t, "", toolUseIDFor("", ids, &next))
	require.Equal(t, "call_123", toolUseIDFor("call_123", ids, &next))
	require.Equal(t, "t1", toolUseIDFor("call/abc:1", ids, &next))
	require.Equal(t, "t1", toolUseIDFor("call/abc:1", ids, &next))
	require.Equal(t, "t2", toolUseIDFor("call abc 2", ids, &next))
}

func TestIsProviderSafeToolUseID(t *testing.T) {
	require.True(t, isProviderSafeToolUseID("toolu_01A-b_2"))
	require.False(t, isProviderSafeToolUseID(""))
	require.False(t, isProviderSafeToolUseID("has/slash"))
	require.False(t, isProviderSafeToolUseID("has space"))
	require.True(t, isProviderSafeToolUseID(strings.Repeat("x", 64)))
	require.False(t, isProviderSafeToolUseID(strings.Repeat("x", 65)))
}

func TestTranslateStopReason(t *testing.T) {
	cases := []struct {
		in   brtypes.StopReason
		want model.StopReason
	}{
		{brtypes.StopReasonEndTurn, model.StopEndTurn},
		{brtypes.StopReasonMaxTokens, model.StopMaxTokens},
		{brtypes.StopReasonToolUse, model.StopToolUse},
		{brtypes.StopReasonStopSequence, model.StopStopSequence},
		{"", ""},
		{"guardrail_intervened", "guardrail_intervened"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, translateStopReason(tc.in))
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status    int
		kind      model.ProviderErrorKind
		retryable bool
	}{
		{http.StatusTooManyRequests, model.ProviderErrorKindRateLimited, true},
		{http.StatusUnauthorized, model.ProviderErrorKindAuth, false},
		{http.StatusForbidden, model.ProviderErrorKindAuth, false},
		{http.StatusRequestTimeout, model.ProviderErrorKindUnavailable, true},
		{http.StatusInternalServerError, model.ProviderErrorKindUnavailable, true},
		{http.StatusServiceUnavailable, model.ProviderErrorKindUnavailable, true},
		{http.StatusBadRequest, model.ProviderErrorKindInvalidRequest, false},
		{http.StatusUnprocessableEntity, model.ProviderErrorKindInvalidRequest, false},
		{0, model.ProviderErrorKindUnknown, false},
	}
	for _, tc := range cases {
		kind, retryable := classifyStatus(tc.status)
		require.Equal(t, tc.kind, kind, "status %d", tc.status)
		require.Equal(t, tc.retryable, retryable, "status %d", tc.status)
	}
}

func TestToolCallInput(t *testing.T) {
	require.Equal(t, "{}", string(toolCallInput(nil)))
	require.Equal(t, "{}", string(toolCallInput([]byte{})))
	require.Equal(t, `{"a":1}`, string(toolCallInput([]byte(`{"a":1}`))))
}

func TestRawDocument(t *testing.T) {
	doc := rawDocument([]byte(`{"query":"goa"}`))
	raw, err := doc.MarshalSmithyDocument()
	require.NoError(t, err)
	require.JSONEq(t, `{"query":"goa"}`, string(raw))

	// Non-JSON payloads are preserved rather than dropped.
	doc = rawDocument([]byte("not json"))
	raw, err = doc.MarshalSmithyDocument()
	require.NoError(t, err)
	require.JSONEq(t, `{"raw":"not json"}`, string(raw))

	doc = rawDocument(nil)
	raw, err = doc.MarshalSmithyDocument()
	require.NoError(t, err)
	require.JSONEq(t, `{}`, string(raw))
}
