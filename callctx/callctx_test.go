package callctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/llmctx/model"
)

type testDeps struct {
	Store string
	Limit int
}

func TestNewCarriesDeps(t *testing.T) {
	deps := testDeps{Store: "books", Limit: 3}
	c := New(deps)
	require.Equal(t, deps, c.Deps())
	assert.True(t, c.Settings().IsZero())
}

func TestNewAppliesOptions(t *testing.T) {
	c := New(42,
		WithProvider("anthropic", "claude-sonnet-4-5"),
		WithStream(true),
		WithJSONMode(false),
	)
	s := c.Settings()
	assert.Equal(t, "anthropic", s.Provider)
	assert.Equal(t, "claude-sonnet-4-5", s.Model)
	require.NotNil(t, s.Stream)
	assert.True(t, *s.Stream)
	require.NotNil(t, s.JSONMode)
	assert.False(t, *s.JSONMode)
}

func TestIsContext(t *testing.T) {
	ptr := New("deps")
	var typedNil *Context[int]

	cases := []struct {
		name  string
		value any
		want  bool
	}{
		{name: "pointer from New", value: ptr, want: true},
		{name: "dereferenced copy", value: *ptr, want: true},
		{name: "derived context", value: ptr.WithSettings(WithStream(true)), want: true},
		{name: "untyped nil", value: nil, want: false},
		{name: "typed nil pointer", value: typedNil, want: false},
		{name: "string", value: "llmctx.Context", want: false},
		{name: "int", value: 7, want: false},
		{name: "structural lookalike", value: struct{ deps string }{deps: "x"}, want: false},
		{name: "settings value", value: Settings{Provider: "openai", Model: "gpt-5"}, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsContext(tc.value))
		})
	}
}

func TestWithSettingsDoesNotMutateReceiver(t *testing.T) {
	base := New(testDeps{Store: "books"})
	derived := base.WithSettings(WithStream(true), WithProvider("google", "gemini-2.5-flash"))

	assert.True(t, base.Settings().IsZero())
	require.NotNil(t, derived.Settings().Stream)
	assert.True(t, *derived.Settings().Stream)
	assert.Equal(t, "google", derived.Settings().Provider)
	assert.Equal(t, base.Deps(), derived.Deps())
}

func TestSettingsValidate(t *testing.T) {
	assert.NoError(t, Settings{}.Validate())
	assert.NoError(t, Settings{Provider: "openai", Model: "gpt-5"}.Validate())
	assert.ErrorIs(t, Settings{Provider: "openai"}.Validate(), ErrProviderModelPair)
	assert.ErrorIs(t, Settings{Model: "gpt-5"}.Validate(), ErrProviderModelPair)
}

func TestScopeRejectsHalfPair(t *testing.T) {
	_, err := Scope(context.Background(), func(s *Settings) { s.Provider = "openai" })
	require.ErrorIs(t, err, ErrProviderModelPair)
}

func TestScopeNestedMerge(t *testing.T) {
	ctx := context.Background()

	outer, err := Scope(ctx, WithProvider("anthropic", "claude-sonnet-4-5"), WithStream(true))
	require.NoError(t, err)

	temp := 0.2
	inner, err := Scope(outer, WithParams(model.Params{Temperature: &temp}))
	require.NoError(t, err)

	s, ok := CurrentSettings(inner)
	require.True(t, ok)
	assert.Equal(t, "anthropic", s.Provider)
	assert.Equal(t, "claude-sonnet-4-5", s.Model)
	require.NotNil(t, s.Stream)
	assert.True(t, *s.Stream)
	require.NotNil(t, s.Params)
	assert.Equal(t, 0.2, *s.Params.Temperature)
}

func TestScopeInnerWins(t *testing.T) {
	ctx := context.Background()

	outer, err := Scope(ctx, WithProvider("anthropic", "claude-sonnet-4-5"), WithJSONMode(true))
	require.NoError(t, err)
	inner, err := Scope(outer, WithProvider("openai", "gpt-5"), WithJSONMode(false))
	require.NoError(t, err)

	s, ok := CurrentSettings(inner)
	require.True(t, ok)
	assert.Equal(t, "openai", s.Provider)
	assert.Equal(t, "gpt-5", s.Model)
	require.NotNil(t, s.JSONMode)
	assert.False(t, *s.JSONMode)

	// The outer scope is untouched.
	s, ok = CurrentSettings(outer)
	require.True(t, ok)
	assert.Equal(t, "anthropic", s.Provider)
	require.NotNil(t, s.JSONMode)
	assert.True(t, *s.JSONMode)
}

func TestCurrentSettingsEmpty(t *testing.T) {
	_, ok := CurrentSettings(context.Background())
	assert.False(t, ok)
}

func TestAttachCurrentByDependencyType(t *testing.T) {
	ctx := context.Background()
	structCtx := New(testDeps{Store: "books"})
	intCtx := New(99)

	ctx = Attach(ctx, structCtx)
	ctx = Attach(ctx, intCtx)

	got, ok := Current[testDeps](ctx)
	require.True(t, ok)
	assert.Same(t, structCtx, got)

	gotInt, ok := Current[int](ctx)
	require.True(t, ok)
	assert.Same(t, intCtx, gotInt)

	_, ok = Current[string](ctx)
	assert.False(t, ok)
}

func TestResolveSettings(t *testing.T) {
	ctx := context.Background()
	scoped, err := Scope(ctx, WithProvider("google", "gemini-2.5-flash"))
	require.NoError(t, err)

	explicit := New(1, WithProvider("openai", "gpt-5"))
	plain := New(1)

	t.Run("explicit context wins over scope", func(t *testing.T) {
		s := ResolveSettings(scoped, explicit)
		assert.Equal(t, "openai", s.Provider)
	})

	t.Run("plain context falls through to scope", func(t *testing.T) {
		s := ResolveSettings(scoped, plain)
		assert.Equal(t, "google", s.Provider)
	})

	t.Run("nil context falls through to scope", func(t *testing.T) {
		s := ResolveSettings[int](scoped, nil)
		assert.Equal(t, "google", s.Provider)
	})

	t.Run("nothing set resolves to zero", func(t *testing.T) {
		s := ResolveSettings(ctx, plain)
		assert.True(t, s.IsZero())
	})
}
