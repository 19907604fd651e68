package middleware

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"goa.design/llmctx/model"
)

type scriptedResult struct {
	resp model.Response
	err  error
}

// scriptedClient returns each result in order, repeating the last one when
// the script runs out.
type scriptedClient struct {
	results []scriptedResult
	calls   int
}

func (s *scriptedClient) next() scriptedResult {
	i := s.calls
	s.calls++
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i]
}

func (s *scriptedClient) Complete(_ context.Context, _ model.Request) (model.Response, error) {
	r := s.next()
	return r.resp, r.err
}

func (s *scriptedClient) Stream(_ context.Context, _ model.Request) (model.Streamer, error) {
	r := s.next()
	if r.err != nil {
		return nil, r.err
	}
	return model.Replay(r.resp), nil
}

func retryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		InitialWait: time.Millisecond,
		MaxWait:     10 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func unavailableErr() error {
	return model.NewProviderError("stub", "op", 503,
		model.ProviderErrorKindUnavailable, "", "down", "", true, errors.New("down"))
}

func invalidRequestErr() error {
	return model.NewProviderError("stub", "op", 400,
		model.ProviderErrorKindInvalidRequest, "", "bad schema", "", false, errors.New("bad"))
}

func TestRetry_SucceedsOnFirstAttempt(t *testing.T) {
	client := &scriptedClient{results: []scriptedResult{
		{resp: model.Response{Model: "m"}},
	}}
	wrapped := Retry(retryConfig())(client)

	resp, err := wrapped.Complete(context.Background(), model.Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Model != "m" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if client.calls != 1 {
		t.Fatalf("expected 1 call, got %d", client.calls)
	}
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	client := &scriptedClient{results: []scriptedResult{
		{err: unavailableErr()},
		{resp: model.Response{Model: "m"}},
	}}
	wrapped := Retry(retryConfig())(client)

	resp, err := wrapped.Complete(context.Background(), model.Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Model != "m" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if client.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", client.calls)
	}
}

func TestRetry_AllAttemptsFail(t *testing.T) {
	client := &scriptedClient{results: []scriptedResult{
		{err: unavailableErr()},
	}}
	wrapped := Retry(retryConfig())(client)

	_, err := wrapped.Complete(context.Background(), model.Request{})
	if err == nil {
		t.Fatal("expected error")
	}
	pe, ok := model.AsProviderError(err)
	if !ok || pe.Kind() != model.ProviderErrorKindUnavailable {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", client.calls)
	}
}

func TestRetry_NonRetryableStops(t *testing.T) {
	client := &scriptedClient{results: []scriptedResult{
		{err: invalidRequestErr()},
	}}
	wrapped := Retry(retryConfig())(client)

	_, err := wrapped.Complete(context.Background(), model.Request{})
	if err == nil {
		t.Fatal("expected error")
	}
	if client.calls != 1 {
		t.Fatalf("expected 1 call, got %d", client.calls)
	}
}

func TestRetry_ContextErrorsStop(t *testing.T) {
	client := &scriptedClient{results: []scriptedResult{
		{err: fmt.Errorf("request: %w", context.Canceled)},
	}}
	wrapped := Retry(retryConfig())(client)

	_, err := wrapped.Complete(context.Background(), model.Request{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("expected 1 call, got %d", client.calls)
	}
}

func TestRetry_RateLimitedSentinelRetries(t *testing.T) {
	client := &scriptedClient{results: []scriptedResult{
		{err: fmt.Errorf("provider: %w", model.ErrRateLimited)},
		{resp: model.Response{}},
	}}
	wrapped := Retry(retryConfig())(client)

	if _, err := wrapped.Complete(context.Background(), model.Request{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", client.calls)
	}
}

func TestRetry_HonorsRetryAfter(t *testing.T) {
	retryAfter := 30 * time.Millisecond
	throttled := model.NewProviderError("stub", "op", 429,
		model.ProviderErrorKindRateLimited, "", "slow down", "", true, errors.New("slow")).
		WithRetryAfter(retryAfter)

	client := &scriptedClient{results: []scriptedResult{
		{err: throttled},
		{resp: model.Response{}},
	}}
	wrapped := Retry(retryConfig())(client)

	start := time.Now()
	if _, err := wrapped.Complete(context.Background(), model.Request{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < retryAfter {
		t.Fatalf("expected wait >= %v, got %v", retryAfter, elapsed)
	}
}

func TestRetry_StreamTransientThenSuccess(t *testing.T) {
	client := &scriptedClient{results: []scriptedResult{
		{err: unavailableErr()},
		{resp: model.Response{}},
	}}
	wrapped := Retry(retryConfig())(client)

	stream, err := wrapped.Stream(context.Background(), model.Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = stream.Close() }()
	if client.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", client.calls)
	}
}

func TestRetry_StreamingUnsupportedNotRetried(t *testing.T) {
	client := &scriptedClient{results: []scriptedResult{
		{err: fmt.Errorf("google: %w", model.ErrStreamingUnsupported)},
	}}
	wrapped := Retry(retryConfig())(client)

	_, err := wrapped.Stream(context.Background(), model.Request{})
	if !errors.Is(err, model.ErrStreamingUnsupported) {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("expected 1 call, got %d", client.calls)
	}
}

func TestRetryConfig_Defaults(t *testing.T) {
	cfg := RetryConfig{}.withDefaults()
	def := DefaultRetryConfig()
	if cfg != def {
		t.Fatalf("withDefaults() = %+v, want %+v", cfg, def)
	}

	custom := RetryConfig{MaxAttempts: 5, InitialWait: time.Millisecond, MaxWait: time.Second, Multiplier: 3}
	if got := custom.withDefaults(); got != custom {
		t.Fatalf("withDefaults() = %+v, want %+v", got, custom)
	}
}
