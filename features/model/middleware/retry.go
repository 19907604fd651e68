package middleware

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"goa.design/llmctx/model"
)

type (
	// RetryConfig configures the retry middleware.
	RetryConfig struct {
		// MaxAttempts is the total number of tries including the first one.
		MaxAttempts int
		// InitialWait is the backoff before the first retry.
		InitialWait time.Duration
		// MaxWait caps the exponential backoff.
		MaxWait time.Duration
		// Multiplier grows the wait between consecutive retries.
		Multiplier float64
	}

	retryClient struct {
		next model.Client
		cfg  RetryConfig
	}
)

// DefaultRetryConfig returns the retry settings used when a field is left
// zero: three attempts, one second initial wait doubling up to ten seconds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		InitialWait: time.Second,
		MaxWait:     10 * time.Second,
		Multiplier:  2.0,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialWait <= 0 {
		c.InitialWait = def.InitialWait
	}
	if c.MaxWait <= 0 {
		c.MaxWait = def.MaxWait
	}
	if c.Multiplier <= 1 {
		c.Multiplier = def.Multiplier
	}
	return c
}

// Retry returns a model.Client middleware that retries transient failures
// with exponential backoff and jitter. Rate limit backoff hints from the
// provider take precedence over the computed wait. Stream calls retry
// establishing the stream; mid-stream failures are not replayed.
func Retry(cfg RetryConfig) func(model.Client) model.Client {
	cfg = cfg.withDefaults()
	return func(next model.Client) model.Client {
		if next == nil {
			return nil
		}
		return &retryClient{next: next, cfg: cfg}
	}
}

func (c *retryClient) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		resp, err := c.next.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return model.Response{}, err
		}
		if attempt == c.cfg.MaxAttempts-1 {
			break
		}
		if err := c.sleep(ctx, attempt, err); err != nil {
			return model.Response{}, err
		}
	}
	return model.Response{}, lastErr
}

func (c *retryClient) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		stream, err := c.next.Stream(ctx, req)
		if err == nil {
			return stream, nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return nil, err
		}
		if attempt == c.cfg.MaxAttempts-1 {
			break
		}
		if err := c.sleep(ctx, attempt, err); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *retryClient) sleep(ctx context.Context, attempt int, cause error) error {
	wait := c.backoff(attempt, cause)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// shouldRetry reports whether err is worth another attempt.
func shouldRetry(err error) bool {
	// Context errors are never retried.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Streaming support does not appear on retry.
	if errors.Is(err, model.ErrStreamingUnsupported) {
		return false
	}

	// Classified provider errors carry an explicit verdict.
	if pe, ok := model.AsProviderError(err); ok {
		return pe.Retryable()
	}

	// Rate limit signals without classification still back off and retry.
	if errors.Is(err, model.ErrRateLimited) {
		return true
	}

	// Other errors (network, etc.) are treated as transient.
	return true
}

// backoff computes the wait duration for the given attempt.
func (c *retryClient) backoff(attempt int, err error) time.Duration {
	// Respect the provider's backoff hint for throttled requests.
	if pe, ok := model.AsProviderError(err); ok && pe.RetryAfter() > 0 {
		return pe.RetryAfter()
	}

	wait := float64(c.cfg.InitialWait) * math.Pow(c.cfg.Multiplier, float64(attempt))
	if wait > float64(c.cfg.MaxWait) {
		wait = float64(c.cfg.MaxWait)
	}

	// Add ±20% jitter.
	jitter := wait * 0.2 * (2*rand.Float64() - 1)
	wait += jitter

	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}
