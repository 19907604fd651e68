// Package registry constructs and caches provider model clients from
// configuration. A Registry resolves provider names to ready-to-use
// model.Client values, wrapping each new client in a middleware stack
// before handing it out. It satisfies the resolver seam of the call
// package, so calls built without a pinned client route through it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"goa.design/llmctx/config"
	"goa.design/llmctx/features/model/anthropic"
	"goa.design/llmctx/features/model/bedrock"
	"goa.design/llmctx/features/model/google"
	"goa.design/llmctx/features/model/middleware"
	"goa.design/llmctx/features/model/openai"
	"goa.design/llmctx/model"
	"goa.design/llmctx/telemetry"
)

type (
	// Middleware decorates a model.Client with cross-cutting behavior such
	// as retries or rate limiting.
	Middleware func(model.Client) model.Client

	// Registry builds provider clients lazily and caches them for reuse.
	// Construct with New; a Registry is safe for concurrent use.
	Registry struct {
		cfg     config.Config
		runtime bedrock.RuntimeClient
		mws     []Middleware
		mwsSet  bool
		log     telemetry.Logger

		mu      sync.Mutex
		clients map[clientKey]model.Client
	}

	// clientKey identifies one cached client. credential holds the API key
	// for key-based providers and the region for Bedrock.
	clientKey struct {
		provider   string
		credential string
		endpoint   string
	}

	// Option configures a Registry during construction.
	Option func(*Registry)
)

// WithBedrockRuntime injects the runtime used by the bedrock provider.
// Without it the registry builds one from the default AWS credential chain
// and the configured region.
func WithBedrockRuntime(rc bedrock.RuntimeClient) Option {
	return func(r *Registry) { r.runtime = rc }
}

// WithMiddleware replaces the default middleware stack built from the
// configuration. Middlewares apply in order with the last one outermost;
// passing none disables wrapping entirely.
func WithMiddleware(ms ...Middleware) Option {
	return func(r *Registry) {
		r.mws = ms
		r.mwsSet = true
	}
}

// WithLogger sets the logger used for client lifecycle events.
func WithLogger(l telemetry.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// New builds a Registry from cfg. Unless WithMiddleware overrides it, every
// client is wrapped with adaptive rate limiting and retries according to
// the configuration's tuning knobs.
func New(cfg config.Config, opts ...Option) *Registry {
	r := &Registry{
		cfg:     cfg,
		log:     telemetry.NewNoopLogger(),
		clients: make(map[clientKey]model.Client),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Client returns the model client for the named provider, constructing it
// on first use. Clients are cached by provider, credential, and endpoint.
// An empty provider resolves to the configured default.
func (r *Registry) Client(ctx context.Context, provider string) (model.Client, error) {
	if provider == "" {
		provider = r.cfg.Default
	}
	if provider == "" {
		return nil, errors.New("registry: no provider requested and no default configured")
	}

	key, err := r.keyFor(provider)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if c, ok := r.clients[key]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	base, err := r.build(ctx, provider)
	if err != nil {
		return nil, err
	}
	client := r.wrap(base)

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[key]; ok {
		// Lost a construction race; keep the cached winner.
		return c, nil
	}
	r.clients[key] = client
	r.log.Info(ctx, "model client created", "provider", provider)
	return client, nil
}

func (r *Registry) keyFor(provider string) (clientKey, error) {
	switch provider {
	case config.Anthropic:
		return clientKey{provider, r.cfg.Anthropic.APIKey, r.cfg.Anthropic.BaseURL}, nil
	case config.OpenAI:
		return clientKey{provider, r.cfg.OpenAI.APIKey, r.cfg.OpenAI.BaseURL}, nil
	case config.Google:
		return clientKey{provider, r.cfg.Google.APIKey, r.cfg.Google.BaseURL}, nil
	case config.Bedrock:
		return clientKey{provider, r.cfg.Bedrock.Region, ""}, nil
	default:
		return clientKey{}, fmt.Errorf("registry: unknown provider %q", provider)
	}
}

func (r *Registry) build(ctx context.Context, provider string) (model.Client, error) {
	switch provider {
	case config.Anthropic:
		pc := r.cfg.Anthropic
		if pc.APIKey == "" {
			return nil, fmt.Errorf("registry: %s api key is not configured", provider)
		}
		c, err := anthropic.NewFromAPIKey(pc.APIKey, anthropic.Options{
			DefaultModel: pc.Model,
			BaseURL:      pc.BaseURL,
			MaxTokens:    pc.MaxTokens,
			Temperature:  pc.Temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("registry: initializing %s client: %w", provider, err)
		}
		return c, nil

	case config.OpenAI:
		pc := r.cfg.OpenAI
		if pc.APIKey == "" {
			return nil, fmt.Errorf("registry: %s api key is not configured", provider)
		}
		c, err := openai.NewFromAPIKey(pc.APIKey, openai.Options{
			DefaultModel: pc.Model,
			BaseURL:      pc.BaseURL,
			MaxTokens:    pc.MaxTokens,
			Temperature:  pc.Temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("registry: initializing %s client: %w", provider, err)
		}
		return c, nil

	case config.Google:
		pc := r.cfg.Google
		if pc.APIKey == "" {
			return nil, fmt.Errorf("registry: %s api key is not configured", provider)
		}
		c, err := google.NewFromAPIKey(ctx, pc.APIKey, google.Options{
			DefaultModel: pc.Model,
			MaxTokens:    pc.MaxTokens,
			Temperature:  pc.Temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("registry: initializing %s client: %w", provider, err)
		}
		return c, nil

	case config.Bedrock:
		bc := r.cfg.Bedrock
		opts := bedrock.Options{DefaultModel: bc.Model}
		if r.runtime != nil {
			c, err := bedrock.New(r.runtime, opts)
			if err != nil {
				return nil, fmt.Errorf("registry: initializing %s client: %w", provider, err)
			}
			return c, nil
		}
		if bc.Region == "" {
			return nil, fmt.Errorf("registry: %s region is not configured", provider)
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(bc.Region))
		if err != nil {
			return nil, fmt.Errorf("registry: loading aws config: %w", err)
		}
		c, err := bedrock.NewFromConfig(awsCfg, opts)
		if err != nil {
			return nil, fmt.Errorf("registry: initializing %s client: %w", provider, err)
		}
		return c, nil

	default:
		return nil, fmt.Errorf("registry: unknown provider %q", provider)
	}
}

// wrap applies the middleware stack to a freshly built client. The first
// middleware ends up innermost, the last outermost.
func (r *Registry) wrap(base model.Client) model.Client {
	mws := r.mws
	if !r.mwsSet {
		mws = r.defaultMiddleware()
	}
	c := base
	for _, mw := range mws {
		if mw == nil {
			continue
		}
		c = mw(c)
	}
	return c
}

// defaultMiddleware builds the stack applied when the caller does not
// supply one: adaptive rate limiting innermost, retries outermost. Each
// client gets its own limiter so budgets are tracked per provider.
func (r *Registry) defaultMiddleware() []Middleware {
	var mws []Middleware
	if tpm := r.cfg.RateLimit.TPM; tpm > 0 {
		lim := middleware.NewAdaptiveRateLimiter(context.Background(), nil, "", tpm, r.cfg.RateLimit.MaxTPM)
		mws = append(mws, lim.Middleware())
	}
	if r.cfg.Retry.MaxAttempts > 1 {
		mws = append(mws, middleware.Retry(middleware.RetryConfig{
			MaxAttempts: r.cfg.Retry.MaxAttempts,
			InitialWait: r.cfg.Retry.BaseDelay.Std(),
			MaxWait:     r.cfg.Retry.MaxDelay.Std(),
		}))
	}
	return mws
}
