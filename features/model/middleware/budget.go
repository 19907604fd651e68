package middleware

import (
	"context"

	"github.com/redis/go-redis/v9"
)

type (
	// Budget is a shared string-valued store used to coordinate rate limit
	// capacity across processes. Implementations must make TestAndSet atomic
	// and should fan out changes to subscribers so peers can reconcile.
	Budget interface {
		// Get returns the current value for key, reporting whether it exists.
		Get(ctx context.Context, key string) (string, bool, error)

		// SetIfNotExists stores value under key only when the key is absent.
		// Returns true when the write happened.
		SetIfNotExists(ctx context.Context, key, value string) (bool, error)

		// TestAndSet replaces the value under key with value only when the
		// current value equals test. It returns the previous value; callers
		// detect success by comparing it to test.
		TestAndSet(ctx context.Context, key, test, value string) (string, error)

		// Subscribe returns a channel that signals when the value under key
		// may have changed. The channel closes when ctx is done.
		Subscribe(ctx context.Context, key string) (<-chan struct{}, error)
	}

	// RedisBudget implements Budget on a Redis key per budget plus a pub/sub
	// channel for change notifications.
	RedisBudget struct {
		client redis.UniversalClient
		prefix string
	}
)

// defaultBudgetPrefix namespaces budget keys so several applications can
// share one Redis.
const defaultBudgetPrefix = "llmctx:budget"

// casScript compares, swaps, and notifies in one atomic step. Missing keys
// read as the empty string so seeding and CAS compose.
var casScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur == false then
  cur = ""
end
if cur == ARGV[1] then
  redis.call("SET", KEYS[1], ARGV[2])
  redis.call("PUBLISH", KEYS[2], ARGV[2])
end
return cur
`)

// NewRedisBudget builds a Budget backed by the given Redis client. prefix
// namespaces the keys; when empty a package default is used.
func NewRedisBudget(client redis.UniversalClient, prefix string) *RedisBudget {
	if prefix == "" {
		prefix = defaultBudgetPrefix
	}
	return &RedisBudget{client: client, prefix: prefix}
}

func (b *RedisBudget) key(key string) string { return b.prefix + ":" + key }

func (b *RedisBudget) channel(key string) string { return b.prefix + ":" + key + ":events" }

// Get implements Budget.
func (b *RedisBudget) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := b.client.Get(ctx, b.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// SetIfNotExists implements Budget.
func (b *RedisBudget) SetIfNotExists(ctx context.Context, key, value string) (bool, error) {
	ok, err := b.client.SetNX(ctx, b.key(key), value, 0).Result()
	if err != nil {
		return false, err
	}
	if ok {
		// Best effort; subscribers also read the key on startup.
		_ = b.client.Publish(ctx, b.channel(key), value).Err()
	}
	return ok, nil
}

// TestAndSet implements Budget.
func (b *RedisBudget) TestAndSet(ctx context.Context, key, test, value string) (string, error) {
	res, err := casScript.Run(ctx, b.client, []string{b.key(key), b.channel(key)}, test, value).Result()
	if err != nil {
		return "", err
	}
	prev, _ := res.(string)
	return prev, nil
}

// Subscribe implements Budget. Notifications coalesce: a slow consumer sees
// at least one signal after any burst of changes.
func (b *RedisBudget) Subscribe(ctx context.Context, key string) (<-chan struct{}, error) {
	sub := b.client.Subscribe(ctx, b.channel(key))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}
