package middleware

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"goa.design/llmctx/model"
)

// fakeBudget is an in-memory Budget. Mutations from limiter callbacks run on
// background goroutines, so all state is mutex-guarded.
type fakeBudget struct {
	mu     sync.Mutex
	values map[string]string
	ch     chan struct{}

	getErr error
}

func newFakeBudget() *fakeBudget {
	return &fakeBudget{
		values: make(map[string]string),
		ch:     make(chan struct{}, 1),
	}
}

func (b *fakeBudget) Get(_ context.Context, key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.getErr != nil {
		return "", false, b.getErr
	}
	v, ok := b.values[key]
	return v, ok, nil
}

func (b *fakeBudget) SetIfNotExists(_ context.Context, key, value string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.values[key]; ok {
		return false, nil
	}
	b.values[key] = value
	b.notify()
	return true, nil
}

func (b *fakeBudget) TestAndSet(_ context.Context, key, test, value string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := b.values[key]
	if cur != test {
		return cur, nil
	}
	b.values[key] = value
	b.notify()
	return cur, nil
}

func (b *fakeBudget) Subscribe(_ context.Context, _ string) (<-chan struct{}, error) {
	return b.ch, nil
}

func (b *fakeBudget) notify() {
	select {
	case b.ch <- struct{}{}:
	default:
	}
}

func (b *fakeBudget) set(key, value string) {
	b.mu.Lock()
	b.values[key] = value
	b.mu.Unlock()
	b.notify()
}

func (b *fakeBudget) get(key string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.values[key]
	return v, ok
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestClusterLimiter_BackoffUpdatesSharedBudget(t *testing.T) {
	ctx := context.Background()
	budget := newFakeBudget()
	const key = "model"

	budget.set(key, strconv.Itoa(80000))

	lim := newClusterAdaptiveRateLimiter(ctx, budget, key, 80000, 80000)

	client := &fakeClient{completeErr: model.ErrRateLimited}
	wrapped := lim.Middleware()(client)

	_, _ = wrapped.Complete(context.Background(), userRequest("hello"))

	waitFor(t, func() bool {
		v, ok := budget.get(key)
		if !ok {
			return false
		}
		cur, err := strconv.Atoi(v)
		return err == nil && cur < 80000
	})
}

func TestClusterLimiter_SeedsBudgetWhenMissing(t *testing.T) {
	ctx := context.Background()
	budget := newFakeBudget()
	const key = "model"

	_ = newClusterAdaptiveRateLimiter(ctx, budget, key, 80000, 80000)

	v, ok := budget.get(key)
	if !ok {
		t.Fatal("expected budget key to be seeded")
	}
	if v != "80000" {
		t.Fatalf("seeded value = %q, want 80000", v)
	}
}

func TestClusterLimiter_AdoptsExistingBudget(t *testing.T) {
	ctx := context.Background()
	budget := newFakeBudget()
	const key = "model"

	budget.set(key, "30000")

	lim := newClusterAdaptiveRateLimiter(ctx, budget, key, 80000, 80000)

	lim.mu.Lock()
	defer lim.mu.Unlock()
	if lim.currentTPM != 30000 {
		t.Fatalf("currentTPM = %f, want shared 30000", lim.currentTPM)
	}
}

func TestClusterLimiter_SubscribeReconciles(t *testing.T) {
	ctx := context.Background()
	budget := newFakeBudget()
	const key = "model"

	budget.set(key, "80000")
	lim := newClusterAdaptiveRateLimiter(ctx, budget, key, 80000, 80000)

	// Another process halves the shared budget.
	budget.set(key, "40000")

	waitFor(t, func() bool {
		lim.mu.Lock()
		defer lim.mu.Unlock()
		return lim.currentTPM == 40000
	})
}

func TestClusterLimiter_FallsBackWhenBudgetUnreachable(t *testing.T) {
	ctx := context.Background()
	budget := newFakeBudget()
	budget.getErr = errors.New("connection refused")

	lim := newClusterAdaptiveRateLimiter(ctx, budget, "model", 80000, 80000)

	lim.mu.Lock()
	defer lim.mu.Unlock()
	if lim.currentTPM != 80000 {
		t.Fatalf("currentTPM = %f, want local 80000", lim.currentTPM)
	}
	if lim.onBackoff != nil {
		t.Fatal("expected process-local limiter without cluster callbacks")
	}
}

func TestClusterLimiter_LocalWhenNoBudget(t *testing.T) {
	lim := NewAdaptiveRateLimiter(context.Background(), nil, "", 80000, 80000)

	lim.mu.Lock()
	defer lim.mu.Unlock()
	if lim.currentTPM != 80000 {
		t.Fatalf("currentTPM = %f, want 80000", lim.currentTPM)
	}
}
