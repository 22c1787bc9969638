package recovery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// noWait is a Waiter that records waits without sleeping
func noWait(waited *int) Waiter {
	return func(ctx context.Context, d time.Duration) error {
		*waited++
		return nil
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Class
	}{
		{errors.New("429 too many requests"), ClassTransient},
		{errors.New("rate limit exceeded"), ClassTransient},
		{errors.New("503 service unavailable"), ClassTransient},
		{errors.New("connection reset by peer"), ClassTransient},
		{errors.New("request timeout"), ClassTransient},
		{context.DeadlineExceeded, ClassTransient},
		{fmt.Errorf("builder_call blocked: %w", ErrCircuitOpen), ClassTransient},
		{errors.New("response validation failed"), ClassDeterministic},
		{fmt.Errorf("hunk mismatch: %w", ErrPatchApply), ClassDeterministic},
		{errors.New("schema mismatch on field tier_id"), ClassDeterministic},
		{errors.New("400 bad request"), ClassDeterministic},
		{errors.New("invalid enum value QUEUEDD"), ClassDeterministic},
		{errors.New("nil pointer dereference somewhere"), ClassFatal},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%q): expected %s, got %s", tc.err, tc.want, got)
		}
	}
}

func TestDeterministicNeverRetried(t *testing.T) {
	calls := 0
	waits := 0
	fn := func(ctx context.Context) error {
		calls++
		return fmt.Errorf("bad patch: %w", ErrPatchApply)
	}

	stats, err := ExecuteWithRetry(context.Background(), "builder_call", fn,
		DefaultRetryConfig(), noWait(&waits), nil)

	if !errors.Is(err, ErrPatchApply) {
		t.Fatalf("expected the original error re-raised, got %v", err)
	}
	if calls != 1 || stats.Calls != 1 {
		t.Errorf("deterministic error must be called exactly once, got %d", calls)
	}
	if waits != 0 || stats.Waits != 0 {
		t.Errorf("deterministic error must never wait, got %d waits", waits)
	}
}

func TestTransientGetsExactlyOneRetry(t *testing.T) {
	calls := 0
	waits := 0
	fn := func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("503 service unavailable")
		}
		return nil
	}

	stats, err := ExecuteWithRetry(context.Background(), "builder_call", fn,
		DefaultRetryConfig(), noWait(&waits), nil)

	if err != nil {
		t.Fatalf("expected success on second call, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
	if waits != 1 || stats.Waits != 1 {
		t.Errorf("expected exactly one backoff wait, got %d", waits)
	}
}

func TestTransientExhaustion(t *testing.T) {
	calls := 0
	waits := 0
	transient := errors.New("connection refused")
	fn := func(ctx context.Context) error {
		calls++
		return transient
	}

	_, err := ExecuteWithRetry(context.Background(), "builder_call", fn,
		DefaultRetryConfig(), noWait(&waits), nil)

	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if !errors.Is(err, transient) {
		t.Errorf("exhaustion error should wrap the last failure: %v", err)
	}
	if calls != 2 { // initial + 1 retry
		t.Errorf("expected 2 calls with MaxRetries=1, got %d", calls)
	}
}

func TestBackoffCalculation(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        8 * time.Second,
		BackoffMultiplier: 2.0,
	}
	expect := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	for i, want := range expect {
		if got := Backoff(i, cfg); got != want {
			t.Errorf("Backoff(%d): expected %v, got %v", i, want, got)
		}
	}
}

func TestWaitHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Wait(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCircuitBreakerOpensAndProbes(t *testing.T) {
	cb := NewCircuitBreaker(2, 1, 10*time.Millisecond)

	if err := cb.Allow(); err != nil {
		t.Fatalf("closed circuit should allow: %v", err)
	}
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != CircuitOpen {
		t.Fatalf("expected OPEN after threshold, got %s", cb.State())
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("open circuit should fail fast, got %v", err)
	}

	time.Sleep(15 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("expired open circuit should half-open: %v", err)
	}
	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Errorf("expected CLOSED after probe success, got %s", cb.State())
	}
}

func TestRetryBlockedByOpenBreaker(t *testing.T) {
	cb := NewCircuitBreaker(1, 1, time.Hour)
	cb.RecordFailure()

	calls := 0
	fn := func(ctx context.Context) error {
		calls++
		return nil
	}

	_, err := ExecuteWithRetry(context.Background(), "builder_call", fn,
		DefaultRetryConfig(), WaitBlocking, cb)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 0 {
		t.Errorf("open breaker must block the call, got %d calls", calls)
	}

	// The blocked-call error must classify transient so the caller defers the
	// attempt instead of aborting the phase.
	if got := Classify(err); got != ClassTransient {
		t.Errorf("breaker-blocked error should classify transient, got %s", got)
	}
}

func TestDefaultCircuitBreakerStartsClosed(t *testing.T) {
	cb := DefaultCircuitBreaker()
	if cb.State() != CircuitClosed {
		t.Fatalf("expected CLOSED, got %s", cb.State())
	}
	if err := cb.Allow(); err != nil {
		t.Errorf("default breaker should allow calls, got %v", err)
	}
}
