package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func retryOnlyConfig(attempts int) Config {
	return Config{
		RetryMaxAttempts:    attempts,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	}
}

func alwaysRetry(error) ErrorClassification {
	return ErrorClassification{Retryable: true, RecordFailure: true}
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	exec := NewExecutor(retryOnlyConfig(3))

	calls := 0
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	}, alwaysRetry)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestExecuteStopsOnNonRetryable(t *testing.T) {
	exec := NewExecutor(retryOnlyConfig(3))

	calls := 0
	errPermanent := errors.New("permanent")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		calls++
		return errPermanent
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: false, RecordFailure: false}
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected single call, got %d", calls)
	}
}

func TestExecuteReturnsLastErrorWhenAttemptsExhausted(t *testing.T) {
	exec := NewExecutor(retryOnlyConfig(2))

	errFlaky := errors.New("still failing")
	calls := 0
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		calls++
		return errFlaky
	}, alwaysRetry)
	if !errors.Is(err, errFlaky) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestExecuteStopsWhenContextCanceled(t *testing.T) {
	exec := NewExecutor(retryOnlyConfig(5))

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	errFlaky := errors.New("flaky")
	err := exec.Execute(ctx, "op", func(context.Context) error {
		calls++
		cancel()
		return errFlaky
	}, alwaysRetry)
	if !errors.Is(err, errFlaky) {
		t.Fatalf("expected last call error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("cancel should stop further attempts, got %d calls", calls)
	}
}

func TestExecuteOpensBreakerPerOperation(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     time.Millisecond,
		RetryMaxBackoff:         time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	})

	errDown := errors.New("down")
	classifier := func(error) ErrorClassification {
		return ErrorClassification{Retryable: false, RecordFailure: true}
	}

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "flaky-op", func(context.Context) error {
			return errDown
		}, classifier)
		if !errors.Is(err, errDown) {
			t.Fatalf("iteration %d: expected down error, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "flaky-op", func(context.Context) error {
		t.Fatal("open breaker must not call the operation")
		return nil
	}, classifier)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
	if !IsCircuitOpen(err) {
		t.Fatal("IsCircuitOpen should report the open breaker")
	}

	// A different operation name gets its own breaker.
	if err := exec.Execute(context.Background(), "healthy-op", func(context.Context) error {
		return nil
	}, classifier); err != nil {
		t.Fatalf("healthy operation should not share the open breaker: %v", err)
	}
}

func TestExecuteBreakerIgnoresUnrecordedFailures(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    1,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      true,
		BreakerMinRequests:  2,
		BreakerFailureRatio: 0.5,
		BreakerOpenTimeout:  50 * time.Millisecond,
	})

	errBusiness := errors.New("validation failed")
	classifier := func(error) ErrorClassification {
		return ErrorClassification{Retryable: false, RecordFailure: false}
	}

	for i := 0; i < 5; i++ {
		err := exec.Execute(context.Background(), "op", func(context.Context) error {
			return errBusiness
		}, classifier)
		if !errors.Is(err, errBusiness) {
			t.Fatalf("iteration %d: expected business error, got %v", i, err)
		}
	}
}
