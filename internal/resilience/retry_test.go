package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errFatal = errors.New("fatal")

func TestRetry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		failures  []error
		retryable func(error) bool
		wantCalls int
		wantErr   error
	}{
		{name: "first attempt succeeds", wantCalls: 1},
		{name: "succeeds on last attempt", failures: []error{errTest, errTest}, wantCalls: 3},
		{name: "attempts exhausted", failures: []error{errTest, errTest, errTest, errTest}, wantCalls: 3, wantErr: errTest},
		{
			name:      "non-retryable stops",
			failures:  []error{errFatal, errTest},
			retryable: func(err error) bool { return !errors.Is(err, errFatal) },
			wantCalls: 1,
			wantErr:   errFatal,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			calls := 0
			err := Retry(context.Background(), RetryConfig{
				Name:      "test",
				Attempts:  3,
				Delay:     time.Millisecond,
				Retryable: tc.retryable,
			}, func(context.Context) error {
				calls++
				if calls <= len(tc.failures) {
					return tc.failures[calls-1]
				}
				return nil
			})
			if calls != tc.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tc.wantCalls)
			}
			if !errors.Is(err, tc.wantErr) || (tc.wantErr == nil && err != nil) {
				t.Errorf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestRetry_ContextCancelledDuringDelay(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	start := time.Now()
	err := Retry(ctx, RetryConfig{Attempts: 5, Delay: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return errTest
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if time.Since(start) > time.Second {
		t.Error("Retry waited out the delay after cancellation")
	}
}

func TestRetry_Defaults(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A cancelled context returns before the first call.
	calls := 0
	err := Retry(ctx, RetryConfig{}, func(context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) || calls != 0 {
		t.Errorf("Retry = %v after %d calls, want context.Canceled after 0", err, calls)
	}
}
