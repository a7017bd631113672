package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"judgehub/internal/judge/service"
	appErr "judgehub/pkg/errors"
)

func TestComputeBackoff(t *testing.T) {
	base := 50 * time.Millisecond
	max := 300 * time.Millisecond
	cases := []struct {
		retry int
		want  time.Duration
	}{
		{0, 50 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 300 * time.Millisecond},
		{10, 300 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := service.ComputeBackoff(tc.retry, base, max); got != tc.want {
			t.Errorf("retry %d: got %v, want %v", tc.retry, got, tc.want)
		}
	}
	if got := service.ComputeBackoff(3, 0, max); got != 0 {
		t.Errorf("zero base must disable backoff, got %v", got)
	}
}

func TestRetryPolicyRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	attempts := 0
	policy := service.RetryPolicy{MaxAttempts: 4}
	err := policy.Do(context.Background(), "step", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || attempts != 3 {
		t.Fatalf("expected success on third attempt, got %d attempts (%v)", attempts, err)
	}
}

func TestRetryPolicyExhaustion(t *testing.T) {
	t.Parallel()
	attempts := 0
	policy := service.RetryPolicy{MaxAttempts: 2}
	err := policy.Do(context.Background(), "step", func(ctx context.Context) error {
		attempts++
		return errors.New("down")
	})
	if !appErr.Is(err, appErr.PropagationFailed) {
		t.Fatalf("expected PropagationFailed, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryPolicySkipsValidationErrors(t *testing.T) {
	t.Parallel()
	attempts := 0
	policy := service.RetryPolicy{MaxAttempts: 5}
	_ = policy.Do(context.Background(), "step", func(ctx context.Context) error {
		attempts++
		return appErr.ValidationError("rid", "required")
	})
	if attempts != 1 {
		t.Fatalf("validation errors must not be retried, got %d attempts", attempts)
	}
}

func TestRetryPolicyStopsOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := service.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour}
	err := policy.Do(ctx, "step", func(ctx context.Context) error { return errors.New("down") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
