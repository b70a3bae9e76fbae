package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:  attempts,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetryer_SucceedsFirstTry(t *testing.T) {
	r := New(fastPolicy(3), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryer_RetryThenSuccess(t *testing.T) {
	r := New(fastPolicy(3), zap.NewNop())

	calls := 0
	got, err := Do(context.Background(), r, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", WrapRetryable(errors.New("timeout"))
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestRetryer_ExhaustsBudget(t *testing.T) {
	r := New(fastPolicy(3), zap.NewNop())
	cause := errors.New("connection refused")

	calls := 0
	var retried []int
	r.policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		retried = append(retried, attempt)
	}

	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return WrapRetryable(cause)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{2, 3}, retried)
}

func TestRetryer_NonRetryableStopsImmediately(t *testing.T) {
	r := New(fastPolicy(3), zap.NewNop())
	cause := errors.New("bad request")

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return cause
	})

	assert.Equal(t, cause, err)
	assert.Equal(t, 1, calls)
}

func TestRetryer_CustomClassifier(t *testing.T) {
	sentinel := errors.New("transient")
	p := fastPolicy(2)
	p.ShouldRetry = func(err error) bool { return errors.Is(err, sentinel) }
	r := New(p, nil)

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return sentinel
	})

	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 2, calls)
}

func TestRetryer_ContextCancelledDuringBackoff(t *testing.T) {
	p := fastPolicy(5)
	p.InitialDelay = time.Second
	p.MaxDelay = time.Second
	r := New(p, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- r.Do(ctx, func(ctx context.Context) error {
			calls++
			return WrapRetryable(errors.New("timeout"))
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestRetryer_DelayIsCapped(t *testing.T) {
	r := New(Policy{
		MaxAttempts:  10,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}, nil)

	assert.Equal(t, 1*time.Second, r.Delay(1))
	assert.Equal(t, 2*time.Second, r.Delay(2))
	assert.Equal(t, 4*time.Second, r.Delay(3))
	assert.Equal(t, 8*time.Second, r.Delay(4))
	assert.Equal(t, 10*time.Second, r.Delay(5))
	assert.Equal(t, 10*time.Second, r.Delay(9))
}

func TestRetryer_JitterStaysInBounds(t *testing.T) {
	r := New(Policy{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}, nil)

	for i := 0; i < 100; i++ {
		for n := 1; n <= 6; n++ {
			d := r.Delay(n)
			assert.GreaterOrEqual(t, d, 100*time.Millisecond)
			assert.LessOrEqual(t, d, time.Second)
		}
	}
}

func TestNew_NormalizesPolicy(t *testing.T) {
	r := New(Policy{MaxAttempts: -1, Multiplier: 0.5}, nil)
	p := r.Policy()

	assert.Equal(t, 1, p.MaxAttempts)
	assert.Equal(t, DefaultPolicy().InitialDelay, p.InitialDelay)
	assert.Equal(t, DefaultPolicy().MaxDelay, p.MaxDelay)
	assert.Equal(t, 2.0, p.Multiplier)
	assert.NotNil(t, p.ShouldRetry)
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 10*time.Second, p.MaxDelay)
}
