package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelaySchedule(t *testing.T) {
	cases := map[int]time.Duration{
		1:  2 * time.Second,
		2:  4 * time.Second,
		3:  8 * time.Second,
		6:  60 * time.Second,
		10: 60 * time.Second,
	}
	for k, want := range cases {
		assert.Equal(t, want, Delay(k), "k=%d", k)
	}
}

func TestDelayClampsBelowOne(t *testing.T) {
	assert.Equal(t, Delay(1), Delay(0))
	assert.Equal(t, Delay(1), Delay(-5))
}

func TestPolicyRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	policy := Policy{
		MaxAttempts: 5,
		Retryable:   func(error) bool { return true },
	}
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestPolicyStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	sentinel := errors.New("fatal")
	policy := Policy{
		MaxAttempts: 5,
		Retryable:   func(err error) bool { return !errors.Is(err, sentinel) },
	}
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempts)
}

func TestPolicyRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := Policy{MaxAttempts: 0, Retryable: func(error) bool { return true }}
	attempts := 0
	err := policy.Do(ctx, func(ctx context.Context) error {
		attempts++
		return errors.New("always fails")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
