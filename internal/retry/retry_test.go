package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	val, err := Do(context.Background(), Default(), func(ctx context.Context, attempt int) (string, error) {
		calls++
		if attempt < 3 {
			return "", fmt.Errorf("attempt %d failed", attempt)
		}
		return "third", nil
	})
	require.NoError(t, err)
	require.Equal(t, "third", val)
	require.Equal(t, 3, calls)
}

func TestDoReturnsLastError(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{Attempts: 3}, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, fmt.Errorf("failure %d", attempt)
	})
	require.EqualError(t, err, "failure 3")
	require.Equal(t, 3, calls)
}

func TestDoZeroAttemptsUsesDefault(t *testing.T) {
	calls := 0
	_, _ = Do(context.Background(), Policy{}, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, errors.New("nope")
	})
	require.Equal(t, DefaultAttempts, calls)
}

func TestDoBackoff(t *testing.T) {
	start := time.Now()
	_, err := Do(context.Background(), Policy{Attempts: 3, Backoff: 10 * time.Millisecond, Jitter: time.Millisecond}, func(ctx context.Context, attempt int) (int, error) {
		return 0, errors.New("nope")
	})
	require.Error(t, err)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Policy{Attempts: 5, Backoff: time.Hour}, func(ctx context.Context, attempt int) (int, error) {
		calls++
		cancel()
		return 0, errors.New("first")
	})
	require.EqualError(t, err, "first")
	require.Equal(t, 1, calls)
}
