package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		Randomization: 0,
	}
}

func TestDo_SucceedsOnFourthAttempt(t *testing.T) {
	recoverable := errors.New("timeout")
	attempts := 0

	err := Do(context.Background(), fastPolicy(), func(error) bool { return true }, func(context.Context) error {
		attempts++
		if attempts < 4 {
			return recoverable
		}
		return nil
	})

	require.NoError(t, err)
	// Retry ceiling is 4 attempts, not 3.
	assert.Equal(t, 4, attempts)
}

func TestDo_ExhaustsAfterFourAttempts(t *testing.T) {
	recoverable := errors.New("timeout")
	attempts := 0

	err := Do(context.Background(), fastPolicy(), func(error) bool { return true }, func(context.Context) error {
		attempts++
		return recoverable
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, recoverable)
	assert.Equal(t, 4, attempts)
}

func TestDo_NonRecoverableShortCircuits(t *testing.T) {
	permanent := errors.New("400 bad request")
	attempts := 0

	err := Do(context.Background(), fastPolicy(), func(error) bool { return false }, func(context.Context) error {
		attempts++
		return permanent
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestDo_ContextCancellationStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	err := Do(ctx, fastPolicy(), func(error) bool { return true }, func(context.Context) error {
		attempts++
		cancel()
		return errors.New("timeout")
	})

	require.Error(t, err)
	assert.LessOrEqual(t, attempts, 2)
}

func TestDo_NilClassifierRetriesEverything(t *testing.T) {
	attempts := 0

	err := Do(context.Background(), fastPolicy(), nil, func(context.Context) error {
		attempts++
		if attempts == 2 {
			return nil
		}
		return errors.New("any error")
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}
