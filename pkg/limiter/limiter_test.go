package limiter_test

import (
	"context"
	"testing"
	"time"

	"wbscanner/pkg/limiter"

	"github.com/stretchr/testify/require"
)

func TestReservoirStartsFull(t *testing.T) {
	r := limiter.NewReservoir(limiter.Options{
		Capacity:       3,
		RefillAmount:   3,
		RefillInterval: time.Hour,
	})

	require.Equal(t, 3, r.Tokens())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Acquire(ctx))
	}
	require.Zero(t, r.Tokens())
}

func TestReservoirBlocksUntilRefill(t *testing.T) {
	r := limiter.NewReservoir(limiter.Options{
		Capacity:       1,
		RefillAmount:   1,
		RefillInterval: 30 * time.Millisecond,
	})

	ctx := context.Background()
	require.NoError(t, r.Acquire(ctx))

	start := time.Now()
	require.NoError(t, r.Acquire(ctx))
	require.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestReservoirRefillCappedAtCapacity(t *testing.T) {
	r := limiter.NewReservoir(limiter.Options{
		Capacity:       2,
		RefillAmount:   5,
		RefillInterval: 10 * time.Millisecond,
	})

	require.NoError(t, r.Acquire(context.Background()))
	time.Sleep(50 * time.Millisecond)

	require.Equal(t, 2, r.Tokens())
}

func TestReservoirAbandonsOnCancel(t *testing.T) {
	r := limiter.NewReservoir(limiter.Options{
		Capacity:       1,
		RefillAmount:   1,
		RefillInterval: time.Hour,
	})

	require.NoError(t, r.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := r.Acquire(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// the abandoned acquisition did not consume the next token
	time.Sleep(5 * time.Millisecond)
	require.Zero(t, r.Tokens())
}

func TestReservoirDefaults(t *testing.T) {
	r := limiter.NewReservoir(limiter.Options{})

	require.Equal(t, 1, r.Tokens())
	require.NoError(t, r.Acquire(context.Background()))
}
