package budget

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterBurstThenBlocks(t *testing.T) {
	l := NewLimiter(1000, 3)
	ctx := context.Background()

	for range 3 {
		require.NoError(t, l.Acquire(ctx))
	}

	// Fourth acquire must wait for a refill, which at 1000 rps is ~1ms.
	start := time.Now()
	require.NoError(t, l.Acquire(ctx))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestLimiterZeroRateBlocksUntilCancel(t *testing.T) {
	l := NewLimiter(0, 1)
	require.NoError(t, l.Acquire(context.Background()), "burst token is available")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second, "cancellation returns promptly")
	assert.Zero(t, l.Waiting(), "cancelled waiter is removed from the queue")
}

func TestLimiterFIFOOrder(t *testing.T) {
	l := NewLimiter(200, 1)
	require.NoError(t, l.Acquire(context.Background())) // drain the burst

	const n = 8
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Stagger arrivals so queue order is deterministic.
			time.Sleep(time.Duration(i) * 2 * time.Millisecond)
			assert.NoError(t, l.Acquire(context.Background()))
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	require.Len(t, order, n)
	assert.IsNonDecreasing(t, order, "waiters wake in arrival order")
}

func TestLedgerReserveCommitRelease(t *testing.T) {
	l := NewLedger(1.00)

	r1, err := l.Reserve(0.60)
	require.NoError(t, err)

	_, err = l.Reserve(0.50)
	require.ErrorIs(t, err, ErrExceeded, "reserved amounts count against the budget")

	r1.Release()
	r2, err := l.Reserve(0.50)
	require.NoError(t, err)
	r2.Commit(0.40, 1000, 200)

	stats := l.Stats()
	assert.InDelta(t, 0.40, stats.SpentUSD, 1e-9)
	assert.EqualValues(t, 1, stats.Requests)
	assert.EqualValues(t, 1000, stats.TokensIn)
	assert.EqualValues(t, 200, stats.TokensOut)
	assert.False(t, stats.StartedAt.IsZero())
}

func TestLedgerZeroBudgetRejectsFirstReservation(t *testing.T) {
	l := NewLedger(0)
	_, err := l.Reserve(0.02)
	assert.ErrorIs(t, err, ErrExceeded, "a zero budget admits no spend at all")

	l = NewLedger(0.0000001)
	_, err = l.Reserve(0.02)
	assert.ErrorIs(t, err, ErrExceeded)
}

func TestLedgerUnlimitedWhenNegativeBudget(t *testing.T) {
	l := NewLedger(-1)
	r, err := l.Reserve(1e6)
	require.NoError(t, err)
	r.Commit(1e6, 0, 0)
	assert.InDelta(t, 1e6, l.SpentUSD(), 1e-3)
}

func TestReservationDoubleSettleIsNoop(t *testing.T) {
	l := NewLedger(1)
	r, err := l.Reserve(0.5)
	require.NoError(t, err)
	r.Commit(0.3, 10, 10)
	r.Release() // already settled; must not corrupt the ledger
	r.Commit(0.3, 10, 10)

	stats := l.Stats()
	assert.InDelta(t, 0.3, stats.SpentUSD, 1e-9)
	assert.EqualValues(t, 1, stats.Requests)
}
