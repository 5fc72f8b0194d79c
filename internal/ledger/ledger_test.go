package ledger

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/useVega/vega-protocol/internal/money"
	"github.com/useVega/vega-protocol/internal/xerrors"
)

func idgenSeq() func() string {
	var n int64
	return func() string {
		return fmt.Sprintf("res-%d", atomic.AddInt64(&n, 1))
	}
}

// TestReserveThenReleaseRefundsUnspent exercises scenario 4: balance 10,
// maxBudget 5, cost 2 -> balance settles at 8 with the reservation released.
func TestReserveThenReleaseRefundsUnspent(t *testing.T) {
	l := New(idgenSeq())
	require.NoError(t, l.Credit("w1", "USDC", money.Atomic(10)))

	_, err := l.Reserve("run1", "w1", money.Atomic(5), "USDC", "base")
	require.NoError(t, err)
	assert.Equal(t, money.Atomic(5), l.Balance("w1", "USDC"))

	res, err := l.Release("run1", money.Atomic(2))
	require.NoError(t, err)
	assert.Equal(t, ReservationReleased, res.Status)
	assert.Equal(t, money.Atomic(8), l.Balance("w1", "USDC"))
}

// TestReserveFailsOnInsufficientBalance exercises scenario 5.
func TestReserveFailsOnInsufficientBalance(t *testing.T) {
	l := New(idgenSeq())
	require.NoError(t, l.Credit("w1", "USDC", money.Atomic(3)))

	_, err := l.Reserve("run1", "w1", money.Atomic(5), "USDC", "base")
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInsufficientBudget, xerrors.CodeOf(err))
	assert.Equal(t, money.Atomic(3), l.Balance("w1", "USDC"))
}

func TestReserveRejectsSecondLiveReservationForSameRun(t *testing.T) {
	l := New(idgenSeq())
	require.NoError(t, l.Credit("w1", "USDC", money.Atomic(10)))

	_, err := l.Reserve("run1", "w1", money.Atomic(5), "USDC", "base")
	require.NoError(t, err)

	_, err = l.Reserve("run1", "w1", money.Atomic(1), "USDC", "base")
	require.Error(t, err)
}

func TestSettleConsumesReservationWithNoRefund(t *testing.T) {
	l := New(idgenSeq())
	require.NoError(t, l.Credit("w1", "USDC", money.Atomic(10)))

	_, err := l.Reserve("run1", "w1", money.Atomic(5), "USDC", "base")
	require.NoError(t, err)

	res, err := l.Settle("run1")
	require.NoError(t, err)
	assert.Equal(t, ReservationSettled, res.Status)
	assert.Equal(t, money.Atomic(5), l.Balance("w1", "USDC"))
}

// TestConcurrentReservesNeverOverdraw is the BudgetLedger safety invariant:
// for all interleavings of concurrent reserve calls against the same
// wallet, the sum of reserved amounts never exceeds the starting balance.
func TestConcurrentReservesNeverOverdraw(t *testing.T) {
	l := New(idgenSeq())
	require.NoError(t, l.Credit("w1", "USDC", money.Atomic(100)))

	const attempts = 50
	var wg sync.WaitGroup
	var succeeded int64

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Reserve(fmt.Sprintf("run-%d", i), "w1", money.Atomic(10), "USDC", "base")
			if err == nil {
				atomic.AddInt64(&succeeded, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, succeeded, int64(10))
	assert.GreaterOrEqual(t, l.Balance("w1", "USDC"), money.Atomic(0))
	assert.Equal(t, money.Atomic(100-10*succeeded), l.Balance("w1", "USDC"))
}
