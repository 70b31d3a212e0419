package actor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// TestPromiseCompleteOnce tests that a promise is single-assignment: only
// the first completion wins.
func TestPromiseCompleteOnce(t *testing.T) {
	t.Parallel()

	promise := NewPromise[int]()

	require.True(t, promise.Complete(fn.Ok(1)))
	require.False(t, promise.Complete(fn.Ok(2)))
	require.False(t, promise.Cancel())

	val, err := promise.Future().Await(context.Background()).Unpack()
	require.NoError(t, err)
	require.Equal(t, 1, val)
}

// TestFutureAwaitTimeout tests that AwaitTimeout fails with ErrAskTimeout
// when the promise is never completed.
func TestFutureAwaitTimeout(t *testing.T) {
	t.Parallel()

	promise := NewPromise[int]()

	_, err := promise.Future().AwaitTimeout(20 * time.Millisecond).Unpack()
	require.ErrorIs(t, err, ErrAskTimeout)
}

// TestFutureCallbackOrder tests that completion callbacks run in
// registration order.
func TestFutureCallbackOrder(t *testing.T) {
	t.Parallel()

	promise := NewPromise[string]()
	future := promise.Future()

	var (
		mu    sync.Mutex
		order []int
		done  = make(chan struct{})
	)
	for i := 0; i < 5; i++ {
		i := i
		future.OnComplete(func(fn.Result[string]) {
			mu.Lock()
			order = append(order, i)
			if len(order) == 5 {
				close(done)
			}
			mu.Unlock()
		})
	}

	promise.Complete(fn.Ok("done"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callbacks did not run")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

// TestFutureOnCancel tests that OnCancel fires only for cancellation.
func TestFutureOnCancel(t *testing.T) {
	t.Parallel()

	cancelled := NewPromise[int]()
	fired := make(chan struct{})
	cancelled.Future().OnCancel(func() { close(fired) })

	require.True(t, cancelled.Cancel())

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("OnCancel did not fire")
	}

	// A successful completion must not trigger OnCancel.
	completed := NewPromise[int]()
	var ranOnCancel bool
	completed.Future().OnCancel(func() { ranOnCancel = true })
	completed.Complete(fn.Ok(7))

	_, err := completed.Future().Await(context.Background()).Unpack()
	require.NoError(t, err)
	require.False(t, ranOnCancel)
}

// TestFutureThenApply tests result transformation through ThenApply.
func TestFutureThenApply(t *testing.T) {
	t.Parallel()

	promise := NewPromise[int]()
	doubled := promise.Future().ThenApply(
		context.Background(), func(v int) int { return v * 2 },
	)

	promise.Complete(fn.Ok(21))

	val, err := doubled.Await(context.Background()).Unpack()
	require.NoError(t, err)
	require.Equal(t, 42, val)
}

// TestFutureLateOnComplete tests that a callback registered after
// completion still fires with the stored result.
func TestFutureLateOnComplete(t *testing.T) {
	t.Parallel()

	promise := NewPromise[int]()
	promise.Complete(fn.Ok(9))

	got := make(chan int, 1)
	promise.Future().OnComplete(func(res fn.Result[int]) {
		val, _ := res.Unpack()
		got <- val
	})

	select {
	case val := <-got:
		require.Equal(t, 9, val)
	case <-time.After(time.Second):
		t.Fatal("late callback did not run")
	}
}
