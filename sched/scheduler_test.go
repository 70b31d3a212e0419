package sched

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestScheduleOnce tests that a one-shot task fires once after its delay.
func TestScheduleOnce(t *testing.T) {
	t.Parallel()

	s := New(nil)
	defer s.Stop()

	var fired atomic.Int32
	start := time.Now()
	done := make(chan struct{})

	s.ScheduleOnce(30*time.Millisecond, func() {
		fired.Add(1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task never fired")
	}

	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	// Give a would-be duplicate time to fire, then confirm exactly one.
	time.Sleep(60 * time.Millisecond)
	require.EqualValues(t, 1, fired.Load())
}

// TestScheduleOnceCancel tests that cancelling before the due time
// suppresses the task, and that cancel is idempotent.
func TestScheduleOnceCancel(t *testing.T) {
	t.Parallel()

	s := New(nil)
	defer s.Stop()

	var fired atomic.Int32
	timer := s.ScheduleOnce(50*time.Millisecond, func() {
		fired.Add(1)
	})

	timer.Cancel()
	timer.Cancel()

	time.Sleep(120 * time.Millisecond)
	require.EqualValues(t, 0, fired.Load())
}

// TestScheduleRepeat tests periodic firing and cancellation.
func TestScheduleRepeat(t *testing.T) {
	t.Parallel()

	s := New(nil)
	defer s.Stop()

	var fired atomic.Int32
	timer := s.ScheduleRepeat(
		10*time.Millisecond, 10*time.Millisecond,
		func() { fired.Add(1) },
	)

	require.Eventually(t, func() bool {
		return fired.Load() >= 3
	}, 5*time.Second, time.Millisecond)

	timer.Cancel()
	settled := fired.Load()

	time.Sleep(50 * time.Millisecond)
	require.LessOrEqual(t, fired.Load(), settled+1,
		"periodic task kept firing after cancel")
}

// TestScheduleOrdering tests that tasks fire in due-time order even when
// scheduled out of order.
func TestScheduleOrdering(t *testing.T) {
	t.Parallel()

	// A single-goroutine executor preserves submission order.
	var (
		mu    sync.Mutex
		order []string
	)
	tasks := make(chan func(), 8)
	go func() {
		for task := range tasks {
			task()
		}
	}()

	s := New(func(task func()) { tasks <- task })
	defer s.Stop()

	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	s.ScheduleOnce(80*time.Millisecond, record("late"))
	s.ScheduleOnce(20*time.Millisecond, record("early"))
	s.ScheduleOnce(50*time.Millisecond, record("middle"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(order) == 3
	}, 5*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"early", "middle", "late"}, order)
}

// TestSchedulerStopDropsPending tests that Stop suppresses tasks that have
// not come due.
func TestSchedulerStopDropsPending(t *testing.T) {
	t.Parallel()

	s := New(nil)

	var fired atomic.Int32
	s.ScheduleOnce(100*time.Millisecond, func() { fired.Add(1) })

	s.Stop()

	time.Sleep(150 * time.Millisecond)
	require.EqualValues(t, 0, fired.Load())

	// Scheduling after Stop returns an already-cancelled timer and the
	// task never runs.
	s.ScheduleOnce(time.Millisecond, func() { fired.Add(1) })
	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 0, fired.Load())
}
