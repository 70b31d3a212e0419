// Package sched provides the monotonic timer service used by the runtime
// for ask timeouts, supervision backoff, heartbeats, and reconnect delays.
// A single min-heap keyed by due time feeds a dedicated worker goroutine
// that hands due tasks to an executor; wall-clock jumps do not reorder
// tasks because due times come from the runtime's monotonic clock.
package sched

import (
	"container/heap"
	"sync"
	"time"
)

// Task is a unit of work submitted to the scheduler's executor when its due
// time arrives.
type Task func()

// Timer is the cancellation handle returned by ScheduleOnce and
// ScheduleRepeat.
type Timer struct {
	mu        sync.Mutex
	cancelled bool
}

// Cancel stops the timer. Cancelling is idempotent; a periodic task stops
// firing after the current tick, and a one-shot task that has not fired yet
// never will.
func (t *Timer) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
}

// isCancelled reports whether Cancel was called.
func (t *Timer) isCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.cancelled
}

// entry is one scheduled task in the heap.
type entry struct {
	due    time.Time
	period time.Duration
	task   Task
	timer  *Timer
	index  int
}

// taskHeap implements container/heap ordered by due time.
type taskHeap []*entry

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool { return h[i].due.Before(h[j].due) }

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]

	return e
}

// Scheduler owns the timer heap and its worker goroutine. Due tasks are
// submitted to the executor, never run on the worker itself, so a slow task
// cannot delay later timers.
type Scheduler struct {
	mu      sync.Mutex
	heap    taskHeap
	wake    chan struct{}
	stopped bool

	executor func(func())
	wg       sync.WaitGroup
}

// New creates a scheduler whose due tasks run on the given executor. A nil
// executor runs tasks on their own goroutine.
func New(executor func(func())) *Scheduler {
	if executor == nil {
		executor = func(task func()) { go task() }
	}

	s := &Scheduler{
		wake:     make(chan struct{}, 1),
		executor: executor,
	}

	s.wg.Add(1)
	go s.run()

	return s
}

// ScheduleOnce runs the task once after the given delay.
func (s *Scheduler) ScheduleOnce(delay time.Duration, task Task) *Timer {
	return s.schedule(delay, 0, task)
}

// ScheduleRepeat runs the task after the initial delay and then every
// period until cancelled.
func (s *Scheduler) ScheduleRepeat(initial, period time.Duration,
	task Task) *Timer {

	if period <= 0 {
		return s.ScheduleOnce(initial, task)
	}

	return s.schedule(initial, period, task)
}

func (s *Scheduler) schedule(delay, period time.Duration,
	task Task) *Timer {

	timer := &Timer{}
	e := &entry{
		due:    time.Now().Add(delay),
		period: period,
		task:   task,
		timer:  timer,
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		timer.Cancel()

		return timer
	}
	heap.Push(&s.heap, e)
	s.mu.Unlock()

	s.kick()

	return timer
}

// kick nudges the worker to re-evaluate its wait deadline.
func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run is the worker loop: sleep until the earliest due time, pop everything
// due, hand tasks to the executor, and requeue periodic entries.
func (s *Scheduler) run() {
	defer s.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}

		now := time.Now()
		for s.heap.Len() > 0 && !s.heap[0].due.After(now) {
			e := heap.Pop(&s.heap).(*entry)
			if e.timer.isCancelled() {
				continue
			}

			s.executor(e.task)

			if e.period > 0 {
				e.due = now.Add(e.period)
				heap.Push(&s.heap, e)
			}
		}

		var wait time.Duration = time.Hour
		if s.heap.Len() > 0 {
			wait = time.Until(s.heap[0].due)
			if wait < 0 {
				wait = 0
			}
		}
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-timer.C:
		case <-s.wake:
		}
	}
}

// Stop terminates the worker. Pending tasks never fire; outstanding timers
// behave as if cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	dropped := s.heap.Len()
	s.stopped = true
	s.heap = nil
	s.mu.Unlock()

	s.kick()
	s.wg.Wait()

	log.Debugf("Scheduler stopped, %d pending tasks dropped", dropped)
}
