package actor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// Future represents the result of an asynchronous computation. It allows
// consumers to wait for the result (Await), apply transformations upon
// completion (ThenApply), or register a callback to be executed when the
// result is available (OnComplete).
type Future[T any] interface {
	// Await blocks until the result is available or the context is
	// cancelled, then returns it.
	Await(ctx context.Context) fn.Result[T]

	// AwaitTimeout blocks for at most the given duration. If the future
	// has not completed by then, an ErrAskTimeout result is returned.
	AwaitTimeout(timeout time.Duration) fn.Result[T]

	// ThenApply registers a function to transform the result of a
	// future. The original future is not modified, a new instance of the
	// future is returned. If the passed context is cancelled while
	// waiting for the original future to complete, the new future will
	// complete with the context's error.
	ThenApply(ctx context.Context, fn func(T) T) Future[T]

	// OnComplete registers a function to be called when the result of
	// the future is ready. Callbacks run in registration order. If the
	// future is already complete, the callback fires immediately.
	OnComplete(fn func(fn.Result[T]))

	// OnCancel registers a function to be called only if the future is
	// cancelled before completing.
	OnCancel(fn func())
}

// Promise is an interface that allows for the completion of an associated
// Future. The producer of an asynchronous result uses a Promise to set the
// outcome, while consumers use the associated Future to retrieve it.
type Promise[T any] interface {
	// Future returns the Future interface associated with this Promise.
	Future() Future[T]

	// Complete attempts to set the result of the future. It returns true
	// if this call successfully set the result (i.e., it was the first
	// to complete it), and false if the future had already been
	// completed.
	Complete(result fn.Result[T]) bool

	// Cancel attempts to complete the future with ErrCancelled. It
	// returns true if this call cancelled the future.
	Cancel() bool
}

// promise is the single-assignment cell backing both the Promise and Future
// interfaces. Completion callbacks are dispatched through the configured
// executor in registration order.
type promise[T any] struct {
	mu        sync.Mutex
	completed bool
	result    fn.Result[T]
	done      chan struct{}
	callbacks []func(fn.Result[T])

	// executor runs completion callbacks. The zero value runs them on
	// the completing goroutine.
	executor func(func())
}

// NewPromise creates a promise whose callbacks run on the completing
// goroutine.
func NewPromise[T any]() Promise[T] {
	return newPromise[T](nil)
}

// NewPromiseOn creates a promise whose callbacks are submitted to the given
// executor, typically a system's default dispatcher.
func NewPromiseOn[T any](executor func(func())) Promise[T] {
	return newPromise[T](executor)
}

func newPromise[T any](executor func(func())) *promise[T] {
	if executor == nil {
		executor = func(task func()) { task() }
	}

	return &promise[T]{
		done:     make(chan struct{}),
		executor: executor,
	}
}

// Complete attempts to set the result of the future.
func (p *promise[T]) Complete(result fn.Result[T]) bool {
	p.mu.Lock()
	if p.completed {
		p.mu.Unlock()
		return false
	}

	p.completed = true
	p.result = result
	callbacks := p.callbacks
	p.callbacks = nil
	close(p.done)
	p.mu.Unlock()

	if len(callbacks) > 0 {
		// A single executor task preserves registration order among
		// the callbacks.
		p.executor(func() {
			for _, cb := range callbacks {
				cb(result)
			}
		})
	}

	return true
}

// Cancel attempts to complete the future with ErrCancelled.
func (p *promise[T]) Cancel() bool {
	return p.Complete(fn.Err[T](ErrCancelled))
}

// Future returns the Future view of this promise.
func (p *promise[T]) Future() Future[T] {
	return p
}

// Await blocks until the result is available or the context is cancelled.
func (p *promise[T]) Await(ctx context.Context) fn.Result[T] {
	select {
	case <-p.done:
		return p.result

	case <-ctx.Done():
		return fn.Err[T](ctx.Err())
	}
}

// AwaitTimeout blocks for at most the given duration.
func (p *promise[T]) AwaitTimeout(timeout time.Duration) fn.Result[T] {
	select {
	case <-p.done:
		return p.result

	case <-time.After(timeout):
		return fn.Err[T](ErrAskTimeout)
	}
}

// OnComplete registers a completion callback.
func (p *promise[T]) OnComplete(cb func(fn.Result[T])) {
	p.mu.Lock()
	if !p.completed {
		p.callbacks = append(p.callbacks, cb)
		p.mu.Unlock()
		return
	}
	result := p.result
	p.mu.Unlock()

	p.executor(func() { cb(result) })
}

// OnCancel registers a callback invoked only when the future is cancelled.
func (p *promise[T]) OnCancel(cb func()) {
	p.OnComplete(func(res fn.Result[T]) {
		if _, err := res.Unpack(); errors.Is(err, ErrCancelled) {
			cb()
		}
	})
}

// ThenApply registers a function to transform the result of the future,
// producing a new future.
func (p *promise[T]) ThenApply(ctx context.Context,
	apply func(T) T) Future[T] {

	next := newPromise[T](p.executor)

	go func() {
		res := p.Await(ctx)
		val, err := res.Unpack()
		if err != nil {
			next.Complete(fn.Err[T](err))
			return
		}

		next.Complete(fn.Ok(apply(val)))
	}()

	return next
}
