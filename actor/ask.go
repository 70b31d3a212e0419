package actor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// DefaultAskTimeout applies when Ask is called with a non-positive timeout.
const DefaultAskTimeout = 10 * time.Second

// Ask sends a message to the target and returns a future for a single typed
// reply. Under the hood a temporary asker (a promise-backed reply sink that
// stands in for an anonymous actor) rides along as the message's sender;
// the target replies through Context.Reply. The future fails with
// ErrAskTimeout if no reply arrives in time, and with ErrAskFailed if the
// reply is not assignable to R.
func Ask[M Message, R any](ctx context.Context, target ActorRef[M], msg M,
	timeout time.Duration) Future[R] {

	if timeout <= 0 {
		timeout = DefaultAskTimeout
	}

	inner := target.AskAny(ctx, msg, timeout)

	typed := NewPromise[R]()
	inner.OnComplete(func(res fn.Result[any]) {
		val, err := res.Unpack()
		if err != nil {
			typed.Complete(fn.Err[R](err))
			return
		}

		reply, ok := val.(R)
		if !ok {
			log.Warnf("Ask reply type mismatch: got %T", val)
			typed.Complete(fn.Err[R](ErrAskFailed))

			return
		}

		typed.Complete(fn.Ok(reply))
	})

	return typed.Future()
}

// AskAwait sends an Ask and blocks until the reply, the timeout, or context
// cancellation, unpacking the result into a value and error.
func AskAwait[M Message, R any](ctx context.Context, target ActorRef[M],
	msg M, timeout time.Duration) (R, error) {

	return Ask[M, R](ctx, target, msg, timeout).Await(ctx).Unpack()
}

// Pipe registers success and failure handlers that transform a future's
// outcome into messages of the target's type and enqueue them. This is the
// sanctioned way to project asynchronous results back into an actor without
// blocking its message loop.
func Pipe[T any, M Message](future Future[T], target ActorRef[M],
	onSuccess func(T) M, onFailure func(error) M) {

	future.OnComplete(func(res fn.Result[T]) {
		val, err := res.Unpack()
		if err != nil {
			if onFailure != nil {
				target.Tell(context.Background(),
					onFailure(err))
			}

			return
		}

		if onSuccess != nil {
			target.Tell(context.Background(), onSuccess(val))
		}
	})
}

// askSink is the temporary asker attached to an outbound ask: it owns the
// promise, its timeout timer, and the shutdown hook that fails pending asks
// when the system terminates.
type askSink struct {
	promise  Promise[any]
	accepted atomic.Bool
	untrack  func()
}

// newAskSink builds a sink whose promise completes on the system's default
// dispatcher, fails after the timeout, and is failed with ErrShutdown when
// the system stops.
func newAskSink(sys *ActorSystem, timeout time.Duration) (*askSink,
	Future[any]) {

	s := &askSink{
		promise: NewPromiseOn[any](sys.execute),
	}

	timer := sys.scheduler.ScheduleOnce(timeout, func() {
		s.failReply(ErrAskTimeout)
	})
	s.untrack = sys.trackAsk(s)

	s.promise.Future().OnComplete(func(fn.Result[any]) {
		timer.Cancel()
		s.untrack()
	})

	return s, s.promise.Future()
}

// deliverReply completes the promise with the reply value.
func (s *askSink) deliverReply(value any) bool {
	if !s.accepted.CompareAndSwap(false, true) {
		return false
	}

	return s.promise.Complete(fn.Ok(value))
}

// failReply completes the promise with an error.
func (s *askSink) failReply(err error) bool {
	return s.promise.Complete(fn.Err[any](err))
}

// senderPath reports no path: local askers are anonymous.
func (s *askSink) senderPath() fn.Option[ActorPath] {
	return fn.None[ActorPath]()
}

// funcSink adapts a plain reply function to the replySink interface. The
// remoting server uses it to turn inbound ASK_REQUESTs into ASK_RESPONSE
// envelopes.
type funcSink struct {
	reply    func(any) bool
	accepted atomic.Bool
	pth      fn.Option[ActorPath]
}

func (s *funcSink) deliverReply(value any) bool {
	if !s.accepted.CompareAndSwap(false, true) {
		return false
	}

	return s.reply(value)
}

func (s *funcSink) failReply(err error) bool {
	// Remote askers learn about failures through their own timeout;
	// there is no error channel back through the wire for a dropped
	// reply.
	return false
}

func (s *funcSink) senderPath() fn.Option[ActorPath] {
	return s.pth
}
