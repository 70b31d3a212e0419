package actor

import "context"

// transitionKind enumerates the possible outcomes of processing one message.
type transitionKind int

const (
	transitionSame transitionKind = iota
	transitionStop
	transitionBecome
	transitionFail
)

// Transition is the result of a behavior processing one message: keep the
// current behavior, stop the actor, replace the behavior, or fail and defer
// to the parent's supervision.
type Transition[M Message] struct {
	kind transitionKind
	next Behavior[M]
	err  error
}

// Same keeps the current behavior for the next message.
func Same[M Message]() Transition[M] {
	return Transition[M]{kind: transitionSame}
}

// Stop terminates the actor after the current message. Children are stopped
// first, then the parent is notified of termination.
func Stop[M Message]() Transition[M] {
	return Transition[M]{kind: transitionStop}
}

// Become replaces the current behavior with a new one for subsequent
// messages.
func Become[M Message](next Behavior[M]) Transition[M] {
	return Transition[M]{kind: transitionBecome, next: next}
}

// Fail signals a processing failure to the parent's supervision without
// panicking. The parent applies its configured strategy just as it would for
// a recovered panic.
func Fail[M Message](err error) Transition[M] {
	return Transition[M]{kind: transitionFail, err: err}
}

// Behavior defines the logic for how an actor processes incoming messages.
// It is a strategy interface that encapsulates the actor's reaction to
// messages. Behaviors run to completion per message; long or blocking work
// must be offloaded and projected back via Pipe.
type Behavior[M Message] interface {
	// Receive processes a message and returns the transition to apply.
	Receive(ctx *Context[M], msg M) Transition[M]
}

// SetupBehavior is an optional extension of Behavior for behaviors that need
// one-time initialization with the actor's context before the first message.
// The returned behavior replaces the setup value; it is re-invoked after a
// supervised restart.
type SetupBehavior[M Message] interface {
	Behavior[M]

	// Setup is invoked once with the starting context and produces the
	// initial behavior.
	Setup(ctx *Context[M]) Behavior[M]
}

// Stoppable is an optional interface that Behavior implementations can
// implement to perform cleanup when the actor is stopping. This is useful
// for releasing external resources such as network listeners or file handles
// that the behavior manages.
type Stoppable interface {
	// OnStop is called during actor shutdown, after the message
	// processing loop has drained, but before the parent is notified of
	// termination. The provided context has a deadline for cleanup
	// operations.
	OnStop(ctx context.Context) error
}

// FunctionBehavior adapts a plain function to the Behavior interface.
type FunctionBehavior[M Message] struct {
	fn func(ctx *Context[M], msg M) Transition[M]
}

// NewFunctionBehavior creates a Behavior from a function.
func NewFunctionBehavior[M Message](
	fn func(ctx *Context[M], msg M) Transition[M]) *FunctionBehavior[M] {

	return &FunctionBehavior[M]{fn: fn}
}

// Receive invokes the wrapped function.
func (b *FunctionBehavior[M]) Receive(ctx *Context[M], msg M) Transition[M] {
	return b.fn(ctx, msg)
}

// setupBehavior adapts a setup thunk to the SetupBehavior interface.
type setupBehavior[M Message] struct {
	setup func(ctx *Context[M]) Behavior[M]
}

// NewSetupBehavior creates a behavior whose setup thunk is invoked once with
// the starting context to produce the initial behavior. This enables
// per-actor initialization that needs the context, and is what a supervised
// restart re-runs.
func NewSetupBehavior[M Message](
	setup func(ctx *Context[M]) Behavior[M]) Behavior[M] {

	return &setupBehavior[M]{setup: setup}
}

// Setup produces the initial behavior.
func (b *setupBehavior[M]) Setup(ctx *Context[M]) Behavior[M] {
	return b.setup(ctx)
}

// Receive should never run: the kernel resolves setup behaviors before
// dispatching the first message. It is defined to satisfy Behavior and
// simply keeps the behavior unchanged.
func (b *setupBehavior[M]) Receive(ctx *Context[M], msg M) Transition[M] {
	return Same[M]()
}
