package actor

import (
	"context"
	"time"
)

// BaseActorRef is a non-generic base interface for all actor references.
// This enables data structures that store heterogeneous actor references.
// Equality of refs is by (actor id, system): the cached ref for a cell is a
// stable identity, and two refs to the same actor carry the same ID.
type BaseActorRef interface {
	// ID returns the unique identifier for this actor.
	ID() string

	// Path returns the actor's path.
	Path() ActorPath
}

// TellOnlyRef is a reference to an actor that only supports "tell"
// operations. This is useful for scenarios where only fire-and-forget
// message passing is needed, or to restrict capabilities.
type TellOnlyRef[M Message] interface {
	BaseActorRef

	// Tell sends a message without waiting for a response. Delivery is
	// at-most-once: the message may be dropped if the target's mailbox
	// is full or the target has terminated.
	Tell(ctx context.Context, msg M)
}

// ActorRef is a typed handle to an actor, local or remote. User code cannot
// distinguish the two: both serialize into the same call surface, and Ask
// works through either.
type ActorRef[M Message] interface {
	TellOnlyRef[M]

	// AskAny sends a message expecting a single type-erased reply and
	// returns a future for it. Most callers want the typed Ask function
	// instead; this method exists so that local and remote references
	// interchange behind one interface.
	AskAny(ctx context.Context, msg M,
		timeout time.Duration) Future[any]
}

// localRef is the in-process reference: sends enqueue directly on the
// target's mailbox.
type localRef[M Message] struct {
	cell *cell[M]
}

// ID returns the actor's unique id.
func (r *localRef[M]) ID() string { return r.cell.id }

// Path returns the actor's path, stamped with the system's current address
// so that refs format with the remote form once remoting is enabled.
func (r *localRef[M]) Path() ActorPath {
	return ActorPath{
		Address:  r.cell.sys.Address(),
		Segments: r.cell.pth.Segments,
	}
}

// Tell enqueues the message on the target's user lane. Messages to a
// terminated actor are forwarded to dead letters.
func (r *localRef[M]) Tell(_ context.Context, msg M) {
	res := r.cell.box.enqueueUser(userEnvelope[M]{msg: msg})
	if res == enqueueClosed {
		r.cell.sys.deadLetter(r.cell.pth, msg)
	}
}

// AskAny sends the message with an attached reply sink and returns the
// future the sink completes.
func (r *localRef[M]) AskAny(_ context.Context, msg M,
	timeout time.Duration) Future[any] {

	sys := r.cell.sys
	sink, future := newAskSink(sys, timeout)

	res := r.cell.box.enqueueUser(userEnvelope[M]{
		msg:    msg,
		sender: sink,
	})
	if res == enqueueClosed {
		sink.failReply(ErrActorTerminated)
	}

	return future
}

// Compile-time check that localRef satisfies the reference interfaces.
var _ ActorRef[Message] = (*localRef[Message])(nil)

// Deliverable is the path registry's view of a local actor: enough to hand
// an inbound, type-erased message or ask to its mailbox. The remoting
// server depends on this and nothing else from the kernel.
type Deliverable interface {
	// ID returns the actor's unique id.
	ID() string

	// Path returns the actor's path.
	Path() ActorPath

	// DeliverUser enqueues a decoded user message. It returns false if
	// the message type does not match the actor or was dropped.
	DeliverUser(msg Message) bool

	// DeliverAsk enqueues a decoded ask whose single reply is handed to
	// the given function.
	DeliverAsk(msg Message, reply func(any) bool) bool

	// DeliverStop enqueues a stop signal on the priority lane.
	DeliverStop()
}

// DeliverUser implements Deliverable for local refs.
func (r *localRef[M]) DeliverUser(msg Message) bool {
	return r.cell.deliverUser(msg, nil)
}

// DeliverAsk implements Deliverable for local refs.
func (r *localRef[M]) DeliverAsk(msg Message, reply func(any) bool) bool {
	return r.cell.deliverUser(msg, &funcSink{reply: reply})
}

// DeliverStop implements Deliverable for local refs.
func (r *localRef[M]) DeliverStop() {
	r.cell.sendSystem(stopMsg{})
}

var _ Deliverable = (*localRef[Message])(nil)
