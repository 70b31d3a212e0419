package actor

import (
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// systemMessage is the sealed set of lifecycle and supervision signals that
// travel on the mailbox's priority lane.
type systemMessage interface {
	systemMsgMarker()
}

// stopMsg initiates the STOPPING phase of the receiving actor.
type stopMsg struct{}

func (stopMsg) systemMsgMarker() {}

// childFailedMsg notifies a parent that a child's behavior failed. The
// parent applies the child's supervision strategy.
type childFailedMsg struct {
	child internalCell
	err   error
}

func (childFailedMsg) systemMsgMarker() {}

// childTerminatedMsg notifies a parent that a child finished terminating.
type childTerminatedMsg struct {
	id   string
	name string
	path ActorPath
}

func (childTerminatedMsg) systemMsgMarker() {}

// restartMsg fires when a supervised restart's backoff delay elapses.
type restartMsg struct{}

func (restartMsg) systemMsgMarker() {}

// replySink receives the single reply of an outstanding ask. Local asks
// complete a promise directly; remote asks serialize an ASK_RESPONSE
// envelope back to the requesting peer.
type replySink interface {
	// deliverReply hands the reply value to the asker. It returns true
	// if this was the first (and therefore accepted) reply.
	deliverReply(value any) bool

	// failReply fails the asker with the given error, typically because
	// the target terminated before replying.
	failReply(err error) bool

	// senderPath is the logical path of the asker, when it has one.
	senderPath() fn.Option[ActorPath]
}

// internalCell is the kernel's untyped view of an actor cell. Parents hold
// children through this interface, and the path registry resolves inbound
// deliveries to it.
type internalCell interface {
	// cellID returns the actor's unique id.
	cellID() string

	// cellPath returns the actor's path.
	cellPath() ActorPath

	// sendSystem enqueues a signal on the priority lane.
	sendSystem(msg systemMessage)

	// deliverUser enqueues a type-erased user message, asserting it to
	// the cell's message type. It returns false if the assertion fails
	// or the message was dropped.
	deliverUser(msg any, sender replySink) bool

	// lifecycleState returns the current lifecycle state.
	lifecycleState() LifecycleState

	// supervisionConfig returns the supervision policy the parent
	// applies to this cell.
	supervisionConfig() SupervisionConfig

	// recordFailure appends a failure timestamp, trims entries older
	// than the window, and returns the count inside the window.
	recordFailure(within time.Duration) int

	// scheduleRestart arranges for a restartMsg after the given backoff.
	scheduleRestart(delay time.Duration)

	// terminatedChan is closed once the cell reaches TERMINATED.
	terminatedChan() <-chan struct{}

	// addChild inserts a named child, enforcing per-parent name
	// uniqueness.
	addChild(name string, child internalCell) error
}
