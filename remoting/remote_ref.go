package remoting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/roasbeef/marquee/actor"
	"github.com/roasbeef/marquee/wire"
)

// RemoteRef is a typed reference to an actor living in another system. It
// satisfies the same interface as a local reference: sends serialize into
// envelopes and ride the peer pool's consistent stripe for the target path,
// and asks correlate responses by id. Calling code cannot tell it apart
// from a local ref.
type RemoteRef[M actor.Message] struct {
	r    *Remoting
	pth  actor.ActorPath
	pool *Pool
}

// ID returns the path URI, which is the stable identity of a remote actor
// from this system's point of view.
func (ref *RemoteRef[M]) ID() string {
	return ref.pth.String()
}

// Path returns the remote actor's path.
func (ref *RemoteRef[M]) Path() actor.ActorPath {
	return ref.pth
}

// Tell serializes the message and sends it through the pool. Lookup and
// serialization errors are logged and the message dropped: delivery is
// at-most-once and the sender never learns of failures.
func (ref *RemoteRef[M]) Tell(_ context.Context, msg M) {
	tag, payload, err := wire.Serialize(msg)
	if err != nil {
		log.Warnf("Dropping remote tell to %s: %v",
			ref.pth.String(), err)
		return
	}

	env := wire.NewUserMessage(
		ref.pth.String(), tag, payload,
		ref.r.sys.Address().RootPath().String(),
	)
	ref.pool.Send(env)
}

// AskAny sends an ASK_REQUEST and returns a future completed by the
// correlated ASK_RESPONSE, or failed by the timeout.
func (ref *RemoteRef[M]) AskAny(_ context.Context, msg M,
	timeout time.Duration) actor.Future[any] {

	correlationID := uuid.NewString()

	_, future := ref.r.registerAsk(correlationID, timeout)

	tag, payload, err := wire.Serialize(msg)
	if err != nil {
		if pending := ref.r.takeAsk(correlationID); pending != nil {
			pending.fail(err)
		}

		return future
	}

	senderPath := actor.ActorPath{
		Address:  ref.r.sys.Address(),
		Segments: []string{"system", "ask", correlationID},
	}

	env := wire.NewAskRequest(
		ref.pth.String(), tag, payload,
		senderPath.String(), correlationID,
	)
	ref.pool.Send(env)

	return future
}

// Stop sends a remote stop signal to the target actor's system lane.
func (ref *RemoteRef[M]) Stop() {
	ref.pool.Send(wire.NewSystemMessage(ref.pth.String(), "stop"))
}

// Compile-time check that RemoteRef satisfies the reference interfaces.
var _ actor.ActorRef[actor.Message] = (*RemoteRef[actor.Message])(nil)
