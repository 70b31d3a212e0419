package remoting

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/roasbeef/marquee/actor"
	"github.com/roasbeef/marquee/wire"
)

// envelopeWriter is the reply path the dispatcher writes ASK_RESPONSE
// frames to: the same connection the request arrived on, whether that was
// an inbound server connection or an outbound pool stripe.
type envelopeWriter interface {
	writeEnvelope(env *wire.Envelope) error
}

// serve accepts inbound connections until the listener closes.
func (r *Remoting) serve() {
	defer r.wg.Done()

	for {
		sock, err := r.listener.Accept()
		if err != nil {
			select {
			case <-r.ctx.Done():
				return
			default:
			}

			log.Warnf("Accept error: %v", err)

			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		r.inMu.Lock()
		r.inbound[sock] = struct{}{}
		r.inMu.Unlock()

		r.wg.Add(1)
		go r.handleInbound(sock)
	}
}

// inboundConn wraps an accepted socket with a serialized write path.
type inboundConn struct {
	sock    net.Conn
	writeMu sync.Mutex
}

// writeEnvelope frames an envelope onto the socket.
func (c *inboundConn) writeEnvelope(env *wire.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return wire.WriteFrame(c.sock, env)
}

// handleInbound completes the responder side of the handshake and then
// dispatches every decoded envelope until the peer disconnects or violates
// the protocol.
func (r *Remoting) handleInbound(sock net.Conn) {
	defer r.wg.Done()
	defer func() {
		sock.Close()

		r.inMu.Lock()
		delete(r.inbound, sock)
		r.inMu.Unlock()
	}()

	conn := &inboundConn{sock: sock}

	// The initiator speaks first; answer its HANDSHAKE with our own.
	sock.SetReadDeadline(time.Now().Add(r.cfg.HeartbeatTimeout))
	first, err := wire.ReadFrame(sock, r.cfg.MaxFrameSize)
	if err != nil {
		log.Debugf("Inbound handshake read from %s failed: %v",
			sock.RemoteAddr(), err)
		return
	}
	sock.SetReadDeadline(time.Time{})

	if first.Kind != wire.KindHandshake {
		log.Warnf("Inbound connection from %s opened with %s, "+
			"expected handshake", sock.RemoteAddr(), first.Kind)
		return
	}

	peer, err := wire.DecodeHandshake(first)
	if err != nil {
		log.Warnf("Bad handshake payload from %s: %v",
			sock.RemoteAddr(), err)
		return
	}

	reply, err := wire.NewHandshake(r.sys.Name(), r.sys.Address().String())
	if err != nil {
		return
	}
	if err := conn.writeEnvelope(reply); err != nil {
		return
	}

	log.DebugS(r.ctx, "Inbound connection established",
		"peer_system", peer.System, "remote", sock.RemoteAddr())

	// Idle peers are expected to heartbeat; a read deadline past the
	// heartbeat timeout reaps dead connections.
	for {
		sock.SetReadDeadline(
			time.Now().Add(2 * r.cfg.HeartbeatTimeout),
		)

		env, err := wire.ReadFrame(sock, r.cfg.MaxFrameSize)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debugf("Inbound connection from %s "+
					"closed: %v", sock.RemoteAddr(), err)
			}

			return
		}

		r.dispatch(env, conn)
	}
}

// dispatch routes one decoded envelope: connection-level kinds are handled
// in place, everything else resolves through the local path registry and
// lands in the target's mailbox. Unresolvable targets and unknown message
// tags drop the single envelope and never kill the connection.
func (r *Remoting) dispatch(env *wire.Envelope, replyTo envelopeWriter) {
	switch env.Kind {
	case wire.KindHeartbeat:
		// Receipt alone refreshed the liveness clock.
		return

	case wire.KindHandshake:
		// A duplicate handshake after establishment is harmless;
		// answer it again for symmetry.
		reply, err := wire.NewHandshake(
			r.sys.Name(), r.sys.Address().String(),
		)
		if err == nil {
			_ = replyTo.writeEnvelope(reply)
		}

		return

	case wire.KindAskResponse:
		r.handleAskResponse(env)

		return
	}

	pth, err := r.parsePath(env.TargetPath)
	if err != nil {
		log.Warnf("Dropping envelope with bad target path %q: %v",
			env.TargetPath, err)
		return
	}

	target, ok := r.sys.Registry().Resolve(pth)
	if !ok {
		log.Debugf("Dropping %s for unknown target %s",
			env.Kind, env.TargetPath)
		return
	}

	switch env.Kind {
	case wire.KindSystemMessage:
		if env.MessageType == "stop" {
			target.DeliverStop()
		} else {
			log.Warnf("Ignoring unknown system signal %q for %s",
				env.MessageType, env.TargetPath)
		}

	case wire.KindUserMessage:
		decoded, err := wire.Deserialize(env.MessageType, env.Payload)
		if err != nil {
			log.Warnf("Dropping undecodable %s payload for %s: %v",
				env.MessageType, env.TargetPath, err)
			return
		}

		if !target.DeliverUser(decoded.Msg) {
			log.Debugf("Delivery of %s to %s failed",
				env.MessageType, env.TargetPath)
		}

	case wire.KindAskRequest:
		r.handleAskRequest(env, target, replyTo)

	default:
		log.Warnf("Dropping envelope of unknown kind %q", env.Kind)
	}
}

// handleAskRequest delivers the decoded message with a synthesized reply
// sink that serializes the actor's reply into an ASK_RESPONSE carrying the
// request's correlation id, written back on the arrival connection.
func (r *Remoting) handleAskRequest(env *wire.Envelope, target actor.Deliverable,
	replyTo envelopeWriter) {

	decoded, err := wire.Deserialize(env.MessageType, env.Payload)
	if err != nil {
		log.Warnf("Dropping undecodable ask %s for %s: %v",
			env.MessageType, env.TargetPath, err)
		return
	}

	correlationID := env.CorrelationID
	senderPath := env.SenderPath

	delivered := target.DeliverAsk(decoded.Msg, func(reply any) bool {
		msg, ok := reply.(actor.Message)
		if !ok {
			log.Warnf("Ask reply for %s is %T, not a Message; "+
				"dropping", correlationID, reply)
			return false
		}

		tag, payload, err := wire.Serialize(msg)
		if err != nil {
			log.Warnf("Ask reply for %s failed to serialize: %v",
				correlationID, err)
			return false
		}

		response := wire.NewAskResponse(
			senderPath, tag, payload, correlationID,
		)
		if err := replyTo.writeEnvelope(response); err != nil {
			log.Debugf("Ask response write for %s failed: %v",
				correlationID, err)
			return false
		}

		return true
	})

	if !delivered {
		log.Debugf("Ask delivery of %s to %s failed",
			env.MessageType, env.TargetPath)
	}
}

// handleAskResponse completes the pending local ask the response
// correlates with. Late responses (after timeout) are dropped.
func (r *Remoting) handleAskResponse(env *wire.Envelope) {
	ask := r.takeAsk(env.CorrelationID)
	if ask == nil {
		log.Debugf("Dropping ask response with unknown correlation "+
			"id %q", env.CorrelationID)
		return
	}

	decoded, err := wire.Deserialize(env.MessageType, env.Payload)
	if err != nil {
		ask.fail(err)
		return
	}

	ask.complete(decoded.Msg)
}
