package remoting

import (
	"errors"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roasbeef/marquee/wire"
)

// ConnState tracks where a connection is in its life.
type ConnState int32

const (
	// StateConnecting means the TCP dial is in progress (or queued for
	// a backoff retry).
	StateConnecting ConnState = iota

	// StateHandshaking means the socket is up and HANDSHAKE envelopes
	// are being exchanged.
	StateHandshaking

	// StateReady means envelopes flow and heartbeats are monitored.
	StateReady

	// StateClosed means the connection is permanently closed.
	StateClosed
)

// String returns a short name for the state.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn owns one outbound TCP link to a peer: a write queue drained by a
// writer goroutine, a reader that feeds the shared dispatcher, a heartbeat
// ticker, and a reconnect loop with exponential backoff. Sends while the
// link is still connecting or handshaking buffer up to a bound and then
// drop, preserving at-most-once delivery.
type Conn struct {
	r      *Remoting
	remote string

	state atomic.Int32

	// writeCh is the bounded MPSC write queue a READY connection drains.
	writeCh chan *wire.Envelope

	// pendMu guards pending, the pre-READY buffer.
	pendMu  sync.Mutex
	pending []*wire.Envelope

	// dropped counts envelopes dropped due to full buffers.
	dropped atomic.Uint64

	// lastRecv is the unix-nano arrival time of the most recent inbound
	// frame of any kind.
	lastRecv atomic.Int64

	// sockMu guards sock between the run loop and close.
	sockMu sync.Mutex
	sock   net.Conn

	quit chan struct{}
	wg   sync.WaitGroup
}

// newConn creates a connection and starts its dial/reconnect loop.
func newConn(r *Remoting, remote string) *Conn {
	c := &Conn{
		r:       r,
		remote:  remote,
		writeCh: make(chan *wire.Envelope, r.cfg.WriteBufferSize),
		quit:    make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))

	c.wg.Add(1)
	go c.run()

	return c
}

// State returns the connection's current state.
func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

// Dropped returns the number of envelopes dropped at this connection.
func (c *Conn) Dropped() uint64 {
	return c.dropped.Load()
}

// Send queues an envelope. READY connections feed the write queue
// directly; connections still coming up buffer a bounded number of
// envelopes and flush them after the handshake. Overflow drops the envelope
// and bumps a counter.
func (c *Conn) Send(env *wire.Envelope) {
	switch c.State() {
	case StateReady:
		select {
		case c.writeCh <- env:
		default:
			n := c.dropped.Add(1)
			log.Warnf("Write queue full for %s, dropping %s "+
				"(dropped=%d)", c.remote, env.Kind, n)
		}

	case StateClosed:
		c.dropped.Add(1)

	default:
		c.pendMu.Lock()
		if len(c.pending) < c.r.cfg.PendingBufferSize {
			c.pending = append(c.pending, env)
			c.pendMu.Unlock()

			return
		}
		c.pendMu.Unlock()

		n := c.dropped.Add(1)
		log.Warnf("Pending buffer full for %s, dropping %s "+
			"(dropped=%d)", c.remote, env.Kind, n)
	}
}

// run is the connect/reconnect loop: dial, handshake, pump frames until
// failure, then back off and retry until the connection closes.
func (c *Conn) run() {
	defer c.wg.Done()

	var attempt int
	for {
		select {
		case <-c.quit:
			return
		default:
		}

		connected, err := c.connectAndPump()
		if connected {
			// A link that came all the way up resets the
			// backoff schedule.
			attempt = 0
		}
		if c.State() == StateClosed {
			return
		}

		delay := c.backoffDelay(attempt)
		attempt++

		log.DebugS(c.r.ctx, "Connection lost, scheduling reconnect",
			"remote", c.remote, "attempt", attempt,
			"backoff", delay, "err", errString(err))

		c.state.Store(int32(StateConnecting))

		select {
		case <-time.After(delay):
		case <-c.quit:
			return
		}
	}
}

// backoffDelay computes the exponential reconnect delay with ±20% jitter.
func (c *Conn) backoffDelay(attempt int) time.Duration {
	base := c.r.cfg.ReconnectBackoff.Delay(attempt)
	jitter := 0.8 + 0.4*rand.Float64()

	return time.Duration(float64(base) * jitter)
}

// connectAndPump runs one connection attempt through to failure: dial,
// handshake, then reader/writer/heartbeat until any of them errors. It
// reports whether the link reached READY.
func (c *Conn) connectAndPump() (bool, error) {
	dialer := net.Dialer{Timeout: 10 * time.Second}
	sock, err := dialer.Dial("tcp", c.remote)
	if err != nil {
		return false, err
	}

	c.sockMu.Lock()
	c.sock = sock
	c.sockMu.Unlock()

	defer func() {
		c.sockMu.Lock()
		c.sock = nil
		c.sockMu.Unlock()
		sock.Close()
	}()

	c.state.Store(int32(StateHandshaking))

	if err := c.handshake(sock); err != nil {
		return false, err
	}

	c.lastRecv.Store(time.Now().UnixNano())
	c.state.Store(int32(StateReady))

	log.DebugS(c.r.ctx, "Connection ready", "remote", c.remote)

	c.flushPending()

	// failed fans in the first error from the reader, writer, and
	// heartbeat goroutines; the rest unwind when the socket closes.
	failed := make(chan error, 3)
	var pumps sync.WaitGroup

	pumps.Add(3)
	done := make(chan struct{})
	go func() {
		defer pumps.Done()
		failed <- c.readLoop(sock)
	}()
	go func() {
		defer pumps.Done()
		failed <- c.writeLoop(sock, done)
	}()
	go func() {
		defer pumps.Done()
		failed <- c.heartbeatLoop(done)
	}()

	select {
	case err = <-failed:
	case <-c.quit:
		err = nil
	}

	close(done)
	sock.Close()
	pumps.Wait()

	return true, err
}

// handshake sends our HANDSHAKE and waits for the peer's.
func (c *Conn) handshake(sock net.Conn) error {
	hello, err := wire.NewHandshake(
		c.r.sys.Name(), c.r.sys.Address().String(),
	)
	if err != nil {
		return err
	}
	if err := wire.WriteFrame(sock, hello); err != nil {
		return err
	}

	sock.SetReadDeadline(time.Now().Add(c.r.cfg.HeartbeatTimeout))
	defer sock.SetReadDeadline(time.Time{})

	env, err := wire.ReadFrame(sock, c.r.cfg.MaxFrameSize)
	if err != nil {
		return err
	}
	if env.Kind != wire.KindHandshake {
		return ErrProtocolViolation
	}

	peer, err := wire.DecodeHandshake(env)
	if err != nil {
		return err
	}

	log.DebugS(c.r.ctx, "Handshake complete",
		"remote", c.remote, "peer_system", peer.System,
		"peer_address", peer.Address)

	return nil
}

// flushPending moves the pre-READY buffer onto the write queue.
func (c *Conn) flushPending() {
	c.pendMu.Lock()
	pending := c.pending
	c.pending = nil
	c.pendMu.Unlock()

	for _, env := range pending {
		select {
		case c.writeCh <- env:
		default:
			c.dropped.Add(1)
		}
	}
}

// readLoop decodes inbound frames and hands them to the remoting
// dispatcher. Oversize and truncated frames close the connection; an
// unknown message tag only drops the single frame.
func (c *Conn) readLoop(sock net.Conn) error {
	for {
		env, err := wire.ReadFrame(sock, c.r.cfg.MaxFrameSize)
		if err != nil {
			return err
		}

		c.lastRecv.Store(time.Now().UnixNano())
		c.r.dispatch(env, c)
	}
}

// writeLoop drains the write queue onto the socket.
func (c *Conn) writeLoop(sock net.Conn, done chan struct{}) error {
	for {
		select {
		case env := <-c.writeCh:
			if err := wire.WriteFrame(sock, env); err != nil {
				return err
			}

		case <-done:
			return nil

		case <-c.quit:
			return nil
		}
	}
}

// heartbeatLoop emits heartbeats on the interval and fails the connection
// when nothing at all has arrived within the timeout.
func (c *Conn) heartbeatLoop(done chan struct{}) error {
	ticker := time.NewTicker(c.r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			idle := time.Duration(
				time.Now().UnixNano() - c.lastRecv.Load(),
			)
			if idle > c.r.cfg.HeartbeatTimeout {
				log.Warnf("Heartbeat timeout on %s "+
					"(idle=%v)", c.remote, idle)

				return errHeartbeatTimeout
			}

			select {
			case c.writeCh <- wire.NewHeartbeat():
			default:
			}

		case <-done:
			return nil

		case <-c.quit:
			return nil
		}
	}
}

// errHeartbeatTimeout reports a peer that went silent past the heartbeat
// timeout.
var errHeartbeatTimeout = errors.New("heartbeat timeout")

// writeEnvelope satisfies the dispatcher's reply path: ASK_RESPONSE frames
// for requests that arrived on this connection go back out the same way.
func (c *Conn) writeEnvelope(env *wire.Envelope) error {
	select {
	case c.writeCh <- env:
		return nil
	default:
		c.dropped.Add(1)
		return errors.New("write queue full")
	}
}

// close permanently shuts the connection down.
func (c *Conn) close() {
	if ConnState(c.state.Swap(int32(StateClosed))) == StateClosed {
		return
	}

	close(c.quit)

	c.sockMu.Lock()
	if c.sock != nil {
		c.sock.Close()
	}
	c.sockMu.Unlock()

	c.wg.Wait()
}

// errString renders an error for structured logging without nil checks at
// every call site.
func errString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
