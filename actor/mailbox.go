package actor

import (
	"sync"
	"sync/atomic"
)

// DefaultMailboxCapacity is the default bound of the user lane.
const DefaultMailboxCapacity = 1000

// systemLaneCapacity bounds the system lane. The lane is sized generously
// relative to realistic supervision traffic; filling it is an invariant
// violation that fails the actor rather than dropping a lifecycle signal.
const systemLaneCapacity = 1024

// userEnvelope pairs a user message with the reply sink of an outstanding
// ask, if any.
type userEnvelope[M Message] struct {
	msg    M
	sender replySink
}

// mailbox is a bounded, two-lane message queue. The system lane carries
// lifecycle and supervision signals and is always drained before the user
// lane. Enqueues never block: a full user lane drops the newest message and
// increments a counter, preserving at-most-once semantics without stalling
// senders.
type mailbox[M Message] struct {
	mu sync.Mutex

	system []systemMessage
	user   []userEnvelope[M]

	capacity int
	closed   bool

	// userDrops counts user-lane messages dropped due to overflow.
	userDrops atomic.Uint64

	// signal wakes the owning cell's dispatcher when the mailbox goes
	// non-empty.
	signal func()
}

// newMailbox creates a mailbox with the given user-lane capacity. The signal
// callback fires after every successful enqueue.
func newMailbox[M Message](capacity int, signal func()) *mailbox[M] {
	if capacity <= 0 {
		capacity = DefaultMailboxCapacity
	}

	return &mailbox[M]{
		capacity: capacity,
		signal:   signal,
	}
}

// enqueueResult reports the outcome of a user-lane enqueue.
type enqueueResult int

const (
	enqueueOK enqueueResult = iota
	enqueueFull
	enqueueClosed
)

// enqueueUser appends to the user lane without blocking. A full lane drops
// the message and bumps the overflow counter; a closed mailbox rejects it so
// the caller can route to dead letters.
func (m *mailbox[M]) enqueueUser(env userEnvelope[M]) enqueueResult {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return enqueueClosed
	}
	if len(m.user) >= m.capacity {
		m.mu.Unlock()

		n := m.userDrops.Add(1)
		log.Warnf("Mailbox user lane full, dropping %v (dropped=%d)",
			env.msg.MessageType(), n)

		return enqueueFull
	}
	m.user = append(m.user, env)
	m.mu.Unlock()

	m.signal()

	return enqueueOK
}

// enqueueSystem appends to the system lane. It returns false only when the
// lane is full, which the caller must treat as a fatal invariant violation.
// A closed mailbox still accepts system messages without error; the cell
// marks itself terminated right after closing its mailbox, so these late
// signals are held but never dequeued.
func (m *mailbox[M]) enqueueSystem(msg systemMessage) bool {
	m.mu.Lock()
	if len(m.system) >= systemLaneCapacity {
		m.mu.Unlock()
		return false
	}
	m.system = append(m.system, msg)
	m.mu.Unlock()

	m.signal()

	return true
}

// dequeue pops the next message, preferring the system lane. The user lane
// is only consulted when userOK is set, which the cell clears whenever it is
// not RUNNING.
func (m *mailbox[M]) dequeue(userOK bool) (systemMessage, userEnvelope[M],
	lane) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.system) > 0 {
		msg := m.system[0]
		m.system = m.system[1:]

		return msg, userEnvelope[M]{}, laneSystem
	}

	if userOK && len(m.user) > 0 && !m.closed {
		env := m.user[0]
		m.user = m.user[1:]

		return nil, env, laneUser
	}

	return nil, userEnvelope[M]{}, laneEmpty
}

// hasPending reports whether a dequeue with the same userOK flag would
// yield a message.
func (m *mailbox[M]) hasPending(userOK bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.system) > 0 {
		return true
	}

	return userOK && len(m.user) > 0 && !m.closed
}

// close stops user-lane delivery. Pending user envelopes are returned so the
// cell can fail their asks and forward them to dead letters.
func (m *mailbox[M]) close() []userEnvelope[M] {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	drained := m.user
	m.user = nil

	return drained
}

// clearUser empties the user lane without closing the mailbox. Used on
// supervised restart, which preserves system messages but discards buffered
// user traffic.
func (m *mailbox[M]) clearUser() []userEnvelope[M] {
	m.mu.Lock()
	defer m.mu.Unlock()

	drained := m.user
	m.user = nil

	return drained
}

// drops returns the number of user messages dropped due to overflow.
func (m *mailbox[M]) drops() uint64 {
	return m.userDrops.Load()
}

// depths returns the current lane depths.
func (m *mailbox[M]) depths() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.system), len(m.user)
}

// lane identifies which mailbox lane a dequeue returned from.
type lane int

const (
	laneEmpty lane = iota
	laneSystem
	laneUser
)
