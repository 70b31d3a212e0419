package actor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// testMessage is a simple message type for kernel tests.
type testMessage struct {
	BaseMessage
	value int
}

func (m *testMessage) MessageType() string {
	return "testMessage"
}

// TestMailboxSystemLanePrecedence tests that the system lane drains before
// the user lane regardless of arrival order.
func TestMailboxSystemLanePrecedence(t *testing.T) {
	t.Parallel()

	box := newMailbox[*testMessage](10, func() {})

	require.Equal(t, enqueueOK,
		box.enqueueUser(userEnvelope[*testMessage]{
			msg: &testMessage{value: 1},
		}))
	require.True(t, box.enqueueSystem(stopMsg{}))

	sysMsg, _, ln := box.dequeue(true)
	require.Equal(t, laneSystem, ln)
	require.IsType(t, stopMsg{}, sysMsg)

	_, userEnv, ln := box.dequeue(true)
	require.Equal(t, laneUser, ln)
	require.Equal(t, 1, userEnv.msg.value)

	_, _, ln = box.dequeue(true)
	require.Equal(t, laneEmpty, ln)
}

// TestMailboxUserLaneSuppressed tests that dequeue skips the user lane
// when the caller is not accepting user messages.
func TestMailboxUserLaneSuppressed(t *testing.T) {
	t.Parallel()

	box := newMailbox[*testMessage](10, func() {})

	box.enqueueUser(userEnvelope[*testMessage]{
		msg: &testMessage{value: 1},
	})

	_, _, ln := box.dequeue(false)
	require.Equal(t, laneEmpty, ln)
	require.False(t, box.hasPending(false))
	require.True(t, box.hasPending(true))
}

// TestMailboxOverflowDropsNewest tests the bounded user lane: overflow
// drops the newest message and counts it, never blocking the sender.
func TestMailboxOverflowDropsNewest(t *testing.T) {
	t.Parallel()

	box := newMailbox[*testMessage](2, func() {})

	for i := 0; i < 5; i++ {
		box.enqueueUser(userEnvelope[*testMessage]{
			msg: &testMessage{value: i},
		})
	}

	require.EqualValues(t, 3, box.drops())

	// The two oldest messages survived.
	_, env, _ := box.dequeue(true)
	require.Equal(t, 0, env.msg.value)
	_, env, _ = box.dequeue(true)
	require.Equal(t, 1, env.msg.value)
}

// TestMailboxSignalFires tests that successful enqueues fire the readiness
// signal.
func TestMailboxSignalFires(t *testing.T) {
	t.Parallel()

	var signals int
	box := newMailbox[*testMessage](1, func() { signals++ })

	box.enqueueUser(userEnvelope[*testMessage]{msg: &testMessage{}})
	box.enqueueSystem(stopMsg{})

	// The overflowing enqueue must not signal.
	box.enqueueUser(userEnvelope[*testMessage]{msg: &testMessage{}})

	require.Equal(t, 2, signals)
}

// TestMailboxCloseDrains tests that close rejects further user messages
// and hands back what was buffered.
func TestMailboxCloseDrains(t *testing.T) {
	t.Parallel()

	box := newMailbox[*testMessage](10, func() {})

	box.enqueueUser(userEnvelope[*testMessage]{
		msg: &testMessage{value: 1},
	})
	box.enqueueUser(userEnvelope[*testMessage]{
		msg: &testMessage{value: 2},
	})

	drained := box.close()
	require.Len(t, drained, 2)

	require.Equal(t, enqueueClosed,
		box.enqueueUser(userEnvelope[*testMessage]{
			msg: &testMessage{value: 3},
		}))

	// System messages still land after close.
	require.True(t, box.enqueueSystem(stopMsg{}))
	require.True(t, box.hasPending(false))
}

// TestMailboxClearUserKeepsSystem tests the restart semantics: the user
// lane empties while system signals survive.
func TestMailboxClearUserKeepsSystem(t *testing.T) {
	t.Parallel()

	box := newMailbox[*testMessage](10, func() {})

	box.enqueueUser(userEnvelope[*testMessage]{msg: &testMessage{}})
	box.enqueueSystem(restartMsg{})

	drained := box.clearUser()
	require.Len(t, drained, 1)

	sysMsg, _, ln := box.dequeue(true)
	require.Equal(t, laneSystem, ln)
	require.IsType(t, restartMsg{}, sysMsg)

	_, _, ln = box.dequeue(true)
	require.Equal(t, laneEmpty, ln)
}
