package actor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestRegistryResolve tests path registration, string lookup in both local
// and URI form, and unregistration on termination.
func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t, "registry")

	ref, err := Spawn(sys, "lookup-me", echoBehavior())
	require.NoError(t, err)

	// Resolve by parsed path.
	target, ok := sys.Registry().Resolve(ref.Path())
	require.True(t, ok)
	require.Equal(t, ref.ID(), target.ID())

	// Resolve by absolute string and by full URI.
	target, ok = sys.Registry().ResolveString("/user/lookup-me")
	require.True(t, ok)
	require.Equal(t, ref.ID(), target.ID())

	target, ok = sys.Registry().ResolveString(
		"movie://registry/user/lookup-me",
	)
	require.True(t, ok)
	require.Equal(t, ref.ID(), target.ID())

	// The reverse direction: id -> path.
	pth, ok := sys.Registry().PathFor(ref.ID())
	require.True(t, ok)
	require.Equal(t, []string{"user", "lookup-me"}, pth.Segments)

	// Termination unregisters both directions.
	require.True(t, sys.StopActor(ref))
	require.Eventually(t, func() bool {
		_, ok := sys.Registry().Resolve(ref.Path())

		return !ok
	}, 5*time.Second, 10*time.Millisecond)

	_, ok = sys.Registry().PathFor(ref.ID())
	require.False(t, ok)
}

// TestRefForTypeMismatch tests that RefFor refuses a ref of the wrong
// message type.
func TestRefForTypeMismatch(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t, "registry-types")

	_, err := Spawn(sys, "echo", echoBehavior())
	require.NoError(t, err)

	_, ok := RefFor[*queryMsg](sys, "/user/echo")
	require.True(t, ok)

	_, ok = RefFor[*testMessage](sys, "/user/echo")
	require.False(t, ok)
}

// TestRegistryDeliverUser tests type-erased delivery through the registry,
// the path the remoting server takes for inbound envelopes.
func TestRegistryDeliverUser(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t, "registry-deliver")

	got := make(chan string, 1)
	behavior := NewFunctionBehavior(func(ctx *Context[*queryMsg],
		msg *queryMsg) Transition[*queryMsg] {

		got <- msg.q

		return Same[*queryMsg]()
	})

	_, err := Spawn(sys, "inbound", behavior)
	require.NoError(t, err)

	target, ok := sys.Registry().ResolveString("/user/inbound")
	require.True(t, ok)

	// The right type delivers; the wrong type is refused.
	require.True(t, target.DeliverUser(&queryMsg{q: "hello"}))
	require.False(t, target.DeliverUser(&testMessage{value: 1}))

	select {
	case q := <-got:
		require.Equal(t, "hello", q)
	case <-time.After(5 * time.Second):
		t.Fatal("delivery never arrived")
	}
}

// TestRegistryDeliverAsk tests the synthesized reply path used for remote
// ASK_REQUESTs.
func TestRegistryDeliverAsk(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t, "registry-ask")

	_, err := Spawn(sys, "echo", echoBehavior())
	require.NoError(t, err)

	target, ok := sys.Registry().ResolveString("/user/echo")
	require.True(t, ok)

	replies := make(chan any, 1)
	delivered := target.DeliverAsk(&queryMsg{q: "y"}, func(v any) bool {
		replies <- v

		return true
	})
	require.True(t, delivered)

	select {
	case v := <-replies:
		require.Equal(t, "pong:y", v)
	case <-time.After(5 * time.Second):
		t.Fatal("reply never arrived")
	}
}
