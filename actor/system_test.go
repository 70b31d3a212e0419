package actor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestSystem creates a system that is shut down when the test ends.
func newTestSystem(t *testing.T, name string) *ActorSystem {
	t.Helper()

	sys := NewNamedActorSystem(name)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(
			context.Background(), 5*time.Second,
		)
		defer cancel()

		require.NoError(t, sys.Shutdown(ctx))
	})

	return sys
}

// collectorBehavior appends every received value to a shared slice.
func collectorBehavior(mu *sync.Mutex,
	got *[]int) Behavior[*testMessage] {

	return NewFunctionBehavior(func(ctx *Context[*testMessage],
		msg *testMessage) Transition[*testMessage] {

		mu.Lock()
		*got = append(*got, msg.value)
		mu.Unlock()

		return Same[*testMessage]()
	})
}

// TestSpawnAndTell tests the basic spawn/tell flow and per-sender FIFO
// ordering.
func TestSpawnAndTell(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t, "spawn-tell")

	var (
		mu  sync.Mutex
		got []int
	)
	ref, err := Spawn(sys, "collector", collectorBehavior(&mu, &got))
	require.NoError(t, err)
	require.Equal(t, "movie://spawn-tell/user/collector",
		ref.Path().String())

	for i := 0; i < 100; i++ {
		ref.Tell(context.Background(), &testMessage{value: i})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(got) == 100
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		require.Equal(t, i, v, "messages observed out of order")
	}
}

// TestSpawnDuplicateName tests that sibling names are unique.
func TestSpawnDuplicateName(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t, "dup-name")

	behavior := NewFunctionBehavior(func(ctx *Context[*testMessage],
		msg *testMessage) Transition[*testMessage] {

		return Same[*testMessage]()
	})

	_, err := Spawn(sys, "worker", behavior)
	require.NoError(t, err)

	_, err = Spawn(sys, "worker", behavior)
	require.ErrorIs(t, err, ErrDuplicateName)
}

// TestBecomeTransition tests behavior replacement: after a mode switch the
// new behavior handles subsequent messages.
func TestBecomeTransition(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t, "become")

	var evens Behavior[*testMessage]
	odds := NewFunctionBehavior(func(ctx *Context[*testMessage],
		msg *testMessage) Transition[*testMessage] {

		ctx.Reply("odd")

		return Become(evens)
	})
	evens = NewFunctionBehavior(func(ctx *Context[*testMessage],
		msg *testMessage) Transition[*testMessage] {

		ctx.Reply("even")

		return Become[*testMessage](odds)
	})

	ref, err := Spawn(sys, "flipflop", odds)
	require.NoError(t, err)

	for _, want := range []string{"odd", "even", "odd"} {
		reply, err := AskAwait[*testMessage, string](
			context.Background(), ref, &testMessage{},
			time.Second,
		)
		require.NoError(t, err)
		require.Equal(t, want, reply)
	}
}

// TestSetupBehavior tests that setup runs once with the context before the
// first message.
func TestSetupBehavior(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t, "setup")

	setupRuns := make(chan string, 1)
	behavior := NewSetupBehavior(func(
		ctx *Context[*testMessage]) Behavior[*testMessage] {

		setupRuns <- ctx.Path().String()

		return NewFunctionBehavior(func(ctx *Context[*testMessage],
			msg *testMessage) Transition[*testMessage] {

			ctx.Reply(msg.value * 2)

			return Same[*testMessage]()
		})
	})

	ref, err := Spawn(sys, "doubler", behavior)
	require.NoError(t, err)

	reply, err := AskAwait[*testMessage, int](
		context.Background(), ref, &testMessage{value: 21},
		time.Second,
	)
	require.NoError(t, err)
	require.Equal(t, 42, reply)

	select {
	case pth := <-setupRuns:
		require.Equal(t, "movie://setup/user/doubler", pth)
	default:
		t.Fatal("setup never ran")
	}
}

// TestStopPrecedence tests that a stop signal enqueued while user messages
// are pending prevents any further user message from being dispatched.
func TestStopPrecedence(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t, "stop-precedence")

	var (
		mu        sync.Mutex
		processed int
	)
	started := make(chan struct{}, 1)
	behavior := NewFunctionBehavior(func(ctx *Context[*testMessage],
		msg *testMessage) Transition[*testMessage] {

		mu.Lock()
		processed++
		first := processed == 1
		mu.Unlock()

		if first {
			started <- struct{}{}

			// Hold the step long enough for the stop to be
			// enqueued behind us.
			time.Sleep(200 * time.Millisecond)
		}

		return Same[*testMessage]()
	})

	ref, err := Spawn(sys, "slow", behavior)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		ref.Tell(context.Background(), &testMessage{value: i})
	}

	<-started
	require.True(t, sys.StopActor(ref))

	require.Eventually(t, func() bool {
		_, ok := RefFor[*testMessage](sys, "/user/slow")

		return !ok
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, processed,
		"user messages dispatched after stop")
}

// TestStopTransitionTerminates tests that returning Stop terminates the
// actor and later tells land in dead letters.
func TestStopTransitionTerminates(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t, "stop-transition")

	behavior := NewFunctionBehavior(func(ctx *Context[*testMessage],
		msg *testMessage) Transition[*testMessage] {

		return Stop[*testMessage]()
	})

	ref, err := Spawn(sys, "oneshot", behavior)
	require.NoError(t, err)

	ref.Tell(context.Background(), &testMessage{})

	require.Eventually(t, func() bool {
		_, ok := RefFor[*testMessage](sys, "/user/oneshot")

		return !ok
	}, 5*time.Second, 10*time.Millisecond)

	before := sys.Stats().DeadLetters
	ref.Tell(context.Background(), &testMessage{value: 7})

	require.Eventually(t, func() bool {
		return sys.Stats().DeadLetters > before
	}, 5*time.Second, 10*time.Millisecond)
}

// TestSpawnChildTree tests child spawning, path nesting, and stop
// cascading through the tree.
func TestSpawnChildTree(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t, "tree")

	childPath := make(chan string, 1)
	terminated := make(chan ActorPath, 1)

	parent := NewSetupBehavior(func(
		ctx *Context[*testMessage]) Behavior[*testMessage] {

		child, err := SpawnChild[*testMessage](
			ctx, "leaf",
			NewFunctionBehavior(func(c *Context[*testMessage],
				m *testMessage) Transition[*testMessage] {

				return Same[*testMessage]()
			}),
		)
		if err == nil {
			childPath <- child.Path().String()
		}

		ctx.WatchChild("leaf", func(pth ActorPath) {
			terminated <- pth
		})

		return NewFunctionBehavior(func(c *Context[*testMessage],
			m *testMessage) Transition[*testMessage] {

			c.StopChild("leaf")

			return Same[*testMessage]()
		})
	})

	ref, err := Spawn(sys, "parent", parent)
	require.NoError(t, err)

	select {
	case pth := <-childPath:
		require.Equal(t, "movie://tree/user/parent/leaf", pth)
	case <-time.After(5 * time.Second):
		t.Fatal("child never spawned")
	}

	// The child is resolvable until its parent stops it.
	require.Eventually(t, func() bool {
		_, ok := RefFor[*testMessage](sys, "/user/parent/leaf")

		return ok
	}, 5*time.Second, 10*time.Millisecond)

	ref.Tell(context.Background(), &testMessage{})

	select {
	case pth := <-terminated:
		require.Equal(t, "leaf", pth.Name())
	case <-time.After(5 * time.Second):
		t.Fatal("watch callback never fired")
	}
}

// TestSpawnMain tests the typed main actor at /user.
func TestSpawnMain(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t, "main")

	behavior := NewFunctionBehavior(func(ctx *Context[*testMessage],
		msg *testMessage) Transition[*testMessage] {

		ctx.Reply(msg.value + 1)

		return Same[*testMessage]()
	})

	main, err := SpawnMain(sys, behavior)
	require.NoError(t, err)
	require.Equal(t, "movie://main/user", main.Path().String())

	reply, err := AskAwait[*testMessage, int](
		context.Background(), main, &testMessage{value: 1},
		time.Second,
	)
	require.NoError(t, err)
	require.Equal(t, 2, reply)

	_, err = SpawnMain(sys, behavior)
	require.ErrorIs(t, err, ErrMainExists)
}

// TestShutdownFailsPendingAsks tests that system shutdown fails
// outstanding asks with ErrShutdown.
func TestShutdownFailsPendingAsks(t *testing.T) {
	t.Parallel()

	sys := NewNamedActorSystem("shutdown-asks")

	// A behavior that never replies keeps the ask pending.
	silent := NewFunctionBehavior(func(ctx *Context[*testMessage],
		msg *testMessage) Transition[*testMessage] {

		return Same[*testMessage]()
	})

	ref, err := Spawn(sys, "silent", silent)
	require.NoError(t, err)

	future := Ask[*testMessage, string](
		context.Background(), ref, &testMessage{}, time.Minute,
	)

	ctx, cancel := context.WithTimeout(
		context.Background(), 5*time.Second,
	)
	defer cancel()
	require.NoError(t, sys.Shutdown(ctx))

	_, err = future.AwaitTimeout(5 * time.Second).Unpack()
	require.ErrorIs(t, err, ErrShutdown)

	// Spawns after shutdown are refused.
	_, err = Spawn(sys, "late", silent)
	require.ErrorIs(t, err, ErrShutdown)
}
