package remoting

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/roasbeef/marquee/actor"
	"github.com/roasbeef/marquee/wire"
	"github.com/stretchr/testify/require"
)

// echoReq crosses the wire in remoting tests.
type echoReq struct {
	actor.BaseMessage

	Msg string `json:"msg"`
}

func (m *echoReq) MessageType() string {
	return "remoting.echoReq"
}

// echoResp is the reply type for echoReq.
type echoResp struct {
	actor.BaseMessage

	Msg string `json:"msg"`
}

func (m *echoResp) MessageType() string {
	return "remoting.echoResp"
}

// seqMsg carries a sequence number for ordering tests.
type seqMsg struct {
	actor.BaseMessage

	Seq int `json:"seq"`
}

func (m *seqMsg) MessageType() string {
	return "remoting.seqMsg"
}

// registerTestMessages registers the wire types on use; registration is
// idempotent so every test can call it.
func registerTestMessages() {
	wire.RegisterMessage[*echoReq]()
	wire.RegisterMessage[*echoResp]()
	wire.RegisterMessage[*seqMsg]()
}

// newRemoteSystem creates a system with remoting enabled on an OS-assigned
// port, cleaned up with the test.
func newRemoteSystem(t *testing.T, name string) (*actor.ActorSystem,
	*Remoting) {

	t.Helper()

	sys := actor.NewNamedActorSystem(name)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(
			context.Background(), 10*time.Second,
		)
		defer cancel()

		require.NoError(t, sys.Shutdown(ctx))
	})

	r, err := Enable(sys, "127.0.0.1", 0)
	require.NoError(t, err)

	return sys, r
}

// spawnEcho spawns a /user/echo actor that answers echoReq with echoResp.
func spawnEcho(t *testing.T, sys *actor.ActorSystem) {
	t.Helper()

	behavior := actor.NewFunctionBehavior(func(ctx *actor.Context[*echoReq],
		msg *echoReq) actor.Transition[*echoReq] {

		ctx.Reply(&echoResp{Msg: msg.Msg})

		return actor.Same[*echoReq]()
	})

	_, err := actor.Spawn(sys, "echo", behavior)
	require.NoError(t, err)
}

// TestEnableIdempotent tests that enabling remoting twice returns the same
// extension and that the system address is rewritten to the remote form.
func TestEnableIdempotent(t *testing.T) {
	t.Parallel()

	sys, r := newRemoteSystem(t, "enable-idem")

	require.NotZero(t, r.LocalPort())
	require.True(t, sys.Address().IsRemote())

	again, err := Enable(sys, "127.0.0.1", 0)
	require.NoError(t, err)
	require.Same(t, r, again)
}

// TestRemoteEchoAsk tests the full remote ask round trip between two
// systems over real TCP.
func TestRemoteEchoAsk(t *testing.T) {
	t.Parallel()

	registerTestMessages()

	server, _ := newRemoteSystem(t, "echo-server")
	_, clientR := newRemoteSystem(t, "echo-client")

	spawnEcho(t, server)

	uri := fmt.Sprintf("movie.tcp://echo-server@127.0.0.1:%d/user/echo",
		server.Address().Endpoint.UnwrapOr(actor.Endpoint{}).Port)

	ref, err := ActorFor[*echoReq](clientR, uri)
	require.NoError(t, err)

	resp, err := actor.AskAwait[*echoReq, *echoResp](
		context.Background(), ref, &echoReq{Msg: "hi"},
		5*time.Second,
	)
	require.NoError(t, err)
	require.Equal(t, "hi", resp.Msg)
}

// TestRemoteOrdering tests that messages from one sender to one remote
// actor arrive in send order: consistent stripe routing pins the target
// path to a single TCP stream.
func TestRemoteOrdering(t *testing.T) {
	t.Parallel()

	registerTestMessages()

	server, _ := newRemoteSystem(t, "order-server")
	_, clientR := newRemoteSystem(t, "order-client")

	var (
		mu   sync.Mutex
		seen []int
	)
	collector := actor.NewFunctionBehavior(func(
		ctx *actor.Context[*seqMsg],
		msg *seqMsg) actor.Transition[*seqMsg] {

		mu.Lock()
		seen = append(seen, msg.Seq)
		mu.Unlock()

		return actor.Same[*seqMsg]()
	})
	_, err := actor.Spawn(server, "collector", collector)
	require.NoError(t, err)

	uri := fmt.Sprintf(
		"movie.tcp://order-server@127.0.0.1:%d/user/collector",
		server.Address().Endpoint.UnwrapOr(actor.Endpoint{}).Port,
	)
	ref, err := ActorFor[*seqMsg](clientR, uri)
	require.NoError(t, err)

	// Warm the stripe so the burst below rides an established
	// connection rather than the bounded pre-handshake buffer.
	ref.Tell(context.Background(), &seqMsg{Seq: -1})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(seen) == 1
	}, 10*time.Second, 10*time.Millisecond)

	const count = 300
	for i := 0; i < count; i++ {
		ref.Tell(context.Background(), &seqMsg{Seq: i})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(seen) == count+1
	}, 15*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, seq := range seen[1:] {
		require.Equal(t, i, seq, "sequence out of order")
	}
}

// TestActorForLocalShortCircuit tests that a URI addressing this system
// resolves to the local actor rather than a remote reference.
func TestActorForLocalShortCircuit(t *testing.T) {
	t.Parallel()

	registerTestMessages()

	sys, r := newRemoteSystem(t, "local-loop")
	spawnEcho(t, sys)

	uri := sys.Address().String() + "/user/echo"
	ref, err := ActorFor[*echoReq](r, uri)
	require.NoError(t, err)

	_, isRemote := ref.(*RemoteRef[*echoReq])
	require.False(t, isRemote, "own-system URI must resolve locally")

	resp, err := actor.AskAwait[*echoReq, *echoResp](
		context.Background(), ref, &echoReq{Msg: "loop"},
		5*time.Second,
	)
	require.NoError(t, err)
	require.Equal(t, "loop", resp.Msg)
}

// TestConsistentStripeRouting tests that a fixed path always routes to the
// same stripe while distinct stripes stay within bounds.
func TestConsistentStripeRouting(t *testing.T) {
	t.Parallel()

	_, r := newRemoteSystem(t, "routing")

	// An unreachable peer: stripes dial lazily and just retry in the
	// background, which routing decisions do not depend on.
	pool := r.PoolFor(actor.Endpoint{Host: "127.0.0.1", Port: 1})
	require.LessOrEqual(t, pool.Size(), maxStripes)
	require.Positive(t, pool.Size())

	pth := "movie.tcp://routing@127.0.0.1:1/user/pinned"
	first := pool.ConnectionFor(pth)
	for i := 0; i < 50; i++ {
		require.Same(t, first, pool.ConnectionFor(pth))
	}

	// Stripe indexing wraps modulo N.
	require.Same(t, pool.Stripe(0), pool.Stripe(pool.Size()))
}

// TestRemoteAskTimeout tests that an ask against a peer that never answers
// fails with ErrAskTimeout rather than hanging.
func TestRemoteAskTimeout(t *testing.T) {
	t.Parallel()

	registerTestMessages()

	_, clientR := newRemoteSystem(t, "timeout-client")

	// Nothing listens on the target path; the peer itself is this
	// process's server so the connection comes up but the ask is
	// dropped at dispatch.
	server, _ := newRemoteSystem(t, "timeout-server")
	uri := fmt.Sprintf(
		"movie.tcp://timeout-server@127.0.0.1:%d/user/nobody",
		server.Address().Endpoint.UnwrapOr(actor.Endpoint{}).Port,
	)

	ref, err := ActorFor[*echoReq](clientR, uri)
	require.NoError(t, err)

	_, err = actor.AskAwait[*echoReq, *echoResp](
		context.Background(), ref, &echoReq{Msg: "x"},
		300*time.Millisecond,
	)
	require.ErrorIs(t, err, actor.ErrAskTimeout)
}

// TestReconnectAfterPeerRestart tests that the pool re-establishes a
// connection after the peer goes away and comes back on the same port, and
// that subsequent sends succeed.
func TestReconnectAfterPeerRestart(t *testing.T) {
	t.Parallel()

	registerTestMessages()

	firstServer := actor.NewNamedActorSystem("restart-server")
	firstR, err := Enable(firstServer, "127.0.0.1", 0)
	require.NoError(t, err)
	port := firstR.LocalPort()
	spawnEcho(t, firstServer)

	_, clientR := newRemoteSystem(t, "restart-client")

	uri := fmt.Sprintf(
		"movie.tcp://restart-server@127.0.0.1:%d/user/echo", port,
	)
	ref, err := ActorFor[*echoReq](clientR, uri)
	require.NoError(t, err)

	resp, err := actor.AskAwait[*echoReq, *echoResp](
		context.Background(), ref, &echoReq{Msg: "one"},
		5*time.Second,
	)
	require.NoError(t, err)
	require.Equal(t, "one", resp.Msg)

	// Take the first server down entirely.
	ctx, cancel := context.WithTimeout(
		context.Background(), 10*time.Second,
	)
	require.NoError(t, firstServer.Shutdown(ctx))
	cancel()

	// Bring a replacement up on the same port. The port can linger
	// briefly, so retry the bind.
	var secondServer *actor.ActorSystem
	require.Eventually(t, func() bool {
		sys := actor.NewNamedActorSystem("restart-server")
		if _, err := Enable(sys, "127.0.0.1", port); err != nil {
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(), 5*time.Second,
			)
			_ = sys.Shutdown(shutdownCtx)
			cancel()

			return false
		}
		secondServer = sys

		return true
	}, 15*time.Second, 200*time.Millisecond)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(
			context.Background(), 10*time.Second,
		)
		defer cancel()

		require.NoError(t, secondServer.Shutdown(ctx))
	})

	spawnEcho(t, secondServer)

	// In-flight messages at disconnect may be lost (at-most-once), but
	// fresh asks must succeed once the pool reconnects.
	require.Eventually(t, func() bool {
		resp, err := actor.AskAwait[*echoReq, *echoResp](
			context.Background(), ref, &echoReq{Msg: "two"},
			2*time.Second,
		)

		return err == nil && resp.Msg == "two"
	}, 30*time.Second, 100*time.Millisecond)
}
