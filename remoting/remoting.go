// Package remoting makes actor references usable across TCP boundaries
// without changing calling code: outbound refs serialize into wire
// envelopes and ride a striped connection pool, while an inbound server
// resolves envelopes against the local path registry and delivers them to
// mailboxes. Delivery is at-most-once, point-to-point, with no routing
// overlay.
package remoting

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/marquee/actor"
	"github.com/roasbeef/marquee/config"
	"github.com/roasbeef/marquee/wire"
)

// ErrProtocolViolation indicates a peer broke the framing or handshake
// protocol; the connection closes and the pool reconnects with backoff.
var ErrProtocolViolation = errors.New("protocol violation")

// maxStripes caps the per-peer stripe count regardless of configuration.
const maxStripes = 32

// pathCacheSize bounds the parsed-path LRU shared by refs and the inbound
// dispatcher.
const pathCacheSize = 1024

// Config carries the remoting knobs, populated from the system
// configuration and overridable per field.
type Config struct {
	// Host is the listen host for the inbound server.
	Host string

	// Port is the listen port; 0 picks an OS-assigned port.
	Port int

	// Stripes is the number of parallel connections per peer. Defaults
	// to the CPU count, capped at 32.
	Stripes int

	// HeartbeatInterval is how often a READY connection emits a
	// heartbeat frame.
	HeartbeatInterval time.Duration

	// HeartbeatTimeout closes the connection when no frame at all
	// arrives within it.
	HeartbeatTimeout time.Duration

	// MaxFrameSize bounds inbound frame payloads.
	MaxFrameSize uint32

	// WriteBufferSize bounds each connection's write queue.
	WriteBufferSize int

	// PendingBufferSize bounds the messages buffered while a connection
	// is still connecting or handshaking.
	PendingBufferSize int

	// ReconnectBackoff shapes redial delays after a connection drops.
	ReconnectBackoff actor.BackoffConfig
}

// DefaultConfig returns the canonical remoting defaults.
func DefaultConfig() Config {
	stripes := runtime.NumCPU()
	if stripes > maxStripes {
		stripes = maxStripes
	}

	return Config{
		Host:              "127.0.0.1",
		Port:              0,
		Stripes:           stripes,
		HeartbeatInterval: 2 * time.Second,
		HeartbeatTimeout:  6 * time.Second,
		MaxFrameSize:      wire.DefaultMaxFrameSize,
		WriteBufferSize:   512,
		PendingBufferSize: 256,
		ReconnectBackoff: actor.BackoffConfig{
			Min:    100 * time.Millisecond,
			Max:    30 * time.Second,
			Factor: 2.0,
		},
	}
}

// configFrom overlays the system configuration onto the defaults.
func configFrom(cfg *config.Config) Config {
	out := DefaultConfig()

	if cfg.HasPath("remoting.host") {
		out.Host = cfg.GetString("remoting.host", out.Host)
	}
	if cfg.HasPath("remoting.port") {
		out.Port = cfg.GetInt("remoting.port", out.Port)
	}
	if cfg.HasPath("remoting.stripes") {
		out.Stripes = cfg.GetInt("remoting.stripes", out.Stripes)
	}
	if cfg.HasPath("remoting.heartbeat-interval") {
		out.HeartbeatInterval = cfg.GetDuration(
			"remoting.heartbeat-interval", out.HeartbeatInterval,
		)
	}
	if cfg.HasPath("remoting.heartbeat-timeout") {
		out.HeartbeatTimeout = cfg.GetDuration(
			"remoting.heartbeat-timeout", out.HeartbeatTimeout,
		)
	}
	if cfg.HasPath("remoting.max-frame-size") {
		out.MaxFrameSize = uint32(cfg.GetInt(
			"remoting.max-frame-size",
			int(out.MaxFrameSize),
		))
	}

	if out.Stripes <= 0 {
		out.Stripes = 1
	}
	if out.Stripes > maxStripes {
		out.Stripes = maxStripes
	}

	return out
}

// enableParams stashes the host/port passed to Enable so the extension's
// create function can see them. Entries are removed when the extension
// stops.
var enableParams sync.Map // *actor.ActorSystem -> actor.Endpoint

// remotingID is the extension identity: one Remoting per system.
var remotingID = actor.NewExtensionID(
	"remoting",
	func(sys *actor.ActorSystem) (*Remoting, error) {
		cfg := configFrom(sys.Config())
		if ep, ok := enableParams.Load(sys); ok {
			endpoint := ep.(actor.Endpoint)
			cfg.Host = endpoint.Host
			cfg.Port = endpoint.Port
		}

		return newRemoting(sys, cfg)
	},
)

// Remoting is the per-system remoting extension: the inbound server, the
// per-peer connection pools, the pending-ask table, and the parsed-path
// cache.
type Remoting struct {
	sys *actor.ActorSystem
	cfg Config

	listener  net.Listener
	localPort int

	poolMu sync.Mutex
	pools  map[string]*Pool

	// inMu guards inbound, the live accepted sockets, so Stop can tear
	// them down instead of waiting out their read deadlines.
	inMu    sync.Mutex
	inbound map[net.Conn]struct{}

	pendingMu sync.Mutex
	pending   map[string]*pendingAsk

	pathCache *lru.Cache[string, actor.ActorPath]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Enable starts remoting for the system: it binds the inbound listener,
// rewrites the system address to the remote form, and returns the
// extension. Enable is idempotent per system; subsequent calls return the
// existing extension regardless of arguments.
func Enable(sys *actor.ActorSystem, host string, port int) (*Remoting,
	error) {

	enableParams.LoadOrStore(sys, actor.Endpoint{Host: host, Port: port})

	return actor.LoadExtension(sys, remotingID)
}

// EnableFromConfig starts remoting using the system configuration's
// remoting.host and remoting.port values.
func EnableFromConfig(sys *actor.ActorSystem) (*Remoting, error) {
	return actor.LoadExtension(sys, remotingID)
}

// newRemoting binds the listener and starts the accept loop.
func newRemoting(sys *actor.ActorSystem, cfg Config) (*Remoting, error) {
	listener, err := net.Listen(
		"tcp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	)
	if err != nil {
		return nil, fmt.Errorf("remoting listen: %w", err)
	}

	pathCache, err := lru.New[string, actor.ActorPath](pathCacheSize)
	if err != nil {
		listener.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	r := &Remoting{
		sys:       sys,
		cfg:       cfg,
		listener:  listener,
		localPort: listener.Addr().(*net.TCPAddr).Port,
		pools:     make(map[string]*Pool),
		inbound:   make(map[net.Conn]struct{}),
		pending:   make(map[string]*pendingAsk),
		pathCache: pathCache,
		ctx:       ctx,
		cancel:    cancel,
	}

	sys.SetAddress(actor.NewRemoteAddress(
		sys.Name(), cfg.Host, r.localPort,
	))

	r.wg.Add(1)
	go r.serve()

	log.InfoS(ctx, "Remoting enabled",
		"system", sys.Name(),
		"host", cfg.Host, "port", r.localPort,
		"stripes", cfg.Stripes)

	return r, nil
}

// LocalPort returns the bound listen port. With Port 0 in the config this
// is the OS-assigned port.
func (r *Remoting) LocalPort() int {
	return r.localPort
}

// System returns the owning actor system.
func (r *Remoting) System() *actor.ActorSystem {
	return r.sys
}

// Stop shuts remoting down: the listener closes, every pool's connections
// close, and pending asks fail. Implements actor.Extension; the system
// calls it during shutdown.
func (r *Remoting) Stop(ctx context.Context) error {
	r.cancel()
	r.listener.Close()

	r.inMu.Lock()
	for sock := range r.inbound {
		sock.Close()
	}
	r.inMu.Unlock()

	r.poolMu.Lock()
	pools := r.pools
	r.pools = nil
	r.poolMu.Unlock()
	for _, pool := range pools {
		pool.close()
	}

	r.pendingMu.Lock()
	pending := r.pending
	r.pending = nil
	r.pendingMu.Unlock()
	for _, ask := range pending {
		ask.fail(actor.ErrShutdown)
	}

	enableParams.Delete(r.sys)

	r.wg.Wait()

	log.InfoS(ctx, "Remoting stopped", "system", r.sys.Name())

	return nil
}

// parsePath parses a path URI through the shared LRU cache.
func (r *Remoting) parsePath(s string) (actor.ActorPath, error) {
	if pth, ok := r.pathCache.Get(s); ok {
		return pth, nil
	}

	pth, err := r.sys.Address().ParsePath(s)
	if err != nil {
		return actor.ActorPath{}, err
	}
	r.pathCache.Add(s, pth)

	return pth, nil
}

// PoolFor returns (creating if needed) the striped pool for a peer
// endpoint.
func (r *Remoting) PoolFor(ep actor.Endpoint) *Pool {
	key := ep.String()

	r.poolMu.Lock()
	defer r.poolMu.Unlock()

	if r.pools == nil {
		return newPool(r, key)
	}

	pool, ok := r.pools[key]
	if !ok {
		pool = newPool(r, key)
		r.pools[key] = pool
	}

	return pool
}

// ActorFor resolves a path URI to a typed reference. Paths that point at
// this system short-circuit to the local actor; anything else becomes a
// remote reference riding the peer's pool. This is a package-level generic
// function because Go methods cannot introduce type parameters.
func ActorFor[M actor.Message](r *Remoting, uri string) (actor.ActorRef[M],
	error) {

	pth, err := r.parsePath(uri)
	if err != nil {
		return nil, err
	}

	local := r.sys.Address()
	if pth.Address == local || !pth.Address.IsRemote() {
		ref, ok := actor.RefFor[M](r.sys, uri)
		if !ok {
			return nil, fmt.Errorf("no local actor at %q", uri)
		}

		return ref, nil
	}

	endpoint := pth.Address.Endpoint.UnwrapOr(actor.Endpoint{})

	return &RemoteRef[M]{
		r:    r,
		pth:  pth,
		pool: r.PoolFor(endpoint),
	}, nil
}

// pendingAsk tracks one outstanding remote ask keyed by correlation id.
type pendingAsk struct {
	promise actor.Promise[any]
}

// complete fulfils the ask with the decoded reply.
func (p *pendingAsk) complete(value any) bool {
	return p.promise.Complete(fn.Ok(value))
}

// fail fails the ask.
func (p *pendingAsk) fail(err error) bool {
	return p.promise.Complete(fn.Err[any](err))
}

// registerAsk files a pending ask under a correlation id with a timeout.
func (r *Remoting) registerAsk(correlationID string,
	timeout time.Duration) (*pendingAsk, actor.Future[any]) {

	ask := &pendingAsk{promise: actor.NewPromise[any]()}

	r.pendingMu.Lock()
	if r.pending == nil {
		r.pendingMu.Unlock()
		ask.fail(actor.ErrShutdown)

		return ask, ask.promise.Future()
	}
	r.pending[correlationID] = ask
	r.pendingMu.Unlock()

	r.sys.Scheduler().ScheduleOnce(timeout, func() {
		if r.takeAsk(correlationID) != nil {
			ask.fail(actor.ErrAskTimeout)
		}
	})

	return ask, ask.promise.Future()
}

// takeAsk removes and returns the pending ask for a correlation id.
func (r *Remoting) takeAsk(correlationID string) *pendingAsk {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	if r.pending == nil {
		return nil
	}

	ask, ok := r.pending[correlationID]
	if !ok {
		return nil
	}
	delete(r.pending, correlationID)

	return ask
}
