package actor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/roasbeef/marquee/config"
	"github.com/roasbeef/marquee/sched"
)

// newActorID mints a unique actor id.
func newActorID() string {
	return uuid.NewString()
}

// ActorSystem owns the actor tree and the services actors depend on: the
// path registry, the scheduler, the dispatchers, the extension table, and
// the dead letter actor. Everything is scoped to the system; nothing is
// process-global except the wire message registry.
type ActorSystem struct {
	name string
	cfg  *config.Config

	addrMu sync.RWMutex
	addr   Address

	scheduler   *sched.Scheduler
	registry    *PathRegistry
	dispatchers *dispatcherSet

	defaultSupervision SupervisionConfig
	mailboxCapacity    int

	root   *cell[Message]
	sysGrd *cell[Message]

	userMu sync.Mutex
	user   internalCell

	deadLetters     ActorRef[Message]
	deadLetterCount atomic.Uint64

	extMu      sync.Mutex
	extensions map[any]*extensionSlot
	extOrder   []any

	askMu sync.Mutex
	asks  map[*askSink]struct{}

	ctx    context.Context
	cancel context.CancelFunc

	cells        sync.WaitGroup
	shutdownOnce sync.Once
}

// deadLetterMsg wraps an undeliverable message for the dead letter actor.
type deadLetterMsg struct {
	BaseMessage

	target ActorPath
	msg    Message
}

// MessageType implements Message.
func (m *deadLetterMsg) MessageType() string { return "deadLetter" }

// guardianBehavior is the no-op behavior of the root and /system guardians.
func guardianBehavior() Behavior[Message] {
	return NewFunctionBehavior(func(ctx *Context[Message],
		msg Message) Transition[Message] {

		return Same[Message]()
	})
}

// NewActorSystem creates a system from the given configuration, falling
// back to defaults for any unset path. An empty name gets an auto-generated
// one.
func NewActorSystem(cfg *config.Config) *ActorSystem {
	if cfg == nil {
		cfg = config.Default()
	}
	cfg = cfg.WithFallback(config.Default())

	name := cfg.GetString("name")
	if name == "" {
		name = "system-" + uuid.NewString()[:8]
	}

	ctx, cancel := context.WithCancel(context.Background())

	sys := &ActorSystem{
		name:            name,
		cfg:             cfg,
		addr:            NewLocalAddress(name),
		registry:        newPathRegistry(),
		dispatchers:     newDispatcherSet(),
		mailboxCapacity: DefaultMailboxCapacity,
		extensions:      make(map[any]*extensionSlot),
		asks:            make(map[*askSink]struct{}),
		ctx:             ctx,
		cancel:          cancel,
	}

	sys.defaultSupervision = supervisionFromConfig(cfg)
	sys.scheduler = sched.New(sys.execute)

	// Build the guardian skeleton: root, then /system with its dead
	// letter actor. The /user guardian is created on first spawn so a
	// typed main actor can take its place.
	sys.root = sys.newGuardian(nil, "", sys.addr.RootPath())
	sys.sysGrd = sys.newGuardian(
		sys.root, "system", sys.addr.RootPath().Child("system"),
	)

	sys.deadLetters = sys.spawnDeadLetters()

	log.InfoS(ctx, "Actor system started",
		"system", name, "address", sys.addr.String())

	return sys
}

// NewNamedActorSystem is a convenience for tests and small programs: a
// default-configured system with the given name.
func NewNamedActorSystem(name string) *ActorSystem {
	return NewActorSystem(config.New(map[string]any{"name": name}))
}

// newGuardian builds and registers a kernel guardian cell. Guardians are
// supervised with the stop strategy: a failure that reaches one is
// unhandled by definition.
func (as *ActorSystem) newGuardian(parent internalCell, name string,
	pth ActorPath) *cell[Message] {

	opts := spawnOptions{
		supervision:     SupervisionConfig{Strategy: StrategyStop},
		mailboxCapacity: as.mailboxCapacity,
	}
	c := newCell[Message](as, parent, name, pth, guardianBehavior(), opts)

	if parent != nil {
		// Guardian names are kernel-chosen and cannot collide.
		_ = parent.addChild(name, c)
	}

	as.cells.Add(1)
	as.registry.register(registryEntry{deliverable: c.ref, cell: c})
	c.schedule()

	return c
}

// spawnDeadLetters creates the /system/dead-letters actor. Its behavior
// logs and counts; its own failures can only stop it, never loop back into
// dead letter delivery.
func (as *ActorSystem) spawnDeadLetters() ActorRef[Message] {
	behavior := NewFunctionBehavior(func(ctx *Context[Message],
		msg Message) Transition[Message] {

		n := as.deadLetterCount.Add(1)

		if dl, ok := msg.(*deadLetterMsg); ok {
			log.DebugS(ctx.Context(), "Dead letter",
				"target", dl.target.String(),
				"msg_type", dl.msg.MessageType(),
				"total", n)
		}

		return Same[Message]()
	})

	ref, err := spawnUnder[Message](
		as, as.sysGrd, "dead-letters", behavior,
		WithSupervision(SupervisionConfig{Strategy: StrategyStop}),
	)
	if err != nil {
		// The /system guardian is empty at this point; a collision
		// is impossible.
		panic(fmt.Sprintf("dead letters spawn: %v", err))
	}

	return ref
}

// Name returns the system name.
func (as *ActorSystem) Name() string { return as.name }

// Config returns the system's effective configuration.
func (as *ActorSystem) Config() *config.Config { return as.cfg }

// Address returns the system's current address. It starts local and is
// rewritten to the remote form when remoting is enabled.
func (as *ActorSystem) Address() Address {
	as.addrMu.RLock()
	defer as.addrMu.RUnlock()

	return as.addr
}

// SetAddress rewrites the system address. The remoting extension calls this
// once its listener is bound.
func (as *ActorSystem) SetAddress(addr Address) {
	as.addrMu.Lock()
	as.addr = addr
	as.addrMu.Unlock()

	log.InfoS(as.ctx, "System address updated",
		"address", addr.String())
}

// Registry returns the system's path registry.
func (as *ActorSystem) Registry() *PathRegistry { return as.registry }

// Scheduler returns the system's timer service.
func (as *ActorSystem) Scheduler() *sched.Scheduler { return as.scheduler }

// Context returns the system's lifecycle context, cancelled at shutdown.
func (as *ActorSystem) Context() context.Context { return as.ctx }

// DeadLetters returns the dead letter actor's reference.
func (as *ActorSystem) DeadLetters() ActorRef[Message] {
	return as.deadLetters
}

// execute submits a task to the system's default dispatcher. Future
// callbacks and scheduler tasks run through here.
func (as *ActorSystem) execute(task func()) {
	as.dispatchers.parallel.execute(task)
}

// deadLetter routes an undeliverable message to the dead letter actor.
func (as *ActorSystem) deadLetter(target ActorPath, msg Message) {
	dl := as.deadLetters
	if dl == nil || as.ctx.Err() != nil {
		as.deadLetterCount.Add(1)
		return
	}

	// Avoid a delivery loop when the dead letter actor itself is the
	// unreachable target.
	if target.Name() == "dead-letters" {
		as.deadLetterCount.Add(1)
		return
	}

	dl.Tell(context.Background(), &deadLetterMsg{target: target, msg: msg})
}

// cellDone marks one actor as fully terminated.
func (as *ActorSystem) cellDone() {
	as.cells.Done()
}

// trackAsk registers a pending ask so shutdown can fail it with
// ErrShutdown. The returned func removes the registration.
func (as *ActorSystem) trackAsk(s *askSink) func() {
	as.askMu.Lock()
	if as.asks == nil {
		as.askMu.Unlock()
		s.failReply(ErrShutdown)

		return func() {}
	}
	as.asks[s] = struct{}{}
	as.askMu.Unlock()

	return func() {
		as.askMu.Lock()
		if as.asks != nil {
			delete(as.asks, s)
		}
		as.askMu.Unlock()
	}
}

// ensureUserGuardian lazily creates the /user guardian for systems that
// never declare a typed main actor.
func (as *ActorSystem) ensureUserGuardian() internalCell {
	as.userMu.Lock()
	defer as.userMu.Unlock()

	if as.user == nil {
		as.user = as.newGuardian(
			as.root, "user", as.addr.RootPath().Child("user"),
		)
	}

	return as.user
}

// SpawnMain installs a user-defined main behavior as the /user actor of the
// declared message type. Sending to the returned ref is the "system <<
// msg" entry point. SpawnMain must run before any top-level Spawn and can
// only run once.
func SpawnMain[M Message](as *ActorSystem, behavior Behavior[M],
	opts ...SpawnOption) (ActorRef[M], error) {

	as.userMu.Lock()
	defer as.userMu.Unlock()

	if as.user != nil {
		return nil, ErrMainExists
	}

	ref, err := spawnUnder[M](as, as.root, "user", behavior, opts...)
	if err != nil {
		return nil, err
	}

	mainCell, _ := as.registry.resolveCell(
		as.addr.RootPath().Child("user"),
	)
	as.user = mainCell

	return ref, nil
}

// Spawn creates a top-level actor under /user. Names under one parent are
// unique; an empty name gets a generated stable one.
func Spawn[M Message](as *ActorSystem, name string, behavior Behavior[M],
	opts ...SpawnOption) (ActorRef[M], error) {

	return spawnUnder[M](as, as.ensureUserGuardian(), name, behavior,
		opts...)
}

// SpawnSystem creates an internal actor under /system. Extensions use this
// for their helper actors.
func SpawnSystem[M Message](as *ActorSystem, name string,
	behavior Behavior[M], opts ...SpawnOption) (ActorRef[M], error) {

	return spawnUnder[M](as, as.sysGrd, name, behavior, opts...)
}

// StopActor requests termination of the referenced local actor. It returns
// false if the actor is unknown to this system, for example because it
// already terminated.
func (as *ActorSystem) StopActor(ref BaseActorRef) bool {
	pth, ok := as.registry.PathFor(ref.ID())
	if !ok {
		return false
	}

	target, ok := as.registry.resolveCell(pth)
	if !ok {
		return false
	}
	target.sendSystem(stopMsg{})

	return true
}

// RefFor resolves a local path string to a typed reference.
func RefFor[M Message](as *ActorSystem, path string) (ActorRef[M], bool) {
	d, ok := as.registry.ResolveString(path)
	if !ok {
		return nil, false
	}

	ref, ok := d.(ActorRef[M])

	return ref, ok
}

// spawnUnder allocates, registers, and starts a cell beneath the given
// parent.
func spawnUnder[M Message](as *ActorSystem, parent internalCell, name string,
	behavior Behavior[M], opts ...SpawnOption) (ActorRef[M], error) {

	if as.ctx.Err() != nil {
		return nil, ErrShutdown
	}

	options := spawnOptions{
		supervision:     as.defaultSupervision,
		mailboxCapacity: as.mailboxCapacity,
	}
	for _, opt := range opts {
		opt(&options)
	}

	if name == "" {
		name = "anon-" + uuid.NewString()[:8]
	}

	pth := parent.cellPath().Child(name)
	c := newCell(as, parent, name, pth, behavior, options)

	if err := parent.addChild(name, c); err != nil {
		return nil, err
	}

	as.cells.Add(1)
	as.registry.register(registryEntry{deliverable: c.ref, cell: c})
	c.schedule()

	log.DebugS(as.ctx, "Actor spawned",
		"actor_id", c.id, "path", pth.String())

	return c.ref, nil
}

// Stats is a point-in-time snapshot of system health counters.
type Stats struct {
	// Actors is the number of live, registered actors.
	Actors int

	// DeadLetters counts messages routed to the dead letter actor.
	DeadLetters uint64
}

// Stats returns current system counters.
func (as *ActorSystem) Stats() Stats {
	return Stats{
		Actors:      as.registry.Len(),
		DeadLetters: as.deadLetterCount.Load(),
	}
}

// shutdownFromFailure shuts the system down after an escalation reached the
// root guardian.
func (as *ActorSystem) shutdownFromFailure() {
	ctx, cancel := context.WithTimeout(
		context.Background(), 10*time.Second,
	)
	defer cancel()

	_ = as.Shutdown(ctx)
}

// Shutdown gracefully stops the system: pending asks fail with ErrShutdown,
// extensions stop in reverse creation order, the guardian tree terminates
// root-down, and the call blocks until every actor is gone or the context
// expires. Safe for concurrent use; only the first call does the work.
func (as *ActorSystem) Shutdown(ctx context.Context) error {
	var err error

	as.shutdownOnce.Do(func() {
		log.InfoS(ctx, "Actor system shutting down",
			"system", as.name)

		// Refuse new spawns and extension loads first so the
		// WaitGroup cannot grow after we snapshot it.
		as.cancel()

		// Fail every pending ask.
		as.askMu.Lock()
		asks := as.asks
		as.asks = nil
		as.askMu.Unlock()
		for s := range asks {
			s.failReply(ErrShutdown)
		}

		// Stop extensions in reverse creation order.
		as.extMu.Lock()
		order := as.extOrder
		as.extOrder = nil
		as.extensions = nil
		as.extMu.Unlock()
		for i := len(order) - 1; i >= 0; i-- {
			ext, ok := order[i].(Extension)
			if !ok {
				continue
			}
			if stopErr := ext.Stop(ctx); stopErr != nil {
				log.WarnS(ctx, "Extension stop error",
					stopErr)
			}
		}

		// Terminate the tree from the root.
		as.root.sendSystem(stopMsg{})

		done := make(chan struct{})
		go func() {
			as.cells.Wait()
			close(done)
		}()

		select {
		case <-done:
			log.InfoS(ctx, "Actor system shutdown completed",
				"system", as.name)

		case <-ctx.Done():
			log.ErrorS(ctx, "Actor system shutdown incomplete, "+
				"some actors may have leaked", ctx.Err())
			err = ctx.Err()

			return
		}

		as.scheduler.Stop()
		as.dispatchers.shutdown()
	})

	return err
}

// supervisionFromConfig reads the default supervision policy from
// configuration.
func supervisionFromConfig(cfg *config.Config) SupervisionConfig {
	return SupervisionConfig{
		Strategy: ParseSupervisionStrategy(
			cfg.GetString("supervision.strategy"),
		),
		MaxRestarts: cfg.GetInt("supervision.max-restarts"),
		Within:      cfg.GetDuration("supervision.within"),
		Backoff: BackoffConfig{
			Min:    cfg.GetDuration("supervision.backoff.min"),
			Max:    cfg.GetDuration("supervision.backoff.max"),
			Factor: cfg.GetFloat("supervision.backoff.factor"),
		},
	}
}
