package actor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roasbeef/marquee/sched"
)

// LifecycleState tracks where an actor is in its life. Transitions are
// monotonic except through restart, which re-enters STARTING after STOPPED
// and clears the actor's children.
type LifecycleState int32

const (
	// StateCreated means the cell exists but has not run its first step.
	StateCreated LifecycleState = iota

	// StateStarting means setup is running.
	StateStarting

	// StateRunning means user messages are being dispatched.
	StateRunning

	// StateStopping means the actor is stopping its children before
	// finalizing.
	StateStopping

	// StateStopped means message processing has halted. A failed actor
	// parks here while its parent decides between restart and stop.
	StateStopped

	// StateTerminated means the actor is gone: unregistered, parent
	// notified, resources released.
	StateTerminated
)

// String returns a short name for the state.
func (s LifecycleState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// defaultCleanupTimeout bounds Stoppable.OnStop during termination.
const defaultCleanupTimeout = 5 * time.Second

// cell is the kernel-owned record for one actor: identity, mailbox, current
// behavior, lifecycle state, and its place in the supervision tree. All
// behavior execution happens inside step, which the cell schedules onto its
// dispatcher whenever the mailbox signals.
type cell[M Message] struct {
	id   string
	name string
	pth  ActorPath
	sys  *ActorSystem

	// initial is the behavior as spawned; a supervised restart re-runs
	// its setup. behavior is the current one and is only touched inside
	// step.
	initial  Behavior[M]
	behavior Behavior[M]

	box  *mailbox[M]
	disp dispatcher

	scheduled atomic.Bool
	state     atomic.Int32

	parent internalCell

	// childMu guards children and watchers; spawns may originate outside
	// the parent's own step.
	childMu  sync.Mutex
	children map[string]internalCell
	watchers map[string][]func(ActorPath)

	supCfg SupervisionConfig

	failMu   sync.Mutex
	failures []time.Time

	timerMu sync.Mutex
	timers  []*sched.Timer

	cleanupTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	term     chan struct{}
	termOnce sync.Once

	cc  *Context[M]
	ref *localRef[M]
}

// newCell allocates a cell and wires its mailbox to the dispatcher. The
// caller registers it and schedules the first step.
func newCell[M Message](sys *ActorSystem, parent internalCell, name string,
	pth ActorPath, behavior Behavior[M], opts spawnOptions) *cell[M] {

	ctx, cancel := context.WithCancel(sys.ctx)

	c := &cell[M]{
		id:             newActorID(),
		name:           name,
		pth:            pth,
		sys:            sys,
		initial:        behavior,
		behavior:       behavior,
		parent:         parent,
		children:       make(map[string]internalCell),
		supCfg:         opts.supervision,
		cleanupTimeout: opts.cleanupTimeout,
		ctx:            ctx,
		cancel:         cancel,
		term:           make(chan struct{}),
	}
	if c.cleanupTimeout <= 0 {
		c.cleanupTimeout = defaultCleanupTimeout
	}

	c.box = newMailbox[M](opts.mailboxCapacity, c.schedule)
	c.disp = sys.dispatchers.forKind(opts.dispatcher)
	c.cc = &Context[M]{cell: c}
	c.ref = &localRef[M]{cell: c}
	c.state.Store(int32(StateCreated))

	return c
}

// schedule submits one step to the dispatcher unless one is already queued.
func (c *cell[M]) schedule() {
	if c.lifecycleState() == StateTerminated {
		return
	}
	if !c.scheduled.CompareAndSwap(false, true) {
		return
	}

	c.disp.execute(c.step)
}

// step processes a bounded batch of messages: the system lane first, then —
// only while RUNNING — one user message at a time. Rescheduling after the
// batch keeps actors sharing a dispatcher fair.
func (c *cell[M]) step() {
	if c.lifecycleState() == StateCreated {
		c.start()
	}

batch:
	for i := 0; i < defaultThroughput; i++ {
		state := c.lifecycleState()
		if state == StateTerminated {
			break
		}

		sysMsg, userEnv, ln := c.box.dequeue(state == StateRunning)
		switch ln {
		case laneSystem:
			c.handleSystem(sysMsg)

		case laneUser:
			c.processUser(userEnv)

		default:
			break batch
		}
	}

	c.scheduled.Store(false)

	state := c.lifecycleState()
	if state != StateTerminated &&
		c.box.hasPending(state == StateRunning) {

		c.schedule()
	}
}

// start transitions CREATED -> STARTING -> RUNNING, resolving any setup
// behaviors with the actor's context.
func (c *cell[M]) start() {
	c.state.Store(int32(StateStarting))

	log.DebugS(c.ctx, "Starting actor",
		"actor_id", c.id, "path", c.pth.String())

	c.resolveSetup()
	c.state.Store(int32(StateRunning))
}

// resolveSetup repeatedly applies Setup until a concrete behavior remains.
func (c *cell[M]) resolveSetup() {
	behavior := c.initial
	for {
		setup, ok := behavior.(SetupBehavior[M])
		if !ok {
			break
		}
		behavior = setup.Setup(c.cc)
	}
	c.behavior = behavior
}

// processUser runs the current behavior for one user message and applies
// the returned transition. Panics are converted to failures and routed to
// the parent's supervision.
func (c *cell[M]) processUser(env userEnvelope[M]) {
	c.cc.sender = env.sender
	trans := c.invokeBehavior(env.msg)
	c.cc.sender = nil

	switch trans.kind {
	case transitionSame:

	case transitionBecome:
		c.behavior = trans.next

	case transitionStop:
		c.beginStop()

	case transitionFail:
		c.fail(trans.err)
	}
}

// invokeBehavior calls Receive with panic recovery.
func (c *cell[M]) invokeBehavior(msg M) (trans Transition[M]) {
	defer func() {
		if r := recover(); r != nil {
			trans = Fail[M](fmt.Errorf("actor failure: "+
				"panic: %v", r))
		}
	}()

	return c.behavior.Receive(c.cc, msg)
}

// handleSystem applies one priority-lane signal.
func (c *cell[M]) handleSystem(msg systemMessage) {
	switch m := msg.(type) {
	case stopMsg:
		c.beginStop()

	case childFailedMsg:
		c.superviseChild(m)

	case childTerminatedMsg:
		c.childTerminated(m)

	case restartMsg:
		if c.lifecycleState() == StateStopped {
			c.doRestart()
		}
	}
}

// beginStop enters STOPPING: timers are cancelled, children receive stop,
// and finalization waits until the last child terminates.
func (c *cell[M]) beginStop() {
	state := c.lifecycleState()
	if state == StateStopping || state == StateTerminated {
		return
	}

	c.state.Store(int32(StateStopping))
	c.cancelTimers()

	children := c.snapshotChildren()
	if len(children) == 0 {
		c.finalize()
		return
	}

	for _, child := range children {
		child.sendSystem(stopMsg{})
	}
}

// childTerminated removes a child and completes a pending stop once the
// last child is gone. Registered watchers fire for the terminated path.
func (c *cell[M]) childTerminated(m childTerminatedMsg) {
	c.childMu.Lock()
	existing, ok := c.children[m.name]
	if ok && existing.cellID() == m.id {
		delete(c.children, m.name)
	}
	watchers := c.watchers[m.name]
	delete(c.watchers, m.name)
	remaining := len(c.children)
	c.childMu.Unlock()

	for _, w := range watchers {
		w(m.path)
	}

	if c.lifecycleState() == StateStopping && remaining == 0 {
		c.finalize()
	}
}

// finalize runs the terminal phase: close the mailbox, fail pending asks,
// forward undelivered messages to dead letters, run OnStop cleanup, and
// notify the parent.
func (c *cell[M]) finalize() {
	c.state.Store(int32(StateStopped))

	drained := c.box.close()
	c.discardEnvelopes(drained)

	if stoppable, ok := c.behavior.(Stoppable); ok {
		cleanupCtx, cancel := context.WithTimeout(
			context.Background(), c.cleanupTimeout,
		)

		if err := stoppable.OnStop(cleanupCtx); err != nil {
			log.WarnS(c.ctx, "Actor cleanup error during "+
				"shutdown", err, "actor_id", c.id)
		}
		cancel()
	}

	c.cancel()
	c.sys.registry.unregister(c.id)
	c.state.Store(int32(StateTerminated))

	c.termOnce.Do(func() { close(c.term) })

	log.DebugS(c.ctx, "Actor terminated",
		"actor_id", c.id, "path", c.pth.String())

	if c.parent != nil {
		c.parent.sendSystem(childTerminatedMsg{
			id:   c.id,
			name: c.name,
			path: c.pth,
		})
	}

	c.sys.cellDone()
}

// discardEnvelopes fails the asks among the drained envelopes and forwards
// the rest to dead letters.
func (c *cell[M]) discardEnvelopes(envs []userEnvelope[M]) {
	for _, env := range envs {
		if env.sender != nil {
			env.sender.failReply(ErrActorTerminated)
			continue
		}

		c.sys.deadLetter(c.pth, env.msg)
	}
}

// fail suspends the actor and defers to the parent's supervision. A failure
// at the root guardian shuts the system down.
func (c *cell[M]) fail(err error) {
	log.ErrorS(c.ctx, "Actor behavior failed", err,
		"actor_id", c.id, "path", c.pth.String())

	c.state.Store(int32(StateStopped))
	c.cancelTimers()

	if c.parent == nil {
		log.CriticalS(c.ctx, "Failure escalated to root guardian, "+
			"shutting down system", err)
		go c.sys.shutdownFromFailure()

		return
	}

	c.parent.sendSystem(childFailedMsg{child: c, err: err})
}

// superviseChild applies the failed child's supervision config.
func (c *cell[M]) superviseChild(m childFailedMsg) {
	cfg := m.child.supervisionConfig()

	switch cfg.Strategy {
	case StrategyRestart:
		count := m.child.recordFailure(cfg.Within)
		if count > cfg.MaxRestarts {
			log.WarnS(c.ctx, "Child exhausted restart budget, "+
				"escalating", m.err,
				"child", m.child.cellPath().String(),
				"max_restarts", cfg.MaxRestarts)
			c.fail(fmt.Errorf("child %s exhausted restarts: %w",
				m.child.cellPath().String(), m.err))

			return
		}

		delay := cfg.Backoff.Delay(count - 1)
		log.DebugS(c.ctx, "Restarting failed child",
			"child", m.child.cellPath().String(),
			"attempt", count, "backoff", delay)
		m.child.scheduleRestart(delay)

	case StrategyStop:
		m.child.sendSystem(stopMsg{})

	case StrategyEscalate:
		c.fail(m.err)
	}
}

// doRestart re-enters STARTING after a supervised backoff: children are
// cleared, buffered user traffic is discarded, and the original behavior's
// setup runs again.
func (c *cell[M]) doRestart() {
	c.childMu.Lock()
	children := make([]internalCell, 0, len(c.children))
	for _, child := range c.children {
		children = append(children, child)
	}
	c.children = make(map[string]internalCell)
	c.watchers = nil
	c.childMu.Unlock()

	for _, child := range children {
		child.sendSystem(stopMsg{})
	}

	c.discardEnvelopes(c.box.clearUser())

	c.state.Store(int32(StateStarting))
	log.DebugS(c.ctx, "Restarting actor",
		"actor_id", c.id, "path", c.pth.String())

	c.resolveSetup()
	c.state.Store(int32(StateRunning))
}

// snapshotChildren copies the current child set.
func (c *cell[M]) snapshotChildren() []internalCell {
	c.childMu.Lock()
	defer c.childMu.Unlock()

	children := make([]internalCell, 0, len(c.children))
	for _, child := range c.children {
		children = append(children, child)
	}

	return children
}

// registerTimer tracks a context-created timer so stop cancels it.
func (c *cell[M]) registerTimer(t *sched.Timer) {
	c.timerMu.Lock()
	c.timers = append(c.timers, t)
	c.timerMu.Unlock()
}

// cancelTimers cancels every timer registered through the context.
func (c *cell[M]) cancelTimers() {
	c.timerMu.Lock()
	timers := c.timers
	c.timers = nil
	c.timerMu.Unlock()

	for _, t := range timers {
		t.Cancel()
	}
}

// lifecycleState loads the current state.
func (c *cell[M]) lifecycleState() LifecycleState {
	return LifecycleState(c.state.Load())
}

// addChild inserts a named child, enforcing per-parent name uniqueness.
func (c *cell[M]) addChild(name string, child internalCell) error {
	c.childMu.Lock()
	defer c.childMu.Unlock()

	if _, exists := c.children[name]; exists {
		return fmt.Errorf("%w: %q under %s", ErrDuplicateName, name,
			c.pth.String())
	}
	c.children[name] = child

	return nil
}

// childByName looks up a live child.
func (c *cell[M]) childByName(name string) (internalCell, bool) {
	c.childMu.Lock()
	defer c.childMu.Unlock()

	child, ok := c.children[name]

	return child, ok
}

// watchChild registers a callback fired when the named child terminates.
func (c *cell[M]) watchChild(name string, fn func(ActorPath)) {
	c.childMu.Lock()
	defer c.childMu.Unlock()

	if c.watchers == nil {
		c.watchers = make(map[string][]func(ActorPath))
	}
	c.watchers[name] = append(c.watchers[name], fn)
}

// internalCell implementation.

func (c *cell[M]) cellID() string { return c.id }

func (c *cell[M]) cellPath() ActorPath { return c.pth }

func (c *cell[M]) sendSystem(msg systemMessage) {
	if !c.box.enqueueSystem(msg) {
		// A full system lane is an invariant violation; fail the
		// actor rather than drop a lifecycle signal.
		log.CriticalS(c.ctx, "System lane overflow", nil,
			"actor_id", c.id, "path", c.pth.String())
		c.state.Store(int32(StateStopped))
		if c.parent != nil {
			c.parent.sendSystem(childFailedMsg{
				child: c,
				err:   fmt.Errorf("system lane overflow"),
			})
		}
	}
}

func (c *cell[M]) deliverUser(msg any, sender replySink) bool {
	typed, ok := msg.(M)
	if !ok {
		log.Warnf("Dropping message of unexpected type %T for %v",
			msg, c.pth.String())
		return false
	}

	res := c.box.enqueueUser(userEnvelope[M]{msg: typed, sender: sender})

	return res == enqueueOK
}

func (c *cell[M]) supervisionConfig() SupervisionConfig { return c.supCfg }

func (c *cell[M]) recordFailure(within time.Duration) int {
	now := time.Now()

	c.failMu.Lock()
	defer c.failMu.Unlock()

	kept := c.failures[:0]
	for _, t := range c.failures {
		if now.Sub(t) < within {
			kept = append(kept, t)
		}
	}
	c.failures = append(kept, now)

	return len(c.failures)
}

func (c *cell[M]) scheduleRestart(delay time.Duration) {
	c.sys.scheduler.ScheduleOnce(delay, func() {
		c.sendSystem(restartMsg{})
	})
}

func (c *cell[M]) terminatedChan() <-chan struct{} { return c.term }
