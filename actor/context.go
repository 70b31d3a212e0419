package actor

import (
	"context"
	"time"

	btclog "github.com/btcsuite/btclog/v2"
	"github.com/roasbeef/marquee/sched"
)

// Context is the per-actor handle a behavior receives with every message.
// It exposes the actor's identity, its system, spawning of children, reply
// plumbing for asks, and scheduling helpers whose timers are cancelled when
// the actor stops. A Context must only be used from inside the behavior it
// was passed to.
type Context[M Message] struct {
	cell *cell[M]

	// sender is the reply sink of the message currently being processed,
	// or nil for plain tells.
	sender replySink
}

// Self returns the actor's own reference.
func (c *Context[M]) Self() ActorRef[M] {
	return c.cell.ref
}

// System returns the owning actor system.
func (c *Context[M]) System() *ActorSystem {
	return c.cell.sys
}

// Path returns the actor's path.
func (c *Context[M]) Path() ActorPath {
	return c.cell.pth
}

// Name returns the actor's name under its parent.
func (c *Context[M]) Name() string {
	return c.cell.name
}

// Context returns the actor's lifecycle context, cancelled when the actor
// terminates or the system shuts down.
func (c *Context[M]) Context() context.Context {
	return c.cell.ctx
}

// Log returns the package logger for behavior-level logging.
func (c *Context[M]) Log() btclog.Logger {
	return log
}

// Reply delivers a value to the asker of the message currently being
// processed. It returns false if the message was a plain tell, if a reply
// was already sent, or if the asker is gone.
func (c *Context[M]) Reply(value any) bool {
	if c.sender == nil {
		return false
	}

	return c.sender.deliverReply(value)
}

// Asked reports whether the current message carries an asker awaiting a
// reply.
func (c *Context[M]) Asked() bool {
	return c.sender != nil
}

// ScheduleOnce runs the task once after the delay on the system scheduler.
// The returned timer is also cancelled automatically when this actor stops.
func (c *Context[M]) ScheduleOnce(delay time.Duration,
	task func()) *sched.Timer {

	t := c.cell.sys.scheduler.ScheduleOnce(delay, task)
	c.cell.registerTimer(t)

	return t
}

// ScheduleRepeat runs the task periodically on the system scheduler. The
// returned timer is also cancelled automatically when this actor stops.
func (c *Context[M]) ScheduleRepeat(initial, period time.Duration,
	task func()) *sched.Timer {

	t := c.cell.sys.scheduler.ScheduleRepeat(initial, period, task)
	c.cell.registerTimer(t)

	return t
}

// StopChild requests termination of the named child. It returns false if no
// such child exists.
func (c *Context[M]) StopChild(name string) bool {
	child, ok := c.cell.childByName(name)
	if !ok {
		return false
	}
	child.sendSystem(stopMsg{})

	return true
}

// WatchChild registers a callback invoked (from this actor's own dispatcher
// step) when the named child terminates.
func (c *Context[M]) WatchChild(name string, fn func(path ActorPath)) {
	c.cell.watchChild(name, fn)
}

// SpawnChild creates a child actor of a possibly different message type
// under the context's actor. This is a package-level generic function
// because Go methods cannot introduce type parameters.
func SpawnChild[C Message, M Message](parent *Context[M], name string,
	behavior Behavior[C], opts ...SpawnOption) (ActorRef[C], error) {

	return spawnUnder[C](parent.cell.sys, parent.cell, name, behavior,
		opts...)
}
