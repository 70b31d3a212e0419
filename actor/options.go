package actor

import "time"

// spawnOptions collects the per-actor knobs applied at spawn time.
type spawnOptions struct {
	supervision     SupervisionConfig
	mailboxCapacity int
	dispatcher      DispatcherKind
	cleanupTimeout  time.Duration
}

// SpawnOption is a functional option for Spawn and SpawnChild.
type SpawnOption func(*spawnOptions)

// WithSupervision sets the supervision policy the parent applies when this
// actor fails. The default comes from the system configuration.
func WithSupervision(cfg SupervisionConfig) SpawnOption {
	return func(o *spawnOptions) {
		o.supervision = cfg
	}
}

// WithMailboxCapacity overrides the user-lane capacity of the actor's
// mailbox.
func WithMailboxCapacity(capacity int) SpawnOption {
	return func(o *spawnOptions) {
		o.mailboxCapacity = capacity
	}
}

// WithDispatcher selects the dispatcher flavor the actor runs on.
func WithDispatcher(kind DispatcherKind) SpawnOption {
	return func(o *spawnOptions) {
		o.dispatcher = kind
	}
}

// WithCleanupTimeout sets the OnStop cleanup timeout for the actor. If not
// specified, a default of 5 seconds is used. Use a longer timeout for
// behaviors that manage external resources requiring graceful shutdown.
func WithCleanupTimeout(d time.Duration) SpawnOption {
	return func(o *spawnOptions) {
		o.cleanupTimeout = d
	}
}
