package build

import (
	"io"

	"github.com/btcsuite/btclog"
	btclogv2 "github.com/btcsuite/btclog/v2"
	"github.com/roasbeef/marquee/actor"
	"github.com/roasbeef/marquee/remoting"
	"github.com/roasbeef/marquee/sched"
)

// SubLoggerManager hands out per-subsystem loggers that all fan into the
// same root handler set, so one SetLevel call governs every runtime
// package.
type SubLoggerManager struct {
	root *HandlerSet
}

// NewSubLoggerManager creates a manager over the given handlers, typically
// a console handler plus a rotating-file handler.
func NewSubLoggerManager(handlers ...btclogv2.Handler) *SubLoggerManager {
	return &SubLoggerManager{root: NewHandlerSet(handlers...)}
}

// GenSubLogger creates a logger tagged with the given subsystem code.
func (m *SubLoggerManager) GenSubLogger(tag string) btclogv2.Logger {
	return btclogv2.NewSLogger(m.root.SubSystem(tag))
}

// SetLevel changes the level on every handler in the set.
func (m *SubLoggerManager) SetLevel(level btclog.Level) {
	m.root.SetLevel(level)
}

// SetupLoggers points every runtime package's subsystem logger at the
// manager. Call once at startup, before creating actor systems.
func SetupLoggers(m *SubLoggerManager) {
	actor.UseLogger(m.GenSubLogger(actor.Subsystem))
	sched.UseLogger(m.GenSubLogger(sched.Subsystem))
	remoting.UseLogger(m.GenSubLogger(remoting.Subsystem))
}

// NewConsoleManager is a convenience that builds a manager logging to the
// given writer, typically os.Stderr.
func NewConsoleManager(w io.Writer) *SubLoggerManager {
	return NewSubLoggerManager(btclogv2.NewDefaultHandler(w))
}
