package build

import (
	"io"
	"regexp"
	"testing"

	"github.com/btcsuite/btclog"
	"github.com/stretchr/testify/require"
)

// TestVersionFormat tests that the version string is well formed.
func TestVersionFormat(t *testing.T) {
	t.Parallel()

	require.Regexp(t,
		regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-z]+)?$`), Version())
	require.NotEmpty(t, GoVersion)
}

// TestSubLoggerManager tests subsystem logger generation and the global
// level switch.
func TestSubLoggerManager(t *testing.T) {
	t.Parallel()

	m := NewConsoleManager(io.Discard)

	logger := m.GenSubLogger("TEST")
	require.NotNil(t, logger)

	// Level changes apply to the shared handler set.
	m.SetLevel(btclog.LevelTrace)
	logger.Tracef("trace after enabling trace level")
	m.SetLevel(btclog.LevelOff)
	logger.Errorf("suppressed at level off")

	// Wiring the runtime packages must not panic and is idempotent.
	SetupLoggers(m)
	SetupLoggers(m)
}
