package actor

import (
	"math"
	"time"
)

// SupervisionStrategy is a parent's policy for reacting to a child failure.
type SupervisionStrategy int

const (
	// StrategyRestart restarts the failed child, re-running its setup,
	// with exponential backoff between attempts. Once the restart budget
	// inside the window is exhausted, the failure escalates.
	StrategyRestart SupervisionStrategy = iota

	// StrategyStop terminates the failed child and delivers a terminated
	// notification to the parent.
	StrategyStop

	// StrategyEscalate fails the parent itself, propagating the failure
	// to the grandparent.
	StrategyEscalate
)

// String returns the config-file spelling of the strategy.
func (s SupervisionStrategy) String() string {
	switch s {
	case StrategyRestart:
		return "restart"
	case StrategyStop:
		return "stop"
	case StrategyEscalate:
		return "escalate"
	default:
		return "unknown"
	}
}

// ParseSupervisionStrategy parses the config-file spelling of a strategy.
// Unknown values fall back to restart.
func ParseSupervisionStrategy(s string) SupervisionStrategy {
	switch s {
	case "stop":
		return StrategyStop
	case "escalate":
		return StrategyEscalate
	default:
		return StrategyRestart
	}
}

// BackoffConfig shapes the delay between supervised restarts of one child.
type BackoffConfig struct {
	// Min is the delay before the first restart.
	Min time.Duration

	// Max caps the delay regardless of failure count.
	Max time.Duration

	// Factor is the multiplier applied per successive failure.
	Factor float64
}

// Delay computes the backoff before restart attempt k (zero-based):
// min(Max, Min * Factor^k).
func (b BackoffConfig) Delay(k int) time.Duration {
	if k < 0 {
		k = 0
	}

	d := float64(b.Min) * math.Pow(b.Factor, float64(k))
	if d > float64(b.Max) {
		return b.Max
	}

	return time.Duration(d)
}

// SupervisionConfig is attached to a child at spawn time and consulted by
// the parent when the child fails.
type SupervisionConfig struct {
	// Strategy selects restart, stop, or escalate.
	Strategy SupervisionStrategy

	// MaxRestarts bounds how many restarts may occur inside Within
	// before a further failure escalates.
	MaxRestarts int

	// Within is the sliding window restarts are counted over.
	Within time.Duration

	// Backoff shapes the restart delays.
	Backoff BackoffConfig
}

// DefaultSupervision mirrors the runtime's configuration defaults: restart
// up to 3 times per minute with 100ms..10s exponential backoff.
func DefaultSupervision() SupervisionConfig {
	return SupervisionConfig{
		Strategy:    StrategyRestart,
		MaxRestarts: 3,
		Within:      time.Minute,
		Backoff: BackoffConfig{
			Min:    100 * time.Millisecond,
			Max:    10 * time.Second,
			Factor: 2.0,
		},
	}
}
