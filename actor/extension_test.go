package actor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeExtension records creation and stop ordering for tests.
type fakeExtension struct {
	name    string
	stopped *[]string
	mu      *sync.Mutex
}

// Stop implements Extension.
func (e *fakeExtension) Stop(ctx context.Context) error {
	e.mu.Lock()
	*e.stopped = append(*e.stopped, e.name)
	e.mu.Unlock()

	return nil
}

// TestExtensionIdentity tests that loads through the same id return the
// same instance, including under concurrency, and that the create function
// runs exactly once.
func TestExtensionIdentity(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t, "ext-identity")

	var (
		mu      sync.Mutex
		stopped []string
		creates atomic.Int32
	)
	id := NewExtensionID("fake",
		func(sys *ActorSystem) (*fakeExtension, error) {
			creates.Add(1)

			// Creation work with a real duration makes a
			// serialization bug observable.
			time.Sleep(20 * time.Millisecond)

			return &fakeExtension{
				name:    "fake",
				stopped: &stopped,
				mu:      &mu,
			}, nil
		})

	const loaders = 8
	results := make([]*fakeExtension, loaders)

	var wg sync.WaitGroup
	wg.Add(loaders)
	for i := 0; i < loaders; i++ {
		i := i
		go func() {
			defer wg.Done()

			ext, err := LoadExtension(sys, id)
			require.NoError(t, err)
			results[i] = ext
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, creates.Load())
	for _, ext := range results[1:] {
		require.Same(t, results[0], ext)
	}
}

// TestExtensionStopOrder tests that shutdown stops extensions in reverse
// creation order.
func TestExtensionStopOrder(t *testing.T) {
	t.Parallel()

	sys := NewNamedActorSystem("ext-order")

	var (
		mu      sync.Mutex
		stopped []string
	)
	newID := func(name string) *ExtensionID[*fakeExtension] {
		return NewExtensionID(name,
			func(sys *ActorSystem) (*fakeExtension, error) {
				return &fakeExtension{
					name:    name,
					stopped: &stopped,
					mu:      &mu,
				}, nil
			})
	}

	_, err := LoadExtension(sys, newID("first"))
	require.NoError(t, err)
	_, err = LoadExtension(sys, newID("second"))
	require.NoError(t, err)
	_, err = LoadExtension(sys, newID("third"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(
		context.Background(), 5*time.Second,
	)
	defer cancel()
	require.NoError(t, sys.Shutdown(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"third", "second", "first"}, stopped)

	// Loads after shutdown are refused.
	_, err = LoadExtension(sys, newID("late"))
	require.ErrorIs(t, err, ErrShutdown)
}
