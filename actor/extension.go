package actor

import (
	"context"
	"sync"
)

// Extension is a lazily-created, system-scoped singleton. Extensions may
// spawn actors under /system and are stopped in reverse creation order when
// the system shuts down.
type Extension interface {
	// Stop releases the extension's resources during system shutdown.
	Stop(ctx context.Context) error
}

// ExtensionID is the identity key for an extension. Declare one as a
// package-level variable; the pointer is the identity, so the same ID
// always yields the same instance within a system.
type ExtensionID[E Extension] struct {
	name   string
	create func(sys *ActorSystem) (E, error)
}

// NewExtensionID creates an extension identity with a creation function
// invoked on first load.
func NewExtensionID[E Extension](name string,
	create func(sys *ActorSystem) (E, error)) *ExtensionID[E] {

	return &ExtensionID[E]{name: name, create: create}
}

// Name returns the extension's diagnostic name.
func (id *ExtensionID[E]) Name() string { return id.name }

// extensionSlot serializes creation per id: concurrent loaders block on
// ready until the first creation attempt finishes.
type extensionSlot struct {
	once  sync.Once
	ready chan struct{}
	value any
	err   error
}

// LoadExtension returns the singleton extension for the given id, creating
// it on first use. Creation is serialized per id; concurrent calls block
// until the first completes and then observe the same instance. This is a
// package-level generic function because Go methods cannot introduce type
// parameters.
func LoadExtension[E Extension](sys *ActorSystem,
	id *ExtensionID[E]) (E, error) {

	sys.extMu.Lock()
	if sys.extensions == nil {
		sys.extMu.Unlock()

		var zero E
		return zero, ErrShutdown
	}
	slot, ok := sys.extensions[id]
	if !ok {
		slot = &extensionSlot{ready: make(chan struct{})}
		sys.extensions[id] = slot
	}
	sys.extMu.Unlock()

	slot.once.Do(func() {
		defer close(slot.ready)

		value, err := id.create(sys)
		if err != nil {
			slot.err = err

			return
		}
		slot.value = value

		sys.extMu.Lock()
		sys.extOrder = append(sys.extOrder, value)
		sys.extMu.Unlock()

		log.DebugS(sys.ctx, "Extension created",
			"extension", id.name)
	})
	<-slot.ready

	if slot.err != nil {
		var zero E
		return zero, slot.err
	}

	return slot.value.(E), nil
}
