package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/roasbeef/marquee/actor"
)

// ErrUnknownMessageType indicates a deserialize for a tag no decoder was
// registered under. The connection drops the frame; it never kills the
// link.
var ErrUnknownMessageType = errors.New("unknown message type")

// ErrUnregisteredType indicates a serialize of a value whose runtime type
// was never registered.
var ErrUnregisteredType = errors.New("message type not registered")

// Decoded is the type-erased result of deserializing a payload. Unwrap the
// concrete type with UnwrapAs or hand the Message straight to a mailbox.
type Decoded struct {
	// Tag is the registry tag the payload decoded under.
	Tag string

	// Msg is the decoded message.
	Msg actor.Message
}

// UnwrapAs asserts the decoded message to a concrete type.
func UnwrapAs[T actor.Message](d Decoded) (T, bool) {
	msg, ok := d.Msg.(T)

	return msg, ok
}

// registry is the process-global type table. It is logically shared by
// every system in the process, matching the requirement that both peers
// register a type before it crosses the wire.
type registry struct {
	mu sync.RWMutex

	// decoders maps tag -> payload decoder.
	decoders map[string]func(json.RawMessage) (actor.Message, error)

	// tags maps reflect.Type -> tag for serialization.
	tags map[reflect.Type]string
}

var globalRegistry = &registry{
	decoders: make(map[string]func(json.RawMessage) (actor.Message, error)),
	tags:     make(map[reflect.Type]string),
}

// RegisterMessage registers T under the tag its MessageType method reports.
// Registration is idempotent per tag and must happen on both peers before
// messages of that type are sent remotely. T must be a pointer-to-struct
// message whose fields carry JSON tags.
func RegisterMessage[T actor.Message]() {
	var zero T

	typ := reflect.TypeOf(zero)
	if typ == nil || typ.Kind() != reflect.Ptr {
		panic(fmt.Sprintf("wire: RegisterMessage requires a "+
			"pointer message type, got %T", zero))
	}

	// The tag comes from a zero instance's MessageType; message types
	// return a constant independent of field values.
	instance := reflect.New(typ.Elem()).Interface().(T)
	tag := instance.MessageType()

	elemType := typ.Elem()
	decoder := func(payload json.RawMessage) (actor.Message, error) {
		value := reflect.New(elemType).Interface()
		if err := json.Unmarshal(payload, value); err != nil {
			return nil, err
		}

		return value.(actor.Message), nil
	}

	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	globalRegistry.decoders[tag] = decoder
	globalRegistry.tags[typ] = tag
}

// Serialize looks up the value's tag by its runtime type and marshals the
// payload.
func Serialize(msg actor.Message) (string, json.RawMessage, error) {
	typ := reflect.TypeOf(msg)

	globalRegistry.mu.RLock()
	tag, ok := globalRegistry.tags[typ]
	globalRegistry.mu.RUnlock()

	if !ok {
		return "", nil, fmt.Errorf("%w: %T", ErrUnregisteredType, msg)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return "", nil, err
	}

	return tag, payload, nil
}

// Deserialize decodes a payload by tag. It fails with ErrUnknownMessageType
// when the tag was never registered in this process.
func Deserialize(tag string, payload json.RawMessage) (Decoded, error) {
	globalRegistry.mu.RLock()
	decoder, ok := globalRegistry.decoders[tag]
	globalRegistry.mu.RUnlock()

	if !ok {
		return Decoded{}, fmt.Errorf("%w: %q",
			ErrUnknownMessageType, tag)
	}

	msg, err := decoder(payload)
	if err != nil {
		return Decoded{}, err
	}

	return Decoded{Tag: tag, Msg: msg}, nil
}

// Registered reports whether a tag has a decoder.
func Registered(tag string) bool {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	_, ok := globalRegistry.decoders[tag]

	return ok
}
