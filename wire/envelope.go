// Package wire defines the remoting wire format: self-describing JSON
// envelopes, the process-global message registry that maps type tags to
// decoders, and the length-prefixed frame codec that carries envelopes over
// TCP.
package wire

import (
	"encoding/json"
	"time"
)

// EnvelopeKind discriminates the envelope variants on the wire.
type EnvelopeKind string

const (
	// KindUserMessage carries an ordinary typed message.
	KindUserMessage EnvelopeKind = "USER_MESSAGE"

	// KindSystemMessage carries a lifecycle signal such as stop.
	KindSystemMessage EnvelopeKind = "SYSTEM_MESSAGE"

	// KindAskRequest carries a message expecting a correlated response.
	KindAskRequest EnvelopeKind = "ASK_REQUEST"

	// KindAskResponse carries the reply to an earlier ASK_REQUEST.
	KindAskResponse EnvelopeKind = "ASK_RESPONSE"

	// KindHandshake opens a connection, announcing the peer's identity.
	KindHandshake EnvelopeKind = "HANDSHAKE"

	// KindHeartbeat keeps an idle connection alive.
	KindHeartbeat EnvelopeKind = "HEARTBEAT"
)

// Envelope is the wire-level record wrapping one message with its routing
// metadata. All fields are stable; decoders ignore unknown fields for
// forward compatibility.
type Envelope struct {
	// Kind discriminates the envelope variant.
	Kind EnvelopeKind `json:"kind"`

	// TargetPath is the full URI of the destination actor.
	TargetPath string `json:"target_path"`

	// MessageType is the registry tag of the payload type.
	MessageType string `json:"message_type"`

	// Payload is the JSON form of the registered message type.
	Payload json.RawMessage `json:"payload"`

	// SenderPath is the full URI of the sending actor, when known.
	SenderPath string `json:"sender_path,omitempty"`

	// CorrelationID ties an ASK_RESPONSE to its ASK_REQUEST.
	CorrelationID string `json:"correlation_id,omitempty"`

	// TimestampMS is the sender's wall clock at construction, in
	// milliseconds since the epoch.
	TimestampMS int64 `json:"timestamp_ms"`
}

// nowMillis returns the current wall clock in milliseconds.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// NewUserMessage builds a USER_MESSAGE envelope.
func NewUserMessage(targetPath, messageType string,
	payload json.RawMessage, senderPath string) *Envelope {

	return &Envelope{
		Kind:        KindUserMessage,
		TargetPath:  targetPath,
		MessageType: messageType,
		Payload:     payload,
		SenderPath:  senderPath,
		TimestampMS: nowMillis(),
	}
}

// NewSystemMessage builds a SYSTEM_MESSAGE envelope. The message type names
// the signal; stop is the only one peers act on today.
func NewSystemMessage(targetPath, signal string) *Envelope {
	return &Envelope{
		Kind:        KindSystemMessage,
		TargetPath:  targetPath,
		MessageType: signal,
		Payload:     json.RawMessage(`{}`),
		TimestampMS: nowMillis(),
	}
}

// NewAskRequest builds an ASK_REQUEST envelope.
func NewAskRequest(targetPath, messageType string, payload json.RawMessage,
	senderPath, correlationID string) *Envelope {

	return &Envelope{
		Kind:          KindAskRequest,
		TargetPath:    targetPath,
		MessageType:   messageType,
		Payload:       payload,
		SenderPath:    senderPath,
		CorrelationID: correlationID,
		TimestampMS:   nowMillis(),
	}
}

// NewAskResponse builds an ASK_RESPONSE envelope mirroring a request's
// correlation id.
func NewAskResponse(targetPath, messageType string, payload json.RawMessage,
	correlationID string) *Envelope {

	return &Envelope{
		Kind:          KindAskResponse,
		TargetPath:    targetPath,
		MessageType:   messageType,
		Payload:       payload,
		CorrelationID: correlationID,
		TimestampMS:   nowMillis(),
	}
}

// HandshakePayload announces a peer's identity when a connection opens.
type HandshakePayload struct {
	// System is the peer's system name.
	System string `json:"system"`

	// Address is the peer's full address URI.
	Address string `json:"address"`
}

// NewHandshake builds a HANDSHAKE envelope.
func NewHandshake(system, address string) (*Envelope, error) {
	payload, err := json.Marshal(HandshakePayload{
		System:  system,
		Address: address,
	})
	if err != nil {
		return nil, err
	}

	return &Envelope{
		Kind:        KindHandshake,
		MessageType: "Handshake",
		Payload:     payload,
		TimestampMS: nowMillis(),
	}, nil
}

// DecodeHandshake unpacks a HANDSHAKE envelope's payload.
func DecodeHandshake(env *Envelope) (HandshakePayload, error) {
	var payload HandshakePayload
	err := json.Unmarshal(env.Payload, &payload)

	return payload, err
}

// NewHeartbeat builds a HEARTBEAT envelope.
func NewHeartbeat() *Envelope {
	return &Envelope{
		Kind:        KindHeartbeat,
		MessageType: "Heartbeat",
		Payload:     json.RawMessage(`{}`),
		TimestampMS: nowMillis(),
	}
}
