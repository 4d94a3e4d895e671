package ws

import "encoding/json"

// Message is the outbound frame: {"type": <event>, "payload": {...}}.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Envelope is the inbound frame; the payload is decoded by the event handler.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Server-side events emitted by the transport itself.
const (
	TypeError     = "error"
	TypeConnected = "connected"
)

type ErrorPayload struct {
	Message string `json:"message"`
}

// ConnectedPayload tells the client its connection id.
type ConnectedPayload struct {
	SocketID string `json:"socketId"`
}
