package metric

import (
	"encoding/json"
	"fmt"
)

// Live channel message names.
const (
	MessageHello        = "hello"
	MessagePing         = "ping"
	MessagePong         = "pong"
	MessageMetricsBatch = "metrics_batch"
	MessageMetrics      = "metrics"
)

// Envelope is the live channel message frame. Peers spell the name as "event",
// "type" or "command" and the body as "payload" or "data"; both spellings are accepted.
type Envelope struct {
	Event   string          `json:"event,omitempty"`
	Type    string          `json:"type,omitempty"`
	Command string          `json:"command,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Name resolves the message name.
func (e Envelope) Name() string {
	switch {
	case e.Event != "":
		return e.Event
	case e.Type != "":
		return e.Type
	default:
		return e.Command
	}
}

// Body resolves the message body.
func (e Envelope) Body() json.RawMessage {
	if len(e.Payload) > 0 {
		return e.Payload
	}
	return e.Data
}

// ParseEnvelope decodes a live channel frame.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Name() == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing message name")
	}
	return env, nil
}

// NewMessage encodes a collector-to-relay frame ({"event", "payload"}).
func NewMessage(name string, body any) ([]byte, error) {
	payload, err := marshalBody(body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: name, Payload: payload})
}

// NewBroadcast encodes a relay-to-subscriber frame ({"type", "data"}).
func NewBroadcast(name string, body any) ([]byte, error) {
	data, err := marshalBody(body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: name, Data: data})
}

func marshalBody(body any) (json.RawMessage, error) {
	if body == nil {
		return nil, nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode message body: %w", err)
	}
	return raw, nil
}

// Hello is the handshake body sent by a collector when its live link opens.
type Hello struct {
	SessionID string `json:"sessionId"`
	TS        int64  `json:"ts"`
}

// Pong answers a ping.
type Pong struct {
	TS int64 `json:"ts"`
}

// IngestRequest is the HTTP ingestion body.
type IngestRequest struct {
	Metrics Batch `json:"metrics"`
}

// IngestResponse is the relay's ingestion acknowledgement.
type IngestResponse struct {
	OK bool `json:"ok"`
}

// DecodeEvents decodes a JSON event list. Corrupt or missing input yields an empty
// slice and the decode error, so callers can log and carry on.
func DecodeEvents(raw []byte) ([]Event, error) {
	if len(raw) == 0 {
		return []Event{}, nil
	}
	var events []Event
	if err := json.Unmarshal(raw, &events); err != nil {
		return []Event{}, fmt.Errorf("decode events: %w", err)
	}
	if events == nil {
		events = []Event{}
	}
	return events, nil
}
