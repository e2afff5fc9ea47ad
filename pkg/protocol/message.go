package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType identifies an inbound NDJSON message.
type MessageType string

// Inbound message types.
const (
	MsgEvents      MessageType = "events"
	MsgRequestChat MessageType = "requestChat"
)

// Message is one inbound line from the simulation.
type Message struct {
	Type   MessageType `json:"type"`
	Events []Record    `json:"events,omitempty"`

	// Raw holds the undecoded line for message types this side only logs.
	Raw json.RawMessage `json:"-"`
}

// Record is one {agent, event, state} triple inside an events batch.
type Record struct {
	Agent string     `json:"agent"`
	Event Event      `json:"event"`
	State AgentState `json:"state"`
}

// Validate checks the fields the dispatcher relies on.
func (r Record) Validate() error {
	if r.Agent == "" {
		return &ProtocolError{Reason: "record missing agent"}
	}
	if !r.Event.Type.Valid() {
		return &ProtocolError{Reason: fmt.Sprintf("unknown event type %q", r.Event.Type)}
	}
	return nil
}

// DecodeMessage parses one NDJSON line. Unknown message types and malformed
// JSON are reported as *ProtocolError.
func DecodeMessage(line []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return Message{}, &ProtocolError{Reason: "malformed line", Err: err}
	}
	switch msg.Type {
	case MsgEvents:
		return msg, nil
	case MsgRequestChat:
		msg.Raw = append(json.RawMessage(nil), line...)
		return msg, nil
	default:
		return Message{}, &ProtocolError{Reason: fmt.Sprintf("unknown message type %q", msg.Type)}
	}
}

// ActionRecord is one element of the outbound batch response.
type ActionRecord struct {
	Action
	Agent string `json:"agent"`
}

// BroadcastType identifies an outbound meeting broadcast.
type BroadcastType string

// Meeting broadcast types.
const (
	BroadcastChat BroadcastType = "Chat"
	BroadcastVote BroadcastType = "Vote"
)

// Broadcast is a single-object line emitted while a meeting runs.
type Broadcast struct {
	Type    BroadcastType `json:"type"`
	Details string        `json:"details"`
	Time    float64       `json:"time"`
	Agent   string        `json:"agent"`
}

// EncodeLine marshals v and appends the newline delimiter.
func EncodeLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return append(data, '\n'), nil
}
