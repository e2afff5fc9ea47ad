package protocol

import "fmt"

// ProtocolError reports an inbound line that could not be used. The line is
// skipped and the connection stays open.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Err)
	}
	return "protocol: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// UnknownAgentError reports a record addressed to an agent that is not in
// the active roster. It is an invariant violation and is not recovered.
type UnknownAgentError struct {
	Agent string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("agent %q is not in the roster", e.Agent)
}

// TransportError wraps a send or receive failure on the simulation
// connection. The connection is torn down; agent state is kept.
type TransportError struct {
	Op  string // "send" or "receive"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
