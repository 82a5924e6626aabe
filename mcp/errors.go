package mcp

import "fmt"

// TimeoutError is returned when a request exceeds its per-call timeout
// without a matching response (spec §4.6, §7 taxonomy: request_timeout).
type TimeoutError struct {
	Method string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("mcp: request %q timed out", e.Method)
}

// CallError wraps a server-reported JSON-RPC error (spec §7: call_error).
type CallError struct {
	Code    int
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("mcp: call error %d: %s", e.Code, e.Message)
}

// ProtocolViolationError is returned when a response cannot be parsed into
// the shape a given method promises (spec §7: protocol_violation).
type ProtocolViolationError struct {
	Detail string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("mcp: protocol violation: %s", e.Detail)
}

// ServerUnavailableError is returned for any tool call routed to a server
// that is not currently connected (spec §7: server_unavailable).
type ServerUnavailableError struct {
	Server string
}

func (e *ServerUnavailableError) Error() string {
	return fmt.Sprintf("mcp: server %q is unavailable", e.Server)
}
