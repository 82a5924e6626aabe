package mcp

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
)

// ProtocolVersion is the MCP protocol version this client negotiates.
const ProtocolVersion = "2024-11-05"

// ServerConfig describes one MCP server to launch and supervise.
type ServerConfig struct {
	Command string            `validate:"required"`
	Args    []string
	Env     map[string]string

	RestartOnCrash      bool
	MaxRestarts         int           `validate:"gte=0"`
	HealthCheckInterval time.Duration `validate:"gte=0"`
	RequestTimeout      time.Duration `validate:"gte=0"`
}

var serverConfigValidator = validator.New()

// Validate reports a malformed ServerConfig — a missing command or a
// negative restart/timeout value — before the manager spawns the child
// process.
func (c ServerConfig) Validate() error {
	return serverConfigValidator.Struct(c)
}

// withDefaults fills in the manager's defaults for unset optional fields.
func (c ServerConfig) withDefaults() ServerConfig {
	if c.MaxRestarts == 0 {
		c.MaxRestarts = 3
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	return c
}

// ToolDescriptor is one tool an MCP server advertises via tools/list.
type ToolDescriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// jsonRPCRequest is an outbound JSON-RPC 2.0 request or notification.
// Notifications omit ID.
type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      *int64      `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// jsonRPCResponse is an inbound JSON-RPC 2.0 response.
type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
	// Requests from the server to the client (e.g. sampling) are out of
	// scope; a Method field lets the reader loop recognize and ignore them.
	Method string `json:"method,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type initializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	ClientInfo      clientInfo             `json:"clientInfo"`
	Capabilities    map[string]interface{} `json:"capabilities"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type toolsListResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

type toolsCallParams struct {
	Name      string      `json:"name"`
	Arguments interface{} `json:"arguments"`
}

type toolsCallResult struct {
	Content []toolContentBlock `json:"content"`
	IsError bool               `json:"isError"`
}

type toolContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
