// Package toolbus implements the Tool Bus (spec §4.3): a JSON-RPC 2.0
// client that multiplexes calls to one subprocess per registered tool
// server, over stdio, one JSON object per line.
package toolbus

import (
	"encoding/json"
	"time"
)

// ServerConfig is one entry in the bus's server manifest: logical name to
// command line, working directory, and environment. Servers are not
// auto-spawned until first use (spec §4.3 "Server discovery").
type ServerConfig struct {
	Name        string            `yaml:"name" json:"name"`
	Command     string            `yaml:"command" json:"command"`
	Args        []string          `yaml:"args" json:"args"`
	Env         map[string]string `yaml:"env" json:"env"`
	WorkDir     string            `yaml:"workdir" json:"workdir"`
	BootTimeout time.Duration     `yaml:"boot_timeout" json:"boot_timeout"`

	// Required marks a server the engine cannot usefully run without.
	// The bus itself still spawns lazily on first use regardless of this
	// flag (spec §4.3); Required is read by the boot sequence (spec §2
	// Lifecycle/Init) to eagerly probe and fail startup if a required
	// server cannot reach ready.
	Required bool `yaml:"required" json:"required"`
}

// jsonrpcRequest is a JSON-RPC 2.0 request line.
type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// jsonrpcResponse is a JSON-RPC 2.0 response line.
type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

// jsonrpcNotification is an unsolicited server line: $/progress or
// notifications/* (spec §4.3 step 4), forwarded to the bus's progress
// dispatcher rather than matched against a pending call.
type jsonrpcNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// callToolParams is the params payload for a tools/call request.
type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ProgressHandler receives server-initiated progress notifications,
// forwarded as events by the bus's caller (spec §4.3 step 4).
type ProgressHandler func(server, method string, params json.RawMessage)
