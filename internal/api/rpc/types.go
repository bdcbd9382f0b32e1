// Package rpc implements the JSON-RPC 2.0 surface of the server: request
// and response envelopes, the method router, and the stdio and websocket
// transports.
//
// Protocol rules for the stdio transport:
//   - Each request arrives as a single newline-terminated line on stdin.
//   - Each response is written as a single newline-terminated line to stdout.
//   - ALL diagnostic output goes to stderr only. Stray bytes on stdout would
//     corrupt the framing.
package rpc

import "encoding/json"

// Version is the only accepted jsonrpc version string.
const Version = "2.0"

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
)

// Application error codes, in the implementation-defined range.
const (
	// CodeCallTimeout is returned when a tool call exceeds the per-call
	// deadline and is abandoned.
	CodeCallTimeout = -32002
	// CodeUnknownSession is returned for operations on a session id that
	// does not exist.
	CodeUnknownSession = -32010
	// CodeInvalidSessionState is returned when a session operation is not
	// legal in the session's current state.
	CodeInvalidSessionState = -32011
	// CodeStoreRecovered reports that the memory store was corrupt and the
	// server restarted over an empty store.
	CodeStoreRecovered = -32012
)

// Request is a JSON-RPC 2.0 request envelope. ID is kept raw so responses
// echo it byte for byte; a nil ID marks a notification, which gets no
// response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Response is a JSON-RPC 2.0 response envelope. Exactly one of Result and
// Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// InitializeResult is the response to the initialize handshake.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
}

// Capabilities advertises what the server supports.
type Capabilities struct {
	Tools ToolsCapability `json:"tools"`
}

// ToolsCapability is the tools section of Capabilities.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ServerInfo identifies the server implementation.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolDescriptor is one entry of a tools/list result.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema"`
}

// ToolsListResult is the response to tools/list.
type ToolsListResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// ToolCallParams are the parameters of a tools/call request.
type ToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ContentBlock is one element of a tool call result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolCallResult is the response to tools/call.
type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}
