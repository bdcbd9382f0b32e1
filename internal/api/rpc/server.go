package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/marrow-mcp/marrow/internal/memory"
	"github.com/marrow-mcp/marrow/internal/session"
	"github.com/marrow-mcp/marrow/internal/tools"
)

// protocolVersion is the MCP protocol revision this server speaks.
const protocolVersion = "2024-11-05"

// Server routes decoded JSON-RPC requests to protocol handlers and tool
// calls. It is transport-agnostic: both the stdio and websocket transports
// feed it raw request bytes and ship back whatever it returns.
type Server struct {
	registry    *tools.Registry
	name        string
	version     string
	callTimeout time.Duration
	logger      *log.Logger
}

// NewServer wires a protocol server over a tool registry. callTimeout bounds
// each tools/call; zero disables the per-call deadline.
func NewServer(registry *tools.Registry, name, version string, callTimeout time.Duration) *Server {
	return &Server{
		registry:    registry,
		name:        name,
		version:     version,
		callTimeout: callTimeout,
		logger:      log.New(os.Stderr, "marrow-rpc: ", log.LstdFlags),
	}
}

// Handle processes one raw request and returns the marshalled response, or
// nil when the request was a notification. It never panics and never leaks
// internal error detail: unexpected failures are logged to stderr and
// surfaced as a generic internal error.
func (s *Server) Handle(ctx context.Context, raw []byte) []byte {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return marshalResponse(errorResponse(nil, CodeParseError, "Parse error", nil))
	}

	if req.JSONRPC != Version || req.Method == "" {
		if req.IsNotification() {
			return nil
		}
		return marshalResponse(errorResponse(req.ID, CodeInvalidRequest, "Invalid Request", nil))
	}

	resp := s.dispatch(ctx, &req)
	if req.IsNotification() || resp == nil {
		return nil
	}
	return marshalResponse(resp)
}

func (s *Server) dispatch(ctx context.Context, req *Request) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("panic in %s handler: %v", req.Method, r)
			resp = errorResponse(req.ID, CodeInternalError, "internal error", nil)
		}
	}()

	switch req.Method {
	case "initialize":
		return successResponse(req.ID, InitializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities:    Capabilities{Tools: ToolsCapability{ListChanged: false}},
			ServerInfo:      ServerInfo{Name: s.name, Version: s.version},
		})
	case "initialized", "notifications/initialized":
		// Handshake acknowledgement. Usually a notification; answered with
		// an empty object when a client sends it with an id.
		return successResponse(req.ID, map[string]any{})
	case "ping":
		return successResponse(req.ID, map[string]any{})
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
	}
}

func (s *Server) handleToolsList(req *Request) *Response {
	defs := s.registry.List()
	result := ToolsListResult{Tools: make([]ToolDescriptor, 0, len(defs))}
	for _, def := range defs {
		result.Tools = append(result.Tools, ToolDescriptor{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		})
	}
	return successResponse(req.ID, result)
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if len(req.Params) == 0 {
		return errorResponse(req.ID, CodeInvalidParams, "tools/call requires params", nil)
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "malformed tools/call params", nil)
	}
	if params.Name == "" {
		return errorResponse(req.ID, CodeInvalidParams, "tool name is required", nil)
	}

	def, ok := s.registry.Resolve(params.Name)
	if !ok {
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("Unknown tool: %s", params.Name), nil)
	}

	callCtx := ctx
	if s.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
	}

	// The handler runs in its own goroutine so a tool that ignores its
	// context cannot hold the response hostage past the deadline.
	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := s.invoke(callCtx, def, params.Arguments)
		done <- outcome{result, err}
	}()

	var result any
	select {
	case <-callCtx.Done():
		if callCtx.Err() == context.DeadlineExceeded {
			return errorResponse(req.ID, CodeCallTimeout,
				fmt.Sprintf("tool %s timed out after %s", params.Name, s.callTimeout), nil)
		}
		return errorResponse(req.ID, CodeServerError, "call cancelled", nil)
	case out := <-done:
		if out.err != nil {
			if callCtx.Err() == context.DeadlineExceeded {
				return errorResponse(req.ID, CodeCallTimeout,
					fmt.Sprintf("tool %s timed out after %s", params.Name, s.callTimeout), nil)
			}
			return s.toolErrorResponse(req.ID, params.Name, out.err)
		}
		result = out.result
	}

	text, err := json.Marshal(result)
	if err != nil {
		s.logger.Printf("failed to marshal %s result: %v", params.Name, err)
		return errorResponse(req.ID, CodeInternalError, "internal error", nil)
	}
	return successResponse(req.ID, ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: string(text)}},
	})
}

// invoke runs a tool handler with panic containment so one misbehaving tool
// cannot take the server down.
func (s *Server) invoke(ctx context.Context, def tools.Definition, args json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("panic in tool %s: %v", def.Name, r)
			err = errors.New("internal error")
		}
	}()
	return def.Handler(ctx, args)
}

// toolErrorResponse maps tool failures onto protocol error codes. Messages
// for classified errors are safe to expose; anything unclassified is logged
// and replaced with a generic internal error so stack traces and paths
// never cross the protocol boundary.
func (s *Server) toolErrorResponse(id json.RawMessage, tool string, err error) *Response {
	switch {
	case errors.Is(err, tools.ErrBadInput):
		return errorResponse(id, CodeInvalidParams, err.Error(), nil)
	case errors.Is(err, memory.ErrInvalidInput):
		return errorResponse(id, CodeInvalidParams, err.Error(), nil)
	case errors.Is(err, memory.ErrNotFound):
		return errorResponse(id, CodeServerError, err.Error(), nil)
	case errors.Is(err, session.ErrNotFound):
		return errorResponse(id, CodeUnknownSession, err.Error(), nil)
	case errors.Is(err, session.ErrInvalidState):
		return errorResponse(id, CodeInvalidSessionState, err.Error(), nil)
	case errors.Is(err, tools.ErrCircuitOpen):
		return errorResponse(id, CodeServerError, err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		return errorResponse(id, CodeCallTimeout, fmt.Sprintf("tool %s timed out", tool), nil)
	default:
		s.logger.Printf("tool %s failed: %v", tool, err)
		return errorResponse(id, CodeInternalError, "internal error", nil)
	}
}

func successResponse(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: Version, ID: normalizeID(id), Result: result}
}

func errorResponse(id json.RawMessage, code int, message string, data any) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      normalizeID(id),
		Error:   &Error{Code: code, Message: message, Data: data},
	}
}

// normalizeID maps a missing id to the JSON null the response envelope
// requires for unidentifiable requests.
func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

func marshalResponse(resp *Response) []byte {
	out, err := json.Marshal(resp)
	if err != nil {
		// The envelope contains only marshalable types; reaching this means
		// a handler returned something exotic. Fail safe with a minimal
		// internal error frame.
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return out
}
