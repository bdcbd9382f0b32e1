package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marrow-mcp/marrow/internal/session"
	"github.com/marrow-mcp/marrow/internal/tools"
)

func testServer(t *testing.T, extra ...tools.Definition) *Server {
	t.Helper()
	registry := tools.NewRegistry()
	registry.MustRegister(tools.EchoDefinition)
	registry.MustRegister(extra...)
	return NewServer(registry, "marrow", "1.0.0-test", 2*time.Second)
}

func handle(t *testing.T, s *Server, raw string) *Response {
	t.Helper()
	out := s.Handle(context.Background(), []byte(raw))
	require.NotNil(t, out, "expected a response frame")
	var resp Response
	require.NoError(t, json.Unmarshal(out, &resp))
	return &resp
}

func resultMap(t *testing.T, resp *Response) map[string]any {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected error: %+v", resp.Error)
	data, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestInitializeHandshake(t *testing.T) {
	s := testServer(t)
	resp := handle(t, s, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)

	result := resultMap(t, resp)
	assert.Equal(t, protocolVersion, result["protocolVersion"])
	info := result["serverInfo"].(map[string]any)
	assert.Equal(t, "marrow", info["name"])
	assert.Equal(t, json.RawMessage("1"), resp.ID)
}

func TestToolsListIncludesRegisteredTools(t *testing.T) {
	s := testServer(t)
	resp := handle(t, s, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)

	result := resultMap(t, resp)
	toolList := result["tools"].([]any)
	require.Len(t, toolList, 1)
	entry := toolList[0].(map[string]any)
	assert.Equal(t, "echo", entry["name"])
	assert.NotNil(t, entry["inputSchema"])
}

func TestEchoCallRoundTrip(t *testing.T) {
	s := testServer(t)
	resp := handle(t, s,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"message":"ping"}}}`)

	result := resultMap(t, resp)
	content := result["content"].([]any)
	require.Len(t, content, 1)
	block := content[0].(map[string]any)
	assert.Equal(t, "text", block["type"])
	assert.JSONEq(t, `{"message":"ping"}`, block["text"].(string))
}

func TestUnknownToolReturnsMethodNotFound(t *testing.T) {
	s := testServer(t)
	resp := handle(t, s,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"ghost_tool","arguments":{}}}`)

	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
	assert.Equal(t, json.RawMessage("4"), resp.ID, "error response must carry the request id")
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	s := testServer(t)
	resp := handle(t, s, `{"jsonrpc":"2.0","id":5,"method":"no/such/method"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestMalformedJSONReturnsParseError(t *testing.T) {
	s := testServer(t)
	resp := handle(t, s, `{"jsonrpc":"2.0", this is not json`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeParseError, resp.Error.Code)
	assert.Equal(t, json.RawMessage("null"), resp.ID)
}

func TestMissingVersionReturnsInvalidRequest(t *testing.T) {
	s := testServer(t)

	resp := handle(t, s, `{"id":6,"method":"tools/list"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)

	resp = handle(t, s, `{"jsonrpc":"1.0","id":7,"method":"tools/list"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)

	resp = handle(t, s, `{"jsonrpc":"2.0","id":8}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
}

func TestNotificationGetsNoResponse(t *testing.T) {
	s := testServer(t)
	out := s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"initialized"}`))
	assert.Nil(t, out)

	// Even a notification for an unknown method stays silent.
	out = s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"no/such/method"}`))
	assert.Nil(t, out)
}

func TestToolsCallParamValidation(t *testing.T) {
	s := testServer(t)

	resp := handle(t, s, `{"jsonrpc":"2.0","id":9,"method":"tools/call"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)

	resp = handle(t, s, `{"jsonrpc":"2.0","id":10,"method":"tools/call","params":{"arguments":{}}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestBadToolInputMapsToInvalidParams(t *testing.T) {
	bad := tools.Definition{
		Name:        "picky",
		InputSchema: tools.GenerateSchema[struct{}](),
		Handler: func(context.Context, json.RawMessage) (any, error) {
			return nil, fmt.Errorf("%w: nope", tools.ErrBadInput)
		},
	}
	s := testServer(t, bad)

	resp := handle(t, s, `{"jsonrpc":"2.0","id":11,"method":"tools/call","params":{"name":"picky"}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestSessionErrorsMapToApplicationCodes(t *testing.T) {
	missing := tools.Definition{
		Name:        "missing_session",
		InputSchema: tools.GenerateSchema[struct{}](),
		Handler: func(context.Context, json.RawMessage) (any, error) {
			return nil, session.ErrNotFound
		},
	}
	invalid := tools.Definition{
		Name:        "paused_session",
		InputSchema: tools.GenerateSchema[struct{}](),
		Handler: func(context.Context, json.RawMessage) (any, error) {
			return nil, fmt.Errorf("%w: cannot log events while paused", session.ErrInvalidState)
		},
	}
	s := testServer(t, missing, invalid)

	resp := handle(t, s, `{"jsonrpc":"2.0","id":12,"method":"tools/call","params":{"name":"missing_session"}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeUnknownSession, resp.Error.Code)

	resp = handle(t, s, `{"jsonrpc":"2.0","id":13,"method":"tools/call","params":{"name":"paused_session"}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidSessionState, resp.Error.Code)
}

func TestSlowToolReturnsCallTimeout(t *testing.T) {
	slow := tools.Definition{
		Name:        "slow",
		InputSchema: tools.GenerateSchema[struct{}](),
		Handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
			select {
			case <-time.After(30 * time.Second):
				return "done", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	registry := tools.NewRegistry()
	registry.MustRegister(slow)
	s := NewServer(registry, "marrow", "test", 100*time.Millisecond)

	start := time.Now()
	resp := handle(t, s, `{"jsonrpc":"2.0","id":14,"method":"tools/call","params":{"name":"slow"}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeCallTimeout, resp.Error.Code)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestStuckToolStillTimesOut(t *testing.T) {
	// A tool that ignores its context entirely must not hold the response.
	stuck := tools.Definition{
		Name:        "stuck",
		InputSchema: tools.GenerateSchema[struct{}](),
		Handler: func(context.Context, json.RawMessage) (any, error) {
			time.Sleep(30 * time.Second)
			return "done", nil
		},
	}
	registry := tools.NewRegistry()
	registry.MustRegister(stuck)
	s := NewServer(registry, "marrow", "test", 100*time.Millisecond)

	start := time.Now()
	resp := handle(t, s, `{"jsonrpc":"2.0","id":15,"method":"tools/call","params":{"name":"stuck"}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeCallTimeout, resp.Error.Code)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestPanickingToolIsSanitized(t *testing.T) {
	boom := tools.Definition{
		Name:        "boom",
		InputSchema: tools.GenerateSchema[struct{}](),
		Handler: func(context.Context, json.RawMessage) (any, error) {
			panic("secret internal detail: /etc/shadow")
		},
	}
	s := testServer(t, boom)

	resp := handle(t, s, `{"jsonrpc":"2.0","id":16,"method":"tools/call","params":{"name":"boom"}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInternalError, resp.Error.Code)
	assert.Equal(t, "internal error", resp.Error.Message)
	assert.NotContains(t, resp.Error.Message, "shadow")
}

func TestUnclassifiedToolErrorIsSanitized(t *testing.T) {
	leaky := tools.Definition{
		Name:        "leaky",
		InputSchema: tools.GenerateSchema[struct{}](),
		Handler: func(context.Context, json.RawMessage) (any, error) {
			return nil, errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")
		},
	}
	s := testServer(t, leaky)

	resp := handle(t, s, `{"jsonrpc":"2.0","id":17,"method":"tools/call","params":{"name":"leaky"}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInternalError, resp.Error.Code)
	assert.Equal(t, "internal error", resp.Error.Message)
}

func TestStringIDsEchoedVerbatim(t *testing.T) {
	s := testServer(t)
	resp := handle(t, s, `{"jsonrpc":"2.0","id":"req-abc","method":"tools/list"}`)
	assert.Equal(t, json.RawMessage(`"req-abc"`), resp.ID)
}
