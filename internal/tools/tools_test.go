package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nextlevelbuilder/brainstorm/internal/config"
	"github.com/nextlevelbuilder/brainstorm/internal/storage"
	"github.com/nextlevelbuilder/brainstorm/pkg/protocol"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	cfg := config.Default()
	cfg.DataRoot = t.TempDir()
	store, err := storage.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return New(store, cfg, "test")
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

// callTool finds a registered tool by name and invokes its handler.
func callTool(t *testing.T, h *Handler, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	var tool *server.ServerTool
	for _, st := range h.Tools() {
		if st.Tool.Name == name {
			st := st
			tool = &st
			break
		}
	}
	if tool == nil {
		t.Fatalf("tool %q not registered", name)
	}
	res, err := tool.Handler(context.Background(), callRequest(name, args))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return res
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("result has no content")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want TextContent", res.Content[0])
	}
	return text.Text
}

func decodeResult(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("result is not JSON: %v\n%s", err, resultText(t, res))
	}
	return out
}

func errorCode(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if !res.IsError {
		t.Fatalf("result is not an error: %s", resultText(t, res))
	}
	var env protocol.ErrorEnvelope
	if err := json.Unmarshal([]byte(resultText(t, res)), &env); err != nil {
		t.Fatalf("error envelope is not JSON: %v", err)
	}
	return env.Error.Code
}

func TestVersionTool(t *testing.T) {
	h := newTestHandler(t)
	out := decodeResult(t, callTool(t, h, protocol.ToolVersion, nil))
	if out["name"] != "brainstorm" || out["version"] != "test" {
		t.Errorf("out = %v", out)
	}
	if out["protocol_version"] != float64(protocol.ProtocolVersion) {
		t.Errorf("protocol_version = %v", out["protocol_version"])
	}
}

func TestUnknownArgumentRejected(t *testing.T) {
	h := newTestHandler(t)
	res := callTool(t, h, protocol.ToolVersion, map[string]any{"surprise": true})
	if code := errorCode(t, res); code != protocol.ErrInvalidID {
		t.Errorf("code = %s, want INVALID_ID", code)
	}
}

func TestCreateJoinStoreGetFlow(t *testing.T) {
	h := newTestHandler(t)

	res := callTool(t, h, protocol.ToolCreateProject, map[string]any{
		"project_id":        "p",
		"agent_name":        "alice",
		"working_directory": "/home/alice/work",
	})
	if res.IsError {
		t.Fatalf("create failed: %s", resultText(t, res))
	}
	out := decodeResult(t, res)
	if out["role"] != protocol.RoleCoordinator {
		t.Errorf("creator role = %v", out["role"])
	}

	res = callTool(t, h, protocol.ToolJoinProject, map[string]any{
		"project_id":        "p",
		"agent_name":        "bob",
		"working_directory": "/home/bob/work",
		"capabilities":      []any{"review"},
		"labels":            map[string]any{"team": "qa"},
	})
	if res.IsError {
		t.Fatalf("join failed: %s", resultText(t, res))
	}

	res = callTool(t, h, protocol.ToolStoreResource, map[string]any{
		"project_id":  "p",
		"resource_id": "notes",
		"agent_name":  "alice",
		"content":     "shared notes",
		"permissions": map[string]any{"read": []any{"*"}, "write": []any{"alice"}},
	})
	if res.IsError {
		t.Fatalf("store failed: %s", resultText(t, res))
	}

	res = callTool(t, h, protocol.ToolGetResource, map[string]any{
		"project_id":  "p",
		"resource_id": "notes",
		"agent_name":  "bob",
	})
	if res.IsError {
		t.Fatalf("get failed: %s", resultText(t, res))
	}
	out = decodeResult(t, res)
	if out["content"] != "shared notes" {
		t.Errorf("content = %v", out["content"])
	}
	// The creator is internal authority state, never echoed.
	if strings.Contains(resultText(t, res), "creator_agent") {
		t.Error("response leaks creator_agent")
	}
}

func TestGetResourceDeniedWithoutACL(t *testing.T) {
	h := newTestHandler(t)
	callTool(t, h, protocol.ToolCreateProject, map[string]any{
		"project_id": "p", "agent_name": "alice", "working_directory": "/home/alice",
	})
	callTool(t, h, protocol.ToolStoreResource, map[string]any{
		"project_id": "p", "resource_id": "r", "agent_name": "alice", "content": "x",
	})
	res := callTool(t, h, protocol.ToolGetResource, map[string]any{
		"project_id": "p", "resource_id": "r", "agent_name": "alice",
	})
	if code := errorCode(t, res); code != protocol.ErrNoPermissionsDefined {
		t.Errorf("code = %s, want NO_PERMISSIONS_DEFINED", code)
	}
}

func TestSendAndReceiveTools(t *testing.T) {
	h := newTestHandler(t)
	callTool(t, h, protocol.ToolCreateProject, map[string]any{
		"project_id": "p", "agent_name": "alice", "working_directory": "/home/alice",
	})
	callTool(t, h, protocol.ToolJoinProject, map[string]any{
		"project_id": "p", "agent_name": "bob", "working_directory": "/home/bob",
	})

	res := callTool(t, h, protocol.ToolSendMessage, map[string]any{
		"project_id":     "p",
		"from_agent":     "alice",
		"to_agent":       "bob",
		"reply_expected": true,
		"payload":        map[string]any{"task": "review PR"},
	})
	if res.IsError {
		t.Fatalf("send failed: %s", resultText(t, res))
	}
	out := decodeResult(t, res)
	if out["reply_expected_guidance"] == nil {
		t.Error("reply_expected_guidance missing")
	}
	if out["role_reminder"] == nil || out["conversation_etiquette"] == nil {
		t.Error("advisories missing from send response")
	}

	res = callTool(t, h, protocol.ToolReceiveMessages, map[string]any{
		"project_id": "p", "agent_name": "bob",
	})
	if res.IsError {
		t.Fatalf("receive failed: %s", resultText(t, res))
	}
	out = decodeResult(t, res)
	if out["count"] != float64(1) {
		t.Errorf("count = %v", out["count"])
	}
	if out["reply_warnings"] == nil {
		t.Error("reply_warnings missing")
	}

	// Read-once.
	out = decodeResult(t, callTool(t, h, protocol.ToolReceiveMessages, map[string]any{
		"project_id": "p", "agent_name": "bob",
	}))
	if out["count"] != float64(0) {
		t.Errorf("second drain count = %v", out["count"])
	}
}

func TestSendMessageRequiresReplyExpected(t *testing.T) {
	h := newTestHandler(t)
	callTool(t, h, protocol.ToolCreateProject, map[string]any{
		"project_id": "p", "agent_name": "alice", "working_directory": "/home/alice",
	})
	callTool(t, h, protocol.ToolJoinProject, map[string]any{
		"project_id": "p", "agent_name": "bob", "working_directory": "/home/bob",
	})

	// Omitting reply_expected must fail, not default to false.
	res := callTool(t, h, protocol.ToolSendMessage, map[string]any{
		"project_id": "p",
		"from_agent": "alice",
		"to_agent":   "bob",
		"payload":    "hi",
	})
	if code := errorCode(t, res); code != protocol.ErrInvalidID {
		t.Errorf("code = %s, want INVALID_ID", code)
	}

	// Nothing was delivered.
	out := decodeResult(t, callTool(t, h, protocol.ToolReceiveMessages, map[string]any{
		"project_id": "p", "agent_name": "bob",
	}))
	if out["count"] != float64(0) {
		t.Errorf("count = %v, want 0", out["count"])
	}
}

func TestSendMessagePayloadSchemaUntyped(t *testing.T) {
	h := newTestHandler(t)

	var tool *mcp.Tool
	for _, st := range h.Tools() {
		if st.Tool.Name == protocol.ToolSendMessage {
			st := st
			tool = &st.Tool
			break
		}
	}
	if tool == nil {
		t.Fatal("send_message not registered")
	}

	prop, ok := tool.InputSchema.Properties["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload property = %T", tool.InputSchema.Properties["payload"])
	}
	if typ, ok := prop["type"]; ok {
		t.Errorf("payload schema pins type %v; any JSON value must validate", typ)
	}
	has := func(name string) bool {
		for _, r := range tool.InputSchema.Required {
			if r == name {
				return true
			}
		}
		return false
	}
	if !has("payload") || !has("reply_expected") {
		t.Errorf("required = %v, want payload and reply_expected", tool.InputSchema.Required)
	}

	// Non-object payloads pass end to end.
	callTool(t, h, protocol.ToolCreateProject, map[string]any{
		"project_id": "p", "agent_name": "alice", "working_directory": "/home/alice",
	})
	callTool(t, h, protocol.ToolJoinProject, map[string]any{
		"project_id": "p", "agent_name": "bob", "working_directory": "/home/bob",
	})
	res := callTool(t, h, protocol.ToolSendMessage, map[string]any{
		"project_id":     "p",
		"from_agent":     "alice",
		"to_agent":       "bob",
		"reply_expected": false,
		"payload":        42,
	})
	if res.IsError {
		t.Fatalf("numeric payload rejected: %s", resultText(t, res))
	}
}

func TestSendMessageBroadcastConflict(t *testing.T) {
	h := newTestHandler(t)
	callTool(t, h, protocol.ToolCreateProject, map[string]any{
		"project_id": "p", "agent_name": "alice", "working_directory": "/home/alice",
	})
	res := callTool(t, h, protocol.ToolSendMessage, map[string]any{
		"project_id":     "p",
		"from_agent":     "alice",
		"to_agent":       "bob",
		"broadcast":      true,
		"reply_expected": false,
		"payload":        "hi",
	})
	if code := errorCode(t, res); code != protocol.ErrConflict {
		t.Errorf("code = %s, want CONFLICT", code)
	}
}

func TestStatusTool(t *testing.T) {
	h := newTestHandler(t)
	callTool(t, h, protocol.ToolCreateProject, map[string]any{
		"project_id": "p", "agent_name": "alice", "working_directory": "/home/alice",
	})

	out := decodeResult(t, callTool(t, h, protocol.ToolStatus, map[string]any{
		"working_directory": "/home/alice",
	}))
	if id, ok := out["client_id"].(string); !ok || id == "" {
		t.Error("client_id missing")
	}
	projects, ok := out["projects"].([]any)
	if !ok || len(projects) != 1 {
		t.Errorf("projects = %v", out["projects"])
	}
	if out["identity_reminder"] == nil || out["critical_reminder"] == nil {
		t.Error("status reminders missing")
	}
}

func TestWaitTimeoutEnvelope(t *testing.T) {
	out := decodeResult(t, waitTimeoutResult("project p", 1.5))
	if out["timed_out"] != true || out["retry_allowed"] != true {
		t.Errorf("envelope = %v", out)
	}
	if out["code"] != protocol.ErrWaitTimeout {
		t.Errorf("code = %v", out["code"])
	}
}

func TestErrorScrubsDataRoot(t *testing.T) {
	h := newTestHandler(t)
	root := h.store.Root()
	res := h.errorResult(protocol.NewError(protocol.ErrIO, "open %s/projects/p: permission denied", root))
	text := resultText(t, res)
	if strings.Contains(text, root) {
		t.Errorf("error leaks data root: %s", text)
	}
	if !strings.Contains(text, "<data-root>") {
		t.Errorf("placeholder missing: %s", text)
	}
}

func TestHandoverTool(t *testing.T) {
	h := newTestHandler(t)
	callTool(t, h, protocol.ToolCreateProject, map[string]any{
		"project_id": "p", "agent_name": "alice", "working_directory": "/home/alice",
	})
	callTool(t, h, protocol.ToolJoinProject, map[string]any{
		"project_id": "p", "agent_name": "bob", "working_directory": "/home/bob",
	})

	res := callTool(t, h, protocol.ToolHandoverCoordinator, map[string]any{
		"project_id": "p", "from_agent": "alice", "to_agent": "bob",
	})
	if res.IsError {
		t.Fatalf("handover failed: %s", resultText(t, res))
	}
	out := decodeResult(t, res)
	if out["coordinator"] != "bob" {
		t.Errorf("coordinator = %v", out["coordinator"])
	}

	// Leaving as coordinator is blocked with candidates in details.
	res = callTool(t, h, protocol.ToolLeaveProject, map[string]any{
		"project_id": "p", "agent_name": "bob", "working_directory": "/home/bob",
	})
	if code := errorCode(t, res); code != protocol.ErrCoordinatorHandoverRequired {
		t.Errorf("code = %s, want COORDINATOR_HANDOVER_REQUIRED", code)
	}
	var env protocol.ErrorEnvelope
	if err := json.Unmarshal([]byte(resultText(t, res)), &env); err != nil {
		t.Fatal(err)
	}
	if env.Error.Details["candidates"] == nil {
		t.Error("handover candidates missing from details")
	}
}

func TestToolInventory(t *testing.T) {
	h := newTestHandler(t)
	tools := h.Tools()
	if len(tools) != 15 {
		t.Fatalf("registered %d tools, want 15", len(tools))
	}
	seen := map[string]bool{}
	for _, st := range tools {
		if seen[st.Tool.Name] {
			t.Errorf("duplicate tool %q", st.Tool.Name)
		}
		seen[st.Tool.Name] = true
	}
}
