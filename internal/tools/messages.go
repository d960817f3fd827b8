package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nextlevelbuilder/brainstorm/internal/longpoll"
	"github.com/nextlevelbuilder/brainstorm/internal/storage"
	"github.com/nextlevelbuilder/brainstorm/pkg/protocol"
)

func (h *Handler) sendMessageTool() server.ServerTool {
	tool := mcp.NewTool(protocol.ToolSendMessage,
		mcp.WithDescription("Send a message to one member, or broadcast to every other member. Payload may be a string or any JSON value."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project the conversation belongs to.")),
		mcp.WithString("from_agent", mcp.Required(), mcp.Description("Your agent name; must be a project member.")),
		mcp.WithString("to_agent", mcp.Description("Recipient agent name; omit when broadcasting.")),
		mcp.WithBoolean("broadcast", mcp.Description("Deliver to every member except you.")),
		mcp.WithBoolean("reply_expected", mcp.Required(), mcp.Description("Whether you expect an answer; recipients are warned.")),
		mcp.WithString("message_type", mcp.Description("Free-form type; handoff, handoff_accepted and handoff_rejected are role-gated.")),
	)
	// Any JSON value is a valid payload, so its schema declares no type;
	// a typed property would make conforming clients refuse plain strings.
	tool.InputSchema.Properties["payload"] = map[string]any{
		"description": "Message body; any JSON value up to 500 KB. Plain strings are accepted as-is.",
	}
	tool.InputSchema.Required = append(tool.InputSchema.Required, "payload")
	return server.ServerTool{
		Tool: tool,
		Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if err := checkArgs(req, "project_id", "from_agent", "to_agent", "broadcast",
				"reply_expected", "message_type", "payload"); err != nil {
				return h.errorResult(err), nil
			}
			projectID, err := req.RequireString("project_id")
			if err != nil {
				return h.errorResult(protocol.NewError(protocol.ErrInvalidID, "project_id is required")), nil
			}
			fromAgent, err := req.RequireString("from_agent")
			if err != nil {
				return h.errorResult(protocol.NewError(protocol.ErrInvalidID, "from_agent is required")), nil
			}
			broadcast := req.GetBool("broadcast", false)
			toAgent := req.GetString("to_agent", "")
			if broadcast && toAgent != "" {
				return h.errorResult(protocol.NewError(protocol.ErrConflict,
					"to_agent and broadcast are mutually exclusive")), nil
			}

			// The schema marks reply_expected required, but the transport
			// does not enforce required-ness server-side; check presence.
			replyExpected, err := req.RequireBool("reply_expected")
			if err != nil {
				return h.errorResult(protocol.NewError(protocol.ErrInvalidID, "reply_expected is required")), nil
			}

			// Re-marshal the payload verbatim; strings become JSON strings
			// and are never parsed further.
			rawPayload, ok := req.GetArguments()["payload"]
			if !ok {
				return h.errorResult(protocol.NewError(protocol.ErrInvalidID, "payload is required")), nil
			}
			payloadBytes, err := json.Marshal(rawPayload)
			if err != nil {
				return h.errorResult(protocol.NewError(protocol.ErrInvalidID, "payload is not valid JSON")), nil
			}

			msg, delivered, err := h.store.SendMessage(ctx, storage.SendMessageRequest{
				ProjectID:     projectID,
				FromAgent:     fromAgent,
				ToAgent:       toAgent,
				Broadcast:     broadcast,
				ReplyExpected: replyExpected,
				MessageType:   req.GetString("message_type", ""),
				Payload:       payloadBytes,
			})
			if err != nil {
				return h.errorResult(err), nil
			}

			resp := map[string]any{
				"message_id":             msg.MessageID,
				"timestamp":              msg.Timestamp,
				"delivered_to":           delivered,
				"broadcast":              broadcast,
				"conversation_etiquette": adviceEtiquette,
			}
			if sender, serr := h.store.GetMember(projectID, fromAgent); serr == nil {
				resp["role_reminder"] = roleReminder(sender.Role)
			}
			if replyExpected {
				resp["reply_expected_guidance"] = adviceReplyExpected
			}
			return jsonResult(resp), nil
		},
	}
}

func (h *Handler) receiveMessagesTool() server.ServerTool {
	return server.ServerTool{
		Tool: mcp.NewTool(protocol.ToolReceiveMessages,
			mcp.WithDescription("Drain your inbox in arrival order. Returned messages are archived immediately and never delivered twice. With wait=true, blocks until a message arrives or the timeout passes."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project whose inbox to drain.")),
			mcp.WithString("agent_name", mcp.Required(), mcp.Description("Your agent name; must be a project member.")),
			mcp.WithBoolean("wait", mcp.Description("Block until at least one message arrives.")),
			mcp.WithNumber("timeout_seconds", mcp.Description("Wait bound in seconds; defaults to 300, capped at 3600.")),
		),
		Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if err := checkArgs(req, "project_id", "agent_name", "wait", "timeout_seconds"); err != nil {
				return h.errorResult(err), nil
			}
			projectID, err := req.RequireString("project_id")
			if err != nil {
				return h.errorResult(protocol.NewError(protocol.ErrInvalidID, "project_id is required")), nil
			}
			agentName, err := req.RequireString("agent_name")
			if err != nil {
				return h.errorResult(protocol.NewError(protocol.ErrInvalidID, "agent_name is required")), nil
			}

			result, err := h.store.ReceiveMessages(ctx, projectID, agentName)
			if err != nil {
				return h.errorResult(err), nil
			}
			if len(result.Messages) > 0 || !req.GetBool("wait", false) {
				return jsonResult(receiveEnvelope(result)), nil
			}

			timeout := h.cfg.ClampWaitTimeout(req.GetFloat("timeout_seconds", 0))
			start := time.Now()
			ok, werr := longpoll.Wait(ctx, longpoll.Options{
				Interval: h.cfg.Wait.PollInterval,
				Timeout:  timeout,
				WatchDir: h.store.InboxWatchDir(projectID, agentName),
			}, func() (bool, error) {
				return h.store.InboxHasMessages(projectID, agentName), nil
			})
			if werr != nil {
				return h.errorResult(werr), nil
			}
			if !ok {
				return waitTimeoutResult("messages for "+agentName, time.Since(start).Seconds()), nil
			}

			// A concurrent drain may have raced us to the inbox; an empty
			// batch here is a valid outcome, not an error.
			result, err = h.store.ReceiveMessages(ctx, projectID, agentName)
			if err != nil {
				return h.errorResult(err), nil
			}
			return jsonResult(receiveEnvelope(result)), nil
		},
	}
}

func receiveEnvelope(result *storage.ReceiveResult) map[string]any {
	env := map[string]any{
		"messages": result.Messages,
		"count":    len(result.Messages),
	}
	if len(result.ReplyWarnings) > 0 {
		env["reply_warnings"] = result.ReplyWarnings
	}
	if len(result.HandoffAlerts) > 0 {
		env["handoff_alerts"] = result.HandoffAlerts
	}
	return env
}
