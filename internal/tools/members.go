package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nextlevelbuilder/brainstorm/internal/storage"
	"github.com/nextlevelbuilder/brainstorm/pkg/protocol"
)

func (h *Handler) joinProjectTool() server.ServerTool {
	return server.ServerTool{
		Tool: mcp.NewTool(protocol.ToolJoinProject,
			mcp.WithDescription("Join a project under an agent name, or refresh your existing membership."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project to join.")),
			mcp.WithString("agent_name", mcp.Required(), mcp.Description("Your agent name within the project.")),
			mcp.WithString("working_directory", mcp.Description("Absolute path of your working directory; determines your client identity.")),
			mcp.WithArray("capabilities", mcp.Description("What this agent can do, e.g. [\"code-review\", \"testing\"]."),
				mcp.Items(map[string]any{"type": "string"})),
			mcp.WithObject("labels", mcp.Description("Free-form string labels attached to your membership.")),
		),
		Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if err := checkArgs(req, "project_id", "agent_name", "working_directory", "capabilities", "labels"); err != nil {
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
			clientID, err := h.clientID(req)
			if err != nil {
				return h.errorResult(err), nil
			}
			if err := h.store.EnsureClientIdentity(clientID); err != nil {
				return h.errorResult(err), nil
			}

			labels, err := stringMapArg(req, "labels")
			if err != nil {
				return h.errorResult(err), nil
			}

			member, err := h.store.JoinProject(ctx, storage.JoinProjectRequest{
				ProjectID:    projectID,
				AgentName:    agentName,
				ClientID:     clientID,
				Capabilities: req.GetStringSlice("capabilities", nil),
				Labels:       labels,
			})
			if err != nil {
				return h.errorResult(err), nil
			}

			return jsonResult(map[string]any{
				"member":        member,
				"client_id":     clientID,
				"role_reminder": roleReminder(member.Role),
			}), nil
		},
	}
}

func (h *Handler) leaveProjectTool() server.ServerTool {
	return server.ServerTool{
		Tool: mcp.NewTool(protocol.ToolLeaveProject,
			mcp.WithDescription("Leave a project. A coordinator must hand over first."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project to leave.")),
			mcp.WithString("agent_name", mcp.Required(), mcp.Description("Your agent name within the project.")),
			mcp.WithString("working_directory", mcp.Description("Absolute path of your working directory; determines your client identity.")),
		),
		Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if err := checkArgs(req, "project_id", "agent_name", "working_directory"); err != nil {
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
			clientID, err := h.clientID(req)
			if err != nil {
				return h.errorResult(err), nil
			}
			if err := h.store.LeaveProject(ctx, projectID, agentName, clientID); err != nil {
				return h.errorResult(err), nil
			}
			return jsonResult(map[string]any{
				"left":       true,
				"project_id": projectID,
				"agent_name": agentName,
			}), nil
		},
	}
}

func (h *Handler) handoverCoordinatorTool() server.ServerTool {
	return server.ServerTool{
		Tool: mcp.NewTool(protocol.ToolHandoverCoordinator,
			mcp.WithDescription("Transfer the coordinator role to another member. Only the current coordinator may call this."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project the role belongs to.")),
			mcp.WithString("from_agent", mcp.Required(), mcp.Description("Current coordinator (you).")),
			mcp.WithString("to_agent", mcp.Required(), mcp.Description("Member receiving the role.")),
		),
		Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if err := checkArgs(req, "project_id", "from_agent", "to_agent"); err != nil {
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
			toAgent, err := req.RequireString("to_agent")
			if err != nil {
				return h.errorResult(protocol.NewError(protocol.ErrInvalidID, "to_agent is required")), nil
			}
			if err := h.store.HandoverCoordinator(ctx, projectID, fromAgent, toAgent); err != nil {
				return h.errorResult(err), nil
			}
			return jsonResult(map[string]any{
				"project_id":    projectID,
				"coordinator":   toAgent,
				"role_reminder": roleReminder(protocol.RoleContributor),
			}), nil
		},
	}
}

// stringMapArg extracts an object argument as map[string]string.
func stringMapArg(req mcp.CallToolRequest, key string) (map[string]string, error) {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return nil, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, protocol.NewError(protocol.ErrInvalidID, "%s must be an object of strings", key)
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprintf("%v", v)
		}
		out[k] = s
	}
	return out, nil
}
