package tools

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nextlevelbuilder/brainstorm/internal/longpoll"
	"github.com/nextlevelbuilder/brainstorm/internal/storage"
	"github.com/nextlevelbuilder/brainstorm/pkg/protocol"
)

func (h *Handler) versionTool() server.ServerTool {
	return server.ServerTool{
		Tool: mcp.NewTool(protocol.ToolVersion,
			mcp.WithDescription("Report the server version and protocol version."),
		),
		Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if err := checkArgs(req); err != nil {
				return h.errorResult(err), nil
			}
			return jsonResult(map[string]any{
				"name":             "brainstorm",
				"version":          h.version,
				"protocol_version": protocol.ProtocolVersion,
				"schema_version":   protocol.SchemaVersion,
			}), nil
		},
	}
}

func (h *Handler) statusTool() server.ServerTool {
	return server.ServerTool{
		Tool: mcp.NewTool(protocol.ToolStatus,
			mcp.WithDescription("Show who you are and every project you are a member of, with roles and unread message counts."),
			mcp.WithString("working_directory", mcp.Description("Absolute path of your working directory; determines your client identity.")),
		),
		Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if err := checkArgs(req, "working_directory"); err != nil {
				return h.errorResult(err), nil
			}
			clientID, err := h.clientID(req)
			if err != nil {
				return h.errorResult(err), nil
			}
			if err := h.store.EnsureClientIdentity(clientID); err != nil {
				return h.errorResult(err), nil
			}
			statuses, err := h.store.ClientStatus(ctx, clientID)
			if err != nil {
				return h.errorResult(err), nil
			}
			return jsonResult(map[string]any{
				"client_id":         clientID,
				"projects":          statuses,
				"identity_reminder": adviceIdentity,
				"critical_reminder": adviceCritical,
			}), nil
		},
	}
}

func (h *Handler) createProjectTool() server.ServerTool {
	return server.ServerTool{
		Tool: mcp.NewTool(protocol.ToolCreateProject,
			mcp.WithDescription("Create a project. When agent_name is given the creator joins as coordinator."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Unique project identifier (letters, digits, - and _).")),
			mcp.WithString("name", mcp.Description("Human-readable project name; defaults to project_id.")),
			mcp.WithString("agent_name", mcp.Description("Your agent name in the project; joins you as coordinator.")),
			mcp.WithString("working_directory", mcp.Description("Absolute path of your working directory; determines your client identity.")),
		),
		Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if err := checkArgs(req, "project_id", "name", "agent_name", "working_directory"); err != nil {
				return h.errorResult(err), nil
			}
			projectID, err := req.RequireString("project_id")
			if err != nil {
				return h.errorResult(protocol.NewError(protocol.ErrInvalidID, "project_id is required")), nil
			}
			createdBy := req.GetString("agent_name", "")

			var clientID string
			if createdBy != "" {
				clientID, err = h.clientID(req)
				if err != nil {
					return h.errorResult(err), nil
				}
				if err := h.store.EnsureClientIdentity(clientID); err != nil {
					return h.errorResult(err), nil
				}
			}

			meta, err := h.store.CreateProject(ctx, storage.CreateProjectRequest{
				ProjectID: projectID,
				Name:      req.GetString("name", ""),
				CreatedBy: createdBy,
				ClientID:  clientID,
			})
			if err != nil {
				return h.errorResult(err), nil
			}

			resp := map[string]any{"project": meta}
			if createdBy != "" {
				resp["role"] = protocol.RoleCoordinator
				resp["role_reminder"] = roleReminder(protocol.RoleCoordinator)
			}
			return jsonResult(resp), nil
		},
	}
}

func (h *Handler) listProjectsTool() server.ServerTool {
	return server.ServerTool{
		Tool: mcp.NewTool(protocol.ToolListProjects,
			mcp.WithDescription("List projects, paginated, newest ids excluded only when archived."),
			mcp.WithNumber("offset", mcp.Description("Number of projects to skip.")),
			mcp.WithNumber("limit", mcp.Description("Page size, 1-1000 (default 100).")),
			mcp.WithBoolean("include_archived", mcp.Description("Include archived projects.")),
		),
		Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if err := checkArgs(req, "offset", "limit", "include_archived"); err != nil {
				return h.errorResult(err), nil
			}
			metas, err := h.store.ListProjects(
				req.GetInt("offset", 0),
				req.GetInt("limit", 0),
				req.GetBool("include_archived", false),
			)
			if err != nil {
				return h.errorResult(err), nil
			}
			return jsonResult(map[string]any{
				"projects": metas,
				"count":    len(metas),
			}), nil
		},
	}
}

func (h *Handler) getProjectInfoTool() server.ServerTool {
	return server.ServerTool{
		Tool: mcp.NewTool(protocol.ToolGetProjectInfo,
			mcp.WithDescription("Fetch a project's metadata and member list. With wait=true, blocks until the project exists or the timeout passes."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project to look up.")),
			mcp.WithBoolean("wait", mcp.Description("Block until the project exists.")),
			mcp.WithNumber("timeout_seconds", mcp.Description("Wait bound in seconds; defaults to 300, capped at 3600.")),
		),
		Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if err := checkArgs(req, "project_id", "wait", "timeout_seconds"); err != nil {
				return h.errorResult(err), nil
			}
			projectID, err := req.RequireString("project_id")
			if err != nil {
				return h.errorResult(protocol.NewError(protocol.ErrInvalidID, "project_id is required")), nil
			}

			info, err := h.store.GetProjectInfo(ctx, projectID)
			if err == nil {
				return jsonResult(map[string]any{"project": info}), nil
			}
			if !req.GetBool("wait", false) || protocol.CodeOf(err) != protocol.ErrNotFound {
				return h.errorResult(err), nil
			}

			timeout := h.cfg.ClampWaitTimeout(req.GetFloat("timeout_seconds", 0))
			start := time.Now()
			ok, werr := longpoll.Wait(ctx, longpoll.Options{
				Interval: h.cfg.Wait.PollInterval,
				Timeout:  timeout,
				WatchDir: h.store.ProjectsWatchDir(),
			}, func() (bool, error) {
				return h.store.ProjectExists(projectID), nil
			})
			if werr != nil {
				return h.errorResult(werr), nil
			}
			if !ok {
				return waitTimeoutResult("project "+projectID, time.Since(start).Seconds()), nil
			}

			info, err = h.store.GetProjectInfo(ctx, projectID)
			if err != nil {
				return h.errorResult(err), nil
			}
			return jsonResult(map[string]any{"project": info}), nil
		},
	}
}

func (h *Handler) deleteProjectTool() server.ServerTool {
	return server.ServerTool{
		Tool: mcp.NewTool(protocol.ToolDeleteProject,
			mcp.WithDescription("Delete a project and all of its members, resources, and messages. Creator only."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project to delete.")),
			mcp.WithString("agent_name", mcp.Required(), mcp.Description("Your agent name; must be the project creator.")),
		),
		Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if err := checkArgs(req, "project_id", "agent_name"); err != nil {
				return h.errorResult(err), nil
			}
			projectID, err := req.RequireString("project_id")
			if err != nil {
				return h.errorResult(protocol.NewError(protocol.ErrInvalidID, "project_id is required")), nil
			}
			actor, err := req.RequireString("agent_name")
			if err != nil {
				return h.errorResult(protocol.NewError(protocol.ErrInvalidID, "agent_name is required")), nil
			}
			if err := h.store.DeleteProject(ctx, projectID, actor); err != nil {
				return h.errorResult(err), nil
			}
			return jsonResult(map[string]any{
				"deleted":    true,
				"project_id": projectID,
			}), nil
		},
	}
}

func (h *Handler) archiveProjectTool() server.ServerTool {
	return server.ServerTool{
		Tool: mcp.NewTool(protocol.ToolArchiveProject,
			mcp.WithDescription("Archive a project: hidden from listings, children retained. Creator only."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project to archive.")),
			mcp.WithString("agent_name", mcp.Required(), mcp.Description("Your agent name; must be the project creator.")),
			mcp.WithString("reason", mcp.Description("Why the project is being archived.")),
		),
		Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if err := checkArgs(req, "project_id", "agent_name", "reason"); err != nil {
				return h.errorResult(err), nil
			}
			projectID, err := req.RequireString("project_id")
			if err != nil {
				return h.errorResult(protocol.NewError(protocol.ErrInvalidID, "project_id is required")), nil
			}
			actor, err := req.RequireString("agent_name")
			if err != nil {
				return h.errorResult(protocol.NewError(protocol.ErrInvalidID, "agent_name is required")), nil
			}
			meta, err := h.store.ArchiveProject(ctx, projectID, actor, req.GetString("reason", ""))
			if err != nil {
				return h.errorResult(err), nil
			}
			return jsonResult(map[string]any{"project": meta}), nil
		},
	}
}
