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

// manifestView is the externally visible manifest. The creator is an
// internal authority field and is never echoed to callers.
type manifestView struct {
	ProjectID   string               `json:"project_id"`
	ResourceID  string               `json:"resource_id"`
	Name        string               `json:"name"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
	ETag        string               `json:"etag"`
	Permissions *storage.Permissions `json:"permissions,omitempty"`
	MimeType    string               `json:"mime_type,omitempty"`
	SizeBytes   int64                `json:"size_bytes,omitempty"`
	SourcePath  string               `json:"source_path,omitempty"`
}

func viewManifest(m storage.Manifest) manifestView {
	return manifestView{
		ProjectID:   m.ProjectID,
		ResourceID:  m.ResourceID,
		Name:        m.Name,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		ETag:        m.ETag,
		Permissions: m.Permissions,
		MimeType:    m.MimeType,
		SizeBytes:   m.SizeBytes,
		SourcePath:  m.SourcePath,
	}
}

// permissionsArg parses the {read: [...], write: [...]} object. Absent
// means nil (deny-by-default); present means a defined ACL, even if empty.
func permissionsArg(req mcp.CallToolRequest) (*storage.Permissions, error) {
	raw, ok := req.GetArguments()["permissions"]
	if !ok || raw == nil {
		return nil, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, protocol.NewError(protocol.ErrInvalidID,
			"permissions must be an object with read and write arrays")
	}
	perms := &storage.Permissions{Read: []string{}, Write: []string{}}
	for _, field := range []struct {
		key string
		dst *[]string
	}{{"read", &perms.Read}, {"write", &perms.Write}} {
		v, ok := obj[field.key]
		if !ok || v == nil {
			continue
		}
		list, ok := v.([]any)
		if !ok {
			return nil, protocol.NewError(protocol.ErrInvalidID,
				"permissions.%s must be an array of agent names", field.key)
		}
		for _, entry := range list {
			s, ok := entry.(string)
			if !ok {
				return nil, protocol.NewError(protocol.ErrInvalidID,
					"permissions.%s entries must be strings", field.key)
			}
			*field.dst = append(*field.dst, s)
		}
	}
	return perms, nil
}

func (h *Handler) storeResourceTool() server.ServerTool {
	return server.ServerTool{
		Tool: mcp.NewTool(protocol.ToolStoreResource,
			mcp.WithDescription("Create or update a shared resource. Updates require the current etag. Content and source_path are mutually exclusive."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project the resource belongs to.")),
			mcp.WithString("resource_id", mcp.Required(), mcp.Description("Unique resource identifier within the project.")),
			mcp.WithString("agent_name", mcp.Required(), mcp.Description("Your agent name; must be a project member.")),
			mcp.WithString("name", mcp.Description("Human-readable resource name.")),
			mcp.WithString("content", mcp.Description("Inline content, up to 50 KB.")),
			mcp.WithString("source_path", mcp.Description("Absolute path under your home directory to store by reference, up to 500 KB.")),
			mcp.WithString("etag", mcp.Description("Current etag; required when updating.")),
			mcp.WithObject("permissions", mcp.Description("ACL object {read: [agents], write: [agents]}; \"*\" matches any member. Only the creator may change it.")),
			mcp.WithString("mime_type", mcp.Description("Content MIME type.")),
		),
		Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if err := checkArgs(req, "project_id", "resource_id", "agent_name", "name",
				"content", "source_path", "etag", "permissions", "mime_type"); err != nil {
				return h.errorResult(err), nil
			}
			projectID, err := req.RequireString("project_id")
			if err != nil {
				return h.errorResult(protocol.NewError(protocol.ErrInvalidID, "project_id is required")), nil
			}
			resourceID, err := req.RequireString("resource_id")
			if err != nil {
				return h.errorResult(protocol.NewError(protocol.ErrInvalidID, "resource_id is required")), nil
			}
			actor, err := req.RequireString("agent_name")
			if err != nil {
				return h.errorResult(protocol.NewError(protocol.ErrInvalidID, "agent_name is required")), nil
			}
			perms, err := permissionsArg(req)
			if err != nil {
				return h.errorResult(err), nil
			}

			// Presence matters: an empty content string is still inline
			// content, while an absent argument means "keep the payload".
			var content []byte
			if raw, ok := req.GetArguments()["content"]; ok && raw != nil {
				s, ok := raw.(string)
				if !ok {
					return h.errorResult(protocol.NewError(protocol.ErrInvalidID, "content must be a string")), nil
				}
				content = []byte(s)
			}

			manifest, err := h.store.StoreResource(ctx, storage.StoreResourceRequest{
				ProjectID:   projectID,
				ResourceID:  resourceID,
				Name:        req.GetString("name", ""),
				Actor:       actor,
				ETag:        req.GetString("etag", ""),
				Permissions: perms,
				Content:     content,
				SourcePath:  req.GetString("source_path", ""),
				MimeType:    req.GetString("mime_type", ""),
			})
			if err != nil {
				return h.errorResult(err), nil
			}
			return jsonResult(map[string]any{"resource": viewManifest(*manifest)}), nil
		},
	}
}

func (h *Handler) getResourceTool() server.ServerTool {
	return server.ServerTool{
		Tool: mcp.NewTool(protocol.ToolGetResource,
			mcp.WithDescription("Read a resource's manifest and content. With wait=true, blocks until the resource exists or the timeout passes."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project the resource belongs to.")),
			mcp.WithString("resource_id", mcp.Required(), mcp.Description("Resource to read.")),
			mcp.WithString("agent_name", mcp.Required(), mcp.Description("Your agent name; must have read permission.")),
			mcp.WithBoolean("wait", mcp.Description("Block until the resource exists.")),
			mcp.WithNumber("timeout_seconds", mcp.Description("Wait bound in seconds; defaults to 300, capped at 3600.")),
		),
		Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if err := checkArgs(req, "project_id", "resource_id", "agent_name", "wait", "timeout_seconds"); err != nil {
				return h.errorResult(err), nil
			}
			projectID, err := req.RequireString("project_id")
			if err != nil {
				return h.errorResult(protocol.NewError(protocol.ErrInvalidID, "project_id is required")), nil
			}
			resourceID, err := req.RequireString("resource_id")
			if err != nil {
				return h.errorResult(protocol.NewError(protocol.ErrInvalidID, "resource_id is required")), nil
			}
			actor, err := req.RequireString("agent_name")
			if err != nil {
				return h.errorResult(protocol.NewError(protocol.ErrInvalidID, "agent_name is required")), nil
			}

			res, err := h.store.GetResource(ctx, projectID, resourceID, actor)
			if err == nil {
				return jsonResult(resourceEnvelope(res)), nil
			}
			if !req.GetBool("wait", false) || protocol.CodeOf(err) != protocol.ErrNotFound {
				return h.errorResult(err), nil
			}

			timeout := h.cfg.ClampWaitTimeout(req.GetFloat("timeout_seconds", 0))
			start := time.Now()
			ok, werr := longpoll.Wait(ctx, longpoll.Options{
				Interval: h.cfg.Wait.PollInterval,
				Timeout:  timeout,
				WatchDir: h.store.ResourcesWatchDir(projectID),
			}, func() (bool, error) {
				return h.store.ResourceExists(projectID, resourceID), nil
			})
			if werr != nil {
				return h.errorResult(werr), nil
			}
			if !ok {
				return waitTimeoutResult("resource "+resourceID, time.Since(start).Seconds()), nil
			}

			res, err = h.store.GetResource(ctx, projectID, resourceID, actor)
			if err != nil {
				return h.errorResult(err), nil
			}
			return jsonResult(resourceEnvelope(res)), nil
		},
	}
}

func resourceEnvelope(res *storage.Resource) map[string]any {
	return map[string]any{
		"resource": viewManifest(res.Manifest),
		"content":  string(res.Content),
	}
}

func (h *Handler) listResourcesTool() server.ServerTool {
	return server.ServerTool{
		Tool: mcp.NewTool(protocol.ToolListResources,
			mcp.WithDescription("List the resources you may read in a project. Manifests only, no content."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project to list.")),
			mcp.WithString("agent_name", mcp.Required(), mcp.Description("Your agent name; must be a project member.")),
			mcp.WithNumber("offset", mcp.Description("Number of resources to skip.")),
			mcp.WithNumber("limit", mcp.Description("Page size, 1-1000 (default 100).")),
		),
		Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if err := checkArgs(req, "project_id", "agent_name", "offset", "limit"); err != nil {
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
			manifests, err := h.store.ListResources(ctx, projectID, actor,
				req.GetInt("offset", 0), req.GetInt("limit", 0))
			if err != nil {
				return h.errorResult(err), nil
			}
			views := make([]manifestView, 0, len(manifests))
			for _, m := range manifests {
				views = append(views, viewManifest(m))
			}
			return jsonResult(map[string]any{
				"resources": views,
				"count":     len(views),
			}), nil
		},
	}
}
