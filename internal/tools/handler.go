// Package tools binds MCP tool arguments to storage and coordination
// calls and shapes the JSON responses. Handlers stay thin: every rule
// that matters lives in the storage engine.
package tools

import (
	"os"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nextlevelbuilder/brainstorm/internal/config"
	"github.com/nextlevelbuilder/brainstorm/internal/session"
	"github.com/nextlevelbuilder/brainstorm/internal/storage"
	"github.com/nextlevelbuilder/brainstorm/pkg/protocol"
)

// Handler owns the tool implementations. One instance serves all tools.
type Handler struct {
	store   *storage.Store
	cfg     *config.Config
	version string
}

// New builds the handler bound to a store.
func New(store *storage.Store, cfg *config.Config, version string) *Handler {
	return &Handler{store: store, cfg: cfg, version: version}
}

// Tools returns every tool with its handler, ready for registration.
func (h *Handler) Tools() []server.ServerTool {
	return []server.ServerTool{
		h.versionTool(),
		h.statusTool(),
		h.createProjectTool(),
		h.listProjectsTool(),
		h.getProjectInfoTool(),
		h.deleteProjectTool(),
		h.archiveProjectTool(),
		h.joinProjectTool(),
		h.leaveProjectTool(),
		h.handoverCoordinatorTool(),
		h.storeResourceTool(),
		h.getResourceTool(),
		h.listResourcesTool(),
		h.sendMessageTool(),
		h.receiveMessagesTool(),
	}
}

// clientID resolves the caller's session identity from the optional
// working_directory argument, falling back to the server's own cwd.
// ResolveClientID is the single place the BRAINSTORM_CLIENT_ID override
// is honored.
func (h *Handler) clientID(req mcp.CallToolRequest) (string, error) {
	wd := req.GetString("working_directory", "")
	if wd == "" && os.Getenv(session.EnvClientID) == "" {
		if cwd, err := os.Getwd(); err == nil {
			wd = cwd
		}
	}
	return session.ResolveClientID(os.Getenv(session.EnvClientID), wd)
}

// checkArgs rejects unknown argument names. Tool arguments map to
// explicit request shapes; anything else is a caller bug worth failing
// loudly on.
func checkArgs(req mcp.CallToolRequest, allowed ...string) error {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		allowedSet[a] = struct{}{}
	}
	var unknown []string
	for name := range req.GetArguments() {
		if _, ok := allowedSet[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return protocol.NewError(protocol.ErrInvalidID,
		"unknown arguments: %v", unknown)
}
