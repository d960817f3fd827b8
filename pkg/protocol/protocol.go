// Package protocol defines the wire-level constants shared between the
// Brainstorm server and its MCP clients: tool names, the on-disk schema
// version, and the error code taxonomy.
package protocol

// ProtocolVersion is bumped whenever a tool contract changes incompatibly.
const ProtocolVersion = 1

// SchemaVersion is stamped on project metadata at creation time.
const SchemaVersion = "1.0"

// MCP tool names exposed by the server.
const (
	ToolVersion             = "version"
	ToolStatus              = "status"
	ToolCreateProject       = "create_project"
	ToolListProjects        = "list_projects"
	ToolGetProjectInfo      = "get_project_info"
	ToolDeleteProject       = "delete_project"
	ToolArchiveProject      = "archive_project"
	ToolJoinProject         = "join_project"
	ToolLeaveProject        = "leave_project"
	ToolHandoverCoordinator = "handover_coordinator"
	ToolStoreResource       = "store_resource"
	ToolGetResource         = "get_resource"
	ToolListResources       = "list_resources"
	ToolSendMessage         = "send_message"
	ToolReceiveMessages     = "receive_messages"
)

// Member roles. A project has at most one coordinator at any moment.
const (
	RoleCoordinator = "coordinator"
	RoleContributor = "contributor"
)

// Message types with role-gated sending authority: a contributor initiates
// a handoff, the coordinator answers it. The inversion is deliberate.
const (
	MessageTypeHandoff         = "handoff"
	MessageTypeHandoffAccepted = "handoff_accepted"
	MessageTypeHandoffRejected = "handoff_rejected"
)
