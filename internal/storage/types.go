package storage

import (
	"encoding/json"
	"time"
)

// ProjectMeta is the content of R/projects/<project_id>/metadata.json.
// The file's existence is the project's existence.
type ProjectMeta struct {
	ProjectID     string     `json:"project_id"`
	Name          string     `json:"name"`
	CreatedBy     string     `json:"created_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	SchemaVersion string     `json:"schema_version"`
	Archived      bool       `json:"archived,omitempty"`
	ArchivedAt    *time.Time `json:"archived_at,omitempty"`
	ArchivedBy    string     `json:"archived_by,omitempty"`
	ArchiveReason string     `json:"archive_reason,omitempty"`
}

// Member is one row under R/projects/<project_id>/members/.
// Records written before client identities existed have no client_id;
// such slots may be reclaimed, preserving agent_id and joined_at.
type Member struct {
	ProjectID    string            `json:"project_id"`
	AgentName    string            `json:"agent_name"`
	AgentID      string            `json:"agent_id"`
	ClientID     string            `json:"client_id,omitempty"`
	JoinedAt     time.Time         `json:"joined_at"`
	LastSeen     time.Time         `json:"last_seen"`
	Online       bool              `json:"online"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
	Role         string            `json:"role,omitempty"`
}

// Permissions is a defined ACL. A nil *Permissions on a manifest means
// "absent", which always denies. Never model absent as an empty allow.
type Permissions struct {
	Read  []string `json:"read"`
	Write []string `json:"write"`
}

// Allows reports whether agent is listed, with "*" meaning any member.
func (p *Permissions) allows(list []string, agent string) bool {
	for _, entry := range list {
		if entry == "*" || entry == agent {
			return true
		}
	}
	return false
}

// AllowsRead reports read access for agent under a defined ACL.
func (p *Permissions) AllowsRead(agent string) bool { return p.allows(p.Read, agent) }

// AllowsWrite reports write access for agent under a defined ACL.
func (p *Permissions) AllowsWrite(agent string) bool { return p.allows(p.Write, agent) }

// Manifest is resources/<resource_id>/manifest.json. The payload lives
// next to it under payload/{data|ref}.
type Manifest struct {
	ProjectID    string       `json:"project_id"`
	ResourceID   string       `json:"resource_id"`
	Name         string       `json:"name"`
	CreatorAgent string       `json:"creator_agent"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	ETag         string       `json:"etag"`
	Permissions  *Permissions `json:"permissions,omitempty"`
	MimeType     string       `json:"mime_type,omitempty"`
	SizeBytes    int64        `json:"size_bytes,omitempty"`
	SourcePath   string       `json:"source_path,omitempty"`
}

// Message is one inbox file. Broadcasts are expanded to one file per
// recipient at send time; there is no shared copy.
type Message struct {
	MessageID     string          `json:"message_id"`
	ProjectID     string          `json:"project_id"`
	FromAgent     string          `json:"from_agent"`
	ToAgent       string          `json:"to_agent,omitempty"`
	Broadcast     bool            `json:"broadcast"`
	ReplyExpected bool            `json:"reply_expected"`
	MessageType   string          `json:"message_type,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     time.Time       `json:"timestamp"`
}

// ClientIdentity is R/clients/<client_id>/identity.json.
type ClientIdentity struct {
	ClientID  string    `json:"client_id"`
	FirstSeen time.Time `json:"first_seen"`
}

// MembershipEntry is one row of a client's membership index.
type MembershipEntry struct {
	ProjectID   string `json:"project_id"`
	AgentName   string `json:"agent_name"`
	ProjectName string `json:"project_name"`
}

// membershipsFile is R/clients/<client_id>/memberships.json.
type membershipsFile struct {
	Memberships []MembershipEntry `json:"memberships"`
}

// ProjectInfo couples metadata with the current member list.
type ProjectInfo struct {
	Meta    ProjectMeta `json:"meta"`
	Members []Member    `json:"members"`
}

// ProjectStatus is one row of the status tool: a membership plus the
// caller's role and unread inbox count.
type ProjectStatus struct {
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
	AgentName   string `json:"agent_name"`
	Role        string `json:"role,omitempty"`
	Archived    bool   `json:"archived,omitempty"`
	UnreadCount int    `json:"unread_count"`
}
