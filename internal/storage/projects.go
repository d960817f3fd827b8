package storage

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/brainstorm/internal/fsio"
	"github.com/nextlevelbuilder/brainstorm/internal/ids"
	"github.com/nextlevelbuilder/brainstorm/pkg/protocol"
)

// CreateProjectRequest carries the externally supplied project fields.
type CreateProjectRequest struct {
	ProjectID string
	Name      string
	CreatedBy string // agent name of the creator; optional
	ClientID  string // creator's client identity; optional
}

// CreateProject creates the project directory and metadata. The metadata
// file is created with O_CREAT|O_EXCL so exactly one of two racing calls
// wins; the loser gets ALREADY_EXISTS. When CreatedBy is set the creator
// is written as a member with the coordinator role.
func (s *Store) CreateProject(ctx context.Context, req CreateProjectRequest) (*ProjectMeta, error) {
	if err := ids.ValidateID("project_id", req.ProjectID); err != nil {
		return nil, err
	}
	if req.CreatedBy != "" {
		if err := ids.ValidateID("agent_name", req.CreatedBy); err != nil {
			return nil, err
		}
	}

	lock, err := s.lock(ctx, s.projectsDir())
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	if err := os.MkdirAll(s.projectDir(req.ProjectID), 0o755); err != nil {
		return nil, fmt.Errorf("create project dir: %w", err)
	}

	meta := ProjectMeta{
		ProjectID:     req.ProjectID,
		Name:          req.Name,
		CreatedBy:     req.CreatedBy,
		CreatedAt:     now(),
		SchemaVersion: protocol.SchemaVersion,
	}
	if meta.Name == "" {
		meta.Name = req.ProjectID
	}

	if err := fsio.CreateExclusiveJSON(s.metadataPath(req.ProjectID), meta); err != nil {
		if os.IsExist(err) {
			return nil, protocol.NewError(protocol.ErrAlreadyExists,
				"project %q already exists", req.ProjectID)
		}
		return nil, fmt.Errorf("write metadata: %w", err)
	}

	if req.CreatedBy != "" {
		member := Member{
			ProjectID: req.ProjectID,
			AgentName: req.CreatedBy,
			AgentID:   uuid.NewString(),
			ClientID:  req.ClientID,
			JoinedAt:  meta.CreatedAt,
			LastSeen:  meta.CreatedAt,
			Online:    true,
			Role:      protocol.RoleCoordinator,
		}
		if err := os.MkdirAll(s.membersDir(req.ProjectID), 0o755); err != nil {
			return nil, fmt.Errorf("create members dir: %w", err)
		}
		if err := fsio.WriteJSONAtomic(s.memberPath(req.ProjectID, req.CreatedBy), member); err != nil {
			return nil, fmt.Errorf("write creator member: %w", err)
		}
		if req.ClientID != "" {
			if err := s.RecordMembership(ctx, req.ClientID, MembershipEntry{
				ProjectID:   req.ProjectID,
				AgentName:   req.CreatedBy,
				ProjectName: meta.Name,
			}); err != nil {
				return nil, err
			}
		}
	}

	s.auditRecord("create_project", req.CreatedBy, req.ProjectID, "", "ok")
	return &meta, nil
}

// GetProjectMeta loads metadata, or NOT_FOUND.
func (s *Store) GetProjectMeta(projectID string) (*ProjectMeta, error) {
	if err := ids.ValidateID("project_id", projectID); err != nil {
		return nil, err
	}
	var meta ProjectMeta
	if err := fsio.ReadJSON(s.metadataPath(projectID), &meta); err != nil {
		if os.IsNotExist(err) {
			return nil, protocol.NewError(protocol.ErrNotFound,
				"project %q does not exist", projectID)
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	return &meta, nil
}

// ProjectExists reports metadata presence without reading it. Used by the
// long-poll condition for get_project_info(wait=true).
func (s *Store) ProjectExists(projectID string) bool {
	_, err := os.Stat(s.metadataPath(projectID))
	return err == nil
}

// GetProjectInfo returns metadata plus the member list. Access paths run
// the coordinator backfill first.
func (s *Store) GetProjectInfo(ctx context.Context, projectID string) (*ProjectInfo, error) {
	meta, err := s.GetProjectMeta(projectID)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureProjectHasCoordinator(ctx, projectID); err != nil {
		return nil, err
	}
	members, err := s.listMembers(projectID)
	if err != nil {
		return nil, err
	}
	return &ProjectInfo{Meta: *meta, Members: members}, nil
}

// ListProjects returns metadata in lexicographic project_id order.
// Archived projects are excluded unless includeArchived. limit is clamped
// to [1, 1000] with a default of 100.
func (s *Store) ListProjects(offset, limit int, includeArchived bool) ([]ProjectMeta, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := os.ReadDir(s.projectsDir())
	if err != nil {
		return nil, fmt.Errorf("read projects dir: %w", err)
	}

	var metas []ProjectMeta
	for _, e := range entries {
		if !e.IsDir() {
			continue // .lock and stray temp files
		}
		var meta ProjectMeta
		if err := fsio.ReadJSON(s.metadataPath(e.Name()), &meta); err != nil {
			continue // half-created project; metadata is the existence bit
		}
		if meta.Archived && !includeArchived {
			continue
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].ProjectID < metas[j].ProjectID })

	if offset >= len(metas) {
		return []ProjectMeta{}, nil
	}
	end := offset + limit
	if end > len(metas) {
		end = len(metas)
	}
	return metas[offset:end], nil
}

// DeleteProject removes the whole project tree. Only the recorded creator
// may delete; projects without a created_by cannot be deleted.
func (s *Store) DeleteProject(ctx context.Context, projectID, actor string) error {
	meta, err := s.GetProjectMeta(projectID)
	if err != nil {
		return err
	}
	if meta.CreatedBy == "" || meta.CreatedBy != actor {
		s.auditRecord("delete_project", actor, projectID, "", "forbidden")
		return protocol.NewError(protocol.ErrForbidden,
			"only the project creator may delete project %q", projectID)
	}

	// Same lock as CreateProject: removal must not interleave with a
	// racing create or join recreating pieces of the tree.
	lock, err := s.lock(ctx, s.projectsDir())
	if err != nil {
		return err
	}
	defer lock.Unlock()

	// Collect memberships before the tree disappears so the client-side
	// index can be swept afterwards.
	members, err := s.listMembers(projectID)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(s.projectDir(projectID)); err != nil {
		return fmt.Errorf("remove project tree: %w", err)
	}
	if err := fsio.SyncDir(s.projectsDir()); err != nil {
		return fmt.Errorf("sync projects dir: %w", err)
	}

	for _, m := range members {
		if m.ClientID == "" {
			continue
		}
		if err := s.RemoveMembership(ctx, m.ClientID, projectID, m.AgentName); err != nil {
			// Sweep failures leave a dangling index entry, not corruption.
			s.auditRecord("sweep_membership", actor, projectID, m.AgentName, "error")
		}
	}

	s.auditRecord("delete_project", actor, projectID, "", "ok")
	return nil
}

// ArchiveProject soft-deletes: children are retained, listProjects hides
// the project by default. Creator-only, like delete.
func (s *Store) ArchiveProject(ctx context.Context, projectID, actor, reason string) (*ProjectMeta, error) {
	meta, err := s.GetProjectMeta(projectID)
	if err != nil {
		return nil, err
	}
	if meta.CreatedBy == "" || meta.CreatedBy != actor {
		s.auditRecord("archive_project", actor, projectID, "", "forbidden")
		return nil, protocol.NewError(protocol.ErrForbidden,
			"only the project creator may archive project %q", projectID)
	}

	at := now()
	meta.Archived = true
	meta.ArchivedAt = &at
	meta.ArchivedBy = actor
	meta.ArchiveReason = reason

	if err := fsio.WriteJSONAtomic(s.metadataPath(projectID), meta); err != nil {
		return nil, fmt.Errorf("write metadata: %w", err)
	}
	s.auditRecord("archive_project", actor, projectID, "", "ok")
	return meta, nil
}

// EnsureProjectHasCoordinator backfills the coordinator role on projects
// written before roles existed: when created_by is still a member and no
// member holds the role, the creator gets it. Idempotent; called on every
// project access path.
func (s *Store) EnsureProjectHasCoordinator(ctx context.Context, projectID string) error {
	meta, err := s.GetProjectMeta(projectID)
	if err != nil {
		return err
	}
	if meta.CreatedBy == "" {
		return nil
	}

	members, err := s.listMembers(projectID)
	if err != nil {
		return err
	}
	creatorIsMember := false
	for _, m := range members {
		if m.Role == protocol.RoleCoordinator {
			return nil
		}
		if m.AgentName == meta.CreatedBy {
			creatorIsMember = true
		}
	}
	if !creatorIsMember {
		return nil
	}

	lock, err := s.lock(ctx, s.membersDir(projectID))
	if err != nil {
		return err
	}
	defer lock.Unlock()

	// Re-read under the lock: another process may have assigned a role
	// between the unlocked scan and here.
	members, err = s.listMembers(projectID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.Role == protocol.RoleCoordinator {
			return nil
		}
	}
	for _, m := range members {
		if m.AgentName != meta.CreatedBy {
			continue
		}
		m.Role = protocol.RoleCoordinator
		if err := fsio.WriteJSONAtomic(s.memberPath(projectID, m.AgentName), m); err != nil {
			return fmt.Errorf("write coordinator backfill: %w", err)
		}
		s.auditRecord("ensure_coordinator", m.AgentName, projectID, m.AgentName, "ok")
		return nil
	}
	return nil
}
