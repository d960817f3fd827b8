package storage

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/brainstorm/internal/fsio"
	"github.com/nextlevelbuilder/brainstorm/internal/ids"
	"github.com/nextlevelbuilder/brainstorm/pkg/protocol"
)

// listMembers loads every member record of a project, sorted by name.
// A project without a members dir simply has none yet.
func (s *Store) listMembers(projectID string) ([]Member, error) {
	entries, err := os.ReadDir(s.membersDir(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read members dir: %w", err)
	}

	var members []Member
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || fsio.IsTempName(name) {
			continue
		}
		var m Member
		if err := fsio.ReadJSON(s.memberPath(projectID, strings.TrimSuffix(name, ".json")), &m); err != nil {
			continue
		}
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].AgentName < members[j].AgentName })
	return members, nil
}

// getMember loads one member record, or NOT_FOUND.
func (s *Store) getMember(projectID, agentName string) (*Member, error) {
	var m Member
	if err := fsio.ReadJSON(s.memberPath(projectID, agentName), &m); err != nil {
		if os.IsNotExist(err) {
			return nil, protocol.NewError(protocol.ErrNotFound,
				"agent %q is not a member of project %q", agentName, projectID)
		}
		return nil, fmt.Errorf("read member: %w", err)
	}
	return &m, nil
}

// GetMember loads one member record, or NOT_FOUND.
func (s *Store) GetMember(projectID, agentName string) (*Member, error) {
	if err := ids.ValidateID("project_id", projectID); err != nil {
		return nil, err
	}
	if err := ids.ValidateID("agent_name", agentName); err != nil {
		return nil, err
	}
	return s.getMember(projectID, agentName)
}

// requireMember enforces project membership for project-scoped operations.
func (s *Store) requireMember(projectID, agentName string) (*Member, error) {
	m, err := s.getMember(projectID, agentName)
	if err != nil {
		if protocol.CodeOf(err) == protocol.ErrNotFound {
			return nil, protocol.NewError(protocol.ErrForbidden,
				"agent %q is not a member of project %q", agentName, projectID)
		}
		return nil, err
	}
	return m, nil
}

// JoinProjectRequest carries the externally supplied member fields.
type JoinProjectRequest struct {
	ProjectID    string
	AgentName    string
	ClientID     string
	Capabilities []string
	Labels       map[string]string
}

// JoinProject adds the agent to the project, or reclaims/refreshes an
// existing slot:
//
//   - no record           → create it (role contributor)
//   - record, no client_id → legacy slot: adopt, preserving agent_id and
//     joined_at, backfilling client_id
//   - record, same client  → refresh last_seen/online
//   - record, other client → CONFLICT
func (s *Store) JoinProject(ctx context.Context, req JoinProjectRequest) (*Member, error) {
	if err := ids.ValidateID("project_id", req.ProjectID); err != nil {
		return nil, err
	}
	if err := ids.ValidateID("agent_name", req.AgentName); err != nil {
		return nil, err
	}
	if req.ClientID != "" {
		if err := ids.ValidateClientID(req.ClientID); err != nil {
			return nil, err
		}
	}

	meta, err := s.GetProjectMeta(req.ProjectID)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.membersDir(req.ProjectID), 0o755); err != nil {
		return nil, fmt.Errorf("create members dir: %w", err)
	}
	lock, err := s.lock(ctx, s.membersDir(req.ProjectID))
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	// Re-check under the lock: a concurrent delete may have removed the
	// tree after the metadata read, and creating our lock file recreated
	// part of it. Clean that up rather than leave an orphan directory.
	if !s.ProjectExists(req.ProjectID) {
		lock.Unlock()
		os.RemoveAll(s.projectDir(req.ProjectID))
		return nil, protocol.NewError(protocol.ErrNotFound,
			"project %q does not exist", req.ProjectID)
	}

	ts := now()
	existing, err := s.getMember(req.ProjectID, req.AgentName)
	var member Member
	switch {
	case err != nil && protocol.CodeOf(err) == protocol.ErrNotFound:
		member = Member{
			ProjectID:    req.ProjectID,
			AgentName:    req.AgentName,
			AgentID:      uuid.NewString(),
			ClientID:     req.ClientID,
			JoinedAt:     ts,
			LastSeen:     ts,
			Online:       true,
			Capabilities: req.Capabilities,
			Labels:       req.Labels,
			Role:         protocol.RoleContributor,
		}
	case err != nil:
		return nil, err
	case existing.ClientID == "":
		// Legacy slot written before client identities existed.
		member = *existing
		member.ClientID = req.ClientID
		member.LastSeen = ts
		member.Online = true
		if len(req.Capabilities) > 0 {
			member.Capabilities = req.Capabilities
		}
		if len(req.Labels) > 0 {
			member.Labels = req.Labels
		}
	case existing.ClientID == req.ClientID:
		member = *existing
		member.LastSeen = ts
		member.Online = true
	default:
		return nil, protocol.NewError(protocol.ErrConflict,
			"agent name %q is taken by another client in project %q", req.AgentName, req.ProjectID)
	}

	if err := fsio.WriteJSONAtomic(s.memberPath(req.ProjectID, req.AgentName), member); err != nil {
		return nil, fmt.Errorf("write member: %w", err)
	}

	if req.ClientID != "" {
		if err := s.RecordMembership(ctx, req.ClientID, MembershipEntry{
			ProjectID:   req.ProjectID,
			AgentName:   req.AgentName,
			ProjectName: meta.Name,
		}); err != nil {
			return nil, err
		}
	}

	// The backfill takes the members lock itself; release ours first.
	lock.Unlock()
	if err := s.EnsureProjectHasCoordinator(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	// Reload: the backfill may have just made this agent coordinator.
	refreshed, err := s.getMember(req.ProjectID, req.AgentName)
	if err == nil {
		member = *refreshed
	}

	s.auditRecord("join_project", req.AgentName, req.ProjectID, "", "ok")
	return &member, nil
}

// LeaveProject removes the member record and the client's membership
// index entry. A coordinator cannot leave: the caller gets
// COORDINATOR_HANDOVER_REQUIRED with the candidate members in details.
func (s *Store) LeaveProject(ctx context.Context, projectID, agentName, clientID string) error {
	if err := ids.ValidateID("project_id", projectID); err != nil {
		return err
	}
	if err := ids.ValidateID("agent_name", agentName); err != nil {
		return err
	}
	if _, err := s.GetProjectMeta(projectID); err != nil {
		return err
	}

	lock, err := s.lock(ctx, s.membersDir(projectID))
	if err != nil {
		return err
	}
	defer lock.Unlock()

	member, err := s.getMember(projectID, agentName)
	if err != nil {
		return err
	}
	if member.ClientID != "" && clientID != "" && member.ClientID != clientID {
		return protocol.NewError(protocol.ErrForbidden,
			"agent %q belongs to another client", agentName)
	}

	if member.Role == protocol.RoleCoordinator {
		members, err := s.listMembers(projectID)
		if err != nil {
			return err
		}
		var candidates []string
		for _, m := range members {
			if m.AgentName != agentName {
				candidates = append(candidates, m.AgentName)
			}
		}
		return protocol.NewError(protocol.ErrCoordinatorHandoverRequired,
			"coordinator %q must hand over before leaving project %q", agentName, projectID).
			WithDetails(map[string]any{"candidates": candidates})
	}

	if err := os.Remove(s.memberPath(projectID, agentName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove member: %w", err)
	}
	if err := fsio.SyncDir(s.membersDir(projectID)); err != nil {
		return fmt.Errorf("sync members dir: %w", err)
	}

	if member.ClientID != "" {
		if err := s.RemoveMembership(ctx, member.ClientID, projectID, agentName); err != nil {
			return err
		}
	}

	s.auditRecord("leave_project", agentName, projectID, "", "ok")
	return nil
}

// HandoverCoordinator atomically transfers the coordinator role. The
// members directory lock is held across the re-read and both writes so no
// observer ever sees two coordinators. The source role is cleared before
// the target role is set: a crash in between leaves zero coordinators
// (recoverable), never two.
func (s *Store) HandoverCoordinator(ctx context.Context, projectID, fromAgent, toAgent string) error {
	if err := ids.ValidateID("project_id", projectID); err != nil {
		return err
	}
	if err := ids.ValidateID("agent_name", fromAgent); err != nil {
		return err
	}
	if err := ids.ValidateID("agent_name", toAgent); err != nil {
		return err
	}
	if fromAgent == toAgent {
		return protocol.NewError(protocol.ErrConflict, "cannot hand over to yourself")
	}
	if _, err := s.GetProjectMeta(projectID); err != nil {
		return err
	}

	lock, err := s.lock(ctx, s.membersDir(projectID))
	if err != nil {
		return err
	}
	defer lock.Unlock()

	from, err := s.getMember(projectID, fromAgent)
	if err != nil {
		return err
	}
	if from.Role != protocol.RoleCoordinator {
		s.auditRecord("handover_coordinator", fromAgent, projectID, toAgent, "forbidden")
		return protocol.NewError(protocol.ErrForbidden,
			"agent %q is not the coordinator of project %q", fromAgent, projectID)
	}
	to, err := s.getMember(projectID, toAgent)
	if err != nil {
		return err
	}

	// Single-coordinator invariant: scan every role under the lock before
	// committing anything.
	members, err := s.listMembers(projectID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.Role == protocol.RoleCoordinator && m.AgentName != fromAgent {
			return protocol.NewError(protocol.ErrConflict,
				"project %q already has coordinator %q", projectID, m.AgentName)
		}
	}

	from.Role = protocol.RoleContributor
	if err := fsio.WriteJSONAtomic(s.memberPath(projectID, fromAgent), from); err != nil {
		return fmt.Errorf("clear source role: %w", err)
	}
	to.Role = protocol.RoleCoordinator
	if err := fsio.WriteJSONAtomic(s.memberPath(projectID, toAgent), to); err != nil {
		return fmt.Errorf("set target role: %w", err)
	}

	s.auditRecord("handover_coordinator", fromAgent, projectID, toAgent, "ok")
	return nil
}

// UpdateMemberHeartbeat refreshes last_seen/online under the per-member
// lock. Identity fields are re-read under the lock and never clobbered.
func (s *Store) UpdateMemberHeartbeat(ctx context.Context, projectID, agentName string, online bool) (*Member, error) {
	if err := ids.ValidateID("project_id", projectID); err != nil {
		return nil, err
	}
	if err := ids.ValidateID("agent_name", agentName); err != nil {
		return nil, err
	}

	lock, err := s.lockPath(ctx, s.memberPath(projectID, agentName)+lockFileName)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	member, err := s.getMember(projectID, agentName)
	if err != nil {
		return nil, err
	}
	member.LastSeen = now()
	member.Online = online
	if err := fsio.WriteJSONAtomic(s.memberPath(projectID, agentName), member); err != nil {
		return nil, fmt.Errorf("write heartbeat: %w", err)
	}
	return member, nil
}
