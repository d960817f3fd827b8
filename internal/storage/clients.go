package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nextlevelbuilder/brainstorm/internal/fsio"
	"github.com/nextlevelbuilder/brainstorm/internal/ids"
)

// EnsureClientIdentity creates R/clients/<client_id>/identity.json on
// first sight of a client. Subsequent calls are no-ops.
func (s *Store) EnsureClientIdentity(clientID string) error {
	if err := ids.ValidateClientID(clientID); err != nil {
		return err
	}
	dir := s.clientDir(clientID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create client dir: %w", err)
	}
	err := fsio.CreateExclusiveJSON(filepath.Join(dir, "identity.json"), ClientIdentity{
		ClientID:  clientID,
		FirstSeen: now(),
	})
	if err != nil && !os.IsExist(err) {
		return fmt.Errorf("write identity: %w", err)
	}
	return nil
}

// RecordMembership appends an entry to the client's membership index,
// deduplicating by (project_id, agent_name). The index file is written
// under the client's lock.
func (s *Store) RecordMembership(ctx context.Context, clientID string, entry MembershipEntry) error {
	if err := s.EnsureClientIdentity(clientID); err != nil {
		return err
	}

	lock, err := s.lock(ctx, s.clientDir(clientID))
	if err != nil {
		return err
	}
	defer lock.Unlock()

	path := filepath.Join(s.clientDir(clientID), "memberships.json")
	var file membershipsFile
	if err := fsio.ReadJSON(path, &file); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read memberships: %w", err)
	}

	for i, m := range file.Memberships {
		if m.ProjectID == entry.ProjectID && m.AgentName == entry.AgentName {
			if m.ProjectName == entry.ProjectName {
				return nil
			}
			file.Memberships[i].ProjectName = entry.ProjectName
			return fsio.WriteJSONAtomic(path, file)
		}
	}
	file.Memberships = append(file.Memberships, entry)
	return fsio.WriteJSONAtomic(path, file)
}

// RemoveMembership drops one (project_id, agent_name) entry from the
// client's index. Missing files and missing entries are fine.
func (s *Store) RemoveMembership(ctx context.Context, clientID, projectID, agentName string) error {
	if err := ids.ValidateClientID(clientID); err != nil {
		return err
	}
	if _, err := os.Stat(s.clientDir(clientID)); os.IsNotExist(err) {
		return nil
	}

	lock, err := s.lock(ctx, s.clientDir(clientID))
	if err != nil {
		return err
	}
	defer lock.Unlock()

	path := filepath.Join(s.clientDir(clientID), "memberships.json")
	var file membershipsFile
	if err := fsio.ReadJSON(path, &file); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read memberships: %w", err)
	}

	kept := file.Memberships[:0]
	for _, m := range file.Memberships {
		if m.ProjectID == projectID && m.AgentName == agentName {
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) == len(file.Memberships) {
		return nil
	}
	file.Memberships = kept
	return fsio.WriteJSONAtomic(path, file)
}

// ListMemberships returns the client's membership index entries.
func (s *Store) ListMemberships(clientID string) ([]MembershipEntry, error) {
	if err := ids.ValidateClientID(clientID); err != nil {
		return nil, err
	}
	path := filepath.Join(s.clientDir(clientID), "memberships.json")
	var file membershipsFile
	if err := fsio.ReadJSON(path, &file); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read memberships: %w", err)
	}
	return file.Memberships, nil
}

// ClientStatus resolves the status view for a client: each membership
// with the project's current name, archive state, the member's role, and
// the unread inbox count. Access runs the coordinator backfill.
func (s *Store) ClientStatus(ctx context.Context, clientID string) ([]ProjectStatus, error) {
	memberships, err := s.ListMemberships(clientID)
	if err != nil {
		return nil, err
	}

	statuses := make([]ProjectStatus, 0, len(memberships))
	for _, m := range memberships {
		st := ProjectStatus{
			ProjectID:   m.ProjectID,
			ProjectName: m.ProjectName,
			AgentName:   m.AgentName,
		}
		meta, err := s.GetProjectMeta(m.ProjectID)
		if err != nil {
			// Stale index entry for a deleted project; show it as-is so
			// the client can clean up.
			statuses = append(statuses, st)
			continue
		}
		st.ProjectName = meta.Name
		st.Archived = meta.Archived

		if err := s.EnsureProjectHasCoordinator(ctx, m.ProjectID); err != nil {
			return nil, err
		}
		if member, err := s.getMember(m.ProjectID, m.AgentName); err == nil {
			st.Role = member.Role
		}
		st.UnreadCount = s.countInbox(m.ProjectID, m.AgentName)
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// countInbox counts deliverable inbox files (no lock needed; the count is
// advisory).
func (s *Store) countInbox(projectID, agentName string) int {
	entries, err := os.ReadDir(s.inboxDir(projectID, agentName))
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || fsio.IsTempName(e.Name()) {
			continue
		}
		n++
	}
	return n
}
