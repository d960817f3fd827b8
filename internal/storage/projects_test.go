package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/brainstorm/internal/config"
	"github.com/nextlevelbuilder/brainstorm/internal/fsio"
	"github.com/nextlevelbuilder/brainstorm/pkg/protocol"
)

// newTestStore builds a store over a throwaway data root.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.Default()
	cfg.DataRoot = t.TempDir()
	s, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// writeTestMember rewrites a member record directly, bypassing the join
// path, to simulate records written by older deployments.
func writeTestMember(s *Store, m *Member) error {
	return fsio.WriteJSONAtomic(s.memberPath(m.ProjectID, m.AgentName), m)
}

func TestCreateProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	meta, err := s.CreateProject(ctx, CreateProjectRequest{
		ProjectID: "game",
		Name:      "Game Engine",
		CreatedBy: "alice",
		ClientID:  "client-a",
	})
	if err != nil {
		t.Fatal(err)
	}
	if meta.SchemaVersion != protocol.SchemaVersion {
		t.Errorf("schema version = %q", meta.SchemaVersion)
	}

	// Creator is coordinator.
	m, err := s.GetMember("game", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if m.Role != protocol.RoleCoordinator {
		t.Errorf("creator role = %q, want coordinator", m.Role)
	}
	if m.ClientID != "client-a" {
		t.Errorf("creator client_id = %q", m.ClientID)
	}

	// Membership index recorded.
	entries, err := s.ListMemberships("client-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ProjectID != "game" {
		t.Errorf("memberships = %+v", entries)
	}
}

func TestCreateProjectNameDefaultsToID(t *testing.T) {
	s := newTestStore(t)
	meta, err := s.CreateProject(context.Background(), CreateProjectRequest{ProjectID: "p1"})
	if err != nil {
		t.Fatal(err)
	}
	if meta.Name != "p1" {
		t.Errorf("name = %q, want project_id", meta.Name)
	}
}

func TestCreateProjectDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateProject(ctx, CreateProjectRequest{ProjectID: "dup"}); err != nil {
		t.Fatal(err)
	}
	_, err := s.CreateProject(ctx, CreateProjectRequest{ProjectID: "dup"})
	if protocol.CodeOf(err) != protocol.ErrAlreadyExists {
		t.Errorf("code = %s, want ALREADY_EXISTS", protocol.CodeOf(err))
	}
}

func TestCreateProjectRaceExactlyOneWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var g errgroup.Group
	results := make([]error, 8)
	for i := 0; i < 8; i++ {
		i := i
		g.Go(func() error {
			_, err := s.CreateProject(ctx, CreateProjectRequest{ProjectID: "contested"})
			results[i] = err
			return nil
		})
	}
	g.Wait()

	winners := 0
	for _, err := range results {
		switch {
		case err == nil:
			winners++
		case protocol.CodeOf(err) == protocol.ErrAlreadyExists:
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}

func TestCreateProjectInvalidID(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"", "..", "a/b", "-lead"} {
		_, err := s.CreateProject(context.Background(), CreateProjectRequest{ProjectID: id})
		if protocol.CodeOf(err) != protocol.ErrInvalidID {
			t.Errorf("CreateProject(%q) code = %s, want INVALID_ID", id, protocol.CodeOf(err))
		}
	}
}

func TestGetProjectMetaNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetProjectMeta("ghost")
	if protocol.CodeOf(err) != protocol.ErrNotFound {
		t.Errorf("code = %s, want NOT_FOUND", protocol.CodeOf(err))
	}
}

func TestListProjects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"beta", "alpha", "gamma"} {
		if _, err := s.CreateProject(ctx, CreateProjectRequest{ProjectID: id, CreatedBy: "alice"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.ArchiveProject(ctx, "gamma", "alice", "done"); err != nil {
		t.Fatal(err)
	}

	metas, err := s.ListProjects(0, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 2 {
		t.Fatalf("got %d projects, want 2 (archived hidden)", len(metas))
	}
	if metas[0].ProjectID != "alpha" || metas[1].ProjectID != "beta" {
		t.Errorf("order = %s, %s", metas[0].ProjectID, metas[1].ProjectID)
	}

	all, err := s.ListProjects(0, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("got %d projects with archived, want 3", len(all))
	}

	page, err := s.ListProjects(1, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].ProjectID != "beta" {
		t.Errorf("page = %+v", page)
	}

	empty, err := s.ListProjects(99, 10, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Errorf("offset past end returned %d items", len(empty))
	}
}

func TestDeleteProjectCreatorOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateProject(ctx, CreateProjectRequest{ProjectID: "p", CreatedBy: "alice", ClientID: "client-a"}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteProject(ctx, "p", "mallory"); protocol.CodeOf(err) != protocol.ErrForbidden {
		t.Errorf("non-creator delete code = %s, want FORBIDDEN", protocol.CodeOf(err))
	}

	if err := s.DeleteProject(ctx, "p", "alice"); err != nil {
		t.Fatal(err)
	}
	if s.ProjectExists("p") {
		t.Error("project still exists after delete")
	}
	// Membership index swept.
	entries, err := s.ListMemberships("client-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("memberships after delete = %+v", entries)
	}
}

func TestDeleteProjectWithoutCreatorIsForbidden(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateProject(ctx, CreateProjectRequest{ProjectID: "orphan"}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteProject(ctx, "orphan", "anyone"); protocol.CodeOf(err) != protocol.ErrForbidden {
		t.Errorf("code = %s, want FORBIDDEN", protocol.CodeOf(err))
	}
}

func TestDeleteProjectRacingJoinsLeaveNoOrphan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateProject(ctx, CreateProjectRequest{ProjectID: "p", CreatedBy: "alice", ClientID: "client-a"}); err != nil {
		t.Fatal(err)
	}

	// Joins racing the delete may succeed (then get wiped), lose to
	// NOT_FOUND, or fail mid-write; none of that matters here. What must
	// hold afterwards is that no half-recreated project tree survives
	// without its metadata.
	var g errgroup.Group
	g.Go(func() error { return s.DeleteProject(ctx, "p", "alice") })
	for _, name := range []string{"j1", "j2", "j3", "j4"} {
		name := name
		g.Go(func() error {
			s.JoinProject(ctx, JoinProjectRequest{
				ProjectID: "p", AgentName: name, ClientID: "client-" + name,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(s.projectDir("p")); err == nil && !s.ProjectExists("p") {
		t.Error("project directory survives without metadata.json")
	}
}

func TestArchiveProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateProject(ctx, CreateProjectRequest{ProjectID: "p", CreatedBy: "alice"}); err != nil {
		t.Fatal(err)
	}

	if _, err := s.ArchiveProject(ctx, "p", "bob", "nope"); protocol.CodeOf(err) != protocol.ErrForbidden {
		t.Errorf("non-creator archive allowed")
	}

	meta, err := s.ArchiveProject(ctx, "p", "alice", "wrapped up")
	if err != nil {
		t.Fatal(err)
	}
	if !meta.Archived || meta.ArchivedBy != "alice" || meta.ArchiveReason != "wrapped up" {
		t.Errorf("meta = %+v", meta)
	}
	if meta.ArchivedAt == nil {
		t.Error("archived_at not set")
	}

	// Children retained.
	if _, err := os.Stat(filepath.Join(s.Root(), "projects", "p", "members")); err != nil {
		t.Errorf("members dir gone after archive: %v", err)
	}
}

func TestEnsureProjectHasCoordinatorBackfill(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateProject(ctx, CreateProjectRequest{ProjectID: "p", CreatedBy: "alice"}); err != nil {
		t.Fatal(err)
	}

	// Simulate a record written before roles existed.
	m, err := s.GetMember("p", "alice")
	if err != nil {
		t.Fatal(err)
	}
	m.Role = ""
	if err := writeTestMember(s, m); err != nil {
		t.Fatal(err)
	}

	if err := s.EnsureProjectHasCoordinator(ctx, "p"); err != nil {
		t.Fatal(err)
	}
	m, err = s.GetMember("p", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if m.Role != protocol.RoleCoordinator {
		t.Errorf("role after backfill = %q", m.Role)
	}

	// Idempotent.
	if err := s.EnsureProjectHasCoordinator(ctx, "p"); err != nil {
		t.Fatal(err)
	}
}

func TestEnsureProjectHasCoordinatorNeverCreatesSecond(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateProject(ctx, CreateProjectRequest{ProjectID: "p", CreatedBy: "alice"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.JoinProject(ctx, JoinProjectRequest{ProjectID: "p", AgentName: "bob", ClientID: "client-b"}); err != nil {
		t.Fatal(err)
	}
	if err := s.HandoverCoordinator(ctx, "p", "alice", "bob"); err != nil {
		t.Fatal(err)
	}

	// Coordinator exists (bob); the backfill must not also promote alice.
	if err := s.EnsureProjectHasCoordinator(ctx, "p"); err != nil {
		t.Fatal(err)
	}
	coordinators := 0
	members, err := s.listMembers("p")
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range members {
		if m.Role == protocol.RoleCoordinator {
			coordinators++
		}
	}
	if coordinators != 1 {
		t.Errorf("coordinators = %d, want 1", coordinators)
	}
}
