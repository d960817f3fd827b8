package storage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nextlevelbuilder/brainstorm/pkg/protocol"
)

func TestEnsureClientIdentityIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.EnsureClientIdentity("client-a"); err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureClientIdentity("client-a"); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
}

func TestRecordMembershipDedupes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	entry := MembershipEntry{ProjectID: "p", AgentName: "alice", ProjectName: "P"}

	if err := s.RecordMembership(ctx, "client-a", entry); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordMembership(ctx, "client-a", entry); err != nil {
		t.Fatal(err)
	}

	entries, err := s.ListMemberships("client-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}

	// Renamed project updates the cached name in place.
	entry.ProjectName = "P renamed"
	if err := s.RecordMembership(ctx, "client-a", entry); err != nil {
		t.Fatal(err)
	}
	entries, _ = s.ListMemberships("client-a")
	if len(entries) != 1 || entries[0].ProjectName != "P renamed" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestRemoveMembershipTolerant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	// Unknown client and unknown entry are both no-ops.
	if err := s.RemoveMembership(ctx, "never-seen", "p", "alice"); err != nil {
		t.Errorf("remove for unknown client: %v", err)
	}
	if err := s.EnsureClientIdentity("client-a"); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveMembership(ctx, "client-a", "p", "alice"); err != nil {
		t.Errorf("remove of absent entry: %v", err)
	}
}

func TestClientStatus(t *testing.T) {
	s := newTestStore(t)
	setupProject(t, s) // alice / client-a, coordinator
	ctx := context.Background()

	if _, err := s.JoinProject(ctx, JoinProjectRequest{
		ProjectID: "p", AgentName: "bob", ClientID: "client-b",
	}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.SendMessage(ctx, SendMessageRequest{
		ProjectID: "p", FromAgent: "alice", ToAgent: "bob",
		Payload: json.RawMessage(`"hi"`),
	}); err != nil {
		t.Fatal(err)
	}

	statuses, err := s.ClientStatus(ctx, "client-b")
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 1 {
		t.Fatalf("statuses = %d, want 1", len(statuses))
	}
	st := statuses[0]
	if st.ProjectID != "p" || st.AgentName != "bob" {
		t.Errorf("status = %+v", st)
	}
	if st.Role != protocol.RoleContributor {
		t.Errorf("role = %q", st.Role)
	}
	if st.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", st.UnreadCount)
	}
}

func TestClientStatusStaleEntrySurvives(t *testing.T) {
	s := newTestStore(t)
	setupProject(t, s)
	ctx := context.Background()

	if err := s.DeleteProject(ctx, "p", "alice"); err != nil {
		t.Fatal(err)
	}
	// Delete sweeps the index, so plant a stale entry by hand.
	if err := s.RecordMembership(ctx, "client-a", MembershipEntry{
		ProjectID: "gone", AgentName: "alice", ProjectName: "Gone",
	}); err != nil {
		t.Fatal(err)
	}

	statuses, err := s.ClientStatus(ctx, "client-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 1 || statuses[0].ProjectID != "gone" {
		t.Errorf("statuses = %+v", statuses)
	}
	if statuses[0].Role != "" || statuses[0].UnreadCount != 0 {
		t.Errorf("stale entry status = %+v", statuses[0])
	}
}
