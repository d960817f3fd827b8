package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAuditorWritesDailyFile(t *testing.T) {
	dir := t.TempDir()
	a := NewAuditor(dir)

	a.Record("create_project", "alice", "p", "", "ok")
	a.Record("join_project", "bob", "p", "", "ok")

	path := filepath.Join(dir, time.Now().UTC().Format("2006-01-02")+".log")
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var entries []AuditEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("bad audit line: %v", err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Op != "create_project" || entries[0].Actor != "alice" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].Op != "join_project" {
		t.Errorf("second entry = %+v", entries[1])
	}
}

func TestAuditFailureDoesNotFailOperation(t *testing.T) {
	s := newTestStore(t)
	s.audit.appendLine = func(string, []byte) error {
		return errors.New("disk on fire")
	}

	// The primary write must still succeed.
	if _, err := s.CreateProject(context.Background(), CreateProjectRequest{
		ProjectID: "p", CreatedBy: "alice",
	}); err != nil {
		t.Fatalf("create failed because of audit: %v", err)
	}
	if !s.ProjectExists("p") {
		t.Error("project not created")
	}
}

func TestStorageOperationsAreAudited(t *testing.T) {
	s := newTestStore(t)
	setupProject(t, s)

	path := filepath.Join(s.Root(), "audit", time.Now().UTC().Format("2006-01-02")+".log")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("audit log missing: %v", err)
	}
	if len(data) == 0 {
		t.Error("audit log empty after create_project")
	}
}
