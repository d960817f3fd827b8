package storage

import (
	"encoding/json"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/nextlevelbuilder/brainstorm/internal/fsio"
)

// AuditEntry is one JSON line in R/audit/<yyyy-mm-dd>.log. Entries are
// append-only and never mutated.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Op        string    `json:"op"`
	Actor     string    `json:"actor"`
	ProjectID string    `json:"project_id,omitempty"`
	Target    string    `json:"target,omitempty"`
	Result    string    `json:"result"`
}

// Auditor appends audit entries to daily files. Appends within this
// process are serialized; cross-process interleaving is line-atomic via
// O_APPEND.
type Auditor struct {
	dir string
	mu  sync.Mutex

	appendLine func(path string, line []byte) error
}

// NewAuditor creates an auditor writing into dir.
func NewAuditor(dir string) *Auditor {
	return &Auditor{dir: dir, appendLine: appendLineFsync}
}

// Record appends one entry. Failures are logged and swallowed: a primary
// write that succeeded must not be failed retroactively by its audit line.
func (a *Auditor) Record(op, actor, projectID, target, result string) {
	entry := AuditEntry{
		Timestamp: time.Now().UTC(),
		Op:        op,
		Actor:     actor,
		ProjectID: projectID,
		Target:    target,
		Result:    result,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		slog.Error("audit.marshal", "op", op, "error", err)
		return
	}

	path := filepath.Join(a.dir, entry.Timestamp.Format("2006-01-02")+".log")

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.appendLine(path, line); err != nil {
		slog.Error("audit.append", "op", op, "error", err)
	}
}

func appendLineFsync(path string, line []byte) error {
	return fsio.AppendLine(path, line)
}

// audit records a state change outcome from a storage operation.
func (s *Store) auditRecord(op, actor, projectID, target, result string) {
	s.audit.Record(op, actor, projectID, target, result)
}
