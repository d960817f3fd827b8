// Package storage implements the object graph on disk: projects, members,
// resources, messages, client identities, and the audit log. There is no
// database; every operation is made atomic at the filesystem level with
// write-temp-rename, directory fsync, and advisory locks scoped to the
// smallest object that still guarantees the invariant.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nextlevelbuilder/brainstorm/internal/config"
	"github.com/nextlevelbuilder/brainstorm/internal/fsio"
)

// lockFileName is the advisory lock file kept inside each locked scope.
const lockFileName = ".lock"

// Store is the storage engine handle. It carries the data root and config
// explicitly; no global state.
type Store struct {
	root  string
	cfg   *config.Config
	audit *Auditor
}

// New opens (and if needed initializes) the data root. Fails when the
// root is not writable; the server treats that as unrecoverable.
func New(cfg *config.Config) (*Store, error) {
	root := cfg.DataRootPath()
	for _, dir := range []string{root, filepath.Join(root, "projects"), filepath.Join(root, "clients"), filepath.Join(root, "audit")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("init data root: %w", err)
		}
	}
	// Writability probe; a read-only root should fail at startup, not on
	// the first tool call.
	probe := filepath.Join(root, ".write-probe")
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return nil, fmt.Errorf("data root not writable: %w", err)
	}
	os.Remove(probe)

	return &Store{
		root:  root,
		cfg:   cfg,
		audit: NewAuditor(filepath.Join(root, "audit")),
	}, nil
}

// Root returns the absolute data root (used by the tool surface to scrub
// paths out of error messages).
func (s *Store) Root() string { return s.root }

// Config returns the configuration handle.
func (s *Store) Config() *config.Config { return s.cfg }

// --- path layout ---

func (s *Store) projectsDir() string { return filepath.Join(s.root, "projects") }

func (s *Store) projectDir(projectID string) string {
	return filepath.Join(s.projectsDir(), projectID)
}

func (s *Store) metadataPath(projectID string) string {
	return filepath.Join(s.projectDir(projectID), "metadata.json")
}

func (s *Store) membersDir(projectID string) string {
	return filepath.Join(s.projectDir(projectID), "members")
}

func (s *Store) memberPath(projectID, agentName string) string {
	return filepath.Join(s.membersDir(projectID), agentName+".json")
}

func (s *Store) resourcesDir(projectID string) string {
	return filepath.Join(s.projectDir(projectID), "resources")
}

func (s *Store) resourceDir(projectID, resourceID string) string {
	return filepath.Join(s.resourcesDir(projectID), resourceID)
}

func (s *Store) manifestPath(projectID, resourceID string) string {
	return filepath.Join(s.resourceDir(projectID, resourceID), "manifest.json")
}

func (s *Store) payloadDir(projectID, resourceID string) string {
	return filepath.Join(s.resourceDir(projectID, resourceID), "payload")
}

func (s *Store) inboxDir(projectID, agentName string) string {
	return filepath.Join(s.projectDir(projectID), "messages", agentName)
}

func (s *Store) archiveDir(projectID, agentName string) string {
	return filepath.Join(s.inboxDir(projectID, agentName), "archive")
}

func (s *Store) clientDir(clientID string) string {
	return filepath.Join(s.root, "clients", clientID)
}

// --- watch dirs for long-poll waiters ---

// ProjectsWatchDir is the directory a waiter watches for new projects.
func (s *Store) ProjectsWatchDir() string { return s.projectsDir() }

// ResourcesWatchDir is the directory a waiter watches for new resources.
// Created on demand so the watcher has something to attach to.
func (s *Store) ResourcesWatchDir(projectID string) string {
	dir := s.resourcesDir(projectID)
	os.MkdirAll(dir, 0o755)
	return dir
}

// InboxWatchDir is the inbox a waiter watches for new messages. Created
// on demand; callers have already passed the membership check.
func (s *Store) InboxWatchDir(projectID, agentName string) string {
	dir := s.inboxDir(projectID, agentName)
	os.MkdirAll(dir, 0o755)
	return dir
}

// --- shared helpers ---

// lock acquires the advisory lock file inside dir with the configured
// 5-second timeout.
func (s *Store) lock(ctx context.Context, dir string) (*fsio.Lock, error) {
	return fsio.AcquireLock(ctx, filepath.Join(dir, lockFileName), s.cfg.Wait.LockTimeout)
}

// lockPath acquires an advisory lock on an explicit lock-file path (used
// for per-member and per-client locks that sit next to a file, not inside
// a directory they own).
func (s *Store) lockPath(ctx context.Context, path string) (*fsio.Lock, error) {
	return fsio.AcquireLock(ctx, path, s.cfg.Wait.LockTimeout)
}

func now() time.Time { return time.Now().UTC() }
