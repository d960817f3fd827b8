package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nextlevelbuilder/brainstorm/internal/fsio"
	"github.com/nextlevelbuilder/brainstorm/internal/ids"
	"github.com/nextlevelbuilder/brainstorm/internal/payload"
	"github.com/nextlevelbuilder/brainstorm/pkg/protocol"
)

// newETag returns a fresh random 16-hex token. Regenerated on every write;
// compared verbatim on update.
func newETag() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// StoreResourceRequest carries one create-or-update. Content (inline) and
// SourcePath (file reference) are mutually exclusive; both absent on an
// update means "manifest-only update, keep the stored payload".
type StoreResourceRequest struct {
	ProjectID   string
	ResourceID  string
	Name        string
	Actor       string
	ETag        string // required on update, must match current
	Permissions *Permissions
	Content     []byte
	SourcePath  string
	MimeType    string
}

// StoreResource creates or updates a resource under the per-resource lock.
// On update the ETag must match, the actor needs write access, and
// creator_agent is immutable; only the creator may change permissions
// (non-creator permission changes are silently ignored).
func (s *Store) StoreResource(ctx context.Context, req StoreResourceRequest) (*Manifest, error) {
	if err := ids.ValidateID("project_id", req.ProjectID); err != nil {
		return nil, err
	}
	if err := ids.ValidateID("resource_id", req.ResourceID); err != nil {
		return nil, err
	}
	if err := ids.ValidateID("agent_name", req.Actor); err != nil {
		return nil, err
	}
	if req.Content != nil && req.SourcePath != "" {
		return nil, protocol.NewError(protocol.ErrConflict,
			"content and source_path are mutually exclusive")
	}
	if _, err := s.GetProjectMeta(req.ProjectID); err != nil {
		return nil, err
	}
	if _, err := s.requireMember(req.ProjectID, req.Actor); err != nil {
		return nil, err
	}

	// Validate payloads before taking the lock.
	var refPath string
	if req.Content != nil {
		if err := payload.CheckSize("content", int64(len(req.Content)), s.cfg.Limits.MaxInlineBytes); err != nil {
			return nil, err
		}
	}
	if req.SourcePath != "" {
		p, err := ids.ResolveSourcePath(req.SourcePath, s.cfg.Limits.MaxPayloadBytes)
		if err != nil {
			return nil, err
		}
		refPath = p
	}

	dir := s.resourceDir(req.ProjectID, req.ResourceID)
	if err := os.MkdirAll(s.payloadDir(req.ProjectID, req.ResourceID), 0o755); err != nil {
		return nil, fmt.Errorf("create resource dir: %w", err)
	}

	lock, err := s.lock(ctx, dir)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	manifestPath := s.manifestPath(req.ProjectID, req.ResourceID)
	var current Manifest
	exists := true
	if err := fsio.ReadJSON(manifestPath, &current); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read manifest: %w", err)
		}
		exists = false
	}

	ts := now()
	var next Manifest
	if !exists {
		next = Manifest{
			ProjectID:    req.ProjectID,
			ResourceID:   req.ResourceID,
			Name:         req.Name,
			CreatorAgent: req.Actor,
			CreatedAt:    ts,
			Permissions:  req.Permissions,
		}
	} else {
		if req.ETag == "" || req.ETag != current.ETag {
			s.auditRecord("store_resource", req.Actor, req.ProjectID, req.ResourceID, "etag_mismatch")
			return nil, protocol.NewError(protocol.ErrETagMismatch,
				"resource %q was modified; re-read and retry with the current etag", req.ResourceID)
		}
		if current.Permissions == nil {
			return nil, protocol.NewError(protocol.ErrNoPermissionsDefined,
				"resource %q has no permissions defined", req.ResourceID)
		}
		if !current.Permissions.AllowsWrite(req.Actor) {
			s.auditRecord("store_resource", req.Actor, req.ProjectID, req.ResourceID, "denied")
			return nil, protocol.NewError(protocol.ErrInsufficientWrite,
				"agent %q may not write resource %q", req.Actor, req.ResourceID)
		}

		next = current
		if req.Name != "" {
			next.Name = req.Name
		}
		// Only the creator may change the ACL; others keep the old one.
		if req.Actor == current.CreatorAgent && req.Permissions != nil {
			next.Permissions = req.Permissions
		}
	}
	next.UpdatedAt = ts
	next.ETag = newETag()

	// Payload first, manifest last: a crash in between leaves the old
	// manifest pointing at the old (still present) payload file, or a new
	// payload that no manifest references yet.
	switch {
	case req.Content != nil:
		if err := fsio.WriteFileAtomic(s.payloadDataPath(req.ProjectID, req.ResourceID), req.Content, 0o644); err != nil {
			return nil, fmt.Errorf("write payload: %w", err)
		}
		os.Remove(s.payloadRefPath(req.ProjectID, req.ResourceID))
		next.SizeBytes = int64(len(req.Content))
		next.SourcePath = ""
		next.MimeType = req.MimeType
	case refPath != "":
		if err := fsio.WriteFileAtomic(s.payloadRefPath(req.ProjectID, req.ResourceID), []byte(refPath+"\n"), 0o644); err != nil {
			return nil, fmt.Errorf("write payload ref: %w", err)
		}
		os.Remove(s.payloadDataPath(req.ProjectID, req.ResourceID))
		info, err := os.Stat(refPath)
		if err != nil {
			return nil, fmt.Errorf("stat source: %w", err)
		}
		next.SizeBytes = info.Size()
		next.SourcePath = refPath
		next.MimeType = req.MimeType
	default:
		// No new payload: storage-managed fields carry over from the
		// previous manifest (already copied via next = current).
		if req.MimeType != "" {
			next.MimeType = req.MimeType
		}
	}

	if err := fsio.WriteJSONAtomic(manifestPath, next); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	op := "update_resource"
	if !exists {
		op = "create_resource"
	}
	s.auditRecord(op, req.Actor, req.ProjectID, req.ResourceID, "ok")
	return &next, nil
}

func (s *Store) payloadDataPath(projectID, resourceID string) string {
	return filepath.Join(s.payloadDir(projectID, resourceID), "data")
}

func (s *Store) payloadRefPath(projectID, resourceID string) string {
	return filepath.Join(s.payloadDir(projectID, resourceID), "ref")
}

// Resource couples a manifest with its loaded payload bytes.
type Resource struct {
	Manifest Manifest
	Content  []byte
}

// ResourceExists reports manifest presence. Long-poll condition for
// get_resource(wait=true).
func (s *Store) ResourceExists(projectID, resourceID string) bool {
	_, err := os.Stat(s.manifestPath(projectID, resourceID))
	return err == nil
}

// GetResource loads the manifest and payload, enforcing deny-by-default
// read permissions.
func (s *Store) GetResource(ctx context.Context, projectID, resourceID, actor string) (*Resource, error) {
	if err := ids.ValidateID("project_id", projectID); err != nil {
		return nil, err
	}
	if err := ids.ValidateID("resource_id", resourceID); err != nil {
		return nil, err
	}
	if err := ids.ValidateID("agent_name", actor); err != nil {
		return nil, err
	}
	if _, err := s.GetProjectMeta(projectID); err != nil {
		return nil, err
	}
	if _, err := s.requireMember(projectID, actor); err != nil {
		return nil, err
	}

	var manifest Manifest
	if err := fsio.ReadJSON(s.manifestPath(projectID, resourceID), &manifest); err != nil {
		if os.IsNotExist(err) {
			return nil, protocol.NewError(protocol.ErrNotFound,
				"resource %q does not exist in project %q", resourceID, projectID)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	if manifest.Permissions == nil {
		return nil, protocol.NewError(protocol.ErrNoPermissionsDefined,
			"resource %q has no permissions defined", resourceID)
	}
	if !manifest.Permissions.AllowsRead(actor) {
		return nil, protocol.NewError(protocol.ErrInsufficientRead,
			"agent %q may not read resource %q", actor, resourceID)
	}

	content, err := s.loadPayload(projectID, resourceID, &manifest)
	if err != nil {
		return nil, err
	}
	return &Resource{Manifest: manifest, Content: content}, nil
}

// loadPayload reads payload/data, or follows payload/ref with the home
// containment and size checks re-applied at read time.
func (s *Store) loadPayload(projectID, resourceID string, m *Manifest) ([]byte, error) {
	data, err := os.ReadFile(s.payloadDataPath(projectID, resourceID))
	if err == nil {
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	refRaw, err := os.ReadFile(s.payloadRefPath(projectID, resourceID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // manifest-only resource
		}
		return nil, fmt.Errorf("read payload ref: %w", err)
	}
	refPath := strings.TrimSpace(string(refRaw))
	canon, err := ids.ResolveSourcePath(refPath, s.cfg.Limits.MaxPayloadBytes)
	if err != nil {
		return nil, err
	}
	data, err = os.ReadFile(canon)
	if err != nil {
		return nil, fmt.Errorf("read referenced file: %w", err)
	}
	return data, nil
}

// ListResources loads manifests only (never payloads), filtered to those
// the actor may read, paginated with a default limit of 100 (max 1000).
func (s *Store) ListResources(ctx context.Context, projectID, actor string, offset, limit int) ([]Manifest, error) {
	if err := ids.ValidateID("project_id", projectID); err != nil {
		return nil, err
	}
	if err := ids.ValidateID("agent_name", actor); err != nil {
		return nil, err
	}
	if _, err := s.GetProjectMeta(projectID); err != nil {
		return nil, err
	}
	if _, err := s.requireMember(projectID, actor); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := os.ReadDir(s.resourcesDir(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return []Manifest{}, nil
		}
		return nil, fmt.Errorf("read resources dir: %w", err)
	}

	var manifests []Manifest
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var m Manifest
		if err := fsio.ReadJSON(s.manifestPath(projectID, e.Name()), &m); err != nil {
			continue
		}
		if m.Permissions == nil || !m.Permissions.AllowsRead(actor) {
			continue
		}
		manifests = append(manifests, m)
	}
	sort.Slice(manifests, func(i, j int) bool { return manifests[i].ResourceID < manifests[j].ResourceID })

	if offset >= len(manifests) {
		return []Manifest{}, nil
	}
	end := offset + limit
	if end > len(manifests) {
		end = len(manifests)
	}
	return manifests[offset:end], nil
}
