package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/brainstorm/internal/fsio"
	"github.com/nextlevelbuilder/brainstorm/internal/ids"
	"github.com/nextlevelbuilder/brainstorm/internal/payload"
	"github.com/nextlevelbuilder/brainstorm/pkg/protocol"
)

// messageTimeFormat is fixed-width UTC so inbox filenames sort in arrival
// order; the uuid suffix breaks same-nanosecond ties.
const messageTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SendMessageRequest is one send_message call. Payload is opaque JSON;
// plain text arrives as a JSON string and is never parsed further.
type SendMessageRequest struct {
	ProjectID     string
	FromAgent     string
	ToAgent       string // empty for broadcast
	Broadcast     bool
	ReplyExpected bool
	MessageType   string
	Payload       json.RawMessage
}

// SendMessage validates the payload, enforces handoff authority, and
// writes one inbox file per recipient. Broadcast fan-out is not atomic
// across recipients: each delivered file is individually atomic, and a
// crash mid-fan-out leaves a partial broadcast.
func (s *Store) SendMessage(ctx context.Context, req SendMessageRequest) (*Message, []string, error) {
	if err := ids.ValidateID("project_id", req.ProjectID); err != nil {
		return nil, nil, err
	}
	if err := ids.ValidateID("agent_name", req.FromAgent); err != nil {
		return nil, nil, err
	}
	if !req.Broadcast {
		if err := ids.ValidateID("to_agent", req.ToAgent); err != nil {
			return nil, nil, err
		}
	}
	if err := payload.CheckSize("payload", int64(len(req.Payload)), s.cfg.Limits.MaxPayloadBytes); err != nil {
		return nil, nil, err
	}
	if err := payload.CheckJSONDepth(req.Payload, s.cfg.Limits.MaxJSONDepth); err != nil {
		return nil, nil, err
	}

	if _, err := s.GetProjectMeta(req.ProjectID); err != nil {
		return nil, nil, err
	}
	if err := s.EnsureProjectHasCoordinator(ctx, req.ProjectID); err != nil {
		return nil, nil, err
	}
	sender, err := s.requireMember(req.ProjectID, req.FromAgent)
	if err != nil {
		return nil, nil, err
	}
	if err := checkHandoffAuthority(req.MessageType, sender.Role); err != nil {
		s.auditRecord("send_message", req.FromAgent, req.ProjectID, req.ToAgent, "handoff_authority")
		return nil, nil, err
	}

	var recipients []string
	if req.Broadcast {
		members, err := s.listMembers(req.ProjectID)
		if err != nil {
			return nil, nil, err
		}
		for _, m := range members {
			if m.AgentName != req.FromAgent {
				recipients = append(recipients, m.AgentName)
			}
		}
	} else {
		if _, err := s.getMember(req.ProjectID, req.ToAgent); err != nil {
			return nil, nil, err
		}
		recipients = []string{req.ToAgent}
	}

	msg := Message{
		MessageID:     uuid.NewString(),
		ProjectID:     req.ProjectID,
		FromAgent:     req.FromAgent,
		ToAgent:       req.ToAgent,
		Broadcast:     req.Broadcast,
		ReplyExpected: req.ReplyExpected,
		MessageType:   req.MessageType,
		Payload:       req.Payload,
		Timestamp:     now(),
	}
	filename := msg.Timestamp.Format(messageTimeFormat) + "-" + msg.MessageID + ".json"

	for _, recipient := range recipients {
		inbox := s.inboxDir(req.ProjectID, recipient)
		if err := os.MkdirAll(inbox, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create inbox: %w", err)
		}
		if err := fsio.WriteJSONAtomic(filepath.Join(inbox, filename), msg); err != nil {
			return nil, nil, fmt.Errorf("deliver to %s: %w", recipient, err)
		}
	}

	target := req.ToAgent
	if req.Broadcast {
		target = "*"
	}
	s.auditRecord("send_message", req.FromAgent, req.ProjectID, target, "ok")
	return &msg, recipients, nil
}

// checkHandoffAuthority enforces the inverted handoff rule: contributors
// initiate handoffs, only the coordinator answers them.
func checkHandoffAuthority(messageType, senderRole string) error {
	switch messageType {
	case protocol.MessageTypeHandoff:
		if senderRole == protocol.RoleCoordinator {
			return protocol.NewError(protocol.ErrHandoffAuthority,
				"the coordinator cannot send %q; only contributors initiate handoffs", messageType)
		}
	case protocol.MessageTypeHandoffAccepted, protocol.MessageTypeHandoffRejected:
		if senderRole != protocol.RoleCoordinator {
			return protocol.NewError(protocol.ErrHandoffAuthority,
				"only the coordinator may send %q", messageType)
		}
	}
	return nil
}

// ReplyWarning flags a received message whose sender expects an answer.
type ReplyWarning struct {
	MessageID string `json:"message_id"`
	FromAgent string `json:"from_agent"`
	Note      string `json:"note"`
}

// HandoffAlert flags a received handoff-flow message.
type HandoffAlert struct {
	MessageID   string `json:"message_id"`
	FromAgent   string `json:"from_agent"`
	MessageType string `json:"message_type"`
}

// ReceiveResult is the outcome of one inbox drain.
type ReceiveResult struct {
	Messages      []Message      `json:"messages"`
	ReplyWarnings []ReplyWarning `json:"reply_warnings,omitempty"`
	HandoffAlerts []HandoffAlert `json:"handoff_alerts,omitempty"`
}

// InboxHasMessages reports whether at least one deliverable file sits in
// the inbox. Long-poll condition for receive_messages(wait=true).
func (s *Store) InboxHasMessages(projectID, agentName string) bool {
	return s.countInbox(projectID, agentName) > 0
}

// ReceiveMessages drains the inbox in arrival order under the inbox lock,
// moving every returned file to archive/ (read-once delivery). A message
// is never returned twice: the rename happens before the call returns.
func (s *Store) ReceiveMessages(ctx context.Context, projectID, agentName string) (*ReceiveResult, error) {
	if err := ids.ValidateID("project_id", projectID); err != nil {
		return nil, err
	}
	if err := ids.ValidateID("agent_name", agentName); err != nil {
		return nil, err
	}
	if _, err := s.GetProjectMeta(projectID); err != nil {
		return nil, err
	}
	if err := s.EnsureProjectHasCoordinator(ctx, projectID); err != nil {
		return nil, err
	}
	if _, err := s.requireMember(projectID, agentName); err != nil {
		return nil, err
	}

	// Draining the inbox doubles as the liveness signal.
	if _, err := s.UpdateMemberHeartbeat(ctx, projectID, agentName, true); err != nil {
		slog.Warn("heartbeat update failed", "project", projectID, "agent", agentName, "error", err)
	}

	inbox := s.inboxDir(projectID, agentName)
	if err := os.MkdirAll(inbox, 0o755); err != nil {
		return nil, fmt.Errorf("create inbox: %w", err)
	}

	// Delivery is atomic per file, but concurrent drains of the same
	// inbox must not race the archive renames.
	lock, err := s.lock(ctx, inbox)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	entries, err := os.ReadDir(inbox)
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || fsio.IsTempName(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	result := &ReceiveResult{Messages: []Message{}}
	if len(names) == 0 {
		return result, nil
	}

	archive := s.archiveDir(projectID, agentName)
	if err := os.MkdirAll(archive, 0o755); err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}

	for _, name := range names {
		var msg Message
		if err := fsio.ReadJSON(filepath.Join(inbox, name), &msg); err != nil {
			continue // unreadable file stays for a later drain
		}
		if err := os.Rename(filepath.Join(inbox, name), filepath.Join(archive, name)); err != nil {
			return nil, fmt.Errorf("archive message: %w", err)
		}
		result.Messages = append(result.Messages, msg)

		if msg.ReplyExpected {
			result.ReplyWarnings = append(result.ReplyWarnings, ReplyWarning{
				MessageID: msg.MessageID,
				FromAgent: msg.FromAgent,
				Note:      fmt.Sprintf("%s expects a reply to this message", msg.FromAgent),
			})
		}
		if strings.HasPrefix(msg.MessageType, "handoff") {
			result.HandoffAlerts = append(result.HandoffAlerts, HandoffAlert{
				MessageID:   msg.MessageID,
				FromAgent:   msg.FromAgent,
				MessageType: msg.MessageType,
			})
		}
	}
	if err := fsio.SyncDir(inbox); err != nil {
		return nil, fmt.Errorf("sync inbox: %w", err)
	}

	s.auditRecord("receive_messages", agentName, projectID, "", "ok")
	return result, nil
}
