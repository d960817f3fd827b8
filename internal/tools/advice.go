package tools

import "github.com/nextlevelbuilder/brainstorm/pkg/protocol"

// Advisory strings attached to tool responses. Agents are the consumers;
// the wording nudges them toward the collaboration rules they most often
// get wrong.
const (
	adviceEtiquette = "Prefer direct messages over broadcast. Messages are " +
		"archived the moment you receive them, so act on each batch before " +
		"calling receive_messages again."

	adviceReplyExpected = "You set reply_expected=true. Poll receive_messages " +
		"(wait=true works) until the reply arrives; the recipient was warned " +
		"that you are waiting."

	adviceIdentity = "Your client identity is derived from your working " +
		"directory. Pass the same working_directory on every call and keep " +
		"one agent_name per project."

	adviceCritical = "Always pass working_directory explicitly. Relying on " +
		"the server's own working directory makes your identity unstable " +
		"across sessions."
)

// roleReminder phrases the caller's standing in the project.
func roleReminder(role string) string {
	switch role {
	case protocol.RoleCoordinator:
		return "You are the coordinator of this project. You assign work, " +
			"answer handoff requests, and must hand over before leaving."
	case protocol.RoleContributor:
		return "You are a contributor. Coordinate through the coordinator " +
			"and send a handoff message if you need the coordinator role."
	default:
		return ""
	}
}
