package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/brainstorm/pkg/protocol"
)

// jsonResult marshals a success envelope as two-space-indented JSON text.
func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf(`{"error":{"code":%q,"message":"response marshal failed"}}`, protocol.ErrIO))
	}
	return mcp.NewToolResultText(string(data))
}

// errorResult shapes any error into the {error:{code,message,details}}
// envelope. Messages never leak absolute data-root paths: the root is
// replaced by a logical placeholder.
func (h *Handler) errorResult(err error) *mcp.CallToolResult {
	body := protocol.ErrorBody{
		Code:    protocol.CodeOf(err),
		Message: err.Error(),
	}
	var pe *protocol.Error
	if errors.As(err, &pe) {
		body.Message = pe.Message
		body.Details = pe.Details
	}
	body.Message = h.scrub(body.Message)

	data, merr := json.MarshalIndent(protocol.ErrorEnvelope{Error: body}, "", "  ")
	if merr != nil {
		return mcp.NewToolResultError(fmt.Sprintf(`{"error":{"code":%q,"message":"error marshal failed"}}`, protocol.ErrIO))
	}
	return mcp.NewToolResultError(string(data))
}

// scrub removes the data root from a message, substituting a logical name.
func (h *Handler) scrub(msg string) string {
	root := h.store.Root()
	if root == "" {
		return msg
	}
	return strings.ReplaceAll(msg, root, "<data-root>")
}

// waitTimeoutResult is the structured "timed out, retry allowed" success
// response for expired waits.
func waitTimeoutResult(what string, waitedSeconds float64) *mcp.CallToolResult {
	return jsonResult(map[string]any{
		"timed_out":      true,
		"retry_allowed":  true,
		"waited_seconds": waitedSeconds,
		"waiting_for":    what,
		"code":           protocol.ErrWaitTimeout,
	})
}
