// Package payload enforces size and JSON-nesting-depth limits on inline
// content and message payloads. Plain text is never JSON-parsed; only
// structured payloads are depth-walked.
package payload

import (
	"bytes"
	"encoding/json"

	"github.com/nextlevelbuilder/brainstorm/pkg/protocol"
)

// CheckSize fails with PAYLOAD_TOO_LARGE when content exceeds maxBytes.
// what names the field in the error message.
func CheckSize(what string, size, maxBytes int64) error {
	if size > maxBytes {
		return protocol.NewError(protocol.ErrPayloadTooLarge,
			"%s is %d bytes, limit is %d", what, size, maxBytes)
	}
	return nil
}

// CheckJSONDepth walks a raw JSON document and fails with PAYLOAD_TOO_DEEP
// when object/array nesting exceeds maxDepth. The document is tokenized,
// not fully decoded, so deeply nested bombs cost no allocation blow-up.
func CheckJSONDepth(raw json.RawMessage, maxDepth int) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			// io.EOF ends the walk; malformed JSON is the caller's problem
			// and surfaces when the payload is actually decoded.
			return nil
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
				if depth > maxDepth {
					return protocol.NewError(protocol.ErrPayloadTooDeep,
						"payload nesting exceeds %d levels", maxDepth)
				}
			case '}', ']':
				depth--
			}
		}
	}
}
