// Package session resolves client identity.
//
// Every MCP client gets a deterministic client_id so memberships survive
// reconnects without real authentication:
//
//	env override: BRAINSTORM_CLIENT_ID, used verbatim (1-256 chars)
//	derived:      SHA-256(working_directory), formatted as
//	              aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee from the first
//	              32 hex characters
//
// Examples:
//
//	BRAINSTORM_CLIENT_ID=ci-runner-7        → ci-runner-7
//	working dir /home/alice/projects/game   → 3f2a9c01-7b44-4e12-9d30-55aa01c2d9ee
//
// An empty env value falls back to directory hashing; an overlong one
// (>256) is rejected rather than truncated.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/nextlevelbuilder/brainstorm/internal/ids"
	"github.com/nextlevelbuilder/brainstorm/pkg/protocol"
)

// EnvClientID is the env var that overrides derivation.
const EnvClientID = "BRAINSTORM_CLIENT_ID"

// ResolveClientID returns the caller's client_id. envValue is the raw
// BRAINSTORM_CLIENT_ID value ("" when unset); workingDirectory is the
// client's stable working directory.
func ResolveClientID(envValue, workingDirectory string) (string, error) {
	if envValue != "" {
		if len(envValue) > 256 {
			return "", protocol.NewError(protocol.ErrInvalidID,
				"%s is %d chars, limit is 256", EnvClientID, len(envValue))
		}
		if err := ids.ValidateClientID(envValue); err != nil {
			return "", err
		}
		return envValue, nil
	}
	if workingDirectory == "" {
		return "", protocol.NewError(protocol.ErrInvalidID,
			"working_directory is required to derive a client identity")
	}
	return DeriveClientID(workingDirectory), nil
}

// DeriveClientID hashes a working directory into the canonical
// 8-4-4-4-12 form used for filesystem directories under R/clients/.
func DeriveClientID(workingDirectory string) string {
	sum := sha256.Sum256([]byte(workingDirectory))
	h := hex.EncodeToString(sum[:])
	return fmt.Sprintf("%s-%s-%s-%s-%s", h[0:8], h[8:12], h[12:16], h[16:20], h[20:32])
}
