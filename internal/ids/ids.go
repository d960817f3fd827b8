// Package ids validates every externally supplied identifier and path.
//
// Identifiers become directory and file names under the data root, so the
// whitelist is strict: alphanumeric first character, then alphanumerics,
// underscore, or hyphen. Dots, slashes, and backslashes never pass, which
// rules out `.`/`..` traversal at the source.
package ids

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/brainstorm/pkg/protocol"
)

var (
	safeID   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]{0,127}$`)
	clientID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]{0,255}$`)
)

// ValidateID checks a project_id, agent_name, or resource_id.
// kind names the field in the error message.
func ValidateID(kind, id string) error {
	if !safeID.MatchString(id) {
		return protocol.NewError(protocol.ErrInvalidID,
			"%s %q is not a valid identifier (must match [A-Za-z0-9][A-Za-z0-9_-]{0,127})", kind, id)
	}
	return nil
}

// ValidateClientID checks a client_id (same charset, length 1-256).
func ValidateClientID(id string) error {
	if !clientID.MatchString(id) {
		return protocol.NewError(protocol.ErrInvalidID,
			"client_id is not a valid identifier (must match [A-Za-z0-9][A-Za-z0-9_-]{0,255})")
	}
	return nil
}

// ResolveSourcePath canonicalizes a file-reference resource path and
// verifies it lies inside the user home directory. The containment check
// uses a true relative-path computation, never a string prefix: a prefix
// match would let /home/user_evil slip past /home/user.
//
// The target must be a regular, readable file no larger than maxBytes.
// Returns the canonical absolute path.
func ResolveSourcePath(sourcePath string, maxBytes int64) (string, error) {
	if sourcePath == "" {
		return "", protocol.NewError(protocol.ErrInvalidID, "source_path is empty")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	canonHome, err := filepath.EvalSymlinks(home)
	if err != nil {
		return "", fmt.Errorf("canonicalize home: %w", err)
	}

	abs, err := filepath.Abs(expandHome(sourcePath))
	if err != nil {
		return "", protocol.NewError(protocol.ErrPathEscape, "source_path cannot be resolved")
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", protocol.NewError(protocol.ErrNotFound, "source_path does not exist")
		}
		return "", protocol.NewError(protocol.ErrPathEscape, "source_path cannot be canonicalized")
	}

	rel, err := filepath.Rel(canonHome, canon)
	if err != nil {
		return "", protocol.NewError(protocol.ErrPathEscape, "source_path is outside the home directory")
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", protocol.NewError(protocol.ErrPathEscape, "source_path is outside the home directory")
	}

	info, err := os.Stat(canon)
	if err != nil {
		return "", protocol.NewError(protocol.ErrNotFound, "source_path does not exist")
	}
	if !info.Mode().IsRegular() {
		return "", protocol.NewError(protocol.ErrPathEscape, "source_path is not a regular file")
	}
	if info.Size() > maxBytes {
		return "", protocol.NewError(protocol.ErrPayloadTooLarge,
			"referenced file is %d bytes, limit is %d", info.Size(), maxBytes)
	}
	f, err := os.Open(canon)
	if err != nil {
		return "", protocol.NewError(protocol.ErrForbidden, "source_path is not readable")
	}
	f.Close()

	return canon, nil
}

// expandHome mirrors config.ExpandHome; duplicated to keep this package leaf-level.
func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
