// Package validate rejects unsafe path and permission inputs before any
// remote action is taken.
package validate

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxPathLength is the ceiling for any path string, local or remote.
const MaxPathLength = 4096

var permPattern = regexp.MustCompile(`^[0-7]{3,4}$`)

// ValidationError describes an input rejected before reaching the remote
// channel.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Path checks a path string for traversal notation, emptiness and length.
// It guards against path-traversal notation only; symlink and permission
// based escapes are left to the remote filesystem's access control.
func Path(field, path string) error {
	if strings.TrimSpace(path) == "" {
		return &ValidationError{Field: field, Reason: "path cannot be empty"}
	}
	if strings.Contains(path, "..") {
		return &ValidationError{Field: field, Reason: "path cannot contain '..' (path traversal not allowed)"}
	}
	if len(path) > MaxPathLength {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("path exceeds maximum length of %d characters", MaxPathLength)}
	}
	return nil
}

// Permissions checks that perms is a 3-or-4-digit octal mode string.
func Permissions(perms string) error {
	if perms == "" {
		return &ValidationError{Field: "permissions", Reason: "permissions cannot be empty"}
	}
	if !permPattern.MatchString(perms) {
		return &ValidationError{Field: "permissions", Reason: "permissions must be a valid octal string (e.g. '644', '755', '0644')"}
	}
	return nil
}
