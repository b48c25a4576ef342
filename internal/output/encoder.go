// Package output renders command results within a configured character
// budget. The JSON shape shortens its payload before marshaling so the
// result stays parseable no matter how small the budget is; the text shape
// assembles first and truncates the finished string.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Format selects the encoding of a tool result.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// ParseFormat validates a caller-supplied format selector. The empty string
// resolves to def so each tool can keep its own default.
func ParseFormat(s string, def Format) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return def, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatText:
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown response format %q (expected 'json' or 'text')", s)
	}
}

// DefaultCharacterLimit bounds responses when no limit is configured.
const DefaultCharacterLimit = 25000

const (
	// jsonOverhead is reserved for the envelope's structural characters and
	// metadata fields.
	jsonOverhead = 500
	// minPayload keeps the payload share from degenerating under a very
	// small configured budget.
	minPayload = 1000
)

type execEnvelope struct {
	ExitCode             int    `json:"exit_code"`
	Stdout               string `json:"stdout"`
	Stderr               string `json:"stderr"`
	Success              bool   `json:"success"`
	StdoutTruncated      bool   `json:"stdout_truncated,omitempty"`
	StdoutOriginalLength int    `json:"stdout_original_length,omitempty"`
	StderrTruncated      bool   `json:"stderr_truncated,omitempty"`
	StderrOriginalLength int    `json:"stderr_original_length,omitempty"`
}

// EncodeExec renders one command result in the requested shape, never
// exceeding limit characters.
func EncodeExec(stdout, stderr string, exitCode int, f Format, limit int) string {
	if limit <= 0 {
		limit = DefaultCharacterLimit
	}
	if f == FormatJSON {
		return encodeJSON(stdout, stderr, exitCode, limit)
	}
	return encodeText(stdout, stderr, exitCode, limit)
}

func encodeJSON(stdout, stderr string, exitCode, limit int) string {
	available := limit - jsonOverhead
	if available < minPayload {
		available = minPayload
	}

	env := execEnvelope{
		ExitCode: exitCode,
		Success:  exitCode == 0,
	}

	stdoutLen := len(stdout)
	stderrLen := len(stderr)
	total := stdoutLen + stderrLen

	if total > available {
		// Split the available space proportionally to the original
		// lengths so the dominant stream loses content last.
		var stdoutShare, stderrShare int
		if total > 0 {
			stdoutShare = available * stdoutLen / total
			stderrShare = available * stderrLen / total
		} else {
			stdoutShare = available / 2
			stderrShare = available / 2
		}
		if stdoutLen > stdoutShare {
			stdout = stdout[:stdoutShare]
			env.StdoutTruncated = true
			env.StdoutOriginalLength = stdoutLen
		}
		if stderrLen > stderrShare {
			stderr = stderr[:stderrShare]
			env.StderrTruncated = true
			env.StderrOriginalLength = stderrLen
		}
	}

	env.Stdout = stdout
	env.Stderr = stderr

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		// Only reachable on marshaler internals failing; keep the shape valid.
		return fmt.Sprintf(`{"exit_code": %d, "stdout": "", "stderr": "", "success": %t}`, exitCode, exitCode == 0)
	}
	return string(data)
}

func encodeText(stdout, stderr string, exitCode, limit int) string {
	var parts []string
	if stdout != "" {
		parts = append(parts, "=== STDOUT ===\n"+stdout)
	}
	if stderr != "" {
		parts = append(parts, "=== STDERR ===\n"+stderr)
	}
	parts = append(parts, fmt.Sprintf("=== EXIT CODE: %d ===", exitCode))
	return Truncate(strings.Join(parts, "\n\n"), limit)
}

// Truncate caps s at limit characters, appending a note with the true
// original length. Used for text command output and for non-command
// contexts such as listing results.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		limit = DefaultCharacterLimit
	}
	if len(s) <= limit {
		return s
	}
	return s[:limit] + fmt.Sprintf("\n\n[OUTPUT TRUNCATED - showing first %d of %d characters]", limit, len(s))
}
