// Package pct translates logical container and host intents into the
// literal command lines understood by the Proxmox host's pct tool, and runs
// them over an established session. The pct command on the host is the sole
// source of truth for container state.
package pct

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/3cpo-dev/pvemcp/internal/ssh"
)

// Timeout bounds for a single command. Caller-supplied values are clamped
// into [MinTimeout, MaxTimeout]; zero selects DefaultTimeout.
const (
	MinTimeout     = 1 * time.Second
	MaxTimeout     = 300 * time.Second
	DefaultTimeout = 30 * time.Second
)

// ClampTimeout converts caller-supplied seconds into the enforced range.
func ClampTimeout(seconds int) time.Duration {
	if seconds == 0 {
		return DefaultTimeout
	}
	d := time.Duration(seconds) * time.Second
	if d < MinTimeout {
		return MinTimeout
	}
	if d > MaxTimeout {
		return MaxTimeout
	}
	return d
}

// Runner executes one command line on the host.
type Runner interface {
	Execute(ctx context.Context, command string, timeout time.Duration) (ssh.ExecResult, error)
}

// QuoteForShell embeds s in a single-quoted shell argument. Embedded single
// quotes close the quote, insert an escaped literal quote and reopen it, so
// the receiving shell sees s unaltered. This is quoting, not sandboxing:
// shell metacharacters still reach the container's shell verbatim.
func QuoteForShell(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Container is one row of pct list.
type Container struct {
	VMID   int    `json:"vmid"`
	Status string `json:"status"`
	Name   string `json:"name"`
}

// Executor builds pct command lines and delegates them to a Runner.
type Executor struct {
	runner Runner
	log    zerolog.Logger
}

func NewExecutor(r Runner, log zerolog.Logger) *Executor {
	return &Executor{runner: r, log: log}
}

// ExecInContainer runs a bash command inside container vmid via pct exec.
func (e *Executor) ExecInContainer(ctx context.Context, vmid int, command string, timeout time.Duration) (ssh.ExecResult, error) {
	line := fmt.Sprintf("pct exec %d -- bash -c %s", vmid, QuoteForShell(command))
	e.log.Debug().Int("vmid", vmid).Dur("timeout", timeout).Msg("exec in container")
	return e.runner.Execute(ctx, line, timeout)
}

// ExecOnHost runs a command directly on the host, unwrapped and unescaped.
// The enablement gate lives at the tool boundary, not here.
func (e *Executor) ExecOnHost(ctx context.Context, command string, timeout time.Duration) (ssh.ExecResult, error) {
	e.log.Debug().Dur("timeout", timeout).Msg("exec on host")
	return e.runner.Execute(ctx, command, timeout)
}

// ListContainers returns all containers known to the host.
func (e *Executor) ListContainers(ctx context.Context) ([]Container, ssh.ExecResult, error) {
	res, err := e.runner.Execute(ctx, "pct list", DefaultTimeout)
	if err != nil || res.ExitCode != 0 {
		return nil, res, err
	}
	return ParseList(res.Stdout), res, nil
}

// Status reports running, stopped or unknown for container vmid. A nonzero
// exit usually means the container does not exist; the raw result is
// returned for the caller's error report.
func (e *Executor) Status(ctx context.Context, vmid int) (string, ssh.ExecResult, error) {
	res, err := e.runner.Execute(ctx, fmt.Sprintf("pct status %d", vmid), DefaultTimeout)
	if err != nil || res.ExitCode != 0 {
		return "", res, err
	}
	return ParseStatus(res.Stdout), res, nil
}

// Start starts a container. Starting an already running container succeeds.
func (e *Executor) Start(ctx context.Context, vmid int) (ssh.ExecResult, error) {
	return e.runner.Execute(ctx, fmt.Sprintf("pct start %d", vmid), DefaultTimeout)
}

// Stop stops a container. Stopping an already stopped container succeeds.
func (e *Executor) Stop(ctx context.Context, vmid int) (ssh.ExecResult, error) {
	return e.runner.Execute(ctx, fmt.Sprintf("pct stop %d", vmid), DefaultTimeout)
}

// Pull copies a file out of a container namespace onto the host.
func (e *Executor) Pull(ctx context.Context, vmid int, containerPath, hostPath string) (ssh.ExecResult, error) {
	line := fmt.Sprintf("pct pull %d %s %s", vmid, QuoteForShell(containerPath), QuoteForShell(hostPath))
	return e.runner.Execute(ctx, line, DefaultTimeout)
}

// Push copies a file from the host into a container namespace.
func (e *Executor) Push(ctx context.Context, vmid int, hostPath, containerPath string) (ssh.ExecResult, error) {
	line := fmt.Sprintf("pct push %d %s %s", vmid, QuoteForShell(hostPath), QuoteForShell(containerPath))
	return e.runner.Execute(ctx, line, DefaultTimeout)
}

// FileExistsInContainer probes a path inside a container namespace.
func (e *Executor) FileExistsInContainer(ctx context.Context, vmid int, path string) (bool, error) {
	line := fmt.Sprintf("pct exec %d -- test -f %s", vmid, QuoteForShell(path))
	res, err := e.runner.Execute(ctx, line, DefaultTimeout)
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// FileExistsOnHost probes a path on the host.
func (e *Executor) FileExistsOnHost(ctx context.Context, path string) (bool, error) {
	res, err := e.runner.Execute(ctx, "test -f "+QuoteForShell(path), DefaultTimeout)
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// HostFileSize queries the byte size of a host file via stat. A nonzero
// exit is reported through the returned result, not as an error.
func (e *Executor) HostFileSize(ctx context.Context, path string) (int64, ssh.ExecResult, error) {
	res, err := e.runner.Execute(ctx, "stat -c%s "+QuoteForShell(path), DefaultTimeout)
	if err != nil || res.ExitCode != 0 {
		return 0, res, err
	}
	size, perr := strconv.ParseInt(strings.TrimSpace(res.Stdout), 10, 64)
	if perr != nil {
		return 0, res, fmt.Errorf("parse file size %q: %w", strings.TrimSpace(res.Stdout), perr)
	}
	return size, res, nil
}

// ChmodInContainer applies an octal mode to a file inside a container.
func (e *Executor) ChmodInContainer(ctx context.Context, vmid int, perms, path string) (ssh.ExecResult, error) {
	line := fmt.Sprintf("pct exec %d -- chmod %s %s", vmid, perms, QuoteForShell(path))
	return e.runner.Execute(ctx, line, DefaultTimeout)
}

// ChmodOnHost applies an octal mode to a file on the host.
func (e *Executor) ChmodOnHost(ctx context.Context, perms, path string) (ssh.ExecResult, error) {
	return e.runner.Execute(ctx, fmt.Sprintf("chmod %s %s", perms, QuoteForShell(path)), DefaultTimeout)
}

// ParseList turns pct list output into structured rows. The first line is
// the header; rows with fewer than three columns are skipped.
func ParseList(out string) []Container {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return nil
	}
	var containers []Container
	for _, line := range lines[1:] {
		parts := strings.Fields(line)
		if len(parts) < 3 {
			continue
		}
		vmid, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		containers = append(containers, Container{VMID: vmid, Status: parts[1], Name: parts[2]})
	}
	return containers
}

// ParseStatus maps pct status output to running, stopped or unknown.
func ParseStatus(out string) string {
	out = strings.ToLower(strings.TrimSpace(out))
	switch {
	case strings.Contains(out, "running"):
		return "running"
	case strings.Contains(out, "stopped"):
		return "stopped"
	default:
		return "unknown"
	}
}
