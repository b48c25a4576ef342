// Package tools implements the operations exposed to the dispatch layer:
// command execution in containers and on the host, container lifecycle, and
// staged file transfers. Every operation returns a result string in the
// caller's requested shape; precondition and validation failures are
// resolved here and reported as structured failure results, never as fatal
// errors.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/3cpo-dev/pvemcp/internal/audit"
	"github.com/3cpo-dev/pvemcp/internal/config"
	"github.com/3cpo-dev/pvemcp/internal/output"
	"github.com/3cpo-dev/pvemcp/internal/pct"
	"github.com/3cpo-dev/pvemcp/internal/ssh"
	"github.com/3cpo-dev/pvemcp/internal/transfer"
	"github.com/3cpo-dev/pvemcp/internal/validate"
)

const (
	minVMID          = 100
	maxVMID          = 999999999
	maxCommandLength = 10000
)

// Session is the authenticated channel the bridge operates over.
// Satisfied by ssh.Session.
type Session interface {
	Execute(ctx context.Context, command string, timeout time.Duration) (ssh.ExecResult, error)
	GetFile(remotePath, localPath string) error
	PutFile(localPath, remotePath string) error
	RemoveRemoteFile(remotePath string) bool
}

// Bridge wires one Session to the full tool surface. It is constructed
// once at startup and injected into the dispatch layer; there are no
// package-level globals.
type Bridge struct {
	cfg     config.Config
	exec    *pct.Executor
	xfer    *transfer.Manager
	audit   *audit.Store
	metrics *Metrics
	log     zerolog.Logger
}

// NewBridge builds the executor and transfer manager on top of session.
// auditStore may be nil, in which case invocations are not persisted.
func NewBridge(cfg config.Config, session Session, auditStore *audit.Store, log zerolog.Logger) *Bridge {
	exec := pct.NewExecutor(session, log)
	return &Bridge{
		cfg:     cfg,
		exec:    exec,
		xfer:    transfer.NewManager(exec, session, cfg.MaxFileSize, log),
		audit:   auditStore,
		metrics: NewMetrics(),
		log:     log,
	}
}

// Metrics exposes the bridge's request counters.
func (b *Bridge) Metrics() *Metrics { return b.metrics }

func (b *Bridge) finish(tool, target string, start time.Time, exitCode int, ok bool, bytes int64) {
	d := time.Since(start)
	b.metrics.RecordRequest(d)
	if !ok {
		b.metrics.RecordError()
	}
	if b.audit == nil {
		return
	}
	// Recorded against a fresh context so a canceled call is still logged.
	err := b.audit.Record(context.Background(), audit.Invocation{
		Tool:     tool,
		Target:   target,
		ExitCode: exitCode,
		Success:  ok,
		Bytes:    bytes,
		Duration: d,
	})
	if err != nil {
		b.log.Warn().Str("tool", tool).Err(err).Msg("audit record failed")
	}
}

// failure renders a structured failure result. extra fields merge into the
// envelope next to error and success.
func failure(reason string, extra map[string]any) string {
	m := map[string]any{"error": reason, "success": false}
	for k, v := range extra {
		m[k] = v
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": %q, "success": false}`, reason)
	}
	return string(data)
}

// errorResult renders an operation fault in the caller's requested shape.
func errorResult(f output.Format, reason, suggestion string) string {
	if f == output.FormatText {
		if suggestion != "" {
			return fmt.Sprintf("Error: %s\n\nSuggestion: %s", reason, suggestion)
		}
		return "Error: " + reason
	}
	extra := map[string]any{}
	if suggestion != "" {
		extra["suggestion"] = suggestion
	}
	return failure(reason, extra)
}

// transferFailure maps transfer-layer errors onto failure envelopes.
func transferFailure(err error) string {
	var fault *transfer.Fault
	if errors.As(err, &fault) {
		extra := map[string]any{}
		if fault.Stderr != "" {
			extra["stderr"] = fault.Stderr
		}
		if fault.Suggestion != "" {
			extra["suggestion"] = fault.Suggestion
		}
		return failure(fault.Reason, extra)
	}
	var verr *validate.ValidationError
	if errors.As(err, &verr) {
		return failure(verr.Error(), nil)
	}
	return failure(err.Error(), nil)
}

func checkVMID(vmid int) string {
	if vmid < minVMID || vmid > maxVMID {
		return fmt.Sprintf("invalid vmid %d: must be between %d and %d", vmid, minVMID, maxVMID)
	}
	return ""
}

func checkCommand(command string) string {
	if command == "" {
		return "command cannot be empty"
	}
	if len(command) > maxCommandLength {
		return fmt.Sprintf("command exceeds maximum length of %d characters", maxCommandLength)
	}
	return ""
}

func hostExecDisabled(reason string) string {
	return failure(reason, map[string]any{
		"message": "to enable this feature, set environment variable: ENABLE_HOST_EXEC=true",
		"reason":  "this feature can affect the entire Proxmox infrastructure and is disabled by default",
	})
}

// ExecInContainer runs a bash command inside an LXC container via pct exec.
func (b *Bridge) ExecInContainer(ctx context.Context, in ExecCommandInput) string {
	start := time.Now()
	f, err := output.ParseFormat(in.Format, output.FormatText)
	if err != nil {
		return failure(err.Error(), nil)
	}
	if msg := checkVMID(in.VMID); msg != "" {
		return errorResult(f, msg, "use 'proxmox_list_containers' to see available containers")
	}
	if msg := checkCommand(in.Command); msg != "" {
		return errorResult(f, msg, "")
	}

	target := strconv.Itoa(in.VMID)
	res, err := b.exec.ExecInContainer(ctx, in.VMID, in.Command, pct.ClampTimeout(in.Timeout))
	if err != nil {
		b.finish("proxmox_container_exec_command", target, start, -1, false, 0)
		return errorResult(f, err.Error(), "check if the container exists and is running using 'proxmox_list_containers'")
	}
	b.finish("proxmox_container_exec_command", target, start, res.ExitCode, res.ExitCode == 0, 0)
	return output.EncodeExec(res.Stdout, res.Stderr, res.ExitCode, f, b.cfg.CharacterLimit)
}

// ListContainers returns all LXC containers on the host.
func (b *Bridge) ListContainers(ctx context.Context, in ListContainersInput) string {
	start := time.Now()
	f, err := output.ParseFormat(in.Format, output.FormatJSON)
	if err != nil {
		return failure(err.Error(), nil)
	}

	containers, res, err := b.exec.ListContainers(ctx)
	if err != nil {
		b.finish("proxmox_list_containers", "host", start, -1, false, 0)
		return failure(err.Error(), nil)
	}
	if res.ExitCode != 0 {
		b.finish("proxmox_list_containers", "host", start, res.ExitCode, false, 0)
		return failure("failed to list containers", map[string]any{"stderr": res.Stderr})
	}
	b.finish("proxmox_list_containers", "host", start, 0, true, 0)

	if f == output.FormatJSON {
		if containers == nil {
			containers = []pct.Container{}
		}
		data, _ := json.MarshalIndent(containers, "", "  ")
		return output.Truncate(string(data), b.cfg.CharacterLimit)
	}

	if len(containers) == 0 {
		return "No containers found"
	}
	lines := []string{"VMID | Status | Name", strings.Repeat("-", 40)}
	for _, ct := range containers {
		lines = append(lines, fmt.Sprintf("%4d | %-7s | %s", ct.VMID, ct.Status, ct.Name))
	}
	return output.Truncate(strings.Join(lines, "\n"), b.cfg.CharacterLimit)
}

// ContainerStatus reports running, stopped or unknown for one container.
func (b *Bridge) ContainerStatus(ctx context.Context, in ContainerStatusInput) string {
	start := time.Now()
	f, err := output.ParseFormat(in.Format, output.FormatJSON)
	if err != nil {
		return failure(err.Error(), nil)
	}
	if msg := checkVMID(in.VMID); msg != "" {
		return failure(msg, map[string]any{"suggestion": "use 'proxmox_list_containers' to see available containers"})
	}

	target := strconv.Itoa(in.VMID)
	status, res, err := b.exec.Status(ctx, in.VMID)
	if err != nil {
		b.finish("proxmox_container_status", target, start, -1, false, 0)
		return failure(err.Error(), nil)
	}
	if res.ExitCode != 0 {
		b.finish("proxmox_container_status", target, start, res.ExitCode, false, 0)
		return failure(fmt.Sprintf("container %d not found or error occurred", in.VMID), map[string]any{
			"stderr":     res.Stderr,
			"suggestion": "use 'proxmox_list_containers' to see available containers",
		})
	}
	b.finish("proxmox_container_status", target, start, 0, true, 0)

	if f == output.FormatJSON {
		data, _ := json.MarshalIndent(map[string]string{"status": status}, "", "  ")
		return string(data)
	}
	return fmt.Sprintf("Container %d is %s", in.VMID, status)
}

// StartContainer starts a container. Idempotent: starting a running
// container reports success.
func (b *Bridge) StartContainer(ctx context.Context, in ContainerActionInput) string {
	return b.containerAction(ctx, in.VMID, "start")
}

// StopContainer stops a container. Idempotent: stopping a stopped
// container reports success.
func (b *Bridge) StopContainer(ctx context.Context, in ContainerActionInput) string {
	return b.containerAction(ctx, in.VMID, "stop")
}

func (b *Bridge) containerAction(ctx context.Context, vmid int, action string) string {
	start := time.Now()
	tool := "proxmox_" + action + "_container"
	if msg := checkVMID(vmid); msg != "" {
		return failure(msg, map[string]any{"suggestion": "use 'proxmox_list_containers' to see available containers"})
	}

	target := strconv.Itoa(vmid)
	var res ssh.ExecResult
	var err error
	if action == "start" {
		res, err = b.exec.Start(ctx, vmid)
	} else {
		res, err = b.exec.Stop(ctx, vmid)
	}
	if err != nil {
		b.finish(tool, target, start, -1, false, 0)
		return failure(err.Error(), nil)
	}
	if res.ExitCode != 0 {
		b.finish(tool, target, start, res.ExitCode, false, 0)
		return failure(fmt.Sprintf("failed to %s container %d", action, vmid), map[string]any{
			"stderr":     res.Stderr,
			"suggestion": "check if the container exists using 'proxmox_list_containers'",
		})
	}
	b.finish(tool, target, start, 0, true, 0)

	past := "started"
	if action == "stop" {
		past = "stopped"
	}
	data, _ := json.MarshalIndent(map[string]any{
		"success": true,
		"message": fmt.Sprintf("Container %d %s successfully", vmid, past),
		"vmid":    vmid,
	}, "", "  ")
	return string(data)
}

// ExecOnHost runs a command directly on the Proxmox host. Gated behind the
// host-execution setting; when disabled it short-circuits before any remote
// call.
func (b *Bridge) ExecOnHost(ctx context.Context, in HostExecInput) string {
	start := time.Now()
	if !b.cfg.EnableHostExec {
		return hostExecDisabled("host command execution is disabled for safety")
	}
	f, err := output.ParseFormat(in.Format, output.FormatText)
	if err != nil {
		return failure(err.Error(), nil)
	}
	if msg := checkCommand(in.Command); msg != "" {
		return errorResult(f, msg, "")
	}

	res, err := b.exec.ExecOnHost(ctx, in.Command, pct.ClampTimeout(in.Timeout))
	if err != nil {
		b.finish("proxmox_host_exec_command", "host", start, -1, false, 0)
		return errorResult(f, err.Error(), "check if the command is valid and you have necessary permissions")
	}
	b.finish("proxmox_host_exec_command", "host", start, res.ExitCode, res.ExitCode == 0, 0)
	return output.EncodeExec(res.Stdout, res.Stderr, res.ExitCode, f, b.cfg.CharacterLimit)
}

// DownloadFromContainer copies a file out of a container to the local
// machine through the host staging hop.
func (b *Bridge) DownloadFromContainer(ctx context.Context, in DownloadFromContainerInput) string {
	start := time.Now()
	if msg := checkVMID(in.VMID); msg != "" {
		return failure(msg, map[string]any{"suggestion": "use 'proxmox_list_containers' to see available containers"})
	}

	target := strconv.Itoa(in.VMID)
	res, err := b.xfer.DownloadFromContainer(ctx, in.VMID, in.ContainerPath, in.LocalPath, in.Overwrite)
	if err != nil {
		b.finish("proxmox_download_file_from_container", target, start, -1, false, 0)
		return transferFailure(err)
	}
	b.finish("proxmox_download_file_from_container", target, start, 0, true, res.Bytes)

	data, _ := json.MarshalIndent(map[string]any{
		"success":           true,
		"message":           fmt.Sprintf("File downloaded successfully from container %d", in.VMID),
		"vmid":              in.VMID,
		"container_path":    in.ContainerPath,
		"local_path":        in.LocalPath,
		"bytes_transferred": res.Bytes,
	}, "", "  ")
	return string(data)
}

// UploadToContainer copies a local file into a container through the host
// staging hop and applies the requested permissions.
func (b *Bridge) UploadToContainer(ctx context.Context, in UploadToContainerInput) string {
	start := time.Now()
	if msg := checkVMID(in.VMID); msg != "" {
		return failure(msg, map[string]any{"suggestion": "use 'proxmox_list_containers' to see available containers"})
	}
	if in.Permissions == "" {
		in.Permissions = "644"
	}

	target := strconv.Itoa(in.VMID)
	res, err := b.xfer.UploadToContainer(ctx, in.VMID, in.LocalPath, in.ContainerPath, in.Permissions, in.Overwrite)
	if err != nil {
		b.finish("proxmox_upload_file_to_container", target, start, -1, false, 0)
		return transferFailure(err)
	}
	b.finish("proxmox_upload_file_to_container", target, start, 0, true, res.Bytes)

	fields := map[string]any{
		"success":           true,
		"message":           fmt.Sprintf("File uploaded successfully to container %d", in.VMID),
		"vmid":              in.VMID,
		"local_path":        in.LocalPath,
		"container_path":    in.ContainerPath,
		"permissions":       in.Permissions,
		"bytes_transferred": res.Bytes,
	}
	if res.PermissionWarning != "" {
		fields["warning"] = res.PermissionWarning
	}
	data, _ := json.MarshalIndent(fields, "", "  ")
	return string(data)
}

// DownloadFromHost copies a host file to the local machine. Gated by the
// host-execution setting.
func (b *Bridge) DownloadFromHost(ctx context.Context, in DownloadFromHostInput) string {
	start := time.Now()
	if !b.cfg.EnableHostExec {
		return hostExecDisabled("host file operations are disabled for safety")
	}

	res, err := b.xfer.DownloadFromHost(ctx, in.HostPath, in.LocalPath, in.Overwrite)
	if err != nil {
		b.finish("proxmox_download_file_from_host", "host", start, -1, false, 0)
		return transferFailure(err)
	}
	b.finish("proxmox_download_file_from_host", "host", start, 0, true, res.Bytes)

	data, _ := json.MarshalIndent(map[string]any{
		"success":           true,
		"message":           "File downloaded successfully from Proxmox host",
		"host_path":         in.HostPath,
		"local_path":        in.LocalPath,
		"bytes_transferred": res.Bytes,
	}, "", "  ")
	return string(data)
}

// UploadToHost copies a local file directly onto the host. Gated by the
// host-execution setting.
func (b *Bridge) UploadToHost(ctx context.Context, in UploadToHostInput) string {
	start := time.Now()
	if !b.cfg.EnableHostExec {
		return hostExecDisabled("host file operations are disabled for safety")
	}
	if in.Permissions == "" {
		in.Permissions = "644"
	}

	res, err := b.xfer.UploadToHost(ctx, in.LocalPath, in.HostPath, in.Permissions, in.Overwrite)
	if err != nil {
		b.finish("proxmox_upload_file_to_host", "host", start, -1, false, 0)
		return transferFailure(err)
	}
	b.finish("proxmox_upload_file_to_host", "host", start, 0, true, res.Bytes)

	fields := map[string]any{
		"success":           true,
		"message":           "File uploaded successfully to Proxmox host",
		"local_path":        in.LocalPath,
		"host_path":         in.HostPath,
		"permissions":       in.Permissions,
		"bytes_transferred": res.Bytes,
	}
	if res.PermissionWarning != "" {
		fields["warning"] = res.PermissionWarning
	}
	data, _ := json.MarshalIndent(fields, "", "  ")
	return string(data)
}
