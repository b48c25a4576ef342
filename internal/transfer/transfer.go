// Package transfer moves files between the local filesystem, the Proxmox
// host and container namespaces. Transfers that cross a container boundary
// are staged through a uniquely named temporary file on the host, which is
// removed on every exit path.
package transfer

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/3cpo-dev/pvemcp/internal/pct"
	"github.com/3cpo-dev/pvemcp/internal/validate"
)

// FileChannel is the SFTP-backed hop between the local machine and the
// host. Satisfied by ssh.Session.
type FileChannel interface {
	GetFile(remotePath, localPath string) error
	PutFile(localPath, remotePath string) error
	RemoveRemoteFile(remotePath string) bool
}

// Fault is a caller-actionable precondition or remote-command failure.
// Resolved locally and reported as a structured failure result, never
// propagated as a fatal error.
type Fault struct {
	Reason     string
	Stderr     string
	Suggestion string
}

func (f *Fault) Error() string { return f.Reason }

// StagingPath generates a collision-resistant temporary path on the host.
// Uniqueness is the only safety net against concurrent transfers colliding,
// so a random identifier is mandatory.
func StagingPath() string {
	id := uuid.New()
	return "/tmp/pvemcp-" + hex.EncodeToString(id[:])
}

// Result summarizes a completed transfer.
type Result struct {
	Bytes int64
	// PermissionWarning is set when the file landed but the requested mode
	// could not be applied. Non-fatal: the primary transfer succeeded.
	PermissionWarning string
}

// Manager orchestrates the staged flows over a command executor and the
// session's file channel.
type Manager struct {
	exec        *pct.Executor
	files       FileChannel
	maxFileSize int64
	log         zerolog.Logger
}

func NewManager(exec *pct.Executor, files FileChannel, maxFileSize int64, log zerolog.Logger) *Manager {
	return &Manager{exec: exec, files: files, maxFileSize: maxFileSize, log: log}
}

// cleanup removes a staging file best-effort. Its own failure never blocks
// the final report; a leaked path is logged instead.
func (m *Manager) cleanup(staging string) {
	if !m.files.RemoveRemoteFile(staging) {
		m.log.Warn().Str("path", staging).Msg("staging file may be left behind on host")
	}
}

func (m *Manager) sizeFault(size int64) *Fault {
	return &Fault{
		Reason:     fmt.Sprintf("file size (%d bytes) exceeds maximum allowed (%d bytes)", size, m.maxFileSize),
		Suggestion: "increase MAX_FILE_SIZE or choose a smaller file",
	}
}

func destinationExistsFault(path string) *Fault {
	return &Fault{
		Reason:     "file already exists: " + path,
		Suggestion: "set overwrite=true to replace the existing file or choose a different path",
	}
}

// DownloadFromContainer copies a file out of container vmid to the local
// filesystem: pct pull to a host staging path, size check, SFTP get,
// staging cleanup.
func (m *Manager) DownloadFromContainer(ctx context.Context, vmid int, containerPath, localPath string, overwrite bool) (Result, error) {
	if err := validate.Path("container_path", containerPath); err != nil {
		return Result{}, err
	}
	if err := validate.Path("local_path", localPath); err != nil {
		return Result{}, err
	}
	if !overwrite {
		if _, err := os.Stat(localPath); err == nil {
			return Result{}, destinationExistsFault(localPath)
		}
	}

	staging := StagingPath()
	res, err := m.exec.Pull(ctx, vmid, containerPath, staging)
	if err != nil {
		return Result{}, err
	}
	if res.ExitCode != 0 {
		// Staging creation itself failed; nothing to clean up.
		return Result{}, &Fault{
			Reason:     fmt.Sprintf("failed to pull file from container %d", vmid),
			Stderr:     res.Stderr,
			Suggestion: "check that the container exists, is running and the file path is correct",
		}
	}

	// Oversized files are caught on the host, before they reach local disk.
	size, sres, err := m.exec.HostFileSize(ctx, staging)
	if err != nil {
		m.cleanup(staging)
		return Result{}, err
	}
	if sres.ExitCode == 0 && size > m.maxFileSize {
		m.cleanup(staging)
		return Result{}, m.sizeFault(size)
	}

	if err := m.files.GetFile(staging, localPath); err != nil {
		m.cleanup(staging)
		return Result{}, err
	}
	m.cleanup(staging)

	var bytes int64
	if info, err := os.Stat(localPath); err == nil {
		bytes = info.Size()
	}
	m.log.Info().Int("vmid", vmid).Str("from", containerPath).Str("to", localPath).Int64("bytes", bytes).Msg("downloaded file from container")
	return Result{Bytes: bytes}, nil
}

// DownloadFromHost copies a host file directly to the local filesystem.
// No staging hop; existence and size are checked with a remote stat first.
func (m *Manager) DownloadFromHost(ctx context.Context, hostPath, localPath string, overwrite bool) (Result, error) {
	if err := validate.Path("host_path", hostPath); err != nil {
		return Result{}, err
	}
	if err := validate.Path("local_path", localPath); err != nil {
		return Result{}, err
	}
	if !overwrite {
		if _, err := os.Stat(localPath); err == nil {
			return Result{}, destinationExistsFault(localPath)
		}
	}

	size, sres, err := m.exec.HostFileSize(ctx, hostPath)
	if err != nil {
		return Result{}, err
	}
	if sres.ExitCode != 0 {
		return Result{}, &Fault{
			Reason:     "file not found on host: " + hostPath,
			Stderr:     sres.Stderr,
			Suggestion: "check that the host path is correct and the file exists",
		}
	}
	if size > m.maxFileSize {
		return Result{}, m.sizeFault(size)
	}

	if err := m.files.GetFile(hostPath, localPath); err != nil {
		return Result{}, err
	}

	var bytes int64
	if info, err := os.Stat(localPath); err == nil {
		bytes = info.Size()
	}
	m.log.Info().Str("from", hostPath).Str("to", localPath).Int64("bytes", bytes).Msg("downloaded file from host")
	return Result{Bytes: bytes}, nil
}

// UploadToContainer copies a local file into container vmid: SFTP put to a
// host staging path, pct push into the namespace, chmod, staging cleanup.
// A failed chmod is recorded but does not fail the transfer.
func (m *Manager) UploadToContainer(ctx context.Context, vmid int, localPath, containerPath, permissions string, overwrite bool) (Result, error) {
	if err := validate.Permissions(permissions); err != nil {
		return Result{}, err
	}
	if err := validate.Path("container_path", containerPath); err != nil {
		return Result{}, err
	}
	if err := validate.Path("local_path", localPath); err != nil {
		return Result{}, err
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return Result{}, &Fault{
			Reason:     "local file not found: " + localPath,
			Suggestion: "check that the local file path is correct and the file exists",
		}
	}
	if info.Size() > m.maxFileSize {
		return Result{}, m.sizeFault(info.Size())
	}

	if !overwrite {
		exists, err := m.exec.FileExistsInContainer(ctx, vmid, containerPath)
		if err != nil {
			return Result{}, err
		}
		if exists {
			return Result{}, destinationExistsFault(containerPath)
		}
	}

	staging := StagingPath()
	if err := m.files.PutFile(localPath, staging); err != nil {
		m.cleanup(staging)
		return Result{}, err
	}

	res, err := m.exec.Push(ctx, vmid, staging, containerPath)
	if err != nil {
		m.cleanup(staging)
		return Result{}, err
	}
	if res.ExitCode != 0 {
		m.cleanup(staging)
		return Result{}, &Fault{
			Reason:     fmt.Sprintf("failed to push file to container %d", vmid),
			Stderr:     res.Stderr,
			Suggestion: "check that the container exists, is running and the destination path is valid",
		}
	}

	var warning string
	cres, err := m.exec.ChmodInContainer(ctx, vmid, permissions, containerPath)
	if err != nil {
		m.cleanup(staging)
		return Result{}, err
	}
	if cres.ExitCode != 0 {
		warning = "file uploaded but permissions could not be applied"
		m.log.Warn().Int("vmid", vmid).Str("path", containerPath).Str("stderr", cres.Stderr).Msg("chmod in container failed")
	}

	m.cleanup(staging)
	m.log.Info().Int("vmid", vmid).Str("from", localPath).Str("to", containerPath).Int64("bytes", info.Size()).Msg("uploaded file to container")
	return Result{Bytes: info.Size(), PermissionWarning: warning}, nil
}

// UploadToHost copies a local file directly onto the host; the SFTP
// destination is the final location, so there is no copy-in hop to clean
// up. A failed chmod is recorded but does not fail the transfer.
func (m *Manager) UploadToHost(ctx context.Context, localPath, hostPath, permissions string, overwrite bool) (Result, error) {
	if err := validate.Permissions(permissions); err != nil {
		return Result{}, err
	}
	if err := validate.Path("host_path", hostPath); err != nil {
		return Result{}, err
	}
	if err := validate.Path("local_path", localPath); err != nil {
		return Result{}, err
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return Result{}, &Fault{
			Reason:     "local file not found: " + localPath,
			Suggestion: "check that the local file path is correct and the file exists",
		}
	}
	if info.Size() > m.maxFileSize {
		return Result{}, m.sizeFault(info.Size())
	}

	if !overwrite {
		exists, err := m.exec.FileExistsOnHost(ctx, hostPath)
		if err != nil {
			return Result{}, err
		}
		if exists {
			return Result{}, destinationExistsFault(hostPath)
		}
	}

	if err := m.files.PutFile(localPath, hostPath); err != nil {
		return Result{}, err
	}

	var warning string
	cres, err := m.exec.ChmodOnHost(ctx, permissions, hostPath)
	if err != nil {
		return Result{}, err
	}
	if cres.ExitCode != 0 {
		warning = "file uploaded but permissions could not be applied"
		m.log.Warn().Str("path", hostPath).Str("stderr", cres.Stderr).Msg("chmod on host failed")
	}

	m.log.Info().Str("from", localPath).Str("to", hostPath).Int64("bytes", info.Size()).Msg("uploaded file to host")
	return Result{Bytes: info.Size(), PermissionWarning: warning}, nil
}
