package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3cpo-dev/pvemcp/internal/pct"
	"github.com/3cpo-dev/pvemcp/internal/ssh"
	"github.com/3cpo-dev/pvemcp/internal/validate"
)

// fakeHost emulates the Proxmox host: pct commands against in-memory
// container namespaces and an SFTP channel against an in-memory host
// filesystem. Every remote touch is counted.
type fakeHost struct {
	hostFiles      map[string][]byte
	containerFiles map[string][]byte // "vmid:path"
	execCalls      []string
	fileCalls      int
	failGet        bool
	failChmod      bool
	failRemove     bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		hostFiles:      map[string][]byte{},
		containerFiles: map[string][]byte{},
	}
}

func unquote(s string) string { return strings.Trim(s, "'") }

func (f *fakeHost) Execute(ctx context.Context, command string, timeout time.Duration) (ssh.ExecResult, error) {
	f.execCalls = append(f.execCalls, command)
	fields := strings.Fields(command)
	switch {
	case strings.HasPrefix(command, "pct pull "):
		vmid := fields[2]
		src, dst := unquote(fields[3]), unquote(fields[4])
		content, ok := f.containerFiles[vmid+":"+src]
		if !ok {
			return ssh.ExecResult{ExitCode: 1, Stderr: "file does not exist"}, nil
		}
		f.hostFiles[dst] = content
		return ssh.ExecResult{}, nil
	case strings.HasPrefix(command, "pct push "):
		vmid := fields[2]
		src, dst := unquote(fields[3]), unquote(fields[4])
		content, ok := f.hostFiles[src]
		if !ok {
			return ssh.ExecResult{ExitCode: 1, Stderr: "no such staging file"}, nil
		}
		f.containerFiles[vmid+":"+dst] = content
		return ssh.ExecResult{}, nil
	case strings.HasPrefix(command, "stat -c%s "):
		content, ok := f.hostFiles[unquote(fields[2])]
		if !ok {
			return ssh.ExecResult{ExitCode: 1, Stderr: "stat: cannot stat"}, nil
		}
		return ssh.ExecResult{Stdout: strconv.Itoa(len(content)) + "\n"}, nil
	case strings.HasPrefix(command, "test -f "):
		if _, ok := f.hostFiles[unquote(fields[2])]; ok {
			return ssh.ExecResult{}, nil
		}
		return ssh.ExecResult{ExitCode: 1}, nil
	case strings.Contains(command, "-- test -f "):
		vmid := fields[2]
		if _, ok := f.containerFiles[vmid+":"+unquote(fields[6])]; ok {
			return ssh.ExecResult{}, nil
		}
		return ssh.ExecResult{ExitCode: 1}, nil
	case strings.Contains(command, "chmod"):
		if f.failChmod {
			return ssh.ExecResult{ExitCode: 1, Stderr: "chmod: operation not permitted"}, nil
		}
		return ssh.ExecResult{}, nil
	}
	return ssh.ExecResult{ExitCode: 127, Stderr: "unhandled: " + command}, nil
}

func (f *fakeHost) GetFile(remotePath, localPath string) error {
	f.fileCalls++
	if f.failGet {
		return &ssh.TransferError{Op: "download", Path: remotePath, Err: errors.New("channel reset")}
	}
	content, ok := f.hostFiles[remotePath]
	if !ok {
		return &ssh.TransferError{Op: "download", Path: remotePath, Err: os.ErrNotExist}
	}
	return os.WriteFile(localPath, content, 0600)
}

func (f *fakeHost) PutFile(localPath, remotePath string) error {
	f.fileCalls++
	content, err := os.ReadFile(localPath)
	if err != nil {
		return &ssh.TransferError{Op: "upload", Path: remotePath, Err: err}
	}
	f.hostFiles[remotePath] = content
	return nil
}

func (f *fakeHost) RemoveRemoteFile(remotePath string) bool {
	if f.failRemove {
		return false
	}
	delete(f.hostFiles, remotePath)
	return true
}

func (f *fakeHost) stagingLeftovers() []string {
	var paths []string
	for p := range f.hostFiles {
		if strings.HasPrefix(p, "/tmp/pvemcp-") {
			paths = append(paths, p)
		}
	}
	return paths
}

func newManager(f *fakeHost, maxSize int64) *Manager {
	exec := pct.NewExecutor(f, zerolog.Nop())
	return NewManager(exec, f, maxSize, zerolog.Nop())
}

func TestStagingPathUnique(t *testing.T) {
	a, b := StagingPath(), StagingPath()
	assert.True(t, strings.HasPrefix(a, "/tmp/pvemcp-"))
	assert.NotEqual(t, a, b)
}

func TestRoundTrip(t *testing.T) {
	f := newFakeHost()
	m := newManager(f, 1<<20)
	dir := t.TempDir()
	ctx := context.Background()

	src := filepath.Join(dir, "app.conf")
	payload := []byte("listen 8080;\nworker_processes 4;\n")
	require.NoError(t, os.WriteFile(src, payload, 0600))

	up, err := m.UploadToContainer(ctx, 100, src, "/etc/app/app.conf", "644", false)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), up.Bytes)
	assert.Empty(t, up.PermissionWarning)
	assert.Empty(t, f.stagingLeftovers(), "staging file must not outlive the upload")

	dst := filepath.Join(dir, "roundtrip.conf")
	down, err := m.DownloadFromContainer(ctx, 100, "/etc/app/app.conf", dst, false)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), down.Bytes)
	assert.Empty(t, f.stagingLeftovers(), "staging file must not outlive the download")

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, payload, got, "round-trip must be byte-identical")
}

func TestDownloadExistingDestinationTouchesNothingRemote(t *testing.T) {
	f := newFakeHost()
	m := newManager(f, 1<<20)
	dst := filepath.Join(t.TempDir(), "exists.txt")
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0600))

	_, err := m.DownloadFromContainer(context.Background(), 100, "/etc/hosts", dst, false)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Contains(t, fault.Suggestion, "overwrite=true")
	assert.Empty(t, f.execCalls, "no remote command before the local precheck passes")
	assert.Zero(t, f.fileCalls)
}

func TestDownloadOverwriteReplacesDestination(t *testing.T) {
	f := newFakeHost()
	f.containerFiles["100:/etc/hosts"] = []byte("127.0.0.1 localhost\n")
	m := newManager(f, 1<<20)
	dst := filepath.Join(t.TempDir(), "hosts")
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0600))

	_, err := m.DownloadFromContainer(context.Background(), 100, "/etc/hosts", dst, true)
	require.NoError(t, err)
	got, _ := os.ReadFile(dst)
	assert.Equal(t, "127.0.0.1 localhost\n", string(got))
}

func TestDownloadPullFailure(t *testing.T) {
	f := newFakeHost()
	m := newManager(f, 1<<20)

	_, err := m.DownloadFromContainer(context.Background(), 100, "/missing", filepath.Join(t.TempDir(), "x"), false)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Contains(t, fault.Reason, "pull file from container 100")
	assert.Contains(t, fault.Stderr, "does not exist")
	assert.Empty(t, f.stagingLeftovers())
}

func TestDownloadOversizedCaughtOnHost(t *testing.T) {
	f := newFakeHost()
	f.containerFiles["100:/var/log/big.log"] = []byte(strings.Repeat("x", 2048))
	m := newManager(f, 1024)
	dst := filepath.Join(t.TempDir(), "big.log")

	_, err := m.DownloadFromContainer(context.Background(), 100, "/var/log/big.log", dst, false)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Contains(t, fault.Reason, "exceeds maximum allowed")
	assert.Empty(t, f.stagingLeftovers(), "oversized staging file must be removed")
	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr), "oversized file must never reach local disk")
}

func TestDownloadChannelFaultCleansStaging(t *testing.T) {
	f := newFakeHost()
	f.containerFiles["100:/etc/hosts"] = []byte("data")
	f.failGet = true
	m := newManager(f, 1<<20)

	_, err := m.DownloadFromContainer(context.Background(), 100, "/etc/hosts", filepath.Join(t.TempDir(), "x"), false)
	var terr *ssh.TransferError
	require.ErrorAs(t, err, &terr)
	assert.Empty(t, f.stagingLeftovers(), "staging must be cleaned before the fault surfaces")
}

func TestUploadOversizedFailsBeforeStaging(t *testing.T) {
	f := newFakeHost()
	m := newManager(f, 16)
	src := filepath.Join(t.TempDir(), "big.bin")
	require.NoError(t, os.WriteFile(src, []byte(strings.Repeat("x", 64)), 0600))

	_, err := m.UploadToContainer(context.Background(), 100, src, "/opt/big.bin", "644", false)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Contains(t, fault.Reason, "exceeds maximum allowed")
	assert.Zero(t, f.fileCalls, "no staging copy may be attempted")
	assert.Empty(t, f.execCalls)
}

func TestUploadMissingLocalFile(t *testing.T) {
	f := newFakeHost()
	m := newManager(f, 1<<20)

	_, err := m.UploadToContainer(context.Background(), 100, filepath.Join(t.TempDir(), "nope"), "/opt/x", "644", false)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Contains(t, fault.Reason, "local file not found")
	assert.Empty(t, f.execCalls)
}

func TestUploadDestinationExists(t *testing.T) {
	f := newFakeHost()
	f.containerFiles["100:/etc/app.conf"] = []byte("present")
	m := newManager(f, 1<<20)
	src := filepath.Join(t.TempDir(), "app.conf")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0600))

	_, err := m.UploadToContainer(context.Background(), 100, src, "/etc/app.conf", "644", false)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Contains(t, fault.Reason, "already exists")
	assert.Zero(t, f.fileCalls, "existence probe must happen before any staging copy")
}

func TestUploadChmodFailureIsNonFatal(t *testing.T) {
	f := newFakeHost()
	f.failChmod = true
	m := newManager(f, 1<<20)
	src := filepath.Join(t.TempDir(), "script.sh")
	require.NoError(t, os.WriteFile(src, []byte("#!/bin/sh\n"), 0600))

	res, err := m.UploadToContainer(context.Background(), 100, src, "/root/script.sh", "755", false)
	require.NoError(t, err, "chmod failure must not flip the result to failure")
	assert.NotEmpty(t, res.PermissionWarning)
	assert.Empty(t, f.stagingLeftovers())
}

func TestUploadToHostDirect(t *testing.T) {
	f := newFakeHost()
	m := newManager(f, 1<<20)
	src := filepath.Join(t.TempDir(), "backup.sh")
	require.NoError(t, os.WriteFile(src, []byte("#!/bin/sh\necho ok\n"), 0600))

	res, err := m.UploadToHost(context.Background(), src, "/root/backup.sh", "755", false)
	require.NoError(t, err)
	assert.Equal(t, []byte("#!/bin/sh\necho ok\n"), f.hostFiles["/root/backup.sh"])
	assert.Empty(t, res.PermissionWarning)
	assert.Empty(t, f.stagingLeftovers(), "host uploads use no staging hop")
}

func TestDownloadFromHostNotFound(t *testing.T) {
	f := newFakeHost()
	m := newManager(f, 1<<20)

	_, err := m.DownloadFromHost(context.Background(), "/etc/pve/missing.cfg", filepath.Join(t.TempDir(), "x"), false)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Contains(t, fault.Reason, "not found on host")
	assert.Zero(t, f.fileCalls)
}

func TestDownloadFromHost(t *testing.T) {
	f := newFakeHost()
	f.hostFiles["/etc/pve/storage.cfg"] = []byte("dir: local\n")
	m := newManager(f, 1<<20)
	dst := filepath.Join(t.TempDir(), "storage.cfg")

	res, err := m.DownloadFromHost(context.Background(), "/etc/pve/storage.cfg", dst, false)
	require.NoError(t, err)
	assert.Equal(t, int64(11), res.Bytes)
}

func TestValidationRejectsBeforeRemoteAction(t *testing.T) {
	f := newFakeHost()
	m := newManager(f, 1<<20)
	ctx := context.Background()

	cases := []error{}
	_, err := m.DownloadFromContainer(ctx, 100, "../etc/passwd", "./x", false)
	cases = append(cases, err)
	_, err = m.DownloadFromContainer(ctx, 100, "", "./x", false)
	cases = append(cases, err)
	_, err = m.UploadToContainer(ctx, 100, "./x", fmt.Sprintf("/%s", strings.Repeat("a", 5000)), "644", false)
	cases = append(cases, err)
	_, err = m.UploadToContainer(ctx, 100, "./x", "/etc/x", "abc", false)
	cases = append(cases, err)

	for i, err := range cases {
		var verr *validate.ValidationError
		require.ErrorAs(t, err, &verr, "case %d", i)
	}
	assert.Empty(t, f.execCalls)
	assert.Zero(t, f.fileCalls)
}
