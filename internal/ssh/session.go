// Package ssh maintains the single authenticated channel to the Proxmox
// host: command execution over SSH and file transfers over a lazily created
// SFTP sub-channel.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	xssh "golang.org/x/crypto/ssh"
)

// Credentials describe how to reach and authenticate against the host.
// Signer takes precedence over Password when both are set.
type Credentials struct {
	Addr        string // host:port
	User        string
	Password    string
	Signer      xssh.Signer
	KnownHosts  xssh.HostKeyCallback // nil accepts any host key
	DialTimeout time.Duration
}

// ExecResult carries the captured output of one remote command. Both
// streams are decoded as UTF-8 with replacement of invalid sequences.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Session owns the SSH connection and its SFTP sub-channel. One Session is
// shared per process; command execution multiplexes over SSH sub-channels,
// but the single SFTP handle is not safe for concurrent use and callers
// must serialize transfers.
type Session struct {
	creds  Credentials
	log    zerolog.Logger
	client *xssh.Client
	sftp   *sftp.Client
}

func NewSession(creds Credentials, log zerolog.Logger) *Session {
	return &Session{creds: creds, log: log}
}

func (s *Session) makeConfig() *xssh.ClientConfig {
	var auth []xssh.AuthMethod
	if s.creds.Signer != nil {
		auth = append(auth, xssh.PublicKeys(s.creds.Signer))
	} else {
		auth = append(auth, xssh.Password(s.creds.Password))
	}
	hostKey := s.creds.KnownHosts
	if hostKey == nil {
		hostKey = xssh.InsecureIgnoreHostKey()
	}
	timeout := s.creds.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &xssh.ClientConfig{
		User:            s.creds.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}
}

// Connect establishes the authenticated channel. Calling Connect on an
// already connected session is a no-op. On failure no partial state is
// kept.
func (s *Session) Connect() error {
	if s.client != nil {
		return nil
	}
	cli, err := xssh.Dial("tcp", s.creds.Addr, s.makeConfig())
	if err != nil {
		return &ConnectionError{Addr: s.creds.Addr, Err: err}
	}
	s.client = cli
	s.log.Info().Str("addr", s.creds.Addr).Str("user", s.creds.User).Msg("connected to host")
	return nil
}

// Connected reports whether the channel is established.
func (s *Session) Connected() bool { return s.client != nil }

// Disconnect releases the SFTP sub-channel first, then the connection.
// Safe to call when not connected.
func (s *Session) Disconnect() {
	if s.sftp != nil {
		_ = s.sftp.Close()
		s.sftp = nil
	}
	if s.client != nil {
		_ = s.client.Close()
		s.client = nil
		s.log.Info().Str("addr", s.creds.Addr).Msg("disconnected from host")
	}
}

// Execute runs one command line on the host and captures its output. A
// nonzero exit status is not an error; it is reported in the result. The
// command is abandoned locally when timeout expires, which surfaces as an
// ExecutionError.
func (s *Session) Execute(ctx context.Context, command string, timeout time.Duration) (ExecResult, error) {
	if s.client == nil {
		return ExecResult{}, &NotConnectedError{Op: "execute"}
	}
	sess, err := s.client.NewSession()
	if err != nil {
		return ExecResult{}, &ExecutionError{Err: fmt.Errorf("new session: %w", err)}
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	select {
	case <-ctx.Done():
		// Tears down the remote channel; the command keeps running on the
		// host until it finishes on its own.
		_ = sess.Close()
		return ExecResult{}, &ExecutionError{Err: ctx.Err()}
	case err = <-done:
	}

	res := ExecResult{
		Stdout: strings.ToValidUTF8(stdout.String(), "�"),
		Stderr: strings.ToValidUTF8(stderr.String(), "�"),
	}
	if err != nil {
		var exitErr *xssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		return ExecResult{}, &ExecutionError{Err: err}
	}
	return res, nil
}

// fileChannel returns the SFTP sub-channel, creating it on first use. The
// sub-channel is never created before the connection exists.
func (s *Session) fileChannel() (*sftp.Client, error) {
	if s.client == nil {
		return nil, &NotConnectedError{Op: "file transfer"}
	}
	if s.sftp == nil {
		sf, err := sftp.NewClient(s.client)
		if err != nil {
			return nil, &TransferError{Op: "open file channel to", Path: s.creds.Addr, Err: err}
		}
		s.sftp = sf
	}
	return s.sftp, nil
}

// GetFile copies a remote file to the local filesystem byte for byte.
func (s *Session) GetFile(remotePath, localPath string) error {
	sf, err := s.fileChannel()
	if err != nil {
		return err
	}
	src, err := sf.Open(remotePath)
	if err != nil {
		return &TransferError{Op: "download", Path: remotePath, Err: err}
	}
	defer src.Close()
	if dir := filepath.Dir(localPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return &TransferError{Op: "download", Path: remotePath, Err: fmt.Errorf("mkdir local: %w", err)}
		}
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return &TransferError{Op: "download", Path: remotePath, Err: fmt.Errorf("create local: %w", err)}
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return &TransferError{Op: "download", Path: remotePath, Err: err}
	}
	return nil
}

// PutFile copies a local file to the remote filesystem byte for byte.
func (s *Session) PutFile(localPath, remotePath string) error {
	sf, err := s.fileChannel()
	if err != nil {
		return err
	}
	src, err := os.Open(localPath)
	if err != nil {
		return &TransferError{Op: "upload", Path: remotePath, Err: fmt.Errorf("open local: %w", err)}
	}
	defer src.Close()
	dst, err := sf.Create(remotePath)
	if err != nil {
		return &TransferError{Op: "upload", Path: remotePath, Err: err}
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return &TransferError{Op: "upload", Path: remotePath, Err: err}
	}
	return nil
}

// RemoveRemoteFile deletes a remote file on a best-effort basis. It exists
// purely for staging cleanup and never fails loudly; the return value may
// be ignored by callers.
func (s *Session) RemoveRemoteFile(remotePath string) bool {
	sf, err := s.fileChannel()
	if err != nil {
		return false
	}
	if err := sf.Remove(remotePath); err != nil {
		s.log.Debug().Str("path", remotePath).Err(err).Msg("remote cleanup failed")
		return false
	}
	return true
}
