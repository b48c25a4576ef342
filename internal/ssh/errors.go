package ssh

import "fmt"

// ConnectionError indicates the authenticated channel to the host could not
// be established. Fatal to the whole session; surfaced once at startup.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NotConnectedError is a sequencing error: an operation was attempted
// before Connect.
type NotConnectedError struct {
	Op string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("%s: session not connected, call Connect first", e.Op)
}

// ExecutionError indicates a remote command could not be run or the channel
// faulted mid-run. Timeout expiry surfaces here too; the channel has no
// distinct timeout signal.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute command: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// TransferError indicates the file copy primitive failed.
type TransferError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }
