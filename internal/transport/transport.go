// Package transport runs commands on the remote host and copies files to and
// from it. The SSH implementation shells out to the configured ssh and scp
// programs; tests use Fake.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Transport is the process boundary between the local machine and the
// remote host.
type Transport interface {
	// Run executes commandLine through the remote shell, streaming stdout
	// into w as it arrives. A non-zero remote exit returns *CommandError
	// together with the Result; failure to reach the host returns
	// *UnavailableError.
	Run(ctx context.Context, commandLine string, w io.Writer) (*Result, error)
	CopyToRemote(ctx context.Context, localPath, remotePath string) error
	CopyFromRemote(ctx context.Context, remotePath, localPath string) error
}

type Result struct {
	ExitCode int
	Stderr   []byte
	Duration time.Duration
}

// UnavailableError reports that the remote host could not be reached or the
// transport program could not be started.
type UnavailableError struct {
	Host string
	Op   string
	Err  error
}

func (e *UnavailableError) Error() string {
	if e.Host == "" {
		return fmt.Sprintf("transport unavailable (%s): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport to %s unavailable (%s): %v", e.Host, e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// CommandError reports a remote command that ran and exited non-zero.
type CommandError struct {
	ExitCode int
	Stderr   []byte
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(string(e.Stderr))
	if msg == "" {
		return fmt.Sprintf("remote command failed with exit code %d", e.ExitCode)
	}
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return fmt.Sprintf("remote command failed with exit code %d: %s", e.ExitCode, msg)
}

func IsUnavailable(err error) bool {
	var target *UnavailableError
	return errors.As(err, &target)
}

func IsCommandFailed(err error) bool {
	var target *CommandError
	return errors.As(err, &target)
}
