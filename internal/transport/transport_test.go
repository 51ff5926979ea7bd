package transport

import (
	"bytes"
	"context"
	"os/exec"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
)

func newScriptedSSH(t *testing.T, script string) *SSH {
	t.Helper()
	s := NewSSH(SSHConfig{Host: "devbox", Port: 8888}, zaptest.NewLogger(t))
	s.command = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", script)
	}
	return s
}

func TestSSHRunStreamsStdout(t *testing.T) {
	s := newScriptedSSH(t, "printf 'a.cc\\nb.h\\n'")
	var out bytes.Buffer
	result, err := s.Run(context.Background(), "find .", &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 0 || out.String() != "a.cc\nb.h\n" {
		t.Fatalf("unexpected result %#v with output %q", result, out.String())
	}
}

func TestSSHRunNonZeroExitIsCommandError(t *testing.T) {
	s := newScriptedSSH(t, "echo 'boom' >&2; exit 3")
	result, err := s.Run(context.Background(), "buck build", nil)
	if !IsCommandFailed(err) {
		t.Fatalf("expected command error, got %v", err)
	}
	if IsUnavailable(err) {
		t.Fatalf("command failure must not be reported as unavailable")
	}
	if result.ExitCode != 3 || !strings.Contains(string(result.Stderr), "boom") {
		t.Fatalf("unexpected result %#v", result)
	}
}

func TestSSHRunStatus255IsUnavailable(t *testing.T) {
	s := newScriptedSSH(t, "echo 'Connection refused' >&2; exit 255")
	_, err := s.Run(context.Background(), "true", nil)
	if !IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Connection refused") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestSSHRunMissingProgramIsUnavailable(t *testing.T) {
	s := NewSSH(SSHConfig{Program: "/nonexistent/ssh-binary", Host: "devbox"}, nil)
	_, err := s.Run(context.Background(), "true", nil)
	if !IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestSSHArgs(t *testing.T) {
	s := NewSSH(SSHConfig{Host: "devbox", Port: 8888, Options: []string{"-o", "ConnectTimeout=5"}}, nil)
	want := []string{"-o", "BatchMode=yes", "-p", "8888", "-o", "ConnectTimeout=5", "devbox"}
	if got := s.sshArgs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if got := s.remoteSpec("/src/a.cc"); got != "devbox:/src/a.cc" {
		t.Fatalf("unexpected remote spec %s", got)
	}
}

func TestExpandQuotesValues(t *testing.T) {
	got := Expand("grep -R -n {pattern} .", map[string]string{"pattern": "it's"})
	want := `grep -R -n 'it'\''s' .`
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if got := InDir("/src", "ls"); got != "cd '/src' && ls" {
		t.Fatalf("unexpected InDir output %s", got)
	}
}
