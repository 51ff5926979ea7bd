package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/remotecpp-dev/remotecpp/internal/config"
	"github.com/remotecpp-dev/remotecpp/internal/transport"
	"go.uber.org/zap"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand("test")
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(config.EnvConfigDir, dir)
	path := filepath.Join(dir, "config.yaml")
	content := `root: /proj
ssh:
  host: devbox
flush_interval: 10ms
commands:
  list: find . -type f
  build: buck build
state:
  path: ` + filepath.Join(dir, "state.bin") + `
  checkpoint_interval: 0s
cache_dir: ` + filepath.Join(dir, "cache") + `
log:
  level: error
`
	mustWriteFile(t, path, content)
	return path
}

func useFakeTransport(t *testing.T, handler transport.FakeHandler) *transport.Fake {
	t.Helper()
	fake := transport.NewFake(handler)
	previous := newTransport
	newTransport = func(config.Config, *zap.Logger) transport.Transport { return fake }
	t.Cleanup(func() { newTransport = previous })
	return fake
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create dir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func failingRemote(ctx context.Context, commandLine string, w io.Writer) (*transport.Result, error) {
	return nil, &transport.UnavailableError{Host: "devbox", Op: "run", Err: io.ErrClosedPipe}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil || out != "remotecpp test\n" {
		t.Fatalf("unexpected version output %q (%v)", out, err)
	}
}

func TestConfigInitKeepsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remotecpp", "config.toml")
	out, err := runCLI(t, "config", "init", path)
	if err != nil || !strings.HasPrefix(out, "wrote "+path) {
		t.Fatalf("unexpected first init output %q (%v)", out, err)
	}
	out, err = runCLI(t, "config", "init", path)
	if err != nil || !strings.HasPrefix(out, "kept existing "+path) {
		t.Fatalf("unexpected second init output %q (%v)", out, err)
	}
	if _, err := config.Load(path); err != nil {
		t.Fatalf("expected generated config to load: %v", err)
	}
}

func TestConfigShowAppliesFlagOverrides(t *testing.T) {
	path := writeTestConfig(t)
	out, err := runCLI(t, "config", "show", "--config", path, "--root", "/other", "--json")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(out), &cfg); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if cfg.Root != "/other" || cfg.SSH.Host != "devbox" || cfg.Commands.List != "find . -type f" {
		t.Fatalf("unexpected effective config %+v", cfg)
	}
}

func TestListPrintsSortedFilesAndPersistsIndex(t *testing.T) {
	path := writeTestConfig(t)
	useFakeTransport(t, transport.Respond("./src/foo.h\n./BUCK\n./src/foo.cc\n", 0))

	out, err := runCLI(t, "ls", "--config", path)
	if err != nil {
		t.Fatalf("ls failed: %v", err)
	}
	if out != "BUCK\nsrc/foo.cc\nsrc/foo.h\n" {
		t.Fatalf("unexpected listing %q", out)
	}

	// A fresh process answers from the persisted index without the remote.
	fake := useFakeTransport(t, failingRemote)
	out, err = runCLI(t, "toggle", "src/foo.cc", "--config", path)
	if err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if out != "/proj/src/foo.h\n" {
		t.Fatalf("unexpected toggle output %q", out)
	}
	if calls := fake.Calls(); len(calls) != 0 {
		t.Fatalf("expected no remote calls, got %v", calls)
	}

	out, err = runCLI(t, "state", "show", "--config", path, "--json")
	if err != nil {
		t.Fatalf("state show failed: %v", err)
	}
	var summary StateSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode state summary: %v", err)
	}
	if !summary.Exists || summary.Directories != 2 || summary.Host != "devbox" || summary.Problem != "" {
		t.Fatalf("unexpected state summary %+v", summary)
	}

	if _, err := runCLI(t, "state", "clear", "--config", path); err != nil {
		t.Fatalf("state clear failed: %v", err)
	}
	if _, err := os.Stat(summary.Path); !os.IsNotExist(err) {
		t.Fatalf("expected state file to be removed, got %v", err)
	}
}

func TestBuildFailureReportsDiagnostics(t *testing.T) {
	path := writeTestConfig(t)
	useFakeTransport(t, transport.Respond("src/foo.cc:10:5: error: boom\n", 1))

	out, err := runCLI(t, "build", "//app:main", "--config", path, "--json")
	if err == nil {
		t.Fatalf("expected failed build to return an error")
	}
	var summary JobSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if summary.Status != "failed" || summary.ExitCode != 1 || summary.Kind != "build" {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(summary.Entries) != 1 || summary.Entries[0].File != "/proj/src/foo.cc" || summary.Entries[0].Line != 10 {
		t.Fatalf("unexpected entries %+v", summary.Entries)
	}
}

func TestToggleWithoutMatchFails(t *testing.T) {
	path := writeTestConfig(t)
	useFakeTransport(t, transport.Respond("./src/lonely.cc\n", 0))

	_, err := runCLI(t, "toggle", "src/lonely.cc", "--config", path)
	if err == nil || !strings.Contains(err.Error(), "no match") {
		t.Fatalf("expected no match error, got %v", err)
	}
}

func TestSummarizePaths(t *testing.T) {
	if got := SummarizePaths([]string{"a", "b", "c"}, 2); got != "a, b ... (+1 more)" {
		t.Fatalf("unexpected summary %q", got)
	}
}
