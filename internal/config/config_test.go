package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
root: /home/dev/proj
ssh:
  host: devbox
  port: 2222
job_timeout: 90s
duplicate_policy: Reject
include_roots:
  - /home/dev/proj/include
single_surface:
  grep: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SSH.Host != "devbox" || cfg.SSH.Port != 2222 {
		t.Fatalf("unexpected ssh settings %#v", cfg.SSH)
	}
	if cfg.SSH.Program != "ssh" {
		t.Fatalf("expected default ssh program, got %q", cfg.SSH.Program)
	}
	if cfg.JobTimeout.Std() != 90*time.Second {
		t.Fatalf("expected 90s timeout, got %s", cfg.JobTimeout.Std())
	}
	if cfg.DuplicatePolicy != "reject" {
		t.Fatalf("expected normalized policy, got %q", cfg.DuplicatePolicy)
	}
	if !cfg.SingleSurface.Grep || !cfg.SingleSurface.Build {
		t.Fatalf("expected grep enabled and build kept from defaults, got %#v", cfg.SingleSurface)
	}
	if cfg.Commands.Grep != "grep -R -n {pattern} ." {
		t.Fatalf("expected default grep command, got %q", cfg.Commands.Grep)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
root = "/srv/code"
workers = 8

[state]
compression = "lz4"
checkpoint_interval = "5s"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Root != "/srv/code" || cfg.Workers != 8 {
		t.Fatalf("unexpected config %#v", cfg)
	}
	if cfg.State.Compression != "lz4" || cfg.State.CheckpointInterval.Std() != 5*time.Second {
		t.Fatalf("unexpected state settings %#v", cfg.State)
	}
}

func TestLoadJSONWithComments(t *testing.T) {
	path := writeConfig(t, "RemoteCpp.sublime-settings", `{
  // project on the build box
  "root": "/work/app",
  "working_dir": "file",
  "toggle": {
    "header_extensions": ["h", "hxx"],
    "source_extensions": ["cc"], // trailing comma below
  },
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Root != "/work/app" || cfg.WorkingDir != WorkingDirFile {
		t.Fatalf("unexpected config %#v", cfg)
	}
	if strings.Join(cfg.Toggle.HeaderExtensions, ",") != "h,hxx" {
		t.Fatalf("unexpected header extensions %v", cfg.Toggle.HeaderExtensions)
	}
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	path := writeConfig(t, "config.ini", "root=/x")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unsupported config format") {
		t.Fatalf("expected unsupported format error, got %v", err)
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Root = "relative/path"
	cfg.Workers = 0
	cfg.DuplicatePolicy = "queue"
	cfg.State.Compression = "gzip"

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"absolute remote path", "workers", "duplicate_policy", "state.compression"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestLocatePrefersExplicitThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvConfigDir, dir)
	t.Setenv(EnvConfigFile, "")

	got, err := Locate("")
	if err != nil || got != "" {
		t.Fatalf("expected no config file, got %q %v", got, err)
	}

	tomlPath := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(tomlPath, []byte(`root = "/p"`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got, _ := Locate(""); got != tomlPath {
		t.Fatalf("expected %s, got %s", tomlPath, got)
	}

	t.Setenv(EnvConfigFile, "/etc/remotecpp.yaml")
	if got, _ := Locate(""); got != "/etc/remotecpp.yaml" {
		t.Fatalf("expected env override, got %s", got)
	}
	if got, _ := Locate("/tmp/x.toml"); got != "/tmp/x.toml" {
		t.Fatalf("expected explicit path, got %s", got)
	}
}

func TestWriteDefaultRoundTripsAndKeepsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	written, err := WriteDefault(path)
	if err != nil || !written {
		t.Fatalf("expected default config to be written, got %v %v", written, err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load written config: %v", err)
	}
	if cfg.SSH.Port != 8888 || cfg.FlushInterval.Std() != time.Second {
		t.Fatalf("unexpected round-tripped config %#v", cfg)
	}

	written, err = WriteDefault(path)
	if err != nil || written {
		t.Fatalf("expected existing config to be kept, got %v %v", written, err)
	}
}

func TestStatePathUsesConfigDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvConfigDir, dir)
	cfg := Default()
	got, err := cfg.StatePath()
	if err != nil || got != filepath.Join(dir, "state.bin") {
		t.Fatalf("unexpected state path %q %v", got, err)
	}
}
