package session

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/remotecpp-dev/remotecpp/internal/config"
	"github.com/remotecpp-dev/remotecpp/internal/resolve"
	"github.com/remotecpp-dev/remotecpp/internal/rpath"
	"github.com/remotecpp-dev/remotecpp/internal/scheduler"
	"github.com/remotecpp-dev/remotecpp/internal/surface"
	"github.com/remotecpp-dev/remotecpp/internal/transport"
	"go.uber.org/zap/zaptest"
)

type recordingHost struct {
	mu        sync.Mutex
	outputs   map[surface.ID]string
	terminals []surface.Terminal
}

func newRecordingHost() *recordingHost {
	return &recordingHost{outputs: make(map[surface.ID]string)}
}

func (h *recordingHost) OnSurfaceReset(r surface.Reset) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outputs[r.Surface] = ""
}

func (h *recordingHost) OnOutputChunk(o surface.Output) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outputs[o.Surface] += o.Text
}

func (h *recordingHost) OnNavigationEntries(surface.Navigation) {}

func (h *recordingHost) OnJobTerminal(t surface.Terminal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminals = append(h.terminals, t)
}

func (h *recordingHost) text(id surface.ID) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outputs[id]
}

// fakeRemote emulates the handful of shell commands a session issues.
type fakeRemote struct {
	mu        sync.Mutex
	files     map[string]bool
	grepGate  chan struct{}
	transport *transport.Fake
}

func newFakeRemote(files ...string) *fakeRemote {
	r := &fakeRemote{files: make(map[string]bool)}
	for _, f := range files {
		r.files[f] = true
	}
	r.transport = transport.NewFake(r.handle)
	return r
}

func unquote(s string) string {
	return strings.Trim(s, "'")
}

func (r *fakeRemote) handle(ctx context.Context, commandLine string, w io.Writer) (*transport.Result, error) {
	dir, command, ok := strings.Cut(strings.TrimPrefix(commandLine, "cd "), " && ")
	if !ok {
		return &transport.Result{ExitCode: 127}, &transport.CommandError{ExitCode: 127}
	}
	dir = unquote(dir)
	fields := strings.Fields(command)

	r.mu.Lock()
	defer r.mu.Unlock()
	switch fields[0] {
	case "find":
		var lines []string
		for f := range r.files {
			if rel, ok := rpath.Rel(dir, f); ok && rel != "." {
				lines = append(lines, "./"+rel)
			}
		}
		sort.Strings(lines)
		for _, line := range lines {
			io.WriteString(w, line+"\n")
		}
		return &transport.Result{}, nil
	case "grep":
		gate := r.grepGate
		r.mu.Unlock()
		if gate != nil {
			<-gate
		}
		if rel, ok := rpath.Rel(dir, "/proj/src/foo.cc"); ok {
			io.WriteString(w, rel+":3:int foo();\n")
		}
		io.WriteString(w, "Binary file build/foo.o matches\n")
		r.mu.Lock()
		return &transport.Result{}, nil
	case "buck":
		io.WriteString(w, "src/foo.cc:10:5: error: boom\n")
		return &transport.Result{ExitCode: 1}, &transport.CommandError{ExitCode: 1}
	case "touch":
		path := unquote(fields[1])
		r.files[path] = true
		r.transport.SetRemoteFile(path, nil)
		return &transport.Result{}, nil
	case "rm":
		delete(r.files, unquote(fields[2]))
		return &transport.Result{}, nil
	case "mv":
		delete(r.files, unquote(fields[1]))
		r.files[unquote(fields[2])] = true
		return &transport.Result{}, nil
	}
	return &transport.Result{ExitCode: 127}, &transport.CommandError{ExitCode: 127}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Root = "/proj"
	cfg.IncludeRoots = []string{"/proj/include"}
	cfg.FlushInterval = config.Duration(time.Hour)
	cfg.State.CheckpointInterval = 0
	cfg.Commands.List = "find . -type f"
	cfg.Commands.NewFile = "touch {path}"
	cfg.Commands.Remove = "rm -f {path}"
	cfg.Commands.Move = "mv {src} {dst}"
	return cfg
}

type fixture struct {
	session *Session
	remote  *fakeRemote
	host    *recordingHost
}

func newFixture(t *testing.T, cfg config.Config, statePath string) *fixture {
	t.Helper()
	remote := newFakeRemote(
		"/proj/BUCK",
		"/proj/src/foo.cc",
		"/proj/src/foo.h",
		"/proj/include/foo/bar.h",
	)
	remote.transport.SetRemoteFile("/proj/src/foo.cc", []byte("#include \"foo.h\"\n#include <foo/bar.h>\nint foo() { return 1; }\n"))
	host := newRecordingHost()
	s, err := New(Options{
		Config:    cfg,
		Transport: remote.transport,
		Host:      host,
		StatePath: statePath,
		MirrorDir: t.TempDir(),
		Logger:    zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return &fixture{session: s, remote: remote, host: host}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func waitAndSync(t *testing.T, s *Session, job *Job) error {
	t.Helper()
	ctx := testContext(t)
	_, err := job.Wait(ctx)
	if syncErr := s.Sync(ctx); syncErr != nil {
		t.Fatalf("sync: %v", syncErr)
	}
	return err
}

func countCalls(calls []string, word string) int {
	n := 0
	for _, call := range calls {
		if strings.Contains(call, word) {
			n++
		}
	}
	return n
}

func TestListShowsSortedListingAndFeedsIndex(t *testing.T) {
	f := newFixture(t, testConfig(), "")
	job, err := f.session.List(ListRequest{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := waitAndSync(t, f.session, job); err != nil {
		t.Fatalf("list failed: %v", err)
	}

	want := "BUCK\ninclude/foo/bar.h\nsrc/foo.cc\nsrc/foo.h\n"
	if got := f.host.text(job.Surface); got != want {
		t.Fatalf("expected listing %q, got %q", want, got)
	}
	loc, err := f.session.Activate(testContext(t), job.Surface, 3)
	if err != nil || loc.Remote != "/proj/src/foo.cc" || loc.Local == "" {
		t.Fatalf("expected line 3 to open src/foo.cc, got %#v %v", loc, err)
	}
	if stats := f.session.Stats(); stats.Index.Entries == 0 {
		t.Fatalf("expected index entries after listing")
	}

	filtered, err := f.session.List(ListRequest{Prefix: "src/"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := waitAndSync(t, f.session, filtered); err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if filtered.Surface != job.Surface {
		t.Fatalf("expected the single list surface to be reused")
	}
	if got := f.host.text(filtered.Surface); got != "src/foo.cc\nsrc/foo.h\n" {
		t.Fatalf("expected filtered listing, got %q", got)
	}
}

func TestToggleListsWhenIndexIsEmpty(t *testing.T) {
	f := newFixture(t, testConfig(), "")
	ctx := testContext(t)

	res, err := f.session.Toggle(ctx, "src/foo.cc")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if res.Kind != resolve.Unique || res.Path != "/proj/src/foo.h" {
		t.Fatalf("expected /proj/src/foo.h, got %#v", res)
	}
	back, err := f.session.Toggle(ctx, res.Path)
	if err != nil || back.Path != "/proj/src/foo.cc" {
		t.Fatalf("expected toggle back to foo.cc, got %#v %v", back, err)
	}
	if n := countCalls(f.remote.transport.Calls(), "find"); n != 1 {
		t.Fatalf("expected exactly one listing, got %d", n)
	}
}

func TestGotoIncludeUsesDirectiveOnLine(t *testing.T) {
	f := newFixture(t, testConfig(), "")
	ctx := testContext(t)

	res, err := f.session.GotoInclude(ctx, "/proj/src/foo.cc", 1)
	if err != nil || res.Path != "/proj/src/foo.h" {
		t.Fatalf("expected quoted include to resolve next to the file, got %#v %v", res, err)
	}
	res, err = f.session.GotoInclude(ctx, "/proj/src/foo.cc", 2)
	if err != nil || res.Path != "/proj/include/foo/bar.h" {
		t.Fatalf("expected system include to resolve in include root, got %#v %v", res, err)
	}
	_, err = f.session.GotoInclude(ctx, "/proj/src/foo.cc", 3)
	var noInclude *NoIncludeError
	if !errors.As(err, &noInclude) {
		t.Fatalf("expected NoIncludeError, got %v", err)
	}
}

func TestGrepEntriesActivate(t *testing.T) {
	f := newFixture(t, testConfig(), "")
	job, err := f.session.Grep(GrepRequest{Pattern: "foo"})
	if err != nil {
		t.Fatalf("grep: %v", err)
	}
	if err := waitAndSync(t, f.session, job); err != nil {
		t.Fatalf("grep failed: %v", err)
	}
	if calls := f.remote.transport.Calls(); calls[0] != "cd '/proj' && grep -R -n 'foo' ." {
		t.Fatalf("unexpected command line %q", calls[0])
	}

	loc, err := f.session.Activate(testContext(t), job.Surface, 1)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if loc.Remote != "/proj/src/foo.cc" || loc.Line != 3 {
		t.Fatalf("unexpected location %#v", loc)
	}
	data, err := os.ReadFile(loc.Local)
	if err != nil || !strings.Contains(string(data), "int foo()") {
		t.Fatalf("expected mirrored copy, got %q %v", data, err)
	}
	if _, err := f.session.Activate(testContext(t), job.Surface, 0); !errors.Is(err, ErrNoEntry) {
		t.Fatalf("expected header line to have no entry, got %v", err)
	}
	if _, err := f.session.Activate(testContext(t), job.Surface, 2); !errors.Is(err, ErrNoEntry) {
		t.Fatalf("expected non-match grep line to have no entry, got %v", err)
	}
}

func TestGrepFromFileRunsInFileDirectory(t *testing.T) {
	cfg := testConfig()
	cfg.WorkingDir = config.WorkingDirFile
	f := newFixture(t, cfg, "")
	job, err := f.session.Grep(GrepRequest{Pattern: "foo", From: "src/foo.cc"})
	if err != nil {
		t.Fatalf("grep: %v", err)
	}
	if err := waitAndSync(t, f.session, job); err != nil {
		t.Fatalf("grep failed: %v", err)
	}
	if calls := f.remote.transport.Calls(); len(calls) != 1 || calls[0] != "cd '/proj/src' && grep -R -n 'foo' ." {
		t.Fatalf("unexpected command lines %q", calls)
	}
	entries := f.session.Entries(job.Surface)
	if len(entries) != 1 || entries[0].File != "/proj/src/foo.cc" || entries[0].Line != 3 {
		t.Fatalf("expected entry resolved under /proj/src, got %#v", entries)
	}
}

func TestBuildFailureReportsExitCode(t *testing.T) {
	f := newFixture(t, testConfig(), "")
	job, err := f.session.Build(BuildRequest{Target: "//app:main"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	err = waitAndSync(t, f.session, job)
	if !transport.IsCommandFailed(err) {
		t.Fatalf("expected command failure, got %v", err)
	}

	f.host.mu.Lock()
	terminals := append([]surface.Terminal(nil), f.host.terminals...)
	f.host.mu.Unlock()
	if len(terminals) != 1 || !strings.Contains(terminals[0].Footer, "failed with exit code [1]") {
		t.Fatalf("unexpected terminals %#v", terminals)
	}
	entries := f.session.Entries(job.Surface)
	if len(entries) != 1 || entries[0].File != "/proj/src/foo.cc" || entries[0].Line != 10 || entries[0].Column != 5 {
		t.Fatalf("unexpected build entries %#v", entries)
	}
}

func TestDuplicateGrepAttachesToRunningJob(t *testing.T) {
	f := newFixture(t, testConfig(), "")
	f.remote.grepGate = make(chan struct{})

	first, err := f.session.Grep(GrepRequest{Pattern: "foo"})
	if err != nil {
		t.Fatalf("grep: %v", err)
	}
	second, err := f.session.Grep(GrepRequest{Pattern: "foo"})
	if err != nil {
		t.Fatalf("second grep: %v", err)
	}
	if !second.Handle.Attached() || second.Surface != first.Surface {
		t.Fatalf("expected second request to attach to the first surface")
	}
	close(f.remote.grepGate)
	if err := waitAndSync(t, f.session, second); err != nil {
		t.Fatalf("grep failed: %v", err)
	}
	if n := countCalls(f.remote.transport.Calls(), "grep"); n != 1 {
		t.Fatalf("expected a single remote grep, got %d", n)
	}
}

func TestDuplicateGrepRejectedUnderRejectPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.DuplicatePolicy = "reject"
	f := newFixture(t, cfg, "")
	f.remote.grepGate = make(chan struct{})
	defer close(f.remote.grepGate)

	if _, err := f.session.Grep(GrepRequest{Pattern: "foo"}); err != nil {
		t.Fatalf("grep: %v", err)
	}
	_, err := f.session.Grep(GrepRequest{Pattern: "foo"})
	if !scheduler.IsBusy(err) {
		t.Fatalf("expected busy error, got %v", err)
	}
}

func TestRepeatOfSupersededGrepIsBusy(t *testing.T) {
	cfg := testConfig()
	cfg.SingleSurface.Grep = true
	f := newFixture(t, cfg, "")
	f.remote.grepGate = make(chan struct{})

	foo, err := f.session.Grep(GrepRequest{Pattern: "foo"})
	if err != nil {
		t.Fatalf("grep foo: %v", err)
	}
	bar, err := f.session.Grep(GrepRequest{Pattern: "bar"})
	if err != nil {
		t.Fatalf("grep bar: %v", err)
	}
	if bar.Surface != foo.Surface {
		t.Fatalf("expected both greps on the single grep surface")
	}

	_, err = f.session.Grep(GrepRequest{Pattern: "foo"})
	var busy *scheduler.BusyError
	if !errors.As(err, &busy) || busy.Generation != foo.Handle.Generation() {
		t.Fatalf("expected busy error for the superseded foo job, got %v", err)
	}

	close(f.remote.grepGate)
	if err := waitAndSync(t, f.session, bar); err != nil {
		t.Fatalf("grep bar failed: %v", err)
	}
	if outcome, err := foo.Handle.Wait(testContext(t)); err != nil || outcome.Status != scheduler.StatusCanceled {
		t.Fatalf("expected superseded foo to end canceled, got %#v %v", outcome, err)
	}
	again, err := f.session.Grep(GrepRequest{Pattern: "foo"})
	if err != nil {
		t.Fatalf("grep foo after bar: %v", err)
	}
	if again.Handle.Attached() {
		t.Fatalf("expected a fresh foo job once the superseded one finished")
	}
	if err := waitAndSync(t, f.session, again); err != nil {
		t.Fatalf("grep foo failed: %v", err)
	}
	if !strings.Contains(f.host.text(again.Surface), "int foo();") {
		t.Fatalf("expected foo output on the surface, got %q", f.host.text(again.Surface))
	}
}

func TestFileOperationsPatchIndexAndMirror(t *testing.T) {
	f := newFixture(t, testConfig(), "")
	ctx := testContext(t)
	job, _ := f.session.List(ListRequest{})
	if err := waitAndSync(t, f.session, job); err != nil {
		t.Fatalf("list failed: %v", err)
	}

	local, err := f.session.NewFile(ctx, "src/new.cc")
	if err != nil {
		t.Fatalf("new file: %v", err)
	}
	if _, err := os.Stat(local); err != nil {
		t.Fatalf("expected local copy: %v", err)
	}
	if _, ok := f.session.cache.Lookup("/proj/src/new.cc"); !ok {
		t.Fatalf("expected new file in index")
	}

	moved, err := f.session.MoveFile(ctx, "src/new.cc", "lib/moved.cc")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if filepath.Base(moved) != "moved.cc" {
		t.Fatalf("unexpected moved path %s", moved)
	}
	if _, ok := f.session.cache.Lookup("/proj/src/new.cc"); ok {
		t.Fatalf("expected old path to leave the index")
	}
	if _, ok := f.session.cache.Lookup("/proj/lib/moved.cc"); !ok {
		t.Fatalf("expected moved file in index")
	}

	remote, err := f.session.Push(ctx, moved)
	if err != nil || remote != "/proj/lib/moved.cc" {
		t.Fatalf("expected push to /proj/lib/moved.cc, got %q %v", remote, err)
	}
	if _, ok := f.remote.transport.RemoteFile(remote); !ok {
		t.Fatalf("expected uploaded file")
	}

	if err := f.session.DeleteFile(ctx, "lib/moved.cc"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := f.session.cache.Lookup("/proj/lib/moved.cc"); ok {
		t.Fatalf("expected deleted file to leave the index")
	}
	if _, err := os.Stat(moved); !os.IsNotExist(err) {
		t.Fatalf("expected mirrored copy to be removed, got %v", err)
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.bin")
	first := newFixture(t, testConfig(), statePath)
	job, _ := first.session.List(ListRequest{})
	if err := waitAndSync(t, first.session, job); err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if err := first.session.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := newFixture(t, testConfig(), statePath)
	res, err := second.session.Toggle(testContext(t), "/proj/src/foo.h")
	if err != nil || res.Path != "/proj/src/foo.cc" {
		t.Fatalf("expected toggle from restored index, got %#v %v", res, err)
	}
	if calls := second.remote.transport.Calls(); len(calls) != 0 {
		t.Fatalf("expected no remote calls, got %v", calls)
	}
	surfaces := second.session.Surfaces()
	if len(surfaces) != 1 || surfaces[0].ID != job.Surface {
		t.Fatalf("expected restored list surface, got %#v", surfaces)
	}
	if g := second.session.scheduler.Generation(scheduler.KindList); g < job.Handle.Generation() {
		t.Fatalf("expected generations seeded from state, got %d", g)
	}
}

func TestCorruptStateStartsEmpty(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.bin")
	if err := os.WriteFile(statePath, []byte("not a state file"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := newFixture(t, testConfig(), statePath)
	if stats := f.session.Stats(); stats.Index.Entries != 0 || stats.Surfaces != 0 {
		t.Fatalf("expected empty state, got %#v", stats)
	}
}

func TestFindRanksIndexedFiles(t *testing.T) {
	f := newFixture(t, testConfig(), "")
	job, _ := f.session.List(ListRequest{})
	if err := waitAndSync(t, f.session, job); err != nil {
		t.Fatalf("list failed: %v", err)
	}
	results := f.session.Find("bar", 5)
	if len(results) == 0 || results[0].Path != "/proj/include/foo/bar.h" {
		t.Fatalf("expected bar.h first, got %#v", results)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Root = ""
	if _, err := New(Options{Config: cfg, Transport: transport.NewFake(nil)}); err == nil {
		t.Fatalf("expected validation error")
	}
}
