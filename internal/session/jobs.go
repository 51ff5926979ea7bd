package session

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/remotecpp-dev/remotecpp/internal/config"
	"github.com/remotecpp-dev/remotecpp/internal/index"
	"github.com/remotecpp-dev/remotecpp/internal/outparse"
	"github.com/remotecpp-dev/remotecpp/internal/rpath"
	"github.com/remotecpp-dev/remotecpp/internal/scheduler"
	"github.com/remotecpp-dev/remotecpp/internal/surface"
	"github.com/remotecpp-dev/remotecpp/internal/transport"
	"go.uber.org/zap"
)

// Job is a submitted job and the surface showing it. Surface is empty for
// jobs that have no surface.
type Job struct {
	Surface surface.ID
	Handle  *scheduler.Handle
}

// Wait blocks until the job ends and turns a failed outcome into an error.
func (j *Job) Wait(ctx context.Context) (scheduler.Outcome, error) {
	outcome, err := j.Handle.Wait(ctx)
	if err != nil {
		return outcome, err
	}
	if outcome.Status != scheduler.StatusCompleted {
		if outcome.Err != nil {
			return outcome, outcome.Err
		}
		return outcome, fmt.Errorf("%s job %s", outcome.Kind, outcome.Status)
	}
	return outcome, nil
}

type ListRequest struct {
	// Dir is listed recursively; empty means the project root.
	Dir string
	// Prefix limits the shown paths, relative to Dir.
	Prefix string
}

type GrepRequest struct {
	Pattern string
	// From is the file the search was started from. It selects the working
	// directory when working_dir is "file".
	From string
}

type BuildRequest struct {
	Target string
	From   string
}

type ExecRequest struct {
	Command string
	// Dir defaults to the working directory policy applied to From.
	Dir  string
	From string
}

// List refreshes the index below a directory and shows its files on a list
// surface.
func (s *Session) List(req ListRequest) (*Job, error) {
	dir := s.root
	if strings.TrimSpace(req.Dir) != "" {
		dir = s.Abs(req.Dir)
	}
	prefix := strings.TrimPrefix(strings.TrimSpace(req.Prefix), "./")
	identity := dir
	if prefix != "" {
		identity = dir + "|" + prefix
	}
	return s.start(jobSpec{
		kind:     scheduler.KindList,
		identity: identity,
		command:  s.cfg.Commands.List,
		workDir:  dir,
		grammar:  outparse.List,
		wrap: func(next scheduler.Sink) scheduler.Sink {
			return &listingSink{next: next, cache: s.cache, dir: dir, prefix: prefix}
		},
	})
}

// Grep searches for a pattern on the remote host.
func (s *Session) Grep(req GrepRequest) (*Job, error) {
	if req.Pattern == "" {
		return nil, fmt.Errorf("grep pattern is required")
	}
	workDir := s.workDir(req.From)
	return s.start(jobSpec{
		kind:     scheduler.KindGrep,
		identity: req.Pattern + "@" + workDir,
		command:  transport.Expand(s.cfg.Commands.Grep, map[string]string{"pattern": req.Pattern}),
		workDir:  workDir,
		grammar:  outparse.Grep,
	})
}

// Build runs the build command, optionally for one target.
func (s *Session) Build(req BuildRequest) (*Job, error) {
	workDir := s.workDir(req.From)
	command := s.cfg.Commands.Build
	if req.Target != "" {
		command += " " + transport.Quote(req.Target)
	}
	return s.start(jobSpec{
		kind:     scheduler.KindBuild,
		identity: req.Target + "@" + workDir,
		command:  command,
		workDir:  workDir,
		grammar:  outparse.Build,
	})
}

// Exec runs an arbitrary command on a command surface. Output is parsed
// like build output.
func (s *Session) Exec(req ExecRequest) (*Job, error) {
	if strings.TrimSpace(req.Command) == "" {
		return nil, fmt.Errorf("command is required")
	}
	workDir := s.workDir(req.From)
	if req.Dir != "" {
		workDir = s.Abs(req.Dir)
	}
	return s.start(jobSpec{
		kind:     scheduler.KindCommand,
		identity: req.Command + "@" + workDir,
		command:  req.Command,
		workDir:  workDir,
		grammar:  outparse.Build,
	})
}

// Refresh lists dir in the background without a surface. Callers that hit
// resolve.IndexNotReadyError use it before retrying.
func (s *Session) Refresh(dir string) (*Job, error) {
	dir = s.Abs(dir)
	sink := &listingSink{cache: s.cache, dir: dir}
	handle, err := s.scheduler.Submit(scheduler.Request{
		Kind:     scheduler.KindList,
		Identity: "index:" + dir,
		Command:  transport.InDir(dir, s.cfg.Commands.List),
		Sink:     sink,
		Policy:   scheduler.PolicyAttach,
		Lane:     "index:" + dir,
	})
	if err != nil {
		return nil, err
	}
	return &Job{Handle: handle}, nil
}

func (s *Session) workDir(from string) string {
	if s.cfg.WorkingDir == config.WorkingDirFile && strings.TrimSpace(from) != "" {
		return rpath.Dir(s.Abs(from))
	}
	return s.root
}

type jobSpec struct {
	kind     scheduler.Kind
	identity string
	command  string
	workDir  string
	grammar  outparse.Grammar
	wrap     func(scheduler.Sink) scheduler.Sink
}

func (s *Session) start(spec jobSpec) (*Job, error) {
	key := scheduler.Key{Kind: spec.kind, Identity: spec.identity}

	s.startMu.Lock()
	defer s.startMu.Unlock()

	if handle, ok := s.scheduler.Lookup(spec.kind, spec.identity); ok {
		if s.policy == scheduler.PolicyReject {
			return nil, &scheduler.BusyError{Kind: spec.kind, Identity: spec.identity, Generation: handle.Generation()}
		}
		if id, bound := s.active[key]; bound {
			if _, live := s.registry.Get(id); live {
				// Output of a superseded job never reaches its surface.
				if !s.registry.Accepts(id, handle.Generation()) {
					return nil, &scheduler.BusyError{Kind: spec.kind, Identity: spec.identity, Generation: handle.Generation()}
				}
				return &Job{Surface: id, Handle: handle}, nil
			}
		}
	} else {
		delete(s.active, key)
	}

	bound := s.registry.Bind(spec.kind, spec.identity)
	var sink scheduler.Sink = s.dispatcher.Sink(surface.JobSpec{
		Surface: bound.ID,
		Grammar: spec.grammar,
		WorkDir: spec.workDir,
		Command: spec.command,
	})
	if spec.wrap != nil {
		sink = spec.wrap(sink)
	}

	handle, err := s.scheduler.Submit(scheduler.Request{
		Kind:     spec.kind,
		Identity: spec.identity,
		Command:  transport.InDir(spec.workDir, spec.command),
		Sink:     sink,
		Lane:     string(bound.ID),
	})
	if err != nil {
		if !bound.Single {
			s.registry.Unbind(bound.ID)
		}
		return nil, err
	}
	if handle.Attached() {
		// The job started between Lookup and Submit or its surface was
		// closed; the fresh surface would never see output.
		if !bound.Single {
			s.registry.Unbind(bound.ID)
		}
		return &Job{Handle: handle}, nil
	}
	s.active[key] = bound.ID
	s.logger.Debug("started job",
		zap.String("kind", string(spec.kind)),
		zap.String("identity", spec.identity),
		zap.String("surface", string(bound.ID)),
		zap.Uint64("generation", handle.Generation()),
	)
	return &Job{Surface: bound.ID, Handle: handle}, nil
}

// listingSink collects the output of a file listing, ingests it into the
// index when the command succeeds and forwards a sorted listing instead of
// the raw output. Without next it only feeds the index.
type listingSink struct {
	next   scheduler.Sink
	cache  *index.Cache
	dir    string
	prefix string

	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *listingSink) JobQueued(kind scheduler.Kind, identity string, generation uint64) {
	if l.next != nil {
		l.next.JobQueued(kind, identity, generation)
	}
}

func (l *listingSink) Chunk(chunk scheduler.Chunk) {
	if chunk.Stream == scheduler.Stdout {
		l.mu.Lock()
		l.buf.Write(chunk.Data)
		l.mu.Unlock()
		return
	}
	if l.next != nil {
		l.next.Chunk(chunk)
	}
}

func (l *listingSink) Terminal(outcome scheduler.Outcome) {
	l.mu.Lock()
	raw := l.buf.String()
	l.buf.Reset()
	l.mu.Unlock()

	var text string
	if outcome.Status == scheduler.StatusCompleted {
		l.cache.IngestListing(l.dir, strings.Split(raw, "\n"))
		text = l.render()
	} else {
		text = raw
	}
	if l.next == nil {
		return
	}
	if text != "" {
		l.next.Chunk(scheduler.Chunk{
			Kind:       outcome.Kind,
			Identity:   outcome.Identity,
			Generation: outcome.Generation,
			Stream:     scheduler.Stdout,
			Data:       []byte(text),
		})
	}
	l.next.Terminal(outcome)
}

// render lists the files under dir relative to it, each directory's files
// before its subdirectories.
func (l *listingSink) render() string {
	var b strings.Builder
	for entry := range l.cache.ListUnder(l.dir) {
		if entry.IsDir() {
			continue
		}
		rel, ok := rpath.Rel(l.dir, entry.Path())
		if !ok || !strings.HasPrefix(rel, l.prefix) {
			continue
		}
		b.WriteString(rel)
		b.WriteByte('\n')
	}
	return b.String()
}
