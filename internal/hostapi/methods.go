package hostapi

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/remotecpp-dev/remotecpp/internal/logging"
	"github.com/remotecpp-dev/remotecpp/internal/outparse"
	"github.com/remotecpp-dev/remotecpp/internal/resolve"
	"github.com/remotecpp-dev/remotecpp/internal/search"
	"github.com/remotecpp-dev/remotecpp/internal/session"
	"github.com/remotecpp-dev/remotecpp/internal/surface"
)

// JobResult describes a submitted job. Status and ExitCode are set only
// when the request asked to wait.
type JobResult struct {
	Surface    surface.ID `json:"surface,omitempty"`
	Kind       string     `json:"kind"`
	Identity   string     `json:"identity"`
	Generation uint64     `json:"generation"`
	Attached   bool       `json:"attached"`
	Status     string     `json:"status,omitempty"`
	ExitCode   int        `json:"exit_code,omitempty"`
}

type ResolutionResult struct {
	Kind       string   `json:"kind"`
	Path       string   `json:"path,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
}

func resolutionResult(res resolve.Resolution) ResolutionResult {
	return ResolutionResult{Kind: res.Kind.String(), Path: res.Path, Candidates: res.Candidates}
}

type jobParams struct {
	Wait bool `json:"wait"`
}

type listParams struct {
	jobParams
	Dir    string `json:"dir"`
	Prefix string `json:"prefix"`
}

type grepParams struct {
	jobParams
	Pattern string `json:"pattern"`
	From    string `json:"from"`
}

type buildParams struct {
	jobParams
	Target string `json:"target"`
	From   string `json:"from"`
}

type execParams struct {
	jobParams
	Command string `json:"command"`
	Dir     string `json:"dir"`
	From    string `json:"from"`
}

type pathParams struct {
	Path    string `json:"path"`
	Literal string `json:"literal"`
	Line    int    `json:"line"`
	Refresh bool   `json:"refresh"`
}

type surfaceParams struct {
	Surface surface.ID `json:"surface"`
	Line    int        `json:"line"`
}

type moveParams struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

type findParams struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// Register exposes the operations of sess as methods.
func (s *Server) Register(sess *session.Session) {
	s.Handle("list", jobMethod(func(p listParams) (*session.Job, error) {
		return sess.List(session.ListRequest{Dir: p.Dir, Prefix: p.Prefix})
	}, func(p listParams) bool { return p.Wait }))
	s.Handle("grep", jobMethod(func(p grepParams) (*session.Job, error) {
		if p.Pattern == "" {
			return nil, invalid("pattern is required")
		}
		return sess.Grep(session.GrepRequest{Pattern: p.Pattern, From: p.From})
	}, func(p grepParams) bool { return p.Wait }))
	s.Handle("build", jobMethod(func(p buildParams) (*session.Job, error) {
		return sess.Build(session.BuildRequest{Target: p.Target, From: p.From})
	}, func(p buildParams) bool { return p.Wait }))
	s.Handle("exec", jobMethod(func(p execParams) (*session.Job, error) {
		if strings.TrimSpace(p.Command) == "" {
			return nil, invalid("command is required")
		}
		return sess.Exec(session.ExecRequest{Command: p.Command, Dir: p.Dir, From: p.From})
	}, func(p execParams) bool { return p.Wait }))

	s.Handle("toggle", func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := requirePath(raw)
		if err != nil {
			return nil, err
		}
		res, err := sess.Toggle(ctx, p.Path)
		if err != nil {
			return nil, err
		}
		return resolutionResult(res), nil
	})
	s.Handle("include", func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := requirePath(raw)
		if err != nil {
			return nil, err
		}
		if p.Literal == "" {
			return nil, invalid("literal is required")
		}
		res, err := sess.Include(ctx, p.Path, p.Literal)
		if err != nil {
			return nil, err
		}
		return resolutionResult(res), nil
	})
	s.Handle("goto_include", func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := requirePath(raw)
		if err != nil {
			return nil, err
		}
		if p.Line < 1 {
			return nil, invalid("line must be 1 or greater")
		}
		res, err := sess.GotoInclude(ctx, p.Path, p.Line)
		if err != nil {
			return nil, err
		}
		return resolutionResult(res), nil
	})
	s.Handle("activate", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p surfaceParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		if p.Surface == "" {
			return nil, invalid("surface is required")
		}
		return sess.Activate(ctx, p.Surface, p.Line)
	})
	s.Handle("entries", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p surfaceParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		entries := sess.Entries(p.Surface)
		if entries == nil {
			entries = []outparse.Entry{}
		}
		return entries, nil
	})
	s.Handle("unbind", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p surfaceParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return map[string]bool{"removed": sess.Unbind(p.Surface)}, nil
	})
	s.Handle("surfaces", func(ctx context.Context, raw json.RawMessage) (any, error) {
		return sess.Surfaces(), nil
	})

	s.Handle("open", func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := requirePath(raw)
		if err != nil {
			return nil, err
		}
		local, err := sess.Open(ctx, p.Path, p.Refresh)
		if err != nil {
			return nil, err
		}
		return map[string]string{"local": local, "remote": sess.Abs(p.Path)}, nil
	})
	s.Handle("push", func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := requirePath(raw)
		if err != nil {
			return nil, err
		}
		remote, err := sess.Push(ctx, p.Path)
		if err != nil {
			return nil, err
		}
		return map[string]string{"local": p.Path, "remote": remote}, nil
	})
	s.Handle("new_file", func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := requirePath(raw)
		if err != nil {
			return nil, err
		}
		local, err := sess.NewFile(ctx, p.Path)
		if err != nil {
			return nil, err
		}
		return map[string]string{"local": local, "remote": sess.Abs(p.Path)}, nil
	})
	s.Handle("delete_file", func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := requirePath(raw)
		if err != nil {
			return nil, err
		}
		if err := sess.DeleteFile(ctx, p.Path); err != nil {
			return nil, err
		}
		return nil, nil
	})
	s.Handle("move_file", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p moveParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		if p.Src == "" || p.Dst == "" {
			return nil, invalid("src and dst are required")
		}
		local, err := sess.MoveFile(ctx, p.Src, p.Dst)
		if err != nil {
			return nil, err
		}
		return map[string]string{"local": local, "remote": sess.Abs(p.Dst)}, nil
	})

	s.Handle("find", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p findParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		if p.Limit <= 0 {
			p.Limit = search.DefaultLimit
		}
		results := sess.Find(p.Query, p.Limit)
		if results == nil {
			results = []search.Result{}
		}
		return results, nil
	})
	s.Handle("stats", func(ctx context.Context, raw json.RawMessage) (any, error) {
		return sess.Stats(), nil
	})
	s.Handle("checkpoint", func(ctx context.Context, raw json.RawMessage) (any, error) {
		return nil, sess.Checkpoint()
	})
	s.Handle("set_log_level", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			Level string `json:"level"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		if !logging.SetLevel(p.Level) {
			return nil, invalid("unknown log level %q", p.Level)
		}
		return nil, nil
	})
}

func requirePath(raw json.RawMessage) (pathParams, error) {
	var p pathParams
	if err := decodeParams(raw, &p); err != nil {
		return p, err
	}
	if strings.TrimSpace(p.Path) == "" {
		return p, invalid("path is required")
	}
	return p, nil
}

// jobMethod adapts a job-starting operation. With wait set the response is
// sent once the job ends; a failed job still yields a result so the host
// can show its status.
func jobMethod[P any](start func(P) (*session.Job, error), wait func(P) bool) HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p P
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		job, err := start(p)
		if err != nil {
			return nil, err
		}
		result := JobResult{
			Surface:    job.Surface,
			Kind:       string(job.Handle.Kind()),
			Identity:   job.Handle.Identity(),
			Generation: job.Handle.Generation(),
			Attached:   job.Handle.Attached(),
		}
		if !wait(p) {
			return result, nil
		}
		outcome, err := job.Handle.Wait(ctx)
		if err != nil {
			return nil, err
		}
		result.Status = outcome.Status.String()
		result.ExitCode = outcome.ExitCode
		return result, nil
	}
}
