package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/remotecpp-dev/remotecpp/internal/fileutil"
	"github.com/remotecpp-dev/remotecpp/internal/logging"
	"github.com/remotecpp-dev/remotecpp/internal/outparse"
	"github.com/remotecpp-dev/remotecpp/internal/scheduler"
	"github.com/remotecpp-dev/remotecpp/internal/session"
	"github.com/remotecpp-dev/remotecpp/internal/surface"
	"github.com/spf13/cobra"
)

// streamHost prints surface text as it is flushed. The header and footer
// go to errOut so that out carries only command output.
type streamHost struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
	quiet  bool
}

func (h *streamHost) OnSurfaceReset(r surface.Reset) {
	if h.quiet {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintln(h.errOut, strings.TrimRight(r.Header, "\n"))
}

func (h *streamHost) OnOutputChunk(o surface.Output) {
	if h.quiet {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	io.WriteString(h.out, o.Text)
}

func (h *streamHost) OnNavigationEntries(surface.Navigation) {}

func (h *streamHost) OnJobTerminal(t surface.Terminal) {
	if h.quiet {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintln(h.errOut, strings.TrimSpace(t.Footer))
}

type JobSummary struct {
	Surface    surface.ID       `json:"surface,omitempty"`
	Kind       string           `json:"kind"`
	Identity   string           `json:"identity"`
	Generation uint64           `json:"generation"`
	Status     string           `json:"status"`
	ExitCode   int              `json:"exit_code"`
	DurationMS int64            `json:"duration_ms"`
	Entries    []outparse.Entry `json:"entries"`
}

// runJob starts a job, streams its output and waits for it. A job that does
// not complete is reported as an error so the process exits non-zero.
func runJob(cmd *cobra.Command, start func(sess *session.Session) (*session.Job, error)) (err error) {
	asJSON, err := OptionalBoolFlag(cmd, "json", false)
	if err != nil {
		return err
	}
	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	host := &streamHost{out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr(), quiet: asJSON}
	sess, err := openSession(env, host)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := sess.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		_ = logging.Sync()
	}()

	job, err := start(sess)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	outcome, err := job.Handle.Wait(ctx)
	if err != nil {
		return err
	}
	if err := sess.Sync(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	if asJSON {
		entries := sess.Entries(job.Surface)
		if entries == nil {
			entries = []outparse.Entry{}
		}
		summary := JobSummary{
			Surface:    job.Surface,
			Kind:       string(outcome.Kind),
			Identity:   outcome.Identity,
			Generation: outcome.Generation,
			Status:     outcome.Status.String(),
			ExitCode:   outcome.ExitCode,
			DurationMS: outcome.Duration.Milliseconds(),
			Entries:    entries,
		}
		if err := fileutil.PrintJSON(cmd.OutOrStdout(), summary); err != nil {
			return err
		}
	}
	if outcome.Status != scheduler.StatusCompleted {
		if outcome.Err != nil {
			return fmt.Errorf("%s %s: %w", outcome.Kind, outcome.Status, outcome.Err)
		}
		return fmt.Errorf("%s %s", outcome.Kind, outcome.Status)
	}
	return nil
}

func RunList(cmd *cobra.Command, args []string) error {
	dir, err := OptionalStringFlag(cmd, "dir")
	if err != nil {
		return err
	}
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}
	return runJob(cmd, func(sess *session.Session) (*session.Job, error) {
		return sess.List(session.ListRequest{Dir: dir, Prefix: prefix})
	})
}

func RunGrep(cmd *cobra.Command, args []string) error {
	from, err := OptionalStringFlag(cmd, "from")
	if err != nil {
		return err
	}
	return runJob(cmd, func(sess *session.Session) (*session.Job, error) {
		return sess.Grep(session.GrepRequest{Pattern: args[0], From: from})
	})
}

func RunBuild(cmd *cobra.Command, args []string) error {
	from, err := OptionalStringFlag(cmd, "from")
	if err != nil {
		return err
	}
	target := ""
	if len(args) > 0 {
		target = args[0]
	}
	return runJob(cmd, func(sess *session.Session) (*session.Job, error) {
		return sess.Build(session.BuildRequest{Target: target, From: from})
	})
}

func RunExec(cmd *cobra.Command, args []string) error {
	dir, err := OptionalStringFlag(cmd, "dir")
	if err != nil {
		return err
	}
	return runJob(cmd, func(sess *session.Session) (*session.Job, error) {
		return sess.Exec(session.ExecRequest{Command: strings.Join(args, " "), Dir: dir})
	})
}
