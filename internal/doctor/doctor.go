// Package doctor checks that remotecpp can reach its remote host and that its
// persisted state is usable.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/remotecpp-dev/remotecpp/internal/config"
	"github.com/remotecpp-dev/remotecpp/internal/fileutil"
	"github.com/remotecpp-dev/remotecpp/internal/rpath"
	"github.com/remotecpp-dev/remotecpp/internal/state"
	"github.com/remotecpp-dev/remotecpp/internal/transport"
)

const DefaultTimeout = 10 * time.Second

type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type Report struct {
	Healthy     bool     `json:"healthy"`
	Host        string   `json:"host"`
	Root        string   `json:"root"`
	Checks      []Check  `json:"checks"`
	Suggestions []string `json:"suggestions,omitempty"`
}

type Options struct {
	Config    config.Config
	Transport transport.Transport
	StatePath string
	// LookPath finds local programs. Defaults to exec.LookPath.
	LookPath func(file string) (string, error)
	Timeout  time.Duration
}

// Run performs every check. It never fails; problems are reported as
// failed checks.
func Run(ctx context.Context, opts Options) Report {
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	cfg := opts.Config
	report := Report{Host: cfg.SSH.Host, Root: rpath.Clean(cfg.Root)}
	var suggestions []string

	for _, program := range []string{cfg.SSH.Program, cfg.SSH.SCPProgram} {
		check := Check{Name: "program:" + program}
		if path, err := opts.LookPath(program); err == nil {
			check.OK = true
			check.Detail = path
		} else {
			check.Reason = "not_found"
			suggestions = append(suggestions, "install an OpenSSH client or set ssh.program and ssh.scp_program")
		}
		report.Checks = append(report.Checks, check)
	}

	remote := checkRemote(ctx, opts.Transport, report.Root, opts.Timeout)
	report.Checks = append(report.Checks, remote)
	switch remote.Reason {
	case "unreachable":
		suggestions = append(suggestions, fmt.Sprintf("check that %s accepts ssh connections on the configured port", cfg.SSH.Host))
	case "root_not_found":
		suggestions = append(suggestions, "set root to a directory that exists on the remote host")
	}

	stateCheck := checkState(opts.StatePath, cfg.SSH.Host, report.Root)
	report.Checks = append(report.Checks, stateCheck)
	if stateCheck.Reason == "corrupt" {
		suggestions = append(suggestions, "run remotecpp state clear")
	}

	report.Healthy = true
	for _, check := range report.Checks {
		if !check.OK {
			report.Healthy = false
		}
	}
	report.Suggestions = fileutil.DedupeStrings(suggestions)
	sort.Strings(report.Suggestions)
	return report
}

func checkRemote(ctx context.Context, t transport.Transport, root string, timeout time.Duration) Check {
	check := Check{Name: "remote"}
	if t == nil {
		check.Reason = "no_transport"
		return check
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := t.Run(ctx, transport.InDir(root, "true"), nil)
	switch {
	case err == nil:
		check.OK = true
		if result != nil {
			check.Detail = fmt.Sprintf("round trip %s", result.Duration.Round(time.Millisecond))
		}
	case transport.IsCommandFailed(err):
		check.Reason = "root_not_found"
		check.Detail = err.Error()
	default:
		check.Reason = "unreachable"
		check.Detail = err.Error()
	}
	return check
}

func checkState(path, host, root string) Check {
	check := Check{Name: "state"}
	if path == "" {
		check.OK = true
		check.Reason = "disabled"
		return check
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		check.OK = true
		check.Detail = "no state saved yet"
		return check
	}
	if err != nil {
		check.Reason = "unreadable"
		check.Detail = err.Error()
		return check
	}
	info, err := state.Inspect(data)
	if err != nil {
		check.Reason = "corrupt"
		check.Detail = err.Error()
		return check
	}
	snap, err := state.Load(data)
	if err != nil {
		check.Reason = "corrupt"
		check.Detail = err.Error()
		return check
	}
	check.OK = true
	check.Detail = fmt.Sprintf("v%d %s, %d listings, %d surfaces", info.Version, info.Compression, len(snap.Listings), len(snap.Surfaces))
	if !snap.Empty() && !snap.Matches(host, root) {
		check.Reason = "foreign"
		check.Detail += fmt.Sprintf(" (saved for %s:%s, will be ignored)", snap.Host, snap.Root)
	}
	return check
}
