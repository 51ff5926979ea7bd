package doctor

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/remotecpp-dev/remotecpp/internal/config"
	"github.com/remotecpp-dev/remotecpp/internal/index"
	"github.com/remotecpp-dev/remotecpp/internal/state"
	"github.com/remotecpp-dev/remotecpp/internal/transport"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Root = "/proj"
	cfg.SSH.Host = "devbox"
	return cfg
}

func findAll(file string) (string, error) {
	return "/usr/bin/" + file, nil
}

func checkNamed(t *testing.T, report Report, name string) Check {
	t.Helper()
	for _, check := range report.Checks {
		if check.Name == name {
			return check
		}
	}
	t.Fatalf("missing check %q in %+v", name, report.Checks)
	return Check{}
}

func TestRunHealthy(t *testing.T) {
	fake := transport.NewFake(transport.Respond("", 0))
	statePath := filepath.Join(t.TempDir(), "state.bin")
	snap := state.Snapshot{Host: "devbox", Root: "/proj", Listings: []index.Listing{{Dir: "/proj", Files: []string{"BUCK"}}}}
	if err := state.SaveFile(statePath, snap, state.Options{Compression: state.CompressionZstd}); err != nil {
		t.Fatalf("save: %v", err)
	}

	report := Run(context.Background(), Options{
		Config:    testConfig(),
		Transport: fake,
		StatePath: statePath,
		LookPath:  findAll,
	})
	if !report.Healthy || len(report.Suggestions) != 0 {
		t.Fatalf("expected healthy report, got %+v", report)
	}
	if calls := fake.Calls(); len(calls) != 1 || calls[0] != "cd '/proj' && true" {
		t.Fatalf("unexpected remote calls %v", calls)
	}
	if check := checkNamed(t, report, "program:ssh"); check.Detail != "/usr/bin/ssh" {
		t.Fatalf("unexpected ssh check %+v", check)
	}
	if check := checkNamed(t, report, "state"); check.Reason != "" {
		t.Fatalf("unexpected state check %+v", check)
	}
}

func TestRunReportsProblems(t *testing.T) {
	fake := transport.NewFake(func(ctx context.Context, commandLine string, w io.Writer) (*transport.Result, error) {
		return nil, &transport.UnavailableError{Host: "devbox", Op: "run", Err: errors.New("connection refused")}
	})
	statePath := filepath.Join(t.TempDir(), "state.bin")
	if err := os.WriteFile(statePath, []byte("definitely not state"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	report := Run(context.Background(), Options{
		Config:    testConfig(),
		Transport: fake,
		StatePath: statePath,
		LookPath: func(file string) (string, error) {
			if file == "scp" {
				return "", errors.New("not found")
			}
			return "/usr/bin/" + file, nil
		},
	})
	if report.Healthy {
		t.Fatalf("expected unhealthy report")
	}
	if check := checkNamed(t, report, "program:scp"); check.OK || check.Reason != "not_found" {
		t.Fatalf("unexpected scp check %+v", check)
	}
	if check := checkNamed(t, report, "remote"); check.OK || check.Reason != "unreachable" {
		t.Fatalf("unexpected remote check %+v", check)
	}
	if check := checkNamed(t, report, "state"); check.OK || check.Reason != "corrupt" {
		t.Fatalf("unexpected state check %+v", check)
	}
	if len(report.Suggestions) != 3 {
		t.Fatalf("expected three suggestions, got %v", report.Suggestions)
	}
}

func TestRunMissingRootAndForeignState(t *testing.T) {
	fake := transport.NewFake(transport.Respond("", 1))
	statePath := filepath.Join(t.TempDir(), "state.bin")
	snap := state.Snapshot{Host: "otherbox", Root: "/elsewhere", Listings: []index.Listing{{Dir: "/elsewhere"}}}
	if err := state.SaveFile(statePath, snap, state.Options{}); err != nil {
		t.Fatalf("save: %v", err)
	}

	report := Run(context.Background(), Options{
		Config:    testConfig(),
		Transport: fake,
		StatePath: statePath,
		LookPath:  findAll,
	})
	if check := checkNamed(t, report, "remote"); check.Reason != "root_not_found" {
		t.Fatalf("unexpected remote check %+v", check)
	}
	if check := checkNamed(t, report, "state"); !check.OK || check.Reason != "foreign" {
		t.Fatalf("unexpected state check %+v", check)
	}
}
