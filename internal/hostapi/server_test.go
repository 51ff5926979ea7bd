package hostapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/remotecpp-dev/remotecpp/internal/config"
	"github.com/remotecpp-dev/remotecpp/internal/resolve"
	"github.com/remotecpp-dev/remotecpp/internal/scheduler"
	"github.com/remotecpp-dev/remotecpp/internal/session"
	"github.com/remotecpp-dev/remotecpp/internal/transport"
	"go.uber.org/zap/zaptest"
)

func fakeRemote(ctx context.Context, commandLine string, w io.Writer) (*transport.Result, error) {
	switch {
	case strings.Contains(commandLine, "&& find "):
		io.WriteString(w, "./src/foo.cc\n./src/foo.h\n")
		return &transport.Result{}, nil
	case strings.Contains(commandLine, "&& grep "):
		io.WriteString(w, "src/foo.cc:3:int foo();\n")
		return &transport.Result{}, nil
	}
	return &transport.Result{ExitCode: 127}, &transport.CommandError{ExitCode: 127}
}

type message struct {
	ID     json.RawMessage `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

func serve(t *testing.T, input string) (map[string]message, []message) {
	t.Helper()
	cfg := config.Default()
	cfg.Root = "/proj"
	cfg.IncludeRoots = nil
	cfg.FlushInterval = config.Duration(time.Hour)
	cfg.State.CheckpointInterval = 0
	cfg.Commands.List = "find . -type f"

	var out bytes.Buffer
	server := NewServer(&out, zaptest.NewLogger(t))
	sess, err := session.New(session.Options{
		Config:    cfg,
		Transport: transport.NewFake(fakeRemote),
		Host:      server,
		Logger:    zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	server.Register(sess)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Serve(ctx, strings.NewReader(input)); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	responses := make(map[string]message)
	var events []message
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var msg message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			t.Fatalf("output line %q is not JSON: %v", line, err)
		}
		if msg.Event != "" {
			events = append(events, msg)
			continue
		}
		responses[string(msg.ID)] = msg
	}
	return responses, events
}

func TestServeRequests(t *testing.T) {
	input := strings.Join([]string{
		`{"id":1,"method":"toggle","params":{"path":"src/foo.cc"}}`,
		`{"id":"two","method":"nope"}`,
		`not json`,
		``,
		`{"id":3,"method":"grep","params":{"pattern":"foo","wait":true}}`,
		`{"id":4,"method":"grep","params":{}}`,
		`{"id":5,"method":"find","params":{"query":"foo"}}`,
	}, "\n")
	responses, events := serve(t, input)

	toggle := responses["1"]
	if !toggle.OK {
		t.Fatalf("expected toggle to succeed, got %+v", toggle.Error)
	}
	var res ResolutionResult
	if err := json.Unmarshal(toggle.Result, &res); err != nil {
		t.Fatalf("decode toggle result: %v", err)
	}
	if res.Kind != "unique" || res.Path != "/proj/src/foo.h" {
		t.Fatalf("unexpected toggle result %+v", res)
	}

	for _, id := range []string{`"two"`, "null", "4"} {
		resp, ok := responses[id]
		if !ok || resp.OK || resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
			t.Fatalf("expected invalid_request for id %s, got %+v", id, resp)
		}
	}

	grep := responses["3"]
	var job JobResult
	if err := json.Unmarshal(grep.Result, &job); err != nil || !grep.OK {
		t.Fatalf("unexpected grep response %+v (%v)", grep, err)
	}
	if job.Status != "completed" || job.Surface == "" || job.Kind != "grep" {
		t.Fatalf("unexpected grep job %+v", job)
	}

	var results []struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(responses["5"].Result, &results); err != nil {
		t.Fatalf("decode find result: %v", err)
	}
	if len(results) == 0 || !strings.HasPrefix(results[0].Path, "/proj/src/foo.") {
		t.Fatalf("unexpected find results %+v", results)
	}

	seen := make(map[string]string)
	for _, event := range events {
		seen[event.Event] += string(event.Data)
	}
	if !strings.Contains(seen[EventOutput], "src/foo.cc:3:int foo();") {
		t.Fatalf("expected grep output event, got %q", seen[EventOutput])
	}
	if !strings.Contains(seen[EventTerminal], `"status":"completed"`) {
		t.Fatalf("expected completed terminal event, got %q", seen[EventTerminal])
	}
	if !strings.Contains(seen[EventNavigation], `"file":"/proj/src/foo.cc"`) {
		t.Fatalf("expected navigation entries, got %q", seen[EventNavigation])
	}
	if _, ok := seen[EventSurfaceReset]; !ok {
		t.Fatalf("expected a surface reset event")
	}
}

func TestHandlerPanicIsInternalError(t *testing.T) {
	var out bytes.Buffer
	server := NewServer(&out, zaptest.NewLogger(t))
	server.Handle("boom", func(ctx context.Context, params json.RawMessage) (any, error) {
		panic("kaboom")
	})
	if err := server.Serve(context.Background(), strings.NewReader(`{"id":1,"method":"boom"}`)); err != nil {
		t.Fatalf("serve: %v", err)
	}
	var resp message
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.OK || resp.Error == nil || resp.Error.Code != CodeInternal {
		t.Fatalf("expected internal error, got %+v", resp)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&scheduler.BusyError{Kind: scheduler.KindBuild}, CodeBusy},
		{&transport.UnavailableError{Op: "run", Err: io.EOF}, CodeTransportUnavailable},
		{fmt.Errorf("wrapped: %w", &transport.CommandError{ExitCode: 2}), CodeRemoteCommandFailed},
		{fmt.Errorf("job: %w", scheduler.ErrTimeout), CodeTimeout},
		{&resolve.IndexNotReadyError{Dir: "/proj"}, CodeIndexNotReady},
		{session.ErrNoEntry, CodeNotFound},
		{&session.NoIncludeError{Path: "/proj/a.cc", Line: 2}, CodeNotFound},
		{invalid("missing"), CodeInvalidRequest},
		{io.ErrUnexpectedEOF, CodeInternal},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("Classify(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
