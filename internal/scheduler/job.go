package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

type Kind string

const (
	KindList    Kind = "list"
	KindGrep    Kind = "grep"
	KindBuild   Kind = "build"
	KindCommand Kind = "command"
)

func ParseKind(value string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindList:
		return KindList, nil
	case KindGrep:
		return KindGrep, nil
	case KindBuild:
		return KindBuild, nil
	case KindCommand:
		return KindCommand, nil
	default:
		return "", fmt.Errorf("unsupported job kind %q (supported: list, grep, build, command)", value)
	}
}

type Status int

const (
	StatusQueued Status = iota
	StatusRunning
	StatusCompleted
	StatusCanceled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusCanceled:
		return "canceled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled || s == StatusFailed
}

// Policy decides what happens when a job with the same kind and identity is
// already queued or running.
type Policy int

const (
	PolicyDefault Policy = iota
	PolicyAttach
	PolicyReject
)

func ParsePolicy(value string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "attach":
		return PolicyAttach, nil
	case "reject", "busy":
		return PolicyReject, nil
	default:
		return PolicyDefault, fmt.Errorf("unsupported duplicate policy %q (supported: attach, reject)", value)
	}
}

func (p Policy) String() string {
	switch p {
	case PolicyReject:
		return "reject"
	default:
		return "attach"
	}
}

var (
	ErrTimeout    = errors.New("job timed out")
	ErrSuperseded = errors.New("job superseded by a newer generation")
	ErrClosed     = errors.New("scheduler is closed")
)

// BusyError is returned by Submit under PolicyReject when an equivalent job
// is still in flight.
type BusyError struct {
	Kind       Kind
	Identity   string
	Generation uint64
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("%s job %q is busy (generation %d still in flight)", e.Kind, e.Identity, e.Generation)
}

func IsBusy(err error) bool {
	var target *BusyError
	return errors.As(err, &target)
}

type Key struct {
	Kind     Kind
	Identity string
}

type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

type Chunk struct {
	Kind       Kind
	Identity   string
	Generation uint64
	Stream     Stream
	Data       []byte
}

type Outcome struct {
	Kind       Kind
	Identity   string
	Generation uint64
	Status     Status
	ExitCode   int
	Err        error
	Duration   time.Duration
}

type job struct {
	key        Key
	lane       string
	generation uint64
	command    string
	sink       Sink
	timeout    time.Duration

	mu      sync.Mutex
	status  Status
	outcome Outcome
	done    chan struct{}
}

func (j *job) setStatus(status Status) {
	j.mu.Lock()
	j.status = status
	j.mu.Unlock()
}

func (j *job) complete(outcome Outcome) {
	j.mu.Lock()
	j.status = outcome.Status
	j.outcome = outcome
	j.mu.Unlock()
	close(j.done)
}

// Handle observes one submitted job.
type Handle struct {
	job      *job
	attached bool
}

func (h *Handle) Kind() Kind {
	return h.job.key.Kind
}

func (h *Handle) Identity() string {
	return h.job.key.Identity
}

func (h *Handle) Generation() uint64 {
	return h.job.generation
}

func (h *Handle) Done() <-chan struct{} {
	return h.job.done
}

// Attached reports whether Submit returned an already running job instead
// of queueing a new one.
func (h *Handle) Attached() bool {
	return h.attached
}

func (h *Handle) Status() Status {
	h.job.mu.Lock()
	defer h.job.mu.Unlock()
	return h.job.status
}

// Wait blocks until the job reaches a terminal status or ctx ends.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.job.done:
		h.job.mu.Lock()
		defer h.job.mu.Unlock()
		return h.job.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
