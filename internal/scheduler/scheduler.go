// Package scheduler runs remote commands on a bounded worker pool. Each kind
// of job carries its own generation counter, and at most one job per kind
// and identity is queued or running at any time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/remotecpp-dev/remotecpp/internal/metrics"
	"github.com/remotecpp-dev/remotecpp/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultWorkers = 4

type Options struct {
	Workers int
	// Policy applies to requests that leave Request.Policy unset.
	Policy Policy
	// Timeout applies to requests that leave Request.Timeout unset. Zero
	// disables the timeout.
	Timeout time.Duration
	Logger  *zap.Logger
}

type Request struct {
	Kind     Kind
	Identity string
	Command  string
	Sink     Sink
	Timeout  time.Duration
	Policy   Policy
	// Lane scopes supersession: a job is superseded once a newer generation
	// of the same kind is submitted on the same lane. Sessions use the
	// surface id so that independent surfaces of one kind never supersede
	// each other. An empty lane covers the whole kind.
	Lane string
}

type Scheduler struct {
	transport transport.Transport
	opts      Options
	logger    *zap.Logger

	mu          sync.Mutex
	cond        *sync.Cond
	queue       []*job
	inflight    map[Key]*job
	generations map[Kind]uint64
	lanes       map[laneKey]uint64
	closed      bool

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

type laneKey struct {
	kind Kind
	lane string
}

func New(t transport.Transport, opts Options) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Policy == PolicyDefault {
		opts.Policy = PolicyAttach
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(ctx)
	s := &Scheduler{
		transport:   t,
		opts:        opts,
		logger:      opts.Logger.Named("scheduler"),
		inflight:    make(map[Key]*job),
		generations: make(map[Kind]uint64),
		lanes:       make(map[laneKey]uint64),
		ctx:         groupCtx,
		cancel:      cancel,
		group:       group,
	}
	s.cond = sync.NewCond(&s.mu)

	for i := 0; i < opts.Workers; i++ {
		group.Go(s.worker)
	}
	return s
}

// Submit queues req or, when an equivalent job is in flight, attaches to it
// or rejects with *BusyError depending on the effective policy.
func (s *Scheduler) Submit(req Request) (*Handle, error) {
	if req.Kind == "" {
		return nil, fmt.Errorf("job kind is required")
	}
	if strings.TrimSpace(req.Command) == "" {
		return nil, fmt.Errorf("%s job has an empty command", req.Kind)
	}
	if req.Sink == nil {
		req.Sink = nopSink{}
	}
	policy := req.Policy
	if policy == PolicyDefault {
		policy = s.opts.Policy
	}
	timeout := req.Timeout
	if timeout == 0 {
		timeout = s.opts.Timeout
	}

	key := Key{Kind: req.Kind, Identity: req.Identity}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if existing, ok := s.inflight[key]; ok {
		if policy == PolicyReject {
			metrics.RecordJobRejected(string(req.Kind))
			return nil, &BusyError{Kind: req.Kind, Identity: req.Identity, Generation: existing.generation}
		}
		s.logger.Debug("attaching to in-flight job",
			zap.String("kind", string(req.Kind)),
			zap.String("identity", req.Identity),
			zap.Uint64("generation", existing.generation),
		)
		return &Handle{job: existing, attached: true}, nil
	}

	s.generations[req.Kind]++
	generation := s.generations[req.Kind]
	s.lanes[laneKey{kind: req.Kind, lane: req.Lane}] = generation

	j := &job{
		key:        key,
		lane:       req.Lane,
		generation: generation,
		command:    req.Command,
		sink:       req.Sink,
		timeout:    timeout,
		status:     StatusQueued,
		done:       make(chan struct{}),
	}
	req.Sink.JobQueued(req.Kind, req.Identity, generation)

	s.inflight[key] = j
	s.queue = append(s.queue, j)
	s.cond.Signal()

	metrics.RecordJobSubmitted(string(req.Kind))
	metrics.SetJobsInFlight(len(s.inflight))
	s.logger.Debug("job queued",
		zap.String("kind", string(req.Kind)),
		zap.String("identity", req.Identity),
		zap.Uint64("generation", generation),
	)
	return &Handle{job: j}, nil
}

// SeedGeneration raises the generation counter of kind to at least g so
// that generations issued after a restart stay above persisted ones.
func (s *Scheduler) SeedGeneration(kind Kind, g uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g > s.generations[kind] {
		s.generations[kind] = g
	}
}

// Generation returns the latest generation issued for kind.
func (s *Scheduler) Generation(kind Kind) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[kind]
}

// InFlight returns the number of queued or running jobs.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// Lookup returns a handle for the in-flight job with the given key.
func (s *Scheduler) Lookup(kind Kind, identity string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.inflight[Key{Kind: kind, Identity: identity}]
	if !ok {
		return nil, false
	}
	return &Handle{job: j, attached: true}, true
}

// Close stops accepting work, cancels queued jobs, interrupts running ones
// and waits for the workers to exit.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pending := s.queue
	s.queue = nil
	for _, j := range pending {
		delete(s.inflight, j.key)
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	for _, j := range pending {
		s.deliverTerminal(j, Outcome{Status: StatusCanceled, Err: ErrClosed})
	}

	s.cancel()
	return s.group.Wait()
}

func (s *Scheduler) worker() error {
	for {
		j := s.next()
		if j == nil {
			return nil
		}
		s.execute(j)
	}
}

func (s *Scheduler) next() *job {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.queue) == 0 {
		return nil
	}
	j := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return j
}

func (s *Scheduler) execute(j *job) {
	j.setStatus(StatusRunning)

	ctx := s.ctx
	cancel := func() {}
	if j.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
	}
	defer cancel()

	w := &chunkWriter{ctx: ctx, job: j}
	start := time.Now()
	result, err := s.transport.Run(ctx, j.command, w)
	elapsed := time.Since(start)

	outcome := Outcome{Duration: elapsed}
	if result != nil {
		outcome.ExitCode = result.ExitCode
		if len(result.Stderr) > 0 && ctx.Err() == nil {
			data := result.Stderr
			if w.unterminated() {
				data = append([]byte{'\n'}, data...)
			}
			j.sink.Chunk(Chunk{
				Kind:       j.key.Kind,
				Identity:   j.key.Identity,
				Generation: j.generation,
				Stream:     Stderr,
				Data:       data,
			})
		}
	}

	switch {
	case err == nil:
		outcome.Status = StatusCompleted
	case j.timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded):
		outcome.Status = StatusFailed
		outcome.Err = ErrTimeout
	case s.ctx.Err() != nil:
		outcome.Status = StatusCanceled
		outcome.Err = ErrClosed
	default:
		outcome.Status = StatusFailed
		outcome.Err = err
	}

	s.mu.Lock()
	if s.inflight[j.key] == j {
		delete(s.inflight, j.key)
	}
	superseded := s.lanes[laneKey{kind: j.key.Kind, lane: j.lane}] > j.generation
	metrics.SetJobsInFlight(len(s.inflight))
	s.mu.Unlock()

	if superseded && outcome.Status != StatusCanceled {
		outcome.Status = StatusCanceled
		outcome.Err = ErrSuperseded
	}
	s.deliverTerminal(j, outcome)
}

func (s *Scheduler) deliverTerminal(j *job, outcome Outcome) {
	outcome.Kind = j.key.Kind
	outcome.Identity = j.key.Identity
	outcome.Generation = j.generation

	metrics.RecordJobFinished(string(j.key.Kind), outcome.Status.String(), outcome.Duration)
	fields := []zap.Field{
		zap.String("kind", string(j.key.Kind)),
		zap.String("identity", j.key.Identity),
		zap.Uint64("generation", j.generation),
		zap.String("status", outcome.Status.String()),
		zap.Duration("duration", outcome.Duration),
	}
	if outcome.Err != nil {
		fields = append(fields, zap.Error(outcome.Err))
	}
	s.logger.Debug("job finished", fields...)

	j.sink.Terminal(outcome)
	j.complete(outcome)
}

// chunkWriter forwards transport output to the job sink. Output arriving
// after the job context ended is dropped.
type chunkWriter struct {
	ctx  context.Context
	job  *job
	last byte
}

// unterminated reports whether delivered stdout ended mid-line.
func (w *chunkWriter) unterminated() bool {
	return w.last != 0 && w.last != '\n'
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	if len(p) == 0 || w.ctx.Err() != nil {
		return len(p), nil
	}
	data := make([]byte, len(p))
	copy(data, p)
	w.last = data[len(data)-1]
	w.job.sink.Chunk(Chunk{
		Kind:       w.job.key.Kind,
		Identity:   w.job.key.Identity,
		Generation: w.job.generation,
		Stream:     Stdout,
		Data:       data,
	})
	return len(p), nil
}
