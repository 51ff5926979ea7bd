package surface

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/remotecpp-dev/remotecpp/internal/metrics"
	"github.com/remotecpp-dev/remotecpp/internal/outparse"
	"github.com/remotecpp-dev/remotecpp/internal/scheduler"
	"github.com/remotecpp-dev/remotecpp/internal/transport"
	"go.uber.org/zap"
)

const (
	DefaultFlushInterval = time.Second
	DefaultMaxBuffer     = 64 * 1024
)

// Host receives surface updates. All calls are made from the dispatcher
// goroutine, one at a time.
type Host interface {
	OnSurfaceReset(Reset)
	OnOutputChunk(Output)
	OnNavigationEntries(Navigation)
	OnJobTerminal(Terminal)
}

// Reset tells the host to clear a surface for a new generation and show
// Header.
type Reset struct {
	Surface    ID             `json:"surface"`
	Kind       scheduler.Kind `json:"kind"`
	Identity   string         `json:"identity"`
	Generation uint64         `json:"generation"`
	Header     string         `json:"header"`
}

// Output is text to append to a surface.
type Output struct {
	Surface    ID     `json:"surface"`
	Generation uint64 `json:"generation"`
	Text       string `json:"text"`
}

type Navigation struct {
	Surface    ID               `json:"surface"`
	Generation uint64           `json:"generation"`
	Entries    []outparse.Entry `json:"entries"`
}

type Terminal struct {
	Surface    ID               `json:"surface"`
	Kind       scheduler.Kind   `json:"kind"`
	Identity   string           `json:"identity"`
	Generation uint64           `json:"generation"`
	Status     scheduler.Status `json:"-"`
	ExitCode   int              `json:"exit_code"`
	Err        error            `json:"-"`
	Duration   time.Duration    `json:"duration"`
	// Footer is the closing line appended to the surface text.
	Footer string `json:"footer"`
}

// JobSpec describes how output of one job is shown on a surface.
type JobSpec struct {
	Surface ID
	Grammar outparse.Grammar
	WorkDir string
	Command string
}

type Options struct {
	FlushInterval time.Duration
	// MaxBuffer forces a flush before the interval once this many bytes
	// are pending for a surface.
	MaxBuffer int
	Logger    *zap.Logger
	Now       func() time.Time
}

type msgKind int

const (
	msgBegin msgKind = iota
	msgChunk
	msgTerminal
	msgUnbind
	msgSync
)

type message struct {
	kind       msgKind
	spec       JobSpec
	jobKind    scheduler.Kind
	identity   string
	generation uint64
	data       []byte
	outcome    scheduler.Outcome
	surface    ID
	reply      chan struct{}
}

type surfaceState struct {
	spec       JobSpec
	jobKind    scheduler.Kind
	identity   string
	generation uint64
	buffer     []byte
	stream     *outparse.Stream
	lastByte   byte
	terminal   bool
}

// Dispatcher serializes all surface delivery on one goroutine. Chunks are
// buffered per surface and flushed at most once per FlushInterval, on
// terminal, or when the buffer grows past MaxBuffer.
type Dispatcher struct {
	registry *Registry
	host     Host
	opts     Options
	logger   *zap.Logger
	inbox    *mailbox[message]

	states map[ID]*surfaceState

	mu       sync.RWMutex
	entries  map[ID][]outparse.Entry
	grammars map[ID]outparse.Grammar
}

func NewDispatcher(registry *Registry, host Host, opts Options) *Dispatcher {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.MaxBuffer <= 0 {
		opts.MaxBuffer = DefaultMaxBuffer
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		registry: registry,
		host:     host,
		opts:     opts,
		logger:   opts.Logger.Named("dispatcher"),
		inbox:    newMailbox[message](),
		states:   make(map[ID]*surfaceState),
		entries:  make(map[ID][]outparse.Entry),
		grammars: make(map[ID]outparse.Grammar),
	}
}

// Sink returns a scheduler sink that shows a job on spec.Surface.
// JobQueued advances the surface generation synchronously so older output
// is rejected from the moment the job is accepted.
func (d *Dispatcher) Sink(spec JobSpec) scheduler.Sink {
	return &surfaceSink{d: d, spec: spec}
}

// Run delivers messages until ctx ends, then flushes what is pending.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.drain()
			d.flushAll()
			return nil
		case <-d.inbox.Ready():
			d.drain()
		case <-ticker.C:
			d.flushAll()
		}
	}
}

// Sync waits until every message posted before the call has been handled
// and all buffers are flushed.
func (d *Dispatcher) Sync(ctx context.Context) error {
	reply := make(chan struct{})
	d.inbox.Put(message{kind: msgSync, reply: reply})
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Forget drops delivery state for an unbound surface.
func (d *Dispatcher) Forget(id ID) {
	d.inbox.Put(message{kind: msgUnbind, surface: id})
}

// Entries returns the navigation entries of the current generation of id.
func (d *Dispatcher) Entries(id ID) []outparse.Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]outparse.Entry(nil), d.entries[id]...)
}

// EntryAt maps a 0-based surface line to its navigation entry.
func (d *Dispatcher) EntryAt(id ID, line int) (outparse.Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return outparse.EntryAt(d.grammars[id], d.entries[id], line)
}

func (d *Dispatcher) drain() {
	for _, msg := range d.inbox.Take() {
		switch msg.kind {
		case msgBegin:
			d.begin(msg)
		case msgChunk:
			d.chunk(msg)
		case msgTerminal:
			d.terminal(msg)
		case msgUnbind:
			delete(d.states, msg.surface)
			d.mu.Lock()
			delete(d.entries, msg.surface)
			delete(d.grammars, msg.surface)
			d.mu.Unlock()
		case msgSync:
			d.flushAll()
			close(msg.reply)
		}
	}
}

func (d *Dispatcher) begin(msg message) {
	id := msg.spec.Surface
	if !d.registry.Accepts(id, msg.generation) {
		return
	}
	if st, ok := d.states[id]; ok && st.generation >= msg.generation {
		return
	}

	header := fmt.Sprintf("# [%s] %s\n", d.opts.Now().Format("15:04:05"), msg.spec.Command)
	d.states[id] = &surfaceState{
		spec:       msg.spec,
		jobKind:    msg.jobKind,
		identity:   msg.identity,
		generation: msg.generation,
		stream:     outparse.NewStream(msg.spec.Grammar, msg.spec.WorkDir, 1),
		lastByte:   '\n',
	}
	d.mu.Lock()
	delete(d.entries, id)
	d.grammars[id] = msg.spec.Grammar
	d.mu.Unlock()

	d.host.OnSurfaceReset(Reset{
		Surface:    id,
		Kind:       msg.jobKind,
		Identity:   msg.identity,
		Generation: msg.generation,
		Header:     header,
	})
}

func (d *Dispatcher) current(id ID, generation uint64) (*surfaceState, bool) {
	st, ok := d.states[id]
	if !ok || st.generation != generation || st.terminal || !d.registry.Accepts(id, generation) {
		return nil, false
	}
	return st, true
}

func (d *Dispatcher) chunk(msg message) {
	st, ok := d.current(msg.surface, msg.generation)
	if !ok {
		metrics.RecordStaleChunk(string(msg.jobKind))
		return
	}
	st.buffer = append(st.buffer, msg.data...)
	if len(st.buffer) >= d.opts.MaxBuffer {
		d.flush(msg.surface, st)
	}
}

func (d *Dispatcher) terminal(msg message) {
	st, ok := d.current(msg.surface, msg.generation)
	if !ok {
		d.logger.Debug("dropping stale terminal",
			zap.String("surface", string(msg.surface)),
			zap.Uint64("generation", msg.generation),
		)
		return
	}
	d.flush(msg.surface, st)
	d.publishEntries(msg.surface, st, st.stream.Close())
	st.terminal = true

	footer := footerFor(msg.outcome, d.opts.Now())
	if st.lastByte != '\n' {
		footer = "\n" + footer
	}
	d.host.OnJobTerminal(Terminal{
		Surface:    msg.surface,
		Kind:       st.jobKind,
		Identity:   st.identity,
		Generation: st.generation,
		Status:     msg.outcome.Status,
		ExitCode:   msg.outcome.ExitCode,
		Err:        msg.outcome.Err,
		Duration:   msg.outcome.Duration,
		Footer:     footer,
	})
}

func (d *Dispatcher) flushAll() {
	for id, st := range d.states {
		d.flush(id, st)
	}
}

func (d *Dispatcher) flush(id ID, st *surfaceState) {
	if len(st.buffer) == 0 {
		return
	}
	data := st.buffer
	st.buffer = nil
	st.lastByte = data[len(data)-1]

	d.host.OnOutputChunk(Output{Surface: id, Generation: st.generation, Text: string(data)})
	d.publishEntries(id, st, st.stream.Feed(data))
}

func (d *Dispatcher) publishEntries(id ID, st *surfaceState, entries []outparse.Entry) {
	if len(entries) == 0 {
		return
	}
	d.mu.Lock()
	d.entries[id] = append(d.entries[id], entries...)
	d.mu.Unlock()

	metrics.RecordNavigationEntries(string(st.jobKind), len(entries))
	d.host.OnNavigationEntries(Navigation{Surface: id, Generation: st.generation, Entries: entries})
}

func footerFor(outcome scheduler.Outcome, now time.Time) string {
	stamp := now.Format("15:04:05")
	switch {
	case outcome.Status == scheduler.StatusCompleted:
		return fmt.Sprintf("# [%s] Command finished successfully in %d millis.\n", stamp, outcome.Duration.Milliseconds())
	case errors.Is(outcome.Err, scheduler.ErrTimeout):
		return fmt.Sprintf("# [%s] Command timed out after %d millis.\n", stamp, outcome.Duration.Milliseconds())
	case transport.IsUnavailable(outcome.Err):
		return fmt.Sprintf("# [%s] Remote host unavailable: %v\n", stamp, outcome.Err)
	case outcome.Status == scheduler.StatusCanceled:
		return fmt.Sprintf("# [%s] Command canceled.\n", stamp)
	default:
		return fmt.Sprintf("# [%s] Command failed with exit code [%d].\n", stamp, outcome.ExitCode)
	}
}

type surfaceSink struct {
	d    *Dispatcher
	spec JobSpec
}

func (s *surfaceSink) JobQueued(kind scheduler.Kind, identity string, generation uint64) {
	s.d.registry.Advance(s.spec.Surface, generation)
	s.d.inbox.Put(message{
		kind:       msgBegin,
		spec:       s.spec,
		jobKind:    kind,
		identity:   identity,
		generation: generation,
	})
}

func (s *surfaceSink) Chunk(chunk scheduler.Chunk) {
	s.d.inbox.Put(message{
		kind:       msgChunk,
		surface:    s.spec.Surface,
		jobKind:    chunk.Kind,
		generation: chunk.Generation,
		data:       chunk.Data,
	})
}

func (s *surfaceSink) Terminal(outcome scheduler.Outcome) {
	s.d.inbox.Put(message{
		kind:       msgTerminal,
		surface:    s.spec.Surface,
		jobKind:    outcome.Kind,
		generation: outcome.Generation,
		outcome:    outcome,
	})
}
