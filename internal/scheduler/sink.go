package scheduler

// Sink receives the lifecycle of a job. JobQueued is called synchronously
// inside Submit before any output exists, in generation order per kind, so
// implementations must not block or call back into the Scheduler.
type Sink interface {
	JobQueued(kind Kind, identity string, generation uint64)
	Chunk(chunk Chunk)
	Terminal(outcome Outcome)
}

// SinkFuncs adapts optional functions to Sink.
type SinkFuncs struct {
	OnQueued   func(kind Kind, identity string, generation uint64)
	OnChunk    func(chunk Chunk)
	OnTerminal func(outcome Outcome)
}

func (f SinkFuncs) JobQueued(kind Kind, identity string, generation uint64) {
	if f.OnQueued != nil {
		f.OnQueued(kind, identity, generation)
	}
}

func (f SinkFuncs) Chunk(chunk Chunk) {
	if f.OnChunk != nil {
		f.OnChunk(chunk)
	}
}

func (f SinkFuncs) Terminal(outcome Outcome) {
	if f.OnTerminal != nil {
		f.OnTerminal(outcome)
	}
}

// MultiSink fans every call out to each sink in order.
type MultiSink []Sink

func (m MultiSink) JobQueued(kind Kind, identity string, generation uint64) {
	for _, sink := range m {
		sink.JobQueued(kind, identity, generation)
	}
}

func (m MultiSink) Chunk(chunk Chunk) {
	for _, sink := range m {
		sink.Chunk(chunk)
	}
}

func (m MultiSink) Terminal(outcome Outcome) {
	for _, sink := range m {
		sink.Terminal(outcome)
	}
}

type nopSink struct{}

func (nopSink) JobQueued(Kind, string, uint64) {}
func (nopSink) Chunk(Chunk)                    {}
func (nopSink) Terminal(Outcome)               {}
