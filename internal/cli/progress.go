package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
)

const progressInterval = 120 * time.Millisecond

// progressReporter draws a spinner on stderr while a remote operation runs.
// It stays silent unless stderr is a terminal.
type progressReporter struct {
	enabled bool
	out     io.Writer
	label   string
	start   time.Time
	spinner int
	lastLen int
	stop    chan struct{}
	done    chan struct{}
}

func newProgressReporter(label string, asJSON bool) *progressReporter {
	return &progressReporter{
		enabled: !asJSON && term.IsTerminal(int(os.Stderr.Fd())),
		out:     os.Stderr,
		label:   label,
		start:   time.Now(),
	}
}

func (r *progressReporter) Start() {
	if !r.enabled {
		return
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			r.update()
			select {
			case <-r.stop:
				return
			case <-ticker.C:
			}
		}
	}()
}

func (r *progressReporter) update() {
	frames := [4]string{"-", "\\", "|", "/"}
	frame := frames[r.spinner%len(frames)]
	r.spinner++
	elapsed := time.Since(r.start).Round(100 * time.Millisecond)
	r.printStatus(fmt.Sprintf("%s %s (%s)", frame, r.label, elapsed))
}

// Stop removes the spinner line.
func (r *progressReporter) Stop() {
	if !r.enabled || r.stop == nil {
		return
	}
	close(r.stop)
	<-r.done
	r.stop = nil
	fmt.Fprintf(r.out, "\r%s\r", strings.Repeat(" ", r.lastLen))
}

func (r *progressReporter) printStatus(status string) {
	if r.lastLen > len(status) {
		status = status + strings.Repeat(" ", r.lastLen-len(status))
	}
	r.lastLen = len(status)
	fmt.Fprintf(r.out, "\r%s", status)
}

// withProgress runs fn with a spinner labelled label.
func withProgress(label string, asJSON bool, fn func() error) error {
	reporter := newProgressReporter(label, asJSON)
	reporter.Start()
	defer reporter.Stop()
	return fn()
}
