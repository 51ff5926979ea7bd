package fileutil

import (
	"encoding/json"
	"io"
	"sync"
)

// LineWriter writes one JSON document per line. It is safe for concurrent
// use; each record is written with a single Write call.
type LineWriter struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func NewLineWriter(w io.Writer) *LineWriter {
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	return &LineWriter{encoder: encoder}
}

func (l *LineWriter) Write(record any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.encoder.Encode(record)
}
