// Package outparse turns line-oriented tool output into navigation entries:
// compiler diagnostics from builds, matches from grep, and paths from file
// listings.
package outparse

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/remotecpp-dev/remotecpp/internal/rpath"
)

type Grammar int

const (
	Build Grammar = iota
	Grep
	List
)

func (g Grammar) String() string {
	switch g {
	case Grep:
		return "grep"
	case List:
		return "list"
	default:
		return "build"
	}
}

func ParseGrammar(value string) (Grammar, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "build":
		return Build, nil
	case "grep":
		return Grep, nil
	case "list":
		return List, nil
	default:
		return Build, fmt.Errorf("unsupported output grammar %q (supported: build, grep, list)", value)
	}
}

// Entry is a navigation target parsed from output. Entries are never
// modified after they are returned.
type Entry struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column,omitempty"`
	Severity string `json:"severity,omitempty"`
	Message  string `json:"message,omitempty"`
	// SourceLine is the 0-based line of the surface text the entry starts
	// on; EndLine is the last line it covers.
	SourceLine int `json:"source_line"`
	EndLine    int `json:"end_line"`
}

var (
	buildHeaderPattern  = regexp.MustCompile(`^([^:\s][^:]*):(\d+)(?::(\d+))?:(.*)$`)
	includeChainPattern = regexp.MustCompile(`^(?:In file included from|\s+from)\s+([^:]+):(\d+)(?::(\d+))?[:,]?\s*$`)
	severityPattern     = regexp.MustCompile(`(?i)^\s*(fatal error|error|warning|note|remark|info)\s*:\s?(.*)$`)
	grepPattern         = regexp.MustCompile(`^([^:]+):(\d+):(.*)$`)
	ansiPattern         = regexp.MustCompile("\x1b\\[[0-9;]*[A-Za-z]")
)

// ParseBuildOutput parses compiler-style diagnostics of the form
// path:line[:column]: [severity:] message. Lines that do not start a
// diagnostic continue the previous one and are dropped when there is none.
func ParseBuildOutput(workDir, text string) []Entry {
	return parseAll(Build, workDir, text)
}

// ParseGrepOutput parses path:line:content matches. Only the first two
// colons are structural; content is kept byte for byte.
func ParseGrepOutput(workDir, text string) []Entry {
	return parseAll(Grep, workDir, text)
}

// ParseListOutput treats every non-empty line as a path.
func ParseListOutput(workDir, text string) []Entry {
	return parseAll(List, workDir, text)
}

func parseAll(grammar Grammar, workDir, text string) []Entry {
	s := NewStream(grammar, workDir, 0)
	entries := s.Feed([]byte(text))
	return append(entries, s.Close()...)
}

// EntryAt returns the entry covering the given 0-based surface line. Build
// surfaces map any line to the closest diagnostic starting at or above it;
// grep and list lines only map to an entry parsed from that line.
func EntryAt(grammar Grammar, entries []Entry, line int) (Entry, bool) {
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].SourceLine > line
	})
	if i == 0 {
		return Entry{}, false
	}
	entry := entries[i-1]
	if grammar != Build && line > entry.EndLine {
		return Entry{}, false
	}
	return entry, true
}

// Stream parses output incrementally. Feed accepts arbitrary chunks and
// only parses completed lines; Close flushes the trailing partial line and
// any diagnostic still collecting continuation lines.
type Stream struct {
	grammar Grammar
	workDir string
	partial []byte
	line    int
	pending *Entry
}

// NewStream starts parsing at surface line firstLine.
func NewStream(grammar Grammar, workDir string, firstLine int) *Stream {
	return &Stream{grammar: grammar, workDir: workDir, line: firstLine}
}

// NextLine returns the surface line the next parsed line will occupy.
func (s *Stream) NextLine() int {
	return s.line
}

func (s *Stream) Feed(chunk []byte) []Entry {
	var out []Entry
	data := append(s.partial, chunk...)
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		out = s.parseLine(string(data[:idx]), out)
		data = data[idx+1:]
	}
	s.partial = append([]byte(nil), data...)
	return out
}

func (s *Stream) Close() []Entry {
	var out []Entry
	if len(s.partial) > 0 {
		out = s.parseLine(string(s.partial), out)
		s.partial = nil
	}
	if s.pending != nil {
		out = append(out, *s.pending)
		s.pending = nil
	}
	return out
}

func (s *Stream) parseLine(raw string, out []Entry) []Entry {
	lineNo := s.line
	s.line++
	text := strings.TrimRight(raw, "\r")

	switch s.grammar {
	case Grep:
		if entry, ok := s.parseGrep(text, lineNo); ok {
			out = append(out, entry)
		}
	case List:
		path := strings.TrimSpace(text)
		if path != "" {
			out = append(out, Entry{File: s.resolve(path), Line: 1, SourceLine: lineNo, EndLine: lineNo})
		}
	default:
		out = s.parseBuild(ansiPattern.ReplaceAllString(text, ""), lineNo, out)
	}
	return out
}

func (s *Stream) parseBuild(text string, lineNo int, out []Entry) []Entry {
	entry, ok := s.parseBuildHeader(text, lineNo)
	if ok {
		if s.pending != nil {
			out = append(out, *s.pending)
		}
		s.pending = &entry
		return out
	}
	if s.pending == nil || strings.TrimSpace(text) == "" {
		return out
	}
	if s.pending.Message == "" {
		s.pending.Message = strings.TrimSpace(text)
	} else {
		s.pending.Message += "\n" + text
	}
	s.pending.EndLine = lineNo
	return out
}

func (s *Stream) parseBuildHeader(text string, lineNo int) (Entry, bool) {
	if m := includeChainPattern.FindStringSubmatch(text); m != nil {
		entry, ok := s.newEntry(m[1], m[2], m[3], lineNo)
		if ok {
			entry.Severity = "note"
			entry.Message = "included from here"
		}
		return entry, ok
	}
	m := buildHeaderPattern.FindStringSubmatch(text)
	if m == nil {
		return Entry{}, false
	}
	entry, ok := s.newEntry(m[1], m[2], m[3], lineNo)
	if !ok {
		return Entry{}, false
	}
	rest := m[4]
	if sev := severityPattern.FindStringSubmatch(rest); sev != nil {
		entry.Severity = strings.ToLower(sev[1])
		entry.Message = strings.TrimSpace(sev[2])
	} else {
		entry.Message = strings.TrimSpace(rest)
	}
	return entry, true
}

func (s *Stream) parseGrep(text string, lineNo int) (Entry, bool) {
	m := grepPattern.FindStringSubmatch(text)
	if m == nil {
		return Entry{}, false
	}
	entry, ok := s.newEntry(m[1], m[2], "", lineNo)
	if !ok {
		return Entry{}, false
	}
	entry.Message = m[3]
	return entry, true
}

func (s *Stream) newEntry(path, line, column string, lineNo int) (Entry, bool) {
	lineNum, err := strconv.Atoi(line)
	if err != nil || lineNum <= 0 {
		return Entry{}, false
	}
	entry := Entry{File: s.resolve(path), Line: lineNum, SourceLine: lineNo, EndLine: lineNo}
	if column != "" {
		if col, err := strconv.Atoi(column); err == nil {
			entry.Column = col
		}
	}
	return entry, true
}

func (s *Stream) resolve(path string) string {
	path = strings.TrimSpace(path)
	if s.workDir == "" && !strings.HasPrefix(path, "/") {
		return strings.TrimPrefix(path, "./")
	}
	return rpath.Resolve(s.workDir, path)
}
