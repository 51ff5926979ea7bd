package session

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/remotecpp-dev/remotecpp/internal/outparse"
	"github.com/remotecpp-dev/remotecpp/internal/resolve"
	"github.com/remotecpp-dev/remotecpp/internal/rpath"
	"github.com/remotecpp-dev/remotecpp/internal/search"
	"github.com/remotecpp-dev/remotecpp/internal/surface"
	"go.uber.org/zap"
)

// ErrNoEntry means a surface line has no navigation entry.
var ErrNoEntry = errors.New("no navigation entry on that line")

// NoIncludeError means the requested line holds no include directive.
type NoIncludeError struct {
	Path string
	Line int
}

func (e *NoIncludeError) Error() string {
	return fmt.Sprintf("no #include directive on line %d of %s", e.Line, e.Path)
}

// Location is a place in a remote file, with its local copy when one
// exists.
type Location struct {
	Remote string `json:"remote"`
	Local  string `json:"local,omitempty"`
	Line   int    `json:"line"`
	Column int    `json:"column,omitempty"`
}

// Toggle returns the header or implementation counterpart of p. When the
// index lacks a needed directory it is listed once and the lookup retried.
func (s *Session) Toggle(ctx context.Context, p string) (resolve.Resolution, error) {
	p = s.Abs(p)
	return s.resolveWithRefresh(ctx, func() (resolve.Resolution, error) {
		return s.resolver.ToggleCandidates(p)
	})
}

// Include resolves an include literal ("x.h", <x.h> or a whole #include
// line) as written in the file at p.
func (s *Session) Include(ctx context.Context, p, literal string) (resolve.Resolution, error) {
	p = s.Abs(p)
	return s.resolveWithRefresh(ctx, func() (resolve.Resolution, error) {
		return s.resolver.IncludeTarget(p, literal)
	})
}

// GotoInclude resolves the include directive on a 1-based line of the
// mirrored copy of p, downloading the copy first when needed.
func (s *Session) GotoInclude(ctx context.Context, p string, line int) (resolve.Resolution, error) {
	remote := s.Abs(p)
	local, err := s.Open(ctx, remote, false)
	if err != nil {
		return resolve.Resolution{}, err
	}
	content, err := os.ReadFile(local)
	if err != nil {
		return resolve.Resolution{}, fmt.Errorf("failed to read %s: %w", local, err)
	}
	directive, ok, err := s.extractor.At(ctx, content, line)
	if err != nil {
		return resolve.Resolution{}, fmt.Errorf("failed to parse %s: %w", remote, err)
	}
	if !ok {
		return resolve.Resolution{}, &NoIncludeError{Path: remote, Line: line}
	}
	return s.Include(ctx, remote, directive.Literal)
}

func (s *Session) resolveWithRefresh(ctx context.Context, lookup func() (resolve.Resolution, error)) (resolve.Resolution, error) {
	res, err := lookup()
	var notReady *resolve.IndexNotReadyError
	if !errors.As(err, &notReady) {
		return res, err
	}

	dir := s.refreshTarget(notReady.Dir)
	s.logger.Debug("index not ready, listing", zap.String("missing", notReady.Dir), zap.String("dir", dir))
	job, err := s.Refresh(dir)
	if err != nil {
		return resolve.Resolution{}, err
	}
	if _, err := job.Wait(ctx); err != nil {
		return resolve.Resolution{}, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	return lookup()
}

// refreshTarget returns the most specific search root containing missing.
func (s *Session) refreshTarget(missing string) string {
	best := ""
	for _, root := range s.resolver.Roots() {
		if rpath.IsUnder(missing, root) && len(root) > len(best) {
			best = root
		}
	}
	if best == "" {
		return missing
	}
	return best
}

// Entries returns the navigation entries currently shown on a surface.
func (s *Session) Entries(id surface.ID) []outparse.Entry {
	return s.dispatcher.Entries(id)
}

// Activate maps a 0-based surface line to the location it points at and
// makes sure a local copy of the file exists.
func (s *Session) Activate(ctx context.Context, id surface.ID, line int) (Location, error) {
	entry, ok := s.dispatcher.EntryAt(id, line)
	if !ok {
		return Location{}, ErrNoEntry
	}
	loc := Location{Remote: entry.File, Line: entry.Line, Column: entry.Column}
	if s.mirror == nil {
		return loc, nil
	}
	local, err := s.Open(ctx, entry.File, false)
	if err != nil {
		return loc, err
	}
	loc.Local = local
	return loc, nil
}

// Find ranks indexed files under the project root for quick-open.
func (s *Session) Find(query string, limit int) []search.Result {
	idx := search.Build(s.root, s.cache.ListUnder(s.root))
	return search.Search(idx, query, limit)
}
