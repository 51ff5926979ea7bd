// Package resolve maps a C/C++ file to its header or implementation
// counterpart and an #include directive to the file it names, answering
// from the remote index cache only.
package resolve

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/remotecpp-dev/remotecpp/internal/fileutil"
	"github.com/remotecpp-dev/remotecpp/internal/index"
	"github.com/remotecpp-dev/remotecpp/internal/rpath"
)

var (
	DefaultHeaderExtensions = []string{"h", "hpp", "hh"}
	DefaultSourceExtensions = []string{"c", "cc", "cpp"}
)

type Kind int

const (
	NotFound Kind = iota
	Unique
	Ambiguous
)

func (k Kind) String() string {
	switch k {
	case Unique:
		return "unique"
	case Ambiguous:
		return "ambiguous"
	default:
		return "not_found"
	}
}

// Resolution is the result of a lookup. Path is set for Unique; Candidates
// holds every match in priority order for Unique and Ambiguous.
type Resolution struct {
	Kind       Kind
	Path       string
	Candidates []string
}

func resolution(candidates []string) Resolution {
	switch len(candidates) {
	case 0:
		return Resolution{Kind: NotFound}
	case 1:
		return Resolution{Kind: Unique, Path: candidates[0], Candidates: candidates}
	default:
		return Resolution{Kind: Ambiguous, Candidates: candidates}
	}
}

// IndexNotReadyError means a directory needed for the answer has not been
// listed yet. Callers should trigger a listing of Dir and retry.
type IndexNotReadyError struct {
	Dir string
}

func (e *IndexNotReadyError) Error() string {
	return fmt.Sprintf("remote index has no listing for %s yet", e.Dir)
}

type Options struct {
	// Root is the project root on the remote host.
	Root string
	// IncludeRoots are searched after Root, in order.
	IncludeRoots     []string
	HeaderExtensions []string
	SourceExtensions []string
}

type Resolver struct {
	cache   *index.Cache
	roots   []string
	headers map[string]bool
	sources map[string]bool
	order   map[string][]string
}

func New(cache *index.Cache, opts Options) *Resolver {
	headers := normalizeExtensions(opts.HeaderExtensions, DefaultHeaderExtensions)
	sources := normalizeExtensions(opts.SourceExtensions, DefaultSourceExtensions)

	roots := make([]string, 0, 1+len(opts.IncludeRoots))
	seen := make(map[string]bool)
	for _, root := range append([]string{opts.Root}, opts.IncludeRoots...) {
		if strings.TrimSpace(root) == "" {
			continue
		}
		root = rpath.Clean(root)
		if seen[root] {
			continue
		}
		seen[root] = true
		roots = append(roots, root)
	}

	r := &Resolver{
		cache:   cache,
		roots:   roots,
		headers: fileutil.ToSet(headers),
		sources: fileutil.ToSet(sources),
		order:   map[string][]string{"header": headers, "source": sources},
	}
	return r
}

// Roots returns the search roots in priority order.
func (r *Resolver) Roots() []string {
	return append([]string(nil), r.roots...)
}

// ToggleCandidates finds the counterpart of path: implementations for a
// header and headers for an implementation file. The file's own directory
// is searched first; only when it has no match are the roots searched, each
// with the path re-rooted relative to the most specific root containing the
// file.
func (r *Resolver) ToggleCandidates(p string) (Resolution, error) {
	p = rpath.Clean(p)
	ext := strings.ToLower(rpath.Ext(p))
	var targets []string
	switch {
	case r.headers[ext]:
		targets = r.order["source"]
	case r.sources[ext]:
		targets = r.order["header"]
	default:
		return Resolution{Kind: NotFound}, nil
	}

	dir := rpath.Dir(p)
	stem := rpath.Base(rpath.Stem(p))
	local, err := r.siblings(dir, stem, targets)
	if err != nil {
		return Resolution{}, err
	}
	if len(local) > 0 {
		return resolution(local), nil
	}

	_, rel, ok := r.containingRoot(dir)
	if !ok {
		return Resolution{Kind: NotFound}, nil
	}

	candidates := make([]string, 0)
	seen := make(map[string]bool)
	var notReady error
	for _, root := range r.roots {
		searchDir := rpath.Join(root, rel)
		if searchDir == dir {
			continue
		}
		matches, err := r.siblings(searchDir, stem, targets)
		if err != nil {
			if notReady == nil {
				notReady = err
			}
			continue
		}
		for _, match := range matches {
			if !seen[match] {
				seen[match] = true
				candidates = append(candidates, match)
			}
		}
	}
	if len(candidates) == 0 && notReady != nil {
		return Resolution{}, notReady
	}
	return resolution(candidates), nil
}

var includePattern = regexp.MustCompile(`^\s*#\s*(include|import)\s*([<"])([^>"]+)[>"]`)

// ParseIncludeLiteral extracts the target from `"x"`, `<x>`, or a full
// #include line. system reports angle brackets.
func ParseIncludeLiteral(literal string) (target string, system bool, err error) {
	literal = strings.TrimSpace(literal)
	if m := includePattern.FindStringSubmatch(literal); m != nil {
		return strings.TrimSpace(m[3]), m[2] == "<", nil
	}
	if len(literal) >= 2 {
		switch {
		case literal[0] == '"' && literal[len(literal)-1] == '"':
			return strings.TrimSpace(literal[1 : len(literal)-1]), false, nil
		case literal[0] == '<' && literal[len(literal)-1] == '>':
			return strings.TrimSpace(literal[1 : len(literal)-1]), true, nil
		}
	}
	return "", false, fmt.Errorf("not an include literal: %q", literal)
}

// IncludeTarget resolves the include literal found in the file at p.
// Quoted includes search the including file's directory first, then the
// roots; angle-bracket includes search the roots only.
func (r *Resolver) IncludeTarget(p, literal string) (Resolution, error) {
	target, system, err := ParseIncludeLiteral(literal)
	if err != nil {
		return Resolution{}, err
	}
	if target == "" {
		return Resolution{Kind: NotFound}, nil
	}
	if strings.HasPrefix(target, "/") {
		return r.lookupAll([]string{rpath.Clean(target)})
	}

	dirs := make([]string, 0, len(r.roots)+1)
	if !system {
		dirs = append(dirs, rpath.Dir(rpath.Clean(p)))
	}
	dirs = append(dirs, r.roots...)

	candidates := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		candidates = append(candidates, rpath.Join(dir, target))
	}
	return r.lookupAll(candidates)
}

// lookupAll checks candidates in order. A candidate whose directory has no
// listing yet makes the answer not ready, unless an earlier candidate
// already matched.
func (r *Resolver) lookupAll(candidates []string) (Resolution, error) {
	found := make([]string, 0)
	seen := make(map[string]bool)
	for _, candidate := range candidates {
		if seen[candidate] {
			continue
		}
		seen[candidate] = true

		if entry, ok := r.cache.Lookup(candidate); ok {
			if !entry.IsDir() {
				found = append(found, candidate)
			}
			continue
		}
		if dir, ready := r.listedAncestor(rpath.Dir(candidate)); !ready && len(found) == 0 {
			return Resolution{}, &IndexNotReadyError{Dir: dir}
		}
	}
	return resolution(found), nil
}

// listedAncestor walks up from dir to the first listed directory. The
// answer is ready when dir itself is listed or when some ancestor is listed
// and lacks the next path segment, which proves dir does not exist.
func (r *Resolver) listedAncestor(dir string) (string, bool) {
	if r.cache.HasListing(dir) {
		return dir, true
	}
	child := dir
	for _, ancestor := range rpath.Ancestors(dir) {
		if r.cache.HasListing(ancestor) {
			if _, ok := r.cache.Lookup(child); ok {
				// child exists but was never listed
				return child, false
			}
			return ancestor, true
		}
		child = ancestor
	}
	return dir, false
}

func (r *Resolver) siblings(dir, stem string, extensions []string) ([]string, error) {
	if !r.cache.HasListing(dir) {
		if _, ready := r.listedAncestor(dir); ready {
			return nil, nil
		}
		return nil, &IndexNotReadyError{Dir: dir}
	}
	children, _ := r.cache.Children(dir)
	byLower := make(map[string][]string)
	for _, child := range children {
		if child.IsDir() {
			continue
		}
		childStem := rpath.Base(rpath.Stem(child.Name))
		if childStem != stem {
			continue
		}
		ext := strings.ToLower(rpath.Ext(child.Name))
		byLower[ext] = append(byLower[ext], child.Path())
	}

	out := make([]string, 0)
	for _, ext := range extensions {
		out = append(out, byLower[ext]...)
	}
	return out, nil
}

// containingRoot returns the most specific root containing dir and dir
// relative to it.
func (r *Resolver) containingRoot(dir string) (string, string, bool) {
	best := ""
	for _, root := range r.roots {
		if rpath.IsUnder(dir, root) && len(root) > len(best) {
			best = root
		}
	}
	if best == "" {
		return "", "", false
	}
	rel, _ := rpath.Rel(best, dir)
	return best, rel, true
}

func normalizeExtensions(values, fallback []string) []string {
	if len(values) == 0 {
		values = fallback
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]bool)
	for _, value := range values {
		value = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(value), "."))
		if value == "" || seen[value] {
			continue
		}
		seen[value] = true
		out = append(out, value)
	}
	return out
}
