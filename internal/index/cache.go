// Package index caches the remote file tree built from list job output.
//
// The cache stores one listing per remote directory. A listing is replaced
// wholesale when fresh output for that directory arrives, and patched one
// entry at a time by editor actions through ApplyDelta. Entries refer to
// their parent by path; the cache owns every entry.
package index

import (
	"errors"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/remotecpp-dev/remotecpp/internal/ignore"
	"github.com/remotecpp-dev/remotecpp/internal/metrics"
	"github.com/remotecpp-dev/remotecpp/internal/rpath"
	"go.uber.org/zap"
)

type EntryKind int

const (
	File EntryKind = iota
	Directory
)

func (k EntryKind) String() string {
	if k == Directory {
		return "directory"
	}
	return "file"
}

type Entry struct {
	Name   string
	Kind   EntryKind
	Parent string
}

func (e Entry) Path() string {
	return rpath.Join(e.Parent, e.Name)
}

func (e Entry) IsDir() bool {
	return e.Kind == Directory
}

// NewEntry builds an entry for the remote path p.
func NewEntry(p string, kind EntryKind) Entry {
	p = rpath.Clean(p)
	return Entry{Name: rpath.Base(p), Kind: kind, Parent: rpath.Dir(p)}
}

type Op int

const (
	Insert Op = iota
	Remove
)

func (o Op) String() string {
	if o == Remove {
		return "remove"
	}
	return "insert"
}

// ErrNotListed is returned by ApplyDelta when no listing covers the entry,
// so the change can only be learned from a fresh listing.
var ErrNotListed = errors.New("no listing covers the entry")

type Options struct {
	Ignore *ignore.Matcher
	Logger *zap.Logger
}

type Cache struct {
	mu      sync.RWMutex
	dirs    map[string]map[string]EntryKind
	entries int

	ignore *ignore.Matcher
	logger *zap.Logger
}

func New(opts Options) *Cache {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Cache{
		dirs:   make(map[string]map[string]EntryKind),
		ignore: opts.Ignore,
		logger: opts.Logger.Named("index"),
	}
}

// Ingest replaces every entry directly under parent. Subdirectories that
// vanish from the listing take their cached subtree with them.
func (c *Cache) Ingest(parent string, entries []Entry) {
	parent = rpath.Clean(parent)
	listing := make(map[string]EntryKind, len(entries))
	for _, entry := range entries {
		name := strings.Trim(entry.Name, "/")
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		listing[name] = entry.Kind
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.replaceLocked(parent, listing)
	metrics.SetIndexEntries(c.entries)
}

// IngestListing ingests the output of a recursive file listing run in root.
// Paths may be relative to root (optionally "./" prefixed) or absolute.
// Every directory below root is replaced by what the listing shows, and
// cached directories the listing no longer mentions are dropped.
func (c *Cache) IngestListing(root string, paths []string) int {
	start := time.Now()
	root = rpath.Clean(root)
	listings := map[string]map[string]EntryKind{root: {}}
	files := 0

	for _, raw := range paths {
		raw = strings.TrimRight(raw, "\r")
		if strings.TrimSpace(raw) == "" || raw == "." || raw == "./" {
			continue
		}
		full := rpath.Resolve(root, raw)
		rel, ok := rpath.Rel(root, full)
		if !ok || rel == "." {
			continue
		}
		if c.ignore != nil && c.ignore.ShouldIgnore(rel, false) {
			continue
		}

		child := full
		kind := File
		for child != root {
			dir := rpath.Dir(child)
			listing, ok := listings[dir]
			if !ok {
				listing = make(map[string]EntryKind)
				listings[dir] = listing
			}
			name := rpath.Base(child)
			if existing, seen := listing[name]; seen && existing == Directory {
				break
			}
			listing[name] = kind
			child = dir
			kind = Directory
		}
		files++
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for dir := range c.dirs {
		if _, keep := listings[dir]; !keep && rpath.IsUnder(dir, root) {
			c.dropLocked(dir)
		}
	}
	for dir, listing := range listings {
		c.replaceLocked(dir, listing)
	}

	metrics.SetIndexEntries(c.entries)
	metrics.RecordIndexIngest(time.Since(start))
	c.logger.Debug("ingested listing",
		zap.String("root", root),
		zap.Int("files", files),
		zap.Int("directories", len(listings)),
	)
	return files
}

// Lookup returns the cached entry at p.
func (c *Cache) Lookup(p string) (Entry, bool) {
	p = rpath.Clean(p)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p == rpath.Root {
		_, ok := c.dirs[p]
		return Entry{Name: rpath.Root, Kind: Directory, Parent: rpath.Root}, ok
	}
	parent := rpath.Dir(p)
	kind, ok := c.dirs[parent][rpath.Base(p)]
	if !ok {
		return Entry{}, false
	}
	return Entry{Name: rpath.Base(p), Kind: kind, Parent: parent}, true
}

// HasListing reports whether dir has been listed.
func (c *Cache) HasListing(dir string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.dirs[rpath.Clean(dir)]
	return ok
}

// Children returns the entries directly under dir sorted by name, and false
// when dir has no listing.
func (c *Cache) Children(dir string) ([]Entry, bool) {
	dir = rpath.Clean(dir)
	c.mu.RLock()
	defer c.mu.RUnlock()
	listing, ok := c.dirs[dir]
	if !ok {
		return nil, false
	}
	out := make([]Entry, 0, len(listing))
	for name, kind := range listing {
		out = append(out, Entry{Name: name, Kind: kind, Parent: dir})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, true
}

// ListUnder yields every cached entry below prefix. The cache is copied
// when ListUnder is called; the walk itself runs lazily over that copy, so
// the sequence can be iterated repeatedly and never observes later
// mutations. Within a directory files come first, then each subdirectory
// followed by its contents.
func (c *Cache) ListUnder(prefix string) iter.Seq[Entry] {
	prefix = rpath.Clean(prefix)
	snapshot := make(map[string]map[string]EntryKind)

	c.mu.RLock()
	for dir, listing := range c.dirs {
		if !rpath.IsUnder(dir, prefix) {
			continue
		}
		copied := make(map[string]EntryKind, len(listing))
		for name, kind := range listing {
			copied[name] = kind
		}
		snapshot[dir] = copied
	}
	var single *Entry
	if _, listed := c.dirs[prefix]; !listed && prefix != rpath.Root {
		if kind, ok := c.dirs[rpath.Dir(prefix)][rpath.Base(prefix)]; ok && kind == File {
			single = &Entry{Name: rpath.Base(prefix), Kind: File, Parent: rpath.Dir(prefix)}
		}
	}
	c.mu.RUnlock()

	return func(yield func(Entry) bool) {
		if single != nil {
			yield(*single)
			return
		}
		walk(snapshot, prefix, yield)
	}
}

func walk(dirs map[string]map[string]EntryKind, dir string, yield func(Entry) bool) bool {
	listing, ok := dirs[dir]
	if !ok {
		return true
	}
	files, subdirs := splitSorted(listing)
	for _, name := range files {
		if !yield(Entry{Name: name, Kind: File, Parent: dir}) {
			return false
		}
	}
	for _, name := range subdirs {
		if !yield(Entry{Name: name, Kind: Directory, Parent: dir}) {
			return false
		}
		if !walk(dirs, rpath.Join(dir, name), yield) {
			return false
		}
	}
	return true
}

func splitSorted(listing map[string]EntryKind) (files, dirs []string) {
	for name, kind := range listing {
		if kind == Directory {
			dirs = append(dirs, name)
		} else {
			files = append(files, name)
		}
	}
	sort.Strings(files)
	sort.Strings(dirs)
	return files, dirs
}

// ApplyDelta patches a single entry. Insert needs a listing of the entry's
// parent or of one of its ancestors; missing intermediate directories are
// created. Remove drops the entry and any cached subtree and is a no-op when
// the entry is unknown.
func (c *Cache) ApplyDelta(op Op, entry Entry) error {
	parent := rpath.Clean(entry.Parent)
	name := strings.Trim(entry.Name, "/")
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("invalid entry name %q", entry.Name)
	}
	full := rpath.Join(parent, name)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() { metrics.SetIndexEntries(c.entries) }()

	switch op {
	case Remove:
		listing, ok := c.dirs[parent]
		if !ok {
			return nil
		}
		if _, ok := listing[name]; ok {
			delete(listing, name)
			c.entries--
		}
		c.dropSubtreeLocked(full)
		return nil
	case Insert:
		if err := c.ensureDirLocked(parent); err != nil {
			return err
		}
		listing := c.dirs[parent]
		previous, existed := listing[name]
		if existed && previous == Directory && entry.Kind == File {
			c.dropSubtreeLocked(full)
		}
		if !existed {
			c.entries++
		}
		listing[name] = entry.Kind
		if entry.Kind == Directory && (!existed || previous == File) {
			c.dirs[full] = make(map[string]EntryKind)
		}
		return nil
	default:
		return fmt.Errorf("unsupported delta op %d", op)
	}
}

// ensureDirLocked makes sure dir is listed, creating it below its nearest
// listed ancestor when every intermediate directory is new.
func (c *Cache) ensureDirLocked(dir string) error {
	if _, ok := c.dirs[dir]; ok {
		return nil
	}
	if dir == rpath.Root {
		return ErrNotListed
	}
	parent := rpath.Dir(dir)
	if err := c.ensureDirLocked(parent); err != nil {
		return err
	}
	listing := c.dirs[parent]
	name := rpath.Base(dir)
	if kind, ok := listing[name]; ok {
		if kind == Directory {
			// Known but never listed: its contents are unknown.
			return ErrNotListed
		}
		return fmt.Errorf("%s is a file", dir)
	}
	listing[name] = Directory
	c.entries++
	c.dirs[dir] = make(map[string]EntryKind)
	return nil
}

func (c *Cache) replaceLocked(dir string, listing map[string]EntryKind) {
	if old, ok := c.dirs[dir]; ok {
		for name, kind := range old {
			if kind != Directory {
				continue
			}
			if newKind, still := listing[name]; !still || newKind != Directory {
				c.dropSubtreeLocked(rpath.Join(dir, name))
			}
		}
		c.entries -= len(old)
	}
	c.dirs[dir] = listing
	c.entries += len(listing)
}

func (c *Cache) dropLocked(dir string) {
	if old, ok := c.dirs[dir]; ok {
		c.entries -= len(old)
		delete(c.dirs, dir)
	}
}

func (c *Cache) dropSubtreeLocked(dir string) {
	for candidate := range c.dirs {
		if rpath.IsUnder(candidate, dir) {
			c.dropLocked(candidate)
		}
	}
}

type Stats struct {
	Directories int `json:"directories"`
	Entries     int `json:"entries"`
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{Directories: len(c.dirs), Entries: c.entries}
}
