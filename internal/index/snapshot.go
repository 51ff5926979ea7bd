package index

import (
	"sort"

	"github.com/remotecpp-dev/remotecpp/internal/metrics"
	"github.com/remotecpp-dev/remotecpp/internal/rpath"
)

// Listing is the persisted form of one listed directory.
type Listing struct {
	Dir   string   `cbor:"dir" json:"dir"`
	Files []string `cbor:"files,omitempty" json:"files,omitempty"`
	Dirs  []string `cbor:"dirs,omitempty" json:"dirs,omitempty"`
}

// Snapshot returns the listings under any of roots, sorted by directory.
// With no roots every listing is returned.
func (c *Cache) Snapshot(roots []string) []Listing {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Listing, 0, len(c.dirs))
	for dir, entries := range c.dirs {
		if !underAny(dir, roots) {
			continue
		}
		files, dirs := splitSorted(entries)
		out = append(out, Listing{Dir: dir, Files: files, Dirs: dirs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dir < out[j].Dir })
	return out
}

// Restore replaces the whole cache with listings.
func (c *Cache) Restore(listings []Listing) {
	dirs := make(map[string]map[string]EntryKind, len(listings))
	entries := 0
	for _, listing := range listings {
		dir := rpath.Clean(listing.Dir)
		children := make(map[string]EntryKind, len(listing.Files)+len(listing.Dirs))
		for _, name := range listing.Files {
			children[name] = File
		}
		for _, name := range listing.Dirs {
			children[name] = Directory
		}
		dirs[dir] = children
		entries += len(children)
	}

	c.mu.Lock()
	c.dirs = dirs
	c.entries = entries
	c.mu.Unlock()
	metrics.SetIndexEntries(entries)
}

func underAny(dir string, roots []string) bool {
	if len(roots) == 0 {
		return true
	}
	for _, root := range roots {
		if rpath.IsUnder(dir, root) {
			return true
		}
	}
	return false
}
