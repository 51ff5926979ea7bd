// Package mirror maps remote files to local copies that an editor can open.
//
// Each project gets its own directory named after a BLAKE3 digest of the
// host and project root, and a remote path /a/b.cc lives at <dir>/a/b.cc.
package mirror

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/remotecpp-dev/remotecpp/internal/rpath"
	"github.com/zeebo/blake3"
)

type Mirror struct {
	base string
	dir  string
	host string
	root string
}

// New returns the mirror for root on host below base. Nothing is created
// on disk until a file is placed.
func New(base, host, root string) *Mirror {
	return &Mirror{
		base: base,
		dir:  filepath.Join(base, Key(host, root)),
		host: host,
		root: rpath.Clean(root),
	}
}

// Key is the directory name used for a host and root.
func Key(host, root string) string {
	sum := blake3.Sum256([]byte(host + "\x00" + rpath.Clean(root)))
	return hex.EncodeToString(sum[:8])
}

func (m *Mirror) Dir() string {
	return m.dir
}

// LocalPath returns where the copy of remote is kept.
func (m *Mirror) LocalPath(remote string) string {
	clean := rpath.Clean(remote)
	return filepath.Join(m.dir, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
}

// RemoteFor maps a local path back to its remote path. It fails for paths
// outside the mirror.
func (m *Mirror) RemoteFor(local string) (string, bool) {
	abs, err := filepath.Abs(local)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(m.dir, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rpath.Clean("/" + filepath.ToSlash(rel)), true
}

// Exists reports whether a local copy of remote is present.
func (m *Mirror) Exists(remote string) bool {
	info, err := os.Stat(m.LocalPath(remote))
	return err == nil && !info.IsDir()
}

// Prepare creates the parent directory for the copy of remote and returns
// its local path.
func (m *Mirror) Prepare(remote string) (string, error) {
	local := m.LocalPath(remote)
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return "", fmt.Errorf("failed to create mirror directory: %w", err)
	}
	return local, nil
}

// Remove deletes the copy of remote, or the copied subtree when remote is a
// directory. Missing copies are not an error.
func (m *Mirror) Remove(remote string) error {
	local := m.LocalPath(remote)
	if local == m.dir {
		return errors.New("refusing to remove the mirror root")
	}
	if err := os.RemoveAll(local); err != nil {
		return fmt.Errorf("failed to remove mirrored copy: %w", err)
	}
	return nil
}

// Move renames the copy of src to dst when it exists.
func (m *Mirror) Move(src, dst string) error {
	from := m.LocalPath(src)
	if _, err := os.Stat(from); os.IsNotExist(err) {
		return nil
	}
	to, err := m.Prepare(dst)
	if err != nil {
		return err
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("failed to move mirrored copy: %w", err)
	}
	return nil
}

// Clear removes this project's mirror.
func (m *Mirror) Clear() error {
	return os.RemoveAll(m.dir)
}

// ClearAll removes the mirrors of every project below base.
func ClearAll(base string) error {
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(base, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
