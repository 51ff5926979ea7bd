package session

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/remotecpp-dev/remotecpp/internal/index"
	"github.com/remotecpp-dev/remotecpp/internal/rpath"
	"github.com/remotecpp-dev/remotecpp/internal/scheduler"
	"github.com/remotecpp-dev/remotecpp/internal/transport"
	"go.uber.org/zap"
)

// ErrNoMirror is returned by file operations when no mirror directory is
// configured.
var ErrNoMirror = errors.New("no local mirror configured")

// Open returns the local copy of a remote file, downloading it when it is
// missing or refresh is set.
func (s *Session) Open(ctx context.Context, p string, refresh bool) (string, error) {
	if s.mirror == nil {
		return "", ErrNoMirror
	}
	remote := s.Abs(p)
	if !refresh && s.mirror.Exists(remote) {
		return s.mirror.LocalPath(remote), nil
	}
	local, err := s.mirror.Prepare(remote)
	if err != nil {
		return "", err
	}
	if err := s.transport.CopyFromRemote(ctx, remote, local); err != nil {
		return "", fmt.Errorf("failed to download %s: %w", remote, err)
	}
	s.applyDelta(index.Insert, index.NewEntry(remote, index.File))
	return local, nil
}

// Push uploads a saved local copy back to its remote path.
func (s *Session) Push(ctx context.Context, local string) (string, error) {
	if s.mirror == nil {
		return "", ErrNoMirror
	}
	remote, ok := s.mirror.RemoteFor(local)
	if !ok {
		return "", fmt.Errorf("%s is not inside the mirror %s", local, s.mirror.Dir())
	}
	if err := s.transport.CopyToRemote(ctx, local, remote); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", remote, err)
	}
	s.applyDelta(index.Insert, index.NewEntry(remote, index.File))
	return remote, nil
}

// NewFile creates an empty remote file and its local copy.
func (s *Session) NewFile(ctx context.Context, p string) (string, error) {
	remote := s.Abs(p)
	command := transport.Expand(s.cfg.Commands.NewFile, map[string]string{
		"path": remote,
		"dir":  rpath.Dir(remote),
	})
	if err := s.runFileCommand(ctx, "new:"+remote, command); err != nil {
		return "", err
	}
	s.applyDelta(index.Insert, index.NewEntry(remote, index.File))

	if s.mirror == nil {
		return "", nil
	}
	local, err := s.mirror.Prepare(remote)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(local); os.IsNotExist(err) {
		if err := os.WriteFile(local, nil, 0o644); err != nil {
			return "", fmt.Errorf("failed to create local copy: %w", err)
		}
	}
	return local, nil
}

// DeleteFile removes a remote file and its local copy.
func (s *Session) DeleteFile(ctx context.Context, p string) error {
	remote := s.Abs(p)
	if remote == s.root {
		return fmt.Errorf("refusing to remove the project root")
	}
	command := transport.Expand(s.cfg.Commands.Remove, map[string]string{"path": remote})
	if err := s.runFileCommand(ctx, "rm:"+remote, command); err != nil {
		return err
	}
	s.applyDelta(index.Remove, index.NewEntry(remote, index.File))
	if s.mirror != nil {
		return s.mirror.Remove(remote)
	}
	return nil
}

// MoveFile renames a remote file, keeping the index and mirror in step.
func (s *Session) MoveFile(ctx context.Context, src, dst string) (string, error) {
	from, to := s.Abs(src), s.Abs(dst)
	if from == to {
		return "", fmt.Errorf("source and destination are the same: %s", from)
	}
	command := transport.Expand(s.cfg.Commands.Move, map[string]string{
		"src":     from,
		"dst":     to,
		"dst_dir": rpath.Dir(to),
	})
	if err := s.runFileCommand(ctx, "mv:"+from, command); err != nil {
		return "", err
	}

	kind := index.File
	if entry, ok := s.cache.Lookup(from); ok {
		kind = entry.Kind
	}
	s.applyDelta(index.Remove, index.NewEntry(from, kind))
	s.applyDelta(index.Insert, index.NewEntry(to, kind))
	if kind == index.Directory {
		// Insert leaves the moved directory empty; learn its contents.
		if _, err := s.Refresh(to); err != nil {
			s.logger.Warn("failed to list moved directory", zap.String("dir", to), zap.Error(err))
		}
	}

	if s.mirror == nil {
		return "", nil
	}
	if err := s.mirror.Move(from, to); err != nil {
		return "", err
	}
	return s.mirror.LocalPath(to), nil
}

func (s *Session) runFileCommand(ctx context.Context, identity, command string) error {
	handle, err := s.scheduler.Submit(scheduler.Request{
		Kind:     scheduler.KindCommand,
		Identity: identity,
		Command:  transport.InDir(s.root, command),
		Policy:   scheduler.PolicyReject,
		Lane:     identity,
	})
	if err != nil {
		return err
	}
	job := &Job{Handle: handle}
	if _, err := job.Wait(ctx); err != nil {
		return fmt.Errorf("remote command %q failed: %w", command, err)
	}
	return nil
}

// applyDelta patches the index. Paths under directories that were never
// listed are left for the next listing.
func (s *Session) applyDelta(op index.Op, entry index.Entry) {
	err := s.cache.ApplyDelta(op, entry)
	if err != nil && !errors.Is(err, index.ErrNotListed) {
		s.logger.Warn("failed to update index",
			zap.String("op", op.String()),
			zap.String("path", entry.Path()),
			zap.Error(err),
		)
	}
}
