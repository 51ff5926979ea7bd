// Package session wires the remote index, job scheduler, output surfaces
// and local mirror for one project on one remote host.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/remotecpp-dev/remotecpp/internal/config"
	"github.com/remotecpp-dev/remotecpp/internal/ignore"
	"github.com/remotecpp-dev/remotecpp/internal/includes"
	"github.com/remotecpp-dev/remotecpp/internal/index"
	"github.com/remotecpp-dev/remotecpp/internal/mirror"
	"github.com/remotecpp-dev/remotecpp/internal/resolve"
	"github.com/remotecpp-dev/remotecpp/internal/rpath"
	"github.com/remotecpp-dev/remotecpp/internal/scheduler"
	"github.com/remotecpp-dev/remotecpp/internal/state"
	"github.com/remotecpp-dev/remotecpp/internal/surface"
	"github.com/remotecpp-dev/remotecpp/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Config    config.Config
	Transport transport.Transport
	// Host receives surface updates. Nil discards them.
	Host surface.Host
	// StatePath is where the index and surfaces are persisted. Empty
	// disables persistence.
	StatePath string
	// MirrorDir holds local copies of remote files.
	MirrorDir string
	Logger    *zap.Logger
	Now       func() time.Time
}

type Session struct {
	cfg       config.Config
	root      string
	transport transport.Transport
	logger    *zap.Logger
	now       func() time.Time

	cache      *index.Cache
	registry   *surface.Registry
	dispatcher *surface.Dispatcher
	scheduler  *scheduler.Scheduler
	resolver   *resolve.Resolver
	mirror     *mirror.Mirror
	extractor  *includes.Extractor
	policy     scheduler.Policy

	statePath   string
	compression state.CompressionTag
	saveMu      sync.Mutex

	// startMu serializes surface binding with submission so that an
	// attaching request finds the surface of the job it joins.
	startMu sync.Mutex
	active  map[scheduler.Key]surface.ID

	cancel    context.CancelFunc
	group     *errgroup.Group
	closeOnce sync.Once
	closeErr  error
}

// Stats summarizes a session for status output.
type Stats struct {
	Index    index.Stats `json:"index"`
	Surfaces int         `json:"surfaces"`
	InFlight int         `json:"in_flight"`
}

// New validates cfg, restores persisted state and starts delivery. A
// corrupt or foreign state file is discarded with a warning.
func New(opts Options) (*Session, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Transport == nil {
		return nil, errors.New("session requires a transport")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	host := opts.Host
	if host == nil {
		host = nopHost{}
	}
	policy, err := scheduler.ParsePolicy(cfg.DuplicatePolicy)
	if err != nil {
		return nil, err
	}
	compression, err := state.ParseCompressionTag(cfg.State.Compression)
	if err != nil {
		return nil, err
	}

	root := rpath.Clean(cfg.Root)
	logger := opts.Logger.Named("session")
	cache := index.New(index.Options{Ignore: ignore.NewMatcher(cfg.Ignore), Logger: opts.Logger})
	registry := surface.NewRegistry(map[scheduler.Kind]bool{
		scheduler.KindList:    cfg.SingleSurface.List,
		scheduler.KindGrep:    cfg.SingleSurface.Grep,
		scheduler.KindBuild:   cfg.SingleSurface.Build,
		scheduler.KindCommand: cfg.SingleSurface.Command,
	})

	s := &Session{
		cfg:         cfg,
		root:        root,
		transport:   opts.Transport,
		logger:      logger,
		now:         opts.Now,
		cache:       cache,
		registry:    registry,
		policy:      policy,
		statePath:   opts.StatePath,
		compression: compression,
		active:      make(map[scheduler.Key]surface.ID),
		extractor:   includes.NewExtractor(),
		resolver: resolve.New(cache, resolve.Options{
			Root:             root,
			IncludeRoots:     cfg.IncludeRoots,
			HeaderExtensions: cfg.Toggle.HeaderExtensions,
			SourceExtensions: cfg.Toggle.SourceExtensions,
		}),
	}
	if opts.MirrorDir != "" {
		s.mirror = mirror.New(opts.MirrorDir, cfg.SSH.Host, root)
	}

	s.restore()

	s.scheduler = scheduler.New(opts.Transport, scheduler.Options{
		Workers: cfg.Workers,
		Policy:  policy,
		Timeout: cfg.JobTimeout.Std(),
		Logger:  opts.Logger,
	})
	for kind, generation := range registry.MaxGenerations() {
		s.scheduler.SeedGeneration(kind, generation)
	}
	s.dispatcher = surface.NewDispatcher(registry, host, surface.Options{
		FlushInterval: cfg.FlushInterval.Std(),
		Logger:        opts.Logger,
		Now:           opts.Now,
	})

	ctx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(ctx)
	s.cancel = cancel
	s.group = group
	group.Go(func() error {
		return s.dispatcher.Run(groupCtx)
	})
	if interval := cfg.State.CheckpointInterval.Std(); interval > 0 && s.statePath != "" {
		group.Go(func() error {
			s.checkpointLoop(groupCtx, interval)
			return nil
		})
	}
	return s, nil
}

func (s *Session) restore() {
	if s.statePath == "" {
		return
	}
	snap, err := state.LoadFile(s.statePath)
	switch {
	case err != nil:
		s.logger.Warn("starting with empty state", zap.String("path", s.statePath), zap.Error(err))
		return
	case snap.Empty():
		return
	case !snap.Matches(s.cfg.SSH.Host, s.root):
		s.logger.Info("ignoring state saved for another project",
			zap.String("host", snap.Host),
			zap.String("root", snap.Root),
		)
		return
	}
	s.cache.Restore(snap.Listings)
	s.registry.Restore(snap.Surfaces)
	s.logger.Debug("restored state",
		zap.Int("listings", len(snap.Listings)),
		zap.Int("surfaces", len(snap.Surfaces)),
	)
}

func (s *Session) checkpointLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Checkpoint(); err != nil {
				s.logger.Warn("checkpoint failed", zap.Error(err))
			}
		}
	}
}

// Checkpoint persists the index under the search roots and every bound
// surface.
func (s *Session) Checkpoint() error {
	if s.statePath == "" {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	snap := state.Snapshot{
		SavedAt:  s.now(),
		Host:     s.cfg.SSH.Host,
		Root:     s.root,
		Listings: s.cache.Snapshot(s.resolver.Roots()),
		Surfaces: s.registry.Snapshot(),
	}
	if err := state.SaveFile(s.statePath, snap, state.Options{Compression: s.compression}); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// Close cancels outstanding jobs, delivers their terminal updates and
// saves state.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.scheduler.Close(); err != nil {
			errs = append(errs, err)
		}
		syncCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.dispatcher.Sync(syncCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush surfaces: %w", err))
		}
		cancel()
		s.cancel()
		if err := s.group.Wait(); err != nil {
			errs = append(errs, err)
		}
		if err := s.Checkpoint(); err != nil {
			errs = append(errs, err)
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func (s *Session) Root() string {
	return s.root
}

func (s *Session) Config() config.Config {
	return s.cfg
}

// Abs resolves p against the project root.
func (s *Session) Abs(p string) string {
	return rpath.Resolve(s.root, p)
}

func (s *Session) Stats() Stats {
	return Stats{
		Index:    s.cache.Stats(),
		Surfaces: len(s.registry.Snapshot()),
		InFlight: s.scheduler.InFlight(),
	}
}

// Surfaces returns every bound surface.
func (s *Session) Surfaces() []surface.Surface {
	return s.registry.Snapshot()
}

// Unbind forgets a surface the host closed.
func (s *Session) Unbind(id surface.ID) bool {
	if !s.registry.Unbind(id) {
		return false
	}
	s.dispatcher.Forget(id)
	return true
}

// Sync waits until every surface update produced so far reached the host.
func (s *Session) Sync(ctx context.Context) error {
	return s.dispatcher.Sync(ctx)
}

type nopHost struct{}

func (nopHost) OnSurfaceReset(surface.Reset)           {}
func (nopHost) OnOutputChunk(surface.Output)           {}
func (nopHost) OnNavigationEntries(surface.Navigation) {}
func (nopHost) OnJobTerminal(surface.Terminal)         {}
