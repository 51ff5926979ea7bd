// Package surface tracks the editor surfaces that show job output and
// delivers that output to them.
//
// A surface is bound to a job kind. Kinds configured as single reuse one
// surface for every job; other kinds get a fresh surface per Bind. Each
// surface remembers the latest generation requested for it, and output
// from any other generation is discarded.
package surface

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/remotecpp-dev/remotecpp/internal/scheduler"
)

type ID string

// Surface is a snapshot of one binding.
type Surface struct {
	ID         ID             `cbor:"id" json:"id"`
	Kind       scheduler.Kind `cbor:"kind" json:"kind"`
	Identity   string         `cbor:"identity" json:"identity"`
	Generation uint64         `cbor:"generation" json:"generation"`
	Single     bool           `cbor:"single" json:"single"`
}

type Registry struct {
	mu       sync.RWMutex
	single   map[scheduler.Kind]bool
	byKind   map[scheduler.Kind]ID
	surfaces map[ID]*Surface
	newID    func() ID
}

// NewRegistry creates a registry where kinds mapped to true share a single
// surface.
func NewRegistry(single map[scheduler.Kind]bool) *Registry {
	copied := make(map[scheduler.Kind]bool, len(single))
	for kind, on := range single {
		copied[kind] = on
	}
	return &Registry{
		single:   copied,
		byKind:   make(map[scheduler.Kind]ID),
		surfaces: make(map[ID]*Surface),
		newID:    func() ID { return ID(uuid.NewString()) },
	}
}

// Bind returns the surface that should show the next job of kind. In single
// mode the existing surface for kind is reused and re-labelled with
// identity.
func (r *Registry) Bind(kind scheduler.Kind, identity string) Surface {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.single[kind] {
		if id, ok := r.byKind[kind]; ok {
			s := r.surfaces[id]
			s.Identity = identity
			return *s
		}
	}

	s := &Surface{ID: r.newID(), Kind: kind, Identity: identity, Single: r.single[kind]}
	r.surfaces[s.ID] = s
	if s.Single {
		r.byKind[kind] = s.ID
	}
	return *s
}

// Unbind forgets a surface, typically because the editor closed it.
func (r *Registry) Unbind(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.surfaces[id]
	if !ok {
		return false
	}
	delete(r.surfaces, id)
	if r.byKind[s.Kind] == id {
		delete(r.byKind, s.Kind)
	}
	return true
}

// Advance records generation as the latest requested for id. Older
// generations are ignored.
func (r *Registry) Advance(id ID, generation uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.surfaces[id]
	if !ok {
		return false
	}
	if generation > s.Generation {
		s.Generation = generation
	}
	return true
}

// Accepts reports whether output of generation may be shown on id.
func (r *Registry) Accepts(id ID, generation uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.surfaces[id]
	return ok && s.Generation == generation
}

func (r *Registry) Get(id ID) (Surface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.surfaces[id]
	if !ok {
		return Surface{}, false
	}
	return *s, true
}

// Snapshot returns every bound surface ordered by kind, then id.
func (r *Registry) Snapshot() []Surface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Surface, 0, len(r.surfaces))
	for _, s := range r.surfaces {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Restore replaces all bindings. A persisted single surface is dropped when
// its kind is no longer configured as single.
func (r *Registry) Restore(surfaces []Surface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.surfaces = make(map[ID]*Surface, len(surfaces))
	r.byKind = make(map[scheduler.Kind]ID)
	for _, s := range surfaces {
		if s.ID == "" {
			continue
		}
		single := r.single[s.Kind]
		if s.Single && !single {
			continue
		}
		if single {
			if _, taken := r.byKind[s.Kind]; taken {
				continue
			}
			r.byKind[s.Kind] = s.ID
		}
		copied := s
		copied.Single = single
		r.surfaces[s.ID] = &copied
	}
}

// MaxGenerations returns the highest generation per kind across surfaces.
func (r *Registry) MaxGenerations() map[scheduler.Kind]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[scheduler.Kind]uint64)
	for _, s := range r.surfaces {
		if s.Generation > out[s.Kind] {
			out[s.Kind] = s.Generation
		}
	}
	return out
}
