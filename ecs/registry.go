package ecs

import (
	"reflect"
	"slices"
	"unsafe"

	"github.com/kamstrup/intmap"
	"github.com/rs/zerolog"
)

// EntityRegistry owns the archetypes and routes every entity operation.
//
// An EntityRegistry has a single owner. Slices and pointers it hands out are
// borrows into archetype storage: they stay valid only until the next
// operation that inserts into, removes from, or migrates the archetype they
// came from.
type EntityRegistry struct {
	components *ComponentRegistry
	allocator  *EntityAllocationHelper

	archetypes map[uint64][]*Archetype
	ordered    []*Archetype
	entities   *intmap.Map[EntityID, *Archetype]
	shapes     map[reflect.Type]*viewShape
	singletons map[reflect.Type]EntityMeta
	generation uint64

	logger  zerolog.Logger
	setOpts []SparseSetOption
}

// Option configures an EntityRegistry.
type Option func(*EntityRegistry)

// WithLogger sets the logger used for structural events.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *EntityRegistry) {
		r.logger = logger
	}
}

// WithPageSize sets the sparse page size of every archetype.
func WithPageSize(n int) Option {
	return func(r *EntityRegistry) {
		r.setOpts = append(r.setOpts, SparseSetPageSize(n))
	}
}

// WithAggressiveReclaim makes archetypes release sparse pages once they are empty.
func WithAggressiveReclaim() Option {
	return func(r *EntityRegistry) {
		r.setOpts = append(r.setOpts, SparseSetAggressiveReclaim())
	}
}

// NewEntityRegistry creates an empty registry over components.
func NewEntityRegistry(components *ComponentRegistry, opts ...Option) *EntityRegistry {
	r := &EntityRegistry{
		components: components,
		allocator:  NewEntityAllocationHelper(),
		archetypes: make(map[uint64][]*Archetype),
		entities:   intmap.New[EntityID, *Archetype](256),
		shapes:     make(map[reflect.Type]*viewShape),
		singletons: make(map[reflect.Type]EntityMeta),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Components returns the component registry the entity registry was built on.
func (r *EntityRegistry) Components() *ComponentRegistry {
	return r.components
}

func (r *EntityRegistry) findArchetype(sig Signature) *Archetype {
	for _, a := range r.archetypes[sig.Hash()] {
		if a.signature.Equal(sig) {
			return a
		}
	}
	return nil
}

func (r *EntityRegistry) archetypeFor(sig Signature) (*Archetype, error) {
	hash := sig.Hash()
	for _, a := range r.archetypes[hash] {
		if a.signature.Equal(sig) {
			return a, nil
		}
	}

	stride, offsets := ComputeLayout(r.components, sig)
	a, err := newArchetype(sig.Clone(), stride, offsets, r.setOpts...)
	if err != nil {
		return nil, err
	}
	r.archetypes[hash] = append(r.archetypes[hash], a)
	r.ordered = append(r.ordered, a)
	r.generation++

	r.logger.Debug().
		Stringer("signature", sig).
		Int("stride", stride).
		Int("archetypes", len(r.ordered)).
		Msg("archetype created")
	return a, nil
}

func writeMeta(row []byte, meta EntityMeta) {
	*(*EntityMeta)(unsafe.Pointer(&row[0])) = meta
}

func readMeta(row []byte) EntityMeta {
	return *(*EntityMeta)(unsafe.Pointer(&row[0]))
}

// CreateEntity creates an entity carrying exactly comps.
func (r *EntityRegistry) CreateEntity(comps ...Component) (EntityMeta, error) {
	metas, err := r.CreateEntityBulk(1, comps...)
	if err != nil {
		return EntityMeta{}, err
	}
	return metas[0], nil
}

// CreateEntityBulk creates n entities with identical components in one block.
func (r *EntityRegistry) CreateEntityBulk(n int, comps ...Component) ([]EntityMeta, error) {
	resolved, sig, err := r.components.resolveComponents(comps)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	a, err := r.archetypeFor(sig)
	if err != nil {
		return nil, err
	}

	metas := r.allocator.GetIDBulk(n)
	ids := make([]EntityID, n)
	for i, m := range metas {
		ids[i] = m.ID
	}
	block, err := a.InsertBulkUninitialized(ids)
	if err != nil {
		r.logger.Error().Err(err).Msg("allocator handed out an id that is still stored")
		if freeErr := r.allocator.FreeIDBulk(ids); freeErr != nil {
			r.logger.Error().Err(freeErr).Int("count", len(ids)).Msg("releasing ids of failed create")
		}
		return nil, err
	}

	for i, m := range metas {
		row := block[i*a.stride : (i+1)*a.stride]
		writeMeta(row, m)
		for c := range resolved {
			resolved[c].write(row[a.offsets[resolved[c].id]:])
		}
		r.entities.Put(m.ID, a)
	}
	return metas, nil
}

// DestroyEntity removes id and frees it. Unknown ids are ignored.
func (r *EntityRegistry) DestroyEntity(id EntityID) {
	a, ok := r.entities.Get(id)
	if !ok {
		return
	}
	a.Remove(id)
	r.entities.Del(id)
	if err := r.allocator.FreeID(id); err != nil {
		r.logger.Error().Err(err).Uint32("entity", uint32(id)).Msg("freeing destroyed entity")
	}
}

// DestroyEntityBulk removes every id and returns the ones that were not found.
func (r *EntityRegistry) DestroyEntityBulk(ids []EntityID) []EntityID {
	groups, missing := r.groupByArchetype(ids)
	freed := make([]EntityID, 0, len(ids)-len(missing))
	for _, g := range groups {
		g.archetype.RemoveBulk(g.ids)
		for _, id := range g.ids {
			r.entities.Del(id)
		}
		freed = append(freed, g.ids...)
	}
	if err := r.allocator.FreeIDBulk(freed); err != nil {
		r.logger.Error().Err(err).Int("count", len(freed)).Msg("freeing destroyed entities")
	}

	r.logger.Debug().
		Int("requested", len(ids)).
		Int("destroyed", len(freed)).
		Int("archetypes", len(groups)).
		Msg("bulk destroy")
	return missing
}

type archetypeGroup struct {
	archetype *Archetype
	ids       []EntityID
}

// groupByArchetype buckets live ids by their archetype in first-seen order.
// Repeated ids are kept once.
func (r *EntityRegistry) groupByArchetype(ids []EntityID) ([]archetypeGroup, []EntityID) {
	var (
		groups  []archetypeGroup
		missing []EntityID
	)
	index := make(map[*Archetype]int)
	seen := make(map[EntityID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		a, ok := r.entities.Get(id)
		if !ok {
			missing = append(missing, id)
			continue
		}
		gi, ok := index[a]
		if !ok {
			gi = len(groups)
			index[a] = gi
			groups = append(groups, archetypeGroup{archetype: a})
		}
		groups[gi].ids = append(groups[gi].ids, id)
	}
	return groups, missing
}

// IsEntityValid reports whether meta refers to a live entity of that generation.
func (r *EntityRegistry) IsEntityValid(meta EntityMeta) bool {
	a, ok := r.entities.Get(meta.ID)
	if !ok {
		return false
	}
	gen, ok := r.allocator.GenForID(meta.ID)
	if !ok || gen != meta.Gen {
		return false
	}
	stored, ok := a.Meta(meta.ID)
	return ok && stored.Gen == meta.Gen
}

// Clear destroys every entity and archetype and resets the id allocator.
func (r *EntityRegistry) Clear() {
	entities := r.entities.Len()
	archetypes := len(r.ordered)
	for _, a := range r.ordered {
		a.clear()
	}
	r.archetypes = make(map[uint64][]*Archetype)
	r.ordered = nil
	r.entities.Clear()
	clear(r.singletons)
	r.allocator.Reset()
	r.generation++

	r.logger.Debug().
		Int("entities", entities).
		Int("archetypes", archetypes).
		Msg("registry cleared")
}

// EntityCount returns the number of live entities.
func (r *EntityRegistry) EntityCount() int {
	return r.entities.Len()
}

// ArchetypeCount returns the number of archetypes, including empty ones.
func (r *EntityRegistry) ArchetypeCount() int {
	return len(r.ordered)
}

// Archetypes returns every archetype in creation order.
func (r *EntityRegistry) Archetypes() []*Archetype {
	return slices.Clone(r.ordered)
}

// ArchetypeForEntity returns the archetype holding id, or nil.
func (r *EntityRegistry) ArchetypeForEntity(id EntityID) *Archetype {
	a, _ := r.entities.Get(id)
	return a
}

// Generation changes whenever the set of archetypes changes.
func (r *EntityRegistry) Generation() uint64 {
	return r.generation
}

// TotalMemoryUsageInBytes approximates the memory held by the registry.
func (r *EntityRegistry) TotalMemoryUsageInBytes() int {
	total := int(unsafe.Sizeof(*r))
	for _, a := range r.ordered {
		total += a.MemoryUsageInBytes()
	}
	total += r.entities.Len() * int(unsafe.Sizeof(EntityID(0))+unsafe.Sizeof((*Archetype)(nil)))
	total += cap(r.allocator.generations)*int(unsafe.Sizeof(EntityGen(0))) +
		cap(r.allocator.freeList)*int(unsafe.Sizeof(EntityID(0)))
	return total
}
