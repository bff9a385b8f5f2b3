package ecs

import (
	"iter"
	"reflect"
)

// Query is a reusable "at least these components" view. It caches the
// matching archetypes and rebuilds the list only when the registry's set of
// archetypes changes.
//
// A Query declared as a System field is initialized by Scheduler.Register.
type Query[T any] struct {
	registry   *EntityRegistry
	shape      *viewShape
	archetypes []*Archetype
	generation uint64
	cacheValid bool
}

// NewQuery creates a query bound to r.
func NewQuery[T any](r *EntityRegistry) (*Query[T], error) {
	q := &Query[T]{}
	if err := q.Init(r); err != nil {
		return nil, err
	}
	return q, nil
}

// Init binds the query to r, dropping any cached state.
func (q *Query[T]) Init(r *EntityRegistry) error {
	shape, err := r.shapeFor(reflect.TypeFor[T]())
	if err != nil {
		return err
	}
	q.registry = r
	q.shape = shape
	q.archetypes = nil
	q.cacheValid = false
	return nil
}

func (q *Query[T]) ensureArchetypeCache() {
	if q.cacheValid && q.generation == q.registry.Generation() {
		return
	}
	// Views handed out earlier keep the old slice
	q.archetypes = make([]*Archetype, 0, len(q.archetypes))
	for _, a := range q.registry.ordered {
		if a.signature.Contains(q.shape.required) {
			q.archetypes = append(q.archetypes, a)
		}
	}
	q.generation = q.registry.Generation()
	q.cacheValid = true
}

// View returns an EntityView over the currently matching archetypes.
func (q *Query[T]) View() *EntityView[T] {
	q.ensureArchetypeCache()
	return newEntityView[T](q.registry, q.shape, q.archetypes)
}

// Iter returns an iterator over every matching entity.
func (q *Query[T]) Iter() iter.Seq2[EntityMeta, T] {
	return q.View().Iter()
}

// Values returns an iterator over the view structs of every matching entity.
func (q *Query[T]) Values() iter.Seq[T] {
	return q.View().Values()
}

// ForEach calls fn for every matching entity.
func (q *Query[T]) ForEach(fn func(EntityMeta, T)) {
	q.View().ForEach(fn)
}

// Len returns the number of matching entities.
func (q *Query[T]) Len() int {
	return q.View().Len()
}

// ArchetypeCount returns the number of cached archetypes, empty ones included.
func (q *Query[T]) ArchetypeCount() int {
	q.ensureArchetypeCache()
	return len(q.archetypes)
}
