package ecs

import (
	"iter"
	"reflect"
	"unsafe"

	"github.com/rotisserie/eris"
)

// viewShape is the parsed layout of a view struct such as
// struct{ *Position; *Velocity }.
//
// Every field must be a pointer to a registered component type. Named fields
// tagged `ecs:"optional"` are not part of the required signature and are nil
// on entities that lack the component.
type viewShape struct {
	typ          reflect.Type
	ids          []ComponentID
	fieldOffsets []uintptr
	optional     []bool
	required     Signature
}

func parseViewShape(r *ComponentRegistry, typ reflect.Type) (*viewShape, error) {
	if typ.Kind() != reflect.Struct {
		return nil, eris.Wrapf(ErrInvalidViewShape, "%s is not a struct", typ)
	}

	shape := &viewShape{
		typ:          typ,
		ids:          make([]ComponentID, 0, typ.NumField()),
		fieldOffsets: make([]uintptr, 0, typ.NumField()),
		optional:     make([]bool, 0, typ.NumField()),
		required:     NewSignature(r.maxComponents),
	}
	seen := NewSignature(r.maxComponents)

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if field.Type.Kind() != reflect.Pointer {
			return nil, eris.Wrapf(ErrInvalidViewShape, "%s.%s is not a pointer", typ, field.Name)
		}

		id, err := r.idForType(field.Type.Elem())
		if err != nil {
			return nil, err
		}
		if seen.Has(id) {
			return nil, eris.Wrapf(ErrInvalidViewShape, "%s lists %s twice", typ, field.Type.Elem())
		}
		seen.Set(id)

		// Embedded fields are always required
		isOptional := false
		if tag := field.Tag.Get("ecs"); tag != "" && !field.Anonymous {
			if tag != "optional" {
				return nil, eris.Wrapf(ErrInvalidViewShape, "invalid ecs tag %q on %s.%s", tag, typ, field.Name)
			}
			isOptional = true
		}
		if !isOptional {
			shape.required.Set(id)
		}

		shape.ids = append(shape.ids, id)
		shape.fieldOffsets = append(shape.fieldOffsets, field.Offset)
		shape.optional = append(shape.optional, isOptional)
	}
	return shape, nil
}

func (r *EntityRegistry) shapeFor(typ reflect.Type) (*viewShape, error) {
	if shape, ok := r.shapes[typ]; ok {
		return shape, nil
	}
	shape, err := parseViewShape(r.components, typ)
	if err != nil {
		return nil, err
	}
	r.shapes[typ] = shape
	return shape, nil
}

// rowOffsets returns, per shape field, the component offset inside a row of a,
// or -1 for an absent optional component. Zero-size components point at the
// start of the row.
func (s *viewShape) rowOffsets(r *ComponentRegistry, a *Archetype) []int {
	offsets := make([]int, len(s.ids))
	for i, id := range s.ids {
		off, ok := a.offsets[id]
		switch {
		case !ok:
			offsets[i] = -1
		case r.meta(id).Size == 0:
			offsets[i] = 0
		default:
			offsets[i] = off
		}
	}
	return offsets
}

// fill points every field of the struct at result into the row at row.
func (s *viewShape) fill(result, row unsafe.Pointer, offsets []int) {
	for i, off := range offsets {
		fieldPtr := unsafe.Add(result, s.fieldOffsets[i])
		if off < 0 {
			*(*unsafe.Pointer)(fieldPtr) = nil
			continue
		}
		*(*unsafe.Pointer)(fieldPtr) = unsafe.Add(row, off)
	}
}

// EntityView iterates the entities of one or more archetypes as view structs.
//
// T is a struct of component pointers. The pointers address live storage and
// are valid only until the next structural change to the registry, so
// entities must not be created, destroyed or modified while iterating; queue
// such changes in Commands instead.
type EntityView[T any] struct {
	components *ComponentRegistry
	shape      *viewShape
	archetypes []*Archetype
}

func newEntityView[T any](r *EntityRegistry, shape *viewShape, archetypes []*Archetype) *EntityView[T] {
	return &EntityView[T]{
		components: r.components,
		shape:      shape,
		archetypes: archetypes,
	}
}

// ViewSet returns a view over the archetype whose signature is exactly T's
// required components. It returns nil if that archetype is absent or empty.
func ViewSet[T any](r *EntityRegistry) (*EntityView[T], error) {
	shape, err := r.shapeFor(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	a := r.findArchetype(shape.required)
	if a == nil || a.Empty() {
		return nil, nil
	}
	return newEntityView[T](r, shape, []*Archetype{a}), nil
}

// ViewSubset returns a view over every non-empty archetype carrying at least
// T's required components. It returns nil if none match.
func ViewSubset[T any](r *EntityRegistry) (*EntityView[T], error) {
	shape, err := r.shapeFor(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	matched := r.matchingArchetypes(shape.required)
	if len(matched) == 0 {
		return nil, nil
	}
	return newEntityView[T](r, shape, matched), nil
}

func (r *EntityRegistry) matchingArchetypes(required Signature) []*Archetype {
	var matched []*Archetype
	for _, a := range r.ordered {
		if !a.Empty() && a.signature.Contains(required) {
			matched = append(matched, a)
		}
	}
	return matched
}

// GetComponents returns T filled with pointers to the components of id. ok is
// false if id is unknown or lacks a required component of T.
func GetComponents[T any](r *EntityRegistry, id EntityID) (T, bool, error) {
	var result T
	shape, err := r.shapeFor(reflect.TypeFor[T]())
	if err != nil {
		return result, false, err
	}
	a, ok := r.entities.Get(id)
	if !ok || !a.signature.Contains(shape.required) {
		return result, false, nil
	}
	idx, ok := a.storage.indexOf(id)
	if !ok {
		return result, false, nil
	}
	shape.fill(unsafe.Pointer(&result), a.rowPointer(idx), shape.rowOffsets(r.components, a))
	return result, true, nil
}

// ForEach calls fn for every entity in the view.
func (v *EntityView[T]) ForEach(fn func(EntityMeta, T)) {
	for meta, item := range v.Iter() {
		fn(meta, item)
	}
}

// Iter returns an iterator over every entity in the view.
func (v *EntityView[T]) Iter() iter.Seq2[EntityMeta, T] {
	return func(yield func(EntityMeta, T) bool) {
		var result T
		resultPtr := unsafe.Pointer(&result)

		for _, a := range v.archetypes {
			offsets := v.shape.rowOffsets(v.components, a)
			for i := 0; i < a.Size(); i++ {
				row := a.rowPointer(i)
				v.shape.fill(resultPtr, row, offsets)
				if !yield(*(*EntityMeta)(row), result) {
					return
				}
			}
		}
	}
}

// Values returns an iterator over the view structs only.
func (v *EntityView[T]) Values() iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, item := range v.Iter() {
			if !yield(item) {
				return
			}
		}
	}
}

// Len returns the number of entities in the view.
func (v *EntityView[T]) Len() int {
	n := 0
	for _, a := range v.archetypes {
		n += a.Size()
	}
	return n
}

// Archetypes returns the archetypes the view covers.
func (v *EntityView[T]) Archetypes() []*Archetype {
	return v.archetypes
}

// Iterator returns a cursor positioned before the first entity.
func (v *EntityView[T]) Iterator() *ViewIterator[T] {
	return &ViewIterator[T]{view: v, row: -1}
}

// ViewIterator is a cursor over an EntityView.
//
//	it := view.Iterator()
//	for it.Next() {
//		c := it.Components()
//		...
//	}
type ViewIterator[T any] struct {
	view      *EntityView[T]
	archetype int
	row       int
	offsets   []int
	meta      EntityMeta
	current   T
}

// Next advances to the next entity and reports whether there is one.
func (it *ViewIterator[T]) Next() bool {
	archetypes := it.view.archetypes
	for it.archetype < len(archetypes) {
		a := archetypes[it.archetype]
		if it.offsets == nil {
			it.offsets = it.view.shape.rowOffsets(it.view.components, a)
		}
		it.row++
		if it.row < a.Size() {
			row := a.rowPointer(it.row)
			it.meta = *(*EntityMeta)(row)
			it.view.shape.fill(unsafe.Pointer(&it.current), row, it.offsets)
			return true
		}
		it.archetype++
		it.row = -1
		it.offsets = nil
	}
	return false
}

// Meta returns the EntityMeta of the current entity.
func (it *ViewIterator[T]) Meta() EntityMeta {
	return it.meta
}

// Components returns the view struct of the current entity.
func (it *ViewIterator[T]) Components() T {
	return it.current
}
