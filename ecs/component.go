package ecs

import (
	"reflect"
	"unsafe"
)

// Component names a component type in a structural change, optionally with
// the value to construct it from.
type Component struct {
	typ   reflect.Type
	value unsafe.Pointer
}

// Of names component type T. When added, T is built from its registered
// default, or zeroed if it has none.
func Of[T any]() Component {
	return Component{typ: reflect.TypeFor[T]()}
}

// With names the type of v and constructs the component from v when added.
func With[T any](v T) Component {
	p := new(T)
	*p = v
	return Component{typ: reflect.TypeFor[T](), value: unsafe.Pointer(p)}
}

// Type returns the component's Go type.
func (c Component) Type() reflect.Type {
	return c.typ
}

// resolvedComponent is a Component bound to its registry entry.
type resolvedComponent struct {
	id    ComponentID
	size  int
	value unsafe.Pointer
	def   []byte
}

// write constructs the component at dst.
func (c *resolvedComponent) write(dst []byte) {
	switch {
	case c.size == 0:
	case c.value != nil:
		copy(dst[:c.size], unsafe.Slice((*byte)(c.value), c.size))
	case c.def != nil:
		copy(dst[:c.size], c.def)
	default:
		clear(dst[:c.size])
	}
}

// resolveComponents looks up every component and builds their signature.
// A type listed more than once keeps its last value.
func (r *ComponentRegistry) resolveComponents(comps []Component) ([]resolvedComponent, Signature, error) {
	sig := NewSignature(r.maxComponents)
	out := make([]resolvedComponent, 0, len(comps))
	for _, c := range comps {
		id, err := r.idForType(c.typ)
		if err != nil {
			return nil, sig, err
		}
		meta := r.meta(id)
		rc := resolvedComponent{id: id, size: int(meta.Size), value: c.value, def: meta.defaultValue}
		if sig.Has(id) {
			for i := range out {
				if out[i].id == id {
					out[i] = rc
				}
			}
			continue
		}
		sig.Set(id)
		out = append(out, rc)
	}
	return out, sig, nil
}
