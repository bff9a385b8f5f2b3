package ecs

import (
	"reflect"
	"unsafe"

	"github.com/rotisserie/eris"
)

// DefaultMaxComponents is the component capacity used when none is given.
const DefaultMaxComponents = 64

// ComponentID is the dense id assigned to a component type on registration.
type ComponentID uint32

// ComponentMeta describes a registered component type.
type ComponentMeta struct {
	Name      string
	Size      uintptr
	Alignment uintptr
	Type      reflect.Type

	defaultValue []byte
}

// ComponentRegistry assigns ids and records layout information for component types.
//
// The maximum count is fixed at construction because it is the width of every
// Signature built against the registry. Populate the registry before building
// an EntityRegistry on it; afterwards it is only read.
type ComponentRegistry struct {
	maxComponents int
	typeToID      map[reflect.Type]ComponentID
	infos         []ComponentMeta
}

// NewComponentRegistry creates a registry holding at most maxComponents types.
// A non-positive value selects DefaultMaxComponents.
func NewComponentRegistry(maxComponents int) *ComponentRegistry {
	if maxComponents <= 0 {
		maxComponents = DefaultMaxComponents
	}
	return &ComponentRegistry{
		maxComponents: maxComponents,
		typeToID:      make(map[reflect.Type]ComponentID, maxComponents),
		infos:         make([]ComponentMeta, 0, maxComponents),
	}
}

// ComponentOption customizes a component registration.
type ComponentOption[T any] func(*componentConfig[T])

type componentConfig[T any] struct {
	name       string
	defaultVal *T
}

// WithName overrides the name recorded for the component.
func WithName[T any](name string) ComponentOption[T] {
	return func(c *componentConfig[T]) {
		c.name = name
	}
}

// WithDefault sets the value a component is constructed with when no value is supplied.
func WithDefault[T any](value T) ComponentOption[T] {
	return func(c *componentConfig[T]) {
		c.defaultVal = &value
	}
}

// RegisterComponent registers T and returns its id. Registering the same type
// again returns the existing id and ignores opts.
func RegisterComponent[T any](r *ComponentRegistry, opts ...ComponentOption[T]) (ComponentID, error) {
	typ := reflect.TypeFor[T]()
	if id, ok := r.typeToID[typ]; ok {
		return id, nil
	}
	if len(r.infos) >= r.maxComponents {
		return 0, eris.Wrapf(ErrTooManyComponents, "cannot register %s: limit is %d", typ, r.maxComponents)
	}
	if !isPlainData(typ) {
		return 0, eris.Wrapf(ErrNotPlainData, "cannot register %s", typ)
	}

	cfg := componentConfig[T]{name: typ.String()}
	for _, opt := range opts {
		opt(&cfg)
	}

	meta := ComponentMeta{
		Name:      cfg.name,
		Size:      typ.Size(),
		Alignment: uintptr(typ.Align()),
		Type:      typ,
	}
	if cfg.defaultVal != nil && meta.Size > 0 {
		meta.defaultValue = make([]byte, meta.Size)
		copy(meta.defaultValue, unsafe.Slice((*byte)(unsafe.Pointer(cfg.defaultVal)), meta.Size))
	}

	id := ComponentID(len(r.infos))
	r.typeToID[typ] = id
	r.infos = append(r.infos, meta)
	return id, nil
}

// ComponentIDOf returns the id of a registered component type.
func ComponentIDOf[T any](r *ComponentRegistry) (ComponentID, error) {
	return r.idForType(reflect.TypeFor[T]())
}

// IsRegistered reports whether T has been registered.
func IsRegistered[T any](r *ComponentRegistry) bool {
	_, ok := r.typeToID[reflect.TypeFor[T]()]
	return ok
}

// Info returns the metadata of the component with the given id.
func (r *ComponentRegistry) Info(id ComponentID) (ComponentMeta, error) {
	if int(id) >= len(r.infos) {
		return ComponentMeta{}, eris.Wrapf(ErrComponentOutOfRange, "id %d, registered %d", id, len(r.infos))
	}
	return r.infos[id], nil
}

// Count returns the number of registered component types.
func (r *ComponentRegistry) Count() int {
	return len(r.infos)
}

// MaxCount returns the maximum number of component types.
func (r *ComponentRegistry) MaxCount() int {
	return r.maxComponents
}

// Signature builds a signature of this registry's width holding ids.
func (r *ComponentRegistry) Signature(ids ...ComponentID) Signature {
	sig := NewSignature(r.maxComponents)
	for _, id := range ids {
		sig.Set(id)
	}
	return sig
}

func (r *ComponentRegistry) idForType(typ reflect.Type) (ComponentID, error) {
	id, ok := r.typeToID[typ]
	if !ok {
		return 0, eris.Wrapf(ErrComponentNotRegistered, "type %s", typ)
	}
	return id, nil
}

// meta is the unchecked form of Info for ids already known to be valid.
func (r *ComponentRegistry) meta(id ComponentID) *ComponentMeta {
	return &r.infos[id]
}

// isPlainData reports whether values of typ can live in untyped memory: no
// field may hold a pointer the garbage collector would need to see.
func isPlainData(typ reflect.Type) bool {
	switch typ.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Array:
		return isPlainData(typ.Elem())
	case reflect.Struct:
		for i := 0; i < typ.NumField(); i++ {
			if !isPlainData(typ.Field(i).Type) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
