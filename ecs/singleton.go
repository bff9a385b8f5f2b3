package ecs

import (
	"reflect"

	"github.com/rotisserie/eris"
)

// Singleton gives access to one instance of component T that belongs to no
// particular game object. The instance lives on a dedicated entity whose only
// component is T, so views over T also see it.
type Singleton[T any] struct {
	registry *EntityRegistry
	entity   EntityMeta
}

type singletonShape[T any] struct {
	Value *T
}

// NewSingleton returns the singleton for T, creating it from initializer (or
// the registered default) if it does not exist yet.
func NewSingleton[T any](r *EntityRegistry, initializer ...T) (*Singleton[T], error) {
	s := &Singleton[T]{registry: r}
	comp := Of[T]()
	if len(initializer) > 0 {
		comp = With(initializer[0])
	}
	if err := s.bind(comp); err != nil {
		return nil, err
	}
	return s, nil
}

// Init binds the singleton to r, creating it with its default if needed.
// Scheduler.Register calls this for Singleton fields of a System.
func (s *Singleton[T]) Init(r *EntityRegistry) error {
	s.registry = r
	return s.bind(Of[T]())
}

func (s *Singleton[T]) bind(comp Component) error {
	typ := reflect.TypeFor[T]()
	if meta, ok := s.registry.singletons[typ]; ok && s.registry.IsEntityValid(meta) {
		s.entity = meta
		return nil
	}
	meta, err := s.registry.CreateEntity(comp)
	if err != nil {
		return eris.Wrapf(err, "create singleton %s", typ)
	}
	s.registry.singletons[typ] = meta
	s.entity = meta
	return nil
}

// Get returns a pointer to the singleton value, or nil once its entity has
// been destroyed. The pointer follows the same borrowing rules as views.
func (s *Singleton[T]) Get() *T {
	if s.registry == nil || !s.registry.IsEntityValid(s.entity) {
		return nil
	}
	shape, ok, err := GetComponents[singletonShape[T]](s.registry, s.entity.ID)
	if err != nil || !ok {
		return nil
	}
	return shape.Value
}

// Exists reports whether the singleton entity is still alive.
func (s *Singleton[T]) Exists() bool {
	return s.registry != nil && s.registry.IsEntityValid(s.entity)
}

// Entity returns the handle of the entity holding the value.
func (s *Singleton[T]) Entity() EntityMeta {
	return s.entity
}
