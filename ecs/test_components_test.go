package ecs_test

import "github.com/plus3/mosaic/ecs"

// Common test component types
type Position struct {
	X, Y float32
}

type Velocity struct {
	DX, DY float32
}

// Tag carries no data
type Tag struct{}

type Health struct {
	Current int32
	Max     int32
}

type AI struct {
	State int
}

type Lifetime struct {
	Remaining float64
}

type Flags struct {
	Active  bool
	Visible bool
	Layer   uint8
}

type Transform struct {
	Matrix [16]float32
}

// Custom primitive types
type Score int32
type Temperature float64

// Rejected by registration
type Name struct {
	Value string
}
type Inventory struct {
	Items []int
}
type Link struct {
	Next *Position
}
type Callback struct {
	Fn func()
}

// newTestComponents registers Position, Velocity and Tag as ids 0, 1 and 2,
// followed by the other plain-data fixtures.
func newTestComponents() *ecs.ComponentRegistry {
	components := ecs.NewComponentRegistry(ecs.DefaultMaxComponents)
	ecs.RegisterComponent[Position](components)
	ecs.RegisterComponent[Velocity](components)
	ecs.RegisterComponent[Tag](components)
	ecs.RegisterComponent[Health](components, ecs.WithDefault(Health{Current: 100, Max: 100}))
	ecs.RegisterComponent[AI](components)
	ecs.RegisterComponent[Lifetime](components)
	ecs.RegisterComponent[Flags](components)
	ecs.RegisterComponent[Transform](components)
	ecs.RegisterComponent[Score](components)
	ecs.RegisterComponent[Temperature](components)
	return components
}

func newTestRegistry(opts ...ecs.Option) *ecs.EntityRegistry {
	return ecs.NewEntityRegistry(newTestComponents(), opts...)
}

type PosVel struct {
	*Position
	*Velocity
}
