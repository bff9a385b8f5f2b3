package ecs

import "github.com/rotisserie/eris"

// Registration errors.
var (
	ErrTooManyComponents      = eris.New("maximum number of component types exceeded")
	ErrComponentNotRegistered = eris.New("component not registered")
	ErrNotPlainData           = eris.New("component type is not plain data")
	ErrInvalidViewShape       = eris.New("invalid view shape")
)

// Range errors.
var (
	ErrComponentOutOfRange = eris.New("component id out of range")
	ErrIndexOutOfRange     = eris.New("index out of range")
	ErrEmptyVector         = eris.New("vector is empty")
)

// Allocator and storage errors.
var (
	ErrDoubleFree    = eris.New("entity id freed twice")
	ErrUnknownEntity = eris.New("entity id was never issued")
	ErrZeroStride    = eris.New("stride must be > 0")
	ErrEntityExists  = eris.New("entity already present")
)
