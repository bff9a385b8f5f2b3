package ecs_test

import (
	"testing"
	"unsafe"

	"github.com/plus3/mosaic/ecs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func component[T any](t *testing.T, a *ecs.Archetype, components *ecs.ComponentRegistry, id ecs.EntityID) *T {
	t.Helper()
	cid, err := ecs.ComponentIDOf[T](components)
	require.NoError(t, err)
	off, ok := a.ComponentOffset(cid)
	require.True(t, ok)
	row := a.Get(id)
	require.NotNil(t, row)
	return (*T)(unsafe.Pointer(&row[off]))
}

func TestArchetypeLayoutAccessors(t *testing.T) {
	r := newTestRegistry()
	meta, err := r.CreateEntity(ecs.With(Position{X: 1}), ecs.With(Velocity{DX: 2}))
	require.NoError(t, err)

	a := r.ArchetypeForEntity(meta.ID)
	require.NotNil(t, a)
	assert.Equal(t, 24, a.Stride())
	assert.Equal(t, []ecs.ComponentID{0, 1}, a.ComponentIDs())
	assert.Equal(t, map[ecs.ComponentID]int{0: 8, 1: 16}, a.ComponentOffsets())
	assert.True(t, a.Signature().Equal(r.Components().Signature(0, 1)))
	assert.Equal(t, 1, a.Size())
	assert.Len(t, a.Data(), 24)
	assert.Equal(t, []ecs.EntityID{meta.ID}, a.EntityIDs())
	assert.True(t, a.Contains(meta.ID))
	assert.Greater(t, a.MemoryUsageInBytes(), 24)

	stored, ok := a.Meta(meta.ID)
	assert.True(t, ok)
	assert.Equal(t, meta, stored)

	// The returned map is a copy
	offsets := a.ComponentOffsets()
	offsets[0] = 99
	off, _ := a.ComponentOffset(0)
	assert.Equal(t, 8, off)
}

func TestArchetypeMigrateAllToCopiesSharedComponents(t *testing.T) {
	r := newTestRegistry()
	components := r.Components()
	health, _ := ecs.ComponentIDOf[Health](components)

	metas, err := r.CreateEntityBulk(3, ecs.With(Position{X: 4, Y: 5}), ecs.With(Velocity{DX: 6, DY: 7}))
	require.NoError(t, err)
	src := r.ArchetypeForEntity(metas[0].ID)

	// Position+Health shares only Position with the source
	_, err = r.CreateEntity(ecs.Of[Position](), ecs.Of[Health]())
	require.NoError(t, err)
	dst := r.ArchetypeForEntity(ecs.EntityID(3))
	require.True(t, dst.Signature().Has(health))

	moved := src.MigrateAllTo(dst, components)

	assert.Len(t, moved, 3)
	assert.True(t, src.Empty())
	assert.Equal(t, 4, dst.Size())
	for _, m := range metas {
		stored, ok := dst.Meta(m.ID)
		assert.True(t, ok)
		assert.Equal(t, m, stored)
		assert.Equal(t, Position{X: 4, Y: 5}, *component[Position](t, dst, components, m.ID))
	}
}

func TestArchetypeInsertRemove(t *testing.T) {
	r := newTestRegistry()
	meta, err := r.CreateEntity(ecs.With(Score(9)))
	require.NoError(t, err)
	a := r.ArchetypeForEntity(meta.ID)

	row := make([]byte, a.Stride())
	copy(row, a.Get(meta.ID))
	a.Insert(77, row)
	assert.Equal(t, 2, a.Size())
	assert.Equal(t, Score(9), *component[Score](t, a, r.Components(), 77))

	assert.True(t, a.Remove(77))
	assert.False(t, a.Remove(77))
	assert.Equal(t, []ecs.EntityID{88}, a.RemoveBulk([]ecs.EntityID{88}))
}

func TestArchetypeAccessorsReturnCopies(t *testing.T) {
	r := newTestRegistry()
	meta, err := r.CreateEntity(ecs.Of[Position](), ecs.Of[Velocity]())
	require.NoError(t, err)
	a := r.ArchetypeForEntity(meta.ID)
	require.NotNil(t, a)

	tagID, err := ecs.ComponentIDOf[Tag](r.Components())
	require.NoError(t, err)

	derived := a.Signature().Set(tagID)
	assert.True(t, derived.Has(tagID))
	assert.False(t, a.Signature().Has(tagID))
	assert.Equal(t, "{0, 1}", a.Signature().String())

	ids := a.ComponentIDs()
	ids[0] = tagID
	assert.Equal(t, []ecs.ComponentID{0, 1}, a.ComponentIDs())

	// The archetype is still found under its original key
	_, err = r.CreateEntity(ecs.Of[Position](), ecs.Of[Velocity]())
	require.NoError(t, err)
	assert.Equal(t, 1, r.ArchetypeCount())
	assert.Equal(t, 2, a.Size())

	view, err := ecs.ViewSubset[struct{ *Tag }](r)
	require.NoError(t, err)
	assert.Nil(t, view)
}
