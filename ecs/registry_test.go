package ecs_test

import (
	"bytes"
	"testing"

	"github.com/plus3/mosaic/ecs"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type unregistered struct {
	V int
}

func TestConcreteScenario(t *testing.T) {
	r := newTestRegistry()

	meta, err := r.CreateEntity(ecs.Of[Position](), ecs.Of[Velocity]())
	require.NoError(t, err)
	assert.Equal(t, ecs.EntityMeta{ID: 0, Gen: 0}, meta)
	assert.Equal(t, 1, r.ArchetypeCount())
	assert.Equal(t, 1, r.EntityCount())
	original := r.ArchetypeForEntity(0)

	require.NoError(t, r.AddComponents(0, ecs.Of[Tag]()))

	assert.Equal(t, 2, r.ArchetypeCount())
	assert.True(t, original.Empty())
	moved := r.ArchetypeForEntity(0)
	assert.Equal(t, 1, moved.Size())
	assert.True(t, moved.Signature().Equal(r.Components().Signature(0, 1, 2)))
}

func TestCreateEntityRoundTrip(t *testing.T) {
	r := newTestRegistry()

	meta, err := r.CreateEntity(
		ecs.With(Position{X: 1.5, Y: -2}),
		ecs.With(Velocity{DX: 3, DY: 4}),
		ecs.With(Score(17)),
	)
	require.NoError(t, err)

	got, ok, err := ecs.GetComponents[struct {
		*Position
		*Velocity
		*Score
	}](r, meta.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Position{X: 1.5, Y: -2}, *got.Position)
	assert.Equal(t, Velocity{DX: 3, DY: 4}, *got.Velocity)
	assert.Equal(t, Score(17), *got.Score)
	assert.True(t, r.IsEntityValid(meta))
}

func TestCreateEntityDefaults(t *testing.T) {
	r := newTestRegistry()

	meta, err := r.CreateEntity(ecs.Of[Health](), ecs.Of[Position]())
	require.NoError(t, err)

	got, ok, err := ecs.GetComponents[struct {
		*Health
		*Position
	}](r, meta.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Health{Current: 100, Max: 100}, *got.Health)
	assert.Equal(t, Position{}, *got.Position)

	// An explicit value wins over the registered default
	meta, err = r.CreateEntity(ecs.With(Health{Current: 1, Max: 2}))
	require.NoError(t, err)
	h, _, _ := ecs.GetComponents[struct{ *Health }](r, meta.ID)
	assert.Equal(t, Health{Current: 1, Max: 2}, *h.Health)
}

func TestCreateEntityUnregistered(t *testing.T) {
	r := newTestRegistry()

	_, err := r.CreateEntity(ecs.Of[Position](), ecs.Of[unregistered]())
	assert.True(t, eris.Is(err, ecs.ErrComponentNotRegistered))
	assert.Equal(t, 0, r.EntityCount())
	assert.Equal(t, 0, r.ArchetypeCount())

	_, err = r.CreateEntityBulk(5, ecs.Of[unregistered]())
	assert.True(t, eris.Is(err, ecs.ErrComponentNotRegistered))
	assert.Equal(t, 0, r.EntityCount())
}

func TestCreateEntityWithoutComponents(t *testing.T) {
	r := newTestRegistry()

	meta, err := r.CreateEntity()
	require.NoError(t, err)
	a := r.ArchetypeForEntity(meta.ID)
	assert.Equal(t, 8, a.Stride())
	assert.Equal(t, 0, a.Signature().Count())
}

func TestCreateEntityBulkMatchesSingle(t *testing.T) {
	single := newTestRegistry()
	bulk := newTestRegistry()
	comps := []ecs.Component{ecs.With(Position{X: 3, Y: 3}), ecs.Of[Health]()}

	var want []ecs.EntityMeta
	for i := 0; i < 10; i++ {
		meta, err := single.CreateEntity(comps...)
		require.NoError(t, err)
		want = append(want, meta)
	}
	got, err := bulk.CreateEntityBulk(10, comps...)
	require.NoError(t, err)

	assert.Equal(t, want, got)
	assert.Equal(t, single.EntityCount(), bulk.EntityCount())
	sa := single.ArchetypeForEntity(0)
	ba := bulk.ArchetypeForEntity(0)
	assert.Equal(t, sa.Stride(), ba.Stride())
	assert.Equal(t, sa.ComponentOffsets(), ba.ComponentOffsets())
	assert.Equal(t, sa.Data(), ba.Data())

	none, err := bulk.CreateEntityBulk(0, comps...)
	assert.NoError(t, err)
	assert.Empty(t, none)
}

func TestDestroyEntityGeneration(t *testing.T) {
	r := newTestRegistry()

	old, err := r.CreateEntity(ecs.Of[Position]())
	require.NoError(t, err)
	r.DestroyEntity(old.ID)

	assert.False(t, r.IsEntityValid(old))
	assert.Equal(t, 0, r.EntityCount())
	assert.Nil(t, r.ArchetypeForEntity(old.ID))

	reused, err := r.CreateEntity(ecs.Of[Velocity]())
	require.NoError(t, err)
	assert.Equal(t, old.ID, reused.ID)
	assert.Equal(t, old.Gen+1, reused.Gen)
	assert.True(t, r.IsEntityValid(reused))
	assert.False(t, r.IsEntityValid(old))
}

func TestDestroyUnknownIsNoop(t *testing.T) {
	r := newTestRegistry()
	_, err := r.CreateEntity(ecs.Of[Position]())
	require.NoError(t, err)

	r.DestroyEntity(42)
	r.DestroyEntity(0)
	r.DestroyEntity(0)

	assert.Equal(t, 0, r.EntityCount())
	assert.False(t, r.IsEntityValid(ecs.EntityMeta{ID: 42}))
}

func TestDestroyKeepsOtherRowsIntact(t *testing.T) {
	r := newTestRegistry()
	var metas []ecs.EntityMeta
	for i := 0; i < 5; i++ {
		meta, err := r.CreateEntity(ecs.With(Position{X: float32(i)}))
		require.NoError(t, err)
		metas = append(metas, meta)
	}

	r.DestroyEntity(metas[1].ID)

	for i, m := range metas {
		if i == 1 {
			continue
		}
		got, ok, err := ecs.GetComponents[struct{ *Position }](r, m.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, float32(i), got.X)
		assert.True(t, r.IsEntityValid(m))
	}
}

func TestDestroyEntityBulk(t *testing.T) {
	r := newTestRegistry()
	metas, err := r.CreateEntityBulk(4, ecs.Of[Position]())
	require.NoError(t, err)
	other, err := r.CreateEntity(ecs.Of[Velocity]())
	require.NoError(t, err)

	missing := r.DestroyEntityBulk([]ecs.EntityID{metas[0].ID, 99, other.ID, metas[2].ID, metas[0].ID})

	assert.Equal(t, []ecs.EntityID{99}, missing)
	assert.Equal(t, 2, r.EntityCount())
	assert.False(t, r.IsEntityValid(other))
	assert.True(t, r.IsEntityValid(metas[1]))
	assert.True(t, r.IsEntityValid(metas[3]))

	// Freed ids come back with a new generation
	again, err := r.CreateEntityBulk(3, ecs.Of[Position]())
	require.NoError(t, err)
	for _, m := range again {
		assert.Equal(t, ecs.EntityGen(1), m.Gen)
	}
}

func TestAddComponentsPreservesSharedData(t *testing.T) {
	r := newTestRegistry()
	meta, err := r.CreateEntity(ecs.With(Position{X: 9, Y: 8}), ecs.With(Velocity{DX: 7, DY: 6}))
	require.NoError(t, err)

	require.NoError(t, r.AddComponents(meta.ID, ecs.Of[Health](), ecs.With(Score(5))))

	got, ok, err := ecs.GetComponents[struct {
		*Position
		*Velocity
		*Health
		*Score
	}](r, meta.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Position{X: 9, Y: 8}, *got.Position)
	assert.Equal(t, Velocity{DX: 7, DY: 6}, *got.Velocity)
	assert.Equal(t, Health{Current: 100, Max: 100}, *got.Health)
	assert.Equal(t, Score(5), *got.Score)
	assert.True(t, r.IsEntityValid(meta))
}

func TestRemoveComponents(t *testing.T) {
	r := newTestRegistry()
	meta, err := r.CreateEntity(ecs.With(Position{X: 1}), ecs.With(Velocity{DX: 2}))
	require.NoError(t, err)

	require.NoError(t, r.RemoveComponents(meta.ID, ecs.Of[Velocity]()))

	_, ok, err := ecs.GetComponents[PosVel](r, meta.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	got, ok, _ := ecs.GetComponents[struct{ *Position }](r, meta.ID)
	require.True(t, ok)
	assert.Equal(t, float32(1), got.X)

	// Removing everything leaves the entity alive with no components
	require.NoError(t, r.RemoveComponents(meta.ID, ecs.Of[Position]()))
	assert.True(t, r.IsEntityValid(meta))
	assert.Equal(t, 0, r.ArchetypeForEntity(meta.ID).Signature().Count())
}

func TestModifyComponentsNoopWhenSignatureUnchanged(t *testing.T) {
	r := newTestRegistry()
	meta, err := r.CreateEntity(ecs.With(Position{X: 1}))
	require.NoError(t, err)
	before := r.ArchetypeCount()

	require.NoError(t, r.AddComponents(meta.ID, ecs.With(Position{X: 50})))
	require.NoError(t, r.RemoveComponents(meta.ID, ecs.Of[Velocity]()))

	assert.Equal(t, before, r.ArchetypeCount())
	got, _, _ := ecs.GetComponents[struct{ *Position }](r, meta.ID)
	assert.Equal(t, float32(1), got.X)
}

func TestModifyComponentsAddAndRemove(t *testing.T) {
	r := newTestRegistry()
	meta, err := r.CreateEntity(ecs.With(Position{X: 1}), ecs.With(Velocity{DX: 2}))
	require.NoError(t, err)

	err = r.ModifyComponents(meta.ID,
		[]ecs.Component{ecs.With(Score(3))},
		[]ecs.Component{ecs.Of[Velocity]()},
	)
	require.NoError(t, err)

	sig := r.ArchetypeForEntity(meta.ID).Signature()
	score, _ := ecs.ComponentIDOf[Score](r.Components())
	assert.True(t, sig.Equal(r.Components().Signature(0, score)))
}

func TestModifyComponentsValidationBeforeMutation(t *testing.T) {
	r := newTestRegistry()
	meta, err := r.CreateEntity(ecs.Of[Position]())
	require.NoError(t, err)
	a := r.ArchetypeForEntity(meta.ID)

	err = r.AddComponents(meta.ID, ecs.Of[Velocity](), ecs.Of[unregistered]())
	assert.True(t, eris.Is(err, ecs.ErrComponentNotRegistered))
	assert.Same(t, a, r.ArchetypeForEntity(meta.ID))
	assert.Equal(t, 1, r.ArchetypeCount())

	_, err = r.RemoveComponentsBulk([]ecs.EntityID{meta.ID}, ecs.Of[unregistered]())
	assert.True(t, eris.Is(err, ecs.ErrComponentNotRegistered))
	assert.Same(t, a, r.ArchetypeForEntity(meta.ID))

	// Unknown entity is not an error
	assert.NoError(t, r.AddComponents(1234, ecs.Of[Velocity]()))
}

func TestModifyComponentsBulkMatchesSingle(t *testing.T) {
	single := newTestRegistry()
	bulk := newTestRegistry()
	for _, r := range []*ecs.EntityRegistry{single, bulk} {
		for i := 0; i < 6; i++ {
			comps := []ecs.Component{ecs.With(Position{X: float32(i)})}
			if i%2 == 0 {
				comps = append(comps, ecs.With(Velocity{DX: float32(i)}))
			}
			_, err := r.CreateEntity(comps...)
			require.NoError(t, err)
		}
	}

	ids := []ecs.EntityID{0, 1, 2, 3, 4, 5}
	for _, id := range ids {
		require.NoError(t, single.AddComponents(id, ecs.With(Score(1))))
	}
	missing, err := bulk.AddComponentsBulk(append(ids, 77), ecs.With(Score(1)))
	require.NoError(t, err)
	assert.Equal(t, []ecs.EntityID{77}, missing)

	assert.Equal(t, single.ArchetypeCount(), bulk.ArchetypeCount())
	for _, id := range ids {
		want, ok, _ := ecs.GetComponents[struct {
			*Position
			*Score
		}](single, id)
		require.True(t, ok)
		got, ok, _ := ecs.GetComponents[struct {
			*Position
			*Score
		}](bulk, id)
		require.True(t, ok)
		assert.Equal(t, *want.Position, *got.Position)
		assert.Equal(t, *want.Score, *got.Score)
		assert.True(t, single.ArchetypeForEntity(id).Signature().Equal(bulk.ArchetypeForEntity(id).Signature()))
	}

	missing, err = bulk.RemoveComponentsBulk(ids, ecs.Of[Score]())
	require.NoError(t, err)
	assert.Empty(t, missing)
	_, ok, _ := ecs.GetComponents[struct{ *Score }](bulk, 3)
	assert.False(t, ok)
}

func TestMigrateArchetypeModifyComponents(t *testing.T) {
	r := newTestRegistry()
	metas, err := r.CreateEntityBulk(5, ecs.With(Position{X: 2}), ecs.With(Velocity{DX: 1}))
	require.NoError(t, err)
	// Superset archetype must not be touched
	extra, err := r.CreateEntity(ecs.Of[Position](), ecs.Of[Velocity](), ecs.Of[Tag]())
	require.NoError(t, err)

	n, err := r.MigrateArchetypeModifyComponents(
		[]ecs.Component{ecs.Of[Position](), ecs.Of[Velocity]()},
		[]ecs.Component{ecs.Of[Health]()},
		[]ecs.Component{ecs.Of[Velocity]()},
	)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	for _, m := range metas {
		got, ok, err := ecs.GetComponents[struct {
			*Position
			*Health
		}](r, m.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, float32(2), got.X)
		assert.Equal(t, Health{Current: 100, Max: 100}, *got.Health)
		assert.True(t, r.IsEntityValid(m))
	}
	_, ok, _ := ecs.GetComponents[PosVel](r, extra.ID)
	assert.True(t, ok)

	// The source archetype is now empty
	n, err = r.MigrateArchetypeModifyComponents(
		[]ecs.Component{ecs.Of[Position](), ecs.Of[Velocity]()},
		[]ecs.Component{ecs.Of[Health]()}, nil,
	)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMigrateArchetypeNoMatch(t *testing.T) {
	r := newTestRegistry()
	_, err := r.CreateEntity(ecs.Of[Position]())
	require.NoError(t, err)

	n, err := r.MigrateArchetypeModifyComponents([]ecs.Component{ecs.Of[Velocity]()}, []ecs.Component{ecs.Of[Tag]()}, nil)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)

	// Signature unchanged
	n, err = r.MigrateArchetypeModifyComponents([]ecs.Component{ecs.Of[Position]()}, []ecs.Component{ecs.Of[Position]()}, nil)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = r.MigrateArchetypeModifyComponents([]ecs.Component{ecs.Of[unregistered]()}, nil, nil)
	assert.True(t, eris.Is(err, ecs.ErrComponentNotRegistered))
}

func TestMigrateArchetypeIntoPopulatedDestination(t *testing.T) {
	r := newTestRegistry()
	existing, err := r.CreateEntity(ecs.With(Position{X: 100}), ecs.With(Score(100)))
	require.NoError(t, err)
	metas, err := r.CreateEntityBulk(3, ecs.With(Position{X: 1}))
	require.NoError(t, err)

	n, err := r.MigrateArchetypeModifyComponents(
		[]ecs.Component{ecs.Of[Position]()},
		[]ecs.Component{ecs.With(Score(7))}, nil,
	)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, _, _ := ecs.GetComponents[struct{ *Score }](r, existing.ID)
	assert.Equal(t, Score(100), *got.Score)
	for _, m := range metas {
		got, ok, _ := ecs.GetComponents[struct{ *Score }](r, m.ID)
		require.True(t, ok)
		assert.Equal(t, Score(7), *got.Score)
	}
}

func TestRegistryClear(t *testing.T) {
	r := newTestRegistry()
	metas, err := r.CreateEntityBulk(10, ecs.Of[Position]())
	require.NoError(t, err)
	_, err = r.CreateEntity(ecs.Of[Velocity]())
	require.NoError(t, err)
	gen := r.Generation()

	r.Clear()

	assert.Equal(t, 0, r.EntityCount())
	assert.Equal(t, 0, r.ArchetypeCount())
	assert.NotEqual(t, gen, r.Generation())
	assert.False(t, r.IsEntityValid(metas[0]))

	meta, err := r.CreateEntity(ecs.Of[Position]())
	require.NoError(t, err)
	assert.Equal(t, ecs.EntityMeta{ID: 0, Gen: 0}, meta)
}

func TestRegistryGenerationTracksArchetypes(t *testing.T) {
	r := newTestRegistry()
	g0 := r.Generation()

	_, err := r.CreateEntity(ecs.Of[Position]())
	require.NoError(t, err)
	g1 := r.Generation()
	assert.NotEqual(t, g0, g1)

	_, err = r.CreateEntity(ecs.Of[Position]())
	require.NoError(t, err)
	assert.Equal(t, g1, r.Generation())
	assert.Len(t, r.Archetypes(), 1)
}

func TestRegistryMemoryUsage(t *testing.T) {
	r := newTestRegistry()
	empty := r.TotalMemoryUsageInBytes()

	_, err := r.CreateEntityBulk(100, ecs.Of[Transform]())
	require.NoError(t, err)
	assert.Greater(t, r.TotalMemoryUsageInBytes(), empty+100*64)
}

func TestRegistryPageOptions(t *testing.T) {
	r := newTestRegistry(ecs.WithPageSize(8), ecs.WithAggressiveReclaim())
	metas, err := r.CreateEntityBulk(20, ecs.Of[Position]())
	require.NoError(t, err)

	r.DestroyEntityBulk([]ecs.EntityID{metas[0].ID, metas[19].ID})
	assert.Equal(t, 18, r.EntityCount())
	for _, m := range metas[1:19] {
		assert.True(t, r.IsEntityValid(m))
	}
}

func TestRegistryLogsStructuralEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	r := newTestRegistry(ecs.WithLogger(logger))

	metas, err := r.CreateEntityBulk(2, ecs.Of[Position]())
	require.NoError(t, err)
	_, err = r.MigrateArchetypeModifyComponents([]ecs.Component{ecs.Of[Position]()}, []ecs.Component{ecs.Of[Tag]()}, nil)
	require.NoError(t, err)
	r.DestroyEntityBulk([]ecs.EntityID{metas[0].ID})
	r.Clear()

	out := buf.String()
	assert.Contains(t, out, "archetype created")
	assert.Contains(t, out, "archetype migrated")
	assert.Contains(t, out, "bulk destroy")
	assert.Contains(t, out, "registry cleared")
}

func TestCreateEntityReleasesIDsOnStorageConflict(t *testing.T) {
	var buf bytes.Buffer
	r := newTestRegistry(ecs.WithLogger(zerolog.New(&buf)))
	first, err := r.CreateEntity(ecs.Of[Position]())
	require.NoError(t, err)

	// Occupy the next id behind the allocator's back
	a := r.ArchetypeForEntity(first.ID)
	a.Insert(first.ID+1, make([]byte, a.Stride()))

	_, err = r.CreateEntity(ecs.Of[Position]())
	assert.True(t, eris.Is(err, ecs.ErrEntityExists))
	assert.Contains(t, buf.String(), "allocator handed out an id that is still stored")
	assert.NotContains(t, buf.String(), "releasing ids of failed create")
	assert.Equal(t, 1, r.EntityCount())

	// The id went back to the free list
	require.True(t, a.Remove(first.ID+1))
	reused, err := r.CreateEntity(ecs.Of[Position]())
	require.NoError(t, err)
	assert.Equal(t, ecs.EntityMeta{ID: first.ID + 1, Gen: 1}, reused)
}
