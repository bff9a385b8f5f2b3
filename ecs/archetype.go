package ecs

import (
	"maps"
	"slices"
	"unsafe"
)

// Archetype stores every entity sharing one exact component signature.
//
// Each row is an EntityMeta header followed by the components in ascending id
// order at the offsets computed by ComputeLayout.
type Archetype struct {
	signature Signature
	ids       []ComponentID
	offsets   map[ComponentID]int
	stride    int
	storage   *TypelessSparseSet
}

func newArchetype(sig Signature, stride int, offsets map[ComponentID]int, opts ...SparseSetOption) (*Archetype, error) {
	storage, err := NewTypelessSparseSet(stride, opts...)
	if err != nil {
		return nil, err
	}
	return &Archetype{
		signature: sig,
		ids:       sig.IDs(),
		offsets:   offsets,
		stride:    stride,
		storage:   storage,
	}, nil
}

// Insert stores a complete row for id.
func (a *Archetype) Insert(id EntityID, row []byte) {
	a.storage.Insert(id, row)
}

// Remove deletes the row of id, reporting whether it existed.
func (a *Archetype) Remove(id EntityID) bool {
	return a.storage.Remove(id)
}

// InsertBulk stores one row per id from the contiguous rows block.
func (a *Archetype) InsertBulk(ids []EntityID, rows []byte) {
	a.storage.InsertBulk(ids, rows)
}

// InsertBulkUninitialized appends one row per id and returns the block to fill.
func (a *Archetype) InsertBulkUninitialized(ids []EntityID) ([]byte, error) {
	return a.storage.InsertBulkUninitialized(ids)
}

// RemoveBulk deletes the rows of ids and returns the ids that were absent.
func (a *Archetype) RemoveBulk(ids []EntityID) []EntityID {
	return a.storage.RemoveBulk(ids)
}

type sharedComponent struct {
	src, dst, size int
}

// sharedComponents lists the components present in both src and dst with
// their offsets in each.
func sharedComponents(src, dst *Archetype, registry *ComponentRegistry) []sharedComponent {
	shared := make([]sharedComponent, 0, len(src.ids))
	for _, id := range src.ids {
		dstOff, ok := dst.offsets[id]
		if !ok {
			continue
		}
		shared = append(shared, sharedComponent{
			src:  src.offsets[id],
			dst:  dstOff,
			size: int(registry.meta(id).Size),
		})
	}
	return shared
}

// MigrateAllTo moves every entity into dest, carrying the EntityMeta header
// and every component both archetypes share. Components only dest has are
// left uninitialized for the caller. It returns the migrated ids.
func (a *Archetype) MigrateAllTo(dest *Archetype, registry *ComponentRegistry) []EntityID {
	shared := sharedComponents(a, dest, registry)
	return a.storage.MoveAllTo(dest.storage, func(_ EntityID, src, dst []byte) {
		copy(dst[:entityMetaSize], src[:entityMetaSize])
		for _, c := range shared {
			copy(dst[c.dst:c.dst+c.size], src[c.src:c.src+c.size])
		}
	})
}

// Get returns the row of id, or nil.
func (a *Archetype) Get(id EntityID) []byte {
	return a.storage.Get(id)
}

// Meta returns the EntityMeta stored in the row of id.
func (a *Archetype) Meta(id EntityID) (EntityMeta, bool) {
	row := a.storage.Get(id)
	if row == nil {
		return EntityMeta{}, false
	}
	return readMeta(row), true
}

// Contains reports whether id lives in this archetype.
func (a *Archetype) Contains(id EntityID) bool {
	return a.storage.Contains(id)
}

// Signature returns a copy of the archetype's component signature.
func (a *Archetype) Signature() Signature {
	return a.signature.Clone()
}

// ComponentIDs returns a copy of the component ids in ascending order.
func (a *Archetype) ComponentIDs() []ComponentID {
	return slices.Clone(a.ids)
}

// ComponentOffsets returns a copy of the component offset table.
func (a *Archetype) ComponentOffsets() map[ComponentID]int {
	return maps.Clone(a.offsets)
}

// ComponentOffset returns the byte offset of id within a row.
func (a *Archetype) ComponentOffset(id ComponentID) (int, bool) {
	off, ok := a.offsets[id]
	return off, ok
}

func (a *Archetype) Stride() int  { return a.stride }
func (a *Archetype) Size() int    { return a.storage.Size() }
func (a *Archetype) Empty() bool  { return a.storage.Empty() }
func (a *Archetype) Data() []byte { return a.storage.Data() }

// EntityIDs returns the ids in row order. The slice aliases internal storage.
func (a *Archetype) EntityIDs() []EntityID {
	return a.storage.Keys()
}

// MemoryUsageInBytes approximates the memory held by the archetype.
func (a *Archetype) MemoryUsageInBytes() int {
	return int(unsafe.Sizeof(*a)) + len(a.offsets)*16 + a.storage.MemoryUsageInBytes()
}

func (a *Archetype) rowPointer(i int) unsafe.Pointer {
	return a.storage.RowPointer(i)
}

func (a *Archetype) clear() {
	a.storage.Clear()
}
