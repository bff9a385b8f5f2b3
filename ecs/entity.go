package ecs

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/rotisserie/eris"
)

// EntityID identifies an entity slot. Ids are reused after being freed.
type EntityID uint32

// EntityGen distinguishes successive occupants of the same EntityID.
type EntityGen uint32

// EntityMeta is the handle returned to callers and the header of every stored row.
type EntityMeta struct {
	ID  EntityID
	Gen EntityGen
}

func (m EntityMeta) String() string {
	return fmt.Sprintf("%d@%d", m.ID, m.Gen)
}

// EntityAllocationHelper hands out entity ids and tracks their generations.
//
// Freed ids are reused in LIFO order before new ids are minted. The generation
// of an id is bumped when it is handed out again, not when it is freed.
type EntityAllocationHelper struct {
	next        EntityID
	generations []EntityGen
	freeList    []EntityID
	free        *bitset.BitSet
}

// NewEntityAllocationHelper creates an empty allocator.
func NewEntityAllocationHelper() *EntityAllocationHelper {
	return &EntityAllocationHelper{
		free: bitset.New(0),
	}
}

// GetID returns a fresh handle.
func (h *EntityAllocationHelper) GetID() EntityMeta {
	if n := len(h.freeList); n > 0 {
		id := h.freeList[n-1]
		h.freeList = h.freeList[:n-1]
		h.free.Clear(uint(id))
		h.generations[id]++
		return EntityMeta{ID: id, Gen: h.generations[id]}
	}

	id := h.next
	h.next++
	h.generations = append(h.generations, 0)
	return EntityMeta{ID: id, Gen: 0}
}

// GetIDBulk returns n handles, equivalent to n calls to GetID.
func (h *EntityAllocationHelper) GetIDBulk(n int) []EntityMeta {
	if n <= 0 {
		return nil
	}
	out := make([]EntityMeta, n)
	for i := range out {
		out[i] = h.GetID()
	}
	return out
}

// FreeID returns id to the free list.
func (h *EntityAllocationHelper) FreeID(id EntityID) error {
	if err := h.checkFree(id); err != nil {
		return err
	}
	h.free.Set(uint(id))
	h.freeList = append(h.freeList, id)
	return nil
}

// FreeIDBulk frees every id in ids. The batch is validated as a whole first;
// on error nothing is freed.
func (h *EntityAllocationHelper) FreeIDBulk(ids []EntityID) error {
	seen := bitset.New(uint(h.next))
	for _, id := range ids {
		if err := h.checkFree(id); err != nil {
			return err
		}
		if seen.Test(uint(id)) {
			return eris.Wrapf(ErrDoubleFree, "id %d appears twice in batch", id)
		}
		seen.Set(uint(id))
	}
	for _, id := range ids {
		h.free.Set(uint(id))
		h.freeList = append(h.freeList, id)
	}
	return nil
}

func (h *EntityAllocationHelper) checkFree(id EntityID) error {
	if id >= h.next {
		return eris.Wrapf(ErrUnknownEntity, "id %d", id)
	}
	if h.free.Test(uint(id)) {
		return eris.Wrapf(ErrDoubleFree, "id %d", id)
	}
	return nil
}

// GenForID returns the current generation of id. ok is false when id was
// never issued. A freed id keeps reporting the generation it was freed with.
func (h *EntityAllocationHelper) GenForID(id EntityID) (EntityGen, bool) {
	if id >= h.next {
		return 0, false
	}
	return h.generations[id], true
}

// Live returns the number of ids currently handed out.
func (h *EntityAllocationHelper) Live() int {
	return int(h.next) - len(h.freeList)
}

// Reset forgets every id and generation.
func (h *EntityAllocationHelper) Reset() {
	h.next = 0
	h.generations = h.generations[:0]
	h.freeList = h.freeList[:0]
	h.free.ClearAll()
}
