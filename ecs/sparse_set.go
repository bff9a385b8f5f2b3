package ecs

import (
	"iter"
	"unsafe"

	"github.com/bits-and-blooms/bitset"
	"github.com/rotisserie/eris"
)

// DefaultPageSize is the number of entity ids covered by one sparse page.
const DefaultPageSize = 64

type sparsePage struct {
	dense   []int
	present *bitset.BitSet
	count   int
}

func newSparsePage(size int) *sparsePage {
	return &sparsePage{
		dense:   make([]int, size),
		present: bitset.New(uint(size)),
	}
}

// TypelessSparseSet maps entity ids to stride-sized rows kept densely packed.
//
// Lookups go through a paged sparse index; rows and their ids live in two
// parallel dense arrays. Removal swaps the last row into the hole.
type TypelessSparseSet struct {
	pages             []*sparsePage
	dense             []EntityID
	rows              *TypelessVector
	pageSize          int
	aggressiveReclaim bool
}

// SparseSetOption configures a TypelessSparseSet.
type SparseSetOption func(*sparseSetConfig)

type sparseSetConfig struct {
	pageSize          int
	aggressiveReclaim bool
	initialCapacity   int
}

// SparseSetPageSize sets how many ids one sparse page covers.
func SparseSetPageSize(n int) SparseSetOption {
	return func(c *sparseSetConfig) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// SparseSetAggressiveReclaim frees sparse pages as soon as they become empty.
func SparseSetAggressiveReclaim() SparseSetOption {
	return func(c *sparseSetConfig) {
		c.aggressiveReclaim = true
	}
}

// SparseSetInitialCapacity preallocates room for n rows.
func SparseSetInitialCapacity(n int) SparseSetOption {
	return func(c *sparseSetConfig) {
		c.initialCapacity = n
	}
}

// NewTypelessSparseSet creates an empty set of stride-byte rows.
func NewTypelessSparseSet(stride int, opts ...SparseSetOption) (*TypelessSparseSet, error) {
	cfg := sparseSetConfig{pageSize: DefaultPageSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	rows, err := NewTypelessVector(stride, cfg.initialCapacity)
	if err != nil {
		return nil, err
	}
	return &TypelessSparseSet{
		dense:             make([]EntityID, 0, cfg.initialCapacity),
		rows:              rows,
		pageSize:          cfg.pageSize,
		aggressiveReclaim: cfg.aggressiveReclaim,
	}, nil
}

func (s *TypelessSparseSet) locate(id EntityID) (int, int) {
	return int(id) / s.pageSize, int(id) % s.pageSize
}

func (s *TypelessSparseSet) page(id EntityID) (*sparsePage, int) {
	pageIdx, slot := s.locate(id)
	if pageIdx >= len(s.pages) {
		return nil, slot
	}
	return s.pages[pageIdx], slot
}

func (s *TypelessSparseSet) ensurePage(id EntityID) (*sparsePage, int) {
	pageIdx, slot := s.locate(id)
	if pageIdx >= len(s.pages) {
		grown := make([]*sparsePage, max(pageIdx+1, 2*len(s.pages)))
		copy(grown, s.pages)
		s.pages = grown
	}
	p := s.pages[pageIdx]
	if p == nil {
		p = newSparsePage(s.pageSize)
		s.pages[pageIdx] = p
	}
	return p, slot
}

// indexOf returns the dense position of id.
func (s *TypelessSparseSet) indexOf(id EntityID) (int, bool) {
	p, slot := s.page(id)
	if p == nil || !p.present.Test(uint(slot)) {
		return 0, false
	}
	return p.dense[slot], true
}

func (s *TypelessSparseSet) link(id EntityID, idx int) {
	p, slot := s.ensurePage(id)
	p.dense[slot] = idx
	if !p.present.Test(uint(slot)) {
		p.present.Set(uint(slot))
		p.count++
	}
}

func (s *TypelessSparseSet) unlink(id EntityID) {
	pageIdx, slot := s.locate(id)
	p := s.pages[pageIdx]
	p.present.Clear(uint(slot))
	p.count--
	if p.count == 0 && s.aggressiveReclaim {
		s.pages[pageIdx] = nil
	}
}

// Contains reports whether id has a row.
func (s *TypelessSparseSet) Contains(id EntityID) bool {
	_, ok := s.indexOf(id)
	return ok
}

// Get returns the row of id, or nil.
func (s *TypelessSparseSet) Get(id EntityID) []byte {
	idx, ok := s.indexOf(id)
	if !ok {
		return nil
	}
	return s.rows.Slot(idx)
}

// Insert stores data as the row of id, overwriting an existing row.
func (s *TypelessSparseSet) Insert(id EntityID, data []byte) {
	if idx, ok := s.indexOf(id); ok {
		dst := s.rows.Slot(idx)
		n := copy(dst, data)
		clear(dst[n:])
		return
	}
	s.link(id, len(s.dense))
	s.dense = append(s.dense, id)
	s.rows.PushBack(data)
}

// TryInsert stores data only if id has no row yet.
func (s *TypelessSparseSet) TryInsert(id EntityID, data []byte) bool {
	if s.Contains(id) {
		return false
	}
	s.Insert(id, data)
	return true
}

// Remove swap-removes the row of id. It reports whether a row was removed.
func (s *TypelessSparseSet) Remove(id EntityID) bool {
	idx, ok := s.indexOf(id)
	if !ok {
		return false
	}
	last := len(s.dense) - 1
	if idx != last {
		moved := s.dense[last]
		s.dense[idx] = moved
		copy(s.rows.Slot(idx), s.rows.Slot(last))
		s.link(moved, idx)
	}
	s.dense = s.dense[:last]
	_ = s.rows.PopBack()
	s.unlink(id)
	return true
}

// InsertBulk inserts ids[i] with the i-th stride-sized chunk of data.
func (s *TypelessSparseSet) InsertBulk(ids []EntityID, data []byte) {
	s.Reserve(maxEntityID(ids), len(s.dense)+len(ids))
	stride := s.rows.Stride()
	for i, id := range ids {
		s.Insert(id, data[i*stride:(i+1)*stride])
	}
}

// InsertBulkUninitialized appends one row per id and returns the bytes of the
// new block, in ids order. Every id must be absent from the set and appear
// once; otherwise nothing is changed.
func (s *TypelessSparseSet) InsertBulkUninitialized(ids []EntityID) ([]byte, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	seen := bitset.New(uint(maxEntityID(ids)) + 1)
	for _, id := range ids {
		if s.Contains(id) || seen.Test(uint(id)) {
			return nil, eris.Wrapf(ErrEntityExists, "id %d", id)
		}
		seen.Set(uint(id))
	}

	s.Reserve(maxEntityID(ids), len(s.dense)+len(ids))
	start := len(s.dense)
	block := s.rows.AppendUninitialized(len(ids))
	s.dense = append(s.dense, ids...)
	for i, id := range ids {
		s.link(id, start+i)
	}
	return block, nil
}

// RemoveBulk removes every id and returns the ones that had no row.
func (s *TypelessSparseSet) RemoveBulk(ids []EntityID) []EntityID {
	var missing []EntityID
	for _, id := range ids {
		if !s.Remove(id) {
			missing = append(missing, id)
		}
	}
	return missing
}

// MoveAllTo moves every row into dest and empties s. transform builds each
// destination row from the source row. It returns the moved ids in their
// former dense order.
func (s *TypelessSparseSet) MoveAllTo(dest *TypelessSparseSet, transform func(id EntityID, src, dst []byte)) []EntityID {
	count := len(s.dense)
	if count == 0 {
		return nil
	}
	moved := make([]EntityID, count)
	copy(moved, s.dense)

	dest.Reserve(maxEntityID(moved), len(dest.dense)+count)
	start := len(dest.dense)
	block := dest.rows.AppendUninitialized(count)
	dstStride := dest.rows.Stride()
	for i, id := range moved {
		dst := block[i*dstStride : (i+1)*dstStride]
		transform(id, s.rows.Slot(i), dst)
		dest.dense = append(dest.dense, id)
		dest.link(id, start+i)
	}

	for _, id := range moved {
		s.unlink(id)
	}
	s.dense = s.dense[:0]
	s.rows.Clear()
	return moved
}

// Reserve prepares the set for count rows and ids up to maxID. With
// aggressive reclaim only the dense storage is reserved.
func (s *TypelessSparseSet) Reserve(maxID EntityID, count int) {
	if !s.aggressiveReclaim {
		last, _ := s.locate(maxID)
		for p := 0; p <= last; p++ {
			s.ensurePage(EntityID(p * s.pageSize))
		}
	}
	if count > cap(s.dense) {
		grown := make([]EntityID, len(s.dense), count)
		copy(grown, s.dense)
		s.dense = grown
	}
	s.rows.Reserve(count)
}

// Clear removes every row and drops all sparse pages.
func (s *TypelessSparseSet) Clear() {
	s.pages = nil
	s.dense = s.dense[:0]
	s.rows.Clear()
}

// ShrinkToFit releases spare dense capacity and empty pages.
func (s *TypelessSparseSet) ShrinkToFit() {
	s.dense = append([]EntityID(nil), s.dense...)
	s.rows.ShrinkToFit()
	for i, p := range s.pages {
		if p != nil && p.count == 0 {
			s.pages[i] = nil
		}
	}
	last := len(s.pages)
	for last > 0 && s.pages[last-1] == nil {
		last--
	}
	s.pages = s.pages[:last:last]
}

func (s *TypelessSparseSet) Size() int     { return len(s.dense) }
func (s *TypelessSparseSet) Capacity() int { return s.rows.Capacity() }
func (s *TypelessSparseSet) Empty() bool   { return len(s.dense) == 0 }
func (s *TypelessSparseSet) Stride() int   { return s.rows.Stride() }

// Keys returns the ids in dense order. The slice aliases internal storage.
func (s *TypelessSparseSet) Keys() []EntityID {
	return s.dense
}

// Data returns the rows in dense order. The slice aliases internal storage.
func (s *TypelessSparseSet) Data() []byte {
	return s.rows.Data()
}

// Row returns the row at dense position i.
func (s *TypelessSparseSet) Row(i int) []byte {
	return s.rows.Slot(i)
}

// RowPointer returns the address of the row at dense position i.
func (s *TypelessSparseSet) RowPointer(i int) unsafe.Pointer {
	return s.rows.Pointer(i)
}

// PageCount returns the number of allocated sparse pages.
func (s *TypelessSparseSet) PageCount() int {
	n := 0
	for _, p := range s.pages {
		if p != nil {
			n++
		}
	}
	return n
}

// MemoryUsageInBytes approximates the memory held by the set.
func (s *TypelessSparseSet) MemoryUsageInBytes() int {
	total := int(unsafe.Sizeof(*s))
	total += cap(s.pages) * int(unsafe.Sizeof((*sparsePage)(nil)))
	for _, p := range s.pages {
		if p != nil {
			total += int(unsafe.Sizeof(*p)) + cap(p.dense)*int(unsafe.Sizeof(int(0))) + int(p.present.Len()+7)/8
		}
	}
	total += cap(s.dense) * int(unsafe.Sizeof(EntityID(0)))
	return total + s.rows.MemoryUsageInBytes()
}

// All iterates over (id, row) pairs in dense order.
func (s *TypelessSparseSet) All() iter.Seq2[EntityID, []byte] {
	return func(yield func(EntityID, []byte) bool) {
		for i, id := range s.dense {
			if !yield(id, s.rows.Slot(i)) {
				return
			}
		}
	}
}

func maxEntityID(ids []EntityID) EntityID {
	var m EntityID
	for _, id := range ids {
		m = max(m, id)
	}
	return m
}
