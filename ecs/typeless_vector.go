package ecs

import (
	"iter"
	"unsafe"

	"github.com/rotisserie/eris"
)

// TypelessVector is a growable buffer of fixed-size slots whose element type
// is known only by its stride.
//
// The buffer is backed by []uint64 so its base address is 8-byte aligned.
// Any growth reallocates: byte slices and pointers obtained before a growth
// keep addressing the old buffer and no longer observe writes to the vector.
type TypelessVector struct {
	words  []uint64
	buf    []byte
	stride int
	size   int
}

// NewTypelessVector creates a vector of stride-byte slots with room for capacity slots.
func NewTypelessVector(stride, capacity int) (*TypelessVector, error) {
	if stride <= 0 {
		return nil, eris.Wrapf(ErrZeroStride, "stride %d", stride)
	}
	v := &TypelessVector{stride: stride}
	v.Reserve(capacity)
	return v, nil
}

// At returns the bytes of slot i.
func (v *TypelessVector) At(i int) ([]byte, error) {
	if i < 0 || i >= v.size {
		return nil, eris.Wrapf(ErrIndexOutOfRange, "index %d, size %d", i, v.size)
	}
	return v.Slot(i), nil
}

// Slot returns the bytes of slot i without bounds checking against Size.
func (v *TypelessVector) Slot(i int) []byte {
	off := i * v.stride
	return v.buf[off : off+v.stride : off+v.stride]
}

// Pointer returns the address of slot i.
func (v *TypelessVector) Pointer(i int) unsafe.Pointer {
	return unsafe.Pointer(&v.buf[i*v.stride])
}

// PushBack appends one slot copied from src. src shorter than the stride
// leaves the tail of the slot zeroed.
func (v *TypelessVector) PushBack(src []byte) {
	v.ensureCapacity(v.size + 1)
	dst := v.Slot(v.size)
	n := copy(dst, src)
	clear(dst[n:])
	v.size++
}

// PushBackBulk appends count slots copied contiguously from src.
func (v *TypelessVector) PushBackBulk(src []byte, count int) {
	if count <= 0 {
		return
	}
	v.ensureCapacity(v.size + count)
	start := v.size * v.stride
	dst := v.buf[start : start+count*v.stride]
	n := copy(dst, src)
	clear(dst[n:])
	v.size += count
}

// AppendUninitialized grows the vector by n slots and returns the bytes
// covering them. The caller must initialize every new slot.
func (v *TypelessVector) AppendUninitialized(n int) []byte {
	if n <= 0 {
		return nil
	}
	v.ensureCapacity(v.size + n)
	start := v.size * v.stride
	v.size += n
	return v.buf[start : v.size*v.stride]
}

// PopBack removes the last slot.
func (v *TypelessVector) PopBack() error {
	if v.size == 0 {
		return eris.Wrap(ErrEmptyVector, "pop back")
	}
	v.size--
	return nil
}

// PopBackBulk removes the last n slots.
func (v *TypelessVector) PopBackBulk(n int) error {
	if n < 0 || n > v.size {
		return eris.Wrapf(ErrIndexOutOfRange, "pop %d of %d", n, v.size)
	}
	v.size -= n
	return nil
}

// Erase removes slot i by moving the last slot into it.
func (v *TypelessVector) Erase(i int) error {
	if i < 0 || i >= v.size {
		return eris.Wrapf(ErrIndexOutOfRange, "erase %d, size %d", i, v.size)
	}
	last := v.size - 1
	if i != last {
		copy(v.Slot(i), v.Slot(last))
	}
	v.size--
	return nil
}

// SwapElements exchanges the contents of slots i and j.
func (v *TypelessVector) SwapElements(i, j int) error {
	if i < 0 || i >= v.size || j < 0 || j >= v.size {
		return eris.Wrapf(ErrIndexOutOfRange, "swap %d and %d, size %d", i, j, v.size)
	}
	if i == j {
		return nil
	}
	a, b := v.Slot(i), v.Slot(j)
	for k := range a {
		a[k], b[k] = b[k], a[k]
	}
	return nil
}

// Reserve ensures room for at least capacity slots.
func (v *TypelessVector) Reserve(capacity int) {
	if capacity > v.Capacity() {
		v.realloc(capacity)
	}
}

// Resize sets the number of slots. New slots are zeroed.
func (v *TypelessVector) Resize(n int) {
	if n < 0 {
		n = 0
	}
	if n > v.size {
		v.ensureCapacity(n)
		clear(v.buf[v.size*v.stride : n*v.stride])
	}
	v.size = n
}

// Clear removes every slot but keeps the allocation.
func (v *TypelessVector) Clear() {
	v.size = 0
}

// ShrinkToFit releases capacity beyond Size.
func (v *TypelessVector) ShrinkToFit() {
	if v.Capacity() > v.size {
		v.realloc(v.size)
	}
}

func (v *TypelessVector) Size() int     { return v.size }
func (v *TypelessVector) Capacity() int { return len(v.buf) / v.stride }
func (v *TypelessVector) Empty() bool   { return v.size == 0 }
func (v *TypelessVector) Stride() int   { return v.stride }

// Data returns the live bytes, Size*Stride long.
func (v *TypelessVector) Data() []byte {
	return v.buf[:v.size*v.stride]
}

// MemoryUsageInBytes returns the struct size plus the allocated buffer.
func (v *TypelessVector) MemoryUsageInBytes() int {
	return int(unsafe.Sizeof(*v)) + len(v.words)*8
}

// All iterates over the slots in order.
func (v *TypelessVector) All() iter.Seq2[int, []byte] {
	return func(yield func(int, []byte) bool) {
		for i := 0; i < v.size; i++ {
			if !yield(i, v.Slot(i)) {
				return
			}
		}
	}
}

func (v *TypelessVector) ensureCapacity(required int) {
	capacity := v.Capacity()
	if required <= capacity {
		return
	}
	v.realloc(max(required, capacity*2))
}

func (v *TypelessVector) realloc(capacity int) {
	nbytes := capacity * v.stride
	words := make([]uint64, (nbytes+7)/8)
	var buf []byte
	if len(words) > 0 {
		buf = unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), nbytes)
		copy(buf, v.buf[:v.size*v.stride])
	}
	v.words = words
	v.buf = buf
}
