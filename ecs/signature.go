package ecs

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
)

// Signature is the set of component ids an entity carries. Its width is the
// registry's maximum component count; signatures of different widths never
// compare equal.
type Signature struct {
	bits *bitset.BitSet
}

// NewSignature creates an empty signature able to hold ids below width.
func NewSignature(width int) Signature {
	return Signature{bits: bitset.New(uint(width))}
}

// Set adds id to the signature in place and returns it. Signatures share
// their bits when copied; use Clone before modifying one you do not own.
func (s Signature) Set(id ComponentID) Signature {
	s.bits.Set(uint(id))
	return s
}

// Unset removes id from the signature in place and returns it.
func (s Signature) Unset(id ComponentID) Signature {
	s.bits.Clear(uint(id))
	return s
}

// Has reports whether id is in the signature.
func (s Signature) Has(id ComponentID) bool {
	return s.bits.Test(uint(id))
}

// Equal reports whether both signatures hold the same ids.
func (s Signature) Equal(other Signature) bool {
	return s.bits.Equal(other.bits)
}

// Contains reports whether s is a superset of other.
func (s Signature) Contains(other Signature) bool {
	return s.bits.IsSuperSet(other.bits)
}

// Count returns the number of ids in the signature.
func (s Signature) Count() int {
	return int(s.bits.Count())
}

// IDs returns the ids in ascending order.
func (s Signature) IDs() []ComponentID {
	ids := make([]ComponentID, 0, s.bits.Count())
	for i, ok := s.bits.NextSet(0); ok; i, ok = s.bits.NextSet(i + 1) {
		ids = append(ids, ComponentID(i))
	}
	return ids
}

// Clone returns an independent copy.
func (s Signature) Clone() Signature {
	return Signature{bits: s.bits.Clone()}
}

// Hash returns a 64-bit hash of the signature words.
func (s Signature) Hash() uint64 {
	words := s.bits.Bytes()
	buf := make([]byte, 0, len(words)*8)
	for _, w := range words {
		buf = binary.LittleEndian.AppendUint64(buf, w)
	}
	return xxhash.Sum64(buf)
}

func (s Signature) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for n, id := range s.IDs() {
		if n > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.FormatUint(uint64(id), 10))
	}
	sb.WriteByte('}')
	return sb.String()
}
