package ecs

import "unsafe"

// entityMetaSize is the size of the EntityMeta header at the start of every row.
const entityMetaSize = int(unsafe.Sizeof(EntityMeta{}))

// entityMetaAlign is the minimum row alignment.
const entityMetaAlign = int(unsafe.Alignof(EntityMeta{}))

func alignUp(offset, align int) int {
	return (offset + align - 1) &^ (align - 1)
}

// ComputeLayout returns the row stride and per-component byte offsets for sig.
//
// The EntityMeta header sits at offset 0. Components follow in ascending id
// order, each aligned to its own alignment. The stride is the end of the last
// component rounded up to the largest alignment in the row, not the end itself,
// so consecutive rows stay aligned: a row holding a single uint8 has stride 12
// rather than 9. Offsets are the same either way. Every id in sig must be
// registered in r.
func ComputeLayout(r *ComponentRegistry, sig Signature) (int, map[ComponentID]int) {
	offsets := make(map[ComponentID]int, sig.Count())
	offset := entityMetaSize
	maxAlign := entityMetaAlign
	for _, id := range sig.IDs() {
		meta := r.meta(id)
		align := int(meta.Alignment)
		if align < 1 {
			align = 1
		}
		offset = alignUp(offset, align)
		offsets[id] = offset
		offset += int(meta.Size)
		maxAlign = max(maxAlign, align)
	}
	return alignUp(offset, maxAlign), offsets
}

// CalculateStride returns the row stride for sig.
func CalculateStride(r *ComponentRegistry, sig Signature) int {
	stride, _ := ComputeLayout(r, sig)
	return stride
}

// ComponentOffsetsForSignature returns the byte offset of every component in sig.
func ComponentOffsetsForSignature(r *ComponentRegistry, sig Signature) map[ComponentID]int {
	_, offsets := ComputeLayout(r, sig)
	return offsets
}
