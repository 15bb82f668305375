// Package heap implements the relocating object heap described in
// SPEC_FULL.md §4.2: a bump allocator that grows, shrinks, and frees
// arbitrarily sized blocks by sliding the heap's suffix and rewriting
// every stack slot that points into the shifted region.
//
// Alloc is the unchecked primitive — it bumps the heap cursor and does
// not verify there is enough free space; the caller (internal/mclstring)
// is responsible for checking Arena.Space() first and throwing
// api.OutOfMemory itself. Grow, by contrast, can fail on its own: a
// growing block may need more space than is free, and there is no
// earlier checkpoint at which the string layer could have known how
// much more space a grow will need without duplicating this package's
// accounting, so Grow returns ErrOutOfMemory directly.
package heap

import (
	"github.com/pkg/errors"

	"github.com/embedmcl/mcl/api"
	"github.com/embedmcl/mcl/internal/arena"
)

// ErrOutOfMemory is returned by Grow when there is not enough free
// space to accommodate the requested increase in block size.
var ErrOutOfMemory = errors.New("heap: out of memory")

// Heap relocates objects within an *arena.Arena on behalf of higher
// layers. It holds no state of its own beyond a reference to the arena;
// all cursors live in the arena so that arena and heap always agree on
// the boundary between live and free space.
type Heap struct {
	a *arena.Arena
}

// New returns a Heap operating on a.
func New(a *arena.Arena) *Heap {
	return &Heap{a: a}
}

// Alloc bump-allocates size bytes at the current top of heap and
// returns the address of the new block. It does not relocate anything
// and does not check for available space — see the package doc.
func (h *Heap) Alloc(size uint32) arena.Ref {
	if size == 0 {
		panic(errors.New("heap: Alloc called with size 0"))
	}
	ptr := h.a.HeapPtr()
	if arena.RoundUp(ptr+arena.Ref(size)) > h.a.StackPtr() {
		panic(errors.New("heap: Alloc called without the caller first checking Space() (would collide with the stack)"))
	}
	h.a.GrowHeap(int32(size))
	return ptr
}

// Grow enlarges the block at ref from oldSize to newSize (newSize must
// be >= oldSize; use Shrink otherwise), relocating the heap suffix above
// it and rewriting every stack reference into the shifted region. It
// returns ErrOutOfMemory, leaving the arena unchanged, if there is not
// enough free space for the increase.
func (h *Heap) Grow(ref arena.Ref, oldSize, newSize uint32) error {
	if newSize < oldSize {
		panic(errors.New("heap: Grow called with newSize < oldSize"))
	}
	delta := newSize - oldSize
	if delta == 0 {
		return nil
	}
	if delta > h.a.Space()*api.PtrSize {
		return ErrOutOfMemory
	}
	h.relocate(ref, oldSize, newSize, int32(delta))
	return nil
}

// Shrink reduces the block at ref from oldSize to newSize (newSize must
// be <= oldSize; use Grow otherwise). Shrinking only ever releases
// space, so it cannot fail.
func (h *Heap) Shrink(ref arena.Ref, oldSize, newSize uint32) {
	if newSize > oldSize {
		panic(errors.New("heap: Shrink called with newSize > oldSize"))
	}
	delta := oldSize - newSize
	if delta == 0 {
		return
	}
	h.relocate(ref, oldSize, newSize, -int32(delta))
}

// Free releases the block at ref entirely; it is defined as Shrink to
// zero, per SPEC_FULL.md §4.2.
func (h *Heap) Free(ref arena.Ref, size uint32) {
	h.Shrink(ref, size, 0)
}

// relocate implements the protocol common to Grow and Shrink: if ref is
// not the topmost allocation, slide the suffix above it by delta and
// rewrite every stack slot that pointed into the shifted region; then
// move the heap cursor by delta.
func (h *Heap) relocate(ref arena.Ref, oldSize, newSize uint32, delta int32) {
	oldEnd := ref + arena.Ref(oldSize)
	heapTop := h.a.HeapPtr()

	if oldEnd != heapTop {
		suffixLen := uint32(heapTop - oldEnd)
		newEnd := ref + arena.Ref(newSize)
		h.a.CopyHeapRegion(newEnd, oldEnd, suffixLen)
		h.a.RelocateStackRefs(oldEnd, heapTop, delta)
	}
	h.a.GrowHeap(delta)
}
