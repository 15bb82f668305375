// Package arena implements the bidirectional memory substrate the rest
// of the module is built on: a single fixed byte buffer in which a
// compacting object heap grows upward from offset zero while a
// pointer-tagged operand stack grows downward from the top. Nothing in
// this package calls a general-purpose allocator; the buffer is
// supplied once, by the embedder, and never resized.
//
// Arena is the lowest layer in the module and exposes only unchecked
// primitives (Push, Pop, the heap cursor mutators): callers above this
// package — internal/heap and internal/frame — are responsible for
// verifying Space() before calling them. This checked/unchecked split
// is a contract boundary, not a convenience; see the package doc of
// internal/mclstring for the checked side of the same operations.
package arena

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/embedmcl/mcl/api"
)

// Ref is a tagged-by-value-range reference into the arena: depending on
// which range it falls in, it addresses a heap object, a stack slot, the
// sentinel terminator, or an opaque external value supplied by the host.
// A Ref is only a stable handle while held in a stack slot; a Ref held in
// an ordinary Go variable is invalidated by any call that relocates the
// heap (Heap.Grow, Heap.Shrink, Heap.Free, and by extension every
// mclstring operation that resizes a string).
type Ref uint32

// Kind classifies a Ref by the address range it falls into.
type Kind int

const (
	// External is a Ref that is neither a heap address in the live
	// heap range nor a stack address in the occupied stack range, nor
	// the sentinel. Opaque host-supplied handles classify here.
	External Kind = iota
	// HeapRef addresses a live heap object.
	HeapRef
	// StackRef addresses another occupied stack slot.
	StackRef
	// Sentinel is the terminator value (equal to the arena's stackEnd),
	// used by the frame chain to mark "no previous frame".
	Sentinel
)

// Arena owns the fixed buffer and the four cursors described in the
// data model: heapStart (always 0), heapPtr, stackPtr, and stackEnd
// (always len(buf)).
type Arena struct {
	buf      []byte
	heapPtr  Ref
	stackPtr Ref
	stackEnd Ref
}

// New wraps buf as an arena with an empty heap and a full stack. buf's
// length must be a positive multiple of api.PtrSize; this is a shape
// check on the buffer itself, distinct from the MinHeapEntries business
// rule enforced by mcl.Init.
func New(buf []byte) (*Arena, error) {
	if len(buf) == 0 || len(buf)%api.PtrSize != 0 {
		return nil, errors.Errorf("arena: buffer length %d is not a positive multiple of PtrSize=%d", len(buf), api.PtrSize)
	}
	end := Ref(len(buf))
	return &Arena{
		buf:      buf,
		heapPtr:  0,
		stackPtr: end,
		stackEnd: end,
	}, nil
}

// RoundUp aligns offset up to the next multiple of api.PtrSize.
func RoundUp(offset Ref) Ref {
	const mask = Ref(api.PtrSize - 1)
	return (offset + mask) &^ mask
}

// HeapPtr returns the current top of the live heap (exclusive).
func (a *Arena) HeapPtr() Ref { return a.heapPtr }

// StackPtr returns the address of the lowest occupied stack slot.
func (a *Arena) StackPtr() Ref { return a.stackPtr }

// StackEnd returns the fixed upper bound of the arena; it also doubles
// as the sentinel Ref value used to terminate the frame chain.
func (a *Arena) StackEnd() Ref { return a.stackEnd }

// Len returns the size of the backing buffer in bytes.
func (a *Arena) Len() int { return len(a.buf) }

// Space reports the number of free PtrSize-wide entries shared by the
// heap and the stack.
func (a *Arena) Space() uint32 {
	top := RoundUp(a.heapPtr)
	if top >= a.stackPtr {
		return 0
	}
	return uint32(a.stackPtr-top) / api.PtrSize
}

// StackHeight reports the number of occupied stack slots.
func (a *Arena) StackHeight() uint32 {
	return uint32(a.stackEnd-a.stackPtr) / api.PtrSize
}

// Classify reports which range r falls into.
func (a *Arena) Classify(r Ref) Kind {
	switch {
	case r == a.stackEnd:
		return Sentinel
	case r >= a.heapStart() && r < a.heapPtr:
		return HeapRef
	case r >= a.stackPtr && r < a.stackEnd:
		return StackRef
	default:
		return External
	}
}

func (a *Arena) heapStart() Ref { return 0 }

// HeapContains reports whether r addresses a live heap object.
func (a *Arena) HeapContains(r Ref) bool { return a.Classify(r) == HeapRef }

// StackContains reports whether r addresses an occupied stack slot.
func (a *Arena) StackContains(r Ref) bool { return a.Classify(r) == StackRef }

// Push writes v to a newly opened stack slot. Precondition: Space() >= 1.
// Push does not check; it is the unchecked primitive described in
// SPEC_FULL.md §4.1. Violating the precondition is a programming error
// in an upper layer and panics rather than silently corrupting the
// heap/stack boundary.
func (a *Arena) Push(v Ref) {
	if a.stackPtr < RoundUp(a.heapPtr)+api.PtrSize {
		panic(errors.New("arena: Push called with no free space (caller failed to check Space())"))
	}
	a.stackPtr -= api.PtrSize
	a.putRef(a.stackPtr, v)
}

// Pop removes and returns the topmost (lowest-address) stack slot.
// Precondition: StackHeight() >= 1.
func (a *Arena) Pop() Ref {
	if a.stackPtr >= a.stackEnd {
		panic(errors.New("arena: Pop called on an empty stack"))
	}
	v := a.getRef(a.stackPtr)
	a.stackPtr += api.PtrSize
	return v
}

// PopN pops n slots and returns them in pop order (index 0 was the
// topmost slot before the call).
func (a *Arena) PopN(n int) []Ref {
	out := make([]Ref, n)
	for i := 0; i < n; i++ {
		out[i] = a.Pop()
	}
	return out
}

// Depth reads the value at stack depth i, where 0 is the current top of
// stack. ok is false if i is out of the occupied range.
func (a *Arena) Depth(i int) (v Ref, ok bool) {
	ref := a.stackPtr + Ref(i)*api.PtrSize
	if ref < a.stackPtr || ref >= a.stackEnd {
		return 0, false
	}
	return a.getRef(ref), true
}

// SetDepth overwrites the value at stack depth i in place.
func (a *Arena) SetDepth(i int, v Ref) bool {
	ref := a.stackPtr + Ref(i)*api.PtrSize
	if ref < a.stackPtr || ref >= a.stackEnd {
		return false
	}
	a.putRef(ref, v)
	return true
}

// Swap exchanges the values at stack depths i and j in place.
func (a *Arena) Swap(i, j int) bool {
	vi, ok := a.Depth(i)
	if !ok {
		return false
	}
	vj, ok := a.Depth(j)
	if !ok {
		return false
	}
	a.SetDepth(i, vj)
	a.SetDepth(j, vi)
	return true
}

// SlotAt reads the stack slot whose address is ref directly (as opposed
// to Depth, which is indexed from the top). ref must be stack-resident.
func (a *Arena) SlotAt(ref Ref) (Ref, bool) {
	if ref < a.stackPtr || ref >= a.stackEnd {
		return 0, false
	}
	return a.getRef(ref), true
}

// SetSlotAt writes the stack slot whose address is ref directly.
func (a *Arena) SetSlotAt(ref Ref, v Ref) bool {
	if ref < a.stackPtr || ref >= a.stackEnd {
		return false
	}
	a.putRef(ref, v)
	return true
}

// GrowHeap advances (positive delta) or retracts (negative delta) the
// top-of-heap cursor. Called only by internal/heap after it has already
// reserved or released delta bytes.
func (a *Arena) GrowHeap(delta int32) {
	a.heapPtr = Ref(int64(a.heapPtr) + int64(delta))
}

// CopyHeapRegion slides n bytes from src to dst within the heap portion
// of the backing buffer. Go's builtin copy is defined over overlapping
// slices (it behaves like memmove, not memcpy), which is exactly the
// semantics the relocation protocol in SPEC_FULL.md §4.2 requires.
func (a *Arena) CopyHeapRegion(dst, src Ref, n uint32) {
	copy(a.buf[dst:dst+Ref(n)], a.buf[src:src+Ref(n)])
}

// RelocateStackRefs walks every occupied stack slot and adds delta to
// any value v such that lo <= v < hi — the region that CopyHeapRegion
// just shifted. This is the step of the relocation protocol that keeps
// every live stack pointer referentially correct after a heap object
// changes size.
func (a *Arena) RelocateStackRefs(lo, hi Ref, delta int32) {
	for s := a.stackPtr; s < a.stackEnd; s += api.PtrSize {
		v := a.getRef(s)
		if v >= lo && v < hi {
			a.putRef(s, Ref(int64(v)+int64(delta)))
		}
	}
}

// ReadByte reads a single byte at a heap offset.
func (a *Arena) ReadByte(ref Ref) byte { return a.buf[ref] }

// WriteByte writes a single byte at a heap offset.
func (a *Arena) WriteByte(ref Ref, v byte) { a.buf[ref] = v }

// ReadUint16 reads a little-endian uint16 at a heap offset.
func (a *Arena) ReadUint16(ref Ref) uint16 {
	return binary.LittleEndian.Uint16(a.buf[ref : ref+2])
}

// WriteUint16 writes a little-endian uint16 at a heap offset.
func (a *Arena) WriteUint16(ref Ref, v uint16) {
	binary.LittleEndian.PutUint16(a.buf[ref:ref+2], v)
}

// Bytes returns a zero-copy slice of n bytes starting at ref. The slice
// aliases the backing buffer and is invalidated by the next relocating
// heap call, exactly like a raw pointer into the same region would be.
func (a *Arena) Bytes(ref Ref, n uint32) []byte {
	return a.buf[ref : ref+Ref(n)]
}

func (a *Arena) getRef(offset Ref) Ref {
	return Ref(binary.LittleEndian.Uint32(a.buf[offset : offset+api.PtrSize]))
}

func (a *Arena) putRef(offset Ref, v Ref) {
	binary.LittleEndian.PutUint32(a.buf[offset:offset+api.PtrSize], uint32(v))
}
