// Package mclstring implements the reference-counted, length-prefixed
// string object described in SPEC_FULL.md §4.3. It is the checked layer
// above internal/heap: every operation here that could run out of
// arena space verifies that before touching the heap and reports the
// shortfall as a Go error, which the caller (the mcl package, or a
// language layer above it) turns into a non-local api.OutOfMemory throw
// via internal/unwind.
//
// Wire layout, byte for byte (SPEC_FULL.md §6):
//
//	offset 0: u8   refcount   (1..255)
//	offset 1: u16  length L   (little-endian, 0 <= L <= api.MaxStringLen)
//	offset 3: u8[L] payload
//	offset 3+L: u8 = 0x00 (NUL terminator)
//
// Total footprint is 4+L bytes. Because Grow, Shrink, and Unref may
// relocate the heap, any mclstring.Ref held in a local variable across
// one of those calls is stale the moment the call returns — only a Ref
// held in an arena stack slot is guaranteed live. This mirrors the
// exact caveat SPEC_FULL.md §4.2 documents for internal/heap.
package mclstring

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/embedmcl/mcl/api"
	"github.com/embedmcl/mcl/internal/arena"
	"github.com/embedmcl/mcl/internal/heap"
)

const headerSize = 3 // refcount(1) + length(2); payload and NUL follow

// Ref addresses a string object on the heap. It is a distinct type over
// arena.Ref so the compiler catches a string handle being passed where
// a generic heap/stack reference was expected, and vice versa.
type Ref arena.Ref

// ErrOutOfMemory is returned by any operation that would need more
// space than the arena has free.
var ErrOutOfMemory = errors.New("mclstring: out of memory")

// maxRefcount is the refcount value beyond which Ref (increment) cannot
// go, since the field is a single byte.
const maxRefcount = 255

// ErrRefcountOverflow is returned by Ref when incrementing would exceed
// the 255 a single byte can hold. SPEC_FULL.md §7 resolves this as
// recoverable rather than a process abort.
var ErrRefcountOverflow = errors.New("mclstring: refcount overflow")

// Strings bundles an arena and heap to operate on — the same pairing
// every exported function here takes explicitly would otherwise be
// threaded through dozens of call sites.
type Strings struct {
	a *arena.Arena
	h *heap.Heap
}

// New returns a Strings bound to the given arena/heap pair.
func New(a *arena.Arena, h *heap.Heap) *Strings {
	return &Strings{a: a, h: h}
}

// Alloc reserves a new, zero-filled string object of the given length
// and returns its reference. It is the checked entry point: it verifies
// free space against the object's full 4+length footprint before
// touching the heap.
func (s *Strings) Alloc(length uint16) (Ref, error) {
	if length > api.MaxStringLen {
		return 0, errors.Errorf("mclstring: length %d exceeds MaxStringLen=%d", length, api.MaxStringLen)
	}
	need := uint32(headerSize) + uint32(length) + 1 // +1 for NUL
	if need > s.a.Space()*api.PtrSize {
		return 0, ErrOutOfMemory
	}
	ref := arena.Ref(s.h.Alloc(need))
	p := s.payload(ref, length)
	for i := range p {
		p[i] = 0
	}
	s.a.WriteByte(ref, 1) // refcount starts at 1
	s.a.WriteUint16(ref+1, length)
	s.a.WriteByte(ref+arena.Ref(headerSize)+arena.Ref(length), 0) // NUL
	return Ref(ref), nil
}

// New builds a string object from str's bytes.
func (s *Strings) New(str string) (Ref, error) {
	return s.NewWithLen([]byte(str))
}

// NewWithLen builds a string object from an explicit byte slice, which
// may contain embedded NULs — the length is explicit, per SPEC_FULL.md
// §6, so embedded NULs are not a truncation hazard.
func (s *Strings) NewWithLen(b []byte) (Ref, error) {
	if len(b) > api.MaxStringLen {
		return 0, errors.Errorf("mclstring: length %d exceeds MaxStringLen=%d", len(b), api.MaxStringLen)
	}
	ref, err := s.Alloc(uint16(len(b)))
	if err != nil {
		return 0, err
	}
	copy(s.payload(arena.Ref(ref), uint16(len(b))), b)
	return ref, nil
}

// refcount returns the current reference count stored in the header.
func (s *Strings) refcount(r Ref) byte { return s.a.ReadByte(arena.Ref(r)) }

func (s *Strings) setRefcount(r Ref, v byte) { s.a.WriteByte(arena.Ref(r), v) }

// Length returns the string's current length.
func (s *Strings) Length(r Ref) uint16 { return s.a.ReadUint16(arena.Ref(r) + 1) }

// Bytes returns a zero-copy view of r's payload. It aliases the arena's
// backing buffer and is invalidated by the next relocating call, exactly
// like the Ref itself.
func (s *Strings) Bytes(r Ref) []byte {
	return s.payload(arena.Ref(r), s.Length(r))
}

func (s *Strings) payload(ref arena.Ref, length uint16) []byte {
	return s.a.Bytes(ref+arena.Ref(headerSize), uint32(length))
}

func (s *Strings) footprint(length uint16) uint32 {
	return uint32(headerSize) + uint32(length) + 1
}

// Ref increments r's reference count and returns r unchanged. It fails
// with ErrRefcountOverflow rather than incrementing past 255.
func (s *Strings) Ref(r Ref) (Ref, error) {
	rc := s.refcount(r)
	if rc >= maxRefcount {
		return r, ErrRefcountOverflow
	}
	s.setRefcount(r, rc+1)
	return r, nil
}

// Unref decrements r's reference count, freeing the underlying block
// (and relocating the heap suffix above it) when the count reaches
// zero.
func (s *Strings) Unref(r Ref) error {
	rc := s.refcount(r)
	if rc > 1 {
		s.setRefcount(r, rc-1)
		return nil
	}
	s.h.Free(arena.Ref(r), s.footprint(s.Length(r)))
	return nil
}

// Grow enlarges r in place to newLen, zero-filling the new tail bytes,
// and re-terminates the string with a NUL at the new end. Bytes before
// min(oldLen, newLen) are preserved.
func (s *Strings) Grow(r Ref, newLen uint16) (Ref, error) {
	if newLen > api.MaxStringLen {
		return r, errors.Errorf("mclstring: length %d exceeds MaxStringLen=%d", newLen, api.MaxStringLen)
	}
	oldLen := s.Length(r)
	if newLen <= oldLen {
		return s.Shrink(r, newLen)
	}
	oldSize := s.footprint(oldLen)
	newSize := s.footprint(newLen)
	if err := s.h.Grow(arena.Ref(r), oldSize, newSize); err != nil {
		return r, ErrOutOfMemory
	}
	s.a.WriteUint16(arena.Ref(r)+1, newLen)
	// Zero-fill the newly exposed tail, then re-terminate.
	tail := s.payload(arena.Ref(r), newLen)[oldLen:]
	for i := range tail {
		tail[i] = 0
	}
	s.a.WriteByte(arena.Ref(r)+arena.Ref(headerSize)+arena.Ref(newLen), 0)
	return r, nil
}

// Shrink reduces r in place to newLen and re-terminates it with a NUL
// at the new end. Shrinking cannot fail.
func (s *Strings) Shrink(r Ref, newLen uint16) (Ref, error) {
	oldLen := s.Length(r)
	if newLen > oldLen {
		return s.Grow(r, newLen)
	}
	if newLen == oldLen {
		return r, nil
	}
	oldSize := s.footprint(oldLen)
	newSize := s.footprint(newLen)
	s.h.Shrink(arena.Ref(r), oldSize, newSize)
	s.a.WriteUint16(arena.Ref(r)+1, newLen)
	s.a.WriteByte(arena.Ref(r)+arena.Ref(headerSize)+arena.Ref(newLen), 0)
	return r, nil
}

// Compare returns a negative, zero, or positive value as a sorts before,
// equals, or sorts after b: lexicographic over the payload bytes, with
// ties broken by the shorter string sorting first.
func (s *Strings) Compare(a, b Ref) int {
	return bytes.Compare(s.Bytes(a), s.Bytes(b))
}
