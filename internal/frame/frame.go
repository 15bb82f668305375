// Package frame implements the activation-frame chain described in
// SPEC_FULL.md §4.4: a doubly-linked list of two-slot headers threaded
// through the operand stack, used by language layers above this module
// for scope and symbol-table lookups.
//
// Frames are stack-resident only — internal/frame never allocates from
// internal/heap — which is what makes "pop every stack entry down to
// this checkpoint" (internal/unwind's job) automatically discard frames
// above the checkpoint with no special-casing.
package frame

import (
	"github.com/pkg/errors"

	"github.com/embedmcl/mcl/api"
	"github.com/embedmcl/mcl/internal/arena"
)

// Ptr addresses a frame: the arena slot holding that frame's
// prevFramePtr. It doubles as the frame's "self" identity, since that
// slot's address is unique per frame.
type Ptr arena.Ref

// Releaser releases one owned reference to a heap-range value popped
// off the stack. internal/frame and internal/unwind depend on this
// function type rather than importing internal/mclstring directly, so
// that a generic release policy can be swapped in without either
// package knowing about string objects specifically (see SPEC_FULL.md's
// resolution of the "tagged containers" design note).
type Releaser func(arena.Ref) error

// Chain threads the frame linked-list through an arena's operand stack.
type Chain struct {
	a    *arena.Arena
	self Ptr
}

// New returns a Chain whose current frame is the arena's bottom
// terminator (self == a.StackEnd()), i.e. no frames pushed yet.
func New(a *arena.Arena) *Chain {
	return &Chain{a: a, self: Ptr(a.StackEnd())}
}

// Current returns the address of the active frame's prevFramePtr slot.
func (c *Chain) Current() Ptr { return c.self }

// Restore sets the current frame directly, without popping. Used by
// internal/unwind to reinstate the frame pointer recorded by a Try
// snapshot after a throw unwinds the stack back to it.
func (c *Chain) Restore(p Ptr) { c.self = p }

// ErrOutOfMemory is returned by Push and by the negative-index path of
// Seek when there is not enough free arena space to proceed.
var ErrOutOfMemory = errors.New("frame: out of memory")

// Push opens a new frame: it requires two free stack slots, pushes
// prevFramePtr = the current frame pointer, then pushes selfPtr = the
// address of that prevFramePtr slot, and makes the new frame current.
func (c *Chain) Push() (Ptr, error) {
	if c.a.Space() < 2 {
		return c.self, ErrOutOfMemory
	}
	c.a.Push(arena.Ref(c.self))
	newSelf := Ptr(c.a.StackPtr())
	c.a.Push(arena.Ref(newSelf))
	c.self = newSelf
	return c.self, nil
}

// Pop discards the current frame: it pops stack entries until only the
// frame's two header slots remain on top, calling release for each
// popped value that addresses a heap object, then pops the two
// frame-header slots and restores the previous frame as current.
func (c *Chain) Pop(release Releaser) error {
	for c.a.StackPtr() < arena.Ref(c.self)-api.PtrSize {
		v := c.a.Pop()
		if c.a.HeapContains(v) {
			if err := release(v); err != nil {
				return err
			}
		}
	}
	c.a.Pop() // selfPtr
	prev := arena.Ref(c.a.Pop())
	c.self = Ptr(prev)
	return nil
}

// Seek navigates the frame chain relative to the current frame.
//
// level == 0 returns the current frame.
// level > 0 walks toward the base of the chain; it returns (0, false)
// if more levels are requested than exist.
// level < 0 walks from the current frame to the base, then indexes
// from the base using -1-level (so -1 is the bottom frame). The walk
// uses scratch stack space, released before returning; if the scratch
// budget is insufficient, it returns ErrOutOfMemory.
func (c *Chain) Seek(level int) (Ptr, bool, error) {
	if level == 0 {
		return c.self, true, nil
	}
	if level > 0 {
		p := c.self
		for i := 0; i < level; i++ {
			prev, ok := c.a.SlotAt(arena.Ref(p))
			if !ok || prev == arena.Ref(c.a.StackEnd()) {
				return 0, false, nil
			}
			p = Ptr(prev)
		}
		return p, true, nil
	}

	// level < 0: push every frame address from current to base onto
	// scratch stack space (so Depth(i) reads the i-th frame from the
	// base), then index from the base and restore the stack pointer.
	want := -1 - level
	n := 0
	p := c.self
	for {
		if c.a.Space() == 0 {
			c.a.PopN(n)
			return 0, false, ErrOutOfMemory
		}
		c.a.Push(arena.Ref(p))
		n++
		prev, hasPrev := c.a.SlotAt(arena.Ref(p))
		if !hasPrev || prev == arena.Ref(c.a.StackEnd()) {
			break
		}
		p = Ptr(prev)
	}

	var result Ptr
	ok := want < n
	if ok {
		v, _ := c.a.Depth(want)
		result = Ptr(v)
	}
	c.a.PopN(n)
	return result, ok, nil
}
