package mcl

import (
	"github.com/embedmcl/mcl/api"
	"github.com/embedmcl/mcl/internal/arena"
	"github.com/embedmcl/mcl/internal/frame"
	"github.com/embedmcl/mcl/internal/mclstring"
)

// The methods in this file are the "internal API" SPEC_FULL.md §6
// describes: string construction/compare, stack push/pop/swap, frame
// push/pop/seek, protected-region open, and throw. They are exported
// Go methods, but every type they operate on (arena.Ref, mclstring.Ref,
// frame.Ptr) lives under internal/, so code outside this module cannot
// import those packages and cannot name these types. The methods
// themselves are still callable on any *Context, since they are
// capital-letter exported methods on the public Context type; Go's
// internal/ rule restricts imports, not method calls. The language layers
// themselves (lexer/parser, command dispatch, numeric evaluation) are
// out of scope per SPEC_FULL.md §1 and are not implemented; these
// methods exist for that abstract consumer and are exercised directly
// by this module's own tests standing in for it.

// NewString allocates a reference-counted string object from s and
// returns its reference.
func (ctx *Context) NewString(s string) (mclstring.Ref, error) {
	r, err := ctx.strings.New(s)
	ctx.observeHeap()
	if err != nil {
		ctx.metrics.IncOutOfMemory()
	}
	return r, err
}

// StringBytes returns a zero-copy view of r's payload. The slice is
// invalidated by the next relocating call, exactly like the reference
// itself.
func (ctx *Context) StringBytes(r mclstring.Ref) []byte {
	return ctx.strings.Bytes(r)
}

// StringCompare performs a lexicographic comparison of a and b's
// payload bytes.
func (ctx *Context) StringCompare(a, b mclstring.Ref) int {
	return ctx.strings.Compare(a, b)
}

// RefString increments r's reference count.
func (ctx *Context) RefString(r mclstring.Ref) (mclstring.Ref, error) {
	return ctx.strings.Ref(r)
}

// UnrefString decrements r's reference count, freeing it at zero.
func (ctx *Context) UnrefString(r mclstring.Ref) error {
	err := ctx.strings.Unref(r)
	ctx.observeHeap()
	return err
}

// GrowString enlarges r to newLen in place.
func (ctx *Context) GrowString(r mclstring.Ref, newLen uint16) (mclstring.Ref, error) {
	oldLen := ctx.strings.Length(r)
	nr, err := ctx.strings.Grow(r, newLen)
	ctx.observeHeap()
	if err != nil {
		ctx.metrics.IncOutOfMemory()
	} else if newLen != oldLen {
		ctx.metrics.IncRelocation()
	}
	return nr, err
}

// ShrinkString reduces r to newLen in place.
func (ctx *Context) ShrinkString(r mclstring.Ref, newLen uint16) (mclstring.Ref, error) {
	oldLen := ctx.strings.Length(r)
	nr, err := ctx.strings.Shrink(r, newLen)
	ctx.observeHeap()
	if newLen != oldLen {
		ctx.metrics.IncRelocation()
	}
	return nr, err
}

// Push places a stack-tagged reference onto the operand stack.
// Precondition: Space() >= 1 (use the checked string/frame helpers
// above for callers that need the check performed for them).
func (ctx *Context) Push(r arena.Ref) {
	ctx.arena.Push(r)
	ctx.observeStack()
}

// Pop removes and returns the topmost operand-stack slot.
func (ctx *Context) Pop() arena.Ref {
	r := ctx.arena.Pop()
	ctx.observeStack()
	return r
}

// Swap exchanges the operand-stack slots at depths i and j.
func (ctx *Context) Swap(i, j int) bool {
	return ctx.arena.Swap(i, j)
}

// StackHeight reports the number of occupied operand-stack slots.
func (ctx *Context) StackHeight() uint32 {
	return ctx.arena.StackHeight()
}

// Space reports the number of free PtrSize-wide entries shared by the
// heap and the stack.
func (ctx *Context) Space() uint32 {
	return ctx.arena.Space()
}

// FramePush opens a new activation frame.
func (ctx *Context) FramePush() (frame.Ptr, error) {
	p, err := ctx.frames.Push()
	ctx.observeStack()
	if err != nil {
		ctx.metrics.IncOutOfMemory()
	}
	return p, err
}

// FramePop discards the current activation frame, releasing every
// heap-range reference it held.
func (ctx *Context) FramePop() error {
	err := ctx.frames.Pop(ctx.releaseRef)
	ctx.observeStack()
	ctx.observeHeap()
	return err
}

// FrameSeek navigates the frame chain relative to the current frame;
// see frame.Chain.Seek for the level convention.
func (ctx *Context) FrameSeek(level int) (frame.Ptr, bool, error) {
	p, ok, err := ctx.frames.Seek(level)
	if err != nil {
		ctx.metrics.IncOutOfMemory()
	}
	return p, ok, err
}

// Try opens a protected region around fn; see unwind.Manager.Try.
func (ctx *Context) Try(fn func()) api.Result {
	result := ctx.unwind.Try(fn)
	ctx.observeStack()
	ctx.observeHeap()
	return result
}

// Throw performs the non-local transfer back to the nearest enclosing
// Try; see unwind.Manager.Throw.
func (ctx *Context) Throw(code api.Result) {
	if code == api.OutOfMemory {
		ctx.metrics.IncOutOfMemory()
	}
	ctx.unwind.Throw(code)
}

func (ctx *Context) observeHeap() {
	ctx.metrics.ObserveHeap(uint32(ctx.arena.HeapPtr()))
}

func (ctx *Context) observeStack() {
	ctx.metrics.ObserveStack(ctx.arena.StackHeight())
}
