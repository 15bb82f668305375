// Package unwind implements the non-local exception mechanism described
// in SPEC_FULL.md §4.5: a protected region that snapshots stack and
// frame state, and a throw that jumps back to the nearest enclosing
// region, releasing exactly the stack references acquired since the
// snapshot.
//
// The source this module is distilled from uses a saved-jump-buffer
// (setjmp/longjmp) pattern. SPEC_FULL.md §9 points at a closure-based
// alternative instead, and that is what this package implements: Try
// takes a closure, and the protected region is exactly the dynamic
// extent of a Go defer/recover pair around it — nesting, which the
// C source handles by chaining saved jump-buffer pointers, falls out
// for free from Go's own call-stack-ordered panic/recover, the same way
// the teacher's interpreter engine unwinds its own call frames on a
// trap (see internal/engine/interpreter's Call in tetratelabs/wazero).
// A throw with no enclosing Try is a programming error; since nothing
// recovers it, it propagates as an ordinary Go panic, which is the
// correct behavior for a bug rather than a recoverable condition.
package unwind

import (
	"github.com/pkg/errors"

	"github.com/embedmcl/mcl/api"
	"github.com/embedmcl/mcl/internal/arena"
	"github.com/embedmcl/mcl/internal/frame"
)

// signal is the panic payload a Throw produces. Any other panic value
// observed by Try's recover is a genuine bug elsewhere in the program
// and is re-panicked rather than swallowed.
type signal struct {
	code api.Result
}

// Manager owns the non-local control transfer for one Context. It does
// not import internal/mclstring directly: release is injected so that
// what "owns a heap reference" means stays a decision made by the
// string layer, not hardcoded here (see SPEC_FULL.md's resolution of
// the tagged-containers design note).
type Manager struct {
	a       *arena.Arena
	frames  *frame.Chain
	release frame.Releaser
}

// New returns a Manager operating on the given arena and frame chain.
// release is called once per heap-range stack slot dropped during an
// unwind.
func New(a *arena.Arena, frames *frame.Chain, release frame.Releaser) *Manager {
	return &Manager{a: a, frames: frames, release: release}
}

// Try opens a protected region and invokes fn. On normal return it
// reports api.OK. If fn (directly, or transitively through anything it
// calls) invokes Throw, Try intercepts the non-local jump, pops every
// stack entry pushed since the snapshot (releasing heap-range values
// through the injected Releaser), restores the frame pointer, and
// returns the thrown code.
func (m *Manager) Try(fn func()) (result api.Result) {
	stackSnapshot := m.a.StackPtr()
	frameSnapshot := m.frames.Current()

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		sig, ok := r.(*signal)
		if !ok {
			panic(r) // not ours: a real bug, let it surface as a Go panic.
		}
		msg, hasMsg := m.unwindTo(stackSnapshot, sig.code != api.OutOfMemory)
		m.frames.Restore(frameSnapshot)
		if hasMsg {
			m.a.Push(msg)
		}
		result = sig.code
	}()

	fn()
	return api.OK
}

// Throw performs the non-local transfer back to the nearest enclosing
// Try. code must not be api.OK.
func (m *Manager) Throw(code api.Result) {
	if code == api.OK {
		panic(errors.New("unwind: Throw called with api.OK"))
	}
	panic(&signal{code: code})
}

// unwindTo pops stack entries until the stack pointer reaches target,
// releasing one owned reference for every popped value that addresses
// a heap object.
//
// For codes other than api.OutOfMemory, the convention (SPEC_FULL.md
// §7) is that the top of the operand stack holds a heap-allocated
// string describing the error, and that reference must survive the
// unwind. The naive approach — read it before the loop, pop it like
// everything else, push the saved value back afterward — is wrong:
// releasing a lower above-snapshot slot can free its heap object and
// relocate the message's (still-live) one, and a value already copied
// out of its stack slot is not reachable by that relocation (see
// SPEC_FULL.md §4.2's "reload from the stack slot" rule). Instead, if
// the current top is a heap reference, it is swapped down to sit
// immediately above target before any releasing happens, so it stays a
// genuine, tracked stack slot — and therefore keeps getting corrected
// by arena.RelocateStackRefs — right up until it is the last thing
// popped. It is never passed to release, so its reference count is
// untouched; ownership simply transfers from its old slot to the one
// Try restores it to.
func (m *Manager) unwindTo(target arena.Ref, preserveTop bool) (msg arena.Ref, hasMsg bool) {
	if preserveTop && m.a.StackPtr() < target {
		if top, ok := m.a.Depth(0); ok && m.a.HeapContains(top) {
			bottom := int((target-m.a.StackPtr())/api.PtrSize) - 1
			m.a.Swap(0, bottom)
			hasMsg = true
		}
	}
	for m.a.StackPtr() < target {
		if hasMsg && target-m.a.StackPtr() == api.PtrSize {
			msg = m.a.Pop()
			break
		}
		v := m.a.Pop()
		if m.a.HeapContains(v) {
			_ = m.release(v)
		}
	}
	return msg, hasMsg
}
