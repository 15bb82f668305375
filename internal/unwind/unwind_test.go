package unwind

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/embedmcl/mcl/api"
	"github.com/embedmcl/mcl/internal/arena"
	"github.com/embedmcl/mcl/internal/frame"
	"github.com/embedmcl/mcl/internal/heap"
)

// fakeStrings is a minimal stand-in for internal/mclstring that exercises
// the real relocating heap (internal/heap) instead of a side table, so a
// test built on it can actually observe what a relocating Free does to a
// still-live reference elsewhere on the stack. Each block carries its own
// refcount(1) + length(2) + marker(1) header, the same "metadata travels
// with the bytes" layout mclstring uses, so CopyHeapRegion relocates a
// block's bookkeeping for free — there is nothing for this fake to keep
// in sync by hand.
type fakeStrings struct {
	a *arena.Arena
	h *heap.Heap
}

func newFakeStrings(a *arena.Arena) *fakeStrings {
	return &fakeStrings{a: a, h: heap.New(a)}
}

func (f *fakeStrings) alloc(payloadLen uint32, marker byte) arena.Ref {
	size := payloadLen + 4
	r := f.h.Alloc(size)
	f.a.WriteByte(r, 1)
	f.a.WriteUint16(r+1, uint16(size))
	f.a.WriteByte(r+3, marker)
	return r
}

func (f *fakeStrings) marker(r arena.Ref) byte   { return f.a.ReadByte(r + 3) }
func (f *fakeStrings) refcount(r arena.Ref) byte { return f.a.ReadByte(r) }

func (f *fakeStrings) release(r arena.Ref) error {
	rc := f.a.ReadByte(r) - 1
	if rc == 0 {
		size := f.a.ReadUint16(r + 1)
		f.h.Free(r, uint32(size))
		return nil
	}
	f.a.WriteByte(r, rc)
	return nil
}

func newTestManager(t *testing.T, entries int) (*arena.Arena, *frame.Chain, *fakeStrings, *Manager) {
	t.Helper()
	buf := make([]byte, entries*4)
	a, err := arena.New(buf)
	require.NoError(t, err)
	fr := frame.New(a)
	fs := newFakeStrings(a)
	m := New(a, fr, fs.release)
	return a, fr, fs, m
}

func TestTryNormalPath(t *testing.T) {
	_, _, _, m := newTestManager(t, 64)
	ran := false
	result := m.Try(func() { ran = true })
	require.Equal(t, api.OK, result)
	require.True(t, ran)
}

func TestTryUnwindDropsOnlyAboveSnapshot(t *testing.T) {
	a, _, fs, m := newTestManager(t, 64)
	x := fs.alloc(8, 0xAA)
	a.Push(x)
	spaceBefore := a.Space()
	heightBefore := a.StackHeight()

	result := m.Try(func() {
		for i := 0; i < 10; i++ {
			fresh := fs.alloc(4, byte(i))
			a.Push(fresh)
		}
		m.Throw(api.OutOfMemory)
	})

	require.Equal(t, api.OutOfMemory, result)
	require.Equal(t, spaceBefore, a.Space())
	require.Equal(t, heightBefore, a.StackHeight())
	top, ok := a.Depth(0)
	require.True(t, ok)
	require.Equal(t, x, top)
	require.Equal(t, byte(0xAA), fs.marker(top))
}

// TestThrowPreservesMessage covers the degenerate case where the thrown
// message is the only above-snapshot stack entry, so no release ever
// runs and no relocation is possible either way.
func TestThrowPreservesMessage(t *testing.T) {
	a, _, fs, m := newTestManager(t, 64)

	result := m.Try(func() {
		msg := fs.alloc(8, 0x42)
		a.Push(msg)
		m.Throw(api.RuntimeError)
	})

	require.Equal(t, api.RuntimeError, result)
	require.Equal(t, uint32(1), a.StackHeight())
	top, ok := a.Depth(0)
	require.True(t, ok)
	require.Equal(t, byte(0x42), fs.marker(top))
	require.Equal(t, byte(1), fs.refcount(top))
}

// TestThrowPreservesMessageAcrossRelocatingRelease is the reviewer's
// repro: a message is pushed on top of an earlier, lower-addressed
// string, and the unwind must release the lower one before the message
// is the only thing left. Freeing the lower block slides the message's
// heap bytes down; if the message were carried as a bare arena.Ref
// instead of a tracked stack slot, this would observe stale, relocated
// bytes (or worse, another object's header) instead of the marker
// written at alloc time.
func TestThrowPreservesMessageAcrossRelocatingRelease(t *testing.T) {
	a, _, fs, m := newTestManager(t, 64)

	result := m.Try(func() {
		low := fs.alloc(4, 0x01)
		a.Push(low)
		msg := fs.alloc(4, 0x02)
		a.Push(msg)
		m.Throw(api.RuntimeError)
	})

	require.Equal(t, api.RuntimeError, result)
	require.Equal(t, uint32(1), a.StackHeight())
	top, ok := a.Depth(0)
	require.True(t, ok)
	require.Equal(t, byte(0x02), fs.marker(top))
	require.Equal(t, byte(1), fs.refcount(top))
}

func TestNestedTry(t *testing.T) {
	_, _, _, m := newTestManager(t, 64)
	caught := ""

	outerResult := m.Try(func() {
		innerResult := m.Try(func() {
			m.Throw(api.RuntimeError)
		})
		if innerResult == api.RuntimeError {
			caught = "caught"
		}
	})

	require.Equal(t, api.OK, outerResult)
	require.Equal(t, "caught", caught)
}

func TestThrowOKPanics(t *testing.T) {
	_, _, _, m := newTestManager(t, 64)
	require.Panics(t, func() { m.Throw(api.OK) })
}
