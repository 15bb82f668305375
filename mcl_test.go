package mcl

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/embedmcl/mcl/api"
	"github.com/embedmcl/mcl/internal/arena"
	"github.com/embedmcl/mcl/internal/mclstring"
	"github.com/embedmcl/mcl/internal/mcltrace"
)

func newTestContext(t *testing.T, entries int, opts ...Option) *Context {
	t.Helper()
	buf := make([]byte, entries*api.PtrSize)
	ctx, err := Init(buf, nil, opts...)
	require.NoError(t, err)
	return ctx
}

func TestInitRejectsUndersizedBuffer(t *testing.T) {
	_, err := Init(make([]byte, 4), nil)
	require.Error(t, err)
	var mclErr *Error
	require.ErrorAs(t, err, &mclErr)
	require.Equal(t, api.OutOfMemory, mclErr.Code)
}

func TestInitRejectsMisalignedBuffer(t *testing.T) {
	_, err := Init(make([]byte, 23), nil)
	require.Error(t, err)
}

func TestInitPushesTwoBookkeepingFrames(t *testing.T) {
	ctx := newTestContext(t, 64)
	require.True(t, ctx.Valid())
	require.Equal(t, uint32(4), ctx.StackHeight()) // two frames, two slots each
}

func TestUserDataRoundTrip(t *testing.T) {
	buf := make([]byte, 64*api.PtrSize)
	ctx, err := Init(buf, "hello")
	require.NoError(t, err)
	require.Equal(t, "hello", ctx.UserData())
}

func TestNewStringAndReadBack(t *testing.T) {
	ctx := newTestContext(t, 256)
	r, err := ctx.NewString("hello world")
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), ctx.StringBytes(r))
}

func TestGrowWithOverflowLeavesStringIntact(t *testing.T) {
	// 4 entries for the two bookkeeping frames, 26 for exactly one
	// 100-byte string (footprint 3+100+1 = 104 bytes), and nothing more.
	ctx := newTestContext(t, 30)

	r, err := ctx.NewString(string(make([]byte, 100)))
	require.NoError(t, err)
	require.Equal(t, uint32(0), ctx.Space())

	_, err = ctx.GrowString(r, 101)
	require.Error(t, err)
	require.Equal(t, 100, len(ctx.StringBytes(r)))
}

func TestUnwindDropsOnlyAboveSnapshot(t *testing.T) {
	ctx := newTestContext(t, 256)

	x, err := ctx.NewString("x")
	require.NoError(t, err)
	ctx.Push(arena.Ref(x))

	spaceBefore := ctx.Space()
	heightBefore := ctx.StackHeight()

	result := ctx.Try(func() {
		for i := 0; i < 10; i++ {
			fresh, err := ctx.NewString("fresh")
			require.NoError(t, err)
			ctx.Push(arena.Ref(fresh))
		}
		ctx.Throw(api.OutOfMemory)
	})

	require.Equal(t, api.OutOfMemory, result)
	require.Equal(t, spaceBefore, ctx.Space())
	require.Equal(t, heightBefore, ctx.StackHeight())

	top := ctx.Pop()
	require.Equal(t, arena.Ref(x), top)
}

// TestThrowPreservesMessageAcrossRelocatingFree reproduces the scenario
// where the thrown message is not the only above-snapshot string: an
// earlier, lower-addressed string is released first during unwind,
// which relocates the message's heap bytes before it is popped back
// onto the restored stack.
func TestThrowPreservesMessageAcrossRelocatingFree(t *testing.T) {
	ctx := newTestContext(t, 256)

	result := ctx.Try(func() {
		a, err := ctx.NewString("a")
		require.NoError(t, err)
		ctx.Push(arena.Ref(a))

		boom, err := ctx.NewString("boom")
		require.NoError(t, err)
		ctx.Push(arena.Ref(boom))

		ctx.Throw(api.RuntimeError)
	})

	require.Equal(t, api.RuntimeError, result)
	require.Equal(t, uint32(1), ctx.StackHeight())
	top := ctx.Pop()
	require.Equal(t, "boom", string(ctx.StringBytes(mclstring.Ref(top))))
}

func TestNestedTryObservableViaUserData(t *testing.T) {
	buf := make([]byte, 256*api.PtrSize)
	ctx, err := Init(buf, map[string]string{})
	require.NoError(t, err)

	outerResult := ctx.Try(func() {
		innerResult := ctx.Try(func() {
			ctx.Throw(api.RuntimeError)
		})
		if innerResult == api.RuntimeError {
			ctx.UserData().(map[string]string)["status"] = "caught"
		}
	})

	require.Equal(t, api.OK, outerResult)
	require.Equal(t, "caught", ctx.UserData().(map[string]string)["status"])
}

func TestSwapPreservesIdentities(t *testing.T) {
	ctx := newTestContext(t, 64)
	s := int(ctx.Space())
	for i := 0; i < s; i++ {
		ctx.Push(arena.Ref(i))
	}
	for i, j := 0, s-1; i < j; i, j = i+1, j-1 {
		require.True(t, ctx.Swap(i, j))
	}
	for i, j := 0, s-1; i < j; i, j = i+1, j-1 {
		require.True(t, ctx.Swap(i, j))
	}
	for i := s - 1; i >= 0; i-- {
		require.Equal(t, arena.Ref(i), ctx.Pop())
	}
}

func TestFramePushPopIdentity(t *testing.T) {
	ctx := newTestContext(t, 64)
	spaceBefore := ctx.Space()

	_, err := ctx.FramePush()
	require.NoError(t, err)
	r, err := ctx.NewString("scoped")
	require.NoError(t, err)
	ctx.Push(arena.Ref(r))

	require.NoError(t, ctx.FramePop())
	require.Equal(t, spaceBefore, ctx.Space())
}

func TestWithLoggerAndMetricsOptions(t *testing.T) {
	ctx := newTestContext(t, 64, WithLogger(mcltrace.DefaultLogger()), WithMetrics(nil))
	require.True(t, ctx.Valid())
}
