// Package mcl is the embeddable runtime core for a minimal
// command-language interpreter: a bidirectional memory arena in which a
// compacting object heap grows upward from one end and a pointer-tagged
// operand stack grows downward from the other, plus the reference-
// counted string object, activation-frame chain, and non-local
// exception mechanism built on top of it. See SPEC_FULL.md for the full
// design.
//
// The host supplies a single fixed []byte at Init time; nothing in this
// module calls a general-purpose allocator afterward, and there is no
// explicit teardown — the host reclaims the buffer (and the *Context
// that addresses it) together, the idiomatic Go analog of "the host
// reclaims the buffer" from the original design.
//
// A *Context is not safe for concurrent use. Callers must externally
// serialize access, the same single-threaded contract the rest of this
// module's design assumes throughout.
package mcl

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/embedmcl/mcl/api"
	"github.com/embedmcl/mcl/internal/arena"
	"github.com/embedmcl/mcl/internal/frame"
	"github.com/embedmcl/mcl/internal/heap"
	"github.com/embedmcl/mcl/internal/mclstring"
	"github.com/embedmcl/mcl/internal/mcltrace"
	"github.com/embedmcl/mcl/internal/unwind"
)

// Context aggregates the arena, heap, string table, frame chain, and
// unwind manager that make up one interpreter instance, plus the
// embedder's opaque user-data handle.
type Context struct {
	id uuid.UUID

	arena   *arena.Arena
	heap    *heap.Heap
	strings *mclstring.Strings
	frames  *frame.Chain
	unwind  *unwind.Manager

	userData any
	logger   logrus.FieldLogger
	metrics  *mcltrace.Metrics

	// valid mirrors the debug tag sentinel SPEC_FULL.md §4.6 describes:
	// set once construction succeeds, left false (its zero value) if
	// Init returns an error, so a Context that failed to construct
	// can never be mistaken for a usable one.
	valid bool
}

// Init validates buf (userData is stored as given, nil included),
// constructs a Context over buf, and
// pushes the two initial frames (the procedure table and the global
// table). It returns an error wrapping the non-OK api.Result on
// failure; buf is left untouched by anything after the point of
// failure other than the cursor writes construction itself already
// made, matching the "no partial public effect on error" contract a Go
// embedder expects from a constructor.
func Init(buf []byte, userData any, opts ...Option) (*Context, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	nEntries := len(buf) / api.PtrSize
	if len(buf) == 0 || len(buf)%api.PtrSize != 0 || nEntries < api.MinHeapEntries {
		cfg.logger.WithField("entries", nEntries).Debug("mcl: Init rejected undersized buffer")
		return nil, &Error{Code: api.OutOfMemory}
	}

	a, err := arena.New(buf)
	if err != nil {
		return nil, &Error{Code: api.OutOfMemory, cause: err}
	}

	ctx := &Context{
		id:       uuid.New(),
		arena:    a,
		heap:     heap.New(a),
		frames:   frame.New(a),
		userData: userData,
		logger:   cfg.logger,
		metrics:  cfg.metrics,
	}
	ctx.strings = mclstring.New(a, ctx.heap)
	ctx.unwind = unwind.New(a, ctx.frames, ctx.releaseRef)

	result := ctx.unwind.Try(ctx.construct)
	if result != api.OK {
		ctx.logger.WithField("result", result.String()).Debug("mcl: Init construction failed")
		return nil, &Error{Code: result}
	}

	ctx.valid = true
	ctx.logger.WithField("context_id", ctx.id).Debug("mcl: Init succeeded")
	return ctx, nil
}

// construct pushes the procedure-table and global-table frames. It runs
// inside the Try installed by Init, so an OutOfMemory throw here
// unwinds cleanly and is surfaced as Init's returned error.
func (ctx *Context) construct() {
	if _, err := ctx.frames.Push(); err != nil {
		ctx.unwind.Throw(api.OutOfMemory)
	}
	if _, err := ctx.frames.Push(); err != nil {
		ctx.unwind.Throw(api.OutOfMemory)
	}
}

// UserData returns the opaque pointer supplied at Init.
func (ctx *Context) UserData() any {
	return ctx.userData
}

// ID returns this Context's instance identifier, used to label its log
// lines and, if configured, its metrics.
func (ctx *Context) ID() uuid.UUID {
	return ctx.id
}

// Valid reports whether Init completed successfully for this Context.
func (ctx *Context) Valid() bool {
	return ctx.valid
}

// releaseRef adapts mclstring.Strings.Unref to the frame.Releaser /
// unwind.Manager release callback shape.
func (ctx *Context) releaseRef(r arena.Ref) error {
	return ctx.strings.Unref(mclstring.Ref(r))
}
