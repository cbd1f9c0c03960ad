package unsub_test

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/sghaida/zoned/internal/ctxlog"
	"github.com/sghaida/zoned/unsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietCtx(t *testing.T) (context.Context, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return ctxlog.WithLogger(context.Background(), ctxlog.New("debug", "text", &buf)), &buf
}

// -------------------------
// Run
// -------------------------

// TestRun_OrderAndFailureTolerance verifies callbacks run in registration order,
// exactly once, and that a panicking callback does not stop the rest.
func TestRun_OrderAndFailureTolerance(t *testing.T) {
	t.Parallel()

	ctx, logs := quietCtx(t)
	reg := unsub.New()

	var calls []string
	unsub.Collect(ctx, reg, func(ctx context.Context) {
		unsub.Un(ctx, func() { calls = append(calls, "c1") })
		unsub.Un(ctx, func() { calls = append(calls, "c2"); panic("boom") })
		unsub.Un(ctx, func() { calls = append(calls, "c3") })
	})
	require.Equal(t, 3, reg.Len())

	var failed int
	require.NotPanics(t, func() { failed = unsub.Run(ctx, reg) })

	assert.Equal(t, []string{"c1", "c2", "c3"}, calls)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 0, reg.Len())
	assert.Contains(t, logs.String(), "cleanup callback failed")
	assert.Contains(t, logs.String(), "boom")

	// second run is a no-op
	assert.Equal(t, 0, reg.Run(ctx))
	assert.Equal(t, []string{"c1", "c2", "c3"}, calls)
}

func TestRun_DrainsCallbacksAddedDuringRun(t *testing.T) {
	t.Parallel()

	ctx, _ := quietCtx(t)
	reg := unsub.New()

	var calls []string
	reg.Add(func() {
		calls = append(calls, "first")
		reg.Add(func() { calls = append(calls, "late") })
	})

	reg.Run(ctx)
	assert.Equal(t, []string{"first", "late"}, calls)
	assert.Equal(t, 0, reg.Len())
}

func TestRun_NilCallbackIsWarned(t *testing.T) {
	t.Parallel()

	ctx, logs := quietCtx(t)
	reg := unsub.New()
	reg.Add(nil)

	assert.Equal(t, 0, reg.Run(ctx))
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), unsub.ErrNilCallback.Error())
}

func TestRun_NilRegistry(t *testing.T) {
	t.Parallel()

	var reg *unsub.Registry
	assert.Equal(t, 0, unsub.Run(context.Background(), reg))
	assert.Equal(t, 0, reg.Len())
}

// -------------------------
// Attach / detach
// -------------------------

func TestAdd_SameFuncTwiceRunsTwice(t *testing.T) {
	t.Parallel()

	ctx, _ := quietCtx(t)
	reg := unsub.New()

	n := 0
	fn := func() { n++ }
	reg.Add(fn)
	detach := reg.Add(fn)
	require.Equal(t, 2, reg.Len())

	detach()
	assert.Zero(t, reg.Run(ctx))
	assert.Equal(t, 1, n)
}

func TestAttach_DetachIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx, _ := quietCtx(t)
	reg := unsub.New()

	var n int
	detach := unsub.Attach(ctx, reg, func() { n++ })
	keep := unsub.Attach(ctx, reg, func() { n += 10 })
	_ = keep

	detach()
	detach()
	require.Equal(t, 1, reg.Len())

	reg.Run(ctx)
	assert.Equal(t, 10, n)

	// detach after run
	assert.NotPanics(t, keep)
	assert.Equal(t, 0, reg.Len())
}

func TestAttach_DetachDuringRunSkipsPending(t *testing.T) {
	t.Parallel()

	ctx, _ := quietCtx(t)
	reg := unsub.New()

	var calls []string
	var detachSecond func()
	reg.Add(func() {
		calls = append(calls, "first")
		detachSecond()
	})
	detachSecond = reg.Add(func() { calls = append(calls, "second") })

	reg.Run(ctx)
	assert.Equal(t, []string{"first"}, calls)
}

func TestAttach_WithoutAmbientRegistryIsNoop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assert.Nil(t, unsub.Scope(ctx))

	detach := unsub.Attach(ctx, nil, func() { t.Fatal("must not run") })
	assert.NotPanics(t, detach)

	fn := func() {}
	got := unsub.Un(ctx, fn)
	assert.NotNil(t, got)
}

func TestUn_ReturnsSameCallback(t *testing.T) {
	t.Parallel()

	ctx, _ := quietCtx(t)
	reg := unsub.New()

	var n int
	var got func()
	unsub.Collect(ctx, reg, func(ctx context.Context) {
		got = unsub.Un(ctx, func() { n++ })
	})

	got()
	assert.Equal(t, 1, n)
	reg.Run(ctx)
	assert.Equal(t, 2, n)
}

// -------------------------
// Collect / Scope
// -------------------------

func TestCollect_NestingIsAStack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	outer, inner := unsub.New(), unsub.New()

	unsub.Collect(ctx, outer, func(octx context.Context) {
		require.Same(t, outer, unsub.Scope(octx))

		unsub.Collect(octx, inner, func(ictx context.Context) {
			require.Same(t, inner, unsub.Scope(ictx))
			unsub.Un(ictx, func() {})
		})

		require.Same(t, outer, unsub.Scope(octx))
		unsub.Un(octx, func() {})
	})

	assert.Nil(t, unsub.Scope(ctx))
	assert.Equal(t, 1, outer.Len())
	assert.Equal(t, 1, inner.Len())
}

func TestCollect_RetainedContextFallsBackToActiveFrame(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	outer, inner := unsub.New(), unsub.New()

	unsub.Collect(ctx, outer, func(octx context.Context) {
		var leaked context.Context
		unsub.Collect(octx, inner, func(ictx context.Context) { leaked = ictx })

		assert.Same(t, outer, unsub.Scope(leaked))
	})

	var leaked context.Context
	unsub.Collect(ctx, inner, func(ictx context.Context) { leaked = ictx })
	assert.Nil(t, unsub.Scope(leaked))
}

func TestCollectValue_ReturnsResult(t *testing.T) {
	t.Parallel()

	reg := unsub.New()
	got := unsub.CollectValue(context.Background(), reg, func(ctx context.Context) int {
		unsub.Un(ctx, func() {})
		return 42
	})

	assert.Equal(t, 42, got)
	assert.Equal(t, 1, reg.Len())
}

func TestCollect_RestoresOnPanic(t *testing.T) {
	t.Parallel()

	reg := unsub.New()
	var captured context.Context

	assert.Panics(t, func() {
		unsub.Collect(context.Background(), reg, func(ctx context.Context) {
			captured = ctx
			panic("x")
		})
	})
	assert.Nil(t, unsub.Scope(captured))
}

func TestRegistry_ConcurrentAdd(t *testing.T) {
	t.Parallel()

	ctx, _ := quietCtx(t)
	reg := unsub.New()

	var mu sync.Mutex
	var n int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.Add(func() { mu.Lock(); n++; mu.Unlock() })
		}()
	}
	wg.Wait()

	reg.Run(ctx)
	assert.Equal(t, 50, n)
}
