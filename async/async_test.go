package async_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sghaida/zoned/async"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	op      string
	id      async.ID
	trigger async.ID
	kind    string
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) add(e event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Init(id, trigger async.ID, kind string) {
	r.add(event{op: "init", id: id, trigger: trigger, kind: kind})
}
func (r *recorder) Before(id async.ID)  { r.add(event{op: "before", id: id}) }
func (r *recorder) After(id async.ID)   { r.add(event{op: "after", id: id}) }
func (r *recorder) Destroy(id async.ID) { r.add(event{op: "destroy", id: id}) }

func (r *recorder) ops(id async.ID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.id == id {
			out = append(out, e.op)
		}
	}
	return out
}

func (r *recorder) initOf(id async.ID) (event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.id == id && e.op == "init" {
			return e, true
		}
	}
	return event{}, false
}

func newScheduler(t *testing.T) (*async.Scheduler, *recorder, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	s := async.New(async.WithClock(clock))
	rec := &recorder{}
	disable := s.Enable(rec)
	t.Cleanup(disable)
	return s, rec, clock
}

// -------------------------
// Resource
// -------------------------

func TestResource_LifecycleAndIdentity(t *testing.T) {
	t.Parallel()

	s, rec, _ := newScheduler(t)
	ctx := context.Background()
	require.Equal(t, async.ID(0), async.ExecutionID(ctx))

	r := s.NewResource(ctx, "test")
	assert.NotZero(t, r.ID())
	assert.Equal(t, "test", r.Kind())

	var inner async.ID
	r.Run(ctx, func(ctx context.Context) {
		assert.Equal(t, r.ID(), async.ExecutionID(ctx))
		assert.Equal(t, async.ID(0), async.TriggerID(ctx))

		child := s.NewResource(ctx, "child")
		inner = child.ID()
		child.Run(ctx, func(ctx context.Context) {
			assert.Equal(t, child.ID(), async.ExecutionID(ctx))
			assert.Equal(t, r.ID(), async.TriggerID(ctx))
		})
		child.Destroy()
	})
	r.Destroy()
	r.Destroy()

	assert.True(t, r.Destroyed())
	assert.Equal(t, []string{"init", "before", "after", "destroy"}, rec.ops(r.ID()))

	ev, ok := rec.initOf(inner)
	require.True(t, ok)
	assert.Equal(t, r.ID(), ev.trigger)
	assert.Equal(t, "child", ev.kind)
}

func TestResource_AfterHookRunsOnPanic(t *testing.T) {
	t.Parallel()

	s, rec, _ := newScheduler(t)
	r := s.NewResource(context.Background(), "p")

	assert.Panics(t, func() {
		r.Run(context.Background(), func(context.Context) { panic("x") })
	})
	assert.Equal(t, []string{"init", "before", "after"}, rec.ops(r.ID()))
}

func TestEnable_DisableStopsNotifications(t *testing.T) {
	t.Parallel()

	s := async.New()
	rec := &recorder{}
	disable := s.Enable(rec)

	r1 := s.NewResource(context.Background(), "a")
	disable()
	disable()
	r2 := s.NewResource(context.Background(), "b")

	assert.Equal(t, []string{"init"}, rec.ops(r1.ID()))
	assert.Empty(t, rec.ops(r2.ID()))
}

// -------------------------
// Task
// -------------------------

func TestGo_WaitReturnsErrorAfterDestroy(t *testing.T) {
	t.Parallel()

	s, rec, _ := newScheduler(t)
	boom := errors.New("boom")

	parent := s.NewResource(context.Background(), "parent")
	var task *async.Task
	parent.Run(context.Background(), func(ctx context.Context) {
		task = s.Go(ctx, func(ctx context.Context) error {
			assert.Equal(t, parent.ID(), async.TriggerID(ctx))
			return boom
		})
	})

	require.ErrorIs(t, task.Wait(), boom)
	<-task.Done()
	assert.Equal(t, []string{"init", "before", "after", "destroy"}, rec.ops(task.ID()))
}

func TestGo_PanicIsReraisedInWait(t *testing.T) {
	t.Parallel()

	s, rec, _ := newScheduler(t)
	task := s.Go(context.Background(), func(context.Context) error { panic(errors.New("kaput")) })

	defer func() {
		rec2 := recover()
		require.NotNil(t, rec2)
		pe, ok := rec2.(*async.PanicError)
		require.True(t, ok)
		assert.Contains(t, pe.Error(), "kaput")
		assert.EqualError(t, pe.Unwrap(), "kaput")
		assert.NotEmpty(t, pe.Stack)
		assert.Contains(t, rec.ops(task.ID()), "destroy")
	}()
	_ = task.Wait()
}

// -------------------------
// Timer / Ticker
// -------------------------

func TestAfterFunc_RunsInNewUnitTriggeredByCaller(t *testing.T) {
	t.Parallel()

	s, rec, clock := newScheduler(t)
	parent := s.NewResource(context.Background(), "parent")

	fired := make(chan async.ID, 1)
	var timer *async.Timer
	parent.Run(context.Background(), func(ctx context.Context) {
		timer = s.AfterFunc(ctx, 10*time.Millisecond, func(ctx context.Context) {
			fired <- async.TriggerID(ctx)
		})
	})

	clock.Advance(10 * time.Millisecond)
	select {
	case trig := <-fired:
		assert.Equal(t, parent.ID(), trig)
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}

	require.Eventually(t, func() bool {
		ops := rec.ops(timer.ID())
		return len(ops) == 4 && ops[3] == "destroy"
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, timer.Stop())
}

func TestAfterFunc_StopDestroysPendingUnit(t *testing.T) {
	t.Parallel()

	s, rec, clock := newScheduler(t)
	timer := s.AfterFunc(context.Background(), time.Second, func(context.Context) {
		t.Error("stopped timer fired")
	})

	require.True(t, timer.Stop())
	clock.Advance(2 * time.Second)
	assert.Equal(t, []string{"init", "destroy"}, rec.ops(timer.ID()))
}

func TestEvery_TicksUntilStoppedFromInside(t *testing.T) {
	t.Parallel()

	s, rec, clock := newScheduler(t)

	ticks := make(chan struct{}, 8)
	var ticker *async.Ticker
	var n int
	ticker = s.Every(context.Background(), 10*time.Millisecond, func(ctx context.Context) {
		assert.Equal(t, ticker.ID(), async.ExecutionID(ctx))
		n++
		if n == 3 {
			ticker.Stop()
		}
		ticks <- struct{}{}
	})

	for i := 0; i < 3; i++ {
		clock.Advance(10 * time.Millisecond)
		select {
		case <-ticks:
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d missing", i+1)
		}
	}

	select {
	case <-ticker.Exited():
	case <-time.After(2 * time.Second):
		t.Fatal("ticker goroutine did not exit")
	}
	ticker.Stop()

	ops := rec.ops(ticker.ID())
	assert.Equal(t, "init", ops[0])
	assert.Contains(t, ops, "destroy")
	var befores int
	for _, op := range ops {
		if op == "before" {
			befores++
		}
	}
	assert.Equal(t, 3, befores)
	assert.Equal(t, 3, n)
}
