// Package demo runs the zonedemo workload and serves its HTTP endpoints.
package demo

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sghaida/zoned/async"
	"github.com/sghaida/zoned/examples/counter"
	"github.com/sghaida/zoned/internal/ctxlog"
	"github.com/sghaida/zoned/service"
	"github.com/sghaida/zoned/zone"
	"golang.org/x/sync/errgroup"
)

// Workload sizes a run.
type Workload struct {
	// Isolations is the number of isolations started.
	Isolations int
	// Workers bounds how many isolations run at once.
	Workers int
	// Ticks is how many ticks every isolation waits for before it adds its
	// index. Zero skips the ticker.
	Ticks int
	// TickInterval is the ticker period.
	TickInterval time.Duration
}

// Report summarizes a run.
type Report struct {
	RunID string
	// Values holds the final counter value of every isolation, by index.
	Values []int
	// RootValue is the counter value of the root zone after the run. It is
	// untouched by the isolations.
	RootValue int
	Duration  time.Duration
	Stats     zone.Stats
}

// ErrNoTracker is returned by Run when the directory cannot resolve a zone
// tracker.
var ErrNoTracker = errors.New("demo: directory has no zone tracker")

// Run starts w.Isolations isolations, at most w.Workers at a time. Every
// isolation ticks its own counter w.Ticks times, adds its index and reports
// the value it ends with.
func Run(ctx context.Context, dir *service.Directory, h *counter.Handle, w Workload) (*Report, error) {
	iso := dir.Isolator()
	if iso.Tracker() == nil {
		return nil, ErrNoTracker
	}
	sched := iso.Tracker().Scheduler()
	clock := sched.Clock()

	rep := &Report{RunID: uuid.NewString(), Values: make([]int, w.Isolations)}
	ctx = ctxlog.With(ctx, "run", rep.RunID)
	log := ctxlog.FromContext(ctx)
	log.InfoContext(ctx, "run started", "isolations", w.Isolations, "workers", w.Workers, "ticks", w.Ticks)
	start := clock.Now()

	g, gctx := errgroup.WithContext(ctx)
	if w.Workers > 0 {
		g.SetLimit(w.Workers)
	}
	for i := range w.Isolations {
		g.Go(func() error {
			v, err := zone.IsolateValue(gctx, iso, func(ctx context.Context) (int, error) {
				return count(ctx, h, sched, w, i)
			})
			if err != nil {
				return err
			}
			rep.Values[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.ErrorContext(ctx, "run failed", "error", err)
		return nil, err
	}

	rep.RootValue = h.Value(ctx)
	rep.Duration = clock.Since(start)
	rep.Stats = iso.Tracker().Stats()
	log.InfoContext(ctx, "run finished", "duration", rep.Duration, "root_value", rep.RootValue)
	return rep, nil
}

func count(ctx context.Context, h *counter.Handle, sched *async.Scheduler, w Workload, i int) (int, error) {
	if w.Ticks > 0 {
		var once sync.Once
		done := make(chan struct{})
		dispose := h.Watch(ctx, func(v int) {
			if v >= w.Ticks {
				once.Do(func() { close(done) })
			}
		})
		defer dispose()

		h.Tick(ctx, sched, w.TickInterval)
		select {
		case <-done:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return h.Add(ctx, i), nil
}
