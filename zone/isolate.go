package zone

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/sghaida/zoned/async"
	"github.com/sghaida/zoned/internal/ctxlog"
	"github.com/sghaida/zoned/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span and attribute names used by isolations.
const (
	SpanIsolate       = "zone.isolate"
	SpanScopeDestroy  = "zone.scope.destroy"
	AttrZoneID        = "zone.id"
	AttrIsolationID   = "zone.isolation_id"
	AttrScopeName     = "zone.scope_name"
	tracerName        = "github.com/sghaida/zoned/zone"
	outcomeOK         = "ok"
	outcomeError      = "error"
	outcomePanic      = "panic"
	logKeyIsolationID = "isolation"
)

// ErrScopeDestroyed is returned when a destroyed ScopedResource is run again.
var ErrScopeDestroyed = errors.New("zone: scoped resource already destroyed")

// Isolator opens zones, runs work in them and tears them down.
type Isolator struct {
	tracker  *Tracker
	teardown func(ctx context.Context)
	tracer   trace.Tracer
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewIsolator returns an Isolator over t. teardown runs inside each zone once
// its work finished; it typically destroys every service of the zone.
//
// A nil t is accepted; every isolation then fails with ErrNotInitialized.
func NewIsolator(t *Tracker, teardown func(ctx context.Context), opts ...Option) *Isolator {
	cfg := newConfig(opts)
	iso := &Isolator{
		tracker:  t,
		teardown: teardown,
		tracer:   cfg.tp.Tracer(tracerName),
		logger:   cfg.logger,
		metrics:  cfg.metrics,
	}
	if iso.logger == nil && t != nil {
		iso.logger = t.logger
	}
	if iso.metrics == nil && t != nil {
		iso.metrics = t.metrics
	}
	return iso
}

// Tracker returns the tracker zones are opened on.
func (iso *Isolator) Tracker() *Tracker { return iso.tracker }

// Isolate runs fn in a new zone and returns its error.
//
// fn starts in a fresh async unit, never inline in the caller's unit. Once fn
// returns or panics, the teardown runs inside the zone; a panic is re-raised
// in the caller afterwards. When the unit settled, Isolate checks that no
// async work tagged with the zone is still pending and warns otherwise.
//
// Isolations nest: calling Isolate inside fn opens a child zone, and the
// child's teardown completes before the inner Isolate returns.
func (iso *Isolator) Isolate(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if iso == nil || iso.tracker == nil {
		return ErrNotInitialized
	}
	sched := iso.tracker.sched
	start := sched.Clock().Now()
	runID := uuid.NewString()

	ctx, span := iso.tracer.Start(ctx, SpanIsolate, trace.WithAttributes(attribute.String(AttrIsolationID, runID)))
	var check func(ctx context.Context)
	outcome := outcomePanic
	defer func() {
		if check != nil {
			check(ctx)
		}
		if outcome == outcomePanic {
			span.SetStatus(codes.Error, "isolation panicked")
		}
		span.End()
		iso.metrics.Isolation(outcome, sched.Clock().Since(start))
	}()

	task := sched.Go(ctx, func(ctx context.Context) error {
		z := iso.tracker.EnsureZone(ctx)
		check = iso.tracker.CreateCheckDestroy(ctx)
		ctx = iso.tracker.withZone(ctx, z)
		span.SetAttributes(attribute.Int64(AttrZoneID, int64(z)))

		ctx = ctxlog.WithLogger(ctx, ctxlog.FromContextOr(ctx, iso.logger).With(logKeyIsolationID, runID))
		ctxlog.FromContext(ctx).DebugContext(ctx, "isolation started", "zone", uint64(z))

		defer iso.runTeardown(ctx)
		return fn(ctx)
	})

	err = task.Wait()
	if err != nil {
		outcome = outcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	outcome = outcomeOK
	return nil
}

func (iso *Isolator) runTeardown(ctx context.Context) {
	if iso.teardown != nil {
		iso.teardown(ctx)
	}
}

// Isolated wraps fn so that every call runs in its own zone.
func (iso *Isolator) Isolated(fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return iso.Isolate(ctx, fn)
	}
}

// IsolateValue is Isolate for functions that produce a value.
func IsolateValue[R any](ctx context.Context, iso *Isolator, fn func(ctx context.Context) (R, error)) (R, error) {
	var out R
	err := iso.Isolate(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return out, err
}

// -------------------------
// ScopedResource
// -------------------------

// ScopedResource is a zone bound to a manually managed async resource. Its
// body can be entered any number of times with Run until EmitDestroy.
type ScopedResource struct {
	iso   *Isolator
	res   *async.Resource
	name  string
	zone  ID
	check func(ctx context.Context)

	mu        sync.Mutex
	destroyed bool
}

// NewScopedResource opens a zone anchored to a new async resource named
// name.
func (iso *Isolator) NewScopedResource(ctx context.Context, name string) (*ScopedResource, error) {
	if iso == nil || iso.tracker == nil {
		return nil, ErrNotInitialized
	}
	res := iso.tracker.sched.NewResource(ctx, name)
	z := iso.tracker.EnsureZone(ctx, res.ID())
	return &ScopedResource{
		iso:   iso,
		res:   res,
		name:  name,
		zone:  z,
		check: iso.tracker.CreateCheckDestroy(ctx, res.ID()),
	}, nil
}

// Zone returns the resource's zone.
func (r *ScopedResource) Zone() ID { return r.zone }

// Name returns the name the resource was created with.
func (r *ScopedResource) Name() string { return r.name }

// Run executes fn inside the resource's zone. A ctx fn keeps resolves to
// that zone even after EmitDestroy.
func (r *ScopedResource) Run(ctx context.Context, fn func(ctx context.Context)) error {
	r.mu.Lock()
	destroyed := r.destroyed || r.res.Destroyed()
	r.mu.Unlock()
	if destroyed {
		return ErrScopeDestroyed
	}
	r.res.Run(r.iso.tracker.withZone(ctx, r.zone), fn)
	return nil
}

// EmitDestroy runs the teardown inside the resource's zone, destroys the
// resource and checks for pending async work. Only the first call has an
// effect.
func (r *ScopedResource) EmitDestroy(ctx context.Context) {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	r.mu.Unlock()

	ctx, span := r.iso.tracer.Start(ctx, SpanScopeDestroy, trace.WithAttributes(
		attribute.String(AttrScopeName, r.name),
		attribute.Int64(AttrZoneID, int64(r.zone)),
	))
	defer span.End()

	func() {
		defer r.res.Destroy()
		r.res.Run(r.iso.tracker.withZone(ctx, r.zone), r.iso.runTeardown)
	}()
	r.check(ctx)
}
