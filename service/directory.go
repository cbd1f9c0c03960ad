package service

import (
	"context"
	"slices"
	"sync"

	"github.com/sghaida/zoned/internal/ctxlog"
	"github.com/sghaida/zoned/zone"
)

// Directory keeps, per zone, the services that currently hold an instance in
// that zone. Destroying a zone destroys exactly those services.
//
// A Directory is safe for concurrent use.
type Directory struct {
	cfg dirConfig

	mu    sync.Mutex
	zones map[zone.ID]*zoneEntry
	iso   *zone.Isolator
}

type zoneEntry struct {
	// members are the services instantiated in the zone, in registration
	// order.
	members []Handle
	// touched are the services that keep per-zone state for the zone.
	touched map[Handle]struct{}
}

// NewDirectory returns an empty directory.
func NewDirectory(opts ...DirectoryOption) *Directory {
	d := &Directory{zones: make(map[zone.ID]*zoneEntry)}
	for _, opt := range opts {
		if opt != nil {
			opt(&d.cfg)
		}
	}
	return d
}

var defaultDirectory = NewDirectory()

// DefaultDirectory returns the directory used by services created without
// WithDirectory. It resolves zones with the process-wide tracker.
func DefaultDirectory() *Directory { return defaultDirectory }

func (d *Directory) tracker() *zone.Tracker {
	if d.cfg.tracker != nil {
		return d.cfg.tracker
	}
	return zone.Default()
}

// Zone returns the zone of ctx. Without a tracker every ctx is in the root
// zone.
func (d *Directory) Zone(ctx context.Context) zone.ID {
	if t := d.tracker(); t != nil {
		return t.ZoneID(ctx)
	}
	return zone.Root
}

func (d *Directory) entry(z zone.ID) *zoneEntry {
	e, ok := d.zones[z]
	if !ok {
		e = &zoneEntry{touched: make(map[Handle]struct{})}
		d.zones[z] = e
	}
	return e
}

func (d *Directory) add(z zone.ID, h Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.entry(z)
	if !slices.Contains(e.members, h) {
		e.members = append(e.members, h)
	}
}

func (d *Directory) remove(z zone.ID, h Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.zones[z]
	if !ok {
		return
	}
	if i := slices.Index(e.members, h); i >= 0 {
		e.members = slices.Delete(e.members, i, i+1)
	}
	d.prune(z, e)
}

// touch records that h keeps state for z, to be forgotten when z closes.
func (d *Directory) touch(z zone.ID, h Handle) {
	if z == zone.Root {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entry(z).touched[h] = struct{}{}
}

// prune drops an empty entry. Callers hold d.mu.
func (d *Directory) prune(z zone.ID, e *zoneEntry) {
	if len(e.members) == 0 && len(e.touched) == 0 {
		delete(d.zones, z)
	}
}

// Services returns the services instantiated in the zone of ctx, in
// registration order.
func (d *Directory) Services(ctx context.Context) []Handle {
	return d.servicesOf(d.Zone(ctx))
}

func (d *Directory) servicesOf(z zone.ID) []Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.zones[z]; ok {
		return slices.Clone(e.members)
	}
	return nil
}

// Zones returns the zones that have instantiated services, in ascending
// order.
func (d *Directory) Zones() []zone.ID {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]zone.ID, 0, len(d.zones))
	for z, e := range d.zones {
		if len(e.members) > 0 {
			out = append(out, z)
		}
	}
	slices.Sort(out)
	return out
}

// DestroyAll destroys every service instantiated in the zone of ctx.
func (d *Directory) DestroyAll(ctx context.Context) {
	d.DestroyZone(ctx, d.Zone(ctx))
}

// DestroyZone destroys every service instantiated in z.
//
// Services instantiated by the cleanups themselves are destroyed as well.
func (d *Directory) DestroyZone(ctx context.Context, z zone.ID) {
	seen := make(map[Handle]struct{})
	for {
		var batch []Handle
		for _, h := range d.servicesOf(z) {
			if _, ok := seen[h]; !ok {
				seen[h] = struct{}{}
				batch = append(batch, h)
			}
		}
		if len(batch) == 0 {
			return
		}
		for _, h := range batch {
			h.destroyZone(ctx, z)
		}
	}
}

// closeZone is the isolation teardown: it destroys the zone's services and
// drops the state every service kept for the zone.
func (d *Directory) closeZone(ctx context.Context) {
	z := d.Zone(ctx)
	d.DestroyZone(ctx, z)
	if z == zone.Root {
		return
	}

	d.mu.Lock()
	var touched []Handle
	if e, ok := d.zones[z]; ok {
		for h := range e.touched {
			touched = append(touched, h)
		}
		e.touched = make(map[Handle]struct{})
		d.prune(z, e)
	}
	d.mu.Unlock()

	for _, h := range touched {
		h.forget(z)
	}
	ctxlog.FromContextOr(ctx, d.cfg.logger).DebugContext(ctx, "zone closed",
		"zone", uint64(z), "services", len(touched))
}

// -------------------------
// Isolation
// -------------------------

// Isolator returns an isolator whose teardown closes the isolated zone.
func (d *Directory) Isolator() *zone.Isolator {
	t := d.tracker()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.iso == nil || d.iso.Tracker() != t {
		var opts []zone.Option
		if d.cfg.logger != nil {
			opts = append(opts, zone.WithLogger(d.cfg.logger))
		}
		if d.cfg.metrics != nil {
			opts = append(opts, zone.WithMetrics(d.cfg.metrics))
		}
		if d.cfg.tp != nil {
			opts = append(opts, zone.WithTracerProvider(d.cfg.tp))
		}
		d.iso = zone.NewIsolator(t, d.closeZone, opts...)
	}
	return d.iso
}

// Isolate runs fn in a new zone. Every service fn instantiates gets its own
// instance, destroyed when fn returns. See (*zone.Isolator).Isolate.
func (d *Directory) Isolate(ctx context.Context, fn func(ctx context.Context) error) error {
	return d.Isolator().Isolate(ctx, fn)
}

// NewScopedResource opens a zone bound to a manually managed resource.
// EmitDestroy closes the zone.
func (d *Directory) NewScopedResource(ctx context.Context, name string) (*zone.ScopedResource, error) {
	return d.Isolator().NewScopedResource(ctx, name)
}
