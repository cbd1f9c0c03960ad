// Package zone tracks which zone of execution a piece of code runs in, and
// opens and tears down zones.
//
// A zone is a lifecycle scope: every service instance and every cleanup
// callback created while a zone is current belongs to it, and tearing the zone
// down destroys all of them together. Zone Root (0) is the default zone and
// always exists.
//
// Zone identity rides on the async package: each unit of work records the
// zone of the unit that created it, so tasks, timers and tickers started in a
// zone keep reporting that zone when they run, however deeply nested. The
// current zone is always read from a context.Context:
//
//	zone.Init(ctx)
//
//	iso := zone.NewIsolator(zone.Default(), teardown)
//	err := iso.Isolate(ctx, func(ctx context.Context) error {
//		z := zone.Current(ctx) // a fresh zone, different from the caller's
//		...
//		return nil
//	})
//
// After fn returns, Isolate runs the teardown inside the zone, then warns if
// async work tagged with the zone is still pending.
//
// ScopedResource is the manually managed form, for scopes that must outlive a
// single call.
package zone
