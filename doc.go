// Package zoned scopes singleton services to zones of execution.
//
// A zone is opened by an isolation and follows the work it starts across
// goroutines, timers and tickers. Every service handle resolves to a private
// instance per zone, and when the isolation ends everything registered for
// cleanup in that zone runs exactly once.
//
// The pieces live in subpackages:
//   - unsub: cleanup registries and the ambient collection scope
//   - async: the scheduler that tags goroutines, timers and tickers with
//     execution ids and reports their lifecycle
//   - zone: the tracker mapping execution ids to zones, and isolations
//   - service: zone-scoped service handles and the directory of live
//     instances
//   - lifecycle, signal: helpers for services that own subscriptions
//   - metrics: Prometheus instrumentation
//   - cmd/zonegen: generates typed handles that forward to a service
//   - cmd/zonedemo: runs isolations against the example counter service
//
// Typical use:
//
//	zone.Init(ctx)
//	h := counter.NewHandle()
//	_ = service.Isolate(ctx, func(ctx context.Context) error {
//		h.Incr(ctx) // this zone's counter
//		return nil
//	})
package zoned
