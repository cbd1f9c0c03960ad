// Package service declares lazily built, zone-scoped singletons.
//
// A service is declared once, usually as a package-level variable, and
// resolved with Get wherever it is needed. Outside any isolation every caller
// shares the root-zone instance. Inside an isolation (see Isolate) the first
// Get builds an instance private to that zone, and the isolation's teardown
// destroys it again:
//
//	var Sessions = service.New(func(ctx context.Context) *SessionStore {
//		return &SessionStore{db: DB.Get(ctx)}
//	})
//
//	func serve(ctx context.Context, req *Request) error {
//		return service.Isolate(ctx, func(ctx context.Context) error {
//			return Sessions.Get(ctx).Touch(req.SessionID)
//		})
//	}
//
// Setup calls (Override, Configure, Mock) apply to the zone of their ctx. A
// zone other than the root starts from a snapshot of the root setup taken the
// first time the service is used in that zone.
//
// Errors:
//   - Override after instantiation returns *OrderError (errors.Is
//     ErrAlreadyInstantiated).
//   - A constructor that resolves its own service panics with *CycleError.
//   - Isolating before zone.Init returns zone.ErrNotInitialized.
package service
