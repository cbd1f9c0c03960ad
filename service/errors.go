package service

import (
	"errors"
	"strconv"
)

// ErrAlreadyInstantiated is wrapped by OrderError when a service is changed
// after it was instantiated in the zone.
var ErrAlreadyInstantiated = errors.New("service: already instantiated in this zone")

// OrderError reports a call that must happen before the service's first
// access in the zone.
type OrderError struct {
	// Service is the service name.
	Service string

	// Op is the rejected operation, e.g. "override".
	Op string
}

// Error implements the error interface.
func (e *OrderError) Error() string {
	// Example: service "counter": override must happen before its instantiation
	return "service " + strconv.Quote(e.Service) + ": " + e.Op + " must happen before its instantiation"
}

// Unwrap returns ErrAlreadyInstantiated.
func (e *OrderError) Unwrap() error { return ErrAlreadyInstantiated }

// CycleError is the panic value of a Get that re-enters a service whose
// constructor has not returned yet.
type CycleError struct{ Service string }

// Error implements the error interface.
func (e *CycleError) Error() string {
	// Example: service "a": dependency cycle during construction
	return "service " + strconv.Quote(e.Service) + ": dependency cycle during construction"
}
