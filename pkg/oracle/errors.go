// Package oracle ties the feed, aggregation, ratio and peer layers into one
// oracle instance governed by a producer/consumer mode state machine.
package oracle

import "errors"

var (
	// ErrInvalidMode indicates a disallowed mode transition or an operation
	// not permitted in the current mode.
	ErrInvalidMode = errors.New("invalid mode")
	// ErrUninitialized indicates an operation before the instance was initialized.
	ErrUninitialized = errors.New("oracle uninitialized")
	// ErrEmergencyMode indicates an update rejected by the emergency override.
	ErrEmergencyMode = errors.New("emergency mode active")
	// ErrBreakerTripped indicates the deviation breaker is open and needs a manual reset.
	ErrBreakerTripped = errors.New("circuit breaker tripped")
	// ErrDeviationExceeded indicates a price outside the deviation bound.
	ErrDeviationExceeded = errors.New("price deviation exceeds threshold")
	// ErrPeerDisagreement indicates a peer price too far from the peer median
	// to be adopted.
	ErrPeerDisagreement = errors.New("peer price disagrees with peer median")
	// ErrNonPositivePrice indicates a zero or negative price unfit for adoption.
	ErrNonPositivePrice = errors.New("non-positive price")
)
