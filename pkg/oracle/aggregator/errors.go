// Package aggregator combines normalized feed quotes into one weighted price.
package aggregator

import "errors"

var (
	// ErrInsufficientSources indicates that no tier of the degradation ladder
	// could produce a price.
	ErrInsufficientSources = errors.New("insufficient valid sources")
	// ErrNoAdapters indicates that no active feed adapters were supplied.
	ErrNoAdapters = errors.New("no active feed adapters")
)
