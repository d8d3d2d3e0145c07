// Package feed normalizes heterogeneous external price feeds into canonical
// 18-decimal quotes.
package feed

import "errors"

var (
	// ErrSourceUnavailable indicates a transport or format failure while reading a feed.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrSourceStale indicates a feed value older than its staleness bound.
	ErrSourceStale = errors.New("source stale")
	// ErrUnknownKind indicates an unregistered feed kind.
	ErrUnknownKind = errors.New("unknown feed kind")
	// ErrNilFeed indicates a nil collaborator reference.
	ErrNilFeed = errors.New("nil feed collaborator")
	// ErrInvalidAddress indicates a malformed collaborator address.
	ErrInvalidAddress = errors.New("invalid collaborator address")
)
