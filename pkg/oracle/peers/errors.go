// Package peers tracks remote oracle endpoints and runs the asynchronous
// remote-read request/response cycle between network partitions.
package peers

import "errors"

var (
	// ErrReadChannelUnset indicates that no read channel is configured.
	ErrReadChannelUnset = errors.New("read channel unset")
	// ErrPeerInactive indicates a request against an inactive peer.
	ErrPeerInactive = errors.New("peer inactive")
	// ErrPeerUnknown indicates a chain id with no registered endpoint.
	ErrPeerUnknown = errors.New("unknown peer")
	// ErrPeerRefUnset indicates a peer registered without a remote oracle reference.
	ErrPeerRefUnset = errors.New("peer reference unset")
	// ErrZeroTimestamp indicates a response carrying a zero timestamp.
	ErrZeroTimestamp = errors.New("zero response timestamp")
	// ErrStaleResponse indicates a response older than the cached peer state.
	ErrStaleResponse = errors.New("response older than cached state")
	// ErrNoTransport indicates that no transport is wired.
	ErrNoTransport = errors.New("no transport configured")
	// ErrBadPayload indicates a malformed remote price payload.
	ErrBadPayload = errors.New("malformed price payload")
)
