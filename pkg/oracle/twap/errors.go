// Package twap estimates the asset/native ratio from liquidity-pool reserves,
// time-weighted when a cumulative-price window has elapsed.
package twap

import "errors"

var (
	// ErrZeroReserve indicates a pool with an empty reserve; the ratio is
	// treated as unavailable, not as zero.
	ErrZeroReserve = errors.New("zero reserve in pool")
	// ErrRatioUndefined indicates that no configured pool produced a usable ratio.
	ErrRatioUndefined = errors.New("ratio undefined")
	// ErrNoPools indicates that no pools are configured.
	ErrNoPools = errors.New("no pools configured")
	// ErrTokenMismatch indicates that the configured native token is not part of the pool.
	ErrTokenMismatch = errors.New("native token not found in pool")
	// ErrNilPool indicates a nil pool collaborator.
	ErrNilPool = errors.New("nil pool collaborator")
)
