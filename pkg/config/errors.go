// Package config provides configuration loading and validation for omni-oracle.
package config

import "errors"

var (
	// ErrInvalidMode indicates an unknown instance mode.
	ErrInvalidMode = errors.New("invalid mode")
	// ErrNoFeedsConfigured indicates that a producer has no enabled feeds.
	ErrNoFeedsConfigured = errors.New("no feeds configured")
	// ErrInvalidWeight indicates a feed weight outside 0..255.
	ErrInvalidWeight = errors.New("feed weight must be in 0..255")
	// ErrInvalidMinSources indicates min_valid_sources outside 1..4.
	ErrInvalidMinSources = errors.New("min_valid_sources must be in 1..4")
	// ErrInvalidKind indicates an unknown feed kind.
	ErrInvalidKind = errors.New("unknown feed kind")
	// ErrMissingAddress indicates a missing collaborator address.
	ErrMissingAddress = errors.New("address is required")
	// ErrMissingRPCURL indicates a missing chain RPC URL.
	ErrMissingRPCURL = errors.New("rpc_url is required")
	// ErrTooManyPools indicates more than two configured pools.
	ErrTooManyPools = errors.New("at most two pools are supported")
	// ErrDuplicatePeer indicates two peer endpoints sharing a chain id.
	ErrDuplicatePeer = errors.New("duplicate peer chain id")
)
