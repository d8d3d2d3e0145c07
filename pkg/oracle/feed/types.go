package feed

import (
	"context"
	"math/big"
	"time"
)

// Kind identifies the normalization contract a feed source follows.
type Kind string

const (
	// KindPullQuote is a round-based latest-value feed with a reported decimal count.
	KindPullQuote Kind = "pullquote"
	// KindPushAggregate is an externally pushed reference feed with a legacy fallback call.
	KindPushAggregate Kind = "pushaggregate"
	// KindProxyRead is a single read-call feed already scaled near 18 decimals.
	KindProxyRead Kind = "proxyread"
	// KindConfidenceInterval is a price + exponent feed.
	KindConfidenceInterval Kind = "confidence"
)

// Quote is one normalized observation: a signed fixed-point price at 18
// fractional digits. The zero value is an invalid quote.
type Quote struct {
	Price *big.Int
	Valid bool
}

// Invalid returns the invalid quote.
func Invalid() Quote {
	return Quote{}
}

// Source describes one configured external price input. Created and updated
// only through configuration; read by the aggregator on every update cycle.
type Source struct {
	Name         string
	Kind         Kind
	Weight       uint8
	MaxStaleness time.Duration
	Active       bool
	Extra        string // kind-specific identifier or symbol
}

// Adapter normalizes one external feed into 18-decimal quotes.
//
// Fetch never lets a transport or format failure escape as anything other
// than an invalid quote with a classified error (ErrSourceUnavailable or
// ErrSourceStale). The aggregator proceeds with the remaining sources.
type Adapter interface {
	Fetch(ctx context.Context, now time.Time) (Quote, error)
	Source() Source
}
