package feed

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"tc.com/omni-oracle/pkg/fixedpoint"
	"tc.com/omni-oracle/pkg/logging"
	"tc.com/omni-oracle/pkg/metrics"
)

// ConfidenceFeed is the collaborator contract for price + exponent feeds.
// The reported price is price * 10^expo in whole units.
type ConfidenceFeed interface {
	PriceUnsafe(ctx context.Context, id string) (price int64, conf uint64, expo int32, publishTime time.Time, err error)
}

// ConfidenceAdapter normalizes a ConfidenceFeed to 18 decimals.
// Source.Extra holds the feed's price identifier.
type ConfidenceAdapter struct {
	src    Source
	feed   ConfidenceFeed
	logger *logging.Logger
}

var _ Adapter = (*ConfidenceAdapter)(nil)

// NewConfidenceAdapter creates a confidence-interval adapter for the given collaborator.
func NewConfidenceAdapter(src Source, cf ConfidenceFeed, logger *logging.Logger) (*ConfidenceAdapter, error) {
	if cf == nil {
		return nil, ErrNilFeed
	}
	return &ConfidenceAdapter{src: src, feed: cf, logger: logger}, nil
}

// Source returns the configured source descriptor.
func (a *ConfidenceAdapter) Source() Source {
	return a.src
}

// Fetch rescales price * 10^(18+expo), multiplying when the exponent sum is
// non-negative and truncating division otherwise.
func (a *ConfidenceAdapter) Fetch(ctx context.Context, now time.Time) (Quote, error) {
	price, _, expo, publishTime, err := a.feed.PriceUnsafe(ctx, a.src.Extra)
	if err != nil {
		return Invalid(), fmt.Errorf("%w: price unsafe: %v", ErrSourceUnavailable, err)
	}
	if price <= 0 {
		return Invalid(), fmt.Errorf("%w: non-positive price", ErrSourceUnavailable)
	}

	age := now.Sub(publishTime)
	metrics.RecordFeedStaleness(a.src.Name, age)
	if age > a.src.MaxStaleness {
		return Invalid(), fmt.Errorf("%w: age %s exceeds %s", ErrSourceStale, age, a.src.MaxStaleness)
	}

	scaled := big.NewInt(price)
	shift := fixedpoint.Decimals + int(expo)
	if shift >= 0 {
		scaled.Mul(scaled, fixedpoint.Pow10(shift))
	} else {
		scaled.Quo(scaled, fixedpoint.Pow10(-shift))
	}

	return Quote{Price: scaled, Valid: true}, nil
}
