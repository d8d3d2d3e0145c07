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

// assumedDecimals is used when the decimal-count read itself fails.
const assumedDecimals = 8

// PullQuoteFeed is the collaborator contract for round-based latest-value
// feeds: a latest answer with its update time, plus a reported decimal count.
type PullQuoteFeed interface {
	LatestValue(ctx context.Context) (answer *big.Int, updatedAt time.Time, err error)
	DecimalCount(ctx context.Context) (uint8, error)
}

// PullQuoteAdapter normalizes a PullQuoteFeed to 18 decimals.
type PullQuoteAdapter struct {
	src    Source
	feed   PullQuoteFeed
	logger *logging.Logger
}

var _ Adapter = (*PullQuoteAdapter)(nil)

// NewPullQuoteAdapter creates a pull-quote adapter for the given collaborator.
func NewPullQuoteAdapter(src Source, pqf PullQuoteFeed, logger *logging.Logger) (*PullQuoteAdapter, error) {
	if pqf == nil {
		return nil, ErrNilFeed
	}
	return &PullQuoteAdapter{src: src, feed: pqf, logger: logger}, nil
}

// Source returns the configured source descriptor.
func (a *PullQuoteAdapter) Source() Source {
	return a.src
}

// Fetch reads the latest answer and rescales it to 18 decimals.
func (a *PullQuoteAdapter) Fetch(ctx context.Context, now time.Time) (Quote, error) {
	answer, updatedAt, err := a.feed.LatestValue(ctx)
	if err != nil {
		return Invalid(), fmt.Errorf("%w: latest value: %v", ErrSourceUnavailable, err)
	}
	if answer == nil || answer.Sign() <= 0 {
		return Invalid(), fmt.Errorf("%w: non-positive answer", ErrSourceUnavailable)
	}

	age := now.Sub(updatedAt)
	metrics.RecordFeedStaleness(a.src.Name, age)
	if age > a.src.MaxStaleness {
		return Invalid(), fmt.Errorf("%w: age %s exceeds %s", ErrSourceStale, age, a.src.MaxStaleness)
	}

	decimals, err := a.feed.DecimalCount(ctx)
	if err != nil {
		// Decimal read failure is non-fatal: assume 8 reported decimals.
		a.logger.Debug("Decimal count read failed, assuming 8", "feed", a.src.Name, "error", err)
		decimals = assumedDecimals
	}

	price := fixedpoint.Rescale(answer, int(decimals), fixedpoint.Decimals)
	return Quote{Price: price, Valid: true}, nil
}
