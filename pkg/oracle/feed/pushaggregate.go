package feed

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"tc.com/omni-oracle/pkg/fixedpoint"
	"tc.com/omni-oracle/pkg/logging"
	"tc.com/omni-oracle/pkg/metrics"
)

// structuredDecimals is the fractional-digit count of the structured call.
const structuredDecimals = 9

// PushAggregateFeed is the collaborator contract for externally pushed
// reference feeds. The structured call is preferred; ReferenceRate is the
// legacy fallback, reporting separate base and quote update times.
type PushAggregateFeed interface {
	PriceFor(ctx context.Context, symbol string) (price uint64, ts time.Time, err error)
	ReferenceRate(ctx context.Context, base, quote string) (rate *big.Int, updatedBase, updatedQuote time.Time, err error)
}

// PushAggregateAdapter normalizes a PushAggregateFeed to 18 decimals.
// Source.Extra holds the feed symbol in BASE/QUOTE form.
type PushAggregateAdapter struct {
	src    Source
	feed   PushAggregateFeed
	base   string
	quote  string
	logger *logging.Logger
}

var _ Adapter = (*PushAggregateAdapter)(nil)

// NewPushAggregateAdapter creates a push-aggregate adapter for the given collaborator.
func NewPushAggregateAdapter(src Source, paf PushAggregateFeed, logger *logging.Logger) (*PushAggregateAdapter, error) {
	if paf == nil {
		return nil, ErrNilFeed
	}

	base, quote := src.Extra, "USD"
	if parts := strings.SplitN(src.Extra, "/", 2); len(parts) == 2 {
		base, quote = parts[0], parts[1]
	}

	return &PushAggregateAdapter{src: src, feed: paf, base: base, quote: quote, logger: logger}, nil
}

// Source returns the configured source descriptor.
func (a *PushAggregateAdapter) Source() Source {
	return a.src
}

// Fetch tries the structured call first and falls back to the legacy
// reference-rate call on any failure.
func (a *PushAggregateAdapter) Fetch(ctx context.Context, now time.Time) (Quote, error) {
	price, ts, err := a.feed.PriceFor(ctx, a.src.Extra)
	if err == nil {
		if price == 0 {
			return Invalid(), fmt.Errorf("%w: zero price", ErrSourceUnavailable)
		}
		age := now.Sub(ts)
		metrics.RecordFeedStaleness(a.src.Name, age)
		if age > a.src.MaxStaleness {
			return Invalid(), fmt.Errorf("%w: age %s exceeds %s", ErrSourceStale, age, a.src.MaxStaleness)
		}
		scaled := fixedpoint.Rescale(new(big.Int).SetUint64(price), structuredDecimals, fixedpoint.Decimals)
		return Quote{Price: scaled, Valid: true}, nil
	}

	a.logger.Debug("Structured call failed, falling back to legacy reference rate",
		"feed", a.src.Name, "error", err)

	rate, updatedBase, updatedQuote, err := a.feed.ReferenceRate(ctx, a.base, a.quote)
	if err != nil {
		return Invalid(), fmt.Errorf("%w: reference rate: %v", ErrSourceUnavailable, err)
	}
	if rate == nil || rate.Sign() <= 0 {
		return Invalid(), fmt.Errorf("%w: zero rate", ErrSourceUnavailable)
	}

	// Staleness is judged against the later of the two update timestamps.
	updated := updatedBase
	if updatedQuote.After(updated) {
		updated = updatedQuote
	}
	age := now.Sub(updated)
	metrics.RecordFeedStaleness(a.src.Name, age)
	if age > a.src.MaxStaleness {
		return Invalid(), fmt.Errorf("%w: age %s exceeds %s", ErrSourceStale, age, a.src.MaxStaleness)
	}

	return Quote{Price: fixedpoint.Clone(rate), Valid: true}, nil
}
