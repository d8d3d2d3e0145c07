package aggregator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"tc.com/omni-oracle/pkg/fixedpoint"
	"tc.com/omni-oracle/pkg/logging"
	"tc.com/omni-oracle/pkg/metrics"
	"tc.com/omni-oracle/pkg/oracle/feed"
)

// Result is the outcome of one aggregation pass.
type Result struct {
	Price     *big.Int
	Timestamp time.Time
	Degraded  bool
}

// Weighted combines quotes from active feed adapters by weight-proportional
// averaging, with a lone-source pass-through and a bounded fallback cache.
//
// All arithmetic is integer and division truncates. Callers must serialize
// Aggregate invocations; the fallback cache is not internally locked.
type Weighted struct {
	minValidSources int
	fallbackMaxAge  time.Duration
	logger          *logging.Logger

	// Fallback cache: last successful aggregation, overwritten only on success.
	cachePrice *big.Int
	cacheTime  time.Time
}

// NewWeighted creates a weighted aggregator.
func NewWeighted(minValidSources int, fallbackMaxAge time.Duration, logger *logging.Logger) *Weighted {
	return &Weighted{
		minValidSources: minValidSources,
		fallbackMaxAge:  fallbackMaxAge,
		logger:          logger,
	}
}

// Aggregate fetches every active adapter and applies the policy ladder:
//  1. enough valid quotes: truncated weighted mean, fallback cache refreshed
//  2. exactly one valid quote below the bar: that price, degraded
//  3. fallback cache within its age bound: cached price, degraded
//  4. otherwise ErrInsufficientSources
//
// A failing adapter never aborts the pass; it is skipped and the remaining
// sources are evaluated.
func (w *Weighted) Aggregate(ctx context.Context, now time.Time, adapters []feed.Adapter) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.RecordAggregation(time.Since(start))
	}()

	if len(adapters) == 0 {
		return Result{}, fmt.Errorf("%w", ErrNoAdapters)
	}

	weightedSum := new(big.Int)
	totalWeight := new(big.Int)
	validCount := 0
	var lonePrice *big.Int

	for _, adapter := range adapters {
		src := adapter.Source()
		if !src.Active {
			continue
		}

		quote, err := adapter.Fetch(ctx, now)
		metrics.RecordFeedQuote(src.Name, quote.Valid)
		if err != nil || !quote.Valid {
			w.logger.Debug("Skipping invalid quote", "feed", src.Name, "error", err)
			continue
		}

		weight := big.NewInt(int64(src.Weight))
		weightedSum.Add(weightedSum, new(big.Int).Mul(quote.Price, weight))
		totalWeight.Add(totalWeight, weight)
		validCount++
		lonePrice = quote.Price
	}

	if validCount >= w.minValidSources && totalWeight.Sign() > 0 {
		price := new(big.Int).Quo(weightedSum, totalWeight)
		w.cachePrice = fixedpoint.Clone(price)
		w.cacheTime = now
		return Result{Price: price, Timestamp: now}, nil
	}

	if validCount == 1 && w.minValidSources > 1 {
		// A lone weighted price cancels its own weight.
		w.logger.Warn("Aggregating from a single valid source", "min_valid_sources", w.minValidSources)
		metrics.RecordDegraded("single_source")
		return Result{Price: fixedpoint.Clone(lonePrice), Timestamp: now, Degraded: true}, nil
	}

	if w.cachePrice != nil && now.Sub(w.cacheTime) <= w.fallbackMaxAge {
		w.logger.Warn("Serving fallback cache", "age", now.Sub(w.cacheTime).String())
		metrics.RecordDegraded("fallback_cache")
		metrics.FallbackCacheHitsTotal.Inc()
		return Result{Price: fixedpoint.Clone(w.cachePrice), Timestamp: w.cacheTime, Degraded: true}, nil
	}

	return Result{}, fmt.Errorf("%w: %d of %d required", ErrInsufficientSources, validCount, w.minValidSources)
}

// Fallback returns the cached last successful aggregation, if any.
func (w *Weighted) Fallback() (*big.Int, time.Time) {
	return fixedpoint.Clone(w.cachePrice), w.cacheTime
}
