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

// ProxyReadFeed is the collaborator contract for single read-call feeds that
// already report at 18 decimals.
type ProxyReadFeed interface {
	Read(ctx context.Context) (value *big.Int, ts time.Time, err error)
}

// ProxyReadAdapter validates a ProxyReadFeed value; no rescale is needed.
type ProxyReadAdapter struct {
	src    Source
	feed   ProxyReadFeed
	logger *logging.Logger
}

var _ Adapter = (*ProxyReadAdapter)(nil)

// NewProxyReadAdapter creates a proxy-read adapter for the given collaborator.
func NewProxyReadAdapter(src Source, prf ProxyReadFeed, logger *logging.Logger) (*ProxyReadAdapter, error) {
	if prf == nil {
		return nil, ErrNilFeed
	}
	return &ProxyReadAdapter{src: src, feed: prf, logger: logger}, nil
}

// Source returns the configured source descriptor.
func (a *ProxyReadAdapter) Source() Source {
	return a.src
}

// Fetch accepts only a positive value with a non-zero timestamp inside the
// staleness bound.
func (a *ProxyReadAdapter) Fetch(ctx context.Context, now time.Time) (Quote, error) {
	value, ts, err := a.feed.Read(ctx)
	if err != nil {
		return Invalid(), fmt.Errorf("%w: read: %v", ErrSourceUnavailable, err)
	}
	if !fixedpoint.IsPositive(value) {
		return Invalid(), fmt.Errorf("%w: non-positive value", ErrSourceUnavailable)
	}
	if ts.IsZero() || ts.Unix() == 0 {
		return Invalid(), fmt.Errorf("%w: zero timestamp", ErrSourceUnavailable)
	}

	age := now.Sub(ts)
	metrics.RecordFeedStaleness(a.src.Name, age)
	if age > a.src.MaxStaleness {
		return Invalid(), fmt.Errorf("%w: age %s exceeds %s", ErrSourceStale, age, a.src.MaxStaleness)
	}

	return Quote{Price: fixedpoint.Clone(value), Valid: true}, nil
}
