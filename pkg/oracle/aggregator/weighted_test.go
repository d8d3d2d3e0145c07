package aggregator

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tc.com/omni-oracle/pkg/fixedpoint"
	"tc.com/omni-oracle/pkg/logging"
	"tc.com/omni-oracle/pkg/oracle/feed"
)

// stubAdapter returns a fixed quote or error.
type stubAdapter struct {
	src   feed.Source
	quote feed.Quote
	err   error
}

func (s *stubAdapter) Fetch(_ context.Context, _ time.Time) (feed.Quote, error) {
	return s.quote, s.err
}

func (s *stubAdapter) Source() feed.Source { return s.src }

func usd(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), fixedpoint.One)
}

func adapter(name string, weight uint8, price *big.Int) *stubAdapter {
	return &stubAdapter{
		src:   feed.Source{Name: name, Weight: weight, Active: true, MaxStaleness: time.Hour},
		quote: feed.Quote{Price: price, Valid: true},
	}
}

func TestWeighted_WeightedMean(t *testing.T) {
	agg := NewWeighted(2, 24*time.Hour, logging.NewNoopLogger())
	now := time.Now()

	adapters := []feed.Adapter{
		adapter("a", 40, usd(100)),
		adapter("b", 30, usd(102)),
		adapter("c", 30, usd(98)),
	}

	result, err := agg.Aggregate(context.Background(), now, adapters)
	require.NoError(t, err)

	// (40*100 + 30*102 + 30*98) / 100 = 100
	assert.Zero(t, result.Price.Cmp(usd(100)))
	assert.Equal(t, now, result.Timestamp)
	assert.False(t, result.Degraded)
}

func TestWeighted_TruncatedMean(t *testing.T) {
	agg := NewWeighted(2, 24*time.Hour, logging.NewNoopLogger())

	adapters := []feed.Adapter{
		adapter("a", 1, big.NewInt(10)),
		adapter("b", 1, big.NewInt(11)),
	}

	result, err := agg.Aggregate(context.Background(), time.Now(), adapters)
	require.NoError(t, err)

	// (10 + 11) / 2 truncates to 10, never rounds up.
	assert.Zero(t, result.Price.Cmp(big.NewInt(10)))
}

func TestWeighted_SkipsInactiveAndFailing(t *testing.T) {
	agg := NewWeighted(2, 24*time.Hour, logging.NewNoopLogger())

	inactive := adapter("off", 200, usd(9999))
	inactive.src.Active = false
	failing := &stubAdapter{
		src: feed.Source{Name: "down", Weight: 200, Active: true},
		err: errors.New("rpc timeout"),
	}

	adapters := []feed.Adapter{
		inactive,
		failing,
		adapter("a", 1, usd(100)),
		adapter("b", 1, usd(200)),
	}

	result, err := agg.Aggregate(context.Background(), time.Now(), adapters)
	require.NoError(t, err)
	assert.Zero(t, result.Price.Cmp(usd(150)))
}

func TestWeighted_LoneSourceDegraded(t *testing.T) {
	agg := NewWeighted(2, 24*time.Hour, logging.NewNoopLogger())

	adapters := []feed.Adapter{
		adapter("a", 40, usd(100)),
		&stubAdapter{src: feed.Source{Name: "down", Active: true}, err: errors.New("down")},
	}

	result, err := agg.Aggregate(context.Background(), time.Now(), adapters)
	require.NoError(t, err)

	// The lone price passes through untouched; its weight cancels.
	assert.Zero(t, result.Price.Cmp(usd(100)))
	assert.True(t, result.Degraded)
}

func TestWeighted_FallbackCache(t *testing.T) {
	agg := NewWeighted(2, 24*time.Hour, logging.NewNoopLogger())
	t0 := time.Now()

	good := []feed.Adapter{
		adapter("a", 1, usd(100)),
		adapter("b", 1, usd(102)),
	}
	_, err := agg.Aggregate(context.Background(), t0, good)
	require.NoError(t, err)

	// All sources fail an hour later: the cached aggregate is served.
	bad := []feed.Adapter{
		&stubAdapter{src: feed.Source{Name: "a", Active: true}, err: errors.New("down")},
		&stubAdapter{src: feed.Source{Name: "b", Active: true}, err: errors.New("down")},
	}
	result, err := agg.Aggregate(context.Background(), t0.Add(time.Hour), bad)
	require.NoError(t, err)
	assert.Zero(t, result.Price.Cmp(usd(101)))
	assert.Equal(t, t0, result.Timestamp)
	assert.True(t, result.Degraded)
}

func TestWeighted_FallbackCacheExpired(t *testing.T) {
	agg := NewWeighted(2, 24*time.Hour, logging.NewNoopLogger())
	t0 := time.Now()

	good := []feed.Adapter{
		adapter("a", 1, usd(100)),
		adapter("b", 1, usd(102)),
	}
	_, err := agg.Aggregate(context.Background(), t0, good)
	require.NoError(t, err)

	bad := []feed.Adapter{
		&stubAdapter{src: feed.Source{Name: "a", Active: true}, err: errors.New("down")},
		&stubAdapter{src: feed.Source{Name: "b", Active: true}, err: errors.New("down")},
	}
	_, err = agg.Aggregate(context.Background(), t0.Add(24*time.Hour+time.Second), bad)
	require.ErrorIs(t, err, ErrInsufficientSources)
}

func TestWeighted_DegradedResultDoesNotRefreshCache(t *testing.T) {
	agg := NewWeighted(2, 24*time.Hour, logging.NewNoopLogger())
	t0 := time.Now()

	good := []feed.Adapter{
		adapter("a", 1, usd(100)),
		adapter("b", 1, usd(102)),
	}
	_, err := agg.Aggregate(context.Background(), t0, good)
	require.NoError(t, err)

	lone := []feed.Adapter{
		adapter("a", 1, usd(500)),
		&stubAdapter{src: feed.Source{Name: "b", Active: true}, err: errors.New("down")},
	}
	result, err := agg.Aggregate(context.Background(), t0.Add(time.Minute), lone)
	require.NoError(t, err)
	require.True(t, result.Degraded)

	cached, cachedAt := agg.Fallback()
	assert.Zero(t, cached.Cmp(usd(101)))
	assert.Equal(t, t0, cachedAt)
}

func TestWeighted_NoAdapters(t *testing.T) {
	agg := NewWeighted(2, 24*time.Hour, logging.NewNoopLogger())
	_, err := agg.Aggregate(context.Background(), time.Now(), nil)
	require.ErrorIs(t, err, ErrNoAdapters)
}

func TestWeighted_AllFailNoCache(t *testing.T) {
	agg := NewWeighted(2, 24*time.Hour, logging.NewNoopLogger())

	bad := []feed.Adapter{
		&stubAdapter{src: feed.Source{Name: "a", Active: true}, err: errors.New("down")},
	}
	_, err := agg.Aggregate(context.Background(), time.Now(), bad)
	require.ErrorIs(t, err, ErrInsufficientSources)
}
