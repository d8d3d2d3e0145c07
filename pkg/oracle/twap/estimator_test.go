package twap

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tc.com/omni-oracle/pkg/fixedpoint"
	"tc.com/omni-oracle/pkg/logging"
)

var (
	nativeAddr = common.HexToAddress("0x0000000000000000000000000000000000000001")
	assetAddr  = common.HexToAddress("0x0000000000000000000000000000000000000002")
	otherAddr  = common.HexToAddress("0x00000000000000000000000000000000000000ff")
)

// fakePool implements Pool with settable state.
type fakePool struct {
	reserves *Reserves
	token0   common.Address
	token1   common.Address
	cum0     *big.Int
	cum1     *big.Int
	err      error
}

func (p *fakePool) Reserves(_ context.Context) (*Reserves, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.reserves, nil
}

func (p *fakePool) Token0(_ context.Context) (common.Address, error) {
	if p.err != nil {
		return common.Address{}, p.err
	}
	return p.token0, nil
}

func (p *fakePool) Token1(_ context.Context) (common.Address, error) {
	if p.err != nil {
		return common.Address{}, p.err
	}
	return p.token1, nil
}

func (p *fakePool) CumulativePrice0(_ context.Context) (*big.Int, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.cum0, nil
}

func (p *fakePool) CumulativePrice1(_ context.Context) (*big.Int, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.cum1, nil
}

func tokens(units int64, decimals int) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), fixedpoint.Pow10(decimals))
}

// q112 returns v shifted into UQ112x112 representation.
func q112(v int64) *big.Int {
	return new(big.Int).Lsh(big.NewInt(v), 112)
}

func defaultCfg() PoolConfig {
	return PoolConfig{
		Name:           "test-pool",
		NativeToken:    nativeAddr,
		AssetDecimals:  18,
		NativeDecimals: 18,
	}
}

func nativeFirstPool(nativeReserve, assetReserve *big.Int, ts uint32) *fakePool {
	return &fakePool{
		reserves: &Reserves{Reserve0: nativeReserve, Reserve1: assetReserve, BlockTimestampLast: ts},
		token0:   nativeAddr,
		token1:   assetAddr,
		cum0:     new(big.Int),
		cum1:     new(big.Int),
	}
}

func TestRatio_SpotNativeToken0(t *testing.T) {
	est := NewEstimator(false, 0, logging.NewNoopLogger())
	pool := nativeFirstPool(tokens(1000, 18), tokens(2000, 18), 100)
	require.NoError(t, est.AddPool(pool, defaultCfg()))

	ratio, err := est.Ratio(context.Background())
	require.NoError(t, err)

	// 2000 asset / 1000 native = 2.0
	assert.Zero(t, ratio.Cmp(tokens(2, 18)))
}

func TestRatio_SpotNativeToken1(t *testing.T) {
	est := NewEstimator(false, 0, logging.NewNoopLogger())
	pool := &fakePool{
		reserves: &Reserves{Reserve0: tokens(2000, 18), Reserve1: tokens(1000, 18), BlockTimestampLast: 100},
		token0:   assetAddr,
		token1:   nativeAddr,
		cum0:     new(big.Int),
		cum1:     new(big.Int),
	}
	require.NoError(t, est.AddPool(pool, defaultCfg()))

	ratio, err := est.Ratio(context.Background())
	require.NoError(t, err)
	assert.Zero(t, ratio.Cmp(tokens(2, 18)))
}

func TestRatio_DecimalCorrection(t *testing.T) {
	cases := []struct {
		name           string
		nativeDecimals int
		assetDecimals  int
	}{
		{"native_more_decimals", 18, 6},
		{"asset_more_decimals", 6, 18},
		{"equal_decimals", 18, 18},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			est := NewEstimator(false, 0, logging.NewNoopLogger())
			pool := nativeFirstPool(tokens(1000, tc.nativeDecimals), tokens(2000, tc.assetDecimals), 100)
			cfg := defaultCfg()
			cfg.NativeDecimals = tc.nativeDecimals
			cfg.AssetDecimals = tc.assetDecimals
			require.NoError(t, est.AddPool(pool, cfg))

			ratio, err := est.Ratio(context.Background())
			require.NoError(t, err)

			// The corrected ratio is always 2.0 at 18 decimals.
			assert.Zero(t, ratio.Cmp(tokens(2, 18)), "got %s", ratio.String())
		})
	}
}

func TestRatio_ZeroReserveUnavailable(t *testing.T) {
	est := NewEstimator(false, 0, logging.NewNoopLogger())
	pool := nativeFirstPool(new(big.Int), tokens(2000, 18), 100)
	require.NoError(t, est.AddPool(pool, defaultCfg()))

	_, err := est.Ratio(context.Background())
	require.ErrorIs(t, err, ErrRatioUndefined)
}

func TestRatio_TokenMismatch(t *testing.T) {
	est := NewEstimator(false, 0, logging.NewNoopLogger())
	pool := nativeFirstPool(tokens(1000, 18), tokens(2000, 18), 100)
	pool.token0 = otherAddr
	pool.token1 = assetAddr
	require.NoError(t, est.AddPool(pool, defaultCfg()))

	_, err := est.Ratio(context.Background())
	require.ErrorIs(t, err, ErrRatioUndefined)
}

func TestRatio_TwoPoolBlend(t *testing.T) {
	est := NewEstimator(false, 0, logging.NewNoopLogger())

	// Pool A: ratio 2.0 with 1000 native; pool B: ratio 4.0 with 3000 native.
	poolA := nativeFirstPool(tokens(1000, 18), tokens(2000, 18), 100)
	poolB := nativeFirstPool(tokens(3000, 18), tokens(12000, 18), 100)
	require.NoError(t, est.AddPool(poolA, defaultCfg()))
	require.NoError(t, est.AddPool(poolB, defaultCfg()))

	ratio, err := est.Ratio(context.Background())
	require.NoError(t, err)

	// (2*1000 + 4*3000) / 4000 = 3.5
	expected, _ := new(big.Int).SetString("3500000000000000000", 10)
	assert.Zero(t, ratio.Cmp(expected))
}

func TestRatio_OneFailingPoolBlendsToOther(t *testing.T) {
	est := NewEstimator(false, 0, logging.NewNoopLogger())

	poolA := nativeFirstPool(tokens(1000, 18), tokens(2000, 18), 100)
	poolB := &fakePool{err: errors.New("rpc down")}
	require.NoError(t, est.AddPool(poolA, defaultCfg()))
	require.NoError(t, est.AddPool(poolB, defaultCfg()))

	ratio, err := est.Ratio(context.Background())
	require.NoError(t, err)
	assert.Zero(t, ratio.Cmp(tokens(2, 18)))
}

func TestAddPool_Limits(t *testing.T) {
	est := NewEstimator(false, 0, logging.NewNoopLogger())
	require.ErrorIs(t, est.AddPool(nil, defaultCfg()), ErrNilPool)

	require.NoError(t, est.AddPool(nativeFirstPool(tokens(1, 18), tokens(1, 18), 0), defaultCfg()))
	require.NoError(t, est.AddPool(nativeFirstPool(tokens(1, 18), tokens(1, 18), 0), defaultCfg()))
	require.Error(t, est.AddPool(nativeFirstPool(tokens(1, 18), tokens(1, 18), 0), defaultCfg()))
}

func TestRatio_NoPools(t *testing.T) {
	est := NewEstimator(false, 0, logging.NewNoopLogger())
	assert.False(t, est.HasPools())
	_, err := est.Ratio(context.Background())
	require.ErrorIs(t, err, ErrNoPools)
}

func TestTwap_WindowCompletes(t *testing.T) {
	est := NewEstimator(true, 30*time.Minute, logging.NewNoopLogger())

	pool := nativeFirstPool(tokens(1000, 18), tokens(2000, 18), 1000)
	pool.cum0 = q112(500)
	require.NoError(t, est.AddPool(pool, defaultCfg()))
	est.Init(context.Background())

	state, ok := est.State(0)
	require.True(t, ok)
	assert.Zero(t, state.CumulativeLast.Cmp(q112(500)))
	assert.Equal(t, uint32(1000), state.LastTimestamp)

	// 1800 pool seconds later the accumulator grew by 2.0 * 1800 in Q112.
	pool.reserves = &Reserves{
		Reserve0:           tokens(1000, 18),
		Reserve1:           tokens(2100, 18), // spot moved; TWAP must win
		BlockTimestampLast: 2800,
	}
	pool.cum0 = new(big.Int).Add(q112(500), new(big.Int).Mul(q112(2), big.NewInt(1800)))

	ratio, err := est.Ratio(context.Background())
	require.NoError(t, err)
	assert.Zero(t, ratio.Cmp(tokens(2, 18)))

	state, ok = est.State(0)
	require.True(t, ok)
	assert.Equal(t, uint32(2800), state.LastTimestamp)
	assert.Zero(t, state.Ratio18.Cmp(tokens(2, 18)))
}

func TestTwap_WindowDecimalCorrection(t *testing.T) {
	// The accumulator tracks raw token units, so a corrected price of 2.0
	// accrues at a different raw rate on each decimal branch.
	nativeMoreRate := new(big.Int).Lsh(big.NewInt(2), 112)
	nativeMoreRate.Div(nativeMoreRate, fixedpoint.Pow10(12))
	// 2e-12 is not exact in Q112; round up so truncation lands on 2.0.
	nativeMoreRate.Add(nativeMoreRate, big.NewInt(1))

	assetMoreRate := new(big.Int).Lsh(tokens(2, 12), 112)

	cases := []struct {
		name           string
		nativeDecimals int
		assetDecimals  int
		rate           *big.Int
	}{
		{"native_more_decimals", 18, 6, nativeMoreRate},
		{"asset_more_decimals", 6, 18, assetMoreRate},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			est := NewEstimator(true, 30*time.Minute, logging.NewNoopLogger())

			pool := nativeFirstPool(tokens(1000, tc.nativeDecimals), tokens(2000, tc.assetDecimals), 1000)
			pool.cum0 = q112(500)
			cfg := defaultCfg()
			cfg.NativeDecimals = tc.nativeDecimals
			cfg.AssetDecimals = tc.assetDecimals
			require.NoError(t, est.AddPool(pool, cfg))
			est.Init(context.Background())

			// 1800 pool seconds later; spot moved to 2.1 so the window must win.
			pool.reserves = &Reserves{
				Reserve0:           tokens(1000, tc.nativeDecimals),
				Reserve1:           tokens(2100, tc.assetDecimals),
				BlockTimestampLast: 2800,
			}
			pool.cum0 = new(big.Int).Add(q112(500), new(big.Int).Mul(tc.rate, big.NewInt(1800)))

			ratio, err := est.Ratio(context.Background())
			require.NoError(t, err)
			assert.Zero(t, ratio.Cmp(tokens(2, 18)), "got %s", ratio.String())

			state, ok := est.State(0)
			require.True(t, ok)
			assert.Zero(t, state.Ratio18.Cmp(tokens(2, 18)))
		})
	}
}

func TestTwap_WindowStillOpenUsesSpot(t *testing.T) {
	est := NewEstimator(true, 30*time.Minute, logging.NewNoopLogger())

	pool := nativeFirstPool(tokens(1000, 18), tokens(2000, 18), 1000)
	pool.cum0 = q112(500)
	require.NoError(t, est.AddPool(pool, defaultCfg()))
	est.Init(context.Background())

	// Only 100 pool seconds elapsed: stay on the instantaneous ratio.
	pool.reserves = &Reserves{
		Reserve0:           tokens(1000, 18),
		Reserve1:           tokens(3000, 18),
		BlockTimestampLast: 1100,
	}
	pool.cum0 = new(big.Int).Add(q112(500), new(big.Int).Mul(q112(2), big.NewInt(100)))

	ratio, err := est.Ratio(context.Background())
	require.NoError(t, err)
	assert.Zero(t, ratio.Cmp(tokens(3, 18)))

	// Snapshot must not advance on an open window.
	state, ok := est.State(0)
	require.True(t, ok)
	assert.Equal(t, uint32(1000), state.LastTimestamp)
}

func TestTwap_AccumulatorOverflowWraps(t *testing.T) {
	est := NewEstimator(true, 30*time.Minute, logging.NewNoopLogger())

	max256 := new(big.Int).Lsh(big.NewInt(1), 256)
	growth := new(big.Int).Mul(q112(2), big.NewInt(1800))
	cumLast := new(big.Int).Sub(max256, big.NewInt(500))

	pool := nativeFirstPool(tokens(1000, 18), tokens(2000, 18), 1000)
	pool.cum0 = cumLast
	require.NoError(t, est.AddPool(pool, defaultCfg()))
	est.Init(context.Background())

	// The accumulator wrapped past 2^256; the modular delta is still exact.
	pool.reserves = &Reserves{
		Reserve0:           tokens(1000, 18),
		Reserve1:           tokens(2000, 18),
		BlockTimestampLast: 2800,
	}
	pool.cum0 = new(big.Int).Sub(growth, big.NewInt(500))

	ratio, err := est.Ratio(context.Background())
	require.NoError(t, err)
	assert.Zero(t, ratio.Cmp(tokens(2, 18)))
}

func TestTwap_PoolClockWrapResnapshots(t *testing.T) {
	est := NewEstimator(true, 30*time.Minute, logging.NewNoopLogger())

	pool := nativeFirstPool(tokens(1000, 18), tokens(2000, 18), 4_294_967_000)
	pool.cum0 = q112(500)
	require.NoError(t, est.AddPool(pool, defaultCfg()))
	est.Init(context.Background())

	// The uint32 pool clock wrapped around zero.
	pool.reserves = &Reserves{
		Reserve0:           tokens(1000, 18),
		Reserve1:           tokens(2000, 18),
		BlockTimestampLast: 100,
	}
	pool.cum0 = q112(700)

	ratio, err := est.Ratio(context.Background())
	require.NoError(t, err)
	assert.Zero(t, ratio.Cmp(tokens(2, 18)))

	state, ok := est.State(0)
	require.True(t, ok)
	assert.Equal(t, uint32(100), state.LastTimestamp)
	assert.Zero(t, state.CumulativeLast.Cmp(q112(700)))
}
