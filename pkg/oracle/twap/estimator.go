package twap

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tc.com/omni-oracle/pkg/fixedpoint"
	"tc.com/omni-oracle/pkg/logging"
	"tc.com/omni-oracle/pkg/metrics"
)

// q112Bits is the fractional bit count of the pool's cumulative price accumulators.
const q112Bits = 112

// PoolConfig describes one configured pool.
type PoolConfig struct {
	Name           string
	NativeToken    common.Address
	AssetDecimals  int
	NativeDecimals int
}

// TwapState is the per-pool accumulator snapshot, advanced once per
// completed window.
type TwapState struct {
	CumulativeLast *big.Int
	LastTimestamp  uint32
	Ratio18        *big.Int
}

type poolState struct {
	pool Pool
	cfg  PoolConfig

	oriented       bool
	nativeIsToken0 bool

	state TwapState
}

// Estimator computes the asset-per-native ratio at 18 decimals from one or
// two liquidity pools. Methods are not internally locked; the owning oracle
// serializes calls.
type Estimator struct {
	pools   []*poolState
	enabled bool
	period  time.Duration
	logger  *logging.Logger
}

// NewEstimator creates a ratio estimator. When enabled is false, only
// instantaneous reserve ratios are used.
func NewEstimator(enabled bool, period time.Duration, logger *logging.Logger) *Estimator {
	return &Estimator{enabled: enabled, period: period, logger: logger}
}

// AddPool registers a pool. At most two pools are supported.
func (e *Estimator) AddPool(pool Pool, cfg PoolConfig) error {
	if pool == nil {
		return ErrNilPool
	}
	if len(e.pools) >= 2 {
		return fmt.Errorf("%w: at most two pools", ErrRatioUndefined)
	}
	e.pools = append(e.pools, &poolState{pool: pool, cfg: cfg})
	return nil
}

// HasPools reports whether any pool is configured.
func (e *Estimator) HasPools() bool {
	return len(e.pools) > 0
}

// Init snapshots each pool's cumulative accumulator and timestamp. A pool
// that cannot be read is left uninitialized; this is a no-op failure and the
// pool falls back to instantaneous ratios until a snapshot succeeds.
func (e *Estimator) Init(ctx context.Context) {
	for _, ps := range e.pools {
		if err := e.snapshot(ctx, ps); err != nil {
			e.logger.Warn("Pool snapshot unavailable", "pool", ps.cfg.Name, "error", err)
		}
	}
}

func (e *Estimator) snapshot(ctx context.Context, ps *poolState) error {
	if err := e.orient(ctx, ps); err != nil {
		return err
	}

	reserves, err := ps.pool.Reserves(ctx)
	if err != nil {
		return err
	}
	cumulative, err := e.cumulative(ctx, ps)
	if err != nil {
		return err
	}

	ps.state.CumulativeLast = cumulative
	ps.state.LastTimestamp = reserves.BlockTimestampLast
	return nil
}

// orient determines which side of the pool holds the native token.
func (e *Estimator) orient(ctx context.Context, ps *poolState) error {
	if ps.oriented {
		return nil
	}

	token0, err := ps.pool.Token0(ctx)
	if err != nil {
		return err
	}
	switch {
	case token0 == ps.cfg.NativeToken:
		ps.nativeIsToken0 = true
	default:
		token1, err := ps.pool.Token1(ctx)
		if err != nil {
			return err
		}
		if token1 != ps.cfg.NativeToken {
			return fmt.Errorf("%w: pool %s", ErrTokenMismatch, ps.cfg.Name)
		}
		ps.nativeIsToken0 = false
	}
	ps.oriented = true
	return nil
}

// cumulative reads the accumulator oriented asset-per-native: when the
// native token is token0, cumulativePrice0 accumulates token1/token0.
func (e *Estimator) cumulative(ctx context.Context, ps *poolState) (*big.Int, error) {
	if ps.nativeIsToken0 {
		return ps.pool.CumulativePrice0(ctx)
	}
	return ps.pool.CumulativePrice1(ctx)
}

// Ratio returns the blended asset-per-native ratio at 18 decimals.
//
// Per pool: a time-weighted ratio when TWAP is enabled, initialized, and a
// full window has elapsed; otherwise the instantaneous reserve ratio. Two
// pools are combined as a native-reserve-weighted average; a single usable
// pool stands alone; none is ErrRatioUndefined.
func (e *Estimator) Ratio(ctx context.Context) (*big.Int, error) {
	if len(e.pools) == 0 {
		return nil, ErrNoPools
	}

	ratioSum := new(big.Int)
	weightSum := new(big.Int)
	available := 0

	for _, ps := range e.pools {
		ratio, nativeReserve, err := e.poolRatio(ctx, ps)
		if err != nil {
			// Treated as SourceUnavailable for ratio purposes.
			e.logger.Warn("Pool ratio unavailable", "pool", ps.cfg.Name, "error", err)
			continue
		}
		ratioSum.Add(ratioSum, new(big.Int).Mul(ratio, nativeReserve))
		weightSum.Add(weightSum, nativeReserve)
		available++
	}

	if available == 0 || weightSum.Sign() == 0 {
		return nil, ErrRatioUndefined
	}

	return ratioSum.Quo(ratioSum, weightSum), nil
}

func (e *Estimator) poolRatio(ctx context.Context, ps *poolState) (ratio, nativeReserve *big.Int, err error) {
	if err := e.orient(ctx, ps); err != nil {
		return nil, nil, err
	}

	reserves, err := ps.pool.Reserves(ctx)
	if err != nil {
		return nil, nil, err
	}
	if reserves.Reserve0.Sign() == 0 || reserves.Reserve1.Sign() == 0 {
		return nil, nil, ErrZeroReserve
	}

	assetReserve, native := reserves.Reserve1, reserves.Reserve0
	if !ps.nativeIsToken0 {
		assetReserve, native = reserves.Reserve0, reserves.Reserve1
	}

	if e.enabled && ps.state.CumulativeLast != nil {
		if twapRatio, ok, err := e.tryWindow(ctx, ps, reserves); err == nil && ok {
			return twapRatio, native, nil
		} else if err != nil {
			e.logger.Debug("TWAP window read failed, using spot ratio", "pool", ps.cfg.Name, "error", err)
		}
	}

	return e.correct(spotRatio(assetReserve, native), ps.cfg), native, nil
}

// tryWindow completes a TWAP window when enough pool time has elapsed.
// Returns ok=false when the window is still open.
func (e *Estimator) tryWindow(ctx context.Context, ps *poolState, reserves *Reserves) (*big.Int, bool, error) {
	elapsed := uint64(reserves.BlockTimestampLast) - uint64(ps.state.LastTimestamp)
	if reserves.BlockTimestampLast < ps.state.LastTimestamp {
		// The pool clock wrapped; resnapshot and fall back to spot.
		if err := e.snapshot(ctx, ps); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	if elapsed == 0 || time.Duration(elapsed)*time.Second < e.period {
		return nil, false, nil
	}

	cumulative, err := e.cumulative(ctx, ps)
	if err != nil {
		return nil, false, err
	}

	delta := new(big.Int).Sub(cumulative, ps.state.CumulativeLast)
	if delta.Sign() < 0 {
		// Accumulator overflow; the delta is still correct modulo 2^256.
		delta.Add(delta, new(big.Int).Lsh(big.NewInt(1), 256))
	}

	// Average price over the window, 112 fractional bits.
	average := delta.Quo(delta, new(big.Int).SetUint64(elapsed))

	// Scale to 18 decimals, then drop the Q112 fraction.
	ratio := average.Mul(average, fixedpoint.One)
	ratio.Rsh(ratio, q112Bits)
	ratio = e.correct(ratio, ps.cfg)

	ps.state.CumulativeLast = cumulative
	ps.state.LastTimestamp = reserves.BlockTimestampLast
	ps.state.Ratio18 = fixedpoint.Clone(ratio)
	metrics.TwapWindowsTotal.WithLabelValues(ps.cfg.Name).Inc()

	return ratio, true, nil
}

// spotRatio is the instantaneous asset-per-native ratio in raw token units
// at 18 decimals, before decimal correction.
func spotRatio(assetReserve, nativeReserve *big.Int) *big.Int {
	ratio := new(big.Int).Mul(assetReserve, fixedpoint.One)
	return ratio.Quo(ratio, nativeReserve)
}

// correct applies the decimal correction factor 10^|nativeDecimals-assetDecimals|:
// multiply when the native token has more decimals, divide otherwise.
func (e *Estimator) correct(ratio *big.Int, cfg PoolConfig) *big.Int {
	switch {
	case cfg.NativeDecimals > cfg.AssetDecimals:
		return ratio.Mul(ratio, fixedpoint.Pow10(cfg.NativeDecimals-cfg.AssetDecimals))
	case cfg.AssetDecimals > cfg.NativeDecimals:
		return ratio.Quo(ratio, fixedpoint.Pow10(cfg.AssetDecimals-cfg.NativeDecimals))
	}
	return ratio
}

// State returns a copy of the TWAP state for the pool at index i.
func (e *Estimator) State(i int) (TwapState, bool) {
	if i < 0 || i >= len(e.pools) {
		return TwapState{}, false
	}
	st := e.pools[i].state
	return TwapState{
		CumulativeLast: fixedpoint.Clone(st.CumulativeLast),
		LastTimestamp:  st.LastTimestamp,
		Ratio18:        fixedpoint.Clone(st.Ratio18),
	}, true
}
