package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"tc.com/omni-oracle/pkg/fixedpoint"
	"tc.com/omni-oracle/pkg/logging"
	"tc.com/omni-oracle/pkg/metrics"
	"tc.com/omni-oracle/pkg/oracle/aggregator"
	"tc.com/omni-oracle/pkg/oracle/feed"
	"tc.com/omni-oracle/pkg/oracle/peers"
	"tc.com/omni-oracle/pkg/oracle/twap"
)

// Mode is the role an instance plays.
type Mode uint8

const (
	// ModeUninitialized is the pre-init state; the only transitions out of
	// it are to Producer or Consumer, and it can never be re-entered.
	ModeUninitialized Mode = iota
	// ModeProducer runs the full local aggregation pipeline and may publish
	// results to peers.
	ModeProducer
	// ModeConsumer only ingests peer-published values.
	ModeConsumer
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeProducer:
		return "producer"
	case ModeConsumer:
		return "consumer"
	default:
		return "uninitialized"
	}
}

// Config holds the instance-level policy knobs.
type Config struct {
	QueryMaxAge   time.Duration // latestPrice validity window, default 24h
	PeerFreshness time.Duration // local/cross-chain validity window, default 1h
	AgreementBps  uint64        // consumer adoption bound vs peer median
}

// Update is one accepted price update, delivered to subscribers.
type Update struct {
	Price     *big.Int
	Timestamp time.Time
	Degraded  bool
	FromPeer  uint64 // chain id of the originating peer, 0 for local
}

// Oracle is one instance of the pricing engine. It exclusively owns its mode
// flags, fallback cache, TWAP state and peer set; feeds, pools and remote
// oracles are injected read-only collaborators.
//
// All state mutation is serialized by one non-reentrant lock. Queries take a
// consistent snapshot under the same lock and copy out.
type Oracle struct {
	mu sync.Mutex

	mode      Mode
	emergency bool

	adapters []feed.Adapter
	agg      *aggregator.Weighted
	est      *twap.Estimator // nil when feeds quote the asset directly
	peerMgr  *peers.Manager
	breaker  *Breaker // nil when the deviation gate is disabled

	cfg Config

	lastPrice     *big.Int
	lastTimestamp time.Time
	lastDegraded  bool

	subscribers []func(Update)

	now    func() time.Time
	logger *logging.Logger
}

// New creates an uninitialized oracle instance.
func New(cfg Config, adapters []feed.Adapter, agg *aggregator.Weighted, est *twap.Estimator, peerMgr *peers.Manager, breaker *Breaker, logger *logging.Logger) *Oracle {
	if cfg.QueryMaxAge == 0 {
		cfg.QueryMaxAge = 24 * time.Hour
	}
	if cfg.PeerFreshness == 0 {
		cfg.PeerFreshness = time.Hour
	}

	return &Oracle{
		adapters: adapters,
		agg:      agg,
		est:      est,
		peerMgr:  peerMgr,
		breaker:  breaker,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}
}

// SetMode transitions the instance role. Transitions into Uninitialized are
// always rejected; Producer and Consumer may switch between each other.
func (o *Oracle) SetMode(mode Mode) error {
	if mode != ModeProducer && mode != ModeConsumer {
		return fmt.Errorf("%w: cannot enter %s", ErrInvalidMode, mode)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	previous := o.mode
	o.mode = mode
	metrics.OracleMode.Set(float64(mode))
	o.logger.Info("Oracle mode changed", "from", previous.String(), "to", mode.String())
	return nil
}

// Mode returns the current role.
func (o *Oracle) Mode() Mode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}

// SetEmergency toggles the manual emergency override. While active, every
// update path is blocked: the local pipeline and peer adoption both reject.
// Queries keep serving the last accepted value through its validity window.
func (o *Oracle) SetEmergency(on bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.emergency = on
	o.logger.Warn("Emergency mode toggled", "active", on)
}

// EmergencyMode reports whether the emergency override is active.
func (o *Oracle) EmergencyMode() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.emergency
}

// Peers returns the peer synchronization manager.
func (o *Oracle) Peers() *peers.Manager {
	return o.peerMgr
}

// Subscribe registers a callback invoked after every accepted update.
// Callbacks run outside the instance lock.
func (o *Oracle) Subscribe(fn func(Update)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subscribers = append(o.subscribers, fn)
}

// Update runs the producer pipeline once: aggregate the native/USD feeds,
// derive the asset/USD price through the pool ratio, gate it through the
// breaker, cache it and publish it to active peers.
func (o *Oracle) Update(ctx context.Context) (aggregator.Result, error) {
	o.mu.Lock()

	if o.mode == ModeUninitialized {
		o.mu.Unlock()
		return aggregator.Result{}, ErrUninitialized
	}
	if o.mode != ModeProducer {
		o.mu.Unlock()
		return aggregator.Result{}, fmt.Errorf("%w: consumer does not aggregate locally", ErrInvalidMode)
	}
	if o.emergency {
		o.mu.Unlock()
		return aggregator.Result{}, ErrEmergencyMode
	}
	if o.breaker != nil && o.breaker.Tripped() {
		o.mu.Unlock()
		return aggregator.Result{}, ErrBreakerTripped
	}

	now := o.now()
	result, err := o.agg.Aggregate(ctx, now, o.adapters)
	if err != nil {
		o.mu.Unlock()
		return aggregator.Result{}, err
	}

	derived, err := o.compose(ctx, result.Price)
	if err != nil {
		o.mu.Unlock()
		return aggregator.Result{}, err
	}
	result.Price = derived

	if o.breaker != nil {
		if err := o.breaker.Allow(derived, now); err != nil {
			o.mu.Unlock()
			return aggregator.Result{}, err
		}
	}

	o.lastPrice = fixedpoint.Clone(derived)
	o.lastTimestamp = result.Timestamp
	o.lastDegraded = result.Degraded
	metrics.LatestPriceTimestamp.Set(float64(result.Timestamp.Unix()))
	subs := append([]func(Update){}, o.subscribers...)
	o.mu.Unlock()

	o.notify(subs, Update{Price: derived, Timestamp: result.Timestamp, Degraded: result.Degraded})

	if o.peerMgr != nil {
		o.peerMgr.Publish(ctx, derived, result.Timestamp)
	}

	return result, nil
}

// compose turns the aggregated native/USD price into the asset/USD price.
//
// The ratio is defined asset-per-native: how many asset units one native
// unit buys. Hence assetUsd = nativeUsd * 1e18 / ratio, truncating. With no
// pools configured the feeds are taken to quote the asset directly.
func (o *Oracle) compose(ctx context.Context, nativeUsd *big.Int) (*big.Int, error) {
	if o.est == nil || !o.est.HasPools() {
		return nativeUsd, nil
	}

	ratio, err := o.est.Ratio(ctx)
	if err != nil {
		return nil, err
	}
	if ratio.Sign() == 0 {
		return nil, twap.ErrRatioUndefined
	}

	return fixedpoint.MulDiv(nativeUsd, fixedpoint.One, ratio), nil
}

// LatestPrice returns the cached latest price. Callers get zero values, not
// an error, when the price is unset, non-positive, or older than the query
// window; (0, zero time) means "no data", never a valid zero price.
func (o *Oracle) LatestPrice() (*big.Int, time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !fixedpoint.IsPositive(o.lastPrice) {
		return new(big.Int), time.Time{}
	}
	if o.now().Sub(o.lastTimestamp) > o.cfg.QueryMaxAge {
		return new(big.Int), time.Time{}
	}
	return fixedpoint.Clone(o.lastPrice), o.lastTimestamp
}

// Degraded reports whether the last accepted local result was degraded.
func (o *Oracle) Degraded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastDegraded
}

// RequestRemotePrice issues a remote read against the given peer.
func (o *Oracle) RequestRemotePrice(ctx context.Context, chainID uint64) (peers.Pending, peers.Fee, error) {
	return o.peerMgr.RequestRemotePrice(ctx, chainID, o.now())
}

// OnRemoteResponse ingests one remote price response. The peer cache is
// updated for any acceptable response; the local price is overwritten only
// in Consumer mode, only outside emergency, and only when the value agrees
// with the other fresh peers.
func (o *Oracle) OnRemoteResponse(fromChainID uint64, price *big.Int, ts time.Time) error {
	now := o.now()

	if err := o.peerMgr.Record(fromChainID, price, ts, now); err != nil {
		return err
	}

	o.mu.Lock()
	if o.mode != ModeConsumer {
		o.mu.Unlock()
		return nil
	}
	if o.emergency {
		o.mu.Unlock()
		return ErrEmergencyMode
	}
	if o.breaker != nil && o.breaker.Tripped() {
		o.mu.Unlock()
		return ErrBreakerTripped
	}

	if !fixedpoint.IsPositive(price) {
		o.mu.Unlock()
		return fmt.Errorf("%w: chain %d", ErrNonPositivePrice, fromChainID)
	}

	// A lone fresh peer is adopted as-is; with company, the incoming value
	// must sit within the agreement bound of the median of the OTHER fresh
	// peers. The value under judgment is left out of the median so it cannot
	// drag the median toward itself. This replaces blind last-write-wins so
	// one malfunctioning peer cannot set the locally trusted price while
	// healthy peers disagree.
	median, otherFresh := o.peerMgr.MedianFreshPriceExcluding(now, fromChainID)
	if otherFresh >= 1 && !withinBps(price, median, o.cfg.AgreementBps) {
		o.mu.Unlock()
		o.logger.Warn("Rejecting peer price outside agreement bound",
			"chain_id", fromChainID, "price", price.String(), "median", median.String())
		return fmt.Errorf("%w: chain %d", ErrPeerDisagreement, fromChainID)
	}
	if otherFresh == 0 {
		o.logger.Warn("Adopting peer price without corroboration", "chain_id", fromChainID)
	}

	if o.breaker != nil {
		if err := o.breaker.Allow(price, now); err != nil {
			o.mu.Unlock()
			return err
		}
	}

	o.lastPrice = fixedpoint.Clone(price)
	o.lastTimestamp = ts
	o.lastDegraded = false
	metrics.LatestPriceTimestamp.Set(float64(ts.Unix()))
	subs := append([]func(Update){}, o.subscribers...)
	o.mu.Unlock()

	o.notify(subs, Update{Price: price, Timestamp: ts, FromPeer: fromChainID})
	return nil
}

// Validate reports (localValid, crossChainValid): the local latest price was
// accepted within the freshness window, and at least one active peer holds
// an independently valid price. No peer quorum is required.
func (o *Oracle) Validate() (bool, bool) {
	now := o.now()

	o.mu.Lock()
	localValid := fixedpoint.IsPositive(o.lastPrice) && now.Sub(o.lastTimestamp) <= o.cfg.PeerFreshness
	o.mu.Unlock()

	crossChainValid := o.peerMgr != nil && o.peerMgr.AnyPeerValid(now)
	return localValid, crossChainValid
}

// ResetBreaker manually closes a tripped deviation breaker.
func (o *Oracle) ResetBreaker() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.breaker != nil {
		o.breaker.Reset()
		o.logger.Info("Deviation breaker reset")
	}
}

// BreakerTripped reports whether the deviation breaker is open.
func (o *Oracle) BreakerTripped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.breaker != nil && o.breaker.Tripped()
}

func (o *Oracle) notify(subs []func(Update), update Update) {
	for _, fn := range subs {
		fn(update)
	}
}

// withinBps reports whether price deviates from reference by at most
// bound basis points.
func withinBps(price, reference *big.Int, bound uint64) bool {
	if reference == nil || reference.Sign() == 0 {
		return false
	}
	deviation := new(big.Int).Sub(price, reference)
	deviation.Abs(deviation)
	deviation.Mul(deviation, big.NewInt(bpsDenominator))
	deviation.Quo(deviation, new(big.Int).Abs(reference))
	return deviation.Cmp(new(big.Int).SetUint64(bound)) <= 0
}
