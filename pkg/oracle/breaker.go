package oracle

import (
	"fmt"
	"math/big"
	"time"

	"tc.com/omni-oracle/pkg/fixedpoint"
	"tc.com/omni-oracle/pkg/metrics"
)

const bpsDenominator = 10_000

// Breaker is the optional deviation gate. A price deviating from the last
// accepted one by more than the threshold, outside the initial grace period,
// trips the breaker; a tripped breaker rejects every update until manually
// reset.
//
// The owning oracle serializes access; the breaker carries no lock.
type Breaker struct {
	thresholdBps uint64
	gracePeriod  time.Duration

	firstAccept  time.Time
	lastAccepted *big.Int
	tripped      bool
}

// NewBreaker creates a deviation breaker.
func NewBreaker(thresholdBps uint64, gracePeriod time.Duration) *Breaker {
	return &Breaker{thresholdBps: thresholdBps, gracePeriod: gracePeriod}
}

// Allow checks price against the last accepted value and records it when
// admitted. Inside the grace period after the first acceptance every price
// is admitted.
func (b *Breaker) Allow(price *big.Int, now time.Time) error {
	if b.tripped {
		return ErrBreakerTripped
	}

	if b.lastAccepted == nil {
		b.lastAccepted = fixedpoint.Clone(price)
		b.firstAccept = now
		return nil
	}

	if now.Sub(b.firstAccept) > b.gracePeriod {
		deviation := new(big.Int).Sub(price, b.lastAccepted)
		deviation.Abs(deviation)
		deviation.Mul(deviation, big.NewInt(bpsDenominator))
		deviation.Quo(deviation, b.lastAccepted)

		if deviation.Cmp(new(big.Int).SetUint64(b.thresholdBps)) > 0 {
			b.tripped = true
			metrics.BreakerTripsTotal.Inc()
			return fmt.Errorf("%w: %s bps over last accepted", ErrDeviationExceeded, deviation.String())
		}
	}

	b.lastAccepted = fixedpoint.Clone(price)
	return nil
}

// Tripped reports whether the breaker is open.
func (b *Breaker) Tripped() bool {
	return b.tripped
}

// Reset closes a tripped breaker. Manual operation.
func (b *Breaker) Reset() {
	b.tripped = false
}
