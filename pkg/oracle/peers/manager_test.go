package peers

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tc.com/omni-oracle/pkg/logging"
)

var (
	refA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	refB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

// fakeTransport records outgoing traffic.
type fakeTransport struct {
	reads     []Request
	published []uint64
	sendErr   error
}

func (f *fakeTransport) SendRead(_ context.Context, req Request) (Fee, error) {
	if f.sendErr != nil {
		return Fee{}, f.sendErr
	}
	f.reads = append(f.reads, req)
	return Fee{Native: big.NewInt(100)}, nil
}

func (f *fakeTransport) PublishPrice(_ context.Context, chainID uint64, _ common.Address, _ *big.Int, _ time.Time) (Fee, error) {
	if f.sendErr != nil {
		return Fee{}, f.sendErr
	}
	f.published = append(f.published, chainID)
	return Fee{Native: big.NewInt(100)}, nil
}

func newTestManager(transport Transport) *Manager {
	return NewManager(transport, 30332, time.Hour, 15*time.Minute, logging.NewNoopLogger())
}

func TestSetPeer_ActiveMembership(t *testing.T) {
	m := newTestManager(&fakeTransport{})

	m.SetPeer(10, refA, true)
	assert.Equal(t, []uint64{10}, m.ActiveIDs())

	m.SetPeer(20, refB, true)
	assert.Equal(t, []uint64{10, 20}, m.ActiveIDs())

	// Re-registering an active peer only updates the reference.
	m.SetPeer(10, refB, true)
	assert.Equal(t, []uint64{10, 20}, m.ActiveIDs())
	ep, ok := m.Peer(10)
	require.True(t, ok)
	assert.Equal(t, refB, ep.Ref)

	// Deactivation swaps with the last element and truncates.
	m.SetPeer(10, refB, false)
	assert.Equal(t, []uint64{20}, m.ActiveIDs())

	// Deactivating an already inactive peer is a no-op.
	m.SetPeer(10, refB, false)
	assert.Equal(t, []uint64{20}, m.ActiveIDs())
}

func TestRecord_AcceptsAndCaches(t *testing.T) {
	m := newTestManager(&fakeTransport{})
	m.SetPeer(10, refA, true)

	now := time.Now()
	ts := now.Add(-time.Minute)
	require.NoError(t, m.Record(10, big.NewInt(42), ts, now))

	price, gotTS, valid := m.PeerPrice(10, now)
	assert.Zero(t, price.Cmp(big.NewInt(42)))
	assert.True(t, gotTS.Equal(ts))
	assert.True(t, valid)
}

func TestRecord_RejectsZeroTimestamp(t *testing.T) {
	m := newTestManager(&fakeTransport{})
	m.SetPeer(10, refA, true)

	now := time.Now()
	require.ErrorIs(t, m.Record(10, big.NewInt(42), time.Time{}, now), ErrZeroTimestamp)
	require.ErrorIs(t, m.Record(10, big.NewInt(42), time.Unix(0, 0), now), ErrZeroTimestamp)

	_, _, valid := m.PeerPrice(10, now)
	assert.False(t, valid)
}

func TestRecord_RejectsTimestampRegression(t *testing.T) {
	m := newTestManager(&fakeTransport{})
	m.SetPeer(10, refA, true)

	now := time.Now()
	ts := now.Add(-time.Minute)
	require.NoError(t, m.Record(10, big.NewInt(42), ts, now))

	// Same and earlier timestamps are late reordered responses.
	require.ErrorIs(t, m.Record(10, big.NewInt(43), ts, now), ErrStaleResponse)
	require.ErrorIs(t, m.Record(10, big.NewInt(43), ts.Add(-time.Second), now), ErrStaleResponse)

	price, _, _ := m.PeerPrice(10, now)
	assert.Zero(t, price.Cmp(big.NewInt(42)))

	// A strictly newer timestamp is accepted.
	require.NoError(t, m.Record(10, big.NewInt(43), ts.Add(time.Second), now))
}

func TestRecord_UnknownPeer(t *testing.T) {
	m := newTestManager(&fakeTransport{})
	require.ErrorIs(t, m.Record(99, big.NewInt(1), time.Now(), time.Now()), ErrPeerUnknown)
}

func TestPeerPrice_FreshnessWindow(t *testing.T) {
	m := newTestManager(&fakeTransport{})
	m.SetPeer(10, refA, true)

	now := time.Now()
	require.NoError(t, m.Record(10, big.NewInt(42), now.Add(-time.Minute), now))

	_, _, valid := m.PeerPrice(10, now)
	assert.True(t, valid)

	// Beyond the freshness window the cached value is no longer valid.
	_, _, valid = m.PeerPrice(10, now.Add(2*time.Hour))
	assert.False(t, valid)

	// An inactive peer is never valid, even with fresh data.
	m.SetPeer(10, refA, false)
	_, _, valid = m.PeerPrice(10, now)
	assert.False(t, valid)
}

func TestAnyPeerValid(t *testing.T) {
	m := newTestManager(&fakeTransport{})
	m.SetPeer(10, refA, true)
	m.SetPeer(20, refB, true)

	now := time.Now()
	assert.False(t, m.AnyPeerValid(now))

	require.NoError(t, m.Record(20, big.NewInt(42), now.Add(-time.Minute), now))
	assert.True(t, m.AnyPeerValid(now))
	assert.False(t, m.AnyPeerValid(now.Add(2*time.Hour)))
}

func TestMedianFreshPrice(t *testing.T) {
	m := newTestManager(&fakeTransport{})
	now := time.Now()
	ts := now.Add(-time.Minute)

	median, n := m.MedianFreshPrice(now)
	assert.Nil(t, median)
	assert.Zero(t, n)

	m.SetPeer(10, refA, true)
	require.NoError(t, m.Record(10, big.NewInt(30), ts, now))
	median, n = m.MedianFreshPrice(now)
	assert.Equal(t, 1, n)
	assert.Zero(t, median.Cmp(big.NewInt(30)))

	// Even count: truncating average of the middle pair.
	m.SetPeer(20, refB, true)
	require.NoError(t, m.Record(20, big.NewInt(41), ts, now))
	median, n = m.MedianFreshPrice(now)
	assert.Equal(t, 2, n)
	assert.Zero(t, median.Cmp(big.NewInt(35)))

	// Odd count: middle element.
	m.SetPeer(30, refB, true)
	require.NoError(t, m.Record(30, big.NewInt(100), ts, now))
	median, n = m.MedianFreshPrice(now)
	assert.Equal(t, 3, n)
	assert.Zero(t, median.Cmp(big.NewInt(41)))
}

func TestMedianFreshPriceExcluding(t *testing.T) {
	m := newTestManager(&fakeTransport{})
	now := time.Now()
	ts := now.Add(-time.Minute)

	m.SetPeer(10, refA, true)
	m.SetPeer(20, refB, true)
	m.SetPeer(30, refB, true)
	require.NoError(t, m.Record(10, big.NewInt(30), ts, now))
	require.NoError(t, m.Record(20, big.NewInt(41), ts, now))
	require.NoError(t, m.Record(30, big.NewInt(100), ts, now))

	// Leaving out 30 reduces the set to the middle pair.
	median, n := m.MedianFreshPriceExcluding(now, 30)
	assert.Equal(t, 2, n)
	assert.Zero(t, median.Cmp(big.NewInt(35)))

	// Excluding an unknown id changes nothing.
	median, n = m.MedianFreshPriceExcluding(now, 99)
	assert.Equal(t, 3, n)
	assert.Zero(t, median.Cmp(big.NewInt(41)))

	// Excluding the only fresh peer empties the set.
	m.SetPeer(20, refB, false)
	m.SetPeer(30, refB, false)
	median, n = m.MedianFreshPriceExcluding(now, 10)
	assert.Nil(t, median)
	assert.Zero(t, n)
}

func TestRequestRemotePrice_FailFast(t *testing.T) {
	now := time.Now()

	// Read channel unset.
	m := NewManager(&fakeTransport{}, 0, time.Hour, 15*time.Minute, logging.NewNoopLogger())
	_, _, err := m.RequestRemotePrice(context.Background(), 10, now)
	require.ErrorIs(t, err, ErrReadChannelUnset)

	// No transport.
	m = NewManager(nil, 30332, time.Hour, 15*time.Minute, logging.NewNoopLogger())
	_, _, err = m.RequestRemotePrice(context.Background(), 10, now)
	require.ErrorIs(t, err, ErrNoTransport)

	m = newTestManager(&fakeTransport{})

	// Unknown peer.
	_, _, err = m.RequestRemotePrice(context.Background(), 10, now)
	require.ErrorIs(t, err, ErrPeerUnknown)

	// Inactive peer.
	m.SetPeer(10, refA, true)
	m.SetPeer(10, refA, false)
	_, _, err = m.RequestRemotePrice(context.Background(), 10, now)
	require.ErrorIs(t, err, ErrPeerInactive)

	// Active peer with an unset reference.
	m.SetPeer(20, common.Address{}, true)
	_, _, err = m.RequestRemotePrice(context.Background(), 20, now)
	require.ErrorIs(t, err, ErrPeerRefUnset)

	assert.Zero(t, m.PendingCount())
}

func TestRequestRemotePrice_IssuesRead(t *testing.T) {
	transport := &fakeTransport{}
	m := newTestManager(transport)
	m.SetPeer(10, refA, true)

	now := time.Now()
	handle, fee, err := m.RequestRemotePrice(context.Background(), 10, now)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), handle.ChainID)
	assert.Zero(t, fee.Native.Cmp(big.NewInt(100)))
	assert.Equal(t, 1, m.PendingCount())

	require.Len(t, transport.reads, 1)
	req := transport.reads[0]
	assert.Equal(t, handle.CorrelationID, req.CorrelationID)
	assert.Equal(t, uint64(10), req.TargetChainID)
	assert.Equal(t, refA, req.TargetRef)
	assert.Equal(t, ReadSelector, req.CallSelector)
	assert.Equal(t, uint8(3), req.Confirmations)

	// The response settles the pending request.
	require.NoError(t, m.Record(10, big.NewInt(42), now, now))
	assert.Zero(t, m.PendingCount())
}

func TestRequestRemotePrice_SendFailureClearsPending(t *testing.T) {
	transport := &fakeTransport{sendErr: errors.New("channel closed")}
	m := newTestManager(transport)
	m.SetPeer(10, refA, true)

	_, _, err := m.RequestRemotePrice(context.Background(), 10, time.Now())
	require.Error(t, err)
	assert.Zero(t, m.PendingCount())
}

func TestPendingExpirySweep(t *testing.T) {
	transport := &fakeTransport{}
	m := newTestManager(transport)
	m.SetPeer(10, refA, true)

	t0 := time.Now()
	_, _, err := m.RequestRemotePrice(context.Background(), 10, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, m.PendingCount())

	// A later request past the expiry horizon sweeps the stale one.
	_, _, err = m.RequestRemotePrice(context.Background(), 10, t0.Add(16*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, m.PendingCount())
}

func TestPublish_SendsToActivePeers(t *testing.T) {
	transport := &fakeTransport{}
	m := newTestManager(transport)
	m.SetPeer(10, refA, true)
	m.SetPeer(20, refB, true)
	m.SetPeer(30, refB, false)            // inactive, skipped
	m.SetPeer(40, common.Address{}, true) // no reference, skipped

	m.Publish(context.Background(), big.NewInt(42), time.Now())
	assert.ElementsMatch(t, []uint64{10, 20}, transport.published)
}
