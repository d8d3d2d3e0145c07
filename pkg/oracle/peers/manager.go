package peers

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"tc.com/omni-oracle/pkg/fixedpoint"
	"tc.com/omni-oracle/pkg/logging"
	"tc.com/omni-oracle/pkg/metrics"
)

// defaultConfirmations is the confirmation depth requested for remote reads.
const defaultConfirmations = 3

// Manager owns the peer endpoint set and its cached prices.
type Manager struct {
	mu sync.Mutex

	peers     map[uint64]*Endpoint
	activeIDs []uint64 // order-irrelevant, removal swaps with the last element

	transport   Transport
	readChannel uint32
	freshness   time.Duration
	expiry      time.Duration

	pending map[uuid.UUID]Pending

	logger *logging.Logger
}

// NewManager creates a peer synchronization manager. readChannel zero means
// remote reads are disabled; freshness bounds peer price validity; expiry
// bounds unanswered-request growth.
func NewManager(transport Transport, readChannel uint32, freshness, expiry time.Duration, logger *logging.Logger) *Manager {
	return &Manager{
		peers:       make(map[uint64]*Endpoint),
		transport:   transport,
		readChannel: readChannel,
		freshness:   freshness,
		expiry:      expiry,
		pending:     make(map[uuid.UUID]Pending),
		logger:      logger,
	}
}

// SetPeer registers or updates a peer endpoint. Activation appends the chain
// id to the active list; deactivation removes it by swapping with the last
// element and truncating. Re-registering an already active peer only updates
// its reference.
func (m *Manager) SetPeer(chainID uint64, ref common.Address, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ep, ok := m.peers[chainID]
	if !ok {
		ep = &Endpoint{ChainID: chainID}
		m.peers[chainID] = ep
	}
	wasActive := ep.Active
	ep.Ref = ref
	ep.Active = active

	switch {
	case active && !wasActive:
		m.activeIDs = append(m.activeIDs, chainID)
	case !active && wasActive:
		m.removeActiveID(chainID)
	}
}

// removeActiveID removes chainID from the active list via
// swap-with-last-and-truncate. No-op if absent. Caller holds the lock.
func (m *Manager) removeActiveID(chainID uint64) {
	for i, id := range m.activeIDs {
		if id == chainID {
			last := len(m.activeIDs) - 1
			m.activeIDs[i] = m.activeIDs[last]
			m.activeIDs = m.activeIDs[:last]
			return
		}
	}
}

// ActiveIDs returns a copy of the active peer chain ids.
func (m *Manager) ActiveIDs() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]uint64, len(m.activeIDs))
	copy(ids, m.activeIDs)
	return ids
}

// Peer returns a copy of the endpoint for chainID.
func (m *Manager) Peer(chainID uint64) (Endpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ep, ok := m.peers[chainID]
	if !ok {
		return Endpoint{}, false
	}
	out := *ep
	out.LastPrice = fixedpoint.Clone(ep.LastPrice)
	return out, true
}

// RequestRemotePrice issues a remote read against a peer. It fails fast when
// the read channel is unset, the peer is unknown or inactive, or its
// reference is unset; otherwise it returns a pending handle and a fee quote.
func (m *Manager) RequestRemotePrice(ctx context.Context, chainID uint64, now time.Time) (Pending, Fee, error) {
	m.mu.Lock()
	if m.readChannel == 0 {
		m.mu.Unlock()
		return Pending{}, Fee{}, ErrReadChannelUnset
	}
	if m.transport == nil {
		m.mu.Unlock()
		return Pending{}, Fee{}, ErrNoTransport
	}
	ep, ok := m.peers[chainID]
	if !ok {
		m.mu.Unlock()
		return Pending{}, Fee{}, fmt.Errorf("%w: chain %d", ErrPeerUnknown, chainID)
	}
	if !ep.Active {
		m.mu.Unlock()
		return Pending{}, Fee{}, fmt.Errorf("%w: chain %d", ErrPeerInactive, chainID)
	}
	if ep.Ref == (common.Address{}) {
		m.mu.Unlock()
		return Pending{}, Fee{}, fmt.Errorf("%w: chain %d", ErrPeerRefUnset, chainID)
	}

	m.sweepExpired(now)

	req := Request{
		CorrelationID: uuid.New(),
		TargetChainID: chainID,
		TargetRef:     ep.Ref,
		CallSelector:  ReadSelector,
		TimestampHint: now,
		Confirmations: defaultConfirmations,
	}
	handle := Pending{CorrelationID: req.CorrelationID, ChainID: chainID, IssuedAt: now}
	m.pending[req.CorrelationID] = handle
	m.mu.Unlock()

	fee, err := m.transport.SendRead(ctx, req)
	if err != nil {
		m.mu.Lock()
		delete(m.pending, req.CorrelationID)
		m.mu.Unlock()
		return Pending{}, Fee{}, fmt.Errorf("send read: %w", err)
	}

	metrics.RecordPeerRequest(strconv.FormatUint(chainID, 10))
	m.logger.Debug("Issued remote price read",
		"chain_id", chainID, "correlation_id", req.CorrelationID.String())
	return handle, fee, nil
}

// sweepExpired drops pending requests past the expiry horizon. Caller holds
// the lock. Staleness of answered data is still enforced only at query time;
// this just bounds unanswered-request growth.
func (m *Manager) sweepExpired(now time.Time) {
	for id, p := range m.pending {
		if now.Sub(p.IssuedAt) > m.expiry {
			delete(m.pending, id)
		}
	}
}

// Record caches a remote price response for a peer. A zero timestamp is
// rejected outright; a timestamp at or before the cached one is rejected as
// a late reordered response.
func (m *Manager) Record(chainID uint64, price *big.Int, ts time.Time, now time.Time) error {
	chain := strconv.FormatUint(chainID, 10)

	m.mu.Lock()
	defer m.mu.Unlock()

	ep, ok := m.peers[chainID]
	if !ok {
		metrics.RecordPeerResponse(chain, "unknown_peer")
		return fmt.Errorf("%w: chain %d", ErrPeerUnknown, chainID)
	}
	if ts.IsZero() || ts.Unix() == 0 {
		metrics.RecordPeerResponse(chain, "zero_timestamp")
		return ErrZeroTimestamp
	}
	if !ep.LastTimestamp.IsZero() && !ts.After(ep.LastTimestamp) {
		metrics.RecordPeerResponse(chain, "stale")
		return fmt.Errorf("%w: chain %d", ErrStaleResponse, chainID)
	}

	ep.LastPrice = fixedpoint.Clone(price)
	ep.LastTimestamp = ts

	// Settle the oldest pending read for this chain, if any.
	m.settlePending(chainID)
	m.sweepExpired(now)

	metrics.RecordPeerResponse(chain, "accepted")
	return nil
}

func (m *Manager) settlePending(chainID uint64) {
	var oldest uuid.UUID
	var oldestAt time.Time
	found := false
	for id, p := range m.pending {
		if p.ChainID != chainID {
			continue
		}
		if !found || p.IssuedAt.Before(oldestAt) {
			oldest, oldestAt, found = id, p.IssuedAt, true
		}
	}
	if found {
		delete(m.pending, oldest)
	}
}

// PeerPrice returns the cached price for a peer. valid requires an active
// peer, a non-zero timestamp, and an age within the freshness window.
func (m *Manager) PeerPrice(chainID uint64, now time.Time) (*big.Int, time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ep, ok := m.peers[chainID]
	if !ok {
		return nil, time.Time{}, false
	}

	valid := ep.Active && !ep.LastTimestamp.IsZero() && now.Sub(ep.LastTimestamp) <= m.freshness
	return fixedpoint.Clone(ep.LastPrice), ep.LastTimestamp, valid
}

// AnyPeerValid reports whether at least one active peer holds an
// independently valid price. No quorum is required.
func (m *Manager) AnyPeerValid(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.activeIDs {
		ep := m.peers[id]
		if ep != nil && !ep.LastTimestamp.IsZero() && now.Sub(ep.LastTimestamp) <= m.freshness {
			return true
		}
	}
	return false
}

// FreshPrices returns the prices of all active peers within the freshness
// window, sorted ascending.
func (m *Manager) FreshPrices(now time.Time) []*big.Int {
	return m.freshPricesExcluding(now, nil)
}

func (m *Manager) freshPricesExcluding(now time.Time, exclude *uint64) []*big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()

	prices := make([]*big.Int, 0, len(m.activeIDs))
	for _, id := range m.activeIDs {
		if exclude != nil && id == *exclude {
			continue
		}
		ep := m.peers[id]
		if ep == nil || ep.LastPrice == nil || ep.LastTimestamp.IsZero() {
			continue
		}
		if now.Sub(ep.LastTimestamp) > m.freshness {
			continue
		}
		prices = append(prices, fixedpoint.Clone(ep.LastPrice))
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].Cmp(prices[j]) < 0 })
	return prices
}

// MedianFreshPrice returns the median of fresh active peer prices. Truncating
// average for even counts.
func (m *Manager) MedianFreshPrice(now time.Time) (*big.Int, int) {
	return medianOf(m.freshPricesExcluding(now, nil))
}

// MedianFreshPriceExcluding is MedianFreshPrice with one peer left out, so a
// peer's own report can be judged against the rest of the set.
func (m *Manager) MedianFreshPriceExcluding(now time.Time, exclude uint64) (*big.Int, int) {
	return medianOf(m.freshPricesExcluding(now, &exclude))
}

func medianOf(prices []*big.Int) (*big.Int, int) {
	n := len(prices)
	if n == 0 {
		return nil, 0
	}
	if n%2 == 1 {
		return prices[n/2], n
	}
	mid := new(big.Int).Add(prices[n/2-1], prices[n/2])
	return mid.Quo(mid, big.NewInt(2)), n
}

// Publish sends a price to every active peer. Per-peer failures are logged
// and do not block the remaining peers.
func (m *Manager) Publish(ctx context.Context, price *big.Int, ts time.Time) {
	if m.transport == nil {
		return
	}

	m.mu.Lock()
	targets := make([]*Endpoint, 0, len(m.activeIDs))
	for _, id := range m.activeIDs {
		if ep := m.peers[id]; ep != nil && ep.Ref != (common.Address{}) {
			targets = append(targets, &Endpoint{ChainID: ep.ChainID, Ref: ep.Ref})
		}
	}
	m.mu.Unlock()

	for _, ep := range targets {
		if _, err := m.transport.PublishPrice(ctx, ep.ChainID, ep.Ref, price, ts); err != nil {
			m.logger.Warn("Failed to publish price to peer", "chain_id", ep.ChainID, "error", err)
		}
	}
}

// PendingCount returns the number of outstanding remote reads.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
