package peers

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tc.com/omni-oracle/pkg/logging"
)

// Node is the local side of a partition attached to a loopback bus: it
// serves its latest price to remote readers and ingests remote responses.
type Node interface {
	LatestPrice() (*big.Int, time.Time)
	OnRemoteResponse(fromChainID uint64, price *big.Int, ts time.Time) error
}

// Loopback is an in-process transport connecting oracle instances that live
// in the same process, used in tests and single-binary multi-partition
// deployments. Deliveries run on their own goroutine so the round trip stays
// asynchronous, mirroring a real cross-chain channel.
type Loopback struct {
	mu     sync.RWMutex
	nodes  map[uint64]Node
	logger *logging.Logger
}

// NewLoopback creates an empty loopback bus.
func NewLoopback(logger *logging.Logger) *Loopback {
	return &Loopback{nodes: make(map[uint64]Node), logger: logger}
}

// Attach registers a node for a chain id and returns the transport bound to
// that partition.
func (l *Loopback) Attach(chainID uint64, node Node) Transport {
	l.mu.Lock()
	l.nodes[chainID] = node
	l.mu.Unlock()
	return &boundTransport{bus: l, localChainID: chainID}
}

// node resolves an attached partition. A chain attached with a nil node
// (reserved before its instance exists) is treated as not attached.
func (l *Loopback) node(chainID uint64) (Node, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	node, ok := l.nodes[chainID]
	if node == nil {
		return nil, false
	}
	return node, ok
}

type boundTransport struct {
	bus          *Loopback
	localChainID uint64
}

var _ Transport = (*boundTransport)(nil)

// SendRead reads the target node's latest price and delivers it back to the
// sender asynchronously through the wire codec.
func (t *boundTransport) SendRead(_ context.Context, req Request) (Fee, error) {
	target, ok := t.bus.node(req.TargetChainID)
	if !ok {
		return Fee{}, fmt.Errorf("%w: chain %d not attached", ErrPeerUnknown, req.TargetChainID)
	}
	sender, ok := t.bus.node(t.localChainID)
	if !ok {
		return Fee{}, fmt.Errorf("%w: local chain %d not attached", ErrPeerUnknown, t.localChainID)
	}

	go func() {
		price, ts := target.LatestPrice()
		payload, err := EncodePayload(price, ts)
		if err != nil {
			t.bus.logger.Error("Failed to encode read response", "error", err)
			return
		}
		decoded, decodedTS, err := DecodePayload(payload)
		if err != nil {
			t.bus.logger.Error("Failed to decode read response", "error", err)
			return
		}
		if err := sender.OnRemoteResponse(req.TargetChainID, decoded, decodedTS); err != nil {
			t.bus.logger.Debug("Read response rejected",
				"chain_id", req.TargetChainID, "error", err)
		}
	}()

	return Fee{Native: big.NewInt(0)}, nil
}

// PublishPrice delivers a price to the target node asynchronously.
func (t *boundTransport) PublishPrice(_ context.Context, chainID uint64, _ common.Address, price *big.Int, ts time.Time) (Fee, error) {
	target, ok := t.bus.node(chainID)
	if !ok {
		return Fee{}, fmt.Errorf("%w: chain %d not attached", ErrPeerUnknown, chainID)
	}

	payload, err := EncodePayload(price, ts)
	if err != nil {
		return Fee{}, err
	}

	from := t.localChainID
	go func() {
		decoded, decodedTS, err := DecodePayload(payload)
		if err != nil {
			t.bus.logger.Error("Failed to decode published price", "error", err)
			return
		}
		if err := target.OnRemoteResponse(from, decoded, decodedTS); err != nil {
			t.bus.logger.Debug("Published price rejected",
				"chain_id", from, "error", err)
		}
	}()

	return Fee{Native: big.NewInt(0)}, nil
}
