package peers

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Endpoint is one remote network partition's oracle instance, tracked for
// cross-chain price exchange.
type Endpoint struct {
	ChainID uint64
	Ref     common.Address
	Active  bool

	// Cached last received price.
	LastPrice     *big.Int
	LastTimestamp time.Time
}

// Request is one outbound remote-read command.
type Request struct {
	CorrelationID uuid.UUID
	TargetChainID uint64
	TargetRef     common.Address
	CallSelector  [4]byte
	TimestampHint time.Time
	Confirmations uint8
}

// Fee is the transport cost quote for one message, in native wei.
type Fee struct {
	Native *big.Int
}

// Pending is the handle for an outstanding remote read.
type Pending struct {
	CorrelationID uuid.UUID
	ChainID       uint64
	IssuedAt      time.Time
}

// Transport carries read requests and price publications between partitions.
// Sends return as soon as the message is issued; responses arrive
// asynchronously, possibly out of order, possibly never.
type Transport interface {
	SendRead(ctx context.Context, req Request) (Fee, error)
	PublishPrice(ctx context.Context, chainID uint64, ref common.Address, price *big.Int, ts time.Time) (Fee, error)
}
