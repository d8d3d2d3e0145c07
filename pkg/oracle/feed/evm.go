package feed

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"tc.com/omni-oracle/pkg/logging"
)

// ContractCaller is the subset of the EVM RPC client used by feed collaborators.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Collaborator ABIs, one per feed kind (view functions only).
const pullQuoteABIJSON = `[
	{"constant": true, "inputs": [], "name": "latestValue",
	 "outputs": [{"name": "value", "type": "int256"}, {"name": "updatedAt", "type": "uint256"}],
	 "stateMutability": "view", "type": "function"},
	{"constant": true, "inputs": [], "name": "decimalCount",
	 "outputs": [{"name": "", "type": "uint8"}],
	 "stateMutability": "view", "type": "function"}
]`

const pushAggregateABIJSON = `[
	{"constant": true, "inputs": [{"name": "symbol", "type": "string"}], "name": "priceFor",
	 "outputs": [{"name": "price", "type": "uint64"}, {"name": "timestamp", "type": "uint256"}],
	 "stateMutability": "view", "type": "function"},
	{"constant": true, "inputs": [{"name": "base", "type": "string"}, {"name": "quote", "type": "string"}],
	 "name": "referenceRate",
	 "outputs": [{"name": "rate", "type": "uint256"}, {"name": "updatedBase", "type": "uint256"}, {"name": "updatedQuote", "type": "uint256"}],
	 "stateMutability": "view", "type": "function"}
]`

const proxyReadABIJSON = `[
	{"constant": true, "inputs": [], "name": "read",
	 "outputs": [{"name": "value", "type": "int256"}, {"name": "timestamp", "type": "uint256"}],
	 "stateMutability": "view", "type": "function"}
]`

const confidenceABIJSON = `[
	{"constant": true, "inputs": [{"name": "id", "type": "bytes32"}], "name": "priceUnsafe",
	 "outputs": [{"name": "price", "type": "int64"}, {"name": "conf", "type": "uint64"}, {"name": "expo", "type": "int32"}, {"name": "publishTime", "type": "uint256"}],
	 "stateMutability": "view", "type": "function"}
]`

func init() {
	Register(KindPullQuote, func(src Source, address common.Address, caller ContractCaller, logger *logging.Logger) (Adapter, error) {
		collab, err := newEVMPullQuote(address, caller)
		if err != nil {
			return nil, err
		}
		return NewPullQuoteAdapter(src, collab, logger)
	})
	Register(KindPushAggregate, func(src Source, address common.Address, caller ContractCaller, logger *logging.Logger) (Adapter, error) {
		collab, err := newEVMPushAggregate(address, caller)
		if err != nil {
			return nil, err
		}
		return NewPushAggregateAdapter(src, collab, logger)
	})
	Register(KindProxyRead, func(src Source, address common.Address, caller ContractCaller, logger *logging.Logger) (Adapter, error) {
		collab, err := newEVMProxyRead(address, caller)
		if err != nil {
			return nil, err
		}
		return NewProxyReadAdapter(src, collab, logger)
	})
	Register(KindConfidenceInterval, func(src Source, address common.Address, caller ContractCaller, logger *logging.Logger) (Adapter, error) {
		collab, err := newEVMConfidence(address, caller)
		if err != nil {
			return nil, err
		}
		return NewConfidenceAdapter(src, collab, logger)
	})
}

// evmContract provides packed view calls against one contract address.
type evmContract struct {
	address common.Address
	caller  ContractCaller
	abi     abi.ABI
}

func newEVMContract(address common.Address, caller ContractCaller, abiJSON string) (*evmContract, error) {
	if caller == nil {
		return nil, ErrNilFeed
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse collaborator ABI: %w", err)
	}
	return &evmContract{address: address, caller: caller, abi: parsed}, nil
}

// call packs a view call, executes it at the latest block and unpacks the outputs.
func (c *evmContract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	result, err := c.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &c.address,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}

	out, err := c.abi.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	return out, nil
}

func unixTime(v interface{}) time.Time {
	ts, ok := v.(*big.Int)
	if !ok || ts.Sign() == 0 {
		return time.Time{}
	}
	return time.Unix(ts.Int64(), 0)
}

// evmPullQuote implements PullQuoteFeed against an on-chain collaborator.
type evmPullQuote struct {
	*evmContract
}

func newEVMPullQuote(address common.Address, caller ContractCaller) (*evmPullQuote, error) {
	contract, err := newEVMContract(address, caller, pullQuoteABIJSON)
	if err != nil {
		return nil, err
	}
	return &evmPullQuote{contract}, nil
}

func (f *evmPullQuote) LatestValue(ctx context.Context) (*big.Int, time.Time, error) {
	out, err := f.call(ctx, "latestValue")
	if err != nil {
		return nil, time.Time{}, err
	}
	answer, ok := out[0].(*big.Int)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("%w: unexpected latestValue output", ErrSourceUnavailable)
	}
	return answer, unixTime(out[1]), nil
}

func (f *evmPullQuote) DecimalCount(ctx context.Context) (uint8, error) {
	out, err := f.call(ctx, "decimalCount")
	if err != nil {
		return 0, err
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("%w: unexpected decimalCount output", ErrSourceUnavailable)
	}
	return decimals, nil
}

// evmPushAggregate implements PushAggregateFeed against an on-chain collaborator.
type evmPushAggregate struct {
	*evmContract
}

func newEVMPushAggregate(address common.Address, caller ContractCaller) (*evmPushAggregate, error) {
	contract, err := newEVMContract(address, caller, pushAggregateABIJSON)
	if err != nil {
		return nil, err
	}
	return &evmPushAggregate{contract}, nil
}

func (f *evmPushAggregate) PriceFor(ctx context.Context, symbol string) (uint64, time.Time, error) {
	out, err := f.call(ctx, "priceFor", symbol)
	if err != nil {
		return 0, time.Time{}, err
	}
	price, ok := out[0].(uint64)
	if !ok {
		return 0, time.Time{}, fmt.Errorf("%w: unexpected priceFor output", ErrSourceUnavailable)
	}
	return price, unixTime(out[1]), nil
}

func (f *evmPushAggregate) ReferenceRate(ctx context.Context, base, quote string) (*big.Int, time.Time, time.Time, error) {
	out, err := f.call(ctx, "referenceRate", base, quote)
	if err != nil {
		return nil, time.Time{}, time.Time{}, err
	}
	rate, ok := out[0].(*big.Int)
	if !ok {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("%w: unexpected referenceRate output", ErrSourceUnavailable)
	}
	return rate, unixTime(out[1]), unixTime(out[2]), nil
}

// evmProxyRead implements ProxyReadFeed against an on-chain collaborator.
type evmProxyRead struct {
	*evmContract
}

func newEVMProxyRead(address common.Address, caller ContractCaller) (*evmProxyRead, error) {
	contract, err := newEVMContract(address, caller, proxyReadABIJSON)
	if err != nil {
		return nil, err
	}
	return &evmProxyRead{contract}, nil
}

func (f *evmProxyRead) Read(ctx context.Context) (*big.Int, time.Time, error) {
	out, err := f.call(ctx, "read")
	if err != nil {
		return nil, time.Time{}, err
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("%w: unexpected read output", ErrSourceUnavailable)
	}
	return value, unixTime(out[1]), nil
}

// evmConfidence implements ConfidenceFeed against an on-chain collaborator.
type evmConfidence struct {
	*evmContract
}

func newEVMConfidence(address common.Address, caller ContractCaller) (*evmConfidence, error) {
	contract, err := newEVMContract(address, caller, confidenceABIJSON)
	if err != nil {
		return nil, err
	}
	return &evmConfidence{contract}, nil
}

func (f *evmConfidence) PriceUnsafe(ctx context.Context, id string) (int64, uint64, int32, time.Time, error) {
	out, err := f.call(ctx, "priceUnsafe", common.HexToHash(id))
	if err != nil {
		return 0, 0, 0, time.Time{}, err
	}

	price, ok0 := out[0].(int64)
	conf, ok1 := out[1].(uint64)
	expo, ok2 := out[2].(int32)
	if !ok0 || !ok1 || !ok2 {
		return 0, 0, 0, time.Time{}, fmt.Errorf("%w: unexpected priceUnsafe output", ErrSourceUnavailable)
	}
	return price, conf, expo, unixTime(out[3]), nil
}
