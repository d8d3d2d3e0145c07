package twap

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Reserves is one snapshot of a pool's reserve state.
type Reserves struct {
	Reserve0           *big.Int
	Reserve1           *big.Int
	BlockTimestampLast uint32
}

// Pool is the read-only liquidity pool collaborator. The pool is owned by an
// external AMM contract; the estimator never writes to it.
type Pool interface {
	Reserves(ctx context.Context) (*Reserves, error)
	Token0(ctx context.Context) (common.Address, error)
	Token1(ctx context.Context) (common.Address, error)
	CumulativePrice0(ctx context.Context) (*big.Int, error)
	CumulativePrice1(ctx context.Context) (*big.Int, error)
}

// ContractCaller is the subset of the EVM RPC client used by pool reads.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Pair-style pool ABI (view functions only).
const poolABIJSON = `[
	{"constant": true, "inputs": [], "name": "reserves",
	 "outputs": [{"name": "reserve0", "type": "uint112"}, {"name": "reserve1", "type": "uint112"}, {"name": "blockTimestampLast", "type": "uint32"}],
	 "stateMutability": "view", "type": "function"},
	{"constant": true, "inputs": [], "name": "token0",
	 "outputs": [{"name": "", "type": "address"}],
	 "stateMutability": "view", "type": "function"},
	{"constant": true, "inputs": [], "name": "token1",
	 "outputs": [{"name": "", "type": "address"}],
	 "stateMutability": "view", "type": "function"},
	{"constant": true, "inputs": [], "name": "cumulativePrice0",
	 "outputs": [{"name": "", "type": "uint256"}],
	 "stateMutability": "view", "type": "function"},
	{"constant": true, "inputs": [], "name": "cumulativePrice1",
	 "outputs": [{"name": "", "type": "uint256"}],
	 "stateMutability": "view", "type": "function"}
]`

// EVMPool reads a pair contract over an EVM RPC client.
type EVMPool struct {
	address common.Address
	caller  ContractCaller
	poolABI abi.ABI
}

var _ Pool = (*EVMPool)(nil)

// NewEVMPool creates a pool reader for the given pair contract.
func NewEVMPool(address common.Address, caller ContractCaller) (*EVMPool, error) {
	if caller == nil {
		return nil, ErrNilPool
	}

	parsed, err := abi.JSON(strings.NewReader(poolABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool ABI: %w", err)
	}

	return &EVMPool{address: address, caller: caller, poolABI: parsed}, nil
}

func (p *EVMPool) call(ctx context.Context, method string) ([]interface{}, error) {
	data, err := p.poolABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	result, err := p.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &p.address,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}

	out, err := p.poolABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	return out, nil
}

// Reserves returns the current reserve snapshot.
func (p *EVMPool) Reserves(ctx context.Context) (*Reserves, error) {
	out, err := p.call(ctx, "reserves")
	if err != nil {
		return nil, err
	}

	reserve0, ok0 := out[0].(*big.Int)
	reserve1, ok1 := out[1].(*big.Int)
	lastTS, ok2 := out[2].(uint32)
	if !ok0 || !ok1 || !ok2 {
		return nil, fmt.Errorf("unexpected reserves output from %s", p.address.Hex())
	}

	return &Reserves{Reserve0: reserve0, Reserve1: reserve1, BlockTimestampLast: lastTS}, nil
}

// Token0 returns the pool's first token address.
func (p *EVMPool) Token0(ctx context.Context) (common.Address, error) {
	return p.callAddress(ctx, "token0")
}

// Token1 returns the pool's second token address.
func (p *EVMPool) Token1(ctx context.Context) (common.Address, error) {
	return p.callAddress(ctx, "token1")
}

func (p *EVMPool) callAddress(ctx context.Context, method string) (common.Address, error) {
	out, err := p.call(ctx, method)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected %s output from %s", method, p.address.Hex())
	}
	return addr, nil
}

// CumulativePrice0 returns the token1-per-token0 cumulative price accumulator.
func (p *EVMPool) CumulativePrice0(ctx context.Context) (*big.Int, error) {
	return p.callUint(ctx, "cumulativePrice0")
}

// CumulativePrice1 returns the token0-per-token1 cumulative price accumulator.
func (p *EVMPool) CumulativePrice1(ctx context.Context) (*big.Int, error) {
	return p.callUint(ctx, "cumulativePrice1")
}

func (p *EVMPool) callUint(ctx context.Context, method string) (*big.Int, error) {
	out, err := p.call(ctx, method)
	if err != nil {
		return nil, err
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s output from %s", method, p.address.Hex())
	}
	return value, nil
}
