package peers

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// The wire payload is the ABI-stable tuple (int256 price, uint256 timestamp).
var payloadArguments abi.Arguments

// ReadSelector is the 4-byte selector of the remote read entry point.
var ReadSelector [4]byte

func init() {
	int256Type, err := abi.NewType("int256", "", nil)
	if err != nil {
		panic(err)
	}
	uint256Type, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	payloadArguments = abi.Arguments{
		{Name: "price", Type: int256Type},
		{Name: "timestamp", Type: uint256Type},
	}

	copy(ReadSelector[:], crypto.Keccak256([]byte("latestPrice()"))[:4])
}

// EncodePayload encodes a price payload for the wire.
func EncodePayload(price *big.Int, ts time.Time) ([]byte, error) {
	if price == nil {
		price = new(big.Int)
	}
	unix := big.NewInt(0)
	if !ts.IsZero() {
		unix = big.NewInt(ts.Unix())
	}
	return payloadArguments.Pack(price, unix)
}

// DecodePayload decodes a wire payload into its price and timestamp.
func DecodePayload(data []byte) (*big.Int, time.Time, error) {
	out, err := payloadArguments.Unpack(data)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	price, ok0 := out[0].(*big.Int)
	unix, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, time.Time{}, fmt.Errorf("%w: unexpected tuple shape", ErrBadPayload)
	}

	if unix.Sign() == 0 {
		return price, time.Time{}, nil
	}
	return price, time.Unix(unix.Int64(), 0), nil
}
