package feed

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"tc.com/omni-oracle/pkg/logging"
)

// Factory builds an adapter of one kind over an on-chain collaborator.
type Factory func(src Source, address common.Address, caller ContractCaller, logger *logging.Logger) (Adapter, error)

var (
	registry = make(map[Kind]Factory)
	mu       sync.RWMutex
)

// Register adds a feed factory to the dispatch table.
func Register(kind Kind, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[kind] = factory
}

// Create builds an adapter for the source's kind via the dispatch table.
func Create(src Source, addressHex string, caller ContractCaller, logger *logging.Logger) (Adapter, error) {
	mu.RLock()
	factory, ok := registry[src.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, src.Kind)
	}

	if !common.IsHexAddress(addressHex) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, addressHex)
	}

	return factory(src, common.HexToAddress(addressHex), caller, logger)
}

// Kinds returns all registered feed kinds.
func Kinds() []Kind {
	mu.RLock()
	defer mu.RUnlock()

	kinds := make([]Kind, 0, len(registry))
	for kind := range registry {
		kinds = append(kinds, kind)
	}
	return kinds
}
