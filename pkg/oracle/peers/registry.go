package peers

import (
	"github.com/ethereum/go-ethereum/common"
)

// RemoteOracle describes one peer's oracle deployment as known to a registry.
type RemoteOracle struct {
	PrimaryRef  common.Address
	ReadChannel uint32
	Configured  bool
}

// Registry resolves peer endpoints and remote oracle configuration. It is a
// read-only config source; the manager itself never writes through it.
type Registry interface {
	EndpointFor(chainID uint64) (common.Address, bool)
	OracleConfigFor(chainID uint64) RemoteOracle
}

// StaticRegistry is a Registry backed by a fixed entry set, typically built
// from the node configuration at startup.
type StaticRegistry struct {
	entries map[uint64]RemoteOracle
}

var _ Registry = (*StaticRegistry)(nil)

// NewStaticRegistry creates an empty static registry.
func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{entries: make(map[uint64]RemoteOracle)}
}

// Add records the oracle deployment for a chain, replacing any earlier entry.
func (r *StaticRegistry) Add(chainID uint64, ref common.Address, readChannel uint32) {
	r.entries[chainID] = RemoteOracle{
		PrimaryRef:  ref,
		ReadChannel: readChannel,
		Configured:  true,
	}
}

// EndpointFor returns the primary oracle reference for a chain.
func (r *StaticRegistry) EndpointFor(chainID uint64) (common.Address, bool) {
	entry, ok := r.entries[chainID]
	if !ok || !entry.Configured {
		return common.Address{}, false
	}
	return entry.PrimaryRef, true
}

// OracleConfigFor returns the full registry entry for a chain. Configured is
// false when the chain is unknown.
func (r *StaticRegistry) OracleConfigFor(chainID uint64) RemoteOracle {
	return r.entries[chainID]
}
