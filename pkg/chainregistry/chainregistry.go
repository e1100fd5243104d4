// Package chainregistry resolves a chain id to the RPC endpoint and
// contract addresses SessionBridge.initialize needs to construct the
// external inference SDK. It is a narrow, mutex-guarded lookup table, not a
// chain client: no RPC calls, no contract ABI, no settlement logic. Those
// belong to the external blockchain/payment SDK.
package chainregistry

import (
	"fmt"
	"sync"
)

// Chain is one chain's resolved connection parameters.
type Chain struct {
	ChainId           int
	RPCURL            string
	ContractAddresses map[string]string
}

// Registry is a mutex-guarded chain id -> Chain lookup table.
type Registry struct {
	mu     sync.RWMutex
	chains map[int]Chain
}

// New builds a Registry pre-populated with the chains known at compile
// time.
func New() *Registry {
	r := &Registry{chains: make(map[int]Chain)}
	for _, c := range defaultChains {
		r.chains[c.ChainId] = c
	}
	return r
}

// Register adds or replaces the entry for c.ChainId.
func (r *Registry) Register(c Chain) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[c.ChainId] = c
}

// Resolve looks up chainId, returning an error naming the unknown id rather
// than a zero value so initialize() can fail clearly instead of connecting
// to an empty RPC URL.
func (r *Registry) Resolve(chainId int) (Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chains[chainId]
	if !ok {
		return Chain{}, fmt.Errorf("chainregistry: unknown chain id %d", chainId)
	}
	return c, nil
}

// defaultChains seeds the registry with the networks this bridge is known
// to target. Base Sepolia (84532) is the default chain.
var defaultChains = []Chain{
	{
		ChainId: 84532,
		RPCURL:  "https://sepolia.base.org",
		ContractAddresses: map[string]string{
			"sessionManager": "0x0000000000000000000000000000000000000000",
			"paymentEscrow":  "0x0000000000000000000000000000000000000000",
		},
	},
	{
		ChainId: 8453,
		RPCURL:  "https://mainnet.base.org",
		ContractAddresses: map[string]string{
			"sessionManager": "0x0000000000000000000000000000000000000000",
			"paymentEscrow":  "0x0000000000000000000000000000000000000000",
		},
	},
}
