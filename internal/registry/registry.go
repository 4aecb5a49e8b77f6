// Package registry keeps the in-memory set of known pools for one DEX.
//
// The registry answers "which addresses should be scanned for Swap logs?".
// The Swap topic0 is shared by every fork of the pool contract, so scanning
// without an address filter would ingest foreign events.
package registry

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"swapscope/internal/model"
)

// Registry maps pool address to its metadata record.
type Registry struct {
	mu    sync.RWMutex
	pools map[common.Address]model.Pool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{pools: make(map[common.Address]model.Pool)}
}

// Load replaces the registry contents with pools from the store.
func (r *Registry) Load(pools []model.Pool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools = make(map[common.Address]model.Pool, len(pools))
	for _, pool := range pools {
		r.pools[common.HexToAddress(pool.Address)] = pool
	}
}

// Add registers a pool, overwriting any previous record.
func (r *Registry) Add(pool model.Pool) {
	r.mu.Lock()
	r.pools[common.HexToAddress(pool.Address)] = pool
	r.mu.Unlock()
}

// Get returns the pool record for an address.
func (r *Registry) Get(address common.Address) (model.Pool, bool) {
	r.mu.RLock()
	pool, ok := r.pools[address]
	r.mu.RUnlock()
	return pool, ok
}

// Has reports whether the address is a known pool.
func (r *Registry) Has(address common.Address) bool {
	r.mu.RLock()
	_, ok := r.pools[address]
	r.mu.RUnlock()
	return ok
}

// Addresses returns all known pool addresses in a stable order.
func (r *Registry) Addresses() []common.Address {
	r.mu.RLock()
	out := make([]common.Address, 0, len(r.pools))
	for address := range r.pools {
		out = append(out, address)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Hex() < out[j].Hex()
	})
	return out
}

// Len returns the number of known pools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pools)
}
