/*
cache.go - Injected ancestor-chain cache

PURPOSE:
  Hot reward computation resolves the same ancestor chains over and over.
  Instead of ambient global caches, the engine takes an explicit ChainCache
  with one invalidation rule tied to edge writes.

INVALIDATION RULE:
  A bind for referee R changes the ancestor chain of R and of every user
  whose chain passes through R (R may already be the root of a subtree
  before being bound itself). On bind, drop the entry for R and every
  cached chain that contains R. Nothing else can change a chain, because
  edges are append-only.

SEE ALSO:
  - binder.go: Calls Invalidate after each edge write
  - traversal.go: Consults and fills the cache
*/
package referral

import "sync"

// ChainCache caches resolved ancestor chains keyed by user id.
// Implementations must be safe for concurrent use.
type ChainCache interface {
	// Get returns the cached full chain for userID, if present.
	Get(userID UserID) ([]Ancestor, bool)

	// Put stores the full resolved chain for userID.
	Put(userID UserID, chain []Ancestor)

	// Invalidate drops the entry for userID and every cached chain that
	// contains userID as an ancestor.
	Invalidate(userID UserID)
}

// =============================================================================
// MEMORY CHAIN CACHE
// =============================================================================

// MemoryChainCache is a bounded in-process ChainCache. When full, Put
// evicts an arbitrary entry; correctness never depends on residency.
type MemoryChainCache struct {
	mu      sync.RWMutex
	chains  map[UserID][]Ancestor
	maxSize int
}

func NewMemoryChainCache(maxSize int) *MemoryChainCache {
	if maxSize <= 0 {
		maxSize = 4096
	}
	return &MemoryChainCache{
		chains:  make(map[UserID][]Ancestor),
		maxSize: maxSize,
	}
}

func (c *MemoryChainCache) Get(userID UserID) ([]Ancestor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	chain, ok := c.chains[userID]
	return chain, ok
}

func (c *MemoryChainCache) Put(userID UserID, chain []Ancestor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.chains) >= c.maxSize {
		for k := range c.chains {
			delete(c.chains, k)
			break
		}
	}
	cp := make([]Ancestor, len(chain))
	copy(cp, chain)
	c.chains[userID] = cp
}

func (c *MemoryChainCache) Invalidate(userID UserID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.chains, userID)
	for key, chain := range c.chains {
		for _, a := range chain {
			if a.UserID == userID {
				delete(c.chains, key)
				break
			}
		}
	}
}

// NopChainCache disables caching. Useful in tests that count store calls.
type NopChainCache struct{}

func (NopChainCache) Get(UserID) ([]Ancestor, bool) { return nil, false }
func (NopChainCache) Put(UserID, []Ancestor)        {}
func (NopChainCache) Invalidate(UserID)             {}
