package httpapi

import (
	"strings"
	"sync"
	"time"

	"github.com/solidfund/charityfund/internal/explorer"
)

type cacheEntry struct {
	txs       []explorer.Tx
	updatedAt time.Time
}

// TxCache keeps explorer responses per network and address for a TTL.
// A zero TTL disables caching.
type TxCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

func NewTxCache(ttl time.Duration) *TxCache {
	return &TxCache{ttl: ttl, entries: map[string]cacheEntry{}, now: time.Now}
}

func cacheKey(network, address string) string {
	return network + "|" + strings.ToLower(address)
}

// Get returns the cached list and whether it is still fresh.
func (c *TxCache) Get(network, address string) ([]explorer.Tx, bool) {
	if c == nil || c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	e, ok := c.entries[cacheKey(network, address)]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.updatedAt) > c.ttl {
		return e.txs, false
	}
	return e.txs, true
}

func (c *TxCache) Put(network, address string, txs []explorer.Tx) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	// drop stale entries so the map stays bounded by active addresses
	for k, e := range c.entries {
		if now.Sub(e.updatedAt) > c.ttl {
			delete(c.entries, k)
		}
	}
	c.entries[cacheKey(network, address)] = cacheEntry{txs: txs, updatedAt: now}
}
