package events

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Deduplicator remembers recently delivered logs
type Deduplicator struct {
	cache *lru.Cache[string, struct{}]
}

// NewDeduplicator creates a new Deduplicator with the given cache size
func NewDeduplicator(size int) (*Deduplicator, error) {
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	return &Deduplicator{cache: cache}, nil
}

// IsDuplicate reports whether the log at txHash:logIndex was seen before and
// records it otherwise
func (d *Deduplicator) IsDuplicate(txHash common.Hash, logIndex uint) bool {
	key := fmt.Sprintf("log:%s:%d", txHash.Hex(), logIndex)
	seen, _ := d.cache.ContainsOrAdd(key, struct{}{})
	return seen
}

// Clear clears the deduplication cache
func (d *Deduplicator) Clear() {
	d.cache.Purge()
}

// Len returns the current cache size
func (d *Deduplicator) Len() int {
	return d.cache.Len()
}
