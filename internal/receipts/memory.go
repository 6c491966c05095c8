package receipts

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"

	"multisend/internal/multisend"
)

type entry struct {
	receipt   *multisend.Receipt
	expiresAt time.Time
}

// MemoryStore is an in-memory LRU receipt store with TTL support
type MemoryStore struct {
	cache *lru.Cache[common.Hash, *entry]
	ttl   time.Duration
	now   func() time.Time
	mu    sync.Mutex

	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewMemoryStore creates a store holding at most size receipts for ttl each
func NewMemoryStore(size int, ttl time.Duration) (*MemoryStore, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("receipt ttl must be positive, got %s", ttl)
	}
	cache, err := lru.New[common.Hash, *entry](size)
	if err != nil {
		return nil, err
	}

	s := &MemoryStore{
		cache:  cache,
		ttl:    ttl,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}

	go s.cleanupLoop()

	return s, nil
}

// Get retrieves a receipt by transaction hash
func (s *MemoryStore) Get(txHash common.Hash) (*multisend.Receipt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.cache.Get(txHash)
	if !ok {
		return nil, false
	}
	if s.now().After(e.expiresAt) {
		s.cache.Remove(txHash)
		return nil, false
	}
	return e.receipt, true
}

// Put stores a receipt
func (s *MemoryStore) Put(receipt *multisend.Receipt) {
	if receipt == nil {
		return
	}

	s.mu.Lock()
	s.cache.Add(receipt.TxHash, &entry{
		receipt:   receipt,
		expiresAt: s.now().Add(s.ttl),
	})
	s.mu.Unlock()
}

// Len returns the number of receipts currently held, expired ones included
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

// Close stops the cleanup goroutine
func (s *MemoryStore) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.removeExpired()
		}
	}
}

// removeExpired drops every expired receipt
func (s *MemoryStore) removeExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, key := range s.cache.Keys() {
		e, ok := s.cache.Peek(key)
		if ok && now.After(e.expiresAt) {
			s.cache.Remove(key)
		}
	}
}

// NoopStore is a store that keeps nothing (used when receipts are disabled)
type NoopStore struct{}

// NewNoopStore creates a new no-op store
func NewNoopStore() *NoopStore {
	return &NoopStore{}
}

// Get always returns not found
func (NoopStore) Get(common.Hash) (*multisend.Receipt, bool) {
	return nil, false
}

// Put does nothing
func (NoopStore) Put(*multisend.Receipt) {}

// Close does nothing
func (NoopStore) Close() {}
