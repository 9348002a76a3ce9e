package engine

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ListingKey identifies a listing: (seller, listing id).
type ListingKey struct {
	Seller    common.Address
	ListingID common.Hash
}

// ConsumedStore is the cancellation ledger: a terminal consumed flag per
// listing, created implicitly false on first reference. This flag is the
// engine's sole replay protection; there is no separate nonce space.
//
// MarkConsumed must apply all given keys atomically: either every key is
// durably marked or none is. Entries are never deleted and never expire.
type ConsumedStore interface {
	IsConsumed(key ListingKey) (bool, error)
	MarkConsumed(keys ...ListingKey) error
}

// MemConsumed is an in-memory ConsumedStore for tests and dev runs.
type MemConsumed struct {
	mu       sync.RWMutex
	consumed map[ListingKey]bool
}

func NewMemConsumed() *MemConsumed {
	return &MemConsumed{consumed: make(map[ListingKey]bool)}
}

func (m *MemConsumed) IsConsumed(key ListingKey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.consumed[key], nil
}

func (m *MemConsumed) MarkConsumed(keys ...ListingKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		m.consumed[k] = true
	}
	return nil
}

var _ ConsumedStore = (*MemConsumed)(nil)
