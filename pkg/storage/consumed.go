// Package storage persists the cancellation ledger in Pebble. Consumed
// flags are the engine's only durable state: the order payloads themselves
// are never stored.
package storage

import (
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/jmlee-dev/listex/pkg/engine"
)

// ConsumedStore is a Pebble-backed engine.ConsumedStore. Writes are synced;
// multi-key marks go through one batch so a call's marks commit atomically.
type ConsumedStore struct {
	db *pebble.DB
}

func OpenConsumedStore(path string) (*ConsumedStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open consumed store: %w", err)
	}
	return &ConsumedStore{db: db}, nil
}

func (s *ConsumedStore) Close() error { return s.db.Close() }

// keys: cx:<20-byte-seller><32-byte-listing-id> -> 0x01
func consumedKey(k engine.ListingKey) []byte {
	key := make([]byte, 0, 3+20+32)
	key = append(key, "cx:"...)
	key = append(key, k.Seller.Bytes()...)
	key = append(key, k.ListingID.Bytes()...)
	return key
}

// IsConsumed reports whether the listing has been marked. Absent entries
// default to false; records are created only when a listing is consumed.
func (s *ConsumedStore) IsConsumed(key engine.ListingKey) (bool, error) {
	_, closer, err := s.db.Get(consumedKey(key))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get consumed flag: %w", err)
	}
	closer.Close()
	return true, nil
}

// MarkConsumed durably marks every given listing. All keys commit in one
// synced batch: either the whole call's marks land or none do.
func (s *ConsumedStore) MarkConsumed(keys ...engine.ListingKey) error {
	if len(keys) == 0 {
		return nil
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, k := range keys {
		if err := batch.Set(consumedKey(k), []byte{0x01}, nil); err != nil {
			return fmt.Errorf("stage consumed flag: %w", err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit consumed flags: %w", err)
	}
	return nil
}

var _ engine.ConsumedStore = (*ConsumedStore)(nil)
