// Package memory provides the in-memory implementation of the storage
// interfaces. It backs the engine's hot path and the test suites; the
// postgres package mirrors the same tables durably.
package memory

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/R3E-Network/settlement_engine/internal/app/domain/bid"
	"github.com/R3E-Network/settlement_engine/internal/app/domain/collection"
	"github.com/R3E-Network/settlement_engine/internal/app/domain/listing"
	"github.com/R3E-Network/settlement_engine/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use.
type Store struct {
	mu            sync.RWMutex
	nextListingID int64
	listings      map[string]listing.Listing       // key: collection|token
	colBids       map[string]bid.CollectionBid     // key: collection|bidder
	tokBids       map[string]bid.TokenBid          // key: collection|token|bidder
	collections   map[string]collection.Collection // key: address
}

var _ storage.ListingStore = (*Store)(nil)
var _ storage.CollectionBidStore = (*Store)(nil)
var _ storage.TokenBidStore = (*Store)(nil)
var _ storage.CollectionStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextListingID: 1,
		listings:      make(map[string]listing.Listing),
		colBids:       make(map[string]bid.CollectionBid),
		tokBids:       make(map[string]bid.TokenBid),
		collections:   make(map[string]collection.Collection),
	}
}

func listingKey(collectionAddr, tokenID string) string {
	return collectionAddr + "|" + tokenID
}

func colBidKey(collectionAddr, bidder string) string {
	return collectionAddr + "|" + bidder
}

func tokBidKey(collectionAddr, tokenID, bidder string) string {
	return collectionAddr + "|" + tokenID + "|" + bidder
}

// ListingStore implementation -------------------------------------------------

func (s *Store) PutListing(_ context.Context, l listing.Listing) (listing.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.ID == 0 {
		l.ID = s.nextListingID
		s.nextListingID++
	} else if l.ID >= s.nextListingID {
		s.nextListingID = l.ID + 1
	}

	l = cloneListing(l)
	s.listings[listingKey(l.Collection, l.TokenID)] = l
	return cloneListing(l), nil
}

func (s *Store) GetListing(_ context.Context, collectionAddr, tokenID string) (listing.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.listings[listingKey(collectionAddr, tokenID)]
	if !ok {
		return listing.Listing{}, fmt.Errorf("listing %s/%s: %w", collectionAddr, tokenID, storage.ErrNotFound)
	}
	return cloneListing(l), nil
}

func (s *Store) DeleteListing(_ context.Context, collectionAddr, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := listingKey(collectionAddr, tokenID)
	if _, ok := s.listings[key]; !ok {
		return fmt.Errorf("listing %s/%s: %w", collectionAddr, tokenID, storage.ErrNotFound)
	}
	delete(s.listings, key)
	return nil
}

func (s *Store) ListListings(_ context.Context, collectionAddr string) ([]listing.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []listing.Listing
	for _, l := range s.listings {
		if l.Collection == collectionAddr {
			out = append(out, cloneListing(l))
		}
	}
	return out, nil
}

// CollectionBidStore implementation -------------------------------------------

func (s *Store) CreateCollectionBid(_ context.Context, b bid.CollectionBid) (bid.CollectionBid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := colBidKey(b.Collection, b.Bidder)
	if _, exists := s.colBids[key]; exists {
		return bid.CollectionBid{}, fmt.Errorf("collection bid %s: %w", key, storage.ErrAlreadyExists)
	}

	b = cloneCollectionBid(b)
	s.colBids[key] = b
	return cloneCollectionBid(b), nil
}

func (s *Store) UpdateCollectionBid(_ context.Context, b bid.CollectionBid) (bid.CollectionBid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := colBidKey(b.Collection, b.Bidder)
	if _, ok := s.colBids[key]; !ok {
		return bid.CollectionBid{}, fmt.Errorf("collection bid %s: %w", key, storage.ErrNotFound)
	}

	b = cloneCollectionBid(b)
	s.colBids[key] = b
	return cloneCollectionBid(b), nil
}

func (s *Store) GetCollectionBid(_ context.Context, collectionAddr, bidder string) (bid.CollectionBid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.colBids[colBidKey(collectionAddr, bidder)]
	if !ok {
		return bid.CollectionBid{}, fmt.Errorf("collection bid %s/%s: %w", collectionAddr, bidder, storage.ErrNotFound)
	}
	return cloneCollectionBid(b), nil
}

func (s *Store) DeleteCollectionBid(_ context.Context, collectionAddr, bidder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := colBidKey(collectionAddr, bidder)
	if _, ok := s.colBids[key]; !ok {
		return fmt.Errorf("collection bid %s/%s: %w", collectionAddr, bidder, storage.ErrNotFound)
	}
	delete(s.colBids, key)
	return nil
}

func (s *Store) ListCollectionBids(_ context.Context, collectionAddr string) ([]bid.CollectionBid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []bid.CollectionBid
	for _, b := range s.colBids {
		if b.Collection == collectionAddr {
			out = append(out, cloneCollectionBid(b))
		}
	}
	return out, nil
}

func (s *Store) ListAllCollectionBids(_ context.Context) ([]bid.CollectionBid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]bid.CollectionBid, 0, len(s.colBids))
	for _, b := range s.colBids {
		out = append(out, cloneCollectionBid(b))
	}
	return out, nil
}

// TokenBidStore implementation ------------------------------------------------

func (s *Store) CreateTokenBid(_ context.Context, b bid.TokenBid) (bid.TokenBid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tokBidKey(b.Collection, b.TokenID, b.Bidder)
	if _, exists := s.tokBids[key]; exists {
		return bid.TokenBid{}, fmt.Errorf("token bid %s: %w", key, storage.ErrAlreadyExists)
	}

	b = cloneTokenBid(b)
	s.tokBids[key] = b
	return cloneTokenBid(b), nil
}

func (s *Store) GetTokenBid(_ context.Context, collectionAddr, tokenID, bidder string) (bid.TokenBid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.tokBids[tokBidKey(collectionAddr, tokenID, bidder)]
	if !ok {
		return bid.TokenBid{}, fmt.Errorf("token bid %s/%s/%s: %w", collectionAddr, tokenID, bidder, storage.ErrNotFound)
	}
	return cloneTokenBid(b), nil
}

func (s *Store) DeleteTokenBid(_ context.Context, collectionAddr, tokenID, bidder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tokBidKey(collectionAddr, tokenID, bidder)
	if _, ok := s.tokBids[key]; !ok {
		return fmt.Errorf("token bid %s/%s/%s: %w", collectionAddr, tokenID, bidder, storage.ErrNotFound)
	}
	delete(s.tokBids, key)
	return nil
}

func (s *Store) ListTokenBids(_ context.Context, collectionAddr, tokenID string) ([]bid.TokenBid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []bid.TokenBid
	for _, b := range s.tokBids {
		if b.Collection == collectionAddr && b.TokenID == tokenID {
			out = append(out, cloneTokenBid(b))
		}
	}
	return out, nil
}

func (s *Store) ListAllTokenBids(_ context.Context) ([]bid.TokenBid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]bid.TokenBid, 0, len(s.tokBids))
	for _, b := range s.tokBids {
		out = append(out, cloneTokenBid(b))
	}
	return out, nil
}

// CollectionStore implementation ----------------------------------------------

func (s *Store) CreateCollection(_ context.Context, c collection.Collection) (collection.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.collections[c.Address]; exists {
		return collection.Collection{}, fmt.Errorf("collection %s: %w", c.Address, storage.ErrAlreadyExists)
	}

	c = cloneCollection(c)
	if c.Volume == nil {
		c.Volume = new(big.Int)
	}
	s.collections[c.Address] = c
	return cloneCollection(c), nil
}

func (s *Store) UpdateCollection(_ context.Context, c collection.Collection) (collection.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[c.Address]; !ok {
		return collection.Collection{}, fmt.Errorf("collection %s: %w", c.Address, storage.ErrNotFound)
	}

	c = cloneCollection(c)
	s.collections[c.Address] = c
	return cloneCollection(c), nil
}

func (s *Store) GetCollection(_ context.Context, address string) (collection.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[address]
	if !ok {
		return collection.Collection{}, fmt.Errorf("collection %s: %w", address, storage.ErrNotFound)
	}
	return cloneCollection(c), nil
}

func (s *Store) ListCollections(_ context.Context) ([]collection.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]collection.Collection, 0, len(s.collections))
	for _, c := range s.collections {
		out = append(out, cloneCollection(c))
	}
	return out, nil
}

// clone helpers ---------------------------------------------------------------

func cloneListing(l listing.Listing) listing.Listing {
	if l.Price != nil {
		l.Price = new(big.Int).Set(l.Price)
	}
	return l
}

func cloneCollectionBid(b bid.CollectionBid) bid.CollectionBid {
	if b.Price != nil {
		b.Price = new(big.Int).Set(b.Price)
	}
	return b
}

func cloneTokenBid(b bid.TokenBid) bid.TokenBid {
	if b.Price != nil {
		b.Price = new(big.Int).Set(b.Price)
	}
	return b
}

func cloneCollection(c collection.Collection) collection.Collection {
	if c.Volume != nil {
		c.Volume = new(big.Int).Set(c.Volume)
	}
	return c
}
