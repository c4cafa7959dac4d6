// Package storage defines the persistence interfaces for the settlement
// engine's four keyed tables. Implementations live in storage/memory and
// storage/postgres.
package storage

import (
	"context"
	"errors"

	"github.com/R3E-Network/settlement_engine/internal/app/domain/bid"
	"github.com/R3E-Network/settlement_engine/internal/app/domain/collection"
	"github.com/R3E-Network/settlement_engine/internal/app/domain/listing"
)

// ErrNotFound is wrapped by every store when a keyed record is absent.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists is wrapped when a create collides with an existing key.
var ErrAlreadyExists = errors.New("record already exists")

// ListingStore persists listings keyed by (collection, token).
type ListingStore interface {
	// PutListing inserts or replaces a listing. A zero ID is assigned the
	// next monotonic ID; a non-zero ID is kept as-is, which lets rollback
	// restore a deleted listing under its original ID.
	PutListing(ctx context.Context, l listing.Listing) (listing.Listing, error)
	GetListing(ctx context.Context, collectionAddr, tokenID string) (listing.Listing, error)
	DeleteListing(ctx context.Context, collectionAddr, tokenID string) error
	ListListings(ctx context.Context, collectionAddr string) ([]listing.Listing, error)
}

// CollectionBidStore persists collection bids keyed by (collection, bidder).
type CollectionBidStore interface {
	CreateCollectionBid(ctx context.Context, b bid.CollectionBid) (bid.CollectionBid, error)
	UpdateCollectionBid(ctx context.Context, b bid.CollectionBid) (bid.CollectionBid, error)
	GetCollectionBid(ctx context.Context, collectionAddr, bidder string) (bid.CollectionBid, error)
	DeleteCollectionBid(ctx context.Context, collectionAddr, bidder string) error
	ListCollectionBids(ctx context.Context, collectionAddr string) ([]bid.CollectionBid, error)
	ListAllCollectionBids(ctx context.Context) ([]bid.CollectionBid, error)
}

// TokenBidStore persists token bids keyed by (collection, token, bidder).
type TokenBidStore interface {
	CreateTokenBid(ctx context.Context, b bid.TokenBid) (bid.TokenBid, error)
	GetTokenBid(ctx context.Context, collectionAddr, tokenID, bidder string) (bid.TokenBid, error)
	DeleteTokenBid(ctx context.Context, collectionAddr, tokenID, bidder string) error
	ListTokenBids(ctx context.Context, collectionAddr, tokenID string) ([]bid.TokenBid, error)
	ListAllTokenBids(ctx context.Context) ([]bid.TokenBid, error)
}

// CollectionStore persists collection records keyed by address.
type CollectionStore interface {
	CreateCollection(ctx context.Context, c collection.Collection) (collection.Collection, error)
	UpdateCollection(ctx context.Context, c collection.Collection) (collection.Collection, error)
	GetCollection(ctx context.Context, address string) (collection.Collection, error)
	ListCollections(ctx context.Context) ([]collection.Collection, error)
}
