package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/R3E-Network/settlement_engine/internal/app/domain/bid"
	"github.com/R3E-Network/settlement_engine/internal/app/domain/collection"
	"github.com/R3E-Network/settlement_engine/internal/app/domain/listing"
	"github.com/R3E-Network/settlement_engine/internal/app/storage"
)

func TestListingIDsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := New()

	first, err := s.PutListing(ctx, listing.Listing{Collection: "c1", TokenID: "t1", Seller: "alice", Price: big.NewInt(10)})
	if err != nil {
		t.Fatalf("PutListing: %v", err)
	}
	second, err := s.PutListing(ctx, listing.Listing{Collection: "c1", TokenID: "t2", Seller: "alice", Price: big.NewInt(20)})
	if err != nil {
		t.Fatalf("PutListing: %v", err)
	}
	if second.ID <= first.ID {
		t.Fatalf("ids not increasing: %d then %d", first.ID, second.ID)
	}

	// Delete and relist: the old ID must not be reused.
	if err := s.DeleteListing(ctx, "c1", "t1"); err != nil {
		t.Fatalf("DeleteListing: %v", err)
	}
	third, err := s.PutListing(ctx, listing.Listing{Collection: "c1", TokenID: "t1", Seller: "alice", Price: big.NewInt(30)})
	if err != nil {
		t.Fatalf("PutListing: %v", err)
	}
	if third.ID <= second.ID {
		t.Fatalf("relisted id %d not greater than %d", third.ID, second.ID)
	}
}

func TestPutListingPreservesExplicitID(t *testing.T) {
	ctx := context.Background()
	s := New()

	orig, _ := s.PutListing(ctx, listing.Listing{Collection: "c1", TokenID: "t1", Seller: "alice", Price: big.NewInt(10)})
	if err := s.DeleteListing(ctx, "c1", "t1"); err != nil {
		t.Fatalf("DeleteListing: %v", err)
	}

	restored, err := s.PutListing(ctx, orig)
	if err != nil {
		t.Fatalf("PutListing restore: %v", err)
	}
	if restored.ID != orig.ID {
		t.Fatalf("restore changed id: %d != %d", restored.ID, orig.ID)
	}

	// A later fresh listing must still get a new, larger ID.
	next, _ := s.PutListing(ctx, listing.Listing{Collection: "c1", TokenID: "t9", Seller: "bob", Price: big.NewInt(5)})
	if next.ID <= orig.ID {
		t.Fatalf("fresh id %d not above restored %d", next.ID, orig.ID)
	}
}

func TestGetListingNotFound(t *testing.T) {
	s := New()
	_, err := s.GetListing(context.Background(), "c1", "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestStoreDoesNotAliasPrices(t *testing.T) {
	ctx := context.Background()
	s := New()

	price := big.NewInt(100)
	if _, err := s.PutListing(ctx, listing.Listing{Collection: "c1", TokenID: "t1", Seller: "alice", Price: price}); err != nil {
		t.Fatalf("PutListing: %v", err)
	}
	price.SetInt64(999)

	got, err := s.GetListing(ctx, "c1", "t1")
	if err != nil {
		t.Fatalf("GetListing: %v", err)
	}
	if got.Price.Int64() != 100 {
		t.Fatalf("stored price mutated through caller's pointer: %s", got.Price)
	}

	got.Price.SetInt64(5)
	again, _ := s.GetListing(ctx, "c1", "t1")
	if again.Price.Int64() != 100 {
		t.Fatalf("stored price mutated through returned pointer: %s", again.Price)
	}
}

func TestCollectionBidUniquePerBidder(t *testing.T) {
	ctx := context.Background()
	s := New()

	b := bid.CollectionBid{Collection: "c1", Bidder: "bob", Quantity: 2, Price: big.NewInt(50)}
	if _, err := s.CreateCollectionBid(ctx, b); err != nil {
		t.Fatalf("CreateCollectionBid: %v", err)
	}
	if _, err := s.CreateCollectionBid(ctx, b); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists, got %v", err)
	}

	// Same bidder on another collection is a distinct key.
	b2 := bid.CollectionBid{Collection: "c2", Bidder: "bob", Quantity: 1, Price: big.NewInt(10)}
	if _, err := s.CreateCollectionBid(ctx, b2); err != nil {
		t.Fatalf("CreateCollectionBid c2: %v", err)
	}

	all, err := s.ListAllCollectionBids(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("ListAllCollectionBids = %d, %v", len(all), err)
	}
}

func TestTokenBidKeyedByBidder(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.CreateTokenBid(ctx, bid.TokenBid{Collection: "c1", TokenID: "t1", Bidder: "bob", Price: big.NewInt(7)}); err != nil {
		t.Fatalf("CreateTokenBid: %v", err)
	}
	if _, err := s.CreateTokenBid(ctx, bid.TokenBid{Collection: "c1", TokenID: "t1", Bidder: "carol", Price: big.NewInt(8)}); err != nil {
		t.Fatalf("CreateTokenBid second bidder: %v", err)
	}

	bids, err := s.ListTokenBids(ctx, "c1", "t1")
	if err != nil {
		t.Fatalf("ListTokenBids: %v", err)
	}
	if len(bids) != 2 {
		t.Fatalf("len = %d, want 2", len(bids))
	}

	if err := s.DeleteTokenBid(ctx, "c1", "t1", "bob"); err != nil {
		t.Fatalf("DeleteTokenBid: %v", err)
	}
	if err := s.DeleteTokenBid(ctx, "c1", "t1", "bob"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second delete: want ErrNotFound, got %v", err)
	}
}

func TestCollectionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	c := collection.Collection{Address: "0xc1", RoyaltyReceiver: "artist", RoyaltyFeeBps: 250, Registered: true}
	created, err := s.CreateCollection(ctx, c)
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if created.Volume == nil || created.Volume.Sign() != 0 {
		t.Fatalf("new collection volume = %v, want 0", created.Volume)
	}

	if _, err := s.CreateCollection(ctx, c); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists, got %v", err)
	}

	created.Sales = 3
	created.Volume = big.NewInt(900)
	updated, err := s.UpdateCollection(ctx, created)
	if err != nil {
		t.Fatalf("UpdateCollection: %v", err)
	}
	if updated.Sales != 3 || updated.Volume.Int64() != 900 {
		t.Fatalf("update lost stats: %+v", updated)
	}
}
