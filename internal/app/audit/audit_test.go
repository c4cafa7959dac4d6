package audit

import (
	"context"
	"math/big"
	"testing"

	"github.com/R3E-Network/settlement_engine/internal/app/domain/bid"
	"github.com/R3E-Network/settlement_engine/internal/app/ledger"
	"github.com/R3E-Network/settlement_engine/internal/app/storage/memory"
)

func TestCheckBalanced(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	led := ledger.New()

	if _, err := store.CreateCollectionBid(ctx, bid.CollectionBid{
		Collection: "0xcol",
		Bidder:     "alice",
		Quantity:   3,
		Price:      big.NewInt(100),
	}); err != nil {
		t.Fatalf("create collection bid: %v", err)
	}
	if _, err := store.CreateTokenBid(ctx, bid.TokenBid{
		Collection: "0xcol",
		TokenID:    "7",
		Bidder:     "bob",
		Price:      big.NewInt(50),
	}); err != nil {
		t.Fatalf("create token bid: %v", err)
	}
	if err := led.Credit(ledger.EngineAccount, big.NewInt(350)); err != nil {
		t.Fatalf("credit engine: %v", err)
	}

	a := New(led, store, store, "@every 1m", nil)
	if err := a.Check(ctx); err != nil {
		t.Fatalf("balanced books reported mismatch: %v", err)
	}
}

func TestCheckDetectsLeak(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	led := ledger.New()

	if _, err := store.CreateTokenBid(ctx, bid.TokenBid{
		Collection: "0xcol",
		TokenID:    "7",
		Bidder:     "bob",
		Price:      big.NewInt(50),
	}); err != nil {
		t.Fatalf("create token bid: %v", err)
	}
	// Engine holds less than the bid escrow.
	if err := led.Credit(ledger.EngineAccount, big.NewInt(49)); err != nil {
		t.Fatalf("credit engine: %v", err)
	}

	a := New(led, store, store, "@every 1m", nil)
	if err := a.Check(ctx); err == nil {
		t.Fatal("expected conservation error, got nil")
	}
	if a.LastError() == nil {
		t.Fatal("LastError not recorded after failed check")
	}

	// Restoring the books clears the recorded error.
	if err := led.Credit(ledger.EngineAccount, big.NewInt(1)); err != nil {
		t.Fatalf("credit engine: %v", err)
	}
	if err := a.Check(ctx); err != nil {
		t.Fatalf("balanced books reported mismatch: %v", err)
	}
	if err := a.LastError(); err != nil {
		t.Fatalf("LastError = %v after clean check", err)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	a := New(ledger.New(), memory.New(), memory.New(), "not a schedule", nil)
	if err := a.Start(context.Background()); err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestStartStop(t *testing.T) {
	ctx := context.Background()
	a := New(ledger.New(), memory.New(), memory.New(), "@every 1h", nil)
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.Start(ctx); err == nil {
		t.Fatal("second start should fail")
	}
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("stop after stop: %v", err)
	}
}
