package app

import (
	"context"
	"math/big"
	"testing"

	"github.com/R3E-Network/settlement_engine/internal/app/chain"
	"github.com/R3E-Network/settlement_engine/internal/app/trust"
	"github.com/R3E-Network/settlement_engine/internal/config"
	"github.com/R3E-Network/settlement_engine/internal/errors"
	"github.com/R3E-Network/settlement_engine/pkg/logger"
)

const (
	colAddr  = "0xc0ffee"
	admin    = "NAdmin"
	treasury = "NTreasury"
	operator = "NEngineOperator"
	seller   = "NSeller"
	buyer    = "NBuyer"
	bidder   = "NBidder"
	royalist = "NRoyalties"

	unit = 100_000_000 // 1.0 in base units
)

type fixture struct {
	t        *testing.T
	ctx      context.Context
	app      *Application
	registry *chain.FakeRegistry
	contract *chain.FakeContract
}

func newFixture(t *testing.T, feeBps, royaltyBps uint32) *fixture {
	t.Helper()
	ctx := context.Background()

	cfg := config.Default()
	cfg.Market.FeeBps = feeBps
	cfg.Market.FeeCapBps = 2000
	cfg.Market.FeeReceiver = treasury
	cfg.Market.Admin = admin
	cfg.Chain.EngineAddress = operator

	registry := chain.NewFakeRegistry()
	contract := registry.Add(colAddr, admin)

	a, err := New(cfg, Stores{}, registry, logger.NewDefault("test"))
	if err != nil {
		t.Fatalf("build application: %v", err)
	}
	if _, err := a.Collections.Register(ctx, a.Gateway, admin, colAddr, royaltyBps); err != nil {
		t.Fatalf("register collection: %v", err)
	}
	if royaltyBps > 0 {
		if _, err := a.Collections.UpdateRoyalties(ctx, a.Gateway, admin, colAddr, royalist, royaltyBps); err != nil {
			t.Fatalf("set royalty receiver: %v", err)
		}
	}
	return &fixture{t: t, ctx: ctx, app: a, registry: registry, contract: contract}
}

func (f *fixture) mint(tokenID, owner string) {
	f.t.Helper()
	f.contract.Mint(tokenID, owner)
	f.contract.Approve(owner, operator, true)
}

func (f *fixture) fund(account string, amount int64) {
	f.t.Helper()
	if err := f.app.Ledger.Credit(account, big.NewInt(amount)); err != nil {
		f.t.Fatalf("fund %s: %v", account, err)
	}
}

func (f *fixture) balance(account string) int64 {
	return f.app.Ledger.Balance(account).Int64()
}

func (f *fixture) list(tokenID string, price int64) {
	f.t.Helper()
	if _, err := f.app.Listings.List(f.ctx, f.app.Gateway, seller, colAddr, tokenID, big.NewInt(price)); err != nil {
		f.t.Fatalf("list %s: %v", tokenID, err)
	}
}

func wantReason(t *testing.T, err error, reason errors.Reason) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", reason)
	}
	if got := errors.ReasonOf(err); got != reason {
		t.Fatalf("expected reason %s, got %s (%v)", reason, got, err)
	}
}

func TestBuySplitsPriceExactly(t *testing.T) {
	f := newFixture(t, 500, 0) // 5% fee, no royalty
	f.mint("1", seller)
	f.fund(buyer, unit)
	f.list("1", unit)

	if err := f.app.Listings.Buy(f.ctx, f.app.Gateway, buyer, colAddr, "1", big.NewInt(unit)); err != nil {
		t.Fatalf("buy: %v", err)
	}

	if got := f.balance(treasury); got != unit/20 {
		t.Fatalf("fee receiver got %d, want %d", got, unit/20)
	}
	if got := f.balance(seller); got != unit-unit/20 {
		t.Fatalf("seller got %d, want %d", got, unit-unit/20)
	}
	if got := f.balance(buyer); got != 0 {
		t.Fatalf("buyer retains %d, want 0", got)
	}

	owner, err := f.contract.OwnerOf(f.ctx, "1")
	if err != nil {
		t.Fatalf("owner of sold item: %v", err)
	}
	if owner != buyer {
		t.Fatalf("item owned by %s, want %s", owner, buyer)
	}
	if _, err := f.app.Listings.Get(f.ctx, colAddr, "1"); errors.ReasonOf(err) != errors.ReasonNotExists {
		t.Fatalf("sold listing should be gone, got %v", err)
	}

	record, err := f.app.Collections.Get(f.ctx, colAddr)
	if err != nil {
		t.Fatalf("collection record: %v", err)
	}
	if record.Sales != 1 || record.Volume.Int64() != unit {
		t.Fatalf("counters = %d sales / %s volume, want 1 / %d", record.Sales, record.Volume, unit)
	}
}

func TestBuyWithShortValueChangesNothing(t *testing.T) {
	f := newFixture(t, 500, 0)
	f.mint("1", seller)
	f.fund(buyer, unit)
	f.list("1", unit)

	err := f.app.Listings.Buy(f.ctx, f.app.Gateway, buyer, colAddr, "1", big.NewInt(unit/2))
	wantReason(t, err, errors.ReasonInsufficientValue)

	if got := f.balance(buyer); got != unit {
		t.Fatalf("buyer balance changed to %d", got)
	}
	if owner, _ := f.contract.OwnerOf(f.ctx, "1"); owner != seller {
		t.Fatalf("item moved to %s", owner)
	}
	if _, err := f.app.Listings.Get(f.ctx, colAddr, "1"); err != nil {
		t.Fatalf("listing should survive failed purchase: %v", err)
	}
}

func TestBuyDistributesRoyalty(t *testing.T) {
	f := newFixture(t, 500, 1000) // 5% fee, 10% royalty
	f.mint("1", seller)
	f.fund(buyer, unit)
	f.list("1", unit)

	if err := f.app.Listings.Buy(f.ctx, f.app.Gateway, buyer, colAddr, "1", big.NewInt(unit)); err != nil {
		t.Fatalf("buy: %v", err)
	}

	fee := int64(unit) * 500 / 10000
	royalty := int64(unit) * 1000 / 10000
	if got := f.balance(treasury); got != fee {
		t.Fatalf("fee = %d, want %d", got, fee)
	}
	if got := f.balance(royalist); got != royalty {
		t.Fatalf("royalty = %d, want %d", got, royalty)
	}
	if got := f.balance(seller); got != int64(unit)-fee-royalty {
		t.Fatalf("seller = %d, want %d", got, int64(unit)-fee-royalty)
	}
}

func TestBuyBatchIsAtomic(t *testing.T) {
	f := newFixture(t, 500, 0)
	f.mint("1", seller)
	f.mint("2", seller)
	f.fund(buyer, 3*unit)
	f.list("1", unit)
	f.list("2", 2*unit)

	err := f.app.Listings.BuyBatch(f.ctx, f.app.Gateway, buyer, colAddr, []string{"1", "2"}, big.NewInt(2*unit))
	wantReason(t, err, errors.ReasonValueMismatch)
	if got := f.balance(buyer); got != 3*unit {
		t.Fatalf("failed batch moved value, buyer = %d", got)
	}

	if err := f.app.Listings.BuyBatch(f.ctx, f.app.Gateway, buyer, colAddr, []string{"1", "2"}, big.NewInt(3*unit)); err != nil {
		t.Fatalf("batch buy: %v", err)
	}
	if got := f.balance(buyer); got != 0 {
		t.Fatalf("buyer retains %d after batch", got)
	}
	for _, tokenID := range []string{"1", "2"} {
		if owner, _ := f.contract.OwnerOf(f.ctx, tokenID); owner != buyer {
			t.Fatalf("item %s owned by %s", tokenID, owner)
		}
	}
}

func TestCollectionBidRoundTripRefundsExactly(t *testing.T) {
	f := newFixture(t, 500, 0)
	f.fund(bidder, unit/2)

	if _, err := f.app.CollectionBids.Bid(f.ctx, f.app.Gateway, bidder, colAddr, big.NewInt(unit/2), 1, big.NewInt(unit/2)); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if got := f.balance(bidder); got != 0 {
		t.Fatalf("escrow not collected, bidder = %d", got)
	}
	if got := f.app.Ledger.Balance("engine").Int64(); got != unit/2 {
		t.Fatalf("engine holds %d, want %d", got, unit/2)
	}

	if err := f.app.CollectionBids.Cancel(f.ctx, f.app.Gateway, bidder, colAddr); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := f.balance(bidder); got != unit/2 {
		t.Fatalf("refund = %d, want %d", got, unit/2)
	}
	if got := f.app.Ledger.Balance("engine").Int64(); got != 0 {
		t.Fatalf("engine retains %d after refund", got)
	}

	// A second cancel has nothing to act on.
	err := f.app.CollectionBids.Cancel(f.ctx, f.app.Gateway, bidder, colAddr)
	wantReason(t, err, errors.ReasonNotBidder)
}

func TestSecondCollectionBidRejected(t *testing.T) {
	f := newFixture(t, 500, 0)
	f.fund(bidder, 2*unit)

	if _, err := f.app.CollectionBids.Bid(f.ctx, f.app.Gateway, bidder, colAddr, big.NewInt(unit), 1, big.NewInt(unit)); err != nil {
		t.Fatalf("first bid: %v", err)
	}
	_, err := f.app.CollectionBids.Bid(f.ctx, f.app.Gateway, bidder, colAddr, big.NewInt(unit), 1, big.NewInt(unit))
	wantReason(t, err, errors.ReasonAlreadyBid)

	// Only the first escrow was taken.
	if got := f.balance(bidder); got != unit {
		t.Fatalf("bidder = %d, want %d", got, unit)
	}
}

func TestAcceptMoreThanQuantityChangesNothing(t *testing.T) {
	f := newFixture(t, 500, 0)
	f.mint("1", seller)
	f.mint("2", seller)
	f.fund(bidder, unit)

	if _, err := f.app.CollectionBids.Bid(f.ctx, f.app.Gateway, bidder, colAddr, big.NewInt(unit), 1, big.NewInt(unit)); err != nil {
		t.Fatalf("bid: %v", err)
	}

	err := f.app.CollectionBids.Accept(f.ctx, f.app.Gateway, seller, colAddr, bidder, []string{"1", "2"})
	wantReason(t, err, errors.ReasonQuantityExceeds)

	for _, tokenID := range []string{"1", "2"} {
		if owner, _ := f.contract.OwnerOf(f.ctx, tokenID); owner != seller {
			t.Fatalf("item %s moved to %s", tokenID, owner)
		}
	}
	b, err := f.app.CollectionBids.Get(f.ctx, colAddr, bidder)
	if err != nil {
		t.Fatalf("bid should survive: %v", err)
	}
	if b.Quantity != 1 {
		t.Fatalf("bid quantity = %d, want 1", b.Quantity)
	}
	if got := f.app.Ledger.Balance("engine").Int64(); got != unit {
		t.Fatalf("engine escrow = %d, want %d", got, unit)
	}
}

func TestAcceptCollectionBidSettlesSubsetAndClearsListings(t *testing.T) {
	f := newFixture(t, 500, 0)
	f.mint("1", seller)
	f.mint("2", seller)
	f.mint("3", seller)
	f.fund(bidder, 3*unit)
	f.list("2", 5*unit) // conflicting listing, cleared without a sale

	if _, err := f.app.CollectionBids.Bid(f.ctx, f.app.Gateway, bidder, colAddr, big.NewInt(unit), 3, big.NewInt(3*unit)); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if err := f.app.CollectionBids.Accept(f.ctx, f.app.Gateway, seller, colAddr, bidder, []string{"1", "2"}); err != nil {
		t.Fatalf("accept: %v", err)
	}

	for _, tokenID := range []string{"1", "2"} {
		if owner, _ := f.contract.OwnerOf(f.ctx, tokenID); owner != bidder {
			t.Fatalf("item %s owned by %s", tokenID, owner)
		}
	}
	if _, err := f.app.Listings.Get(f.ctx, colAddr, "2"); errors.ReasonOf(err) != errors.ReasonNotExists {
		t.Fatalf("conflicting listing should be cleared, got %v", err)
	}

	// Aggregate payout of 2 units, 5% fee, remainder to the seller.
	fee := int64(2*unit) * 500 / 10000
	if got := f.balance(seller); got != 2*unit-fee {
		t.Fatalf("seller = %d, want %d", got, 2*unit-fee)
	}

	b, err := f.app.CollectionBids.Get(f.ctx, colAddr, bidder)
	if err != nil {
		t.Fatalf("remaining bid: %v", err)
	}
	if b.Quantity != 1 {
		t.Fatalf("remaining quantity = %d, want 1", b.Quantity)
	}
	if got := f.app.Ledger.Balance("engine").Int64(); got != unit {
		t.Fatalf("engine escrow = %d, want %d", got, unit)
	}

	// Fulfilling the rest deletes the bid.
	if err := f.app.CollectionBids.Accept(f.ctx, f.app.Gateway, seller, colAddr, bidder, []string{"3"}); err != nil {
		t.Fatalf("accept rest: %v", err)
	}
	if _, err := f.app.CollectionBids.Get(f.ctx, colAddr, bidder); errors.ReasonOf(err) != errors.ReasonNotExists {
		t.Fatalf("exhausted bid should be deleted, got %v", err)
	}
}

func TestAcceptRollsBackOnTransferFailure(t *testing.T) {
	f := newFixture(t, 500, 0)
	f.mint("1", seller)
	f.fund(bidder, unit)

	if _, err := f.app.CollectionBids.Bid(f.ctx, f.app.Gateway, bidder, colAddr, big.NewInt(unit), 1, big.NewInt(unit)); err != nil {
		t.Fatalf("bid: %v", err)
	}

	f.contract.FailTransfers = true
	err := f.app.CollectionBids.Accept(f.ctx, f.app.Gateway, seller, colAddr, bidder, []string{"1"})
	wantReason(t, err, errors.ReasonTransferFailed)
	f.contract.FailTransfers = false

	b, err := f.app.CollectionBids.Get(f.ctx, colAddr, bidder)
	if err != nil {
		t.Fatalf("bid should be restored: %v", err)
	}
	if b.Quantity != 1 {
		t.Fatalf("restored quantity = %d, want 1", b.Quantity)
	}
	if got := f.app.Ledger.Balance("engine").Int64(); got != unit {
		t.Fatalf("engine escrow = %d, want %d", got, unit)
	}
	if got := f.balance(seller); got != 0 {
		t.Fatalf("seller paid %d despite failed transfer", got)
	}
}

func TestTokenBidOnUnregisteredCollection(t *testing.T) {
	f := newFixture(t, 500, 0)
	const strayAddr = "0xstray"
	stray := f.registry.Add(strayAddr, admin)
	stray.Mint("9", seller)
	stray.Approve(seller, operator, true)
	f.fund(bidder, unit)

	// Bidding does not require registration.
	if _, err := f.app.TokenBids.Bid(f.ctx, f.app.Gateway, bidder, strayAddr, "9", big.NewInt(unit), big.NewInt(unit)); err != nil {
		t.Fatalf("token bid: %v", err)
	}
	if err := f.app.TokenBids.Accept(f.ctx, f.app.Gateway, seller, strayAddr, bidder, "9"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// No royalty, no counters, plain fee split.
	fee := int64(unit) * 500 / 10000
	if got := f.balance(seller); got != int64(unit)-fee {
		t.Fatalf("seller = %d, want %d", got, int64(unit)-fee)
	}
	if owner, _ := stray.OwnerOf(f.ctx, "9"); owner != bidder {
		t.Fatalf("item owned by %s", owner)
	}
	if _, err := f.app.Collections.Get(f.ctx, strayAddr); errors.ReasonOf(err) != errors.ReasonNotRegistered {
		t.Fatalf("stray collection should stay unregistered, got %v", err)
	}
}

func TestCollectionBidRequiresRegistration(t *testing.T) {
	f := newFixture(t, 500, 0)
	f.fund(bidder, unit)

	_, err := f.app.CollectionBids.Bid(f.ctx, f.app.Gateway, bidder, "0xunknown", big.NewInt(unit), 1, big.NewInt(unit))
	wantReason(t, err, errors.ReasonNotRegistered)
}

func TestForeignTokenRejected(t *testing.T) {
	f := newFixture(t, 500, 0)

	foreign := trust.NewAuthority()
	token, err := foreign.Issue(trust.ModuleGateway)
	if err != nil {
		t.Fatalf("issue foreign token: %v", err)
	}
	foreign.Seal()

	_, err = f.app.Listings.List(f.ctx, token, seller, colAddr, "1", big.NewInt(unit))
	wantReason(t, err, errors.ReasonUntrusted)

	_, err = f.app.Listings.List(f.ctx, trust.Token{}, seller, colAddr, "1", big.NewInt(unit))
	wantReason(t, err, errors.ReasonUntrusted)
}

func TestFeeUpdateAuthorization(t *testing.T) {
	f := newFixture(t, 500, 0)

	err := f.app.Distributor.UpdateFee(f.ctx, f.app.Gateway, "NMallory", 100)
	wantReason(t, err, errors.ReasonNotAdmin)

	err = f.app.Distributor.UpdateFee(f.ctx, f.app.Gateway, admin, 9999)
	wantReason(t, err, errors.ReasonFeeTooHigh)

	if err := f.app.Distributor.UpdateFee(f.ctx, f.app.Gateway, admin, 100); err != nil {
		t.Fatalf("update fee: %v", err)
	}
	if got := f.app.Distributor.FeeBps(); got != 100 {
		t.Fatalf("fee = %d, want 100", got)
	}
}

func TestEscrowConservationAcrossMixedActivity(t *testing.T) {
	f := newFixture(t, 500, 250)
	f.mint("1", seller)
	f.mint("2", seller)
	f.fund(buyer, unit)
	f.fund(bidder, 4*unit)

	f.list("1", unit)
	if err := f.app.Listings.Buy(f.ctx, f.app.Gateway, buyer, colAddr, "1", big.NewInt(unit)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := f.app.CollectionBids.Bid(f.ctx, f.app.Gateway, bidder, colAddr, big.NewInt(unit), 2, big.NewInt(2*unit)); err != nil {
		t.Fatalf("collection bid: %v", err)
	}
	if _, err := f.app.TokenBids.Bid(f.ctx, f.app.Gateway, bidder, colAddr, "2", big.NewInt(unit), big.NewInt(unit)); err != nil {
		t.Fatalf("token bid: %v", err)
	}
	if err := f.app.CollectionBids.Accept(f.ctx, f.app.Gateway, seller, colAddr, bidder, []string{"2"}); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if err := f.app.Auditor.Check(f.ctx); err != nil {
		t.Fatalf("conservation violated: %v", err)
	}
}

func TestApplicationLifecycle(t *testing.T) {
	f := newFixture(t, 500, 0)
	ctx := context.Background()

	if err := f.app.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.app.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
