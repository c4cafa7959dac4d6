package listings

import (
	"context"
	"math/big"
	"testing"

	"github.com/R3E-Network/settlement_engine/internal/app/chain"
	"github.com/R3E-Network/settlement_engine/internal/app/events"
	"github.com/R3E-Network/settlement_engine/internal/app/guard"
	"github.com/R3E-Network/settlement_engine/internal/app/ledger"
	"github.com/R3E-Network/settlement_engine/internal/app/services/collections"
	"github.com/R3E-Network/settlement_engine/internal/app/services/distributor"
	"github.com/R3E-Network/settlement_engine/internal/app/storage/memory"
	"github.com/R3E-Network/settlement_engine/internal/app/trust"
	"github.com/R3E-Network/settlement_engine/internal/app/txn"
	"github.com/R3E-Network/settlement_engine/internal/errors"
	"github.com/R3E-Network/settlement_engine/pkg/logger"
)

const (
	colAddr  = "0xc0ffee"
	admin    = "NAdmin"
	operator = "NEngineOperator"
	seller   = "NSeller"
	buyer    = "NBuyer"
)

type harness struct {
	svc      *Service
	led      *ledger.Ledger
	guard    *guard.Guard
	contract *chain.FakeContract
	gateway  trust.Token
	peer     trust.Token // admitted on the clear surface
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	authority := trust.NewAuthority()
	gw, err := authority.Issue(trust.ModuleGateway)
	if err != nil {
		t.Fatalf("issue gateway token: %v", err)
	}
	self, err := authority.Issue(trust.ModuleListings)
	if err != nil {
		t.Fatalf("issue listings token: %v", err)
	}
	peer, err := authority.Issue(trust.ModuleTokenBids)
	if err != nil {
		t.Fatalf("issue peer token: %v", err)
	}

	gate := trust.NewGate("listings", authority)
	clearGate := trust.NewGate("listings/clear", authority)
	colGate := trust.NewGate("collections", authority)
	colPeerGate := trust.NewGate("collections/peer", authority)
	settleGate := trust.NewGate("distributor/settle", authority)
	adminGate := trust.NewGate("distributor/admin", authority)
	for _, w := range []struct {
		g *trust.Gate
		t trust.Token
	}{
		{gate, gw}, {clearGate, peer}, {colGate, gw}, {colPeerGate, self}, {settleGate, self}, {adminGate, gw},
	} {
		if err := w.g.Allow(w.t); err != nil {
			t.Fatalf("wire gate: %v", err)
		}
	}

	registry := chain.NewFakeRegistry()
	contract := registry.Add(colAddr, admin)

	log := logger.NewDefault("test")
	store := memory.New()
	led := ledger.New()
	bus := events.NewBus(8, log)
	g := guard.New()

	dist := distributor.New(distributor.Config{
		FeeBps: 500, FeeCapBps: 2000, FeeReceiver: "NTreasury", Admin: admin,
	}, led, settleGate, adminGate, log)
	cols := collections.New(store, registry, colGate, colPeerGate, bus, 2000, log)
	svc := New(store, cols, dist, registry, g, gate, clearGate, bus, self, operator, log)

	authority.Seal()

	if _, err := cols.Register(ctx, gw, admin, colAddr, 0); err != nil {
		t.Fatalf("register collection: %v", err)
	}
	return &harness{svc: svc, led: led, guard: g, contract: contract, gateway: gw, peer: peer}
}

func (h *harness) mint(tokenID string) {
	h.contract.Mint(tokenID, seller)
	h.contract.Approve(seller, operator, true)
}

func TestListValidations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.List(ctx, h.gateway, seller, "0xunknown", "1", big.NewInt(100)); errors.ReasonOf(err) != errors.ReasonNotRegistered {
		t.Fatalf("expected NotRegistered, got %v", err)
	}
	if _, err := h.svc.List(ctx, h.gateway, seller, colAddr, "1", big.NewInt(0)); errors.ReasonOf(err) != errors.ReasonPriceZero {
		t.Fatalf("expected PriceZero, got %v", err)
	}

	h.contract.Mint("1", "NSomeoneElse")
	if _, err := h.svc.List(ctx, h.gateway, seller, colAddr, "1", big.NewInt(100)); errors.ReasonOf(err) != errors.ReasonNotOwner {
		t.Fatalf("expected NotOwner, got %v", err)
	}

	h.contract.Mint("2", seller) // owned but engine operator not approved
	if _, err := h.svc.List(ctx, h.gateway, seller, colAddr, "2", big.NewInt(100)); errors.ReasonOf(err) != errors.ReasonNotApproved {
		t.Fatalf("expected NotApproved, got %v", err)
	}
}

func TestRelistReplacesUnderFreshID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mint("1")

	first, err := h.svc.List(ctx, h.gateway, seller, colAddr, "1", big.NewInt(100))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	second, err := h.svc.List(ctx, h.gateway, seller, colAddr, "1", big.NewInt(200))
	if err != nil {
		t.Fatalf("relist: %v", err)
	}
	if second.ID <= first.ID {
		t.Fatalf("relist ID %d not after %d", second.ID, first.ID)
	}

	got, err := h.svc.Get(ctx, colAddr, "1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != second.ID || got.Price.Int64() != 200 {
		t.Fatalf("active listing = %+v", got)
	}
}

func TestCancelOnlyBySeller(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mint("1")

	if _, err := h.svc.List(ctx, h.gateway, seller, colAddr, "1", big.NewInt(100)); err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := h.svc.Cancel(ctx, h.gateway, "NMallory", colAddr, "1"); errors.ReasonOf(err) != errors.ReasonNotOwner {
		t.Fatalf("expected NotOwner, got %v", err)
	}
	if err := h.svc.Cancel(ctx, h.gateway, seller, colAddr, "1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := h.svc.Cancel(ctx, h.gateway, seller, colAddr, "1"); errors.ReasonOf(err) != errors.ReasonNotExists {
		t.Fatalf("expected NotExists, got %v", err)
	}
}

func TestBuyRollsBackOnTransferFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mint("1")

	created, err := h.svc.List(ctx, h.gateway, seller, colAddr, "1", big.NewInt(1000))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := h.led.Credit(buyer, big.NewInt(1000)); err != nil {
		t.Fatalf("fund buyer: %v", err)
	}

	h.contract.FailTransfers = true
	err = h.svc.Buy(ctx, h.gateway, buyer, colAddr, "1", big.NewInt(1000))
	if errors.ReasonOf(err) != errors.ReasonTransferFailed {
		t.Fatalf("expected TransferFailed, got %v", err)
	}

	if got := h.led.Balance(buyer).Int64(); got != 1000 {
		t.Fatalf("buyer = %d after rollback", got)
	}
	restored, err := h.svc.Get(ctx, colAddr, "1")
	if err != nil {
		t.Fatalf("listing should be restored: %v", err)
	}
	if restored.ID != created.ID {
		t.Fatalf("restored under ID %d, want %d", restored.ID, created.ID)
	}
}

func TestReentrantCallRejected(t *testing.T) {
	h := newHarness(t)
	ctx, release, err := h.guard.Enter(context.Background(), "outer")
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	defer release()

	err = h.svc.Buy(ctx, h.gateway, buyer, colAddr, "1", big.NewInt(1))
	if errors.ReasonOf(err) != errors.ReasonReentrancy {
		t.Fatalf("expected Reentrancy, got %v", err)
	}
}

func TestClearSurfaceRejectsGateway(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.svc.Clear(context.Background(), h.gateway, colAddr, "1", txn.New())
	if errors.ReasonOf(err) != errors.ReasonUntrusted {
		t.Fatalf("expected Untrusted, got %v", err)
	}
}

func TestClearAbsentListingIsNoop(t *testing.T) {
	h := newHarness(t)
	_, ok, err := h.svc.Clear(context.Background(), h.peer, colAddr, "404", txn.New())
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if ok {
		t.Fatal("clear reported a listing where none exists")
	}
}
