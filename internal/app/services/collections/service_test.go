package collections

import (
	"context"
	"math/big"
	"testing"

	"github.com/R3E-Network/settlement_engine/internal/app/chain"
	"github.com/R3E-Network/settlement_engine/internal/app/events"
	"github.com/R3E-Network/settlement_engine/internal/app/storage/memory"
	"github.com/R3E-Network/settlement_engine/internal/app/trust"
	"github.com/R3E-Network/settlement_engine/internal/app/txn"
	"github.com/R3E-Network/settlement_engine/internal/errors"
	"github.com/R3E-Network/settlement_engine/pkg/logger"
)

const colAddr = "0xc0ffee"

type harness struct {
	svc      *Service
	registry *chain.FakeRegistry
	gateway  trust.Token
	peer     trust.Token
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	authority := trust.NewAuthority()
	gw, err := authority.Issue(trust.ModuleGateway)
	if err != nil {
		t.Fatalf("issue gateway token: %v", err)
	}
	peer, err := authority.Issue(trust.ModuleListings)
	if err != nil {
		t.Fatalf("issue peer token: %v", err)
	}

	gate := trust.NewGate("collections", authority)
	peerGate := trust.NewGate("collections/peer", authority)
	if err := gate.Allow(gw); err != nil {
		t.Fatalf("allow gateway: %v", err)
	}
	if err := peerGate.Allow(peer); err != nil {
		t.Fatalf("allow peer: %v", err)
	}
	authority.Seal()

	registry := chain.NewFakeRegistry()
	log := logger.NewDefault("test")
	return &harness{
		svc:      New(memory.New(), registry, gate, peerGate, events.NewBus(8, log), 2000, log),
		registry: registry,
		gateway:  gw,
		peer:     peer,
	}
}

func TestRegisterVerifiesContractAdmin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registry.Add(colAddr, "admin")

	if _, err := h.svc.Register(ctx, h.gateway, "mallory", colAddr, 100); errors.ReasonOf(err) != errors.ReasonNotAdmin {
		t.Fatalf("expected NotAdmin for non-admin caller, got %v", err)
	}

	record, err := h.svc.Register(ctx, h.gateway, "admin", colAddr, 100)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if record.RoyaltyReceiver != "admin" {
		t.Fatalf("royalty receiver = %q, want the registering admin", record.RoyaltyReceiver)
	}
	if record.RoyaltyFeeBps != 100 || !record.Registered {
		t.Fatalf("unexpected record %+v", record)
	}

	if _, err := h.svc.Register(ctx, h.gateway, "admin", colAddr, 100); errors.ReasonOf(err) != errors.ReasonAlreadyRegistered {
		t.Fatalf("expected AlreadyRegistered, got %v", err)
	}
}

func TestRegisterUnqueryableContractNotEligible(t *testing.T) {
	h := newHarness(t)
	// No contract at the address.
	if _, err := h.svc.Register(context.Background(), h.gateway, "admin", "0xmissing", 0); errors.ReasonOf(err) != errors.ReasonNotAdmin {
		t.Fatalf("expected NotAdmin for unqueryable contract, got %v", err)
	}
}

func TestRegisterRoyaltyAboveCap(t *testing.T) {
	h := newHarness(t)
	h.registry.Add(colAddr, "admin")
	if _, err := h.svc.Register(context.Background(), h.gateway, "admin", colAddr, 2001); errors.ReasonOf(err) != errors.ReasonFeeTooHigh {
		t.Fatalf("expected FeeTooHigh, got %v", err)
	}
}

func TestUpdateRoyaltiesRequiresReceiver(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registry.Add(colAddr, "admin")
	if _, err := h.svc.Register(ctx, h.gateway, "admin", colAddr, 0); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := h.svc.UpdateRoyalties(ctx, h.gateway, "admin", colAddr, "", 100); errors.ReasonOf(err) != errors.ReasonInvalidReceiver {
		t.Fatalf("expected InvalidReceiver, got %v", err)
	}
	// Dropping the royalty to zero clears the receiver requirement.
	record, err := h.svc.UpdateRoyalties(ctx, h.gateway, "admin", colAddr, "", 0)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if record.RoyaltyFeeBps != 0 {
		t.Fatalf("royalty = %d", record.RoyaltyFeeBps)
	}

	if _, err := h.svc.UpdateRoyalties(ctx, h.gateway, "mallory", colAddr, "vault", 100); errors.ReasonOf(err) != errors.ReasonNotAdmin {
		t.Fatalf("expected NotAdmin, got %v", err)
	}
}

func TestRequire(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registry.Add(colAddr, "admin")

	if err := h.svc.Require(ctx, h.peer, colAddr); errors.ReasonOf(err) != errors.ReasonNotRegistered {
		t.Fatalf("expected NotRegistered, got %v", err)
	}
	if _, err := h.svc.Register(ctx, h.gateway, "admin", colAddr, 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.svc.Require(ctx, h.peer, colAddr); err != nil {
		t.Fatalf("require: %v", err)
	}
	// The gateway token is not admitted on the peer surface.
	if err := h.svc.Require(ctx, h.gateway, colAddr); errors.ReasonOf(err) != errors.ReasonUntrusted {
		t.Fatalf("expected Untrusted, got %v", err)
	}
}

func TestRecordSale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registry.Add(colAddr, "admin")
	if _, err := h.svc.Register(ctx, h.gateway, "admin", colAddr, 0); err != nil {
		t.Fatalf("register: %v", err)
	}

	j := txn.New()
	if err := h.svc.RecordSale(ctx, h.peer, colAddr, big.NewInt(1000), 2, j); err != nil {
		t.Fatalf("record sale: %v", err)
	}
	record, err := h.svc.Get(ctx, colAddr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Sales != 2 || record.Volume.Int64() != 1000 {
		t.Fatalf("counters = %d / %s", record.Sales, record.Volume)
	}

	j.Rollback()
	record, err = h.svc.Get(ctx, colAddr)
	if err != nil {
		t.Fatalf("get after rollback: %v", err)
	}
	if record.Sales != 0 || record.Volume.Sign() != 0 {
		t.Fatalf("rollback left counters %d / %s", record.Sales, record.Volume)
	}

	// Unregistered collections keep no counters.
	if err := h.svc.RecordSale(ctx, h.peer, "0xunknown", big.NewInt(1), 1, txn.New()); err != nil {
		t.Fatalf("record sale on unregistered: %v", err)
	}
}
