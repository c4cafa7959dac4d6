// Package listings is the listing registry: at most one active fixed-price
// sell order per (collection, item). Purchases settle through the payment
// distributor and the asset contract; every mutating entry point runs under
// the engine guard with listing state updated before any value moves.
package listings

import (
	"context"
	stderrors "errors"
	"math/big"

	"github.com/R3E-Network/settlement_engine/internal/app/chain"
	"github.com/R3E-Network/settlement_engine/internal/app/domain/listing"
	"github.com/R3E-Network/settlement_engine/internal/app/domain/market"
	"github.com/R3E-Network/settlement_engine/internal/app/events"
	"github.com/R3E-Network/settlement_engine/internal/app/guard"
	"github.com/R3E-Network/settlement_engine/internal/app/services/collections"
	"github.com/R3E-Network/settlement_engine/internal/app/services/distributor"
	"github.com/R3E-Network/settlement_engine/internal/app/storage"
	"github.com/R3E-Network/settlement_engine/internal/app/trust"
	"github.com/R3E-Network/settlement_engine/internal/app/txn"
	"github.com/R3E-Network/settlement_engine/internal/errors"
	"github.com/R3E-Network/settlement_engine/pkg/logger"
)

// Service manages listings.
type Service struct {
	store       storage.ListingStore
	collections *collections.Service
	distributor *distributor.Service
	registry    chain.Registry
	guard       *guard.Guard
	gate        *trust.Gate // gateway
	clearGate   *trust.Gate // bid registries clearing conflicting listings
	bus         *events.Bus
	log         *logger.Logger
	token       trust.Token // identity presented to peer modules
	engineAddr  string      // operator sellers must approve
}

// New constructs a listing registry.
func New(store storage.ListingStore, cols *collections.Service, dist *distributor.Service, registry chain.Registry, g *guard.Guard, gate, clearGate *trust.Gate, bus *events.Bus, token trust.Token, engineAddr string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("listings")
	}
	return &Service{
		store:       store,
		collections: cols,
		distributor: dist,
		registry:    registry,
		guard:       g,
		gate:        gate,
		clearGate:   clearGate,
		bus:         bus,
		token:       token,
		engineAddr:  engineAddr,
		log:         log,
	}
}

// List creates a listing. An existing listing for the same item is implicitly
// cancelled and replaced under a fresh ID.
func (s *Service) List(ctx context.Context, caller trust.Token, seller, collectionAddr, tokenID string, price *big.Int) (listing.Listing, error) {
	if err := s.gate.Check(caller); err != nil {
		return listing.Listing{}, err
	}
	ctx, release, err := s.guard.Enter(ctx, "list")
	if err != nil {
		return listing.Listing{}, err
	}
	defer release()

	if err := s.collections.Require(ctx, s.token, collectionAddr); err != nil {
		return listing.Listing{}, err
	}
	if price == nil || price.Sign() <= 0 {
		return listing.Listing{}, errors.PriceZero()
	}

	contract, err := s.registry.Contract(collectionAddr)
	if err != nil {
		return listing.Listing{}, errors.TransferFailed(err)
	}
	owner, err := contract.OwnerOf(ctx, tokenID)
	if err != nil {
		return listing.Listing{}, errors.TransferFailed(err)
	}
	if owner != seller {
		return listing.Listing{}, errors.NotOwner(seller)
	}
	approved, err := contract.IsApprovedForAll(ctx, seller, s.engineAddr)
	if err != nil {
		return listing.Listing{}, errors.TransferFailed(err)
	}
	if !approved {
		return listing.Listing{}, errors.NotApproved(s.engineAddr)
	}

	j := txn.New()
	var replaced *listing.Listing
	if existing, err := s.store.GetListing(ctx, collectionAddr, tokenID); err == nil {
		if err := s.store.DeleteListing(ctx, collectionAddr, tokenID); err != nil {
			return listing.Listing{}, err
		}
		restored := existing
		j.Record(func() {
			if _, err := s.store.PutListing(ctx, restored); err != nil {
				s.log.WithError(err).Error("listing replace rollback failed")
			}
		})
		replaced = &existing
	} else if !stderrors.Is(err, storage.ErrNotFound) {
		return listing.Listing{}, err
	}

	created, err := s.store.PutListing(ctx, listing.Listing{
		Collection: collectionAddr,
		TokenID:    tokenID,
		Seller:     seller,
		Price:      new(big.Int).Set(price),
	})
	if err != nil {
		j.Rollback()
		return listing.Listing{}, err
	}
	j.Commit()

	if replaced != nil {
		s.bus.Publish(market.Event{
			Type:       market.EventListingCancelled,
			Collection: collectionAddr,
			TokenID:    tokenID,
			ListingID:  replaced.ID,
			Seller:     replaced.Seller,
		})
	}
	s.bus.Publish(market.Event{
		Type:       market.EventListingCreated,
		Collection: collectionAddr,
		TokenID:    tokenID,
		ListingID:  created.ID,
		Seller:     seller,
		Price:      created.Price.String(),
	})
	s.log.WithFields(map[string]interface{}{
		"listing_id": created.ID,
		"collection": collectionAddr,
		"token":      tokenID,
	}).Info("listing created")
	return created, nil
}

// Cancel removes the caller's listing.
func (s *Service) Cancel(ctx context.Context, caller trust.Token, callerAddr, collectionAddr, tokenID string) error {
	if err := s.gate.Check(caller); err != nil {
		return err
	}
	ctx, release, err := s.guard.Enter(ctx, "cancelList")
	if err != nil {
		return err
	}
	defer release()

	existing, err := s.store.GetListing(ctx, collectionAddr, tokenID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return errors.NotExists("listing")
		}
		return err
	}
	if existing.Seller != callerAddr {
		return errors.NotOwner(callerAddr)
	}

	if err := s.store.DeleteListing(ctx, collectionAddr, tokenID); err != nil {
		return err
	}

	s.bus.Publish(market.Event{
		Type:       market.EventListingCancelled,
		Collection: collectionAddr,
		TokenID:    tokenID,
		ListingID:  existing.ID,
		Seller:     existing.Seller,
	})
	return nil
}

// Buy settles one listing. The sent value must equal the price exactly.
func (s *Service) Buy(ctx context.Context, caller trust.Token, buyer, collectionAddr, tokenID string, sentValue *big.Int) error {
	if err := s.gate.Check(caller); err != nil {
		return err
	}
	ctx, release, err := s.guard.Enter(ctx, "buy")
	if err != nil {
		return err
	}
	defer release()

	l, err := s.store.GetListing(ctx, collectionAddr, tokenID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return errors.NotExists("listing")
		}
		return err
	}
	if sentValue == nil || sentValue.Cmp(l.Price) != 0 {
		sent := "0"
		if sentValue != nil {
			sent = sentValue.String()
		}
		return errors.InsufficientValue(l.Price.String(), sent)
	}

	j := txn.New()
	if err := s.settlePurchase(ctx, buyer, l, j); err != nil {
		j.Rollback()
		return err
	}
	j.Commit()

	s.publishSold(l, buyer)
	return nil
}

// BuyBatch settles several listings of one collection atomically. The sent
// value must equal the exact sum of the listed prices; any failure leaves no
// state change.
func (s *Service) BuyBatch(ctx context.Context, caller trust.Token, buyer, collectionAddr string, tokenIDs []string, sentValue *big.Int) error {
	if err := s.gate.Check(caller); err != nil {
		return err
	}
	ctx, release, err := s.guard.Enter(ctx, "buyBatch")
	if err != nil {
		return err
	}
	defer release()

	if len(tokenIDs) == 0 {
		return errors.ZeroAmount()
	}

	// Aggregate precondition first: every item listed, value equals the sum.
	items := make([]listing.Listing, 0, len(tokenIDs))
	total := new(big.Int)
	for _, tokenID := range tokenIDs {
		l, err := s.store.GetListing(ctx, collectionAddr, tokenID)
		if err != nil {
			if stderrors.Is(err, storage.ErrNotFound) {
				return errors.NotExists("listing for item " + tokenID)
			}
			return err
		}
		items = append(items, l)
		total.Add(total, l.Price)
	}
	if sentValue == nil || sentValue.Cmp(total) != 0 {
		sent := "0"
		if sentValue != nil {
			sent = sentValue.String()
		}
		return errors.ValueMismatch(total.String(), sent)
	}

	j := txn.New()
	for _, l := range items {
		if err := s.settlePurchase(ctx, buyer, l, j); err != nil {
			j.Rollback()
			return err
		}
	}
	j.Commit()

	for _, l := range items {
		s.publishSold(l, buyer)
	}
	return nil
}

// settlePurchase removes the listing, distributes payment, and moves the
// item. The listing is deleted before any transfer so a reentrant call
// cannot observe (or resell) stale state.
func (s *Service) settlePurchase(ctx context.Context, buyer string, l listing.Listing, j *txn.Journal) error {
	if err := s.store.DeleteListing(ctx, l.Collection, l.TokenID); err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return errors.NotExists("listing")
		}
		return err
	}
	restored := l
	j.Record(func() {
		if _, err := s.store.PutListing(ctx, restored); err != nil {
			s.log.WithError(err).Error("listing rollback failed")
		}
	})

	record, err := s.collections.Get(ctx, l.Collection)
	if err != nil {
		return err
	}

	if err := s.distributor.Distribute(ctx, s.token, buyer, l.Price, record.RoyaltyReceiver, record.RoyaltyFeeBps, l.Seller, j); err != nil {
		return err
	}

	contract, err := s.registry.Contract(l.Collection)
	if err != nil {
		return errors.TransferFailed(err)
	}
	if err := contract.Transfer(ctx, l.Seller, buyer, l.TokenID); err != nil {
		return errors.TransferFailed(err)
	}
	seller, tokenID := l.Seller, l.TokenID
	j.Record(func() {
		if err := contract.Transfer(ctx, buyer, seller, tokenID); err != nil {
			s.log.WithError(err).Error("item transfer rollback failed")
		}
	})

	return s.collections.RecordSale(ctx, s.token, l.Collection, l.Price, 1, j)
}

func (s *Service) publishSold(l listing.Listing, buyer string) {
	s.bus.Publish(market.Event{
		Type:       market.EventListingSold,
		Collection: l.Collection,
		TokenID:    l.TokenID,
		ListingID:  l.ID,
		Seller:     l.Seller,
		Buyer:      buyer,
		Price:      l.Price.String(),
	})
}

// Clear removes a listing that conflicts with a bid acceptance. Listings
// hold no escrow, so there is nothing to refund. Returns the cleared listing
// so the caller can emit its cancellation after the operation commits.
func (s *Service) Clear(ctx context.Context, caller trust.Token, collectionAddr, tokenID string, j *txn.Journal) (listing.Listing, bool, error) {
	if err := s.clearGate.Check(caller); err != nil {
		return listing.Listing{}, false, err
	}

	l, err := s.store.GetListing(ctx, collectionAddr, tokenID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return listing.Listing{}, false, nil
		}
		return listing.Listing{}, false, err
	}
	if err := s.store.DeleteListing(ctx, collectionAddr, tokenID); err != nil {
		return listing.Listing{}, false, err
	}
	restored := l
	j.Record(func() {
		if _, err := s.store.PutListing(ctx, restored); err != nil {
			s.log.WithError(err).Error("cleared listing rollback failed")
		}
	})
	return l, true, nil
}

// Get returns one listing.
func (s *Service) Get(ctx context.Context, collectionAddr, tokenID string) (listing.Listing, error) {
	l, err := s.store.GetListing(ctx, collectionAddr, tokenID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return listing.Listing{}, errors.NotExists("listing")
	}
	return l, err
}

// ListByCollection returns a collection's active listings.
func (s *Service) ListByCollection(ctx context.Context, collectionAddr string) ([]listing.Listing, error) {
	return s.store.ListListings(ctx, collectionAddr)
}
