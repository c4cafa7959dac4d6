// Package collectionbids is the collection bid registry: one standing bulk
// offer per (collection, bidder), escrowed at price × quantity for its whole
// lifetime. Acceptance fulfills any subset of the quantity, clears
// conflicting listings, and pays the seller one aggregate distribution.
package collectionbids

import (
	"context"
	stderrors "errors"
	"math/big"

	"github.com/R3E-Network/settlement_engine/internal/app/chain"
	"github.com/R3E-Network/settlement_engine/internal/app/domain/bid"
	"github.com/R3E-Network/settlement_engine/internal/app/domain/market"
	"github.com/R3E-Network/settlement_engine/internal/app/events"
	"github.com/R3E-Network/settlement_engine/internal/app/guard"
	"github.com/R3E-Network/settlement_engine/internal/app/ledger"
	"github.com/R3E-Network/settlement_engine/internal/app/services/collections"
	"github.com/R3E-Network/settlement_engine/internal/app/services/distributor"
	"github.com/R3E-Network/settlement_engine/internal/app/services/listings"
	"github.com/R3E-Network/settlement_engine/internal/app/storage"
	"github.com/R3E-Network/settlement_engine/internal/app/trust"
	"github.com/R3E-Network/settlement_engine/internal/app/txn"
	"github.com/R3E-Network/settlement_engine/internal/errors"
	"github.com/R3E-Network/settlement_engine/pkg/logger"
)

// Service manages collection bids.
type Service struct {
	store       storage.CollectionBidStore
	collections *collections.Service
	listings    *listings.Service
	distributor *distributor.Service
	registry    chain.Registry
	guard       *guard.Guard
	gate        *trust.Gate
	bus         *events.Bus
	log         *logger.Logger
	token       trust.Token
	engineAddr  string
}

// New constructs a collection bid registry.
func New(store storage.CollectionBidStore, cols *collections.Service, lst *listings.Service, dist *distributor.Service, registry chain.Registry, g *guard.Guard, gate *trust.Gate, bus *events.Bus, token trust.Token, engineAddr string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("collectionbids")
	}
	return &Service{
		store:       store,
		collections: cols,
		listings:    lst,
		distributor: dist,
		registry:    registry,
		guard:       g,
		gate:        gate,
		bus:         bus,
		token:       token,
		engineAddr:  engineAddr,
		log:         log,
	}
}

// Bid places a standing offer on a collection, escrowing price × quantity.
func (s *Service) Bid(ctx context.Context, caller trust.Token, bidder, collectionAddr string, price *big.Int, quantity uint64, sentValue *big.Int) (bid.CollectionBid, error) {
	if err := s.gate.Check(caller); err != nil {
		return bid.CollectionBid{}, err
	}
	ctx, release, err := s.guard.Enter(ctx, "bidCollection")
	if err != nil {
		return bid.CollectionBid{}, err
	}
	defer release()

	if price == nil || price.Sign() <= 0 || quantity == 0 {
		return bid.CollectionBid{}, errors.ZeroAmount()
	}
	if err := s.collections.Require(ctx, s.token, collectionAddr); err != nil {
		return bid.CollectionBid{}, err
	}

	if _, err := s.store.GetCollectionBid(ctx, collectionAddr, bidder); err == nil {
		return bid.CollectionBid{}, errors.AlreadyBid(bidder)
	} else if !stderrors.Is(err, storage.ErrNotFound) {
		return bid.CollectionBid{}, err
	}

	escrow := new(big.Int).Mul(price, new(big.Int).SetUint64(quantity))
	if sentValue == nil || sentValue.Cmp(escrow) != 0 {
		sent := "0"
		if sentValue != nil {
			sent = sentValue.String()
		}
		return bid.CollectionBid{}, errors.ValueMismatch(escrow.String(), sent)
	}

	j := txn.New()
	created, err := s.store.CreateCollectionBid(ctx, bid.CollectionBid{
		Collection: collectionAddr,
		Bidder:     bidder,
		Quantity:   quantity,
		Price:      new(big.Int).Set(price),
	})
	if err != nil {
		if stderrors.Is(err, storage.ErrAlreadyExists) {
			return bid.CollectionBid{}, errors.AlreadyBid(bidder)
		}
		return bid.CollectionBid{}, err
	}
	j.Record(func() {
		if err := s.store.DeleteCollectionBid(ctx, collectionAddr, bidder); err != nil {
			s.log.WithError(err).Error("bid rollback failed")
		}
	})

	if err := s.distributor.Collect(ctx, s.token, bidder, escrow, j); err != nil {
		j.Rollback()
		return bid.CollectionBid{}, err
	}
	j.Commit()

	s.bus.Publish(market.Event{
		Type:       market.EventCollectionBidCreated,
		Collection: collectionAddr,
		Bidder:     bidder,
		Price:      price.String(),
		Quantity:   quantity,
	})
	return created, nil
}

// Cancel withdraws the caller's bid and refunds its full escrow. The record
// is deleted before the refund moves.
func (s *Service) Cancel(ctx context.Context, caller trust.Token, callerAddr, collectionAddr string) error {
	if err := s.gate.Check(caller); err != nil {
		return err
	}
	ctx, release, err := s.guard.Enter(ctx, "cancelCollectionBid")
	if err != nil {
		return err
	}
	defer release()

	b, err := s.store.GetCollectionBid(ctx, collectionAddr, callerAddr)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return errors.NotBidder(callerAddr)
		}
		return err
	}

	j := txn.New()
	if err := s.store.DeleteCollectionBid(ctx, collectionAddr, callerAddr); err != nil {
		return err
	}
	restored := b
	j.Record(func() {
		if _, err := s.store.CreateCollectionBid(ctx, restored); err != nil {
			s.log.WithError(err).Error("cancelled bid rollback failed")
		}
	})

	if err := s.distributor.Refund(ctx, s.token, callerAddr, b.Escrow(), j); err != nil {
		j.Rollback()
		return err
	}
	j.Commit()

	s.bus.Publish(market.Event{
		Type:       market.EventCollectionBidCancelled,
		Collection: collectionAddr,
		Bidder:     callerAddr,
	})
	return nil
}

// Accept fulfills items against a bid: the seller hands over the listed
// items, the bid's quantity shrinks (deleting at zero), and one aggregate
// payment of price × len(items) is distributed from escrow. All or nothing.
func (s *Service) Accept(ctx context.Context, caller trust.Token, seller, collectionAddr, bidder string, items []string) error {
	if err := s.gate.Check(caller); err != nil {
		return err
	}
	ctx, release, err := s.guard.Enter(ctx, "acceptCollectionBid")
	if err != nil {
		return err
	}
	defer release()

	if len(items) == 0 {
		return errors.ZeroAmount()
	}

	b, err := s.store.GetCollectionBid(ctx, collectionAddr, bidder)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return errors.NotExists("collection bid")
		}
		return err
	}
	if uint64(len(items)) > b.Quantity {
		return errors.QuantityExceeds(uint64(len(items)), b.Quantity)
	}

	contract, err := s.registry.Contract(collectionAddr)
	if err != nil {
		return errors.TransferFailed(err)
	}
	balance, err := contract.BalanceOf(ctx, seller)
	if err != nil {
		return errors.TransferFailed(err)
	}
	if balance.Cmp(big.NewInt(int64(len(items)))) < 0 {
		return errors.InsufficientBalance(seller)
	}
	approved, err := contract.IsApprovedForAll(ctx, seller, s.engineAddr)
	if err != nil {
		return errors.TransferFailed(err)
	}
	if !approved {
		return errors.NotApproved(s.engineAddr)
	}

	j := txn.New()

	// Decrement the bid before any transfer.
	prev := b
	prev.Price = new(big.Int).Set(b.Price)
	remaining := b.Quantity - uint64(len(items))
	if remaining == 0 {
		if err := s.store.DeleteCollectionBid(ctx, collectionAddr, bidder); err != nil {
			return err
		}
		j.Record(func() {
			if _, err := s.store.CreateCollectionBid(ctx, prev); err != nil {
				s.log.WithError(err).Error("accepted bid rollback failed")
			}
		})
	} else {
		b.Quantity = remaining
		if _, err := s.store.UpdateCollectionBid(ctx, b); err != nil {
			return err
		}
		j.Record(func() {
			if _, err := s.store.UpdateCollectionBid(ctx, prev); err != nil {
				s.log.WithError(err).Error("accepted bid rollback failed")
			}
		})
	}

	var cleared []market.Event
	for _, item := range items {
		owner, err := contract.OwnerOf(ctx, item)
		if err != nil {
			j.Rollback()
			return errors.TransferFailed(err)
		}
		if owner != seller {
			j.Rollback()
			return errors.NotOwner(seller)
		}

		if l, ok, err := s.listings.Clear(ctx, s.token, collectionAddr, item, j); err != nil {
			j.Rollback()
			return err
		} else if ok {
			cleared = append(cleared, market.Event{
				Type:       market.EventListingCancelled,
				Collection: collectionAddr,
				TokenID:    item,
				ListingID:  l.ID,
				Seller:     l.Seller,
			})
		}

		if err := contract.Transfer(ctx, seller, bidder, item); err != nil {
			j.Rollback()
			return errors.TransferFailed(err)
		}
		movedItem := item
		j.Record(func() {
			if err := contract.Transfer(ctx, bidder, seller, movedItem); err != nil {
				s.log.WithError(err).Error("item transfer rollback failed")
			}
		})
	}

	total := new(big.Int).Mul(b.Price, big.NewInt(int64(len(items))))
	royaltyReceiver, royaltyBps := s.royaltyPolicy(ctx, collectionAddr)
	if err := s.distributor.Distribute(ctx, s.token, ledger.EngineAccount, total, royaltyReceiver, royaltyBps, seller, j); err != nil {
		j.Rollback()
		return err
	}

	if err := s.collections.RecordSale(ctx, s.token, collectionAddr, total, uint64(len(items)), j); err != nil {
		j.Rollback()
		return err
	}
	j.Commit()

	for _, e := range cleared {
		s.bus.Publish(e)
	}
	for _, item := range items {
		s.bus.Publish(market.Event{
			Type:       market.EventBidSold,
			Collection: collectionAddr,
			TokenID:    item,
			Seller:     seller,
			Bidder:     bidder,
			Buyer:      bidder,
			Price:      b.Price.String(),
		})
	}
	return nil
}

func (s *Service) royaltyPolicy(ctx context.Context, collectionAddr string) (string, uint32) {
	record, err := s.collections.Get(ctx, collectionAddr)
	if err != nil {
		return "", 0
	}
	return record.RoyaltyReceiver, record.RoyaltyFeeBps
}

// Get returns a bidder's bid on a collection.
func (s *Service) Get(ctx context.Context, collectionAddr, bidder string) (bid.CollectionBid, error) {
	b, err := s.store.GetCollectionBid(ctx, collectionAddr, bidder)
	if stderrors.Is(err, storage.ErrNotFound) {
		return bid.CollectionBid{}, errors.NotExists("collection bid")
	}
	return b, err
}

// ListByCollection returns all bids on a collection.
func (s *Service) ListByCollection(ctx context.Context, collectionAddr string) ([]bid.CollectionBid, error) {
	return s.store.ListCollectionBids(ctx, collectionAddr)
}
