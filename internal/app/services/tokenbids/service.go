// Package tokenbids is the token bid registry: one standing offer per
// (collection, item, bidder), escrowed at the offer price. Unlike listings,
// token bids do not require the collection to be registered; an unregistered
// collection simply settles with zero royalty and no counters.
package tokenbids

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

// Service manages token bids.
type Service struct {
	store       storage.TokenBidStore
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

// New constructs a token bid registry.
func New(store storage.TokenBidStore, cols *collections.Service, lst *listings.Service, dist *distributor.Service, registry chain.Registry, g *guard.Guard, gate *trust.Gate, bus *events.Bus, token trust.Token, engineAddr string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("tokenbids")
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

// Bid places a standing offer on one item, escrowing the full price.
func (s *Service) Bid(ctx context.Context, caller trust.Token, bidder, collectionAddr, tokenID string, price *big.Int, sentValue *big.Int) (bid.TokenBid, error) {
	if err := s.gate.Check(caller); err != nil {
		return bid.TokenBid{}, err
	}
	ctx, release, err := s.guard.Enter(ctx, "bidToken")
	if err != nil {
		return bid.TokenBid{}, err
	}
	defer release()

	if collectionAddr == "" || price == nil || price.Sign() <= 0 {
		return bid.TokenBid{}, errors.ZeroAmount()
	}
	if sentValue == nil || sentValue.Cmp(price) != 0 {
		sent := "0"
		if sentValue != nil {
			sent = sentValue.String()
		}
		return bid.TokenBid{}, errors.ValueMismatch(price.String(), sent)
	}

	if _, err := s.store.GetTokenBid(ctx, collectionAddr, tokenID, bidder); err == nil {
		return bid.TokenBid{}, errors.AlreadyBid(bidder)
	} else if !stderrors.Is(err, storage.ErrNotFound) {
		return bid.TokenBid{}, err
	}

	j := txn.New()
	created, err := s.store.CreateTokenBid(ctx, bid.TokenBid{
		Collection: collectionAddr,
		TokenID:    tokenID,
		Bidder:     bidder,
		Price:      new(big.Int).Set(price),
	})
	if err != nil {
		if stderrors.Is(err, storage.ErrAlreadyExists) {
			return bid.TokenBid{}, errors.AlreadyBid(bidder)
		}
		return bid.TokenBid{}, err
	}
	j.Record(func() {
		if err := s.store.DeleteTokenBid(ctx, collectionAddr, tokenID, bidder); err != nil {
			s.log.WithError(err).Error("token bid rollback failed")
		}
	})

	if err := s.distributor.Collect(ctx, s.token, bidder, price, j); err != nil {
		j.Rollback()
		return bid.TokenBid{}, err
	}
	j.Commit()

	s.bus.Publish(market.Event{
		Type:       market.EventTokenBidCreated,
		Collection: collectionAddr,
		TokenID:    tokenID,
		Bidder:     bidder,
		Price:      price.String(),
	})
	return created, nil
}

// Cancel withdraws the caller's bid and refunds its escrow.
func (s *Service) Cancel(ctx context.Context, caller trust.Token, callerAddr, collectionAddr, tokenID string) error {
	if err := s.gate.Check(caller); err != nil {
		return err
	}
	ctx, release, err := s.guard.Enter(ctx, "cancelTokenBid")
	if err != nil {
		return err
	}
	defer release()

	b, err := s.store.GetTokenBid(ctx, collectionAddr, tokenID, callerAddr)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return errors.NotBidder(callerAddr)
		}
		return err
	}

	j := txn.New()
	if err := s.store.DeleteTokenBid(ctx, collectionAddr, tokenID, callerAddr); err != nil {
		return err
	}
	restored := b
	j.Record(func() {
		if _, err := s.store.CreateTokenBid(ctx, restored); err != nil {
			s.log.WithError(err).Error("cancelled token bid rollback failed")
		}
	})

	if err := s.distributor.Refund(ctx, s.token, callerAddr, b.Price, j); err != nil {
		j.Rollback()
		return err
	}
	j.Commit()

	s.bus.Publish(market.Event{
		Type:       market.EventTokenBidCancelled,
		Collection: collectionAddr,
		TokenID:    tokenID,
		Bidder:     callerAddr,
	})
	return nil
}

// Accept settles a bid: the bid is removed, any conflicting listing cleared,
// the item transferred, and the escrowed price distributed.
func (s *Service) Accept(ctx context.Context, caller trust.Token, seller, collectionAddr, bidder, tokenID string) error {
	if err := s.gate.Check(caller); err != nil {
		return err
	}
	ctx, release, err := s.guard.Enter(ctx, "acceptTokenBid")
	if err != nil {
		return err
	}
	defer release()

	b, err := s.store.GetTokenBid(ctx, collectionAddr, tokenID, bidder)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return errors.NotExists("token bid")
		}
		return err
	}

	contract, err := s.registry.Contract(collectionAddr)
	if err != nil {
		return errors.TransferFailed(err)
	}
	owner, err := contract.OwnerOf(ctx, tokenID)
	if err != nil {
		return errors.TransferFailed(err)
	}
	if owner != seller {
		return errors.NotOwner(seller)
	}
	approved, err := contract.IsApprovedForAll(ctx, seller, s.engineAddr)
	if err != nil {
		return errors.TransferFailed(err)
	}
	if !approved {
		return errors.NotApproved(s.engineAddr)
	}

	j := txn.New()
	if err := s.store.DeleteTokenBid(ctx, collectionAddr, tokenID, bidder); err != nil {
		return err
	}
	restored := b
	j.Record(func() {
		if _, err := s.store.CreateTokenBid(ctx, restored); err != nil {
			s.log.WithError(err).Error("accepted token bid rollback failed")
		}
	})

	cleared, hadListing, err := s.listings.Clear(ctx, s.token, collectionAddr, tokenID, j)
	if err != nil {
		j.Rollback()
		return err
	}

	if err := contract.Transfer(ctx, seller, bidder, tokenID); err != nil {
		j.Rollback()
		return errors.TransferFailed(err)
	}
	j.Record(func() {
		if err := contract.Transfer(ctx, bidder, seller, tokenID); err != nil {
			s.log.WithError(err).Error("item transfer rollback failed")
		}
	})

	royaltyReceiver, royaltyBps := s.royaltyPolicy(ctx, collectionAddr)
	if err := s.distributor.Distribute(ctx, s.token, ledger.EngineAccount, b.Price, royaltyReceiver, royaltyBps, seller, j); err != nil {
		j.Rollback()
		return err
	}

	if err := s.collections.RecordSale(ctx, s.token, collectionAddr, b.Price, 1, j); err != nil {
		j.Rollback()
		return err
	}
	j.Commit()

	if hadListing {
		s.bus.Publish(market.Event{
			Type:       market.EventListingCancelled,
			Collection: collectionAddr,
			TokenID:    tokenID,
			ListingID:  cleared.ID,
			Seller:     cleared.Seller,
		})
	}
	s.bus.Publish(market.Event{
		Type:       market.EventBidSold,
		Collection: collectionAddr,
		TokenID:    tokenID,
		Seller:     seller,
		Bidder:     bidder,
		Buyer:      bidder,
		Price:      b.Price.String(),
	})
	return nil
}

func (s *Service) royaltyPolicy(ctx context.Context, collectionAddr string) (string, uint32) {
	record, err := s.collections.Get(ctx, collectionAddr)
	if err != nil {
		return "", 0
	}
	return record.RoyaltyReceiver, record.RoyaltyFeeBps
}

// Get returns one token bid.
func (s *Service) Get(ctx context.Context, collectionAddr, tokenID, bidder string) (bid.TokenBid, error) {
	b, err := s.store.GetTokenBid(ctx, collectionAddr, tokenID, bidder)
	if stderrors.Is(err, storage.ErrNotFound) {
		return bid.TokenBid{}, errors.NotExists("token bid")
	}
	return b, err
}

// ListByToken returns all bids on one item.
func (s *Service) ListByToken(ctx context.Context, collectionAddr, tokenID string) ([]bid.TokenBid, error) {
	return s.store.ListTokenBids(ctx, collectionAddr, tokenID)
}
