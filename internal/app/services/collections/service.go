// Package collections is the collection registry: it onboards asset
// collections after verifying the caller against the contract's reported
// administrator, owns the royalty policy, and keeps running volume and sale
// counters.
package collections

import (
	"context"
	stderrors "errors"
	"math/big"

	"github.com/R3E-Network/settlement_engine/internal/app/chain"
	"github.com/R3E-Network/settlement_engine/internal/app/domain/collection"
	"github.com/R3E-Network/settlement_engine/internal/app/domain/market"
	"github.com/R3E-Network/settlement_engine/internal/app/events"
	"github.com/R3E-Network/settlement_engine/internal/app/storage"
	"github.com/R3E-Network/settlement_engine/internal/app/trust"
	"github.com/R3E-Network/settlement_engine/internal/app/txn"
	"github.com/R3E-Network/settlement_engine/internal/errors"
	"github.com/R3E-Network/settlement_engine/pkg/logger"
)

// Service manages collection records.
type Service struct {
	store     storage.CollectionStore
	registry  chain.Registry
	gate      *trust.Gate // gateway: register and royalty updates
	peerGate  *trust.Gate // listing and bid registries: lookups and counters
	bus       *events.Bus
	log       *logger.Logger
	feeCapBps uint32
}

// New constructs a collection registry.
func New(store storage.CollectionStore, registry chain.Registry, gate, peerGate *trust.Gate, bus *events.Bus, feeCapBps uint32, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("collections")
	}
	return &Service{
		store:     store,
		registry:  registry,
		gate:      gate,
		peerGate:  peerGate,
		bus:       bus,
		log:       log,
		feeCapBps: feeCapBps,
	}
}

// Register onboards a collection. The caller must be the administrator the
// collection contract itself reports; a contract that cannot answer the
// admin query is not eligible.
func (s *Service) Register(ctx context.Context, caller trust.Token, callerAddr, collectionAddr string, royaltyBps uint32) (collection.Collection, error) {
	if err := s.gate.Check(caller); err != nil {
		return collection.Collection{}, err
	}
	if collectionAddr == "" {
		return collection.Collection{}, errors.New(errors.CategoryValidation, errors.ReasonInvalidReceiver, "collection address must not be empty")
	}
	if royaltyBps > s.feeCapBps {
		return collection.Collection{}, errors.FeeTooHigh(royaltyBps, s.feeCapBps)
	}

	if _, err := s.store.GetCollection(ctx, collectionAddr); err == nil {
		return collection.Collection{}, errors.AlreadyRegistered(collectionAddr)
	} else if !stderrors.Is(err, storage.ErrNotFound) {
		return collection.Collection{}, err
	}

	contract, err := s.registry.Contract(collectionAddr)
	if err != nil {
		return collection.Collection{}, errors.New(errors.CategoryAuthorization, errors.ReasonNotAdmin, "collection not eligible: %v", err)
	}
	admin, err := contract.Admin(ctx)
	if err != nil {
		return collection.Collection{}, errors.New(errors.CategoryAuthorization, errors.ReasonNotAdmin, "collection not eligible: %v", err)
	}
	if admin != callerAddr {
		return collection.Collection{}, errors.NotAdmin(callerAddr)
	}

	record := collection.Collection{
		Address:         collectionAddr,
		RoyaltyReceiver: callerAddr,
		RoyaltyFeeBps:   royaltyBps,
		Volume:          new(big.Int),
		Registered:      true,
	}
	created, err := s.store.CreateCollection(ctx, record)
	if err != nil {
		if stderrors.Is(err, storage.ErrAlreadyExists) {
			return collection.Collection{}, errors.AlreadyRegistered(collectionAddr)
		}
		return collection.Collection{}, err
	}

	s.bus.Publish(market.Event{
		Type:       market.EventCollectionRegistered,
		Collection: collectionAddr,
	})
	s.log.WithFields(map[string]interface{}{
		"collection":  collectionAddr,
		"royalty_bps": royaltyBps,
	}).Info("collection registered")
	return created, nil
}

// UpdateRoyalties changes a collection's royalty policy. Only the contract's
// current administrator may do so, and the fee cap is re-checked.
func (s *Service) UpdateRoyalties(ctx context.Context, caller trust.Token, callerAddr, collectionAddr, receiver string, royaltyBps uint32) (collection.Collection, error) {
	if err := s.gate.Check(caller); err != nil {
		return collection.Collection{}, err
	}
	if royaltyBps > s.feeCapBps {
		return collection.Collection{}, errors.FeeTooHigh(royaltyBps, s.feeCapBps)
	}
	if royaltyBps > 0 && receiver == "" {
		return collection.Collection{}, errors.InvalidReceiver()
	}

	record, err := s.store.GetCollection(ctx, collectionAddr)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return collection.Collection{}, errors.NotRegistered(collectionAddr)
		}
		return collection.Collection{}, err
	}

	contract, err := s.registry.Contract(collectionAddr)
	if err != nil {
		return collection.Collection{}, errors.New(errors.CategoryAuthorization, errors.ReasonNotAdmin, "collection not eligible: %v", err)
	}
	admin, err := contract.Admin(ctx)
	if err != nil {
		return collection.Collection{}, errors.New(errors.CategoryAuthorization, errors.ReasonNotAdmin, "collection not eligible: %v", err)
	}
	if admin != callerAddr {
		return collection.Collection{}, errors.NotAdmin(callerAddr)
	}

	record.RoyaltyReceiver = receiver
	record.RoyaltyFeeBps = royaltyBps
	updated, err := s.store.UpdateCollection(ctx, record)
	if err != nil {
		return collection.Collection{}, err
	}

	s.bus.Publish(market.Event{
		Type:       market.EventRoyaltyUpdated,
		Collection: collectionAddr,
	})
	return updated, nil
}

// Require verifies a collection is registered; used by the listing and bid
// registries before accepting work against it.
func (s *Service) Require(ctx context.Context, caller trust.Token, collectionAddr string) error {
	if err := s.peerGate.Check(caller); err != nil {
		return err
	}
	_, err := s.store.GetCollection(ctx, collectionAddr)
	if stderrors.Is(err, storage.ErrNotFound) {
		return errors.NotRegistered(collectionAddr)
	}
	return err
}

// RecordSale adds a settled sale to the collection's running counters. An
// unregistered collection (token bids allow this) keeps no counters. The
// counter update is journaled.
func (s *Service) RecordSale(ctx context.Context, caller trust.Token, collectionAddr string, amount *big.Int, count uint64, j *txn.Journal) error {
	if err := s.peerGate.Check(caller); err != nil {
		return err
	}

	record, err := s.store.GetCollection(ctx, collectionAddr)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}

	prev := record
	prev.Volume = new(big.Int).Set(record.Volume)

	record.Volume = new(big.Int).Add(record.Volume, amount)
	record.Sales += count
	if _, err := s.store.UpdateCollection(ctx, record); err != nil {
		return err
	}
	j.Record(func() {
		if _, err := s.store.UpdateCollection(ctx, prev); err != nil {
			s.log.WithError(err).Error("sale counter rollback failed")
		}
	})
	return nil
}

// Get returns a collection record.
func (s *Service) Get(ctx context.Context, collectionAddr string) (collection.Collection, error) {
	record, err := s.store.GetCollection(ctx, collectionAddr)
	if stderrors.Is(err, storage.ErrNotFound) {
		return collection.Collection{}, errors.NotRegistered(collectionAddr)
	}
	return record, err
}

// List returns all collection records.
func (s *Service) List(ctx context.Context) ([]collection.Collection, error) {
	return s.store.ListCollections(ctx)
}
