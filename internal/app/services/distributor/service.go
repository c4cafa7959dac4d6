// Package distributor is the payment engine: it collects bid escrow, splits
// sale prices into fee, royalty, and seller shares, and refunds cancelled
// bids. It holds no per-trade state, only the fee configuration, and it is
// the only module that moves ledger value.
package distributor

import (
	"context"
	"math/big"
	"sync"

	"github.com/R3E-Network/settlement_engine/internal/app/domain/market"
	"github.com/R3E-Network/settlement_engine/internal/app/ledger"
	"github.com/R3E-Network/settlement_engine/internal/app/trust"
	"github.com/R3E-Network/settlement_engine/internal/app/txn"
	"github.com/R3E-Network/settlement_engine/internal/errors"
	"github.com/R3E-Network/settlement_engine/pkg/logger"
)

// Config holds the distributor's fee parameters.
type Config struct {
	FeeBps      uint32
	FeeCapBps   uint32
	FeeReceiver string
	Admin       string
}

// Service is the payment distributor.
type Service struct {
	mu          sync.RWMutex
	feeBps      uint32
	feeCapBps   uint32
	feeReceiver string
	admin       string

	ledger     *ledger.Ledger
	settleGate *trust.Gate // listing and bid registries
	adminGate  *trust.Gate // gateway only
	log        *logger.Logger
}

// New constructs a distributor. settleGate admits the registries that settle
// trades; adminGate admits the gateway's administrative path.
func New(cfg Config, led *ledger.Ledger, settleGate, adminGate *trust.Gate, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("distributor")
	}
	return &Service{
		feeBps:      cfg.FeeBps,
		feeCapBps:   cfg.FeeCapBps,
		feeReceiver: cfg.FeeReceiver,
		admin:       cfg.Admin,
		ledger:      led,
		settleGate:  settleGate,
		adminGate:   adminGate,
		log:         log,
	}
}

// FeeBps returns the current marketplace fee.
func (s *Service) FeeBps() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feeBps
}

// FeeReceiver returns the current fee receiver.
func (s *Service) FeeReceiver() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feeReceiver
}

// Collect moves bid escrow from a bidder's deposit into the engine account.
// The compensating transfer is journaled.
func (s *Service) Collect(_ context.Context, caller trust.Token, from string, amount *big.Int, j *txn.Journal) error {
	if err := s.settleGate.Check(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errors.ZeroAmount()
	}

	if err := s.ledger.Transfer(from, ledger.EngineAccount, amount); err != nil {
		return errors.TransferFailed(err)
	}
	value := new(big.Int).Set(amount)
	j.Record(func() {
		if err := s.ledger.Transfer(ledger.EngineAccount, from, value); err != nil {
			s.log.WithError(err).Error("escrow collect rollback failed")
		}
	})
	return nil
}

// Refund returns escrow to a bid canceller.
func (s *Service) Refund(_ context.Context, caller trust.Token, recipient string, amount *big.Int, j *txn.Journal) error {
	if err := s.settleGate.Check(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errors.ZeroAmount()
	}

	if err := s.ledger.Transfer(ledger.EngineAccount, recipient, amount); err != nil {
		return errors.TransferFailed(err)
	}
	value := new(big.Int).Set(amount)
	j.Record(func() {
		if err := s.ledger.Transfer(recipient, ledger.EngineAccount, value); err != nil {
			s.log.WithError(err).Error("refund rollback failed")
		}
	})
	return nil
}

// Distribute splits price into fee, royalty, and seller shares and pays each
// from the payer account. The floor-division remainder accrues to the
// seller. Any failed transfer unwinds the shares already paid.
func (s *Service) Distribute(_ context.Context, caller trust.Token, payer string, price *big.Int, royaltyReceiver string, royaltyBps uint32, seller string, j *txn.Journal) error {
	if err := s.settleGate.Check(caller); err != nil {
		return err
	}
	if price == nil || price.Sign() <= 0 {
		return errors.ZeroAmount()
	}

	s.mu.RLock()
	feeBps := s.feeBps
	feeReceiver := s.feeReceiver
	s.mu.RUnlock()

	split := market.ComputeSplit(price, feeBps, royaltyBps)

	if split.Fee.Sign() > 0 && feeReceiver == "" {
		return errors.InvalidReceiver()
	}
	if split.Royalty.Sign() > 0 && royaltyReceiver == "" {
		return errors.InvalidReceiver()
	}

	inner := txn.New()
	pay := func(to string, amount *big.Int) error {
		if amount.Sign() == 0 {
			return nil
		}
		if err := s.ledger.Transfer(payer, to, amount); err != nil {
			return errors.TransferFailed(err)
		}
		value := new(big.Int).Set(amount)
		inner.Record(func() {
			if err := s.ledger.Transfer(to, payer, value); err != nil {
				s.log.WithError(err).Error("distribution rollback failed")
			}
		})
		return nil
	}

	if err := pay(feeReceiver, split.Fee); err != nil {
		inner.Rollback()
		return err
	}
	if err := pay(seller, split.SellerShare); err != nil {
		inner.Rollback()
		return err
	}
	if err := pay(royaltyReceiver, split.Royalty); err != nil {
		inner.Rollback()
		return err
	}

	// Hand the completed payout's compensation to the operation journal.
	j.Record(inner.Rollback)

	s.log.WithFields(map[string]interface{}{
		"payer":   payer,
		"seller":  seller,
		"price":   price.String(),
		"fee":     split.Fee.String(),
		"royalty": split.Royalty.String(),
	}).Debug("sale distributed")
	return nil
}

// UpdateFee sets the marketplace fee, admin only.
func (s *Service) UpdateFee(_ context.Context, caller trust.Token, callerAddr string, feeBps uint32) error {
	if err := s.adminGate.Check(caller); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if callerAddr != s.admin {
		return errors.NotAdmin(callerAddr)
	}
	if feeBps > s.feeCapBps {
		return errors.FeeTooHigh(feeBps, s.feeCapBps)
	}

	s.feeBps = feeBps
	s.log.WithField("fee_bps", feeBps).Info("marketplace fee updated")
	return nil
}

// UpdateFeeReceiver sets the fee receiver, admin only.
func (s *Service) UpdateFeeReceiver(_ context.Context, caller trust.Token, callerAddr, receiver string) error {
	if err := s.adminGate.Check(caller); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if callerAddr != s.admin {
		return errors.NotAdmin(callerAddr)
	}
	if receiver == "" {
		return errors.InvalidReceiver()
	}

	s.feeReceiver = receiver
	s.log.WithField("fee_receiver", receiver).Info("fee receiver updated")
	return nil
}
