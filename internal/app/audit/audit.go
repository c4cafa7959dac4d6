// Package audit runs the periodic escrow conservation check: the engine
// account's ledger balance must equal the total escrow of every outstanding
// bid. A mismatch means value leaked out of (or into) the engine.
package audit

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/settlement_engine/internal/app/ledger"
	"github.com/R3E-Network/settlement_engine/internal/app/storage"
	"github.com/R3E-Network/settlement_engine/pkg/logger"
)

// Auditor periodically verifies escrow conservation.
type Auditor struct {
	led      *ledger.Ledger
	colBids  storage.CollectionBidStore
	tokBids  storage.TokenBidStore
	schedule string
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	lastErr error
}

// New creates an auditor. Schedule uses cron syntax, e.g. "@every 1m".
func New(led *ledger.Ledger, colBids storage.CollectionBidStore, tokBids storage.TokenBidStore, schedule string, log *logger.Logger) *Auditor {
	if log == nil {
		log = logger.NewDefault("audit")
	}
	return &Auditor{
		led:      led,
		colBids:  colBids,
		tokBids:  tokBids,
		schedule: schedule,
		log:      log,
	}
}

// Name implements system.Service.
func (a *Auditor) Name() string { return "audit" }

// Start schedules the conservation check.
func (a *Auditor) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cron != nil {
		return fmt.Errorf("auditor already started")
	}
	c := cron.New()
	if _, err := c.AddFunc(a.schedule, a.run); err != nil {
		return fmt.Errorf("schedule %q: %w", a.schedule, err)
	}
	c.Start()
	a.cron = c
	a.log.WithField("schedule", a.schedule).Info("escrow auditor started")
	return nil
}

// Stop halts the schedule, waiting for an in-flight check to finish.
func (a *Auditor) Stop(ctx context.Context) error {
	a.mu.Lock()
	c := a.cron
	a.cron = nil
	a.mu.Unlock()

	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Auditor) run() {
	if err := a.Check(context.Background()); err != nil {
		a.log.WithError(err).Error("escrow conservation violated")
	}
}

// LastError returns the result of the most recent check, scheduled or direct.
func (a *Auditor) LastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// Check compares the engine account balance against the escrow owed to every
// outstanding bid and records the outcome for LastError.
func (a *Auditor) Check(ctx context.Context) error {
	err := a.check(ctx)

	a.mu.Lock()
	a.lastErr = err
	a.mu.Unlock()

	return err
}

func (a *Auditor) check(ctx context.Context) error {
	expected := new(big.Int)

	colBids, err := a.colBids.ListAllCollectionBids(ctx)
	if err != nil {
		return fmt.Errorf("list collection bids: %w", err)
	}
	for _, b := range colBids {
		expected.Add(expected, b.Escrow())
	}

	tokBids, err := a.tokBids.ListAllTokenBids(ctx)
	if err != nil {
		return fmt.Errorf("list token bids: %w", err)
	}
	for _, b := range tokBids {
		expected.Add(expected, b.Price)
	}

	held := a.led.Balance(ledger.EngineAccount)
	if held.Cmp(expected) != 0 {
		return fmt.Errorf("engine holds %s but outstanding bids total %s", held, expected)
	}
	return nil
}
