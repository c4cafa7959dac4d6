package app

import (
	"context"
	"fmt"

	"github.com/R3E-Network/settlement_engine/internal/app/audit"
	"github.com/R3E-Network/settlement_engine/internal/app/chain"
	"github.com/R3E-Network/settlement_engine/internal/app/events"
	"github.com/R3E-Network/settlement_engine/internal/app/guard"
	"github.com/R3E-Network/settlement_engine/internal/app/ledger"
	"github.com/R3E-Network/settlement_engine/internal/app/metrics"
	"github.com/R3E-Network/settlement_engine/internal/app/services/collectionbids"
	"github.com/R3E-Network/settlement_engine/internal/app/services/collections"
	"github.com/R3E-Network/settlement_engine/internal/app/services/distributor"
	"github.com/R3E-Network/settlement_engine/internal/app/services/listings"
	"github.com/R3E-Network/settlement_engine/internal/app/services/tokenbids"
	"github.com/R3E-Network/settlement_engine/internal/app/storage"
	"github.com/R3E-Network/settlement_engine/internal/app/storage/memory"
	"github.com/R3E-Network/settlement_engine/internal/app/system"
	"github.com/R3E-Network/settlement_engine/internal/app/trust"
	"github.com/R3E-Network/settlement_engine/internal/config"
	"github.com/R3E-Network/settlement_engine/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Listings       storage.ListingStore
	CollectionBids storage.CollectionBidStore
	TokenBids      storage.TokenBidStore
	Collections    storage.CollectionStore
}

// Application ties the settlement services together and manages their
// lifecycle. The trust graph is wired and sealed during construction, so by
// the time New returns no further module can be admitted.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	// Gateway is the token the external API surface presents to the
	// registries.
	Gateway trust.Token

	Ledger  *ledger.Ledger
	Bus     *events.Bus
	Auditor *audit.Auditor

	Collections    *collections.Service
	Listings       *listings.Service
	CollectionBids *collectionbids.Service
	TokenBids      *tokenbids.Service
	Distributor    *distributor.Service
}

// New builds a fully wired application with the provided stores and asset
// contract registry.
func New(cfg *config.Config, stores Stores, registry chain.Registry, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Listings == nil {
		stores.Listings = mem
	}
	if stores.CollectionBids == nil {
		stores.CollectionBids = mem
	}
	if stores.TokenBids == nil {
		stores.TokenBids = mem
	}
	if stores.Collections == nil {
		stores.Collections = mem
	}

	led := ledger.New()
	bus := events.NewBus(cfg.Events.BufferSize, log)
	bus.AddSink(metrics.EventSink{})
	g := guard.New()

	authority := trust.NewAuthority()
	gatewayToken, err := authority.Issue(trust.ModuleGateway)
	if err != nil {
		return nil, fmt.Errorf("issue gateway token: %w", err)
	}
	listingsToken, err := authority.Issue(trust.ModuleListings)
	if err != nil {
		return nil, fmt.Errorf("issue listings token: %w", err)
	}
	colBidsToken, err := authority.Issue(trust.ModuleCollectionBids)
	if err != nil {
		return nil, fmt.Errorf("issue collection bids token: %w", err)
	}
	tokBidsToken, err := authority.Issue(trust.ModuleTokenBids)
	if err != nil {
		return nil, fmt.Errorf("issue token bids token: %w", err)
	}

	// One gate per privileged surface. The registries admit only the
	// gateway on their public operations; the peer surfaces admit only the
	// modules that settle through them.
	collectionsGate := trust.NewGate("collections", authority)
	collectionsPeerGate := trust.NewGate("collections/peer", authority)
	listingsGate := trust.NewGate("listings", authority)
	listingsClearGate := trust.NewGate("listings/clear", authority)
	colBidsGate := trust.NewGate("collectionbids", authority)
	tokBidsGate := trust.NewGate("tokenbids", authority)
	settleGate := trust.NewGate("distributor/settle", authority)
	adminGate := trust.NewGate("distributor/admin", authority)

	for _, wire := range []struct {
		gate  *trust.Gate
		token trust.Token
	}{
		{collectionsGate, gatewayToken},
		{collectionsPeerGate, listingsToken},
		{collectionsPeerGate, colBidsToken},
		{collectionsPeerGate, tokBidsToken},
		{listingsGate, gatewayToken},
		{listingsClearGate, colBidsToken},
		{listingsClearGate, tokBidsToken},
		{colBidsGate, gatewayToken},
		{tokBidsGate, gatewayToken},
		{settleGate, listingsToken},
		{settleGate, colBidsToken},
		{settleGate, tokBidsToken},
		{adminGate, gatewayToken},
	} {
		if err := wire.gate.Allow(wire.token); err != nil {
			return nil, fmt.Errorf("wire trust graph: %w", err)
		}
	}

	distService := distributor.New(distributor.Config{
		FeeBps:      cfg.Market.FeeBps,
		FeeCapBps:   cfg.Market.FeeCapBps,
		FeeReceiver: cfg.Market.FeeReceiver,
		Admin:       cfg.Market.Admin,
	}, led, settleGate, adminGate, log)

	colService := collections.New(stores.Collections, registry, collectionsGate, collectionsPeerGate, bus, cfg.Market.FeeCapBps, log)

	engineAddr := cfg.Chain.EngineAddress
	listService := listings.New(stores.Listings, colService, distService, registry, g, listingsGate, listingsClearGate, bus, listingsToken, engineAddr, log)
	colBidService := collectionbids.New(stores.CollectionBids, colService, listService, distService, registry, g, colBidsGate, bus, colBidsToken, engineAddr, log)
	tokBidService := tokenbids.New(stores.TokenBids, colService, listService, distService, registry, g, tokBidsGate, bus, tokBidsToken, engineAddr, log)

	authority.Seal()

	manager := system.NewManager()
	for _, name := range []string{"collections", "listings", "collectionbids", "tokenbids", "distributor"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	auditor := audit.New(led, stores.CollectionBids, stores.TokenBids, cfg.Audit.Schedule, log)
	if cfg.Audit.Schedule != "" {
		if err := manager.Register(auditor); err != nil {
			return nil, fmt.Errorf("register auditor: %w", err)
		}
	}

	return &Application{
		manager:        manager,
		log:            log,
		Gateway:        gatewayToken,
		Ledger:         led,
		Bus:            bus,
		Auditor:        auditor,
		Collections:    colService,
		Listings:       listService,
		CollectionBids: colBidService,
		TokenBids:      tokBidService,
		Distributor:    distService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
