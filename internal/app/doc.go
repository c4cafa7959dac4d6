// Package app composes the settlement engine: it wires the stores, the
// payment ledger, the trust graph, and the five settlement services into one
// lifecycle-managed application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Wiring, trust graph, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── listing/        # Fixed-price sell orders
//	│   ├── bid/            # Collection and token bids
//	│   ├── collection/     # Collection records and royalty policy
//	│   └── market/         # Events and the price split
//	├── storage/            # Store interfaces, memory and postgres backends
//	├── services/           # The settlement registries
//	│   ├── listings/       # Listing registry
//	│   ├── collectionbids/ # Collection bid registry
//	│   ├── tokenbids/      # Token bid registry
//	│   ├── collections/    # Collection registry
//	│   └── distributor/    # Payment distributor
//	├── ledger/             # Escrowed value accounting
//	├── trust/              # Cross-module capability graph
//	├── guard/              # Reentrancy guard
//	├── txn/                # Compensation journal for multi-step settlement
//	├── chain/              # Asset contract access (NEP-11 RPC and fakes)
//	├── events/             # Event bus, websocket and Redis fan-out
//	├── audit/              # Escrow conservation auditor
//	├── httpapi/            # REST surface
//	├── metrics/            # Prometheus collectors
//	├── runtime/            # Process wiring for cmd/gateway
//	└── system/             # Service lifecycle manager
//
// # Trust and Settlement Flow
//
// Construction issues one unforgeable token per module and seals the graph
// before New returns. The registries present their tokens to the collection
// registry (lookups, sale counters) and to the distributor (escrow and
// payouts); the gateway token is the only one admitted on the public
// surfaces. Every mutating operation runs under the engine guard, records
// compensating actions in a journal, and updates its own records before any
// value or item moves.
package app
