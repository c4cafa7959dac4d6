// Package trust implements the engine's cross-module capability graph. Each
// service holds a Gate naming exactly the modules allowed to call its
// privileged operations; the Authority issues one unforgeable Token per
// module at wiring time. Every gate fails closed until the authority is
// sealed, so a partially wired engine rejects all privileged calls.
package trust

import (
	"fmt"
	"sync"

	"github.com/R3E-Network/settlement_engine/internal/errors"
)

// Module names wired into the capability graph.
const (
	ModuleGateway        = "gateway"
	ModuleListings       = "listings"
	ModuleCollectionBids = "collectionbids"
	ModuleTokenBids      = "tokenbids"
	ModuleCollections    = "collections"
	ModuleDistributor    = "distributor"
)

// Token identifies a calling module. Tokens can only be minted by an
// Authority, so holding one proves the caller was wired in at startup.
type Token struct {
	module    string
	authority *Authority
}

// Module returns the module name the token was issued for.
func (t Token) Module() string { return t.module }

// Authority issues module tokens and controls sealing.
type Authority struct {
	mu     sync.Mutex
	sealed bool
	issued map[string]bool
}

// NewAuthority creates an unsealed authority.
func NewAuthority() *Authority {
	return &Authority{issued: make(map[string]bool)}
}

// Issue mints the token for a module. Each module is issued exactly once and
// only before sealing.
func (a *Authority) Issue(module string) (Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sealed {
		return Token{}, fmt.Errorf("authority sealed, cannot issue token for %q", module)
	}
	if a.issued[module] {
		return Token{}, fmt.Errorf("token for %q already issued", module)
	}
	a.issued[module] = true
	return Token{module: module, authority: a}, nil
}

// Seal freezes the trust graph. Gates only admit calls after sealing.
func (a *Authority) Seal() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sealed = true
}

func (a *Authority) isSealed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sealed
}

// Gate is one service's allow-list of calling modules.
type Gate struct {
	mu        sync.Mutex
	owner     string
	authority *Authority
	allowed   map[string]bool
}

// NewGate creates a gate for a service guarded by the given authority.
func NewGate(owner string, authority *Authority) *Gate {
	return &Gate{
		owner:     owner,
		authority: authority,
		allowed:   make(map[string]bool),
	}
}

// Allow admits a module. Wiring is only possible before the authority seals.
func (g *Gate) Allow(t Token) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if t.authority != g.authority {
		return fmt.Errorf("gate %s: token from foreign authority", g.owner)
	}
	if g.authority.isSealed() {
		return fmt.Errorf("gate %s: trust graph sealed", g.owner)
	}
	g.allowed[t.module] = true
	return nil
}

// Check admits or rejects a caller. It fails closed: an unsealed graph, a
// foreign token, or an unlisted module all yield Untrusted.
func (g *Gate) Check(t Token) error {
	if !g.authority.isSealed() {
		return errors.Untrusted(t.module)
	}
	if t.authority != g.authority {
		return errors.Untrusted(t.module)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.allowed[t.module] {
		return errors.Untrusted(t.module)
	}
	return nil
}
