package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
)

// FakeContract is an in-memory asset contract used by tests and by dev mode
// when no RPC node is configured.
type FakeContract struct {
	mu        sync.Mutex
	admin     string
	owners    map[string]string          // token -> owner
	approvals map[string]map[string]bool // owner -> operator -> approved

	// FailTransfers makes every Transfer fail, for rollback tests.
	FailTransfers bool
}

var _ AssetContract = (*FakeContract)(nil)

// NewFakeContract creates a contract administered by admin.
func NewFakeContract(admin string) *FakeContract {
	return &FakeContract{
		admin:     admin,
		owners:    make(map[string]string),
		approvals: make(map[string]map[string]bool),
	}
}

// Mint assigns a token to an owner.
func (f *FakeContract) Mint(tokenID, owner string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owners[tokenID] = owner
}

// Approve grants or revokes operator rights over all of owner's items.
func (f *FakeContract) Approve(owner, operator string, approved bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.approvals[owner] == nil {
		f.approvals[owner] = make(map[string]bool)
	}
	f.approvals[owner][operator] = approved
}

func (f *FakeContract) OwnerOf(_ context.Context, tokenID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	owner, ok := f.owners[tokenID]
	if !ok {
		return "", fmt.Errorf("token %s not minted", tokenID)
	}
	return owner, nil
}

func (f *FakeContract) BalanceOf(_ context.Context, owner string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := int64(0)
	for _, o := range f.owners {
		if o == owner {
			count++
		}
	}
	return big.NewInt(count), nil
}

func (f *FakeContract) IsApprovedForAll(_ context.Context, owner, operator string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.approvals[owner][operator], nil
}

func (f *FakeContract) Transfer(_ context.Context, from, to, tokenID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailTransfers {
		return fmt.Errorf("transfer of %s rejected", tokenID)
	}
	owner, ok := f.owners[tokenID]
	if !ok {
		return fmt.Errorf("token %s not minted", tokenID)
	}
	if owner != from {
		return fmt.Errorf("token %s not held by %s", tokenID, from)
	}
	f.owners[tokenID] = to
	return nil
}

func (f *FakeContract) Admin(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.admin, nil
}

// FakeRegistry maps collection addresses to fake contracts.
type FakeRegistry struct {
	mu        sync.Mutex
	contracts map[string]*FakeContract
}

var _ Registry = (*FakeRegistry)(nil)

// NewFakeRegistry creates an empty registry.
func NewFakeRegistry() *FakeRegistry {
	return &FakeRegistry{contracts: make(map[string]*FakeContract)}
}

// Add registers a fake contract under a collection address and returns it.
func (r *FakeRegistry) Add(collectionAddr, admin string) *FakeContract {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := NewFakeContract(admin)
	r.contracts[collectionAddr] = c
	return c
}

func (r *FakeRegistry) Contract(collectionAddr string) (AssetContract, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contracts[collectionAddr]
	if !ok {
		return nil, fmt.Errorf("no contract at %s", collectionAddr)
	}
	return c, nil
}
