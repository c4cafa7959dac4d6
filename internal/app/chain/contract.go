package chain

import (
	"context"
	"math/big"
)

// AssetContract is the asset collaborator the engine settles against. The
// engine consults it for ownership, approval, and administration, and orders
// item transfers through it; it never assumes a transfer succeeded.
type AssetContract interface {
	// OwnerOf returns the current holder of a token.
	OwnerOf(ctx context.Context, tokenID string) (string, error)
	// BalanceOf returns how many items of this collection an account holds.
	BalanceOf(ctx context.Context, owner string) (*big.Int, error)
	// IsApprovedForAll reports whether operator may move owner's items.
	IsApprovedForAll(ctx context.Context, owner, operator string) (bool, error)
	// Transfer moves a token between accounts. An error means the item did
	// not move.
	Transfer(ctx context.Context, from, to, tokenID string) error
	// Admin returns the address administering the collection contract.
	Admin(ctx context.Context) (string, error)
}

// Registry resolves a collection address to its asset contract.
type Registry interface {
	Contract(collectionAddr string) (AssetContract, error)
}
