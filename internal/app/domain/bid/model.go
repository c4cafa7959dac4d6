// Package bid defines the standing-offer domain models. Bid value is held in
// engine escrow for the bid's whole lifetime.
package bid

import "math/big"

// CollectionBid is a standing offer to buy up to Quantity items of a
// collection at Price each. One per (collection, bidder); escrow held is
// Price × Quantity.
type CollectionBid struct {
	Collection string
	Bidder     string
	Quantity   uint64
	Price      *big.Int
}

// Escrow returns the value held for this bid: price times remaining quantity.
func (b CollectionBid) Escrow() *big.Int {
	if b.Price == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(b.Price, new(big.Int).SetUint64(b.Quantity))
}

// TokenBid is a standing offer to buy one specific item at Price. One per
// (collection, token, bidder); escrow held is Price.
type TokenBid struct {
	Collection string
	TokenID    string
	Bidder     string
	Price      *big.Int
}
