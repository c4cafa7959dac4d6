// Package market defines the settlement events emitted after successful
// operations and the payment split applied to every sale.
package market

import (
	"math/big"
	"time"
)

// EventType names a settlement event.
type EventType string

const (
	EventListingCreated         EventType = "ListingCreated"
	EventListingCancelled       EventType = "ListingCancelled"
	EventListingSold            EventType = "ListingSold"
	EventCollectionBidCreated   EventType = "CollectionBidCreated"
	EventCollectionBidCancelled EventType = "CollectionBidCancelled"
	EventTokenBidCreated        EventType = "TokenBidCreated"
	EventTokenBidCancelled      EventType = "TokenBidCancelled"
	EventBidSold                EventType = "BidSold"
	EventCollectionRegistered   EventType = "CollectionRegistered"
	EventRoyaltyUpdated         EventType = "RoyaltyUpdated"
	EventFeeUpdated             EventType = "FeeUpdated"
)

// Event is one settlement event. Amounts are serialized as decimal strings so
// subscribers never lose precision.
type Event struct {
	Type       EventType `json:"type"`
	Collection string    `json:"collection,omitempty"`
	TokenID    string    `json:"token_id,omitempty"`
	ListingID  int64     `json:"listing_id,omitempty"`
	Seller     string    `json:"seller,omitempty"`
	Buyer      string    `json:"buyer,omitempty"`
	Bidder     string    `json:"bidder,omitempty"`
	Price      string    `json:"price,omitempty"`
	Quantity   uint64    `json:"quantity,omitempty"`
	At         time.Time `json:"at"`
}

// Split is the exact three-way division of a sale price. All shares are
// computed with floor division on basis points; the seller share absorbs the
// remainder so Fee + Royalty + SellerShare always equals the price.
type Split struct {
	Fee         *big.Int
	Royalty     *big.Int
	SellerShare *big.Int
}

// BpsDenominator is the basis-point scale: 10000 bps == 100%.
const BpsDenominator = 10000

// ComputeSplit divides price into fee, royalty, and seller shares.
func ComputeSplit(price *big.Int, feeBps, royaltyBps uint32) Split {
	denom := big.NewInt(BpsDenominator)

	fee := new(big.Int).Mul(price, big.NewInt(int64(feeBps)))
	fee.Quo(fee, denom)

	royalty := new(big.Int).Mul(price, big.NewInt(int64(royaltyBps)))
	royalty.Quo(royalty, denom)

	seller := new(big.Int).Sub(price, fee)
	seller.Sub(seller, royalty)

	return Split{Fee: fee, Royalty: royalty, SellerShare: seller}
}
