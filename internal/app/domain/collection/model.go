// Package collection defines the collection registry domain model.
package collection

import "math/big"

// Collection is a registered asset collection with its royalty policy and
// running sale statistics. Collections are never deleted.
type Collection struct {
	Address         string
	RoyaltyReceiver string
	RoyaltyFeeBps   uint32
	Volume          *big.Int
	Sales           uint64
	Registered      bool
}
