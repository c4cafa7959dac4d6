// Package listing defines the fixed-price listing domain model.
package listing

import "math/big"

// Listing is an active fixed-price offer to sell one item. At most one
// listing exists per (collection, token); IDs are monotonic and never reused.
type Listing struct {
	ID         int64
	Collection string
	TokenID    string
	Seller     string
	Price      *big.Int
}
