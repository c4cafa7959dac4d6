// Package postgres implements the storage interfaces on PostgreSQL. It is the
// durable mirror of the in-memory store; prices are NUMERIC(78,0) so any
// 256-bit amount round-trips exactly.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/settlement_engine/internal/app/domain/bid"
	"github.com/R3E-Network/settlement_engine/internal/app/domain/collection"
	"github.com/R3E-Network/settlement_engine/internal/app/domain/listing"
	"github.com/R3E-Network/settlement_engine/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.ListingStore = (*Store)(nil)
var _ storage.CollectionBidStore = (*Store)(nil)
var _ storage.TokenBidStore = (*Store)(nil)
var _ storage.CollectionStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL and verifies the connection.
func Open(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, nil
}

const uniqueViolation = "23505"

func translateErr(err error, key string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", key, storage.ErrAlreadyExists)
	}
	return err
}

func parsePrice(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("malformed numeric %q", raw)
	}
	return v, nil
}

// --- ListingStore -------------------------------------------------------------

type listingRow struct {
	ID         int64  `db:"id"`
	Collection string `db:"collection_addr"`
	TokenID    string `db:"token_id"`
	Seller     string `db:"seller"`
	Price      string `db:"price"`
}

func (r listingRow) toDomain() (listing.Listing, error) {
	price, err := parsePrice(r.Price)
	if err != nil {
		return listing.Listing{}, err
	}
	return listing.Listing{
		ID:         r.ID,
		Collection: r.Collection,
		TokenID:    r.TokenID,
		Seller:     r.Seller,
		Price:      price,
	}, nil
}

func (s *Store) PutListing(ctx context.Context, l listing.Listing) (listing.Listing, error) {
	row := s.db.QueryRowxContext(ctx, `
		INSERT INTO settlement_listings (id, collection_addr, token_id, seller, price)
		VALUES (COALESCE(NULLIF($1, 0::bigint), nextval('settlement_listing_id_seq')), $2, $3, $4, $5::numeric)
		ON CONFLICT (collection_addr, token_id)
		DO UPDATE SET id = EXCLUDED.id, seller = EXCLUDED.seller, price = EXCLUDED.price
		RETURNING id
	`, l.ID, l.Collection, l.TokenID, l.Seller, l.Price.String())

	if err := row.Scan(&l.ID); err != nil {
		return listing.Listing{}, err
	}
	return l, nil
}

func (s *Store) GetListing(ctx context.Context, collectionAddr, tokenID string) (listing.Listing, error) {
	var r listingRow
	err := s.db.GetContext(ctx, &r, `
		SELECT id, collection_addr, token_id, seller, price
		FROM settlement_listings
		WHERE collection_addr = $1 AND token_id = $2
	`, collectionAddr, tokenID)
	if err != nil {
		return listing.Listing{}, translateErr(err, "listing "+collectionAddr+"/"+tokenID)
	}
	return r.toDomain()
}

func (s *Store) DeleteListing(ctx context.Context, collectionAddr, tokenID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM settlement_listings WHERE collection_addr = $1 AND token_id = $2
	`, collectionAddr, tokenID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("listing %s/%s: %w", collectionAddr, tokenID, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) ListListings(ctx context.Context, collectionAddr string) ([]listing.Listing, error) {
	var rows []listingRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, collection_addr, token_id, seller, price
		FROM settlement_listings
		WHERE collection_addr = $1
		ORDER BY id
	`, collectionAddr)
	if err != nil {
		return nil, err
	}

	result := make([]listing.Listing, 0, len(rows))
	for _, r := range rows {
		l, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, nil
}

// --- CollectionBidStore -------------------------------------------------------

type collectionBidRow struct {
	Collection string `db:"collection_addr"`
	Bidder     string `db:"bidder"`
	Quantity   uint64 `db:"quantity"`
	Price      string `db:"price"`
}

func (r collectionBidRow) toDomain() (bid.CollectionBid, error) {
	price, err := parsePrice(r.Price)
	if err != nil {
		return bid.CollectionBid{}, err
	}
	return bid.CollectionBid{
		Collection: r.Collection,
		Bidder:     r.Bidder,
		Quantity:   r.Quantity,
		Price:      price,
	}, nil
}

func (s *Store) CreateCollectionBid(ctx context.Context, b bid.CollectionBid) (bid.CollectionBid, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settlement_collection_bids (collection_addr, bidder, quantity, price)
		VALUES ($1, $2, $3, $4::numeric)
	`, b.Collection, b.Bidder, b.Quantity, b.Price.String())
	if err != nil {
		return bid.CollectionBid{}, translateErr(err, "collection bid "+b.Collection+"/"+b.Bidder)
	}
	return b, nil
}

func (s *Store) UpdateCollectionBid(ctx context.Context, b bid.CollectionBid) (bid.CollectionBid, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE settlement_collection_bids
		SET quantity = $3, price = $4::numeric
		WHERE collection_addr = $1 AND bidder = $2
	`, b.Collection, b.Bidder, b.Quantity, b.Price.String())
	if err != nil {
		return bid.CollectionBid{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return bid.CollectionBid{}, fmt.Errorf("collection bid %s/%s: %w", b.Collection, b.Bidder, storage.ErrNotFound)
	}
	return b, nil
}

func (s *Store) GetCollectionBid(ctx context.Context, collectionAddr, bidder string) (bid.CollectionBid, error) {
	var r collectionBidRow
	err := s.db.GetContext(ctx, &r, `
		SELECT collection_addr, bidder, quantity, price
		FROM settlement_collection_bids
		WHERE collection_addr = $1 AND bidder = $2
	`, collectionAddr, bidder)
	if err != nil {
		return bid.CollectionBid{}, translateErr(err, "collection bid "+collectionAddr+"/"+bidder)
	}
	return r.toDomain()
}

func (s *Store) DeleteCollectionBid(ctx context.Context, collectionAddr, bidder string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM settlement_collection_bids WHERE collection_addr = $1 AND bidder = $2
	`, collectionAddr, bidder)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("collection bid %s/%s: %w", collectionAddr, bidder, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) ListCollectionBids(ctx context.Context, collectionAddr string) ([]bid.CollectionBid, error) {
	return s.selectCollectionBids(ctx, `
		SELECT collection_addr, bidder, quantity, price
		FROM settlement_collection_bids
		WHERE collection_addr = $1
		ORDER BY bidder
	`, collectionAddr)
}

func (s *Store) ListAllCollectionBids(ctx context.Context) ([]bid.CollectionBid, error) {
	return s.selectCollectionBids(ctx, `
		SELECT collection_addr, bidder, quantity, price
		FROM settlement_collection_bids
		ORDER BY collection_addr, bidder
	`)
}

func (s *Store) selectCollectionBids(ctx context.Context, query string, args ...interface{}) ([]bid.CollectionBid, error) {
	var rows []collectionBidRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	result := make([]bid.CollectionBid, 0, len(rows))
	for _, r := range rows {
		b, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, nil
}

// --- TokenBidStore ------------------------------------------------------------

type tokenBidRow struct {
	Collection string `db:"collection_addr"`
	TokenID    string `db:"token_id"`
	Bidder     string `db:"bidder"`
	Price      string `db:"price"`
}

func (r tokenBidRow) toDomain() (bid.TokenBid, error) {
	price, err := parsePrice(r.Price)
	if err != nil {
		return bid.TokenBid{}, err
	}
	return bid.TokenBid{
		Collection: r.Collection,
		TokenID:    r.TokenID,
		Bidder:     r.Bidder,
		Price:      price,
	}, nil
}

func (s *Store) CreateTokenBid(ctx context.Context, b bid.TokenBid) (bid.TokenBid, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settlement_token_bids (collection_addr, token_id, bidder, price)
		VALUES ($1, $2, $3, $4::numeric)
	`, b.Collection, b.TokenID, b.Bidder, b.Price.String())
	if err != nil {
		return bid.TokenBid{}, translateErr(err, "token bid "+b.Collection+"/"+b.TokenID+"/"+b.Bidder)
	}
	return b, nil
}

func (s *Store) GetTokenBid(ctx context.Context, collectionAddr, tokenID, bidder string) (bid.TokenBid, error) {
	var r tokenBidRow
	err := s.db.GetContext(ctx, &r, `
		SELECT collection_addr, token_id, bidder, price
		FROM settlement_token_bids
		WHERE collection_addr = $1 AND token_id = $2 AND bidder = $3
	`, collectionAddr, tokenID, bidder)
	if err != nil {
		return bid.TokenBid{}, translateErr(err, "token bid "+collectionAddr+"/"+tokenID+"/"+bidder)
	}
	return r.toDomain()
}

func (s *Store) DeleteTokenBid(ctx context.Context, collectionAddr, tokenID, bidder string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM settlement_token_bids
		WHERE collection_addr = $1 AND token_id = $2 AND bidder = $3
	`, collectionAddr, tokenID, bidder)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("token bid %s/%s/%s: %w", collectionAddr, tokenID, bidder, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) ListTokenBids(ctx context.Context, collectionAddr, tokenID string) ([]bid.TokenBid, error) {
	return s.selectTokenBids(ctx, `
		SELECT collection_addr, token_id, bidder, price
		FROM settlement_token_bids
		WHERE collection_addr = $1 AND token_id = $2
		ORDER BY bidder
	`, collectionAddr, tokenID)
}

func (s *Store) ListAllTokenBids(ctx context.Context) ([]bid.TokenBid, error) {
	return s.selectTokenBids(ctx, `
		SELECT collection_addr, token_id, bidder, price
		FROM settlement_token_bids
		ORDER BY collection_addr, token_id, bidder
	`)
}

func (s *Store) selectTokenBids(ctx context.Context, query string, args ...interface{}) ([]bid.TokenBid, error) {
	var rows []tokenBidRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	result := make([]bid.TokenBid, 0, len(rows))
	for _, r := range rows {
		b, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, nil
}

// --- CollectionStore ----------------------------------------------------------

type collectionRow struct {
	Address         string `db:"address"`
	RoyaltyReceiver string `db:"royalty_receiver"`
	RoyaltyFeeBps   uint32 `db:"royalty_fee_bps"`
	Volume          string `db:"volume"`
	Sales           uint64 `db:"sales"`
	Registered      bool   `db:"registered"`
}

func (r collectionRow) toDomain() (collection.Collection, error) {
	volume, err := parsePrice(r.Volume)
	if err != nil {
		return collection.Collection{}, err
	}
	return collection.Collection{
		Address:         r.Address,
		RoyaltyReceiver: r.RoyaltyReceiver,
		RoyaltyFeeBps:   r.RoyaltyFeeBps,
		Volume:          volume,
		Sales:           r.Sales,
		Registered:      r.Registered,
	}, nil
}

func (s *Store) CreateCollection(ctx context.Context, c collection.Collection) (collection.Collection, error) {
	if c.Volume == nil {
		c.Volume = new(big.Int)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settlement_collections (address, royalty_receiver, royalty_fee_bps, volume, sales, registered)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)
	`, c.Address, c.RoyaltyReceiver, c.RoyaltyFeeBps, c.Volume.String(), c.Sales, c.Registered)
	if err != nil {
		return collection.Collection{}, translateErr(err, "collection "+c.Address)
	}
	return c, nil
}

func (s *Store) UpdateCollection(ctx context.Context, c collection.Collection) (collection.Collection, error) {
	if c.Volume == nil {
		c.Volume = new(big.Int)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE settlement_collections
		SET royalty_receiver = $2, royalty_fee_bps = $3, volume = $4::numeric, sales = $5, registered = $6
		WHERE address = $1
	`, c.Address, c.RoyaltyReceiver, c.RoyaltyFeeBps, c.Volume.String(), c.Sales, c.Registered)
	if err != nil {
		return collection.Collection{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return collection.Collection{}, fmt.Errorf("collection %s: %w", c.Address, storage.ErrNotFound)
	}
	return c, nil
}

func (s *Store) GetCollection(ctx context.Context, address string) (collection.Collection, error) {
	var r collectionRow
	err := s.db.GetContext(ctx, &r, `
		SELECT address, royalty_receiver, royalty_fee_bps, volume, sales, registered
		FROM settlement_collections
		WHERE address = $1
	`, address)
	if err != nil {
		return collection.Collection{}, translateErr(err, "collection "+address)
	}
	return r.toDomain()
}

func (s *Store) ListCollections(ctx context.Context) ([]collection.Collection, error) {
	var rows []collectionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT address, royalty_receiver, royalty_fee_bps, volume, sales, registered
		FROM settlement_collections
		ORDER BY address
	`)
	if err != nil {
		return nil, err
	}

	result := make([]collection.Collection, 0, len(rows))
	for _, r := range rows {
		c, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, nil
}
